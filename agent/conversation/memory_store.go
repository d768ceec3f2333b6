package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// MemoryStore is the in-memory Store implementation. Suitable for
// development and testing; data is lost on restart.
type MemoryStore struct {
	conversations map[types.CorrelationID][]byte
	mu            sync.RWMutex
	closed        bool
	config        StoreConfig
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore(config StoreConfig) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[types.CorrelationID][]byte),
		config:        config,
	}
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Create persists a new conversation rooted at the given event.
func (s *MemoryStore) Create(ctx context.Context, root *relay.Event) (*Conversation, error) {
	if root == nil || root.ID == "" {
		return nil, ErrInvalidInput
	}
	conv := NewConversation(root)
	if err := s.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get returns the conversation by id, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id types.CorrelationID) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	data, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Save persists the conversation's current state. The stored form is a
// serialized snapshot, so callers can keep mutating their copy.
func (s *MemoryStore) Save(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.conversations[conv.ID] = data
	return nil
}

// Search returns conversations whose history content contains the query.
func (s *MemoryStore) Search(ctx context.Context, query string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []*Conversation
	for _, data := range s.conversations {
		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			continue
		}
		if conversationMatches(&conv, query) {
			out = append(out, &conv)
		}
	}
	return out, nil
}

func conversationMatches(conv *Conversation, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, ev := range conv.History {
		if strings.Contains(strings.ToLower(ev.Content), q) {
			return true
		}
	}
	return false
}
