// Package conversation provides per-conversation persisted state: message
// history and the mutable metadata bag (delegation chain, read-file set,
// per-agent model overrides).
//
// Conversations are identified by the correlation id of their root event,
// are append-only, and are never deleted; derived artifacts are soft-deleted
// via explicit tombstone events.
//
// Supported backends:
// - Memory: for development and testing (default)
// - Redis: for deployments that must survive a process restart
package conversation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// Common errors.
var (
	ErrNotFound     = errors.New("conversation: not found")
	ErrStoreClosed  = errors.New("conversation: store is closed")
	ErrInvalidInput = errors.New("conversation: invalid input")
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// RedisStoreConfig contains Redis-specific configuration.
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig is the configuration for all store implementations.
type StoreConfig struct {
	Type  StoreType        `json:"type" yaml:"type"`
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agentmesh:",
		},
	}
}

// Metadata is the conversation's mutable metadata bag.
type Metadata struct {
	// DelegationChain is the ordered list of prior hops, consulted for
	// cycle detection before every new delegation.
	DelegationChain []types.Hop `json:"delegation_chain,omitempty"`
	// ReadFiles is the set of file paths already surfaced to the agent.
	ReadFiles map[string]bool `json:"read_files,omitempty"`
	// ModelOverrides maps an agent pubkey to a model-variant override.
	ModelOverrides map[string]string `json:"model_overrides,omitempty"`
}

// Conversation owns an ordered event history and its metadata. History
// ordering is by arrival, not logical causality; it is the only ordering
// signal available to callers.
type Conversation struct {
	ID        types.CorrelationID `json:"id"`
	History   []*relay.Event      `json:"history"`
	Metadata  Metadata            `json:"metadata"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewConversation creates a conversation rooted at the given event.
func NewConversation(root *relay.Event) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        root.ID,
		History:   []*relay.Event{root},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds an event to the history. Append-only: events are never
// removed or reordered.
func (c *Conversation) Append(event *relay.Event) {
	c.History = append(c.History, event)
	c.UpdatedAt = time.Now()
}

// AppendTombstone soft-deletes a derived artifact by appending an explicit
// tombstone event referencing it.
func (c *Conversation) AppendTombstone(artifactID string) {
	tomb := relay.NewEvent(relay.KindTombstone, "").Tag(relay.TagRoot, c.ID).Tag("deleted", artifactID)
	c.Append(tomb)
}

// AddHop appends a hop to the delegation chain.
func (c *Conversation) AddHop(hop types.Hop) {
	c.Metadata.DelegationChain = append(c.Metadata.DelegationChain, hop)
	c.UpdatedAt = time.Now()
}

// MarkFileRead records a file path in the read-file set.
func (c *Conversation) MarkFileRead(path string) {
	if c.Metadata.ReadFiles == nil {
		c.Metadata.ReadFiles = make(map[string]bool)
	}
	c.Metadata.ReadFiles[path] = true
	c.UpdatedAt = time.Now()
}

// ReadFileList returns the read-file set in sorted order.
func (c *Conversation) ReadFileList() []string {
	out := make([]string, 0, len(c.Metadata.ReadFiles))
	for p := range c.Metadata.ReadFiles {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SetModelOverride records a per-agent model-variant override.
func (c *Conversation) SetModelOverride(agentPubkey, model string) {
	if c.Metadata.ModelOverrides == nil {
		c.Metadata.ModelOverrides = make(map[string]string)
	}
	c.Metadata.ModelOverrides[agentPubkey] = model
	c.UpdatedAt = time.Now()
}

// ModelOverride returns the model override for an agent, if any.
func (c *Conversation) ModelOverride(agentPubkey string) (string, bool) {
	m, ok := c.Metadata.ModelOverrides[agentPubkey]
	return m, ok
}

// Store is the conversation persistence interface. The delegation registry
// depends only on Get/Save for its persistence side effects; Search and
// Create serve the surrounding tooling.
type Store interface {
	// Create persists a new conversation rooted at the given event.
	Create(ctx context.Context, root *relay.Event) (*Conversation, error)
	// Get returns the conversation by id, or ErrNotFound.
	Get(ctx context.Context, id types.CorrelationID) (*Conversation, error)
	// Save persists the conversation's current state.
	Save(ctx context.Context, conv *Conversation) error
	// Search returns conversations whose history content matches the query.
	Search(ctx context.Context, query string) ([]*Conversation, error)
	// Close closes the store and releases resources.
	Close() error
	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}

// NewStore creates a store for the configured backend type.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeRedis:
		return NewRedisStore(config)
	case StoreTypeMemory, "":
		return NewMemoryStore(config), nil
	default:
		return nil, errors.New("conversation: unknown store type " + string(config.Type))
	}
}
