package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentmesh/relay"
	"github.com/BaSui01/agentmesh/types"
)

// RedisStore is a Redis-based Store implementation. Conversations are
// stored as JSON blobs with a set index of all ids for Search.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	config    StoreConfig
}

// NewRedisStore creates a new Redis-based conversation store.
func NewRedisStore(config StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentmesh:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "conv:",
		config:    config,
	}, nil
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) dataKey(id types.CorrelationID) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "index"
}

// Create persists a new conversation rooted at the given event.
func (s *RedisStore) Create(ctx context.Context, root *relay.Event) (*Conversation, error) {
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
func (s *RedisStore) Get(ctx context.Context, id types.CorrelationID) (*Conversation, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save persists the conversation's current state.
func (s *RedisStore) Save(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(conv.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), string(conv.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// Search returns conversations whose history content contains the query.
func (s *RedisStore) Search(ctx context.Context, query string) ([]*Conversation, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var out []*Conversation
	for _, id := range ids {
		conv, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if conversationMatches(conv, query) {
			out = append(out, conv)
		}
	}
	return out, nil
}
