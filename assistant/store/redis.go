package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/textgen/assistant"
	errorskg "github.com/sweetpotato0/textgen/errors"
)

// RedisStore keeps assistants as JSON strings under prefix+id.
type RedisStore struct {
	client *redis.Client
	prefix string // Key prefix for namespacing
	ttl    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        `koanf:"addr"`     // Redis server address (e.g., "localhost:6379")
	Password string        `koanf:"password"` // Redis password (if any)
	DB       int           `koanf:"db"`       // Redis database number
	Prefix   string        `koanf:"prefix"`   // Key prefix for namespacing
	TTL      time.Duration `koanf:"ttl"`      // Time-to-live for keys (0 means no expiration)
}

// NewRedisStore creates a new Redis-based assistant store
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "textgen:assistant:",
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

// Get returns the assistant with the given id.
func (s *RedisStore) Get(ctx context.Context, id string) (*assistant.Assistant, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("assistant %q: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assistant from Redis: %w", err)
	}

	var a assistant.Assistant
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assistant: %w", err)
	}
	return &a, nil
}

// Put stores an assistant.
func (s *RedisStore) Put(ctx context.Context, a *assistant.Assistant) error {
	if err := validate(a); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assistant: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+a.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store assistant in Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
