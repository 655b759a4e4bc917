package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/sweetpotato0/textgen/assistant"
	errorskg "github.com/sweetpotato0/textgen/errors"
	"github.com/sweetpotato0/textgen/model"
)

type assistantStore interface {
	assistant.Store
	Put(ctx context.Context, a *assistant.Assistant) error
	Close() error
}

// exerciseStore runs the behaviour shared by every backend.
func exerciseStore(t *testing.T, s assistantStore) {
	t.Helper()
	ctx := context.Background()

	a := &assistant.Assistant{
		ID:            "asst-test",
		Name:          "Researcher",
		ModelID:       "mistral",
		Preprompt:     "Cite your sources.",
		DynamicPrompt: true,
		RAG:           &assistant.RAG{AllowedDomains: []string{"go.dev"}},
		Tools:         []string{"calculator"},
		Generate:      &model.Settings{Temperature: model.Float(0.2)},
	}
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "asst-test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Researcher" || got.Preprompt != a.Preprompt || !got.DynamicPrompt {
		t.Errorf("Unexpected assistant: %+v", got)
	}
	if !got.HasWebSearch() {
		t.Error("Expected RAG settings to survive the round trip")
	}
	if got.Generate == nil || got.Generate.Temperature == nil || *got.Generate.Temperature != 0.2 {
		t.Errorf("Expected generate settings to survive the round trip, got %+v", got.Generate)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, errorskg.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, &assistant.Assistant{}); !errors.Is(err, errorskg.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty id, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore(&assistant.Assistant{ID: "seeded", Name: "Seed"})
	defer s.Close()

	exerciseStore(t, s)

	got, err := s.Get(context.Background(), "seeded")
	if err != nil || got.Name != "Seed" {
		t.Fatalf("Expected seeded assistant, got %+v, %v", got, err)
	}
	got.Name = "mutated"
	again, _ := s.Get(context.Background(), "seeded")
	if again.Name != "Seed" {
		t.Error("Expected Get to return a copy")
	}
}

// The backend tests need running servers and are skipped otherwise.

func TestRedisStore(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis store tests")
	}
	cfg := RedisConfigFromEnv()
	cfg.Prefix = "textgen:test:assistant:"
	s := NewRedisStore(cfg)
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Skipf("Failed to connect to Redis: %v", err)
	}
	exerciseStore(t, s)
}

func TestMongoStore(t *testing.T) {
	if os.Getenv("MONGODB_URI") == "" {
		t.Skip("MONGODB_URI not set, skipping MongoDB store tests")
	}
	cfg := MongoConfigFromEnv()
	cfg.Database = "textgen_test"
	s, err := NewMongoStore(context.Background(), cfg)
	if err != nil {
		t.Skipf("Failed to connect to MongoDB: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	if os.Getenv("POSTGRES_HOST") == "" {
		t.Skip("POSTGRES_HOST not set, skipping PostgreSQL store tests")
	}
	s, err := NewPostgresStore(context.Background(), PostgresConfigFromEnv())
	if err != nil {
		t.Skipf("Failed to connect to PostgreSQL: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}
