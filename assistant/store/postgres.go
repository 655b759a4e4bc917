package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/textgen/assistant"
	errorskg "github.com/sweetpotato0/textgen/errors"
)

// PostgresStore keeps assistants as JSONB documents.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
	SSLMode  string `koanf:"sslmode"`
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "textgen",
		SSLMode:  "disable",
	}
}

// DSN renders the lib/pq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresStore connects to PostgreSQL and creates the assistants table if needed.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS assistants (
		id VARCHAR(255) PRIMARY KEY,
		doc JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Get returns the assistant with the given id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*assistant.Assistant, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM assistants WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("assistant %q: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assistant from PostgreSQL: %w", err)
	}

	var a assistant.Assistant
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assistant: %w", err)
	}
	return &a, nil
}

// Put upserts an assistant.
func (s *PostgresStore) Put(ctx context.Context, a *assistant.Assistant) error {
	if err := validate(a); err != nil {
		return err
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assistant: %w", err)
	}

	query := `
	INSERT INTO assistants (id, doc, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, a.ID, doc); err != nil {
		return fmt.Errorf("failed to store assistant in PostgreSQL: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
