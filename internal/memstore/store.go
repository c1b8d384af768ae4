// Package memstore persists key-value memories behind the memory example
// server. It runs on SQLite for single-node deployments and PostgreSQL when a
// DSN is configured; both share one query set written with ? placeholders and
// rebound for postgres.
package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"ezmcp/internal/config"
)

// ErrNotFound is returned when no memory exists under the requested key
var ErrNotFound = errors.New("memory not found")

// Memory is one stored key-value entry
type Memory struct {
	Key       string                 `json:"key"`
	Value     string                 `json:"value"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
`

// Store persists memories in a relational database
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore opens the configured database and ensures the schema exists
func NewStore(cfg *config.MemoryConfig) (*Store, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite3":
		dsn = cfg.Path + "?_journal_mode=WAL&_sync=NORMAL"
	case "postgres":
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	store := &Store{db: db, driver: cfg.Driver}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLiteStore opens an in-memory or file-backed SQLite store directly.
// Used by the memory example and by tests.
func NewSQLiteStore(path string) (*Store, error) {
	return NewStore(&config.MemoryConfig{
		Driver:       "sqlite3",
		Path:         path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save stores a memory, overwriting any existing entry under the same key.
// CreatedAt is preserved on overwrite. The returned flag reports whether the
// entry was newly created.
func (s *Store) Save(ctx context.Context, key, value string, metadata map[string]interface{}) (*Memory, bool, error) {
	var metaJSON sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	created := false
	if _, err := s.Get(ctx, key); errors.Is(err, ErrNotFound) {
		created = true
	} else if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	query := s.rebind(`
		INSERT INTO memories (key, value, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)

	if _, err := s.db.ExecContext(ctx, query, key, value, metaJSON, now, now); err != nil {
		return nil, false, fmt.Errorf("failed to save memory %q: %w", key, err)
	}

	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return m, created, nil
}

// Get returns the memory stored under key, or ErrNotFound
func (s *Store) Get(ctx context.Context, key string) (*Memory, error) {
	query := s.rebind(`
		SELECT key, value, metadata, created_at, updated_at
		FROM memories WHERE key = ?`)

	row := s.db.QueryRowContext(ctx, query, key)
	return scanMemory(row)
}

// List returns stored memories newest first, with limit/offset pagination
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Memory, error) {
	query := `
		SELECT key, value, metadata, created_at, updated_at
		FROM memories ORDER BY created_at DESC`
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		query += " OFFSET " + strconv.Itoa(offset)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

// Delete removes the memory stored under key, or returns ErrNotFound
func (s *Store) Delete(ctx context.Context, key string) error {
	query := s.rebind(`DELETE FROM memories WHERE key = ?`)

	result, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory %q: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns memories whose value contains the term,
// case-insensitively, newest first
func (s *Store) Search(ctx context.Context, term string, limit int) ([]*Memory, error) {
	pattern := "%" + strings.ToLower(term) + "%"
	query := s.rebind(`
		SELECT key, value, metadata, created_at, updated_at
		FROM memories
		WHERE LOWER(value) LIKE ?
		ORDER BY created_at DESC`)
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

// Count returns the number of stored memories
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return count, nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var metaJSON sql.NullString

	err := row.Scan(&m.Key, &m.Value, &metaJSON, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %q: %w", m.Key, err)
		}
	}
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]*Memory, error) {
	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
