// Package sqlite implements the storage interfaces on SQLite using the
// CGO-free modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/retina/internal/storage"
)

// tagCacheSize bounds the tag name→id cache. Only ids of committed tag rows
// enter the cache, and tag rows are append-only, so entries never go stale;
// the bound only limits memory.
const tagCacheSize = 4096

// Store implements storage.EntityStore, storage.PluginStore,
// storage.LibraryStore, storage.TextIndex, and storage.VectorIndex on a
// single SQLite database.
type Store struct {
	db       *sql.DB
	tagCache *lru.Cache[string, int64]
}

// Compile-time interface assertions.
var (
	_ storage.EntityStore  = (*Store)(nil)
	_ storage.PluginStore  = (*Store)(nil)
	_ storage.LibraryStore = (*Store)(nil)
	_ storage.TextIndex    = (*Store)(nil)
	_ storage.VectorIndex  = (*Store)(nil)
)

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors when
	// several plugin runners enrich entities at the same time. WAL mode
	// lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is held by
	// another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	cache, err := lru.New[string, int64](tagCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tag cache: %w", err)
	}

	return &Store{db: db, tagCache: cache}, nil
}

// RunMigrations applies all pending database migrations from the given
// directory. This is the way to evolve an already-populated database; fresh
// databases get the full current schema from NewStore.
func (s *Store) RunMigrations(migrationsDir string) error {
	mgr, err := storage.NewMigrationManager(s.db, migrationsDir)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}

	if err := mgr.Up(); err != nil {
		return fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return nil
}

// DB returns the underlying database connection. Used by the external query
// engine, which shares this database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so another process
// can open the database without encountering stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// txWork is the unit-of-work handle passed to withTx callbacks. It delegates
// queries to the underlying transaction and holds tag ids resolved during
// the unit of work; those ids reach the shared cache only after commit, so a
// rollback can never leave an id for an uncommitted tag row in the cache.
type txWork struct {
	tx     *sql.Tx
	tagIDs map[string]int64
}

func (w *txWork) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return w.tx.ExecContext(ctx, query, args...)
}

func (w *txWork) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return w.tx.QueryContext(ctx, query, args...)
}

func (w *txWork) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return w.tx.QueryRowContext(ctx, query, args...)
}

// holdTag records a resolved tag id for promotion at commit time.
func (w *txWork) holdTag(name string, id int64) {
	if w.tagIDs == nil {
		w.tagIDs = make(map[string]int64)
	}
	w.tagIDs[name] = id
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error. Every mutating entity operation goes through here so that
// partial application on failure is impossible. Tag ids resolved inside the
// unit of work are promoted to the cache only once the commit succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *txWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	w := &txWork{tx: tx}
	if err := fn(w); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("sqlite: rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for name, id := range w.tagIDs {
		s.tagCache.Add(name, id)
	}

	return nil
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
