// Package postgres provides a PostgreSQL-backed vector index. It is an
// alternative to the sqlite blob table for deployments that already run
// Postgres with the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/retina/internal/storage"
)

var _ storage.VectorIndex = (*VectorIndex)(nil)

// Schema holds the vector side table. The dimension is fixed at table
// creation, so the index is created per deployment with the configured
// embedding size.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS entities_vec_v2 (
    entity_id  BIGINT PRIMARY KEY,
    embedding  vector(%d)
);
`

// VectorIndex implements storage.VectorIndex on PostgreSQL with pgvector.
type VectorIndex struct {
	db *sql.DB
}

// NewVectorIndex opens a connection and ensures the extension and side
// table exist. Unlike the sqlite store, pgvector is mandatory here: a
// Postgres vector index without the extension has nothing to offer.
func NewVectorIndex(dsn string, dimensions int) (*VectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("postgres: embedding dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension not available: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, dimensions)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	return &VectorIndex{db: db}, nil
}

// IndexVector upserts the entity's embedding.
func (x *VectorIndex) IndexVector(ctx context.Context, entityID int64, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO entities_vec_v2 (entity_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (entity_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, entityID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("postgres: failed to index vector for entity %d: %w", entityID, err)
	}

	return nil
}

// DeleteVector removes the entity's embedding. Deleting an unindexed entity
// is a no-op.
func (x *VectorIndex) DeleteVector(ctx context.Context, entityID int64) error {
	if _, err := x.db.ExecContext(ctx,
		"DELETE FROM entities_vec_v2 WHERE entity_id = $1", entityID); err != nil {
		return fmt.Errorf("postgres: failed to delete vector for entity %d: %w", entityID, err)
	}
	return nil
}

// Close releases the connection pool.
func (x *VectorIndex) Close() error {
	return x.db.Close()
}
