package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// IndexText writes the entity's searchable text into the full-text table.
// Delete-then-insert keeps exactly one FTS row per entity; the contentless
// table has no unique constraint to lean on.
func (s *Store) IndexText(ctx context.Context, entityID int64, filepath, text string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM entities_fts WHERE id = ?", entityID); err != nil {
		return fmt.Errorf("failed to clear fts row for entity %d: %w", entityID, err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO entities_fts (id, filepath, text) VALUES (?, ?, ?)",
		entityID, filepath, text); err != nil {
		return fmt.Errorf("failed to index text for entity %d: %w", entityID, err)
	}

	return nil
}

// DeleteText removes the entity's full-text row. Deleting an unindexed
// entity is a no-op.
func (s *Store) DeleteText(ctx context.Context, entityID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM entities_fts WHERE id = ?", entityID); err != nil {
		return fmt.Errorf("failed to delete fts row for entity %d: %w", entityID, err)
	}
	return nil
}

// IndexVector stores the entity's embedding as a little-endian float32 blob,
// replacing any previous vector for the entity.
func (s *Store) IndexVector(ctx context.Context, entityID int64, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO entities_vec_v2 (entity_id, embedding)
		VALUES (?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET embedding = excluded.embedding
	`, entityID, serializeVector(embedding)); err != nil {
		return fmt.Errorf("failed to index vector for entity %d: %w", entityID, err)
	}

	return nil
}

// DeleteVector removes the entity's vector row. Deleting an unindexed
// entity is a no-op.
func (s *Store) DeleteVector(ctx context.Context, entityID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM entities_vec_v2 WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("failed to delete vector row for entity %d: %w", entityID, err)
	}
	return nil
}

// serializeVector packs float32 components into a little-endian blob.
func serializeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// deserializeVector is the inverse of serializeVector.
func deserializeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
