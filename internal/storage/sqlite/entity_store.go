package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

const entityColumns = `id, library_id, folder_id, filepath, file_created_at,
	file_last_modified_at, last_scan_at, file_type_group, size`

// CreateEntity persists the entity row and applies any initial tags and
// metadata in the same transaction, so no child row can ever reference an
// uncommitted entity.
func (s *Store) CreateEntity(ctx context.Context, libraryID int64, entity types.NewEntity) (*types.Entity, error) {
	if err := validateNewEntity(libraryID, entity); err != nil {
		return nil, err
	}

	var id int64
	err := s.withTx(ctx, func(tx *txWork) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (
				library_id, folder_id, filepath,
				file_created_at, file_last_modified_at,
				file_type_group, size
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			libraryID,
			entity.FolderID,
			entity.Filepath,
			entity.FileCreatedAt.UTC(),
			entity.FileLastModifiedAt.UTC(),
			string(entity.FileTypeGroup),
			entity.Size,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entity: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read entity id: %w", err)
		}

		for _, name := range entity.Tags {
			if err := s.attachTag(ctx, tx, id, name, types.SourcePluginGenerated); err != nil {
				return err
			}
		}

		for _, e := range entity.MetadataEntries {
			if err := s.upsertMetadata(ctx, tx, id, e); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetEntity(ctx, id)
}

// validateNewEntity rejects malformed create input before any write.
func validateNewEntity(libraryID int64, entity types.NewEntity) error {
	switch {
	case libraryID <= 0:
		return fmt.Errorf("%w: library id is required", storage.ErrInvalidInput)
	case entity.FolderID <= 0:
		return fmt.Errorf("%w: folder id is required", storage.ErrInvalidInput)
	case entity.Filepath == "":
		return fmt.Errorf("%w: filepath is required", storage.ErrInvalidInput)
	case entity.FileCreatedAt.IsZero():
		return fmt.Errorf("%w: file_created_at is required", storage.ErrInvalidInput)
	case entity.FileLastModifiedAt.IsZero():
		return fmt.Errorf("%w: file_last_modified_at is required", storage.ErrInvalidInput)
	case entity.FileTypeGroup == "":
		return fmt.Errorf("%w: file_type_group is required", storage.ErrInvalidInput)
	}
	return nil
}

// GetEntity retrieves an entity with tags, metadata, and plugin statuses
// eagerly loaded.
func (s *Store) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	return s.getEntity(ctx, s.db, id)
}

func (s *Store) getEntity(ctx context.Context, q querier, id int64) (*types.Entity, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id)

	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %d: %w", id, err)
	}

	if entity.Tags, err = s.loadTags(ctx, q, id); err != nil {
		return nil, err
	}
	if entity.MetadataEntries, err = s.loadMetadata(ctx, q, id); err != nil {
		return nil, err
	}
	if entity.PluginStatuses, err = s.loadStatuses(ctx, q, id); err != nil {
		return nil, err
	}

	return entity, nil
}

// GetEntityByFilepath retrieves an entity by its unique file path.
func (s *Store) GetEntityByFilepath(ctx context.Context, filepath string) (*types.Entity, error) {
	if filepath == "" {
		return nil, fmt.Errorf("%w: filepath is required", storage.ErrInvalidInput)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM entities WHERE filepath = ?", filepath).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity by filepath: %w", err)
	}

	return s.GetEntity(ctx, id)
}

// FindEntitiesByIDs returns entities with tags and metadata eagerly loaded.
// Missing ids are skipped rather than treated as errors.
func (s *Store) FindEntitiesByIDs(ctx context.Context, ids []int64) ([]types.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find entities: %w", err)
	}

	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachCollections(ctx, s.db, entities, false); err != nil {
		return nil, err
	}

	return entities, nil
}

// UpdateEntity applies only non-nil fields of the patch. A non-nil tag list
// replaces the entity's full tag set (delete-then-insert, not merge);
// likewise a non-nil metadata list replaces all entries. Scalar fields,
// tags, and metadata commit in one transaction or not at all.
func (s *Store) UpdateEntity(ctx context.Context, id int64, patch types.EntityPatch) (*types.Entity, error) {
	err := s.withTx(ctx, func(tx *txWork) error {
		if err := entityExists(ctx, tx, id); err != nil {
			return err
		}

		var sets []string
		var args []interface{}

		if patch.Filepath != nil {
			sets = append(sets, "filepath = ?")
			args = append(args, *patch.Filepath)
		}
		if patch.FileCreatedAt != nil {
			sets = append(sets, "file_created_at = ?")
			args = append(args, patch.FileCreatedAt.UTC())
		}
		if patch.FileLastModifiedAt != nil {
			sets = append(sets, "file_last_modified_at = ?")
			args = append(args, patch.FileLastModifiedAt.UTC())
		}
		if patch.FileTypeGroup != nil {
			sets = append(sets, "file_type_group = ?")
			args = append(args, string(*patch.FileTypeGroup))
		}
		if patch.Size != nil {
			sets = append(sets, "size = ?")
			args = append(args, *patch.Size)
		}

		if len(sets) > 0 {
			args = append(args, id)
			if _, err := tx.ExecContext(ctx,
				"UPDATE entities SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
				return fmt.Errorf("failed to update entity %d: %w", id, err)
			}
		}

		if patch.Tags != nil {
			if err := s.replaceTags(ctx, tx, id, patch.Tags, types.SourcePluginGenerated); err != nil {
				return err
			}
		}

		if patch.MetadataEntries != nil {
			if err := s.replaceMetadata(ctx, tx, id, patch.MetadataEntries); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetEntity(ctx, id)
}

// AddTags adds only tags not already present and stamps last_scan_at in the
// same transaction, so the tag write and the scan stamp commit together.
func (s *Store) AddTags(ctx context.Context, id int64, tags []string) (*types.Entity, error) {
	err := s.withTx(ctx, func(tx *txWork) error {
		if err := entityExists(ctx, tx, id); err != nil {
			return err
		}

		if err := s.addMissingTags(ctx, tx, id, tags, types.SourcePluginGenerated); err != nil {
			return err
		}

		return touchLastScan(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}

	return s.GetEntity(ctx, id)
}

// AddMetadata upserts metadata entries by key and stamps last_scan_at in the
// same transaction.
func (s *Store) AddMetadata(ctx context.Context, id int64, entries []types.MetadataEntryParam) (*types.Entity, error) {
	err := s.withTx(ctx, func(tx *txWork) error {
		if err := entityExists(ctx, tx, id); err != nil {
			return err
		}

		for _, e := range entries {
			if err := s.upsertMetadata(ctx, tx, id, e); err != nil {
				return err
			}
		}

		return touchLastScan(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}

	return s.GetEntity(ctx, id)
}

// TouchEntity bumps last_scan_at and reports whether the entity exists.
func (s *Store) TouchEntity(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE entities SET last_scan_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to touch entity %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return n > 0, nil
}

// ListByFolder returns entities of a folder ordered by file modification
// time ascending, with a separate exact total count so callers can page
// without re-scanning. An optional path prefix narrows the listing.
func (s *Store) ListByFolder(ctx context.Context, libraryID, folderID int64, opts storage.ListByFolderOptions) (*storage.FolderPage, error) {
	opts.Normalize()

	where := "library_id = ? AND folder_id = ?"
	args := []interface{}{libraryID, folderID}

	if opts.PathPrefix != "" {
		where += " AND filepath LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(opts.PathPrefix)+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count folder entities: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE "+where+
			" ORDER BY file_last_modified_at ASC LIMIT ? OFFSET ?",
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder entities: %w", err)
	}

	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachCollections(ctx, s.db, entities, true); err != nil {
		return nil, err
	}

	return &storage.FolderPage{Entities: entities, Total: total}, nil
}

// ListEntities returns image entities ordered by creation time descending.
// This store's listing surface is scoped to visual artifacts, so the
// file-type filter is fixed rather than an option.
func (s *Store) ListEntities(ctx context.Context, opts storage.ListEntitiesOptions) ([]types.Entity, error) {
	opts.Normalize()

	where := "file_type_group = ?"
	args := []interface{}{string(types.FileTypeImage)}

	if len(opts.LibraryIDs) > 0 {
		placeholders, libArgs := inClause(opts.LibraryIDs)
		where += " AND library_id IN (" + placeholders + ")"
		args = append(args, libArgs...)
	}

	if start, end, ok := opts.TimeWindow(); ok {
		where += " AND file_created_at >= ? AND file_created_at <= ?"
		args = append(args, time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC())
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE "+where+
			" ORDER BY file_created_at DESC LIMIT ?",
		append(args, opts.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachCollections(ctx, s.db, entities, false); err != nil {
		return nil, err
	}

	return entities, nil
}

// GetContext returns up to prev entities immediately preceding and next
// entities immediately following the anchor by creation time, both in
// chronological (ascending) order, scoped to the library. A missing anchor
// yields two empty slices and no error.
func (s *Store) GetContext(ctx context.Context, libraryID, id int64, prev, next int) ([]types.Entity, []types.Entity, error) {
	var anchorCreated time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT file_created_at FROM entities WHERE id = ? AND library_id = ?",
		id, libraryID).Scan(&anchorCreated)
	if err == sql.ErrNoRows {
		return []types.Entity{}, []types.Entity{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get context anchor %d: %w", id, err)
	}

	previous := []types.Entity{}
	if prev > 0 {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+entityColumns+` FROM entities
			 WHERE library_id = ? AND file_created_at < ?
			 ORDER BY file_created_at DESC LIMIT ?`,
			libraryID, anchorCreated, prev)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get previous context: %w", err)
		}

		previous, err = scanEntities(rows)
		if err != nil {
			return nil, nil, err
		}

		// The query walks backwards from the anchor; reverse so the caller
		// receives chronological order.
		for i, j := 0, len(previous)-1; i < j; i, j = i+1, j-1 {
			previous[i], previous[j] = previous[j], previous[i]
		}
	}

	following := []types.Entity{}
	if next > 0 {
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+entityColumns+` FROM entities
			 WHERE library_id = ? AND file_created_at > ?
			 ORDER BY file_created_at ASC LIMIT ?`,
			libraryID, anchorCreated, next)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get next context: %w", err)
		}

		following, err = scanEntities(rows)
		if err != nil {
			return nil, nil, err
		}
	}

	return previous, following, nil
}

// RemoveEntity deletes the entity's text-search and vector-search index rows
// first, then the relational row; child rows cascade. The index rows go
// first so a crash between the two deletes leaves no orphaned index entries
// pointing at a live entity.
func (s *Store) RemoveEntity(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *txWork) error {
		if err := entityExists(ctx, tx, id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM entities_fts WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete fts row for entity %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entities_vec_v2 WHERE entity_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete vector row for entity %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete entity %d: %w", id, err)
		}

		return nil
	})
}

// entityExists returns storage.ErrNotFound when the entity is absent.
func entityExists(ctx context.Context, q querier, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check entity %d: %w", id, err)
	}
	return nil
}

// touchLastScan stamps last_scan_at inside the caller's transaction.
func touchLastScan(ctx context.Context, q querier, id int64) error {
	if _, err := q.ExecContext(ctx,
		"UPDATE entities SET last_scan_at = ? WHERE id = ?", time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to stamp last_scan_at for entity %d: %w", id, err)
	}
	return nil
}

// scanTarget is satisfied by *sql.Row and *sql.Rows.
type scanTarget interface {
	Scan(dest ...interface{}) error
}

// scanEntity reads one entity row in entityColumns order.
func scanEntity(row scanTarget) (*types.Entity, error) {
	var e types.Entity
	var lastScanAt sql.NullTime
	var fileTypeGroup string

	err := row.Scan(
		&e.ID,
		&e.LibraryID,
		&e.FolderID,
		&e.Filepath,
		&e.FileCreatedAt,
		&e.FileLastModifiedAt,
		&lastScanAt,
		&fileTypeGroup,
		&e.Size,
	)
	if err != nil {
		return nil, err
	}

	if lastScanAt.Valid {
		t := lastScanAt.Time
		e.LastScanAt = &t
	}
	e.FileTypeGroup = types.FileTypeGroup(fileTypeGroup)

	return &e, nil
}

// scanEntities drains rows into a slice, closing rows when done.
func scanEntities(rows *sql.Rows) ([]types.Entity, error) {
	defer rows.Close()

	var entities []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		entities = append(entities, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// escapeLike escapes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
