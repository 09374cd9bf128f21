package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

// querier is the subset of *sql.DB / *txWork the ledger needs, so the same
// primitives serve both direct reads and transactional writes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// resolveTag returns the id for a tag name, creating the row on demand.
// Concurrent first-use creation of the same name is resolved by the unique
// constraint: the INSERT is a no-op on conflict and the follow-up SELECT
// picks up whichever row won, so the existing row is always canonical.
func (s *Store) resolveTag(ctx context.Context, q querier, name string) (int64, error) {
	if id, ok := s.tagCache.Get(name); ok {
		return id, nil
	}

	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id)
	if err == nil {
		s.cacheTag(q, name, id)
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up tag %q: %w", name, err)
	}

	if _, err := q.ExecContext(ctx,
		"INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return 0, fmt.Errorf("failed to create tag %q: %w", name, err)
	}

	if err := q.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to re-read tag %q after insert: %w", name, err)
	}

	s.cacheTag(q, name, id)
	return id, nil
}

// cacheTag stores a resolved tag id. Inside a unit of work the id may belong
// to a row this transaction just inserted, so it is held on the work handle
// and promoted only at commit; a rollback discards it along with the row.
func (s *Store) cacheTag(q querier, name string, id int64) {
	if w, ok := q.(*txWork); ok {
		w.holdTag(name, id)
		return
	}
	s.tagCache.Add(name, id)
}

// attachTag creates the attribution edge for (entity, tag). Re-adding an
// existing tag is a no-op at the set level, never a duplicate row.
func (s *Store) attachTag(ctx context.Context, q querier, entityID int64, name string, source types.AttributionSource) error {
	tagID, err := s.resolveTag(ctx, q, name)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO entity_tags (entity_id, tag_id, source)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, tag_id) DO NOTHING
	`, entityID, tagID, string(source))
	if err != nil {
		return fmt.Errorf("failed to attach tag %q to entity %d: %w", name, entityID, err)
	}

	return nil
}

// replaceTags clears the entity's full tag set and attaches the given names.
func (s *Store) replaceTags(ctx context.Context, q querier, entityID int64, names []string, source types.AttributionSource) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM entity_tags WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("failed to clear tags for entity %d: %w", entityID, err)
	}

	for _, name := range names {
		if err := s.attachTag(ctx, q, entityID, name, source); err != nil {
			return err
		}
	}

	return nil
}

// addMissingTags attaches only tags not already present on the entity.
func (s *Store) addMissingTags(ctx context.Context, q querier, entityID int64, names []string, source types.AttributionSource) error {
	existing, err := s.loadTags(ctx, q, entityID)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[t.Name] = true
	}

	for _, name := range names {
		if present[name] {
			continue
		}
		if err := s.attachTag(ctx, q, entityID, name, source); err != nil {
			return err
		}
		present[name] = true
	}

	return nil
}

// upsertMetadata writes one metadata fact with at-most-one-entry-per-key
// semantics. A write with no declared source keeps the stored provenance:
// the CASE arms fall back to the existing source/source_type so a
// plugin-attributed fact is never downgraded by a caller that omitted the
// field.
func (s *Store) upsertMetadata(ctx context.Context, q querier, entityID int64, entry types.MetadataEntryParam) error {
	if entry.Key == "" {
		return fmt.Errorf("%w: metadata key is required", storage.ErrInvalidInput)
	}

	dataType := entry.DataType
	if dataType == "" {
		dataType = types.MetadataTypeText
	}

	var sourceType sql.NullString
	if entry.Source != "" {
		sourceType = sql.NullString{String: string(types.SourcePluginGenerated), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO entity_metadata (entity_id, key, value, data_type, source, source_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, key) DO UPDATE SET
			value = excluded.value,
			data_type = excluded.data_type,
			source = CASE WHEN excluded.source IS NOT NULL THEN excluded.source ELSE entity_metadata.source END,
			source_type = CASE WHEN excluded.source IS NOT NULL THEN excluded.source_type ELSE entity_metadata.source_type END
	`, entityID, entry.Key, entry.Value, string(dataType), nullableString(entry.Source), sourceType)
	if err != nil {
		return fmt.Errorf("failed to upsert metadata %q for entity %d: %w", entry.Key, entityID, err)
	}

	return nil
}

// replaceMetadata clears the entity's metadata set and inserts the given
// entries.
func (s *Store) replaceMetadata(ctx context.Context, q querier, entityID int64, entries []types.MetadataEntryParam) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM entity_metadata WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("failed to clear metadata for entity %d: %w", entityID, err)
	}

	for _, entry := range entries {
		if err := s.upsertMetadata(ctx, q, entityID, entry); err != nil {
			return err
		}
	}

	return nil
}

// loadTags returns the entity's attribution edges ordered by tag name.
func (s *Store) loadTags(ctx context.Context, q querier, entityID int64) ([]types.EntityTag, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.name, et.source
		FROM entity_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE et.entity_id = ?
		ORDER BY t.name
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var tags []types.EntityTag
	for rows.Next() {
		var t types.EntityTag
		var source string
		if err := rows.Scan(&t.TagID, &t.Name, &source); err != nil {
			return nil, fmt.Errorf("failed to scan tag row: %w", err)
		}
		t.Source = types.AttributionSource(source)
		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// loadMetadata returns the entity's metadata entries ordered by key.
func (s *Store) loadMetadata(ctx context.Context, q querier, entityID int64) ([]types.MetadataEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, value, data_type, source, source_type
		FROM entity_metadata
		WHERE entity_id = ?
		ORDER BY key
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var entries []types.MetadataEntry
	for rows.Next() {
		var e types.MetadataEntry
		var dataType string
		var source, sourceType sql.NullString
		if err := rows.Scan(&e.Key, &e.Value, &dataType, &source, &sourceType); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		e.DataType = types.MetadataType(dataType)
		if source.Valid {
			e.Source = source.String
		}
		if sourceType.Valid {
			e.SourceType = types.AttributionSource(sourceType.String)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// loadStatuses returns the entity's plugin completion markers.
func (s *Store) loadStatuses(ctx context.Context, q querier, entityID int64) ([]types.PluginStatus, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT entity_id, plugin_id, processed_at
		FROM entity_plugin_status
		WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin statuses for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var statuses []types.PluginStatus
	for rows.Next() {
		var st types.PluginStatus
		if err := rows.Scan(&st.EntityID, &st.PluginID, &st.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plugin status row: %w", err)
		}
		statuses = append(statuses, st)
	}

	return statuses, rows.Err()
}

// attachCollections eagerly loads tags, metadata, and plugin statuses for a
// batch of entities in three IN queries. Every list read goes through here
// so the loaded collections are always explicit.
func (s *Store) attachCollections(ctx context.Context, q querier, entities []types.Entity, withStatuses bool) error {
	if len(entities) == 0 {
		return nil
	}

	byID := make(map[int64]*types.Entity, len(entities))
	ids := make([]int64, 0, len(entities))
	for i := range entities {
		byID[entities[i].ID] = &entities[i]
		ids = append(ids, entities[i].ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	placeholders, args := inClause(ids)

	rows, err := q.QueryContext(ctx, `
		SELECT et.entity_id, t.id, t.name, et.source
		FROM entity_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE et.entity_id IN (`+placeholders+`)
		ORDER BY t.name
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to batch-load tags: %w", err)
	}
	for rows.Next() {
		var entityID int64
		var t types.EntityTag
		var source string
		if err := rows.Scan(&entityID, &t.TagID, &t.Name, &source); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tag row: %w", err)
		}
		t.Source = types.AttributionSource(source)
		if e := byID[entityID]; e != nil {
			e.Tags = append(e.Tags, t)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT entity_id, key, value, data_type, source, source_type
		FROM entity_metadata
		WHERE entity_id IN (`+placeholders+`)
		ORDER BY key
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to batch-load metadata: %w", err)
	}
	for rows.Next() {
		var entityID int64
		var e types.MetadataEntry
		var dataType string
		var source, sourceType sql.NullString
		if err := rows.Scan(&entityID, &e.Key, &e.Value, &dataType, &source, &sourceType); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan metadata row: %w", err)
		}
		e.DataType = types.MetadataType(dataType)
		if source.Valid {
			e.Source = source.String
		}
		if sourceType.Valid {
			e.SourceType = types.AttributionSource(sourceType.String)
		}
		if ent := byID[entityID]; ent != nil {
			ent.MetadataEntries = append(ent.MetadataEntries, e)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if !withStatuses {
		return nil
	}

	rows, err = q.QueryContext(ctx, `
		SELECT entity_id, plugin_id, processed_at
		FROM entity_plugin_status
		WHERE entity_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to batch-load plugin statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st types.PluginStatus
		if err := rows.Scan(&st.EntityID, &st.PluginID, &st.ProcessedAt); err != nil {
			return fmt.Errorf("failed to scan plugin status row: %w", err)
		}
		if e := byID[st.EntityID]; e != nil {
			e.PluginStatuses = append(e.PluginStatuses, st)
		}
	}

	return rows.Err()
}

// inClause builds a "?, ?, ..." placeholder list and matching args slice.
func inClause(ids []int64) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}
