package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

// CreatePlugin registers a webhook processor. Names are unique
// case-insensitively; registering a duplicate is an error rather than an
// upsert so a misconfigured second instance cannot silently steal a name.
func (s *Store) CreatePlugin(ctx context.Context, plugin types.NewPlugin) (*types.Plugin, error) {
	if plugin.Name == "" {
		return nil, fmt.Errorf("%w: plugin name is required", storage.ErrInvalidInput)
	}
	if plugin.WebhookURL == "" {
		return nil, fmt.Errorf("%w: plugin webhook url is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO plugins (name, webhook_url) VALUES (?, ?)",
		plugin.Name, plugin.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin %q: %w", plugin.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin id: %w", err)
	}

	return &types.Plugin{ID: id, Name: plugin.Name, WebhookURL: plugin.WebhookURL}, nil
}

// GetPluginByName looks a plugin up by name. The name column collates
// case-insensitively, so "OCR" and "ocr" resolve to the same plugin.
func (s *Store) GetPluginByName(ctx context.Context, name string) (*types.Plugin, error) {
	var p types.Plugin
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, webhook_url FROM plugins WHERE name = ?", name).
		Scan(&p.ID, &p.Name, &p.WebhookURL)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plugin %q: %w", name, err)
	}

	return &p, nil
}

// ListPlugins returns all registered plugins in registration order.
func (s *Store) ListPlugins(ctx context.Context) ([]types.Plugin, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, webhook_url FROM plugins ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	defer rows.Close()

	var plugins []types.Plugin
	for rows.Next() {
		var p types.Plugin
		if err := rows.Scan(&p.ID, &p.Name, &p.WebhookURL); err != nil {
			return nil, fmt.Errorf("failed to scan plugin row: %w", err)
		}
		plugins = append(plugins, p)
	}

	return plugins, rows.Err()
}

// AddPluginToLibrary binds a plugin to a library. Binding an already-bound
// pair is a no-op so startup registration can run on every boot.
func (s *Store) AddPluginToLibrary(ctx context.Context, libraryID, pluginID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM plugins WHERE id = ?", pluginID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: plugin %d", storage.ErrNotFound, pluginID)
	}
	if err != nil {
		return fmt.Errorf("failed to check plugin %d: %w", pluginID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO library_plugins (library_id, plugin_id)
		VALUES (?, ?)
		ON CONFLICT(library_id, plugin_id) DO NOTHING
	`, libraryID, pluginID)
	if err != nil {
		return fmt.Errorf("failed to bind plugin %d to library %d: %w", pluginID, libraryID, err)
	}

	return nil
}

// RemovePluginFromLibrary unbinds a plugin from a library. Per-entity
// completion markers are kept; they record history, not the binding.
func (s *Store) RemovePluginFromLibrary(ctx context.Context, libraryID, pluginID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM library_plugins WHERE library_id = ? AND plugin_id = ?",
		libraryID, pluginID)
	if err != nil {
		return fmt.Errorf("failed to unbind plugin %d from library %d: %w", pluginID, libraryID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// RecordProcessed marks a plugin as having processed an entity. Re-recording
// the same pair refreshes processed_at, so a re-run plugin always reflects
// its latest completion time.
func (s *Store) RecordProcessed(ctx context.Context, entityID, pluginID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_plugin_status (entity_id, plugin_id, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, plugin_id) DO UPDATE SET
			processed_at = excluded.processed_at
	`, entityID, pluginID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record plugin %d for entity %d: %w", pluginID, entityID, err)
	}

	return nil
}

// GetPendingPlugins returns the plugins bound to the entity's library that
// have not yet recorded completion for the entity. Unbinding a plugin also
// removes it from every entity's pending set.
func (s *Store) GetPendingPlugins(ctx context.Context, entityID int64) ([]types.Plugin, error) {
	var libraryID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT library_id FROM entities WHERE id = ?", entityID).Scan(&libraryID)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %d: %w", entityID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.webhook_url
		FROM library_plugins lp
		JOIN plugins p ON p.id = lp.plugin_id
		WHERE lp.library_id = ?
		  AND lp.plugin_id NOT IN (
			SELECT plugin_id FROM entity_plugin_status WHERE entity_id = ?
		  )
		ORDER BY p.id
	`, libraryID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending plugins for entity %d: %w", entityID, err)
	}
	defer rows.Close()

	var plugins []types.Plugin
	for rows.Next() {
		var p types.Plugin
		if err := rows.Scan(&p.ID, &p.Name, &p.WebhookURL); err != nil {
			return nil, fmt.Errorf("failed to scan plugin row: %w", err)
		}
		plugins = append(plugins, p)
	}

	return plugins, rows.Err()
}
