package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

func newTestPlugin(t *testing.T, store *Store, name string) *types.Plugin {
	t.Helper()
	plugin, err := store.CreatePlugin(context.Background(), types.NewPlugin{
		Name:       name,
		WebhookURL: "http://localhost:5555/" + name,
	})
	if err != nil {
		t.Fatalf("failed to create test plugin: %v", err)
	}
	return plugin
}

func TestGetPluginByNameCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := newTestPlugin(t, store, "builtin_ocr")

	got, err := store.GetPluginByName(ctx, "BUILTIN_OCR")
	if err != nil {
		t.Fatalf("GetPluginByName failed: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected plugin %d, got %d", created.ID, got.ID)
	}

	if _, err := store.GetPluginByName(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Recording the same (entity, plugin) pair twice keeps a single row and
// refreshes processed_at.
func TestRecordProcessedIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())
	plugin := newTestPlugin(t, store, "builtin_ocr")

	if err := store.RecordProcessed(ctx, entity.ID, plugin.ID); err != nil {
		t.Fatalf("RecordProcessed failed: %v", err)
	}

	var first time.Time
	if err := store.DB().QueryRowContext(ctx,
		"SELECT processed_at FROM entity_plugin_status WHERE entity_id = ? AND plugin_id = ?",
		entity.ID, plugin.ID).Scan(&first); err != nil {
		t.Fatalf("processed_at query failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := store.RecordProcessed(ctx, entity.ID, plugin.ID); err != nil {
		t.Fatalf("second RecordProcessed failed: %v", err)
	}

	var count int
	if err := store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entity_plugin_status WHERE entity_id = ?", entity.ID).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 status row, got %d", count)
	}

	var second time.Time
	if err := store.DB().QueryRowContext(ctx,
		"SELECT processed_at FROM entity_plugin_status WHERE entity_id = ? AND plugin_id = ?",
		entity.ID, plugin.ID).Scan(&second); err != nil {
		t.Fatalf("processed_at query failed: %v", err)
	}
	if !second.After(first) {
		t.Errorf("expected processed_at refreshed: first=%v second=%v", first, second)
	}
}

// With plugins A, B, C bound to the library and only A recorded for an
// entity, the pending set is exactly {B, C}.
func TestGetPendingPlugins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	a := newTestPlugin(t, store, "plugin_a")
	b := newTestPlugin(t, store, "plugin_b")
	c := newTestPlugin(t, store, "plugin_c")
	for _, p := range []*types.Plugin{a, b, c} {
		if err := store.AddPluginToLibrary(ctx, lib.ID, p.ID); err != nil {
			t.Fatalf("AddPluginToLibrary failed: %v", err)
		}
	}

	if err := store.RecordProcessed(ctx, entity.ID, a.ID); err != nil {
		t.Fatalf("RecordProcessed failed: %v", err)
	}

	pending, err := store.GetPendingPlugins(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetPendingPlugins failed: %v", err)
	}

	got := map[int64]bool{}
	for _, p := range pending {
		got[p.ID] = true
	}
	if len(got) != 2 || !got[b.ID] || !got[c.ID] {
		t.Errorf("expected pending {%d, %d}, got %v", b.ID, c.ID, got)
	}
}

// Unbinding a plugin from the library removes it from every entity's
// pending set without touching recorded completions.
func TestRemovePluginFromLibraryShrinksPendingSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	a := newTestPlugin(t, store, "plugin_a")
	b := newTestPlugin(t, store, "plugin_b")
	for _, p := range []*types.Plugin{a, b} {
		if err := store.AddPluginToLibrary(ctx, lib.ID, p.ID); err != nil {
			t.Fatalf("AddPluginToLibrary failed: %v", err)
		}
	}

	if err := store.RemovePluginFromLibrary(ctx, lib.ID, b.ID); err != nil {
		t.Fatalf("RemovePluginFromLibrary failed: %v", err)
	}

	pending, err := store.GetPendingPlugins(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetPendingPlugins failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Errorf("expected only plugin %d pending, got %v", a.ID, pending)
	}

	if err := store.RemovePluginFromLibrary(ctx, lib.ID, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double unbind, got %v", err)
	}
}

// Binding is idempotent so startup registration can run on every boot.
func TestAddPluginToLibraryIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, _ := newTestLibrary(t, store, "screenshots")
	plugin := newTestPlugin(t, store, "builtin_ocr")

	if err := store.AddPluginToLibrary(ctx, lib.ID, plugin.ID); err != nil {
		t.Fatalf("AddPluginToLibrary failed: %v", err)
	}
	if err := store.AddPluginToLibrary(ctx, lib.ID, plugin.ID); err != nil {
		t.Fatalf("second AddPluginToLibrary failed: %v", err)
	}

	if err := store.AddPluginToLibrary(ctx, lib.ID, 99999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing plugin, got %v", err)
	}
}
