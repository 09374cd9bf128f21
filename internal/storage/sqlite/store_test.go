package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/scrypster/retina/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing. NewStore
// initialises the full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestLibrary creates a library with one folder and returns both.
func newTestLibrary(t *testing.T, store *Store, name string) (*types.Library, *types.Folder) {
	t.Helper()
	lib, err := store.CreateLibrary(context.Background(), types.NewLibrary{
		Name:    name,
		Folders: []types.NewFolder{{Path: "/data/" + name}},
	})
	if err != nil {
		t.Fatalf("failed to create test library: %v", err)
	}
	if len(lib.Folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(lib.Folders))
	}
	return lib, &lib.Folders[0]
}

// newTestEntity inserts a screenshot entity created at the given time.
func newTestEntity(t *testing.T, store *Store, lib *types.Library, folder *types.Folder, filepath string, createdAt time.Time) *types.Entity {
	t.Helper()
	entity, err := store.CreateEntity(context.Background(), lib.ID, types.NewEntity{
		FolderID:           folder.ID,
		Filepath:           filepath,
		FileCreatedAt:      createdAt,
		FileLastModifiedAt: createdAt,
		FileTypeGroup:      types.FileTypeImage,
		Size:               1024,
	})
	if err != nil {
		t.Fatalf("failed to create test entity: %v", err)
	}
	return entity
}
