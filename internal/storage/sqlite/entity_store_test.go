package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

func TestCreateEntityWithInitialCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")

	now := time.Now().UTC().Truncate(time.Second)
	entity, err := store.CreateEntity(ctx, lib.ID, types.NewEntity{
		FolderID:           folder.ID,
		Filepath:           "/data/screenshots/a.png",
		FileCreatedAt:      now,
		FileLastModifiedAt: now,
		FileTypeGroup:      types.FileTypeImage,
		Size:               2048,
		Tags:               []string{"terminal", "editor"},
		MetadataEntries: []types.MetadataEntryParam{
			{Key: "ocr_result", Value: "hello world", DataType: types.MetadataTypeText, Source: "builtin_ocr"},
		},
	})
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	if entity.ID == 0 {
		t.Error("expected assigned id")
	}
	if entity.LibraryID != lib.ID || entity.FolderID != folder.ID {
		t.Errorf("wrong containment: library %d folder %d", entity.LibraryID, entity.FolderID)
	}
	if len(entity.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(entity.Tags))
	}
	// loadTags orders by name.
	if entity.Tags[0].Name != "editor" || entity.Tags[1].Name != "terminal" {
		t.Errorf("unexpected tag names: %v, %v", entity.Tags[0].Name, entity.Tags[1].Name)
	}
	if entity.Tags[0].Source != types.SourcePluginGenerated {
		t.Errorf("expected plugin_generated source, got %q", entity.Tags[0].Source)
	}
	if len(entity.MetadataEntries) != 1 {
		t.Fatalf("expected 1 metadata entry, got %d", len(entity.MetadataEntries))
	}
	if got := entity.MetadataEntries[0]; got.Source != "builtin_ocr" || got.SourceType != types.SourcePluginGenerated {
		t.Errorf("unexpected provenance: source=%q source_type=%q", got.Source, got.SourceType)
	}
	if entity.LastScanAt != nil {
		t.Error("expected nil LastScanAt before first enrichment")
	}
}

func TestCreateEntityValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	now := time.Now().UTC()

	cases := []struct {
		name   string
		libID  int64
		entity types.NewEntity
	}{
		{"missing filepath", lib.ID, types.NewEntity{
			FolderID: folder.ID, FileCreatedAt: now, FileLastModifiedAt: now, FileTypeGroup: types.FileTypeImage}},
		{"missing folder", lib.ID, types.NewEntity{
			Filepath: "/x.png", FileCreatedAt: now, FileLastModifiedAt: now, FileTypeGroup: types.FileTypeImage}},
		{"missing timestamps", lib.ID, types.NewEntity{
			FolderID: folder.ID, Filepath: "/x.png", FileTypeGroup: types.FileTypeImage}},
		{"missing type group", lib.ID, types.NewEntity{
			FolderID: folder.ID, Filepath: "/x.png", FileCreatedAt: now, FileLastModifiedAt: now}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.CreateEntity(ctx, tc.libID, tc.entity)
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateEntityReusesTagAfterRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	now := time.Now().UTC()

	// The empty metadata key fails after the tag row was inserted, rolling
	// back the whole create including the new tag.
	_, err := store.CreateEntity(ctx, lib.ID, types.NewEntity{
		FolderID:           folder.ID,
		Filepath:           "/data/screenshots/rollback.png",
		FileCreatedAt:      now,
		FileLastModifiedAt: now,
		FileTypeGroup:      types.FileTypeImage,
		Tags:               []string{"screenshot"},
		MetadataEntries: []types.MetadataEntryParam{
			{Key: "", Value: "x", DataType: types.MetadataTypeText},
		},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	var tagRows int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&tagRows); err != nil {
		t.Fatalf("counting tags failed: %v", err)
	}
	if tagRows != 0 {
		t.Fatalf("expected tag insert to roll back, found %d rows", tagRows)
	}

	// A later create with the same tag name must resolve a live tag row, not
	// the id from the rolled-back insert.
	entity, err := store.CreateEntity(ctx, lib.ID, types.NewEntity{
		FolderID:           folder.ID,
		Filepath:           "/data/screenshots/ok.png",
		FileCreatedAt:      now,
		FileLastModifiedAt: now,
		FileTypeGroup:      types.FileTypeImage,
		Tags:               []string{"screenshot"},
	})
	if err != nil {
		t.Fatalf("CreateEntity after rollback failed: %v", err)
	}
	if len(entity.Tags) != 1 || entity.Tags[0].Name != "screenshot" {
		t.Fatalf("expected tag %q attached, got %+v", "screenshot", entity.Tags)
	}
}

func TestGetEntityByFilepath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")

	created := newTestEntity(t, store, lib, folder, "/data/screenshots/find-me.png", time.Now().UTC())

	got, err := store.GetEntityByFilepath(ctx, "/data/screenshots/find-me.png")
	if err != nil {
		t.Fatalf("GetEntityByFilepath failed: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected entity %d, got %d", created.ID, got.ID)
	}

	if _, err := store.GetEntityByFilepath(ctx, "/nope.png"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Re-adding an existing tag must not create a duplicate edge, and AddTags
// must stamp last_scan_at.
func TestAddTagsIsSetMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	if _, err := store.AddTags(ctx, entity.ID, []string{"chrome", "dark-mode"}); err != nil {
		t.Fatalf("AddTags failed: %v", err)
	}

	updated, err := store.AddTags(ctx, entity.ID, []string{"chrome", "fullscreen"})
	if err != nil {
		t.Fatalf("second AddTags failed: %v", err)
	}

	if len(updated.Tags) != 3 {
		t.Fatalf("expected 3 tags after merge, got %d", len(updated.Tags))
	}
	if updated.LastScanAt == nil {
		t.Error("expected last_scan_at to be stamped")
	}

	// The shared tag row is reused, not duplicated.
	var count int
	if err := store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tags WHERE name = 'chrome'").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 chrome tag row, got %d", count)
	}
}

// Tag names are case-sensitive: "Chrome" and "chrome" are distinct tags.
func TestTagNamesCaseSensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	updated, err := store.AddTags(ctx, entity.ID, []string{"Chrome", "chrome"})
	if err != nil {
		t.Fatalf("AddTags failed: %v", err)
	}
	if len(updated.Tags) != 2 {
		t.Errorf("expected 2 distinct tags, got %d", len(updated.Tags))
	}
}

// Writing an existing key updates in place; a write with no declared source
// keeps the stored provenance.
func TestAddMetadataUpsertPreservesProvenance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	if _, err := store.AddMetadata(ctx, entity.ID, []types.MetadataEntryParam{
		{Key: "ocr_result", Value: "first pass", DataType: types.MetadataTypeText, Source: "builtin_ocr"},
	}); err != nil {
		t.Fatalf("AddMetadata failed: %v", err)
	}

	// Update the value without declaring a source.
	updated, err := store.AddMetadata(ctx, entity.ID, []types.MetadataEntryParam{
		{Key: "ocr_result", Value: "second pass", DataType: types.MetadataTypeText},
	})
	if err != nil {
		t.Fatalf("second AddMetadata failed: %v", err)
	}

	if len(updated.MetadataEntries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(updated.MetadataEntries))
	}
	got := updated.MetadataEntries[0]
	if got.Value != "second pass" {
		t.Errorf("expected updated value, got %q", got.Value)
	}
	if got.Source != "builtin_ocr" || got.SourceType != types.SourcePluginGenerated {
		t.Errorf("provenance downgraded: source=%q source_type=%q", got.Source, got.SourceType)
	}
}

func TestUpdateEntityPatchSemantics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	if _, err := store.AddTags(ctx, entity.ID, []string{"keep-me"}); err != nil {
		t.Fatalf("AddTags failed: %v", err)
	}

	// Nil fields leave values untouched.
	newSize := int64(9999)
	updated, err := store.UpdateEntity(ctx, entity.ID, types.EntityPatch{Size: &newSize})
	if err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}
	if updated.Size != 9999 {
		t.Errorf("expected size 9999, got %d", updated.Size)
	}
	if updated.Filepath != "/a.png" {
		t.Errorf("filepath changed unexpectedly: %q", updated.Filepath)
	}
	if len(updated.Tags) != 1 {
		t.Errorf("tags changed by scalar patch: %d", len(updated.Tags))
	}

	// A non-nil empty tag list replaces the set with nothing.
	updated, err = store.UpdateEntity(ctx, entity.ID, types.EntityPatch{Tags: []string{}})
	if err != nil {
		t.Fatalf("UpdateEntity with empty tags failed: %v", err)
	}
	if len(updated.Tags) != 0 {
		t.Errorf("expected empty tag set, got %d tags", len(updated.Tags))
	}

	if _, err := store.UpdateEntity(ctx, 99999, types.EntityPatch{Size: &newSize}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListByFolderPagingAndPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newTestEntity(t, store, lib, folder, "/data/screenshots/2026-03/a.png", base)
	newTestEntity(t, store, lib, folder, "/data/screenshots/2026-03/b.png", base.Add(time.Minute))
	newTestEntity(t, store, lib, folder, "/data/screenshots/2026-04/c.png", base.Add(2*time.Minute))

	page, err := store.ListByFolder(ctx, lib.ID, folder.ID, storage.ListByFolderOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListByFolder failed: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
	if len(page.Entities) != 2 {
		t.Fatalf("expected 2 entities on page, got %d", len(page.Entities))
	}
	// Ordered by modification time ascending.
	if page.Entities[0].Filepath != "/data/screenshots/2026-03/a.png" {
		t.Errorf("unexpected first entity: %q", page.Entities[0].Filepath)
	}

	page, err = store.ListByFolder(ctx, lib.ID, folder.ID, storage.ListByFolderOptions{
		PathPrefix: "/data/screenshots/2026-03/",
	})
	if err != nil {
		t.Fatalf("ListByFolder with prefix failed: %v", err)
	}
	if page.Total != 2 || len(page.Entities) != 2 {
		t.Errorf("expected 2 prefix matches, got total=%d len=%d", page.Total, len(page.Entities))
	}
}

func TestListEntitiesFiltersAndWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newTestEntity(t, store, lib, folder, "/a.png", base)
	newTestEntity(t, store, lib, folder, "/b.png", base.Add(time.Hour))

	// A video entity is excluded from the image listing.
	if _, err := store.CreateEntity(ctx, lib.ID, types.NewEntity{
		FolderID:           folder.ID,
		Filepath:           "/clip.mp4",
		FileCreatedAt:      base,
		FileLastModifiedAt: base,
		FileTypeGroup:      types.FileTypeVideo,
	}); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	entities, err := store.ListEntities(ctx, storage.ListEntitiesOptions{})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 image entities, got %d", len(entities))
	}
	// Newest first.
	if entities[0].Filepath != "/b.png" {
		t.Errorf("expected /b.png first, got %q", entities[0].Filepath)
	}

	start := base.Add(-time.Minute).Unix()
	end := base.Add(time.Minute).Unix()
	entities, err = store.ListEntities(ctx, storage.ListEntitiesOptions{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("ListEntities with window failed: %v", err)
	}
	if len(entities) != 1 || entities[0].Filepath != "/a.png" {
		t.Errorf("expected only /a.png in window, got %d entities", len(entities))
	}
}

// Around an anchor in the middle of five entities created at minutes
// 10, 20, 30, 40, 50, asking for two before and one after must return the
// 10- and 20-minute entities (in chronological order) and the 40-minute one.
func TestGetContextOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []int64
	for _, min := range []int{10, 20, 30, 40, 50} {
		e := newTestEntity(t, store, lib, folder,
			fmt.Sprintf("/shot-%02d.png", min), base.Add(time.Duration(min)*time.Minute))
		ids = append(ids, e.ID)
	}

	previous, following, err := store.GetContext(ctx, lib.ID, ids[2], 2, 1)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}

	if len(previous) != 2 {
		t.Fatalf("expected 2 previous entities, got %d", len(previous))
	}
	if previous[0].ID != ids[0] || previous[1].ID != ids[1] {
		t.Errorf("previous not in chronological order: got %d, %d want %d, %d",
			previous[0].ID, previous[1].ID, ids[0], ids[1])
	}
	if len(following) != 1 || following[0].ID != ids[3] {
		t.Errorf("expected following [%d], got %v", ids[3], following)
	}

	// Missing anchor yields empty slices, not an error.
	previous, following, err = store.GetContext(ctx, lib.ID, 99999, 2, 2)
	if err != nil {
		t.Fatalf("GetContext with missing anchor failed: %v", err)
	}
	if len(previous) != 0 || len(following) != 0 {
		t.Errorf("expected empty context for missing anchor, got %d/%d", len(previous), len(following))
	}
}

func TestRemoveEntityClearsIndexRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	if err := store.IndexText(ctx, entity.ID, entity.Filepath, "some ocr text"); err != nil {
		t.Fatalf("IndexText failed: %v", err)
	}
	if err := store.IndexVector(ctx, entity.ID, []float32{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("IndexVector failed: %v", err)
	}

	if err := store.RemoveEntity(ctx, entity.ID); err != nil {
		t.Fatalf("RemoveEntity failed: %v", err)
	}

	if _, err := store.GetEntity(ctx, entity.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after removal, got %v", err)
	}

	var count int
	if err := store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities_fts WHERE id = ?", entity.ID).Scan(&count); err != nil {
		t.Fatalf("fts count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no fts rows, got %d", count)
	}
	if err := store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities_vec_v2 WHERE entity_id = ?", entity.ID).Scan(&count); err != nil {
		t.Fatalf("vec count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no vector rows, got %d", count)
	}

	if err := store.RemoveEntity(ctx, entity.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double remove, got %v", err)
	}
}

func TestTouchEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")
	entity := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())

	ok, err := store.TouchEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("TouchEntity failed: %v", err)
	}
	if !ok {
		t.Error("expected touch to hit")
	}

	got, err := store.GetEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.LastScanAt == nil {
		t.Error("expected last_scan_at set after touch")
	}

	ok, err = store.TouchEntity(ctx, 99999)
	if err != nil {
		t.Fatalf("TouchEntity on missing entity failed: %v", err)
	}
	if ok {
		t.Error("expected touch miss for missing entity")
	}
}

func TestFindEntitiesByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lib, folder := newTestLibrary(t, store, "screenshots")

	a := newTestEntity(t, store, lib, folder, "/a.png", time.Now().UTC())
	b := newTestEntity(t, store, lib, folder, "/b.png", time.Now().UTC())
	if _, err := store.AddTags(ctx, a.ID, []string{"tagged"}); err != nil {
		t.Fatalf("AddTags failed: %v", err)
	}

	entities, err := store.FindEntitiesByIDs(ctx, []int64{a.ID, b.ID, 99999})
	if err != nil {
		t.Fatalf("FindEntitiesByIDs failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities (missing id skipped), got %d", len(entities))
	}

	var tagged *types.Entity
	for i := range entities {
		if entities[i].ID == a.ID {
			tagged = &entities[i]
		}
	}
	if tagged == nil || len(tagged.Tags) != 1 {
		t.Error("expected tags eagerly loaded on batch read")
	}
}
