// Package storage provides composable storage interfaces for the Retina
// entity store.
//
// The layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Every multi-entity read
// declares exactly which related collections it eagerly returns; there is no
// implicit on-access loading anywhere in this module.
package storage

import (
	"context"

	"github.com/scrypster/retina/pkg/types"
)

// EntityStore is the aggregate root: it creates and updates entities and
// composes the attribution ledger and plugin status tracker on write.
type EntityStore interface {
	// CreateEntity persists the entity row, then applies any initial tags
	// and metadata in the same unit of work. The id is assigned by the
	// store and immutable thereafter.
	// Returns ErrInvalidInput if required fields are absent.
	CreateEntity(ctx context.Context, libraryID int64, entity types.NewEntity) (*types.Entity, error)

	// GetEntity retrieves an entity with tags, metadata, and plugin
	// statuses eagerly loaded. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)

	// GetEntityByFilepath retrieves an entity by its unique file path,
	// with the same eager collections as GetEntity.
	GetEntityByFilepath(ctx context.Context, filepath string) (*types.Entity, error)

	// FindEntitiesByIDs returns the entities with the given ids, tags and
	// metadata eagerly loaded. Missing ids are skipped, not errors.
	FindEntitiesByIDs(ctx context.Context, ids []int64) ([]types.Entity, error)

	// UpdateEntity applies only non-nil fields of the patch. A non-nil tag
	// list replaces the entity's full tag set; likewise for metadata.
	// Returns ErrNotFound if the id does not exist.
	UpdateEntity(ctx context.Context, id int64, patch types.EntityPatch) (*types.Entity, error)

	// AddTags adds only tags not already present on the entity and stamps
	// last_scan_at in the same unit of work.
	AddTags(ctx context.Context, id int64, tags []string) (*types.Entity, error)

	// AddMetadata upserts metadata entries by key and stamps last_scan_at
	// in the same unit of work. Writes with no declared source preserve
	// the stored provenance.
	AddMetadata(ctx context.Context, id int64, entries []types.MetadataEntryParam) (*types.Entity, error)

	// TouchEntity bumps last_scan_at and reports whether the entity exists.
	TouchEntity(ctx context.Context, id int64) (bool, error)

	// ListByFolder returns entities of a folder ordered by file modification
	// time ascending, with a separate exact total count.
	ListByFolder(ctx context.Context, libraryID, folderID int64, opts ListByFolderOptions) (*FolderPage, error)

	// ListEntities returns image entities ordered by creation time
	// descending, optionally restricted to a library set and an inclusive
	// Unix-epoch creation window. Tags and metadata are eagerly loaded.
	ListEntities(ctx context.Context, opts ListEntitiesOptions) ([]types.Entity, error)

	// GetContext returns up to prev entities immediately preceding and next
	// entities immediately following the anchor by creation time, both in
	// chronological order, scoped to the library. A missing anchor yields
	// two empty slices and no error.
	GetContext(ctx context.Context, libraryID, id int64, prev, next int) (previous, following []types.Entity, err error)

	// RemoveEntity deletes the entity's text-search and vector-search index
	// rows first, then the relational row and its children.
	// Returns ErrNotFound if absent.
	RemoveEntity(ctx context.Context, id int64) error
}

// PluginStore manages the plugin registry, library bindings, and the
// per-entity completion bookkeeping that lets independent plugins run at
// different speeds without a central scheduler.
type PluginStore interface {
	// CreatePlugin registers an enrichment capability.
	CreatePlugin(ctx context.Context, plugin types.NewPlugin) (*types.Plugin, error)

	// GetPluginByName resolves a plugin by name, case-insensitively.
	GetPluginByName(ctx context.Context, name string) (*types.Plugin, error)

	// ListPlugins returns all registered plugins ordered by id.
	ListPlugins(ctx context.Context) ([]types.Plugin, error)

	// AddPluginToLibrary binds a plugin to a library.
	AddPluginToLibrary(ctx context.Context, libraryID, pluginID int64) error

	// RemovePluginFromLibrary unbinds a plugin from a library.
	// Returns ErrNotFound when the binding does not exist.
	RemovePluginFromLibrary(ctx context.Context, libraryID, pluginID int64) error

	// RecordProcessed marks an (entity, plugin) pair complete. Idempotent;
	// repeated calls update processed_at, last write wins.
	RecordProcessed(ctx context.Context, entityID, pluginID int64) error

	// GetPendingPlugins returns the plugins bound to the entity's library
	// that have not recorded completion for the entity. The result is a
	// set: callers must not depend on ordering.
	// Returns ErrNotFound if the entity does not exist.
	GetPendingPlugins(ctx context.Context, entityID int64) ([]types.Plugin, error)
}

// LibraryStore manages the containment hierarchy.
type LibraryStore interface {
	// CreateLibrary creates a library with its initial folders.
	CreateLibrary(ctx context.Context, library types.NewLibrary) (*types.Library, error)

	// GetLibrary retrieves a library with folders and bound plugins loaded.
	GetLibrary(ctx context.Context, id int64) (*types.Library, error)

	// GetLibraryByName resolves a library by name, case-insensitively.
	GetLibraryByName(ctx context.Context, name string) (*types.Library, error)

	// ListLibraries returns all libraries ordered by id.
	ListLibraries(ctx context.Context) ([]types.Library, error)

	// AddFolders appends folders to a library and returns the updated
	// library. Returns ErrNotFound if the library does not exist.
	AddFolders(ctx context.Context, libraryID int64, folders []types.NewFolder) (*types.Library, error)
}

// TextIndex is the full-text side table consumed by the external query
// engine. This core only writes and deletes rows in it.
type TextIndex interface {
	// IndexText writes (or replaces) the searchable text row for an entity.
	IndexText(ctx context.Context, entityID int64, filepath, text string) error

	// DeleteText removes the entity's text row. Missing rows are not errors.
	DeleteText(ctx context.Context, entityID int64) error
}

// VectorIndex is the vector side table consumed by the external query
// engine, holding one normalized and rounded embedding per entity.
type VectorIndex interface {
	// IndexVector writes (or replaces) the embedding row for an entity.
	IndexVector(ctx context.Context, entityID int64, embedding []float32) error

	// DeleteVector removes the entity's vector row. Missing rows are not
	// errors.
	DeleteVector(ctx context.Context, entityID int64) error
}
