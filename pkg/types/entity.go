package types

import "time"

// FileTypeGroup classifies an entity's underlying file ("image", "video",
// "document"). The listing surface of this store is scoped to visual
// artifacts, so "image" is the group most queries filter on.
type FileTypeGroup string

const (
	FileTypeImage    FileTypeGroup = "image"
	FileTypeVideo    FileTypeGroup = "video"
	FileTypeDocument FileTypeGroup = "document"
)

// AttributionSource records who or what asserted a tag or metadata value.
type AttributionSource string

const (
	// SourceHuman marks facts entered by a person.
	SourceHuman AttributionSource = "human"

	// SourcePluginGenerated marks facts produced by an enrichment plugin.
	SourcePluginGenerated AttributionSource = "plugin_generated"
)

// MetadataType describes the shape of a metadata entry's value.
type MetadataType string

const (
	MetadataTypeText   MetadataType = "text"
	MetadataTypeNumber MetadataType = "number"
	MetadataTypeJSON   MetadataType = "json"
)

// Entity is one indexed artifact (typically a screenshot) together with the
// enrichable collections that hang off it. Reads declare explicitly which
// collections they populate; a nil slice means "not loaded", never "empty".
type Entity struct {
	ID                 int64         `json:"id"`
	LibraryID          int64         `json:"library_id"`
	FolderID           int64         `json:"folder_id"`
	Filepath           string        `json:"filepath"`
	FileCreatedAt      time.Time     `json:"file_created_at"`
	FileLastModifiedAt time.Time     `json:"file_last_modified_at"`
	FileTypeGroup      FileTypeGroup `json:"file_type_group"`
	Size               int64         `json:"size"`

	// LastScanAt is bumped by every enrichment write. Nil until the first
	// enrichment touches the entity.
	LastScanAt *time.Time `json:"last_scan_at,omitempty"`

	Tags            []EntityTag     `json:"tags,omitempty"`
	MetadataEntries []MetadataEntry `json:"metadata_entries,omitempty"`
	PluginStatuses  []PluginStatus  `json:"plugin_statuses,omitempty"`
}

// EntityTag is the attribution edge between an entity and a shared tag.
// At most one edge exists per (entity, tag) pair.
type EntityTag struct {
	TagID  int64             `json:"tag_id"`
	Name   string            `json:"name"`
	Source AttributionSource `json:"source"`
}

// Tag is a deduplicated label, unique by name (case-sensitive), shared
// across entities many-to-many through EntityTag edges.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MetadataEntry is a typed key/value fact about an entity. At most one entry
// exists per (entity, key); writing an existing key updates in place.
type MetadataEntry struct {
	Key      string       `json:"key"`
	Value    string       `json:"value"`
	DataType MetadataType `json:"data_type"`

	// Source names the asserting plugin (or person); SourceType classifies it.
	// Both are empty when the writer declared no provenance.
	Source     string            `json:"source,omitempty"`
	SourceType AttributionSource `json:"source_type,omitempty"`
}

// NewEntity carries the fields required to create an entity, plus optional
// initial tags and metadata applied in the same unit of work.
type NewEntity struct {
	FolderID           int64
	Filepath           string
	FileCreatedAt      time.Time
	FileLastModifiedAt time.Time
	FileTypeGroup      FileTypeGroup
	Size               int64

	Tags            []string
	MetadataEntries []MetadataEntryParam
}

// MetadataEntryParam is the write-side shape of a metadata fact. An empty
// Source means "no provenance declared": on update the stored provenance is
// preserved rather than downgraded.
type MetadataEntryParam struct {
	Key      string
	Value    string
	DataType MetadataType
	Source   string
}

// EntityPatch updates an entity field-by-field. Nil pointers mean "not
// provided" and leave the stored value untouched; this deliberately
// distinguishes absence from an explicit new value.
//
// Tags and MetadataEntries are replace semantics: when non-nil the entity's
// full tag set (or metadata set) is replaced, including replacement with an
// empty set. The merge variants live on the store as AddTags/AddMetadata.
type EntityPatch struct {
	Filepath           *string
	FileCreatedAt      *time.Time
	FileLastModifiedAt *time.Time
	FileTypeGroup      *FileTypeGroup
	Size               *int64

	Tags            []string
	MetadataEntries []MetadataEntryParam
}
