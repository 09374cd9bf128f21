package types

import "time"

// Library is the top of the containment hierarchy: it owns folders and is
// bound to the plugins that enrich its entities.
type Library struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Folders []Folder `json:"folders,omitempty"`
	Plugins []Plugin `json:"plugins,omitempty"`
}

// FolderType distinguishes real watched directories from placeholder rows.
type FolderType string

const (
	FolderTypeDefault FolderType = "DEFAULT"
	FolderTypeDummy   FolderType = "DUMMY"
)

// Folder is a watched directory inside a library. Entities belong to exactly
// one folder.
type Folder struct {
	ID             int64      `json:"id"`
	LibraryID      int64      `json:"library_id"`
	Path           string     `json:"path"`
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
	Type           FolderType `json:"type,omitempty"`
}

// NewLibrary carries the fields required to create a library with its
// initial folders.
type NewLibrary struct {
	Name    string
	Folders []NewFolder
}

// NewFolder carries the fields required to add a folder to a library.
type NewFolder struct {
	Path           string
	LastModifiedAt *time.Time
	Type           FolderType
}
