package storage

import (
	"errors"

	"github.com/scrypster/retina/pkg/types"
)

var (
	// ErrNotFound indicates that the referenced entity, plugin, or library
	// does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates malformed input to a create/update call.
	// It is returned before any write occurs.
	ErrInvalidInput = errors.New("invalid input")
)

// FolderPage is a page of a folder listing together with the exact total
// count, so callers can page without re-scanning.
type FolderPage struct {
	// Entities are ordered by file modification time ascending, with tags,
	// metadata, and plugin statuses eagerly loaded.
	Entities []types.Entity

	// Total is the number of entities matching the folder (and prefix)
	// filter across all pages.
	Total int
}

// ListByFolderOptions paginates and filters a folder listing.
type ListByFolderOptions struct {
	Limit  int
	Offset int

	// PathPrefix narrows results to filepaths with this string prefix.
	// Empty means no prefix filter.
	PathPrefix string
}

// Normalize applies defaults to the folder listing options.
func (o *ListByFolderOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ListEntitiesOptions narrows the image-entity listing.
type ListEntitiesOptions struct {
	// Limit caps the number of returned entities (default 200 when <= 0).
	Limit int

	// LibraryIDs restricts to a library set when non-empty.
	LibraryIDs []int64

	// Start and End bound file_created_at as inclusive Unix-epoch seconds.
	// Both must be set for the window to apply; nil means unbounded.
	Start *int64
	End   *int64
}

// Normalize applies defaults to the listing options.
func (o *ListEntitiesOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 200
	}
}

// TimeWindow returns the inclusive epoch bounds and whether they apply.
func (o *ListEntitiesOptions) TimeWindow() (start, end int64, ok bool) {
	if o.Start == nil || o.End == nil {
		return 0, 0, false
	}
	return *o.Start, *o.End, true
}
