package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

// CreateLibrary creates a library and its initial folders in one
// transaction.
func (s *Store) CreateLibrary(ctx context.Context, library types.NewLibrary) (*types.Library, error) {
	if library.Name == "" {
		return nil, fmt.Errorf("%w: library name is required", storage.ErrInvalidInput)
	}

	var id int64
	err := s.withTx(ctx, func(tx *txWork) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO libraries (name) VALUES (?)", library.Name)
		if err != nil {
			return fmt.Errorf("failed to create library %q: %w", library.Name, err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read library id: %w", err)
		}

		for _, f := range library.Folders {
			if err := insertFolder(ctx, tx, id, f); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetLibrary(ctx, id)
}

// GetLibrary retrieves a library with its folders and bound plugins.
func (s *Store) GetLibrary(ctx context.Context, id int64) (*types.Library, error) {
	var lib types.Library
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name FROM libraries WHERE id = ?", id).Scan(&lib.ID, &lib.Name)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library %d: %w", id, err)
	}

	if err := s.loadLibraryCollections(ctx, &lib); err != nil {
		return nil, err
	}

	return &lib, nil
}

// GetLibraryByName looks a library up by its case-insensitive name.
func (s *Store) GetLibraryByName(ctx context.Context, name string) (*types.Library, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM libraries WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library %q: %w", name, err)
	}

	return s.GetLibrary(ctx, id)
}

// ListLibraries returns all libraries with folders and plugins loaded.
func (s *Store) ListLibraries(ctx context.Context) ([]types.Library, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM libraries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var libraries []types.Library
	for rows.Next() {
		var lib types.Library
		if err := rows.Scan(&lib.ID, &lib.Name); err != nil {
			return nil, fmt.Errorf("failed to scan library row: %w", err)
		}
		libraries = append(libraries, lib)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range libraries {
		if err := s.loadLibraryCollections(ctx, &libraries[i]); err != nil {
			return nil, err
		}
	}

	return libraries, nil
}

// AddFolders attaches folders to an existing library.
func (s *Store) AddFolders(ctx context.Context, libraryID int64, folders []types.NewFolder) (*types.Library, error) {
	err := s.withTx(ctx, func(tx *txWork) error {
		var one int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM libraries WHERE id = ?", libraryID).Scan(&one)
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check library %d: %w", libraryID, err)
		}

		for _, f := range folders {
			if err := insertFolder(ctx, tx, libraryID, f); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetLibrary(ctx, libraryID)
}

func insertFolder(ctx context.Context, q querier, libraryID int64, folder types.NewFolder) error {
	if folder.Path == "" {
		return fmt.Errorf("%w: folder path is required", storage.ErrInvalidInput)
	}

	folderType := folder.Type
	if folderType == "" {
		folderType = types.FolderTypeDefault
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO folders (library_id, path, last_modified_at, type)
		VALUES (?, ?, ?, ?)
	`, libraryID, folder.Path, nullableTime(folder.LastModifiedAt), string(folderType))
	if err != nil {
		return fmt.Errorf("failed to insert folder %q: %w", folder.Path, err)
	}

	return nil
}

func (s *Store) loadLibraryCollections(ctx context.Context, lib *types.Library) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, library_id, path, last_modified_at, type
		FROM folders WHERE library_id = ? ORDER BY id
	`, lib.ID)
	if err != nil {
		return fmt.Errorf("failed to load folders for library %d: %w", lib.ID, err)
	}
	for rows.Next() {
		var f types.Folder
		var folderType string
		var lastModified sql.NullTime
		if err := rows.Scan(&f.ID, &f.LibraryID, &f.Path, &lastModified, &folderType); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan folder row: %w", err)
		}
		if lastModified.Valid {
			t := lastModified.Time
			f.LastModifiedAt = &t
		}
		f.Type = types.FolderType(folderType)
		lib.Folders = append(lib.Folders, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.webhook_url
		FROM library_plugins lp
		JOIN plugins p ON p.id = lp.plugin_id
		WHERE lp.library_id = ?
		ORDER BY p.id
	`, lib.ID)
	if err != nil {
		return fmt.Errorf("failed to load plugins for library %d: %w", lib.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p types.Plugin
		if err := rows.Scan(&p.ID, &p.Name, &p.WebhookURL); err != nil {
			return fmt.Errorf("failed to scan plugin row: %w", err)
		}
		lib.Plugins = append(lib.Plugins, p)
	}

	return rows.Err()
}
