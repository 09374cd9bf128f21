package sqlite

// Schema defines the relational structure for the entity store.
//
// The entities_fts and entities_vec_v2 side tables are owned by the external
// full-text/vector query engine; this core only writes one text row and one
// vector row per entity into them (and deletes them ahead of entity removal).
const Schema = `
CREATE TABLE IF NOT EXISTS libraries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL UNIQUE COLLATE NOCASE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS folders (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    library_id       INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
    path             TEXT NOT NULL,
    last_modified_at TIMESTAMP,
    type             TEXT NOT NULL DEFAULT 'DEFAULT'
);

CREATE INDEX IF NOT EXISTS idx_folders_library ON folders(library_id);

CREATE TABLE IF NOT EXISTS entities (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    library_id            INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
    folder_id             INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
    filepath              TEXT NOT NULL UNIQUE,
    file_created_at       TIMESTAMP NOT NULL,
    file_last_modified_at TIMESTAMP NOT NULL,
    last_scan_at          TIMESTAMP,
    file_type_group       TEXT NOT NULL,
    size                  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entities_folder
    ON entities(library_id, folder_id, file_last_modified_at);
CREATE INDEX IF NOT EXISTS idx_entities_type_created
    ON entities(file_type_group, file_created_at);

CREATE TABLE IF NOT EXISTS tags (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS entity_tags (
    entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    tag_id    INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    source    TEXT NOT NULL,
    PRIMARY KEY (entity_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_tags_tag ON entity_tags(tag_id);

CREATE TABLE IF NOT EXISTS entity_metadata (
    entity_id   INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    key         TEXT NOT NULL,
    value       TEXT NOT NULL,
    data_type   TEXT NOT NULL DEFAULT 'text',
    source      TEXT,
    source_type TEXT,
    PRIMARY KEY (entity_id, key)
);

CREATE TABLE IF NOT EXISTS plugins (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
    webhook_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS library_plugins (
    library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
    plugin_id  INTEGER NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
    PRIMARY KEY (library_id, plugin_id)
);

CREATE TABLE IF NOT EXISTS entity_plugin_status (
    entity_id    INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    plugin_id    INTEGER NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
    processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (entity_id, plugin_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
    id UNINDEXED,
    filepath,
    text
);

CREATE TABLE IF NOT EXISTS entities_vec_v2 (
    entity_id INTEGER PRIMARY KEY,
    embedding BLOB NOT NULL
);
`
