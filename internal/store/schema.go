package store

import "fmt"

const currentSchemaVersion = "1"

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		lang TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		fast_hash TEXT,
		size_bytes INTEGER NOT NULL,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		lang TEXT,
		file_path TEXT,
		line INTEGER,
		col INTEGER,
		end_line INTEGER,
		end_col INTEGER,
		meta_json TEXT
	);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		src_entity_id INTEGER NOT NULL,
		dst_entity_id INTEGER NOT NULL,
		edge_type TEXT NOT NULL,
		file_path TEXT,
		line INTEGER,
		col INTEGER,
		meta_json TEXT,
		FOREIGN KEY(src_entity_id) REFERENCES entities(id) ON DELETE CASCADE,
		FOREIGN KEY(dst_entity_id) REFERENCES entities(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS fingerprints (
		file_path TEXT NOT NULL,
		fp_hash INTEGER NOT NULL,
		span_start INTEGER NOT NULL,
		span_end INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);
	CREATE INDEX IF NOT EXISTS idx_entities_name_type ON entities(name, entity_type);
	CREATE INDEX IF NOT EXISTS idx_entities_file_type ON entities(file_path, entity_type);
	CREATE INDEX IF NOT EXISTS idx_edges_src_type ON edges(src_entity_id, edge_type);
	CREATE INDEX IF NOT EXISTS idx_edges_dst_type ON edges(dst_entity_id, edge_type);
	CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file_path);
	CREATE INDEX IF NOT EXISTS idx_fingerprints_hash ON fingerprints(fp_hash, file_path);
	CREATE INDEX IF NOT EXISTS idx_fingerprints_file ON fingerprints(file_path);
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO meta(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		currentSchemaVersion,
	)
	return err
}

// SchemaVersion returns the schema_version recorded in the meta table.
func (s *Store) SchemaVersion() (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&v)
	return v, err
}

// SchemaInfo summarizes the graph's shape for diagnostics: entity and edge
// type counts.
type SchemaInfo struct {
	EntityTypeCounts []TypeCount
	EdgeTypeCounts   []TypeCount
}

// TypeCount is a type label with its row count.
type TypeCount struct {
	Type  string
	Count int
}

// Schema reports entity and edge type counts across the whole graph.
func (s *Store) Schema() (*SchemaInfo, error) {
	info := &SchemaInfo{}

	rows, err := s.db.Query("SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type ORDER BY 2 DESC")
	if err != nil {
		return nil, fmt.Errorf("schema entity types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		info.EntityTypeCounts = append(info.EntityTypeCounts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows2, err := s.db.Query("SELECT edge_type, COUNT(*) FROM edges GROUP BY edge_type ORDER BY 2 DESC")
	if err != nil {
		return nil, fmt.Errorf("schema edge types: %w", err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var tc TypeCount
		if err := rows2.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		info.EdgeTypeCounts = append(info.EdgeTypeCounts, tc)
	}
	return info, rows2.Err()
}
