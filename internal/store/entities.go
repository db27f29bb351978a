package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Entity is a node in the code graph: a file, symbol, symbol name, module,
// config file, or entrypoint. Optional columns are nil when the entity was
// created as a stub (e.g. a module referenced before its defining file is
// indexed).
type Entity struct {
	ID        int64
	Type      string
	Key       string
	Name      string
	Lang      sql.NullString
	FilePath  sql.NullString
	Line      sql.NullInt64
	Col       sql.NullInt64
	EndLine   sql.NullInt64
	EndCol    sql.NullInt64
	MetaJSON  sql.NullString
}

// FileKey, SymbolNameKey and ModuleKey build the entity-key namespaces the
// graph's identity relies on: every entity of a given type dedupes by key.
func FileKey(path string) string { return "file:" + path }

func SymbolNameKey(language, name string) string {
	return fmt.Sprintf("symbol_name:%s:%s", language, name)
}

func ModuleKey(language, name string) string {
	return fmt.Sprintf("module:%s:%s", language, name)
}

// EnsureEntity inserts an entity or, if its key already exists, updates it
// while preserving any previously recorded column a nil argument here would
// otherwise clear — the COALESCE upsert that lets a stub entity (created via
// an unresolved reference) be enriched later without losing data recorded
// by another insert in the meantime.
func (s *Store) EnsureEntity(entityType, key, name string, lang, filePath sql.NullString, line, col, endLine, endCol sql.NullInt64, meta map[string]any) (int64, error) {
	metaVal := marshalMeta(meta)
	_, err := s.q.Exec(`
		INSERT INTO entities(entity_type, key, name, lang, file_path, line, col, end_line, end_col, meta_json)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			entity_type=excluded.entity_type,
			name=excluded.name,
			lang=COALESCE(excluded.lang, entities.lang),
			file_path=COALESCE(excluded.file_path, entities.file_path),
			line=COALESCE(excluded.line, entities.line),
			col=COALESCE(excluded.col, entities.col),
			end_line=COALESCE(excluded.end_line, entities.end_line),
			end_col=COALESCE(excluded.end_col, entities.end_col),
			meta_json=COALESCE(excluded.meta_json, entities.meta_json)`,
		entityType, key, name, lang, filePath, line, col, endLine, endCol, metaVal)
	if err != nil {
		return 0, fmt.Errorf("ensure entity %s: %w", key, err)
	}

	var id int64
	if err := s.q.QueryRow("SELECT id FROM entities WHERE key = ?", key).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure entity id %s: %w", key, err)
	}
	return id, nil
}

// EntityByID looks up an entity by its primary key.
func (s *Store) EntityByID(id int64) (*Entity, error) {
	row := s.q.QueryRow(entitySelect+" WHERE id = ?", id)
	return scanEntity(row)
}

// FindEntityByKey looks up an entity by its exact key, or returns nil if none.
func (s *Store) FindEntityByKey(key string) (*Entity, error) {
	row := s.q.QueryRow(entitySelect+" WHERE key = ? LIMIT 1", key)
	return scanEntity(row)
}

// FindEntity resolves a selector against the graph: first as an exact key,
// then as a file-path shorthand (selector treated as a file key), then as a
// bare name, preferring symbols over symbol names over files.
func (s *Store) FindEntity(selector string) (*Entity, error) {
	if e, err := s.FindEntityByKey(selector); err != nil {
		return nil, err
	} else if e != nil {
		return e, nil
	}

	if e, err := s.FindEntityByKey(FileKey(selector)); err != nil {
		return nil, err
	} else if e != nil {
		return e, nil
	}

	row := s.q.QueryRow(entitySelect+`
		WHERE name = ?
		ORDER BY
			CASE entity_type
				WHEN 'symbol' THEN 0
				WHEN 'symbol_name' THEN 1
				WHEN 'file' THEN 2
				ELSE 3
			END,
			file_path, line
		LIMIT 1`, selector)
	return scanEntity(row)
}

// EntitiesByName returns every entity with the given name, optionally
// restricted to one entity_type, ordered by entity-type priority (symbol,
// symbol_name, file, module, other) then file/line — the candidate list
// behind both "symbol:<name>" selector resolution and "auto" selector
// fallback.
func (s *Store) EntitiesByName(name, entityType string) ([]Entity, error) {
	query := entitySelect + " WHERE name = ?"
	args := []any{name}
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, entityType)
	}
	query += `
		ORDER BY
			CASE entity_type
				WHEN 'symbol' THEN 0
				WHEN 'symbol_name' THEN 1
				WHEN 'file' THEN 2
				WHEN 'module' THEN 3
				ELSE 4
			END,
			file_path, line`
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("entities by name %s: %w", name, err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// AnchorSymbolForLine finds the smallest symbol in filePath whose span
// contains line, the anchor resolution minimal_slice uses when a line is
// given.
func (s *Store) AnchorSymbolForLine(filePath string, line int64) (*Entity, error) {
	row := s.q.QueryRow(entitySelect+`
		WHERE entity_type = 'symbol' AND file_path = ? AND line <= ? AND end_line >= ?
		ORDER BY (end_line - line) ASC
		LIMIT 1`, filePath, line, line)
	return scanEntity(row)
}

// classifySpecialFile reports whether path is a recognized config or
// entrypoint file, for the auxiliary "contains" edge recorded during
// indexing — grounded on the manifest/entrypoint name list.
func classifySpecialFile(path string) (entityType string, ok bool) {
	lower := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	for _, suffix := range configSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return "config", true
		}
	}
	for _, suffix := range entrypointSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return "entrypoint", true
		}
	}
	return "", false
}

var configSuffixes = []string{
	"cargo.toml", "pyproject.toml", "setup.cfg", "package.json",
	"go.mod", "pom.xml", "build.gradle", "gemfile", "composer.json",
}

var entrypointSuffixes = []string{
	"/src/main.rs", "/src/lib.rs", "/__main__.py", "/main.go", "/cmd/main.go",
}

const entitySelect = "SELECT id, entity_type, key, name, lang, file_path, line, col, end_line, end_col, meta_json FROM entities"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	err := row.Scan(&e.ID, &e.Type, &e.Key, &e.Name, &e.Lang, &e.FilePath, &e.Line, &e.Col, &e.EndLine, &e.EndCol, &e.MetaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}
