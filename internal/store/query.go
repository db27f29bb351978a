package store

import (
	"database/sql"
	"fmt"
)

// SymbolLocation is one definition site of a symbol name.
type SymbolLocation struct {
	SymbolName string
	FilePath   string
	Line       int64
	Col        int64
	Kind       string
	Qualname   string
}

// SymbolDefinitions returns every definition site recorded for symbolName,
// joined through its symbol_name entity's "names" edges.
func (s *Store) SymbolDefinitions(symbolName string) ([]SymbolLocation, error) {
	rows, err := s.q.Query(`
		SELECT s.name, s.file_path, s.line, s.col,
		       json_extract(s.meta_json, '$.kind'),
		       json_extract(s.meta_json, '$.qualname')
		FROM entities sn
		JOIN edges en ON en.dst_entity_id = sn.id AND en.edge_type = 'names'
		JOIN entities s ON s.id = en.src_entity_id AND s.entity_type = 'symbol'
		WHERE sn.entity_type = 'symbol_name' AND sn.name = ?
		ORDER BY s.file_path, s.line`, symbolName)
	if err != nil {
		return nil, fmt.Errorf("symbol definitions %s: %w", symbolName, err)
	}
	defer rows.Close()

	var out []SymbolLocation
	for rows.Next() {
		var loc SymbolLocation
		var filePath, kind, qualname *string
		var line, col *int64
		if err := rows.Scan(&loc.SymbolName, &filePath, &line, &col, &kind, &qualname); err != nil {
			return nil, err
		}
		if filePath != nil {
			loc.FilePath = *filePath
		}
		if line != nil {
			loc.Line = *line
		}
		if col != nil {
			loc.Col = *col
		}
		loc.Kind = "unknown"
		if kind != nil {
			loc.Kind = *kind
		}
		loc.Qualname = symbolName
		if qualname != nil {
			loc.Qualname = *qualname
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// ReferenceLocation is one use site of a symbol name — a reference or a
// call, depending on edgeType. Lang and IndexedAt come from the file the
// use site lives in (empty when the file row is missing, which a clean
// index never produces).
type ReferenceLocation struct {
	SymbolName string
	FilePath   string
	Line       int64
	Col        int64
	EdgeType   string
	Lang       string
	IndexedAt  string
}

// SymbolReferences returns every use site of symbolName, joined with the
// file it occurred in for language/freshness filtering. When
// edgeTypeFilter is non-empty only that edge type is returned (e.g.
// "calls" for callers); otherwise both "references" and "calls" are
// included. Glob/language/recency filtering, dedup, scoring, ordering
// and pagination are layered on top by internal/query.
func (s *Store) SymbolReferences(symbolName, edgeTypeFilter string) ([]ReferenceLocation, error) {
	var rowsSQL string
	var args []any
	if edgeTypeFilter != "" {
		rowsSQL = `
			SELECT sn.name, e.file_path, e.line, e.col, e.edge_type, f.lang, f.indexed_at
			FROM entities sn
			JOIN edges e ON e.dst_entity_id = sn.id
			LEFT JOIN files f ON f.path = e.file_path
			WHERE sn.entity_type = 'symbol_name' AND sn.name = ? AND e.edge_type = ?
			ORDER BY e.file_path, e.line`
		args = []any{symbolName, edgeTypeFilter}
	} else {
		rowsSQL = `
			SELECT sn.name, e.file_path, e.line, e.col, e.edge_type, f.lang, f.indexed_at
			FROM entities sn
			JOIN edges e ON e.dst_entity_id = sn.id
			LEFT JOIN files f ON f.path = e.file_path
			WHERE sn.entity_type = 'symbol_name' AND sn.name = ? AND e.edge_type IN ('references', 'calls')
			ORDER BY e.file_path, e.line`
		args = []any{symbolName}
	}

	rows, err := s.q.Query(rowsSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("symbol references %s: %w", symbolName, err)
	}
	defer rows.Close()

	var out []ReferenceLocation
	for rows.Next() {
		var loc ReferenceLocation
		var filePath, lang, indexedAt *string
		var line, col *int64
		if err := rows.Scan(&loc.SymbolName, &filePath, &line, &col, &loc.EdgeType, &lang, &indexedAt); err != nil {
			return nil, err
		}
		if filePath != nil {
			loc.FilePath = *filePath
		}
		if line != nil {
			loc.Line = *line
		}
		if col != nil {
			loc.Col = *col
		}
		if lang != nil {
			loc.Lang = *lang
		}
		if indexedAt != nil {
			loc.IndexedAt = *indexedAt
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// DefinitionFiles returns the distinct set of files containing a symbol
// definition named symbolName — the file-scoped-boost set D of §4.G's
// reference scoring algorithm.
func (s *Store) DefinitionFiles(symbolName string) (map[string]bool, error) {
	rows, err := s.q.Query(`
		SELECT DISTINCT s.file_path
		FROM entities sn
		JOIN edges en ON en.dst_entity_id = sn.id AND en.edge_type = 'names'
		JOIN entities s ON s.id = en.src_entity_id AND s.entity_type = 'symbol'
		WHERE sn.entity_type = 'symbol_name' AND sn.name = ? AND s.file_path IS NOT NULL`, symbolName)
	if err != nil {
		return nil, fmt.Errorf("definition files %s: %w", symbolName, err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out[path] = true
	}
	return out, rows.Err()
}

// PathHop is one entity along a dependency path.
type PathHop struct {
	EntityKey  string
	EntityName string
	EntityType string
}

// DependencyPath is the result of a BFS search for a path from one
// selector's entity to another.
type DependencyPath struct {
	Found bool
	Hops  []PathHop
}

// DependencyPath runs a breadth-first search over outgoing edges only, from
// the entity fromSelector resolves to, toward toSelector's entity, bounded
// by maxDepth hops. Selector resolution here is the store's own simple
// key-then-file-then-name FindEntity; internal/query's richer selector
// package resolves the full tagged-variant form and calls
// DependencyPathBetween directly with already-resolved entity IDs.
func (s *Store) DependencyPath(fromSelector, toSelector string, maxDepth int) (*DependencyPath, error) {
	from, err := s.FindEntity(fromSelector)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return &DependencyPath{Found: false}, nil
	}
	to, err := s.FindEntity(toSelector)
	if err != nil {
		return nil, err
	}
	if to == nil {
		return &DependencyPath{Found: false}, nil
	}
	return s.DependencyPathBetween(from.ID, to.ID, maxDepth)
}

// DependencyPathBetween runs the same breadth-first search as
// DependencyPath, but starting from already-resolved entity IDs — the
// entry point for callers (internal/query) that resolve selectors
// themselves via the tagged-variant selector package.
func (s *Store) DependencyPathBetween(fromID, toID int64, maxDepth int) (*DependencyPath, error) {
	from, err := s.EntityByID(fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.EntityByID(toID)
	if err != nil {
		return nil, err
	}

	if from.ID == to.ID {
		return &DependencyPath{Found: true, Hops: []PathHop{{EntityKey: from.Key, EntityName: from.Name, EntityType: from.Type}}}, nil
	}

	type queued struct {
		id    int64
		depth int
	}
	queue := []queued{{from.ID, 0}}
	seen := map[int64]bool{from.ID: true}
	prev := map[int64]int64{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		neighbors, err := s.OutgoingNeighbors(cur.id)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if seen[n] {
				continue
			}
			seen[n] = true
			prev[n] = cur.id

			if n == to.ID {
				chain := []int64{to.ID}
				cursor := to.ID
				for {
					parent, ok := prev[cursor]
					if !ok {
						break
					}
					chain = append(chain, parent)
					if parent == from.ID {
						break
					}
					cursor = parent
				}
				for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
					chain[i], chain[j] = chain[j], chain[i]
				}

				hops := make([]PathHop, 0, len(chain))
				for _, id := range chain {
					e, err := s.EntityByID(id)
					if err != nil {
						return nil, err
					}
					hops = append(hops, PathHop{EntityKey: e.Key, EntityName: e.Name, EntityType: e.Type})
				}
				return &DependencyPath{Found: true, Hops: hops}, nil
			}
			queue = append(queue, queued{n, cur.depth + 1})
		}
	}

	return &DependencyPath{Found: false}, nil
}

// SliceResult is a bounded neighborhood around an anchor entity.
type SliceResult struct {
	Anchor    Entity
	Neighbors []RelatedEdge
}

// MinimalSlice resolves an anchor — the smallest symbol containing line if
// given, else the file itself — then expands its neighborhood breadth-first
// for depth rounds, collecting every edge touched along the way.
func (s *Store) MinimalSlice(filePath string, line *int64, depth int) (*SliceResult, error) {
	var anchor *Entity
	var err error
	if line != nil {
		anchor, err = s.AnchorSymbolForLine(filePath, *line)
		if err != nil {
			return nil, err
		}
		if anchor == nil {
			anchor, err = s.FindEntityByKey(FileKey(filePath))
			if err != nil {
				return nil, err
			}
		}
	} else {
		anchor, err = s.FindEntityByKey(FileKey(filePath))
		if err != nil {
			return nil, err
		}
	}
	if anchor == nil {
		return nil, nil
	}

	if depth < 1 {
		depth = 1
	}

	var neighbors []RelatedEdge
	frontier := []int64{anchor.ID}
	seen := map[int64]bool{anchor.ID: true}

	for i := 0; i < depth; i++ {
		var next []int64
		for _, nodeID := range frontier {
			related, err := s.NeighborEdges(nodeID)
			if err != nil {
				return nil, err
			}
			for _, r := range related {
				if !seen[r.Entity.ID] {
					seen[r.Entity.ID] = true
					next = append(next, r.Entity.ID)
				}
				neighbors = append(neighbors, r)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	return &SliceResult{Anchor: *anchor, Neighbors: neighbors}, nil
}

// CloneMatch is another file sharing winnowed fingerprints with the queried
// file, above the requested similarity threshold.
type CloneMatch struct {
	OtherFile          string
	SharedFingerprints int64
	Similarity         float64
}

// SelfFingerprintCount returns the number of distinct fingerprint hashes
// recorded for filePath, used both by CloneSimilarities and directly by
// the clone-matches analysis block.
func (s *Store) SelfFingerprintCount(filePath string) (int64, error) {
	var count int64
	err := s.q.QueryRow("SELECT COUNT(DISTINCT fp_hash) FROM fingerprints WHERE file_path = ?", filePath).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("self fingerprint count: %w", err)
	}
	return count, nil
}

// CloneSimilarities returns every other file sharing at least one
// fingerprint with filePath, with its similarity score, unfiltered by any
// threshold — the full candidate set the clone-matches analysis block and
// clone-hotspots bucketing are computed from.
func (s *Store) CloneSimilarities(filePath string) ([]CloneMatch, error) {
	selfCount, err := s.SelfFingerprintCount(filePath)
	if err != nil {
		return nil, err
	}
	if selfCount == 0 {
		return nil, nil
	}

	sharedRows, err := s.q.Query(`
		SELECT f2.file_path, COUNT(DISTINCT f1.fp_hash) AS shared_count
		FROM fingerprints f1
		JOIN fingerprints f2 ON f1.fp_hash = f2.fp_hash
		WHERE f1.file_path = ? AND f2.file_path != ?
		GROUP BY f2.file_path
		ORDER BY shared_count DESC`, filePath, filePath)
	if err != nil {
		return nil, fmt.Errorf("clone matches shared: %w", err)
	}
	defer sharedRows.Close()

	type sharedRow struct {
		otherFile string
		shared    int64
	}
	var shared []sharedRow
	for sharedRows.Next() {
		var r sharedRow
		if err := sharedRows.Scan(&r.otherFile, &r.shared); err != nil {
			return nil, err
		}
		shared = append(shared, r)
	}
	if err := sharedRows.Err(); err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	totalRows, err := s.q.Query("SELECT file_path, COUNT(DISTINCT fp_hash) FROM fingerprints GROUP BY file_path")
	if err != nil {
		return nil, fmt.Errorf("clone matches totals: %w", err)
	}
	defer totalRows.Close()
	for totalRows.Next() {
		var path string
		var cnt int64
		if err := totalRows.Scan(&path, &cnt); err != nil {
			return nil, err
		}
		totals[path] = cnt
	}
	if err := totalRows.Err(); err != nil {
		return nil, err
	}

	var out []CloneMatch
	for _, r := range shared {
		otherTotal, ok := totals[r.otherFile]
		if !ok {
			otherTotal = 1
		}
		denom := selfCount
		if otherTotal > denom {
			denom = otherTotal
		}
		similarity := float64(r.shared) / float64(denom)
		out = append(out, CloneMatch{OtherFile: r.otherFile, SharedFingerprints: r.shared, Similarity: similarity})
	}
	return out, nil
}

// CloneMatches returns CloneSimilarities filtered to similarity ≥
// minSimilarity — the plain, unpaginated query the store layer exposes
// directly; internal/query builds the full scored/paginated/analysis
// response on top of CloneSimilarities instead.
func (s *Store) CloneMatches(filePath string, minSimilarity float64) ([]CloneMatch, error) {
	all, err := s.CloneSimilarities(filePath)
	if err != nil {
		return nil, err
	}
	var out []CloneMatch
	for _, m := range all {
		if m.Similarity >= minSimilarity {
			out = append(out, m)
		}
	}
	return out, nil
}

// FileCount returns the number of files currently tracked.
func (s *Store) FileCount() (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM files").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("file count: %w", err)
	}
	return count, nil
}

// LatestIndexedAt returns the most recent files.indexed_at timestamp, or
// ("", false) if no file has ever been indexed.
func (s *Store) LatestIndexedAt() (string, bool, error) {
	var latest sql.NullString
	err := s.q.QueryRow("SELECT MAX(indexed_at) FROM files").Scan(&latest)
	if err != nil {
		return "", false, fmt.Errorf("latest indexed_at: %w", err)
	}
	if !latest.Valid {
		return "", false, nil
	}
	return latest.String, true, nil
}

// DiscoverByTokens runs selector_discover's first-pass narrowing fetch: an
// entity_type/file_glob-scoped search requiring every token to appear
// (case-insensitively) somewhere across name/key/file_path, up to limit
// rows, ordered by entity-type priority then key.
func (s *Store) DiscoverByTokens(tokens []string, entityType, fileGlob string, limit int) ([]Entity, error) {
	query := entitySelect + " WHERE 1=1"
	var args []any
	for _, tok := range tokens {
		like := "%" + tok + "%"
		query += " AND (lower(name) LIKE lower(?) OR lower(key) LIKE lower(?) OR lower(COALESCE(file_path, '')) LIKE lower(?))"
		args = append(args, like, like, like)
	}
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, entityType)
	}
	if fileGlob != "" {
		query += " AND (file_path IS NULL OR file_path GLOB ?)"
		args = append(args, fileGlob)
	}
	query += entityTypeOrderClause + " LIMIT ?"
	args = append(args, limit)

	return queryEntities(s.q, query, args...)
}

// DiscoverScope runs selector_discover's widened fallback fetch: every
// entity matching only entity_type/file_glob, with no token filter at all.
func (s *Store) DiscoverScope(entityType, fileGlob string, limit int) ([]Entity, error) {
	query := entitySelect + " WHERE 1=1"
	var args []any
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, entityType)
	}
	if fileGlob != "" {
		query += " AND (file_path IS NULL OR file_path GLOB ?)"
		args = append(args, fileGlob)
	}
	query += entityTypeOrderClause + " LIMIT ?"
	args = append(args, limit)

	return queryEntities(s.q, query, args...)
}

const entityTypeOrderClause = `
	ORDER BY
		CASE entity_type
			WHEN 'symbol' THEN 0
			WHEN 'symbol_name' THEN 1
			WHEN 'file' THEN 2
			WHEN 'module' THEN 3
			ELSE 4
		END,
		key`

func queryEntities(q Querier, query string, args ...any) ([]Entity, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("discover candidates: %w", err)
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
