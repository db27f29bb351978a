package store

import (
	"database/sql"
	"fmt"
)

// Edge is a directed, typed relationship between two entities — defines,
// names, references, calls, imports, resolves_to, depends_on, contains.
type Edge struct {
	ID          int64
	SrcEntityID int64
	DstEntityID int64
	Type        string
	FilePath    sql.NullString
	Line        sql.NullInt64
	Col         sql.NullInt64
	MetaJSON    sql.NullString
}

// InsertEdge inserts an edge. Edges are not deduped by (src, dst, type): the
// per-file upsert transaction always deletes a file's prior edges before
// reinserting, so duplicates would only arise from a caller bypassing that
// transaction.
func (s *Store) InsertEdge(srcID, dstID int64, edgeType string, filePath sql.NullString, line, col sql.NullInt64, meta map[string]any) error {
	_, err := s.q.Exec(`
		INSERT INTO edges(src_entity_id, dst_entity_id, edge_type, file_path, line, col, meta_json)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		srcID, dstID, edgeType, filePath, line, col, marshalMeta(meta))
	if err != nil {
		return fmt.Errorf("insert edge %s: %w", edgeType, err)
	}
	return nil
}

// OutgoingNeighbors returns the destination entity ids of every edge leaving
// entityID, for BFS traversal (dependency_path).
func (s *Store) OutgoingNeighbors(entityID int64) ([]int64, error) {
	rows, err := s.q.Query("SELECT dst_entity_id FROM edges WHERE src_entity_id = ?", entityID)
	if err != nil {
		return nil, fmt.Errorf("outgoing neighbors: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RelatedEdge pairs an edge's direction and type with the entity on its
// other end, for the bounded-neighborhood slice.
type RelatedEdge struct {
	EdgeType  string
	Direction string // "outgoing" or "incoming"
	Entity    Entity
}

// NeighborEdges returns every edge touching entityID in either direction,
// joined with the entity on the other end.
func (s *Store) NeighborEdges(entityID int64) ([]RelatedEdge, error) {
	var out []RelatedEdge

	outRows, err := s.q.Query(`
		SELECT e.edge_type,
		       dst.id, dst.entity_type, dst.key, dst.name, dst.lang, dst.file_path,
		       dst.line, dst.col, dst.end_line, dst.end_col, dst.meta_json
		FROM edges e
		JOIN entities dst ON dst.id = e.dst_entity_id
		WHERE e.src_entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("neighbor edges outgoing: %w", err)
	}
	for outRows.Next() {
		var edgeType string
		var e Entity
		if err := outRows.Scan(&edgeType, &e.ID, &e.Type, &e.Key, &e.Name, &e.Lang, &e.FilePath,
			&e.Line, &e.Col, &e.EndLine, &e.EndCol, &e.MetaJSON); err != nil {
			outRows.Close()
			return nil, err
		}
		out = append(out, RelatedEdge{EdgeType: edgeType, Direction: "outgoing", Entity: e})
	}
	if err := outRows.Err(); err != nil {
		outRows.Close()
		return nil, err
	}
	outRows.Close()

	inRows, err := s.q.Query(`
		SELECT e.edge_type,
		       src.id, src.entity_type, src.key, src.name, src.lang, src.file_path,
		       src.line, src.col, src.end_line, src.end_col, src.meta_json
		FROM edges e
		JOIN entities src ON src.id = e.src_entity_id
		WHERE e.dst_entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("neighbor edges incoming: %w", err)
	}
	defer inRows.Close()
	for inRows.Next() {
		var edgeType string
		var e Entity
		if err := inRows.Scan(&edgeType, &e.ID, &e.Type, &e.Key, &e.Name, &e.Lang, &e.FilePath,
			&e.Line, &e.Col, &e.EndLine, &e.EndCol, &e.MetaJSON); err != nil {
			return nil, err
		}
		out = append(out, RelatedEdge{EdgeType: edgeType, Direction: "incoming", Entity: e})
	}
	return out, inRows.Err()
}
