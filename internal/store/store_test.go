package store

import (
	"database/sql"
	"testing"

	"github.com/riverglass/codegraph/internal/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() err = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMemoryCreatesSchema(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() err = %v", err)
	}
	if v != currentSchemaVersion {
		t.Errorf("SchemaVersion() = %q, want %q", v, currentSchemaVersion)
	}
}

func TestEnsureEntityUpsertPreservesNonNullColumns(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.EnsureEntity("module", "module:python:pkg", "pkg", sql.NullString{String: "python", Valid: true},
		sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, map[string]any{"hint": "stub"})
	if err != nil {
		t.Fatalf("EnsureEntity() err = %v", err)
	}

	id2, err := s.EnsureEntity("module", "module:python:pkg", "pkg", sql.NullString{}, sql.NullString{},
		sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
	if err != nil {
		t.Fatalf("EnsureEntity() second call err = %v", err)
	}
	if id1 != id2 {
		t.Fatalf("EnsureEntity() returned different ids for the same key: %d vs %d", id1, id2)
	}

	e, err := s.EntityByID(id1)
	if err != nil {
		t.Fatalf("EntityByID() err = %v", err)
	}
	if !e.Lang.Valid || e.Lang.String != "python" {
		t.Errorf("Lang = %+v, want valid 'python' (nil update must not clear it)", e.Lang)
	}
	if !e.MetaJSON.Valid {
		t.Errorf("MetaJSON was cleared by a nil-meta update")
	}
}

func TestFindEntityBySelectorVariants(t *testing.T) {
	s := newTestStore(t)
	fileVal := sql.NullString{String: "src/lib.rs", Valid: true}
	langVal := sql.NullString{String: "rust", Valid: true}

	fileID, err := s.EnsureEntity("file", FileKey("src/lib.rs"), "src/lib.rs", langVal, fileVal,
		sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
	if err != nil {
		t.Fatalf("EnsureEntity(file) err = %v", err)
	}

	symID, err := s.EnsureEntity("symbol", "symbol:src/lib.rs:run:function_item:1:1", "run", langVal, fileVal,
		intVal(1), intVal(1), intVal(3), intVal(1), map[string]any{"kind": "function_item", "qualname": "run"})
	if err != nil {
		t.Fatalf("EnsureEntity(symbol) err = %v", err)
	}

	byKey, err := s.FindEntity(FileKey("src/lib.rs"))
	if err != nil || byKey == nil || byKey.ID != fileID {
		t.Errorf("FindEntity(file key) = %+v, err %v, want id %d", byKey, err, fileID)
	}

	byPath, err := s.FindEntity("src/lib.rs")
	if err != nil || byPath == nil || byPath.ID != fileID {
		t.Errorf("FindEntity(path) = %+v, err %v, want id %d", byPath, err, fileID)
	}

	byName, err := s.FindEntity("run")
	if err != nil || byName == nil || byName.ID != symID {
		t.Errorf("FindEntity(name) = %+v, err %v, want symbol id %d", byName, err, symID)
	}
}

func TestIndexFileThenSymbolDefinitionsAndReferences(t *testing.T) {
	s := newTestStore(t)

	extraction := &extract.FileExtraction{
		Definitions: []extract.Definition{
			{Name: "run", Qualname: "run", Kind: "function_item", Line: 1, Col: 1, EndLine: 5, EndCol: 1},
		},
		References: []extract.Reference{
			{Name: "helper", Kind: extract.Call, Line: 2, Col: 5, EndLine: 2, EndCol: 11},
		},
		Imports: []extract.Import{
			{Module: "std::fmt", Line: 1, Col: 1},
		},
	}

	outcome := &UpsertOutcome{}
	err := s.IndexFile("src/lib.rs", "rust", "abc123", "fast-abc123", 42, extraction, nil, nil, outcome)
	if err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}
	if outcome.Updated != 1 {
		t.Errorf("outcome.Updated = %d, want 1", outcome.Updated)
	}

	fastHash, tracked, err := s.TrackedFileFastHash("src/lib.rs")
	if err != nil {
		t.Fatalf("TrackedFileFastHash() err = %v", err)
	}
	if !tracked || fastHash != "fast-abc123" {
		t.Errorf("TrackedFileFastHash() = (%q, %v), want (\"fast-abc123\", true)", fastHash, tracked)
	}

	defs, err := s.SymbolDefinitions("run")
	if err != nil {
		t.Fatalf("SymbolDefinitions() err = %v", err)
	}
	if len(defs) != 1 || defs[0].FilePath != "src/lib.rs" || defs[0].Kind != "function_item" {
		t.Fatalf("SymbolDefinitions() = %+v, want one definition in src/lib.rs", defs)
	}

	refs, err := s.SymbolReferences("helper", "calls")
	if err != nil {
		t.Fatalf("SymbolReferences() err = %v", err)
	}
	if len(refs) != 1 || refs[0].EdgeType != "calls" {
		t.Fatalf("SymbolReferences() = %+v, want one call edge", refs)
	}

	hash, tracked, err := s.TrackedFileHash("src/lib.rs")
	if err != nil || !tracked || hash != "abc123" {
		t.Errorf("TrackedFileHash() = (%q, %v), err %v, want (abc123, true)", hash, tracked, err)
	}
}

func TestIndexFileReindexReplacesPriorEdges(t *testing.T) {
	s := newTestStore(t)

	first := &extract.FileExtraction{
		Definitions: []extract.Definition{{Name: "a", Qualname: "a", Kind: "function_item", Line: 1, Col: 1, EndLine: 1, EndCol: 1}},
	}
	outcome := &UpsertOutcome{}
	if err := s.IndexFile("f.rs", "rust", "h1", "", 1, first, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(first) err = %v", err)
	}

	second := &extract.FileExtraction{
		Definitions: []extract.Definition{{Name: "b", Qualname: "b", Kind: "function_item", Line: 1, Col: 1, EndLine: 1, EndCol: 1}},
	}
	if err := s.IndexFile("f.rs", "rust", "h2", "", 1, second, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(second) err = %v", err)
	}

	if defs, err := s.SymbolDefinitions("a"); err != nil || len(defs) != 0 {
		t.Errorf("SymbolDefinitions(a) after reindex = %+v, err %v, want empty", defs, err)
	}
	if defs, err := s.SymbolDefinitions("b"); err != nil || len(defs) != 1 {
		t.Errorf("SymbolDefinitions(b) after reindex = %+v, err %v, want one", defs, err)
	}
}

func TestRemoveFilesCleansUpOrphans(t *testing.T) {
	s := newTestStore(t)
	extraction := &extract.FileExtraction{
		Definitions: []extract.Definition{{Name: "run", Qualname: "run", Kind: "function_item", Line: 1, Col: 1, EndLine: 1, EndCol: 1}},
	}
	outcome := &UpsertOutcome{}
	if err := s.IndexFile("f.rs", "rust", "h1", "", 1, extraction, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}

	if err := s.RemoveFiles([]string{"f.rs"}, outcome); err != nil {
		t.Fatalf("RemoveFiles() err = %v", err)
	}
	if outcome.Removed != 1 {
		t.Errorf("outcome.Removed = %d, want 1", outcome.Removed)
	}

	if e, err := s.FindEntityByKey(FileKey("f.rs")); err != nil || e != nil {
		t.Errorf("FindEntityByKey(file) after removal = %+v, err %v, want nil", e, err)
	}
	if e, err := s.FindEntityByKey(SymbolNameKey("rust", "run")); err != nil || e != nil {
		t.Errorf("orphan symbol_name survived removal: %+v, err %v", e, err)
	}
}

func TestDependencyPathBFS(t *testing.T) {
	s := newTestStore(t)
	langVal := sql.NullString{String: "rust", Valid: true}

	aID, _ := s.EnsureEntity("file", FileKey("a.rs"), "a.rs", langVal, sql.NullString{String: "a.rs", Valid: true},
		sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
	bID, _ := s.EnsureEntity("file", FileKey("b.rs"), "b.rs", langVal, sql.NullString{String: "b.rs", Valid: true},
		sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
	cID, _ := s.EnsureEntity("file", FileKey("c.rs"), "c.rs", langVal, sql.NullString{String: "c.rs", Valid: true},
		sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)

	if err := s.InsertEdge(aID, bID, "depends_on", sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}, nil); err != nil {
		t.Fatalf("InsertEdge(a->b) err = %v", err)
	}
	if err := s.InsertEdge(bID, cID, "depends_on", sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}, nil); err != nil {
		t.Fatalf("InsertEdge(b->c) err = %v", err)
	}

	path, err := s.DependencyPath("a.rs", "c.rs", 5)
	if err != nil {
		t.Fatalf("DependencyPath() err = %v", err)
	}
	if !path.Found || len(path.Hops) != 3 {
		t.Fatalf("DependencyPath() = %+v, want a 3-hop path", path)
	}
	if path.Hops[0].EntityKey != FileKey("a.rs") || path.Hops[2].EntityKey != FileKey("c.rs") {
		t.Errorf("DependencyPath() hops = %+v, want a.rs ... c.rs", path.Hops)
	}

	tooShallow, err := s.DependencyPath("a.rs", "c.rs", 1)
	if err != nil {
		t.Fatalf("DependencyPath(shallow) err = %v", err)
	}
	if tooShallow.Found {
		t.Errorf("DependencyPath(max_depth=1) found a path that needs 2 hops")
	}
}

func TestCloneMatchesSimilarity(t *testing.T) {
	s := newTestStore(t)
	rows := []FingerprintRow{{Hash: 1, SpanStart: 0, SpanEnd: 5}, {Hash: 2, SpanStart: 1, SpanEnd: 6}}
	outcome := &UpsertOutcome{}
	if err := s.IndexFile("a.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(a) err = %v", err)
	}
	if err := s.IndexFile("b.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(b) err = %v", err)
	}

	matches, err := s.CloneMatches("a.py", 0.5)
	if err != nil {
		t.Fatalf("CloneMatches() err = %v", err)
	}
	if len(matches) != 1 || matches[0].OtherFile != "b.py" || matches[0].Similarity != 1.0 {
		t.Fatalf("CloneMatches() = %+v, want one full match on b.py", matches)
	}
}
