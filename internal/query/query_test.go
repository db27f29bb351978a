package query

import (
	"database/sql"
	"testing"

	"github.com/riverglass/codegraph/internal/extract"
	"github.com/riverglass/codegraph/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() err = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestReferencesScoresDedupsOrdersAndPaginates(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}

	def := &extract.FileExtraction{
		Definitions: []extract.Definition{
			{Name: "target", Qualname: "target", Kind: "function_item", Line: 1, Col: 1, EndLine: 3, EndCol: 1},
		},
	}
	if err := s.IndexFile("src/def.rs", "rust", "h1", "", 1, def, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(def) err = %v", err)
	}

	caller := &extract.FileExtraction{
		References: []extract.Reference{
			{Name: "target", Kind: extract.Call, Line: 10, Col: 2, EndLine: 10, EndCol: 8},
			{Name: "target", Kind: extract.Ref, Line: 20, Col: 3, EndLine: 20, EndCol: 9},
		},
	}
	if err := s.IndexFile("src/caller.rs", "rust", "h2", "", 1, caller, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(caller) err = %v", err)
	}

	// A reference from inside the definition's own file should score higher
	// (definition_file_boost) even though it's a plain reference, not a call.
	inDef := &extract.FileExtraction{
		Definitions: def.Definitions,
		References: []extract.Reference{
			{Name: "target", Kind: extract.Ref, Line: 2, Col: 4, EndLine: 2, EndCol: 10},
		},
	}
	if err := s.IndexFile("src/def.rs", "rust", "h3", "", 1, inDef, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(def+ref) err = %v", err)
	}

	res, err := e.References("target", DefaultReferencesOptions())
	if err != nil {
		t.Fatalf("References() err = %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("References() total = %d, want 3 (call, reference in caller, reference in def)", res.Total)
	}
	// Highest score: the call (2.0) beats the in-def reference (1.0+0.35=1.35)
	// beats the plain out-of-def reference (1.0).
	if res.Rows[0].EdgeType != "calls" {
		t.Errorf("Rows[0] = %+v, want the call ranked first", res.Rows[0])
	}
	if res.Rows[1].FilePath != "src/def.rs" {
		t.Errorf("Rows[1] = %+v, want the definition-file reference boosted above the caller reference", res.Rows[1])
	}

	lineAsc := DefaultReferencesOptions()
	lineAsc.Order = "line_asc"
	byLine, err := e.References("target", lineAsc)
	if err != nil {
		t.Fatalf("References(line_asc) err = %v", err)
	}
	if byLine.Rows[0].Line != 10 || byLine.Rows[1].Line != 20 || byLine.Rows[2].Line != 2 {
		t.Fatalf("References(line_asc) rows = %+v, want ascending by file, then line", byLine.Rows)
	}

	paged := DefaultReferencesOptions()
	paged.Limit = 1
	page, err := e.References("target", paged)
	if err != nil {
		t.Fatalf("References(limit=1) err = %v", err)
	}
	if page.Returned != 1 || !page.HasMore || page.NextOffset != 1 {
		t.Fatalf("References(limit=1) = %+v, want one row and has_more", page)
	}
}

func TestReferencesFileGlobFilter(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}

	rustFile := &extract.FileExtraction{
		References: []extract.Reference{{Name: "helper", Kind: extract.Call, Line: 1, Col: 1, EndLine: 1, EndCol: 7}},
	}
	if err := s.IndexFile("src/a.rs", "rust", "h1", "", 1, rustFile, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(a.rs) err = %v", err)
	}
	pyFile := &extract.FileExtraction{
		References: []extract.Reference{{Name: "helper", Kind: extract.Call, Line: 1, Col: 1, EndLine: 1, EndCol: 7}},
	}
	if err := s.IndexFile("src/b.py", "python", "h2", "", 1, pyFile, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile(b.py) err = %v", err)
	}

	opts := DefaultReferencesOptions()
	opts.FileGlob = "src/*.rs"
	res, err := e.References("helper", opts)
	if err != nil {
		t.Fatalf("References(glob) err = %v", err)
	}
	if res.Total != 1 || res.Rows[0].FilePath != "src/a.rs" {
		t.Fatalf("References(glob=src/*.rs) = %+v, want only src/a.rs", res.Rows)
	}
}

func TestCallersOnlyReturnsCallEdges(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}
	mixed := &extract.FileExtraction{
		References: []extract.Reference{
			{Name: "helper", Kind: extract.Call, Line: 1, Col: 1, EndLine: 1, EndCol: 7},
			{Name: "helper", Kind: extract.Ref, Line: 2, Col: 1, EndLine: 2, EndCol: 7},
		},
	}
	if err := s.IndexFile("src/a.rs", "rust", "h1", "", 1, mixed, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}

	res, err := e.Callers("helper", DefaultReferencesOptions())
	if err != nil {
		t.Fatalf("Callers() err = %v", err)
	}
	if res.Total != 1 || res.Rows[0].EdgeType != "calls" {
		t.Fatalf("Callers() = %+v, want exactly one call edge", res.Rows)
	}
}

func TestDependencyPathDiagnosticsOnBothSides(t *testing.T) {
	e, s := newTestEngine(t)

	aID, err := s.EnsureEntity("file", store.FileKey("a.rs"), "a.rs", nullLang("rust"), nullFile("a.rs"),
		nullInt(), nullInt(), nullInt(), nullInt(), nil)
	if err != nil {
		t.Fatalf("EnsureEntity(a) err = %v", err)
	}
	bID, err := s.EnsureEntity("file", store.FileKey("b.rs"), "b.rs", nullLang("rust"), nullFile("b.rs"),
		nullInt(), nullInt(), nullInt(), nullInt(), nil)
	if err != nil {
		t.Fatalf("EnsureEntity(b) err = %v", err)
	}
	if err := s.InsertEdge(aID, bID, "depends_on", nullString(), nullInt(), nullInt(), nil); err != nil {
		t.Fatalf("InsertEdge() err = %v", err)
	}

	res, err := e.DependencyPath("file:a.rs", "file:b.rs", 5)
	if err != nil {
		t.Fatalf("DependencyPath() err = %v", err)
	}
	if !res.Found || len(res.Hops) != 2 {
		t.Fatalf("DependencyPath() = %+v, want a 2-hop path", res)
	}
	if res.From.ParsedAs != "file" || res.From.SelectedKey != "file:a.rs" {
		t.Errorf("From diagnostic = %+v, want parsed_as=file selected_key=file:a.rs", res.From)
	}
	if res.To.Matched != 1 {
		t.Errorf("To diagnostic = %+v, want matched=1", res.To)
	}

	missing, err := e.DependencyPath("file:a.rs", "file:does-not-exist.rs", 5)
	if err != nil {
		t.Fatalf("DependencyPath(missing) err = %v", err)
	}
	if missing.Found {
		t.Fatalf("DependencyPath(missing) = %+v, want found=false", missing)
	}
	if missing.To.Matched != 0 || missing.To.SelectedKey != "" {
		t.Errorf("To diagnostic for unresolved selector = %+v, want zero matches", missing.To)
	}
}

func TestSliceScoresByEdgeDirectionAndDepth(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}

	extraction := &extract.FileExtraction{
		Definitions: []extract.Definition{
			{Name: "run", Qualname: "run", Kind: "function_item", Line: 1, Col: 1, EndLine: 5, EndCol: 1},
		},
		References: []extract.Reference{
			{Name: "helper", Kind: extract.Call, Line: 2, Col: 1, EndLine: 2, EndCol: 7},
		},
	}
	if err := s.IndexFile("src/lib.rs", "rust", "h1", "", 1, extraction, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}

	// Line 20 falls outside every symbol's span, so the anchor falls back to
	// the file entity itself — whose neighbors include the outgoing
	// "defines" edge to run and the outgoing "calls" edge to helper.
	line := int64(20)
	opts := DefaultSliceOptions()
	opts.Line = &line
	res, err := e.Slice("src/lib.rs", opts)
	if err != nil {
		t.Fatalf("Slice() err = %v", err)
	}
	if res == nil {
		t.Fatal("Slice() = nil, want an anchored result")
	}
	if res.Anchor.Name != "src/lib.rs" {
		t.Fatalf("Slice() anchor = %+v, want the file entity", res.Anchor)
	}

	var sawCallsOutgoing bool
	for _, n := range res.Neighbors {
		if n.EdgeType == "calls" && n.Direction == "outgoing" {
			sawCallsOutgoing = true
			want := edgeWeight["calls"] + 0.2 + 0.35 // outgoing, project-local name
			if n.Score < want-0.01 || n.Score > want+0.01 {
				t.Errorf("outgoing calls score = %v, want ~%v", n.Score, want)
			}
		}
	}
	if !sawCallsOutgoing {
		t.Fatalf("Slice() neighbors = %+v, want an outgoing calls edge to the helper symbol_name", res.Neighbors)
	}
}

func TestSliceSuppressesLowSignalNameRepeats(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}

	var refs []extract.Reference
	for i := 0; i < 50; i++ {
		refs = append(refs, extract.Reference{Name: "Ok", Kind: extract.Ref, Line: i + 1, Col: 1, EndLine: i + 1, EndCol: 3})
	}
	extraction := &extract.FileExtraction{References: refs}
	if err := s.IndexFile("src/lib.rs", "rust", "h1", "", 1, extraction, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}

	opts := DefaultSliceOptions()
	opts.MaxNeighbors = 100
	opts.Dedup = false
	res, err := e.Slice("src/lib.rs", opts)
	if err != nil {
		t.Fatalf("Slice() err = %v", err)
	}
	if res == nil {
		t.Fatal("Slice() = nil, want a file-anchored result")
	}
	okNeighbors := 0
	for _, n := range res.Neighbors {
		if n.Entity.Type == "symbol_name" && n.Entity.Name == "Ok" {
			okNeighbors++
		}
	}
	if okNeighbors != opts.LowSignalNameCap {
		t.Fatalf("Slice() Ok neighbors = %d, want low_signal_name_cap=%d after suppression", okNeighbors, opts.LowSignalNameCap)
	}
}

func TestCloneMatchesAnalysisBlock(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}
	rows := []store.FingerprintRow{{Hash: 1, SpanStart: 0, SpanEnd: 5}, {Hash: 2, SpanStart: 1, SpanEnd: 6}}

	if err := s.IndexFile("a.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(a) err = %v", err)
	}
	if err := s.IndexFile("b.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(b) err = %v", err)
	}

	res, err := e.CloneMatches("a.py", DefaultCloneOptions())
	if err != nil {
		t.Fatalf("CloneMatches() err = %v", err)
	}
	if res.Total != 1 || res.Rows[0].OtherFile != "b.py" {
		t.Fatalf("CloneMatches() = %+v, want one match on b.py", res)
	}
	if res.Analysis.SelfFingerprintCount != 2 || res.Analysis.CandidateFiles != 1 {
		t.Fatalf("CloneMatches() analysis = %+v, want self=2 candidates=1", res.Analysis)
	}
	if res.Analysis.MaxCandidateSimilarity != 1.0 {
		t.Errorf("analysis.MaxCandidateSimilarity = %v, want 1.0", res.Analysis.MaxCandidateSimilarity)
	}

	strict := DefaultCloneOptions()
	strict.MinSimilarity = 1.1
	empty, err := e.CloneMatches("a.py", strict)
	if err != nil {
		t.Fatalf("CloneMatches(strict) err = %v", err)
	}
	if empty.Total != 0 || empty.Analysis.EmptyReason != "all filtered by threshold" {
		t.Fatalf("CloneMatches(strict) = %+v, want all filtered by threshold", empty)
	}
}

func TestCloneHotspotsBucketsByDirectory(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}
	rows := []store.FingerprintRow{{Hash: 1, SpanStart: 0, SpanEnd: 5}}

	if err := s.IndexFile("src/a.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(a) err = %v", err)
	}
	if err := s.IndexFile("vendor/b.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(b) err = %v", err)
	}
	if err := s.IndexFile("vendor/c.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(c) err = %v", err)
	}
	if err := s.IndexFile("other/d.py", "python", "h", "", 1, &extract.FileExtraction{}, rows, nil, outcome); err != nil {
		t.Fatalf("IndexFile(d) err = %v", err)
	}

	res, err := e.CloneHotspots("src/a.py", DefaultCloneOptions())
	if err != nil {
		t.Fatalf("CloneHotspots() err = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("CloneHotspots() total = %d, want 2 buckets (vendor, other)", res.Total)
	}
	if res.Buckets[0].Directory != "vendor" || res.Buckets[0].Files != 2 {
		t.Fatalf("CloneHotspots() top bucket = %+v, want vendor with 2 files ranked first (same avg similarity, higher count)", res.Buckets[0])
	}
}

func TestSelectorDiscoverRanksExactOverFuzzy(t *testing.T) {
	e, s := newTestEngine(t)
	if _, err := s.EnsureEntity("symbol_name", store.SymbolNameKey("rust", "run"), "run",
		nullLang("rust"), nullString(), nullInt(), nullInt(), nullInt(), nullInt(), nil); err != nil {
		t.Fatalf("EnsureEntity(run) err = %v", err)
	}
	if _, err := s.EnsureEntity("symbol_name", store.SymbolNameKey("rust", "runner"), "runner",
		nullLang("rust"), nullString(), nullInt(), nullInt(), nullInt(), nullInt(), nil); err != nil {
		t.Fatalf("EnsureEntity(runner) err = %v", err)
	}

	opts := DefaultDiscoverOptions()
	opts.Query = "run"
	rows, err := e.SelectorDiscover(opts)
	if err != nil {
		t.Fatalf("SelectorDiscover() err = %v", err)
	}
	if len(rows) < 2 {
		t.Fatalf("SelectorDiscover() = %+v, want both run and runner", rows)
	}
	if rows[0].Entity.Name != "run" {
		t.Fatalf("SelectorDiscover() top row = %+v, want exact match 'run' ranked first", rows[0])
	}
}

func TestFreshnessInfoFlagsStaleIndex(t *testing.T) {
	e, s := newTestEngine(t)
	outcome := &store.UpsertOutcome{}
	if err := s.IndexFile("a.rs", "rust", "h", "", 1, &extract.FileExtraction{}, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}

	info, err := e.FreshnessInfo(0)
	if err != nil {
		t.Fatalf("FreshnessInfo() err = %v", err)
	}
	if info.FileCount != 1 {
		t.Errorf("FreshnessInfo().FileCount = %d, want 1", info.FileCount)
	}
	if !info.IsStale {
		t.Errorf("FreshnessInfo(stale_hours=0) IsStale = false, want true (just-indexed file exceeds a zero-hour window)")
	}

	warning, stale, err := e.IndexWarning(0)
	if err != nil {
		t.Fatalf("IndexWarning() err = %v", err)
	}
	if !stale || warning == "" {
		t.Errorf("IndexWarning(0) = (%q, %v), want a non-empty stale warning", warning, stale)
	}
}

func TestIndexWarningOnEmptyIndex(t *testing.T) {
	e, _ := newTestEngine(t)
	warning, stale, err := e.IndexWarning(24)
	if err != nil {
		t.Fatalf("IndexWarning() err = %v", err)
	}
	if !stale || warning != "index is empty" {
		t.Errorf("IndexWarning() on empty store = (%q, %v), want (\"index is empty\", true)", warning, stale)
	}
}

func nullLang(v string) sql.NullString {
	return sql.NullString{String: v, Valid: true}
}

func nullFile(v string) sql.NullString {
	return sql.NullString{String: v, Valid: true}
}

func nullString() sql.NullString {
	return sql.NullString{}
}

func nullInt() sql.NullInt64 {
	return sql.NullInt64{}
}
