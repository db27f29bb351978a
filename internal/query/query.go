// Package query implements the scoring, filtering, pagination and
// selector-resolution layer on top of internal/store's raw graph queries —
// the query engine operations of §4.G. The store layer answers "which
// rows satisfy this join"; this package answers "which rows does the
// caller actually want, in what order, with what score and why".
package query

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/riverglass/codegraph/internal/selector"
	"github.com/riverglass/codegraph/internal/store"
)

// Engine answers query-engine operations against one graph store.
type Engine struct {
	store *store.Store
}

// New wraps s in a query Engine.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// SymbolDefinitions returns every definition site recorded for name.
func (e *Engine) SymbolDefinitions(name string) ([]store.SymbolLocation, error) {
	return e.store.SymbolDefinitions(name)
}

// edgeWeight gives the base score contribution of a slice neighbor's edge
// type, before direction/depth/name adjustments.
var edgeWeight = map[string]float64{
	"calls":      2.5,
	"depends_on": 2.2,
	"imports":    2.0,
	"defines":    1.8,
	"references": 1.2,
	"names":      0.8,
	"contains":   0.6,
}

const defaultEdgeWeight = 1.0

// lowSignalNames dominate identifier traffic and are penalized in slice
// scoring and capped by suppress_low_signal_repeats.
var lowSignalNames = map[string]bool{
	"Ok": true, "Err": true, "Some": true, "None": true, "Result": true,
	"Option": true, "String": true, "Vec": true, "Box": true, "Self": true,
	"self": true,
}

// commonStdlibNames are excluded from "project-local" even though they
// aren't low-signal — generic container/primitive type names too common
// to be a useful project-local boost signal.
var commonStdlibNames = map[string]bool{
	"string": true, "str": true, "vec": true, "box": true, "result": true,
	"option": true, "path": true, "pathbuf": true, "hashmap": true,
	"hashset": true, "usize": true, "u64": true, "i64": true, "bool": true,
}

func isLowSignal(name string) bool {
	return lowSignalNames[name]
}

func isProjectLocal(name string) bool {
	if isLowSignal(name) || len(name) <= 2 {
		return false
	}
	return !commonStdlibNames[strings.ToLower(name)]
}

// ---- References / callers ----------------------------------------------

// ReferencesOptions controls symbol_references / symbol_callers filtering,
// scoring, ordering and pagination.
type ReferencesOptions struct {
	EdgeTypeFilter string // "" (references+calls), "references", or "calls"
	FileGlob       string
	Language       string
	MaxAgeHours    int
	Limit          int
	Offset         int
	Dedup          bool
	Order          string // score_desc (default), line_asc, line_desc
}

// DefaultReferencesOptions returns the option defaults named in §4.G.
func DefaultReferencesOptions() ReferencesOptions {
	return ReferencesOptions{Limit: 200, Dedup: true, Order: "score_desc"}
}

// ReferenceRow is one scored, filtered use site.
type ReferenceRow struct {
	SymbolName string
	FilePath   string
	Line       int64
	Col        int64
	EdgeType   string
	Score      float64
	Why        string
}

// ReferencesResult is a scored, paginated page of reference rows.
type ReferencesResult struct {
	Rows       []ReferenceRow
	Total      int
	Offset     int
	Limit      int
	Returned   int
	HasMore    bool
	NextOffset int
}

// References implements the reference/caller lookup algorithm of §4.G:
// filter by glob/language/recency, dedup, score against the definition-file
// set, sort by the requested order, and paginate.
func (e *Engine) References(symbolName string, opts ReferencesOptions) (*ReferencesResult, error) {
	rows, err := e.store.SymbolReferences(symbolName, opts.EdgeTypeFilter)
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	hasCutoff := opts.MaxAgeHours > 0
	if hasCutoff {
		cutoff = time.Now().UTC().Add(-time.Duration(opts.MaxAgeHours) * time.Hour)
	}

	filtered := make([]store.ReferenceLocation, 0, len(rows))
	for _, r := range rows {
		if opts.FileGlob != "" {
			ok, err := path.Match(opts.FileGlob, r.FilePath)
			if err != nil || !ok {
				continue
			}
		}
		if opts.Language != "" && r.Lang != opts.Language {
			continue
		}
		if hasCutoff {
			ts, err := time.Parse(time.RFC3339, r.IndexedAt)
			if err != nil || ts.Before(cutoff) {
				continue
			}
		}
		filtered = append(filtered, r)
	}

	if opts.Dedup {
		filtered = dedupReferences(filtered)
	}

	defFiles, err := e.store.DefinitionFiles(symbolName)
	if err != nil {
		return nil, err
	}

	scored := make([]ReferenceRow, len(filtered))
	for i, r := range filtered {
		score := 1.0
		why := []string{"edge_type=" + r.EdgeType}
		if r.EdgeType == "calls" {
			score = 2.0
		}
		if defFiles[r.FilePath] {
			score += 0.35
			why = append(why, "definition_file_boost")
		}
		scored[i] = ReferenceRow{
			SymbolName: r.SymbolName, FilePath: r.FilePath, Line: r.Line, Col: r.Col,
			EdgeType: r.EdgeType, Score: score, Why: strings.Join(why, ", "),
		}
	}

	order := opts.Order
	if order == "" {
		order = "score_desc"
	}
	sortReferenceRows(scored, order)

	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}
	return paginateReferences(scored, opts.Offset, limit), nil
}

// Callers is References with edge_type_filter forced to "calls".
func (e *Engine) Callers(symbolName string, opts ReferencesOptions) (*ReferencesResult, error) {
	opts.EdgeTypeFilter = "calls"
	return e.References(symbolName, opts)
}

func dedupReferences(rows []store.ReferenceLocation) []store.ReferenceLocation {
	seen := make(map[string]bool, len(rows))
	out := make([]store.ReferenceLocation, 0, len(rows))
	for _, r := range rows {
		key := fmt.Sprintf("%s|%d|%d|%s", r.FilePath, r.Line, r.Col, r.EdgeType)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func sortReferenceRows(rows []ReferenceRow, order string) {
	switch order {
	case "line_asc":
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].FilePath != rows[j].FilePath {
				return rows[i].FilePath < rows[j].FilePath
			}
			if rows[i].Line != rows[j].Line {
				return rows[i].Line < rows[j].Line
			}
			return rows[i].Col < rows[j].Col
		})
	case "line_desc":
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].FilePath != rows[j].FilePath {
				return rows[i].FilePath > rows[j].FilePath
			}
			if rows[i].Line != rows[j].Line {
				return rows[i].Line > rows[j].Line
			}
			return rows[i].Col > rows[j].Col
		})
	default: // score_desc
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Score != rows[j].Score {
				return rows[i].Score > rows[j].Score
			}
			if rows[i].FilePath != rows[j].FilePath {
				return rows[i].FilePath < rows[j].FilePath
			}
			if rows[i].Line != rows[j].Line {
				return rows[i].Line < rows[j].Line
			}
			return rows[i].Col < rows[j].Col
		})
	}
}

func paginateReferences(rows []ReferenceRow, offset, limit int) *ReferencesResult {
	total := len(rows)
	start := clamp(offset, 0, total)
	end := clamp(start+limit, 0, total)
	page := rows[start:end]
	res := &ReferencesResult{
		Rows: page, Total: total, Offset: start, Limit: limit, Returned: len(page),
	}
	if end < total {
		res.HasMore = true
		res.NextOffset = end
	}
	return res
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---- Dependency path -----------------------------------------------------

// SideDiagnostic reports how one side of a dependency_path call resolved.
type SideDiagnostic struct {
	ParsedAs    string
	Matched     int
	SelectedKey string
}

// DependencyPathResult is the dependency-path response, with per-side
// selector diagnostics attached.
type DependencyPathResult struct {
	Found bool
	Hops  []store.PathHop
	From  SideDiagnostic
	To    SideDiagnostic
}

// DependencyPath resolves both selectors through the full tagged-variant
// selector package, then runs the bounded BFS between whatever each side
// resolved to. A selector that resolves to nothing yields found=false with
// its diagnostic populated (matched=0), matching §4.G's "if either fails,
// return {found: false, hops: []}".
func (e *Engine) DependencyPath(fromSelector, toSelector string, maxDepth int) (*DependencyPathResult, error) {
	if maxDepth <= 0 {
		maxDepth = 8
	}

	fromRes, err := selector.Resolve(e.store, fromSelector)
	if err != nil {
		return nil, err
	}
	toRes, err := selector.Resolve(e.store, toSelector)
	if err != nil {
		return nil, err
	}

	result := &DependencyPathResult{
		From: sideDiagnostic(fromRes),
		To:   sideDiagnostic(toRes),
	}
	if fromRes.Chosen == nil || toRes.Chosen == nil {
		return result, nil
	}

	bfs, err := e.store.DependencyPathBetween(fromRes.Chosen.ID, toRes.Chosen.ID, maxDepth)
	if err != nil {
		return nil, err
	}
	result.Found = bfs.Found
	result.Hops = bfs.Hops
	return result, nil
}

func sideDiagnostic(res *selector.Resolution) SideDiagnostic {
	d := SideDiagnostic{ParsedAs: string(res.ParsedAs), Matched: len(res.Candidates)}
	if res.Chosen != nil {
		d.SelectedKey = res.Chosen.Key
	}
	return d
}

// ---- Slice (bounded neighborhood) ----------------------------------------

// SliceOptions controls minimal_slice's anchor resolution, expansion and
// scoring.
type SliceOptions struct {
	Line                     *int64
	Depth                    int
	MaxNeighbors             int
	Dedup                    bool
	SuppressLowSignalRepeats bool
	LowSignalNameCap         int
	PreferProjectSymbols     bool
}

// DefaultSliceOptions returns the option defaults named in §4.G.
func DefaultSliceOptions() SliceOptions {
	return SliceOptions{
		Depth: 2, MaxNeighbors: 40, Dedup: true,
		SuppressLowSignalRepeats: true, LowSignalNameCap: 1, PreferProjectSymbols: true,
	}
}

// SliceNeighbor is one scored edge observed during slice expansion.
type SliceNeighbor struct {
	EdgeType  string
	Direction string
	Entity    store.Entity
	Depth     int
	Score     float64
	Why       string
}

// SliceResult is a bounded, scored neighborhood around an anchor entity.
type SliceResult struct {
	Anchor    store.Entity
	Neighbors []SliceNeighbor
}

type sliceCandidate struct {
	edgeType  string
	direction string
	entity    store.Entity
	depth     int
}

// Slice resolves the anchor (the smallest symbol covering opts.Line, or the
// file entity), expands its neighborhood breadth-first for opts.Depth
// rounds, scores every observed edge, truncates to opts.MaxNeighbors, and
// optionally caps repeated low-signal names.
func (e *Engine) Slice(filePath string, opts SliceOptions) (*SliceResult, error) {
	anchor, err := e.resolveSliceAnchor(filePath, opts.Line)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}

	depth := opts.Depth
	if depth < 1 {
		depth = 1
	}

	candidates, err := e.expandSlice(anchor.ID, depth, opts.Dedup, opts.MaxNeighbors)
	if err != nil {
		return nil, err
	}

	scored := scoreSliceCandidates(candidates, opts.PreferProjectSymbols)
	sortSliceNeighbors(scored)

	if opts.MaxNeighbors > 0 && len(scored) > opts.MaxNeighbors {
		scored = scored[:opts.MaxNeighbors]
	}
	if opts.SuppressLowSignalRepeats {
		scored = suppressLowSignalRepeats(scored, opts.LowSignalNameCap)
	}

	return &SliceResult{Anchor: *anchor, Neighbors: scored}, nil
}

func (e *Engine) resolveSliceAnchor(filePath string, line *int64) (*store.Entity, error) {
	if line != nil {
		anchor, err := e.store.AnchorSymbolForLine(filePath, *line)
		if err != nil {
			return nil, err
		}
		if anchor != nil {
			return anchor, nil
		}
	}
	return e.store.FindEntityByKey(store.FileKey(filePath))
}

func (e *Engine) expandSlice(anchorID int64, depth int, dedup bool, maxNeighbors int) ([]sliceCandidate, error) {
	var candidates []sliceCandidate
	dedupSeen := map[string]bool{}
	frontier := []int64{anchorID}
	visited := map[int64]bool{anchorID: true}

	for d := 1; d <= depth; d++ {
		var next []int64
		for _, nodeID := range frontier {
			related, err := e.store.NeighborEdges(nodeID)
			if err != nil {
				return nil, err
			}
			for _, r := range related {
				if dedup {
					key := fmt.Sprintf("%s|%s|%d|%s", r.Direction, r.EdgeType, r.Entity.ID, r.Entity.Key)
					if dedupSeen[key] {
						continue
					}
					dedupSeen[key] = true
				}
				candidates = append(candidates, sliceCandidate{edgeType: r.EdgeType, direction: r.Direction, entity: r.Entity, depth: d})
				if !visited[r.Entity.ID] {
					visited[r.Entity.ID] = true
					next = append(next, r.Entity.ID)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		// BFS halts early once the cap is reached (§4.G step 4).
		if maxNeighbors > 0 && len(candidates) >= maxNeighbors {
			break
		}
		frontier = next
	}
	return candidates, nil
}

func scoreSliceCandidates(candidates []sliceCandidate, preferProjectSymbols bool) []SliceNeighbor {
	out := make([]SliceNeighbor, 0, len(candidates))
	for _, c := range candidates {
		weight, ok := edgeWeight[c.edgeType]
		if !ok {
			weight = defaultEdgeWeight
		}
		base := weight
		why := []string{fmt.Sprintf("edge_weight(%s)=%.2f", c.edgeType, weight)}
		if c.direction == "outgoing" {
			base += 0.2
			why = append(why, "outgoing+0.2")
		}
		if c.depth > 1 {
			penalty := 0.25 * float64(c.depth-1)
			base -= penalty
			why = append(why, fmt.Sprintf("depth_penalty(-%.2f)", penalty))
		}
		if c.entity.Type == "symbol_name" {
			if isLowSignal(c.entity.Name) {
				base -= 1.3
				why = append(why, "low_signal(-1.3)")
			} else if preferProjectSymbols && isProjectLocal(c.entity.Name) {
				base += 0.35
				why = append(why, "project_local(+0.35)")
			}
		}
		if base < 0 {
			base = 0
		}
		out = append(out, SliceNeighbor{
			EdgeType: c.edgeType, Direction: c.direction, Entity: c.entity,
			Depth: c.depth, Score: base, Why: strings.Join(why, ", "),
		})
	}
	return out
}

func sortSliceNeighbors(neighbors []SliceNeighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		if neighbors[i].EdgeType != neighbors[j].EdgeType {
			return neighbors[i].EdgeType < neighbors[j].EdgeType
		}
		if neighbors[i].Direction != neighbors[j].Direction {
			return neighbors[i].Direction < neighbors[j].Direction
		}
		return neighbors[i].Entity.Key < neighbors[j].Entity.Key
	})
}

// suppressLowSignalRepeats retains at most cap neighbors per low-signal
// symbol_name — S8's "a hundred Ok/Err references" scenario.
func suppressLowSignalRepeats(neighbors []SliceNeighbor, cap int) []SliceNeighbor {
	if cap <= 0 {
		cap = 1
	}
	counts := make(map[string]int)
	out := make([]SliceNeighbor, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Entity.Type == "symbol_name" && isLowSignal(n.Entity.Name) {
			if counts[n.Entity.Name] >= cap {
				continue
			}
			counts[n.Entity.Name]++
		}
		out = append(out, n)
	}
	return out
}

// ---- Clone matches / hotspots ---------------------------------------------

// CloneOptions controls clone_matches / clone_hotspots filtering and
// pagination.
type CloneOptions struct {
	MinSimilarity float64
	Limit         int
	Offset        int
}

// DefaultCloneOptions returns the CLI-stated default (min_similarity=0.02).
func DefaultCloneOptions() CloneOptions {
	return CloneOptions{MinSimilarity: 0.02, Limit: 50}
}

// CloneAnalysis is the diagnostics block always returned alongside clone
// matches or hotspots.
type CloneAnalysis struct {
	SelfFingerprintCount   int64
	CandidateFiles         int
	SurvivingCandidates    int
	FilteredByThreshold    int
	MaxCandidateSimilarity float64
	SuggestedMinSimilarity float64
	EmptyReason            string
}

// CloneMatchesResult is a scored, paginated page of clone matches.
type CloneMatchesResult struct {
	Rows       []store.CloneMatch
	Total      int
	Offset     int
	Limit      int
	Returned   int
	HasMore    bool
	NextOffset int
	Analysis   CloneAnalysis
}

// CloneMatches finds files sharing winnowed fingerprints with filePath,
// above min_similarity, sorted and paginated, with the analysis block
// always populated.
func (e *Engine) CloneMatches(filePath string, opts CloneOptions) (*CloneMatchesResult, error) {
	selfCount, err := e.store.SelfFingerprintCount(filePath)
	if err != nil {
		return nil, err
	}
	if selfCount == 0 {
		return &CloneMatchesResult{Analysis: CloneAnalysis{EmptyReason: "source file has no fingerprints"}}, nil
	}

	all, err := e.store.CloneSimilarities(filePath)
	if err != nil {
		return nil, err
	}

	surviving, maxSim := filterBySimilarity(all, opts.MinSimilarity)
	sort.SliceStable(surviving, func(i, j int) bool {
		if surviving[i].Similarity != surviving[j].Similarity {
			return surviving[i].Similarity > surviving[j].Similarity
		}
		if surviving[i].SharedFingerprints != surviving[j].SharedFingerprints {
			return surviving[i].SharedFingerprints > surviving[j].SharedFingerprints
		}
		return surviving[i].OtherFile < surviving[j].OtherFile
	})

	analysis := buildCloneAnalysis(selfCount, all, surviving, maxSim)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	total := len(surviving)
	start := clamp(opts.Offset, 0, total)
	end := clamp(start+limit, 0, total)
	page := surviving[start:end]

	res := &CloneMatchesResult{
		Rows: page, Total: total, Offset: start, Limit: limit, Returned: len(page), Analysis: analysis,
	}
	if end < total {
		res.HasMore = true
		res.NextOffset = end
	}
	return res, nil
}

// HotspotBucket buckets clone-match candidates by their parent directory.
type HotspotBucket struct {
	Directory     string
	Files         int
	AvgSimilarity float64
	MaxSimilarity float64
}

// CloneHotspotsResult is a scored, paginated page of hotspot buckets.
type CloneHotspotsResult struct {
	Buckets    []HotspotBucket
	Total      int
	Offset     int
	Limit      int
	Returned   int
	HasMore    bool
	NextOffset int
	Analysis   CloneAnalysis
}

// CloneHotspots buckets clone_matches' candidate set by each other file's
// parent directory, no per-candidate limit, then sorts and paginates the
// buckets themselves.
func (e *Engine) CloneHotspots(filePath string, opts CloneOptions) (*CloneHotspotsResult, error) {
	selfCount, err := e.store.SelfFingerprintCount(filePath)
	if err != nil {
		return nil, err
	}
	if selfCount == 0 {
		return &CloneHotspotsResult{Analysis: CloneAnalysis{EmptyReason: "source file has no fingerprints"}}, nil
	}

	all, err := e.store.CloneSimilarities(filePath)
	if err != nil {
		return nil, err
	}
	surviving, maxSim := filterBySimilarity(all, opts.MinSimilarity)
	analysis := buildCloneAnalysis(selfCount, all, surviving, maxSim)

	buckets := make(map[string]*HotspotBucket)
	var order []string
	for _, m := range surviving {
		dir := path.Dir(m.OtherFile)
		b, ok := buckets[dir]
		if !ok {
			b = &HotspotBucket{Directory: dir}
			buckets[dir] = b
			order = append(order, dir)
		}
		b.Files++
		b.AvgSimilarity += m.Similarity
		if m.Similarity > b.MaxSimilarity {
			b.MaxSimilarity = m.Similarity
		}
	}

	out := make([]HotspotBucket, 0, len(buckets))
	for _, dir := range order {
		b := buckets[dir]
		b.AvgSimilarity /= float64(b.Files)
		out = append(out, *b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AvgSimilarity != out[j].AvgSimilarity {
			return out[i].AvgSimilarity > out[j].AvgSimilarity
		}
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		return out[i].Directory < out[j].Directory
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	total := len(out)
	start := clamp(opts.Offset, 0, total)
	end := clamp(start+limit, 0, total)
	page := out[start:end]

	res := &CloneHotspotsResult{
		Buckets: page, Total: total, Offset: start, Limit: limit, Returned: len(page), Analysis: analysis,
	}
	if end < total {
		res.HasMore = true
		res.NextOffset = end
	}
	return res, nil
}

func filterBySimilarity(all []store.CloneMatch, minSimilarity float64) (surviving []store.CloneMatch, maxSim float64) {
	for _, m := range all {
		if m.Similarity > maxSim {
			maxSim = m.Similarity
		}
		if m.Similarity >= minSimilarity {
			surviving = append(surviving, m)
		}
	}
	return surviving, maxSim
}

func buildCloneAnalysis(selfCount int64, all, surviving []store.CloneMatch, maxSim float64) CloneAnalysis {
	emptyReason := ""
	if len(all) == 0 {
		emptyReason = "no overlaps"
	} else if len(surviving) == 0 {
		emptyReason = "all filtered by threshold"
	}
	return CloneAnalysis{
		SelfFingerprintCount:   selfCount,
		CandidateFiles:         len(all),
		SurvivingCandidates:    len(surviving),
		FilteredByThreshold:    len(all) - len(surviving),
		MaxCandidateSimilarity: maxSim,
		SuggestedMinSimilarity: 0.9 * maxSim,
		EmptyReason:            emptyReason,
	}
}

// ---- Selector discovery (fuzzy) -------------------------------------------

// DiscoverOptions controls selector_discover's candidate fetch and ranking.
type DiscoverOptions struct {
	Query      string
	FileGlob   string
	EntityType string
	Limit      int
	Fuzzy      bool
}

// DefaultDiscoverOptions returns the option defaults named in §4.G.
func DefaultDiscoverOptions() DiscoverOptions {
	return DiscoverOptions{Limit: 20, Fuzzy: true}
}

// DiscoverRow is one ranked selector-discovery candidate.
type DiscoverRow struct {
	Entity store.Entity
	Score  float64
	Why    string
}

// SelectorDiscover implements the fuzzy selector-discovery algorithm: a
// narrow SQL-side token fetch, a widened scope-only fallback when that
// comes up empty, then an in-memory re-rank by exact/prefix/contains/token/
// subsequence match weight.
func (e *Engine) SelectorDiscover(opts DiscoverOptions) ([]DiscoverRow, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	tokens := tokenizeQuery(opts.Query)

	fetchLimit := clampInt(limit*8, 1, 2000)
	var candidates []store.Entity
	var err error
	if len(tokens) > 0 {
		candidates, err = e.store.DiscoverByTokens(tokens, opts.EntityType, opts.FileGlob, fetchLimit)
		if err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		widenLimit := fetchLimit
		if opts.Query != "" {
			widenLimit = clampInt(limit*200, 1, 20000)
		}
		if opts.Query == "" || opts.Fuzzy {
			candidates, err = e.store.DiscoverScope(opts.EntityType, opts.FileGlob, widenLimit)
			if err != nil {
				return nil, err
			}
		}
	}

	rows := make([]DiscoverRow, 0, len(candidates))
	for _, c := range candidates {
		score, why := rankDiscoverCandidate(c, opts.Query, tokens, opts.Fuzzy)
		rows = append(rows, DiscoverRow{Entity: c, Score: score, Why: why})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		ri, rj := entityTypeRank(rows[i].Entity.Type), entityTypeRank(rows[j].Entity.Type)
		if ri != rj {
			return ri < rj
		}
		return rows[i].Entity.Key < rows[j].Entity.Key
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func entityTypeRank(t string) int {
	switch t {
	case "symbol":
		return 0
	case "symbol_name":
		return 1
	case "file":
		return 2
	case "module":
		return 3
	default:
		return 4
	}
}

// tokenizeQuery splits on every rune that isn't alphanumeric, ':' or '/',
// lowercasing along the way.
func tokenizeQuery(query string) []string {
	if query == "" {
		return nil
	}
	lower := strings.ToLower(query)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '/' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func rankDiscoverCandidate(e store.Entity, query string, tokens []string, fuzzy bool) (float64, string) {
	if query == "" {
		return 0, "scope_only"
	}

	lowerQuery := strings.ToLower(query)
	lowerName := strings.ToLower(e.Name)
	lowerKey := strings.ToLower(e.Key)
	lowerPath := ""
	if e.FilePath.Valid {
		lowerPath = strings.ToLower(e.FilePath.String)
	}

	var score float64
	var why []string

	switch {
	case lowerName == lowerQuery || lowerKey == lowerQuery:
		score += 120
		why = append(why, "exact")
	case strings.HasPrefix(lowerName, lowerQuery):
		score += 70
		why = append(why, "name_prefix")
	case strings.HasPrefix(lowerKey, lowerQuery):
		score += 60
		why = append(why, "key_prefix")
	case strings.Contains(lowerName, lowerQuery):
		score += 50
		why = append(why, "name_contains")
	case strings.Contains(lowerKey, lowerQuery):
		score += 40
		why = append(why, "key_contains")
	case lowerPath != "" && strings.Contains(lowerPath, lowerQuery):
		score += 32
		why = append(why, "path_contains")
	}

	for _, tok := range tokens {
		if strings.Contains(lowerName, tok) {
			score += 10
			why = append(why, "token_in_name")
		}
		if strings.Contains(lowerKey, tok) {
			score += 8
			why = append(why, "token_in_key")
		}
		if lowerPath != "" && strings.Contains(lowerPath, tok) {
			score += 6
			why = append(why, "token_in_path")
		}
	}

	if fuzzy {
		ratio := subsequenceRatio(lowerQuery, lowerName)
		if kr := subsequenceRatio(lowerQuery, lowerKey); kr > ratio {
			ratio = kr
		}
		if ratio > 0 {
			score += 25 * ratio
			why = append(why, fmt.Sprintf("subsequence(%.2f)", ratio))
		}
	}

	return score, strings.Join(why, ", ")
}

// subsequenceRatio is the fraction of query's bytes that appear, in order,
// as a subsequence of candidate.
func subsequenceRatio(query, candidate string) float64 {
	if query == "" {
		return 0
	}
	qi := 0
	for i := 0; i < len(candidate) && qi < len(query); i++ {
		if candidate[i] == query[qi] {
			qi++
		}
	}
	return float64(qi) / float64(len(query))
}

// ---- Freshness -------------------------------------------------------------

// Freshness is the result of freshness_info.
type Freshness struct {
	FileCount       int
	LatestIndexedAt string
	SchemaVersion   string
	StaleAfterHours int
	IsStale         bool
}

// FreshnessInfo reports the index's file count, newest indexed_at,
// schema version and whether it exceeds staleHours.
func (e *Engine) FreshnessInfo(staleHours int) (*Freshness, error) {
	count, err := e.store.FileCount()
	if err != nil {
		return nil, err
	}
	version, err := e.store.SchemaVersion()
	if err != nil {
		return nil, err
	}
	latest, ok, err := e.store.LatestIndexedAt()
	if err != nil {
		return nil, err
	}

	f := &Freshness{FileCount: count, SchemaVersion: version, StaleAfterHours: staleHours}
	if !ok {
		return f, nil
	}
	f.LatestIndexedAt = latest
	if ts, err := time.Parse(time.RFC3339, latest); err == nil {
		cutoff := time.Now().UTC().Add(-time.Duration(staleHours) * time.Hour)
		f.IsStale = ts.Before(cutoff)
	}
	return f, nil
}

// IndexWarning reports a human-readable freshness warning, or ("", false)
// when the index looks healthy.
func (e *Engine) IndexWarning(staleHours int) (string, bool, error) {
	count, err := e.store.FileCount()
	if err != nil {
		return "", false, err
	}
	if count == 0 {
		return "index is empty", true, nil
	}

	latest, ok, err := e.store.LatestIndexedAt()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "timestamp unavailable", true, nil
	}

	ts, err := time.Parse(time.RFC3339, latest)
	if err != nil {
		return "timestamp unavailable", true, nil
	}
	cutoff := time.Now().UTC().Add(-time.Duration(staleHours) * time.Hour)
	if ts.Before(cutoff) {
		return fmt.Sprintf("index appears stale (last indexed_at=%s)", latest), true, nil
	}
	return "", false, nil
}
