package rpc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/riverglass/codegraph/internal/indexer"
	"github.com/riverglass/codegraph/internal/query"
	"github.com/riverglass/codegraph/internal/store"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// callCtx carries the per-request context through a tool handler.
type callCtx struct {
	ctx context.Context
}

func toolResult(data any) (*mcp.CallToolResult, error) {
	text, err := marshalCompact(data)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(text)}},
		StructuredContent: data,
	}, nil
}

func toolError(format string, a ...any) (*mcp.CallToolResult, error) {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}, nil
}

// verbosityOf reads the shared "verbosity" argument, defaulting to normal.
func verbosityOf(args map[string]any) string {
	v := getString(args, "verbosity")
	switch v {
	case "compact", "debug":
		return v
	default:
		return "normal"
	}
}

// withFreshness attaches a freshness block to data when requested.
func (s *Server) withFreshness(data map[string]any, args map[string]any) map[string]any {
	if !getBool(args, "include_freshness", false) {
		return data
	}
	staleHours := s.config.EffectiveStaleHours(24)
	fresh, err := s.engine.FreshnessInfo(staleHours)
	if err != nil {
		data["freshness_error"] = err.Error()
		return data
	}
	data["freshness"] = map[string]any{
		"file_count":        fresh.FileCount,
		"latest_indexed_at": fresh.LatestIndexedAt,
		"schema_version":    fresh.SchemaVersion,
		"stale_after_hours": fresh.StaleAfterHours,
		"is_stale":          fresh.IsStale,
	}
	return data
}

// ---- index_repository -----------------------------------------------------

func (s *Server) handleIndexRepository(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	full := getBool(args, "full", false)

	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := indexer.Run(c.ctx, s.store, s.paths.RepoRoot, indexer.Options{Full: full})
	if err != nil {
		return toolError("index_repository failed: %v", err)
	}

	s.logger.Info("index_repository",
		"indexed", report.IndexedFiles, "skipped", report.SkippedFiles,
		"removed", report.RemovedFiles, "parse_failures", report.ParseFailures)

	return toolResult(map[string]any{
		"repo_root":      report.RepoRoot,
		"indexed_files":  report.IndexedFiles,
		"skipped_files":  report.SkippedFiles,
		"removed_files":  report.RemovedFiles,
		"parse_failures": report.ParseFailures,
		"errors":         report.Errors,
	})
}

// ---- symbol_definitions -----------------------------------------------------

func (s *Server) handleSymbolDefinitions(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}

	locs, err := s.engine.SymbolDefinitions(name)
	if err != nil {
		return toolError("symbol_definitions failed: %v", err)
	}

	defs := make([]map[string]any, len(locs))
	for i, l := range locs {
		defs[i] = map[string]any{
			"symbol_name": l.SymbolName,
			"file":        l.FilePath,
			"line":        l.Line,
			"col":         l.Col,
			"kind":        l.Kind,
			"qualname":    l.Qualname,
		}
	}
	return toolResult(map[string]any{"symbol_name": name, "definitions": defs})
}

// ---- symbol_references / symbol_callers ------------------------------------

func (s *Server) handleSymbolReferences(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	return s.handleReferencesLike(c, args, false)
}

func (s *Server) handleSymbolCallers(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	return s.handleReferencesLike(c, args, true)
}

func (s *Server) handleReferencesLike(c *callCtx, args map[string]any, callersOnly bool) (*mcp.CallToolResult, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}

	opts := query.DefaultReferencesOptions()
	if callersOnly || getBool(args, "calls_only", false) {
		opts.EdgeTypeFilter = "calls"
	} else if et := getString(args, "edge_type"); et != "" {
		opts.EdgeTypeFilter = et
	}
	opts.FileGlob = getString(args, "file_glob")
	opts.Language = getString(args, "language")
	opts.MaxAgeHours = getInt(args, "max_age_hours", 0)
	opts.Limit = getInt(args, "limit", opts.Limit)
	opts.Offset = getInt(args, "offset", 0)
	opts.Dedup = getBool(args, "dedup", true)
	if order := getString(args, "order"); order != "" {
		opts.Order = order
	}

	verbosity := verbosityOf(args)
	summaryMode := getBool(args, "summary_mode", false)

	result, err := s.engine.References(name, opts)
	if err != nil {
		return toolError("%s lookup failed: %v", toolLabel(callersOnly), err)
	}

	if summaryMode {
		fullOpts := opts
		fullOpts.Offset = 0
		fullOpts.Limit = 1 << 20
		full, err := s.engine.References(name, fullOpts)
		if err != nil {
			return toolError("%s summary failed: %v", toolLabel(callersOnly), err)
		}
		data := map[string]any{
			"symbol_name": name,
			"total":       full.Total,
			"top_files":   summarizeByFile(full.Rows),
		}
		return toolResult(s.withFreshness(data, args))
	}

	rows := make([]map[string]any, len(result.Rows))
	for i, r := range result.Rows {
		row := map[string]any{
			"symbol_name": r.SymbolName,
			"file":        r.FilePath,
			"line":        r.Line,
			"col":         r.Col,
			"edge_type":   r.EdgeType,
			"score":       r.Score,
		}
		if verbosity != "compact" {
			row["why"] = r.Why
		}
		rows[i] = row
	}

	data := map[string]any{
		"symbol_name": name,
		"rows":        rows,
		"total":       result.Total,
		"offset":      result.Offset,
		"limit":       result.Limit,
		"returned":    result.Returned,
		"has_more":    result.HasMore,
	}
	if result.HasMore {
		data["next_offset"] = result.NextOffset
	}
	if verbosity == "debug" {
		data["resolved_options"] = map[string]any{
			"edge_type_filter": opts.EdgeTypeFilter,
			"file_glob":        opts.FileGlob,
			"language":         opts.Language,
			"max_age_hours":    opts.MaxAgeHours,
			"dedup":            opts.Dedup,
			"order":            opts.Order,
		}
	}
	return toolResult(s.withFreshness(data, args))
}

func toolLabel(callersOnly bool) string {
	if callersOnly {
		return "symbol_callers"
	}
	return "symbol_references"
}

type fileCount struct {
	file  string
	count int
}

func summarizeByFile(rows []query.ReferenceRow) []map[string]any {
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.FilePath]++
	}
	list := make([]fileCount, 0, len(counts))
	for f, n := range counts {
		list = append(list, fileCount{file: f, count: n})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].file < list[j].file
	})
	out := make([]map[string]any, len(list))
	for i, fc := range list {
		out[i] = map[string]any{"file": fc.file, "count": fc.count}
	}
	return out
}

// ---- dependency_path --------------------------------------------------------

func (s *Server) handleDependencyPath(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	from, err := requireString(args, "from")
	if err != nil {
		return nil, err
	}
	to, err := requireString(args, "to")
	if err != nil {
		return nil, err
	}
	maxDepth := getInt(args, "max_depth", 8)
	verbosity := verbosityOf(args)

	result, err := s.engine.DependencyPath(from, to, maxDepth)
	if err != nil {
		return toolError("dependency_path failed: %v", err)
	}

	hops := make([]map[string]any, len(result.Hops))
	for i, h := range result.Hops {
		hops[i] = map[string]any{
			"entity_key":  h.EntityKey,
			"entity_name": h.EntityName,
			"entity_type": h.EntityType,
		}
	}

	data := map[string]any{
		"found": result.Found,
		"hops":  hops,
	}
	if verbosity != "compact" {
		data["from"] = sideDiagnosticMap(result.From)
		data["to"] = sideDiagnosticMap(result.To)
	}
	if verbosity == "debug" {
		data["resolved_options"] = map[string]any{"max_depth": maxDepth}
	}
	return toolResult(s.withFreshness(data, args))
}

func sideDiagnosticMap(d query.SideDiagnostic) map[string]any {
	return map[string]any{
		"parsed_as":    d.ParsedAs,
		"matched":      d.Matched,
		"selected_key": d.SelectedKey,
	}
}

// ---- minimal_slice -----------------------------------------------------------

func (s *Server) handleMinimalSlice(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}

	opts := query.DefaultSliceOptions()
	opts.Line = getIntPtr(args, "line")
	opts.Depth = getInt(args, "depth", opts.Depth)
	opts.MaxNeighbors = getInt(args, "max_neighbors", opts.MaxNeighbors)
	opts.Dedup = getBool(args, "dedup", opts.Dedup)
	opts.SuppressLowSignalRepeats = getBool(args, "suppress_low_signal_repeats", opts.SuppressLowSignalRepeats)
	opts.LowSignalNameCap = getInt(args, "low_signal_name_cap", opts.LowSignalNameCap)
	opts.PreferProjectSymbols = getBool(args, "prefer_project_symbols", opts.PreferProjectSymbols)
	verbosity := verbosityOf(args)

	result, err := s.engine.Slice(file, opts)
	if err != nil {
		return toolError("minimal_slice failed: %v", err)
	}
	if result == nil {
		return toolResult(map[string]any{"found": false, "file": file})
	}

	neighbors := make([]map[string]any, len(result.Neighbors))
	for i, n := range result.Neighbors {
		row := map[string]any{
			"edge_type": n.EdgeType,
			"direction": n.Direction,
			"entity":    entityMap(n.Entity),
			"depth":     n.Depth,
			"score":     n.Score,
		}
		if verbosity != "compact" {
			row["why"] = n.Why
		}
		neighbors[i] = row
	}

	data := map[string]any{
		"found":     true,
		"anchor":    entityMap(result.Anchor),
		"neighbors": neighbors,
	}
	if verbosity == "debug" {
		data["resolved_options"] = map[string]any{
			"depth":                       opts.Depth,
			"max_neighbors":               opts.MaxNeighbors,
			"dedup":                       opts.Dedup,
			"suppress_low_signal_repeats": opts.SuppressLowSignalRepeats,
			"low_signal_name_cap":         opts.LowSignalNameCap,
			"prefer_project_symbols":      opts.PreferProjectSymbols,
		}
	}
	return toolResult(data)
}

func entityMap(e store.Entity) map[string]any {
	m := map[string]any{
		"id":   e.ID,
		"type": e.Type,
		"key":  e.Key,
		"name": e.Name,
	}
	if e.Lang.Valid {
		m["lang"] = e.Lang.String
	}
	if e.FilePath.Valid {
		m["file"] = e.FilePath.String
	}
	if e.Line.Valid {
		m["line"] = e.Line.Int64
	}
	if e.Col.Valid {
		m["col"] = e.Col.Int64
	}
	if e.EndLine.Valid {
		m["end_line"] = e.EndLine.Int64
	}
	if e.EndCol.Valid {
		m["end_col"] = e.EndCol.Int64
	}
	return m
}

// ---- clone_matches -----------------------------------------------------------

func (s *Server) handleCloneMatches(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	file, err := requireString(args, "file")
	if err != nil {
		return nil, err
	}

	opts := query.DefaultCloneOptions()
	opts.MinSimilarity = getFloat(args, "min_similarity", opts.MinSimilarity)
	opts.Limit = getInt(args, "limit", opts.Limit)
	opts.Offset = getInt(args, "offset", 0)
	mode := getString(args, "mode")
	if mode == "" {
		mode = "matches"
	}
	verbosity := verbosityOf(args)

	if mode == "hotspots" {
		result, err := s.engine.CloneHotspots(file, opts)
		if err != nil {
			return toolError("clone_matches (hotspots) failed: %v", err)
		}
		buckets := make([]map[string]any, len(result.Buckets))
		for i, b := range result.Buckets {
			buckets[i] = map[string]any{
				"directory":      b.Directory,
				"files":          b.Files,
				"avg_similarity": b.AvgSimilarity,
				"max_similarity": b.MaxSimilarity,
			}
		}
		data := map[string]any{
			"file":     file,
			"mode":     "hotspots",
			"buckets":  buckets,
			"total":    result.Total,
			"offset":   result.Offset,
			"limit":    result.Limit,
			"returned": result.Returned,
			"has_more": result.HasMore,
		}
		if result.HasMore {
			data["next_offset"] = result.NextOffset
		}
		if verbosity != "compact" {
			data["analysis"] = cloneAnalysisMap(result.Analysis)
		}
		if verbosity == "debug" {
			data["resolved_options"] = map[string]any{"min_similarity": opts.MinSimilarity, "limit": opts.Limit}
		}
		return toolResult(data)
	}

	result, err := s.engine.CloneMatches(file, opts)
	if err != nil {
		return toolError("clone_matches failed: %v", err)
	}
	rows := make([]map[string]any, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = map[string]any{
			"other_file":         r.OtherFile,
			"shared_fingerprints": r.SharedFingerprints,
			"similarity":         r.Similarity,
		}
	}
	data := map[string]any{
		"file":     file,
		"mode":     "matches",
		"rows":     rows,
		"total":    result.Total,
		"offset":   result.Offset,
		"limit":    result.Limit,
		"returned": result.Returned,
		"has_more": result.HasMore,
	}
	if result.HasMore {
		data["next_offset"] = result.NextOffset
	}
	if verbosity != "compact" {
		data["analysis"] = cloneAnalysisMap(result.Analysis)
	}
	if verbosity == "debug" {
		data["resolved_options"] = map[string]any{"min_similarity": opts.MinSimilarity, "limit": opts.Limit}
	}
	return toolResult(data)
}

func cloneAnalysisMap(a query.CloneAnalysis) map[string]any {
	return map[string]any{
		"self_fingerprint_count":   a.SelfFingerprintCount,
		"candidate_files":          a.CandidateFiles,
		"surviving_candidates":     a.SurvivingCandidates,
		"filtered_by_threshold":    a.FilteredByThreshold,
		"max_candidate_similarity": a.MaxCandidateSimilarity,
		"suggested_min_similarity": a.SuggestedMinSimilarity,
		"empty_reason":             a.EmptyReason,
	}
}

// ---- selector_discover --------------------------------------------------------

func (s *Server) handleSelectorDiscover(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	opts := query.DefaultDiscoverOptions()
	opts.Query = getString(args, "query")
	opts.FileGlob = getString(args, "file_glob")
	opts.EntityType = getString(args, "entity_type")
	opts.Limit = getInt(args, "limit", opts.Limit)
	opts.Fuzzy = getBool(args, "fuzzy", opts.Fuzzy)

	rows, err := s.engine.SelectorDiscover(opts)
	if err != nil {
		return toolError("selector_discover failed: %v", err)
	}

	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any{
			"entity": entityMap(r.Entity),
			"score":  r.Score,
			"why":    r.Why,
		}
	}
	return toolResult(map[string]any{"query": opts.Query, "candidates": out})
}

// ---- read_file / list_directory -------------------------------------------

const maxReadFileBytes = 500 * 1024

// resolveRepoPath joins rel onto the repository root and rejects any result
// that escapes it, per the documented path-escape error.
func (s *Server) resolveRepoPath(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	var abs string
	if filepath.IsAbs(rel) {
		abs = filepath.Clean(rel)
	} else {
		abs = filepath.Clean(filepath.Join(s.paths.RepoRoot, rel))
	}
	root := filepath.Clean(s.paths.RepoRoot)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes repository root")
	}
	return abs, nil
}

func (s *Server) handleReadFile(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	relPath, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	abs, err := s.resolveRepoPath(relPath)
	if err != nil {
		return toolError("read_file failed: %v", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return toolError("read_file failed: %v", err)
	}
	if info.IsDir() {
		return toolError("read_file failed: %s is a directory", relPath)
	}

	startLine := getInt(args, "start_line", 0)
	endLine := getInt(args, "end_line", 0)

	if startLine <= 0 && endLine <= 0 {
		if info.Size() > maxReadFileBytes {
			return toolError("read_file failed: %s is %d bytes, larger than the %d byte cap; pass start_line/end_line", relPath, info.Size(), maxReadFileBytes)
		}
		content, err := os.ReadFile(abs)
		if err != nil {
			return toolError("read_file failed: %v", err)
		}
		return toolResult(map[string]any{"path": relPath, "content": string(content)})
	}

	f, err := os.Open(abs)
	if err != nil {
		return toolError("read_file failed: %v", err)
	}
	defer f.Close()

	if endLine <= 0 {
		endLine = 1 << 30
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < startLine {
			continue
		}
		if lineNo > endLine {
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return toolError("read_file failed: %v", err)
	}

	return toolResult(map[string]any{
		"path":       relPath,
		"start_line": startLine,
		"end_line":   endLine,
		"content":    strings.Join(lines, "\n"),
	})
}

type dirEntryInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (s *Server) handleListDirectory(c *callCtx, args map[string]any) (*mcp.CallToolResult, error) {
	relPath := getString(args, "path")
	pattern := getString(args, "pattern")

	abs, err := s.resolveRepoPath(relPath)
	if err != nil {
		return toolError("list_directory failed: %v", err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return toolError("list_directory failed: %v", err)
	}

	out := make([]dirEntryInfo, 0, len(entries))
	for _, e := range entries {
		if pattern != "" {
			ok, err := filepath.Match(pattern, e.Name())
			if err != nil {
				return toolError("list_directory failed: invalid pattern: %v", err)
			}
			if !ok {
				continue
			}
		}
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		entryRel := e.Name()
		if relPath != "" {
			entryRel = filepath.Join(relPath, e.Name())
		}
		out = append(out, dirEntryInfo{Name: e.Name(), Path: entryRel, IsDir: e.IsDir(), Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return toolResult(map[string]any{"path": relPath, "entries": out})
}
