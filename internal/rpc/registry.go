package rpc

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolHandler answers one tools/call invocation. An *argError return is
// turned into a JSON-RPC -32602 error by the dispatch loop; any other
// error aborts the request with -32603. A handled-but-failed operation
// (e.g. selector not found) is reported as a *mcp.CallToolResult with
// IsError set, not a Go error.
type toolHandler func(ctx *callCtx, args map[string]any) (*mcp.CallToolResult, error)

// register wires one tool's descriptor and handler into the server.
func (s *Server) register(tool *mcp.Tool, handler toolHandler) {
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
}

func (s *Server) registerTools() {
	s.registerIndexTool()
	s.registerSymbolTools()
	s.registerGraphTools()
	s.registerCloneTools()
	s.registerDiscoverTool()
	s.registerFileTools()
}

func (s *Server) registerIndexTool() {
	s.register(&mcp.Tool{
		Name:        "index_repository",
		Description: "Index the repository into the code graph: discover files, parse definitions/references/imports, resolve imports, compute winnowing fingerprints, and upsert everything into the graph store. Incremental by default (skips files whose content hash is unchanged); pass full=true to force a complete rebuild.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"full": {"type": "boolean", "description": "Force a full re-index, ignoring stored content hashes. Default: false."}
			}
		}`),
	}, s.handleIndexRepository)
}

func (s *Server) registerSymbolTools() {
	s.register(&mcp.Tool{
		Name:        "symbol_definitions",
		Description: "Return every definition site of a symbol short name: file, line, column, kind and qualified name, ordered by file then line.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Symbol short name, e.g. 'greet'."}
			},
			"required": ["name"]
		}`),
	}, s.handleSymbolDefinitions)

	s.register(&mcp.Tool{
		Name:        "symbol_references",
		Description: "Find use sites of a symbol (reads and calls), scored, filtered and paginated. Each row carries a 'why' trace explaining its score unless verbosity='compact'. Pass calls_only=true or edge_type='calls' to narrow to call sites only; set summary_mode=true to get file-grouped counts instead of individual rows.",
		InputSchema: referencesSchema(),
	}, s.handleSymbolReferences)

	s.register(&mcp.Tool{
		Name:        "symbol_callers",
		Description: "References narrowed to call sites only — equivalent to symbol_references with edge_type='calls'.",
		InputSchema: referencesSchema(),
	}, s.handleSymbolCallers)
}

func referencesSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Symbol short name to look up."},
			"calls_only": {"type": "boolean", "description": "Restrict to call edges only."},
			"edge_type": {"type": "string", "enum": ["references", "calls"], "description": "Restrict to one edge type."},
			"file_glob": {"type": "string", "description": "Glob applied to the use site's file path."},
			"language": {"type": "string", "description": "Restrict to one language."},
			"max_age_hours": {"type": "integer", "description": "Only rows from files indexed within this many hours."},
			"limit": {"type": "integer", "description": "Max rows per page. Default 200."},
			"offset": {"type": "integer", "description": "Rows to skip for pagination. Default 0."},
			"dedup": {"type": "boolean", "description": "Deduplicate by (file, line, col, edge_type). Default true."},
			"order": {"type": "string", "enum": ["score_desc", "line_asc", "line_desc"], "description": "Sort order. Default score_desc."},
			"summary_mode": {"type": "boolean", "description": "Return file-grouped counts instead of individual rows."},
			"include_freshness": {"type": "boolean", "description": "Attach an index-freshness block to the response."},
			"verbosity": {"type": "string", "enum": ["compact", "normal", "debug"], "description": "Controls whether 'why' traces and diagnostics are included. Default normal."}
		},
		"required": ["name"]
	}`)
}

func (s *Server) registerGraphTools() {
	s.register(&mcp.Tool{
		Name:        "dependency_path",
		Description: "Resolve two selectors to entities and find the shortest path between them over outgoing edges of any type, breadth-first, within max_depth hops. Reports per-side selector diagnostics (how each side parsed and how many candidates it matched) unless verbosity='compact'.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"from": {"type": "string", "description": "Selector for the path's source, e.g. 'file:src/lib.rs' or a bare symbol name."},
				"to": {"type": "string", "description": "Selector for the path's target."},
				"max_depth": {"type": "integer", "description": "Maximum BFS depth. Default 8."},
				"include_freshness": {"type": "boolean", "description": "Attach an index-freshness block to the response."},
				"verbosity": {"type": "string", "enum": ["compact", "normal", "debug"], "description": "Controls whether selector diagnostics are included. Default normal."}
			},
			"required": ["from", "to"]
		}`),
	}, s.handleDependencyPath)

	s.register(&mcp.Tool{
		Name:        "minimal_slice",
		Description: "Return a scored, bounded neighborhood around an anchor: the smallest symbol covering 'line' in 'file', or the file entity itself when line is omitted. Expands incoming and outgoing edges breadth-first up to 'depth' hops, scores each by edge type/direction/depth, and caps repeated low-signal symbol names (Ok, Err, Some, ...) so they don't crowd out the rest.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string", "description": "Repo-relative file path to anchor on."},
				"line": {"type": "integer", "description": "1-based line inside the file; selects the smallest enclosing symbol as anchor."},
				"depth": {"type": "integer", "description": "BFS depth. Default 2."},
				"max_neighbors": {"type": "integer", "description": "Cap on returned neighbors. Default 40."},
				"dedup": {"type": "boolean", "description": "Deduplicate repeated (direction, edge_type, destination) edges. Default true."},
				"suppress_low_signal_repeats": {"type": "boolean", "description": "Cap neighbors per low-signal symbol_name. Default true."},
				"low_signal_name_cap": {"type": "integer", "description": "Max neighbors retained per low-signal name. Default 1."},
				"prefer_project_symbols": {"type": "boolean", "description": "Boost project-local symbol names over generic ones. Default true."},
				"verbosity": {"type": "string", "enum": ["compact", "normal", "debug"], "description": "Controls whether 'why' traces are included. Default normal."}
			},
			"required": ["file"]
		}`),
	}, s.handleMinimalSlice)
}

func (s *Server) registerCloneTools() {
	s.register(&mcp.Tool{
		Name:        "clone_matches",
		Description: "Find files sharing winnowed content fingerprints with a target file, scored by Jaccard-like similarity. Returns an analysis block (candidate counts, max similarity, a suggested threshold) unless verbosity='compact'. Pass mode='hotspots' to bucket candidates by parent directory instead of listing individual files.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file": {"type": "string", "description": "Repo-relative file path to compare against."},
				"min_similarity": {"type": "number", "description": "Minimum similarity to keep. Default 0.02."},
				"limit": {"type": "integer", "description": "Max rows per page. Default 50."},
				"offset": {"type": "integer", "description": "Rows to skip for pagination. Default 0."},
				"mode": {"type": "string", "enum": ["matches", "hotspots"], "description": "matches lists files; hotspots buckets by directory. Default matches."},
				"verbosity": {"type": "string", "enum": ["compact", "normal", "debug"], "description": "compact omits the analysis block; normal and debug include it. Default normal."}
			},
			"required": ["file"]
		}`),
	}, s.handleCloneMatches)
}

func (s *Server) registerDiscoverTool() {
	s.register(&mcp.Tool{
		Name:        "selector_discover",
		Description: "Fuzzy-search entities by name, key or path to find a selector to feed into dependency_path or minimal_slice. Narrows by SQL token match first, widens to a scope-only scan if that's empty, then re-ranks in memory by exact/prefix/contains/subsequence match.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Free-text search query."},
				"file_glob": {"type": "string", "description": "Restrict candidates to matching file paths."},
				"entity_type": {"type": "string", "description": "Restrict to one entity type (file, symbol, symbol_name, module, ...)."},
				"limit": {"type": "integer", "description": "Max results. Default 20."},
				"fuzzy": {"type": "boolean", "description": "Allow subsequence matching and scope widening when the narrow fetch is empty. Default true."}
			}
		}`),
	}, s.handleSelectorDiscover)
}

func (s *Server) registerFileTools() {
	s.register(&mcp.Tool{
		Name:        "read_file",
		Description: "Read a file from the indexed repository. Path is repo-relative (or absolute, but must resolve under the repository root). Supports an inclusive line range for large files.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Repo-relative (or absolute) file path."},
				"start_line": {"type": "integer", "description": "First line to return, 1-based."},
				"end_line": {"type": "integer", "description": "Last line to return, inclusive."}
			},
			"required": ["path"]
		}`),
	}, s.handleReadFile)

	s.register(&mcp.Tool{
		Name:        "list_directory",
		Description: "List the entries of a directory under the indexed repository, optionally filtered by a glob pattern.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Repo-relative directory path. Empty means the repository root."},
				"pattern": {"type": "string", "description": "Glob pattern to filter entries, e.g. '*.go'."}
			}
		}`),
	}, s.handleListDirectory)
}
