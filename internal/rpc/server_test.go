package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/riverglass/codegraph/internal/config"
	"github.com/riverglass/codegraph/internal/extract"
	"github.com/riverglass/codegraph/internal/runpath"
	"github.com/riverglass/codegraph/internal/store"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func newTestServer(t *testing.T, repoRoot string) *Server {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() err = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	paths := &runpath.Paths{RepoRoot: repoRoot}
	return NewServer(s, paths, config.Default(), nil)
}

func indexSymbol(t *testing.T, srv *Server, file, name string, line int) {
	t.Helper()
	def := &extract.FileExtraction{
		Definitions: []extract.Definition{
			{Name: name, Qualname: name, Kind: "function_item", Line: line, Col: 1, EndLine: line + 2, EndCol: 1},
		},
	}
	outcome := &store.UpsertOutcome{}
	if err := srv.store.IndexFile(file, "rust", "h1", "", 1, def, nil, nil, outcome); err != nil {
		t.Fatalf("IndexFile() err = %v", err)
	}
}

// ---- transport framing ------------------------------------------------------

func TestFrameReaderLineDelimited(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n"
	fr := newFrameReader(strings.NewReader(input))
	body, mode, err := fr.readMessage()
	if err != nil {
		t.Fatalf("readMessage() err = %v", err)
	}
	if mode != framingLineDelimited {
		t.Fatalf("mode = %v, want framingLineDelimited", mode)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if req.Method != "ping" {
		t.Fatalf("Method = %q, want ping", req.Method)
	}
}

func TestFrameReaderLengthPrefixed(t *testing.T) {
	payload := `{"jsonrpc":"2.0","id":2,"method":"ping"}`
	input := "Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n" + payload
	fr := newFrameReader(strings.NewReader(input))
	body, mode, err := fr.readMessage()
	if err != nil {
		t.Fatalf("readMessage() err = %v", err)
	}
	if mode != framingLengthPrefixed {
		t.Fatalf("mode = %v, want framingLengthPrefixed", mode)
	}
	if string(body) != payload {
		t.Fatalf("body = %q, want %q", body, payload)
	}
}

func TestWriteMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := successResponse(1, map[string]any{"ok": true})
	if err := writeMessage(&buf, resp, framingLineDelimited); err != nil {
		t.Fatalf("writeMessage() err = %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("line-delimited output = %q, want trailing newline", buf.String())
	}

	buf.Reset()
	if err := writeMessage(&buf, resp, framingLengthPrefixed); err != nil {
		t.Fatalf("writeMessage() err = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Content-Length: ") {
		t.Fatalf("length-prefixed output = %q, want Content-Length header", buf.String())
	}
}

// ---- dispatch ---------------------------------------------------------------

func TestHandleMessageInitializePingToolsList(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	ctx := context.Background()

	init := srv.handleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	if init.Error != nil {
		t.Fatalf("initialize error = %+v", init.Error)
	}

	ping := srv.handleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	if ping.Error != nil {
		t.Fatalf("ping error = %+v", ping.Error)
	}

	list := srv.handleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`))
	if list.Error != nil {
		t.Fatalf("tools/list error = %+v", list.Error)
	}
	result, ok := list.Result.(map[string]any)
	if !ok {
		t.Fatalf("tools/list result = %#v, want map", list.Result)
	}
	tools, ok := result["tools"].([]map[string]any)
	if !ok || len(tools) == 0 {
		t.Fatalf("tools/list tools = %#v, want non-empty list", result["tools"])
	}
}

func TestHandleMessageUnknownMethod(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	resp := srv.handleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"bogus"}`))
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("resp.Error = %+v, want method-not-found", resp.Error)
	}
}

func TestHandleMessageMalformedFrameIsParseError(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	resp := srv.handleMessage(context.Background(), []byte(`not json`))
	if resp.Error == nil || resp.Error.Code != ErrCodeParseError {
		t.Fatalf("resp.Error = %+v, want parse error", resp.Error)
	}
}

func TestHandleToolsCallInvalidArgumentsIsInvalidParams(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"symbol_definitions","arguments":{}}}`
	resp := srv.handleMessage(context.Background(), []byte(req))
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Fatalf("resp.Error = %+v, want invalid params (missing name)", resp.Error)
	}
}

func TestHandleToolsCallUnknownToolIsMethodNotFound(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	req := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`
	resp := srv.handleMessage(context.Background(), []byte(req))
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("resp.Error = %+v, want method not found", resp.Error)
	}
}

func TestToolsCallSymbolDefinitions(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	indexSymbol(t, srv, "src/lib.rs", "greet", 5)

	args, _ := json.Marshal(map[string]any{"name": "greet"})
	params, _ := json.Marshal(toolCallParams{Name: "symbol_definitions", Arguments: args})
	reqBody, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

	resp := srv.handleMessage(context.Background(), reqBody)
	if resp.Error != nil {
		t.Fatalf("tools/call error = %+v", resp.Error)
	}
	result, ok := resp.Result.(*mcp.CallToolResult)
	if !ok {
		t.Fatalf("Result = %#v, want *mcp.CallToolResult", resp.Result)
	}
	if result.IsError {
		t.Fatalf("IsError = true, want a clean lookup: %+v", result)
	}
	data, ok := result.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("StructuredContent = %#v, want map", result.StructuredContent)
	}
	defs, ok := data["definitions"].([]map[string]any)
	if !ok || len(defs) != 1 || defs[0]["file"] != "src/lib.rs" {
		t.Fatalf("definitions = %#v, want exactly one in src/lib.rs", data["definitions"])
	}
}

func TestReadFileRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "inside.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}
	srv := newTestServer(t, root)

	out, err := srv.handleReadFile(&callCtx{ctx: context.Background()}, map[string]any{"path": "../outside.txt"})
	if err != nil {
		t.Fatalf("handleReadFile() err = %v", err)
	}
	if !out.IsError {
		t.Fatalf("IsError = false, want true for a path escaping the repository root")
	}
}

func TestReadFileWithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "inside.txt"), []byte("line1\nline2\nline3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}
	srv := newTestServer(t, root)

	out, err := srv.handleReadFile(&callCtx{ctx: context.Background()}, map[string]any{"path": "inside.txt"})
	if err != nil {
		t.Fatalf("handleReadFile() err = %v", err)
	}
	if out.IsError {
		t.Fatalf("IsError = true, want a clean read: %+v", out)
	}

	ranged, err := srv.handleReadFile(&callCtx{ctx: context.Background()}, map[string]any{
		"path": "inside.txt", "start_line": 2, "end_line": 2,
	})
	if err != nil {
		t.Fatalf("handleReadFile(ranged) err = %v", err)
	}
	if ranged.IsError {
		t.Fatalf("IsError = true, want a clean ranged read: %+v", ranged)
	}
	data, ok := ranged.StructuredContent.(map[string]any)
	if !ok || data["content"] != "line2" {
		t.Fatalf("StructuredContent = %#v, want content=line2", ranged.StructuredContent)
	}
}

func TestListDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("text\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}
	srv := newTestServer(t, root)

	out, err := srv.handleListDirectory(&callCtx{ctx: context.Background()}, map[string]any{"pattern": "*.go"})
	if err != nil {
		t.Fatalf("handleListDirectory() err = %v", err)
	}
	data, ok := out.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("StructuredContent = %#v, want map", out.StructuredContent)
	}
	entries, ok := data["entries"].([]dirEntryInfo)
	if !ok || len(entries) != 1 || entries[0].Name != "a.go" {
		t.Fatalf("entries = %#v, want exactly [a.go]", data["entries"])
	}
}

func TestDependencyPathNotFoundReportsDiagnostics(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	indexSymbol(t, srv, "src/a.rs", "alpha", 1)
	indexSymbol(t, srv, "src/b.rs", "beta", 1)

	out, err := srv.handleDependencyPath(&callCtx{ctx: context.Background()}, map[string]any{
		"from": "alpha", "to": "beta",
	})
	if err != nil {
		t.Fatalf("handleDependencyPath() err = %v", err)
	}
	if out.IsError {
		t.Fatalf("IsError = true, want a handled (not-found) result: %+v", out)
	}
	data, ok := out.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("StructuredContent = %#v, want map", out.StructuredContent)
	}
	if found, _ := data["found"].(bool); found {
		t.Fatalf("found = true, want false (alpha and beta are unrelated symbols)")
	}
	if _, ok := data["from"]; !ok {
		t.Errorf("data = %+v, want a 'from' selector diagnostic", data)
	}
	if _, ok := data["to"]; !ok {
		t.Errorf("data = %+v, want a 'to' selector diagnostic", data)
	}
}

func TestSelectorDiscoverMissingQueryIsScopeOnly(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	indexSymbol(t, srv, "src/a.rs", "alpha", 1)

	out, err := srv.handleSelectorDiscover(&callCtx{ctx: context.Background()}, map[string]any{})
	if err != nil {
		t.Fatalf("handleSelectorDiscover() err = %v", err)
	}
	if out.IsError {
		t.Fatalf("IsError = true, want a clean scope-only result: %+v", out)
	}
}
