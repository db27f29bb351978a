// Command codegraph indexes a repository into a local code graph and
// answers structural queries against it, either as one-shot CLI
// subcommands, a watching daemon, or an MCP/JSON-RPC server on standard
// I/O.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/riverglass/codegraph/internal/config"
	"github.com/riverglass/codegraph/internal/runpath"
	"github.com/riverglass/codegraph/internal/store"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "--version":
		fmt.Println("codegraph", version)
		return 0
	case "index":
		return runIndex(args[1:])
	case "serve":
		return runServe(args[1:])
	case "query":
		return runQuery(args[1:])
	case "mcp":
		return runMCP(args[1:])
	case "--help", "-h", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: codegraph <subcommand> [flags]

Subcommands:
  index [--repo DIR] [--full] [--json] [--state-dir D] [--db FILE]
      One-shot index of a repository; prints a report.
  serve [--repo DIR] [--full-first] [--debounce-ms N] [--json] [--state-dir D] [--db FILE]
      Watch a repository and re-index on change.
  query <symbol|refs|callers|deps|slice|clones> ... [--repo DIR] [--json] [--state-dir D] [--db FILE]
      Run one query against the current index.
  mcp [--repo DIR] [--auto-index BOOL] [--full-first] [--state-dir D] [--db FILE]
      Serve the JSON-RPC/MCP tool surface on standard I/O.`)
}

// openPaths resolves repository layout and opens the graph store shared by
// every subcommand, creating the state directory on first use.
func openPaths(repoHint, stateDirOverride, dbOverride string) (*runpath.Paths, *store.Store, *config.Config, error) {
	paths, err := runpath.Resolve(repoHint, stateDirOverride, dbOverride)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve repository layout: %w", err)
	}
	if err := runpath.EnsureLayout(paths); err != nil {
		return nil, nil, nil, err
	}
	s, err := store.Open(paths.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open graph database: %w", err)
	}
	cfg := config.Load(paths.RepoRoot)
	if err := cfg.Validate(); err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("invalid %s: %w", config.FileName, err)
	}
	return paths, s, cfg, nil
}

func newLogger(jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// flagSet is a small flat --name/--name=value/--bool-flag parser in the
// style this repository's commands use throughout — no external flag
// library, matching the teacher's own hand-rolled CLI parsing.
type flagSet struct {
	strs   map[string]*string
	ints   map[string]*int
	bools  map[string]*bool
	floats map[string]*float64
}

func newFlagSet() *flagSet {
	return &flagSet{
		strs:   make(map[string]*string),
		ints:   make(map[string]*int),
		bools:  make(map[string]*bool),
		floats: make(map[string]*float64),
	}
}

func (f *flagSet) str(name, def string) *string {
	v := def
	f.strs[name] = &v
	return &v
}

func (f *flagSet) intVal(name string, def int) *int {
	v := def
	f.ints[name] = &v
	return &v
}

func (f *flagSet) boolVal(name string, def bool) *bool {
	v := def
	f.bools[name] = &v
	return &v
}

func (f *flagSet) floatVal(name string, def float64) *float64 {
	v := def
	f.floats[name] = &v
	return &v
}

// parse scans args for recognized --flags (as "--flag value" or
// "--flag=value") and returns whatever positional arguments are left, in
// order.
func (f *flagSet) parse(args []string) ([]string, error) {
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		name, inlineVal, hasInline := splitFlag(a)
		if name == "" {
			rest = append(rest, a)
			continue
		}

		if p, ok := f.bools[name]; ok {
			if hasInline {
				*p = inlineVal == "true" || inlineVal == "1"
			} else {
				*p = true
			}
			continue
		}

		value := inlineVal
		if !hasInline {
			i++
			if i >= len(args) {
				return nil, fmt.Errorf("flag --%s requires a value", name)
			}
			value = args[i]
		}

		if p, ok := f.strs[name]; ok {
			*p = value
			continue
		}
		if p, ok := f.ints[name]; ok {
			n, err := parseIntFlag(name, value)
			if err != nil {
				return nil, err
			}
			*p = n
			continue
		}
		if p, ok := f.floats[name]; ok {
			n, err := parseFloatFlag(name, value)
			if err != nil {
				return nil, err
			}
			*p = n
			continue
		}

		return nil, fmt.Errorf("unknown flag --%s", name)
	}
	return rest, nil
}

// splitFlag returns ("", "", false) for a non-flag argument, otherwise the
// flag name (without leading dashes) and, if present, an inline "=value".
func splitFlag(a string) (name, value string, hasInline bool) {
	if len(a) < 3 || a[0] != '-' || a[1] != '-' {
		return "", "", false
	}
	body := a[2:]
	for i := 0; i < len(body); i++ {
		if body[i] == '=' {
			return body[:i], body[i+1:], true
		}
	}
	return body, "", false
}

func parseIntFlag(name, value string) (int, error) {
	n := 0
	neg := false
	i := 0
	if len(value) > 0 && value[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(value) {
		return 0, fmt.Errorf("flag --%s: invalid integer %q", name, value)
	}
	for ; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, fmt.Errorf("flag --%s: invalid integer %q", name, value)
		}
		n = n*10 + int(value[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

func parseFloatFlag(name, value string) (float64, error) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("flag --%s: invalid float %q", name, value)
	}
	return n, nil
}
