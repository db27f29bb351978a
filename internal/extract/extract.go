// Package extract drives a grammar over source text and produces the
// definitions, references, and imports that the per-file upsert transaction
// (internal/store) turns into entities and edges. It implements §4.B of
// the specification: a single tree walk classifying nodes by the language
// registry's node-kind lists, standing in for a compiled tag query.
package extract

import (
	"fmt"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/riverglass/codegraph/internal/lang"
	"github.com/riverglass/codegraph/internal/parser"
)

// ReferenceKind distinguishes a call site from a plain identifier reference.
type ReferenceKind int

const (
	Ref ReferenceKind = iota
	Call
)

// EdgeType returns the store edge type this reference kind produces.
func (k ReferenceKind) EdgeType() string {
	if k == Call {
		return "calls"
	}
	return "references"
}

// Definition is a provisional definition site before qualname assignment.
type Definition struct {
	Name     string
	Qualname string
	Kind     string
	Line     int
	Col      int
	EndLine  int
	EndCol   int

	startByte uint
	endByte   uint
}

// Reference is an identifier use, either a call site or a plain reference.
type Reference struct {
	Name    string
	Kind    ReferenceKind
	Line    int
	Col     int
	EndLine int
	EndCol  int
}

// Import is a raw, language-normalized import string with its statement position.
type Import struct {
	Module string
	Line   int
	Col    int
}

// FileExtraction is the full output of extracting one file.
type FileExtraction struct {
	Language    lang.Language
	Definitions []Definition
	References  []Reference
	Imports     []Import
}

// declContextDenyNames are identifier spellings that never count as a
// reference, regardless of grammar (glossary: "self"/"super").
var declContextDenyNames = map[string]bool{"self": true, "super": true}

// Extract parses source with the language's grammar and produces the
// file's definitions, references, and imports. Returns an error wrapping
// "parse failed" on grammar load or parse failure, per §4.B/§7.
func Extract(language lang.Language, source []byte) (*FileExtraction, error) {
	spec := lang.ForLanguage(language)
	if spec == nil {
		return nil, fmt.Errorf("parse failed: no language spec for %s", language)
	}

	tree, err := parser.Parse(language, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse failed: empty tree for %s", language)
	}

	kindSet := func(kinds []string) map[string]bool {
		m := make(map[string]bool, len(kinds))
		for _, k := range kinds {
			m[k] = true
		}
		return m
	}
	functionKinds := kindSet(spec.FunctionNodeTypes)
	classKinds := kindSet(spec.ClassNodeTypes)
	fieldKinds := kindSet(spec.FieldNodeTypes)
	callKinds := kindSet(spec.CallNodeTypes)
	importKinds := kindSet(spec.ImportNodeTypes)
	importFromKinds := kindSet(spec.ImportFromTypes)
	declContext := spec.DeclarationContextKinds()

	var (
		defs       []*Definition
		refs       []Reference
		imports    []Import
		nameBytes  = make(map[[2]uint]bool) // start/end byte of nodes consumed as a @name capture
		calleeUsed = make(map[[2]uint]bool) // start/end byte of identifiers already emitted as a call
	)

	parser.Walk(root, func(node *tree_sitter.Node) bool {
		kind := node.Kind()

		switch {
		case functionKinds[kind] || classKinds[kind] || fieldKinds[kind]:
			nameNode := definitionNameNode(node, functionKinds, classKinds, fieldKinds)
			name := "<anonymous>"
			if nameNode != nil {
				name = parser.NodeText(nameNode, source)
				nameBytes[[2]uint{nameNode.StartByte(), nameNode.EndByte()}] = true
			}
			start := node.StartPosition()
			end := node.EndPosition()
			defs = append(defs, &Definition{
				Name:      name,
				Kind:      kind,
				Line:      int(start.Row) + 1,
				Col:       int(start.Column) + 1,
				EndLine:   int(end.Row) + 1,
				EndCol:    int(end.Column) + 1,
				startByte: node.StartByte(),
				endByte:   node.EndByte(),
			})

		case callKinds[kind]:
			calleeNode := callCalleeNode(node)
			if calleeNode != nil {
				name := parser.NodeText(calleeNode, source)
				if name != "" && !declContextDenyNames[name] {
					start := calleeNode.StartPosition()
					end := calleeNode.EndPosition()
					refs = append(refs, Reference{
						Name: name, Kind: Call,
						Line: int(start.Row) + 1, Col: int(start.Column) + 1,
						EndLine: int(end.Row) + 1, EndCol: int(end.Column) + 1,
					})
					calleeUsed[[2]uint{calleeNode.StartByte(), calleeNode.EndByte()}] = true
				}
			}

		case importKinds[kind] || importFromKinds[kind]:
			raw := parser.NodeText(node, source)
			module := normalizeImport(language, raw)
			if module != "" {
				start := node.StartPosition()
				imports = append(imports, Import{
					Module: module,
					Line:   int(start.Row) + 1,
					Col:    int(start.Column) + 1,
				})
			}
			return false // don't descend into the import statement's own identifiers

		case isIdentifierKind(kind):
			if node.ChildCount() != 0 {
				break
			}
			key := [2]uint{node.StartByte(), node.EndByte()}
			if nameBytes[key] || calleeUsed[key] {
				break
			}
			name := parser.NodeText(node, source)
			if name == "" || declContextDenyNames[name] {
				break
			}
			parent := node.Parent()
			if parent != nil && declContext[parent.Kind()] {
				break
			}
			start := node.StartPosition()
			end := node.EndPosition()
			refs = append(refs, Reference{
				Name: name, Kind: Ref,
				Line: int(start.Row) + 1, Col: int(start.Column) + 1,
				EndLine: int(end.Row) + 1, EndCol: int(end.Column) + 1,
			})
		}
		return true
	})

	assignQualnames(defs)

	return &FileExtraction{
		Language:    language,
		Definitions: dedupDefinitions(defs),
		References:  dedupReferences(refs),
		Imports:     dedupImports(imports),
	}, nil
}

// definitionNameNode locates a definition node's name: the "name" field if
// the grammar exposes one, else the first identifier-like descendant that
// is not itself inside a nested definition.
func definitionNameNode(node *tree_sitter.Node, functionKinds, classKinds, fieldKinds map[string]bool) *tree_sitter.Node {
	if n := node.ChildByFieldName("name"); n != nil {
		return n
	}
	var found *tree_sitter.Node
	var walk func(n *tree_sitter.Node, isRoot bool)
	walk = func(n *tree_sitter.Node, isRoot bool) {
		if found != nil || n == nil {
			return
		}
		if !isRoot && (functionKinds[n.Kind()] || classKinds[n.Kind()] || fieldKinds[n.Kind()]) {
			return // don't reach into a nested definition for a name
		}
		if isIdentifierKind(n.Kind()) && n.ChildCount() == 0 {
			found = n
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i), false)
			if found != nil {
				return
			}
		}
	}
	walk(node, true)
	return found
}

// callCalleeNode resolves the identifier naming a call site: nested "name"
// field preferred, else the "function" field, else the deepest terminal
// identifier in the node.
func callCalleeNode(node *tree_sitter.Node) *tree_sitter.Node {
	if n := node.ChildByFieldName("name"); n != nil {
		return deepestIdentifier(n)
	}
	if n := node.ChildByFieldName("function"); n != nil {
		return deepestIdentifier(n)
	}
	return deepestIdentifier(node)
}

// deepestIdentifier returns the last (rightmost in traversal order)
// terminal identifier-like node under n, or n itself if n is one.
func deepestIdentifier(n *tree_sitter.Node) *tree_sitter.Node {
	if n == nil {
		return nil
	}
	if isIdentifierKind(n.Kind()) && n.ChildCount() == 0 {
		return n
	}
	var last *tree_sitter.Node
	parser.Walk(n, func(node *tree_sitter.Node) bool {
		if isIdentifierKind(node.Kind()) && node.ChildCount() == 0 {
			last = node
		}
		return true
	})
	if last != nil {
		return last
	}
	return n
}

// isIdentifierKind is a cross-grammar heuristic for "this leaf node names
// something": every retrieved grammar binding uses a node kind containing
// "identifier" for bare names (identifier, field_identifier, type_identifier,
// simple_identifier, property_identifier, shorthand_property_identifier, …).
func isIdentifierKind(kind string) bool {
	return strings.Contains(kind, "identifier") || kind == "constant" || kind == "word"
}

// assignQualnames runs the enclosing-definition stack algorithm of §4.B:
// sort by (start_byte asc, end_byte desc), track a stack of definitions
// still open, and join with "::" when the current definition is fully
// contained in the one on top of the stack.
func assignQualnames(defs []*Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].startByte != defs[j].startByte {
			return defs[i].startByte < defs[j].startByte
		}
		return defs[i].endByte > defs[j].endByte
	})

	var stack []*Definition
	for _, d := range defs {
		for len(stack) > 0 && stack[len(stack)-1].endByte <= d.startByte {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.startByte <= d.startByte && top.endByte >= d.endByte {
				d.Qualname = top.Qualname + "::" + d.Name
			} else {
				d.Qualname = d.Name
			}
		} else {
			d.Qualname = d.Name
		}
		stack = append(stack, d)
	}
}

func dedupDefinitions(defs []*Definition) []Definition {
	seen := make(map[string]bool, len(defs))
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		key := fmt.Sprintf("%s:%s:%d:%d", d.Qualname, d.Kind, d.Line, d.Col)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, *d)
	}
	return out
}

func dedupReferences(refs []Reference) []Reference {
	seen := make(map[string]bool, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		key := fmt.Sprintf("%s:%s:%d:%d", r.Name, r.Kind.EdgeType(), r.Line, r.Col)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func dedupImports(imports []Import) []Import {
	seen := make(map[string]bool, len(imports))
	out := make([]Import, 0, len(imports))
	for _, imp := range imports {
		key := fmt.Sprintf("%s:%d:%d", imp.Module, imp.Line, imp.Col)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, imp)
	}
	return out
}

// normalizeImport applies the per-language raw-text normalization of §4.B.
func normalizeImport(language lang.Language, raw string) string {
	raw = strings.TrimSpace(raw)
	switch language {
	case lang.Rust:
		raw = strings.TrimPrefix(raw, "use ")
		raw = strings.TrimSuffix(raw, ";")
		return strings.TrimSpace(raw)
	case lang.Python:
		raw = strings.TrimPrefix(raw, "from ")
		raw = strings.TrimPrefix(raw, "import ")
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			return ""
		}
		return strings.TrimSuffix(fields[0], ",")
	default:
		return raw
	}
}
