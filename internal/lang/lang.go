package lang

import "strings"

// Language identifies a supported programming (or markup/config) language
// by a stable string tag. The tag is also used as the `lang` component of
// symbol_name and module entity keys, so it must never change once assigned.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	Go         Language = "go"
	Rust       Language = "rust"
	Java       Language = "java"
	C          Language = "c"
	CPP        Language = "cpp"
	CSharp     Language = "c-sharp"
	PHP        Language = "php"
	Lua        Language = "lua"
	Scala      Language = "scala"
	Kotlin     Language = "kotlin"
	Bash       Language = "bash"
	CSS        Language = "css"
	Dart       Language = "dart"
	Dockerfile Language = "dockerfile"
	Elixir     Language = "elixir"
	Erlang     Language = "erlang"
	Groovy     Language = "groovy"
	Haskell    Language = "haskell"
	HCL        Language = "hcl"
	HTML       Language = "html"
	ObjectiveC Language = "objc"
	OCaml      Language = "ocaml"
	Perl       Language = "perl"
	R          Language = "r"
	Ruby       Language = "ruby"
	SCSS       Language = "scss"
	SQL        Language = "sql"
	Swift      Language = "swift"
	TOML       Language = "toml"
	YAML       Language = "yaml"
	Zig        Language = "zig"

	// JSON has no tree-sitter grammar wired in the corpus this registry was
	// built from. It serves only as the language hint discovery records for
	// recognized config file names (§4.F discovery policy);
	// ForLanguage/ForExtension never return a spec for it.
	JSON Language = "json"
)

// AllLanguages returns every language with a registered grammar, in a
// fixed, stable order.
func AllLanguages() []Language {
	all := []Language{
		Python, JavaScript, TypeScript, TSX, Go, Rust, Java, C, CPP, CSharp,
		PHP, Lua, Scala, Kotlin, Bash, CSS, Dart, Dockerfile, Elixir, Erlang,
		Groovy, Haskell, HCL, HTML, ObjectiveC, OCaml, Perl, R, Ruby, SCSS,
		SQL, Swift, TOML, YAML, Zig,
	}
	out := make([]Language, 0, len(all))
	for _, l := range all {
		if ForLanguage(l) != nil {
			out = append(out, l)
		}
	}
	return out
}

// LanguageSpec defines, for one language, the tree-sitter node kinds that
// stand in for that language's tag query: the set of node kinds whose
// presence in a parse tree signals a definition, a field, a module root, a
// call, or an import. The extractor (internal/extract) walks the
// tree once and classifies nodes against these lists in place of running a
// compiled .scm tag query — the retrieved grammar bindings do not ship
// queries in a form this registry can load, so classification-by-node-kind
// is the grounded substitute (see DESIGN.md).
type LanguageSpec struct {
	Language Language
	// FileExtensions are dotted extensions (".go") matched case-insensitively,
	// or bare file names ("Dockerfile") matched case-sensitively against the
	// full base name when no dotted extension applies.
	FileExtensions []string

	FunctionNodeTypes []string // definition.function
	ClassNodeTypes    []string // definition.class
	FieldNodeTypes    []string // definition.field
	ModuleNodeTypes   []string // the file/compilation-unit root node kind(s)
	CallNodeTypes     []string // reference.call
	ImportNodeTypes   []string // import (statement form)
	ImportFromTypes   []string // import (from/using form); may overlap ImportNodeTypes

	// PackageIndicators are manifest file names that mark a directory as
	// this language's package root. Neither discovery nor the import
	// resolver reads this list.
	PackageIndicators []string
}

// DeclarationContextKinds returns the union of node kinds under which a
// plain identifier is part of a declaration, not a reference — the
// "declaration-context parent kinds" of the glossary. An identifier whose
// immediate parent kind appears here is never emitted as Reference{Ref}.
func (s *LanguageSpec) DeclarationContextKinds() map[string]bool {
	out := make(map[string]bool)
	for _, group := range [][]string{s.FunctionNodeTypes, s.ClassNodeTypes, s.ModuleNodeTypes, s.ImportNodeTypes, s.ImportFromTypes} {
		for _, k := range group {
			out[k] = true
		}
	}
	return out
}

// registry maps lowercased dotted extensions to language specs.
var registry = map[string]*LanguageSpec{}

// bareNames maps exact (case-sensitive) base file names, for languages
// detected by full name rather than extension (e.g. "Dockerfile").
var bareNames = map[string]*LanguageSpec{}

// byLanguage allows O(1) lookup by language tag.
var byLanguage = map[Language]*LanguageSpec{}

// Register adds a LanguageSpec to the global registry, indexed by every
// extension or bare file name it declares.
func Register(spec *LanguageSpec) {
	for _, ext := range spec.FileExtensions {
		if strings.HasPrefix(ext, ".") {
			registry[strings.ToLower(ext)] = spec
		} else {
			bareNames[ext] = spec
		}
	}
	byLanguage[spec.Language] = spec
}

// ForExtension returns the LanguageSpec for a file extension. Per
// detect_from_extension in §4.A: case-insensitive, leading dot tolerated.
func ForExtension(ext string) *LanguageSpec {
	if ext == "" {
		return nil
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return registry[strings.ToLower(ext)]
}

// ForFileName returns the LanguageSpec matching a full base file name
// (e.g. "Dockerfile"), independent of any extension-based lookup.
func ForFileName(name string) *LanguageSpec {
	return bareNames[name]
}

// ForLanguage returns the LanguageSpec for a language tag, or nil if no
// grammar is registered for it.
func ForLanguage(language Language) *LanguageSpec {
	return byLanguage[language]
}

// LanguageForExtension returns the Language for a file extension, total
// failure returning (_, false) rather than a zero value that could be
// mistaken for a real language.
func LanguageForExtension(ext string) (Language, bool) {
	spec := ForExtension(ext)
	if spec == nil {
		return "", false
	}
	return spec.Language, true
}
