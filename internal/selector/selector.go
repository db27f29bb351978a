// Package selector parses and resolves the textual selectors used
// throughout the query engine — "file:path", "symbol_name:lang:name",
// "symbol:name", "key:raw", or a bare value tried as each of those in turn
// ("auto"). Resolution is a tagged variant dispatched by a type switch,
// not a subtype hierarchy: every case goes through the same uniform
// Resolution shape.
package selector

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/riverglass/codegraph/internal/store"
)

// Kind names which selector form a raw string parsed as.
type Kind string

const (
	KindKey        Kind = "key"
	KindFile       Kind = "file"
	KindSymbolName Kind = "symbol_name"
	KindSymbol     Kind = "symbol"
	KindAuto       Kind = "auto"
)

// Parsed is the tagged-variant result of parsing a raw selector string,
// before any store lookup happens.
type Parsed struct {
	Kind  Kind
	Lang  string // only set for KindSymbolName
	Value string
}

// Parse classifies a raw selector string by its prefix. A string with no
// recognized prefix, or a malformed "symbol_name:" missing its second
// colon, parses as KindAuto — resolved by trying every other form in turn.
func Parse(raw string) Parsed {
	switch {
	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		return Parsed{Kind: KindFile, Value: filepath.ToSlash(strings.ReplaceAll(path, "\\", "/"))}
	case strings.HasPrefix(raw, "symbol_name:"):
		rest := strings.TrimPrefix(raw, "symbol_name:")
		lang, name, ok := strings.Cut(rest, ":")
		if !ok || name == "" {
			return Parsed{Kind: KindAuto, Value: raw}
		}
		return Parsed{Kind: KindSymbolName, Lang: lang, Value: name}
	case strings.HasPrefix(raw, "symbol:"):
		return Parsed{Kind: KindSymbol, Value: strings.TrimPrefix(raw, "symbol:")}
	case strings.HasPrefix(raw, "key:"):
		return Parsed{Kind: KindKey, Value: strings.TrimPrefix(raw, "key:")}
	default:
		return Parsed{Kind: KindAuto, Value: raw}
	}
}

// Resolution is the uniform shape every selector kind resolves to:
// {parsed_as, candidates, chosen}.
type Resolution struct {
	ParsedAs   Kind
	Candidates []store.Entity
	Chosen     *store.Entity
}

// ErrInvalidSelector reports a selector that parsed into a recognized
// form but whose resolution found no candidates.
type ErrInvalidSelector struct {
	Raw string
}

func (e *ErrInvalidSelector) Error() string {
	return fmt.Sprintf(
		"no entity matches selector %q (valid forms: file:<path>, symbol_name:<lang>:<name>, symbol:<name>, key:<raw key>, or a bare name/path)",
		e.Raw)
}

// Resolve parses raw and resolves it against s, returning the candidate
// list and chosen entity for every kind uniformly. Resolve never errors on
// a selector that resolves to zero candidates — callers that need to
// reject an unresolved selector check Resolution.Chosen == nil themselves,
// since some call sites (dependency_path) treat "not found" as a valid,
// non-error result.
func Resolve(s *store.Store, raw string) (*Resolution, error) {
	parsed := Parse(raw)
	switch parsed.Kind {
	case KindFile:
		return resolveByKey(s, KindFile, store.FileKey(parsed.Value))
	case KindSymbolName:
		return resolveByKey(s, KindSymbolName, store.SymbolNameKey(parsed.Lang, parsed.Value))
	case KindKey:
		return resolveByKey(s, KindKey, parsed.Value)
	case KindSymbol:
		candidates, err := s.EntitiesByName(parsed.Value, "symbol")
		if err != nil {
			return nil, err
		}
		return chooseFirst(KindSymbol, candidates), nil
	default:
		return resolveAuto(s, raw)
	}
}

func resolveByKey(s *store.Store, kind Kind, key string) (*Resolution, error) {
	e, err := s.FindEntityByKey(key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return &Resolution{ParsedAs: kind}, nil
	}
	return &Resolution{ParsedAs: kind, Candidates: []store.Entity{*e}, Chosen: e}, nil
}

// resolveAuto tries, in order, a literal key, a "file:" shorthand, then a
// bare-name lookup across every entity type — collecting and deduping
// candidates, ranked by entity-type priority (symbol, symbol_name, file,
// module, other).
func resolveAuto(s *store.Store, raw string) (*Resolution, error) {
	if e, err := s.FindEntityByKey(raw); err != nil {
		return nil, err
	} else if e != nil {
		return &Resolution{ParsedAs: KindAuto, Candidates: []store.Entity{*e}, Chosen: e}, nil
	}

	if e, err := s.FindEntityByKey(store.FileKey(raw)); err != nil {
		return nil, err
	} else if e != nil {
		return &Resolution{ParsedAs: KindAuto, Candidates: []store.Entity{*e}, Chosen: e}, nil
	}

	candidates, err := s.EntitiesByName(raw, "")
	if err != nil {
		return nil, err
	}
	return chooseFirst(KindAuto, candidates), nil
}

func chooseFirst(kind Kind, candidates []store.Entity) *Resolution {
	r := &Resolution{ParsedAs: kind, Candidates: candidates}
	if len(candidates) > 0 {
		chosen := candidates[0]
		r.Chosen = &chosen
	}
	return r
}
