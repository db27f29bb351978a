// Package fingerprint implements the winnowing tokenizer and selector of
// §4.D: a stable, content-dependent multiset of signed 64-bit fingerprints
// with token spans, used downstream for clone detection (§4.G).
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// K is the k-gram width in tokens.
const K = 5

// W is the winnowing window width in k-grams.
const W = 4

// Fingerprint is one selected k-gram: its hash and its token span
// [Start, End) in token indices, not byte offsets.
type Fingerprint struct {
	Hash  int64
	Start int
	End   int
}

// Build tokenizes content and returns its winnowed fingerprints using the
// canonical parameters K=5, W=4. The hash is mandated to be the first 8
// bytes of SHA-256 interpreted as big-endian signed 64-bit — this is
// intentional for stable cross-run ordering (§9); do not substitute a
// faster, unspecified hash here.
func Build(content string) []Fingerprint {
	return build(content, K, W)
}

func build(content string, k, w int) []Fingerprint {
	tokens := Tokenize(content)
	if k == 0 || w == 0 || len(tokens) < k {
		return nil
	}

	numGrams := len(tokens) - k + 1
	grams := make([]Fingerprint, numGrams)
	for i := 0; i < numGrams; i++ {
		grams[i] = Fingerprint{
			Hash:  hashKGram(tokens[i : i+k]),
			Start: i,
			End:   i + k,
		}
	}

	var selected []Fingerprint
	if len(grams) <= w {
		selected = grams
	} else {
		for i := 0; i+w <= len(grams); i++ {
			window := grams[i : i+w]
			min := window[0]
			for _, g := range window[1:] {
				if g.Hash < min.Hash {
					min = g
				}
			}
			selected = append(selected, min)
		}
	}

	return dedup(selected)
}

// Tokenize splits content on any character that is not ASCII alphanumeric
// or underscore, discards empty parts, and lower-cases the rest.
func Tokenize(content string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, strings.ToLower(b.String()))
			b.Reset()
		}
	}
	for _, r := range content {
		if isWordRune(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	default:
		return false
	}
}

func hashKGram(tokens []string) int64 {
	joined := strings.Join(tokens, " ")
	sum := sha256.Sum256([]byte(joined))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func dedup(fps []Fingerprint) []Fingerprint {
	type key struct {
		hash  int64
		start int
	}
	seen := make(map[key]bool, len(fps))
	out := make([]Fingerprint, 0, len(fps))
	for _, fp := range fps {
		k := key{fp.Hash, fp.Start}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, fp)
	}
	return out
}
