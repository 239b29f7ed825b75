// Package signal derives the per-text features everything downstream scores
// with: keyword sets, capitalized-entity sets, and embedding vectors. The
// embedding function is pluggable; the built-in hashing embedder is fully
// deterministic so the engine stays testable without a model behind it.
package signal

import (
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	// HashDimensions is the vector length of the fallback hashing embedder.
	HashDimensions = 256

	// DefaultMaxKeywords and DefaultMaxEntities bound the ranked term lists.
	DefaultMaxKeywords = 12
	DefaultMaxEntities = 8

	minTokenLen = 3
)

// Embedder turns text into a fixed-length vector.
type Embedder func(text string) []float32

// TermFunc extracts up to max ranked terms from text.
type TermFunc func(text string, max int) []string

// stopwords is the fixed stop-word set applied before keyword ranking.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "any": {}, "can": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "had": {},
	"his": {}, "its": {}, "this": {}, "that": {}, "with": {}, "from": {},
	"they": {}, "their": {}, "will": {}, "would": {}, "there": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"about": {}, "after": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "between": {}, "into": {}, "more": {}, "over": {},
	"said": {}, "says": {}, "some": {}, "such": {}, "than": {},
	"then": {}, "them": {}, "these": {}, "those": {}, "under": {},
	"were": {}, "amid": {}, "among": {}, "during": {}, "against": {},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9-]*`)

// Tokenize lowercases text, collapses whitespace, and returns word-character
// (plus hyphen) tokens of length >= 3. Stop words are kept; keyword ranking
// strips them.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	raw := tokenPattern.FindAllString(lowered, -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) < minTokenLen {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// Keywords returns the top max non-stop-word tokens ranked by frequency,
// ties broken lexicographically.
func Keywords(text string, max int) []string {
	freq := make(map[string]int)
	for _, tok := range Tokenize(text) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		freq[tok]++
	}
	return rankTerms(freq, max)
}

// Entities returns capitalized-word sequences from the raw text, ranked the
// same way as keywords. A sequence ends at the first non-capitalized word.
func Entities(text string, max int) []string {
	freq := make(map[string]int)
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		entity := strings.ToLower(strings.Join(run, " "))
		if len(entity) >= minTokenLen {
			freq[entity]++
		}
		run = run[:0]
	}
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) {
			run = append(run, word)
			continue
		}
		flush()
	}
	flush()
	return rankTerms(freq, max)
}

func rankTerms(freq map[string]int, max int) []string {
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if max > 0 && len(terms) > max {
		terms = terms[:max]
	}
	return terms
}

// HashingEmbedder returns the deterministic fallback embedder: each token is
// hashed into one of dim buckets, counts accumulate, and the result is
// L2-normalized. Identical text always embeds identically.
func HashingEmbedder(dim int) Embedder {
	if dim <= 0 {
		dim = HashDimensions
	}
	return func(text string) []float32 {
		vec := make([]float32, dim)
		for _, tok := range Tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[int(h.Sum32())%dim]++
		}
		return l2Normalize(vec)
	}
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Cosine computes cosine similarity between two vectors. Mismatched lengths
// or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Jaccard computes set overlap between two term lists: |A∩B| / |A∪B|.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// OverlapCoefficient computes |A∩B| / min(|A|,|B|) over int64 id lists.
// Unlike jaccard, a small set fully contained in a large one scores 1.
func OverlapCoefficient(a, b []int64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[int64]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	inter := 0
	seen := make(map[int64]struct{}, len(b))
	for _, id := range b {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := setA[id]; ok {
			inter++
		}
	}
	minLen := len(setA)
	if len(seen) < minLen {
		minLen = len(seen)
	}
	if minLen == 0 {
		return 0
	}
	return float64(inter) / float64(minLen)
}

// NormalizeRegion canonicalizes a free-text region for comparison. Empty
// strings and the adaptation marker normalize to "" (unknown).
func NormalizeRegion(region string) string {
	r := strings.ToLower(strings.TrimSpace(region))
	if strings.Contains(r, "adaptation") {
		return ""
	}
	return strings.Join(strings.Fields(r), " ")
}
