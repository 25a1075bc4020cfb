package memory

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/harun/mneme/pkg/memstore"
)

// SearchMode is the ranking strategy picked from the available capabilities.
type SearchMode string

const (
	ModeHybrid  SearchMode = "hybrid"
	ModeVector  SearchMode = "vector"
	ModeKeyword SearchMode = "keyword"
	ModeNone    SearchMode = "none"
)

// SearchOptions overrides the configured query defaults for one call. Zero
// values keep the defaults.
type SearchOptions struct {
	MaxResults int      `json:"max_results,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// SearchResult is one ranked snippet.
type SearchResult struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
	Source    string  `json:"source"`
	Identity  string  `json:"identity,omitempty"`
	ChunkID   string  `json:"chunk_id,omitempty"`
}

// Weights are the hybrid fusion coefficients.
type Weights struct {
	Vector float64
	Text   float64
}

// Candidate is a chunk scored by one or both retrieval sides. The ranks are
// 1-based positions in each side's native order, 0 when absent.
type Candidate struct {
	memstore.Hit
	VectorScore float64
	TextScore   float64
	Score       float64
	VectorRank  int
	KeywordRank int
}

// SelectMode maps capabilities to a search mode. Without a provider the
// engine is keyword-only; with one, hybrid needs both indexes and hybrid
// enabled, otherwise vector ranking is used alone.
func SelectMode(hasProvider bool, caps memstore.Capabilities, hybrid bool) SearchMode {
	keyword := caps.Keyword.Available
	vector := hasProvider && caps.Vector.Available
	switch {
	case vector && keyword && hybrid:
		return ModeHybrid
	case vector:
		return ModeVector
	case keyword:
		return ModeKeyword
	default:
		return ModeNone
	}
}

// QueryTokens splits raw into runs of Unicode letters, digits and underscores.
func QueryTokens(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// BuildMatchQuery turns free text into an FTS5 expression requiring every
// token: "a" AND "b". It reports false when raw has no tokens.
func BuildMatchQuery(raw string) (string, bool) {
	tokens := QueryTokens(raw)
	if len(tokens) == 0 {
		return "", false
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, "") + `"`
	}
	return strings.Join(quoted, " AND "), true
}

// KeywordScore maps a native bm25 rank to (0, 1]. SQLite reports bm25 as a
// non-positive number, so matched rows score 1.
func KeywordScore(rank float64) float64 {
	return 1 / (1 + max(0, rank))
}

// VectorScore maps cosine distance to similarity.
func VectorScore(distance float64) float64 {
	return 1 - distance
}

// TruncateSnippet shortens text to at most maxChars characters without
// splitting a multi-byte character.
func TruncateSnippet(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// KeywordCandidates scores keyword hits.
func KeywordCandidates(hits []memstore.Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		s := KeywordScore(h.Raw)
		out[i] = Candidate{Hit: h, TextScore: s, Score: s, KeywordRank: i + 1}
	}
	return out
}

// VectorCandidates scores vector hits.
func VectorCandidates(hits []memstore.Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		s := VectorScore(h.Raw)
		out[i] = Candidate{Hit: h, VectorScore: s, Score: s, VectorRank: i + 1}
	}
	return out
}

// MergeHybrid joins both sides by chunk id with
// score = w.Vector*vector + w.Text*text; a side without a hit contributes 0.
func MergeHybrid(vector, keyword []Candidate, w Weights) []Candidate {
	byID := make(map[string]*Candidate, len(vector)+len(keyword))
	order := make([]string, 0, len(vector)+len(keyword))

	for _, c := range vector {
		if _, ok := byID[c.ID]; ok {
			continue
		}
		cc := Candidate{Hit: c.Hit, VectorScore: c.VectorScore, VectorRank: c.VectorRank}
		byID[c.ID] = &cc
		order = append(order, c.ID)
	}
	for _, c := range keyword {
		if existing, ok := byID[c.ID]; ok {
			existing.TextScore = c.TextScore
			existing.KeywordRank = c.KeywordRank
			continue
		}
		cc := Candidate{Hit: c.Hit, TextScore: c.TextScore, KeywordRank: c.KeywordRank}
		byID[c.ID] = &cc
		order = append(order, c.ID)
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.Score = w.Vector*c.VectorScore + w.Text*c.TextScore
		out = append(out, *c)
	}
	sortCandidates(out, w.Vector > w.Text)
	return out
}

// SortCandidates orders by score descending. Equal scores fall back to the
// keyword rank, then the vector rank, then chunk id.
func SortCandidates(c []Candidate) {
	sortCandidates(c, false)
}

// sortCandidates breaks score ties by the rank of the heavier side first.
func sortCandidates(c []Candidate, vectorFirst bool) {
	first := func(x Candidate) int { return x.KeywordRank }
	second := func(x Candidate) int { return x.VectorRank }
	if vectorFirst {
		first, second = second, first
	}
	sort.SliceStable(c, func(i, j int) bool {
		a, b := c[i], c[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if first(a) != first(b) {
			return rankLess(first(a), first(b))
		}
		if second(a) != second(b) {
			return rankLess(second(a), second(b))
		}
		return a.ID < b.ID
	})
}

// rankLess orders present ranks before absent (0) ones.
func rankLess(a, b int) bool {
	switch {
	case a == 0:
		return false
	case b == 0:
		return true
	default:
		return a < b
	}
}

// Finalize drops candidates below minScore, truncates to maxResults and
// renders snippets.
func Finalize(c []Candidate, minScore float64, maxResults, snippetChars int, identity string) []SearchResult {
	out := make([]SearchResult, 0, min(len(c), max(maxResults, 0)))
	for _, cand := range c {
		if len(out) >= maxResults {
			break
		}
		if cand.Score < minScore {
			continue
		}
		out = append(out, SearchResult{
			Path:      cand.Path,
			StartLine: cand.StartLine,
			EndLine:   cand.EndLine,
			Score:     cand.Score,
			Snippet:   TruncateSnippet(cand.Text, snippetChars),
			Source:    cand.Source,
			Identity:  identity,
			ChunkID:   cand.ID,
		})
	}
	return out
}
