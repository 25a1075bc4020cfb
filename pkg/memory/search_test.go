package memory

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mneme/pkg/memstore"
)

func TestQueryTokens(t *testing.T) {
	assert.Equal(t, []string{"deploy", "v2_final", "café", "naïve", "x"}, QueryTokens("deploy: v2_final, café naïve-x!"))
	assert.Empty(t, QueryTokens("  --- ?! "))
}

func TestBuildMatchQuery(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  string
		valid bool
	}{
		{"single", "deploy", `"deploy"`, true},
		{"conjunction", "blue green deploy", `"blue" AND "green" AND "deploy"`, true},
		{"operators are literals", "cats OR dogs", `"cats" AND "OR" AND "dogs"`, true},
		{"quotes stripped", `say "hi"`, `"say" AND "hi"`, true},
		{"punctuation only", "*** ()", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BuildMatchQuery(tt.raw)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScores(t *testing.T) {
	assert.Equal(t, 1.0, KeywordScore(-7.5))
	assert.Equal(t, 1.0, KeywordScore(0))
	assert.Equal(t, 0.5, KeywordScore(1))

	assert.Equal(t, 1.0, VectorScore(0))
	assert.InDelta(t, 0.25, VectorScore(0.75), 1e-9)
}

func TestTruncateSnippet(t *testing.T) {
	assert.Equal(t, "hello", TruncateSnippet("hello", 10))
	assert.Equal(t, "hel", TruncateSnippet("hello", 3))
	assert.Equal(t, "hello", TruncateSnippet("hello", 0))

	for _, text := range []string{"a😀b😀c😀", "日本語のテキスト", "é́é́é́", "𝔘𝔫𝔦𝔠𝔬𝔡𝔢"} {
		for n := 1; n <= utf8.RuneCountInString(text); n++ {
			got := TruncateSnippet(text, n)
			assert.True(t, utf8.ValidString(got), "%q cut at %d", text, n)
			assert.Equal(t, n, utf8.RuneCountInString(got))
		}
	}
}

func TestSelectMode(t *testing.T) {
	on := memstore.Capability{Available: true}
	off := memstore.Capability{Reason: "missing"}

	tests := []struct {
		name     string
		provider bool
		caps     memstore.Capabilities
		hybrid   bool
		want     SearchMode
	}{
		{"hybrid", true, memstore.Capabilities{Keyword: on, Vector: on}, true, ModeHybrid},
		{"hybrid disabled", true, memstore.Capabilities{Keyword: on, Vector: on}, false, ModeVector},
		{"no keyword index", true, memstore.Capabilities{Keyword: off, Vector: on}, true, ModeVector},
		{"no vector index", true, memstore.Capabilities{Keyword: on, Vector: off}, true, ModeKeyword},
		{"no provider", false, memstore.Capabilities{Keyword: on, Vector: on}, true, ModeKeyword},
		{"nothing", false, memstore.Capabilities{Keyword: off, Vector: off}, true, ModeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectMode(tt.provider, tt.caps, tt.hybrid))
		})
	}
}

func hit(id string, raw float64) memstore.Hit {
	return memstore.Hit{ID: id, Path: id + ".md", Source: "memory", StartLine: 1, EndLine: 2, Text: "text " + id, Raw: raw}
}

func ids(c []Candidate) []string {
	out := make([]string, len(c))
	for i, x := range c {
		out[i] = x.ID
	}
	return out
}

func TestMergeHybrid(t *testing.T) {
	vector := VectorCandidates([]memstore.Hit{hit("a", 0.1), hit("b", 0.3), hit("c", 0.6)})
	keyword := KeywordCandidates([]memstore.Hit{hit("c", -3), hit("d", -2)})

	merged := MergeHybrid(vector, keyword, Weights{Vector: 0.7, Text: 0.3})
	byID := map[string]Candidate{}
	for _, c := range merged {
		byID[c.ID] = c
	}

	assert.Len(t, merged, 4)
	assert.InDelta(t, 0.7*0.9, byID["a"].Score, 1e-9)
	assert.InDelta(t, 0.7*0.4+0.3, byID["c"].Score, 1e-9)
	assert.InDelta(t, 0.3, byID["d"].Score, 1e-9, "keyword-only hit gets 0 from the vector side")
	assert.Equal(t, 1, byID["c"].KeywordRank)
	assert.Equal(t, 3, byID["c"].VectorRank)

	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i-1].Score, merged[i].Score)
	}
}

func TestMergeHybrid_EdgeWeights(t *testing.T) {
	vHits := []memstore.Hit{hit("a", 0.05), hit("b", 0.2), hit("c", 0.4), hit("d", 0.7)}
	kHits := []memstore.Hit{hit("d", -4), hit("e", -3), hit("a", -1)}

	vectorOnly := VectorCandidates(vHits)
	SortCandidates(vectorOnly)
	keywordOnly := KeywordCandidates(kHits)
	SortCandidates(keywordOnly)

	vecHybrid := MergeHybrid(VectorCandidates(vHits), KeywordCandidates(kHits), Weights{Vector: 1, Text: 0})
	txtHybrid := MergeHybrid(VectorCandidates(vHits), KeywordCandidates(kHits), Weights{Vector: 0, Text: 1})

	const minScore, limit = 0.01, 10
	assert.Equal(t,
		ids(keep(vectorOnly, minScore, limit)),
		ids(keep(vecHybrid, minScore, limit)))
	assert.Equal(t,
		ids(keep(keywordOnly, minScore, limit)),
		ids(keep(txtHybrid, minScore, limit)))
	assert.Equal(t, []string{"d", "e", "a"}, ids(keep(txtHybrid, minScore, limit)), "keyword ties keep bm25 order")
}

func TestMergeHybrid_EdgeWeightsWithTiedDistances(t *testing.T) {
	// Identical text in two files embeds identically.
	vHits := []memstore.Hit{hit("a", 0.2), hit("b", 0.2), hit("c", 0.5)}
	kHits := []memstore.Hit{hit("b", -2), hit("c", -1)}

	vectorOnly := VectorCandidates(vHits)
	SortCandidates(vectorOnly)
	require.Equal(t, []string{"a", "b", "c"}, ids(vectorOnly))

	vecHybrid := MergeHybrid(VectorCandidates(vHits), KeywordCandidates(kHits), Weights{Vector: 1, Text: 0})
	assert.Equal(t, ids(vectorOnly), ids(keep(vecHybrid, 0.01, 10)))

	txtHybrid := MergeHybrid(VectorCandidates(vHits), KeywordCandidates(kHits), Weights{Vector: 0, Text: 1})
	assert.Equal(t, []string{"b", "c"}, ids(keep(txtHybrid, 0.01, 10)))

	// Balanced weights keep the keyword-first tie-break.
	balanced := MergeHybrid(
		[]Candidate{{Hit: memstore.Hit{ID: "x"}, VectorScore: 0.5, VectorRank: 1}},
		[]Candidate{{Hit: memstore.Hit{ID: "y"}, TextScore: 0.5, KeywordRank: 1}},
		Weights{Vector: 0.5, Text: 0.5})
	assert.Equal(t, []string{"y", "x"}, ids(balanced))
}

func keep(c []Candidate, minScore float64, limit int) []Candidate {
	var out []Candidate
	for _, x := range c {
		if x.Score >= minScore && len(out) < limit {
			out = append(out, x)
		}
	}
	return out
}

func TestSortCandidates_TieBreak(t *testing.T) {
	c := []Candidate{
		{Hit: memstore.Hit{ID: "z"}, Score: 0.5},
		{Hit: memstore.Hit{ID: "y"}, Score: 0.5, VectorRank: 2},
		{Hit: memstore.Hit{ID: "x"}, Score: 0.5, VectorRank: 1},
		{Hit: memstore.Hit{ID: "w"}, Score: 0.5, KeywordRank: 1},
		{Hit: memstore.Hit{ID: "v"}, Score: 0.9},
	}
	SortCandidates(c)
	assert.Equal(t, []string{"v", "w", "x", "y", "z"}, ids(c))
}

func TestFinalize(t *testing.T) {
	c := []Candidate{
		{Hit: hit("a", 0), Score: 0.9},
		{Hit: hit("b", 0), Score: 0.5},
		{Hit: hit("c", 0), Score: 0.2},
		{Hit: hit("d", 0), Score: 0.8},
	}

	got := Finalize(c, 0.35, 2, 4, "alice")
	assert.Len(t, got, 2)
	assert.Equal(t, "a.md", got[0].Path)
	assert.Equal(t, "text", got[0].Snippet)
	assert.Equal(t, "alice", got[0].Identity)
	assert.Equal(t, "b.md", got[1].Path)

	assert.Empty(t, Finalize(c, 0.95, 5, 10, ""))
	assert.NotNil(t, Finalize(nil, 0, 5, 10, ""))
}
