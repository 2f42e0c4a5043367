package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/indexstore/memindex"
	"github.com/wbrown/corpusql/match"
)

func TestSnippetHighlightsMatchedSpan(t *testing.T) {
	s := memindex.New()
	s.AddDocument(1, "President Obama spoke with the press today.")

	m := match.New(1, match.SentenceWildcard, "test", "?p",
		match.Position{DocID: 1, SentenceID: match.SentenceWildcard, Begin: 10, End: 15})

	call := &ast.FuncCall{Name: "SNIPPET", Args: []ast.Symbol{"?p"}, Options: map[string]int{}}
	out, err := snippetExtractor{}.Extract(context.Background(), s.TextProvider(), m, call)
	require.NoError(t, err)
	assert.Contains(t, out, "*Obama*")
}

// A length=N budget limits context by visual display width (mattn/go-runewidth),
// so a run of double-width glyphs contributes less context than an equal
// number of narrow runes would.
func TestSnippetLengthBudgetCountsVisualWidth(t *testing.T) {
	narrowDoc := "aaaaaaaaaaXXXXXbbbbbbbbbb"
	wideDoc := "雅雅雅雅雅XXXXX雅雅雅雅雅"

	s := memindex.New()
	s.AddDocument(1, narrowDoc)
	s.AddDocument(2, wideDoc)

	mkMatch := func(docID, begin, end int) *match.DocSentenceMatch {
		return match.New(docID, match.SentenceWildcard, "test", "?p",
			match.Position{DocID: docID, SentenceID: match.SentenceWildcard, Begin: begin, End: end})
	}

	call := &ast.FuncCall{Name: "SNIPPET", Args: []ast.Symbol{"?p"}, Options: map[string]int{"length": 4}}

	narrowOut, err := snippetExtractor{}.Extract(context.Background(), s.TextProvider(), mkMatch(1, 10, 15), call)
	require.NoError(t, err)
	wideOut, err := snippetExtractor{}.Extract(context.Background(), s.TextProvider(), mkMatch(2, 5, 10), call)
	require.NoError(t, err)

	// Each wide rune costs 2 display cells against the same budget, so the
	// wide-glyph snippet includes fewer runes of context than the narrow one.
	assert.Greater(t, len([]rune(narrowOut)), len([]rune(wideOut)))
}

func TestCountStarCountsMatches(t *testing.T) {
	ms := match.NewSet(
		match.New(1, match.SentenceWildcard, "test", "k"),
		match.New(2, match.SentenceWildcard, "test", "k"),
	)
	out, err := countAggregator{}.Aggregate(context.Background(), ms, &ast.FuncCall{Name: "COUNT", CountStar: true})
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}
