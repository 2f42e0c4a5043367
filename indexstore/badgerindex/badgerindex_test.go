package badgerindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTermLookupReturnsPostedPositions(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddTerm("obama", match.Position{DocID: 1, SentenceID: 0, Begin: 0, End: 5}))
	require.NoError(t, s.AddTerm("obama", match.Position{DocID: 2, SentenceID: 1, Begin: 3, End: 8}))

	h, ok := s.Manager().GetIndex(index.Term)
	require.True(t, ok)

	it, err := h.Lookup(context.Background(), "obama")
	require.NoError(t, err)
	defer it.Close()
	var got []match.Position
	for {
		p, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, p)
	}
	assert.Len(t, got, 2)
}

func TestLookupOnUnknownKeyYieldsEmptyIterator(t *testing.T) {
	s := open(t)
	h, _ := s.Manager().GetIndex(index.Ner)
	it, err := h.Lookup(context.Background(), "PERSON")
	require.NoError(t, err)
	defer it.Close()
	_, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimateReflectsPostingCount(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddEntity("PERSON", "Obama", match.Position{DocID: 1, SentenceID: 0, Begin: 0, End: 5}))
	require.NoError(t, s.AddEntity("PERSON", "Biden", match.Position{DocID: 1, SentenceID: 1, Begin: 0, End: 5}))
	h, _ := s.Manager().GetIndex(index.Ner)
	n, err := h.Estimate(context.Background(), "PERSON")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestDependencyLookupTriples(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddDependencyTriple(index.DependencyTriple{
		Governor: "elected", Relation: "nsubj", Dependent: "Obama",
		Position: match.Position{DocID: 1, SentenceID: 0, Begin: 0, End: 10},
	}))
	h, ok := s.Manager().GetIndex(index.Dependency)
	require.True(t, ok)
	dh, ok := h.(index.DependencyHandle)
	require.True(t, ok)
	it, err := dh.LookupTriples(context.Background(), "nsubj")
	require.NoError(t, err)
	defer it.Close()
	triple, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Obama", triple.Dependent)
}

func TestMetadataDocumentsIteratesAllDocIDsSorted(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddDocument(3, "doc three"))
	require.NoError(t, s.AddDocument(1, "doc one"))
	require.NoError(t, s.AddSentence(2, 0, "doc two sentence zero"))

	h, ok := s.Manager().GetIndex(index.Metadata)
	require.True(t, ok)
	it, err := h.Documents(context.Background())
	require.NoError(t, err)
	defer it.Close()
	var ids []int
	for {
		id, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestTextProviderReturnsSentenceAndDocumentText(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddSentence(1, 0, "The president spoke."))
	require.NoError(t, s.AddDocument(1, "The president spoke. He left."))

	tp := s.TextProvider()
	sent, ok, err := tp.GetSentence(context.Background(), 1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "The president spoke.", sent)

	doc, ok, err := tp.GetDocument(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, doc, "He left.")

	_, ok, err = tp.GetSentence(context.Background(), 99, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSentenceCountTracksHighestSentenceIDSeen(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddSentence(1, 0, "a"))
	require.NoError(t, s.AddSentence(1, 1, "b"))
	require.NoError(t, s.AddSentence(1, 2, "c"))
	n, err := s.TextProvider().SentenceCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLookupRespectsCancelledContext(t *testing.T) {
	s := open(t)
	require.NoError(t, s.AddTerm("x", match.Position{DocID: 1, SentenceID: 0, Begin: 0, End: 1}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h, _ := s.Manager().GetIndex(index.Term)
	_, err := h.Lookup(ctx, "x")
	assert.Error(t, err)
}

func TestCodecRoundTripsPositionWithDateAndLabel(t *testing.T) {
	p := match.Position{DocID: 7, SentenceID: 2, Begin: 10, End: 20, HasDate: true, Label: "Obama"}
	got, err := decodePosition(encodePosition(p))
	require.NoError(t, err)
	assert.Equal(t, p.DocID, got.DocID)
	assert.Equal(t, p.Label, got.Label)
	assert.True(t, got.HasDate)
}

func TestCodecRoundTripsDependencyTriple(t *testing.T) {
	tr := index.DependencyTriple{
		Governor: "spoke", Relation: "nsubj", Dependent: "Obama",
		Position: match.Position{DocID: 1, SentenceID: 0, Begin: 0, End: 5},
	}
	got, err := decodeTriple(encodeTriple(tr))
	require.NoError(t, err)
	assert.Equal(t, tr.Governor, got.Governor)
	assert.Equal(t, tr.Relation, got.Relation)
	assert.Equal(t, tr.Dependent, got.Dependent)
	assert.Equal(t, tr.Position.Begin, got.Position.Begin)
}
