package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
)

func TestPositionOverlaps(t *testing.T) {
	a := Position{DocID: 1, SentenceID: 1, Begin: 0, End: 5}
	b := Position{DocID: 1, SentenceID: 1, Begin: 5, End: 10}
	c := Position{DocID: 1, SentenceID: 1, Begin: 6, End: 10}
	d := Position{DocID: 1, SentenceID: 2, Begin: 0, End: 5}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
	assert.False(t, a.Overlaps(d))
}

func TestPositionSetSliceIsDeterministic(t *testing.T) {
	s := NewPositionSet(
		Position{DocID: 2, SentenceID: 0, Begin: 3, End: 5},
		Position{DocID: 1, SentenceID: 0, Begin: 0, End: 2},
		Position{DocID: 1, SentenceID: 1, Begin: 0, End: 2},
	)
	slice := s.Slice()
	require.Len(t, slice, 3)
	assert.Equal(t, 1, slice[0].DocID)
	assert.Equal(t, 0, slice[0].SentenceID)
	assert.Equal(t, 1, slice[1].DocID)
	assert.Equal(t, 1, slice[1].SentenceID)
	assert.Equal(t, 2, slice[2].DocID)
}

func TestNewMatchSatisfiesNonEmptyPositions(t *testing.T) {
	m := New(1, 2, "term", "contains.0", Position{DocID: 1, SentenceID: 2, Begin: 0, End: 3})
	require.Contains(t, m.Positions, "contains.0")
	assert.NotEmpty(t, m.Positions["contains.0"])
}

func TestIntersectRequiresCompatibleBindings(t *testing.T) {
	a := New(1, 1, "ner", "ner.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	a.Bindings.BindOne("?p", binding.String("obama"))

	b := New(1, 1, "contains", "contains.0", Position{DocID: 1, SentenceID: 1, Begin: 5, End: 8})
	b.Bindings.BindOne("?p", binding.String("obama"))

	out := Intersect(NewSet(a), NewSet(b))
	require.Equal(t, 1, out.Len())
	merged := out.At(Key{1, 1})
	require.Len(t, merged, 1)
	assert.Contains(t, merged[0].Positions, "ner.0")
	assert.Contains(t, merged[0].Positions, "contains.0")
}

func TestIntersectDropsIncompatibleBindings(t *testing.T) {
	a := New(1, 1, "ner", "ner.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	a.Bindings.BindOne("?p", binding.String("obama"))

	b := New(1, 1, "ner", "ner.1", Position{DocID: 1, SentenceID: 1, Begin: 5, End: 8})
	b.Bindings.BindOne("?p", binding.String("romney"))

	out := Intersect(NewSet(a), NewSet(b))
	assert.True(t, out.IsEmpty())
}

func TestIntersectOnlyKeepsSharedKeys(t *testing.T) {
	a := New(1, 1, "ner", "ner.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	b := New(2, 1, "ner", "ner.0", Position{DocID: 2, SentenceID: 1, Begin: 0, End: 3})
	out := Intersect(NewSet(a), NewSet(b))
	assert.True(t, out.IsEmpty())
}

func TestUnionDeduplicatesIdenticalMatches(t *testing.T) {
	a := New(1, 1, "contains", "contains.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	b := New(1, 1, "contains", "contains.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	out := Union(NewSet(a), NewSet(b))
	assert.Equal(t, 1, out.Len())
	assert.Len(t, out.At(Key{1, 1}), 1)
}

func TestUnionKeepsDistinctBindingsForSameKey(t *testing.T) {
	a := New(1, 1, "ner", "ner.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	a.Bindings.BindOne("?p", binding.String("obama"))
	b := New(1, 1, "ner", "ner.0", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 3})
	b.Bindings.BindOne("?p", binding.String("romney"))
	out := Union(NewSet(a), NewSet(b))
	assert.Equal(t, 1, out.Len())
	assert.Len(t, out.At(Key{1, 1}), 2)
}

func TestSubtractRemovesKeysPresentInOther(t *testing.T) {
	a1 := New(1, 1, "x", "k", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 1})
	a2 := New(2, 1, "x", "k", Position{DocID: 2, SentenceID: 1, Begin: 0, End: 1})
	b := New(1, 1, "y", "k", Position{DocID: 1, SentenceID: 1, Begin: 0, End: 1})

	out := Subtract(NewSet(a1, a2), NewSet(b))
	assert.Equal(t, 1, out.Len())
	assert.True(t, out.Has(Key{2, 1}))
	assert.False(t, out.Has(Key{1, 1}))
}

func TestKeysAreSortedAscending(t *testing.T) {
	m1 := New(3, 0, "x", "k", Position{DocID: 3, SentenceID: 0, Begin: 0, End: 1})
	m2 := New(1, 5, "x", "k", Position{DocID: 1, SentenceID: 5, Begin: 0, End: 1})
	m3 := New(1, 2, "x", "k", Position{DocID: 1, SentenceID: 2, Begin: 0, End: 1})
	s := NewSet(m1, m2, m3)
	keys := s.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, Key{1, 2}, keys[0])
	assert.Equal(t, Key{1, 5}, keys[1])
	assert.Equal(t, Key{3, 0}, keys[2])
}

func TestUniverseAtDocumentGranularity(t *testing.T) {
	u := Universe([]int{1, 2, 3}, ast.Document, nil)
	assert.Equal(t, 3, u.Len())
	assert.True(t, u.Has(Key{2, SentenceWildcard}))
}

func TestUniverseAtSentenceGranularity(t *testing.T) {
	u := Universe([]int{1, 2}, ast.Sentence, map[int]int{1: 2, 2: 3})
	assert.Equal(t, 5, u.Len())
	assert.True(t, u.Has(Key{1, 0}))
	assert.True(t, u.Has(Key{1, 1}))
	assert.True(t, u.Has(Key{2, 2}))
}
