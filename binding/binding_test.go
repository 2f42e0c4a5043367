package binding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/corpusql/ast"
)

func TestBindOneRegistersInsertionOrder(t *testing.T) {
	c := New()
	c.BindOne("?b", String("second"))
	c.BindOne("?a", String("first"))
	c.BindOne("?b", String("second-again"))
	assert.Equal(t, []ast.Symbol{"?b", "?a"}, c.Variables())
	require.Len(t, c.Get("?b"), 2)
}

func TestHasReportsUnboundVariable(t *testing.T) {
	c := New()
	assert.False(t, c.Has("?x"))
	c.BindOne("?x", Int(1))
	assert.True(t, c.Has("?x"))
}

func TestCopyIsIndependent(t *testing.T) {
	c := New()
	c.BindOne("?x", String("a"))
	dup := c.Copy()
	dup.BindOne("?x", String("b"))
	assert.Len(t, c.Get("?x"), 1)
	assert.Len(t, dup.Get("?x"), 2)
}

func TestMergeAppendsOtherAfterOwn(t *testing.T) {
	a := New()
	a.BindOne("?x", String("a1"))
	b := New()
	b.BindOne("?x", String("b1"))
	b.BindOne("?y", String("b2"))
	a.Merge(b)
	vals := a.Get("?x")
	require.Len(t, vals, 2)
	assert.Equal(t, "a1", vals[0].Surface())
	assert.Equal(t, "b1", vals[1].Surface())
	assert.True(t, a.Has("?y"))
}

func TestCompatibleRequiresSharedVariablesToAgree(t *testing.T) {
	a := New()
	a.BindOne("?x", String("obama"))
	b := New()
	b.BindOne("?x", String("obama"))
	assert.True(t, a.Compatible(b))

	c := New()
	c.BindOne("?x", String("romney"))
	assert.False(t, a.Compatible(c))
}

func TestCompatibleIgnoresVariablesNotSharedByBoth(t *testing.T) {
	a := New()
	a.BindOne("?x", String("obama"))
	b := New()
	b.BindOne("?y", String("romney"))
	assert.True(t, a.Compatible(b))
}

func TestSurfaceFormatsEachValueType(t *testing.T) {
	assert.Equal(t, "42", Int(42).Surface())
	assert.Equal(t, "-7", Int(-7).Surface())
	assert.Equal(t, "0", Int(0).Surface())
	assert.Equal(t, "hello", String("hello").Surface())
	assert.Equal(t, "obama", Entity("obama", ast.Person).Surface())
	assert.Equal(t, "2020-01-02", DateValue(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)).Surface())
}

func TestNarrowIsStableRegardlessOfInsertionOrder(t *testing.T) {
	a := New()
	a.BindOne("?b", String("2"))
	a.BindOne("?a", String("1"))

	b := New()
	b.BindOne("?a", String("1"))
	b.BindOne("?b", String("2"))

	assert.Equal(t, a.Narrow(), b.Narrow())
}

func TestNarrowDiffersOnDifferentValues(t *testing.T) {
	a := New()
	a.BindOne("?x", String("1"))
	b := New()
	b.BindOne("?x", String("2"))
	assert.NotEqual(t, a.Narrow(), b.Narrow())
}
