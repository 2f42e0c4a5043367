package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/corpusql/ast"
)

func TestParseSimpleContains(t *testing.T) {
	q, err := Parse(`SELECT * FROM corpus WHERE CONTAINS("Obama")`)
	require.NoError(t, err)
	assert.Equal(t, "corpus", q.Source)
	assert.Nil(t, q.Select)
	require.NotNil(t, q.Conditions)
	assert.Equal(t, ast.KindContains, q.Conditions.Kind)
	assert.Equal(t, []string{"Obama"}, q.Conditions.Terms)
}

func TestParseNerBinding(t *testing.T) {
	q, err := Parse(`SELECT ?p FROM c WHERE NER(PERSON, ?p)`)
	require.NoError(t, err)
	require.Len(t, q.Select, 1)
	assert.Equal(t, ast.Symbol("?p"), q.Select[0].Variable)
	assert.Equal(t, ast.KindNer, q.Conditions.Kind)
	assert.Equal(t, ast.Person, q.Conditions.EntityType)
	assert.True(t, q.Conditions.Target.IsVariable())
	assert.Equal(t, ast.Symbol("?p"), q.Conditions.Target.Variable)
}

func TestParseAndWithSharedVariable(t *testing.T) {
	q, err := Parse(`SELECT ?p FROM c WHERE NER(PERSON, ?p) AND CONTAINS("president")`)
	require.NoError(t, err)
	require.Equal(t, ast.KindLogical, q.Conditions.Kind)
	assert.Equal(t, ast.And, q.Conditions.Op)
	require.Len(t, q.Conditions.Children, 2)
	assert.Equal(t, ast.KindNer, q.Conditions.Children[0].Kind)
	assert.Equal(t, ast.KindContains, q.Conditions.Children[1].Kind)
}

func TestParseTemporalBetween(t *testing.T) {
	q, err := Parse(`SELECT ?d FROM c WHERE DATE(?d, BETWEEN 2001-01-01 AND 2010-12-31)`)
	require.NoError(t, err)
	cond := q.Conditions
	assert.Equal(t, ast.KindTemporal, cond.Kind)
	assert.Equal(t, ast.Between, cond.TemporalKind)
	assert.Equal(t, 2001, cond.Start.Year())
	assert.Equal(t, 2010, cond.End.Year())
}

func TestParseOrWithOrderAndLimit(t *testing.T) {
	q, err := Parse(`SELECT ?p FROM c WHERE NER(PERSON, ?p) OR NER(ORGANIZATION, ?p) ORDER BY ?p ASC LIMIT 2`)
	require.NoError(t, err)
	assert.Equal(t, ast.Or, q.Conditions.Op)
	require.Len(t, q.OrderBy, 1)
	assert.Equal(t, "?p", q.OrderBy[0].Field)
	assert.False(t, q.OrderBy[0].Desc)
	assert.Equal(t, 2, q.Limit)
	assert.True(t, q.LimitSet)
}

func TestParseWithNoLimitLeavesLimitUnset(t *testing.T) {
	q, err := Parse(`SELECT * FROM c WHERE CONTAINS("Obama")`)
	require.NoError(t, err)
	assert.False(t, q.LimitSet)
}

func TestParseNot(t *testing.T) {
	q, err := Parse(`SELECT * FROM c WHERE CONTAINS("Obama") AND NOT CONTAINS("2009")`)
	require.NoError(t, err)
	require.Len(t, q.Conditions.Children, 2)
	notNode := q.Conditions.Children[1]
	assert.Equal(t, ast.KindNot, notNode.Kind)
	assert.Equal(t, ast.KindContains, notNode.Child.Kind)
}

func TestParseSnippetWithLengthOption(t *testing.T) {
	q, err := Parse(`SELECT ?p, SNIPPET(?p, length=50) FROM c WHERE NER(PERSON, ?p)`)
	require.NoError(t, err)
	require.Len(t, q.Select, 2)
	fn := q.Select[1].Func
	require.NotNil(t, fn)
	assert.Equal(t, "SNIPPET", fn.Name)
	assert.Equal(t, ast.Symbol("?p"), fn.Args[0])
	assert.Equal(t, 50, fn.Options["length"])
}

func TestParseCountVariants(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want ast.FuncCall
	}{
		{`COUNT(*)`, ast.FuncCall{Name: "COUNT", CountStar: true}},
		{`COUNT(DOCUMENTS)`, ast.FuncCall{Name: "COUNT", CountDocs: true}},
		{`COUNT(UNIQUE ?p)`, ast.FuncCall{Name: "COUNT", CountArg: "?p"}},
	} {
		q, err := Parse(`SELECT ` + tc.src + ` FROM c WHERE CONTAINS("x")`)
		require.NoError(t, err, tc.src)
		fn := q.Select[0].Func
		require.NotNil(t, fn)
		assert.Equal(t, tc.want.CountStar, fn.CountStar, tc.src)
		assert.Equal(t, tc.want.CountDocs, fn.CountDocs, tc.src)
		assert.Equal(t, tc.want.CountArg, fn.CountArg, tc.src)
	}
}

func TestParseGranularitySentenceWithWindow(t *testing.T) {
	q, err := Parse(`SELECT * FROM c WHERE CONTAINS("x") GRANULARITY SENTENCE 3`)
	require.NoError(t, err)
	assert.Equal(t, ast.Sentence, q.Granularity)
	assert.Equal(t, 3, q.WindowSize)
}

func TestParseDependency(t *testing.T) {
	q, err := Parse(`SELECT * FROM c WHERE DEP("Smith", "nsubj", ?v)`)
	require.NoError(t, err)
	cond := q.Conditions
	assert.Equal(t, ast.KindDependency, cond.Kind)
	assert.Equal(t, "Smith", cond.Governor.Literal)
	assert.Equal(t, "nsubj", cond.Relation)
	assert.True(t, cond.Dependent.IsVariable())
}

func TestParseNearRadius(t *testing.T) {
	q, err := Parse(`SELECT * FROM c WHERE DATE(?d, NEAR 2020-01-01 RADIUS 30d)`)
	require.NoError(t, err)
	cond := q.Conditions
	assert.Equal(t, ast.Near, cond.TemporalKind)
	assert.Equal(t, 30*24*60*60*1e9, float64(cond.Radius))
}

func TestParseErrorReportsPosition(t *testing.T) {
	_, err := Parse(`SELECT ?x FROM`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error at 1:15")
}

func TestParseMissingWhereIsOptional(t *testing.T) {
	q, err := Parse(`SELECT * FROM corpus`)
	require.NoError(t, err)
	assert.Nil(t, q.Conditions)
}

func TestParseNestedParens(t *testing.T) {
	q, err := Parse(`SELECT * FROM c WHERE (CONTAINS("a") OR CONTAINS("b")) AND CONTAINS("c")`)
	require.NoError(t, err)
	require.Equal(t, ast.And, q.Conditions.Op)
	require.Equal(t, ast.KindLogical, q.Conditions.Children[0].Kind)
	assert.Equal(t, ast.Or, q.Conditions.Children[0].Op)
}
