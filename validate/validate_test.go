package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/corpusql/annotate"
	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
	"github.com/wbrown/corpusql/corpqlerr"
	"github.com/wbrown/corpusql/parser"
)

func mustParse(t *testing.T, q string) *ast.Query {
	t.Helper()
	query, err := parser.Parse(q)
	require.NoError(t, err)
	return query
}

func TestValidateSimpleNerBindingProducesVariable(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NER(PERSON, ?p)`)
	reg, err := Validate(q, nil)
	require.NoError(t, err)
	info, ok := reg.Lookup("?p")
	require.True(t, ok)
	assert.Equal(t, binding.TEntity, info.Type)
	assert.Same(t, q.Conditions, info.Producer)
}

func TestValidateRejectsConflictingVariableTypes(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE POS("NNP", ?p) AND DATE(?p, BETWEEN 2001-01-01 AND 2010-01-01)`)
	// ?p is produced by POS (string), then referenced as a date target by
	// DATE -- that's a type conflict, not a scoping error, since DATE
	// re-registers ?p as its own producer only if POS hadn't already.
	_, err := Validate(q, nil)
	require.Error(t, err)
	verrs, ok := err.(corpqlerr.ValidationErrors)
	require.True(t, ok)
	require.NotEmpty(t, verrs)
}

func TestValidateUnboundVariableAcrossOrBranches(t *testing.T) {
	// ?p is bound in one OR branch only; a sibling AND clause that consumes
	// it outside the OR is unbound on the branch that doesn't produce it.
	q := mustParse(t, `SELECT ?p FROM c WHERE (NER(PERSON, ?p) OR CONTAINS("x")) AND POS("NNP", ?p)`)
	_, err := Validate(q, nil)
	require.Error(t, err)
	verrs := err.(corpqlerr.ValidationErrors)
	found := false
	for _, e := range verrs {
		if e.Code == "UNBOUND_VARIABLE" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateAndSiblingsShareBindings(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NER(PERSON, ?p) AND CONTAINS("president") AND DATE(?p, < 2020-01-01)`)
	// ?p produced by NER is visible to the DATE condition even though DATE
	// also targets ?p -- DATE should be treated as a consumer here since
	// NER already claimed producer status in preorder.
	_, err := Validate(q, nil)
	assert.Error(t, err) // type conflict: NER produces TEntity, DATE wants TDate
}

func TestValidateAcceptsDependencyBindingBothSides(t *testing.T) {
	q := mustParse(t, `SELECT ?gov FROM c WHERE DEP(?gov, "nsubj", ?dep)`)
	reg, err := Validate(q, nil)
	require.NoError(t, err)
	_, ok := reg.Lookup("?gov")
	assert.True(t, ok)
	_, ok = reg.Lookup("?dep")
	assert.True(t, ok)
}

func TestValidateRejectsUnknownNerType(t *testing.T) {
	q := &ast.Query{
		Source: "c",
		Conditions: &ast.Condition{
			Kind:       ast.KindNer,
			EntityType: "NOT_A_TYPE",
			Target:     ast.Target{Variable: "?p"},
		},
	}
	_, err := Validate(q, nil)
	require.Error(t, err)
	verrs := err.(corpqlerr.ValidationErrors)
	assert.Equal(t, "UNKNOWN_NER_TYPE", verrs[0].Code)
}

func TestValidateRejectsEmptyContainsTerms(t *testing.T) {
	q := &ast.Query{
		Source:     "c",
		Conditions: &ast.Condition{Kind: ast.KindContains, Terms: nil},
	}
	_, err := Validate(q, nil)
	require.Error(t, err)
	assert.Equal(t, "EMPTY_CONTAINS_TERMS", err.(corpqlerr.ValidationErrors)[0].Code)
}

func TestValidateRejectsInvertedBetweenRange(t *testing.T) {
	q := mustParse(t, `SELECT ?d FROM c WHERE DATE(?d, BETWEEN 2010-01-01 AND 2001-01-01)`)
	_, err := Validate(q, nil)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TEMPORAL_RANGE", err.(corpqlerr.ValidationErrors)[0].Code)
}

func TestValidateRejectsEmptyDependencyRelation(t *testing.T) {
	q := &ast.Query{
		Source: "c",
		Conditions: &ast.Condition{
			Kind:      ast.KindDependency,
			Governor:  ast.Target{Variable: "?g"},
			Relation:  "",
			Dependent: ast.Target{Variable: "?d"},
		},
	}
	_, err := Validate(q, nil)
	require.Error(t, err)
	assert.Equal(t, "EMPTY_DEPENDENCY_RELATION", err.(corpqlerr.ValidationErrors)[0].Code)
}

func TestValidateEmitsFutureDateWarning(t *testing.T) {
	future := time.Now().AddDate(5, 0, 0)
	q := &ast.Query{
		Source: "c",
		Conditions: &ast.Condition{
			Kind:         ast.KindTemporal,
			TemporalKind: ast.Before,
			Start:        future,
			DateTarget:   ast.Target{Variable: "?d"},
		},
	}
	var collector annotate.Collector
	_, err := Validate(q, collector.Handle)
	require.NoError(t, err)
	assert.Len(t, collector.ByName(annotate.ValidateWarning), 1)
}

func TestValidateRejectsUnknownOrderByField(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NER(PERSON, ?p) ORDER BY ?missing`)
	_, err := Validate(q, nil)
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN_ORDER_BY_FIELD", err.(corpqlerr.ValidationErrors)[0].Code)
}

func TestValidateAllowsOrderByDocumentID(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NER(PERSON, ?p) ORDER BY document_id`)
	_, err := Validate(q, nil)
	require.NoError(t, err)
}

func TestValidateRejectsNegativeLimit(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NER(PERSON, ?p)`)
	q.Limit = -1
	q.LimitSet = true
	_, err := Validate(q, nil)
	require.Error(t, err)
	assert.Equal(t, "NEGATIVE_LIMIT", err.(corpqlerr.ValidationErrors)[0].Code)
}

func TestValidateRejectsZeroLimit(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NER(PERSON, ?p) LIMIT 0`)
	_, err := Validate(q, nil)
	require.Error(t, err)
	assert.Equal(t, "NEGATIVE_LIMIT", err.(corpqlerr.ValidationErrors)[0].Code)
}

func TestValidateNotDoesNotLeakBindings(t *testing.T) {
	q := mustParse(t, `SELECT ?p FROM c WHERE NOT(NER(PERSON, ?p)) AND POS("NNP", ?p)`)
	_, err := Validate(q, nil)
	require.Error(t, err)
	found := false
	for _, e := range err.(corpqlerr.ValidationErrors) {
		if e.Code == "UNBOUND_VARIABLE" {
			found = true
		}
	}
	assert.True(t, found)
}
