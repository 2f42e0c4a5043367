// Package validate implements the Semantic Validator (spec §4.2): a single
// AST pass that checks scoping and domain values and builds the
// VariableRegistry, or reports a non-empty batch of ValidationError. It is
// grounded on the teacher's planner validation passes
// (datalog/planner/validation_test.go, datalog/planner/clause_utils.go),
// adapted from Datalog pattern-variable scoping to the spec's AND/OR/NOT
// condition tree.
package validate

import (
	"time"

	"github.com/wbrown/corpusql/annotate"
	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
	"github.com/wbrown/corpusql/corpqlerr"
)

// Validate runs the semantic validator over q, returning its
// VariableRegistry on success or a corpqlerr.ValidationErrors batch
// listing every problem found. Future-dated temporal literals produce a
// non-fatal warning emitted through h (spec §4.2); h may be nil.
func Validate(q *ast.Query, h annotate.Handler) (*Registry, error) {
	v := &validator{reg: newRegistry(), now: time.Now(), handler: h}

	// Absence of a LIMIT clause is fine; a present one must be positive
	// (spec §4.2: "LIMIT > 0 when present"). LimitSet distinguishes a
	// genuine "LIMIT 0" in the source from "no LIMIT clause at all."
	if q.LimitSet && q.Limit <= 0 {
		v.fail("NEGATIVE_LIMIT", "", "LIMIT must be a positive integer")
	}

	if q.Conditions != nil {
		v.collectProducers(q.Conditions)
		v.checkScoping(q.Conditions, nil)
		v.checkLeafSemantics(q.Conditions)
	}

	v.checkSelectAndOrderBy(q)

	if len(v.errs) > 0 {
		return nil, corpqlerr.ValidationErrors(v.errs)
	}
	return v.reg, nil
}

type validator struct {
	reg     *Registry
	errs    []*corpqlerr.ValidationError
	now     time.Time
	handler annotate.Handler
}

func (v *validator) fail(code, path, format string, args ...interface{}) {
	v.errs = append(v.errs, corpqlerr.NewValidationError(code, path, format, args...))
}

// collectProducers walks the whole tree once, assigning each variable's
// first-encountered producing occurrence (preorder) as its Producer
// (spec §3 VariableRegistry). A later producing occurrence of the same
// variable with a conflicting inferred type is an I4 violation.
func (v *validator) collectProducers(c *ast.Condition) {
	switch c.Kind {
	case ast.KindContains:
		if c.Binds != "" {
			v.registerProducer(c.Binds, binding.TString, c)
		}
	case ast.KindNer:
		if c.Target.IsVariable() {
			v.registerProducer(c.Target.Variable, binding.TEntity, c)
		}
	case ast.KindPos:
		if c.Target.IsVariable() {
			v.registerProducer(c.Target.Variable, binding.TString, c)
		}
	case ast.KindTemporal:
		if c.DateTarget.IsVariable() {
			v.registerProducer(c.DateTarget.Variable, binding.TDate, c)
		}
	case ast.KindDependency:
		if c.Governor.IsVariable() {
			v.registerProducer(c.Governor.Variable, binding.TString, c)
		}
		if c.Dependent.IsVariable() {
			v.registerProducer(c.Dependent.Variable, binding.TString, c)
		}
	case ast.KindLogical:
		for _, ch := range c.Children {
			v.collectProducers(ch)
		}
	case ast.KindNot:
		v.collectProducers(c.Child)
	}
}

func (v *validator) registerProducer(name ast.Symbol, t binding.ValueType, c *ast.Condition) {
	info := v.reg.entry(name)
	if info.Producer == nil {
		info.Producer = c
		info.Type = t
		return
	}
	if info.Type != t {
		v.fail("CONFLICTING_VARIABLE_TYPE", c.ASTPath(),
			"variable %s is produced with conflicting types", name)
	}
}

// checkScoping walks the tree a second time enforcing invariant I3: every
// consuming reference to a variable must be reachable from a producing
// occurrence along its path. AND exposes the union of all its children's
// produced variables to every child (a join); OR only exposes the
// intersection of what every branch produces to code after the OR, and
// keeps branches mutually invisible to each other (a union of independent
// alternatives); NOT is transparent to reads but opaque to writes — it may
// consume outer variables but never grows what's available afterward
// (spec explicitly calls this out: "NOT cannot produce new variables").
func (v *validator) checkScoping(c *ast.Condition, available map[ast.Symbol]bool) map[ast.Symbol]bool {
	switch c.Kind {
	case ast.KindContains:
		// Contains never consumes a variable target, only produces one.
		return withVar(available, c.Binds)

	case ast.KindNer:
		return v.checkTargetScoping(c, c.Target, available, binding.TEntity)

	case ast.KindPos:
		return v.checkTargetScoping(c, c.Target, available, binding.TString)

	case ast.KindTemporal:
		return v.checkTargetScoping(c, c.DateTarget, available, binding.TDate)

	case ast.KindDependency:
		out := available
		out = v.checkTargetScoping(c, c.Governor, out, binding.TString)
		out = v.checkTargetScoping(c, c.Dependent, out, binding.TString)
		return out

	case ast.KindLogical:
		if c.Op == ast.And {
			// Everything any child produces is visible to every child
			// (symmetric join), so pre-expand `available` with every
			// child's producer vars before validating any of them. What
			// each child "produces" is computed structurally rather than
			// from available, since it must already account for an OR
			// child's own intersection-of-branches rule below.
			inner := copySet(available)
			for _, ch := range c.Children {
				inner = unionSet(inner, producedByNode(ch, v.reg))
			}
			for _, ch := range c.Children {
				v.checkScoping(ch, inner)
			}
			return inner
		}
		// OR: branches are mutually invisible; what's visible afterward
		// is only what every branch guarantees.
		var branchOut []map[ast.Symbol]bool
		for _, ch := range c.Children {
			branchOut = append(branchOut, v.checkScoping(ch, copySet(available)))
		}
		return intersectAll(branchOut)

	case ast.KindNot:
		v.checkScoping(c.Child, copySet(available))
		return available

	default:
		return available
	}
}

func (v *validator) checkTargetScoping(c *ast.Condition, t ast.Target, available map[ast.Symbol]bool, produced binding.ValueType) map[ast.Symbol]bool {
	if !t.IsVariable() {
		return available
	}
	info, _ := v.reg.Lookup(t.Variable)
	if info != nil && info.Producer == c {
		// This leaf is the registered producer for the variable.
		return withVar(available, t.Variable)
	}
	// A consuming reference: require it to already be available.
	if !available[t.Variable] {
		v.fail("UNBOUND_VARIABLE", c.ASTPath(),
			"variable %s is used before it is bound", t.Variable)
		return available
	}
	if info != nil {
		info.Consumers = append(info.Consumers, c)
	}
	return available
}

// producedByNode computes the set of variables c structurally guarantees
// bound once it finishes evaluating, independent of what's available
// coming in: a leaf produces whatever the registry assigned it as
// producer, AND produces the union of what its children produce (a join
// exposes everything), OR only the intersection (only branches every
// alternative guarantees are safe to rely on afterward), and NOT produces
// nothing (spec: "NOT cannot produce new variables").
func producedByNode(c *ast.Condition, reg *Registry) map[ast.Symbol]bool {
	switch c.Kind {
	case ast.KindLogical:
		if c.Op == ast.And {
			out := map[ast.Symbol]bool{}
			for _, ch := range c.Children {
				out = unionSet(out, producedByNode(ch, reg))
			}
			return out
		}
		var branches []map[ast.Symbol]bool
		for _, ch := range c.Children {
			branches = append(branches, producedByNode(ch, reg))
		}
		return intersectAll(branches)
	case ast.KindNot:
		return map[ast.Symbol]bool{}
	default:
		out := map[ast.Symbol]bool{}
		for _, name := range reg.Variables() {
			info, _ := reg.Lookup(name)
			if info != nil && info.Producer == c {
				out[name] = true
			}
		}
		return out
	}
}

func withVar(set map[ast.Symbol]bool, v ast.Symbol) map[ast.Symbol]bool {
	if v == "" {
		return set
	}
	out := copySet(set)
	out[v] = true
	return out
}

func copySet(set map[ast.Symbol]bool) map[ast.Symbol]bool {
	out := make(map[ast.Symbol]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}

func unionSet(a, b map[ast.Symbol]bool) map[ast.Symbol]bool {
	out := copySet(a)
	for k := range b {
		out[k] = true
	}
	return out
}

func intersectAll(sets []map[ast.Symbol]bool) map[ast.Symbol]bool {
	if len(sets) == 0 {
		return map[ast.Symbol]bool{}
	}
	out := copySet(sets[0])
	for _, s := range sets[1:] {
		for k := range out {
			if !s[k] {
				delete(out, k)
			}
		}
	}
	return out
}

// checkLeafSemantics enforces the per-condition domain checks in spec
// §4.2 that are independent of scoping: NER type closure, non-empty
// CONTAINS terms, BETWEEN start<=end, non-empty dependency fields, and
// future-date warnings.
func (v *validator) checkLeafSemantics(c *ast.Condition) {
	switch c.Kind {
	case ast.KindContains:
		if len(c.Terms) == 0 {
			v.fail("EMPTY_CONTAINS_TERMS", c.ASTPath(), "CONTAINS requires at least one term")
		}
		for _, t := range c.Terms {
			if t == "" {
				v.fail("EMPTY_CONTAINS_TERM", c.ASTPath(), "CONTAINS terms must not be empty")
			}
		}
	case ast.KindNer:
		if _, ok := ast.ParseNerType(string(c.EntityType)); !ok {
			v.fail("UNKNOWN_NER_TYPE", c.ASTPath(), "unknown NER type %q", c.EntityType)
		} else {
			c.EntityType, _ = ast.ParseNerType(string(c.EntityType))
		}
	case ast.KindTemporal:
		if c.TemporalKind == ast.Between && c.Start.After(c.End) {
			v.fail("INVALID_TEMPORAL_RANGE", c.ASTPath(), "BETWEEN start must be <= end")
		}
		for _, d := range []time.Time{c.Start, c.End} {
			if !d.IsZero() && d.After(v.now) {
				annotate.Warning(v.handler, "date", d.Format("2006-01-02"), "temporal value is in the future")
			}
		}
	case ast.KindDependency:
		if c.Relation == "" {
			v.fail("EMPTY_DEPENDENCY_RELATION", c.ASTPath(), "dependency relation must not be empty")
		}
		if !c.Governor.IsVariable() && c.Governor.Literal == "" {
			v.fail("EMPTY_DEPENDENCY_GOVERNOR", c.ASTPath(), "dependency governor must not be empty")
		}
		if !c.Dependent.IsVariable() && c.Dependent.Literal == "" {
			v.fail("EMPTY_DEPENDENCY_DEPENDENT", c.ASTPath(), "dependency dependent must not be empty")
		}
	case ast.KindLogical:
		for _, ch := range c.Children {
			v.checkLeafSemantics(ch)
		}
	case ast.KindNot:
		v.checkLeafSemantics(c.Child)
	}
}

// checkSelectAndOrderBy validates ORDER BY field references (spec §4.2): a
// field must be non-empty and name either a selected variable, the
// pseudo-column document_id, or a selected function alias. Under SELECT *
// any non-empty field is accepted.
func (v *validator) checkSelectAndOrderBy(q *ast.Query) {
	selected := map[string]bool{"document_id": true}
	for _, item := range q.Select {
		selected[item.Name()] = true
		if item.Variable != "" {
			selected[string(item.Variable)] = true
		}
	}
	for _, ob := range q.OrderBy {
		if ob.Field == "" {
			v.fail("EMPTY_ORDER_BY_FIELD", "", "ORDER BY field must not be empty")
			continue
		}
		if len(q.Select) > 0 && !selected[ob.Field] {
			v.fail("UNKNOWN_ORDER_BY_FIELD", "",
				"ORDER BY field %q is not a selected variable, document_id, or function alias", ob.Field)
		}
	}
}
