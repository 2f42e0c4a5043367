// Package eval implements the Condition Evaluator (spec §4.3): it walks a
// validated ast.Condition tree, resolves leaves against the index.Manager,
// and folds results through the match algebra (package match) using the
// AND/OR/NOT combinator semantics. It is grounded on the teacher's
// planner/executor split (datalog/planner/phase_reordering.go for
// selectivity-based ordering, datalog/storage/simple_batch_scanner.go for
// the drain-an-iterator-into-a-slice idiom), adapted from Datom scanning
// to Position-returning index lookups.
package eval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wbrown/corpusql/annotate"
	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
	"github.com/wbrown/corpusql/corpqlerr"
	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

// Params bundles the external collaborators and per-query settings the
// evaluator needs (spec §6 index/text contracts, §3 granularity/window).
type Params struct {
	Manager     index.Manager
	Text        index.TextProvider
	Granularity ast.Granularity
	Window      int // sentence-window size at SENTENCE granularity; 0 means exact match
	Handler     annotate.Handler
}

// Evaluate runs cond to a MatchSet. It is the entry point package engine
// calls once per query, and recurses into itself for nested combinators.
func Evaluate(ctx context.Context, p Params, cond *ast.Condition) (*match.MatchSet, error) {
	if err := corpqlerr.FromContext(ctx); err != nil {
		return nil, err
	}

	// A WHERE-less query (spec §4.1 grammar: "[WHERE expr]") parses with a
	// nil condition tree; that means "match everything."
	if cond == nil {
		return buildUniverse(ctx, p)
	}

	switch cond.Kind {
	case ast.KindContains, ast.KindNer, ast.KindPos, ast.KindTemporal, ast.KindDependency:
		annotate.Emit(p.Handler, annotate.Event{Name: annotate.EvalLeaf, Data: map[string]interface{}{"path": cond.ASTPath(), "kind": int(cond.Kind)}})
	}

	switch cond.Kind {
	case ast.KindContains:
		return evalContains(ctx, p, cond)
	case ast.KindNer:
		return evalNer(ctx, p, cond)
	case ast.KindPos:
		return evalPos(ctx, p, cond)
	case ast.KindTemporal:
		return evalTemporal(ctx, p, cond)
	case ast.KindDependency:
		return evalDependency(ctx, p, cond)
	case ast.KindLogical:
		if cond.Op == ast.And {
			return evalAnd(ctx, p, cond.Children)
		}
		return evalOr(ctx, p, cond.Children)
	case ast.KindNot:
		// Reached only when NOT is not a direct AND child (root, or a
		// disjunct of an OR): spec §9 resolves this case as "complements
		// against the full corpus".
		universe, err := buildUniverse(ctx, p)
		if err != nil {
			return nil, err
		}
		inner, err := Evaluate(ctx, p, cond.Child)
		if err != nil {
			return nil, err
		}
		return match.Subtract(universe, inner), nil
	default:
		return nil, corpqlerr.NewExecutionError("", cond.ASTPath(), fmt.Errorf("unhandled condition kind %d", cond.Kind))
	}
}

// evalAnd implements spec §4.3 AND semantics plus the NOT resolution in
// §9: NOT children of this AND complement within the conjunction's own
// candidate set (the intersection of its non-NOT siblings), not the full
// corpus. Non-NOT children are evaluated in ascending estimated-selectivity
// order, ties broken by AST position (original child order), before being
// folded together.
func evalAnd(ctx context.Context, p Params, children []*ast.Condition) (*match.MatchSet, error) {
	var positives, nots []*ast.Condition
	for _, c := range children {
		if c.Kind == ast.KindNot {
			nots = append(nots, c)
		} else {
			positives = append(positives, c)
		}
	}

	ordered := orderBySelectivity(ctx, p, positives)

	var base *match.MatchSet
	if len(ordered) == 0 {
		u, err := buildUniverse(ctx, p)
		if err != nil {
			return nil, err
		}
		base = u
	} else {
		first, err := Evaluate(ctx, p, ordered[0])
		if err != nil {
			return nil, err
		}
		base = first
		for _, c := range ordered[1:] {
			if base.IsEmpty() {
				break
			}
			next, err := Evaluate(ctx, p, c)
			if err != nil {
				return nil, err
			}
			base = intersectWindowed(base, next, p.Window)
			annotate.Emit(p.Handler, annotate.Event{Name: annotate.EvalCombine, Data: map[string]interface{}{"op": "and", "path": c.ASTPath()}})
		}
	}

	for _, n := range nots {
		inner, err := Evaluate(ctx, p, n.Child)
		if err != nil {
			return nil, err
		}
		base = match.Subtract(base, inner)
		annotate.Emit(p.Handler, annotate.Event{Name: annotate.EvalCombine, Data: map[string]interface{}{"op": "not", "path": n.ASTPath()}})
	}

	return base, nil
}

func evalOr(ctx context.Context, p Params, children []*ast.Condition) (*match.MatchSet, error) {
	var out *match.MatchSet
	for _, c := range children {
		next, err := Evaluate(ctx, p, c)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = next
			continue
		}
		out = match.Union(out, next)
		annotate.Emit(p.Handler, annotate.Event{Name: annotate.EvalCombine, Data: map[string]interface{}{"op": "or", "path": c.ASTPath()}})
	}
	if out == nil {
		out = match.NewSet()
	}
	return out, nil
}

// orderBySelectivity sorts leaf/combinator conditions ascending by
// estimated candidate count (spec §4.3), falling back to original AST
// order on a tie. This mirrors the teacher's phase-reordering intent
// (datalog/planner/phase_reordering.go) without its symbol-connectivity
// scoring, since corpusql's AND children don't need to share variables to
// be joined (spec §4.4 joins purely on (doc_id, sentence_id)).
func orderBySelectivity(ctx context.Context, p Params, conds []*ast.Condition) []*ast.Condition {
	type scored struct {
		cond  *ast.Condition
		cost  uint64
		index int
	}
	scoredConds := make([]scored, len(conds))
	for i, c := range conds {
		scoredConds[i] = scored{cond: c, cost: estimateCost(ctx, p, c), index: i}
	}
	sort.SliceStable(scoredConds, func(i, j int) bool {
		if scoredConds[i].cost != scoredConds[j].cost {
			return scoredConds[i].cost < scoredConds[j].cost
		}
		return scoredConds[i].index < scoredConds[j].index
	})
	out := make([]*ast.Condition, len(scoredConds))
	for i, s := range scoredConds {
		out[i] = s.cond
	}
	return out
}

// estimateCost returns the leaf's index-reported candidate estimate, or a
// structural approximation for combinators: AND is bounded by its
// cheapest child, OR by the sum of its children (a superset of either
// alone), and NOT has no useful estimate short of evaluating it.
func estimateCost(ctx context.Context, p Params, c *ast.Condition) uint64 {
	switch c.Kind {
	case ast.KindContains:
		if len(c.Terms) == 0 {
			return 0
		}
		return indexEstimate(ctx, p, index.Term, strings.ToLower(c.Terms[0]))
	case ast.KindNer:
		return indexEstimate(ctx, p, index.Ner, string(c.EntityType))
	case ast.KindPos:
		return indexEstimate(ctx, p, index.Pos, c.PosTag)
	case ast.KindTemporal:
		return indexEstimate(ctx, p, index.Temporal, "*")
	case ast.KindDependency:
		return indexEstimate(ctx, p, index.Dependency, c.Relation)
	case ast.KindLogical:
		if len(c.Children) == 0 {
			return 0
		}
		if c.Op == ast.And {
			min := estimateCost(ctx, p, c.Children[0])
			for _, ch := range c.Children[1:] {
				if v := estimateCost(ctx, p, ch); v < min {
					min = v
				}
			}
			return min
		}
		var sum uint64
		for _, ch := range c.Children {
			sum += estimateCost(ctx, p, ch)
		}
		return sum
	default:
		return ^uint64(0) // NOT and anything unrecognized sort last
	}
}

func indexEstimate(ctx context.Context, p Params, name, key string) uint64 {
	h, ok := p.Manager.GetIndex(name)
	if !ok {
		return ^uint64(0)
	}
	n, err := h.Estimate(ctx, key)
	if err != nil {
		return ^uint64(0)
	}
	return n
}

// evalContains implements spec §4.3 CONTAINS: every term must occur
// (possibly in different spans) within the same match unit.
func evalContains(ctx context.Context, p Params, cond *ast.Condition) (*match.MatchSet, error) {
	h, ok := p.Manager.GetIndex(index.Term)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Term, cond.ASTPath(), fmt.Errorf("term index not registered"))
	}

	var result *match.MatchSet
	for i, term := range cond.Terms {
		key := strings.ToLower(term)
		positions, err := drainPositions(ctx, h, key)
		if err != nil {
			return nil, corpqlerr.NewExecutionError(index.Term, cond.ASTPath(), err)
		}
		var bindVar ast.Symbol
		if cond.Binds != "" {
			bindVar = cond.Binds
		}
		leafKey := positionKeyFor(bindVar, fmt.Sprintf("%s.terms[%d]", cond.ASTPath(), i))
		leaf := buildLeafSet(positions, p.Granularity, leafKey, "term", bindVar, binding.String)
		if result == nil {
			result = leaf
		} else {
			result = intersectWindowed(result, leaf, 0)
		}
	}
	if result == nil {
		result = match.NewSet()
	}
	return result, nil
}

func evalNer(ctx context.Context, p Params, cond *ast.Condition) (*match.MatchSet, error) {
	h, ok := p.Manager.GetIndex(index.Ner)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Ner, cond.ASTPath(), fmt.Errorf("ner index not registered"))
	}
	positions, err := drainPositions(ctx, h, string(cond.EntityType))
	if err != nil {
		return nil, corpqlerr.NewExecutionError(index.Ner, cond.ASTPath(), err)
	}
	var bindVar ast.Symbol
	if cond.Target.IsVariable() {
		bindVar = cond.Target.Variable
	} else if cond.Target.Literal != "" {
		positions = filterByLabel(positions, cond.Target.Literal)
	}
	entityType := cond.EntityType
	leaf := buildLeafSet(positions, p.Granularity, positionKeyFor(bindVar, cond.ASTPath()), "ner", bindVar, func(surface string) binding.Value {
		return binding.Entity(surface, entityType)
	})
	return leaf, nil
}

func evalPos(ctx context.Context, p Params, cond *ast.Condition) (*match.MatchSet, error) {
	h, ok := p.Manager.GetIndex(index.Pos)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Pos, cond.ASTPath(), fmt.Errorf("pos index not registered"))
	}
	positions, err := drainPositions(ctx, h, cond.PosTag)
	if err != nil {
		return nil, corpqlerr.NewExecutionError(index.Pos, cond.ASTPath(), err)
	}
	var bindVar ast.Symbol
	if cond.Target.IsVariable() {
		bindVar = cond.Target.Variable
	} else if cond.Target.Literal != "" {
		positions = filterByLabel(positions, cond.Target.Literal)
	}
	leaf := buildLeafSet(positions, p.Granularity, positionKeyFor(bindVar, cond.ASTPath()), "pos", bindVar, binding.String)
	return leaf, nil
}

// positionKeyFor keys a leaf's position map by its bound variable name when
// it has one, so the Result Generator's SNIPPET extractor (spec §4.6) can
// recover the originating Position by variable name; conditions that bind
// nothing key by AST path instead, which is unique but not var-addressable.
func positionKeyFor(bindVar ast.Symbol, fallback string) string {
	if bindVar != "" {
		return string(bindVar)
	}
	return fallback
}

func evalTemporal(ctx context.Context, p Params, cond *ast.Condition) (*match.MatchSet, error) {
	h, ok := p.Manager.GetIndex(index.Temporal)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Temporal, cond.ASTPath(), fmt.Errorf("temporal index not registered"))
	}
	positions, err := drainPositions(ctx, h, "*")
	if err != nil {
		return nil, corpqlerr.NewExecutionError(index.Temporal, cond.ASTPath(), err)
	}

	var kept []match.Position
	for _, pos := range positions {
		if pos.HasDate && matchesTemporal(pos, cond) {
			kept = append(kept, pos)
		}
	}

	var bindVar ast.Symbol
	if cond.DateTarget.IsVariable() {
		bindVar = cond.DateTarget.Variable
	}
	leaf := buildLeafSet(kept, p.Granularity, positionKeyFor(bindVar, cond.ASTPath()), "temporal", bindVar, func(label string) binding.Value {
		for _, pos := range kept {
			if pos.Label == label {
				return binding.DateValue(pos.Date)
			}
		}
		return binding.String(label)
	})
	return leaf, nil
}

func matchesTemporal(pos match.Position, cond *ast.Condition) bool {
	d := pos.Date
	switch cond.TemporalKind {
	case ast.Before:
		return d.Before(cond.Start)
	case ast.After:
		return d.After(cond.Start)
	case ast.On:
		return d.Year() == cond.Start.Year() && d.YearDay() == cond.Start.YearDay()
	case ast.Between:
		return !d.Before(cond.Start) && !d.After(cond.End)
	case ast.Near:
		delta := d.Sub(cond.Start)
		if delta < 0 {
			delta = -delta
		}
		return delta <= cond.Radius
	default:
		return false
	}
}

func evalDependency(ctx context.Context, p Params, cond *ast.Condition) (*match.MatchSet, error) {
	h, ok := p.Manager.GetIndex(index.Dependency)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Dependency, cond.ASTPath(), fmt.Errorf("dependency index not registered"))
	}
	dh, ok := h.(index.DependencyHandle)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Dependency, cond.ASTPath(), fmt.Errorf("dependency index does not support triple lookups"))
	}
	if err := ctx.Err(); err != nil {
		return nil, corpqlerr.FromContext(ctx)
	}
	it, err := dh.LookupTriples(ctx, cond.Relation)
	if err != nil {
		return nil, corpqlerr.NewExecutionError(index.Dependency, cond.ASTPath(), err)
	}
	defer it.Close()

	govVar := cond.Governor.IsVariable()
	depVar := cond.Dependent.IsVariable()

	var positions []match.Position
	govByLabel := map[string]string{}
	depByLabel := map[string]string{}
	for {
		t, ok, err := it.Next(ctx)
		if err != nil {
			return nil, corpqlerr.NewExecutionError(index.Dependency, cond.ASTPath(), err)
		}
		if !ok {
			break
		}
		if !govVar && cond.Governor.Literal != "" && t.Governor != cond.Governor.Literal {
			continue
		}
		if !depVar && cond.Dependent.Literal != "" && t.Dependent != cond.Dependent.Literal {
			continue
		}
		pos := t.Position
		pos.Label = dependencyLabel(govVar, depVar, t)
		positions = append(positions, pos)
		govByLabel[pos.Label] = t.Governor
		depByLabel[pos.Label] = t.Dependent
	}

	depKey := cond.ASTPath()
	if depVar {
		depKey = string(cond.Dependent.Variable)
	} else if govVar {
		depKey = string(cond.Governor.Variable)
	}
	leaf := buildLeafSet(positions, p.Granularity, depKey, "dep", "", nil)
	for _, m := range leaf.All() {
		for _, ps := range m.Positions {
			for _, pos := range ps.Slice() {
				if govVar {
					m.Bindings.BindOne(cond.Governor.Variable, binding.String(govByLabel[pos.Label]))
				}
				if depVar {
					m.Bindings.BindOne(cond.Dependent.Variable, binding.String(depByLabel[pos.Label]))
				}
			}
		}
	}
	return leaf, nil
}

// dependencyLabel gives each triple a Label unique enough to recover its
// governor/dependent text after grouping into PositionSet, since Position
// equality (used for dedup) is by value.
func dependencyLabel(govVar, depVar bool, t index.DependencyTriple) string {
	return fmt.Sprintf("%s|%s", t.Governor, t.Dependent)
}

// filterByLabel narrows positions to those whose surface form equals label,
// case-insensitively (spec §4.3: "filter to spans whose surface form equals
// the literal (case-insensitive)").
func filterByLabel(positions []match.Position, label string) []match.Position {
	var out []match.Position
	for _, p := range positions {
		if strings.EqualFold(p.Label, label) {
			out = append(out, p)
		}
	}
	return out
}

// drainPositions exhausts it into a slice, checking for cancellation
// between reads (spec §5: "the evaluator must check ctx between index
// round-trips to respond to cancellation promptly").
func drainPositions(ctx context.Context, h index.Handle, key string) ([]match.Position, error) {
	it, err := h.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []match.Position
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, p)
	}
}

// buildLeafSet groups raw positions into one DocSentenceMatch per match
// key (spec invariant I2: every leaf-produced match has a non-empty
// position set), binding bindVar to each distinct label seen at that key
// when bindVar is non-empty.
func buildLeafSet(positions []match.Position, gran ast.Granularity, leafKey, source string, bindVar ast.Symbol, toValue func(string) binding.Value) *match.MatchSet {
	type bucket struct {
		positions []match.Position
		labels    []string
		seen      map[string]bool
	}
	buckets := map[match.Key]*bucket{}
	var order []match.Key
	for _, pos := range positions {
		k := match.Key{DocID: pos.DocID, SentenceID: pos.SentenceID}
		if gran == ast.Document {
			k.SentenceID = match.SentenceWildcard
		}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{seen: map[string]bool{}}
			buckets[k] = b
			order = append(order, k)
		}
		b.positions = append(b.positions, pos)
		if pos.Label != "" && !b.seen[pos.Label] {
			b.seen[pos.Label] = true
			b.labels = append(b.labels, pos.Label)
		}
	}

	out := match.NewSet()
	for _, k := range order {
		b := buckets[k]
		m := match.New(k.DocID, k.SentenceID, source, leafKey, b.positions...)
		if bindVar != "" && toValue != nil {
			for _, label := range b.labels {
				m.Bindings.BindOne(bindVar, toValue(label))
			}
		}
		out.Add(m)
	}
	return out
}

// intersectWindowed implements AND's join, widened to tolerate a
// sentence-id distance of up to window when the query granularity is
// SENTENCE with a window size (spec §3 Query.WindowSize). window<=0
// degrades to the exact-key match algebra intersect. Merged matches are
// anchored at the left operand's key, a deterministic but otherwise
// arbitrary tie-break.
func intersectWindowed(a, b *match.MatchSet, window int) *match.MatchSet {
	if window <= 0 {
		return match.Intersect(a, b)
	}
	out := match.NewSet()
	for _, ka := range a.Keys() {
		for _, kb := range b.Keys() {
			if ka.DocID != kb.DocID {
				continue
			}
			if absInt(ka.SentenceID-kb.SentenceID) > window {
				continue
			}
			for _, ma := range a.At(ka) {
				for _, mb := range b.At(kb) {
					if !ma.Bindings.Compatible(mb.Bindings) {
						continue
					}
					out.Add(mergeAt(ka, ma, mb))
				}
			}
		}
	}
	return out
}

func mergeAt(k match.Key, a, b *match.DocSentenceMatch) *match.DocSentenceMatch {
	merged := match.New(k.DocID, k.SentenceID, pickSource(a.Source, b.Source), "__seed")
	delete(merged.Positions, "__seed")
	for key, ps := range a.Positions {
		merged.Positions[key] = ps
	}
	for key, ps := range b.Positions {
		if existing, ok := merged.Positions[key]; ok {
			merged.Positions[key] = existing.Union(ps)
		} else {
			merged.Positions[key] = ps
		}
	}
	merged.Bindings = a.Bindings.Copy()
	merged.Bindings.Merge(b.Bindings)
	return merged
}

func pickSource(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// buildUniverse constructs the full-corpus MatchSet NOT complements
// against, via the metadata index and (at SENTENCE granularity) the text
// provider's per-document sentence counts (spec §4.3 "NOT at the root
// evaluates against the universe of documents from the corpus metadata
// index").
func buildUniverse(ctx context.Context, p Params) (*match.MatchSet, error) {
	h, ok := p.Manager.GetIndex(index.Metadata)
	if !ok {
		return nil, corpqlerr.NewExecutionError(index.Metadata, "", fmt.Errorf("metadata index not registered"))
	}
	it, err := h.Documents(ctx)
	if err != nil {
		return nil, corpqlerr.NewExecutionError(index.Metadata, "", err)
	}
	defer it.Close()

	var docIDs []int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok, err := it.Next(ctx)
		if err != nil {
			return nil, corpqlerr.NewExecutionError(index.Metadata, "", err)
		}
		if !ok {
			break
		}
		docIDs = append(docIDs, id)
	}

	if p.Granularity == ast.Document {
		return match.Universe(docIDs, ast.Document, nil), nil
	}

	counts := make(map[int]int, len(docIDs))
	for _, id := range docIDs {
		n, err := p.Text.SentenceCount(ctx, id)
		if err != nil {
			return nil, corpqlerr.NewExecutionError(index.Metadata, "", err)
		}
		counts[id] = n
	}
	return match.Universe(docIDs, ast.Sentence, counts), nil
}
