// Package extract implements the Value Extractor registry (spec §4.6): a
// small set of named column functions (SNIPPET, DATE, PERSON, COUNT) the
// Result Generator resolves SELECT items through. It is grounded on the
// teacher's AggregateFunction registry (datalog/query/aggregate.go) — a
// Pattern-embedding interface per function name, dispatched by string — but
// split into two interfaces since SNIPPET/DATE/PERSON act on a single row's
// match while COUNT acts on the whole result set.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

// RowExtractor projects one match's bound value for a variable into a
// display string (spec §4.6 SNIPPET/DATE/PERSON).
type RowExtractor interface {
	Name() string
	Extract(ctx context.Context, tp index.TextProvider, m *match.DocSentenceMatch, call *ast.FuncCall) (string, error)
}

// SetAggregator summarizes an entire MatchSet into a single display string
// (spec §4.6 COUNT). Unlike RowExtractor it does not run once per output
// row: when it is the only SELECT item, the Result Generator runs it once
// and emits a single-row table. Alongside other SELECT items it is not
// run, and its column projects as an empty cell.
type SetAggregator interface {
	Name() string
	Aggregate(ctx context.Context, ms *match.MatchSet, call *ast.FuncCall) (string, error)
}

// Registry holds the default set of row extractors and set aggregators.
type Registry struct {
	rows map[string]RowExtractor
	aggs map[string]SetAggregator
}

// Default returns the registry wired with every extractor spec §4.6 names.
func Default() *Registry {
	r := &Registry{rows: map[string]RowExtractor{}, aggs: map[string]SetAggregator{}}
	r.RegisterRow(snippetExtractor{})
	r.RegisterRow(dateExtractor{})
	r.RegisterRow(personExtractor{})
	r.RegisterAgg(countAggregator{})
	return r
}

func (r *Registry) RegisterRow(e RowExtractor)  { r.rows[e.Name()] = e }
func (r *Registry) RegisterAgg(a SetAggregator) { r.aggs[a.Name()] = a }

// Row looks up a row extractor by function name.
func (r *Registry) Row(name string) (RowExtractor, bool) {
	e, ok := r.rows[name]
	return e, ok
}

// Agg looks up a set aggregator by function name.
func (r *Registry) Agg(name string) (SetAggregator, bool) {
	a, ok := r.aggs[name]
	return a, ok
}

// IsAggregate reports whether name is a registered set aggregator, used by
// package result to decide whether a query collapses to a single row.
func (r *Registry) IsAggregate(name string) bool {
	_, ok := r.aggs[name]
	return ok
}

// mergedSpans groups a variable's positions by overlap (spec §4.6 merge
// rule: "p1.end >= p2.begin" within the same (doc_id, sentence_id)) and
// returns one representative Position per merged group, spanning
// (min(begin), max(end)).
func mergedSpans(m *match.DocSentenceMatch, key ast.Symbol) []match.Position {
	ps, ok := m.Positions[string(key)]
	if !ok {
		return nil
	}
	slice := ps.Slice()
	var out []match.Position
	for _, p := range slice {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.Overlaps(p) {
				if p.Begin < last.Begin {
					last.Begin = p.Begin
				}
				if p.End > last.End {
					last.End = p.End
				}
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

type snippetExtractor struct{}

func (snippetExtractor) Name() string { return "SNIPPET" }

// Extract fetches document text around each of the variable's merged spans
// and wraps the matched text with "*...*" highlight markers, joining
// multiple non-overlapping spans with "; " since a result cell is a single
// string (spec §4.6). The `length` option is a visual-width budget, not a
// rune count, so CJK and other wide-glyph context doesn't blow past the
// display width a caller sized the column for.
func (snippetExtractor) Extract(ctx context.Context, tp index.TextProvider, m *match.DocSentenceMatch, call *ast.FuncCall) (string, error) {
	if len(call.Args) == 0 {
		return "", fmt.Errorf("SNIPPET requires a variable argument")
	}
	length := 30
	if n, ok := call.Options["length"]; ok {
		length = n
	}
	spans := mergedSpans(m, call.Args[0])
	if len(spans) == 0 {
		return "", nil
	}
	doc, ok, err := tp.GetDocument(ctx, spans[0].DocID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	runes := []rune(doc)
	var parts []string
	for _, p := range spans {
		matchBegin := clamp(p.Begin, 0, len(runes))
		matchEnd := clamp(p.End, 0, len(runes))
		if matchBegin > matchEnd {
			continue
		}
		begin := expandByWidth(runes, matchBegin, length, -1)
		end := expandByWidth(runes, matchEnd, length, 1)
		snippet := string(runes[begin:matchBegin]) + "*" + string(runes[matchBegin:matchEnd]) + "*" + string(runes[matchEnd:end])
		parts = append(parts, strings.TrimSpace(snippet))
	}
	return strings.Join(parts, "; "), nil
}

// expandByWidth walks outward from start by rune, in direction dir (-1
// left, +1 right), accumulating mattn/go-runewidth display-cell widths
// until the next rune would exceed budget, and returns the stopping
// index. Grounded on the teacher's own indirect dependency on
// mattn/go-runewidth (pulled in transitively for terminal-width display,
// the same concern aretext's gcwidth.go solves with the same library),
// rather than a bare rune count.
func expandByWidth(runes []rune, start, budget, dir int) int {
	idx := start
	spent := 0
	for {
		if dir < 0 {
			if idx <= 0 {
				break
			}
			spent += runewidth.RuneWidth(runes[idx-1])
			if spent > budget {
				break
			}
			idx--
		} else {
			if idx >= len(runes) {
				break
			}
			spent += runewidth.RuneWidth(runes[idx])
			if spent > budget {
				break
			}
			idx++
		}
	}
	return idx
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type dateExtractor struct{}

func (dateExtractor) Name() string { return "DATE" }

func (dateExtractor) Extract(_ context.Context, _ index.TextProvider, m *match.DocSentenceMatch, call *ast.FuncCall) (string, error) {
	if len(call.Args) == 0 {
		return "", fmt.Errorf("DATE requires a variable argument")
	}
	vals := m.Bindings.Get(call.Args[0])
	for _, v := range vals {
		if v.Type == binding.TDate {
			return v.Surface(), nil
		}
	}
	if len(vals) > 0 {
		return vals[0].Surface(), nil
	}
	return "", nil
}

type personExtractor struct{}

func (personExtractor) Name() string { return "PERSON" }

func (personExtractor) Extract(_ context.Context, _ index.TextProvider, m *match.DocSentenceMatch, call *ast.FuncCall) (string, error) {
	if len(call.Args) == 0 {
		return "", fmt.Errorf("PERSON requires a variable argument")
	}
	vals := m.Bindings.Get(call.Args[0])
	for _, v := range vals {
		if v.Type == binding.TEntity && v.EntityType == ast.Person {
			return v.Surface(), nil
		}
	}
	if len(vals) > 0 {
		return vals[0].Surface(), nil
	}
	return "", nil
}

type countAggregator struct{}

func (countAggregator) Name() string { return "COUNT" }

// Aggregate implements spec §4.6 COUNT: COUNT(*) counts matches, COUNT
// (DOCUMENTS) counts distinct doc_id, COUNT(UNIQUE ?v) counts distinct
// values bound to ?v across the whole match set.
func (countAggregator) Aggregate(_ context.Context, ms *match.MatchSet, call *ast.FuncCall) (string, error) {
	switch {
	case call.CountDocs:
		seen := map[int]struct{}{}
		for _, k := range ms.Keys() {
			seen[k.DocID] = struct{}{}
		}
		return fmt.Sprintf("%d", len(seen)), nil
	case call.CountArg != "":
		seen := map[string]struct{}{}
		for _, m := range ms.All() {
			for _, v := range m.Bindings.Get(call.CountArg) {
				seen[v.Surface()] = struct{}{}
			}
		}
		return fmt.Sprintf("%d", len(seen)), nil
	case call.CountStar:
		fallthrough
	default:
		return fmt.Sprintf("%d", len(ms.All())), nil
	}
}
