// Package result implements the Result Generator (spec §4.5): it expands a
// final MatchSet into output rows, projects SELECT columns through the
// extract registry, applies ORDER BY, and truncates to LIMIT. It is
// grounded on the teacher's SortRelation (datalog/executor/executor_utils.go)
// for the multi-key stable-sort idiom, simplified from the teacher's full
// Relation algebra since corpusql's rows are flat string tuples, not
// typed columnar values carried through joins.
package result

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/extract"
	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

// Table is the produced result: named columns and string-valued rows (spec
// §6: "Result table schema... String values; empty string denotes NULL").
type Table struct {
	Columns []string
	Rows    [][]string
}

// Generate runs the four Result Generator steps in spec §4.5 order: expand
// matches to rows, project columns, sort, limit. "SELECT *" parses to an
// empty Select list (spec §4.1); Generate expands that to a single
// document_id column, matching spec §8 scenario 1 ("SELECT * ... expected
// rows with document_id").
func Generate(ctx context.Context, original *ast.Query, ms *match.MatchSet, tp index.TextProvider, reg *extract.Registry) (*Table, error) {
	q := original
	if len(q.Select) == 0 {
		withDefault := *original
		withDefault.Select = []ast.SelectItem{{Variable: "document_id"}}
		q = &withDefault
	}

	if agg, call, ok := soleAggregate(q, reg); ok {
		value, err := agg.Aggregate(ctx, ms, call)
		if err != nil {
			return nil, err
		}
		return &Table{Columns: []string{q.Select[0].Name()}, Rows: [][]string{{value}}}, nil
	}

	rows, err := expandRows(q, ms)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(q.Select))
	table := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(q.Select))
		for c, item := range q.Select {
			columns[c] = item.Name()
			cell, err := projectCell(ctx, item, row, tp, reg)
			if err != nil {
				return nil, err
			}
			cells[c] = cell
		}
		table[i] = cells
	}

	sortRows(q, rows, columns, table)

	if q.Limit > 0 && len(table) > q.Limit {
		table = table[:q.Limit]
	}

	return &Table{Columns: columns, Rows: table}, nil
}

// soleAggregate reports whether q's SELECT list is a single COUNT-family
// function, in which case the whole query collapses to one aggregate row
// rather than the normal per-match expansion (spec §4.6 COUNT semantics
// are defined over "the match set", not a single row).
func soleAggregate(q *ast.Query, reg *extract.Registry) (extract.SetAggregator, *ast.FuncCall, bool) {
	if len(q.Select) != 1 || q.Select[0].Func == nil {
		return nil, nil, false
	}
	agg, ok := reg.Agg(q.Select[0].Func.Name)
	if !ok {
		return nil, nil, false
	}
	return agg, q.Select[0].Func, true
}

// row is one expanded output row: the match it came from, plus the single
// binding value chosen for each SELECT variable in this row's slot of the
// cross-product.
type row struct {
	m      *match.DocSentenceMatch
	values map[ast.Symbol]interface{}
}

// expandRows implements spec §4.5 step 1: per match, compute the
// cross-product of its multi-valued bindings restricted to variables
// appearing in SELECT (bare variables and function arguments alike).
func expandRows(q *ast.Query, ms *match.MatchSet) ([]row, error) {
	vars := selectVariables(q)
	var out []row
	for _, m := range ms.All() {
		combos := crossProduct(m, vars)
		for _, combo := range combos {
			out = append(out, row{m: m, values: combo})
		}
	}
	return out, nil
}

func selectVariables(q *ast.Query) []ast.Symbol {
	seen := map[ast.Symbol]bool{}
	var out []ast.Symbol
	add := func(v ast.Symbol) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, item := range q.Select {
		if item.Variable != "" {
			add(item.Variable)
		}
		if item.Func != nil {
			for _, a := range item.Func.Args {
				add(a)
			}
			if item.Func.CountArg != "" {
				add(item.Func.CountArg)
			}
		}
	}
	return out
}

// crossProduct enumerates every combination of one value per variable in
// vars that m has bound, in insertion order (spec §4.5: "a match with
// ?person ∈ {A, B} and ?loc ∈ {X} yields two rows"). Variables m never
// bound are treated as a single NULL slot.
func crossProduct(m *match.DocSentenceMatch, vars []ast.Symbol) []map[ast.Symbol]interface{} {
	combos := []map[ast.Symbol]interface{}{{}}
	for _, v := range vars {
		vals := m.Bindings.Get(v)
		if len(vals) == 0 {
			for _, c := range combos {
				c[v] = nil
			}
			continue
		}
		var next []map[ast.Symbol]interface{}
		for _, c := range combos {
			for _, val := range vals {
				clone := make(map[ast.Symbol]interface{}, len(c)+1)
				for k, v2 := range c {
					clone[k] = v2
				}
				clone[v] = val
				next = append(next, clone)
			}
		}
		combos = next
	}
	return combos
}

func projectCell(ctx context.Context, item ast.SelectItem, r row, tp index.TextProvider, reg *extract.Registry) (string, error) {
	if item.Func != nil {
		if rowExt, ok := reg.Row(item.Func.Name); ok {
			return rowExt.Extract(ctx, tp, r.m, item.Func)
		}
		return "", nil
	}
	if item.Variable == "document_id" {
		return strconv.Itoa(r.m.DocID), nil
	}
	v, ok := r.values[item.Variable]
	if !ok || v == nil {
		return "", nil
	}
	type surfacer interface{ Surface() string }
	if s, ok := v.(surfacer); ok {
		return s.Surface(), nil
	}
	return "", nil
}

// sortRows implements spec §4.5 step 3: stable multi-key sort, comparator
// chosen per field's observed type, NULLs last regardless of direction.
// ORDER BY document_id reads the match's doc id directly since that
// pseudo-column need not be present in SELECT (spec §4.2 checkSelectAndOrderBy
// allows ordering by document_id unconditionally).
func sortRows(q *ast.Query, rows []row, columns []string, table [][]string) {
	if len(q.OrderBy) == 0 {
		return
	}
	idx := make([]int, len(q.OrderBy))
	for i, spec := range q.OrderBy {
		idx[i] = columnIndex(columns, spec.Field)
	}
	perm := make([]int, len(table))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(pi, pj int) bool {
		i, j := perm[pi], perm[pj]
		for k, spec := range q.OrderBy {
			var a, b string
			if spec.Field == "document_id" {
				a, b = strconv.Itoa(rows[i].m.DocID), strconv.Itoa(rows[j].m.DocID)
			} else if ci := idx[k]; ci >= 0 {
				a, b = table[i][ci], table[j][ci]
			} else {
				continue
			}
			if a == "" || b == "" {
				// NULLs sort last regardless of direction (spec §4.5).
				if a == "" && b == "" {
					continue
				}
				return b == ""
			}
			cmp := compareCells(a, b)
			if cmp == 0 {
				continue
			}
			if spec.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	sortedTable := make([][]string, len(table))
	for i, p := range perm {
		sortedTable[i] = table[p]
	}
	copy(table, sortedTable)
}

func columnIndex(columns []string, field string) int {
	for i, c := range columns {
		if c == field {
			return i
		}
	}
	return -1
}

// compareCells orders empty strings (NULL) last, then compares as dates,
// then ints, then falls back to lexicographic string comparison (spec
// §4.5: "Strings compare lexicographically; dates chronologically; ints
// numerically. Nulls sort last regardless of direction.").
func compareCells(a, b string) int {
	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}
	if ta, ok := parseDate(a); ok {
		if tb, ok := parseDate(b); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}
	if ia, err := strconv.ParseInt(a, 10, 64); err == nil {
		if ib, err := strconv.ParseInt(b, 10, 64); err == nil {
			switch {
			case ia < ib:
				return -1
			case ia > ib:
				return 1
			default:
				return 0
			}
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}
