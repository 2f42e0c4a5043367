// Package binding implements the BindingContext described in spec §3: a
// per-variable, order-preserving multi-map from query variable to the
// values a match has captured for it, with a small domain-typed Value
// wrapper. It is grounded on the teacher's column/tuple binding model in
// datalog/executor/relation.go, adapted from positional tuples to named
// variables because the spec's conditions bind by name, not by pattern
// position.
package binding

import (
	"sort"
	"time"

	"github.com/wbrown/corpusql/ast"
)

// ValueType is the domain type carried by a bound Value (spec §3).
type ValueType int

const (
	TString ValueType = iota
	TInt
	TEntity
	TDate
	TPosition
)

// Value is a single bound value together with its domain type. For
// TEntity, EntityType records the NerType the value was captured under.
type Value struct {
	Type       ValueType
	Str        string
	Int        int64
	Date       time.Time
	EntityType ast.NerType
	Position   interface{} // holds a *match.Position; interface{} avoids an import cycle
}

func String(s string) Value { return Value{Type: TString, Str: s} }
func Int(i int64) Value     { return Value{Type: TInt, Int: i} }
func Entity(surface string, t ast.NerType) Value {
	return Value{Type: TEntity, Str: surface, EntityType: t}
}
func DateValue(t time.Time) Value   { return Value{Type: TDate, Date: t} }
func PositionValue(p interface{}) Value { return Value{Type: TPosition, Position: p} }

// Surface returns the human-readable string form of a bound value,
// regardless of its underlying domain type — used by bare "?v" projection
// (spec §4.5 step 2).
func (v Value) Surface() string {
	switch v.Type {
	case TInt:
		return intToString(v.Int)
	case TDate:
		return v.Date.Format("2006-01-02")
	default:
		return v.Str
	}
}

func intToString(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Context is a BindingContext: an insertion-ordered map from variable name
// to the (possibly multiple) values bound to it.
type Context struct {
	order []ast.Symbol
	vals  map[ast.Symbol][]Value
}

// New returns an empty BindingContext.
func New() *Context {
	return &Context{vals: make(map[ast.Symbol][]Value)}
}

// BindOne appends a single value for variable v, registering v in
// insertion order the first time it is seen.
func (c *Context) BindOne(v ast.Symbol, val Value) {
	if _, ok := c.vals[v]; !ok {
		c.order = append(c.order, v)
	}
	c.vals[v] = append(c.vals[v], val)
}

// BindMany appends every value in vals for variable v.
func (c *Context) BindMany(v ast.Symbol, vals []Value) {
	for _, val := range vals {
		c.BindOne(v, val)
	}
}

// Get returns the values bound to v, or nil if v has never been bound.
func (c *Context) Get(v ast.Symbol) []Value {
	return c.vals[v]
}

// Has reports whether v has at least one bound value.
func (c *Context) Has(v ast.Symbol) bool {
	return len(c.vals[v]) > 0
}

// Variables returns the bound variable names in insertion order.
func (c *Context) Variables() []ast.Symbol {
	return append([]ast.Symbol(nil), c.order...)
}

// Copy returns a deep-enough copy (new maps/slices, shared Value structs)
// safe for independent mutation.
func (c *Context) Copy() *Context {
	out := New()
	out.order = append([]ast.Symbol(nil), c.order...)
	for k, vs := range c.vals {
		out.vals[k] = append([]Value(nil), vs...)
	}
	return out
}

// Merge folds other into c; on a shared variable, other's values are
// appended after c's own (spec §3: "other wins on conflict" — for a
// single-valued variable this means other's value is the last one in
// Get(v); for multi-valued variables it
// means other's bindings participate in the cross-product alongside c's).
func (c *Context) Merge(other *Context) {
	for _, v := range other.order {
		c.BindMany(v, other.vals[v])
	}
}

// Compatible reports whether c and other agree on every variable they both
// bind: every pair of values recorded for a shared variable must intersect
// (spec §4.3 AND merge rule: "merge iff all co-bound variables agree on
// values").
func (c *Context) Compatible(other *Context) bool {
	for v, vals := range c.vals {
		ovals, ok := other.vals[v]
		if !ok {
			continue
		}
		if !anyMatch(vals, ovals) {
			return false
		}
	}
	return true
}

func anyMatch(a, b []Value) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Surface() == y.Surface() {
				return true
			}
		}
	}
	return false
}

// Narrow returns a sorted frozen form (repeated values kept) used for match
// equality/hashing (spec §9: "Match equality and hashing by (doc_id,
// sentence_id, source, sorted frozen bindings)").
func (c *Context) Narrow() string {
	vars := append([]ast.Symbol(nil), c.order...)
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	out := ""
	for _, v := range vars {
		vals := append([]Value(nil), c.vals[v]...)
		sort.Slice(vals, func(i, j int) bool { return vals[i].Surface() < vals[j].Surface() })
		out += string(v) + "="
		for _, val := range vals {
			out += val.Surface() + ","
		}
		out += ";"
	}
	return out
}
