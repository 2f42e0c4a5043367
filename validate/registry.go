package validate

import (
	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
)

// VarInfo records what the validator learned about one query variable
// (spec §3 VariableRegistry): its inferred domain type, the single
// condition that produces it, and every condition that consumes it.
type VarInfo struct {
	Name      ast.Symbol
	Type      binding.ValueType
	Producer  *ast.Condition
	Consumers []*ast.Condition
}

// Registry is the per-query VariableRegistry (spec §3). It is built by a
// single AST pass in Validate and is read-only once construction
// completes.
type Registry struct {
	vars  map[ast.Symbol]*VarInfo
	order []ast.Symbol
}

func newRegistry() *Registry {
	return &Registry{vars: make(map[ast.Symbol]*VarInfo)}
}

func (r *Registry) entry(name ast.Symbol) *VarInfo {
	v, ok := r.vars[name]
	if !ok {
		v = &VarInfo{Name: name}
		r.vars[name] = v
		r.order = append(r.order, name)
	}
	return v
}

// Lookup returns variable info for name, or (nil, false) if name was never
// referenced.
func (r *Registry) Lookup(name ast.Symbol) (*VarInfo, bool) {
	v, ok := r.vars[name]
	return v, ok
}

// Variables returns every referenced variable, in first-reference order.
func (r *Registry) Variables() []ast.Symbol {
	return append([]ast.Symbol(nil), r.order...)
}

// IsProduced reports whether name has a producing condition recorded.
func (r *Registry) IsProduced(name ast.Symbol) bool {
	v, ok := r.vars[name]
	return ok && v.Producer != nil
}
