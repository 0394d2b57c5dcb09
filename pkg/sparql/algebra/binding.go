package algebra

import (
	"sort"
	"strings"

	"github.com/tetrad-db/tetrad/pkg/rdf"
)

// Binding is one solution: an assignment of terms to variable names.
// Variables a solution leaves unbound are simply absent.
type Binding struct {
	Vars map[string]rdf.Term
}

// NewBinding creates an empty binding
func NewBinding() *Binding {
	return &Binding{Vars: make(map[string]rdf.Term)}
}

// Get returns the term bound to name, if any
func (b *Binding) Get(name string) (rdf.Term, bool) {
	t, ok := b.Vars[name]
	return t, ok
}

// Set binds name to term
func (b *Binding) Set(name string, term rdf.Term) {
	b.Vars[name] = term
}

// Bound reports whether name is bound
func (b *Binding) Bound(name string) bool {
	_, ok := b.Vars[name]
	return ok
}

// Clone creates an independent copy
func (b *Binding) Clone() *Binding {
	clone := NewBinding()
	for k, v := range b.Vars {
		clone.Vars[k] = v
	}
	return clone
}

// Project keeps only the named variables
func (b *Binding) Project(names []string) *Binding {
	out := NewBinding()
	for _, name := range names {
		if t, ok := b.Vars[name]; ok {
			out.Vars[name] = t
		}
	}
	return out
}

// Key returns a canonical string form, used for DISTINCT and in tests.
func (b *Binding) Key() string {
	parts := make([]string, 0, len(b.Vars))
	for name, term := range b.Vars {
		parts = append(parts, name+"="+term.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
