// Package env holds variable environments. An Environment is a scope with an
// optional parent; reads fall through to the parent, writes stay local.
package env

import (
	"sort"

	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
)

type Environment struct {
	parent      *Environment
	values      map[string]any
	executables map[string]*executable.Variable
}

func New() *Environment {
	return &Environment{
		values:      make(map[string]any),
		executables: make(map[string]*executable.Variable),
	}
}

// Child returns a new scope whose reads fall through to e.
func (e *Environment) Child() *Environment {
	c := New()
	c.parent = e
	return c
}

// Parent returns the enclosing scope, or nil at the root.
func (e *Environment) Parent() *Environment { return e.parent }

// Set binds name in this scope. A nil value is a real binding to null.
func (e *Environment) Set(name string, value any) {
	e.values[name] = value
}

// Get looks name up through the scope chain. The second result separates an
// unbound name from a name bound to nil.
func (e *Environment) Get(name string) (any, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.values[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Define registers an executable in this scope.
func (e *Environment) Define(v *executable.Variable) {
	e.executables[v.Name] = v
}

// Executable looks an executable up through the scope chain.
func (e *Environment) Executable(name string) (*executable.Variable, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.executables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Names lists every visible value name, sorted.
func (e *Environment) Names() []string {
	seen := map[string]struct{}{}
	for s := e; s != nil; s = s.parent {
		for k := range s.values {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
