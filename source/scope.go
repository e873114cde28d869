package source

import "github.com/stealthrocket/iterc/compiler"

// scope maps names to the variables of the method being converted. Each
// block opens a new scope; shadowing declares a new variable.
type scope struct {
	outer *scope
	vars  map[string]compiler.VarID
}

func newScope(outer *scope) *scope {
	return &scope{outer: outer, vars: map[string]compiler.VarID{}}
}

func (s *scope) insert(name string, v compiler.VarID) {
	if name != "_" {
		s.vars[name] = v
	}
}

func (s *scope) lookup(name string) (compiler.VarID, bool) {
	if name == "_" || s == nil {
		return compiler.NoVar, false
	}
	if v, ok := s.vars[name]; ok {
		return v, true
	}
	return s.outer.lookup(name)
}
