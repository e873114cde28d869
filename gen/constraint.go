package gen

import "go/build/constraint"

// buildConstraint returns the constraint of the generated file: the
// constraint of the source file, restricted to builds with the build tag.
func (g *generator) buildConstraint() constraint.Expr {
	switch {
	case g.buildTag == nil:
		return g.constraint
	case g.constraint == nil:
		return g.buildTag
	case implies(g.constraint, g.buildTag):
		return g.constraint
	}
	return &constraint.AndExpr{X: g.constraint, Y: g.buildTag}
}

// implies reports whether every build satisfying expr has tag set.
func implies(expr constraint.Expr, tag *constraint.TagExpr) bool {
	switch x := expr.(type) {
	case *constraint.AndExpr:
		return implies(x.X, tag) || implies(x.Y, tag)
	case *constraint.OrExpr:
		return implies(x.X, tag) && implies(x.Y, tag)
	case *constraint.TagExpr:
		return x.Tag == tag.Tag
	}
	return false
}
