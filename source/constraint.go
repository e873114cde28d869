package source

import (
	"go/ast"
	"go/build/constraint"
)

// buildConstraint returns the build constraint of f: its //go:build line,
// or the conjunction of its // +build lines when it has none.
func buildConstraint(f *ast.File) (constraint.Expr, error) {
	groups := headerComments(f)

	for _, group := range groups {
		for _, c := range group.List {
			if constraint.IsGoBuild(c.Text) {
				return constraint.Parse(c.Text)
			}
		}
	}

	var plusBuild constraint.Expr
	for _, group := range groups {
		for _, c := range group.List {
			if !constraint.IsPlusBuild(c.Text) {
				continue
			}
			x, err := constraint.Parse(c.Text)
			if err != nil {
				return nil, err
			}
			if plusBuild == nil {
				plusBuild = x
			} else {
				plusBuild = &constraint.AndExpr{X: plusBuild, Y: x}
			}
		}
	}
	return plusBuild, nil
}

// headerComments returns the comment groups preceding the package clause,
// where build constraints are honored.
func headerComments(f *ast.File) []*ast.CommentGroup {
	var groups []*ast.CommentGroup
	for _, group := range f.Comments {
		if group.End() < f.Package {
			groups = append(groups, group)
		}
	}
	return groups
}
