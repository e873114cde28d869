// Package source builds iterator methods from Go syntax.
//
// Iterator bodies are written in a subset of Go extended with labeled
// blocks for the protected statements:
//
//	func Count(n int) Enumerable[int] {
//		try: {
//			for i := 0; i < n; i++ {
//				yield(i)
//			}
//		}
//		finally: {
//			log("done")
//		}
//	}
//
// yield(x) produces a value and a bare return ends the iteration.
// "using: { r := open(); ... }" disposes r on exit, "lock: { t := obj; ... }"
// holds the monitor of obj, and "for v := range c" enumerates c. The
// "unsafe:" label marks an unsafe block, which iterators reject.
// Parameters of type Ref[T] and Out[T] are passed by reference.
//
// Calls to any other function are host calls resolved when the lowered
// iterator runs. Types are not checked; the types of variables declared
// with := are inferred from literals and operands.
package source

import (
	"fmt"
	"go/ast"
	"go/build/constraint"
	"go/parser"
	"go/token"
	"go/types"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/stealthrocket/iterc/compiler"
	"github.com/stealthrocket/iterc/emit"
)

// File is the result of parsing a source file.
type File struct {
	Package string
	// Constraint is the build constraint of the file, or nil.
	Constraint constraint.Expr
	// Methods are the iterator methods of the file, in declaration order.
	Methods []*compiler.Method
	// Diagnostics are the user errors found by compiler.Validate. Methods
	// they apply to are marked Reported.
	Diagnostics []compiler.Diagnostic
}

// Parse parses a source file. src is handled like in go/parser.
func Parse(filename string, src any) (*File, error) {
	return ParseFile(token.NewFileSet(), filename, src)
}

// ParseFile is like Parse and records positions in fset.
func ParseFile(fset *token.FileSet, filename string, src any) (*File, error) {
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	expr, err := buildConstraint(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	file := &File{Package: f.Name.Name, Constraint: expr}
	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil || !isIterator(fd) {
			continue
		}
		m, err := convert(fset, fd)
		if err != nil {
			return nil, err
		}
		if diags := compiler.Validate(m); len(diags) > 0 {
			file.Diagnostics = append(file.Diagnostics, diags...)
			m.Reported = true
		}
		file.Methods = append(file.Methods, m)
	}
	return file, nil
}

// isIterator reports whether a function returns an iterator type or
// contains yield statements.
func isIterator(fd *ast.FuncDecl) bool {
	if _, ok := compiler.ShapeOf(resultType(fd)); ok {
		return true
	}
	found := false
	ast.Inspect(fd.Body, func(n ast.Node) bool {
		if call, ok := n.(*ast.CallExpr); ok && isYield(call) {
			found = true
		}
		return !found
	})
	return found
}

func resultType(fd *ast.FuncDecl) string {
	res := fd.Type.Results
	if res == nil || len(res.List) != 1 || len(res.List[0].Names) > 1 {
		return ""
	}
	return types.ExprString(res.List[0].Type)
}

func isYield(call *ast.CallExpr) bool {
	id, ok := call.Fun.(*ast.Ident)
	return ok && id.Name == "yield"
}

// bailout carries the first conversion error up to convert.
type bailout struct{ err error }

type converter struct {
	fset  *token.FileSet
	m     *compiler.Method
	t     *compiler.Tree
	recv  string
	scope *scope
}

func convert(fset *token.FileSet, fd *ast.FuncDecl) (m *compiler.Method, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			m, err = nil, b.err
		}
	}()

	c := &converter{
		fset: fset,
		t:    new(compiler.Tree),
		m: &compiler.Method{
			Name:   fd.Name.Name,
			Result: resultType(fd),
			Pos:    fset.Position(fd.Pos()),
		},
	}
	c.m.Tree = c.t
	c.scope = newScope(nil)

	if fd.Recv != nil && len(fd.Recv.List) == 1 {
		field := fd.Recv.List[0]
		c.m.Receiver = types.ExprString(field.Type)
		if len(field.Names) == 1 {
			c.recv = field.Names[0].Name
		}
	}

	for _, field := range fd.Type.Params.List {
		typ, mod := c.paramType(field.Type)
		names := field.Names
		if len(names) == 0 {
			names = []*ast.Ident{ast.NewIdent("_")}
		}
		for _, name := range names {
			v := c.m.NewVar(name.Name, typ)
			c.scope.insert(name.Name, v)
			c.m.Params = append(c.m.Params, compiler.Param{Var: v, Mod: mod})
		}
	}

	c.m.Body = c.block(fd.Body)
	return c.m, nil
}

func (c *converter) errorf(node ast.Node, format string, args ...any) {
	panic(bailout{fmt.Errorf("%s: %s", c.fset.Position(node.Pos()), fmt.Sprintf(format, args...))})
}

func (c *converter) pos(node ast.Node) token.Position {
	return c.fset.Position(node.Pos())
}

func (c *converter) add(node ast.Node, s compiler.Stmt) compiler.NodeID {
	return c.t.AddAt(s, c.pos(node))
}

func (c *converter) paramType(expr ast.Expr) (string, compiler.ParamMod) {
	switch t := expr.(type) {
	case *ast.Ellipsis:
		return "[]" + types.ExprString(t.Elt), compiler.Variadic
	case *ast.IndexExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			switch id.Name {
			case "Ref":
				return types.ExprString(t.Index), compiler.Ref
			case "Out":
				return types.ExprString(t.Index), compiler.Out
			}
		}
	}
	return types.ExprString(expr), compiler.ByValue
}

func (c *converter) push() { c.scope = newScope(c.scope) }
func (c *converter) pop()  { c.scope = c.scope.outer }

func (c *converter) declare(name string, typ string) compiler.VarID {
	v := c.m.NewVar(name, typ)
	c.scope.insert(name, v)
	return v
}

func (c *converter) block(b *ast.BlockStmt) compiler.NodeID {
	c.push()
	defer c.pop()
	return c.add(b, compiler.Block{List: c.stmts(b.List)})
}

func (c *converter) stmts(list []ast.Stmt) []compiler.NodeID {
	ids := make([]compiler.NodeID, 0, len(list))
	for i := 0; i < len(list); i++ {
		if ls, ok := list[i].(*ast.LabeledStmt); ok && ls.Label.Name == "try" {
			var fin *ast.LabeledStmt
			if i+1 < len(list) {
				fin, _ = list[i+1].(*ast.LabeledStmt)
			}
			if fin == nil || fin.Label.Name != "finally" {
				c.errorf(ls, "try block must be followed by a finally block")
			}
			ids = append(ids, c.try(ls, fin))
			i++
			continue
		}
		ids = append(ids, c.stmt(list[i]))
	}
	return ids
}

func (c *converter) stmt(stmt ast.Stmt) compiler.NodeID {
	switch s := stmt.(type) {
	case *ast.BlockStmt:
		return c.block(s)

	case *ast.EmptyStmt:
		return c.add(s, compiler.Block{})

	case *ast.ExprStmt:
		call, ok := astutil.Unparen(s.X).(*ast.CallExpr)
		if !ok {
			c.errorf(s, "%s is not used", types.ExprString(s.X))
		}
		if isYield(call) {
			if len(call.Args) != 1 {
				c.errorf(call, "yield takes exactly one argument")
			}
			return c.add(s, compiler.Yield{Value: c.expr(call.Args[0])})
		}
		return c.add(s, compiler.ExprStmt{X: c.call(call, "")})

	case *ast.ReturnStmt:
		if len(s.Results) > 0 {
			c.errorf(s, "iterators cannot return values, use yield")
		}
		return c.add(s, compiler.YieldBreak{})

	case *ast.AssignStmt:
		return c.assign(s)

	case *ast.IncDecStmt:
		op := token.ADD
		if s.Tok == token.DEC {
			op = token.SUB
		}
		v := c.lvalue(s.X)
		return c.add(s, compiler.Assign{
			Var:   v,
			Value: compiler.Binary{Op: op, X: compiler.Var{ID: v}, Y: compiler.Const{Value: int64(1)}},
		})

	case *ast.DeclStmt:
		return c.decl(s)

	case *ast.IfStmt:
		c.push()
		defer c.pop()
		var init compiler.NodeID = compiler.NoNode
		if s.Init != nil {
			init = c.stmt(s.Init)
		}
		n := compiler.If{Cond: c.expr(s.Cond), Then: c.block(s.Body), Else: compiler.NoNode}
		if s.Else != nil {
			n.Else = c.stmt(s.Else)
		}
		return c.withInit(s, init, c.add(s, n))

	case *ast.ForStmt:
		c.push()
		defer c.pop()
		var init compiler.NodeID = compiler.NoNode
		if s.Init != nil {
			init = c.stmt(s.Init)
		}
		n := compiler.Loop{Post: compiler.NoNode}
		if s.Cond != nil {
			n.Cond = c.expr(s.Cond)
		}
		n.Body = c.block(s.Body)
		if s.Post != nil {
			n.Post = c.stmt(s.Post)
		}
		return c.withInit(s, init, c.add(s, n))

	case *ast.RangeStmt:
		return c.foreach(s)

	case *ast.BranchStmt:
		if s.Label != nil {
			c.errorf(s, "labeled %s is not supported", s.Tok)
		}
		switch s.Tok {
		case token.BREAK:
			return c.add(s, compiler.Break{})
		case token.CONTINUE:
			return c.add(s, compiler.Continue{})
		}
		c.errorf(s, "%s is not supported", s.Tok)

	case *ast.LabeledStmt:
		switch s.Label.Name {
		case "using":
			return c.using(s)
		case "lock":
			return c.lock(s)
		case "unsafe":
			return c.add(s, compiler.Unsafe{Body: c.labeledBlock(s)})
		case "finally":
			c.errorf(s, "finally block without try")
		case "try":
			c.errorf(s, "try block must be followed by a finally block")
		}
		c.errorf(s, "label %s is not supported", s.Label.Name)
	}
	c.errorf(stmt, "unsupported statement %T", stmt)
	panic("unreachable")
}

func (c *converter) withInit(node ast.Node, init, stmt compiler.NodeID) compiler.NodeID {
	if init == compiler.NoNode {
		return stmt
	}
	return c.add(node, compiler.Block{List: []compiler.NodeID{init, stmt}})
}

func (c *converter) labeledBlock(s *ast.LabeledStmt) compiler.NodeID {
	b, ok := s.Stmt.(*ast.BlockStmt)
	if !ok {
		c.errorf(s, "%s label must be attached to a block", s.Label.Name)
	}
	return c.block(b)
}

func (c *converter) try(body, fin *ast.LabeledStmt) compiler.NodeID {
	return c.add(body, compiler.Try{
		Kind:     emit.RegionTryFinally,
		Prologue: compiler.NoNode,
		Body:     c.labeledBlock(body),
		Finally:  c.labeledBlock(fin),
	})
}

// using converts "using: { r := e; body }".
func (c *converter) using(s *ast.LabeledStmt) compiler.NodeID {
	b, ok := s.Stmt.(*ast.BlockStmt)
	if !ok || len(b.List) == 0 {
		c.errorf(s, "using block must start with a resource declaration")
	}
	name, value, ok := c.define(b.List[0])
	if !ok {
		c.errorf(b.List[0], "using block must start with a resource declaration")
	}
	c.push()
	defer c.pop()
	v := c.declare(name, typeOf(c.m, value))
	body := c.add(b, compiler.Block{List: c.stmts(b.List[1:])})
	return c.add(s, compiler.Using{Var: v, Resource: value, Body: body})
}

// lock converts "lock: { t := e; body }" and "lock: { e; body }".
func (c *converter) lock(s *ast.LabeledStmt) compiler.NodeID {
	b, ok := s.Stmt.(*ast.BlockStmt)
	if !ok || len(b.List) == 0 {
		c.errorf(s, "lock block must start with the locked object")
	}
	c.push()
	defer c.pop()
	temp := compiler.NoVar
	var object compiler.Expr
	if name, value, ok := c.define(b.List[0]); ok {
		object = value
		temp = c.declare(name, typeOf(c.m, value))
	} else if e, ok := b.List[0].(*ast.ExprStmt); ok {
		object = c.expr(e.X)
	} else {
		c.errorf(b.List[0], "lock block must start with the locked object")
	}
	body := c.add(b, compiler.Block{List: c.stmts(b.List[1:])})
	return c.add(s, compiler.Lock{Temp: temp, Object: object, Body: body})
}

// define matches "name := value", converting value in the current scope.
func (c *converter) define(stmt ast.Stmt) (string, compiler.Expr, bool) {
	a, ok := stmt.(*ast.AssignStmt)
	if !ok || a.Tok != token.DEFINE || len(a.Lhs) != 1 || len(a.Rhs) != 1 {
		return "", nil, false
	}
	id, ok := a.Lhs[0].(*ast.Ident)
	if !ok {
		return "", nil, false
	}
	return id.Name, c.expr(a.Rhs[0]), true
}

func (c *converter) foreach(s *ast.RangeStmt) compiler.NodeID {
	key, ok := s.Key.(*ast.Ident)
	if !ok || s.Value != nil || s.Tok != token.DEFINE {
		c.errorf(s, "only \"for v := range c\" loops are supported")
	}
	collection := c.expr(s.X)
	c.push()
	defer c.pop()
	v := c.declare(key.Name, elemType(typeOf(c.m, collection)))
	return c.add(s, compiler.Foreach{
		Var:        v,
		Enum:       compiler.NoVar,
		Collection: collection,
		Body:       c.block(s.Body),
	})
}

func (c *converter) assign(s *ast.AssignStmt) compiler.NodeID {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		c.errorf(s, "multiple assignment is not supported")
	}
	lhs, rhs := s.Lhs[0], s.Rhs[0]
	switch s.Tok {
	case token.DEFINE:
		id, ok := lhs.(*ast.Ident)
		if !ok {
			c.errorf(lhs, "non-name %s on left side of :=", types.ExprString(lhs))
		}
		value := c.expr(rhs)
		v := c.declare(id.Name, typeOf(c.m, value))
		return c.add(s, compiler.Assign{Var: v, Value: value})

	case token.ASSIGN:
		if id, ok := lhs.(*ast.Ident); ok && id.Name == "_" {
			return c.add(s, compiler.ExprStmt{X: c.expr(rhs)})
		}
		v := c.lvalue(lhs)
		return c.add(s, compiler.Assign{Var: v, Value: c.expr(rhs)})

	default:
		op, ok := assignOps[s.Tok]
		if !ok {
			c.errorf(s, "unsupported assignment %s", s.Tok)
		}
		v := c.lvalue(lhs)
		return c.add(s, compiler.Assign{
			Var:   v,
			Value: compiler.Binary{Op: op, X: compiler.Var{ID: v}, Y: c.expr(rhs)},
		})
	}
}

var assignOps = map[token.Token]token.Token{
	token.ADD_ASSIGN:     token.ADD,
	token.SUB_ASSIGN:     token.SUB,
	token.MUL_ASSIGN:     token.MUL,
	token.QUO_ASSIGN:     token.QUO,
	token.REM_ASSIGN:     token.REM,
	token.AND_ASSIGN:     token.AND,
	token.OR_ASSIGN:      token.OR,
	token.XOR_ASSIGN:     token.XOR,
	token.SHL_ASSIGN:     token.SHL,
	token.SHR_ASSIGN:     token.SHR,
	token.AND_NOT_ASSIGN: token.AND_NOT,
}

func (c *converter) lvalue(expr ast.Expr) compiler.VarID {
	id, ok := astutil.Unparen(expr).(*ast.Ident)
	if !ok {
		c.errorf(expr, "cannot assign to %s", types.ExprString(expr))
	}
	v, ok := c.scope.lookup(id.Name)
	if !ok {
		c.errorf(id, "undefined: %s", id.Name)
	}
	return v
}

func (c *converter) decl(s *ast.DeclStmt) compiler.NodeID {
	gen, ok := s.Decl.(*ast.GenDecl)
	if !ok || gen.Tok != token.VAR {
		c.errorf(s, "only var declarations are supported")
	}
	var list []compiler.NodeID
	for _, spec := range gen.Specs {
		vs := spec.(*ast.ValueSpec)
		if len(vs.Values) != 0 && len(vs.Values) != len(vs.Names) {
			c.errorf(vs, "assignment mismatch")
		}
		values := make([]compiler.Expr, len(vs.Names))
		for i := range vs.Names {
			if len(vs.Values) > 0 {
				values[i] = c.expr(vs.Values[i])
			}
		}
		for i, name := range vs.Names {
			var typ string
			switch {
			case vs.Type != nil:
				typ = types.ExprString(vs.Type)
			default:
				typ = typeOf(c.m, values[i])
			}
			if values[i] == nil {
				values[i] = zeroValue(typ)
			}
			v := c.declare(name.Name, typ)
			list = append(list, c.add(name, compiler.Assign{Var: v, Value: values[i]}))
		}
	}
	if len(list) == 1 {
		return list[0]
	}
	return c.add(s, compiler.Block{List: list})
}

func (c *converter) expr(expr ast.Expr) compiler.Expr {
	switch e := astutil.Unparen(expr).(type) {
	case *ast.BasicLit:
		return c.literal(e)

	case *ast.Ident:
		switch e.Name {
		case "true", "false":
			return compiler.Const{Value: e.Name == "true"}
		case "nil":
			return compiler.Const{}
		}
		if e.Name == c.recv && e.Name != "" {
			return compiler.This{}
		}
		if v, ok := c.scope.lookup(e.Name); ok {
			return compiler.Var{ID: v}
		}
		c.errorf(e, "undefined: %s", e.Name)

	case *ast.UnaryExpr:
		switch e.Op {
		case token.ADD, token.SUB, token.NOT, token.XOR:
			return compiler.Unary{Op: e.Op, X: c.expr(e.X)}
		}
		c.errorf(e, "unsupported operator %s", e.Op)

	case *ast.BinaryExpr:
		return compiler.Binary{Op: e.Op, X: c.expr(e.X), Y: c.expr(e.Y)}

	case *ast.CallExpr:
		if isYield(e) {
			c.errorf(e, "yield used as value")
		}
		return c.call(e, "any")
	}
	c.errorf(expr, "unsupported expression %s", types.ExprString(expr))
	panic("unreachable")
}

func (c *converter) literal(lit *ast.BasicLit) compiler.Expr {
	switch lit.Kind {
	case token.INT:
		v, err := strconv.ParseInt(strings.ReplaceAll(lit.Value, "_", ""), 0, 64)
		if err != nil {
			c.errorf(lit, "invalid integer literal %s", lit.Value)
		}
		return compiler.Const{Value: v}
	case token.FLOAT:
		v, err := strconv.ParseFloat(strings.ReplaceAll(lit.Value, "_", ""), 64)
		if err != nil {
			c.errorf(lit, "invalid floating-point literal %s", lit.Value)
		}
		return compiler.Const{Value: v}
	case token.STRING:
		v, err := strconv.Unquote(lit.Value)
		if err != nil {
			c.errorf(lit, "invalid string literal %s", lit.Value)
		}
		return compiler.Const{Value: v}
	case token.CHAR:
		v, _, _, err := strconv.UnquoteChar(lit.Value[1:len(lit.Value)-1], '\'')
		if err != nil {
			c.errorf(lit, "invalid character literal %s", lit.Value)
		}
		return compiler.Const{Value: int64(v)}
	}
	c.errorf(lit, "unsupported literal %s", lit.Value)
	panic("unreachable")
}

func (c *converter) call(call *ast.CallExpr, typ string) compiler.Expr {
	if call.Ellipsis.IsValid() {
		c.errorf(call, "variadic calls are not supported")
	}
	switch fn := call.Fun.(type) {
	case *ast.Ident, *ast.SelectorExpr:
	default:
		c.errorf(call, "cannot call %s", types.ExprString(fn))
	}
	args := make([]compiler.Expr, len(call.Args))
	for i, arg := range call.Args {
		args[i] = c.expr(arg)
	}
	return compiler.Call{Func: types.ExprString(call.Fun), Args: args, Type: typ}
}

// typeOf infers the type of an expression from its literals and operands.
func typeOf(m *compiler.Method, e compiler.Expr) string {
	switch e := e.(type) {
	case compiler.Const:
		switch e.Value.(type) {
		case int64:
			return "int"
		case float64:
			return "float64"
		case string:
			return "string"
		case bool:
			return "bool"
		}
	case compiler.Var:
		return m.Vars[e.ID].Type
	case compiler.This:
		return m.Receiver
	case compiler.Unary:
		if e.Op == token.NOT {
			return "bool"
		}
		return typeOf(m, e.X)
	case compiler.Binary:
		switch e.Op {
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ, token.LAND, token.LOR:
			return "bool"
		}
		return typeOf(m, e.X)
	}
	return "any"
}

// elemType returns the element type of a collection type.
func elemType(typ string) string {
	if elem, ok := strings.CutPrefix(typ, "[]"); ok {
		return elem
	}
	if shape, ok := compiler.ShapeOf(typ); ok {
		return shape.Elem
	}
	return "any"
}

func zeroValue(typ string) compiler.Expr {
	switch typ {
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "byte", "rune":
		return compiler.Const{Value: int64(0)}
	case "float32", "float64":
		return compiler.Const{Value: float64(0)}
	case "string":
		return compiler.Const{Value: ""}
	case "bool":
		return compiler.Const{Value: false}
	}
	return compiler.Const{}
}
