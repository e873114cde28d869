package source

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stealthrocket/iterc/compiler"
)

func TestParseMethods(t *testing.T) {
	f, err := Parse("test.go", `package p

type Stack struct{}

func Count(n int) Enumerator[int] {
	for i := 0; i < n; i++ {
		yield(i)
	}
}

func (s *Stack) Items(prefix string) iter.Enumerable[string] {
	yield(prefix)
	yield(s.Top())
}

func helper(x int) int {
	return x
}

func Empty() Enumerable {
}
`)
	if err != nil {
		t.Fatal(err)
	}
	if f.Package != "p" {
		t.Errorf("package: got %q", f.Package)
	}
	if len(f.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", f.Diagnostics)
	}

	type method struct {
		Name     string
		Receiver string
		Result   string
		Params   []string
	}
	var got []method
	for _, m := range f.Methods {
		var params []string
		for _, p := range m.Params {
			params = append(params, m.Vars[p.Var].Name+" "+m.Vars[p.Var].Type)
		}
		got = append(got, method{m.Name, m.Receiver, m.Result, params})
	}
	want := []method{
		{"Count", "", "Enumerator[int]", []string{"n int"}},
		{"Items", "*Stack", "iter.Enumerable[string]", []string{"prefix string"}},
		{"Empty", "", "Enumerable", nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStatements(t *testing.T) {
	f, err := Parse("test.go", `package p

func F(xs []string, o any) Enumerator[string] {
	var total int
	for x := range xs {
		total += 1
		if x == "" {
			continue
		} else if total > 3 {
			break
		}
		yield(x)
	}
	try: {
		using: {
			r := open("f")
			yield(read(r))
		}
	}
	finally: {
		log(total)
	}
	lock: {
		o
		yield("locked")
	}
	return
}
`)
	if err != nil {
		t.Fatal(err)
	}
	m := f.Methods[0]

	var kinds []string
	m.Tree.Walk(m.Body, func(id compiler.NodeID) bool {
		switch s := m.Tree.Stmt(id).(type) {
		case compiler.Foreach:
			kinds = append(kinds, "foreach "+m.Vars[s.Var].Name+" "+m.Vars[s.Var].Type)
		case compiler.Try:
			kinds = append(kinds, "try")
		case compiler.Using:
			kinds = append(kinds, "using "+m.Vars[s.Var].Name)
		case compiler.Lock:
			if s.Temp != compiler.NoVar {
				t.Errorf("lock without declaration has temp %d", s.Temp)
			}
			kinds = append(kinds, "lock")
		case compiler.Yield:
			kinds = append(kinds, "yield")
		case compiler.YieldBreak:
			kinds = append(kinds, "yield break")
		case compiler.Break:
			kinds = append(kinds, "break")
		case compiler.Continue:
			kinds = append(kinds, "continue")
		}
		return true
	})
	want := []string{
		"foreach x string",
		"continue",
		"break",
		"yield",
		"try",
		"using r",
		"yield",
		"lock",
		"yield",
		"yield break",
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}

	// Positions are recorded for every statement.
	m.Tree.Walk(m.Body, func(id compiler.NodeID) bool {
		pos := m.Tree.Pos(id)
		if !pos.IsValid() {
			t.Errorf("statement %d (%T) has no position", id, m.Tree.Stmt(id))
		}
		return true
	})
}

func TestParseTypeInference(t *testing.T) {
	f, err := Parse("test.go", `package p

func F(s string) Enumerator {
	a := 1
	b := 1.5
	c := "x" + s
	d := a < 2
	e := -a
	g := call()
	var h float64
	var i, j = true, 'c'
	yield(a)
}
`)
	if err != nil {
		t.Fatal(err)
	}
	m := f.Methods[0]
	got := map[string]string{}
	for _, v := range m.Vars {
		got[v.Name] = v.Type
	}
	want := map[string]string{
		"s": "string",
		"a": "int",
		"b": "float64",
		"c": "string",
		"d": "bool",
		"e": "int",
		"g": "any",
		"h": "float64",
		"i": "bool",
		"j": "int",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
}

func TestParseShadowing(t *testing.T) {
	f, err := Parse("test.go", `package p

func F() Enumerator[int] {
	x := 1
	{
		x := 2
		yield(x)
	}
	yield(x)
}
`)
	if err != nil {
		t.Fatal(err)
	}
	m := f.Methods[0]
	var yielded []compiler.VarID
	m.Tree.Walk(m.Body, func(id compiler.NodeID) bool {
		if y, ok := m.Tree.Stmt(id).(compiler.Yield); ok {
			yielded = append(yielded, y.Value.(compiler.Var).ID)
		}
		return true
	})
	if len(yielded) != 2 || yielded[0] == yielded[1] {
		t.Errorf("shadowed variable resolved to the same slot: %v", yielded)
	}
}

func TestParseDiagnostics(t *testing.T) {
	tests := []struct {
		scenario string
		src      string
		want     string
	}{
		{
			scenario: "ref parameter",
			src:      "func F(x Ref[int]) Enumerator[int] { yield(x) }",
			want:     "ref or out parameters",
		},
		{
			scenario: "out parameter",
			src:      "func F(x Out[int]) Enumerator[int] { yield(1) }",
			want:     "ref or out parameters",
		},
		{
			scenario: "variadic parameter",
			src:      "func F(xs ...int) Enumerator[int] { yield(1) }",
			want:     "variadic parameters",
		},
		{
			scenario: "pointer parameter",
			src:      "func F(p *int) Enumerator[int] { yield(1) }",
			want:     "pointer-typed parameters",
		},
		{
			scenario: "pointer element",
			src:      "func F() Enumerator[*int] { yield(nil) }",
			want:     "pointer element type",
		},
		{
			scenario: "not an iterator type",
			src:      "func F() int { yield(1) }",
			want:     "is not an iterator interface type",
		},
		{
			scenario: "yield in finally",
			src:      "func F() Enumerator[int] { try: { yield(1) }\nfinally: { yield(2) } }",
			want:     "cannot yield in the body of a finally clause",
		},
		{
			scenario: "unsafe block",
			src:      "func F() Enumerator[int] { unsafe: { yield(1) } }",
			want:     "unsafe code may not appear in iterators",
		},
		{
			scenario: "break outside of a loop",
			src:      "func F() Enumerator[int] { yield(1); break }",
			want:     "not in a loop",
		},
		{
			scenario: "break out of finally",
			src:      "func F() Enumerator[int] { for { try: { yield(1) }\nfinally: { break } } }",
			want:     "control cannot leave the body of a finally clause",
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			f, err := Parse("test.go", "package p\n"+test.src)
			if err != nil {
				t.Fatal(err)
			}
			if len(f.Methods) != 1 || !f.Methods[0].Reported {
				t.Fatalf("method was not marked reported")
			}
			for _, d := range f.Diagnostics {
				if strings.Contains(d.Msg, test.want) {
					return
				}
			}
			t.Errorf("no diagnostic containing %q in %v", test.want, f.Diagnostics)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		scenario string
		src      string
		want     string
	}{
		{
			scenario: "return value",
			src:      "func F() Enumerator[int] { return 1 }",
			want:     "cannot return values",
		},
		{
			scenario: "undefined variable",
			src:      "func F() Enumerator[int] { yield(x) }",
			want:     "undefined: x",
		},
		{
			scenario: "try without finally",
			src:      "func F() Enumerator[int] { try: { yield(1) } }",
			want:     "must be followed by a finally block",
		},
		{
			scenario: "finally without try",
			src:      "func F() Enumerator[int] { finally: { yield(1) } }",
			want:     "finally block without try",
		},
		{
			scenario: "yield as value",
			src:      "func F() Enumerator[int] { x := yield(1); yield(x) }",
			want:     "yield used as value",
		},
		{
			scenario: "labeled break",
			src:      "func F() Enumerator[int] { for { yield(1); break L } }",
			want:     "labeled break",
		},
		{
			scenario: "multiple assignment",
			src:      "func F() Enumerator[int] { a, b := 1, 2; yield(a + b) }",
			want:     "multiple assignment",
		},
		{
			scenario: "using without declaration",
			src:      "func F() Enumerator[int] { using: { yield(1) } }",
			want:     "must start with a resource declaration",
		},
		{
			scenario: "syntax error",
			src:      "func F() Enumerator[int] { yield(1 }",
			want:     "expected",
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			_, err := Parse("test.go", "package p\n"+test.src)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not contain %q", err, test.want)
			}
			if !strings.HasPrefix(err.Error(), "test.go:") {
				t.Errorf("error %q has no position", err)
			}
		})
	}
}

func TestParseBuildConstraint(t *testing.T) {
	for _, test := range []struct {
		name string
		src  string
		want string
	}{
		{
			name: "none",
			src:  "package p\n",
		},
		{
			name: "go:build",
			src:  "//go:build linux && !cgo\n\npackage p\n",
			want: "linux && !cgo",
		},
		{
			name: "plus build",
			src:  "// +build linux darwin\n// +build amd64\n\npackage p\n",
			want: "(linux || darwin) && amd64",
		},
		{
			name: "after package clause",
			src:  "package p\n\n//go:build linux\n",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			f, err := Parse("test.go", test.src)
			if err != nil {
				t.Fatal(err)
			}
			got := ""
			if f.Constraint != nil {
				got = f.Constraint.String()
			}
			if got != test.want {
				t.Errorf("constraint %q, want %q", got, test.want)
			}
		})
	}

	if _, err := Parse("test.go", "//go:build linux &&\n\npackage p\n"); err == nil {
		t.Error("invalid build constraint was accepted")
	}
}
