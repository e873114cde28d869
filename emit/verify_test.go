package emit

import (
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		scenario string
		build    func(b *Builder)
		err      string
	}{
		{
			scenario: "well formed loop with region",
			build: func(b *Builder) {
				*b.Func() = *counter()
			},
		},

		{
			scenario: "empty function",
			build:    func(b *Builder) {},
			err:      "empty function",
		},

		{
			scenario: "falls off the end",
			build: func(b *Builder) {
				b.Int(1)
				b.Pop()
			},
			err: "falls off the end",
		},

		{
			scenario: "undefined label",
			build: func(b *Builder) {
				b.Br(b.NewLabel())
			},
			err: "undefined label",
		},

		{
			scenario: "label defined twice",
			build: func(b *Builder) {
				l := b.NewLabel()
				b.Mark(l)
				b.Mark(l)
				b.RetVoid()
			},
			err: "defined twice",
		},

		{
			scenario: "branch into a region",
			build: func(b *Builder) {
				inside := b.NewLabel()
				b.Br(inside)
				b.BeginTry(RegionTryFinally)
				b.Mark(inside)
				b.EndTry()
				b.RetVoid()
			},
			err: "enters region 0",
		},

		{
			scenario: "branch out of a region",
			build: func(b *Builder) {
				out := b.NewLabel()
				b.BeginTry(RegionTryFinally)
				b.Br(out)
				b.EndTry()
				b.Mark(out)
				b.RetVoid()
			},
		},

		{
			scenario: "branch into sibling region",
			build: func(b *Builder) {
				l := b.NewLabel()
				b.BeginTry(RegionTryFinally)
				b.Br(l)
				b.EndTry()
				b.BeginTry(RegionTryFinally)
				b.Mark(l)
				b.EndTry()
				b.RetVoid()
			},
			err: "enters region 1",
		},

		{
			scenario: "unclosed region",
			build: func(b *Builder) {
				b.BeginTry(RegionLock)
				b.RetVoid()
			},
			err: "never closed",
		},

		{
			scenario: "inconsistent stack depth",
			build: func(b *Builder) {
				l := b.NewLabel()
				b.Bool(true)
				b.BrTrue(l)
				b.Int(1)
				b.Mark(l)
				b.RetVoid()
			},
			err: "inconsistent stack depth",
		},

		{
			scenario: "stack underflow",
			build: func(b *Builder) {
				b.Pop()
				b.RetVoid()
			},
			err: "pops 1 values",
		},

		{
			scenario: "ret with leftovers",
			build: func(b *Builder) {
				b.Int(1)
				b.Int(2)
				b.Ret()
			},
			err: "ret leaves 1 values",
		},

		{
			scenario: "argument out of range",
			build: func(b *Builder) {
				b.Arg(3)
				b.Ret()
			},
			err: "malformed arg 3",
		},

		{
			scenario: "switch falls through",
			build: func(b *Builder) {
				a, c := b.NewLabel(), b.NewLabel()
				b.Int(0)
				b.Switch([]Label{a, c})
				b.Mark(a)
				b.Mark(c)
				b.RetVoid()
			},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			b := NewBuilder("f", nil, "")
			test.build(b)
			err := Verify(b.Func())
			switch {
			case test.err == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case test.err != "" && err == nil:
				t.Fatalf("expected error containing %q", test.err)
			case test.err != "" && !strings.Contains(err.Error(), test.err):
				t.Fatalf("error %q does not contain %q", err, test.err)
			}
		})
	}
}
