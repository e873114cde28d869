package compiler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTrackResumePoints(t *testing.T) {
	// yield            pc 1
	// try {            region a
	//     yield        pc 2
	//     try {        region b
	//         yield    pc 3
	//     } finally {}
	//     yield        pc 4
	// } finally {}
	// yield            pc 5
	tr := new(Tree)
	yield := func() NodeID { return tr.Add(Yield{Value: Const{Value: int64(0)}}) }
	block := func(ids ...NodeID) NodeID { return tr.Add(Block{List: ids}) }

	inner := tr.Add(Try{Prologue: NoNode, Body: block(yield()), Finally: block()})
	outer := tr.Add(Try{Prologue: NoNode, Body: block(yield(), inner, yield()), Finally: block()})
	body := block(yield(), outer, yield())

	reg := trackResumePoints(tr, body)
	if len(reg.points) != 5 {
		t.Fatalf("got %d resume points, want 5", len(reg.points))
	}
	a, b := reg.regions[outer], reg.regions[inner]
	if diff := cmp.Diff([]int{2, 3, 4}, a.points); diff != "" {
		t.Errorf("outer points mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3}, b.points); diff != "" {
		t.Errorf("inner points mismatch (-want +got):\n%s", diff)
	}
	if b.parent != a || b.top() != a || len(reg.top) != 1 || reg.top[0] != a {
		t.Error("region tree is not linked")
	}
	if a.child(3) != b || a.child(2) != nil || a.child(4) != nil {
		t.Error("child lookup does not follow ownership")
	}
	if !reg.nested() {
		t.Error("nested resume points were not detected")
	}

	owners := make([]*region, len(reg.points))
	for i, p := range reg.points {
		owners[i] = p.owner
	}
	want := []*region{nil, a, b, a, nil}
	for i := range want {
		if owners[i] != want[i] {
			t.Errorf("pc %d has the wrong owner", i+1)
		}
	}
}

func TestTrackResumePointsRejectsYieldInFinally(t *testing.T) {
	tr := new(Tree)
	fin := tr.Add(Block{List: []NodeID{tr.Add(Yield{Value: Const{}})}})
	body := tr.Add(Block{List: []NodeID{
		tr.Add(Try{Prologue: NoNode, Body: tr.Add(Block{}), Finally: fin}),
	}})

	defer func() {
		if _, ok := recover().(*InternalError); !ok {
			t.Error("expected an internal error")
		}
	}()
	trackResumePoints(tr, body)
}
