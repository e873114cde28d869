package main

import (
	"fmt"

	"github.com/stealthrocket/iterc"
)

type Tree struct{ name string }

func log(s string) { fmt.Println(s) }

func visit(t *Tree) { fmt.Println("visit", t.name) }

func check(n int) {
	if n > 0 {
		panic("boom")
	}
}

func collect[T any](e iterc.Enumerator[T]) (values []T) {
	iterc.Each(e, func(v T) bool {
		values = append(values, v)
		return true
	})
	return values
}

func main() {
	r := Range(0, 3)
	e1, e2 := r.GetEnumerator(), r.GetEnumerator()
	e1.MoveNext()
	e2.MoveNext()
	e2.MoveNext()
	fmt.Println(e1.Current(), e2.Current())
	e1.Dispose()
	e2.Dispose()
	fmt.Println(iterc.Values(r))

	d := Deep(3)
	d.MoveNext()
	d.MoveNext()
	fmt.Println(d.Current())
	d.Dispose()
	d.Dispose()
	fmt.Println(collect(Deep(2)))

	fmt.Println(collect(Squares([]int{1, 2, 3, 9})))
	fmt.Println(collect((&Tree{name: "t"}).Words("hi")))

	func() {
		defer func() { fmt.Println("recovered", recover()) }()
		iterc.Each(Fail(1), func(v int) bool {
			fmt.Println(v)
			return true
		})
	}()
}
