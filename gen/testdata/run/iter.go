package main

func Range(lo, hi int) Enumerable[int] {
	for lo < hi {
		yield(lo)
		lo++
	}
}

func Deep(n int) Enumerator[int] {
	try: {
		log("a")
		try: {
			for i := 0; i < n; i++ {
				yield(i)
			}
		}
		finally: {
			log("C")
		}
	}
	finally: {
		log("A")
	}
}

func Squares(items []int) Enumerator[int] {
	for x := range items {
		if x > 1 && x < 9 {
			yield(x * x)
		}
	}
}

func (t *Tree) Words(w string) Enumerator[string] {
	visit(t)
	yield(w)
	yield(w + "!")
}

func Fail(n int) Enumerator[int] {
	try: {
		yield(n)
		check(n)
		yield(n + 1)
	}
	finally: {
		log("cleanup")
	}
}
