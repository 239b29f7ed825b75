package cluster

import (
	"reflect"
	"testing"
)

func TestUnionFindBasics(t *testing.T) {
	a := NewArena()
	a.Add("a")
	a.Add("b")
	a.Add("c")

	if a.Same("a", "b") {
		t.Fatal("fresh keys should be disjoint")
	}

	a.Union("a", "b")
	if !a.Same("a", "b") {
		t.Fatal("a and b should share a set after union")
	}
	if a.Same("a", "c") {
		t.Fatal("c should stay disjoint")
	}

	a.Union("b", "c")
	if !a.Same("a", "c") {
		t.Fatal("union should be transitive")
	}
}

func TestFindRegistersUnknownKeys(t *testing.T) {
	a := NewArena()
	if root := a.Find("new"); root != "new" {
		t.Fatalf("unknown key root = %q, want itself", root)
	}
}

func TestUnionIdempotent(t *testing.T) {
	a := NewArena()
	a.Union("x", "y")
	a.Union("x", "y")
	a.Union("y", "x")
	groups := a.Groups()
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("repeated unions corrupted groups: %v", groups)
	}
}

func TestGroupsDeterministic(t *testing.T) {
	build := func() [][]string {
		a := NewArena()
		for _, k := range []string{"d", "b", "a", "c", "e"} {
			a.Add(k)
		}
		a.Union("d", "b")
		a.Union("e", "c")
		return a.Groups()
	}

	want := [][]string{{"a"}, {"b", "d"}, {"c", "e"}}
	for i := 0; i < 10; i++ {
		got := build()
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Groups() = %v, want %v", got, want)
		}
	}
}
