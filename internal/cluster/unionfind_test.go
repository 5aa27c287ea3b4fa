package cluster

import (
	"reflect"
	"testing"
)

func TestUnionFindTransitiveClosure(t *testing.T) {
	// A~B and B~C imply A~C even though A and C were never compared
	uf := newUnionFind(4)
	uf.Union(0, 1)
	uf.Union(1, 2)

	if uf.Find(0) != uf.Find(2) {
		t.Error("transitive closure not enforced")
	}
	if uf.Find(3) == uf.Find(0) {
		t.Error("untouched element should remain its own set")
	}
}

func TestUnionFindSetsOrdering(t *testing.T) {
	uf := newUnionFind(6)
	uf.Union(4, 1)
	uf.Union(5, 3)

	got := uf.Sets()
	want := [][]int{{0}, {1, 4}, {2}, {3, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sets() = %v, want %v", got, want)
	}
}

func TestUnionFindIdempotentUnion(t *testing.T) {
	uf := newUnionFind(3)
	uf.Union(0, 1)
	uf.Union(1, 0)
	uf.Union(0, 1)

	if len(uf.Sets()) != 2 {
		t.Errorf("expected 2 sets, got %v", uf.Sets())
	}
}

func TestUnionFindOrderIndependence(t *testing.T) {
	a := newUnionFind(5)
	a.Union(0, 4)
	a.Union(2, 3)
	a.Union(4, 2)

	b := newUnionFind(5)
	b.Union(2, 3)
	b.Union(4, 2)
	b.Union(0, 4)

	if !reflect.DeepEqual(a.Sets(), b.Sets()) {
		t.Errorf("partition depends on union order: %v vs %v", a.Sets(), b.Sets())
	}
}
