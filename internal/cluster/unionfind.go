package cluster

// unionFind is a disjoint-set structure over indices 0..n-1 with path
// compression and union by rank. It enforces transitive closure over
// equivalence edges regardless of the order they arrive in, which is
// what makes the final result a valid partition even when oracle
// verdicts are partial or inconsistent across batches.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Find returns the canonical representative of x's set.
func (uf *unionFind) Find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing a and b.
func (uf *unionFind) Union(a, b int) {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// Sets returns the partition as lists of member indices. Each set's
// members are in ascending index order, and sets are ordered by their
// smallest member.
func (uf *unionFind) Sets() [][]int {
	byRoot := make(map[int][]int)
	var order []int
	for i := range uf.parent {
		root := uf.Find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}
	sets := make([][]int, 0, len(order))
	for _, root := range order {
		sets = append(sets, byRoot[root])
	}
	return sets
}
