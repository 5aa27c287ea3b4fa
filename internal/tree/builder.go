// Package tree derives the canonical run tree from normalized journal
// records and validates its structure.
//
// The parent back-reference on each record is the only relationship
// input. Children orderings are keyed by the record ordinal, never by
// ingestion order, so rebuilding from the same normalized records is
// bit-identical every time.
package tree

import (
	"errors"
	"sort"

	"github.com/agentforest/forest/internal/journal"
)

// Node wraps a record with its derived children list.
type Node struct {
	Record   journal.Record
	Children []string // child ids in (Step, ID) order
}

// Tree is a validated run tree. It is immutable after Build.
type Tree struct {
	Root  string
	Nodes map[string]*Node
	// order holds node ids in (Step, ID) order for deterministic walks.
	order []string
}

// three-color marks for the cycle walk
const (
	white = iota // unvisited
	gray         // on the current parent chain
	black        // fully explored
)

// Build derives the validated tree for a normalized record set.
//
// Violations are collected, not short-circuited: the returned error
// joins every DanglingParentError, CycleError, and root-count error
// found, so a caller sees the complete damage in one pass. A record
// set with any violation produces no tree at all: Build never drops
// or reparents records to force a result.
func Build(records []journal.Record) (*Tree, error) {
	index := make(map[string]*journal.Record, len(records))
	for i := range records {
		index[records[i].ID] = &records[i]
	}

	var errs []error

	// 1. Dangling parent references.
	for i := range records {
		ref := records[i].ParentRef
		if ref != nil {
			if _, ok := index[*ref]; !ok {
				errs = append(errs, &DanglingParentError{
					ChildID:   records[i].ID,
					ParentRef: *ref,
				})
			}
		}
	}

	// 2. Cycles in the parent pointers.
	errs = append(errs, findCycles(records, index)...)

	// 3. Exactly one root.
	var roots []string
	for i := range records {
		if records[i].ParentRef == nil {
			roots = append(roots, records[i].ID)
		}
	}
	switch {
	case len(records) > 0 && len(roots) == 0:
		errs = append(errs, &NoRootError{})
	case len(roots) > 1:
		errs = append(errs, &MultipleRootsError{Roots: roots})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	t := &Tree{Nodes: make(map[string]*Node, len(records))}
	for i := range records {
		t.Nodes[records[i].ID] = &Node{Record: records[i]}
		t.order = append(t.order, records[i].ID)
	}
	if len(roots) == 1 {
		t.Root = roots[0]
	}

	for i := range records {
		if ref := records[i].ParentRef; ref != nil {
			parent := t.Nodes[*ref]
			parent.Children = append(parent.Children, records[i].ID)
		}
	}
	for _, node := range t.Nodes {
		sortByOrdinal(node.Children, t.Nodes)
	}
	// Canonical node order does not depend on how the caller ordered
	// the input slice.
	sortByOrdinal(t.order, t.Nodes)

	return t, nil
}

// findCycles walks parent chains with three-color marking. An edge to
// a gray node closes a cycle; chains ending at the root, at a dangling
// reference, or at a black node are clean. Each cycle is reported once.
func findCycles(records []journal.Record, index map[string]*journal.Record) []error {
	colors := make(map[string]int, len(records))
	var errs []error

	for i := range records {
		start := records[i].ID
		if colors[start] != white {
			continue
		}

		var chain []string
		cur := start
		for {
			colors[cur] = gray
			chain = append(chain, cur)

			ref := index[cur].ParentRef
			if ref == nil {
				break
			}
			next, ok := index[*ref]
			if !ok {
				break // dangling, reported separately
			}
			if colors[next.ID] == black {
				break
			}
			if colors[next.ID] == gray {
				// Close the cycle at its first occurrence on the chain.
				at := 0
				for j, id := range chain {
					if id == next.ID {
						at = j
						break
					}
				}
				path := append(append([]string{}, chain[at:]...), next.ID)
				errs = append(errs, &CycleError{Path: path})
				break
			}
			cur = next.ID
		}

		for _, id := range chain {
			colors[id] = black
		}
	}

	return errs
}

// Walk visits every node in (Step, ID) order.
func (t *Tree) Walk(fn func(*Node)) {
	for _, id := range t.order {
		fn(t.Nodes[id])
	}
}

// MultiChildParents returns the ids of nodes with two or more children,
// in (Step, ID) order. These are the nodes whose children need
// equivalence clustering.
func (t *Tree) MultiChildParents() []string {
	var out []string
	for _, id := range t.order {
		if len(t.Nodes[id].Children) > 1 {
			out = append(out, id)
		}
	}
	return out
}

// ChildRecords returns the records of a node's children in their
// canonical order. The returned slice is freshly allocated.
func (t *Tree) ChildRecords(parentID string) []journal.Record {
	node, ok := t.Nodes[parentID]
	if !ok {
		return nil
	}
	out := make([]journal.Record, 0, len(node.Children))
	for _, id := range node.Children {
		out = append(out, t.Nodes[id].Record)
	}
	return out
}

func sortByOrdinal(ids []string, nodes map[string]*Node) {
	sort.SliceStable(ids, func(a, b int) bool {
		ra, rb := nodes[ids[a]].Record, nodes[ids[b]].Record
		if ra.Step != rb.Step {
			return ra.Step < rb.Step
		}
		return ra.ID < rb.ID
	})
}
