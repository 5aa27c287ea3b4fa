// Package assemble combines a validated tree with per-parent
// partitions into the final result artifact. No oracle calls happen
// here; the output is deterministic given the same tree and state.
package assemble

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/agentforest/forest/internal/cluster"
	"github.com/agentforest/forest/internal/tree"
)

// ParentPartition is the resolved grouping for one parent node.
type ParentPartition struct {
	ParentID string `json:"parent_id"`

	// Groups of equivalent child ids. Group order follows the order
	// groups were resolved in; members are ordered by ordinal.
	Groups [][]string `json:"groups"`

	// Unresolved children whose oracle calls never succeeded.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Artifact is the persisted analysis result.
type Artifact struct {
	GeneratedAt time.Time         `json:"generated_at"`
	RunID       string            `json:"run_id,omitempty"`
	RootID      string            `json:"root_id"`
	Parents     []ParentPartition `json:"parents"`
}

// Build assembles the artifact from the tree and clustering results.
// Parents are ordered by (ordinal, id) for stable output; parents
// without a clustering result (fewer than two children) are omitted.
func Build(t *tree.Tree, results map[string]*cluster.Result, runID string) *Artifact {
	art := &Artifact{
		GeneratedAt: time.Now().UTC(),
		RunID:       runID,
		RootID:      t.Root,
	}

	parentIDs := make([]string, 0, len(results))
	for id := range results {
		parentIDs = append(parentIDs, id)
	}
	sort.Slice(parentIDs, func(i, j int) bool {
		a, b := t.Nodes[parentIDs[i]].Record, t.Nodes[parentIDs[j]].Record
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		return a.ID < b.ID
	})

	for _, id := range parentIDs {
		r := results[id]
		art.Parents = append(art.Parents, ParentPartition{
			ParentID:   id,
			Groups:     r.Groups,
			Unresolved: r.Unresolved,
		})
	}
	return art
}

// RedundantGroups returns the partitions containing at least one group
// of two or more children, i.e. the parents where siblings actually
// duplicated each other.
func (a *Artifact) RedundantGroups() []ParentPartition {
	var out []ParentPartition
	for _, p := range a.Parents {
		for _, g := range p.Groups {
			if len(g) >= 2 {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// WriteFile writes the artifact as indented JSON.
func (a *Artifact) WriteFile(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
