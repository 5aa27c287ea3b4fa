// Package state persists clustering progress between runs.
//
// The store is keyed by parent node id and is append-only within a
// parent: groups recorded in one run are never rewritten or deleted by
// a later run, only added to. The unresolved list is the exception; it
// is replaced on every run, since an unresolved child either stays
// unresolved or graduates into a new group.
package state

import (
	"context"

	"github.com/agentforest/forest/internal/oracle"
)

// ParentState is the persisted clustering progress for one parent node.
type ParentState struct {
	ParentID string

	// Groups resolved so far, in the order they were appended. Children
	// appearing here are frozen and never resubmitted to the oracle.
	Groups [][]string

	// Unresolved children from the most recent run. Eligible for
	// resubmission on the next run.
	Unresolved []string
}

// Resolved reports the set of child ids already assigned to a group.
func (s ParentState) Resolved() map[string]bool {
	resolved := make(map[string]bool)
	for _, group := range s.Groups {
		for _, id := range group {
			resolved[id] = true
		}
	}
	return resolved
}

// Store is the persistence interface for clustering progress.
// Implementations must tolerate concurrent calls for different
// parents; callers serialize writes within one parent.
type Store interface {
	// Get returns the state for a parent. A parent never seen before
	// returns a zero-valued state, not an error.
	Get(ctx context.Context, parentID string) (ParentState, error)

	// AppendGroups adds newly resolved groups to a parent's state.
	// Existing groups are untouched.
	AppendGroups(ctx context.Context, parentID string, groups [][]string) error

	// SetUnresolved replaces the parent's unresolved list.
	SetUnresolved(ctx context.Context, parentID string, ids []string) error

	// Judgments returns all persisted alignment verdicts keyed by
	// record id.
	Judgments(ctx context.Context) (map[string]oracle.AlignmentVerdict, error)

	// SetJudgment persists the alignment verdict for one record.
	SetJudgment(ctx context.Context, recordID string, v oracle.AlignmentVerdict) error

	// Reset deletes all persisted state. Explicit operation only;
	// nothing in the normal run path calls this.
	Reset(ctx context.Context) error

	Close() error
}
