package tree

import (
	"fmt"
	"strings"
)

// Structural errors are fatal for the affected tree and are never
// auto-repaired: the builder reports every violation it finds and
// leaves the decision (abort vs. patch the input) to the caller.

// DanglingParentError reports a record whose parent reference does not
// resolve to any known record.
type DanglingParentError struct {
	ChildID   string
	ParentRef string
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf("record %s references unknown parent %s", e.ChildID, e.ParentRef)
}

// CycleError reports a parent-pointer cycle. Path lists the ids on the
// cycle in parent order, starting and ending at the same record.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("parent references form a cycle: %s", strings.Join(e.Path, " -> "))
}

// MultipleRootsError reports more than one record with a null parent.
type MultipleRootsError struct {
	Roots []string
}

func (e *MultipleRootsError) Error() string {
	return fmt.Sprintf("expected exactly one root, found %d: %s", len(e.Roots), strings.Join(e.Roots, ", "))
}

// NoRootError reports a record set with no null-parent record.
type NoRootError struct{}

func (e *NoRootError) Error() string {
	return "no root record: every record has a parent reference"
}
