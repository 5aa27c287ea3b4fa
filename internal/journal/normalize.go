package journal

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SchemaError reports input that matches none of the recognized journal
// shapes, or a record that cannot be normalized. It is fatal: no tree
// work happens after a schema failure.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("journal schema error: %s", e.Reason)
}

// rawRecord accepts both historical field spellings for the parent
// reference. A non-empty parent_id takes precedence over parent,
// matching the oldest producers which wrote parent_id exclusively.
type rawRecord struct {
	ID       *string `json:"id"`
	Parent   *string `json:"parent"`
	ParentID *string `json:"parent_id"`
	Plan     string  `json:"plan"`
	Code     string  `json:"code"`
	Step     int     `json:"step"`
}

// wrapped is the dict-shaped journal variant: {"nodes": [...]}.
type wrapped struct {
	Nodes *[]rawRecord `json:"nodes"`
}

// Normalize parses a journal in either recognized shape (bare record
// list, or an object whose "nodes" field holds the list) and returns
// the canonical record sequence, sorted by (Step, ID).
//
// It fails with *SchemaError if neither shape matches, if any record
// lacks an id, or if two records share an id. Normalize never mutates
// or repairs records.
func Normalize(data []byte) ([]Record, error) {
	raws, err := decode(data)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raws))
	seen := make(map[string]bool, len(raws))

	for i, raw := range raws {
		if raw.ID == nil || *raw.ID == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("record %d has no id", i)}
		}
		id := *raw.ID
		if seen[id] {
			return nil, &SchemaError{Reason: fmt.Sprintf("duplicate record id %q", id)}
		}
		seen[id] = true

		records = append(records, Record{
			ID:        id,
			ParentRef: parentRef(raw),
			Plan:      raw.Plan,
			Code:      raw.Code,
			Step:      raw.Step,
		})
	}

	sort.SliceStable(records, func(a, b int) bool {
		if records[a].Step != records[b].Step {
			return records[a].Step < records[b].Step
		}
		return records[a].ID < records[b].ID
	})

	return records, nil
}

// Canonicalize rewrites a journal in any recognized shape to the
// canonical bare-list form, preserving record fields beyond the ones
// this package models. The result is indented JSON suitable for
// writing back to disk.
func Canonicalize(data []byte) ([]byte, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		var w struct {
			Nodes *[]json.RawMessage `json:"nodes"`
		}
		if err2 := json.Unmarshal(data, &w); err2 != nil || w.Nodes == nil {
			return nil, &SchemaError{Reason: "input is neither a record list nor an object with a nodes list"}
		}
		list = *w.Nodes
	}

	out, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to re-serialize journal: %w", err)
	}
	return out, nil
}

func decode(data []byte) ([]rawRecord, error) {
	var raws []rawRecord
	if err := json.Unmarshal(data, &raws); err == nil {
		return raws, nil
	}

	var w wrapped
	if err := json.Unmarshal(data, &w); err != nil || w.Nodes == nil {
		return nil, &SchemaError{Reason: "input is neither a record list nor an object with a nodes list"}
	}
	return *w.Nodes, nil
}

func parentRef(raw rawRecord) *string {
	ref := raw.ParentID
	if ref == nil || *ref == "" {
		ref = raw.Parent
	}
	if ref == nil || *ref == "" {
		return nil
	}
	// Copy so the returned pointer does not alias decoder internals.
	v := *ref
	return &v
}
