// Package journal handles ingestion of agent run journals.
//
// A journal is the flat record of one autonomous run: each record is a
// single exploration step with a plan, the code it produced, and a
// back-reference to the step it branched from. Journals arrive in a few
// historical encodings; this package normalizes all of them into one
// canonical record sequence that the rest of the pipeline can trust.
package journal

// Record is one normalized journal entry.
//
// Records are immutable after normalization. Tree structure (children
// lists) and cluster membership are derived elsewhere and never written
// back into the record.
type Record struct {
	// ID is the stable unique key for this step
	ID string `json:"id"`

	// ParentRef is the id of the step this one branched from.
	// nil marks the root of the run.
	ParentRef *string `json:"parent,omitempty"`

	// Plan is the natural-language intent for this step.
	// This is the payload submitted to the equivalence judge.
	Plan string `json:"plan"`

	// Code is the program text this step produced.
	// This is the payload the structural fingerprint is computed from.
	Code string `json:"code"`

	// Step is the creation ordinal, used as the tie-break key so that
	// derived orderings are stable regardless of raw input order.
	Step int `json:"step"`
}

// JudgePayload returns the text submitted to the equivalence oracle for
// this record: the plan when one exists, otherwise the code body.
func (r *Record) JudgePayload() string {
	if r.Plan != "" {
		return r.Plan
	}
	return r.Code
}

// FingerprintContent returns the text the structural fingerprint is
// computed from: the code body when one exists, otherwise the plan.
func (r *Record) FingerprintContent() string {
	if r.Code != "" {
		return r.Code
	}
	return r.Plan
}
