// Package oracle defines the equivalence-judging capability consumed
// by the clustering engine.
//
// The oracle is the only component allowed to declare two differently
// structured payloads semantically equivalent. It is slow, rate
// limited, and occasionally wrong or unavailable, so everything it
// returns is treated as advisory equivalence edges, never as a final
// partition: the clustering engine closes the edges transitively.
package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Judge is the consumed capability: given the payloads of two or more
// sibling records, return an equivalence verdict.
//
// Implementations must be safe for concurrent use; the clustering
// engine fans batches out across parents.
type Judge interface {
	JudgeSiblings(ctx context.Context, payloads []string) (*Verdict, error)
}

// Verdict is the oracle's answer for one batch, in either of two
// forms: a direct grouping (sub-partition of the batch by index), or
// pairwise verdicts. Both contribute equivalence edges; a verdict
// carrying both is applied in full.
//
// Indices not mentioned by either form are simply unmatched within
// this batch; they are not an assertion of anything.
type Verdict struct {
	// Groups lists index groups judged equivalent, e.g. [[0,2],[1,3]].
	Groups [][]int

	// Pairs lists per-pair verdicts for judges that compare pairwise.
	Pairs []PairVerdict
}

// PairVerdict is one pairwise judgment within a batch.
type PairVerdict struct {
	A, B       int
	Equivalent bool
}

// Validate checks that a verdict is internally consistent for a batch
// of n payloads: indices in range, and no index claimed by two groups.
func (v *Verdict) Validate(n int) error {
	seen := make(map[int]bool)
	for _, group := range v.Groups {
		for _, idx := range group {
			if idx < 0 || idx >= n {
				return fmt.Errorf("group index %d out of range for batch of %d", idx, n)
			}
			if seen[idx] {
				return fmt.Errorf("index %d appears in more than one group", idx)
			}
			seen[idx] = true
		}
	}
	for _, pair := range v.Pairs {
		if pair.A < 0 || pair.A >= n || pair.B < 0 || pair.B >= n {
			return fmt.Errorf("pair (%d,%d) out of range for batch of %d", pair.A, pair.B, n)
		}
	}
	return nil
}

// AlignmentStatus classifies how one step's code change relates to
// the plan that introduced it.
type AlignmentStatus string

const (
	AlignmentAligned  AlignmentStatus = "aligned"
	AlignmentPartial  AlignmentStatus = "partial"
	AlignmentDeviated AlignmentStatus = "deviated"

	// AlignmentSkipped marks steps with no plan or no code change;
	// there is nothing to judge. Assigned locally, never by a model.
	AlignmentSkipped AlignmentStatus = "skipped"

	// AlignmentError marks a step whose judgment call failed after
	// retries. Error rows are re-judged on the next run.
	AlignmentError AlignmentStatus = "error"
)

// AlignmentVerdict is the oracle's answer for one step: whether the
// code change implements the step's plan, and a short reason.
type AlignmentVerdict struct {
	Status AlignmentStatus `json:"status"`
	Reason string          `json:"reason"`
}

// Validate checks that the status is one a model may legitimately
// return. Skipped and error are bookkeeping statuses, not verdicts.
func (v *AlignmentVerdict) Validate() error {
	switch v.Status {
	case AlignmentAligned, AlignmentPartial, AlignmentDeviated:
		return nil
	}
	return fmt.Errorf("unknown alignment status %q", v.Status)
}

// AlignmentJudge judges whether one step's code change implements its
// plan. Implementations must be safe for concurrent use.
type AlignmentJudge interface {
	JudgeAlignment(ctx context.Context, plan, diff string) (*AlignmentVerdict, error)
}

// ErrorKind classifies a failed oracle call.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts, and server
	// errors. Retryable.
	KindTransient ErrorKind = iota

	// KindRateLimited is the provider pushing back. Retryable, with
	// backoff.
	KindRateLimited

	// KindMalformed means the oracle answered but the answer is
	// unusable. Not retried: the batch is abandoned for this run.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified oracle failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying. Context
// timeouts count: a bounded wait that expired is treated identically
// to a transient failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Kind == KindTransient || oerr.Kind == KindRateLimited
	}
	return false
}
