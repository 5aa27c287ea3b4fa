package oracle

import (
	"context"
	"sync"
)

// Stub is a deterministic Judge for tests and dry runs. It records
// every batch it is asked about, which lets tests assert that already
// resolved children are never resubmitted.
type Stub struct {
	mu sync.Mutex

	// JudgeFunc produces the verdict for a batch. When nil, every
	// payload is judged distinct (empty verdict).
	JudgeFunc func(call int, payloads []string) (*Verdict, error)

	// AlignFunc produces the alignment verdict for a step. When nil,
	// every step is judged aligned.
	AlignFunc func(call int, plan, diff string) (*AlignmentVerdict, error)

	calls      int
	batches    [][]string
	alignCalls int
	diffs      []string
}

var (
	_ Judge          = (*Stub)(nil)
	_ AlignmentJudge = (*Stub)(nil)
)

// JudgeSiblings implements Judge.
func (s *Stub) JudgeSiblings(ctx context.Context, payloads []string) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	call := s.calls
	s.calls++
	s.batches = append(s.batches, append([]string{}, payloads...))
	fn := s.JudgeFunc
	s.mu.Unlock()

	if fn == nil {
		return &Verdict{}, nil
	}
	return fn(call, payloads)
}

// JudgeAlignment implements AlignmentJudge.
func (s *Stub) JudgeAlignment(ctx context.Context, plan, diff string) (*AlignmentVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	call := s.alignCalls
	s.alignCalls++
	s.diffs = append(s.diffs, diff)
	fn := s.AlignFunc
	s.mu.Unlock()

	if fn == nil {
		return &AlignmentVerdict{Status: AlignmentAligned}, nil
	}
	return fn(call, plan, diff)
}

// Calls returns how many batches were submitted.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Batches returns a copy of every submitted batch, in order.
func (s *Stub) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

// AlignCalls returns how many alignment judgments were requested.
func (s *Stub) AlignCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alignCalls
}

// SubmittedDiffs returns every diff ever submitted, in order.
func (s *Stub) SubmittedDiffs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.diffs))
	copy(out, s.diffs)
	return out
}

// SubmittedPayloads returns every payload ever submitted, flattened.
func (s *Stub) SubmittedPayloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}
