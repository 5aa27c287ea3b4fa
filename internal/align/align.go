// Package align judges whether each step's code change implements the
// plan recorded alongside it.
//
// Unlike clustering, alignment is linear: records are walked in step
// order and each one is diffed against the previous record's code,
// the order the journal was written in. Verdicts persist in the state
// store, so an interrupted or rate-limited run resumes where it left
// off; only rows whose previous judgment failed are re-judged.
package align

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/state"
)

// maxDiffBytes bounds the diff sent to the oracle. Oversized diffs
// are truncated, not rejected.
const maxDiffBytes = 15000

// Store persists per-record judgments between runs. Implemented by
// both state stores.
type Store interface {
	Judgments(ctx context.Context) (map[string]oracle.AlignmentVerdict, error)
	SetJudgment(ctx context.Context, recordID string, v oracle.AlignmentVerdict) error
}

// Config controls the retry policy for alignment calls.
type Config struct {
	// MaxRetries is how many times a retryable failure is retried.
	// Total attempts = MaxRetries + 1.
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// RequestTimeout bounds a single oracle call.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        2,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		RequestTimeout:    60 * time.Second,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %v", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max backoff %v is below initial backoff %v", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff multiplier must be >= 1.0, got %v", c.BackoffMultiplier)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout)
	}
	return nil
}

// Judgment ties one record to its alignment verdict.
type Judgment struct {
	RecordID string                 `json:"id"`
	Step     int                    `json:"step"`
	Status   oracle.AlignmentStatus `json:"status"`
	Reason   string                 `json:"reason,omitempty"`
}

// Stats counts what one JudgeRecords call did.
type Stats struct {
	// OracleCalls counts every attempt, including retries.
	OracleCalls int

	// Retries counts attempts beyond the first, summed over records.
	Retries int

	// Reused counts records whose verdict came from a prior run.
	Reused int
}

// Result is the outcome of judging one journal.
type Result struct {
	Judgments []Judgment
	Stats     Stats
}

// Engine drives alignment judging for a journal.
type Engine struct {
	judge oracle.AlignmentJudge
	store Store
	cfg   Config
}

// NewEngine creates an Engine. The store may be nil for one-shot runs
// with no resumability, in which case an in-memory store is used.
func NewEngine(judge oracle.AlignmentJudge, store Store, cfg Config) (*Engine, error) {
	if judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		store = state.NewMemory()
	}
	return &Engine{judge: judge, store: store, cfg: cfg}, nil
}

// JudgeRecords judges every record in step order, reusing persisted
// verdicts. A record with no plan or no code change is marked skipped
// without an oracle call; a record whose call fails after retries is
// marked with an error verdict and retried on the next run.
func (e *Engine) JudgeRecords(ctx context.Context, records []journal.Record) (*Result, error) {
	sorted := append([]journal.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Step != sorted[j].Step {
			return sorted[i].Step < sorted[j].Step
		}
		return sorted[i].ID < sorted[j].ID
	})

	prior, err := e.store.Judgments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load judgments: %w", err)
	}

	result := &Result{}
	prevCode := ""
	for _, rec := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("canceled after %d judgments: %w", len(result.Judgments), err)
		}

		if v, ok := prior[rec.ID]; ok && v.Status != oracle.AlignmentError {
			result.Judgments = append(result.Judgments, Judgment{
				RecordID: rec.ID, Step: rec.Step, Status: v.Status, Reason: v.Reason,
			})
			result.Stats.Reused++
			prevCode = rec.Code
			continue
		}

		verdict := e.judgeOne(ctx, rec, prevCode, &result.Stats)
		if err := e.store.SetJudgment(ctx, rec.ID, verdict); err != nil {
			return nil, fmt.Errorf("failed to record judgment for %s: %w", rec.ID, err)
		}
		result.Judgments = append(result.Judgments, Judgment{
			RecordID: rec.ID, Step: rec.Step, Status: verdict.Status, Reason: verdict.Reason,
		})
		prevCode = rec.Code
	}
	return result, nil
}

func (e *Engine) judgeOne(ctx context.Context, rec journal.Record, prevCode string, stats *Stats) oracle.AlignmentVerdict {
	diff := unifiedDiff(prevCode, rec.Code)
	if strings.TrimSpace(diff) == "" || strings.TrimSpace(rec.Plan) == "" {
		return oracle.AlignmentVerdict{
			Status: oracle.AlignmentSkipped,
			Reason: "no meaningful code changes or plan",
		}
	}
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n...[diff truncated]"
	}

	verdict, attempts, err := e.callWithRetry(ctx, rec.Plan, diff)
	stats.OracleCalls += attempts
	stats.Retries += attempts - 1
	if err != nil {
		log.Printf("[ALIGN] judgment failed for %s after %d attempts: %v", rec.ID, attempts, err)
		return oracle.AlignmentVerdict{Status: oracle.AlignmentError, Reason: err.Error()}
	}
	return *verdict
}

// callWithRetry invokes the judge with exponential backoff on
// retryable failures. Returns the number of attempts made alongside
// the verdict.
func (e *Engine) callWithRetry(ctx context.Context, plan, diff string) (*oracle.AlignmentVerdict, int, error) {
	var lastErr error
	backoff := e.cfg.InitialBackoff

	maxAttempts := e.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		verdict, err := e.judge.JudgeAlignment(callCtx, plan, diff)
		cancel()

		if err == nil {
			if verr := verdict.Validate(); verr != nil {
				return nil, attempt, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_alignment", Err: verr}
			}
			return verdict, attempt, nil
		}
		lastErr = err

		if !oracle.IsRetryable(err) {
			return nil, attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		log.Printf("[ALIGN] attempt %d/%d failed: %v (retrying in %v)",
			attempt, maxAttempts, err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, fmt.Errorf("canceled during backoff: %w", ctx.Err())
		}

		backoff = time.Duration(float64(backoff) * e.cfg.BackoffMultiplier)
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}

	return nil, maxAttempts, fmt.Errorf("alignment call failed after %d attempts: %w", maxAttempts, lastErr)
}

// unifiedDiff renders a unified diff between the previous and current
// code, three lines of context.
func unifiedDiff(prev, curr string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:       difflib.SplitLines(prev),
		B:       difflib.SplitLines(curr),
		Context: 3,
	})
	if err != nil {
		// The string writer cannot fail; guard anyway.
		return ""
	}
	return diff
}
