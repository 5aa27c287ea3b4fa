// Package cluster partitions sibling records into equivalence groups.
//
// Certain equivalence comes free from structural fingerprints; anything
// beyond that is decided by the oracle. Verdicts from separate batches
// may be partial or non-transitive, so every equivalence edge flows
// through a disjoint-set structure that enforces transitive closure.
// The oracle only ever adds edges, never removes them, so the worst
// failure mode is over-grouping, never an invalid partition.
package cluster

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/state"
)

// Fingerprinter produces a structural fingerprint for one record's
// content. Identical fingerprints mean certain equivalence.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, content string) (string, error)
}

// Stats counts the work one ClusterChildren call performed.
type Stats struct {
	OracleCalls    int // API attempts, including retries
	Retries        int // attempts beyond the first, summed over batches
	FrozenChildren int // children resolved in a prior run, skipped
}

// Result is the partition of one parent's children.
type Result struct {
	ParentID string

	// Groups in append order: prior-run groups first, then groups
	// resolved by this run ordered by smallest member ordinal.
	Groups [][]string

	// Unresolved children whose oracle batch never succeeded this run.
	Unresolved []string

	Stats Stats
}

// Engine resolves sibling equivalence for one parent at a time.
// Safe for concurrent use across different parents; writes for a
// single parent must not race (one owning worker per parent).
type Engine struct {
	judge oracle.Judge
	store state.Store
	fp    Fingerprinter
	cfg   Config
}

// NewEngine creates an Engine. The store may be nil for one-shot runs
// with no resumability, in which case an in-memory store is used.
func NewEngine(judge oracle.Judge, store state.Store, fp Fingerprinter, cfg Config) (*Engine, error) {
	if judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}
	if store == nil {
		store = state.NewMemory()
	}
	return &Engine{judge: judge, store: store, fp: fp, cfg: cfg}, nil
}

// ClusterChildren partitions the given children of parentID into
// equivalence groups. Children already grouped in a prior run are
// frozen: they keep their group and are never resubmitted to the
// oracle. Newly resolved groups are appended to the store; children
// whose oracle batch exhausted its retries are recorded as unresolved
// and picked up by the next run.
func (e *Engine) ClusterChildren(ctx context.Context, parentID string, children []journal.Record) (*Result, error) {
	prior, err := e.store.Get(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for parent %s: %w", parentID, err)
	}

	resolved := prior.Resolved()
	pending := make([]journal.Record, 0, len(children))
	for _, c := range children {
		if !resolved[c.ID] {
			pending = append(pending, c)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Step != pending[j].Step {
			return pending[i].Step < pending[j].Step
		}
		return pending[i].ID < pending[j].ID
	})

	result := &Result{
		ParentID: parentID,
		Groups:   prior.Groups,
		Stats:    Stats{FrozenChildren: len(children) - len(pending)},
	}

	if len(pending) == 0 {
		if err := e.store.SetUnresolved(ctx, parentID, nil); err != nil {
			return nil, fmt.Errorf("failed to clear unresolved for parent %s: %w", parentID, err)
		}
		return result, nil
	}

	uf := newUnionFind(len(pending))
	e.unionByFingerprint(ctx, pending, uf)

	// One representative per certain-equivalence class. Classes are
	// fixed from here on for failure accounting: verdicts only union
	// representatives, so a class whose batch failed is exactly its
	// fingerprint class.
	classOf := make([]int, len(pending))
	for i := range pending {
		classOf[i] = uf.Find(i)
	}
	reps := representatives(classOf)

	failedClasses := make(map[int]bool)
	if len(reps) >= 2 {
		for _, batch := range chunkBalanced(reps, e.cfg.BatchSize) {
			// A lone representative has nothing in-batch to compare
			// against; its class stands as a group on its own.
			if len(batch) < 2 {
				continue
			}
			e.judgeBatch(ctx, parentID, pending, batch, uf, result, failedClasses)
		}
	}

	var newGroups [][]string
	var unresolved []string
	for _, set := range uf.Sets() {
		if failedClasses[classOf[set[0]]] {
			for _, i := range set {
				unresolved = append(unresolved, pending[i].ID)
			}
			continue
		}
		group := make([]string, 0, len(set))
		for _, i := range set {
			group = append(group, pending[i].ID)
		}
		newGroups = append(newGroups, group)
	}

	if err := e.store.AppendGroups(ctx, parentID, newGroups); err != nil {
		return nil, fmt.Errorf("failed to append groups for parent %s: %w", parentID, err)
	}
	if err := e.store.SetUnresolved(ctx, parentID, unresolved); err != nil {
		return nil, fmt.Errorf("failed to record unresolved for parent %s: %w", parentID, err)
	}

	result.Groups = append(result.Groups, newGroups...)
	result.Unresolved = unresolved
	return result, nil
}

// unionByFingerprint merges children with identical structural
// fingerprints. A fingerprinting failure downgrades that child to
// always-oracle-routed; it never aborts the parent.
func (e *Engine) unionByFingerprint(ctx context.Context, pending []journal.Record, uf *unionFind) {
	if e.fp == nil {
		return
	}
	firstSeen := make(map[string]int)
	for i, rec := range pending {
		content := rec.FingerprintContent()
		if content == "" {
			continue
		}
		fp, err := e.fp.Fingerprint(ctx, content)
		if err != nil {
			log.Printf("[CLUSTER] fingerprint failed for %s: %v (routing to oracle)", rec.ID, err)
			continue
		}
		if j, ok := firstSeen[fp]; ok {
			uf.Union(i, j)
		} else {
			firstSeen[fp] = i
		}
	}
}

// judgeBatch submits one batch of class representatives and applies the
// verdict. On terminal failure the batch's classes are marked failed;
// other batches are unaffected.
func (e *Engine) judgeBatch(ctx context.Context, parentID string, pending []journal.Record, batch []int, uf *unionFind, result *Result, failedClasses map[int]bool) {
	payloads := make([]string, len(batch))
	for i, rep := range batch {
		payloads[i] = pending[rep].JudgePayload()
	}

	verdict, attempts, err := e.callWithRetry(ctx, payloads)
	result.Stats.OracleCalls += attempts
	result.Stats.Retries += attempts - 1
	if err != nil {
		log.Printf("[CLUSTER] oracle batch failed for parent %s after %d attempts: %v (%d children unresolved)",
			parentID, attempts, err, len(batch))
		for _, rep := range batch {
			failedClasses[uf.Find(rep)] = true
		}
		return
	}

	for _, group := range verdict.Groups {
		if len(group) < 2 {
			continue
		}
		for _, idx := range group[1:] {
			uf.Union(batch[group[0]], batch[idx])
		}
	}
	for _, pair := range verdict.Pairs {
		if pair.Equivalent {
			uf.Union(batch[pair.A], batch[pair.B])
		}
	}
}

// callWithRetry invokes the judge with exponential backoff on retryable
// failures. Returns the number of attempts made alongside the verdict.
func (e *Engine) callWithRetry(ctx context.Context, payloads []string) (*oracle.Verdict, int, error) {
	var lastErr error
	backoff := e.cfg.InitialBackoff

	maxAttempts := e.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		verdict, err := e.judge.JudgeSiblings(callCtx, payloads)
		cancel()

		if err == nil {
			if verr := verdict.Validate(len(payloads)); verr != nil {
				return nil, attempt, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_siblings", Err: verr}
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

		log.Printf("[CLUSTER] oracle attempt %d/%d failed: %v (retrying in %v)",
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

	return nil, maxAttempts, fmt.Errorf("oracle call failed after %d attempts: %w", maxAttempts, lastErr)
}

// representatives returns the smallest member index of each class, in
// ascending order.
func representatives(classOf []int) []int {
	seen := make(map[int]bool)
	var reps []int
	for i, class := range classOf {
		if !seen[class] {
			seen[class] = true
			reps = append(reps, i)
		}
	}
	return reps
}

// chunkBalanced splits items into the fewest chunks of at most size,
// sized as evenly as possible. A singleton chunk can still fall out
// when size is 2 and the count is odd; callers skip those.
func chunkBalanced(items []int, size int) [][]int {
	n := len(items)
	if n <= size {
		return [][]int{items}
	}
	numChunks := (n + size - 1) / size
	base := n / numChunks
	extra := n % numChunks

	chunks := make([][]int, 0, numChunks)
	start := 0
	for i := 0; i < numChunks; i++ {
		length := base
		if i < extra {
			length++
		}
		chunks = append(chunks, items[start:start+length])
		start += length
	}
	return chunks
}
