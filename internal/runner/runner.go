// Package runner fans clustering out across parent nodes.
//
// Parents are embarrassingly parallel: each has its own children, its
// own state rows, and its own oracle batches. The only shared
// resources are the oracle's global rate limiter and concurrency cap,
// which the judge owns, so the worker pool here only bounds CPU-side
// fan-out.
package runner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentforest/forest/internal/assemble"
	"github.com/agentforest/forest/internal/cluster"
	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/tree"
)

// DefaultWorkers bounds concurrent parent clustering.
const DefaultWorkers = 4

// Runner clusters every multi-child parent of a tree.
type Runner struct {
	engine  *cluster.Engine
	workers int
}

// New creates a Runner. workers <= 0 selects DefaultWorkers.
func New(engine *cluster.Engine, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{engine: engine, workers: workers}
}

// Run clusters the children of every parent with two or more children.
// One worker owns one parent at a time, which gives the single-writer
// discipline the state store expects. A canceled context aborts
// remaining parents; results already persisted stay valid.
func (r *Runner) Run(ctx context.Context, t *tree.Tree) (map[string]*cluster.Result, error) {
	parents := t.MultiChildParents()

	results := make(map[string]*cluster.Result, len(parents))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, parentID := range parents {
		parentID := parentID
		g.Go(func() error {
			result, err := r.engine.ClusterChildren(gctx, parentID, t.ChildRecords(parentID))
			if err != nil {
				return fmt.Errorf("clustering parent %s: %w", parentID, err)
			}
			mu.Lock()
			results[parentID] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Pipeline is the full analysis path: normalize the raw journal,
// build and validate the tree, cluster every multi-child parent, and
// assemble the artifact.
type Pipeline struct {
	Engine  *cluster.Engine
	Workers int
	RunID   string
}

// Analyze processes one raw journal document.
func (p *Pipeline) Analyze(ctx context.Context, data []byte) (*assemble.Artifact, *tree.Tree, error) {
	records, err := journal.Normalize(data)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize journal: %w", err)
	}

	t, err := tree.Build(records)
	if err != nil {
		return nil, nil, fmt.Errorf("build tree: %w", err)
	}

	results, err := New(p.Engine, p.Workers).Run(ctx, t)
	if err != nil {
		return nil, t, err
	}

	return assemble.Build(t, results, p.RunID), t, nil
}
