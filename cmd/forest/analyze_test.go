package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentforest/forest/internal/cluster"
	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/state"
)

func TestAnalysisStoreDryRunIsEphemeral(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	cfg := fileConfig{StateDB: dbPath}

	store, runID, err := analysisStore(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("analysisStore: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*state.Memory); !ok {
		t.Fatalf("dry run store = %T, want *state.Memory", store)
	}
	if runID != "dry-run" {
		t.Errorf("runID = %q, want dry-run", runID)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Errorf("dry run created state db at %s", dbPath)
	}
}

// A dry run groups by fingerprint only; those all-distinct results
// must not survive into a later real run, or the real judge would
// never be consulted for children the dry run left split.
func TestDryRunDoesNotFreezeChildrenForLaterRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	cfg := fileConfig{StateDB: dbPath}
	ctx := context.Background()

	children := []journal.Record{
		{ID: "a", Step: 1, Plan: "use a cache", Code: "def f():\n    return cached()"},
		{ID: "b", Step: 2, Plan: "memoize the call", Code: "def g():\n    return memo()"},
	}

	dryStore, _, err := analysisStore(ctx, cfg, true)
	if err != nil {
		t.Fatalf("analysisStore: %v", err)
	}
	dryEngine, err := cluster.NewEngine(&oracle.Stub{}, dryStore, nil, cluster.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := dryEngine.ClusterChildren(ctx, "p1", children); err != nil {
		t.Fatalf("dry run ClusterChildren: %v", err)
	}
	dryStore.Close()

	realStore, _, err := analysisStore(ctx, cfg, false)
	if err != nil {
		t.Fatalf("analysisStore: %v", err)
	}
	defer realStore.Close()

	judge := &oracle.Stub{JudgeFunc: func(call int, payloads []string) (*oracle.Verdict, error) {
		return &oracle.Verdict{Groups: [][]int{{0, 1}}}, nil
	}}
	engine, err := cluster.NewEngine(judge, realStore, nil, cluster.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := engine.ClusterChildren(ctx, "p1", children)
	if err != nil {
		t.Fatalf("ClusterChildren: %v", err)
	}

	if judge.Calls() != 1 {
		t.Fatalf("judge calls = %d, want 1; dry run results leaked into the real store", judge.Calls())
	}
	if len(res.Groups) != 1 || len(res.Groups[0]) != 2 {
		t.Errorf("groups = %v, want [[a b]]", res.Groups)
	}
}
