package cluster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforest/forest/internal/journal"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/state"
)

// fakeFingerprinter hashes by Plan text so tests control which
// children are certainly equivalent.
type fakeFingerprinter struct{}

func (fakeFingerprinter) Fingerprint(_ context.Context, content string) (string, error) {
	return "fp:" + content, nil
}

// failingFingerprinter simulates unparseable content.
type failingFingerprinter struct{}

func (failingFingerprinter) Fingerprint(_ context.Context, _ string) (string, error) {
	return "", errors.New("syntax error")
}

func rec(id string, step int, plan string) journal.Record {
	return journal.Record{ID: id, Step: step, Plan: plan, Code: plan}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestFingerprintMatchesSkipOracle(t *testing.T) {
	// Children 2 and 3 share a fingerprint; only one representative
	// reaches the oracle, paired with child 4.
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, payloads []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{}, nil
		},
	}
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("c2", 2, "use dropout"),
		rec("c3", 3, "use dropout"),
		rec("c4", 4, "try boosting"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"c2", "c3"}, {"c4"}}, result.Groups)
	assert.Empty(t, result.Unresolved)

	// One call, containing both representatives and neither duplicate
	require.Equal(t, 1, stub.Calls())
	batch := stub.Batches()[0]
	assert.Len(t, batch, 2)
	assert.Contains(t, batch, "use dropout")
	assert.Contains(t, batch, "try boosting")
}

func TestAllIdenticalNeverCallsOracle(t *testing.T) {
	stub := &oracle.Stub{}
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "same plan"),
		rec("b", 2, "same plan"),
		rec("c", 3, "same plan"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b", "c"}}, result.Groups)
	assert.Equal(t, 0, stub.Calls())
}

func TestVerdictGroupsAndPairsBothApply(t *testing.T) {
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{
				Groups: [][]int{{0, 1}},
				Pairs:  []oracle.PairVerdict{{A: 2, B: 3, Equivalent: true}},
			}, nil
		},
	}
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
		rec("c", 3, "plan c"),
		rec("d", 4, "plan d"),
	}
	res, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	require.Len(t, res.Groups, 2)
	assert.Equal(t, []string{"a", "b"}, res.Groups[0])
	assert.Equal(t, []string{"c", "d"}, res.Groups[1])
}

func TestOracleGroupsEnforceTransitiveClosure(t *testing.T) {
	// Pairwise verdicts A~B and B~C across the batch must collapse
	// into one group containing A, B and C.
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, payloads []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{Pairs: []oracle.PairVerdict{
				{A: 0, B: 1, Equivalent: true},
				{A: 1, B: 2, Equivalent: true},
			}}, nil
		},
	}
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
		rec("c", 3, "plan c"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b", "c"}}, result.Groups)
}

func TestRetryExhaustionLeavesChildrenUnresolved(t *testing.T) {
	// Every attempt times out; after the retry cap the children land
	// in unresolved, not in any group, and nothing crashes.
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return nil, &oracle.Error{Kind: oracle.KindTransient, Op: "judge_siblings",
				Err: context.DeadlineExceeded}
		},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 2 // 3 attempts total
	store := state.NewMemory()
	eng, err := NewEngine(stub, store, fakeFingerprinter{}, cfg)
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
		rec("c", 3, "plan c"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Empty(t, result.Groups)
	assert.Equal(t, []string{"a", "b", "c"}, result.Unresolved)
	assert.Equal(t, 3, stub.Calls())
	assert.Equal(t, 2, result.Stats.Retries)

	// A subsequent run with a working oracle resolves them.
	working := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{Groups: [][]int{{0, 1}}}, nil
		},
	}
	eng2, err := NewEngine(working, store, fakeFingerprinter{}, cfg)
	require.NoError(t, err)

	result2, err := eng2.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, result2.Groups)
	assert.Empty(t, result2.Unresolved)
}

func TestMalformedVerdictIsNotRetried(t *testing.T) {
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return nil, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_siblings",
				Err: errors.New("no parseable JSON")}
		},
	}
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Calls())
	assert.Equal(t, []string{"a", "b"}, result.Unresolved)
}

func TestResolvedChildrenAreFrozen(t *testing.T) {
	// First run resolves everything; second run must not resubmit.
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{Groups: [][]int{{0, 1}}}, nil
		},
	}
	store := state.NewMemory()
	eng, err := NewEngine(stub, store, fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
	}
	first, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)
	require.Equal(t, 1, stub.Calls())

	second, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Calls(), "frozen children must not be resubmitted")
	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, 2, second.Stats.FrozenChildren)
}

func TestNewChildClusteredAlongsideFrozenSiblings(t *testing.T) {
	// A child appearing after a prior run gets its own oracle pass
	// without disturbing existing groups.
	stub := &oracle.Stub{}
	store := state.NewMemory()
	require.NoError(t, store.AppendGroups(context.Background(), "p", [][]string{{"a", "b"}}))

	eng, err := NewEngine(stub, store, fakeFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
		rec("c", 3, "plan c"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, result.Groups)
	assert.Equal(t, 0, stub.Calls(), "a lone pending child needs no oracle call")
}

func TestUnparseableChildrenRouteToOracle(t *testing.T) {
	// Fingerprinting fails for everyone; the oracle still decides.
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{Groups: [][]int{{0, 1}}}, nil
		},
	}
	eng, err := NewEngine(stub, state.NewMemory(), failingFingerprinter{}, fastConfig())
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "same plan"),
		rec("b", 2, "same plan"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Calls(), "identical but unparseable content must go to the oracle")
	assert.Equal(t, [][]string{{"a", "b"}}, result.Groups)
}

func TestBatchingRespectsMaxSize(t *testing.T) {
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{}, nil
		},
	}
	cfg := fastConfig()
	cfg.BatchSize = 4
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, cfg)
	require.NoError(t, err)

	var children []journal.Record
	for i := 0; i < 10; i++ {
		children = append(children, rec(fmt.Sprintf("c%02d", i), i, fmt.Sprintf("plan %d", i)))
	}
	_, err = eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	for _, batch := range stub.Batches() {
		assert.LessOrEqual(t, len(batch), 4)
		assert.GreaterOrEqual(t, len(batch), 2, "no batch should carry a single payload")
	}
}

// With a batch cap of 2 and an odd representative count, the leftover
// representative would land in a chunk by itself. That chunk is never
// sent: one payload has nothing to be compared against.
func TestLeftoverSingletonBatchSkipsOracle(t *testing.T) {
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{}, nil
		},
	}
	cfg := fastConfig()
	cfg.BatchSize = 2
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, cfg)
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
		rec("c", 3, "plan c"),
	}
	res, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Calls())
	for _, batch := range stub.Batches() {
		assert.GreaterOrEqual(t, len(batch), 2, "a single payload is a wasted call")
	}
	assert.Len(t, res.Groups, 3)
	assert.Empty(t, res.Unresolved)
}

func TestOneFailedBatchDoesNotBlockOthers(t *testing.T) {
	stub := &oracle.Stub{
		JudgeFunc: func(call int, _ []string) (*oracle.Verdict, error) {
			if call == 0 {
				return nil, &oracle.Error{Kind: oracle.KindMalformed, Op: "judge_siblings",
					Err: errors.New("garbage")}
			}
			return &oracle.Verdict{}, nil
		},
	}
	cfg := fastConfig()
	cfg.BatchSize = 2
	eng, err := NewEngine(stub, state.NewMemory(), fakeFingerprinter{}, cfg)
	require.NoError(t, err)

	children := []journal.Record{
		rec("a", 1, "plan a"),
		rec("b", 2, "plan b"),
		rec("c", 3, "plan c"),
		rec("d", 4, "plan d"),
	}
	result, err := eng.ClusterChildren(context.Background(), "p", children)
	require.NoError(t, err)

	// First batch's children unresolved, second batch's resolved
	assert.Len(t, result.Unresolved, 2)
	assert.Len(t, result.Groups, 2)
}

func TestChunkBalanced(t *testing.T) {
	items := func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	tests := []struct {
		n, size   int
		wantSizes []int
	}{
		{3, 10, []int{3}},
		{10, 10, []int{10}},
		{11, 10, []int{6, 5}},
		{21, 10, []int{7, 7, 7}},
		{4, 3, []int{2, 2}},
		{3, 2, []int{2, 1}},
	}
	for _, tt := range tests {
		chunks := chunkBalanced(items(tt.n), tt.size)
		var sizes []int
		for _, c := range chunks {
			sizes = append(sizes, len(c))
		}
		assert.Equal(t, tt.wantSizes, sizes, "n=%d size=%d", tt.n, tt.size)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.BatchSize = 1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxBackoff = cfg.InitialBackoff / 2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.BackoffMultiplier = 0.5
	assert.Error(t, bad.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("FOREST_CLUSTER_BATCH_SIZE", "5")
	t.Setenv("FOREST_CLUSTER_MAX_RETRIES", "1")
	t.Setenv("FOREST_CLUSTER_TIMEOUT_SECS", "15")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)

	t.Setenv("FOREST_CLUSTER_BATCH_SIZE", "not-a-number")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}
