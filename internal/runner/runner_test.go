package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforest/forest/internal/cluster"
	"github.com/agentforest/forest/internal/oracle"
	"github.com/agentforest/forest/internal/state"
)

type planFingerprinter struct{}

func (planFingerprinter) Fingerprint(_ context.Context, content string) (string, error) {
	return "fp:" + content, nil
}

const testJournal = `[
	{"id": "root", "plan": "baseline", "code": "pass", "step": 0},
	{"id": "p1", "parent": "root", "plan": "branch one", "code": "a()", "step": 1},
	{"id": "p2", "parent": "root", "plan": "branch two", "code": "b()", "step": 2},
	{"id": "c1", "parent": "p1", "plan": "add dropout", "code": "d()", "step": 3},
	{"id": "c2", "parent": "p1", "plan": "add dropout", "code": "d()", "step": 4},
	{"id": "c3", "parent": "p2", "plan": "tune lr", "code": "e()", "step": 5},
	{"id": "c4", "parent": "p2", "plan": "bigger model", "code": "f()", "step": 6}
]`

func newTestEngine(t *testing.T, judge oracle.Judge) *cluster.Engine {
	t.Helper()
	cfg := cluster.DefaultConfig()
	eng, err := cluster.NewEngine(judge, state.NewMemory(), planFingerprinter{}, cfg)
	require.NoError(t, err)
	return eng
}

func TestPipelineAnalyze(t *testing.T) {
	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			return &oracle.Verdict{}, nil
		},
	}
	p := &Pipeline{Engine: newTestEngine(t, stub), RunID: "run-1"}

	art, tr, err := p.Analyze(context.Background(), []byte(testJournal))
	require.NoError(t, err)
	require.NotNil(t, tr)

	// Three multi-child parents: root, p1, p2
	require.Len(t, art.Parents, 3)
	byParent := make(map[string][][]string)
	for _, pp := range art.Parents {
		byParent[pp.ParentID] = pp.Groups
	}

	// c1 and c2 share a plan: fingerprint-certain group, no oracle call
	assert.Equal(t, [][]string{{"c1", "c2"}}, byParent["p1"])
	assert.Equal(t, [][]string{{"c3"}, {"c4"}}, byParent["p2"])
	assert.Equal(t, [][]string{{"p1"}, {"p2"}}, byParent["root"])

	// Oracle only saw the parents with distinct fingerprints
	assert.Equal(t, 2, stub.Calls())
	assert.NotContains(t, stub.SubmittedPayloads(), "add dropout")
}

func TestPipelineRejectsInvalidJournal(t *testing.T) {
	p := &Pipeline{Engine: newTestEngine(t, &oracle.Stub{})}

	_, _, err := p.Analyze(context.Background(), []byte(`{"nodes": [{"plan": "no id"}]}`))
	require.Error(t, err)
}

func TestPipelineReportsStructuralErrors(t *testing.T) {
	p := &Pipeline{Engine: newTestEngine(t, &oracle.Stub{})}

	// b's parent does not exist
	input := `[
		{"id": "a", "plan": "x", "step": 0},
		{"id": "b", "parent": "ghost", "plan": "y", "step": 1}
	]`
	_, _, err := p.Analyze(context.Background(), []byte(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex

	stub := &oracle.Stub{
		JudgeFunc: func(_ int, _ []string) (*oracle.Verdict, error) {
			n := inFlight.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			defer inFlight.Add(-1)
			return &oracle.Verdict{}, nil
		},
	}
	p := &Pipeline{Engine: newTestEngine(t, stub), Workers: 2}

	_, _, err := p.Analyze(context.Background(), []byte(testJournal))
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}
