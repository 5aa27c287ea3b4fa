package state

import (
	"context"
	"sync"

	"github.com/agentforest/forest/internal/oracle"
)

// Memory is an in-memory Store for tests and one-shot runs that do not
// need persistence across invocations.
type Memory struct {
	mu        sync.Mutex
	parents   map[string]*ParentState
	judgments map[string]oracle.AlignmentVerdict
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		parents:   make(map[string]*ParentState),
		judgments: make(map[string]oracle.AlignmentVerdict),
	}
}

func (m *Memory) Get(_ context.Context, parentID string) (ParentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.parents[parentID]
	if !ok {
		return ParentState{ParentID: parentID}, nil
	}

	// Copy so callers cannot mutate stored state.
	out := ParentState{ParentID: parentID}
	for _, g := range ps.Groups {
		out.Groups = append(out.Groups, append([]string(nil), g...))
	}
	out.Unresolved = append(out.Unresolved, ps.Unresolved...)
	return out, nil
}

func (m *Memory) AppendGroups(_ context.Context, parentID string, groups [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.ensure(parentID)
	for _, g := range groups {
		ps.Groups = append(ps.Groups, append([]string(nil), g...))
	}
	return nil
}

func (m *Memory) SetUnresolved(_ context.Context, parentID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.ensure(parentID)
	ps.Unresolved = append([]string(nil), ids...)
	return nil
}

func (m *Memory) Judgments(_ context.Context) (map[string]oracle.AlignmentVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]oracle.AlignmentVerdict, len(m.judgments))
	for id, v := range m.judgments {
		out[id] = v
	}
	return out, nil
}

func (m *Memory) SetJudgment(_ context.Context, recordID string, v oracle.AlignmentVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.judgments[recordID] = v
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents = make(map[string]*ParentState)
	m.judgments = make(map[string]oracle.AlignmentVerdict)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ensure(parentID string) *ParentState {
	ps, ok := m.parents[parentID]
	if !ok {
		ps = &ParentState{ParentID: parentID}
		m.parents[parentID] = ps
	}
	return ps
}
