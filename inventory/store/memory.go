// Package store provides inventory.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/neobrain/inventory-engine/inventory"
	"github.com/neobrain/inventory-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory session/task persistence (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	sessions map[inventory.SessionID]inventory.Session
	tasks    map[inventory.TaskID]inventory.Task
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[inventory.SessionID]inventory.Session),
		tasks:    make(map[inventory.TaskID]inventory.Task),
	}
}

func (m *Memory) CreateSession(_ context.Context, s inventory.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return &stock.ValidationError{Msg: "session already exists: " + string(s.ID)}
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id inventory.SessionID) (inventory.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return inventory.Session{}, stock.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) UpdateSession(_ context.Context, s inventory.Session, expectedVersion int64) (inventory.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[s.ID]
	if !ok {
		return inventory.Session{}, stock.ErrSessionNotFound
	}
	if current.Version != expectedVersion {
		return inventory.Session{}, &stock.SessionConflictError{
			SessionID: string(s.ID),
			Expected:  expectedVersion,
			Actual:    current.Version,
		}
	}
	s.Version = expectedVersion + 1
	m.sessions[s.ID] = cloneSession(s)
	return cloneSession(s), nil
}

func (m *Memory) ListSessions(_ context.Context) ([]inventory.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]inventory.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, cloneSession(s))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) CreateTask(_ context.Context, t inventory.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return &stock.ValidationError{Msg: "task already exists: " + string(t.ID)}
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) GetTask(_ context.Context, id inventory.TaskID) (inventory.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return inventory.Task{}, stock.ErrTaskNotFound
	}
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, t inventory.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return stock.ErrTaskNotFound
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) TasksBySession(_ context.Context, id inventory.SessionID) ([]inventory.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []inventory.Task
	for _, t := range m.tasks {
		if t.SessionID == id {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// cloneSession deep-copies the reconciliation record so callers mutating a
// returned session cannot reach into stored state.
func cloneSession(s inventory.Session) inventory.Session {
	if s.Reconciliation == nil {
		return s
	}
	record := &inventory.ReconciliationRecord{
		AppliedTasks: make(map[inventory.TaskID]bool, len(s.Reconciliation.AppliedTasks)),
		AppliedCount: s.Reconciliation.AppliedCount,
		Unreconciled: append([]stock.ProductID(nil), s.Reconciliation.Unreconciled...),
		LastAttempt:  s.Reconciliation.LastAttempt,
	}
	for k, v := range s.Reconciliation.AppliedTasks {
		record.AppliedTasks[k] = v
	}
	s.Reconciliation = record
	return s
}
