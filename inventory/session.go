/*
session.go - Session lifecycle and the Manager service

PURPOSE:
  The Manager orchestrates the counting workflow: open a session over a
  set of products, hand tasks to personnel, record counts, and gate the
  close. It owns no quantities - theoretical snapshots are read from the
  ledger, and nothing here ever writes to it.

SESSION FLOW:
  open(products)  -> one unassigned task per product, snapshot captured
  assign/start/complete/cancel per task
  close()         -> only when every task is completed or cancelled
  reconcile()     -> see reconcile.go
  cancel()        -> abandons the session, ledger untouched

STATES:
  open --close--> closed --reconcile--> reconciled
  open --cancel--> cancelled
  closed --cancel--> cancelled

SEE ALSO:
  - task.go: The per-task transition table
  - reconcile.go: closed -> reconciled
*/
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neobrain/inventory-engine/stock"
)

// defaultRefreshAfter is how stale a snapshot may be before assignment
// re-captures it.
const defaultRefreshAfter = 24 * time.Hour

// =============================================================================
// MANAGER - Session/task workflow over the store and ledger
// =============================================================================

type Manager struct {
	Store  Store
	Ledger *stock.Ledger
	Audit  stock.AuditLog // optional, may be nil

	// RefreshAfter bounds snapshot age at assignment time. A task that sat
	// unassigned longer than this gets a fresh theoretical quantity before
	// counting starts. Zero means defaultRefreshAfter.
	RefreshAfter time.Duration

	// Now is injectable for tests. Zero value means time.Now.
	Now func() time.Time
}

func NewManager(store Store, ledger *stock.Ledger, audit stock.AuditLog) *Manager {
	return &Manager{Store: store, Ledger: ledger, Audit: audit}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) refreshAfter() time.Duration {
	if m.RefreshAfter > 0 {
		return m.RefreshAfter
	}
	return defaultRefreshAfter
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// OpenSession starts a counting exercise over the given products: one
// unassigned task per product, each with the ledger's current
// quantity/version captured as its theoretical snapshot.
func (m *Manager) OpenSession(ctx context.Context, productIDs []stock.ProductID, supervisor, description string) (Session, []Task, error) {
	if len(productIDs) == 0 {
		return Session{}, nil, &stock.ValidationError{Msg: "session needs at least one product"}
	}
	seen := make(map[stock.ProductID]bool, len(productIDs))
	for _, id := range productIDs {
		if seen[id] {
			return Session{}, nil, &stock.ValidationError{Msg: "duplicate product in session: " + string(id)}
		}
		seen[id] = true
	}

	now := m.now()
	sessionID := SessionID(uuid.NewString())
	session := Session{
		ID:          sessionID,
		State:       SessionOpen,
		Number:      sessionNumber(now, sessionID),
		Description: description,
		Supervisor:  supervisor,
		StartDate:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Snapshot every product before creating anything, so an unknown
	// product fails the whole open instead of leaving a half-built session.
	tasks := make([]Task, 0, len(productIDs))
	for _, pid := range productIDs {
		qty, version, err := m.Ledger.QuantityAndVersion(ctx, pid)
		if err != nil {
			return Session{}, nil, fmt.Errorf("snapshot product %s: %w", pid, err)
		}
		tasks = append(tasks, Task{
			ID:              TaskID(uuid.NewString()),
			SessionID:       session.ID,
			ProductID:       pid,
			Theoretical:     qty,
			SnapshotVersion: version,
			SnapshotAt:      now,
			State:           TaskUnassigned,
			Priority:        PriorityNormal,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if err := m.Store.CreateSession(ctx, session); err != nil {
		return Session{}, nil, err
	}
	for _, t := range tasks {
		if err := m.Store.CreateTask(ctx, t); err != nil {
			return Session{}, nil, err
		}
	}

	m.audit(ctx, stock.AuditEntry{
		ActorID:   supervisor,
		Action:    stock.AuditSessionOpened,
		SessionID: string(session.ID),
		Payload:   map[string]any{"number": session.Number, "products": len(tasks)},
	})
	return session, tasks, nil
}

// SessionProgress returns the session with counters derived from its
// current task set.
func (m *Manager) SessionProgress(ctx context.Context, id SessionID) (Session, Progress, error) {
	session, err := m.Store.GetSession(ctx, id)
	if err != nil {
		return Session{}, Progress{}, err
	}
	tasks, err := m.Store.TasksBySession(ctx, id)
	if err != nil {
		return Session{}, Progress{}, err
	}
	return session, ComputeProgress(tasks), nil
}

// CloseSession moves an open session to closed. Permitted only when every
// task is completed or cancelled; otherwise the error carries the count of
// unfinished tasks.
func (m *Manager) CloseSession(ctx context.Context, id SessionID, actor string) (Session, error) {
	session, err := m.Store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if session.State != SessionOpen {
		return Session{}, &stock.InvalidTransitionError{From: string(session.State), To: string(SessionClosed)}
	}

	tasks, err := m.Store.TasksBySession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	unfinished := 0
	for i := range tasks {
		if !tasks[i].Terminal() {
			unfinished++
		}
	}
	if unfinished > 0 {
		return Session{}, &stock.InvalidTransitionError{
			From:       string(SessionOpen),
			To:         string(SessionClosed),
			Unfinished: unfinished,
		}
	}

	now := m.now()
	session.State = SessionClosed
	session.EndDate = &now
	session.UpdatedAt = now
	session, err = m.Store.UpdateSession(ctx, session, session.Version)
	if err != nil {
		return Session{}, err
	}

	progress := ComputeProgress(tasks)
	m.audit(ctx, stock.AuditEntry{
		ActorID:   actor,
		Action:    stock.AuditSessionClosed,
		SessionID: string(id),
		Payload: map[string]any{
			"completed":     progress.CompletedTasks,
			"cancelled":     progress.CancelledTasks,
			"discrepancies": progress.Discrepancies,
		},
	})
	return session, nil
}

// CancelSession abandons an open or closed session without touching the
// ledger. Remaining non-terminal tasks are cancelled with it.
func (m *Manager) CancelSession(ctx context.Context, id SessionID, reason, actor string) (Session, error) {
	session, err := m.Store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if session.State != SessionOpen && session.State != SessionClosed {
		return Session{}, &stock.InvalidTransitionError{From: string(session.State), To: string(SessionCancelled)}
	}

	tasks, err := m.Store.TasksBySession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	now := m.now()
	for i := range tasks {
		if tasks[i].Terminal() {
			continue
		}
		if err := tasks[i].cancel(reason, now); err != nil {
			return Session{}, err
		}
		if err := m.Store.UpdateTask(ctx, tasks[i]); err != nil {
			return Session{}, err
		}
	}

	session.State = SessionCancelled
	if session.EndDate == nil {
		session.EndDate = &now
	}
	session.UpdatedAt = now
	session, err = m.Store.UpdateSession(ctx, session, session.Version)
	if err != nil {
		return Session{}, err
	}

	m.audit(ctx, stock.AuditEntry{
		ActorID:   actor,
		Action:    stock.AuditSessionCancelled,
		SessionID: string(id),
		Payload:   map[string]any{"reason": reason},
	})
	return session, nil
}

// =============================================================================
// TASK OPERATIONS
// =============================================================================

// AssignTask hands an unassigned task to a person. A snapshot older than
// RefreshAfter is re-captured from the ledger first, so a long-parked task
// does not count against a stale baseline.
func (m *Manager) AssignTask(ctx context.Context, id TaskID, personnel stock.PersonnelID) (Task, error) {
	task, err := m.Store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}

	now := m.now()
	if task.State == TaskUnassigned && now.Sub(task.SnapshotAt) > m.refreshAfter() {
		qty, version, err := m.Ledger.QuantityAndVersion(ctx, task.ProductID)
		if err != nil {
			return Task{}, fmt.Errorf("refresh snapshot for %s: %w", task.ProductID, err)
		}
		task.refreshSnapshot(qty, version, now)
	}

	if err := task.assign(personnel, now); err != nil {
		return Task{}, err
	}
	if err := m.Store.UpdateTask(ctx, task); err != nil {
		return Task{}, err
	}

	m.audit(ctx, stock.AuditEntry{
		ActorID:   string(personnel),
		Action:    stock.AuditTaskAssigned,
		ProductID: task.ProductID,
		SessionID: string(task.SessionID),
		TaskID:    string(task.ID),
	})
	return task, nil
}

// StartTask marks counting as underway.
func (m *Manager) StartTask(ctx context.Context, id TaskID) (Task, error) {
	task, err := m.Store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := task.start(m.now()); err != nil {
		return Task{}, err
	}
	if err := m.Store.UpdateTask(ctx, task); err != nil {
		return Task{}, err
	}

	m.audit(ctx, stock.AuditEntry{
		ActorID:   actorFor(task),
		Action:    stock.AuditTaskStarted,
		ProductID: task.ProductID,
		SessionID: string(task.SessionID),
		TaskID:    string(task.ID),
	})
	return task, nil
}

// CompleteTask records the physical count and freezes the variance.
// The ledger is not touched.
func (m *Manager) CompleteTask(ctx context.Context, id TaskID, physical int, comment string) (Task, error) {
	task, err := m.Store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := task.complete(physical, comment, m.now()); err != nil {
		return Task{}, err
	}
	if err := m.Store.UpdateTask(ctx, task); err != nil {
		return Task{}, err
	}

	m.audit(ctx, stock.AuditEntry{
		ActorID:   actorFor(task),
		Action:    stock.AuditTaskCompleted,
		ProductID: task.ProductID,
		SessionID: string(task.SessionID),
		TaskID:    string(task.ID),
		Payload: map[string]any{
			"theoretical": task.Theoretical,
			"physical":    physical,
			"variance":    *task.Variance,
		},
	})
	return task, nil
}

// CancelTask abandons a task from any non-terminal state.
func (m *Manager) CancelTask(ctx context.Context, id TaskID, reason string) (Task, error) {
	task, err := m.Store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := task.cancel(reason, m.now()); err != nil {
		return Task{}, err
	}
	if err := m.Store.UpdateTask(ctx, task); err != nil {
		return Task{}, err
	}

	m.audit(ctx, stock.AuditEntry{
		ActorID:   actorFor(task),
		Action:    stock.AuditTaskCancelled,
		ProductID: task.ProductID,
		SessionID: string(task.SessionID),
		TaskID:    string(task.ID),
		Payload:   map[string]any{"reason": reason},
	})
	return task, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// sessionNumber builds a human-readable reference like INV202609A1B2C3D4.
// The suffix comes from the session id rather than the clock, so two
// sessions opened in the same instant still get distinct numbers and the
// store's uniqueness constraint on numbers holds.
func sessionNumber(now time.Time, id SessionID) string {
	suffix := strings.ReplaceAll(string(id), "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("INV%s%s", now.Format("200601"), strings.ToUpper(suffix))
}

func actorFor(t Task) string {
	if t.PersonnelID != nil {
		return string(*t.PersonnelID)
	}
	return ""
}

func (m *Manager) audit(ctx context.Context, entry stock.AuditEntry) {
	if m.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = m.now()
	_ = m.Audit.Append(ctx, entry)
}
