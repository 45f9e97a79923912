/*
Package inventory implements physical-count sessions and their
reconciliation back into the stock ledger.

PURPOSE:
  A counting exercise is modeled as one Session owning one Task per
  product. Tasks are assigned to personnel, counted, and completed
  incrementally; the session closes once every task is finished, and the
  reconciliation engine then applies the measured variances to the
  StockLedger exactly once per task.

KEY CONCEPTS IN THIS FILE (types.go):
  - Task: One person counting one product; theoretical vs. physical
    quantity, frozen variance
  - Session: Groups tasks, gates when reconciliation may run
  - Progress: Derived counters, recomputed from tasks on every read
  - ReconciliationRecord: Applied-task set, the exactly-once guard

SNAPSHOT POLICY:
  A task's theoretical quantity (and the ledger version it was read at) is
  captured when the task is created. Assignment refreshes the snapshot if
  it has aged past Manager.RefreshAfter. From completion onward, snapshot
  and variance are frozen so the variance is reproducible.

DESIGN PRINCIPLES:
  1. Counting never touches the ledger; only reconciliation does
  2. Derived counters are computed, never stored, so they cannot drift
  3. Terminal states are immutable except for read

SEE ALSO:
  - task.go: Transition table for tasks
  - session.go: Session lifecycle and the Manager service
  - reconcile.go: Exactly-once variance application
*/
package inventory

import (
	"time"

	"github.com/neobrain/inventory-engine/stock"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SessionID string
type TaskID string

// =============================================================================
// TASK - One person counting one product within one session
// =============================================================================

type TaskState string

const (
	TaskUnassigned TaskState = "unassigned"
	TaskAssigned   TaskState = "assigned"
	TaskInProgress TaskState = "in_progress"
	TaskCompleted  TaskState = "completed"
	TaskCancelled  TaskState = "cancelled"
)

// Priority is advisory ordering for counting work. It never affects
// correctness.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Task tracks the count of one product within one session.
type Task struct {
	ID        TaskID
	SessionID SessionID
	ProductID stock.ProductID

	// PersonnelID is the owner. Nil while unassigned.
	PersonnelID *stock.PersonnelID

	// Theoretical is the ledger quantity snapshot, taken at creation and
	// possibly refreshed on assignment. SnapshotVersion is the ledger
	// version the snapshot was read at; SnapshotAt is when.
	Theoretical     int
	SnapshotVersion int64
	SnapshotAt      time.Time

	// Physical is the counted quantity, set only on completion.
	Physical *int

	// Variance is Physical - Theoretical, computed on completion and
	// immutable thereafter.
	Variance *int

	State    TaskState
	Priority Priority

	// Comment is free-text captured on completion or cancellation.
	Comment string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// HasDiscrepancy reports whether the completed count differs from the
// theoretical quantity.
func (t *Task) HasDiscrepancy() bool {
	return t.Variance != nil && *t.Variance != 0
}

// Terminal reports whether the task can no longer transition.
func (t *Task) Terminal() bool {
	return t.State == TaskCompleted || t.State == TaskCancelled
}

// =============================================================================
// SESSION - A bounded counting exercise
// =============================================================================

type SessionState string

const (
	SessionOpen       SessionState = "open"
	SessionClosed     SessionState = "closed"
	SessionReconciled SessionState = "reconciled"
	SessionCancelled  SessionState = "cancelled"
)

// Session groups the tasks of one counting exercise and gates when
// reconciliation may run.
type Session struct {
	ID    SessionID
	State SessionState

	// Number is a human-readable reference like INV202609A1B2C3D4, the
	// suffix derived from the session id.
	Number string

	Description string
	Supervisor  string

	StartDate time.Time
	EndDate   *time.Time

	// ReconciledAt is set exactly once, by the reconciliation engine, when
	// every completed task's variance has been applied. Its presence is the
	// idempotence guard for the open->reconciled path.
	ReconciledAt *time.Time

	// Reconciliation records applied tasks across (possibly partial)
	// reconciliation attempts. Nil until the first attempt.
	Reconciliation *ReconciliationRecord

	// Version is the optimistic concurrency token checked by
	// Store.UpdateSession, same contract as Product.Version.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReconciliationRecord is the durable outcome of reconciliation attempts.
// AppliedTasks is the exactly-once guard: a task listed here is never
// applied again, even across retries of a partially-failed run.
type ReconciliationRecord struct {
	AppliedTasks map[TaskID]bool
	AppliedCount int
	Unreconciled []stock.ProductID
	LastAttempt  time.Time
}

// Result is what one Reconcile call reports.
type Result struct {
	AppliedCount int
	SkippedCount int
	Unreconciled []stock.ProductID
}

// Complete reports whether every completed task's variance has landed.
func (r Result) Complete() bool {
	return len(r.Unreconciled) == 0
}

// =============================================================================
// PROGRESS - Derived counters
// =============================================================================

// Progress is recomputed from the task set on every read. Sessions persist
// no counter fields, so there is no second source of truth to drift.
type Progress struct {
	TotalTasks     int
	CompletedTasks int
	CancelledTasks int
	Discrepancies  int
}

// ComputeProgress derives counters from a task set.
func ComputeProgress(tasks []Task) Progress {
	var p Progress
	p.TotalTasks = len(tasks)
	for i := range tasks {
		switch tasks[i].State {
		case TaskCompleted:
			p.CompletedTasks++
			if tasks[i].HasDiscrepancy() {
				p.Discrepancies++
			}
		case TaskCancelled:
			p.CancelledTasks++
		}
	}
	return p
}
