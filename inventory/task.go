/*
task.go - Task state machine

PURPOSE:
  Pure transition logic for counting tasks. Transitions not in the table
  below fail with *stock.InvalidTransitionError; terminal states reject
  everything.

TRANSITIONS:
  unassigned  --assign(personnel)-->  assigned
  assigned    --start-->              in_progress
  in_progress --complete(physical)--> completed   (variance frozen)
  unassigned | assigned | in_progress --cancel--> cancelled

LEDGER SIDE EFFECTS:
  None. Completing a task never mutates the StockLedger; only the
  reconciliation engine does, at session reconciliation time. This is what
  lets counting proceed concurrently with unrelated sales without
  corrupting either the count or the ledger.

SEE ALSO:
  - session.go: Persists transitions via the Manager
  - reconcile.go: Consumes completed tasks
*/
package inventory

import (
	"time"

	"github.com/neobrain/inventory-engine/stock"
)

// assign moves an unassigned task to a person.
func (t *Task) assign(personnel stock.PersonnelID, now time.Time) error {
	if t.State != TaskUnassigned {
		return &stock.InvalidTransitionError{From: string(t.State), To: string(TaskAssigned)}
	}
	t.PersonnelID = &personnel
	t.State = TaskAssigned
	t.UpdatedAt = now
	return nil
}

// start marks counting as underway.
func (t *Task) start(now time.Time) error {
	if t.State != TaskAssigned {
		return &stock.InvalidTransitionError{From: string(t.State), To: string(TaskInProgress)}
	}
	t.State = TaskInProgress
	t.UpdatedAt = now
	return nil
}

// complete records the physical count and freezes the variance.
func (t *Task) complete(physical int, comment string, now time.Time) error {
	if t.State != TaskInProgress {
		return &stock.InvalidTransitionError{From: string(t.State), To: string(TaskCompleted)}
	}
	if physical < 0 {
		return &stock.ValidationError{Msg: "physical quantity cannot be negative"}
	}

	variance := physical - t.Theoretical
	t.Physical = &physical
	t.Variance = &variance
	t.Comment = comment
	t.State = TaskCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

// cancel abandons the task from any non-terminal state.
func (t *Task) cancel(reason string, now time.Time) error {
	if t.Terminal() {
		return &stock.InvalidTransitionError{From: string(t.State), To: string(TaskCancelled)}
	}
	t.Comment = reason
	t.State = TaskCancelled
	t.UpdatedAt = now
	return nil
}

// refreshSnapshot re-captures the theoretical quantity. Only legal before
// the count starts; once counting is underway the baseline must not move.
func (t *Task) refreshSnapshot(quantity int, version int64, now time.Time) {
	t.Theoretical = quantity
	t.SnapshotVersion = version
	t.SnapshotAt = now
	t.UpdatedAt = now
}
