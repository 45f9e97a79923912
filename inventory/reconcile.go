/*
reconcile.go - Exactly-once application of counted quantities to the ledger

PURPOSE:
  Walks a closed session's completed tasks and lands each task's
  physically-verified count in the StockLedger exactly once, tolerating
  sales and returns that hit the same products after the count was taken.

ALGORITHM (per completed task, independently, in any order):
  1. Attempt CompareAndSetStock(product, snapshotVersion, physical).
  2. On StaleVersion - something else moved the stock since the count -
     re-derive the intent as a DELTA: target = currentQuantity + variance.
     Re-applying the measured discrepancy on top of whatever the ledger
     holds now preserves concurrent sales instead of clobbering them.
  3. Retry with exponential backoff up to MaxAttempts. Exhausted attempts
     record the product as unreconciled and the walk continues; one
     contended product never aborts the session.

EXACTLY-ONCE:
  Applied task ids are recorded in the session's ReconciliationRecord and
  the record is persisted after every applied task, so a retry after a
  mid-walk infrastructure failure skips everything that already landed.
  Reconcile on an already reconciled session is a no-op returning the
  stored result.

CONCURRENCY:
  Runs are serialized per session through the session's optimistic
  version: Reconcile bumps it before touching the ledger, so a second
  caller that read the same closed session loses the conflict and aborts
  without applying anything.

STALE-VERSION CONTAINMENT:
  StaleVersion drives the internal retry and never escapes this engine.
  The aggregate partial failure surfaces as a Result with unreconciled
  product ids (and *ReconciliationIncompleteError for errors.Is callers),
  never as a per-product hard fault.

SEE ALSO:
  - stock/ledger.go: CompareAndSetStock contract
  - session.go: closed is the only state this engine accepts
*/
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neobrain/inventory-engine/stock"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 10 * time.Millisecond
)

// =============================================================================
// RECONCILIATION ENGINE
// =============================================================================

type Engine struct {
	Store  Store
	Ledger *stock.Ledger
	Audit  stock.AuditLog // optional, may be nil

	// MaxAttempts bounds CAS retries per product. Zero means 5.
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt.
	// Zero means 10ms.
	BackoffBase time.Duration

	// Sleep is injectable for tests. Zero value sleeps for real,
	// honoring ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is injectable for tests. Zero value means time.Now.
	Now func() time.Time
}

func NewEngine(store Store, ledger *stock.Ledger, audit stock.AuditLog) *Engine {
	return &Engine{Store: store, Ledger: ledger, Audit: audit}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return defaultMaxAttempts
}

func (e *Engine) backoffBase() time.Duration {
	if e.BackoffBase > 0 {
		return e.BackoffBase
	}
	return defaultBackoffBase
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile applies a closed session's completed-task variances to the
// ledger. Safe to call repeatedly: already-applied tasks are skipped, and
// a reconciled session returns its stored result unchanged.
//
// The returned error is non-nil only for infrastructure failures, an
// invalid session state, or a lost race with a concurrent Reconcile
// (matches stock.ErrStaleVersion); partial failure is reported in the
// Result.
func (e *Engine) Reconcile(ctx context.Context, id SessionID, actor string) (Result, error) {
	session, err := e.Store.GetSession(ctx, id)
	if err != nil {
		return Result{}, err
	}

	// Idempotence guarantee: a reconciled session reports its stored
	// outcome instead of erroring, so callers can retry blindly.
	if session.State == SessionReconciled {
		return resultFromRecord(session.Reconciliation), nil
	}
	if session.State != SessionClosed {
		return Result{}, &stock.InvalidTransitionError{From: string(session.State), To: string(SessionReconciled)}
	}

	// Claim the run: bumping the version up front makes a concurrent
	// Reconcile that read the same closed session fail here, before it
	// has touched the ledger.
	session.UpdatedAt = e.now()
	session, err = e.Store.UpdateSession(ctx, session, session.Version)
	if err != nil {
		return Result{}, err
	}

	tasks, err := e.Store.TasksBySession(ctx, id)
	if err != nil {
		return Result{}, err
	}

	record := session.Reconciliation
	if record == nil {
		record = &ReconciliationRecord{AppliedTasks: make(map[TaskID]bool)}
	}

	var result Result
	result.AppliedCount = record.AppliedCount

	var unreconciled []stock.ProductID
	for i := range tasks {
		task := &tasks[i]
		if task.State != TaskCompleted {
			continue
		}
		if record.AppliedTasks[task.ID] {
			result.SkippedCount++
			continue
		}

		applied, err := e.applyTask(ctx, task, actor)
		if err != nil {
			return Result{}, err
		}
		if applied {
			record.AppliedTasks[task.ID] = true
			record.AppliedCount++
			result.AppliedCount++

			// Persist the mark before the next task: if a later task
			// fails, a retried Reconcile must not re-apply this one.
			session.Reconciliation = record
			session.UpdatedAt = e.now()
			session, err = e.Store.UpdateSession(ctx, session, session.Version)
			if err != nil {
				return Result{}, err
			}
		} else {
			unreconciled = append(unreconciled, task.ProductID)
		}
	}

	now := e.now()
	record.Unreconciled = unreconciled
	record.LastAttempt = now
	result.Unreconciled = unreconciled

	session.Reconciliation = record
	session.UpdatedAt = now
	if result.Complete() {
		session.State = SessionReconciled
		session.ReconciledAt = &now
	}
	if _, err := e.Store.UpdateSession(ctx, session, session.Version); err != nil {
		return Result{}, err
	}

	// Only a completed run is the reconciled event; a partial attempt
	// leaves the session closed and is visible through the Result.
	if result.Complete() {
		e.audit(ctx, stock.AuditEntry{
			ActorID:   actor,
			Action:    stock.AuditSessionReconciled,
			SessionID: string(id),
			Payload: map[string]any{
				"applied":      result.AppliedCount,
				"skipped":      result.SkippedCount,
				"unreconciled": len(result.Unreconciled),
			},
		})
	}
	return result, nil
}

// applyTask lands one task's count. Returns (false, nil) when attempts are
// exhausted or the re-derived target is unsatisfiable right now; both mean
// "unreconciled, retry later". Infrastructure errors propagate.
func (e *Engine) applyTask(ctx context.Context, task *Task, actor string) (bool, error) {
	variance := 0
	if task.Variance != nil {
		variance = *task.Variance
	}

	// First attempt against the frozen snapshot: if nothing moved since
	// the count, the physical quantity lands as-is.
	expected := task.SnapshotVersion
	target := *task.Physical

	for attempt := 0; attempt < e.maxAttempts(); attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoffBase()<<(attempt-1)); err != nil {
				return false, err
			}
		}

		_, err := e.Ledger.CompareAndSetStock(ctx, task.ProductID, expected, target, actor)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, stock.ErrStaleVersion) {
			return false, err
		}

		// Stock moved since our snapshot. Re-derive the intent as a delta:
		// apply the measured discrepancy on top of whatever is there now.
		qty, version, readErr := e.Ledger.QuantityAndVersion(ctx, task.ProductID)
		if readErr != nil {
			return false, readErr
		}
		expected = version
		target = qty + variance
		if target < 0 {
			// Concurrent removals ate more than the count allows for.
			// Never clamp to zero - report unreconciled and let a retried
			// Reconcile pick it up once stock returns.
			return false, nil
		}
	}
	return false, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// IncompleteError converts a partial Result into the typed report, or nil
// when reconciliation finished. Convenience for callers that propagate
// errors rather than inspecting Results.
func (r Result) IncompleteError(id SessionID) error {
	if r.Complete() {
		return nil
	}
	return &stock.ReconciliationIncompleteError{SessionID: string(id), ProductIDs: r.Unreconciled}
}

func resultFromRecord(record *ReconciliationRecord) Result {
	if record == nil {
		return Result{}
	}
	return Result{
		AppliedCount: record.AppliedCount,
		Unreconciled: record.Unreconciled,
	}
}

func (e *Engine) audit(ctx context.Context, entry stock.AuditEntry) {
	if e.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = e.now()
	_ = e.Audit.Append(ctx, entry)
}
