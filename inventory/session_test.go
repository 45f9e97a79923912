/*
session_test.go - Tests for the counting session workflow

Tests for:
- Opening sessions with per-product theoretical snapshots
- Task lifecycle transitions and their rejections
- Snapshot refresh for long-parked unassigned tasks
- Close gating on unfinished tasks
- Derived progress counters
- Session cancellation
*/
package inventory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrain/inventory-engine/inventory"
	invstore "github.com/neobrain/inventory-engine/inventory/store"
	"github.com/neobrain/inventory-engine/stock"
	stockstore "github.com/neobrain/inventory-engine/stock/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	ledger  *stock.Ledger
	manager *inventory.Manager
	engine  *inventory.Engine
	audit   *stockstore.MemoryAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audit := stockstore.NewMemoryAudit()
	ledger := stock.NewLedger(stockstore.NewMemory(), audit)
	sessions := invstore.NewMemory()

	engine := inventory.NewEngine(sessions, ledger, audit)
	engine.Sleep = func(context.Context, time.Duration) error { return nil }

	return &fixture{
		ledger:  ledger,
		manager: inventory.NewManager(sessions, ledger, audit),
		engine:  engine,
		audit:   audit,
	}
}

func (f *fixture) seed(t *testing.T, id string, qty int) {
	t.Helper()
	err := f.ledger.Products.CreateProduct(context.Background(), stock.Product{
		ID:        stock.ProductID(id),
		Code:      "C-" + id,
		Name:      "Product " + id,
		UnitPrice: decimal.NewFromInt(5),
		Quantity:  qty,
		Threshold: 2,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
}

// openWith opens a session over the given products and returns it with its
// tasks indexed by product id.
func (f *fixture) openWith(t *testing.T, ids ...string) (inventory.Session, map[string]inventory.Task) {
	t.Helper()
	pids := make([]stock.ProductID, len(ids))
	for i, id := range ids {
		pids[i] = stock.ProductID(id)
	}
	session, tasks, err := f.manager.OpenSession(context.Background(), pids, "supervisor", "cycle count")
	require.NoError(t, err)

	byProduct := make(map[string]inventory.Task, len(tasks))
	for _, task := range tasks {
		byProduct[string(task.ProductID)] = task
	}
	return session, byProduct
}

// countTask walks one task through assign -> start -> complete.
func (f *fixture) countTask(t *testing.T, id inventory.TaskID, physical int) inventory.Task {
	t.Helper()
	ctx := context.Background()
	_, err := f.manager.AssignTask(ctx, id, "counter-1")
	require.NoError(t, err)
	_, err = f.manager.StartTask(ctx, id)
	require.NoError(t, err)
	task, err := f.manager.CompleteTask(ctx, id, physical, "")
	require.NoError(t, err)
	return task
}

// =============================================================================
// OPENING SESSIONS
// =============================================================================

func TestManager_OpenSession_SnapshotsEveryProduct(t *testing.T) {
	// GIVEN: Two products with known quantities
	// WHEN: Opening a session over both
	// THEN: Each task carries the ledger's quantity and version as its
	//       theoretical snapshot, unassigned, at normal priority

	f := newFixture(t)
	f.seed(t, "a", 50)
	f.seed(t, "b", 7)

	session, tasks := f.openWith(t, "a", "b")

	assert.Equal(t, inventory.SessionOpen, session.State)
	assert.Contains(t, session.Number, "INV")
	require.Len(t, tasks, 2)

	taskA := tasks["a"]
	assert.Equal(t, 50, taskA.Theoretical)
	assert.Equal(t, int64(0), taskA.SnapshotVersion)
	assert.Equal(t, inventory.TaskUnassigned, taskA.State)
	assert.Equal(t, inventory.PriorityNormal, taskA.Priority)
	assert.Nil(t, taskA.Physical)
	assert.Nil(t, taskA.Variance)

	assert.Equal(t, 7, tasks["b"].Theoretical)
}

func TestManager_OpenSession_EmptyProductList_Rejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.manager.OpenSession(context.Background(), nil, "supervisor", "")

	assert.True(t, errors.Is(err, stock.ErrValidation))
}

func TestManager_OpenSession_DuplicateProduct_Rejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)

	_, _, err := f.manager.OpenSession(context.Background(),
		[]stock.ProductID{"a", "a"}, "supervisor", "")

	assert.True(t, errors.Is(err, stock.ErrValidation))
}

func TestManager_OpenSession_UnknownProduct_FailsWholeOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)

	_, _, err := f.manager.OpenSession(context.Background(),
		[]stock.ProductID{"a", "ghost"}, "supervisor", "")

	assert.True(t, stock.IsNotFound(err))
}

func TestManager_OpenSession_NumbersDistinctAtSameInstant(t *testing.T) {
	// Session numbers derive their suffix from the session id, so two
	// sessions opened in the same instant never collide.
	f := newFixture(t)
	f.seed(t, "a", 10)
	f.seed(t, "b", 10)
	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	f.manager.Now = func() time.Time { return fixed }
	ctx := context.Background()

	first, _, err := f.manager.OpenSession(ctx, []stock.ProductID{"a"}, "supervisor", "")
	require.NoError(t, err)
	second, _, err := f.manager.OpenSession(ctx, []stock.ProductID{"b"}, "supervisor", "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Number, "INV202609"), first.Number)
	assert.True(t, strings.HasPrefix(second.Number, "INV202609"), second.Number)
	assert.NotEqual(t, first.Number, second.Number)
}

// =============================================================================
// TASK LIFECYCLE
// =============================================================================

func TestManager_TaskLifecycle_HappyPath(t *testing.T) {
	// GIVEN: An open session over a product with 50 units
	// WHEN: A counter walks the task through assign, start, complete(48)
	// THEN: The variance is frozen at -2 and the ledger is untouched

	f := newFixture(t)
	f.seed(t, "a", 50)
	_, tasks := f.openWith(t, "a")

	task := f.countTask(t, tasks["a"].ID, 48)

	assert.Equal(t, inventory.TaskCompleted, task.State)
	require.NotNil(t, task.Physical)
	require.NotNil(t, task.Variance)
	assert.Equal(t, 48, *task.Physical)
	assert.Equal(t, -2, *task.Variance)
	assert.True(t, task.HasDiscrepancy())
	require.NotNil(t, task.CompletedAt)

	qty, version, err := f.ledger.QuantityAndVersion(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 50, qty, "completing a count must not touch the ledger")
	assert.Equal(t, int64(0), version)
}

func TestManager_TaskTransitions_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)
	_, tasks := f.openWith(t, "a")
	ctx := context.Background()
	id := tasks["a"].ID

	// Cannot start or complete before assignment
	_, err := f.manager.StartTask(ctx, id)
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))
	_, err = f.manager.CompleteTask(ctx, id, 9, "")
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))

	// Cannot re-assign an assigned task
	_, err = f.manager.AssignTask(ctx, id, "counter-1")
	require.NoError(t, err)
	_, err = f.manager.AssignTask(ctx, id, "counter-2")
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))

	// Cannot complete before starting
	_, err = f.manager.CompleteTask(ctx, id, 9, "")
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))

	// Negative physical count is invalid input, not a transition error
	_, err = f.manager.StartTask(ctx, id)
	require.NoError(t, err)
	_, err = f.manager.CompleteTask(ctx, id, -1, "")
	assert.True(t, errors.Is(err, stock.ErrValidation))

	// Completed tasks are terminal
	_, err = f.manager.CompleteTask(ctx, id, 9, "")
	require.NoError(t, err)
	_, err = f.manager.CancelTask(ctx, id, "too late")
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))
}

func TestManager_AssignTask_RefreshesStaleSnapshot(t *testing.T) {
	// GIVEN: A task whose snapshot is older than RefreshAfter, and stock
	//        that moved since the session opened
	// WHEN: The task is assigned
	// THEN: The theoretical snapshot is re-captured from the ledger

	f := newFixture(t)
	f.seed(t, "a", 50)
	_, tasks := f.openWith(t, "a")

	_, err := f.ledger.RemoveStock(context.Background(), "a", 10, "sale")
	require.NoError(t, err)

	f.manager.RefreshAfter = time.Hour
	f.manager.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	task, err := f.manager.AssignTask(context.Background(), tasks["a"].ID, "counter-1")

	require.NoError(t, err)
	assert.Equal(t, 40, task.Theoretical)
	assert.Equal(t, int64(1), task.SnapshotVersion)
}

func TestManager_AssignTask_FreshSnapshotKept(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 50)
	_, tasks := f.openWith(t, "a")

	_, err := f.ledger.RemoveStock(context.Background(), "a", 10, "sale")
	require.NoError(t, err)

	task, err := f.manager.AssignTask(context.Background(), tasks["a"].ID, "counter-1")

	require.NoError(t, err)
	assert.Equal(t, 50, task.Theoretical, "a fresh snapshot is not re-captured")
	assert.Equal(t, int64(0), task.SnapshotVersion)
}

// =============================================================================
// CLOSING SESSIONS
// =============================================================================

func TestManager_CloseSession_AllTasksFinished(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)
	f.seed(t, "b", 20)
	session, tasks := f.openWith(t, "a", "b")
	ctx := context.Background()

	f.countTask(t, tasks["a"].ID, 10)
	_, err := f.manager.CancelTask(ctx, tasks["b"].ID, "shelf inaccessible")
	require.NoError(t, err)

	closed, err := f.manager.CloseSession(ctx, session.ID, "supervisor")

	require.NoError(t, err)
	assert.Equal(t, inventory.SessionClosed, closed.State)
	require.NotNil(t, closed.EndDate)
}

func TestManager_CloseSession_UnfinishedTasks_Rejected(t *testing.T) {
	// GIVEN: A session with one completed and two unfinished tasks
	// WHEN: Closing it
	// THEN: The error reports exactly how many tasks remain unfinished

	f := newFixture(t)
	f.seed(t, "a", 10)
	f.seed(t, "b", 20)
	f.seed(t, "c", 30)
	session, tasks := f.openWith(t, "a", "b", "c")

	f.countTask(t, tasks["a"].ID, 10)

	_, err := f.manager.CloseSession(context.Background(), session.ID, "supervisor")

	var transition *stock.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, 2, transition.Unfinished)
}

func TestManager_CloseSession_OnlyFromOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)
	session, tasks := f.openWith(t, "a")
	ctx := context.Background()

	f.countTask(t, tasks["a"].ID, 10)
	_, err := f.manager.CloseSession(ctx, session.ID, "supervisor")
	require.NoError(t, err)

	_, err = f.manager.CloseSession(ctx, session.ID, "supervisor")
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))
}

// =============================================================================
// PROGRESS
// =============================================================================

func TestManager_SessionProgress_DerivedFromTasks(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)
	f.seed(t, "b", 20)
	f.seed(t, "c", 30)
	session, tasks := f.openWith(t, "a", "b", "c")
	ctx := context.Background()

	f.countTask(t, tasks["a"].ID, 10) // no discrepancy
	f.countTask(t, tasks["b"].ID, 18) // discrepancy
	_, err := f.manager.CancelTask(ctx, tasks["c"].ID, "")
	require.NoError(t, err)

	_, progress, err := f.manager.SessionProgress(ctx, session.ID)

	require.NoError(t, err)
	assert.Equal(t, 3, progress.TotalTasks)
	assert.Equal(t, 2, progress.CompletedTasks)
	assert.Equal(t, 1, progress.CancelledTasks)
	assert.Equal(t, 1, progress.Discrepancies)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestManager_CancelSession_CancelsRemainingTasks(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)
	f.seed(t, "b", 20)
	session, tasks := f.openWith(t, "a", "b")
	ctx := context.Background()

	f.countTask(t, tasks["a"].ID, 9)

	cancelled, err := f.manager.CancelSession(ctx, session.ID, "fire drill", "supervisor")
	require.NoError(t, err)
	assert.Equal(t, inventory.SessionCancelled, cancelled.State)

	_, progress, err := f.manager.SessionProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CompletedTasks, "completed tasks keep their state")
	assert.Equal(t, 1, progress.CancelledTasks)

	// The ledger never heard about any of this
	qty, version, err := f.ledger.QuantityAndVersion(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, qty)
	assert.Equal(t, int64(0), version)
}

func TestManager_CancelSession_TerminalStates_Rejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", 10)
	session, _ := f.openWith(t, "a")
	ctx := context.Background()

	_, err := f.manager.CancelSession(ctx, session.ID, "", "supervisor")
	require.NoError(t, err)

	_, err = f.manager.CancelSession(ctx, session.ID, "", "supervisor")
	assert.True(t, errors.Is(err, stock.ErrInvalidTransition))
}
