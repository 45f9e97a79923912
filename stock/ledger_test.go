/*
ledger_test.go - Tests for atomic stock mutations

Tests for:
- Delta mutations and version bumps
- Insufficient stock rejection leaving the ledger untouched
- Lost-update freedom under concurrent writers
- Conditional absolute sets (CompareAndSetStock)
- Low-stock detection and stock valuation
- Audit side-channel
*/
package stock_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobrain/inventory-engine/stock"
	"github.com/neobrain/inventory-engine/stock/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*stock.Ledger, *store.MemoryAudit) {
	t.Helper()
	audit := store.NewMemoryAudit()
	ledger := stock.NewLedger(store.NewMemory(), audit)
	return ledger, audit
}

func seedProduct(t *testing.T, ledger *stock.Ledger, id string, qty int) {
	t.Helper()
	err := ledger.Products.CreateProduct(context.Background(), stock.Product{
		ID:        stock.ProductID(id),
		Code:      "C-" + id,
		Name:      "Product " + id,
		UnitPrice: decimal.NewFromInt(10),
		Quantity:  qty,
		Threshold: 5,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
}

// =============================================================================
// DELTA MUTATIONS
// =============================================================================

func TestLedger_AddStock_BumpsQuantityAndVersion(t *testing.T) {
	// GIVEN: A product with 50 units at version 0
	// WHEN: Adding 8 units
	// THEN: Quantity is 58 and version is 1

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 50)

	p, err := ledger.AddStock(ctx, "prd-1", 8, "tester")

	require.NoError(t, err)
	assert.Equal(t, 58, p.Quantity)
	assert.Equal(t, int64(1), p.Version)
}

func TestLedger_RemoveStock_BumpsQuantityAndVersion(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 50)

	p, err := ledger.RemoveStock(ctx, "prd-1", 3, "tester")

	require.NoError(t, err)
	assert.Equal(t, 47, p.Quantity)
	assert.Equal(t, int64(1), p.Version)
}

func TestLedger_RemoveStock_Insufficient_LeavesLedgerUntouched(t *testing.T) {
	// GIVEN: A product with 2 units
	// WHEN: Removing 5
	// THEN: InsufficientStockError, and neither quantity nor version moved

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 2)

	_, err := ledger.RemoveStock(ctx, "prd-1", 5, "tester")

	assert.Error(t, err)
	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Available)
	assert.True(t, errors.Is(err, stock.ErrInsufficientStock))

	qty, version, err := ledger.QuantityAndVersion(ctx, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 2, qty)
	assert.Equal(t, int64(0), version, "rejected mutation must not bump the version")
}

func TestLedger_AdjustStock_SignedDelta(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 10)

	p, err := ledger.AdjustStock(ctx, "prd-1", -4, "damaged in transit", "tester")
	require.NoError(t, err)
	assert.Equal(t, 6, p.Quantity)

	p, err = ledger.AdjustStock(ctx, "prd-1", 2, "found in backroom", "tester")
	require.NoError(t, err)
	assert.Equal(t, 8, p.Quantity)
	assert.Equal(t, int64(2), p.Version)
}

func TestLedger_AdjustStock_NegativeResult_Rejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 3)

	_, err := ledger.AdjustStock(ctx, "prd-1", -7, "shrinkage", "tester")

	var insufficient *stock.InsufficientStockError
	assert.ErrorAs(t, err, &insufficient)
}

func TestLedger_Validation(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 10)

	_, err := ledger.AddStock(ctx, "prd-1", 0, "tester")
	assert.True(t, errors.Is(err, stock.ErrValidation), "zero add should be rejected")

	_, err = ledger.RemoveStock(ctx, "prd-1", -1, "tester")
	assert.True(t, errors.Is(err, stock.ErrValidation), "negative remove should be rejected")

	_, err = ledger.AdjustStock(ctx, "prd-1", 0, "", "tester")
	assert.True(t, errors.Is(err, stock.ErrValidation), "zero adjust should be rejected")
}

func TestLedger_UnknownProduct(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.AddStock(context.Background(), "missing", 1, "tester")

	assert.True(t, stock.IsNotFound(err))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentDeltas_NoLostUpdates(t *testing.T) {
	// GIVEN: A product with 100 units
	// WHEN: 20 goroutines add 1 and 10 goroutines remove 2, concurrently
	// THEN: The final quantity is exactly 100 + 20 - 20, and every
	//       mutation bumped the version exactly once

	ledger, _ := newTestLedger(t)
	ledger.MaxRetries = 100 // heavy contention in this test
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 100)

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := ledger.AddStock(ctx, "prd-1", 1, fmt.Sprintf("adder-%d", n))
			errs <- err
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := ledger.RemoveStock(ctx, "prd-1", 2, fmt.Sprintf("remover-%d", n))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	qty, version, err := ledger.QuantityAndVersion(ctx, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 100, qty)
	assert.Equal(t, int64(30), version, "every mutation bumps the version exactly once")
}

// =============================================================================
// CONDITIONAL ABSOLUTE SETS
// =============================================================================

func TestLedger_CompareAndSetStock_Success(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 50)

	p, err := ledger.CompareAndSetStock(ctx, "prd-1", 0, 48, "counter")

	require.NoError(t, err)
	assert.Equal(t, 48, p.Quantity)
	assert.Equal(t, int64(1), p.Version)
	require.NotNil(t, p.LastCountedAt, "a count stamps LastCountedAt")
}

func TestLedger_CompareAndSetStock_StaleVersion(t *testing.T) {
	// GIVEN: A product whose version moved past the caller's snapshot
	// WHEN: Setting an absolute quantity against the old version
	// THEN: StaleVersionError with the actual version, no retry

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 50)

	_, err := ledger.RemoveStock(ctx, "prd-1", 3, "tester") // version -> 1
	require.NoError(t, err)

	_, err = ledger.CompareAndSetStock(ctx, "prd-1", 0, 48, "counter")

	var stale *stock.StaleVersionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(0), stale.Expected)
	assert.Equal(t, int64(1), stale.Actual)

	qty, _, err := ledger.QuantityAndVersion(ctx, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 47, qty, "conflicting set must not land")
}

func TestLedger_CompareAndSetStock_NegativeRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	seedProduct(t, ledger, "prd-1", 50)

	_, err := ledger.CompareAndSetStock(context.Background(), "prd-1", 0, -1, "counter")

	assert.True(t, errors.Is(err, stock.ErrValidation))
}

// =============================================================================
// READS
// =============================================================================

func TestLedger_FindLowStock(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "ok", 50)    // threshold 5
	seedProduct(t, ledger, "low", 5)    // at threshold counts as low
	seedProduct(t, ledger, "empty", 0)

	low, err := ledger.FindLowStock(ctx)

	require.NoError(t, err)
	ids := make(map[stock.ProductID]bool)
	for _, p := range low {
		ids[p.ID] = true
	}
	assert.Len(t, low, 2)
	assert.True(t, ids["low"])
	assert.True(t, ids["empty"])
}

func TestLedger_TotalStockValue(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "a", 3) // 3 * 10
	seedProduct(t, ledger, "b", 7) // 7 * 10

	total, err := ledger.TotalStockValue(ctx)

	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(100)), "got %s", total)
}

// =============================================================================
// AUDIT SIDE-CHANNEL
// =============================================================================

func TestLedger_Mutations_EmitAuditEntries(t *testing.T) {
	ledger, audit := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 50)

	_, err := ledger.AddStock(ctx, "prd-1", 5, "alice")
	require.NoError(t, err)
	_, err = ledger.RemoveStock(ctx, "prd-1", 2, "bob")
	require.NoError(t, err)

	entries, err := audit.Query(ctx, stock.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, stock.AuditStockAdded, entries[0].Action)
	assert.Equal(t, "alice", entries[0].ActorID)
	assert.Equal(t, 5, entries[0].Payload["delta"])
	assert.Equal(t, stock.AuditStockRemoved, entries[1].Action)
	assert.Equal(t, "bob", entries[1].ActorID)
}

func TestLedger_RejectedMutation_EmitsNoAudit(t *testing.T) {
	ledger, audit := newTestLedger(t)
	ctx := context.Background()
	seedProduct(t, ledger, "prd-1", 1)

	_, err := ledger.RemoveStock(ctx, "prd-1", 5, "tester")
	assert.Error(t, err)

	entries, err := audit.Query(ctx, stock.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
