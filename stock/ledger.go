/*
ledger.go - Atomic stock mutation operations

PURPOSE:
  The StockLedger owns every change to on-hand quantities. Sales, returns,
  manual adjustments and inventory reconciliation all land here, so the
  two core invariants - quantity never negative, version +1 per mutation -
  are enforced in one place.

CONCURRENCY CONTRACT:
  Mutations on the SAME product are serialized: the ledger re-reads and
  retries on version conflict, so no update is ever lost. Mutations on
  DIFFERENT products proceed independently with no ordering guarantee.
  The serialization mechanism is the store's conditional UpdateProduct
  (compare-and-set on version), not a process-wide lock, so it holds
  across processes sharing a backend.

  AddStock/RemoveStock/AdjustStock retry internally on version conflict
  (the caller's intent is a delta, which is valid against any base).
  CompareAndSetStock does NOT retry: the caller supplied an absolute
  quantity derived from a snapshot, so a conflict means the snapshot is
  stale and only the caller can decide the new target. That caller is the
  reconciliation engine.

AUDIT:
  Every successful mutation emits an AuditEntry. Audit is fire-and-forget:
  a failing sink never fails the mutation.

EXAMPLE:
  ledger := stock.NewLedger(store, audit)
  p, err := ledger.RemoveStock(ctx, "prd-1", 3, "order-confirm")
  var insufficient *stock.InsufficientStockError
  if errors.As(err, &insufficient) {
      // insufficient.Requested / insufficient.Available for the UI
  }

SEE ALSO:
  - store.go: The version-check contract this is built on
  - inventory/reconcile.go: The only CompareAndSetStock caller
*/
package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// defaultMaxRetries bounds the internal conflict-retry loop for delta
// mutations. Conflicts only arise from concurrent writers on the same
// product, so a handful of retries is plenty.
const defaultMaxRetries = 10

// =============================================================================
// STOCK LEDGER
// =============================================================================

// Ledger is the single writer path for on-hand quantities.
type Ledger struct {
	Products ProductStore
	Audit    AuditLog // optional side-channel, may be nil

	// MaxRetries bounds the retry loop for delta mutations.
	// Zero means defaultMaxRetries.
	MaxRetries int

	// Now is injectable for tests. Zero value means time.Now.
	Now func() time.Time
}

// NewLedger creates a ledger over the given store. audit may be nil.
func NewLedger(products ProductStore, audit AuditLog) *Ledger {
	return &Ledger{Products: products, Audit: audit}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Ledger) maxRetries() int {
	if l.MaxRetries > 0 {
		return l.MaxRetries
	}
	return defaultMaxRetries
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AddStock increments a product's quantity by qty (> 0).
func (l *Ledger) AddStock(ctx context.Context, id ProductID, qty int, actor string) (Product, error) {
	if qty <= 0 {
		return Product{}, &ValidationError{Msg: "add quantity must be positive"}
	}
	p, err := l.applyDelta(ctx, id, qty)
	if err != nil {
		return Product{}, err
	}
	l.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditStockAdded,
		ProductID: id,
		Payload:   map[string]any{"delta": qty, "quantity": p.Quantity, "version": p.Version},
	})
	return p, nil
}

// RemoveStock decrements a product's quantity by qty (> 0). Fails with
// *InsufficientStockError if qty exceeds the on-hand count; the ledger is
// left untouched (version unchanged).
func (l *Ledger) RemoveStock(ctx context.Context, id ProductID, qty int, actor string) (Product, error) {
	if qty <= 0 {
		return Product{}, &ValidationError{Msg: "remove quantity must be positive"}
	}
	p, err := l.applyDelta(ctx, id, -qty)
	if err != nil {
		return Product{}, err
	}
	l.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditStockRemoved,
		ProductID: id,
		Payload:   map[string]any{"delta": -qty, "quantity": p.Quantity, "version": p.Version},
	})
	return p, nil
}

// AdjustStock applies a signed delta. Fails with *InsufficientStockError if
// the result would go negative. reason is advisory metadata carried into the
// audit record, never control flow.
func (l *Ledger) AdjustStock(ctx context.Context, id ProductID, delta int, reason, actor string) (Product, error) {
	if delta == 0 {
		return Product{}, &ValidationError{Msg: "adjustment delta must be non-zero"}
	}
	p, err := l.applyDelta(ctx, id, delta)
	if err != nil {
		return Product{}, err
	}
	l.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditStockAdjusted,
		ProductID: id,
		Payload:   map[string]any{"delta": delta, "reason": reason, "quantity": p.Quantity, "version": p.Version},
	})
	return p, nil
}

// applyDelta is the shared conflict-retry loop for delta mutations.
// The insufficient-stock check runs inside the loop against the freshly
// read quantity, so a rejection reflects the state that was actually
// current - and a rejected mutation never bumps the version.
func (l *Ledger) applyDelta(ctx context.Context, id ProductID, delta int) (Product, error) {
	var lastErr error
	for attempt := 0; attempt < l.maxRetries(); attempt++ {
		if err := ctx.Err(); err != nil {
			return Product{}, err
		}

		p, err := l.Products.GetProduct(ctx, id)
		if err != nil {
			return Product{}, err
		}

		next := p.Quantity + delta
		if next < 0 {
			return Product{}, &InsufficientStockError{
				ProductID: id,
				Requested: -delta,
				Available: p.Quantity,
			}
		}

		p.Quantity = next
		p.UpdatedAt = l.now()
		stored, err := l.Products.UpdateProduct(ctx, p, p.Version)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrStaleVersion) {
			return Product{}, err
		}
		lastErr = err // conflict: re-read and retry
	}
	return Product{}, lastErr
}

// CompareAndSetStock sets a product's quantity to newQuantity only if the
// ledger's current version equals expectedVersion. On conflict it returns
// *StaleVersionError with the actual version so the caller can recompute
// and retry. newQuantity must be >= 0.
//
// Used by the reconciliation engine to land physically-verified counts;
// also stamps LastCountedAt.
func (l *Ledger) CompareAndSetStock(ctx context.Context, id ProductID, expectedVersion int64, newQuantity int, actor string) (Product, error) {
	if newQuantity < 0 {
		return Product{}, &ValidationError{Msg: "quantity cannot be negative"}
	}

	p, err := l.Products.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if p.Version != expectedVersion {
		return Product{}, &StaleVersionError{ProductID: id, Expected: expectedVersion, Actual: p.Version}
	}

	counted := l.now()
	p.Quantity = newQuantity
	p.LastCountedAt = &counted
	p.UpdatedAt = counted
	stored, err := l.Products.UpdateProduct(ctx, p, expectedVersion)
	if err != nil {
		return Product{}, err
	}

	l.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditStockCounted,
		ProductID: id,
		Payload:   map[string]any{"quantity": stored.Quantity, "version": stored.Version},
	})
	return stored, nil
}

// =============================================================================
// READS
// =============================================================================

// QuantityAndVersion returns a consistent quantity/version snapshot.
func (l *Ledger) QuantityAndVersion(ctx context.Context, id ProductID) (int, int64, error) {
	p, err := l.Products.GetProduct(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	return p.Quantity, p.Version, nil
}

// FindLowStock returns products at or below their threshold.
func (l *Ledger) FindLowStock(ctx context.Context) ([]Product, error) {
	all, err := l.Products.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	var low []Product
	for _, p := range all {
		if p.LowStock() {
			low = append(low, p)
		}
	}
	return low, nil
}

// TotalStockValue returns the sum of quantity * unit price over all products.
func (l *Ledger) TotalStockValue(ctx context.Context) (decimal.Decimal, error) {
	all, err := l.Products.ListProducts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range all {
		total = total.Add(p.StockValue())
	}
	return total, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) audit(ctx context.Context, entry AuditEntry) {
	if l.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = l.now()
	_ = l.Audit.Append(ctx, entry) // side-channel: never fails the mutation
}
