/*
Package stock provides the authoritative stock-quantity ledger.

PURPOSE:
  This package is the single source of truth for each product's on-hand
  quantity. Every stock change anywhere in the system - sales, returns,
  manual adjustments, inventory reconciliation - passes through the
  StockLedger so the core invariants are enforced in exactly one place.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: On-hand quantity plus its optimistic-concurrency version
  - ProductID/PersonnelID: Type-safe identifiers
  - Quantity/version pair: The only shared mutable state in the system

CRITICAL INVARIANTS:
  1. Quantity is never negative
  2. Every successful mutation increments Version by exactly 1
  3. Reads observe a quantity/version pair that was simultaneously valid

DESIGN PRINCIPLES:
  1. One writer path: No component read-modify-writes a product's quantity
     without going through the ledger operations
  2. Precision: Unit prices use decimal.Decimal to avoid float errors
  3. Type Safety: Strong typing for IDs prevents mixing identifiers

SEE ALSO:
  - ledger.go: The mutation operations and their contracts
  - store.go: Persistence interface with version-checked updates
  - errors.go: Typed failure kinds
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type PersonnelID string

// =============================================================================
// PRODUCT - On-hand quantity and its concurrency token
// =============================================================================

// Product holds the authoritative on-hand count for one item.
//
// Quantity and Version move together: every successful mutation bumps
// Version by exactly 1, and Quantity never goes below zero. Callers must
// treat the pair as a unit - a Quantity without its Version is useless for
// compare-and-set.
type Product struct {
	ID       ProductID
	Code     string
	Name     string
	Category string

	// UnitPrice values the stock for reporting. Advisory for the ledger;
	// it never affects quantity arithmetic.
	UnitPrice decimal.Decimal

	// Quantity is the current on-hand count. Never negative.
	Quantity int

	// Threshold triggers low-stock status when Quantity <= Threshold.
	Threshold int

	// Version is the optimistic-concurrency token. Incremented by exactly 1
	// on every successful mutation.
	Version int64

	// LastCountedAt is stamped when a reconciled physical count lands on
	// this product.
	LastCountedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LowStock reports whether the product is at or below its threshold.
func (p Product) LowStock() bool {
	return p.Quantity <= p.Threshold
}

// StockValue returns Quantity * UnitPrice.
func (p Product) StockValue() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}
