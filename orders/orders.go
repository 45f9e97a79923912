/*
Package orders is the caller boundary from order processing into the
stock ledger.

PURPOSE:
  Order confirmation removes stock; cancellation and customer returns
  restore it. This package owns no quantities and no state - it translates
  order lines into ledger calls and surfaces InsufficientStock to the
  caller rather than silently clamping.

COMPENSATION:
  A multi-line confirmation is not atomic across products (the ledger
  serializes per product only), so when line N fails the lines already
  removed are added back before the error returns. The compensation uses
  the same ledger operations, so the per-product invariants hold
  throughout.

SEE ALSO:
  - stock/ledger.go: RemoveStock/AddStock contracts
*/
package orders

import (
	"context"
	"fmt"

	"github.com/neobrain/inventory-engine/stock"
)

// Line is one product/quantity pair on an order.
type Line struct {
	ProductID stock.ProductID
	Quantity  int
}

// Processor applies order outcomes to the ledger.
type Processor struct {
	Ledger *stock.Ledger
}

func NewProcessor(ledger *stock.Ledger) *Processor {
	return &Processor{Ledger: ledger}
}

// ConfirmOrder removes stock for every line. On failure, lines already
// removed are restored and the failing line's error is returned -
// typically *stock.InsufficientStockError with requested/available for
// the caller's message.
func (p *Processor) ConfirmOrder(ctx context.Context, orderID string, lines []Line, actor string) error {
	if len(lines) == 0 {
		return &stock.ValidationError{Msg: "order has no lines"}
	}

	removed := make([]Line, 0, len(lines))
	for _, line := range lines {
		if _, err := p.Ledger.RemoveStock(ctx, line.ProductID, line.Quantity, actor); err != nil {
			p.compensate(ctx, removed, actor)
			return fmt.Errorf("confirm order %s: %w", orderID, err)
		}
		removed = append(removed, line)
	}
	return nil
}

// ReturnOrder restores stock for every line of a cancelled or returned
// order.
func (p *Processor) ReturnOrder(ctx context.Context, orderID string, lines []Line, actor string) error {
	if len(lines) == 0 {
		return &stock.ValidationError{Msg: "order has no lines"}
	}

	for _, line := range lines {
		if _, err := p.Ledger.AddStock(ctx, line.ProductID, line.Quantity, actor); err != nil {
			return fmt.Errorf("return order %s: %w", orderID, err)
		}
	}
	return nil
}

// compensate re-adds stock removed before a failed line. Best effort: a
// compensation failure leaves the remaining lines for manual adjustment,
// and the original error still surfaces to the caller.
func (p *Processor) compensate(ctx context.Context, removed []Line, actor string) {
	for _, line := range removed {
		_, _ = p.Ledger.AddStock(ctx, line.ProductID, line.Quantity, actor)
	}
}
