/*
store.go - Persistence interface for products, plus the audit side-channel

PURPOSE:
  Defines the boundary between the ledger and the database. The core is
  agnostic to the backend - SQLite, Redis, or an in-memory map - provided
  the implementation honors the version-check contract below.

VERSION-CHECK CONTRACT:
  UpdateProduct is the ONLY write path for existing products, and it is
  conditional: the write succeeds only if the stored Version still equals
  expectedVersion, in which case the product is persisted with
  Version = expectedVersion + 1 atomically. Otherwise the store returns
  *StaleVersionError carrying the actual version and writes nothing.

  This is what makes the ledger's mutations lost-update-free: two
  concurrent writers that both read version N cannot both win.

IMPLEMENTATIONS:
  - stock/store/memory.go: In-memory, for tests and development
  - store/sqlite:          UPDATE ... WHERE version = ? with rows-affected check
  - store/redis:           Lua script comparing and bumping the version field

AUDIT:
  Every successful ledger mutation and lifecycle transition is reported to
  an AuditLog. This is a side-channel notification: audit failure never
  fails the mutation, and the mutation never waits on audit I/O while a
  version check is in flight.

SEE ALSO:
  - ledger.go: The retry loop built on this contract
  - inventory package: Session/task persistence (inventory.Store)
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// PRODUCT STORE
// =============================================================================

// ProductStore persists products with optimistic-lock semantics.
type ProductStore interface {
	// CreateProduct inserts a new product. The stored Version starts at the
	// product's Version field (normally 0).
	CreateProduct(ctx context.Context, p Product) error

	// GetProduct returns a consistent snapshot of a product, never a partial
	// read. Returns ErrProductNotFound for unknown ids.
	GetProduct(ctx context.Context, id ProductID) (Product, error)

	// UpdateProduct persists p only if the stored version equals
	// expectedVersion, storing p with Version = expectedVersion + 1.
	// Returns the stored product on success, *StaleVersionError on conflict.
	UpdateProduct(ctx context.Context, p Product, expectedVersion int64) (Product, error)

	// ListProducts returns all products.
	ListProducts(ctx context.Context) ([]Product, error)
}

// =============================================================================
// AUDIT LOG - Side-channel, append-only
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	ProductID ProductID
	SessionID string
	TaskID    string
	Payload   map[string]any // action-specific data: delta, new state, ...
}

type AuditAction string

const (
	AuditStockAdded        AuditAction = "stock_added"
	AuditStockRemoved      AuditAction = "stock_removed"
	AuditStockAdjusted     AuditAction = "stock_adjusted"
	AuditStockCounted      AuditAction = "stock_counted"
	AuditSessionOpened     AuditAction = "session_opened"
	AuditSessionClosed     AuditAction = "session_closed"
	AuditSessionReconciled AuditAction = "session_reconciled"
	AuditSessionCancelled  AuditAction = "session_cancelled"
	AuditTaskAssigned      AuditAction = "task_assigned"
	AuditTaskStarted       AuditAction = "task_started"
	AuditTaskCompleted     AuditAction = "task_completed"
	AuditTaskCancelled     AuditAction = "task_cancelled"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	ProductID *ProductID
	SessionID *string
	ActorID   *string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}
