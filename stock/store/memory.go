// Package store provides ProductStore and AuditLog implementations.
package store

import (
	"context"
	"sync"

	"github.com/neobrain/inventory-engine/stock"
)

// =============================================================================
// MEMORY PRODUCT STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	products map[stock.ProductID]stock.Product
}

func NewMemory() *Memory {
	return &Memory{products: make(map[stock.ProductID]stock.Product)}
}

func (m *Memory) CreateProduct(_ context.Context, p stock.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.products[p.ID]; exists {
		return &stock.ValidationError{Msg: "product already exists: " + string(p.ID)}
	}
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id stock.ProductID) (stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return stock.Product{}, stock.ErrProductNotFound
	}
	return p, nil
}

// UpdateProduct is the conditional write: check-and-swap under one lock so
// two writers that both read version N cannot both win.
func (m *Memory) UpdateProduct(_ context.Context, p stock.Product, expectedVersion int64) (stock.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.products[p.ID]
	if !ok {
		return stock.Product{}, stock.ErrProductNotFound
	}
	if current.Version != expectedVersion {
		return stock.Product{}, &stock.StaleVersionError{
			ProductID: p.ID,
			Expected:  expectedVersion,
			Actual:    current.Version,
		}
	}

	p.Version = expectedVersion + 1
	m.products[p.ID] = p
	return p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]stock.Product, 0, len(m.products))
	for _, p := range m.products {
		result = append(result, p)
	}
	return result, nil
}

// =============================================================================
// MEMORY AUDIT LOG
// =============================================================================

type MemoryAudit struct {
	mu      sync.RWMutex
	entries []stock.AuditEntry
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (a *MemoryAudit) Append(_ context.Context, entry stock.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *MemoryAudit) Query(_ context.Context, filter stock.AuditFilter) ([]stock.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []stock.AuditEntry
	for _, e := range a.entries {
		if matches(e, filter) {
			result = append(result, e)
		}
	}
	return result, nil
}

func matches(e stock.AuditEntry, f stock.AuditFilter) bool {
	if f.ProductID != nil && e.ProductID != *f.ProductID {
		return false
	}
	if f.SessionID != nil && e.SessionID != *f.SessionID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
