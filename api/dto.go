/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Products:
    ProductDTO, CreateProductRequest, StockMutationRequest, CountRequest

  Orders:
    OrderRequest

  Sessions:
    SessionDTO, OpenSessionRequest, ReconcileResultDTO

  Tasks:
    TaskDTO, AssignTaskRequest, CompleteTaskRequest, CancelRequest

  Audit:
    AuditEntryDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route definitions
*/
package api

import (
	"time"

	"github.com/neobrain/inventory-engine/inventory"
	"github.com/neobrain/inventory-engine/stock"
)

// =============================================================================
// PRODUCT TYPES
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID            string  `json:"id"`
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Category      string  `json:"category,omitempty"`
	UnitPrice     string  `json:"unit_price"`
	Quantity      int     `json:"quantity"`
	Threshold     int     `json:"threshold"`
	Version       int64   `json:"version"`
	LowStock      bool    `json:"low_stock"`
	LastCountedAt *string `json:"last_counted_at,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// CreateProductRequest is the request to register a product.
type CreateProductRequest struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

// StockMutationRequest is the request body for add/remove/adjust.
type StockMutationRequest struct {
	Quantity int    `json:"quantity"`
	Delta    int    `json:"delta"`
	Reason   string `json:"reason"`
	Actor    string `json:"actor"`
}

// CountRequest sets an absolute quantity conditional on a version.
type CountRequest struct {
	Quantity        int    `json:"quantity"`
	ExpectedVersion int64  `json:"expected_version"`
	Actor           string `json:"actor"`
}

// StockValueDTO is the aggregate value of the stock on hand.
type StockValueDTO struct {
	TotalValue string `json:"total_value"`
}

// =============================================================================
// ORDER TYPES
// =============================================================================

// OrderLineDTO is one product/quantity pair in an order.
type OrderLineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderRequest confirms or returns an order against the ledger.
type OrderRequest struct {
	OrderID string         `json:"order_id"`
	Lines   []OrderLineDTO `json:"lines"`
	Actor   string         `json:"actor"`
}

// =============================================================================
// SESSION TYPES
// =============================================================================

// OpenSessionRequest opens a counting session over a set of products.
type OpenSessionRequest struct {
	ProductIDs  []string `json:"product_ids"`
	Supervisor  string   `json:"supervisor"`
	Description string   `json:"description"`
}

// SessionDTO represents a counting session in API responses.
type SessionDTO struct {
	ID           string       `json:"id"`
	Number       string       `json:"number"`
	State        string       `json:"state"`
	Description  string       `json:"description,omitempty"`
	Supervisor   string       `json:"supervisor,omitempty"`
	StartDate    string       `json:"start_date"`
	EndDate      *string      `json:"end_date,omitempty"`
	ReconciledAt *string      `json:"reconciled_at,omitempty"`
	Progress     *ProgressDTO `json:"progress,omitempty"`
	Tasks        []TaskDTO    `json:"tasks,omitempty"`
}

// ProgressDTO carries the derived session counters.
type ProgressDTO struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	CancelledTasks int `json:"cancelled_tasks"`
	Discrepancies  int `json:"discrepancies"`
}

// ReconcileResultDTO reports the outcome of a reconciliation run.
type ReconcileResultDTO struct {
	AppliedCount int      `json:"applied_count"`
	SkippedCount int      `json:"skipped_count"`
	Unreconciled []string `json:"unreconciled"`
	Complete     bool     `json:"complete"`
}

// =============================================================================
// TASK TYPES
// =============================================================================

// TaskDTO represents a counting task in API responses.
type TaskDTO struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"session_id"`
	ProductID   string  `json:"product_id"`
	PersonnelID *string `json:"personnel_id,omitempty"`
	Theoretical int     `json:"theoretical"`
	Physical    *int    `json:"physical,omitempty"`
	Variance    *int    `json:"variance,omitempty"`
	State       string  `json:"state"`
	Priority    int     `json:"priority"`
	Comment     string  `json:"comment,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// AssignTaskRequest assigns a task to a member of personnel.
type AssignTaskRequest struct {
	PersonnelID string `json:"personnel_id"`
}

// CompleteTaskRequest records the physical count for a task.
type CompleteTaskRequest struct {
	Physical int    `json:"physical"`
	Comment  string `json:"comment"`
}

// CancelRequest cancels a task or session with a reason.
type CancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// =============================================================================
// AUDIT TYPES
// =============================================================================

// AuditEntryDTO represents one audit trail entry.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	ProductID string         `json:"product_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toProductDTO(p stock.Product) ProductDTO {
	return ProductDTO{
		ID:            string(p.ID),
		Code:          p.Code,
		Name:          p.Name,
		Category:      p.Category,
		UnitPrice:     p.UnitPrice.String(),
		Quantity:      p.Quantity,
		Threshold:     p.Threshold,
		Version:       p.Version,
		LowStock:      p.LowStock(),
		LastCountedAt: timeStrPtr(p.LastCountedAt),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

func toSessionDTO(s inventory.Session) SessionDTO {
	return SessionDTO{
		ID:           string(s.ID),
		Number:       s.Number,
		State:        string(s.State),
		Description:  s.Description,
		Supervisor:   s.Supervisor,
		StartDate:    s.StartDate.Format(time.RFC3339),
		EndDate:      timeStrPtr(s.EndDate),
		ReconciledAt: timeStrPtr(s.ReconciledAt),
	}
}

func toTaskDTO(t inventory.Task) TaskDTO {
	dto := TaskDTO{
		ID:          string(t.ID),
		SessionID:   string(t.SessionID),
		ProductID:   string(t.ProductID),
		Theoretical: t.Theoretical,
		Physical:    t.Physical,
		Variance:    t.Variance,
		State:       string(t.State),
		Priority:    int(t.Priority),
		Comment:     t.Comment,
		CompletedAt: timeStrPtr(t.CompletedAt),
	}
	if t.PersonnelID != nil {
		id := string(*t.PersonnelID)
		dto.PersonnelID = &id
	}
	return dto
}

func toTaskDTOs(tasks []inventory.Task) []TaskDTO {
	dtos := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toTaskDTO(t)
	}
	return dtos
}

func toResultDTO(r inventory.Result) ReconcileResultDTO {
	unreconciled := make([]string, len(r.Unreconciled))
	for i, id := range r.Unreconciled {
		unreconciled[i] = string(id)
	}
	return ReconcileResultDTO{
		AppliedCount: r.AppliedCount,
		SkippedCount: r.SkippedCount,
		Unreconciled: unreconciled,
		Complete:     r.Complete(),
	}
}

func toAuditDTO(e stock.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		ProductID: string(e.ProductID),
		SessionID: e.SessionID,
		TaskID:    e.TaskID,
		Payload:   e.Payload,
	}
}

func timeStrPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
