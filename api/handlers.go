/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the stock ledger, counting sessions and reconciliation via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Products:
    GET    /api/products               List all products
    POST   /api/products               Register product
    GET    /api/products/low-stock     Products at or below threshold
    GET    /api/products/value         Total stock value
    GET    /api/products/{id}          Get product
    POST   /api/products/{id}/add      Add stock
    POST   /api/products/{id}/remove   Remove stock
    POST   /api/products/{id}/adjust   Adjust stock by signed delta
    POST   /api/products/{id}/count    Conditional absolute set

  Orders:
    POST   /api/orders/confirm         Deduct an order's lines
    POST   /api/orders/return          Restore an order's lines

  Sessions:
    POST   /api/sessions               Open a counting session
    GET    /api/sessions               List sessions
    GET    /api/sessions/{id}          Session with progress and tasks
    POST   /api/sessions/{id}/close    Close (all tasks must be finished)
    POST   /api/sessions/{id}/reconcile Apply variances to the ledger
    POST   /api/sessions/{id}/cancel   Abort the session

  Tasks:
    POST   /api/tasks/{id}/assign      Assign to personnel
    POST   /api/tasks/{id}/start       Begin counting
    POST   /api/tasks/{id}/complete    Record physical count
    POST   /api/tasks/{id}/cancel      Cancel the task

  Audit:
    GET    /api/audit                  Query the audit trail

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (stale version, insufficient stock, bad transition)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neobrain/inventory-engine/inventory"
	"github.com/neobrain/inventory-engine/orders"
	"github.com/neobrain/inventory-engine/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Products stock.ProductStore
	Audit    stock.AuditLog
	Ledger   *stock.Ledger
	Manager  *inventory.Manager
	Engine   *inventory.Engine
	Orders   *orders.Processor
}

// NewHandler wires a handler over a product store, session store and audit
// log. The ledger, manager, engine and order processor are constructed here
// so callers only assemble storage.
func NewHandler(products stock.ProductStore, sessions inventory.Store, audit stock.AuditLog) *Handler {
	ledger := stock.NewLedger(products, audit)
	return &Handler{
		Products: products,
		Audit:    audit,
		Ledger:   ledger,
		Manager:  inventory.NewManager(sessions, ledger, audit),
		Engine:   inventory.NewEngine(sessions, ledger, audit),
		Orders:   orders.NewProcessor(ledger),
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := stock.ProductID(chi.URLParam(r, "id"))

	p, err := h.Products.GetProduct(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// CreateProduct registers a new product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Product name is required", nil)
		return
	}
	if req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "Initial quantity cannot be negative", nil)
		return
	}

	unitPrice := decimal.Zero
	if req.UnitPrice != "" {
		var err error
		unitPrice, err = decimal.NewFromString(req.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
			return
		}
	}

	id := stock.ProductID(req.ID)
	if id == "" {
		id = stock.ProductID(uuid.NewString())
	}

	now := time.Now()
	p := stock.Product{
		ID:        id,
		Code:      req.Code,
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: unitPrice,
		Quantity:  req.Quantity,
		Threshold: req.Threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Products.CreateProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// AddStock adds quantity to a product.
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(req StockMutationRequest, id stock.ProductID) (stock.Product, error) {
		return h.Ledger.AddStock(r.Context(), id, req.Quantity, req.Actor)
	})
}

// RemoveStock removes quantity from a product.
func (h *Handler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(req StockMutationRequest, id stock.ProductID) (stock.Product, error) {
		return h.Ledger.RemoveStock(r.Context(), id, req.Quantity, req.Actor)
	})
}

// AdjustStock applies a signed delta with a reason.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(req StockMutationRequest, id stock.ProductID) (stock.Product, error) {
		return h.Ledger.AdjustStock(r.Context(), id, req.Delta, req.Reason, req.Actor)
	})
}

func (h *Handler) mutateStock(w http.ResponseWriter, r *http.Request, apply func(StockMutationRequest, stock.ProductID) (stock.Product, error)) {
	id := stock.ProductID(chi.URLParam(r, "id"))

	var req StockMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := apply(req, id)
	if err != nil {
		writeDomainError(w, "Stock mutation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// CountStock sets an absolute quantity, conditional on the caller's version.
func (h *Handler) CountStock(w http.ResponseWriter, r *http.Request) {
	id := stock.ProductID(chi.URLParam(r, "id"))

	var req CountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Ledger.CompareAndSetStock(r.Context(), id, req.ExpectedVersion, req.Quantity, req.Actor)
	if err != nil {
		writeDomainError(w, "Count failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// ListLowStock returns products at or below their restock threshold.
func (h *Handler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.Ledger.FindLowStock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list low stock", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StockValue returns the total value of stock on hand.
func (h *Handler) StockValue(w http.ResponseWriter, r *http.Request) {
	total, err := h.Ledger.TotalStockValue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stock value", err)
		return
	}
	writeJSON(w, http.StatusOK, StockValueDTO{TotalValue: total.String()})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ConfirmOrder deducts the order's lines from stock, all or nothing.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	h.processOrder(w, r, h.Orders.ConfirmOrder)
}

// ReturnOrder restores the order's lines to stock.
func (h *Handler) ReturnOrder(w http.ResponseWriter, r *http.Request) {
	h.processOrder(w, r, h.Orders.ReturnOrder)
}

func (h *Handler) processOrder(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, orderID string, lines []orders.Line, actor string) error) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "Order has no lines", nil)
		return
	}

	lines := make([]orders.Line, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = orders.Line{ProductID: stock.ProductID(l.ProductID), Quantity: l.Quantity}
	}

	if err := apply(r.Context(), req.OrderID, lines, req.Actor); err != nil {
		writeDomainError(w, "Order processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "order_id": req.OrderID})
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// OpenSession opens a counting session over a set of products.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]stock.ProductID, len(req.ProductIDs))
	for i, id := range req.ProductIDs {
		ids[i] = stock.ProductID(id)
	}

	session, tasks, err := h.Manager.OpenSession(r.Context(), ids, req.Supervisor, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to open session", err)
		return
	}

	dto := toSessionDTO(session)
	dto.Tasks = toTaskDTOs(tasks)
	writeJSON(w, http.StatusCreated, dto)
}

// ListSessions returns all sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Manager.Store.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSession returns a session with derived progress and its tasks.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := inventory.SessionID(chi.URLParam(r, "id"))

	session, progress, err := h.Manager.SessionProgress(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get session", err)
		return
	}

	tasks, err := h.Manager.Store.TasksBySession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	dto := toSessionDTO(session)
	dto.Progress = &ProgressDTO{
		TotalTasks:     progress.TotalTasks,
		CompletedTasks: progress.CompletedTasks,
		CancelledTasks: progress.CancelledTasks,
		Discrepancies:  progress.Discrepancies,
	}
	dto.Tasks = toTaskDTOs(tasks)
	writeJSON(w, http.StatusOK, dto)
}

// CloseSession closes a session once every task is finished.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := inventory.SessionID(chi.URLParam(r, "id"))
	actor := actorFromRequest(r)

	session, err := h.Manager.CloseSession(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, "Failed to close session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// ReconcileSession applies the session's variances to the ledger. A partial
// outcome is still a 200: the body reports which products remain
// unreconciled so the caller can retry.
func (h *Handler) ReconcileSession(w http.ResponseWriter, r *http.Request) {
	id := inventory.SessionID(chi.URLParam(r, "id"))
	actor := actorFromRequest(r)

	result, err := h.Engine.Reconcile(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// CancelSession aborts a session and its unfinished tasks.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := inventory.SessionID(chi.URLParam(r, "id"))

	var req CancelRequest
	if r.Body != nil {
		// Body is optional for cancellation.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	session, err := h.Manager.CancelSession(r.Context(), id, req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to cancel session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

// AssignTask assigns a task to a member of personnel.
func (h *Handler) AssignTask(w http.ResponseWriter, r *http.Request) {
	id := inventory.TaskID(chi.URLParam(r, "id"))

	var req AssignTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PersonnelID == "" {
		writeError(w, http.StatusBadRequest, "personnel_id is required", nil)
		return
	}

	task, err := h.Manager.AssignTask(r.Context(), id, stock.PersonnelID(req.PersonnelID))
	if err != nil {
		writeDomainError(w, "Failed to assign task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// StartTask marks a task as being counted.
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	id := inventory.TaskID(chi.URLParam(r, "id"))

	task, err := h.Manager.StartTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to start task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// CompleteTask records the physical count and freezes the variance.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id := inventory.TaskID(chi.URLParam(r, "id"))

	var req CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	task, err := h.Manager.CompleteTask(r.Context(), id, req.Physical, req.Comment)
	if err != nil {
		writeDomainError(w, "Failed to complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// CancelTask cancels a non-terminal task.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := inventory.TaskID(chi.URLParam(r, "id"))

	var req CancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	task, err := h.Manager.CancelTask(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to cancel task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit entries matching the query string filters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter stock.AuditFilter
	q := r.URL.Query()
	if v := q.Get("product_id"); v != "" {
		id := stock.ProductID(v)
		filter.ProductID = &id
	}
	if v := q.Get("session_id"); v != "" {
		filter.SessionID = &v
	}
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = &v
	}
	if v := q.Get("action"); v != "" {
		filter.Actions = []stock.AuditAction{stock.AuditAction(v)}
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp (use RFC3339)", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp (use RFC3339)", err)
			return
		}
		filter.To = &t
	}

	entries, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFromRequest(r *http.Request) string {
	if actor := r.URL.Query().Get("actor"); actor != "" {
		return actor
	}
	return r.Header.Get("X-Actor")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case stock.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, stock.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, stock.ErrStaleVersion),
		errors.Is(err, stock.ErrInvalidTransition),
		errors.Is(err, stock.ErrReconciliationIncomplete):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
