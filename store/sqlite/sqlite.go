/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements stock.ProductStore, inventory.Store and stock.AuditLog using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

OPTIMISTIC LOCKING:
  The product version check is a conditional UPDATE:

    UPDATE products SET ..., version = ? WHERE id = ? AND version = ?

  Zero rows affected means either the product vanished or the version
  moved; the store re-reads to tell the two apart and reports
  *stock.StaleVersionError with the actual version. This is the atomic
  compare-and-swap the ledger contract requires from any backend.

KEY TABLES:
  products:   Quantity/version pairs plus catalogue fields
  sessions:   Counting sessions; reconciliation record as JSON
  tasks:      One row per product per session
  audit_log:  Append-only mutation/transition trail

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions and the version-check contract
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/neobrain/inventory-engine/inventory"
	"github.com/neobrain/inventory-engine/stock"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY under concurrent writers;
	// the version check, not connection count, provides correctness.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		code TEXT UNIQUE,
		name TEXT NOT NULL,
		category TEXT,
		unit_price TEXT NOT NULL DEFAULT '0',
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		threshold INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		last_counted_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		number TEXT UNIQUE,
		state TEXT NOT NULL,
		description TEXT,
		supervisor TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		reconciled_at TEXT,
		reconciliation_json TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		product_id TEXT NOT NULL,
		personnel_id TEXT,
		theoretical INTEGER NOT NULL,
		snapshot_version INTEGER NOT NULL,
		snapshot_at TEXT NOT NULL,
		physical INTEGER,
		variance INTEGER,
		state TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 1,
		comment TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);

	-- One task per product per session
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_session_product
		ON tasks(session_id, product_id);

	-- Append-only audit trail
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		product_id TEXT,
		session_id TEXT,
		task_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_product ON audit_log(product_id);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

func (s *Store) CreateProduct(ctx context.Context, p stock.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, category, unit_price, quantity, threshold, version, last_counted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.Name, p.Category, p.UnitPrice.String(),
		p.Quantity, p.Threshold, p.Version,
		timePtr(p.LastCountedAt), fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (stock.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, category, unit_price, quantity, threshold, version, last_counted_at, created_at, updated_at
		FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

// UpdateProduct persists p only if the stored version still equals
// expectedVersion. The conditional UPDATE is the atomic compare-and-swap.
func (s *Store) UpdateProduct(ctx context.Context, p stock.Product, expectedVersion int64) (stock.Product, error) {
	p.Version = expectedVersion + 1
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET code = ?, name = ?, category = ?, unit_price = ?, quantity = ?,
		    threshold = ?, version = ?, last_counted_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Code, p.Name, p.Category, p.UnitPrice.String(), p.Quantity,
		p.Threshold, p.Version, timePtr(p.LastCountedAt), fmtTime(p.UpdatedAt),
		p.ID, expectedVersion,
	)
	if err != nil {
		return stock.Product{}, fmt.Errorf("update product: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return stock.Product{}, fmt.Errorf("update product: %w", err)
	}
	if rows == 0 {
		// Vanished or version moved - re-read to tell which.
		current, getErr := s.GetProduct(ctx, p.ID)
		if getErr != nil {
			return stock.Product{}, getErr
		}
		return stock.Product{}, &stock.StaleVersionError{
			ProductID: p.ID,
			Expected:  expectedVersion,
			Actual:    current.Version,
		}
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, category, unit_price, quantity, threshold, version, last_counted_at, created_at, updated_at
		FROM products ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []stock.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// SESSION/TASK STORE
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, sess inventory.Session) error {
	recordJSON, err := marshalRecord(sess.Reconciliation)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, number, state, description, supervisor, start_date, end_date, reconciled_at, reconciliation_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Number, sess.State, sess.Description, sess.Supervisor,
		fmtTime(sess.StartDate), timePtr(sess.EndDate), timePtr(sess.ReconciledAt),
		recordJSON, sess.Version, fmtTime(sess.CreatedAt), fmtTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id inventory.SessionID) (inventory.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, state, description, supervisor, start_date, end_date, reconciled_at, reconciliation_json, version, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// UpdateSession is a conditional write: it lands only when the stored
// version still equals expectedVersion, same shape as UpdateProduct.
func (s *Store) UpdateSession(ctx context.Context, sess inventory.Session, expectedVersion int64) (inventory.Session, error) {
	recordJSON, err := marshalRecord(sess.Reconciliation)
	if err != nil {
		return inventory.Session{}, err
	}
	sess.Version = expectedVersion + 1
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = ?, description = ?, supervisor = ?, end_date = ?,
		    reconciled_at = ?, reconciliation_json = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		sess.State, sess.Description, sess.Supervisor, timePtr(sess.EndDate),
		timePtr(sess.ReconciledAt), recordJSON, sess.Version, fmtTime(sess.UpdatedAt),
		sess.ID, expectedVersion,
	)
	if err != nil {
		return inventory.Session{}, fmt.Errorf("update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		current, getErr := s.GetSession(ctx, sess.ID)
		if getErr != nil {
			return inventory.Session{}, getErr
		}
		return inventory.Session{}, &stock.SessionConflictError{
			SessionID: string(sess.ID),
			Expected:  expectedVersion,
			Actual:    current.Version,
		}
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]inventory.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, state, description, supervisor, start_date, end_date, reconciled_at, reconciliation_json, version, created_at, updated_at
		FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []inventory.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, t inventory.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, product_id, personnel_id, theoretical, snapshot_version, snapshot_at, physical, variance, state, priority, comment, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ProductID, personnelPtr(t.PersonnelID),
		t.Theoretical, t.SnapshotVersion, fmtTime(t.SnapshotAt),
		intPtr(t.Physical), intPtr(t.Variance), t.State, t.Priority, t.Comment,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), timePtr(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id inventory.TaskID) (inventory.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, product_id, personnel_id, theoretical, snapshot_version, snapshot_at, physical, variance, state, priority, comment, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *Store) UpdateTask(ctx context.Context, t inventory.Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET personnel_id = ?, theoretical = ?, snapshot_version = ?, snapshot_at = ?,
		    physical = ?, variance = ?, state = ?, priority = ?, comment = ?,
		    updated_at = ?, completed_at = ?
		WHERE id = ?`,
		personnelPtr(t.PersonnelID), t.Theoretical, t.SnapshotVersion, fmtTime(t.SnapshotAt),
		intPtr(t.Physical), intPtr(t.Variance), t.State, t.Priority, t.Comment,
		fmtTime(t.UpdatedAt), timePtr(t.CompletedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return stock.ErrTaskNotFound
	}
	return nil
}

func (s *Store) TasksBySession(ctx context.Context, id inventory.SessionID) ([]inventory.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, product_id, personnel_id, theoretical, snapshot_version, snapshot_at, physical, variance, state, priority, comment, created_at, updated_at, completed_at
		FROM tasks WHERE session_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []inventory.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, entry stock.AuditEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, product_id, session_id, task_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, fmtTime(entry.Timestamp), entry.ActorID, entry.Action,
		entry.ProductID, entry.SessionID, entry.TaskID, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter stock.AuditFilter) ([]stock.AuditEntry, error) {
	query := `SELECT id, ts, actor_id, action, product_id, session_id, task_id, payload_json FROM audit_log WHERE 1=1`
	var args []any
	if filter.ProductID != nil {
		query += " AND product_id = ?"
		args = append(args, *filter.ProductID)
	}
	if filter.SessionID != nil {
		query += " AND session_id = ?"
		args = append(args, *filter.SessionID)
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if filter.From != nil {
		query += " AND ts >= ?"
		args = append(args, fmtTime(*filter.From))
	}
	if filter.To != nil {
		query += " AND ts <= ?"
		args = append(args, fmtTime(*filter.To))
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN ("
		for i, a := range filter.Actions {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, a)
		}
		query += ")"
	}
	query += " ORDER BY ts"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []stock.AuditEntry
	for rows.Next() {
		var e stock.AuditEntry
		var ts, payloadJSON string
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.ProductID, &e.SessionID, &e.TaskID, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if payloadJSON != "" && payloadJSON != "null" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal audit payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (stock.Product, error) {
	var p stock.Product
	var unitPrice, createdAt, updatedAt string
	var lastCounted sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &unitPrice,
		&p.Quantity, &p.Threshold, &p.Version, &lastCounted, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return stock.Product{}, stock.ErrProductNotFound
	}
	if err != nil {
		return stock.Product{}, fmt.Errorf("scan product: %w", err)
	}

	p.UnitPrice, err = decimal.NewFromString(unitPrice)
	if err != nil {
		return stock.Product{}, fmt.Errorf("parse unit price: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	p.LastCountedAt = parseNullTime(lastCounted)
	return p, nil
}

func scanSession(row rowScanner) (inventory.Session, error) {
	var sess inventory.Session
	var startDate, createdAt, updatedAt string
	var endDate, reconciledAt, recordJSON sql.NullString
	err := row.Scan(&sess.ID, &sess.Number, &sess.State, &sess.Description, &sess.Supervisor,
		&startDate, &endDate, &reconciledAt, &recordJSON, &sess.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Session{}, stock.ErrSessionNotFound
	}
	if err != nil {
		return inventory.Session{}, fmt.Errorf("scan session: %w", err)
	}

	sess.StartDate, _ = time.Parse(time.RFC3339Nano, startDate)
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	sess.EndDate = parseNullTime(endDate)
	sess.ReconciledAt = parseNullTime(reconciledAt)
	if recordJSON.Valid && recordJSON.String != "" {
		var record inventory.ReconciliationRecord
		if err := json.Unmarshal([]byte(recordJSON.String), &record); err != nil {
			return inventory.Session{}, fmt.Errorf("unmarshal reconciliation record: %w", err)
		}
		sess.Reconciliation = &record
	}
	return sess, nil
}

func scanTask(row rowScanner) (inventory.Task, error) {
	var t inventory.Task
	var snapshotAt, createdAt, updatedAt string
	var personnel, completedAt sql.NullString
	var physical, variance sql.NullInt64
	err := row.Scan(&t.ID, &t.SessionID, &t.ProductID, &personnel,
		&t.Theoretical, &t.SnapshotVersion, &snapshotAt,
		&physical, &variance, &t.State, &t.Priority, &t.Comment,
		&createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Task{}, stock.ErrTaskNotFound
	}
	if err != nil {
		return inventory.Task{}, fmt.Errorf("scan task: %w", err)
	}

	if personnel.Valid {
		pid := stock.PersonnelID(personnel.String)
		t.PersonnelID = &pid
	}
	if physical.Valid {
		v := int(physical.Int64)
		t.Physical = &v
	}
	if variance.Valid {
		v := int(variance.Int64)
		t.Variance = &v
	}
	t.SnapshotAt, _ = time.Parse(time.RFC3339Nano, snapshotAt)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	t.CompletedAt = parseNullTime(completedAt)
	return t, nil
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func personnelPtr(p *stock.PersonnelID) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func intPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalRecord(r *inventory.ReconciliationRecord) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal reconciliation record: %w", err)
	}
	return string(b), nil
}
