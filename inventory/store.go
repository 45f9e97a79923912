/*
store.go - Persistence interface for sessions and tasks

PURPOSE:
  The session/task boundary consumed by the Manager and the reconciliation
  engine. Backed by SQLite in production and an in-memory map in tests;
  the core is agnostic provided updates are whole-record and a session's
  tasks can be listed together.

SEE ALSO:
  - inventory/store/memory.go: In-memory implementation
  - store/sqlite: SQLite implementation
*/
package inventory

import "context"

// Store persists sessions and their tasks.
type Store interface {
	CreateSession(ctx context.Context, s Session) error

	// GetSession returns ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id SessionID) (Session, error)

	// UpdateSession writes s only when the stored version still equals
	// expectedVersion, and persists it with the version bumped. A
	// mismatch returns *stock.SessionConflictError (matches
	// stock.ErrStaleVersion); the winning write is returned so callers
	// keep working from the stored state.
	UpdateSession(ctx context.Context, s Session, expectedVersion int64) (Session, error)

	ListSessions(ctx context.Context) ([]Session, error)

	CreateTask(ctx context.Context, t Task) error

	// GetTask returns ErrTaskNotFound for unknown ids.
	GetTask(ctx context.Context, id TaskID) (Task, error)

	UpdateTask(ctx context.Context, t Task) error

	// TasksBySession returns all tasks owned by a session.
	TasksBySession(ctx context.Context, id SessionID) ([]Task, error)
}
