/*
store.go - Persistence interface for sessions and movements

PURPOSE:
  Defines the boundary between ledger rules and the database. The invariants
  that involve races (one OPEN session per scope, monotonic sequences, no
  append after close) are enforced HERE, atomically, not by read-then-write
  checks in application code.

KEY INTERFACES:
  Store:   Reads plus the few atomic writes the lifecycle needs
  TxStore: Store + a per-session critical section for read-check-write flows

APPEND-ONLY CONTRACT:
  - Sessions: CreateSession inserts, CloseSession performs the one allowed
    transition (conditional on status = OPEN). No delete.
  - Movements: AppendMovement inserts. No update, no delete. Ever.

ATOMIC WRITES:
  CreateSession  fails with ErrSessionAlreadyOpen if the scope has an OPEN
                 session (unique index / in-transaction check) and assigns the
                 next SequenceNumber for the scope.
  AppendMovement fails with ErrSessionClosed unless the owning session is OPEN
                 at the moment of insert, and assigns the next Sequence.
  CloseSession   fails with ErrAlreadyClosed unless the session is OPEN.

IMPLEMENTATIONS:
  - caixa/store/memory.go: In-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite (database/sql + go-sqlite3)
  - store/postgres/postgres.go: PostgreSQL (pgxpool)

SEE ALSO:
  - movements.go: Uses WithSessionLock for append/sangria/reverse
  - session.go: Uses WithSessionLock for close
*/
package caixa

import "context"

// =============================================================================
// STORE - Interface for session and movement persistence
// =============================================================================

// Store handles persistence of sessions and movements.
// Movements are APPEND-ONLY. Sessions transition once.
type Store interface {
	// CreateSession persists a new OPEN session and returns it with its
	// SequenceNumber assigned. Returns ErrSessionAlreadyOpen when the scope
	// already has an OPEN session, ErrConcurrentModification on a sequence race.
	CreateSession(ctx context.Context, s Session) (Session, error)

	// GetSession returns ErrNotFound if the session does not exist.
	GetSession(ctx context.Context, id SessionID) (Session, error)

	// FindOpenSession returns the OPEN session for scope or ErrNotFound.
	FindOpenSession(ctx context.Context, scope Scope) (Session, error)

	// ListSessions returns sessions matching q, newest first.
	ListSessions(ctx context.Context, q SessionQuery) ([]Session, error)

	// CloseSession applies c to an OPEN session. Returns ErrNotFound or
	// ErrAlreadyClosed.
	CloseSession(ctx context.Context, id SessionID, c Closure) (Session, error)

	// AppendMovement persists m with its Sequence assigned. Returns ErrNotFound
	// or ErrSessionClosed. This is the ONLY movement write.
	AppendMovement(ctx context.Context, m Movement) (Movement, error)

	// LoadMovements returns every movement of a session in insertion order.
	LoadMovements(ctx context.Context, id SessionID) ([]Movement, error)

	// GetMovement returns ErrNotFound if the movement does not exist.
	GetMovement(ctx context.Context, id MovementID) (Movement, error)

	// IsMovementReversed reports whether a compensating movement exists for id.
	IsMovementReversed(ctx context.Context, id MovementID) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For read-check-write flows on one session
// =============================================================================

// TxStore wraps Store with a per-session critical section.
type TxStore interface {
	Store

	// WithSessionLock executes fn in a transaction that holds the write lock
	// of the given session. Concurrent callers for the same session are
	// serialized. If fn returns an error the transaction is rolled back and
	// nothing fn wrote survives.
	WithSessionLock(ctx context.Context, id SessionID, fn func(Store) error) error
}
