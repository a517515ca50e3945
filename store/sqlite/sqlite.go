/*
Package sqlite provides a SQLite-backed implementation of caixa.TxStore.

PURPOSE:
  Persists cash sessions and their movement log in a single SQLite file. The
  PostgreSQL store follows the same schema; only the locking differs.

APPEND-ONLY ENFORCEMENT:
  Enforced twice. The Go code never issues UPDATE or DELETE on movements, and
  the schema installs triggers that abort any such statement:
  - movements_no_update / movements_no_delete
  - cash_sessions_no_delete
  - cash_sessions_closed_immutable (no UPDATE once status = 'CLOSED')

KEY TABLES:
  cash_sessions: one row per session, transitioned once by CloseSession
  movements:     immutable monetary events, FK to cash_sessions

CRITICAL INDEXES:
  - idx_cash_sessions_one_open: UNIQUE(scope) WHERE status = 'OPEN'
    Makes "one open session per scope" a database invariant.
  - UNIQUE(scope, sequence_number) / UNIQUE(session_id, sequence)
  - idx_movements_reversal: UNIQUE(reversal_of), a movement is reversed once

CONCURRENCY:
  The connection is opened with _txlock=immediate, so every transaction takes
  SQLite's write lock at BEGIN. WithSessionLock therefore serializes all
  writers of the database, which is a superset of per-session serialization.
  The pool is capped at one connection so ":memory:" databases are shared.

VALUE ENCODING:
  Amounts: TEXT via decimal.Decimal (exact, no float)
  Times:   TEXT, UTC, fixed-width layout so lexical order is chronological

USAGE:
  store, err := sqlite.New("./data/caixa.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := caixa.New(store, caixa.Options{})

SEE ALSO:
  - caixa/store.go: Interface definitions
  - caixa/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: Multi-process deployments
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/caixa-engine/caixa"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements caixa.TxStore using SQLite.
type Store struct {
	db *sql.DB
	conn
}

var _ caixa.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, conn: conn{q: db}}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cash_sessions (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
		opened_at TEXT NOT NULL,
		opening_balance TEXT NOT NULL,
		opened_by TEXT NOT NULL,
		closed_at TEXT,
		closing_balance TEXT,
		closed_by TEXT,
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE (scope, sequence_number)
	);

	-- CRITICAL: at most one OPEN session per scope
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_sessions_one_open
		ON cash_sessions(scope) WHERE status = 'OPEN';

	CREATE INDEX IF NOT EXISTS idx_cash_sessions_opened_at
		ON cash_sessions(opened_at DESC);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES cash_sessions(id),
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('ENTRY', 'EXIT')),
		category TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		performed_by TEXT NOT NULL,
		reversal_of TEXT REFERENCES movements(id),
		UNIQUE (session_id, sequence)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_reversal
		ON movements(reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS movements_no_update
		BEFORE UPDATE ON movements
		BEGIN SELECT RAISE(ABORT, 'movements are append-only'); END;

	CREATE TRIGGER IF NOT EXISTS movements_no_delete
		BEFORE DELETE ON movements
		BEGIN SELECT RAISE(ABORT, 'movements are append-only'); END;

	CREATE TRIGGER IF NOT EXISTS cash_sessions_no_delete
		BEFORE DELETE ON cash_sessions
		BEGIN SELECT RAISE(ABORT, 'cash sessions are never deleted'); END;

	CREATE TRIGGER IF NOT EXISTS cash_sessions_closed_immutable
		BEFORE UPDATE ON cash_sessions WHEN OLD.status = 'CLOSED'
		BEGIN SELECT RAISE(ABORT, 'closed sessions are immutable'); END;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// ATOMIC WRITES - multi-statement writes run in their own transaction
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, sess caixa.Session) (caixa.Session, error) {
	var out caixa.Session
	err := s.inTx(ctx, func(c conn) error {
		var err error
		out, err = c.CreateSession(ctx, sess)
		return err
	})
	return out, err
}

func (s *Store) CloseSession(ctx context.Context, id caixa.SessionID, cl caixa.Closure) (caixa.Session, error) {
	var out caixa.Session
	err := s.inTx(ctx, func(c conn) error {
		var err error
		out, err = c.CloseSession(ctx, id, cl)
		return err
	})
	return out, err
}

func (s *Store) AppendMovement(ctx context.Context, m caixa.Movement) (caixa.Movement, error) {
	var out caixa.Movement
	err := s.inTx(ctx, func(c conn) error {
		var err error
		out, err = c.AppendMovement(ctx, m)
		return err
	})
	return out, err
}

// WithSessionLock executes fn within a write transaction. The id is not
// needed: BEGIN IMMEDIATE already excludes every other writer.
func (s *Store) WithSessionLock(ctx context.Context, _ caixa.SessionID, fn func(caixa.Store) error) error {
	return s.inTx(ctx, func(c conn) error { return fn(c) })
}

func (s *Store) inTx(ctx context.Context, fn func(conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(conn{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// CONN - caixa.Store over a *sql.DB or a *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs every statement on q. Inside a transaction q is the *sql.Tx, so
// reads see the transaction's own writes and never wait on the pool.
type conn struct {
	q querier
}

const sessionColumns = `id, scope, sequence_number, status, opened_at, opening_balance,
	opened_by, closed_at, closing_balance, closed_by, notes`

const movementColumns = `id, session_id, sequence, kind, category, payment_method,
	amount, description, occurred_at, performed_by, reversal_of`

func (c conn) CreateSession(ctx context.Context, s caixa.Session) (caixa.Session, error) {
	var last int64
	err := c.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM cash_sessions WHERE scope = ?`,
		string(s.Scope)).Scan(&last)
	if err != nil {
		return caixa.Session{}, fmt.Errorf("failed to read sequence: %w", err)
	}

	s.SequenceNumber = last + 1
	s.Status = caixa.StatusOpen
	s.ClosedAt = nil
	s.ClosingBalance = decimal.NullDecimal{}
	s.ClosedBy = ""

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, scope, sequence_number, status, opened_at,
			opening_balance, opened_by, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.ID), string(s.Scope), s.SequenceNumber, string(s.Status),
		formatTime(s.OpenedAt), s.OpeningBalance, s.OpenedBy, s.Notes,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "sequence_number") {
				return caixa.Session{}, caixa.ErrConcurrentModification
			}
			return caixa.Session{}, caixa.ErrSessionAlreadyOpen
		}
		return caixa.Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return s, nil
}

func (c conn) GetSession(ctx context.Context, id caixa.SessionID) (caixa.Session, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM cash_sessions WHERE id = ?`, string(id))
	return scanSession(row)
}

func (c conn) FindOpenSession(ctx context.Context, scope caixa.Scope) (caixa.Session, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM cash_sessions WHERE scope = ? AND status = 'OPEN'`,
		string(scope))
	return scanSession(row)
}

func (c conn) ListSessions(ctx context.Context, q caixa.SessionQuery) ([]caixa.Session, error) {
	var (
		where []string
		args  []any
	)
	if q.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, string(q.Scope))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}

	query := `SELECT ` + sessionColumns + ` FROM cash_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := -1 // SQLite: negative LIMIT means none
	if q.Limit > 0 {
		limit = q.Limit
	}
	query += " ORDER BY opened_at DESC, sequence_number DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]caixa.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c conn) CloseSession(ctx context.Context, id caixa.SessionID, cl caixa.Closure) (caixa.Session, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = 'CLOSED', closed_at = ?, closing_balance = ?, closed_by = ?, notes = ?
		WHERE id = ? AND status = 'OPEN'`,
		formatTime(cl.ClosedAt), cl.ClosingBalance, cl.ClosedBy, cl.Notes, string(id),
	)
	if err != nil {
		return caixa.Session{}, fmt.Errorf("failed to close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return caixa.Session{}, err
	}
	if n == 0 {
		// Either missing or already closed; GetSession tells which.
		if _, err := c.GetSession(ctx, id); err != nil {
			return caixa.Session{}, err
		}
		return caixa.Session{}, caixa.ErrAlreadyClosed
	}
	return c.GetSession(ctx, id)
}

func (c conn) AppendMovement(ctx context.Context, m caixa.Movement) (caixa.Movement, error) {
	var status string
	err := c.q.QueryRowContext(ctx,
		`SELECT status FROM cash_sessions WHERE id = ?`, string(m.SessionID)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return caixa.Movement{}, caixa.ErrNotFound
	}
	if err != nil {
		return caixa.Movement{}, fmt.Errorf("failed to read session status: %w", err)
	}
	if caixa.SessionStatus(status) != caixa.StatusOpen {
		return caixa.Movement{}, caixa.ErrSessionClosed
	}

	var last int64
	err = c.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM movements WHERE session_id = ?`,
		string(m.SessionID)).Scan(&last)
	if err != nil {
		return caixa.Movement{}, fmt.Errorf("failed to read sequence: %w", err)
	}
	m.Sequence = last + 1

	var reversalOf sql.NullString
	if m.ReversalOf != nil {
		reversalOf = sql.NullString{String: string(*m.ReversalOf), Valid: true}
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.ID), string(m.SessionID), m.Sequence, string(m.Kind), string(m.Category),
		string(m.PaymentMethod), m.Amount, m.Description, formatTime(m.OccurredAt),
		m.PerformedBy, reversalOf,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return caixa.Movement{}, caixa.ErrConcurrentModification
		}
		return caixa.Movement{}, fmt.Errorf("failed to insert movement: %w", err)
	}
	return m, nil
}

func (c conn) LoadMovements(ctx context.Context, id caixa.SessionID) ([]caixa.Movement, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE session_id = ? ORDER BY sequence`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load movements: %w", err)
	}
	defer rows.Close()

	out := make([]caixa.Movement, 0)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c conn) GetMovement(ctx context.Context, id caixa.MovementID) (caixa.Movement, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE id = ?`, string(id))
	return scanMovement(row)
}

func (c conn) IsMovementReversed(ctx context.Context, id caixa.MovementID) (bool, error) {
	var exists bool
	err := c.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM movements WHERE reversal_of = ?)`, string(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reversal: %w", err)
	}
	return exists, nil
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (caixa.Session, error) {
	var (
		s                           caixa.Session
		id, scope, status, openedAt string
		closedAt, closedBy          sql.NullString
	)
	err := row.Scan(&id, &scope, &s.SequenceNumber, &status, &openedAt, &s.OpeningBalance,
		&s.OpenedBy, &closedAt, &s.ClosingBalance, &closedBy, &s.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return caixa.Session{}, caixa.ErrNotFound
	}
	if err != nil {
		return caixa.Session{}, fmt.Errorf("failed to scan session: %w", err)
	}

	s.ID = caixa.SessionID(id)
	s.Scope = caixa.Scope(scope)
	s.Status = caixa.SessionStatus(status)
	s.ClosedBy = closedBy.String
	if s.OpenedAt, err = parseTime(openedAt); err != nil {
		return caixa.Session{}, err
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return caixa.Session{}, err
		}
		s.ClosedAt = &t
	}
	return s, nil
}

func scanMovement(row scanner) (caixa.Movement, error) {
	var (
		m                                     caixa.Movement
		id, sessionID, kind, category, method string
		occurredAt                            string
		reversalOf                            sql.NullString
	)
	err := row.Scan(&id, &sessionID, &m.Sequence, &kind, &category, &method,
		&m.Amount, &m.Description, &occurredAt, &m.PerformedBy, &reversalOf)
	if errors.Is(err, sql.ErrNoRows) {
		return caixa.Movement{}, caixa.ErrNotFound
	}
	if err != nil {
		return caixa.Movement{}, fmt.Errorf("failed to scan movement: %w", err)
	}

	m.ID = caixa.MovementID(id)
	m.SessionID = caixa.SessionID(sessionID)
	m.Kind = caixa.Kind(kind)
	m.Category = caixa.Category(category)
	m.PaymentMethod = caixa.PaymentMethod(method)
	if m.OccurredAt, err = parseTime(occurredAt); err != nil {
		return caixa.Movement{}, err
	}
	if reversalOf.Valid {
		ref := caixa.MovementID(reversalOf.String)
		m.ReversalOf = &ref
	}
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", v, err)
	}
	return t, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
