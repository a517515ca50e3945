/*
Package postgres provides a PostgreSQL-backed implementation of caixa.TxStore.

PURPOSE:
  The store for deployments where several API processes share one database.
  Same tables and invariants as store/sqlite, with row-level locking instead
  of a database-wide write lock.

LOCKING:
  WithSessionLock opens a transaction and takes
      SELECT ... FROM cash_sessions WHERE id = $1 FOR UPDATE
  Every balance-dependent write (sangria, reversal, close) and every append
  goes through that lock, so two terminals on the same session are serialized
  while different sessions proceed in parallel.

CONSTRAINT MAPPING (SQLSTATE 23505):
  cash_sessions_one_open          -> caixa.ErrSessionAlreadyOpen
  cash_sessions_scope_sequence_key -> caixa.ErrConcurrentModification
  movements_session_sequence_key  -> caixa.ErrConcurrentModification
  movements_reversal_of_key       -> caixa.ErrConcurrentModification

VALUE ENCODING:
  Amounts are NUMERIC(14,2), sent and read as text so no float ever touches
  money. Times are TIMESTAMPTZ.

SEE ALSO:
  - store/sqlite/sqlite.go: Single-file deployments
  - caixa/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/caixa-engine/caixa"
)

// Config holds the pool settings.
type Config struct {
	URL      string
	MaxConns int32

	// ConnectTimeout bounds the retries of the initial ping.
	ConnectTimeout time.Duration

	Logger *zap.Logger
}

// Store implements caixa.TxStore on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	conn
}

var _ caixa.TxStore = (*Store)(nil)

// Open connects, pings with exponential backoff and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	ping := func() error {
		err := pool.Ping(ctx)
		if err != nil {
			logger.Warn("database not ready, retrying", zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	store := New(pool, logger)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))
	return store, nil
}

// New wraps an existing pool. The schema is not touched.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger.Named("postgres"), conn: conn{q: pool}}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates tables, indexes and append-only triggers if missing.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cash_sessions (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		sequence_number BIGINT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
		opened_at TIMESTAMPTZ NOT NULL,
		opening_balance NUMERIC(14,2) NOT NULL CHECK (opening_balance >= 0),
		opened_by TEXT NOT NULL,
		closed_at TIMESTAMPTZ,
		closing_balance NUMERIC(14,2),
		closed_by TEXT,
		notes TEXT NOT NULL DEFAULT '',
		CONSTRAINT cash_sessions_scope_sequence_key UNIQUE (scope, sequence_number)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS cash_sessions_one_open
		ON cash_sessions(scope) WHERE status = 'OPEN';

	CREATE INDEX IF NOT EXISTS cash_sessions_opened_at_idx
		ON cash_sessions(opened_at DESC);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES cash_sessions(id),
		sequence BIGINT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('ENTRY', 'EXIT')),
		category TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		description TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		performed_by TEXT NOT NULL,
		reversal_of TEXT REFERENCES movements(id),
		CONSTRAINT movements_session_sequence_key UNIQUE (session_id, sequence)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS movements_reversal_of_key
		ON movements(reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE OR REPLACE FUNCTION caixa_reject_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '% on % is not allowed', TG_OP, TG_TABLE_NAME;
	END;
	$$ LANGUAGE plpgsql;

	CREATE OR REPLACE TRIGGER movements_append_only
		BEFORE UPDATE OR DELETE ON movements
		FOR EACH ROW EXECUTE FUNCTION caixa_reject_mutation();

	CREATE OR REPLACE TRIGGER cash_sessions_no_delete
		BEFORE DELETE ON cash_sessions
		FOR EACH ROW EXECUTE FUNCTION caixa_reject_mutation();

	CREATE OR REPLACE TRIGGER cash_sessions_closed_immutable
		BEFORE UPDATE ON cash_sessions
		FOR EACH ROW WHEN (OLD.status = 'CLOSED')
		EXECUTE FUNCTION caixa_reject_mutation();
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return err
	}
	s.logger.Debug("schema migrated")
	return nil
}

// =============================================================================
// ATOMIC WRITES
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

// WithSessionLock runs fn in a transaction holding the session row lock. A
// missing session is not an error here; fn observes ErrNotFound itself.
func (s *Store) WithSessionLock(ctx context.Context, id caixa.SessionID, fn func(caixa.Store) error) error {
	return s.inTx(ctx, func(c conn) error {
		var one int
		err := c.q.QueryRow(ctx,
			`SELECT 1 FROM cash_sessions WHERE id = $1 FOR UPDATE`, string(id)).Scan(&one)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		return fn(c)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(conn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(conn{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// CONN - caixa.Store over a pool or a transaction
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q querier
}

const sessionColumns = `id, scope, sequence_number, status, opened_at, opening_balance::text,
	opened_by, closed_at, closing_balance::text, closed_by, notes`

const movementColumns = `id, session_id, sequence, kind, category, payment_method,
	amount::text, description, occurred_at, performed_by, reversal_of`

func (c conn) CreateSession(ctx context.Context, s caixa.Session) (caixa.Session, error) {
	var last int64
	err := c.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM cash_sessions WHERE scope = $1`,
		string(s.Scope)).Scan(&last)
	if err != nil {
		return caixa.Session{}, fmt.Errorf("failed to read sequence: %w", err)
	}

	s.SequenceNumber = last + 1
	s.Status = caixa.StatusOpen
	s.ClosedAt = nil
	s.ClosingBalance = decimal.NullDecimal{}
	s.ClosedBy = ""

	_, err = c.q.Exec(ctx, `
		INSERT INTO cash_sessions (id, scope, sequence_number, status, opened_at,
			opening_balance, opened_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`,
		string(s.ID), string(s.Scope), s.SequenceNumber, string(s.Status),
		s.OpenedAt, s.OpeningBalance.String(), s.OpenedBy, s.Notes,
	)
	if err != nil {
		return caixa.Session{}, mapWriteErr(err, "failed to insert session")
	}
	return s, nil
}

func (c conn) GetSession(ctx context.Context, id caixa.SessionID) (caixa.Session, error) {
	row := c.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, string(id))
	return scanSession(row)
}

func (c conn) FindOpenSession(ctx context.Context, scope caixa.Scope) (caixa.Session, error) {
	row := c.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM cash_sessions WHERE scope = $1 AND status = 'OPEN'`,
		string(scope))
	return scanSession(row)
}

func (c conn) ListSessions(ctx context.Context, q caixa.SessionQuery) ([]caixa.Session, error) {
	var (
		where []string
		args  []any
	)
	if q.Scope != "" {
		args = append(args, string(q.Scope))
		where = append(where, fmt.Sprintf("scope = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + sessionColumns + ` FROM cash_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY opened_at DESC, sequence_number DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := c.q.Query(ctx, query, args...)
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
	tag, err := c.q.Exec(ctx, `
		UPDATE cash_sessions
		SET status = 'CLOSED', closed_at = $1, closing_balance = $2::numeric, closed_by = $3, notes = $4
		WHERE id = $5 AND status = 'OPEN'`,
		cl.ClosedAt, cl.ClosingBalance.String(), cl.ClosedBy, cl.Notes, string(id),
	)
	if err != nil {
		return caixa.Session{}, mapWriteErr(err, "failed to close session")
	}
	if tag.RowsAffected() == 0 {
		if _, err := c.GetSession(ctx, id); err != nil {
			return caixa.Session{}, err
		}
		return caixa.Session{}, caixa.ErrAlreadyClosed
	}
	return c.GetSession(ctx, id)
}

func (c conn) AppendMovement(ctx context.Context, m caixa.Movement) (caixa.Movement, error) {
	var status string
	err := c.q.QueryRow(ctx,
		`SELECT status FROM cash_sessions WHERE id = $1 FOR UPDATE`, string(m.SessionID)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return caixa.Movement{}, caixa.ErrNotFound
	}
	if err != nil {
		return caixa.Movement{}, fmt.Errorf("failed to read session status: %w", err)
	}
	if caixa.SessionStatus(status) != caixa.StatusOpen {
		return caixa.Movement{}, caixa.ErrSessionClosed
	}

	err = c.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM movements WHERE session_id = $1`,
		string(m.SessionID)).Scan(&m.Sequence)
	if err != nil {
		return caixa.Movement{}, fmt.Errorf("failed to read sequence: %w", err)
	}

	var reversalOf *string
	if m.ReversalOf != nil {
		ref := string(*m.ReversalOf)
		reversalOf = &ref
	}
	_, err = c.q.Exec(ctx, `
		INSERT INTO movements (id, session_id, sequence, kind, category, payment_method,
			amount, description, occurred_at, performed_by, reversal_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)`,
		string(m.ID), string(m.SessionID), m.Sequence, string(m.Kind), string(m.Category),
		string(m.PaymentMethod), m.Amount.String(), m.Description, m.OccurredAt,
		m.PerformedBy, reversalOf,
	)
	if err != nil {
		return caixa.Movement{}, mapWriteErr(err, "failed to insert movement")
	}
	return m, nil
}

func (c conn) LoadMovements(ctx context.Context, id caixa.SessionID) ([]caixa.Movement, error) {
	rows, err := c.q.Query(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE session_id = $1 ORDER BY sequence`,
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
	row := c.q.QueryRow(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE id = $1`, string(id))
	return scanMovement(row)
}

func (c conn) IsMovementReversed(ctx context.Context, id caixa.MovementID) (bool, error) {
	var exists bool
	err := c.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM movements WHERE reversal_of = $1)`, string(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reversal: %w", err)
	}
	return exists, nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanSession(row pgx.Row) (caixa.Session, error) {
	var (
		s                 caixa.Session
		id, scope, status string
		opening           string
		closing, closedBy *string
		closedAt          *time.Time
	)
	err := row.Scan(&id, &scope, &s.SequenceNumber, &status, &s.OpenedAt, &opening,
		&s.OpenedBy, &closedAt, &closing, &closedBy, &s.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return caixa.Session{}, caixa.ErrNotFound
	}
	if err != nil {
		return caixa.Session{}, fmt.Errorf("failed to scan session: %w", err)
	}

	s.ID = caixa.SessionID(id)
	s.Scope = caixa.Scope(scope)
	s.Status = caixa.SessionStatus(status)
	s.OpenedAt = s.OpenedAt.UTC()
	if s.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return caixa.Session{}, fmt.Errorf("failed to parse opening balance: %w", err)
	}
	if closedAt != nil {
		t := closedAt.UTC()
		s.ClosedAt = &t
	}
	if closing != nil {
		d, err := decimal.NewFromString(*closing)
		if err != nil {
			return caixa.Session{}, fmt.Errorf("failed to parse closing balance: %w", err)
		}
		s.ClosingBalance = decimal.NewNullDecimal(d)
	}
	if closedBy != nil {
		s.ClosedBy = *closedBy
	}
	return s, nil
}

func scanMovement(row pgx.Row) (caixa.Movement, error) {
	var (
		m                                     caixa.Movement
		id, sessionID, kind, category, method string
		amount                                string
		reversalOf                            *string
	)
	err := row.Scan(&id, &sessionID, &m.Sequence, &kind, &category, &method,
		&amount, &m.Description, &m.OccurredAt, &m.PerformedBy, &reversalOf)
	if errors.Is(err, pgx.ErrNoRows) {
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
	m.OccurredAt = m.OccurredAt.UTC()
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return caixa.Movement{}, fmt.Errorf("failed to parse amount: %w", err)
	}
	if reversalOf != nil {
		ref := caixa.MovementID(*reversalOf)
		m.ReversalOf = &ref
	}
	return m, nil
}

// mapWriteErr translates unique violations into ledger sentinels and
// numeric overflow into a validation error.
func mapWriteErr(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22003" {
		return &caixa.ValidationError{Field: "amount", Message: "exceeds " + caixa.MaxAmount.StringFixed(2)}
	}
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "cash_sessions_one_open":
			return caixa.ErrSessionAlreadyOpen
		case "cash_sessions_scope_sequence_key",
			"movements_session_sequence_key",
			"movements_reversal_of_key":
			return caixa.ErrConcurrentModification
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
