/*
session.go - Cash session lifecycle

PURPOSE:
  Owns the CashSession state machine and gates every ledger write:

      Open() ──> OPEN ──Close()──> CLOSED (terminal)

INVARIANTS:
  1. At most one OPEN session per scope. Enforced by the store at insert time
     (unique index on OPEN sessions), never by a read-then-write check here.
  2. SequenceNumber is unique and monotonic per scope.
  3. Close happens once. closingBalance never changes afterwards.
  4. Sessions are never deleted.

CLOSE:
  expected = computeBalance(session)         (inside the session lock)
  closingBalance = override ?? expected
  If override != expected a DiscrepancyWarning is appended to the notes and
  logged. The close still goes through: a drawer that does not match the
  books is a business fact to record, not a reason to block the cashier.

RETRIES:
  Two concurrent opens on different processes can race for the same sequence
  number. The loser gets ErrConcurrentModification and Open retries with a
  short exponential backoff. Repeated attempts either succeed once or keep
  failing with ConflictError, so the retry is safe.

SEE ALSO:
  - reconciliation.go: computeBalance
  - store.go: CreateSession / CloseSession contracts
*/
package caixa

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

type SessionManager struct {
	store       TxStore
	now         func() time.Time
	newID       func() string
	openRetries uint64
	logger      *zap.Logger
}

func NewSessionManager(store TxStore, opts Options) *SessionManager {
	opts = opts.withDefaults()
	return &SessionManager{
		store:       store,
		now:         opts.Now,
		newID:       opts.NewID,
		openRetries: opts.OpenRetries,
		logger:      opts.Logger.Named("sessions"),
	}
}

// Open starts a new OPEN session for scope.
func (m *SessionManager) Open(ctx context.Context, scope Scope, openingBalance decimal.Decimal, operator, notes string) (Session, error) {
	if strings.TrimSpace(string(scope)) == "" {
		return Session{}, invalid("scope", "is required")
	}
	if strings.TrimSpace(operator) == "" {
		return Session{}, invalid("operator", "is required")
	}
	if err := validateBalance("opening_balance", openingBalance); err != nil {
		return Session{}, err
	}

	var created Session
	op := func() error {
		s := Session{
			ID:             SessionID(m.newID()),
			Scope:          scope,
			Status:         StatusOpen,
			OpenedAt:       m.now(),
			OpeningBalance: openingBalance,
			OpenedBy:       operator,
			Notes:          strings.TrimSpace(notes),
		}
		var err error
		created, err = m.store.CreateSession(ctx, s)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, m.openRetries), ctx))
	if err != nil {
		if errors.Is(err, ErrSessionAlreadyOpen) {
			conflict := &ConflictError{Scope: scope}
			if open, ferr := m.store.FindOpenSession(ctx, scope); ferr == nil {
				conflict.OpenSessionID = open.ID
			}
			m.logger.Info("open rejected: scope already has an open session",
				zap.String("scope", string(scope)),
				zap.String("open_session_id", string(conflict.OpenSessionID)))
			return Session{}, conflict
		}
		return Session{}, err
	}

	m.logger.Info("session opened",
		zap.String("session_id", string(created.ID)),
		zap.String("scope", string(scope)),
		zap.Int64("sequence_number", created.SequenceNumber),
		zap.String("opening_balance", openingBalance.StringFixed(2)),
		zap.String("operator", operator))
	return created, nil
}

// GetOpenSession returns the OPEN session of scope.
func (m *SessionManager) GetOpenSession(ctx context.Context, scope Scope) (Session, error) {
	s, err := m.store.FindOpenSession(ctx, scope)
	if errors.Is(err, ErrNotFound) {
		return Session{}, &NotFoundError{Resource: "open session", ID: string(scope)}
	}
	return s, err
}

// Get returns a session in any status.
func (m *SessionManager) Get(ctx context.Context, id SessionID) (Session, error) {
	s, err := m.store.GetSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Session{}, &NotFoundError{Resource: "session", ID: string(id)}
	}
	return s, err
}

// List returns session history, newest first.
func (m *SessionManager) List(ctx context.Context, q SessionQuery) ([]Session, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, invalid("status", "unknown status %q", q.Status)
	}
	if q.Offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	return m.store.ListSessions(ctx, q)
}

// Close performs the OPEN -> CLOSED transition. A nil override closes at the
// computed balance.
func (m *SessionManager) Close(ctx context.Context, id SessionID, operator string, override *decimal.Decimal) (Session, error) {
	if strings.TrimSpace(operator) == "" {
		return Session{}, invalid("operator", "is required")
	}
	if override != nil {
		if err := validateBalance("closing_balance", *override); err != nil {
			return Session{}, err
		}
	}

	var (
		closed  Session
		warning *DiscrepancyWarning
	)
	err := m.store.WithSessionLock(ctx, id, func(s Store) error {
		session, movs, err := loadSession(ctx, s, id)
		if err != nil {
			return err
		}
		if session.IsClosed() {
			return &AlreadyClosedError{SessionID: id, ClosedAt: session.ClosedAt}
		}

		expected := computeBalance(session, movs)
		closing := expected
		notes := session.Notes
		if override != nil {
			closing = *override
			if !override.Equal(expected) {
				warning = &DiscrepancyWarning{Expected: expected, Declared: *override}
				notes = appendNote(notes, warning.String())
			}
		}

		closed, err = s.CloseSession(ctx, id, Closure{
			ClosedAt:       m.now(),
			ClosingBalance: closing,
			ClosedBy:       operator,
			Notes:          notes,
		})
		switch {
		case errors.Is(err, ErrAlreadyClosed):
			return &AlreadyClosedError{SessionID: id}
		case errors.Is(err, ErrNotFound):
			return &NotFoundError{Resource: "session", ID: string(id)}
		}
		return err
	})
	if err != nil {
		return Session{}, err
	}

	if warning != nil {
		m.logger.Warn("session closed with discrepancy",
			zap.String("session_id", string(id)),
			zap.String("expected", warning.Expected.StringFixed(2)),
			zap.String("declared", warning.Declared.StringFixed(2)),
			zap.String("difference", warning.Difference().StringFixed(2)),
			zap.String("operator", operator))
	}
	m.logger.Info("session closed",
		zap.String("session_id", string(id)),
		zap.String("scope", string(closed.Scope)),
		zap.String("closing_balance", closed.ClosingBalance.Decimal.StringFixed(2)),
		zap.String("operator", operator))
	return closed, nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
