/*
movements.go - Append-only movement log

PURPOSE:
  The MovementLedger is the immutable source of truth for every change to a
  session's balance. Balance is always computed by summing movements; there is
  no separate counter that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. OPEN ONLY: A movement is accepted only while its session is OPEN. The
     status check happens inside the store transaction that inserts the row.
  3. ORDERED: Sequence is assigned by the store, monotonic per session.

CORRECTIONS:
  A wrong entry is never edited. Reverse() appends a compensating movement of
  the opposite kind (category ESTORNO) pointing at the original. Both stay in
  the log; the net effect is the correction.

  Example:
    1. ENTRY  MENSALIDADE PIX 150.00   (should have been 100.00)
    2. EXIT   ESTORNO     PIX 150.00   reversal of #1
    3. ENTRY  MENSALIDADE PIX 100.00
    net PIX = +100.00, full history preserved

CONCURRENCY:
  Plain appends from several terminals are independent inserts. Only appends
  that must read the balance first (SANGRIA, reversal of a cash ENTRY) need
  the read and the write in one locked transaction; commit() always takes the
  session lock so every path shares one code route.

SEE ALSO:
  - guard.go: Sangria / Suprimento / ValidateDraft
  - store.go: AppendMovement contract
*/
package caixa

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// MOVEMENT LEDGER
// =============================================================================

type MovementLedger struct {
	store  TxStore
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

func NewMovementLedger(store TxStore, opts Options) *MovementLedger {
	opts = opts.withDefaults()
	return &MovementLedger{
		store:  store,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger.Named("ledger"),
	}
}

// Append records a regular entry or exit. A SANGRIA draft is held to the
// same balance-sufficiency rule as ValidationGuard.Sangria.
func (l *MovementLedger) Append(ctx context.Context, d MovementDraft) (Movement, error) {
	if err := ValidateDraft(d); err != nil {
		return Movement{}, err
	}
	return l.commit(ctx, d, d.Category == CategorySangria)
}

// List returns the session's movements in insertion order. The window only
// trims what is returned for display.
func (l *MovementLedger) List(ctx context.Context, id SessionID, w Window) ([]Movement, error) {
	if _, err := l.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "session", ID: string(id)}
		}
		return nil, err
	}
	movs, err := l.store.LoadMovements(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.Apply(movs), nil
}

// Reverse appends a compensating movement for movementID. The original stays
// untouched.
func (l *MovementLedger) Reverse(ctx context.Context, id SessionID, movementID MovementID, reason, operator string) (Movement, error) {
	if err := validateReason(reason); err != nil {
		return Movement{}, err
	}
	if strings.TrimSpace(operator) == "" {
		return Movement{}, invalid("operator", "is required")
	}

	var out Movement
	err := l.store.WithSessionLock(ctx, id, func(s Store) error {
		session, movs, err := loadSession(ctx, s, id)
		if err != nil {
			return err
		}
		if session.IsClosed() {
			return &SessionClosedError{SessionID: id}
		}

		orig, err := s.GetMovement(ctx, movementID)
		if errors.Is(err, ErrNotFound) || (err == nil && orig.SessionID != id) {
			return &NotFoundError{Resource: "movement", ID: string(movementID)}
		}
		if err != nil {
			return err
		}
		if orig.ReversalOf != nil {
			return invalid("movement_id", "a reversal cannot be reversed")
		}
		reversed, err := s.IsMovementReversed(ctx, movementID)
		if err != nil {
			return err
		}
		if reversed {
			return invalid("movement_id", "movement %s is already reversed", movementID)
		}

		ref := orig.ID
		d := MovementDraft{
			SessionID:     id,
			Kind:          orig.Kind.Opposite(),
			Category:      CategoryEstorno,
			PaymentMethod: orig.PaymentMethod,
			Amount:        orig.Amount,
			Description:   strings.TrimSpace(reason),
			Operator:      operator,
			ReversalOf:    &ref,
		}
		if err := ValidateDraft(d); err != nil {
			return err
		}
		// Taking cash back out of the drawer is a withdrawal like any other.
		if d.Kind == KindExit && d.PaymentMethod == MethodDinheiro {
			if err := checkFunds(session, movs, d.Amount); err != nil {
				return err
			}
		}
		out, err = s.AppendMovement(ctx, l.build(d))
		return mapAppendErr(err, id)
	})
	if err != nil {
		l.logger.Debug("reversal rejected",
			zap.String("session_id", string(id)),
			zap.String("movement_id", string(movementID)),
			zap.Error(err))
		return Movement{}, err
	}

	l.logger.Info("movement reversed",
		zap.String("session_id", string(id)),
		zap.String("movement_id", string(movementID)),
		zap.String("reversal_id", string(out.ID)),
		zap.String("operator", operator))
	return out, nil
}

// =============================================================================
// ATOMIC COMMIT
// =============================================================================

// commit appends a validated draft inside the session lock. With requireFunds
// the draft amount must not exceed the balance computed in the same
// transaction.
func (l *MovementLedger) commit(ctx context.Context, d MovementDraft, requireFunds bool) (Movement, error) {
	var out Movement
	err := l.store.WithSessionLock(ctx, d.SessionID, func(s Store) error {
		if !requireFunds {
			var err error
			out, err = s.AppendMovement(ctx, l.build(d))
			return mapAppendErr(err, d.SessionID)
		}

		session, movs, err := loadSession(ctx, s, d.SessionID)
		if err != nil {
			return err
		}
		if session.IsClosed() {
			return &SessionClosedError{SessionID: d.SessionID}
		}
		if err := checkFunds(session, movs, d.Amount); err != nil {
			return err
		}
		out, err = s.AppendMovement(ctx, l.build(d))
		return mapAppendErr(err, d.SessionID)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			l.logger.Warn("withdrawal rejected",
				zap.String("session_id", string(d.SessionID)),
				zap.String("category", string(d.Category)),
				zap.String("amount", d.Amount.StringFixed(2)),
				zap.Error(err))
		}
		return Movement{}, err
	}

	l.logger.Debug("movement appended",
		zap.String("session_id", string(out.SessionID)),
		zap.Int64("sequence", out.Sequence),
		zap.String("kind", string(out.Kind)),
		zap.String("category", string(out.Category)),
		zap.String("amount", out.Amount.StringFixed(2)))
	return out, nil
}

func (l *MovementLedger) build(d MovementDraft) Movement {
	return Movement{
		ID:            MovementID(l.newID()),
		SessionID:     d.SessionID,
		Kind:          d.Kind,
		Category:      d.Category,
		PaymentMethod: d.PaymentMethod,
		Amount:        d.Amount,
		Description:   d.Description,
		OccurredAt:    l.now(),
		PerformedBy:   d.Operator,
		ReversalOf:    d.ReversalOf,
	}
}

func checkFunds(s Session, movs []Movement, amount decimal.Decimal) error {
	available := computeBalance(s, movs)
	if amount.GreaterThan(available) {
		return &InsufficientBalanceError{
			SessionID: s.ID,
			Available: available,
			Requested: amount,
			Shortfall: amount.Sub(available),
		}
	}
	return nil
}

// mapAppendErr turns store sentinels into structured errors.
func mapAppendErr(err error, id SessionID) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionClosed):
		return &SessionClosedError{SessionID: id}
	case errors.Is(err, ErrNotFound):
		return &NotFoundError{Resource: "session", ID: string(id)}
	default:
		return err
	}
}
