/*
reconciliation.go - Balance and report derivation

PURPOSE:
  Answers "how much should be in the drawer?" and "where did it come from?".
  Everything here is READ-ONLY and recomputed from the movement log on every
  call. There is no cached running total anywhere in the system.

BALANCE:
  balance = openingBalance + sum(ENTRY.amount) - sum(EXIT.amount)

  computeBalance is the single implementation. Close, Sangria and the reports
  all call it, so they can never disagree.

REPORTS:
  ReportByPaymentMethod: entries / exits / net per payment method
  ClosingReport:         session + movements + totals + per-method and
                         per-category breakdowns. Works for OPEN and CLOSED
                         sessions; history stays inspectable after close.

EXAMPLE:
  opening 500.00
  ENTRY  MENSALIDADE DINHEIRO 100.00
  EXIT   SANGRIA     DINHEIRO 200.00
  -> balance 400.00, DINHEIRO {entries 100, exits 200, net -100}

SEE ALSO:
  - session.go: Close uses computeBalance inside the session lock
  - movements.go: Sangria sufficiency uses computeBalance inside the lock
*/
package caixa

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

// GroupTotals sums one group (a payment method or a category) of movements.
type GroupTotals struct {
	Entries decimal.Decimal
	Exits   decimal.Decimal
	Net     decimal.Decimal // Entries - Exits
	Count   int
}

func (g GroupTotals) add(m Movement) GroupTotals {
	if m.Kind == KindEntry {
		g.Entries = g.Entries.Add(m.Amount)
	} else {
		g.Exits = g.Exits.Add(m.Amount)
	}
	g.Net = g.Entries.Sub(g.Exits)
	g.Count++
	return g
}

// Totals are the session-level figures of a closing report.
type Totals struct {
	OpeningBalance decimal.Decimal
	Entries        decimal.Decimal
	Exits          decimal.Decimal
	Expected       decimal.Decimal     // opening + entries - exits
	ClosingBalance decimal.NullDecimal // set once the session is CLOSED
	Difference     decimal.NullDecimal // closing - expected, once CLOSED
	MovementCount  int
}

// ClosingReport is the full reconciliation view of one session.
type ClosingReport struct {
	Session         Session
	Movements       []Movement
	Totals          Totals
	ByPaymentMethod map[PaymentMethod]GroupTotals
	ByCategory      map[Category]GroupTotals
}

// =============================================================================
// RECONCILIATION ENGINE
// =============================================================================

// ReconciliationEngine derives balances and reports from the movement log.
type ReconciliationEngine struct {
	store Store
}

func NewReconciliationEngine(store Store) *ReconciliationEngine {
	return &ReconciliationEngine{store: store}
}

// ComputeBalance returns openingBalance + entries - exits for the session.
func (r *ReconciliationEngine) ComputeBalance(ctx context.Context, id SessionID) (decimal.Decimal, error) {
	s, movs, err := r.load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return computeBalance(s, movs), nil
}

// ReportByPaymentMethod groups the session's movements by payment method.
// Methods without movements are omitted.
func (r *ReconciliationEngine) ReportByPaymentMethod(ctx context.Context, id SessionID) (map[PaymentMethod]GroupTotals, error) {
	_, movs, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return byPaymentMethod(movs), nil
}

// ClosingReport assembles the reconciliation view for a session in any status.
func (r *ReconciliationEngine) ClosingReport(ctx context.Context, id SessionID) (ClosingReport, error) {
	s, movs, err := r.load(ctx, id)
	if err != nil {
		return ClosingReport{}, err
	}
	return buildReport(s, movs), nil
}

func (r *ReconciliationEngine) load(ctx context.Context, id SessionID) (Session, []Movement, error) {
	return loadSession(ctx, r.store, id)
}

// loadSession reads a session and its full movement log through store, which
// may be a transactional view.
func loadSession(ctx context.Context, store Store, id SessionID) (Session, []Movement, error) {
	s, err := store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, nil, &NotFoundError{Resource: "session", ID: string(id)}
		}
		return Session{}, nil, err
	}
	movs, err := store.LoadMovements(ctx, id)
	if err != nil {
		return Session{}, nil, err
	}
	return s, movs, nil
}

// =============================================================================
// PURE AGGREGATION
// =============================================================================

func computeBalance(s Session, movs []Movement) decimal.Decimal {
	balance := s.OpeningBalance
	for _, m := range movs {
		balance = balance.Add(m.Signed())
	}
	return balance
}

func byPaymentMethod(movs []Movement) map[PaymentMethod]GroupTotals {
	out := make(map[PaymentMethod]GroupTotals)
	for _, m := range movs {
		out[m.PaymentMethod] = out[m.PaymentMethod].add(m)
	}
	return out
}

func byCategory(movs []Movement) map[Category]GroupTotals {
	out := make(map[Category]GroupTotals)
	for _, m := range movs {
		out[m.Category] = out[m.Category].add(m)
	}
	return out
}

func buildReport(s Session, movs []Movement) ClosingReport {
	totals := Totals{
		OpeningBalance: s.OpeningBalance,
		Entries:        decimal.Zero,
		Exits:          decimal.Zero,
		MovementCount:  len(movs),
	}
	for _, m := range movs {
		if m.Kind == KindEntry {
			totals.Entries = totals.Entries.Add(m.Amount)
		} else {
			totals.Exits = totals.Exits.Add(m.Amount)
		}
	}
	totals.Expected = computeBalance(s, movs)
	if s.ClosingBalance.Valid {
		totals.ClosingBalance = s.ClosingBalance
		totals.Difference = decimal.NewNullDecimal(s.ClosingBalance.Decimal.Sub(totals.Expected))
	}

	return ClosingReport{
		Session:         s,
		Movements:       movs,
		Totals:          totals,
		ByPaymentMethod: byPaymentMethod(movs),
		ByCategory:      byCategory(movs),
	}
}
