/*
guard.go - Movement-level business rules

PURPOSE:
  Every rule a movement must satisfy is checked here BEFORE anything touches
  the store. A rejected request leaves zero trace in the ledger.

RULES (ValidateDraft):
  1. Operator is present
  2. 0 < amount <= MaxAmount with at most two decimal places
  3. Kind, Category and PaymentMethod belong to their vocabularies
  4. SANGRIA / SUPRIMENTO / ESTORNO carry a non-empty description
  5. SANGRIA is always an EXIT, SUPRIMENTO is always an ENTRY

SPECIALIZED PATHS:
  Sangria:    EXIT / SANGRIA / DINHEIRO. Fails with InsufficientBalanceError
              when amount > current balance. Check and append run in ONE
              per-session transaction, so two concurrent sangrias cannot both
              pass against money only one of them can take.
  Suprimento: ENTRY / SUPRIMENTO / DINHEIRO. No ceiling below MaxAmount.

SEE ALSO:
  - movements.go: commit() performs the locked check-and-append
*/
package caixa

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VALIDATION GUARD
// =============================================================================

// ValidationGuard exposes the specialized cash paths and routes them through
// the ledger's atomic append.
type ValidationGuard struct {
	ledger *MovementLedger
}

func NewValidationGuard(ledger *MovementLedger) *ValidationGuard {
	return &ValidationGuard{ledger: ledger}
}

// Sangria withdraws cash from an open session. Nothing is recorded unless the
// session's current balance covers amount.
func (g *ValidationGuard) Sangria(ctx context.Context, id SessionID, amount decimal.Decimal, reason, operator string) (Movement, error) {
	d := MovementDraft{
		SessionID:     id,
		Kind:          KindExit,
		Category:      CategorySangria,
		PaymentMethod: MethodDinheiro,
		Amount:        amount,
		Description:   strings.TrimSpace(reason),
		Operator:      operator,
	}
	if err := validateReason(reason); err != nil {
		return Movement{}, err
	}
	if err := ValidateDraft(d); err != nil {
		return Movement{}, err
	}
	return g.ledger.commit(ctx, d, true)
}

// Suprimento adds cash to an open session.
func (g *ValidationGuard) Suprimento(ctx context.Context, id SessionID, amount decimal.Decimal, reason, operator string) (Movement, error) {
	d := MovementDraft{
		SessionID:     id,
		Kind:          KindEntry,
		Category:      CategorySuprimento,
		PaymentMethod: MethodDinheiro,
		Amount:        amount,
		Description:   strings.TrimSpace(reason),
		Operator:      operator,
	}
	if err := validateReason(reason); err != nil {
		return Movement{}, err
	}
	if err := ValidateDraft(d); err != nil {
		return Movement{}, err
	}
	return g.ledger.commit(ctx, d, false)
}

// =============================================================================
// PURE RULES
// =============================================================================

// ValidateDraft checks every rule that does not need the store.
func ValidateDraft(d MovementDraft) error {
	if d.SessionID == "" {
		return invalid("session_id", "is required")
	}
	if strings.TrimSpace(d.Operator) == "" {
		return invalid("operator", "is required")
	}
	if err := validateAmount("amount", d.Amount); err != nil {
		return err
	}
	if !d.Kind.Valid() {
		return invalid("kind", "unknown kind %q", d.Kind)
	}
	if !d.Category.Valid() {
		return invalid("category", "unknown category %q", d.Category)
	}
	if !d.PaymentMethod.Valid() {
		return invalid("payment_method", "unknown payment method %q", d.PaymentMethod)
	}
	if d.Category.RequiresDescription() && strings.TrimSpace(d.Description) == "" {
		return invalid("description", "is required for %s", d.Category)
	}
	switch {
	case d.Category == CategorySangria && d.Kind != KindExit:
		return invalid("kind", "%s must be an %s", CategorySangria, KindExit)
	case d.Category == CategorySuprimento && d.Kind != KindEntry:
		return invalid("kind", "%s must be an %s", CategorySuprimento, KindEntry)
	case d.Category == CategoryEstorno && d.ReversalOf == nil:
		return invalid("category", "%s is reserved for reversals", CategoryEstorno)
	}
	return nil
}

// MaxAmount is the largest value any amount or balance may hold. It is the
// NUMERIC(14,2) column limit of the SQL stores.
var MaxAmount = decimal.RequireFromString("999999999999.99")

func validateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(field, "must be greater than zero")
	}
	if amount.GreaterThan(MaxAmount) {
		return invalid(field, "must not exceed %s", MaxAmount.StringFixed(2))
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid(field, "must have at most two decimal places")
	}
	return nil
}

func validateBalance(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return invalid(field, "must not be negative")
	}
	if amount.GreaterThan(MaxAmount) {
		return invalid(field, "must not exceed %s", MaxAmount.StringFixed(2))
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid(field, "must have at most two decimal places")
	}
	return nil
}

func validateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return invalid("reason", "is required")
	}
	return nil
}
