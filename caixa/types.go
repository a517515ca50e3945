/*
Package caixa provides the cash-session ledger and reconciliation engine.

PURPOSE:
  A cash session ("caixa") is the bounded period during which a branch records
  money coming in and going out of its register. This package owns the session
  lifecycle, the append-only movement log and every figure derived from it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: One OPEN -> CLOSED lifecycle for a scope (branch/tenant)
  - Movement: An immutable monetary event (ENTRY or EXIT) inside a session
  - Kind / Category / PaymentMethod: The closed vocabularies movements use
  - MovementDraft: What a caller submits before the ledger assigns identity

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified, only compensated
  2. Precision: Uses decimal.Decimal, never float64, for money
  3. Derivation: Balance is always recomputed from movements, never stored
  4. Auditability: Every write records the operator that performed it

USAGE:
  mgr := caixa.NewSessionManager(store, caixa.Options{})
  s, err := mgr.Open(ctx, "branch-01", decimal.RequireFromString("500.00"), "op-1", "")

SEE ALSO:
  - session.go: SessionManager (open/close)
  - movements.go: MovementLedger (append/list/reverse)
  - guard.go: ValidationGuard (sangria/suprimento, draft validation)
  - reconciliation.go: ReconciliationEngine (balance and reports)
*/
package caixa

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SessionID string
type MovementID string

// Scope identifies the branch/tenant that owns a session. At most one session
// per scope may be OPEN at any instant.
type Scope string

// =============================================================================
// SESSION - One cash-register period for a scope
// =============================================================================

type SessionStatus string

const (
	StatusOpen   SessionStatus = "OPEN"
	StatusClosed SessionStatus = "CLOSED"
)

func (s SessionStatus) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// Session is a cash session record. It is created by Open, transitioned once
// by Close and never deleted.
type Session struct {
	ID             SessionID
	SequenceNumber int64 // human-facing, unique and monotonic per scope
	Scope          Scope
	Status         SessionStatus
	OpenedAt       time.Time
	OpeningBalance decimal.Decimal
	OpenedBy       string

	// Set exactly once by Close.
	ClosedAt       *time.Time
	ClosingBalance decimal.NullDecimal
	ClosedBy       string

	Notes string
}

func (s Session) IsOpen() bool   { return s.Status == StatusOpen }
func (s Session) IsClosed() bool { return s.Status == StatusClosed }

// Closure carries the fields written by the single OPEN -> CLOSED transition.
type Closure struct {
	ClosedAt       time.Time
	ClosingBalance decimal.Decimal
	ClosedBy       string
	Notes          string
}

// SessionQuery filters session history. An empty Scope matches every scope.
type SessionQuery struct {
	Scope  Scope
	Status SessionStatus // empty = any
	Limit  int           // <= 0 means no limit
	Offset int
}

// =============================================================================
// MOVEMENT - Immutable monetary event
// =============================================================================

type Kind string

const (
	KindEntry Kind = "ENTRY" // money into the drawer
	KindExit  Kind = "EXIT"  // money out of the drawer
)

func (k Kind) Valid() bool { return k == KindEntry || k == KindExit }

// Opposite returns the kind that compensates k.
func (k Kind) Opposite() Kind {
	if k == KindEntry {
		return KindExit
	}
	return KindEntry
}

type Category string

const (
	CategoryMensalidade Category = "MENSALIDADE" // monthly fee
	CategoryMatricula   Category = "MATRICULA"   // enrollment fee
	CategorySangria     Category = "SANGRIA"     // cash withdrawal from the drawer
	CategorySuprimento  Category = "SUPRIMENTO"  // cash float top-up
	CategoryFornecedor  Category = "FORNECEDOR"  // supplier payment
	CategoryOutros      Category = "OUTROS"
	CategoryEstorno     Category = "ESTORNO" // compensating reversal
)

var categories = map[Category]bool{
	CategoryMensalidade: true,
	CategoryMatricula:   true,
	CategorySangria:     true,
	CategorySuprimento:  true,
	CategoryFornecedor:  true,
	CategoryOutros:      true,
	CategoryEstorno:     true,
}

func (c Category) Valid() bool { return categories[c] }

// RequiresDescription reports whether movements of this category must carry
// a non-empty description.
func (c Category) RequiresDescription() bool {
	return c == CategorySangria || c == CategorySuprimento || c == CategoryEstorno
}

type PaymentMethod string

const (
	MethodDinheiro      PaymentMethod = "DINHEIRO"
	MethodPix           PaymentMethod = "PIX"
	MethodCartaoDebito  PaymentMethod = "CARTAO_DEBITO"
	MethodCartaoCredito PaymentMethod = "CARTAO_CREDITO"
	MethodBoleto        PaymentMethod = "BOLETO"
	MethodTransferencia PaymentMethod = "TRANSFERENCIA"
	MethodCheque        PaymentMethod = "CHEQUE"
)

// PaymentMethods lists every method in report order.
var PaymentMethods = []PaymentMethod{
	MethodDinheiro,
	MethodPix,
	MethodCartaoDebito,
	MethodCartaoCredito,
	MethodBoleto,
	MethodTransferencia,
	MethodCheque,
}

func (m PaymentMethod) Valid() bool {
	for _, pm := range PaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}

// Movement is a single recorded monetary event. Once appended, no field
// changes. Corrections are new movements with ReversalOf set.
type Movement struct {
	ID            MovementID
	SessionID     SessionID
	Sequence      int64 // monotonic per session, assigned at append
	Kind          Kind
	Category      Category
	PaymentMethod PaymentMethod
	Amount        decimal.Decimal // always > 0; Kind carries the sign
	Description   string
	OccurredAt    time.Time
	PerformedBy   string
	ReversalOf    *MovementID
}

// Signed returns the amount with the sign implied by Kind.
func (m Movement) Signed() decimal.Decimal {
	if m.Kind == KindExit {
		return m.Amount.Neg()
	}
	return m.Amount
}

// MovementDraft is the caller-supplied part of a movement. The ledger fills in
// ID, Sequence and OccurredAt.
type MovementDraft struct {
	SessionID     SessionID
	Kind          Kind
	Category      Category
	PaymentMethod PaymentMethod
	Amount        decimal.Decimal
	Description   string
	Operator      string
	ReversalOf    *MovementID
}

// Window selects a trailing slice of a movement list for display.
// Last <= 0 selects everything.
type Window struct {
	Last int
}

// Apply returns the trailing part of movs selected by the window.
func (w Window) Apply(movs []Movement) []Movement {
	if w.Last <= 0 || w.Last >= len(movs) {
		return movs
	}
	return movs[len(movs)-w.Last:]
}
