/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. The domain types never
  leave the package; handlers convert at the boundary.

NAMING CONVENTION:
  - *DTO:     Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("150.00"), both ways. JSON numbers are
  floats in most clients and cannot carry cents exactly.

VALIDATION:
  Shape checks (required, length, amount syntax) are struct tags checked by
  go-playground/validator in decodeAndValidate. Business rules (two decimal
  places, known category, sufficient balance) stay in the caixa package.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse mapping
*/
package api

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/caixa-engine/caixa"
)

// =============================================================================
// REQUESTS
// =============================================================================

type OpenSessionRequest struct {
	Scope          string `json:"scope" validate:"required,max=64"`
	OpeningBalance string `json:"opening_balance" validate:"required,nonnegative_amount"`
	Notes          string `json:"notes" validate:"max=1000"`
}

// CloseSessionRequest closes at the computed balance when ClosingBalance is
// omitted.
type CloseSessionRequest struct {
	ClosingBalance *string `json:"closing_balance,omitempty" validate:"omitempty,nonnegative_amount"`
}

type AppendMovementRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=ENTRY EXIT"`
	Category      string `json:"category" validate:"required,max=32"`
	PaymentMethod string `json:"payment_method" validate:"required,max=32"`
	Amount        string `json:"amount" validate:"required,positive_amount"`
	Description   string `json:"description" validate:"max=500"`
}

func (r *AppendMovementRequest) normalize() {
	r.Kind = strings.ToUpper(strings.TrimSpace(r.Kind))
	r.Category = strings.ToUpper(strings.TrimSpace(r.Category))
	r.PaymentMethod = strings.ToUpper(strings.TrimSpace(r.PaymentMethod))
}

// CashOperationRequest is the body of sangria and suprimento.
type CashOperationRequest struct {
	Amount string `json:"amount" validate:"required,positive_amount"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type ReverseMovementRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type SessionDTO struct {
	ID             string     `json:"id"`
	SequenceNumber int64      `json:"sequence_number"`
	Scope          string     `json:"scope"`
	Status         string     `json:"status"`
	OpenedAt       time.Time  `json:"opened_at"`
	OpeningBalance string     `json:"opening_balance"`
	OpenedBy       string     `json:"opened_by"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ClosingBalance *string    `json:"closing_balance,omitempty"`
	ClosedBy       string     `json:"closed_by,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

type MovementDTO struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Sequence      int64     `json:"sequence"`
	Kind          string    `json:"kind"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"payment_method"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	PerformedBy   string    `json:"performed_by"`
	ReversalOf    *string   `json:"reversal_of,omitempty"`
}

type BalanceDTO struct {
	SessionID string `json:"session_id"`
	Balance   string `json:"balance"`
}

type GroupTotalsDTO struct {
	Entries string `json:"entries"`
	Exits   string `json:"exits"`
	Net     string `json:"net"`
	Count   int    `json:"count"`
}

// PaymentMethodReportDTO carries Order so clients can render methods in a
// stable sequence; JSON objects have none.
type PaymentMethodReportDTO struct {
	SessionID string                    `json:"session_id"`
	Methods   map[string]GroupTotalsDTO `json:"methods"`
	Order     []string                  `json:"order"`
}

type TotalsDTO struct {
	OpeningBalance string  `json:"opening_balance"`
	Entries        string  `json:"entries"`
	Exits          string  `json:"exits"`
	Expected       string  `json:"expected"`
	ClosingBalance *string `json:"closing_balance,omitempty"`
	Difference     *string `json:"difference,omitempty"`
	MovementCount  int     `json:"movement_count"`
}

type ClosingReportDTO struct {
	Session         SessionDTO                `json:"session"`
	Totals          TotalsDTO                 `json:"totals"`
	ByPaymentMethod map[string]GroupTotalsDTO `json:"by_payment_method"`
	ByCategory      map[string]GroupTotalsDTO `json:"by_category"`
	Movements       []MovementDTO             `json:"movements"`
}

type SessionListDTO struct {
	Sessions []SessionDTO `json:"sessions"`
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := money(d.Decimal)
	return &s
}

func toSessionDTO(s caixa.Session) SessionDTO {
	return SessionDTO{
		ID:             string(s.ID),
		SequenceNumber: s.SequenceNumber,
		Scope:          string(s.Scope),
		Status:         string(s.Status),
		OpenedAt:       s.OpenedAt,
		OpeningBalance: money(s.OpeningBalance),
		OpenedBy:       s.OpenedBy,
		ClosedAt:       s.ClosedAt,
		ClosingBalance: nullMoney(s.ClosingBalance),
		ClosedBy:       s.ClosedBy,
		Notes:          s.Notes,
	}
}

func toSessionDTOs(sessions []caixa.Session) []SessionDTO {
	out := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionDTO(s)
	}
	return out
}

func toMovementDTO(m caixa.Movement) MovementDTO {
	dto := MovementDTO{
		ID:            string(m.ID),
		SessionID:     string(m.SessionID),
		Sequence:      m.Sequence,
		Kind:          string(m.Kind),
		Category:      string(m.Category),
		PaymentMethod: string(m.PaymentMethod),
		Amount:        money(m.Amount),
		Description:   m.Description,
		OccurredAt:    m.OccurredAt,
		PerformedBy:   m.PerformedBy,
	}
	if m.ReversalOf != nil {
		ref := string(*m.ReversalOf)
		dto.ReversalOf = &ref
	}
	return dto
}

func toMovementDTOs(movs []caixa.Movement) []MovementDTO {
	out := make([]MovementDTO, len(movs))
	for i, m := range movs {
		out[i] = toMovementDTO(m)
	}
	return out
}

func toGroupTotalsDTO(g caixa.GroupTotals) GroupTotalsDTO {
	return GroupTotalsDTO{
		Entries: money(g.Entries),
		Exits:   money(g.Exits),
		Net:     money(g.Net),
		Count:   g.Count,
	}
}

func toMethodTotals(in map[caixa.PaymentMethod]caixa.GroupTotals) map[string]GroupTotalsDTO {
	out := make(map[string]GroupTotalsDTO, len(in))
	for k, v := range in {
		out[string(k)] = toGroupTotalsDTO(v)
	}
	return out
}

func toCategoryTotals(in map[caixa.Category]caixa.GroupTotals) map[string]GroupTotalsDTO {
	out := make(map[string]GroupTotalsDTO, len(in))
	for k, v := range in {
		out[string(k)] = toGroupTotalsDTO(v)
	}
	return out
}

func toClosingReportDTO(r caixa.ClosingReport) ClosingReportDTO {
	return ClosingReportDTO{
		Session: toSessionDTO(r.Session),
		Totals: TotalsDTO{
			OpeningBalance: money(r.Totals.OpeningBalance),
			Entries:        money(r.Totals.Entries),
			Exits:          money(r.Totals.Exits),
			Expected:       money(r.Totals.Expected),
			ClosingBalance: nullMoney(r.Totals.ClosingBalance),
			Difference:     nullMoney(r.Totals.Difference),
			MovementCount:  r.Totals.MovementCount,
		},
		ByPaymentMethod: toMethodTotals(r.ByPaymentMethod),
		ByCategory:      toCategoryTotals(r.ByCategory),
		Movements:       toMovementDTOs(r.Movements),
	}
}

// methodNames lists the payment methods present in a report, in the
// canonical order of caixa.PaymentMethods.
func methodNames(in map[caixa.PaymentMethod]caixa.GroupTotals) []string {
	rank := make(map[caixa.PaymentMethod]int, len(caixa.PaymentMethods))
	for i, m := range caixa.PaymentMethods {
		rank[m] = i
	}
	out := make([]string, 0, len(in))
	for m := range in {
		out = append(out, string(m))
	}
	sort.Slice(out, func(i, j int) bool {
		return rank[caixa.PaymentMethod(out[i])] < rank[caixa.PaymentMethod(out[j])]
	})
	return out
}
