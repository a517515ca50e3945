/*
handlers.go - HTTP API handlers for the cash-session ledger

PURPOSE:
  Exposes the caixa engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every decision to the domain.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                         Open a session
    GET    /api/sessions?scope=&status=&limit=&offset=   History, newest first
    GET    /api/sessions/current?scope=          The OPEN session of a scope
    GET    /api/sessions/{id}                    Session details
    POST   /api/sessions/{id}/close              Close (optional declared balance)

  Movements:
    POST   /api/sessions/{id}/movements          Append entry/exit
    GET    /api/sessions/{id}/movements?last=N   Movement log
    POST   /api/sessions/{id}/movements/{movementID}/reverse
    POST   /api/sessions/{id}/sangria            Cash withdrawal
    POST   /api/sessions/{id}/suprimento         Cash reinforcement

  Reconciliation:
    GET    /api/sessions/{id}/balance
    GET    /api/sessions/{id}/report/payment-methods
    GET    /api/sessions/{id}/report

OPERATOR IDENTITY:
  Every write carries the acting operator in the X-Operator-ID header. The
  header is trusted as-is; authentication happens in front of this service.

ERROR HANDLING:
  errors.go maps domain errors to statuses in one place:
  - 400: ValidationError, malformed JSON
  - 404: unknown session / movement
  - 409: scope already open, session closed, already closed
  - 422: insufficient balance
  - 503: concurrent modification (retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/caixa-engine/caixa"
)

const (
	operatorHeader   = "X-Operator-ID"
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *caixa.Engine
	Logger *zap.Logger

	// Health reports storage reachability for /healthz. Optional.
	Health func(ctx context.Context) error
}

// NewHandler creates a handler over engine.
func NewHandler(engine *caixa.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Logger: logger.Named("api")}
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// OpenSession starts a new session for a scope.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.operator(w, r)
	if !ok {
		return
	}
	var req OpenSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	balance, err := decimal.NewFromString(req.OpeningBalance)
	if err != nil {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: "opening_balance", Message: err.Error()})
		return
	}

	s, err := h.Engine.Sessions.Open(r.Context(), caixa.Scope(req.Scope), balance, operator, req.Notes)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

// GetCurrentSession returns the OPEN session of ?scope=.
func (h *Handler) GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	if scope == "" {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: "scope", Message: "query parameter is required"})
		return
	}
	s, err := h.Engine.Sessions.GetOpenSession(r.Context(), caixa.Scope(scope))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// ListSessions returns session history, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit", defaultPageLimit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if limit <= 0 || limit > maxPageLimit {
		h.writeDomainError(w, r, &caixa.ValidationError{
			Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageLimit),
		})
		return
	}
	offset, err := intParam(q.Get("offset"), "offset", 0)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	sessions, err := h.Engine.Sessions.List(r.Context(), caixa.SessionQuery{
		Scope:  caixa.Scope(q.Get("scope")),
		Status: caixa.SessionStatus(strings.ToUpper(q.Get("status"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionListDTO{
		Sessions: toSessionDTOs(sessions),
		Limit:    limit,
		Offset:   offset,
	})
}

// GetSession returns one session in any status.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// CloseSession closes a session. An empty body closes at the computed balance.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.operator(w, r)
	if !ok {
		return
	}

	var req CloseSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()})
		return
	}
	if err := getValidator().Struct(req); err != nil {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: "closing_balance", Message: "must be a decimal amount not below zero"})
		return
	}

	var override *decimal.Decimal
	if req.ClosingBalance != nil {
		d, err := decimal.NewFromString(*req.ClosingBalance)
		if err != nil {
			h.writeDomainError(w, r, &caixa.ValidationError{Field: "closing_balance", Message: err.Error()})
			return
		}
		override = &d
	}

	s, err := h.Engine.Sessions.Close(r.Context(), sessionID(r), operator, override)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// =============================================================================
// MOVEMENT ENDPOINTS
// =============================================================================

// AppendMovement records a regular entry or exit.
func (h *Handler) AppendMovement(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.operator(w, r)
	if !ok {
		return
	}
	var req AppendMovementRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: "amount", Message: err.Error()})
		return
	}

	m, err := h.Engine.Ledger.Append(r.Context(), caixa.MovementDraft{
		SessionID:     sessionID(r),
		Kind:          caixa.Kind(req.Kind),
		Category:      caixa.Category(req.Category),
		PaymentMethod: caixa.PaymentMethod(req.PaymentMethod),
		Amount:        amount,
		Description:   req.Description,
		Operator:      operator,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// ListMovements returns the movement log, optionally only the last N.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	last, err := intParam(r.URL.Query().Get("last"), "last", 0)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	movs, err := h.Engine.Ledger.List(r.Context(), sessionID(r), caixa.Window{Last: last})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movs))
}

// ReverseMovement appends the compensating movement for {movementID}.
func (h *Handler) ReverseMovement(w http.ResponseWriter, r *http.Request) {
	operator, ok := h.operator(w, r)
	if !ok {
		return
	}
	var req ReverseMovementRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	m, err := h.Engine.Ledger.Reverse(r.Context(), sessionID(r),
		caixa.MovementID(chi.URLParam(r, "movementID")), req.Reason, operator)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// Sangria withdraws cash, refused when the balance does not cover it.
func (h *Handler) Sangria(w http.ResponseWriter, r *http.Request) {
	h.cashOperation(w, r, h.Engine.Guard.Sangria)
}

// Suprimento adds cash to the drawer.
func (h *Handler) Suprimento(w http.ResponseWriter, r *http.Request) {
	h.cashOperation(w, r, h.Engine.Guard.Suprimento)
}

type cashFunc func(ctx context.Context, id caixa.SessionID, amount decimal.Decimal, reason, operator string) (caixa.Movement, error)

func (h *Handler) cashOperation(w http.ResponseWriter, r *http.Request, op cashFunc) {
	operator, ok := h.operator(w, r)
	if !ok {
		return
	}
	var req CashOperationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: "amount", Message: err.Error()})
		return
	}

	m, err := op(r.Context(), sessionID(r), amount, req.Reason, operator)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

// GetBalance returns the balance derived from the movement log.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	balance, err := h.Engine.Reconciliation.ComputeBalance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{SessionID: string(id), Balance: money(balance)})
}

// GetPaymentMethodReport groups movements by payment method.
func (h *Handler) GetPaymentMethodReport(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	report, err := h.Engine.Reconciliation.ReportByPaymentMethod(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentMethodReportDTO{
		SessionID: string(id),
		Methods:   toMethodTotals(report),
		Order:     methodNames(report),
	})
}

// GetClosingReport returns the full reconciliation view.
func (h *Handler) GetClosingReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Reconciliation.ClosingReport(r.Context(), sessionID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingReportDTO(report))
}

// Healthz reports liveness and, when configured, storage reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func sessionID(r *http.Request) caixa.SessionID {
	return caixa.SessionID(chi.URLParam(r, "id"))
}

// operator reads the acting operator; it writes a 400 and returns false when
// the header is missing.
func (h *Handler) operator(w http.ResponseWriter, r *http.Request) (string, bool) {
	op := strings.TrimSpace(r.Header.Get(operatorHeader))
	if op == "" {
		h.writeDomainError(w, r, &caixa.ValidationError{Field: operatorHeader, Message: "header is required"})
		return "", false
	}
	return op, true
}

func intParam(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &caixa.ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}
