/*
handlers_test.go - HTTP tests for the cash-session API

Tests for:
- Session open / conflict / current / list
- Movements, sangria, suprimento and reversal over HTTP
- Error status mapping (400, 404, 409, 422)
- Reports and health check
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/caixa-engine/caixa"
	"github.com/warp/caixa-engine/caixa/store"
)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine := caixa.New(store.NewMemory(), caixa.Options{})
	h := NewHandler(engine, nil)
	return &testServer{t: t, handler: h, router: NewRouter(h, RouterOptions{})}
}

// do sends a request as operator op (no header when op is empty).
func (s *testServer) do(method, path, op string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if op != "" {
		req.Header.Set(operatorHeader, op)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) open(scope, balance string) SessionDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/sessions", "op-1", OpenSessionRequest{Scope: scope, OpeningBalance: balance})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SessionDTO](s.t, rec)
}

func (s *testServer) balance(id string) string {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/sessions/"+id+"/balance", "", nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[BalanceDTO](s.t, rec).Balance
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestOpenSession_CreatesOpenSession(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: no session for branch-a
	// WHEN: opening one with 500.00
	got := s.open("branch-a", "500.00")

	// THEN: it is OPEN with sequence 1 and the operator recorded
	assert.Equal(t, "OPEN", got.Status)
	assert.Equal(t, int64(1), got.SequenceNumber)
	assert.Equal(t, "500.00", got.OpeningBalance)
	assert.Equal(t, "op-1", got.OpenedBy)
	assert.Nil(t, got.ClosingBalance)
	assert.Equal(t, "500.00", s.balance(got.ID))
}

func TestOpenSession_ConflictReturnsOpenSessionID(t *testing.T) {
	s := newTestServer(t)
	first := s.open("branch-a", "500.00")

	rec := s.do(http.MethodPost, "/api/sessions", "op-2", OpenSessionRequest{Scope: "branch-a", OpeningBalance: "50.00"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, first.ID, resp.OpenSessionID)

	// Another scope is independent
	other := s.open("branch-b", "0")
	assert.Equal(t, int64(1), other.SequenceNumber)
}

func TestOpenSession_Validation(t *testing.T) {
	tests := []struct {
		name  string
		op    string
		body  any
		field string
	}{
		{"missing operator", "", OpenSessionRequest{Scope: "a", OpeningBalance: "1.00"}, operatorHeader},
		{"missing scope", "op-1", OpenSessionRequest{OpeningBalance: "1.00"}, "scope"},
		{"negative balance", "op-1", OpenSessionRequest{Scope: "a", OpeningBalance: "-1.00"}, "opening_balance"},
		{"garbage balance", "op-1", OpenSessionRequest{Scope: "a", OpeningBalance: "ten"}, "opening_balance"},
		{"three decimals", "op-1", OpenSessionRequest{Scope: "a", OpeningBalance: "1.005"}, "opening_balance"},
		{"malformed JSON", "op-1", "not an object", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodPost, "/api/sessions", tt.op, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, decode[ErrorResponse](t, rec).Field)
		})
	}
}

func TestGetCurrentSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/sessions/current", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/sessions/current?scope=branch-a", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	opened := s.open("branch-a", "10.00")
	rec = s.do(http.MethodGet, "/api/sessions/current?scope=branch-a", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, opened.ID, decode[SessionDTO](t, rec).ID)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/sessions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions_FiltersAndPaginates(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: three sessions on branch-a (two closed) and one on branch-b
	for i := 0; i < 2; i++ {
		opened := s.open("branch-a", "0")
		rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	s.open("branch-a", "0")
	s.open("branch-b", "0")

	// WHEN/THEN: filter by scope
	rec := s.do(http.MethodGet, "/api/sessions?scope=branch-a", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[SessionListDTO](t, rec)
	require.Len(t, list.Sessions, 3)
	assert.Equal(t, int64(3), list.Sessions[0].SequenceNumber, "newest first")

	rec = s.do(http.MethodGet, "/api/sessions?scope=branch-a&status=closed", "", nil)
	assert.Len(t, decode[SessionListDTO](t, rec).Sessions, 2)

	rec = s.do(http.MethodGet, "/api/sessions?scope=branch-a&limit=1&offset=1", "", nil)
	page := decode[SessionListDTO](t, rec)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, int64(2), page.Sessions[0].SequenceNumber)

	rec = s.do(http.MethodGet, "/api/sessions?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/sessions?status=PENDING", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseSession_ComputedBalance(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "500.00")

	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-2", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[SessionDTO](t, rec)
	assert.Equal(t, "CLOSED", closed.Status)
	require.NotNil(t, closed.ClosingBalance)
	assert.Equal(t, "500.00", *closed.ClosingBalance)
	assert.Equal(t, "op-2", closed.ClosedBy)
	assert.NotNil(t, closed.ClosedAt)

	rec = s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseSession_DiscrepancyIsRecordedNotBlocked(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "100.00")

	declared := "95.00"
	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-1", CloseSessionRequest{ClosingBalance: &declared})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[SessionDTO](t, rec)
	assert.Equal(t, "95.00", *closed.ClosingBalance)
	assert.Contains(t, closed.Notes, "DISCREPANCY")

	rec = s.do(http.MethodGet, "/api/sessions/"+opened.ID+"/report", "", nil)
	report := decode[ClosingReportDTO](t, rec)
	require.NotNil(t, report.Totals.Difference)
	assert.Equal(t, "-5.00", *report.Totals.Difference)
	assert.Equal(t, "100.00", report.Totals.Expected)
}

func TestCloseSession_RejectsNegativeOverride(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "100.00")

	declared := "-1"
	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-1", CloseSessionRequest{ClosingBalance: &declared})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/sessions/"+opened.ID, "", nil)
	assert.Equal(t, "OPEN", decode[SessionDTO](t, rec).Status)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestAppendMovement_UpdatesBalance(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "500.00")

	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", AppendMovementRequest{
		Kind: "ENTRY", Category: "mensalidade", PaymentMethod: "dinheiro",
		Amount: "100.00", Description: "mensalidade Joao",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decode[MovementDTO](t, rec)
	assert.Equal(t, int64(1), m.Sequence)
	assert.Equal(t, "MENSALIDADE", m.Category)
	assert.Equal(t, "DINHEIRO", m.PaymentMethod)
	assert.Equal(t, "op-1", m.PerformedBy)
	assert.Equal(t, "600.00", s.balance(opened.ID))
}

func TestAppendMovement_EnumFieldsAreCaseInsensitive(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "50.00")

	// GIVEN: every enum field in lower or mixed case
	for _, req := range []AppendMovementRequest{
		{Kind: "entry", Category: "outros", PaymentMethod: "pix", Amount: "10.00"},
		{Kind: " Exit ", Category: "Outros", PaymentMethod: "Cartao_Debito", Amount: "5.00"},
	} {
		// WHEN: the movement is appended
		rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", req)

		// THEN: it is accepted and stored in canonical form
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		m := decode[MovementDTO](t, rec)
		assert.Equal(t, strings.ToUpper(strings.TrimSpace(req.Kind)), m.Kind)
		assert.Equal(t, "OUTROS", m.Category)
	}
	assert.Equal(t, "55.00", s.balance(opened.ID))
}

func TestAppendMovement_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    AppendMovementRequest
		status int
		field  string
	}{
		{"zero amount", AppendMovementRequest{Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "PIX", Amount: "0"}, http.StatusBadRequest, "amount"},
		{"negative amount", AppendMovementRequest{Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "PIX", Amount: "-5"}, http.StatusBadRequest, "amount"},
		{"amount over limit", AppendMovementRequest{Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "PIX", Amount: "1000000000000.00"}, http.StatusBadRequest, "amount"},
		{"unknown kind", AppendMovementRequest{Kind: "IN", Category: "OUTROS", PaymentMethod: "PIX", Amount: "5"}, http.StatusBadRequest, "kind"},
		{"unknown category", AppendMovementRequest{Kind: "ENTRY", Category: "LOTTERY", PaymentMethod: "PIX", Amount: "5"}, http.StatusBadRequest, "category"},
		{"unknown method", AppendMovementRequest{Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "BITCOIN", Amount: "5"}, http.StatusBadRequest, "payment_method"},
		{"suprimento without description", AppendMovementRequest{Kind: "ENTRY", Category: "SUPRIMENTO", PaymentMethod: "DINHEIRO", Amount: "5"}, http.StatusBadRequest, "description"},
		{"sangria over balance", AppendMovementRequest{Kind: "EXIT", Category: "SANGRIA", PaymentMethod: "DINHEIRO", Amount: "50.01", Description: "deposit"}, http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			opened := s.open("branch-a", "50.00")

			rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", tt.req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, decode[ErrorResponse](t, rec).Field)
			assert.Equal(t, "50.00", s.balance(opened.ID), "rejected request leaves no trace")
		})
	}
}

func TestAppendMovement_ClosedSession(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "10.00")
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-1", nil).Code)

	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", AppendMovementRequest{
		Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "PIX", Amount: "1.00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session closed", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/suprimento", "op-1", CashOperationRequest{Amount: "1.00", Reason: "troco"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAppendMovement_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/sessions/missing/movements", "op-1", AppendMovementRequest{
		Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "PIX", Amount: "1.00",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSangria_InsufficientBalanceDetails(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "400.00")

	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/sangria", "op-1", CashOperationRequest{Amount: "1000.00", Reason: "tentativa"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "400.00", resp.Available)
	assert.Equal(t, "600.00", resp.Shortfall)
	assert.Equal(t, "400.00", s.balance(opened.ID))
}

func TestSangriaAndSuprimento(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "100.00")

	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/suprimento", "op-1", CashOperationRequest{Amount: "50.00", Reason: "troco"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decode[MovementDTO](t, rec)
	assert.Equal(t, "ENTRY", m.Kind)
	assert.Equal(t, "SUPRIMENTO", m.Category)

	rec = s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/sangria", "op-1", CashOperationRequest{Amount: "150.00", Reason: "deposito"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m = decode[MovementDTO](t, rec)
	assert.Equal(t, "EXIT", m.Kind)
	assert.Equal(t, "SANGRIA", m.Category)
	assert.Equal(t, "DINHEIRO", m.PaymentMethod)

	assert.Equal(t, "0.00", s.balance(opened.ID))

	rec = s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/sangria", "op-1", CashOperationRequest{Amount: "1.00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason", decode[ErrorResponse](t, rec).Field)
}

func TestReverseMovement(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "0")

	rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", AppendMovementRequest{
		Kind: "ENTRY", Category: "MENSALIDADE", PaymentMethod: "PIX", Amount: "150.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	orig := decode[MovementDTO](t, rec)

	// WHEN: reversing it
	path := "/api/sessions/" + opened.ID + "/movements/" + orig.ID + "/reverse"
	rec = s.do(http.MethodPost, path, "op-2", ReverseMovementRequest{Reason: "valor errado"})

	// THEN: a compensating EXIT is appended and the original is untouched
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decode[MovementDTO](t, rec)
	assert.Equal(t, "EXIT", rev.Kind)
	assert.Equal(t, "ESTORNO", rev.Category)
	require.NotNil(t, rev.ReversalOf)
	assert.Equal(t, orig.ID, *rev.ReversalOf)
	assert.Equal(t, "0.00", s.balance(opened.ID))

	rec = s.do(http.MethodGet, "/api/sessions/"+opened.ID+"/movements", "", nil)
	movs := decode[[]MovementDTO](t, rec)
	require.Len(t, movs, 2)
	assert.Equal(t, orig, movs[0])

	// Second reversal and reversal of the reversal are refused
	rec = s.do(http.MethodPost, path, "op-2", ReverseMovementRequest{Reason: "de novo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements/"+rev.ID+"/reverse", "op-2", ReverseMovementRequest{Reason: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements/missing/reverse", "op-2", ReverseMovementRequest{Reason: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMovements_LastWindow(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "0")
	for _, amount := range []string{"1.00", "2.00", "3.00"} {
		rec := s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", AppendMovementRequest{
			Kind: "ENTRY", Category: "OUTROS", PaymentMethod: "PIX", Amount: amount,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/sessions/"+opened.ID+"/movements?last=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movs := decode[[]MovementDTO](t, rec)
	require.Len(t, movs, 2)
	assert.Equal(t, "2.00", movs[0].Amount)
	assert.Equal(t, "3.00", movs[1].Amount)

	// The window never affects the balance
	assert.Equal(t, "6.00", s.balance(opened.ID))

	rec = s.do(http.MethodGet, "/api/sessions/"+opened.ID+"/movements?last=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestPaymentMethodReport(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "500.00")
	for _, req := range []AppendMovementRequest{
		{Kind: "ENTRY", Category: "MENSALIDADE", PaymentMethod: "PIX", Amount: "150.00"},
		{Kind: "ENTRY", Category: "MENSALIDADE", PaymentMethod: "DINHEIRO", Amount: "100.00"},
		{Kind: "EXIT", Category: "FORNECEDOR", PaymentMethod: "PIX", Amount: "30.00"},
	} {
		require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", req).Code)
	}

	rec := s.do(http.MethodGet, "/api/sessions/"+opened.ID+"/report/payment-methods", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[PaymentMethodReportDTO](t, rec)
	assert.Equal(t, []string{"DINHEIRO", "PIX"}, report.Order)
	assert.Equal(t, GroupTotalsDTO{Entries: "150.00", Exits: "30.00", Net: "120.00", Count: 2}, report.Methods["PIX"])
	assert.Equal(t, GroupTotalsDTO{Entries: "100.00", Exits: "0.00", Net: "100.00", Count: 1}, report.Methods["DINHEIRO"])
}

func TestClosingReport_MatchesMovementSum(t *testing.T) {
	s := newTestServer(t)
	opened := s.open("branch-a", "500.00")
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/movements", "op-1", AppendMovementRequest{
		Kind: "ENTRY", Category: "MENSALIDADE", PaymentMethod: "DINHEIRO", Amount: "100.00",
	}).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/sangria", "op-1",
		CashOperationRequest{Amount: "200.00", Reason: "deposito bancario"}).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/sessions/"+opened.ID+"/close", "op-1", nil).Code)

	rec := s.do(http.MethodGet, "/api/sessions/"+opened.ID+"/report", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[ClosingReportDTO](t, rec)
	assert.Equal(t, "CLOSED", report.Session.Status)
	assert.Equal(t, "100.00", report.Totals.Entries)
	assert.Equal(t, "200.00", report.Totals.Exits)
	assert.Equal(t, "400.00", report.Totals.Expected)
	assert.Equal(t, "400.00", *report.Totals.ClosingBalance)
	assert.Equal(t, "0.00", *report.Totals.Difference)
	assert.Equal(t, 2, report.Totals.MovementCount)
	assert.Len(t, report.Movements, 2)
	assert.Equal(t, "-200.00", report.ByCategory["SANGRIA"].Net)

	rec = s.do(http.MethodGet, "/api/sessions/missing/report", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ERROR MAPPING AND HEALTH
// =============================================================================

func TestWriteDomainError_RetryableAndInternal(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), caixa.ErrConcurrentModification)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	s.handler.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal error", resp.Error)
	assert.Empty(t, resp.Details, "internals are not leaked")
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.handler.Health = func(context.Context) error { return errors.New("connection refused") }
	rec = s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSAllowsOperatorHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", operatorHeader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
