/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:
	Provides pre-built scenarios that drive the engine through realistic
	cash-register days. Each scenario works on its own scope ("demo-<id>")
	so it never touches real branches.

AVAILABLE SCENARIOS:

	daily-register:    Open, mensalidade, sangria, refused sangria, close
	mixed-payments:    Entries across every payment method, left OPEN
	correction:        Wrong amount reversed and re-entered
	discrepancy-close: Close with a declared balance below the computed one

HOW SCENARIOS WORK:
 1. Close the scope's OPEN session, if any (sessions are never deleted)
 2. Open a new session
 3. Record movements through the same engine calls the API uses
 4. Optionally close

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "daily-register"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, scope)
 3. Register it in scenarioLoaders

NOTE:

	Only mounted when the router runs with EnableScenarios (non-production).

SEE ALSO:
  - server.go: route registration
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/caixa-engine/caixa"
)

const demoOperator = "demo"

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type ScenarioResultDTO struct {
	Scenario string     `json:"scenario"`
	Session  SessionDTO `json:"session"`
	Balance  string     `json:"balance"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "daily-register",
		Name:        "Daily Register",
		Description: "Open with 500.00, cash mensalidade, bank deposit sangria, refused oversized sangria, close at 400.00",
	},
	{
		ID:          "mixed-payments",
		Name:        "Mixed Payments",
		Description: "Entries through every payment method plus a supplier payment; session stays open",
	},
	{
		ID:          "correction",
		Name:        "Correction",
		Description: "A mensalidade recorded with the wrong amount is reversed and recorded again",
	},
	{
		ID:          "discrepancy-close",
		Name:        "Discrepancy Close",
		Description: "Drawer counted 7.50 short; close goes through with the difference noted",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, scope caixa.Scope) (caixa.Session, error)

var scenarioLoaders = map[string]scenarioLoader{
	"daily-register":    (*Handler).loadDailyRegisterScenario,
	"mixed-payments":    (*Handler).loadMixedPaymentsScenario,
	"correction":        (*Handler).loadCorrectionScenario,
	"discrepancy-close": (*Handler).loadDiscrepancyCloseScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs a predefined scenario on its demo scope.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	scope := caixa.Scope("demo-" + req.ScenarioID)
	if err := h.closeOpenSession(ctx, scope); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	s, err := load(h, ctx, scope)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	balance, err := h.Engine.Reconciliation.ComputeBalance(ctx, s.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.Logger.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("session_id", string(s.ID)))
	writeJSON(w, http.StatusOK, ScenarioResultDTO{
		Scenario: req.ScenarioID,
		Session:  toSessionDTO(s),
		Balance:  money(balance),
	})
}

func (h *Handler) closeOpenSession(ctx context.Context, scope caixa.Scope) error {
	open, err := h.Engine.Sessions.GetOpenSession(ctx, scope)
	if errors.Is(err, caixa.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = h.Engine.Sessions.Close(ctx, open.ID, demoOperator, nil)
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadDailyRegisterScenario(ctx context.Context, scope caixa.Scope) (caixa.Session, error) {
	s, err := h.Engine.Sessions.Open(ctx, scope, dec("500.00"), demoOperator, "demo: daily register")
	if err != nil {
		return caixa.Session{}, err
	}
	if _, err := h.Engine.Ledger.Append(ctx, caixa.MovementDraft{
		SessionID: s.ID, Kind: caixa.KindEntry, Category: caixa.CategoryMensalidade,
		PaymentMethod: caixa.MethodDinheiro, Amount: dec("100.00"),
		Description: "mensalidade Joao", Operator: demoOperator,
	}); err != nil {
		return caixa.Session{}, err
	}
	if _, err := h.Engine.Guard.Sangria(ctx, s.ID, dec("200.00"), "deposito bancario", demoOperator); err != nil {
		return caixa.Session{}, err
	}

	// Refused: leaves the ledger untouched.
	if _, err := h.Engine.Guard.Sangria(ctx, s.ID, dec("1000.00"), "tentativa invalida", demoOperator); !errors.Is(err, caixa.ErrInsufficientBalance) {
		return caixa.Session{}, fmt.Errorf("oversized sangria: expected insufficient balance, got %v", err)
	}

	return h.Engine.Sessions.Close(ctx, s.ID, demoOperator, nil)
}

func (h *Handler) loadMixedPaymentsScenario(ctx context.Context, scope caixa.Scope) (caixa.Session, error) {
	s, err := h.Engine.Sessions.Open(ctx, scope, dec("200.00"), demoOperator, "demo: mixed payments")
	if err != nil {
		return caixa.Session{}, err
	}
	entries := []struct {
		category caixa.Category
		method   caixa.PaymentMethod
		amount   string
		desc     string
	}{
		{caixa.CategoryMensalidade, caixa.MethodDinheiro, "120.00", "mensalidade Ana"},
		{caixa.CategoryMensalidade, caixa.MethodPix, "150.00", "mensalidade Bruno"},
		{caixa.CategoryMatricula, caixa.MethodCartaoCredito, "300.00", "matricula Carla"},
		{caixa.CategoryMensalidade, caixa.MethodCartaoDebito, "150.00", "mensalidade Davi"},
		{caixa.CategoryMensalidade, caixa.MethodBoleto, "150.00", "mensalidade Elisa"},
		{caixa.CategoryOutros, caixa.MethodTransferencia, "45.90", "uniforme"},
		{caixa.CategoryMensalidade, caixa.MethodCheque, "150.00", "mensalidade Fabio"},
	}
	for _, e := range entries {
		if _, err := h.Engine.Ledger.Append(ctx, caixa.MovementDraft{
			SessionID: s.ID, Kind: caixa.KindEntry, Category: e.category,
			PaymentMethod: e.method, Amount: dec(e.amount), Description: e.desc, Operator: demoOperator,
		}); err != nil {
			return caixa.Session{}, err
		}
	}
	if _, err := h.Engine.Ledger.Append(ctx, caixa.MovementDraft{
		SessionID: s.ID, Kind: caixa.KindExit, Category: caixa.CategoryFornecedor,
		PaymentMethod: caixa.MethodPix, Amount: dec("89.90"), Description: "material de limpeza", Operator: demoOperator,
	}); err != nil {
		return caixa.Session{}, err
	}
	if _, err := h.Engine.Guard.Suprimento(ctx, s.ID, dec("50.00"), "troco", demoOperator); err != nil {
		return caixa.Session{}, err
	}
	return s, nil
}

func (h *Handler) loadCorrectionScenario(ctx context.Context, scope caixa.Scope) (caixa.Session, error) {
	s, err := h.Engine.Sessions.Open(ctx, scope, dec("0"), demoOperator, "demo: correction")
	if err != nil {
		return caixa.Session{}, err
	}
	wrong, err := h.Engine.Ledger.Append(ctx, caixa.MovementDraft{
		SessionID: s.ID, Kind: caixa.KindEntry, Category: caixa.CategoryMensalidade,
		PaymentMethod: caixa.MethodPix, Amount: dec("150.00"), Description: "mensalidade Gabi", Operator: demoOperator,
	})
	if err != nil {
		return caixa.Session{}, err
	}
	if _, err := h.Engine.Ledger.Reverse(ctx, s.ID, wrong.ID, "valor errado, era 100.00", demoOperator); err != nil {
		return caixa.Session{}, err
	}
	if _, err := h.Engine.Ledger.Append(ctx, caixa.MovementDraft{
		SessionID: s.ID, Kind: caixa.KindEntry, Category: caixa.CategoryMensalidade,
		PaymentMethod: caixa.MethodPix, Amount: dec("100.00"), Description: "mensalidade Gabi", Operator: demoOperator,
	}); err != nil {
		return caixa.Session{}, err
	}
	return s, nil
}

func (h *Handler) loadDiscrepancyCloseScenario(ctx context.Context, scope caixa.Scope) (caixa.Session, error) {
	s, err := h.Engine.Sessions.Open(ctx, scope, dec("300.00"), demoOperator, "demo: discrepancy close")
	if err != nil {
		return caixa.Session{}, err
	}
	if _, err := h.Engine.Ledger.Append(ctx, caixa.MovementDraft{
		SessionID: s.ID, Kind: caixa.KindEntry, Category: caixa.CategoryMensalidade,
		PaymentMethod: caixa.MethodDinheiro, Amount: dec("57.50"), Description: "mensalidade Hugo", Operator: demoOperator,
	}); err != nil {
		return caixa.Session{}, err
	}
	counted := dec("350.00")
	return h.Engine.Sessions.Close(ctx, s.ID, demoOperator, &counted)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
