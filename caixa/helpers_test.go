package caixa_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/caixa-engine/caixa"
	"github.com/warp/caixa-engine/caixa/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stepClock returns a deterministic clock advancing one minute per call.
func stepClock(start time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		now = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

// seqIDs returns deterministic ids: id-1, id-2, ...
func seqIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEngine(t *testing.T) (*caixa.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := caixa.New(mem, caixa.Options{
		Now:   stepClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)),
		NewID: seqIDs(),
	})
	return engine, mem
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openSession(t *testing.T, e *caixa.Engine, scope caixa.Scope, balance string) caixa.Session {
	t.Helper()
	s, err := e.Sessions.Open(context.Background(), scope, d(balance), "op-1", "")
	require.NoError(t, err)
	return s
}

func entry(id caixa.SessionID, category caixa.Category, method caixa.PaymentMethod, amount string) caixa.MovementDraft {
	return caixa.MovementDraft{
		SessionID:     id,
		Kind:          caixa.KindEntry,
		Category:      category,
		PaymentMethod: method,
		Amount:        d(amount),
		Operator:      "op-1",
	}
}

func exit(id caixa.SessionID, category caixa.Category, method caixa.PaymentMethod, amount string) caixa.MovementDraft {
	dr := entry(id, category, method, amount)
	dr.Kind = caixa.KindExit
	return dr
}

func balanceOf(t *testing.T, e *caixa.Engine, id caixa.SessionID) string {
	t.Helper()
	b, err := e.Reconciliation.ComputeBalance(context.Background(), id)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func movementCount(t *testing.T, e *caixa.Engine, id caixa.SessionID) int {
	t.Helper()
	movs, err := e.Ledger.List(context.Background(), id, caixa.Window{})
	require.NoError(t, err)
	return len(movs)
}
