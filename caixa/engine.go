package caixa

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures the ledger components. Zero values get sensible defaults.
type Options struct {
	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time

	// NewID returns a fresh opaque identifier. Defaults to UUIDv4.
	NewID func() string

	Logger *zap.Logger

	// OpenRetries bounds how often Open retries a sequence-number race.
	OpenRetries uint64
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OpenRetries == 0 {
		o.OpenRetries = 3
	}
	return o
}

// Engine bundles the four ledger components over one store.
type Engine struct {
	Sessions       *SessionManager
	Ledger         *MovementLedger
	Guard          *ValidationGuard
	Reconciliation *ReconciliationEngine
}

// New wires every component to store.
func New(store TxStore, opts Options) *Engine {
	opts = opts.withDefaults()
	ledger := NewMovementLedger(store, opts)
	return &Engine{
		Sessions:       NewSessionManager(store, opts),
		Ledger:         ledger,
		Guard:          NewValidationGuard(ledger),
		Reconciliation: NewReconciliationEngine(store),
	}
}
