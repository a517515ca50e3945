/*
monitor.go - Background watch on long-open cash sessions

PURPOSE:
  A drawer left open overnight usually means a forgotten close. The monitor
  periodically lists OPEN sessions across all scopes and logs a warning for
  each one open longer than MaxOpenAge.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Read-only: never closes or touches a session
  - Checks once immediately on Start, then on every tick

USAGE:
  monitor := NewSessionMonitor(engine.Sessions, logger)
  monitor.MaxOpenAge = 12 * time.Hour
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - caixa/session.go: SessionManager.List
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/caixa-engine/caixa"
)

// SessionMonitor reports sessions that stay OPEN for too long.
type SessionMonitor struct {
	Sessions      *caixa.SessionManager
	CheckInterval time.Duration
	MaxOpenAge    time.Duration
	Enabled       bool
	Now           func() time.Time

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionMonitor creates a monitor with a 5 minute interval and a 12 hour
// threshold.
func NewSessionMonitor(sessions *caixa.SessionManager, logger *zap.Logger) *SessionMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionMonitor{
		Sessions:      sessions,
		CheckInterval: 5 * time.Minute,
		MaxOpenAge:    12 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		logger:        logger.Named("monitor"),
	}
}

// Start begins the periodic check. Calling Start twice is a no-op.
func (m *SessionMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		m.logger.Info("disabled, not starting")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run()

	m.logger.Info("started",
		zap.Duration("interval", m.CheckInterval),
		zap.Duration("max_open_age", m.MaxOpenAge))
}

// Stop halts the monitor and waits for an in-flight check.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.logger.Info("stopped")
}

func (m *SessionMonitor) run() {
	defer m.wg.Done()

	m.Check(context.Background())
	for {
		select {
		case <-m.ticker.C:
			m.Check(context.Background())
		case <-m.stop:
			return
		}
	}
}

// Check logs and returns the sessions open longer than MaxOpenAge.
func (m *SessionMonitor) Check(ctx context.Context) []caixa.Session {
	open, err := m.Sessions.List(ctx, caixa.SessionQuery{Status: caixa.StatusOpen})
	if err != nil {
		m.logger.Error("failed to list open sessions", zap.Error(err))
		return nil
	}

	now := m.Now()
	var stale []caixa.Session
	for _, s := range open {
		age := now.Sub(s.OpenedAt)
		if age <= m.MaxOpenAge {
			continue
		}
		stale = append(stale, s)
		m.logger.Warn("session open longer than allowed",
			zap.String("session_id", string(s.ID)),
			zap.String("scope", string(s.Scope)),
			zap.Int64("sequence_number", s.SequenceNumber),
			zap.String("opened_by", s.OpenedBy),
			zap.Duration("age", age))
	}
	m.logger.Debug("open sessions checked",
		zap.Int("open", len(open)),
		zap.Int("stale", len(stale)))
	return stale
}
