// Package store provides in-process caixa.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/caixa-engine/caixa"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps sessions and movements in maps guarded by one mutex.
// WithSessionLock holds that mutex for the whole callback, so it serializes
// every writer, not only those of the same session.
type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	sessions  map[caixa.SessionID]caixa.Session
	order     []caixa.SessionID // insertion order
	movements map[caixa.SessionID][]caixa.Movement
	byID      map[caixa.MovementID]caixa.Movement
	reversed  map[caixa.MovementID]bool
}

func NewMemory() *Memory {
	return &Memory{state: memoryState{
		sessions:  make(map[caixa.SessionID]caixa.Session),
		movements: make(map[caixa.SessionID][]caixa.Movement),
		byID:      make(map[caixa.MovementID]caixa.Movement),
		reversed:  make(map[caixa.MovementID]bool),
	}}
}

var _ caixa.TxStore = (*Memory)(nil)

func (m *Memory) CreateSession(_ context.Context, s caixa.Session) (caixa.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createSession(s)
}

func (m *Memory) GetSession(_ context.Context, id caixa.SessionID) (caixa.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getSession(id)
}

func (m *Memory) FindOpenSession(_ context.Context, scope caixa.Scope) (caixa.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findOpen(scope)
}

func (m *Memory) ListSessions(_ context.Context, q caixa.SessionQuery) ([]caixa.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.list(q), nil
}

func (m *Memory) CloseSession(_ context.Context, id caixa.SessionID, c caixa.Closure) (caixa.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.close(id, c)
}

func (m *Memory) AppendMovement(_ context.Context, mov caixa.Movement) (caixa.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.append(mov)
}

func (m *Memory) LoadMovements(_ context.Context, id caixa.SessionID) ([]caixa.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.load(id), nil
}

func (m *Memory) GetMovement(_ context.Context, id caixa.MovementID) (caixa.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getMovement(id)
}

func (m *Memory) IsMovementReversed(_ context.Context, id caixa.MovementID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.reversed[id], nil
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback
// =============================================================================

// WithSessionLock executes fn with the store locked. Writes made through the
// view are discarded if fn returns an error.
func (m *Memory) WithSessionLock(ctx context.Context, _ caixa.SessionID, fn func(caixa.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memoryState) clone() memoryState {
	out := memoryState{
		sessions:  make(map[caixa.SessionID]caixa.Session, len(s.sessions)),
		order:     append([]caixa.SessionID(nil), s.order...),
		movements: make(map[caixa.SessionID][]caixa.Movement, len(s.movements)),
		byID:      make(map[caixa.MovementID]caixa.Movement, len(s.byID)),
		reversed:  make(map[caixa.MovementID]bool, len(s.reversed)),
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.movements {
		out.movements[k] = append([]caixa.Movement(nil), v...)
	}
	for k, v := range s.byID {
		out.byID[k] = v
	}
	for k, v := range s.reversed {
		out.reversed[k] = v
	}
	return out
}

// memoryView is the Store handed to WithSessionLock callbacks. The parent
// lock is already held, so it must not lock again.
type memoryView struct {
	state *memoryState
}

func (v *memoryView) CreateSession(_ context.Context, s caixa.Session) (caixa.Session, error) {
	return v.state.createSession(s)
}

func (v *memoryView) GetSession(_ context.Context, id caixa.SessionID) (caixa.Session, error) {
	return v.state.getSession(id)
}

func (v *memoryView) FindOpenSession(_ context.Context, scope caixa.Scope) (caixa.Session, error) {
	return v.state.findOpen(scope)
}

func (v *memoryView) ListSessions(_ context.Context, q caixa.SessionQuery) ([]caixa.Session, error) {
	return v.state.list(q), nil
}

func (v *memoryView) CloseSession(_ context.Context, id caixa.SessionID, c caixa.Closure) (caixa.Session, error) {
	return v.state.close(id, c)
}

func (v *memoryView) AppendMovement(_ context.Context, mov caixa.Movement) (caixa.Movement, error) {
	return v.state.append(mov)
}

func (v *memoryView) LoadMovements(_ context.Context, id caixa.SessionID) ([]caixa.Movement, error) {
	return v.state.load(id), nil
}

func (v *memoryView) GetMovement(_ context.Context, id caixa.MovementID) (caixa.Movement, error) {
	return v.state.getMovement(id)
}

func (v *memoryView) IsMovementReversed(_ context.Context, id caixa.MovementID) (bool, error) {
	return v.state.reversed[id], nil
}

// =============================================================================
// STATE OPERATIONS - callers hold the lock
// =============================================================================

func (s *memoryState) createSession(sess caixa.Session) (caixa.Session, error) {
	var last int64
	for _, id := range s.order {
		existing := s.sessions[id]
		if existing.Scope != sess.Scope {
			continue
		}
		if existing.IsOpen() {
			return caixa.Session{}, caixa.ErrSessionAlreadyOpen
		}
		if existing.SequenceNumber > last {
			last = existing.SequenceNumber
		}
	}
	sess.Status = caixa.StatusOpen
	sess.SequenceNumber = last + 1
	sess.ClosedAt = nil
	sess.ClosingBalance = caixa.Session{}.ClosingBalance
	sess.ClosedBy = ""
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	return cloneSession(sess), nil
}

func (s *memoryState) getSession(id caixa.SessionID) (caixa.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return caixa.Session{}, caixa.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *memoryState) findOpen(scope caixa.Scope) (caixa.Session, error) {
	for _, id := range s.order {
		if sess := s.sessions[id]; sess.Scope == scope && sess.IsOpen() {
			return cloneSession(sess), nil
		}
	}
	return caixa.Session{}, caixa.ErrNotFound
}

func (s *memoryState) list(q caixa.SessionQuery) []caixa.Session {
	out := make([]caixa.Session, 0)
	for _, id := range s.order {
		sess := s.sessions[id]
		if q.Scope != "" && sess.Scope != q.Scope {
			continue
		}
		if q.Status != "" && sess.Status != q.Status {
			continue
		}
		out = append(out, cloneSession(sess))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].SequenceNumber > out[j].SequenceNumber
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return out[:0]
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func (s *memoryState) close(id caixa.SessionID, c caixa.Closure) (caixa.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return caixa.Session{}, caixa.ErrNotFound
	}
	if !sess.IsOpen() {
		return caixa.Session{}, caixa.ErrAlreadyClosed
	}
	closedAt := c.ClosedAt
	sess.Status = caixa.StatusClosed
	sess.ClosedAt = &closedAt
	sess.ClosingBalance.Decimal = c.ClosingBalance
	sess.ClosingBalance.Valid = true
	sess.ClosedBy = c.ClosedBy
	sess.Notes = c.Notes
	s.sessions[id] = sess
	return cloneSession(sess), nil
}

func (s *memoryState) append(mov caixa.Movement) (caixa.Movement, error) {
	sess, ok := s.sessions[mov.SessionID]
	if !ok {
		return caixa.Movement{}, caixa.ErrNotFound
	}
	if !sess.IsOpen() {
		return caixa.Movement{}, caixa.ErrSessionClosed
	}
	if mov.ReversalOf != nil && s.reversed[*mov.ReversalOf] {
		return caixa.Movement{}, caixa.ErrConcurrentModification
	}
	mov = cloneMovement(mov)
	mov.Sequence = int64(len(s.movements[mov.SessionID])) + 1
	s.movements[mov.SessionID] = append(s.movements[mov.SessionID], mov)
	s.byID[mov.ID] = mov
	if mov.ReversalOf != nil {
		s.reversed[*mov.ReversalOf] = true
	}
	return cloneMovement(mov), nil
}

func (s *memoryState) load(id caixa.SessionID) []caixa.Movement {
	stored := s.movements[id]
	out := make([]caixa.Movement, len(stored))
	for i, mov := range stored {
		out[i] = cloneMovement(mov)
	}
	return out
}

func (s *memoryState) getMovement(id caixa.MovementID) (caixa.Movement, error) {
	mov, ok := s.byID[id]
	if !ok {
		return caixa.Movement{}, caixa.ErrNotFound
	}
	return cloneMovement(mov), nil
}

// cloneSession and cloneMovement copy the pointer fields so stored records
// never share memory with callers.
func cloneSession(sess caixa.Session) caixa.Session {
	if sess.ClosedAt != nil {
		closedAt := *sess.ClosedAt
		sess.ClosedAt = &closedAt
	}
	return sess
}

func cloneMovement(mov caixa.Movement) caixa.Movement {
	if mov.ReversalOf != nil {
		ref := *mov.ReversalOf
		mov.ReversalOf = &ref
	}
	return mov
}
