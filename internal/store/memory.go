package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/davidsunday2/careersim/internal/session"
)

type turnKey struct {
	sessionID string
	seq       int
}

// Memory is an in-process Store used in tests and single-node deployments
// without a database configured.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	turns    map[turnKey]session.Turn
	reports  map[string]session.FeedbackReport
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]session.Session),
		turns:    make(map[turnKey]session.Turn),
		reports:  make(map[string]session.FeedbackReport),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	out := s
	return &out, nil
}

func (m *Memory) UpdateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return session.ErrSessionNotFound
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) SaveTurn(_ context.Context, t *session.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[turnKey{t.SessionID, t.Seq}] = cloneTurn(t)
	return nil
}

func (m *Memory) GetTurn(_ context.Context, sessionID string, seq int) (*session.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[turnKey{sessionID, seq}]
	if !ok {
		return nil, session.ErrTurnNotFound
	}
	out := cloneTurn(&t)
	return &out, nil
}

func (m *Memory) ListTurns(_ context.Context, sessionID string) ([]session.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var turns []session.Turn
	for k, t := range m.turns {
		if k.sessionID == sessionID {
			turns = append(turns, cloneTurn(&t))
		}
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
	return turns, nil
}

func (m *Memory) SaveReport(_ context.Context, r *session.FeedbackReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.SessionID]; ok {
		return session.ErrReportAlreadyGenerated
	}
	m.reports[r.SessionID] = *r
	return nil
}

func (m *Memory) GetReport(_ context.Context, sessionID string) (*session.FeedbackReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[sessionID]
	if !ok {
		return nil, session.ErrReportNotFound
	}
	out := r
	return &out, nil
}

// cloneTurn copies the turn's reference fields so callers cannot mutate
// stored state through returned pointers.
func cloneTurn(t *session.Turn) session.Turn {
	out := *t
	if t.Annotation != nil {
		a := *t.Annotation
		a.Strengths = append([]string(nil), t.Annotation.Strengths...)
		a.Improvements = append([]string(nil), t.Annotation.Improvements...)
		out.Annotation = &a
	}
	if t.StatusTimes != nil {
		times := make(map[session.TurnStatus]time.Time, len(t.StatusTimes))
		for k, v := range t.StatusTimes {
			times[k] = v
		}
		out.StatusTimes = times
	}
	return out
}
