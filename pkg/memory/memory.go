// Package memory keeps a bounded, append-only turn log per dialogue session.
package memory

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
)

// Archiver persists a session before it is swept from memory.
type Archiver interface {
	Archive(ctx context.Context, sc *model.SessionContext) error
}

// Memory is safe for concurrent use. Appends to one session are serialized;
// different sessions proceed in parallel.
type Memory struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*session

	estimate  func(string) int
	maxTokens int
	now       func() time.Time
	archiver  Archiver
}

type session struct {
	mu      sync.Mutex
	ctx     model.SessionContext
	evicted bool
}

type Option func(*Memory)

// WithEstimator replaces the token estimator used for turns without a count.
func WithEstimator(fn func(string) int) Option {
	return func(m *Memory) {
		m.estimate = fn
	}
}

// WithMaxTokens bounds each session. Oldest turns are dropped to stay within n,
// but the most recent turn is always kept. Zero means unbounded.
func WithMaxTokens(n int) Option {
	return func(m *Memory) {
		m.maxTokens = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

func WithArchiver(a Archiver) Option {
	return func(m *Memory) {
		m.archiver = a
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		sessions: make(map[model.SessionID]*session),
		estimate: EstimateTokens,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EstimateTokens approximates a token count as one token per four runes.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// acquire returns the locked session for sid, creating it if needed.
func (m *Memory) acquire(sid model.SessionID) *session {
	for {
		m.mu.Lock()
		s, ok := m.sessions[sid]
		if !ok {
			s = &session{ctx: model.SessionContext{ID: sid, Turns: []model.Turn{}}}
			m.sessions[sid] = s
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.evicted {
			return s
		}
		s.mu.Unlock()
	}
}

func (m *Memory) lookup(sid model.SessionID) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sid]
}

func (m *Memory) prepare(turn model.Turn) (model.Turn, error) {
	if err := turn.Role.Validate(); err != nil {
		return turn, err
	}
	if turn.Tokens <= 0 {
		turn.Tokens = m.estimate(turn.Text)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = m.now()
	}
	return turn, nil
}

// Append records turn at the end of the session and returns it with its
// sequence number assigned.
func (m *Memory) Append(sid model.SessionID, turn model.Turn) (model.Turn, error) {
	if sid == "" {
		return turn, goerr.New("session id is required")
	}
	turn, err := m.prepare(turn)
	if err != nil {
		return turn, err
	}

	s := m.acquire(sid)
	defer s.mu.Unlock()

	turn = s.push(turn)
	s.trim(m.maxTokens)
	s.ctx.UpdatedAt = m.now()
	return turn, nil
}

// AppendExchange records a user turn and its reply together. Either both are
// stored or neither is.
func (m *Memory) AppendExchange(sid model.SessionID, user, assistant model.Turn) error {
	if sid == "" {
		return goerr.New("session id is required")
	}
	if user.Role != model.RoleUser || assistant.Role != model.RoleAssistant {
		return goerr.New("exchange must be a user turn followed by an assistant turn",
			goerr.V("first", user.Role),
			goerr.V("second", assistant.Role))
	}

	user, err := m.prepare(user)
	if err != nil {
		return err
	}
	assistant, err = m.prepare(assistant)
	if err != nil {
		return err
	}

	s := m.acquire(sid)
	defer s.mu.Unlock()

	s.push(user)
	s.push(assistant)
	s.trim(m.maxTokens)
	s.ctx.UpdatedAt = m.now()
	return nil
}

func (s *session) push(turn model.Turn) model.Turn {
	turn.Seq = s.ctx.NextSeq
	s.ctx.NextSeq++
	s.ctx.Turns = append(s.ctx.Turns, turn)
	s.ctx.Tokens += turn.Tokens
	return turn
}

func (s *session) trim(maxTokens int) {
	if maxTokens <= 0 {
		return
	}
	drop := 0
	for s.ctx.Tokens > maxTokens && len(s.ctx.Turns)-drop > 1 {
		s.ctx.Tokens -= s.ctx.Turns[drop].Tokens
		drop++
	}
	if drop > 0 {
		s.ctx.Turns = append([]model.Turn{}, s.ctx.Turns[drop:]...)
	}
}

// GetContext returns the longest suffix of the session whose token total fits
// in budget. The most recent turn is returned even if it alone exceeds budget.
// An unknown session yields an empty slice.
func (m *Memory) GetContext(sid model.SessionID, budget int) []model.Turn {
	s := m.lookup(sid)
	if s == nil {
		return []model.Turn{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.ctx.Turns
	if len(turns) == 0 {
		return []model.Turn{}
	}

	start := len(turns) - 1
	total := turns[start].Tokens
	for start > 0 && total+turns[start-1].Tokens <= budget {
		start--
		total += turns[start].Tokens
	}
	return append([]model.Turn{}, turns[start:]...)
}

// Len returns the number of turns stored for sid.
func (m *Memory) Len(sid model.SessionID) int {
	s := m.lookup(sid)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ctx.Turns)
}

// Snapshot returns a copy of the whole session.
func (m *Memory) Snapshot(sid model.SessionID) (*model.SessionContext, error) {
	s := m.lookup(sid)
	if s == nil {
		return nil, goerr.Wrap(model.ErrSessionNotFound, "failed to snapshot session", goerr.V("session_id", sid))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

func (s *session) snapshot() *model.SessionContext {
	sc := s.ctx
	sc.Turns = append([]model.Turn{}, s.ctx.Turns...)
	return &sc
}

// Load installs a previously archived session. An existing session with the
// same id is left untouched and an error is returned.
func (m *Memory) Load(sc *model.SessionContext) error {
	if sc == nil || sc.ID == "" {
		return goerr.New("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sc.ID]; ok {
		return goerr.New("session already exists", goerr.V("session_id", sc.ID))
	}

	s := &session{ctx: *sc}
	s.ctx.Turns = append([]model.Turn{}, sc.Turns...)
	s.ctx.Tokens = 0
	for _, t := range s.ctx.Turns {
		s.ctx.Tokens += t.Tokens
		if t.Seq >= s.ctx.NextSeq {
			s.ctx.NextSeq = t.Seq + 1
		}
	}
	s.trim(m.maxTokens)
	m.sessions[sc.ID] = s
	return nil
}

// Evict drops the session. It reports whether the session existed.
func (m *Memory) Evict(sid model.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sid]
	if !ok {
		return false
	}
	s.mu.Lock()
	s.evicted = true
	s.mu.Unlock()
	delete(m.sessions, sid)
	return true
}

// Sweep evicts sessions not updated within idle and returns how many were
// removed. With an archiver configured, a session is only evicted after it has
// been archived; archive failures leave the session in place.
func (m *Memory) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	deadline := m.now().Add(-idle)

	m.mu.RLock()
	candidates := make([]*session, 0)
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var firstErr error
	evicted := 0
	for _, s := range candidates {
		if err := ctx.Err(); err != nil {
			return evicted, goerr.Wrap(err, "sweep interrupted")
		}

		s.mu.Lock()
		stale := !s.evicted && s.ctx.UpdatedAt.Before(deadline)
		snap := s.snapshot()
		s.mu.Unlock()
		if !stale {
			continue
		}

		if m.archiver != nil {
			if err := m.archiver.Archive(ctx, snap); err != nil {
				logging.From(ctx).Warn("failed to archive session", "session_id", snap.ID, "error", err)
				if firstErr == nil {
					firstErr = goerr.Wrap(err, "failed to archive session", goerr.V("session_id", snap.ID))
				}
				continue
			}
		}

		if m.evictIfUnchanged(s, snap.UpdatedAt) {
			logging.From(ctx).Debug("session swept", "session_id", snap.ID, "turns", len(snap.Turns))
			evicted++
		}
	}

	return evicted, firstErr
}

func (m *Memory) evictIfUnchanged(s *session, updatedAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted || !s.ctx.UpdatedAt.Equal(updatedAt) {
		return false
	}
	s.evicted = true
	delete(m.sessions, s.ctx.ID)
	return true
}
