package memory_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/adapter"
	"github.com/m-mizutani/socratic/pkg/memory"
	"github.com/m-mizutani/socratic/pkg/model"
)

func userTurn(text string, tokens int) model.Turn {
	return model.Turn{Role: model.RoleUser, Text: text, Tokens: tokens}
}

func assistantTurn(text string, tokens int) model.Turn {
	return model.Turn{Role: model.RoleAssistant, Text: text, Tokens: tokens}
}

func TestAppendAssignsSequence(t *testing.T) {
	m := memory.New()
	sid := model.NewSessionID()

	first, err := m.Append(sid, userTurn("hello", 0))
	gt.NoError(t, err)
	second, err := m.Append(sid, assistantTurn("hello, what do you already know?", 0))
	gt.NoError(t, err)

	gt.Equal(t, first.Seq, int64(0))
	gt.Equal(t, second.Seq, int64(1))
	gt.Equal(t, first.Tokens, 2)
	gt.False(t, first.CreatedAt.IsZero())
	gt.Equal(t, m.Len(sid), 2)
}

func TestAppendValidation(t *testing.T) {
	m := memory.New()

	_, err := m.Append("", userTurn("x", 1))
	gt.Error(t, err)

	_, err = m.Append("s1", model.Turn{Role: "narrator", Text: "x"})
	gt.Error(t, err)
	gt.Equal(t, m.Len("s1"), 0)

	gt.Error(t, m.AppendExchange("s1", assistantTurn("a", 1), userTurn("b", 1)))
	gt.Equal(t, m.Len("s1"), 0)
}

func TestGetContext(t *testing.T) {
	m := memory.New()
	sid := model.SessionID("s1")
	for i, tokens := range []int{5, 3, 4, 2} {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		_, err := m.Append(sid, model.Turn{Role: role, Text: fmt.Sprintf("t%d", i), Tokens: tokens})
		gt.NoError(t, err)
	}

	testCases := map[string]struct {
		budget int
		want   []string
	}{
		"everything fits":     {budget: 14, want: []string{"t0", "t1", "t2", "t3"}},
		"oldest dropped":      {budget: 9, want: []string{"t1", "t2", "t3"}},
		"suffix only":         {budget: 8, want: []string{"t2", "t3"}},
		"gap is not skipped":  {budget: 7, want: []string{"t2", "t3"}},
		"latest always kept":  {budget: 1, want: []string{"t3"}},
		"zero budget":         {budget: 0, want: []string{"t3"}},
		"exactly latest":      {budget: 2, want: []string{"t3"}},
		"latest and one more": {budget: 6, want: []string{"t2", "t3"}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			turns := m.GetContext(sid, tc.budget)
			gt.A(t, turns).Length(len(tc.want))
			total := 0
			for i, turn := range turns {
				gt.Equal(t, turn.Text, tc.want[i])
				total += turn.Tokens
			}
			if len(turns) > 1 {
				gt.Number(t, total).LessOrEqual(tc.budget)
			}
		})
	}

	t.Run("unknown session", func(t *testing.T) {
		gt.A(t, m.GetContext("missing", 100)).Length(0)
	})
}

func TestMaxTokensEvictsOldest(t *testing.T) {
	m := memory.New(memory.WithMaxTokens(10))
	sid := model.SessionID("s1")

	gt.NoError(t, m.AppendExchange(sid, userTurn("q1", 4), assistantTurn("a1", 4)))
	gt.NoError(t, m.AppendExchange(sid, userTurn("q2", 3), assistantTurn("a2", 2)))

	sc, err := m.Snapshot(sid)
	gt.NoError(t, err)
	gt.Number(t, sc.Tokens).LessOrEqual(10)
	gt.A(t, sc.Turns).Length(3)
	gt.Equal(t, sc.Turns[0].Text, "a1")
	gt.Equal(t, sc.Turns[2].Text, "a2")
	gt.Equal(t, sc.Turns[2].Seq, int64(3))

	// an oversized turn replaces everything but is itself kept
	_, err = m.Append(sid, userTurn("huge", 50))
	gt.NoError(t, err)
	sc, err = m.Snapshot(sid)
	gt.NoError(t, err)
	gt.A(t, sc.Turns).Length(1)
	gt.Equal(t, sc.Turns[0].Text, "huge")
	gt.Equal(t, sc.Tokens, 50)
}

func TestSnapshotIsCopy(t *testing.T) {
	m := memory.New()
	sid := model.SessionID("s1")
	_, err := m.Append(sid, userTurn("original", 1))
	gt.NoError(t, err)

	sc, err := m.Snapshot(sid)
	gt.NoError(t, err)
	sc.Turns[0].Text = "changed"

	gt.Equal(t, m.GetContext(sid, 10)[0].Text, "original")

	_, err = m.Snapshot("missing")
	gt.True(t, errors.Is(err, model.ErrSessionNotFound))
}

func TestSessionsAreIsolated(t *testing.T) {
	m := memory.New()
	gt.NoError(t, m.AppendExchange("a", userTurn("qa", 1), assistantTurn("aa", 1)))
	gt.NoError(t, m.AppendExchange("b", userTurn("qb", 1), assistantTurn("ab", 1)))

	gt.Equal(t, m.GetContext("a", 10)[0].Text, "qa")
	gt.Equal(t, m.GetContext("b", 10)[0].Text, "qb")

	gt.True(t, m.Evict("a"))
	gt.False(t, m.Evict("a"))
	gt.Equal(t, m.Len("a"), 0)
	gt.Equal(t, m.Len("b"), 2)
}

func TestConcurrentAppendKeepsOrder(t *testing.T) {
	m := memory.New()
	sid := model.SessionID("shared")

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				err := m.AppendExchange(sid,
					userTurn(fmt.Sprintf("q-%d-%d", w, i), 1),
					assistantTurn(fmt.Sprintf("a-%d-%d", w, i), 1))
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	sc, err := m.Snapshot(sid)
	gt.NoError(t, err)
	gt.A(t, sc.Turns).Length(400)
	for i, turn := range sc.Turns {
		gt.Equal(t, turn.Seq, int64(i))
		if i%2 == 0 {
			gt.Equal(t, turn.Role, model.RoleUser)
			// every user turn is directly followed by its own answer
			gt.Equal(t, sc.Turns[i+1].Text, "a"+turn.Text[1:])
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockStorage() *mockStorage {
	return &mockStorage{objects: make(map[string][]byte)}
}

type objectWriter struct {
	bytes.Buffer
	commit func([]byte)
}

func (w *objectWriter) Close() error {
	w.commit(w.Bytes())
	return nil
}

func (s *mockStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	return &objectWriter{commit: func(b []byte) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.objects[key] = append([]byte(nil), b...)
	}}, nil
}

func (s *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, adapter.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := memory.New(memory.WithClock(clock.Now))

	gt.NoError(t, m.AppendExchange("old", userTurn("q", 1), assistantTurn("a", 1)))
	clock.Advance(20 * time.Minute)
	gt.NoError(t, m.AppendExchange("fresh", userTurn("q", 1), assistantTurn("a", 1)))
	clock.Advance(5 * time.Minute)

	n, err := m.Sweep(ctx, 10*time.Minute)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
	gt.Equal(t, m.Len("old"), 0)
	gt.Equal(t, m.Len("fresh"), 2)
}

func TestSweepArchivesAndRestores(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	storage := newMockStorage()
	archiver := memory.NewStorageArchiver(storage)
	m := memory.New(memory.WithClock(clock.Now), memory.WithArchiver(archiver))

	gt.NoError(t, m.AppendExchange("s1", userTurn("what is a campanile?", 0), assistantTurn("what do bells need?", 0)))
	clock.Advance(time.Hour)

	n, err := m.Sweep(ctx, time.Minute)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
	gt.Equal(t, m.Len("s1"), 0)

	sc, err := archiver.Restore(ctx, "s1")
	gt.NoError(t, err)
	gt.A(t, sc.Turns).Length(2)
	gt.Equal(t, sc.Turns[0].Text, "what is a campanile?")

	gt.NoError(t, m.Load(sc))
	gt.Error(t, m.Load(sc))
	gt.Equal(t, m.Len("s1"), 2)

	turn, err := m.Append("s1", userTurn("they hang high", 0))
	gt.NoError(t, err)
	gt.Equal(t, turn.Seq, int64(2))

	_, err = archiver.Restore(ctx, "missing")
	gt.True(t, errors.Is(err, model.ErrSessionNotFound))
}

func TestSweepKeepsSessionWhenArchiveFails(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	storage := newMockStorage()
	storage.putErr = errors.New("bucket unavailable")
	m := memory.New(memory.WithClock(clock.Now), memory.WithArchiver(memory.NewStorageArchiver(storage)))

	gt.NoError(t, m.AppendExchange("s1", userTurn("q", 1), assistantTurn("a", 1)))
	clock.Advance(time.Hour)

	n, err := m.Sweep(ctx, time.Minute)
	gt.Error(t, err)
	gt.Equal(t, n, 0)
	gt.Equal(t, m.Len("s1"), 2)
}
