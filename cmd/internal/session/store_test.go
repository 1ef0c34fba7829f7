package session

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/cmd/security/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, timeout time.Duration) (*Store, *fakeClock) {
	t.Helper()

	clk := newFakeClock()
	cfg := DefaultConfig()
	cfg.Timeout = timeout

	s, err := New(cfg,
		WithClock(clk.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, clk
}

func sampleDetails() Details {
	return Details{
		Host:      "db.internal",
		Port:      52773,
		Namespace: "USER",
		Username:  "_SYSTEM",
		Password:  "s3cret",
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrConfig)
}

func TestCreate_ThenValidate(t *testing.T) {
	s, clk := newTestStore(t, time.Minute)

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(tok), 43, "32 bytes base64url")

	got, ok := s.Validate(TokenSource{Cookie: tok})
	require.True(t, ok)
	assert.Equal(t, tok, got.Token)
	assert.Equal(t, sampleDetails(), got.Details)
	assert.Equal(t, clk.Now(), got.CreatedAt)
	assert.Equal(t, time.Minute, got.Timeout)
	assert.Equal(t, 1, s.Count())
}

func TestCreate_TokensAreDistinct(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		tok, err := s.Create(sampleDetails())
		require.NoError(t, err)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
	assert.Equal(t, 200, s.Count())
}

func TestValidate_UnknownOrEmpty(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	_, ok := s.Validate(TokenSource{})
	assert.False(t, ok)

	_, ok = s.Validate(TokenSource{Query: "nope"})
	assert.False(t, ok)
}

func TestSlidingWindow(t *testing.T) {
	s, clk := newTestStore(t, 100*time.Millisecond)

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)

	clk.Advance(60 * time.Millisecond)
	_, ok := s.Lookup(tok)
	require.True(t, ok, "touched at 60ms")

	clk.Advance(60 * time.Millisecond)
	_, ok = s.Lookup(tok)
	require.True(t, ok, "120ms since create, 60ms since last access")

	clk.Advance(160 * time.Millisecond)
	_, ok = s.Lookup(tok)
	assert.False(t, ok, "idle for a full window")
	assert.Equal(t, 0, s.Count())
}

func TestExpiry_AtExactBoundary(t *testing.T) {
	s, clk := newTestStore(t, 100*time.Millisecond)

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)

	clk.Advance(100 * time.Millisecond)
	assert.False(t, s.Touch(tok))
}

func TestDestroy_Idempotent(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)

	assert.True(t, s.Destroy(tok))
	assert.False(t, s.Destroy(tok))
	assert.False(t, s.Destroy(""))
	assert.Equal(t, 0, s.Count())

	require.Len(t, events, 1)
	assert.Equal(t, ReasonDestroyed, events[0].Reason)
	assert.Equal(t, tok, events[0].Token)
	assert.Equal(t, "USER", events[0].Namespace)
}

func TestReplace_KeepsCountStable(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	var reasons []Reason
	s.Subscribe(func(ev Event) { reasons = append(reasons, ev.Reason) })

	first, err := s.Create(sampleDetails())
	require.NoError(t, err)

	d := sampleDetails()
	d.Namespace = "SAMPLES"
	second, err := s.Replace(first, d)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, s.Count())

	_, ok := s.Lookup(first)
	assert.False(t, ok)

	got, ok := s.Lookup(second)
	require.True(t, ok)
	assert.Equal(t, "SAMPLES", got.Namespace)
	assert.Equal(t, []Reason{ReasonReplaced}, reasons)
}

func TestReplace_UnknownOldStillCreates(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	tok, err := s.Replace("gone", sampleDetails())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, 1, s.Count())
}

func TestReplace_TokenFailureKeepsOldSession(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	var reasons []Reason
	s.Subscribe(func(ev Event) { reasons = append(reasons, ev.Reason) })

	old, err := s.Create(sampleDetails())
	require.NoError(t, err)

	s.newToken = func(int) (string, error) { return "", token.ErrEntropy }

	_, err = s.Replace(old, sampleDetails())
	require.ErrorIs(t, err, token.ErrEntropy)

	got, ok := s.Lookup(old)
	require.True(t, ok)
	assert.Equal(t, "USER", got.Namespace)
	assert.Equal(t, 1, s.Count())
	assert.Empty(t, reasons)
}

func TestSessionsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	toks := make([]string, 5)
	for i := range toks {
		d := sampleDetails()
		d.Username = string(rune('a' + i))
		tok, err := s.Create(d)
		require.NoError(t, err)
		toks[i] = tok
	}

	require.True(t, s.Destroy(toks[2]))

	for i, tok := range toks {
		got, ok := s.Lookup(tok)
		if i == 2 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, string(rune('a'+i)), got.Username)
	}
	assert.Equal(t, 4, s.Count())
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	s, clk := newTestStore(t, 100*time.Millisecond)

	stale, err := s.Create(sampleDetails())
	require.NoError(t, err)

	clk.Advance(50 * time.Millisecond)
	fresh, err := s.Create(sampleDetails())
	require.NoError(t, err)

	clk.Advance(60 * time.Millisecond)
	assert.Equal(t, 1, s.Sweep())

	_, ok := s.Lookup(stale)
	assert.False(t, ok)
	_, ok = s.Lookup(fresh)
	assert.True(t, ok)
}

func TestExpiry_NotifiesExactlyOnceUnderRace(t *testing.T) {
	s, clk := newTestStore(t, 100*time.Millisecond)

	var fired atomic.Int32
	s.Subscribe(func(ev Event) {
		if ev.Reason == ReasonExpired {
			fired.Add(1)
		}
	})

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)
	clk.Advance(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Sweep()
		}()
		go func() {
			defer wg.Done()
			s.Lookup(tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, s.Count())
}

func TestSubscribe_PanicIsContained(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	var calls atomic.Int32
	s.Subscribe(func(Event) { panic("boom") })
	s.Subscribe(func(Event) { calls.Add(1) })

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)
	require.NotPanics(t, func() { s.Destroy(tok) })
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubscribe_CallbackMayReenterStore(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	var count int
	s.Subscribe(func(Event) { count = s.Count() })

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)
	s.Destroy(tok)
	assert.Equal(t, 0, count)
}

func TestUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	var calls int
	unsub := s.Subscribe(func(Event) { calls++ })
	unsub()
	unsub()

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)
	s.Destroy(tok)
	assert.Equal(t, 0, calls)
}

func TestStartSweeper_EvictsInBackground(t *testing.T) {
	cfg := Config{Timeout: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond, TokenBytes: 32}
	s, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer s.Close()

	removed := make(chan Event, 1)
	s.Subscribe(func(ev Event) { removed <- ev })

	_, err = s.Create(sampleDetails())
	require.NoError(t, err)

	s.StartSweeper()
	s.StartSweeper()

	select {
	case ev := <-removed:
		assert.Equal(t, ReasonExpired, ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not evict")
	}
	assert.Equal(t, 0, s.Count())
}

func TestSummary_ClampsRemaining(t *testing.T) {
	s, clk := newTestStore(t, time.Minute)

	tok, err := s.Create(sampleDetails())
	require.NoError(t, err)
	got, ok := s.Lookup(tok)
	require.True(t, ok)

	clk.Advance(20 * time.Second)
	sum := got.Summary(clk.Now())
	assert.Equal(t, 40*time.Second, sum.TimeoutRemaining)
	assert.Equal(t, "USER", sum.Namespace)
	assert.Equal(t, "_SYSTEM", sum.Username)

	assert.Equal(t, time.Duration(0), got.Summary(clk.Now().Add(time.Hour)).TimeoutRemaining)
}
