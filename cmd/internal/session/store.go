package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridlink/cmd/security/token"
)

// Store is the in-memory session registry.
//
// Concurrency model:
//   - mu guards records; every operation completes its read-modify-write under it.
//   - Subscriber callbacks run after mu is released, so a subscriber may call back
//     into the store.
//   - Only the goroutine that deletes a record fires its notification.
type Store struct {
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	newToken func(n int) (string, error)
	sealer   *sealer

	mu      sync.Mutex
	records map[string]*record

	subMu   sync.RWMutex
	subs    map[uint64]func(Event)
	nextSub uint64

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

type record struct {
	details      Details
	sealedPass   []byte
	createdAt    time.Time
	lastActivity time.Time
	timeout      time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a Store. The sweeper is not started; call StartSweeper.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sl, err := newSealer()
	if err != nil {
		return nil, fmt.Errorf("session: sealer: %w", err)
	}

	s := &Store{
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
		newToken: token.NewOpaque,
		sealer:   sl,
		records:  make(map[string]*record),
		subs:     make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Timeout returns the configured idle window.
func (s *Store) Timeout() time.Duration { return s.cfg.Timeout }

// Create stores a new session and returns its token.
func (s *Store) Create(d Details) (string, error) {
	rec, err := s.newRecord(d)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	tok, err := s.insertLocked(rec)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.log.Info("session.create", "token_fp", token.Fingerprint(tok), "namespace", d.Namespace, "username", d.Username)
	return tok, nil
}

// Replace destroys old (when it still exists) and creates a new session in one
// critical section, so reconnecting never grows the registry.
func (s *Store) Replace(old string, d Details) (string, error) {
	rec, err := s.newRecord(d)
	if err != nil {
		return "", err
	}

	// The new token is allocated first: a failed allocation leaves old intact.
	s.mu.Lock()
	tok, err := s.insertLocked(rec)
	var (
		prev    *record
		removed bool
	)
	if err == nil {
		prev, removed = s.removeLocked(old)
	}
	s.mu.Unlock()

	if err != nil {
		return "", err
	}
	if removed {
		s.notify(old, ReasonReplaced, prev)
	}

	s.log.Info("session.create", "token_fp", token.Fingerprint(tok), "namespace", d.Namespace, "username", d.Username, "replaced", removed)
	return tok, nil
}

// Validate resolves the token from src and returns the live session.
// Expired records are removed on the spot. Valid access slides the window.
func (s *Store) Validate(src TokenSource) (Session, bool) {
	return s.Lookup(src.Token())
}

// Lookup is Validate for an already extracted token.
func (s *Store) Lookup(tok string) (Session, bool) {
	if tok == "" {
		return Session{}, false
	}
	now := s.now()

	s.mu.Lock()
	rec, ok := s.records[tok]
	if !ok {
		s.mu.Unlock()
		return Session{}, false
	}
	if rec.expired(now) {
		delete(s.records, tok)
		s.mu.Unlock()
		s.notify(tok, ReasonExpired, rec)
		return Session{}, false
	}
	rec.lastActivity = now
	snap := *rec
	s.mu.Unlock()

	return s.snapshot(tok, &snap), true
}

// Touch slides the window without returning the record.
func (s *Store) Touch(tok string) bool {
	if tok == "" {
		return false
	}
	now := s.now()

	s.mu.Lock()
	rec, ok := s.records[tok]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if rec.expired(now) {
		delete(s.records, tok)
		s.mu.Unlock()
		s.notify(tok, ReasonExpired, rec)
		return false
	}
	rec.lastActivity = now
	s.mu.Unlock()
	return true
}

// Destroy removes the session. It returns false when there was nothing to remove.
func (s *Store) Destroy(tok string) bool {
	s.mu.Lock()
	rec, removed := s.removeLocked(tok)
	s.mu.Unlock()

	if !removed {
		return false
	}
	s.notify(tok, ReasonDestroyed, rec)
	return true
}

// Sweep evicts every expired record and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	type victim struct {
		tok string
		rec *record
	}
	var victims []victim

	s.mu.Lock()
	for tok, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, tok)
			victims = append(victims, victim{tok: tok, rec: rec})
		}
	}
	s.mu.Unlock()

	for _, v := range victims {
		s.notify(v.tok, ReasonExpired, v.rec)
	}
	if len(victims) > 0 {
		s.log.Info("session.sweep", "removed", len(victims))
	}
	return len(victims)
}

// Count returns the number of stored sessions, including ones that are
// expired but not yet observed.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Subscribe registers fn for removal events. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// StartSweeper starts the periodic sweep. Calling it twice is a no-op.
func (s *Store) StartSweeper() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepStop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.sweepStop, s.sweepDone = stop, done

	go func() {
		defer close(done)

		t := time.NewTicker(s.cfg.SweepInterval)
		defer t.Stop()

		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// Close stops the sweeper and waits for it. Stored sessions are kept.
func (s *Store) Close() {
	s.sweepMu.Lock()
	stop, done := s.sweepStop, s.sweepDone
	s.sweepStop, s.sweepDone = nil, nil
	s.sweepMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// ---- internals ----

func (r *record) expired(now time.Time) bool {
	return now.Sub(r.lastActivity) >= r.timeout
}

func (s *Store) newRecord(d Details) (*record, error) {
	box, err := s.sealer.seal(d.Password)
	if err != nil {
		return nil, fmt.Errorf("session: seal: %w", err)
	}
	now := s.now()
	d.Password = ""
	return &record{
		details:      d,
		sealedPass:   box,
		createdAt:    now,
		lastActivity: now,
		timeout:      s.cfg.Timeout,
	}, nil
}

// insertLocked allocates a token that is not already in use. Caller holds mu.
func (s *Store) insertLocked(rec *record) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		tok, err := s.newToken(s.cfg.TokenBytes)
		if err != nil {
			return "", err
		}
		if _, taken := s.records[tok]; taken {
			continue
		}
		s.records[tok] = rec
		return tok, nil
	}
	return "", fmt.Errorf("session: could not allocate unique token")
}

// removeLocked deletes tok if present. Caller holds mu.
func (s *Store) removeLocked(tok string) (*record, bool) {
	if tok == "" {
		return nil, false
	}
	rec, ok := s.records[tok]
	if !ok {
		return nil, false
	}
	delete(s.records, tok)
	return rec, true
}

func (s *Store) snapshot(tok string, rec *record) Session {
	d := rec.details
	pass, err := s.sealer.open(rec.sealedPass)
	if err != nil {
		s.log.Error("session.unseal.fail", "token_fp", token.Fingerprint(tok), "err", err)
	}
	d.Password = pass
	return Session{
		Token:        tok,
		Details:      d,
		CreatedAt:    rec.createdAt,
		LastActivity: rec.lastActivity,
		Timeout:      rec.timeout,
	}
}

func (s *Store) notify(tok string, reason Reason, rec *record) {
	ev := Event{Token: tok, Reason: reason, At: s.now()}
	if rec != nil {
		ev.Namespace = rec.details.Namespace
		ev.Username = rec.details.Username
	}

	s.log.Info("session.remove", "token_fp", token.Fingerprint(tok), "reason", string(reason))

	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		s.deliver(fn, ev)
	}
}

func (s *Store) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session.subscriber.panic", "token_fp", token.Fingerprint(ev.Token), "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}
