package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"gridlink/cmd/internal/session"
	"gridlink/cmd/security/token"
)

const (
	defaultQueueSize = 1024
	maxBatch         = 64
	maxWriteRetries  = 5

	flushTimeout = 3 * time.Second
)

// Writer persists a batch of events.
type Writer interface {
	Write(ctx context.Context, events []Event) error
}

// Sink fans audit events out to the log and, optionally, a Writer.
type Sink struct {
	log    *slog.Logger
	writer Writer
	queue  chan Event
	now    func() time.Time

	dropped atomic.Int64
}

// NewSink builds a Sink. w may be nil for log-only auditing.
func NewSink(log *slog.Logger, w Writer, queueSize int) *Sink {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Sink{log: log, writer: w, now: time.Now}
	if w != nil {
		s.queue = make(chan Event, queueSize)
	}
	return s
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Record logs ev and queues it for persistence without blocking.
func (s *Sink) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	if ev.ID == "" {
		ev.ID = newEventID(ev.At)
	}

	s.log.Info("audit."+ev.Action,
		"audit_id", ev.ID,
		"token_fp", ev.TokenFP,
		"namespace", ev.Namespace,
		"username", ev.Username,
		"remote_ip", ev.RemoteIP,
		"meta", ev.Meta,
	)

	if s.queue == nil {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.log.Warn("audit.queue.full", "action", ev.Action)
	}
}

// Connected records a successful connect.
func (s *Sink) Connected(tok, namespace, username, remoteIP string, replaced bool) {
	s.Record(Event{
		Action:    ActionConnect,
		TokenFP:   token.Fingerprint(tok),
		Namespace: namespace,
		Username:  username,
		RemoteIP:  remoteIP,
		Meta:      map[string]any{"replaced": replaced},
	})
}

// ConnectFailed records a rejected connect. code is the client-facing error code.
func (s *Sink) ConnectFailed(code, namespace, username, remoteIP string) {
	s.Record(Event{
		Action:    ActionConnectFailed,
		Namespace: namespace,
		Username:  username,
		RemoteIP:  remoteIP,
		Meta:      map[string]any{"code": code},
	})
}

// Disconnected records an explicit disconnect that removed a session.
func (s *Sink) Disconnected(tok, remoteIP string) {
	s.Record(Event{
		Action:   ActionDisconnect,
		TokenFP:  token.Fingerprint(tok),
		RemoteIP: remoteIP,
	})
}

// SessionRemoved is a session.Store subscriber.
func (s *Sink) SessionRemoved(ev session.Event) {
	s.Record(Event{
		Action:    ActionSessionRemoved,
		TokenFP:   token.Fingerprint(ev.Token),
		Namespace: ev.Namespace,
		Username:  ev.Username,
		Meta:      map[string]any{"reason": string(ev.Reason)},
		At:        ev.At.UTC(),
	})
}

// Run drains the queue until ctx is done. Without a Writer it just waits.
func (s *Sink) Run(ctx context.Context) error {
	if s.queue == nil {
		<-ctx.Done()
		return nil
	}

	// unsaved holds batches whose retries were cut short by shutdown.
	var unsaved []Event
	batch := make([]Event, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			s.flushRemaining(unsaved)
			return nil
		case ev := <-s.queue:
			batch = append(batch[:0], ev)
			batch = s.fill(batch)
			if err := s.persist(ctx, batch); err != nil && ctx.Err() != nil {
				unsaved = append(unsaved, batch...)
			}
		}
	}
}

// fill adds whatever is already queued, up to maxBatch.
func (s *Sink) fill(batch []Event) []Event {
	for len(batch) < maxBatch {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (s *Sink) persist(ctx context.Context, batch []Event) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return s.writer.Write(ctx, batch)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxWriteRetries), ctx))
	if err != nil && ctx.Err() == nil {
		s.log.Error("audit.write.fail", "events", len(batch), "attempts", attempt, "err", err)
	}
	return err
}

// flushRemaining makes one bounded attempt at writing unsaved plus whatever is
// still queued.
func (s *Sink) flushRemaining(unsaved []Event) {
	pending := unsaved
	for {
		more := s.fill(make([]Event, 0, maxBatch))
		if len(more) == 0 {
			break
		}
		pending = append(pending, more...)
	}
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, chunk := range lo.Chunk(pending, maxBatch) {
		if err := s.writer.Write(ctx, chunk); err != nil {
			s.log.Error("audit.flush.fail", "events", len(chunk), "err", err)
		}
	}
}
