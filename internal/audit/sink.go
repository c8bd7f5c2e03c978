package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// AsyncSink buffers events on a bounded channel and drains them from a
// single goroutine into structured logs. Breach-class events are mirrored
// to Sentry. Overflow drops the event and increments a counter.
type AsyncSink struct {
	events  chan Event
	dropped atomic.Int64
	log     *slog.Logger
	sentry  bool
	wg      sync.WaitGroup
	once    sync.Once
}

// DefaultBufferSize bounds backpressure from the critical paths.
const DefaultBufferSize = 1024

// NewAsyncSink starts the drainer. useSentry mirrors security events to
// the initialized Sentry client.
func NewAsyncSink(log *slog.Logger, bufferSize int, useSentry bool) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &AsyncSink{
		events: make(chan Event, bufferSize),
		log:    log,
		sentry: useSentry,
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Emit enqueues without blocking. The event is dropped if the buffer is
// full.
func (s *AsyncSink) Emit(_ context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case s.events <- event:
	default:
		n := s.dropped.Add(1)
		if n%100 == 1 {
			s.log.Error("audit_events_dropped", "total_dropped", n)
		}
	}
}

// Dropped returns the number of events lost to overflow.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Close stops intake and flushes the buffer.
func (s *AsyncSink) Close() {
	s.once.Do(func() { close(s.events) })
	s.wg.Wait()
}

func (s *AsyncSink) drain() {
	defer s.wg.Done()
	for event := range s.events {
		s.write(event)
	}
}

func (s *AsyncSink) write(event Event) {
	attrs := []any{
		slog.String("log_type", "AUDIT_TRAIL"),
		slog.String("action", string(event.Action)),
		slog.String("actor_id", event.ActorID.String()),
		slog.String("target_id", event.TargetID.String()),
		slog.String("tenant_id", event.TenantID.String()),
		slog.Time("timestamp_utc", event.Timestamp),
	}
	if event.IP != "" {
		attrs = append(attrs, slog.String("ip", event.IP))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any("meta_"+k, v))
	}
	s.log.Info("audit_event", attrs...)

	if s.sentry && event.Security() {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("tenant_id", event.TenantID.String())
			scope.SetTag("action", string(event.Action))
			scope.SetLevel(sentry.LevelWarning)
			sentry.CaptureMessage("security event: " + string(event.Action))
		})
	}
}
