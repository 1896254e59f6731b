package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/bus"
	"github.com/dreamware/splitsync/internal/protocol"
	"github.com/dreamware/splitsync/internal/telemetry"
)

// CollectionStrategy gathers the cluster's settings for GetAll. Two
// interchangeable variants exist with a real trade-off between them:
//
//   - Bounded answers within a fixed wait window and may miss slow
//     followers; late reports are discarded by the correlation check.
//   - Streamed returns immediately with just the local value and turns
//     every report that ever arrives into an outward notification; a
//     follower reconnecting minutes later still contributes.
//
// A node runs exactly one of them; their correlation semantics are never
// mixed.
type CollectionStrategy interface {
	// Collect gathers entries starting from the caller's own value.
	// The local entry is always Entries[0] of the result.
	Collect(ctx context.Context, local Entry) Result
}

// DefaultWindow is how long the bounded strategy waits for reports.
const DefaultWindow = 100 * time.Millisecond

// session is the transient per-collection state on the central: the live
// correlation id and a fixed-capacity arena of entries in arrival order.
// A new GetAll supersedes the previous session by allocating a fresh id;
// there is no explicit cancellation.
type session struct {
	corr    uint8
	entries [protocol.MaxFollowers + 1]Entry
	count   int
	expect  int           // Entries needed to wake early; 0 = unknown
	done    chan struct{} // Closed once expect entries have arrived
	woken   bool
}

// add appends an entry, dropping it if the arena is full, and closes done
// once the expected count is reached.
func (s *session) add(en Entry) bool {
	if s.count >= len(s.entries) {
		return false
	}
	s.entries[s.count] = en
	s.count++
	s.maybeWake()
	return true
}

func (s *session) maybeWake() {
	if !s.woken && s.expect > 0 && s.count >= s.expect {
		close(s.done)
		s.woken = true
	}
}

// Bounded is the bounded-synchronous strategy: allocate a fresh correlation
// id, reset the session to just the local value, broadcast the request, and
// block for the wait window while the report listener fills the session.
//
// When the expected follower count is known the wait ends as soon as every
// expected report has arrived; otherwise the full window elapses. Either
// way the session's contents are returned as-is.
type Bounded struct {
	bus      *bus.Bus
	clock    clockwork.Clock
	window   time.Duration
	expected func() int // Live follower count, nil when unknown
	log      *zap.Logger

	mu      sync.Mutex
	session *session // Nil until the first collection
}

// NewBounded wires the strategy's report listener onto b.
func NewBounded(b *bus.Bus, clock clockwork.Clock, window time.Duration,
	expected func() int, log *zap.Logger) *Bounded {

	if window <= 0 {
		window = DefaultWindow
	}
	s := &Bounded{bus: b, clock: clock, window: window, expected: expected, log: log}
	b.Subscribe(protocol.KindCollectionReport, s.onReport)
	return s
}

// Collect runs one bounded collection.
//
// The caller's goroutine suspends for at most the window; bus deliveries
// keep running on whatever goroutine the transport hands them to, so
// reports accumulate while this one sleeps.
func (s *Bounded) Collect(ctx context.Context, local Entry) Result {
	s.mu.Lock()
	corr := uint8(0)
	if s.session != nil {
		corr = s.session.corr
	}
	corr++ // uint8, wraps

	sess := &session{corr: corr, done: make(chan struct{})}
	sess.entries[0] = local
	sess.count = 1
	if s.expected != nil {
		if n := s.expected(); n >= 0 {
			sess.expect = n + 1 // Followers plus the local entry
		}
	}
	sess.maybeWake()
	s.session = sess
	s.mu.Unlock()

	start := s.clock.Now()
	s.log.Debug("starting bounded collection", zap.Uint8("correlation", corr))
	s.bus.Publish(protocol.CollectionRequest{ID: corr, Correlated: true})

	select {
	case <-sess.done:
	case <-s.clock.After(s.window):
	case <-ctx.Done():
	}
	telemetry.CollectionDuration.Observe(s.clock.Since(start).Seconds())

	s.mu.Lock()
	entries := make([]Entry, sess.count)
	copy(entries, sess.entries[:sess.count])
	s.mu.Unlock()

	s.log.Debug("bounded collection finished",
		zap.Uint8("correlation", corr),
		zap.Int("entries", len(entries)))
	return Result{Entries: entries}
}

// onReport folds a report into the live session.
//
// Reports raised locally still carry the self marker and are skipped: the
// local value is already seeded as the first entry. Reports whose
// correlation id does not match the live session are stale leftovers from
// a superseded collection and are discarded, which is expected, not an
// error.
func (s *Bounded) onReport(ev bus.Event) bus.Verdict {
	rep := ev.(protocol.CollectionReport)
	if rep.Origin == protocol.SourceSelf {
		return bus.Bubble
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || !rep.Correlated || rep.ID != sess.corr {
		telemetry.StaleReports.Inc()
		s.log.Debug("discarding stale report",
			zap.Stringer("origin", rep.Origin),
			zap.Uint8("report_id", rep.ID))
		return bus.Bubble
	}

	if !sess.add(Entry{Origin: rep.Origin, Value: rep.Value}) {
		s.log.Warn("collection arena full, dropping report",
			zap.Stringer("origin", rep.Origin))
	}
	return bus.Bubble
}

// Streamed is the asynchronous strategy: no session, no deadline, no
// aggregation. Collect pushes the local value as a notification, fires an
// uncorrelated request, and returns at once; every report that later
// arrives becomes its own notification. The consumer of the notification
// feed owns the divergence picture.
type Streamed struct {
	bus    *bus.Bus
	notify Notifier
	log    *zap.Logger
}

// NewStreamed wires the strategy's report listener onto b.
func NewStreamed(b *bus.Bus, notify Notifier, log *zap.Logger) *Streamed {
	s := &Streamed{bus: b, notify: notify, log: log}
	b.Subscribe(protocol.KindCollectionReport, s.onReport)
	return s
}

// Collect starts a streamed collection and acknowledges immediately.
func (s *Streamed) Collect(_ context.Context, local Entry) Result {
	s.notify.Notify(local.Value, local.Origin)
	s.bus.Publish(protocol.CollectionRequest{Correlated: false})

	s.log.Debug("streamed collection started")
	return Result{Entries: []Entry{local}, Streaming: true}
}

// onReport turns any arriving report into a notification, whenever it
// arrives and whatever request it answers. Locally raised reports still
// carry the self marker and were already pushed as the local entry.
func (s *Streamed) onReport(ev bus.Event) bus.Verdict {
	rep := ev.(protocol.CollectionReport)
	if rep.Origin == protocol.SourceSelf {
		return bus.Bubble
	}

	s.notify.Notify(rep.Value, rep.Origin)
	return bus.Bubble
}
