// Package eventbus fans the live event stream out to independent
// subscribers.
//
// Publish never blocks on a subscriber. Every subscription owns a bounded
// buffer; when it overflows the oldest buffered events are dropped and the
// subscriber receives a gap marker carrying the number of lost events before
// the surviving ones. New subscribers start with a replay of the most recent
// events.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/infrastructure/metrics"
)

const (
	DefaultReplaySize = 100
	DefaultBufferSize = 256
)

// ErrClosed is returned by Next once the subscription is closed and drained.
var ErrClosed = errors.New("subscription closed")

type Broadcaster struct {
	mu         sync.Mutex
	seq        uint64
	replay     []domain.Event
	replayHead int
	replaySize int
	bufferSize int
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
}

func New(replaySize, bufferSize int) *Broadcaster {
	if replaySize < 0 {
		replaySize = 0
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		replay:     make([]domain.Event, 0, replaySize),
		replaySize: replaySize,
		bufferSize: bufferSize,
		subs:       make(map[uint64]*Subscription),
	}
}

// Publish stamps e with a sequence number and hands it to every subscriber.
func (b *Broadcaster) Publish(e domain.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.seq++
	e.Seq = b.seq
	b.remember(e)

	for _, sub := range b.subs {
		if dropped := sub.push(e); dropped {
			metrics.EventsDropped.Inc()
		}
	}
	metrics.EventsPublished.Inc()
}

func (b *Broadcaster) remember(e domain.Event) {
	if b.replaySize == 0 {
		return
	}
	if len(b.replay) < b.replaySize {
		b.replay = append(b.replay, e)
		return
	}
	b.replay[b.replayHead] = e
	b.replayHead = (b.replayHead + 1) % b.replaySize
}

// recent returns the replay buffer oldest first. Caller holds b.mu.
func (b *Broadcaster) recent() []domain.Event {
	out := make([]domain.Event, 0, len(b.replay))
	out = append(out, b.replay[b.replayHead:]...)
	out = append(out, b.replay[:b.replayHead]...)
	return out
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Broadcaster) Recent(n int) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.recent()
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

// Subscribe registers a new subscriber preloaded with the replay buffer,
// trimmed to the newest events that fit its own buffer. On a closed
// broadcaster the returned subscription is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := newSubscription(b, b.nextID, b.bufferSize)
	replay := b.recent()
	if len(replay) > b.bufferSize {
		replay = replay[len(replay)-b.bufferSize:]
	}
	for _, e := range replay {
		sub.push(e)
	}
	if b.closed {
		sub.shut()
		return sub
	}
	b.subs[sub.id] = sub
	metrics.EventSubscribers.Set(float64(len(b.subs)))
	return sub
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	metrics.EventSubscribers.Set(float64(len(b.subs)))
}

// Close ends every subscription. Buffered events can still be drained.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.shut()
		delete(b.subs, id)
	}
	metrics.EventSubscribers.Set(0)
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	id     uint64
	b      *Broadcaster
	mu     sync.Mutex
	buf    []domain.Event
	head   int
	count  int
	lost   int
	notify chan struct{}
	closed bool
	once   sync.Once
}

func newSubscription(b *Broadcaster, id uint64, size int) *Subscription {
	return &Subscription{
		id:     id,
		b:      b,
		buf:    make([]domain.Event, size),
		notify: make(chan struct{}, 1),
	}
}

// push appends e, evicting the oldest buffered event when full. It reports
// whether an event was dropped.
func (s *Subscription) push(e domain.Event) bool {
	s.mu.Lock()
	dropped := false
	if s.count == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		s.lost++
		dropped = true
	}
	s.buf[(s.head+s.count)%len(s.buf)] = e
	s.count++
	s.mu.Unlock()

	s.wake()
	return dropped
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop returns the next deliverable event. A pending loss is reported first
// as a gap marker, since every lost event is older than the buffered ones.
func (s *Subscription) pop() (domain.Event, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost > 0 {
		gap := domain.Event{
			Time:     time.Now(),
			Severity: domain.SeverityWarn,
			Origin:   "eventbus",
			Message:  "subscriber fell behind, events dropped",
			Dropped:  s.lost,
		}
		s.lost = 0
		return gap, true, s.closed
	}
	if s.count == 0 {
		return domain.Event{}, false, s.closed
	}
	e := s.buf[s.head]
	s.buf[s.head] = domain.Event{}
	s.head = (s.head + 1) % len(s.buf)
	s.count--
	return e, true, s.closed
}

// Next blocks until an event is available, ctx is done or the subscription
// is closed and drained.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	for {
		e, ok, closed := s.pop()
		if ok {
			return e, nil
		}
		if closed {
			return domain.Event{}, ErrClosed
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of buffered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close unsubscribes. Events already buffered remain readable.
func (s *Subscription) Close() {
	s.b.unsubscribe(s.id)
	s.shut()
}

func (s *Subscription) shut() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.wake()
	})
}
