// Package broadcast fans decoded alerts out to live subscribers. Delivery
// is best-effort: a subscriber that cannot keep up loses its own oldest
// events and never delays ingestion or other subscribers.
package broadcast

import (
	"log/slog"
	"sync"

	"forestwatch/internal/metrics"
	"forestwatch/internal/model"
	"forestwatch/internal/store"
)

const DefaultBuffer = 16

type Broadcaster struct {
	history *store.EventStore
	logger  *slog.Logger
	collect *metrics.Collector
	buffer  int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription delivers the snapshot replay followed by live alerts on C.
// The channel is closed by Cancel.
type Subscription struct {
	C    <-chan model.Alert
	ch   chan model.Alert
	b    *Broadcaster
	once sync.Once
}

// New builds a broadcaster over the given history. buffer bounds each
// subscriber's live queue beyond the snapshot; <= 0 uses DefaultBuffer.
func New(history *store.EventStore, buffer int, logger *slog.Logger, collect *metrics.Collector) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		history: history,
		logger:  logger,
		collect: collect,
		buffer:  buffer,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. The full retained history is
// queued before the subscription goes live, so consumers always see the
// snapshot ahead of any later publish. Snapshot and registration happen
// under the broadcast lock: a publish ordered after its history append
// reaches the new subscriber either in the snapshot or live. An alert
// appended before the snapshot but published after registration can still
// arrive twice; delivery is at-least-once for concurrent subscribers.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var snapshot []model.Alert
	if b.history != nil {
		snapshot = b.history.Recent(0)
	}
	ch := make(chan model.Alert, len(snapshot)+b.buffer)
	sub := &Subscription{C: ch, ch: ch, b: b}
	for _, a := range snapshot {
		ch <- a
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish offers the alert to every subscriber without blocking. On a full
// subscriber queue the subscriber's oldest pending event is dropped to
// make room.
func (b *Broadcaster) Publish(alert model.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- alert:
			continue
		default:
		}
		select {
		case <-sub.ch:
			b.collect.IncFanoutDrop()
			if b.logger != nil {
				b.logger.Warn("subscriber lagging, dropping its oldest event")
			}
		default:
		}
		select {
		case sub.ch <- alert:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Cancel unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.ch)
	})
}
