// Package store keeps the hub's bounded recent-alert history. Ordering is
// by hub arrival, not event timestamp: field-node clocks are not assumed
// synchronized.
package store

import (
	"sync"
	"time"

	"forestwatch/internal/model"
)

const DefaultLimit = 100

// Stats summarizes the retained history. TotalEvents and EventTypes cover
// the retained window only, capped at the store limit; IngestedTotal
// counts every append since startup, evicted alerts included.
type Stats struct {
	TotalEvents      int            `json:"total_events"`
	EventTypes       map[string]int `json:"event_types"`
	IngestedTotal    int            `json:"ingested_total"`
	LatestReceivedAt time.Time      `json:"latest_received_at,omitzero"`
}

// EventStore is a fixed-capacity insertion-ordered buffer; the oldest
// alert is evicted first at capacity. Reads return copied snapshots so no
// lock is held across iteration shared with mutation.
type EventStore struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
	total int
}

func New(limit int) *EventStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &EventStore{limit: limit}
}

func (s *EventStore) Append(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

// Recent returns the last n alerts oldest-to-newest; n <= 0 means all.
func (s *EventStore) Recent(n int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.buf) {
		n = len(s.buf)
	}
	out := make([]model.Alert, n)
	copy(out, s.buf[len(s.buf)-n:])
	return out
}

// Latest returns the most recently appended alert.
func (s *EventStore) Latest() (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buf) == 0 {
		return model.Alert{}, false
	}
	return s.buf[len(s.buf)-1], true
}

func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *EventStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalEvents:   len(s.buf),
		IngestedTotal: s.total,
		EventTypes:    make(map[string]int, 8),
	}
	for _, a := range s.buf {
		st.EventTypes[a.EventType]++
	}
	if len(s.buf) > 0 {
		st.LatestReceivedAt = s.buf[len(s.buf)-1].ReceivedAt
	}
	return st
}
