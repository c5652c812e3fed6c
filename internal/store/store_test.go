package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"forestwatch/internal/model"
)

func numbered(i int) model.Alert {
	return model.Alert{
		NodeID:     "NODE1",
		EventType:  "GUNSHOT",
		Confidence: 0.9,
		Timestamp:  int64(i),
		ReceivedAt: time.Unix(int64(i), 0).UTC(),
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	s := New(100)
	for i := 1; i <= 150; i++ {
		s.Append(numbered(i))
	}
	got := s.Recent(0)
	if len(got) != 100 {
		t.Fatalf("len: %d", len(got))
	}
	for i, a := range got {
		want := int64(51 + i)
		if a.Timestamp != want {
			t.Fatalf("index %d: ts %d, want %d", i, a.Timestamp, want)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	s := New(10)
	for i := 1; i <= 5; i++ {
		s.Append(numbered(i))
	}
	got := s.Recent(3)
	if len(got) != 3 || got[0].Timestamp != 3 || got[2].Timestamp != 5 {
		t.Fatalf("recent(3): %+v", got)
	}
	if len(s.Recent(50)) != 5 {
		t.Fatalf("recent beyond length should return all")
	}
}

func TestLatest(t *testing.T) {
	s := New(10)
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected empty")
	}
	s.Append(numbered(1))
	s.Append(numbered(2))
	a, ok := s.Latest()
	if !ok || a.Timestamp != 2 {
		t.Fatalf("latest: %+v ok=%v", a, ok)
	}
}

func TestStats(t *testing.T) {
	s := New(10)
	s.Append(model.Alert{EventType: "GUNSHOT", ReceivedAt: time.Unix(10, 0)})
	s.Append(model.Alert{EventType: "CHAINSAW", ReceivedAt: time.Unix(20, 0)})
	s.Append(model.Alert{EventType: "GUNSHOT", ReceivedAt: time.Unix(30, 0)})
	st := s.Stats()
	if st.TotalEvents != 3 {
		t.Fatalf("total: %d", st.TotalEvents)
	}
	if st.EventTypes["GUNSHOT"] != 2 || st.EventTypes["CHAINSAW"] != 1 {
		t.Fatalf("types: %v", st.EventTypes)
	}
	if !st.LatestReceivedAt.Equal(time.Unix(30, 0)) {
		t.Fatalf("latest received: %v", st.LatestReceivedAt)
	}
}

func TestStatsCappedByRetention(t *testing.T) {
	s := New(100)
	for i := 0; i < 150; i++ {
		s.Append(model.Alert{EventType: "GUNSHOT", Timestamp: int64(i + 1)})
	}
	st := s.Stats()
	if st.TotalEvents != 100 {
		t.Fatalf("total after eviction: got %d, want 100", st.TotalEvents)
	}
	if st.EventTypes["GUNSHOT"] != 100 {
		t.Fatalf("type counts must cover the retained window: %v", st.EventTypes)
	}
	if st.IngestedTotal != 150 {
		t.Fatalf("ingested total: got %d, want 150", st.IngestedTotal)
	}
}

func TestConcurrentAppendAndRead(t *testing.T) {
	s := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Append(model.Alert{EventType: fmt.Sprintf("E%d", w)})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = s.Recent(10)
				_, _ = s.Latest()
				_ = s.Stats()
			}
		}()
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Fatalf("len: %d", s.Len())
	}
}
