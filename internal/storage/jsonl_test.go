package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"forestwatch/internal/model"
)

func TestJSONLWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub", "alerts.jsonl")
	w, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	alerts := []model.Alert{
		{EventType: "GUNSHOT", Confidence: 0.91, Timestamp: 100},
		{EventType: "CHAINSAW", Confidence: 0.75, Timestamp: 200},
	}
	for _, a := range alerts {
		if err := w.Append(a); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var got []model.Alert
	for scanner.Scan() {
		var a model.Alert
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, a)
	}
	if len(got) != 2 || got[0].EventType != "GUNSHOT" || got[1].Timestamp != 200 {
		t.Fatalf("records: %+v", got)
	}
}

func TestSQLiteSaveAlert(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	rssi := -87
	if err := s.SaveAlert(ctx, model.Alert{
		NodeID:     "NODE1",
		EventType:  "GUNSHOT",
		Confidence: 0.91,
		Latitude:   27.7126,
		Longitude:  85.3426,
		Timestamp:  1735119862,
		RSSI:       &rssi,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
}
