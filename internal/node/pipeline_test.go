package node

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"forestwatch/internal/config"
	"forestwatch/internal/metrics"
	"forestwatch/internal/model"
)

func testNodeConfig() config.NodeConfig {
	return config.NodeConfig{
		ID:        "NODE1",
		Latitude:  27.7126,
		Longitude: 85.3426,
		Decision: config.DecisionConfig{
			Threshold:   0.6,
			AlertLabels: []string{"gunshot", "chainsaw"},
		},
		QueueBuffer: 4,
	}
}

// scriptRecorder emits one window per scripted entry, then blocks.
type scriptRecorder struct {
	mu      sync.Mutex
	windows int
	limit   int
}

func (r *scriptRecorder) Record(ctx context.Context) (model.RawAudioWindow, error) {
	r.mu.Lock()
	emit := r.windows < r.limit
	if emit {
		r.windows++
	}
	r.mu.Unlock()
	if !emit {
		<-ctx.Done()
		return model.RawAudioWindow{}, ctx.Err()
	}
	return model.RawAudioWindow{
		PCM:        make([]int16, 160),
		SampleRate: 16000,
		CapturedAt: time.Unix(1735119862, 0),
	}, nil
}

type captureTx struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (t *captureTx) Write(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.lines = append(t.lines, string(line))
	return nil
}

func (t *captureTx) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

func runPipeline(t *testing.T, p *Pipeline, wait func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()
	deadline := time.Now().Add(2 * time.Second)
	for !wait() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("pipeline did not reach expected state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline did not shut down")
	}
}

func TestPipelineTransmitsAlert(t *testing.T) {
	rec := &scriptRecorder{limit: 1}
	cls := ClassifierFunc(func(context.Context, model.RawAudioWindow) ([]model.Ranked, error) {
		return []model.Ranked{
			{Label: "gunshot", Confidence: 0.91},
			{Label: "silence", Confidence: 0.05},
		}, nil
	})
	tx := &captureTx{}
	p := New(testNodeConfig(), rec, cls, tx, nil, nil, nil)
	runPipeline(t, p, func() bool { return len(tx.Lines()) == 1 })

	line := tx.Lines()[0]
	if !strings.HasPrefix(line, "EVT:GUNSHOT;CONF:0.91;") {
		t.Fatalf("payload: %s", line)
	}
	if !strings.Contains(line, "NODE:NODE1") || !strings.Contains(line, "TS:1735119862") {
		t.Fatalf("payload: %s", line)
	}
}

func TestPipelineBelowThresholdSendsNothing(t *testing.T) {
	rec := &scriptRecorder{limit: 3}
	cls := ClassifierFunc(func(context.Context, model.RawAudioWindow) ([]model.Ranked, error) {
		return []model.Ranked{{Label: "gunshot", Confidence: 0.4}}, nil
	})
	tx := &captureTx{}
	var processed sync.WaitGroup
	processed.Add(3)
	detlog := appendFunc(func(any) error { processed.Done(); return nil })
	p := New(testNodeConfig(), rec, cls, tx, detlog, nil, nil)
	waited := make(chan struct{})
	go func() { processed.Wait(); close(waited) }()
	runPipeline(t, p, func() bool {
		select {
		case <-waited:
			return true
		default:
			return false
		}
	})
	if len(tx.Lines()) != 0 {
		t.Fatalf("unexpected transmissions: %v", tx.Lines())
	}
}

type appendFunc func(v any) error

func (f appendFunc) Append(v any) error { return f(v) }

func TestPipelineSurvivesClassifierFailure(t *testing.T) {
	rec := &scriptRecorder{limit: 2}
	var calls int
	var mu sync.Mutex
	cls := ClassifierFunc(func(context.Context, model.RawAudioWindow) ([]model.Ranked, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("model crashed")
		}
		return []model.Ranked{{Label: "chainsaw", Confidence: 0.8}}, nil
	})
	tx := &captureTx{}
	p := New(testNodeConfig(), rec, cls, tx, nil, nil, nil)
	runPipeline(t, p, func() bool { return len(tx.Lines()) == 1 })
	if !strings.HasPrefix(tx.Lines()[0], "EVT:CHAINSAW;") {
		t.Fatalf("payload: %s", tx.Lines()[0])
	}
}

func TestPipelineSurvivesTransmitFailure(t *testing.T) {
	rec := &scriptRecorder{limit: 2}
	cls := ClassifierFunc(func(context.Context, model.RawAudioWindow) ([]model.Ranked, error) {
		return []model.Ranked{{Label: "gunshot", Confidence: 0.9}}, nil
	})
	tx := &captureTx{err: errors.New("link down")}
	var logged sync.WaitGroup
	logged.Add(2)
	detlog := appendFunc(func(any) error { logged.Done(); return nil })
	p := New(testNodeConfig(), rec, cls, tx, detlog, nil, nil)
	waited := make(chan struct{})
	go func() { logged.Wait(); close(waited) }()
	runPipeline(t, p, func() bool {
		select {
		case <-waited:
			return true
		default:
			return false
		}
	})
	// both results were processed despite every transmit failing
	if len(tx.Lines()) != 0 {
		t.Fatalf("lines recorded despite forced error: %v", tx.Lines())
	}
}

func TestQueueDropsAreCounted(t *testing.T) {
	collect := metrics.NewCollector(prometheus.NewRegistry())
	p := New(testNodeConfig(), nil, nil, nil, nil, nil, collect)

	// full queue, no consumer: the oldest window is evicted for the new one
	for i := 0; i < cap(p.audioCh); i++ {
		p.queueWindow(model.RawAudioWindow{SampleRate: i})
	}
	p.queueWindow(model.RawAudioWindow{SampleRate: 999})
	if got := testutil.ToFloat64(collect.QueueDrops.WithLabelValues("capture")); got != 1 {
		t.Fatalf("capture drops after eviction: got %v, want 1", got)
	}

	// contended queue: the freed slot is gone again by the retry, so the
	// new window is lost and that loss must be counted too
	p.audioCh = make(chan model.RawAudioWindow)
	p.queueWindow(model.RawAudioWindow{SampleRate: 1})
	if got := testutil.ToFloat64(collect.QueueDrops.WithLabelValues("capture")); got != 2 {
		t.Fatalf("capture drops after contended send: got %v, want 2", got)
	}

	p.resultCh = make(chan model.InferenceResult)
	p.queueResult(model.InferenceResult{NodeID: "NODE1"})
	if got := testutil.ToFloat64(collect.QueueDrops.WithLabelValues("infer")); got != 1 {
		t.Fatalf("infer drops after contended send: got %v, want 1", got)
	}
}

func TestSimulatedClassifierShapes(t *testing.T) {
	cls := NewSimulatedClassifier(1.0, 42)
	rankings, err := cls.Classify(context.Background(), model.RawAudioWindow{})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(rankings) == 0 || rankings[0].Confidence < 0.65 {
		t.Fatalf("rankings: %+v", rankings)
	}
	for _, r := range rankings {
		if r.Confidence < 0 || r.Confidence > 1 {
			t.Fatalf("confidence out of range: %+v", r)
		}
	}
}

func TestSyntheticRecorderWindow(t *testing.T) {
	rec := NewSyntheticRecorder(20*time.Millisecond, 8000, 1)
	w, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if w.SampleRate != 8000 || len(w.PCM) != 160 {
		t.Fatalf("window: rate=%d samples=%d", w.SampleRate, len(w.PCM))
	}
	if d := w.Duration(); d != 20*time.Millisecond {
		t.Fatalf("duration: %v", d)
	}
}
