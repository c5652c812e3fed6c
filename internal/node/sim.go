package node

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"forestwatch/internal/model"
	"forestwatch/internal/transport"
)

// SyntheticRecorder stands in for a microphone when the node runs without
// audio hardware. Record blocks for the configured window duration and
// returns low-amplitude noise.
type SyntheticRecorder struct {
	Window     time.Duration
	SampleRate int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSyntheticRecorder(window time.Duration, sampleRate int, seed int64) *SyntheticRecorder {
	if window <= 0 {
		window = 2 * time.Second
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &SyntheticRecorder{
		Window:     window,
		SampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (r *SyntheticRecorder) Record(ctx context.Context) (model.RawAudioWindow, error) {
	if !transport.BackoffSleep(ctx, r.Window) {
		return model.RawAudioWindow{}, ctx.Err()
	}
	samples := int(r.Window.Seconds() * float64(r.SampleRate))
	pcm := make([]int16, samples)
	r.mu.Lock()
	for i := range pcm {
		pcm[i] = int16(r.rng.Intn(64) - 32)
	}
	r.mu.Unlock()
	return model.RawAudioWindow{
		PCM:        pcm,
		SampleRate: r.SampleRate,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// SimulatedClassifier produces mostly-quiet rankings with an occasional
// high-confidence event, for exercising the pipeline end to end without a
// model.
type SimulatedClassifier struct {
	EventRate float64 // probability per window of a dangerous event

	mu  sync.Mutex
	rng *rand.Rand
}

var simulatedEvents = []string{"gunshot", "chainsaw", "scream", "AXE Chopping", "glass_break"}

func NewSimulatedClassifier(eventRate float64, seed int64) *SimulatedClassifier {
	if eventRate <= 0 {
		eventRate = 0.05
	}
	return &SimulatedClassifier{
		EventRate: eventRate,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (c *SimulatedClassifier) Classify(_ context.Context, _ model.RawAudioWindow) ([]model.Ranked, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng.Float64() < c.EventRate {
		label := simulatedEvents[c.rng.Intn(len(simulatedEvents))]
		conf := 0.65 + c.rng.Float64()*0.34
		return []model.Ranked{
			{Label: label, Confidence: conf},
			{Label: "forest_ambience", Confidence: 1 - conf},
		}, nil
	}
	return []model.Ranked{
		{Label: "forest_ambience", Confidence: 0.70 + c.rng.Float64()*0.25},
		{Label: "birdsong", Confidence: c.rng.Float64() * 0.3},
		{Label: "wind", Confidence: c.rng.Float64() * 0.2},
	}, nil
}
