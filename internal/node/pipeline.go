// Package node runs the field-side pipeline: capture → infer → decide+send.
// The stages are linked by bounded channels so a slow transmit never stalls
// capture; under backpressure the oldest unconsumed item is dropped, since
// recency outweighs completeness for a live surveillance feed.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"forestwatch/internal/config"
	"forestwatch/internal/decision"
	"forestwatch/internal/metrics"
	"forestwatch/internal/model"
	"forestwatch/internal/transport"
	"forestwatch/internal/wire"
)

// Recorder captures one audio window per call, blocking for the window
// duration.
type Recorder interface {
	Record(ctx context.Context) (model.RawAudioWindow, error)
}

// Classifier is the external acoustic model: waveform in, ranked labels
// out. Confidences are [0,1] fractions; adapters for models reporting
// percentages normalize before returning.
type Classifier interface {
	Classify(ctx context.Context, w model.RawAudioWindow) ([]model.Ranked, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, w model.RawAudioWindow) ([]model.Ranked, error)

func (f ClassifierFunc) Classify(ctx context.Context, w model.RawAudioWindow) ([]model.Ranked, error) {
	return f(ctx, w)
}

// Transmitter is the outbound side of the radio link.
type Transmitter interface {
	Write(line []byte) error
}

// DetectionLogger records every inference result, alert or not.
type DetectionLogger interface {
	Append(v any) error
}

type Pipeline struct {
	cfg     config.NodeConfig
	rec     Recorder
	cls     Classifier
	tx      Transmitter
	detlog  DetectionLogger
	logger  *slog.Logger
	collect *metrics.Collector

	audioCh  chan model.RawAudioWindow
	resultCh chan model.InferenceResult
}

// New wires the pipeline. tx and detlog may be nil: a nil tx runs the node
// in degraded mode where alerts are logged but not sent.
func New(cfg config.NodeConfig, rec Recorder, cls Classifier, tx Transmitter, detlog DetectionLogger, logger *slog.Logger, collect *metrics.Collector) *Pipeline {
	buffer := cfg.QueueBuffer
	if buffer <= 0 {
		buffer = 8
	}
	return &Pipeline{
		cfg:      cfg,
		rec:      rec,
		cls:      cls,
		tx:       tx,
		detlog:   detlog,
		logger:   logger,
		collect:  collect,
		audioCh:  make(chan model.RawAudioWindow, buffer),
		resultCh: make(chan model.InferenceResult, buffer),
	}
}

// Run starts the three stages and blocks until ctx ends and they have all
// drained. A fault inside any stage is logged and the stage carries on;
// nothing short of cancellation stops monitoring.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.captureLoop(ctx) }()
	go func() { defer wg.Done(); p.inferLoop(ctx) }()
	go func() { defer wg.Done(); p.sendLoop(ctx) }()
	wg.Wait()
}

func (p *Pipeline) captureLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		window, err := p.rec.Record(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if p.logger != nil {
				p.logger.Warn("audio capture error", "err", err)
			}
			if !transport.BackoffSleep(ctx, time.Second) {
				return
			}
			continue
		}
		p.queueWindow(window)
	}
}

// queueWindow hands the window to the inference stage, evicting the oldest
// queued window when full. Every lost item is counted, including the new
// window when the freed slot is gone by the time of the retry.
func (p *Pipeline) queueWindow(w model.RawAudioWindow) {
	select {
	case p.audioCh <- w:
		return
	default:
	}
	select {
	case <-p.audioCh:
		p.collect.IncQueueDrop("capture")
		if p.logger != nil {
			p.logger.Warn("inference lagging, dropping oldest audio window")
		}
	default:
	}
	select {
	case p.audioCh <- w:
	default:
		p.collect.IncQueueDrop("capture")
		if p.logger != nil {
			p.logger.Warn("capture queue contended, dropping current window")
		}
	}
}

func (p *Pipeline) inferLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case window := <-p.audioCh:
			rankings, err := p.cls.Classify(ctx, window)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.collect.IncClassifierFailure()
				if p.logger != nil {
					p.logger.Warn("classifier error, treating window as silent", "err", err)
				}
				continue
			}
			result := model.InferenceResult{
				Rankings:  rankings,
				Timestamp: window.CapturedAt.Unix(),
				NodeID:    p.cfg.ID,
				Latitude:  p.cfg.Latitude,
				Longitude: p.cfg.Longitude,
			}
			p.queueResult(result)
		}
	}
}

// queueResult mirrors queueWindow for the inference-to-send queue.
func (p *Pipeline) queueResult(r model.InferenceResult) {
	select {
	case p.resultCh <- r:
		return
	default:
	}
	select {
	case <-p.resultCh:
		p.collect.IncQueueDrop("infer")
		if p.logger != nil {
			p.logger.Warn("decision stage lagging, dropping oldest result")
		}
	default:
	}
	select {
	case p.resultCh <- r:
	default:
		p.collect.IncQueueDrop("infer")
		if p.logger != nil {
			p.logger.Warn("result queue contended, dropping current result")
		}
	}
}

func (p *Pipeline) sendLoop(ctx context.Context) {
	policy := decision.Policy{
		Threshold: p.cfg.Decision.Threshold,
		Labels:    p.cfg.Decision.AlertLabels,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-p.resultCh:
			if p.detlog != nil {
				if err := p.detlog.Append(result); err != nil && p.logger != nil {
					p.logger.Warn("detection log append failed", "err", err)
				}
			}
			alert, ok := decision.Decide(result, policy)
			if !ok {
				continue
			}
			line := wire.Encode(alert)
			if p.logger != nil {
				p.logger.Warn("alert triggered",
					"event_type", alert.EventType,
					"confidence", alert.Confidence,
					"node_id", alert.NodeID,
				)
			}
			if p.tx == nil {
				if p.logger != nil {
					p.logger.Info("no transmitter, alert not sent", "payload", line)
				}
				continue
			}
			if err := p.tx.Write([]byte(line)); err != nil {
				p.collect.IncSendFailure()
				if p.logger != nil {
					p.logger.Error("alert transmit failed", "err", err, "payload", line)
				}
				continue
			}
			p.collect.IncAlertSent()
			if p.logger != nil {
				p.logger.Info("alert transmitted", "payload", line)
			}
		}
	}
}
