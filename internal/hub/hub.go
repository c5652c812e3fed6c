// Package hub runs the central ingestion pipeline: lines arrive off the
// radio link (or a broker), get decoded, land in the bounded history, and
// fan out to live subscribers. A bad frame is dropped and logged; nothing
// here stops the loop.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"forestwatch/internal/broadcast"
	"forestwatch/internal/metrics"
	"forestwatch/internal/model"
	"forestwatch/internal/storage"
	"forestwatch/internal/store"
	"forestwatch/internal/transport"
	"forestwatch/internal/wire"
)

type Pipeline struct {
	history *store.EventStore
	bcast   *broadcast.Broadcaster
	sup     *transport.Supervisor
	persist storage.Store
	jsonl   *storage.JSONLWriter
	logger  *slog.Logger
	collect *metrics.Collector

	persistCh chan model.Alert
}

// Options for the hub pipeline. Supervisor, Persist and JSONL are optional:
// without a supervisor the hub only serves broker-fed and replayed data.
type Options struct {
	History    *store.EventStore
	Broadcast  *broadcast.Broadcaster
	Supervisor *transport.Supervisor
	Persist    storage.Store
	JSONL      *storage.JSONLWriter
	Logger     *slog.Logger
	Metrics    *metrics.Collector
}

func New(opts Options) *Pipeline {
	return &Pipeline{
		history:   opts.History,
		bcast:     opts.Broadcast,
		sup:       opts.Supervisor,
		persist:   opts.Persist,
		jsonl:     opts.JSONL,
		logger:    opts.Logger,
		collect:   opts.Metrics,
		persistCh: make(chan model.Alert, 256),
	}
}

// Run blocks until ctx ends, driving the serial read loop and the
// persistence writer.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if p.persist != nil {
		wg.Add(1)
		go func() { defer wg.Done(); p.persistLoop(ctx) }()
	}
	if p.sup != nil {
		p.sup.Run(ctx, func(line []byte) { p.Ingest(string(line)) })
	} else {
		<-ctx.Done()
	}
	wg.Wait()
}

// State reports the link state for the status endpoint.
func (p *Pipeline) State() transport.State {
	if p.sup == nil {
		return transport.StateDisconnected
	}
	return p.sup.State()
}

// Ingest decodes one wire line and routes the alert. Called from the serial
// read loop and from the Kafka source; safe for concurrent use. Decode
// failures are counted and logged, never fatal.
func (p *Pipeline) Ingest(line string) {
	alert, err := wire.Decode(line)
	if err != nil {
		reason := "unknown"
		var de *wire.DecodeError
		if errors.As(err, &de) {
			reason = string(de.Reason)
		}
		p.collect.IncDecodeFailure(reason)
		if p.logger != nil {
			p.logger.Warn("dropping undecodable frame", "err", err, "line", line)
		}
		return
	}
	alert.ReceivedAt = time.Now().UTC()
	p.collect.IncFramesDecoded()
	if p.logger != nil {
		p.logger.Info("alert received",
			"event_type", alert.EventType,
			"confidence", alert.Confidence,
			"node_id", alert.NodeID,
		)
	}
	p.history.Append(alert)
	p.bcast.Publish(alert)
	if p.jsonl != nil {
		if err := p.jsonl.Append(alert); err != nil && p.logger != nil {
			p.logger.Warn("alert log append failed", "err", err)
		}
	}
	if p.persist != nil {
		select {
		case p.persistCh <- alert:
		default:
			p.collect.IncPersistDrop()
			if p.logger != nil {
				p.logger.Warn("persistence lagging, dropping alert write")
			}
		}
	}
}

func (p *Pipeline) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// drain what is already queued before stopping
			for {
				select {
				case alert := <-p.persistCh:
					p.saveAlert(alert)
				default:
					return
				}
			}
		case alert := <-p.persistCh:
			p.saveAlert(alert)
		}
	}
}

func (p *Pipeline) saveAlert(alert model.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.persist.SaveAlert(ctx, alert); err != nil && p.logger != nil {
		p.logger.Warn("alert persist failed", "err", err)
	}
}
