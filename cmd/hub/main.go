// The hub ingests alert frames from the radio receiver (and optionally a
// Kafka topic), keeps the recent history, and serves queries plus a live
// stream to dashboards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"forestwatch/internal/api"
	"forestwatch/internal/broadcast"
	"forestwatch/internal/config"
	"forestwatch/internal/hub"
	"forestwatch/internal/logging"
	"forestwatch/internal/metrics"
	"forestwatch/internal/storage"
	"forestwatch/internal/store"
	"forestwatch/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	var manager *config.Manager
	cfg := config.DefaultConfig()
	if *configPath != "" {
		m, err := config.NewManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		manager = m
		cfg = m.Get()
	}

	logger := logging.NewLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collect := metrics.NewCollector(nil)
	history := store.New(cfg.Hub.HistoryLimit)
	bcast := broadcast.New(history, cfg.Hub.Broadcast.SubscriberBuffer, logging.Component(logger, "broadcast"), collect)

	var persist storage.Store
	if st, err := storage.NewStore(cfg.Hub.Storage); err != nil {
		logger.Error("storage open failed, continuing without persistence", "err", err)
	} else if st != nil {
		if err := st.Init(ctx); err != nil {
			logger.Error("storage init failed, continuing without persistence", "err", err)
			_ = st.Close()
		} else {
			persist = st
			defer st.Close()
		}
	}

	var eventLog *storage.JSONLWriter
	if cfg.Hub.EventLog != "" {
		w, err := storage.NewJSONLWriter(cfg.Hub.EventLog)
		if err != nil {
			logger.Warn("event log open failed, continuing without it", "path", cfg.Hub.EventLog, "err", err)
		} else {
			eventLog = w
			defer w.Close()
		}
	}

	sup := transport.NewSupervisor(transport.SupervisorOptions{
		Port:        cfg.Hub.Serial.Port,
		Baud:        cfg.Hub.Serial.Baud,
		ReadTimeout: cfg.Hub.Serial.ReadTimeout,
		Backoff:     cfg.Hub.Serial.ReconnectDelay,
		OnReconnect: collect.IncReconnect,
	}, logging.Component(logger, "serial"))

	pipeline := hub.New(hub.Options{
		History:    history,
		Broadcast:  bcast,
		Supervisor: sup,
		Persist:    persist,
		JSONL:      eventLog,
		Logger:     logging.Component(logger, "hub"),
		Metrics:    collect,
	})

	hub.StartKafka(ctx, cfg.Hub.Kafka, pipeline.Ingest, logging.Component(logger, "kafka"))
	api.Start(ctx, cfg.Hub.API, history, bcast, pipeline, logging.Component(logger, "api"), version)

	if manager != nil {
		go manager.Watch(0,
			func(*config.Config) { logger.Info("config reloaded", "path", manager.Path()) },
			func(err error) { logger.Warn("config reload failed", "err", err) },
			ctx.Done())
	}

	logger.Info("hub started",
		"serial_port", cfg.Hub.Serial.Port,
		"history_limit", cfg.Hub.HistoryLimit,
		"api", cfg.Hub.API.Addr,
	)
	pipeline.Run(ctx)
	sup.Shutdown()
	logger.Info("hub stopped")
}
