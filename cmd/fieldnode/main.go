// The field node captures audio windows, classifies them, and transmits
// alert frames over the serial radio link. Without audio hardware or a
// model it runs the synthetic recorder and simulated classifier, which
// exercise the full pipeline end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"forestwatch/internal/config"
	"forestwatch/internal/logging"
	"forestwatch/internal/metrics"
	"forestwatch/internal/node"
	"forestwatch/internal/storage"
	"forestwatch/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	eventRate := flag.Float64("event-rate", 0.05, "probability per window of a simulated dangerous event")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := logging.NewLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collect := metrics.NewCollector(nil)
	sup := transport.NewSupervisor(transport.SupervisorOptions{
		Port:        cfg.Node.Serial.Port,
		Baud:        cfg.Node.Serial.Baud,
		ReadTimeout: cfg.Node.Serial.ReadTimeout,
		Backoff:     cfg.Node.Serial.ReconnectDelay,
		OnReconnect: collect.IncReconnect,
	}, logging.Component(logger, "serial"))

	var detlog node.DetectionLogger
	if cfg.Node.DetectionLog != "" {
		w, err := storage.NewJSONLWriter(cfg.Node.DetectionLog)
		if err != nil {
			logger.Warn("detection log open failed, continuing without it", "path", cfg.Node.DetectionLog, "err", err)
		} else {
			detlog = w
			defer w.Close()
		}
	}

	seed := time.Now().UnixNano()
	rec := node.NewSyntheticRecorder(cfg.Node.Capture.WindowDuration, cfg.Node.Capture.SampleRate, seed)
	cls := node.NewSimulatedClassifier(*eventRate, seed+1)
	pipeline := node.New(cfg.Node, rec, cls, sup, detlog, logging.Component(logger, "pipeline"), collect)

	logger.Info("field node started",
		"node_id", cfg.Node.ID,
		"serial_port", cfg.Node.Serial.Port,
		"threshold", cfg.Node.Decision.Threshold,
		"alert_labels", cfg.Node.Decision.AlertLabels,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// transmit-only link: inbound lines are receiver debug output
		sup.Run(ctx, nil)
	}()
	pipeline.Run(ctx)
	sup.Shutdown()
	wg.Wait()
	logger.Info("field node stopped")
}
