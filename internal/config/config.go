package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config covers both processes; each binary reads its own section. YAML is
// the primary format, JSON accepted for generated configs.
type Config struct {
	LogLevel string     `json:"log_level" yaml:"log_level"`
	Node     NodeConfig `json:"node" yaml:"node"`
	Hub      HubConfig  `json:"hub" yaml:"hub"`
}

type NodeConfig struct {
	ID           string         `json:"id" yaml:"id"`
	Latitude     float64        `json:"latitude" yaml:"latitude"`
	Longitude    float64        `json:"longitude" yaml:"longitude"`
	Serial       SerialConfig   `json:"serial" yaml:"serial"`
	Capture      CaptureConfig  `json:"capture" yaml:"capture"`
	Decision     DecisionConfig `json:"decision" yaml:"decision"`
	QueueBuffer  int            `json:"queue_buffer" yaml:"queue_buffer"`
	DetectionLog string         `json:"detection_log" yaml:"detection_log"`
}

type HubConfig struct {
	Serial       SerialConfig    `json:"serial" yaml:"serial"`
	HistoryLimit int             `json:"history_limit" yaml:"history_limit"`
	EventLog     string          `json:"event_log" yaml:"event_log"`
	Kafka        KafkaConfig     `json:"kafka" yaml:"kafka"`
	API          APIConfig       `json:"api" yaml:"api"`
	Storage      StorageConfig   `json:"storage" yaml:"storage"`
	Broadcast    BroadcastConfig `json:"broadcast" yaml:"broadcast"`
}

type SerialConfig struct {
	Port           string        `json:"port" yaml:"port"`
	Baud           int           `json:"baud" yaml:"baud"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
}

type CaptureConfig struct {
	WindowDuration time.Duration `json:"window_duration" yaml:"window_duration"`
	SampleRate     int           `json:"sample_rate" yaml:"sample_rate"`
}

type DecisionConfig struct {
	Threshold   float64  `json:"threshold" yaml:"threshold"`
	AlertLabels []string `json:"alert_labels" yaml:"alert_labels"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type BroadcastConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Node: NodeConfig{
			ID:        "NODE1",
			Latitude:  27.712623,
			Longitude: 85.342602,
			Serial: SerialConfig{
				Baud:           115200,
				ReadTimeout:    time.Second,
				ReconnectDelay: 5 * time.Second,
			},
			Capture: CaptureConfig{
				WindowDuration: 2 * time.Second,
				SampleRate:     16000,
			},
			Decision: DecisionConfig{
				Threshold: 0.6,
				AlertLabels: []string{
					"gunshot", "scream", "glass_break", "explosion",
					"chainsaw", "axe chopping", "hand_saw",
				},
			},
			QueueBuffer: 8,
		},
		Hub: HubConfig{
			Serial: SerialConfig{
				Baud:           115200,
				ReadTimeout:    time.Second,
				ReconnectDelay: 5 * time.Second,
			},
			HistoryLimit: 100,
			Kafka:        KafkaConfig{Enabled: false},
			API:          APIConfig{Enabled: true, Addr: ":8080"},
			Storage:      StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:forestwatch.db?_pragma=busy_timeout(5000)"},
			Broadcast:    BroadcastConfig{SubscriberBuffer: 16},
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Node.ID == "" {
		cfg.Node.ID = def.Node.ID
	}
	if cfg.Node.Serial.Baud <= 0 {
		cfg.Node.Serial.Baud = def.Node.Serial.Baud
	}
	if cfg.Node.Serial.ReadTimeout <= 0 {
		cfg.Node.Serial.ReadTimeout = def.Node.Serial.ReadTimeout
	}
	if cfg.Node.Serial.ReconnectDelay <= 0 {
		cfg.Node.Serial.ReconnectDelay = def.Node.Serial.ReconnectDelay
	}
	if cfg.Node.Capture.WindowDuration <= 0 {
		cfg.Node.Capture.WindowDuration = def.Node.Capture.WindowDuration
	}
	if cfg.Node.Capture.SampleRate <= 0 {
		cfg.Node.Capture.SampleRate = def.Node.Capture.SampleRate
	}
	if cfg.Node.Decision.Threshold <= 0 {
		cfg.Node.Decision.Threshold = def.Node.Decision.Threshold
	}
	if len(cfg.Node.Decision.AlertLabels) == 0 {
		cfg.Node.Decision.AlertLabels = def.Node.Decision.AlertLabels
	}
	if cfg.Node.QueueBuffer <= 0 {
		cfg.Node.QueueBuffer = def.Node.QueueBuffer
	}
	if cfg.Hub.Serial.Baud <= 0 {
		cfg.Hub.Serial.Baud = def.Hub.Serial.Baud
	}
	if cfg.Hub.Serial.ReadTimeout <= 0 {
		cfg.Hub.Serial.ReadTimeout = def.Hub.Serial.ReadTimeout
	}
	if cfg.Hub.Serial.ReconnectDelay <= 0 {
		cfg.Hub.Serial.ReconnectDelay = def.Hub.Serial.ReconnectDelay
	}
	if cfg.Hub.HistoryLimit <= 0 {
		cfg.Hub.HistoryLimit = def.Hub.HistoryLimit
	}
	if cfg.Hub.Broadcast.SubscriberBuffer <= 0 {
		cfg.Hub.Broadcast.SubscriberBuffer = def.Hub.Broadcast.SubscriberBuffer
	}
	if cfg.Hub.Storage.Driver == "" {
		cfg.Hub.Storage.Driver = def.Hub.Storage.Driver
	}
}

func Validate(cfg *Config) error {
	if cfg.Node.Decision.Threshold < 0 || cfg.Node.Decision.Threshold > 1 {
		return errors.New("node.decision.threshold must be in [0,1]")
	}
	if cfg.Hub.API.Enabled && cfg.Hub.API.Addr == "" {
		return errors.New("hub.api.addr required when hub.api.enabled is true")
	}
	if cfg.Hub.Kafka.Enabled {
		if len(cfg.Hub.Kafka.Brokers) == 0 || cfg.Hub.Kafka.Topic == "" || cfg.Hub.Kafka.GroupID == "" {
			return errors.New("hub.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Hub.Storage.Enabled {
		switch strings.ToLower(cfg.Hub.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("hub.storage.driver unsupported: %s", cfg.Hub.Storage.Driver)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
