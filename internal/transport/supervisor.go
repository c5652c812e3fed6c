package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// State of the supervised link.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
)

// Supervisor owns the link lifecycle: open, read, and on any I/O error
// close + fixed backoff + reopen, without bound. An open failure at start
// is non-fatal; the caller keeps running degraded until the port appears.
type Supervisor struct {
	opener      Opener
	portName    string
	baud        int
	readTimeout time.Duration
	backoff     time.Duration
	logger      *slog.Logger
	onReconnect func()

	mu     sync.RWMutex
	handle *Handle
	state  State
}

// SupervisorOptions configures a Supervisor. Zero durations fall back to
// 1s read timeout and 5s backoff. OnReconnect, when set, fires once per
// successful open after the first.
type SupervisorOptions struct {
	Opener      Opener
	Port        string
	Baud        int
	ReadTimeout time.Duration
	Backoff     time.Duration
	OnReconnect func()
}

func NewSupervisor(opts SupervisorOptions, logger *slog.Logger) *Supervisor {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Supervisor{
		opener:      opts.Opener,
		portName:    opts.Port,
		baud:        opts.Baud,
		readTimeout: opts.ReadTimeout,
		backoff:     opts.Backoff,
		logger:      logger,
		onReconnect: opts.OnReconnect,
		state:       StateDisconnected,
	}
}

// State reports the current link state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether a link is currently open.
func (s *Supervisor) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil
}

// Write sends one line over the current link. ErrUnavailable while the
// link is down; a write error tears the link down so the run loop reopens
// it.
func (s *Supervisor) Write(line []byte) error {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()
	if h == nil {
		return ErrUnavailable
	}
	if err := h.Write(line); err != nil {
		_ = h.Close()
		return err
	}
	return nil
}

// Run drives the connect/read/reconnect loop until ctx ends. Every
// complete inbound line is handed to onLine; a nil onLine discards them
// (transmit-only nodes still drain receiver debug output). With no port
// configured Run idles in degraded mode until shutdown.
func (s *Supervisor) Run(ctx context.Context, onLine func([]byte)) {
	if s.portName == "" {
		if s.logger != nil {
			s.logger.Warn("no serial port configured, running degraded")
		}
		<-ctx.Done()
		return
	}
	opened := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting, nil)
		h, err := Open(s.opener, s.portName, s.baud)
		if err != nil {
			s.setState(StateDisconnected, nil)
			if s.logger != nil {
				s.logger.Warn("serial open failed", "port", s.portName, "err", err)
			}
			if !BackoffSleep(ctx, s.backoff) {
				return
			}
			continue
		}
		opened++
		if opened > 1 && s.onReconnect != nil {
			s.onReconnect()
		}
		if s.logger != nil {
			s.logger.Info("serial link up", "port", s.portName, "baud", s.baud)
		}
		s.setState(StateListening, h)
		s.readLoop(ctx, h, onLine)
		s.setState(StateDisconnected, nil)
		_ = h.Close()
		if ctx.Err() != nil {
			return
		}
		if s.logger != nil {
			s.logger.Warn("serial link lost, reconnecting", "port", s.portName, "backoff", s.backoff)
		}
		if !BackoffSleep(ctx, s.backoff) {
			return
		}
	}
}

func (s *Supervisor) readLoop(ctx context.Context, h *Handle, onLine func([]byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := h.ReadLine(s.readTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if !errors.Is(err, io.ErrClosedPipe) && s.logger != nil {
				s.logger.Warn("serial read error", "err", err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}
		if onLine != nil {
			onLine(line)
		}
	}
}

// Shutdown closes the current link so a blocked read returns before Run's
// goroutine is joined.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	if h != nil {
		_ = h.Close()
	}
}

func (s *Supervisor) setState(st State, h *Handle) {
	s.mu.Lock()
	s.state = st
	s.handle = h
	s.mu.Unlock()
}
