// Package transport provides newline-framed I/O over a serial radio link
// with a reconnect supervisor. The physical port sits behind the Port
// interface so tests can run against an in-memory fake.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	// ErrTimeout reports that no full line arrived within the deadline.
	ErrTimeout = errors.New("transport: read timeout")
	// ErrUnavailable reports that no link is currently open. Callers run
	// degraded and retry later; the condition is never fatal.
	ErrUnavailable = errors.New("transport: link unavailable")
)

// Port is the minimal surface a physical link must expose. A Read that
// returns (0, nil) means the port-level read timeout elapsed.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// Opener opens a physical port. The default is SerialOpener; tests inject
// fakes to simulate open failure and recovery.
type Opener func(port string, baud int) (Port, error)

// Handle wraps an open port with line framing. Partial lines spanning
// reads are buffered and never delivered incomplete.
type Handle struct {
	port   Port
	buf    []byte
	wmu    sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// Open opens port at baud through the given opener.
func Open(opener Opener, port string, baud int) (*Handle, error) {
	if opener == nil {
		opener = SerialOpener
	}
	p, err := opener(port, baud)
	if err != nil {
		return nil, err
	}
	return &Handle{port: p, closed: make(chan struct{})}, nil
}

// ReadLine returns the next newline-terminated line without its terminator,
// trimming a trailing \r. It returns ErrTimeout when no full line arrives
// within timeout, and the port error once the link is lost. Close makes an
// in-flight ReadLine return promptly.
func (h *Handle) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 512)
	for {
		if i := bytes.IndexByte(h.buf, '\n'); i >= 0 {
			line := bytes.TrimRight(h.buf[:i], "\r")
			out := make([]byte, len(line))
			copy(out, line)
			h.buf = h.buf[i+1:]
			return out, nil
		}
		select {
		case <-h.closed:
			return nil, io.ErrClosedPipe
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if remaining > 250*time.Millisecond {
			remaining = 250 * time.Millisecond
		}
		_ = h.port.SetReadTimeout(remaining)
		n, err := h.port.Read(chunk)
		if n > 0 {
			h.buf = append(h.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// Write sends one line, appending the newline terminator when absent.
func (h *Handle) Write(line []byte) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	select {
	case <-h.closed:
		return io.ErrClosedPipe
	default:
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte(nil), line...), '\n')
	}
	_, err := h.port.Write(line)
	return err
}

// Close shuts the port down; any blocked ReadLine returns.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		close(h.closed)
		err = h.port.Close()
	})
	return err
}

// BackoffSleep waits for d unless the context ends first. It reports
// whether the full wait elapsed.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
