package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakePort is an in-memory Port. Feed appends inbound bytes; Fail forces
// the next Read to return an error.
type fakePort struct {
	mu          sync.Mutex
	data        []byte
	written     []byte
	readTimeout time.Duration
	closed      bool
	readErr     error
}

func (p *fakePort) Feed(b []byte) {
	p.mu.Lock()
	p.data = append(p.data, b...)
	p.mu.Unlock()
}

func (p *fakePort) Fail(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

func (p *fakePort) Read(b []byte) (int, error) {
	deadline := time.Now().Add(p.timeout())
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return 0, err
		}
		if len(p.data) > 0 {
			n := copy(b, p.data)
			p.data = p.data[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakePort) timeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readTimeout <= 0 {
		return time.Millisecond
	}
	return p.readTimeout
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	p.readTimeout = d
	p.mu.Unlock()
	return nil
}

func openFake(p *fakePort) Opener {
	return func(string, int) (Port, error) { return p, nil }
}

func TestReadLinePartialBuffering(t *testing.T) {
	p := &fakePort{}
	h, err := Open(openFake(p), "fake", 115200)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	p.Feed([]byte("EVT:GUN"))
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Feed([]byte("SHOT\r\nTAIL"))
	}()
	line, err := h.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(line) != "EVT:GUNSHOT" {
		t.Fatalf("line: %q", line)
	}
	// the partial "TAIL" must stay buffered, not be delivered
	if _, err := h.ReadLine(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout for partial line, got %v", err)
	}
	p.Feed([]byte("END\n"))
	line, err = h.ReadLine(time.Second)
	if err != nil || string(line) != "TAILEND" {
		t.Fatalf("line: %q err: %v", line, err)
	}
}

func TestReadLineTimeout(t *testing.T) {
	h, err := Open(openFake(&fakePort{}), "fake", 115200)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	if _, err := h.ReadLine(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWriteAppendsNewline(t *testing.T) {
	p := &fakePort{}
	h, err := Open(openFake(p), "fake", 115200)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	if err := h.Write([]byte("EVT:SCREAM;CONF:0.80")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.mu.Lock()
	got := string(p.written)
	p.mu.Unlock()
	if got != "EVT:SCREAM;CONF:0.80\n" {
		t.Fatalf("written: %q", got)
	}
}

func TestCloseUnblocksRead(t *testing.T) {
	h, err := Open(openFake(&fakePort{}), "fake", 115200)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := h.ReadLine(5 * time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = h.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("read did not return after close")
	}
}

func TestSupervisorReconnectsAfterOpenFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	port := &fakePort{}
	port.Feed([]byte("EVT:CHAINSAW;CONF:0.75;LAT:1.0;LON:2.0;TS:100\n"))
	opener := func(string, int) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 2 {
			return nil, errors.New("port busy")
		}
		return port, nil
	}
	sup := NewSupervisor(SupervisorOptions{
		Opener:      opener,
		Port:        "/dev/ttyUSB0",
		Baud:        115200,
		ReadTimeout: 20 * time.Millisecond,
		Backoff:     10 * time.Millisecond,
	}, nil)

	lines := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx, func(b []byte) { lines <- string(b) })

	select {
	case got := <-lines:
		if got != "EVT:CHAINSAW;CONF:0.75;LAT:1.0;LON:2.0;TS:100" {
			t.Fatalf("line: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no line after reconnect")
	}
	mu.Lock()
	if attempts < 3 {
		t.Fatalf("attempts: %d", attempts)
	}
	mu.Unlock()
	if sup.State() != StateListening {
		t.Fatalf("state: %s", sup.State())
	}
}

func TestSupervisorReopensAfterReadError(t *testing.T) {
	first := &fakePort{}
	second := &fakePort{}
	second.Feed([]byte("EVT:SCREAM;CONF:0.9;LAT:1.0;LON:2.0;TS:200\n"))
	var mu sync.Mutex
	opens := 0
	reconnects := 0
	opener := func(string, int) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	}
	sup := NewSupervisor(SupervisorOptions{
		Opener:      opener,
		Port:        "/dev/ttyUSB0",
		ReadTimeout: 20 * time.Millisecond,
		Backoff:     10 * time.Millisecond,
		OnReconnect: func() { mu.Lock(); reconnects++; mu.Unlock() },
	}, nil)

	lines := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx, func(b []byte) { lines <- string(b) })

	time.Sleep(30 * time.Millisecond)
	first.Fail(errors.New("usb unplugged"))

	select {
	case got := <-lines:
		if got != "EVT:SCREAM;CONF:0.9;LAT:1.0;LON:2.0;TS:200" {
			t.Fatalf("line: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no line after link loss")
	}
	mu.Lock()
	if reconnects != 1 {
		t.Fatalf("reconnects: %d", reconnects)
	}
	mu.Unlock()
}

func TestSupervisorWriteUnavailableWhenDown(t *testing.T) {
	sup := NewSupervisor(SupervisorOptions{Port: "/dev/ttyUSB0"}, nil)
	if err := sup.Write([]byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
