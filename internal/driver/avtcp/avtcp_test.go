package avtcp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// testServer is a minimal line-protocol endpoint on a loopback listener.
type testServer struct {
	listener net.Listener

	mu    sync.Mutex
	conns []net.Conn
	lines []string // command lines received from the client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &testServer{listener: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.readLoop(conn)
		}
	}()
	return s
}

func (s *testServer) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		s.mu.Lock()
		s.lines = append(s.lines, scanner.Text())
		s.mu.Unlock()
	}
}

func (s *testServer) addr() string {
	return s.listener.Addr().String()
}

// push writes a state line on the most recent connection.
func (s *testServer) push(t *testing.T, line string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no client connection to push to")
	}
	conn := s.conns[len(s.conns)-1]
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// dropClient closes the most recent connection from the server side.
func (s *testServer) dropClient(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no client connection to drop")
	}
	_ = s.conns[len(s.conns)-1].Close()
}

func (s *testServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func connectedClient(t *testing.T, s *testServer) (*Client, chan driver.Event) {
	t.Helper()

	c := New(Config{})
	events := make(chan driver.Event, 32)
	c.SetOnEvent(func(ev driver.Event) { events <- ev })

	if err := c.Connect(context.Background(), s.addr()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })

	waitDriverEvent(t, events, driver.EventConnected)
	return c, events
}

func waitDriverEvent(t *testing.T, ch <-chan driver.Event, want driver.EventType) driver.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func TestConnectAndStateLines(t *testing.T) {
	s := newTestServer(t)
	c, events := connectedClient(t, s)

	s.push(t, "POWER on")
	ev := waitDriverEvent(t, events, driver.EventStateChanged)
	if ev.ChangedPath != "POWER" {
		t.Errorf("ChangedPath = %q, want %q", ev.ChangedPath, "POWER")
	}
	if ev.State["POWER"] != "on" {
		t.Errorf("State[POWER] = %v, want %q", ev.State["POWER"], "on")
	}

	s.push(t, "VOLUME 42")
	ev = waitDriverEvent(t, events, driver.EventStateChanged)
	if ev.State["VOLUME"] != "42" {
		t.Errorf("State[VOLUME] = %v, want %q", ev.State["VOLUME"], "42")
	}
	// Snapshot accumulates across lines.
	if ev.State["POWER"] != "on" {
		t.Errorf("State[POWER] = %v, want %q (retained)", ev.State["POWER"], "on")
	}

	got := c.State()
	if got["POWER"] != "on" || got["VOLUME"] != "42" {
		t.Errorf("State() = %v, want POWER=on VOLUME=42", got)
	}
}

func TestStateSnapshotIsolation(t *testing.T) {
	s := newTestServer(t)
	c, events := connectedClient(t, s)

	s.push(t, "POWER on")
	ev := waitDriverEvent(t, events, driver.EventStateChanged)

	ev.State["POWER"] = "tampered"
	if got := c.State(); got["POWER"] != "on" {
		t.Errorf("event snapshot mutation leaked into client state: %v", got)
	}
}

func TestSendWritesCommandLine(t *testing.T) {
	s := newTestServer(t)
	c, _ := connectedClient(t, s)

	if err := c.Send(context.Background(), "SET VOLUME 10"); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if lines := s.received(); len(lines) > 0 {
			if lines[0] != "SET VOLUME 10" {
				t.Errorf("server received %q, want %q", lines[0], "SET VOLUME 10")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("server never received the command")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := c.Stats().CommandsTx; got != 1 {
		t.Errorf("CommandsTx = %d, want 1", got)
	}
}

func TestSendRejectsMultiline(t *testing.T) {
	s := newTestServer(t)
	c, _ := connectedClient(t, s)

	if err := c.Send(context.Background(), "SET A 1\nSET B 2"); err == nil {
		t.Error("Send() with embedded newline expected error, got nil")
	}
}

func TestSendNotConnected(t *testing.T) {
	c := New(Config{})
	if err := c.Send(context.Background(), "PING"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectWhileConnected(t *testing.T) {
	s := newTestServer(t)
	c, _ := connectedClient(t, s)

	if err := c.Connect(context.Background(), s.addr()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectRefused(t *testing.T) {
	// Listener closed immediately: the port refuses connections.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := New(Config{DialTimeout: 500 * time.Millisecond})
	if err := c.Connect(context.Background(), addr); err == nil {
		t.Error("Connect() to closed port expected error, got nil")
	}
}

func TestUnsolicitedDropEmitsDisconnected(t *testing.T) {
	s := newTestServer(t)
	c, events := connectedClient(t, s)

	s.dropClient(t)
	waitDriverEvent(t, events, driver.EventDisconnected)

	// The client must NOT reconnect on its own.
	time.Sleep(50 * time.Millisecond)
	if err := c.Send(context.Background(), "PING"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after drop error = %v, want ErrNotConnected", err)
	}
}

func TestLocalDisconnectIsSilent(t *testing.T) {
	s := newTestServer(t)
	c, events := connectedClient(t, s)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() unexpected error: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type == driver.EventDisconnected {
			t.Error("local Disconnect() emitted a disconnected event")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	s := newTestServer(t)
	c, events := connectedClient(t, s)

	s.push(t, "POWER on")
	waitDriverEvent(t, events, driver.EventStateChanged)

	s.dropClient(t)
	waitDriverEvent(t, events, driver.EventDisconnected)

	// Same client instance reconnects; state starts fresh.
	if err := c.Connect(context.Background(), s.addr()); err != nil {
		t.Fatalf("re-Connect() unexpected error: %v", err)
	}
	waitDriverEvent(t, events, driver.EventConnected)

	if got := c.State(); len(got) != 0 {
		t.Errorf("State() after reconnect = %v, want empty", got)
	}
}

func TestFactoryValidatesAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "host and port", address: "192.168.1.40:4999"},
		{name: "hostname", address: "amp-rack:23"},
		{name: "missing port", address: "192.168.1.40", wantErr: true},
		{name: "empty", address: "", wantErr: true},
	}

	factory := Factory(Config{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory(tt.address)
			if tt.wantErr && err == nil {
				t.Errorf("Factory(%q) expected error, got nil", tt.address)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Factory(%q) unexpected error: %v", tt.address, err)
			}
		})
	}
}

func TestDisconnectWhenNotConnected(t *testing.T) {
	c := New(Config{})
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect() on idle client: %v", err)
	}
}
