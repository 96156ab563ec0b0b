package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/protocol"
	"github.com/energizer-project/rcond/internal/session"
)

type staticSecret string

func (s staticSecret) Match(candidate string) bool { return string(s) == candidate }

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
	ch     chan events.Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan events.Event, 64)}
}

func (e *eventLog) Emit(_ context.Context, ev events.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	e.ch <- ev
}

// waitFor returns the next event of the given type.
func (e *eventLog) waitFor(t *testing.T, et events.EventType) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-e.ch:
			if ev.Type == et {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", et)
			return events.Event{}
		}
	}
}

type testServer struct {
	listener *TCPListener
	registry *ConnectionRegistry
	events   *eventLog
	cancel   context.CancelFunc
	done     chan error
}

func startServer(t *testing.T, maxConns int) *testServer {
	t.Helper()

	evLog := newEventLog()
	registry := NewConnectionRegistry(evLog)
	l := NewTCPListener(ListenerConfig{
		Addr:           "127.0.0.1:0",
		MaxConnections: maxConns,
		Session:        session.Config{Secret: staticSecret("password"), WriteTimeout: time.Second},
	}, evLog, registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Listen(ctx); err != nil {
		cancel()
		t.Fatalf("Listen failed: %v", err)
	}

	srv := &testServer{listener: l, registry: registry, events: evLog, cancel: cancel, done: make(chan error, 1)}
	go func() { srv.done <- l.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-srv.done:
		case <-time.After(3 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return srv
}

func (s *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.listener.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn net.Conn, p protocol.Packet) protocol.Packet {
	t.Helper()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if err := protocol.WritePacket(conn, p); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	frame, err := protocol.NewFrameReader(conn, 0).Next()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	resp, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return resp
}

func TestListenerAuthAndCommand(t *testing.T) {
	srv := startServer(t, 0)
	conn := srv.dial(t)

	opened := srv.events.waitFor(t, events.EventSessionOpened)
	id := opened.Payload.(events.SessionPayload).SessionID
	if id == "" {
		t.Fatal("session id is empty")
	}

	if resp := exchange(t, conn, protocol.Packet{ID: 7, Type: protocol.TypeAuth, Body: "password"}); resp.ID != 7 {
		t.Errorf("auth response id = %d, want 7", resp.ID)
	}
	if resp := exchange(t, conn, protocol.Packet{ID: 42, Type: protocol.TypeExecCommand, Body: "status"}); resp.ID != 42 {
		t.Errorf("command response id = %d, want 42", resp.ID)
	}

	infos := srv.registry.GetAll()
	if len(infos) != 1 {
		t.Fatalf("registry has %d sessions, want 1", len(infos))
	}
	if !infos[0].Authenticated || infos[0].Commands != 1 || infos[0].ID != id {
		t.Errorf("info = %+v", infos[0])
	}
	if infos[0].BytesIn == 0 || infos[0].BytesOut == 0 {
		t.Errorf("traffic not counted: %+v", infos[0])
	}

	conn.Close()
	closed := srv.events.waitFor(t, events.EventSessionClosed)
	payload := closed.Payload.(events.SessionClosedPayload)
	if payload.Reason != session.ReasonPeerClosed || payload.Commands != 1 || !payload.Authenticated {
		t.Errorf("closed payload = %+v", payload)
	}
}

func TestListenerAuthFailure(t *testing.T) {
	srv := startServer(t, 0)
	conn := srv.dial(t)

	if resp := exchange(t, conn, protocol.Packet{ID: 3, Type: protocol.TypeAuth, Body: "nope"}); resp.ID != -1 {
		t.Errorf("auth response id = %d, want -1", resp.ID)
	}

	closed := srv.events.waitFor(t, events.EventSessionClosed)
	if r := closed.Payload.(events.SessionClosedPayload).Reason; r != session.ReasonAuthFailed {
		t.Errorf("reason = %s, want %s", r, session.ReasonAuthFailed)
	}

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("read after auth failure = %v, want EOF", err)
	}
}

func TestListenerKick(t *testing.T) {
	srv := startServer(t, 0)
	srv.dial(t)

	opened := srv.events.waitFor(t, events.EventSessionOpened)
	id := opened.Payload.(events.SessionPayload).SessionID

	if !srv.registry.Kick(context.Background(), id) {
		t.Fatal("Kick returned false for live session")
	}
	srv.events.waitFor(t, events.EventSessionKicked)

	closed := srv.events.waitFor(t, events.EventSessionClosed)
	if r := closed.Payload.(events.SessionClosedPayload).Reason; r != ReasonKicked {
		t.Errorf("reason = %s, want %s", r, ReasonKicked)
	}
	if srv.registry.Kick(context.Background(), id) {
		t.Error("Kick returned true for closed session")
	}
}

func TestListenerMaxConnections(t *testing.T) {
	srv := startServer(t, 1)
	srv.dial(t)
	srv.events.waitFor(t, events.EventSessionOpened)

	second := srv.dial(t)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("second connection read = %v, want EOF", err)
	}
	if n := srv.listener.ActiveSessions(); n != 1 {
		t.Errorf("ActiveSessions = %d, want 1", n)
	}
}

func TestListenerShutdownClosesSessions(t *testing.T) {
	srv := startServer(t, 0)
	conn := srv.dial(t)
	srv.events.waitFor(t, events.EventSessionOpened)

	srv.cancel()

	closed := srv.events.waitFor(t, events.EventSessionClosed)
	if r := closed.Payload.(events.SessionClosedPayload).Reason; r != session.ReasonShutdown {
		t.Errorf("reason = %s, want %s", r, session.ReasonShutdown)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("client connection still open after shutdown")
	}
}

func TestRegistryCleanStale(t *testing.T) {
	registry := NewConnectionRegistry(nil)

	server, client := net.Pipe()
	defer client.Close()

	conn := NewConnection("stale", server)
	registry.Register(conn)
	conn.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	fresh, freshClient := net.Pipe()
	defer freshClient.Close()
	registry.Register(NewConnection("fresh", fresh))

	if n := registry.CleanStale(time.Minute); n != 1 {
		t.Fatalf("CleanStale = %d, want 1", n)
	}
	if _, ok := registry.Get("stale"); ok {
		t.Error("stale connection still registered")
	}
	if !conn.IsClosed() || conn.CloseReason() != ReasonStale {
		t.Errorf("closed=%v reason=%q", conn.IsClosed(), conn.CloseReason())
	}
	if registry.Count() != 1 {
		t.Errorf("Count = %d, want 1", registry.Count())
	}

	registry.CloseAll()
	if registry.Count() != 0 {
		t.Errorf("Count after CloseAll = %d", registry.Count())
	}
}
