package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/rcond/internal/events"
)

func newTestAudit(t *testing.T) *AuditLog {
	t.Helper()
	audit, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditLog failed: %v", err)
	}
	t.Cleanup(func() { audit.Close() })
	return audit
}

func TestSessionLifecycle(t *testing.T) {
	audit := newTestAudit(t)
	now := time.Now()

	if err := audit.RecordSessionOpened("s1", "10.0.0.1:5000", now); err != nil {
		t.Fatal(err)
	}

	rec, err := audit.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClosedAt != nil || rec.RemoteAddr != "10.0.0.1:5000" {
		t.Errorf("open record = %+v", rec)
	}

	err = audit.RecordSessionClosed(events.SessionClosedPayload{
		SessionID:     "s1",
		Reason:        "peer_closed",
		Authenticated: true,
		Commands:      3,
		Duration:      time.Second,
	}, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}

	rec, err = audit.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClosedAt == nil || rec.Reason != "peer_closed" || !rec.Authenticated || rec.Commands != 3 {
		t.Errorf("closed record = %+v", rec)
	}
	if rec.RemoteAddr != "10.0.0.1:5000" {
		t.Errorf("remote address overwritten: %q", rec.RemoteAddr)
	}

	if _, err := audit.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) err = %v, want ErrNotFound", err)
	}
}

func TestClosedBeforeOpened(t *testing.T) {
	audit := newTestAudit(t)
	now := time.Now()

	audit.RecordSessionClosed(events.SessionClosedPayload{SessionID: "s2", RemoteAddr: "x", Reason: "auth_failed"}, now)
	audit.RecordSessionOpened("s2", "x", now)

	rec, err := audit.GetSession("s2")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClosedAt == nil || rec.Reason != "auth_failed" {
		t.Errorf("record = %+v", rec)
	}
}

func TestCommandsAndStats(t *testing.T) {
	audit := newTestAudit(t)
	base := time.Now()

	for i, body := range []string{"status", "players", "kick bob"} {
		err := audit.RecordCommand(events.CommandPayload{
			SessionID: "s1",
			RequestID: int32(i + 1),
			Command:   body,
		}, base.Add(time.Duration(i)*time.Millisecond))
		if err != nil {
			t.Fatal(err)
		}
	}
	audit.RecordCommand(events.CommandPayload{SessionID: "s2", RequestID: 9, Command: "other"}, base.Add(10*time.Millisecond))

	recent, err := audit.RecentCommands(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Body != "other" || recent[1].Body != "kick bob" {
		t.Errorf("RecentCommands = %+v", recent)
	}

	cmds, err := audit.SessionCommands("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 3 || cmds[0].Body != "status" || cmds[2].RequestID != 3 {
		t.Errorf("SessionCommands = %+v", cmds)
	}

	audit.RecordAuthAttempt(events.AuthPayload{SessionID: "s1", RequestID: 1, Success: true}, base)
	audit.RecordAuthAttempt(events.AuthPayload{SessionID: "s3", RequestID: 1}, base)
	audit.RecordSessionOpened("s1", "", base)

	stats, err := audit.Stats()
	if err != nil {
		t.Fatal(err)
	}
	want := AuditStats{Sessions: 1, OpenSessions: 1, AuthSuccesses: 1, AuthFailures: 1, Commands: 4, FailuresLast24: 1}
	if *stats != want {
		t.Errorf("Stats = %+v, want %+v", *stats, want)
	}
}

func TestPrune(t *testing.T) {
	audit := newTestAudit(t)
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	audit.RecordCommand(events.CommandPayload{SessionID: "old", Command: "a"}, old)
	audit.RecordCommand(events.CommandPayload{SessionID: "new", Command: "b"}, fresh)
	audit.RecordAuthAttempt(events.AuthPayload{SessionID: "old"}, old)
	audit.RecordSessionClosed(events.SessionClosedPayload{SessionID: "old"}, old)
	audit.RecordSessionOpened("live", "", old)

	n, err := audit.Prune(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("pruned %d rows, want 3", n)
	}

	if _, err := audit.GetSession("live"); err != nil {
		t.Errorf("open session pruned: %v", err)
	}
	recent, _ := audit.RecentCommands(10)
	if len(recent) != 1 || recent[0].Body != "b" {
		t.Errorf("remaining commands = %+v", recent)
	}
}

func TestSubscribeRecordsBusEvents(t *testing.T) {
	audit := newTestAudit(t)
	bus := events.NewEventBus()
	audit.Subscribe(bus)

	ctx := context.Background()
	bus.EmitSync(ctx, events.Event{Type: events.EventSessionOpened, Payload: events.SessionPayload{SessionID: "s1", RemoteAddr: "r"}})
	bus.EmitSync(ctx, events.Event{Type: events.EventAuthFailed, Payload: events.AuthPayload{SessionID: "s1", RequestID: 5}})
	bus.EmitSync(ctx, events.Event{Type: events.EventCommandReceived, Payload: events.CommandPayload{SessionID: "s1", Command: "status"}})
	bus.EmitSync(ctx, events.Event{Type: events.EventSessionClosed, Payload: events.SessionClosedPayload{SessionID: "s1", Reason: "auth_failed"}})
	bus.Stop()

	stats, err := audit.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Sessions != 1 || stats.OpenSessions != 0 || stats.AuthFailures != 1 || stats.Commands != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}
