package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	var got atomic.Int32
	handler := func(ctx context.Context, e Event) error {
		defer wg.Done()
		if e.Type != EventCommandReceived {
			t.Errorf("Type = %s, want %s", e.Type, EventCommandReceived)
		}
		if e.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
		got.Add(1)
		return nil
	}
	bus.Subscribe(EventCommandReceived, "a", handler)
	bus.Subscribe(EventCommandReceived, "b", handler)

	bus.Emit(context.Background(), Event{Type: EventCommandReceived, Source: "test"})

	waitTimeout(t, &wg)
	if got.Load() != 2 {
		t.Errorf("handlers called %d times, want 2", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.SubscribeAll(SessionEvents, "ws", func(context.Context, Event) error { return nil })
	if n := bus.HandlerCount(EventSessionOpened); n != 1 {
		t.Fatalf("HandlerCount = %d, want 1", n)
	}

	bus.UnsubscribeAll(SessionEvents, "ws")
	for _, et := range SessionEvents {
		if n := bus.HandlerCount(et); n != 0 {
			t.Errorf("%s: HandlerCount = %d after unsubscribe, want 0", et, n)
		}
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventAuthFailed, "fails", func(context.Context, Event) error { return boom })
	bus.Subscribe(EventAuthFailed, "ok", func(context.Context, Event) error { return nil })

	if err := bus.EmitSync(context.Background(), Event{Type: EventAuthFailed}); !errors.Is(err, boom) {
		t.Errorf("EmitSync err = %v, want %v", err, boom)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventSessionClosed, "panics", func(context.Context, Event) error { panic("bad handler") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventSessionClosed}); err != nil {
		t.Errorf("EmitSync err = %v, want nil", err)
	}
}

func TestEmitAfterStopIsDropped(t *testing.T) {
	bus := NewEventBus()

	var called atomic.Bool
	bus.Subscribe(EventShutdown, "h", func(context.Context, Event) error {
		called.Store(true)
		return nil
	})
	bus.Stop()
	bus.Stop()

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	time.Sleep(20 * time.Millisecond)
	if called.Load() {
		t.Error("handler called after Stop")
	}

	select {
	case <-bus.StopCh():
	default:
		t.Error("StopCh not closed")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
