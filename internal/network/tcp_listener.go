package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/session"
)

// ListenerConfig configures a TCPListener.
type ListenerConfig struct {
	// Addr is the host:port to bind, e.g. "0.0.0.0:27015".
	Addr string
	// MaxConnections caps concurrent sessions. 0 means unlimited.
	MaxConnections int
	// Session is shared by every session the listener starts.
	Session session.Config
}

// TCPListener accepts RCON clients and runs one session per connection.
// It holds no protocol logic of its own.
type TCPListener struct {
	cfg      ListenerConfig
	eventBus session.Emitter
	registry *ConnectionRegistry
	handler  session.CommandHandler

	mu       sync.Mutex
	listener net.Listener
	active   atomic.Int32
	wg       sync.WaitGroup
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(cfg ListenerConfig, eventBus session.Emitter, registry *ConnectionRegistry, handler session.CommandHandler) *TCPListener {
	return &TCPListener{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
		handler:  handler,
	}
}

// Start binds the listener and serves until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the configured address with SO_REUSEADDR.
func (l *TCPListener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start RCON listener on %s: %w", l.cfg.Addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("RCON listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// ActiveSessions returns the number of sessions currently running.
func (l *TCPListener) ActiveSessions() int {
	return int(l.active.Load())
}

// Serve accepts connections until ctx is cancelled, then waits for the
// running sessions to finish.
func (l *TCPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("RCON listener not bound")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer l.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("RCON listener stopping")
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if limit := l.cfg.MaxConnections; limit > 0 && int(l.active.Load()) >= limit {
			log.Warn().
				Str("remote", conn.RemoteAddr().String()).
				Int("max_connections", limit).
				Msg("connection limit reached, rejecting client")
			conn.Close()
			continue
		}

		l.active.Add(1)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.active.Add(-1)
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs one session to completion and reports how it ended.
func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	id := uuid.NewString()
	conn := NewConnection(id, rawConn)
	remote := rawConn.RemoteAddr().String()

	logger := log.With().
		Str("component", "rcon_listener").
		Str("session", id).
		Str("remote", remote).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("session goroutine panicked")
			conn.Close()
		}
	}()

	sess, err := session.New(id, conn, l.cfg.Session, l.handler, l.eventBus)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create session")
		conn.Close()
		return
	}
	conn.AttachSession(sess)

	l.registry.Register(conn)
	defer l.registry.Unregister(id)

	logger.Info().Msg("client connected")
	l.emit(ctx, events.EventSessionOpened, events.SessionPayload{SessionID: id, RemoteAddr: remote})

	runErr := sess.Run(ctx)

	reason := session.Classify(runErr)
	if r := conn.CloseReason(); r != "" {
		reason = r
	}
	logOutcome(logger, reason, runErr, sess)

	payload := events.SessionClosedPayload{
		SessionID:     id,
		RemoteAddr:    remote,
		Reason:        reason,
		Authenticated: sess.Authenticated(),
		Commands:      sess.CommandCount(),
		Duration:      time.Since(sess.StartedAt()),
	}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	// The request context may already be done during shutdown.
	l.emit(context.WithoutCancel(ctx), events.EventSessionClosed, payload)
}

func logOutcome(logger zerolog.Logger, reason string, err error, sess *session.Session) {
	var ev *zerolog.Event
	switch {
	case reason == session.ReasonPeerClosed, reason == session.ReasonShutdown,
		reason == ReasonKicked, reason == ReasonShutdown:
		ev = logger.Info()
	case reason == ReasonStale, session.IsClientFault(err):
		ev = logger.Warn()
	default:
		ev = logger.Error()
	}

	if err != nil && reason != session.ReasonShutdown {
		ev = ev.Err(err)
	}
	ev.Str("reason", reason).
		Bool("authenticated", sess.Authenticated()).
		Int("commands", sess.CommandCount()).
		Dur("duration", time.Since(sess.StartedAt())).
		Msg("client disconnected")
}

func (l *TCPListener) emit(ctx context.Context, eventType events.EventType, payload interface{}) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Emit(ctx, events.Event{
		Type:    eventType,
		Source:  "rcon_listener",
		Payload: payload,
	})
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
