// Package session implements the per-connection RCON state machine. A
// Session owns one byte stream, authenticates the peer against the shared
// secret and then acknowledges commands until the stream closes or the
// peer breaks the protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/protocol"
)

// State is the authentication state of a session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
)

// String returns the string representation of State.
func (s State) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Secret reports whether a candidate password matches the shared secret.
type Secret interface {
	Match(candidate string) bool
}

// Command is a command received from an authenticated peer.
type Command struct {
	SessionID  string
	RequestID  int32
	RemoteAddr string
	Body       string
}

// CommandHandler executes commands. The session only waits for it to
// return before acknowledging; it never inspects a result.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command)

// HandleCommand calls f(ctx, cmd).
func (f CommandHandlerFunc) HandleCommand(ctx context.Context, cmd Command) {
	f(ctx, cmd)
}

// Emitter publishes session events. *events.EventBus implements it.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// Config holds per-session settings. The same Config is shared by every
// session of a server and must not be mutated after startup.
type Config struct {
	Secret        Secret
	MaxPacketSize int
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Session is one client connection's protocol state.
type Session struct {
	id      string
	remote  string
	stream  io.ReadWriteCloser
	frames  *protocol.FrameReader
	cfg     Config
	handler CommandHandler
	emitter Emitter
	logger  zerolog.Logger

	startedAt     time.Time
	authenticated atomic.Bool
	commands      atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New creates a session that owns stream. handler and emitter may be nil.
func New(id string, stream io.ReadWriteCloser, cfg Config, handler CommandHandler, emitter Emitter) (*Session, error) {
	if cfg.Secret == nil {
		return nil, ErrNoSecret
	}
	if handler == nil {
		handler = CommandHandlerFunc(func(context.Context, Command) {})
	}

	remote := ""
	if ra, ok := stream.(interface{ RemoteAddr() net.Addr }); ok && ra.RemoteAddr() != nil {
		remote = ra.RemoteAddr().String()
	}

	return &Session{
		id:        id,
		remote:    remote,
		stream:    stream,
		frames:    protocol.NewFrameReader(stream, cfg.MaxPacketSize),
		cfg:       cfg,
		handler:   handler,
		emitter:   emitter,
		startedAt: time.Now(),
		logger: log.With().
			Str("component", "session").
			Str("session", id).
			Str("remote", remote).
			Logger(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address, or "" if the stream has none.
func (s *Session) RemoteAddr() string { return s.remote }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Authenticated reports whether the peer has authenticated.
func (s *Session) Authenticated() bool { return s.authenticated.Load() }

// CommandCount returns how many commands have been acknowledged.
func (s *Session) CommandCount() int { return int(s.commands.Load()) }

// State returns the current authentication state.
func (s *Session) State() State {
	if s.authenticated.Load() {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// Close closes the underlying stream. Safe to call multiple times and
// from other goroutines; a blocked Run returns shortly after.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// Run drives the protocol until the peer disconnects, the peer violates
// the protocol, or ctx is cancelled. It returns nil when the peer closed
// the connection cleanly. The stream is closed on every return path.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		frame, err := s.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if isFramingError(err) {
				return err
			}
			return &StreamError{Op: "read", Err: err}
		}

		pkt, err := protocol.Decode(frame)
		if err != nil {
			return err
		}

		if err := s.dispatch(ctx, pkt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (s *Session) readFrame() ([]byte, error) {
	if s.cfg.IdleTimeout > 0 {
		if d, ok := s.stream.(readDeadliner); ok {
			d.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
	}
	return s.frames.Next()
}

// dispatch handles one packet according to the current state.
func (s *Session) dispatch(ctx context.Context, pkt protocol.Packet) error {
	state := s.State()

	switch {
	case pkt.Type == protocol.TypeAuth && state == StateUnauthenticated:
		return s.handleAuth(ctx, pkt)
	case pkt.Type == protocol.TypeExecCommand && state == StateAuthenticated:
		return s.handleCommand(ctx, pkt)
	default:
		s.logger.Warn().
			Int32("type", int32(pkt.Type)).
			Int32("id", pkt.ID).
			Str("state", state.String()).
			Msg("protocol violation, closing connection")
		s.emit(ctx, events.EventProtocolViolation, events.ViolationPayload{
			SessionID:  s.id,
			RemoteAddr: s.remote,
			PacketType: int32(pkt.Type),
			State:      state.String(),
		})
		return fmt.Errorf("%w: packet type %d while %s", ErrProtocolViolation, int32(pkt.Type), state)
	}
}

func (s *Session) handleAuth(ctx context.Context, pkt protocol.Packet) error {
	payload := events.AuthPayload{
		SessionID:  s.id,
		RemoteAddr: s.remote,
		RequestID:  pkt.ID,
	}

	if !s.cfg.Secret.Match(pkt.Body) {
		s.logger.Warn().Int32("id", pkt.ID).Msg("authentication failed")
		s.emit(ctx, events.EventAuthFailed, payload)

		if err := s.write(protocol.NewResponse(protocol.AuthFail, pkt.ID)); err != nil {
			return err
		}
		return ErrAuthenticationFailed
	}

	s.authenticated.Store(true)
	s.logger.Info().Int32("id", pkt.ID).Msg("session authenticated")

	payload.Success = true
	s.emit(ctx, events.EventSessionAuthenticated, payload)

	return s.write(protocol.NewResponse(protocol.AuthOK, pkt.ID))
}

func (s *Session) handleCommand(ctx context.Context, pkt protocol.Packet) error {
	cmd := Command{
		SessionID:  s.id,
		RequestID:  pkt.ID,
		RemoteAddr: s.remote,
		Body:       pkt.Body,
	}

	if err := s.invokeHandler(ctx, cmd); err != nil {
		return err
	}
	s.commands.Add(1)

	return s.write(protocol.NewResponse(protocol.CommandAck, pkt.ID))
}

// invokeHandler runs the command handler, turning a panic into an error
// that ends only this session.
func (s *Session) invokeHandler(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Int32("id", cmd.RequestID).
				Msg("command handler panicked")
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	s.handler.HandleCommand(ctx, cmd)
	return nil
}

func (s *Session) write(pkt protocol.Packet) error {
	if s.cfg.WriteTimeout > 0 {
		if d, ok := s.stream.(writeDeadliner); ok {
			d.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
	}

	if err := protocol.WritePacket(s.stream, pkt); err != nil {
		return &StreamError{Op: "write", Err: err}
	}
	return nil
}

func (s *Session) emit(ctx context.Context, eventType events.EventType, payload interface{}) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, events.Event{
		Type:    eventType,
		Source:  "session:" + s.id,
		Payload: payload,
	})
}

func isFramingError(err error) bool {
	return errors.Is(err, protocol.ErrMalformedPacket) || errors.Is(err, protocol.ErrPacketTooLarge)
}
