// Package command holds the command handler used by RCON sessions.
package command

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/session"
	"github.com/energizer-project/rcond/internal/util"
)

// Recorder logs every command received from an authenticated peer and
// publishes it on the event bus. It does not execute anything.
type Recorder struct {
	bus    session.Emitter
	logger zerolog.Logger
}

// NewRecorder creates a Recorder. bus may be nil.
func NewRecorder(bus session.Emitter) *Recorder {
	return &Recorder{
		bus:    bus,
		logger: util.ComponentLogger("command"),
	}
}

// HandleCommand implements session.CommandHandler.
func (r *Recorder) HandleCommand(ctx context.Context, cmd session.Command) {
	r.logger.Info().
		Str("session", cmd.SessionID).
		Str("remote", cmd.RemoteAddr).
		Int32("id", cmd.RequestID).
		Str("command", cmd.Body).
		Msg("received command")

	if r.bus == nil {
		return
	}

	r.bus.Emit(ctx, events.Event{
		Type:   events.EventCommandReceived,
		Source: "session:" + cmd.SessionID,
		Payload: events.CommandPayload{
			SessionID:  cmd.SessionID,
			RemoteAddr: cmd.RemoteAddr,
			RequestID:  cmd.RequestID,
			Command:    cmd.Body,
		},
	})
}
