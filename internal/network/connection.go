// Package network accepts RCON client connections and tracks them while
// their sessions run.
package network

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/session"
)

// Close reasons set by the registry. They override the session's own
// classification in session_closed events.
const (
	ReasonKicked   = "kicked"
	ReasonStale    = "stale"
	ReasonShutdown = "shutdown"
)

// Connection wraps an accepted client socket. It counts traffic and
// records activity so the registry can report and reap sessions.
type Connection struct {
	conn   net.Conn
	id     string
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity atomic.Int64 // unix nanos
	bytesIn      atomic.Int64
	bytesOut     atomic.Int64

	mu          sync.Mutex
	sess        *session.Session
	closed      bool
	closeReason string
}

// NewConnection wraps an existing net.Conn under the given session id.
func NewConnection(id string, conn net.Conn) *Connection {
	now := time.Now()
	c := &Connection{
		conn:        conn,
		id:          id,
		connectedAt: now,
		logger: log.With().
			Str("component", "connection").
			Str("session", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// Read reads from the socket and records activity.
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n > 0 {
		c.bytesIn.Add(int64(n))
		c.touch()
	}
	return n, err
}

// Write writes to the socket and records activity.
func (c *Connection) Write(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	if n > 0 {
		c.bytesOut.Add(int64(n))
		c.touch()
	}
	return n, err
}

// SetReadDeadline passes through to the socket.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline passes through to the socket.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Close closes the socket. It is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// closeWithReason records why the registry closed the connection, then
// closes it. The first reason wins.
func (c *Connection) closeWithReason(reason string) {
	c.mu.Lock()
	if c.closeReason == "" && !c.closed {
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.Close()
}

// CloseReason returns the reason the registry closed this connection, or
// "" if it was closed by its session.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AttachSession links the session running on this connection for display.
func (c *Connection) AttachSession(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = s
}

// ID returns the session id the connection is registered under.
func (c *Connection) ID() string {
	return c.id
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	BytesIn       int64     `json:"bytes_in"`
	BytesOut      int64     `json:"bytes_out"`
	State         string    `json:"state"`
	Authenticated bool      `json:"authenticated"`
	Commands      int       `json:"commands"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	info := ConnectionInfo{
		ID:           c.id,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		ConnectedAt:  c.connectedAt,
		LastActivity: c.LastActivity(),
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		State:        session.StateUnauthenticated.String(),
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess != nil {
		info.State = sess.State().String()
		info.Authenticated = sess.Authenticated()
		info.Commands = sess.CommandCount()
	}
	return info
}

// ConnectionRegistry tracks active client connections by session id.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	emitter session.Emitter
}

// NewConnectionRegistry creates a new ConnectionRegistry. emitter receives
// session_kicked events and may be nil.
func NewConnectionRegistry(emitter session.Emitter) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:   make(map[string]*Connection),
		emitter: emitter,
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[conn.id]; ok && existing != conn {
		existing.Close()
	}

	r.conns[conn.id] = conn
	log.Debug().Str("session", conn.id).Msg("connection registered")
}

// Unregister removes a connection from the registry and closes it.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.Close()
		delete(r.conns, id)
		log.Debug().Str("session", id).Msg("connection unregistered")
	}
}

// Get returns the connection for a session id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns a snapshot of all active connections, oldest first.
func (r *ConnectionRegistry) GetAll() []ConnectionInfo {
	r.mu.RLock()
	result := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		result = append(result, conn.Info())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Count returns the number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Kick closes the connection for a session id. The session terminates
// and reports the close with reason "kicked". Returns false if no such
// session exists.
func (r *ConnectionRegistry) Kick(ctx context.Context, id string) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if r.emitter != nil {
		r.emitter.Emit(ctx, events.Event{
			Type:   events.EventSessionKicked,
			Source: "registry",
			Payload: events.SessionPayload{
				SessionID:  id,
				RemoteAddr: conn.RemoteAddr().String(),
			},
		})
	}

	conn.closeWithReason(ReasonKicked)
	log.Info().Str("session", id).Msg("session kicked")
	return true
}

// CloseAll closes all connections in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.closeWithReason(ReasonShutdown)
		delete(r.conns, id)
	}

	log.Info().Msg("all connections closed")
}

// CleanStale closes connections that have been inactive for longer than
// timeout and returns how many were closed.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		if last := conn.LastActivity(); last.Before(cutoff) {
			conn.closeWithReason(ReasonStale)
			delete(r.conns, id)
			cleaned++
			log.Warn().
				Str("session", id).
				Time("last_activity", last).
				Msg("cleaned stale connection")
		}
	}

	return cleaned
}
