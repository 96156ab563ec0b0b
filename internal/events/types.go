// Package events defines event types and payloads for the rcond event system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionOpened        EventType = "session_opened"
	EventSessionAuthenticated EventType = "session_authenticated"
	EventSessionClosed        EventType = "session_closed"
	EventSessionKicked        EventType = "session_kicked"

	// Protocol events
	EventAuthFailed        EventType = "auth_failed"
	EventCommandReceived   EventType = "command_received"
	EventProtocolViolation EventType = "protocol_violation"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// SessionEvents lists the event types produced by RCON sessions, in the
// order they usually occur.
var SessionEvents = []EventType{
	EventSessionOpened,
	EventSessionAuthenticated,
	EventAuthFailed,
	EventCommandReceived,
	EventProtocolViolation,
	EventSessionKicked,
	EventSessionClosed,
}

// Event represents a single event in the system.
type Event struct {
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionPayload identifies a session in lifecycle events.
type SessionPayload struct {
	SessionID  string `json:"session_id"`
	RemoteAddr string `json:"remote_addr"`
}

// SessionClosedPayload is the payload for EventSessionClosed.
type SessionClosedPayload struct {
	SessionID     string        `json:"session_id"`
	RemoteAddr    string        `json:"remote_addr"`
	Reason        string        `json:"reason"`
	Error         string        `json:"error,omitempty"`
	Authenticated bool          `json:"authenticated"`
	Commands      int           `json:"commands"`
	Duration      time.Duration `json:"duration_ns"`
}

// AuthPayload is the payload for EventSessionAuthenticated and EventAuthFailed.
type AuthPayload struct {
	SessionID  string `json:"session_id"`
	RemoteAddr string `json:"remote_addr"`
	RequestID  int32  `json:"request_id"`
	Success    bool   `json:"success"`
}

// CommandPayload is the payload for EventCommandReceived.
type CommandPayload struct {
	SessionID  string `json:"session_id"`
	RemoteAddr string `json:"remote_addr"`
	RequestID  int32  `json:"request_id"`
	Command    string `json:"command"`
}

// ViolationPayload is the payload for EventProtocolViolation.
type ViolationPayload struct {
	SessionID  string `json:"session_id"`
	RemoteAddr string `json:"remote_addr"`
	PacketType int32  `json:"packet_type"`
	State      string `json:"state"`
}

// ConfigChangedPayload is the payload for EventConfigChanged.
type ConfigChangedPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
