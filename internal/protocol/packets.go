// Package protocol implements the RCON wire format: packet encoding and
// decoding, response construction, and length-prefixed stream framing.
// All integers are little-endian signed 32-bit values and every packet
// starts with a 4-byte size prefix.
package protocol

import "fmt"

// PacketType is the type field of an RCON packet.
type PacketType int32

// Wire values of the packet type field. The protocol reuses 2 for the
// command request and for every response the server writes.
const (
	TypeResponseValue PacketType = 2
	TypeExecCommand   PacketType = 2
	TypeAuthResponse  PacketType = 2
	TypeAuth          PacketType = 3
)

// String returns a readable name for request types.
func (t PacketType) String() string {
	switch t {
	case TypeAuth:
		return "auth"
	case TypeExecCommand:
		return "exec_command"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// MinPacketSize is the smallest legal size-field value:
	// id (4) + type (4) + body terminator (1) + packet terminator (1).
	MinPacketSize = 10

	// MinFrameSize is the smallest complete frame including the size field.
	MinFrameSize = HeaderSize + MinPacketSize

	// DefaultMaxPacketSize is the largest size-field value accepted from
	// clients unless configured otherwise.
	DefaultMaxPacketSize = 4096

	// AuthFailedID is the id the server answers with when authentication fails.
	AuthFailedID int32 = -1
)

// Packet is a single RCON packet. Packets are transient values created
// for one encode or decode operation.
type Packet struct {
	ID   int32
	Type PacketType
	Body string
}

// ResponseKind distinguishes the responses the server sends. Every kind
// serializes to TypeResponseValue on the wire.
type ResponseKind int

const (
	AuthOK ResponseKind = iota
	AuthFail
	CommandAck
)

var responseKindStrings = map[ResponseKind]string{
	AuthOK:     "auth_ok",
	AuthFail:   "auth_fail",
	CommandAck: "command_ack",
}

// String returns the string representation of ResponseKind.
func (k ResponseKind) String() string {
	if s, ok := responseKindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// NewResponse builds the response packet for kind. AuthFail always carries
// AuthFailedID; the other kinds echo requestID.
func NewResponse(kind ResponseKind, requestID int32) Packet {
	id := requestID
	if kind == AuthFail {
		id = AuthFailedID
	}
	return Packet{ID: id, Type: TypeResponseValue}
}
