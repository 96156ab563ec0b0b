package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder constructs little-endian RCON packets.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// BuildWithSize returns the packet with a 4-byte LE size prefix holding
// the length of everything after the prefix.
func (b *PacketBuilder) BuildWithSize() []byte {
	data := b.buf.Bytes()
	result := make([]byte, HeaderSize+len(data))
	binary.LittleEndian.PutUint32(result[:HeaderSize], uint32(len(data)))
	copy(result[HeaderSize:], data)
	return result
}
