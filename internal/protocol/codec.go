package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"
)

// Decode and encode errors.
var (
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrInvalidEncoding  = errors.New("packet body is not valid UTF-8")
	ErrSizeMismatch     = errors.New("packet size field does not match frame length")
	ErrPacketTooLarge   = errors.New("packet too large")
	ErrBodyContainsNull = errors.New("packet body contains a null byte")
)

// Encode serializes p as [size][id][type][body][0x00][0x00].
func Encode(p Packet) ([]byte, error) {
	if strings.IndexByte(p.Body, 0) >= 0 {
		return nil, ErrBodyContainsNull
	}
	if len(p.Body) > math.MaxInt32-MinPacketSize {
		return nil, fmt.Errorf("%w: body is %d bytes", ErrPacketTooLarge, len(p.Body))
	}

	b := NewPacketBuilder()
	b.WriteInt32(p.ID)
	b.WriteInt32(int32(p.Type))
	b.WriteNullString(p.Body)
	b.WriteByte(0)
	return b.BuildWithSize(), nil
}

// Decode parses one complete frame, size field included.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < MinFrameSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(frame), MinFrameSize)
	}

	size := int32(binary.LittleEndian.Uint32(frame[0:4]))
	if int64(size) != int64(len(frame)-HeaderSize) {
		return Packet{}, fmt.Errorf("%w: size field %d, frame carries %d", ErrSizeMismatch, size, len(frame)-HeaderSize)
	}

	end := len(frame) - 2
	if frame[end] != 0 || frame[end+1] != 0 {
		return Packet{}, fmt.Errorf("%w: missing null terminators", ErrMalformedPacket)
	}

	body := frame[12:end]
	if bytes.IndexByte(body, 0) >= 0 {
		return Packet{}, fmt.Errorf("%w: embedded null in body", ErrMalformedPacket)
	}
	if !utf8.Valid(body) {
		return Packet{}, ErrInvalidEncoding
	}

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(frame[4:8])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(frame[8:12]))),
		Body: string(body),
	}, nil
}

// WritePacket encodes p and writes the whole frame to w.
func WritePacket(w io.Writer, p Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}
