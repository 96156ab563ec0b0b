package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// readChunkSize is how much spare capacity is offered to each Read.
const readChunkSize = 4096

// FrameReader splits a byte stream into complete RCON frames. It keeps a
// growable buffer with a cursor, so a packet split across several reads is
// reassembled and surplus bytes from one read are kept for the next frame.
type FrameReader struct {
	r       io.Reader
	maxSize int

	buf   []byte
	start int // first unread byte
	end   int // one past the last buffered byte
}

// NewFrameReader creates a FrameReader accepting size fields up to maxSize.
// A maxSize below MinPacketSize selects DefaultMaxPacketSize.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize < MinPacketSize {
		maxSize = DefaultMaxPacketSize
	}
	return &FrameReader{
		r:       r,
		maxSize: maxSize,
		buf:     make([]byte, readChunkSize),
	}
}

// Next returns the next complete frame, size field included. The returned
// slice is only valid until the following call to Next.
//
// It returns io.EOF when the stream ends on a frame boundary and
// io.ErrUnexpectedEOF when it ends inside a frame.
func (fr *FrameReader) Next() ([]byte, error) {
	if err := fr.fill(HeaderSize); err != nil {
		return nil, err
	}

	size := int32(binary.LittleEndian.Uint32(fr.buf[fr.start : fr.start+HeaderSize]))
	if size < MinPacketSize {
		return nil, fmt.Errorf("%w: size field %d below minimum %d", ErrMalformedPacket, size, MinPacketSize)
	}
	if int64(size) > int64(fr.maxSize) {
		return nil, fmt.Errorf("%w: size field %d exceeds limit %d", ErrPacketTooLarge, size, fr.maxSize)
	}

	total := HeaderSize + int(size)
	if err := fr.fill(total); err != nil {
		return nil, err
	}

	frame := fr.buf[fr.start : fr.start+total]
	fr.start += total
	return frame, nil
}

// Buffered returns the number of bytes read from the stream but not yet
// returned as part of a frame.
func (fr *FrameReader) Buffered() int {
	return fr.end - fr.start
}

// fill reads until at least n unread bytes are buffered.
func (fr *FrameReader) fill(n int) error {
	for fr.end-fr.start < n {
		fr.ensureSpace(n)

		read, err := fr.r.Read(fr.buf[fr.end:])
		fr.end += read
		if fr.end-fr.start >= n {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if fr.end == fr.start {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// ensureSpace makes room for n unread bytes plus free space to read into,
// compacting consumed bytes away before growing the buffer.
func (fr *FrameReader) ensureSpace(n int) {
	if fr.start == fr.end {
		fr.start, fr.end = 0, 0
	}

	need := n
	if need < readChunkSize {
		need = readChunkSize
	}
	if len(fr.buf)-fr.start >= need && fr.end < len(fr.buf) {
		return
	}

	unread := fr.end - fr.start
	if len(fr.buf) < need {
		grown := make([]byte, need)
		copy(grown, fr.buf[fr.start:fr.end])
		fr.buf = grown
	} else {
		copy(fr.buf, fr.buf[fr.start:fr.end])
	}
	fr.start, fr.end = 0, unread
}
