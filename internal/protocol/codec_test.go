package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(Packet{ID: 7, Type: TypeAuth, Body: "password"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{
		18, 0, 0, 0, // size = 4 + 4 + 8 + 2
		7, 0, 0, 0,
		3, 0, 0, 0,
		'p', 'a', 's', 's', 'w', 'o', 'r', 'd',
		0, 0,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode = %v, want %v", data, want)
	}
}

func TestEncodeSizeField(t *testing.T) {
	bodies := []string{"", "a", "status", strings.Repeat("x", 4000), "héllo wörld"}
	for _, body := range bodies {
		data, err := Encode(Packet{ID: 1, Type: TypeExecCommand, Body: body})
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", body, err)
		}
		size := int32(binary.LittleEndian.Uint32(data[:4]))
		if int(size) != len(data)-4 {
			t.Errorf("body %q: size field %d, want %d", body, size, len(data)-4)
		}
		if int(size) != 10+len(body) {
			t.Errorf("body %q: size field %d, want %d", body, size, 10+len(body))
		}
	}
}

func TestEncodeNegativeID(t *testing.T) {
	data, err := Encode(NewResponse(AuthFail, 99))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(data[4:8], []byte{0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("id bytes = %x, want ffffffff", data[4:8])
	}
}

func TestEncodeRejectsNullInBody(t *testing.T) {
	_, err := Encode(Packet{ID: 1, Type: TypeExecCommand, Body: "say\x00hi"})
	if !errors.Is(err, ErrBodyContainsNull) {
		t.Errorf("err = %v, want ErrBodyContainsNull", err)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []Packet{
		{ID: 0, Type: TypeAuth, Body: ""},
		{ID: 7, Type: TypeAuth, Body: "password"},
		{ID: 42, Type: TypeExecCommand, Body: "status"},
		{ID: -1, Type: TypeResponseValue, Body: ""},
		{ID: 2147483647, Type: PacketType(-5), Body: "kick player \"Some One\""},
		{ID: -2147483648, Type: PacketType(99), Body: "日本語のコマンド"},
	}

	for _, want := range cases {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v) failed: %v", want, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(Encode(%+v)) failed: %v", want, err)
		}
		if got != want {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	data, _ := Encode(Packet{ID: 3, Type: TypeExecCommand})
	if len(data) != MinFrameSize {
		t.Fatalf("empty packet is %d bytes, want %d", len(data), MinFrameSize)
	}
	p, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.Body != "" {
		t.Errorf("Body = %q, want empty", p.Body)
	}
}

func TestDecodeTooShort(t *testing.T) {
	valid, _ := Encode(Packet{ID: 1, Type: TypeAuth})
	for n := 0; n < MinFrameSize; n++ {
		_, err := Decode(valid[:n])
		if !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("Decode(%d bytes) err = %v, want ErrMalformedPacket", n, err)
		}
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	data, _ := Encode(Packet{ID: 1, Type: TypeExecCommand, Body: "status"})

	larger := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(larger[:4], uint32(len(data)))
	if _, err := Decode(larger); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("oversized size field: err = %v, want ErrSizeMismatch", err)
	}

	smaller := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(smaller[:4], 10)
	if _, err := Decode(smaller); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("undersized size field: err = %v, want ErrSizeMismatch", err)
	}

	trailing := append(append([]byte(nil), data...), 0, 0)
	if _, err := Decode(trailing); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("trailing junk: err = %v, want ErrSizeMismatch", err)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteInt32(5).WriteInt32(int32(TypeExecCommand))
	b.WriteBytes([]byte{0xff, 0xfe, 0xfd})
	b.WriteByte(0).WriteByte(0)

	_, err := Decode(b.BuildWithSize())
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("err = %v, want ErrInvalidEncoding", err)
	}
}

func TestDecodeBadTerminators(t *testing.T) {
	data, _ := Encode(Packet{ID: 1, Type: TypeExecCommand, Body: "abc"})
	data[len(data)-1] = 'x'
	if _, err := Decode(data); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("err = %v, want ErrMalformedPacket", err)
	}
}

func TestDecodeEmbeddedNull(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteInt32(1).WriteInt32(int32(TypeExecCommand))
	b.WriteBytes([]byte("ab\x00cd"))
	b.WriteByte(0).WriteByte(0)

	if _, err := Decode(b.BuildWithSize()); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("err = %v, want ErrMalformedPacket", err)
	}
}

func TestNewResponse(t *testing.T) {
	tests := []struct {
		kind   ResponseKind
		reqID  int32
		wantID int32
	}{
		{AuthOK, 7, 7},
		{AuthFail, 7, -1},
		{CommandAck, 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			p := NewResponse(tt.kind, tt.reqID)
			if p.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", p.ID, tt.wantID)
			}
			if p.Type != TypeResponseValue || int32(p.Type) != 2 {
				t.Errorf("Type = %d, want 2", p.Type)
			}
			if p.Body != "" {
				t.Errorf("Body = %q, want empty", p.Body)
			}
		})
	}
}

func TestWritePacket(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, Packet{ID: 9, Type: TypeExecCommand, Body: "list"}); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	p, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.ID != 9 || p.Body != "list" {
		t.Errorf("got %+v", p)
	}
}
