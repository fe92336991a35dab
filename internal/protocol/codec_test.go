package protocol

import (
	"bytes"
	"reflect"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that decoding an encoded packet yields
// the same packet for every variant.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	full := bytes.Repeat([]byte{0xAB}, MaxPayload)

	testCases := []struct {
		name string
		pkt  Packet
	}{
		{"RRQ octet", &Request{Op: OpRead, Filename: "report.txt", Mode: ModeOctet}},
		{"WRQ netascii", &Request{Op: OpWrite, Filename: "notes/a b.txt", Mode: ModeNetASCII}},
		{"RRQ with options", &Request{Op: OpRead, Filename: "f", Mode: "octet", Options: []Option{
			{Name: "blksize", Value: "1024"},
			{Name: "tsize", Value: "0"},
		}}},
		{"DATA full block", &Data{Block: 1, Payload: full}},
		{"DATA short block", &Data{Block: 2, Payload: []byte("tail")}},
		{"DATA max block number", &Data{Block: 0xFFFF, Payload: []byte{0}}},
		{"ACK 0", &Ack{Block: 0}},
		{"ACK max", &Ack{Block: 0xFFFF}},
		{"ERROR with message", &Error{Code: ErrFileNotFound, Message: "no such file"}},
		{"ERROR empty message", &Error{Code: ErrUnknownTransferID}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.pkt)
			decoded := Decode(encoded)

			if inv, ok := decoded.(*Invalid); ok {
				t.Fatalf("Decode returned Invalid: %s", inv.Reason)
			}
			if !reflect.DeepEqual(decoded, tc.pkt) {
				t.Errorf("round trip mismatch: got %#v, want %#v", decoded, tc.pkt)
			}
			if again := Encode(decoded); !bytes.Equal(again, encoded) {
				t.Errorf("re-encoding is not byte-identical: %v vs %v", again, encoded)
			}
		})
	}
}

// TestDecodeEmptyDataPayload covers the zero-length final block, whose
// payload decodes as an empty (not nil) slice.
func TestDecodeEmptyDataPayload(t *testing.T) {
	decoded, ok := Decode(Encode(&Data{Block: 7})).(*Data)
	if !ok {
		t.Fatal("expected *Data")
	}
	if decoded.Block != 7 || len(decoded.Payload) != 0 {
		t.Errorf("unexpected packet: %+v", decoded)
	}
	if !decoded.IsFinal() {
		t.Error("empty block must be final")
	}
}

// TestWireLayout pins the exact bytes of each packet kind.
func TestWireLayout(t *testing.T) {
	testCases := []struct {
		name string
		pkt  Packet
		want []byte
	}{
		{"RRQ", &Request{Op: OpRead, Filename: "a", Mode: "octet"},
			[]byte{0, 1, 'a', 0, 'o', 'c', 't', 'e', 't', 0}},
		{"WRQ", &Request{Op: OpWrite, Filename: "b", Mode: "mail"},
			[]byte{0, 2, 'b', 0, 'm', 'a', 'i', 'l', 0}},
		{"DATA", &Data{Block: 0x0102, Payload: []byte{9, 8}},
			[]byte{0, 3, 1, 2, 9, 8}},
		{"ACK", &Ack{Block: 0x0A0B},
			[]byte{0, 4, 0x0A, 0x0B}},
		{"ERROR", &Error{Code: ErrIllegalOperation, Message: "x"},
			[]byte{0, 5, 0, 4, 'x', 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Encode(tc.pkt); !bytes.Equal(got, tc.want) {
				t.Errorf("Encode = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestDecodeRejects verifies that malformed buffers come back as *Invalid.
func TestDecodeRejects(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"1 byte", []byte{0x01}},
		{"opcode 0", []byte{0, 0, 'a', 0, 'o', 0}},
		{"opcode 6", []byte{0, 6, 0, 1}},
		{"opcode 0xFFFF", []byte{0xFF, 0xFF}},
		{"request missing second NUL", []byte{0, 1, 'f', 0, 'o', 'c', 't', 'e', 't'}},
		{"request missing first NUL", []byte{0, 2, 'f', 'i', 'l', 'e'}},
		{"request empty file name", []byte{0, 1, 0, 'o', 'c', 't', 'e', 't', 0}},
		{"request empty mode", []byte{0, 1, 'f', 0, 0}},
		{"request option without value", []byte{0, 1, 'f', 0, 'o', 0, 'x', 0, 'y'}},
		{"request opcode only", []byte{0, 2}},
		{"DATA 3 bytes", []byte{0, 3, 0}},
		{"DATA payload 513 bytes", append([]byte{0, 3, 0, 1}, make([]byte, MaxPayload+1)...)},
		{"ACK 3 bytes", []byte{0, 4, 0}},
		{"ACK 5 bytes", []byte{0, 4, 0, 1, 0}},
		{"ERROR without message", []byte{0, 5, 0, 1}},
		{"ERROR unterminated", []byte{0, 5, 0, 1, 'o', 'o', 'p', 's'}},
		{"ERROR trailing bytes", []byte{0, 5, 0, 1, 'a', 0, 'b'}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := Decode(tc.data)
			inv, ok := pkt.(*Invalid)
			if !ok {
				t.Fatalf("expected *Invalid, got %#v", pkt)
			}
			if inv.Reason == "" {
				t.Error("Invalid must carry a reason")
			}
			if !bytes.Equal(inv.Raw, tc.data) {
				t.Errorf("Raw = %v, want %v", inv.Raw, tc.data)
			}
		})
	}
}

// TestDecodeDoesNotAlias verifies that decoded payloads are copies.
func TestDecodeDoesNotAlias(t *testing.T) {
	encoded := Encode(&Data{Block: 1, Payload: []byte("original")})
	decoded := Decode(encoded).(*Data)

	encoded[HeaderSize] = 0xFF

	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("payload was aliased: got %q", decoded.Payload)
	}
}

func TestBuilders(t *testing.T) {
	if _, err := NewRequest(OpData, "f", "octet"); err == nil {
		t.Error("NewRequest accepted a DATA opcode")
	}
	if _, err := NewRequest(OpRead, "", "octet"); err == nil {
		t.Error("NewRequest accepted an empty file name")
	}
	if _, err := NewRequest(OpWrite, "f", ""); err == nil {
		t.Error("NewRequest accepted an empty mode")
	}
	if _, err := NewData(1, make([]byte, MaxPayload+1)); err == nil {
		t.Error("NewData accepted an oversized payload")
	}
	if e := NewError(ErrDiskFull, "a\x00b"); e.Message != "ab" {
		t.Errorf("NewError kept NUL bytes: %q", e.Message)
	}

	req, err := NewRequest(OpRead, "report.txt", ModeOctet)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if got := Decode(Encode(req)); !reflect.DeepEqual(got, req) {
		t.Errorf("built request does not round trip: %#v", got)
	}
}

func TestParseOpcode(t *testing.T) {
	testCases := map[string]Opcode{
		"read": OpRead, "RRQ": OpRead, "write": OpWrite, "wrq": OpWrite,
		"data": OpData, " ack ": OpAck, "error": OpError,
	}
	for in, want := range testCases {
		got, err := ParseOpcode(in)
		if err != nil || got != want {
			t.Errorf("ParseOpcode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseOpcode("nope"); err == nil {
		t.Error("ParseOpcode accepted an unknown name")
	}
}
