package tlv8

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := Items{
		{Tag: 0x01, Value: []byte{0x00}},
		{Tag: 0x03, Value: []byte("hello")},
	}
	decoded := Decode(Encode(items))
	if len(decoded) != len(items) {
		t.Fatalf("got %d items, want %d", len(decoded), len(items))
	}
	for i := range items {
		if decoded[i].Tag != items[i].Tag || !bytes.Equal(decoded[i].Value, items[i].Value) {
			t.Fatalf("item %d mismatch: got %+v, want %+v", i, decoded[i], items[i])
		}
	}
}

// TestFragmentation covers spec scenario S2: encoding a 400-byte value under
// tag 0x03 yields "03 FF <255 bytes> 03 91 <145 bytes>".
func TestFragmentation(t *testing.T) {
	value := bytes.Repeat([]byte{0xAB}, 400)
	encoded := Encode(Items{{Tag: 0x03, Value: value}})

	if encoded[0] != 0x03 || encoded[1] != 0xFF {
		t.Fatalf("first chunk header = %02x %02x, want 03 FF", encoded[0], encoded[1])
	}
	if !bytes.Equal(encoded[2:257], value[:255]) {
		t.Fatal("first chunk body mismatch")
	}
	if encoded[257] != 0x03 || encoded[258] != 0x91 {
		t.Fatalf("second chunk header = %02x %02x, want 03 91", encoded[257], encoded[258])
	}
	if !bytes.Equal(encoded[259:259+145], value[255:]) {
		t.Fatal("second chunk body mismatch")
	}
	if len(encoded) != 259+145 {
		t.Fatalf("encoded length = %d, want %d", len(encoded), 259+145)
	}

	decoded := Decode(encoded)
	if len(decoded) != 1 || !bytes.Equal(decoded[0].Value, value) {
		t.Fatal("decode did not reassemble fragmented value")
	}
}

func TestRoundTripProperty(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		n := trial*37 + 1
		value := make([]byte, n%600)
		_, _ = rand.Read(value)
		items := Items{{Tag: uint8(trial % 256), Value: value}}
		decoded := Decode(Encode(items))
		if len(decoded) != 1 || !bytes.Equal(decoded[0].Value, value) {
			t.Fatalf("trial %d: round trip failed for %d-byte value", trial, len(value))
		}
	}
}

func TestDecodeTruncatedInputStopsSilently(t *testing.T) {
	buf := []byte{0x01, 0x05, 0xAA, 0xBB} // claims 5 bytes, only 2 present
	decoded := Decode(buf)
	if len(decoded) != 0 {
		t.Fatalf("expected no assembled items from truncated input, got %d", len(decoded))
	}
}

func TestGet(t *testing.T) {
	items := Items{{Tag: 0x06, Value: []byte{0x02}}}
	v, ok := items.Get(0x06)
	if !ok || !bytes.Equal(v, []byte{0x02}) {
		t.Fatal("Get did not find expected tag")
	}
	if _, ok := items.Get(0x99); ok {
		t.Fatal("Get found tag that should not exist")
	}
}
