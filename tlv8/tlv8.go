// Package tlv8 implements the HAP tag-length-value encoding: single-byte
// tag, single-byte length (0..255), with same-tag fragmentation for values
// longer than 255 bytes.
package tlv8

// MaxChunkLen is the largest number of value bytes a single TLV8 chunk can
// carry. Values longer than this are split into consecutive same-tag chunks.
const MaxChunkLen = 255

// Pair is a single decoded (or to-be-encoded) tag/value entry. Item order in
// a decoded slice reflects first-appearance order on the wire.
type Pair struct {
	Tag   uint8
	Value []byte
}

// Items is an ordered list of Pairs, the structure both Encode and Decode
// operate on. Callers that want map-like lookups can build one over Items;
// the codec itself never collapses tags into a map, since HAP payloads rely
// on tag ordering for some messages (notably sub-TLVs inside encryptedData).
type Items []Pair

// Get returns the value for the first Pair with the given tag, and whether
// it was found.
func (items Items) Get(tag uint8) ([]byte, bool) {
	for _, p := range items {
		if p.Tag == tag {
			return p.Value, true
		}
	}
	return nil, false
}

// Encode serializes items in the order given, fragmenting any value longer
// than MaxChunkLen into consecutive same-tag chunks. Every chunk but the
// last carries exactly MaxChunkLen bytes; the last carries the remainder,
// which is a full MaxChunkLen when the length is a multiple of it (no
// zero-length terminator is emitted). Decode joins consecutive same-tag
// chunks whatever their lengths.
func Encode(items Items) []byte {
	var out []byte
	for _, p := range items {
		out = append(out, encodeOne(p.Tag, p.Value)...)
	}
	return out
}

func encodeOne(tag uint8, value []byte) []byte {
	if len(value) == 0 {
		return []byte{tag, 0}
	}
	out := make([]byte, 0, len(value)+2*(len(value)/MaxChunkLen+1))
	for len(value) > MaxChunkLen {
		out = append(out, tag, MaxChunkLen)
		out = append(out, value[:MaxChunkLen]...)
		value = value[MaxChunkLen:]
	}
	out = append(out, tag, uint8(len(value)))
	out = append(out, value...)
	return out
}

// Decode walks buf and reassembles fragmented same-tag runs into single
// entries, in first-appearance order. Truncated input (a header byte with
// insufficient trailing body) terminates decoding silently and returns
// whatever was fully assembled up to that point; it is the caller's job to
// treat a missing mandatory tag as a protocol error.
func Decode(buf []byte) Items {
	var items Items
	var cur *Pair
	for len(buf) >= 2 {
		tag := buf[0]
		length := int(buf[1])
		buf = buf[2:]
		if length > len(buf) {
			// Truncated chunk body: stop, keeping everything assembled so far.
			break
		}
		chunk := buf[:length]
		buf = buf[length:]

		if cur != nil && cur.Tag == tag {
			cur.Value = append(cur.Value, chunk...)
		} else {
			if cur != nil {
				items = append(items, *cur)
			}
			v := make([]byte, length)
			copy(v, chunk)
			cur = &Pair{Tag: tag, Value: v}
		}
	}
	if cur != nil {
		items = append(items, *cur)
	}
	return items
}
