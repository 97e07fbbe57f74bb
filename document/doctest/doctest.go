// Package doctest provides a minimal document.Decoder test double: it
// understands only the common length-prefix shape shared by embedded
// document formats (a little-endian int32 total length, inclusive of
// itself) and treats everything else as an opaque blob. It exists so wire
// and reassembly tests can exercise decode boundaries deterministically
// without pulling in a real document codec.
package doctest

import (
	"encoding/binary"
	"fmt"

	"github.com/mongotap/mongotap/document"
)

// Decoder is a document.Decoder that only understands the length prefix.
var Decoder document.Decoder = lenPrefixDecoder{}

type lenPrefixDecoder struct{}

// Doc is the Document produced by Decoder: just the raw bytes, with no
// field-level structure.
type Doc struct {
	raw []byte
}

func (d Doc) Bytes() []byte { return d.raw }

func (d Doc) String() string { return fmt.Sprintf("doc(%d bytes)", len(d.raw)) }

func (lenPrefixDecoder) Decode(data []byte) (document.Document, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("doctest: need 4 bytes for length prefix, got %d", len(data))
	}
	n := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	if n < 4 || n > len(data) {
		return nil, 0, fmt.Errorf("doctest: declared length %d out of range (have %d)", n, len(data))
	}
	return Doc{raw: data[0:n]}, n, nil
}

// Encode produces the raw bytes for a fake document carrying payload after
// the length prefix. Used by tests to build message bodies.
func Encode(payload []byte) []byte {
	total := 4 + len(payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	copy(buf[4:], payload)
	return buf
}
