package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the fixed size of a message header: total_length, request_id,
// response_to, operation, each a little-endian 32-bit field.
const HeaderLen = 16

// Header is the fixed-size prefix of every wire-protocol message.
type Header struct {
	TotalLength int32
	RequestID   int32
	ResponseTo  int32
	Operation   Op
}

// String renders the header's four fields for log lines.
func (h Header) String() string {
	return fmt.Sprintf("{len=%d req=%d resp=%d op=%s}", h.TotalLength, h.RequestID, h.ResponseTo, h.Operation)
}

// IsReply reports whether this header names a prior request via ResponseTo.
func (h Header) IsReply() bool {
	return h.Operation == OpReply
}

// DecodeHeader unpacks the 16-byte header at the start of buf.
//
// It enforces TotalLength >= HeaderLen; violation is a FrameError, per the
// invariant that the decoder never represents an impossible message length.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, &FrameError{Reason: fmt.Sprintf("short header: %d bytes", len(buf))}
	}

	h := Header{
		TotalLength: int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo:  int32(binary.LittleEndian.Uint32(buf[8:12])),
		Operation:   Op(int32(binary.LittleEndian.Uint32(buf[12:16]))),
	}

	if h.TotalLength < HeaderLen {
		return Header{}, &FrameError{Reason: fmt.Sprintf("impossible total_length %d", h.TotalLength)}
	}

	return h, nil
}
