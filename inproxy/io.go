package inproxy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/mongotap/mongotap/wire"
)

// TransportError wraps a socket read/write/connect failure. Inline sessions
// always terminate on one; both sockets are closed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("inproxy: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// isClosedErr reports whether err is the ordinary result of the peer (or us)
// closing the connection, as opposed to a genuine transport failure.
func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return strings.Contains(netErr.Err.Error(), "closed")
	}
	return strings.Contains(err.Error(), "closed")
}

// readFrame reads exactly one complete wire-protocol message from r: the
// 16-byte header, then total_length-16 more bytes (possibly across
// multiple reads). EOF on the very first read is reported via io.EOF so
// callers can treat it as a clean close rather than a transport error.
func readFrame(r io.Reader) (wire.Header, []byte, error) {
	hdrBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return wire.Header{}, nil, io.EOF
		}
		return wire.Header{}, nil, &TransportError{Op: "read header", Err: err}
	}

	h, err := wire.DecodeHeader(hdrBuf)
	if err != nil {
		return wire.Header{}, nil, err
	}

	buf := make([]byte, h.TotalLength)
	copy(buf, hdrBuf)
	if n := int(h.TotalLength) - wire.HeaderLen; n > 0 {
		if _, err := io.ReadFull(r, buf[wire.HeaderLen:]); err != nil {
			return wire.Header{}, nil, &TransportError{Op: "read body", Err: err}
		}
	}

	return h, buf, nil
}

// writeFrame writes buf to w unchanged.
func writeFrame(w io.Writer, buf []byte) error {
	if _, err := w.Write(buf); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}
