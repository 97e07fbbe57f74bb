package inproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/document"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/wire"
)

type state int

const (
	stateAccepted state = iota
	stateUpstreamConnecting
	stateForwarding
	stateClosed
)

// session is one logical connection: it owns exactly two sockets (client,
// upstream) and serializes every read, decode, dispatch, and forward —
// there is no parallelism within a session, which is what lets latency
// attribution and byte-order preservation hold without extra bookkeeping.
type session struct {
	id           string
	clientConn   net.Conn
	upstreamAddr string
	docs         document.Decoder
	bus          *listener.Bus

	upstreamConn net.Conn
	client       listener.Endpoint
	upstream     listener.Endpoint

	counts listener.OpCounts
	corr   *correlate.Correlator
	state  state
	start  time.Time
}

func newSession(clientConn net.Conn, upstreamAddr string, docs document.Decoder, bus *listener.Bus) *session {
	return &session{
		id:           uuid.NewString(),
		clientConn:   clientConn,
		upstreamAddr: upstreamAddr,
		docs:         docs,
		bus:          bus,
		counts:       make(listener.OpCounts),
		corr:         correlate.New(),
		state:        stateAccepted,
	}
}

func (s *session) clientEndpoint() listener.Endpoint {
	return endpointOf(s.clientConn.RemoteAddr())
}

func endpointOf(addr net.Addr) listener.Endpoint {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return listener.Endpoint{IP: tcp.IP.String(), Port: uint16(tcp.Port)}
	}
	return listener.Endpoint{IP: addr.String()}
}

// run drives the session through ACCEPTED -> UPSTREAM_CONNECTING ->
// FORWARDING -> CLOSED. Any protocol, decode, or I/O error terminates the
// session; both sockets are closed unconditionally via the deferred
// cleanup, even if a later step panics.
func (s *session) run(ctx context.Context) (err error) {
	s.client = s.clientEndpoint()
	s.start = time.Now()
	s.bus.DispatchOpen(s.client)

	defer func() {
		_ = s.clientConn.Close()
		if s.upstreamConn != nil {
			_ = s.upstreamConn.Close()
		}
		s.corr.DiscardAll()
		s.state = stateClosed
		s.bus.DispatchClose(s.client)
		s.bus.DispatchSummary(listener.Summary{
			Endpoint: s.client,
			Counts:   s.counts,
			Started:  s.start,
			Ended:    time.Now(),
		})
	}()

	s.state = stateUpstreamConnecting
	var d net.Dialer
	upstreamConn, err := d.DialContext(ctx, "tcp", s.upstreamAddr)
	if err != nil {
		return &TransportError{Op: "dial upstream", Err: err}
	}
	s.upstreamConn = upstreamConn
	s.upstream = endpointOf(upstreamConn.RemoteAddr())

	s.state = stateForwarding
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.forwardOne(); err != nil {
			if err == errSessionEOF {
				return nil
			}
			return err
		}
	}
}

var errSessionEOF = fmt.Errorf("inproxy: client closed connection")

// forwardOne reads one client-originated message, decodes it, dispatches
// the matching events, and forwards the raw bytes upstream unchanged — the
// core loop of spec.md §4.5.
func (s *session) forwardOne() error {
	h, buf, err := readFrame(s.clientConn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errSessionEOF
		}
		return err
	}
	s.counts[h.Operation]++

	msg, err := wire.DecodeMessage(h, buf, s.docs)
	if err != nil {
		return err
	}

	env := listener.Envelope{
		Header:      h,
		Message:     msg,
		Source:      s.client,
		Destination: s.upstream,
		ObservedAt:  time.Now(),
	}

	switch h.Operation {
	case wire.OpQuery:
		return s.handleQueryLike(env, buf, s.bus.DispatchBeforeQuery, s.bus.DispatchAfterQuery,
			s.bus.DispatchBeforeQuerySend, s.bus.DispatchAfterQuerySend,
			s.bus.DispatchBeforeQueryReply, s.bus.DispatchAfterQueryReply)
	case wire.OpGetMore:
		return s.handleQueryLike(env, buf, s.bus.DispatchBeforeMore, s.bus.DispatchAfterMore,
			s.bus.DispatchBeforeMoreSend, s.bus.DispatchAfterMoreSend,
			s.bus.DispatchBeforeMoreReply, s.bus.DispatchAfterMoreReply)
	case wire.OpInsert:
		return s.handleWriteOnly(env, buf, s.bus.DispatchBeforeInsert, s.bus.DispatchAfterInsert)
	case wire.OpUpdate:
		return s.handleWriteOnly(env, buf, s.bus.DispatchBeforeUpdate, s.bus.DispatchAfterUpdate)
	case wire.OpDelete:
		return s.handleWriteOnly(env, buf, s.bus.DispatchBeforeDelete, s.bus.DispatchAfterDelete)
	default:
		// Msg, Reserved, KillCursors, and anything unrecognized: no reply is
		// expected at the wire level, and no specialised event needs to
		// exist — bytes still forward unchanged.
		return writeFrame(s.upstreamConn, buf)
	}
}

// handleQueryLike implements step 6: Query/GetMore are sent, then a single
// reply is pumped back before the outer before_/after_ pair closes.
func (s *session) handleQueryLike(
	env listener.Envelope, buf []byte,
	before, after, beforeSend, afterSend, beforeReply, afterReply func(listener.Envelope),
) error {
	before(env)
	s.corr.Record(env)

	beforeSend(env)
	if err := writeFrame(s.upstreamConn, buf); err != nil {
		return err
	}
	afterSend(env)

	beforeReply(env)
	if err := s.pumpReply(); err != nil {
		return err
	}
	afterReply(env)

	after(env)
	return nil
}

// handleWriteOnly implements step 7: Insert/Update/Delete have no reply at
// the wire level, so the bytes are written once and only the outer
// before_/after_ pair fires.
func (s *session) handleWriteOnly(env listener.Envelope, buf []byte, before, after func(listener.Envelope)) error {
	before(env)
	if err := writeFrame(s.upstreamConn, buf); err != nil {
		return err
	}
	after(env)
	return nil
}

// pumpReply reads exactly one reply from upstream, decodes it, dispatches
// before_reply/after_reply, forwards it to the client, and completes any
// pending correlation.
func (s *session) pumpReply() error {
	h, buf, err := readFrame(s.upstreamConn)
	if err != nil {
		return err
	}
	s.counts[h.Operation]++

	msg, err := wire.DecodeMessage(h, buf, s.docs)
	if err != nil {
		return err
	}

	env := listener.Envelope{
		Header:      h,
		Message:     msg,
		Source:      s.upstream,
		Destination: s.client,
		ObservedAt:  time.Now(),
	}

	s.bus.DispatchBeforeReply(env)
	if err := writeFrame(s.clientConn, buf); err != nil {
		return err
	}
	s.bus.DispatchAfterReply(env)

	s.corr.Complete(env)
	return nil
}
