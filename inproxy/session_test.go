package inproxy_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/mongotap/mongotap/document/doctest"
	"github.com/mongotap/mongotap/inproxy"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/wire"
)

var le = binary.LittleEndian

func frame(op wire.Op, requestID, responseTo int32, body []byte) []byte {
	total := wire.HeaderLen + len(body)
	buf := make([]byte, total)
	le.PutUint32(buf[0:4], uint32(total))
	le.PutUint32(buf[4:8], uint32(requestID))
	le.PutUint32(buf[8:12], uint32(responseTo))
	le.PutUint32(buf[12:16], uint32(op))
	copy(buf[wire.HeaderLen:], body)
	return buf
}

func cstr(s string) []byte { return append([]byte(s), 0) }

// fakeUpstream accepts exactly one connection, reads one frame, and writes
// back a canned reply frame a short beat later — standing in for a real
// mongod so the proxy's lockstep send/reply pump can be exercised without a
// live server.
func fakeUpstream(t *testing.T, reply []byte) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hdr := make([]byte, wire.HeaderLen)
		if _, err := readFull(conn, hdr); err != nil {
			return
		}
		total := int(le.Uint32(hdr[0:4]))
		body := make([]byte, total-wire.HeaderLen)
		if _, err := readFull(conn, body); err != nil {
			return
		}

		time.Sleep(5 * time.Millisecond)
		conn.Write(reply)
	}()
	t.Cleanup(func() { lis.Close() })
	return lis.Addr().String()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func waitForAddr(t *testing.T, p *inproxy.Proxy) string {
	t.Helper()
	for i := 0; i < 100; i++ {
		if addr := p.Addr(); addr != nil {
			return addr.String()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("proxy never bound a listen address")
	return ""
}

// TestQueryReplyRoundTrip exercises the full ACCEPTED -> UPSTREAM_CONNECTING
// -> FORWARDING path: a client Query is forwarded byte-for-byte, the
// upstream's Reply comes back byte-for-byte, and before/after events fire
// for both halves.
func TestQueryReplyRoundTrip(t *testing.T) {
	replyBody := bytes.NewBuffer(nil)
	replyBody.Write(u32(0)) // flags
	replyBody.Write(u64(0))
	replyBody.Write(u32(0))
	replyBody.Write(u32(1))
	replyBody.Write(doctest.Encode([]byte("result")))
	replyFrame := frame(wire.OpReply, 0, 99, replyBody.Bytes())

	upstreamAddr := fakeUpstream(t, replyFrame)

	bus := listener.NewBus()
	var beforeQuery, afterQuery, beforeReply, afterReply int
	var summary listener.Summary
	bus.Register(listener.Listener{
		Name:             "probe",
		BeforeQuery:      func(listener.Envelope) { beforeQuery++ },
		AfterQuery:       func(listener.Envelope) { afterQuery++ },
		BeforeReply:      func(listener.Envelope) { beforeReply++ },
		AfterReply:       func(listener.Envelope) { afterReply++ },
		OnSessionSummary: func(s listener.Summary) { summary = s },
	})

	p := inproxy.New("127.0.0.1:0", upstreamAddr, doctest.Decoder, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.ListenAndServe(ctx) }()

	listenAddr := waitForAddr(t, p)

	conn, err := net.Dial("tcp", listenAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	queryBody := bytes.NewBuffer(nil)
	queryBody.Write(u32(0))
	queryBody.Write(cstr("t.c"))
	queryBody.Write(u32(0))
	queryBody.Write(u32(1))
	queryBody.Write(doctest.Encode([]byte("sel")))
	queryFrame := frame(wire.OpQuery, 99, 0, queryBody.Bytes())

	if _, err := conn.Write(queryFrame); err != nil {
		t.Fatalf("write query: %v", err)
	}

	got := make([]byte, len(replyFrame))
	if _, err := readFull(conn, got); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !bytes.Equal(got, replyFrame) {
		t.Fatalf("reply bytes mismatch: got %x want %x", got, replyFrame)
	}

	conn.Close()
	cancel()
	<-done

	deadline := time.Now().Add(time.Second)
	for beforeQuery == 0 || afterQuery == 0 || beforeReply == 0 || afterReply == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("events did not all fire: before_query=%d after_query=%d before_reply=%d after_reply=%d",
				beforeQuery, afterQuery, beforeReply, afterReply)
		}
		time.Sleep(time.Millisecond)
	}

	deadline = time.Now().Add(time.Second)
	for summary.Counts == nil {
		if time.Now().After(deadline) {
			t.Fatal("session summary never dispatched")
		}
		time.Sleep(time.Millisecond)
	}

	if summary.Counts[wire.OpQuery] != 1 {
		t.Fatalf("summary query count = %d, want 1", summary.Counts[wire.OpQuery])
	}
	if summary.Counts[wire.OpReply] != 1 {
		t.Fatalf("summary reply count = %d, want 1", summary.Counts[wire.OpReply])
	}
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	le.PutUint64(b, v)
	return b
}
