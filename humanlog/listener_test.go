package humanlog_test

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/document/doctest"
	"github.com/mongotap/mongotap/humanlog"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/wire"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	origFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(orig)
		log.SetFlags(origFlags)
	}()
	fn()
	return buf.String()
}

func TestRawListenerLogsQueryFlags(t *testing.T) {
	sel, _, err := doctest.Decoder.Decode(doctest.Encode([]byte("sel")))
	if err != nil {
		t.Fatalf("decode selector: %v", err)
	}

	env := listener.Envelope{
		Header: wire.Header{RequestID: 5, Operation: wire.OpQuery},
		Message: wire.Message{Query: &wire.QueryMessage{
			Namespace: "t.c",
			Flags:     wire.QueryFlagSlaveOK,
			Selector:  sel,
		}},
	}

	out := captureLog(t, func() {
		humanlog.RawListener().BeforeQuery(env)
	})

	if !strings.Contains(out, "QUERY") || !strings.Contains(out, "t.c") || !strings.Contains(out, "SLAVEOK") {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestRawListenerLogsInsertFlags(t *testing.T) {
	env := listener.Envelope{
		Header: wire.Header{RequestID: 6, Operation: wire.OpInsert},
		Message: wire.Message{Insert: &wire.InsertMessage{
			Namespace: "t.c",
			Flags:     wire.InsertFlagContinueOnError,
		}},
	}

	out := captureLog(t, func() {
		humanlog.RawListener().BeforeInsert(env)
	})

	if !strings.Contains(out, "CONTINUE") {
		t.Fatalf("expected CONTINUE flag name, got: %q", out)
	}
	if strings.Contains(out, "TAILABLE") {
		t.Fatalf("insert flags must not be decoded as query flags, got: %q", out)
	}
}

func TestOnLatencyLogsElapsed(t *testing.T) {
	req := listener.Envelope{
		Header:  wire.Header{RequestID: 9, Operation: wire.OpQuery},
		Message: wire.Message{Query: &wire.QueryMessage{Namespace: "t.c"}},
	}
	lat := correlate.Latency{Request: req, Elapsed: 42 * time.Millisecond}

	out := captureLog(t, func() {
		humanlog.OnLatency(lat)
	})

	if !strings.Contains(out, "t.c") || !strings.Contains(out, "42.000ms") {
		t.Fatalf("unexpected log line: %q", out)
	}
}
