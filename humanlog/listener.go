// Package humanlog renders decoded traffic as human-readable log lines: one
// listener.Listener logging the raw shape of every request (grounded on
// mongo_proxy.py's RawLoggingListener), and a latency logger driven by
// correlate.Latency (grounded on its TimingListener).
package humanlog

import (
	"log"
	"strings"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/highlight"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/wire"
)

// RawListener logs one line per client-originated request and per reply,
// carrying decoded flags and namespace, plus one line per session summary —
// the Go equivalent of RawLoggingListener.
func RawListener() listener.Listener {
	return listener.Listener{
		Name: "humanlog-raw",
		BeforeQuery: func(env listener.Envelope) {
			q := env.Message.Query
			if q == nil {
				return
			}
			log.Printf("%d QUERY %s flags=[%s] skip=%d limit=%d selector=%s fields=%s",
				env.Header.RequestID, q.Namespace, strings.Join(wire.QueryFlagNames(q.Flags), "|"),
				q.Skip, q.ToReturn, docString(q.Selector), docString(q.FieldProjection))
		},
		BeforeMore: func(env listener.Envelope) {
			g := env.Message.GetMore
			if g == nil {
				return
			}
			log.Printf("%d GETMORE %s limit=%d cursor=%d",
				env.Header.RequestID, g.Namespace, g.ToReturn, g.CursorID)
		},
		BeforeInsert: func(env listener.Envelope) {
			ins := env.Message.Insert
			if ins == nil {
				return
			}
			log.Printf("%d INSERT %s flags=[%s] documents=%d",
				env.Header.RequestID, ins.Namespace, strings.Join(wire.InsertFlagNames(ins.Flags), "|"), len(ins.Documents))
		},
		BeforeUpdate: func(env listener.Envelope) {
			u := env.Message.Update
			if u == nil {
				return
			}
			log.Printf("%d UPDATE %s flags=[%s] selector=%s update=%s",
				env.Header.RequestID, u.Namespace, strings.Join(wire.UpdateFlagNames(u.Flags), "|"),
				docString(u.Selector), docString(u.Update))
		},
		BeforeDelete: func(env listener.Envelope) {
			d := env.Message.Delete
			if d == nil {
				return
			}
			log.Printf("%d DELETE %s selector=%s", env.Header.RequestID, d.Namespace, docString(d.Selector))
		},
		BeforeReply: func(env listener.Envelope) {
			r := env.Message.Reply
			if r == nil {
				return
			}
			log.Printf("%d REPLY flags=[%s] cursor=%d from=%d count=%d",
				env.Header.ResponseTo, strings.Join(wire.ReplyFlagNames(r.Flags), "|"),
				r.CursorID, r.StartingFrom, r.NumberReturned)
		},
		OnSessionSummary: func(s listener.Summary) {
			read, write := s.ReadWritePercent()
			log.Printf("%s closed after %s: %d messages (%.1f%% read, %.1f%% write)",
				s.Endpoint, s.Ended.Sub(s.Started), totalCount(s.Counts), read, write)
		},
	}
}

func totalCount(counts listener.OpCounts) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

func docString(d interface{ String() string }) string {
	if d == nil {
		return "{}"
	}
	return d.String()
}

// OnLatency logs a colorized one-line summary once a request and its reply
// are paired — the Go equivalent of TimingListener's per-command timing log.
func OnLatency(lat correlate.Latency) {
	op := lat.Request.Header.Operation
	var cmd string
	switch op {
	case wire.OpQuery:
		q := lat.Request.Message.Query
		if q != nil {
			cmd = q.Namespace + ".find(" + highlight.Document(docString(q.Selector)) + ")"
		}
	case wire.OpGetMore:
		g := lat.Request.Message.GetMore
		if g != nil {
			cmd = g.Namespace + ".more()"
		}
	default:
		cmd = op.String()
	}

	log.Printf("%d %s took %.03fms", lat.Request.Header.RequestID, cmd, float64(lat.Elapsed.Microseconds())/1000)
}
