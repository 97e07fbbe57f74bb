// Package broker fans decoded events out to subscribers — the web SSE
// endpoint and the live TUI both subscribe to the same Broker, which the
// daemons feed from the proxy's or driver's OnLatency hook.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/wire"
)

// Event is one observation ready for display: a reduced view of a paired
// request plus what is derived from its reply (latency, failure flag).
type Event struct {
	ID         string
	Op         string
	Namespace  string
	Selector   string
	DurationMs float64
	Error      string
	At         string
}

// FromLatency derives an Event from a paired request/reply — the Go
// equivalent of the fields mongo_proxy.py's TimingListener logs per command.
func FromLatency(lat correlate.Latency) Event {
	req := lat.Request
	ev := Event{
		ID:         fmt.Sprintf("%d", req.Header.RequestID),
		Op:         req.Header.Operation.String(),
		DurationMs: float64(lat.Elapsed.Microseconds()) / 1000,
		At:         lat.Reply.ObservedAt.Format(time.RFC3339Nano),
	}

	switch req.Header.Operation {
	case wire.OpQuery:
		if q := req.Message.Query; q != nil {
			ev.Namespace = q.Namespace
			ev.Selector = docString(q.Selector)
		}
	case wire.OpGetMore:
		if g := req.Message.GetMore; g != nil {
			ev.Namespace = g.Namespace
		}
	}

	if reply := lat.Reply.Message.Reply; reply != nil && reply.Flags&wire.ReplyFlagFailure != 0 {
		ev.Error = "query failure"
	}

	return ev
}

func docString(d interface{ String() string }) string {
	if d == nil {
		return "{}"
	}
	return d.String()
}

// Broker broadcasts Events to every current subscriber. Slow subscribers
// never block a publish: a full subscriber channel has its oldest event
// dropped to make room, trading completeness for bounded memory and a
// responsive publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel along with an
// unsubscribe function. unsub is safe to call more than once.
func (b *Broker) Subscribe() (ch chan Event, unsub func()) {
	ch = make(chan Event, 256)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub = func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish sends ev to every current subscriber.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest event to make room rather than block the
			// publisher on a slow subscriber.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
