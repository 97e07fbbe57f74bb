// Package inproxy implements the INLINE-PROXY SESSION component: a
// transparent TCP interceptor that accepts client connections, opens an
// upstream connection to the real Mongo server, forwards bytes in both
// directions unchanged, and emits decode/observation events through a
// listener.Bus.
package inproxy

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/document"
	"github.com/mongotap/mongotap/listener"
)

// Proxy accepts client connections on Listen and relays each to Upstream.
type Proxy struct {
	listenAddr   string
	upstreamAddr string
	docs         document.Decoder
	bus          *listener.Bus

	// OnLatency, if set, observes the request/reply pairing event each
	// session's own CORRELATOR emits as replies arrive.
	OnLatency func(correlate.Latency)

	listener net.Listener
}

// New creates a Proxy. docs decodes the embedded document format; bus
// receives every observation event. Registering listeners on bus after
// ListenAndServe starts is safe (Bus.Register is lock-guarded) but, per
// spec.md §5, is meant to happen once at startup.
func New(listenAddr, upstreamAddr string, docs document.Decoder, bus *listener.Bus) *Proxy {
	return &Proxy{listenAddr: listenAddr, upstreamAddr: upstreamAddr, docs: docs, bus: bus}
}

// ListenAndServe binds listenAddr and serves connections until ctx is
// canceled or a fatal accept error occurs. Every accepted connection runs
// as an independent session; sessions share no mutable state beyond the
// process-wide listener.Bus, which is append-on-register only.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("inproxy: listen %s: %w", p.listenAddr, err)
	}
	p.listener = lis

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("inproxy: accept: %w", err)
		}

		go p.handle(ctx, conn)
	}
}

func (p *Proxy) handle(ctx context.Context, clientConn net.Conn) {
	sess := newSession(clientConn, p.upstreamAddr, p.docs, p.bus)
	if p.OnLatency != nil {
		sess.corr.OnLatency = p.OnLatency
	}
	if err := sess.run(ctx); err != nil && !isClosedErr(err) {
		log.Printf("inproxy: session %s: %v", sess.clientEndpoint(), err)
	}
}

// Addr returns the address ListenAndServe bound, once it has started.
func (p *Proxy) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Close stops accepting new connections. In-flight sessions run to their
// own completion; each owns its sockets exclusively and closes them on any
// exit path.
func (p *Proxy) Close() error {
	if p.listener == nil {
		return nil
	}
	if err := p.listener.Close(); err != nil {
		return fmt.Errorf("inproxy: close: %w", err)
	}
	return nil
}
