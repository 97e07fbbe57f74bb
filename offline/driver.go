// Package offline implements the OFFLINE-SNIFFER DRIVER component: it pulls
// packets from a capture file or live device, reassembles payloads per
// source endpoint, and dispatches the same observation events as inproxy —
// without ever opening a socket of its own or interposing on the traffic.
package offline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"golang.org/x/sync/errgroup"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/document"
	"github.com/mongotap/mongotap/listener"
)

// CaptureError wraps a pcap open/read failure.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("offline: %s: %v", e.Op, e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// Driver reads packets from a single capture source and feeds the shared
// decode/dispatch pipeline. One Driver corresponds to one CORRELATOR
// lifetime: state never survives past RunLive or RunFile returning.
type Driver struct {
	Docs      document.Decoder
	Bus       *listener.Bus
	Watermark int // reassembly.Reassembler watermark; 0 uses the default

	// OnLatency, if set, observes the derived pairing event spec.md §4.6
	// describes as "an after_query pairing event" following a reply.
	OnLatency func(correlate.Latency)

	corr *correlate.Correlator
}

// RunLive opens device live, applies a BPF filter for port, and processes
// packets until ctx is canceled or the capture errors.
func (d *Driver) RunLive(ctx context.Context, device string, port int) error {
	handle, err := pcap.OpenLive(device, 65536, true, pcap.BlockForever)
	if err != nil {
		return &CaptureError{Op: fmt.Sprintf("open live %s", device), Err: err}
	}
	defer handle.Close()
	return d.run(ctx, handle, port)
}

// RunFile opens a capture file for finite replay.
func (d *Driver) RunFile(ctx context.Context, path string, port int) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return &CaptureError{Op: fmt.Sprintf("open file %s", path), Err: err}
	}
	defer handle.Close()
	return d.run(ctx, handle, port)
}

func (d *Driver) run(ctx context.Context, handle *pcap.Handle, port int) error {
	if err := handle.SetBPFFilter(fmt.Sprintf("tcp port %d", port)); err != nil {
		return &CaptureError{Op: "set bpf filter", Err: err}
	}

	d.corr = correlate.New()
	if d.OnLatency != nil {
		d.corr.OnLatency = d.OnLatency
	}

	workers := newFlowWorkers(d.Docs, d.Bus, d.corr, d.Watermark)
	defer func() {
		for _, u := range d.corr.DiscardAll() {
			log.Printf("offline: unmatched request on close: %s", u.Request.Source)
		}
	}()

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		workers.closeAll()
		_ = g.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-source.Packets():
			if !ok {
				return nil
			}
			job, ok := decodePacket(pkt)
			if !ok {
				continue
			}
			workers.dispatch(gctx, g, job)
		}
	}
}
