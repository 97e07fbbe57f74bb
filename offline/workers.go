package offline

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mongotap/mongotap/correlate"
	"github.com/mongotap/mongotap/document"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/reassembly"
	"github.com/mongotap/mongotap/wire"
)

// flowWorkers fans packetJobs out to one goroutine per source endpoint,
// preserving capture order within each endpoint while letting independent
// endpoints make progress concurrently — spec.md §5's "a simple
// implementation processes all endpoints on one worker" is the degenerate
// case of this when only one endpoint is ever seen.
type flowWorkers struct {
	docs      document.Decoder
	bus       *listener.Bus
	corr      *correlate.Correlator
	watermark int

	mu    sync.Mutex
	chans map[string]chan packetJob
}

func newFlowWorkers(docs document.Decoder, bus *listener.Bus, corr *correlate.Correlator, watermark int) *flowWorkers {
	return &flowWorkers{
		docs:      docs,
		bus:       bus,
		corr:      corr,
		watermark: watermark,
		chans:     make(map[string]chan packetJob),
	}
}

func (w *flowWorkers) dispatch(ctx context.Context, g *errgroup.Group, job packetJob) {
	w.mu.Lock()
	ch, exists := w.chans[job.sourceKey]
	if !exists {
		ch = make(chan packetJob, 256)
		w.chans[job.sourceKey] = ch
		g.Go(func() error {
			w.runWorker(job.sourceKey, ch)
			return nil
		})
	}
	w.mu.Unlock()

	select {
	case ch <- job:
	case <-ctx.Done():
	}
}

func (w *flowWorkers) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.chans {
		close(ch)
	}
}

func (w *flowWorkers) runWorker(sourceKey string, ch chan packetJob) {
	r := reassembly.New(w.watermark)
	for job := range ch {
		frames := r.Ingest(sourceKey, job.ipID, job.payload)
		for _, frame := range frames {
			w.decodeAndDispatch(frame, job)
		}
	}
	for _, gap := range r.Gaps() {
		log.Printf("offline: %s: gap: dropped=%d remaining=%d", sourceKey, gap.Dropped, gap.Remaining)
	}
}

// decodeAndDispatch implements the back half of spec.md §4.6: decode via the
// codec, build an envelope with capture-time metadata, fire before_/after_
// back to back (the sniffer never interposes so there is no send/reply
// split), and let the correlator emit its derived pairing event for
// replies. A decode error on one message is logged and skipped; it never
// aborts the worker.
func (w *flowWorkers) decodeAndDispatch(frame []byte, job packetJob) {
	h, err := wire.DecodeHeader(frame)
	if err != nil {
		log.Printf("offline: %s: bad header: %v", job.sourceKey, err)
		return
	}
	msg, err := wire.DecodeMessage(h, frame, w.docs)
	if err != nil {
		log.Printf("offline: %s: decode: %v", job.sourceKey, err)
		return
	}

	env := listener.Envelope{
		Header:      h,
		Message:     msg,
		Source:      job.source,
		Destination: job.dest,
		ObservedAt:  job.observed,
	}

	switch h.Operation {
	case wire.OpQuery:
		w.bus.DispatchBeforeQuery(env)
		w.corr.Record(env)
		w.bus.DispatchAfterQuery(env)
	case wire.OpGetMore:
		w.bus.DispatchBeforeMore(env)
		w.corr.Record(env)
		w.bus.DispatchAfterMore(env)
	case wire.OpInsert:
		w.bus.DispatchBeforeInsert(env)
		w.bus.DispatchAfterInsert(env)
	case wire.OpUpdate:
		w.bus.DispatchBeforeUpdate(env)
		w.bus.DispatchAfterUpdate(env)
	case wire.OpDelete:
		w.bus.DispatchBeforeDelete(env)
		w.bus.DispatchAfterDelete(env)
	case wire.OpReply:
		w.bus.DispatchBeforeReply(env)
		w.bus.DispatchAfterReply(env)
		w.corr.Complete(env)
	}
}
