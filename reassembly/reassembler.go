// Package reassembly reconstructs complete wire-protocol messages from
// out-of-order capture fragments, keyed by a per-source monotonic
// identifier (the IP identification field). It never reverses direction:
// client->server and server->client traffic use independent source keys and
// are reassembled independently. This is a simplification of true TCP
// reassembly — it inherits IP-identifier reuse and wraparound limits — and
// is only meant to serve best-effort offline observation, not a byte-exact
// TCP stack.
package reassembly

import (
	"sort"

	"github.com/mongotap/mongotap/wire"
)

// DefaultWatermark bounds how many fragments accumulate per source before
// the oldest is evicted and a gap is reported. 64 comfortably covers normal
// IP fragmentation bursts of a single oversized Mongo message while still
// bounding memory for a source that never completes.
const DefaultWatermark = 64

type fragment struct {
	id      uint16
	payload []byte
}

// Gap describes a fragment dropped by the watermark policy. It is reported
// to callers for observability; reassembly of that source continues.
type Gap struct {
	Source    string
	Dropped   int // bytes dropped
	Remaining int // fragments left pending after the drop
}

// Reassembler holds pending fragments for every source endpoint seen so
// far. The zero value is not usable; construct with New.
type Reassembler struct {
	watermark int
	pending   map[string][]fragment
	gaps      []Gap
}

// New creates a Reassembler with the given per-source fragment watermark.
// A watermark <= 0 uses DefaultWatermark.
func New(watermark int) *Reassembler {
	if watermark <= 0 {
		watermark = DefaultWatermark
	}
	return &Reassembler{
		watermark: watermark,
		pending:   make(map[string][]fragment),
	}
}

// Ingest accepts one capture fragment for source, keyed by its IP
// identification field, and returns zero or more complete message bytes
// peeled out of the accumulated buffer.
func (r *Reassembler) Ingest(source string, ipID uint16, payload []byte) [][]byte {
	list := append(r.pending[source], fragment{id: ipID, payload: payload})
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	if len(list) > r.watermark {
		dropped := list[0]
		list = list[1:]
		r.gaps = append(r.gaps, Gap{Source: source, Dropped: len(dropped.payload), Remaining: len(list)})
	}

	run := contiguousRun(list)
	rest := list[len(run):]

	buf := concat(run)
	var out [][]byte

	for len(buf) >= wire.HeaderLen {
		h, err := wire.DecodeHeader(buf)
		if err != nil {
			// Malformed header inside a reassembled run: nothing more can be
			// peeled from this buffer, hold it back as a single fragment.
			break
		}
		total := int(h.TotalLength)
		if len(buf) < total {
			break
		}
		out = append(out, buf[:total])
		buf = buf[total:]
	}

	if len(buf) > 0 {
		// Leftover bytes don't yet form a complete message; push back as one
		// fragment retaining the lowest original identifier of the run so
		// ordering against future fragments is preserved.
		id := ipID
		if len(run) > 0 {
			id = run[0].id
		}
		rest = append([]fragment{{id: id, payload: buf}}, rest...)
	}

	if len(rest) == 0 {
		delete(r.pending, source)
	} else {
		r.pending[source] = rest
	}

	return out
}

// Gaps drains and returns the watermark-eviction gaps recorded so far.
func (r *Reassembler) Gaps() []Gap {
	g := r.gaps
	r.gaps = nil
	return g
}

// contiguousRun walks from the head of a sorted fragment list while each
// successor's identifier is exactly predecessor+1, or while the head alone
// already satisfies len == header.total_length. Because the list is sorted
// ascending, a run never bridges the IP ID wraparound from 65535 to 0.
func contiguousRun(list []fragment) []fragment {
	if len(list) == 0 {
		return nil
	}

	if len(list[0].payload) >= wire.HeaderLen {
		if h, err := wire.DecodeHeader(list[0].payload); err == nil && int(h.TotalLength) == len(list[0].payload) {
			return list[:1]
		}
	}

	end := 1
	for end < len(list) && list[end].id == list[end-1].id+1 {
		end++
	}
	return list[:end]
}

func concat(frags []fragment) []byte {
	n := 0
	for _, f := range frags {
		n += len(f.payload)
	}
	buf := make([]byte, 0, n)
	for _, f := range frags {
		buf = append(buf, f.payload...)
	}
	return buf
}
