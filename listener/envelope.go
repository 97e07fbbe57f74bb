package listener

import (
	"fmt"
	"time"

	"github.com/mongotap/mongotap/wire"
)

// Endpoint identifies one side of a TCP flow. For INLINE-PROXY it comes from
// the socket pair; for the offline driver, from the captured IP+TCP header.
type Endpoint struct {
	IP   string
	Port uint16
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.IP, e.Port) }

// Envelope is the unit of observation delivered to listeners: a decoded
// message, the header it came from, the two endpoints of the flow it
// travelled on, and when it was observed.
type Envelope struct {
	Header      wire.Header
	Message     wire.Message
	Source      Endpoint
	Destination Endpoint
	ObservedAt  time.Time
}

// OpCounts tallies messages seen per operation over a session or capture.
type OpCounts map[wire.Op]int64

// Summary is emitted once an inline session ends: total counts
// per operation and a read/write split, the Go equivalent of
// mongo_proxy.py's log_stats.
type Summary struct {
	Endpoint  Endpoint
	Counts    OpCounts
	Started   time.Time
	Ended     time.Time
}

// ReadWritePercent returns the read and write percentages of total traffic,
// derived from Counts. Reads are Query/GetMore/Reply; writes are
// Insert/Update/Delete/KillCursors. Returns (0, 0) if Counts is empty.
func (s Summary) ReadWritePercent() (read, write float64) {
	var total, reads, writes int64
	for op, n := range s.Counts {
		total += n
		switch op {
		case wire.OpQuery, wire.OpGetMore, wire.OpReply:
			reads += n
		case wire.OpDelete, wire.OpInsert, wire.OpUpdate, wire.OpKillCursors:
			writes += n
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(reads) / float64(total) * 100, float64(writes) / float64(total) * 100
}
