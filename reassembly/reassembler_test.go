package reassembly_test

import (
	"encoding/binary"
	"testing"

	"github.com/mongotap/mongotap/reassembly"
	"github.com/mongotap/mongotap/wire"
)

// buildFrame returns a complete wire message (an OP_UPDATE with an opaque
// body, good enough since reassembly only cares about the header) of the
// requested total length. split3 cuts such a buffer into three pieces.
func buildFrame(total int) []byte {
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], 7)
	binary.LittleEndian.PutUint32(buf[8:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(wire.OpUpdate))
	for i := wire.HeaderLen; i < total; i++ {
		buf[i] = byte(i)
	}
	return buf
}

func split3(buf []byte) [3][]byte {
	n := len(buf)
	a := n / 3
	b := 2 * n / 3
	return [3][]byte{buf[:a], buf[a:b], buf[b:]}
}

// TestOutOfOrderReassembly mirrors spec scenario 3: three fragments for one
// source, IP ids {100,101,102}, delivered out of order {102,100,101}.
func TestOutOfOrderReassembly(t *testing.T) {
	t.Parallel()

	frame := buildFrame(90)
	parts := split3(frame)

	r := reassembly.New(0)
	const source = "10.0.0.1:34567"

	if out := r.Ingest(source, 102, parts[2]); len(out) != 0 {
		t.Fatalf("expected no completion yet, got %d", len(out))
	}
	if out := r.Ingest(source, 100, parts[0]); len(out) != 0 {
		t.Fatalf("expected no completion yet, got %d", len(out))
	}

	out := r.Ingest(source, 101, parts[1])
	if len(out) != 1 {
		t.Fatalf("expected exactly one completed message, got %d", len(out))
	}
	if len(out[0]) != len(frame) {
		t.Fatalf("completed message length = %d, want %d", len(out[0]), len(frame))
	}
	for i := range frame {
		if out[0][i] != frame[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestSingleFragmentAlreadyComplete(t *testing.T) {
	t.Parallel()
	frame := buildFrame(40)
	r := reassembly.New(0)

	out := r.Ingest("a:1", 5, frame)
	if len(out) != 1 {
		t.Fatalf("expected 1 completed message, got %d", len(out))
	}
}

func TestHeldUntilEnoughBytes(t *testing.T) {
	t.Parallel()
	r := reassembly.New(0)
	out := r.Ingest("a:1", 1, []byte{1, 2, 3})
	if len(out) != 0 {
		t.Fatal("expected fragment under 16 bytes to be held")
	}
}

func TestTwoMessagesInOneRun(t *testing.T) {
	t.Parallel()
	f1 := buildFrame(30)
	f2 := buildFrame(50)
	combined := append(append([]byte{}, f1...), f2...)

	parts := split3(combined)
	r := reassembly.New(0)
	const source = "a:1"

	// The 30-byte first message ends inside parts[1], so the middle
	// fragment arrives last: only then is the whole 80-byte run contiguous
	// and both messages are peeled from it together.
	r.Ingest(source, 10, parts[0])
	r.Ingest(source, 12, parts[2])
	out := r.Ingest(source, 11, parts[1])

	if len(out) != 2 {
		t.Fatalf("expected 2 completed messages, got %d", len(out))
	}
	if len(out[0]) != 30 || len(out[1]) != 50 {
		t.Fatalf("unexpected lengths: %d, %d", len(out[0]), len(out[1]))
	}
}

func TestDirectionsAreIndependent(t *testing.T) {
	t.Parallel()
	r := reassembly.New(0)
	frame := buildFrame(40)
	parts := split3(frame)

	r.Ingest("client->server", 1, parts[0])
	// Unrelated direction must not interfere or complete the other's frame.
	out := r.Ingest("server->client", 1, parts[1])
	if len(out) != 0 {
		t.Fatalf("cross-direction fragment should not complete a message, got %d", len(out))
	}
}

func TestWatermarkEvictsOldest(t *testing.T) {
	t.Parallel()
	r := reassembly.New(2)
	const source = "a:1"

	// Three two-byte fragments that never become contiguous enough to
	// complete; the third ingest should trip the watermark and record a gap.
	r.Ingest(source, 10, []byte{1, 2})
	r.Ingest(source, 50, []byte{3, 4})
	r.Ingest(source, 90, []byte{5, 6})

	gaps := r.Gaps()
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
}
