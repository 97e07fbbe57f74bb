package wire_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mongotap/mongotap/document/doctest"
	"github.com/mongotap/mongotap/wire"
)

var le = binary.LittleEndian

func cstringBytes(s string) []byte {
	return append([]byte(s), 0x00)
}

func buildMessage(op wire.Op, requestID, responseTo int32, body []byte) (wire.Header, []byte) {
	total := wire.HeaderLen + len(body)
	buf := make([]byte, total)
	h := wire.Header{TotalLength: int32(total), RequestID: requestID, ResponseTo: responseTo, Operation: op}
	writeHeader(buf, h)
	copy(buf[wire.HeaderLen:], body)
	return h, buf
}

func writeHeader(buf []byte, h wire.Header) {
	copy(buf[0:16], encodeHeader(h.TotalLength, h.RequestID, h.ResponseTo, h.Operation))
}

// TestDecodeInsert mirrors spec scenario 1: a single-document insert into
// "t.c".
func TestDecodeInsert(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	body.Write(u32(0)) // flags
	body.Write(cstringBytes("t.c"))
	body.Write(doctest.Encode([]byte("_id:1")))

	h, buf := buildMessage(wire.OpInsert, 1, 0, body.Bytes())

	msg, err := wire.DecodeMessage(h, buf, doctest.Decoder)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Insert == nil {
		t.Fatal("expected Insert message")
	}
	if msg.Insert.Namespace != "t.c" {
		t.Fatalf("namespace = %q", msg.Insert.Namespace)
	}
	if msg.Insert.Flags != 0 {
		t.Fatalf("flags = %d", msg.Insert.Flags)
	}
	if len(msg.Insert.Documents) != 1 {
		t.Fatalf("documents = %d, want 1", len(msg.Insert.Documents))
	}
}

func TestDecodeQueryWithProjection(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	body.Write(u32(0)) // flags
	body.Write(cstringBytes("d.c"))
	body.Write(u32(0))  // skip
	body.Write(u32(10)) // to_return
	body.Write(doctest.Encode([]byte("x:1")))
	body.Write(doctest.Encode([]byte("proj")))

	h, buf := buildMessage(wire.OpQuery, 42, 0, body.Bytes())

	msg, err := wire.DecodeMessage(h, buf, doctest.Decoder)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Query.Namespace != "d.c" {
		t.Fatalf("namespace = %q", msg.Query.Namespace)
	}
	if msg.Query.ToReturn != 10 {
		t.Fatalf("to_return = %d", msg.Query.ToReturn)
	}
	if msg.Query.FieldProjection == nil {
		t.Fatal("expected field projection")
	}
}

func TestDecodeQueryRejectsThreeDocuments(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	body.Write(u32(0))
	body.Write(cstringBytes("d.c"))
	body.Write(u32(0))
	body.Write(u32(0))
	body.Write(doctest.Encode([]byte("a")))
	body.Write(doctest.Encode([]byte("b")))
	body.Write(doctest.Encode([]byte("c")))

	h, buf := buildMessage(wire.OpQuery, 1, 0, body.Bytes())
	if _, err := wire.DecodeMessage(h, buf, doctest.Decoder); err == nil {
		t.Fatal("expected frame error for 3 embedded documents")
	}
}

// TestDecodeQueryImpossibleLength mirrors spec scenario 4: a Query header
// claiming total_length=16, which is impossible since Query always has a
// body.
func TestDecodeQueryImpossibleLength(t *testing.T) {
	t.Parallel()
	h := wire.Header{TotalLength: 16, RequestID: 1, Operation: wire.OpQuery}
	buf := encodeHeader(16, 1, 0, wire.OpQuery)

	if _, err := wire.DecodeMessage(h, buf, doctest.Decoder); err == nil {
		t.Fatal("expected frame error")
	}
}

func TestDecodeMissingNamespaceTerminator(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	body.Write(u32(0))
	body.WriteString("no-nul-here") // no NUL terminator before end of buffer

	h, buf := buildMessage(wire.OpInsert, 1, 0, body.Bytes())
	if _, err := wire.DecodeMessage(h, buf, doctest.Decoder); err == nil {
		t.Fatal("expected frame error for missing NUL terminator")
	}
}

func TestDecodeReply(t *testing.T) {
	t.Parallel()

	var body bytes.Buffer
	body.Write(u32(0))           // flags
	body.Write(u64(0))           // cursor id
	body.Write(u32(0))           // starting from
	body.Write(u32(2))           // number returned
	body.Write(doctest.Encode([]byte("a")))
	body.Write(doctest.Encode([]byte("b")))

	h, buf := buildMessage(wire.OpReply, 0, 42, body.Bytes())

	msg, err := wire.DecodeMessage(h, buf, doctest.Decoder)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Reply.NumberReturned != 2 || len(msg.Reply.Documents) != 2 {
		t.Fatalf("reply = %+v", msg.Reply)
	}
	if h.ResponseTo != 42 {
		t.Fatalf("response_to = %d", h.ResponseTo)
	}
}

func TestDecodeKillCursorsIsOpaque(t *testing.T) {
	t.Parallel()

	body := []byte{0, 0, 0, 0, 1, 0, 0, 0, 9, 9, 9, 9, 9, 9, 9, 9}
	h, buf := buildMessage(wire.OpKillCursors, 1, 0, body)

	msg, err := wire.DecodeMessage(h, buf, doctest.Decoder)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Raw == nil || !bytes.Equal(msg.Raw, buf) {
		t.Fatal("expected raw passthrough for kill_cursors")
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
