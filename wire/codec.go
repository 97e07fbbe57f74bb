package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mongotap/mongotap/document"
)

// DecodeMessage dispatches on h.Operation and decodes buf (the full message,
// header included) into a typed Message. docs decodes each embedded
// document; the caller supplies it so the codec stays independent of any
// concrete document library.
//
// DecodeMessage never reads past h.TotalLength bytes of buf, and returns a
// *FrameError if a fixed field or namespace would need to. An embedded
// document that the decoder rejects, including one whose declared length
// runs past the end, is reported as a *DecodeError.
func DecodeMessage(h Header, buf []byte, docs document.Decoder) (Message, error) {
	end := int(h.TotalLength)
	if len(buf) < end {
		return Message{}, &FrameError{Reason: fmt.Sprintf("buffer shorter than declared total_length: have %d, want %d", len(buf), end)}
	}
	buf = buf[:end]

	msg := Message{Header: h}

	switch h.Operation {
	case OpQuery:
		q, err := decodeQuery(buf, docs)
		if err != nil {
			return Message{}, err
		}
		msg.Query = q
	case OpGetMore:
		g, err := decodeGetMore(buf)
		if err != nil {
			return Message{}, err
		}
		msg.GetMore = g
	case OpInsert:
		i, err := decodeInsert(buf, docs)
		if err != nil {
			return Message{}, err
		}
		msg.Insert = i
	case OpUpdate:
		u, err := decodeUpdate(buf, docs)
		if err != nil {
			return Message{}, err
		}
		msg.Update = u
	case OpDelete:
		d, err := decodeDelete(buf, docs)
		if err != nil {
			return Message{}, err
		}
		msg.Delete = d
	case OpReply:
		r, err := decodeReply(buf, docs)
		if err != nil {
			return Message{}, err
		}
		msg.Reply = r
	default:
		// Msg, Reserved, KillCursors, and anything unrecognized: retained
		// opaque, forwarded unchanged, never individually decoded.
		msg.Raw = buf
	}

	return msg, nil
}

// cstring reads a NUL-terminated string starting at offset start, returning
// the string and the offset of the byte immediately after the terminator.
func cstring(buf []byte, start int) (string, int, error) {
	if start >= len(buf) {
		return "", 0, &FrameError{Reason: "namespace starts past end of message"}
	}
	idx := bytes.IndexByte(buf[start:], 0x00)
	if idx < 0 {
		return "", 0, &FrameError{Reason: "namespace missing NUL terminator"}
	}
	if idx == 0 {
		return "", 0, &FrameError{Reason: "empty namespace"}
	}
	return string(buf[start : start+idx]), start + idx + 1, nil
}

func readU32(buf []byte, off int) (uint32, error) {
	if off+4 > len(buf) {
		return 0, &FrameError{Reason: fmt.Sprintf("u32 field at %d exceeds message", off)}
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), nil
}

func readU64(buf []byte, off int) (uint64, error) {
	if off+8 > len(buf) {
		return 0, &FrameError{Reason: fmt.Sprintf("u64 field at %d exceeds message", off)}
	}
	return binary.LittleEndian.Uint64(buf[off : off+8]), nil
}

// decodeDocuments decodes documents back-to-back starting at off until end
// of buf, stopping early once max documents (if max > 0) have been read.
func decodeDocuments(buf []byte, off int, docs document.Decoder, max int) ([]document.Document, error) {
	var out []document.Document
	for off < len(buf) {
		if max > 0 && len(out) >= max {
			break
		}
		doc, n, err := docs.Decode(buf[off:])
		if err != nil {
			return nil, &DecodeError{Offset: off, Err: err}
		}
		if n <= 0 || off+n > len(buf) {
			return nil, &FrameError{Reason: fmt.Sprintf("document decoder consumed %d bytes at offset %d, exceeds message", n, off)}
		}
		out = append(out, doc)
		off += n
	}
	return out, nil
}

func decodeQuery(buf []byte, docs document.Decoder) (*QueryMessage, error) {
	flags, err := readU32(buf, 16)
	if err != nil {
		return nil, err
	}
	ns, p, err := cstring(buf, 20)
	if err != nil {
		return nil, err
	}
	skip, err := readU32(buf, p)
	if err != nil {
		return nil, err
	}
	toReturn, err := readU32(buf, p+4)
	if err != nil {
		return nil, err
	}

	ds, err := decodeDocuments(buf, p+8, docs, 0)
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, &FrameError{Reason: "query has no selector document"}
	}
	if len(ds) > 2 {
		return nil, &FrameError{Reason: fmt.Sprintf("query has %d embedded documents, expected at most 2", len(ds))}
	}

	q := &QueryMessage{
		Namespace: ns,
		Flags:     flags,
		Skip:      skip,
		ToReturn:  toReturn,
		Selector:  ds[0],
	}
	if len(ds) == 2 {
		q.FieldProjection = ds[1]
	}
	return q, nil
}

func decodeGetMore(buf []byte) (*GetMoreMessage, error) {
	ns, p, err := cstring(buf, 20)
	if err != nil {
		return nil, err
	}
	toReturn, err := readU32(buf, p)
	if err != nil {
		return nil, err
	}
	cursorID, err := readU64(buf, p+4)
	if err != nil {
		return nil, err
	}
	return &GetMoreMessage{Namespace: ns, ToReturn: toReturn, CursorID: cursorID}, nil
}

func decodeInsert(buf []byte, docs document.Decoder) (*InsertMessage, error) {
	flags, err := readU32(buf, 16)
	if err != nil {
		return nil, err
	}
	ns, p, err := cstring(buf, 20)
	if err != nil {
		return nil, err
	}
	ds, err := decodeDocuments(buf, p, docs, 0)
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, &FrameError{Reason: "insert carries no documents"}
	}
	return &InsertMessage{Flags: flags, Namespace: ns, Documents: ds}, nil
}

func decodeUpdate(buf []byte, docs document.Decoder) (*UpdateMessage, error) {
	ns, p, err := cstring(buf, 20)
	if err != nil {
		return nil, err
	}
	flags, err := readU32(buf, p)
	if err != nil {
		return nil, err
	}
	ds, err := decodeDocuments(buf, p+4, docs, 0)
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, &FrameError{Reason: "update has no selector document"}
	}
	if len(ds) > 2 {
		return nil, &FrameError{Reason: fmt.Sprintf("update has %d embedded documents, expected at most 2", len(ds))}
	}
	u := &UpdateMessage{Namespace: ns, Flags: flags, Selector: ds[0]}
	if len(ds) == 2 {
		u.Update = ds[1]
	}
	return u, nil
}

func decodeDelete(buf []byte, docs document.Decoder) (*DeleteMessage, error) {
	ns, p, err := cstring(buf, 20)
	if err != nil {
		return nil, err
	}
	flags, err := readU32(buf, p)
	if err != nil {
		return nil, err
	}
	ds, err := decodeDocuments(buf, p+4, docs, 1)
	if err != nil {
		return nil, err
	}
	if len(ds) == 0 {
		return nil, &FrameError{Reason: "delete has no selector document"}
	}
	return &DeleteMessage{Namespace: ns, Flags: flags, Selector: ds[0]}, nil
}

func decodeReply(buf []byte, docs document.Decoder) (*ReplyMessage, error) {
	flags, err := readU32(buf, 16)
	if err != nil {
		return nil, err
	}
	cursorID, err := readU64(buf, 20)
	if err != nil {
		return nil, err
	}
	startingFrom, err := readU32(buf, 28)
	if err != nil {
		return nil, err
	}
	numberReturned, err := readU32(buf, 32)
	if err != nil {
		return nil, err
	}

	ds, err := decodeDocuments(buf, 36, docs, int(numberReturned))
	if err != nil {
		return nil, err
	}

	return &ReplyMessage{
		Flags:          flags,
		CursorID:       cursorID,
		StartingFrom:   startingFrom,
		NumberReturned: numberReturned,
		Documents:      ds,
	}, nil
}
