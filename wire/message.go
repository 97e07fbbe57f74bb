package wire

import "github.com/mongotap/mongotap/document"

// Message is the tagged-variant decoded body of a wire-protocol frame. Only
// one of the typed fields is meaningful, selected by Header.Operation; for
// operations this codec treats as forward-only (Msg, Reserved, KillCursors,
// and anything unrecognized) only Raw is populated.
type Message struct {
	Header Header

	Query    *QueryMessage
	GetMore  *GetMoreMessage
	Insert   *InsertMessage
	Update   *UpdateMessage
	Delete   *DeleteMessage
	Reply    *ReplyMessage

	// Raw holds the full message bytes (header included) for operations that
	// are never decoded beyond the header: Msg, Reserved, KillCursors, and
	// any operation code this codec does not recognize.
	Raw []byte
}

// Namespace splits a decoded "<db>.<collection>" string at the first '.'.
func Namespace(ns string) (db, collection string) {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i], ns[i+1:]
		}
	}
	return ns, ""
}

// QueryMessage is the body of an OP_QUERY.
type QueryMessage struct {
	Namespace       string
	Flags           uint32
	Skip            uint32
	ToReturn        uint32
	Selector        document.Document
	FieldProjection document.Document // nil if absent
}

// GetMoreMessage is the body of an OP_GET_MORE.
type GetMoreMessage struct {
	Namespace string
	ToReturn  uint32
	CursorID  uint64
}

// InsertMessage is the body of an OP_INSERT.
type InsertMessage struct {
	Flags     uint32
	Namespace string
	Documents []document.Document
}

// UpdateMessage is the body of an OP_UPDATE.
type UpdateMessage struct {
	Namespace string
	Flags     uint32
	Selector  document.Document
	Update    document.Document // nil if absent
}

// DeleteMessage is the body of an OP_DELETE.
type DeleteMessage struct {
	Namespace string
	Flags     uint32
	Selector  document.Document
}

// ReplyMessage is the body of an OP_REPLY.
type ReplyMessage struct {
	Flags          uint32
	CursorID       uint64
	StartingFrom   uint32
	NumberReturned uint32
	Documents      []document.Document
}
