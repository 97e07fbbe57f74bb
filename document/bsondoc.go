package document

import (
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsoncore"
)

// BSON decodes embedded documents using the real BSON wire format, the same
// format the MongoDB server and drivers exchange documents in. This is the
// production Decoder; the core (wire, reassembly, correlate, listener) never
// references it directly.
var BSON Decoder = bsonDecoder{}

type bsonDecoder struct{}

// bsonDocument wraps bsoncore.Document to satisfy Document.
type bsonDocument struct {
	raw bsoncore.Document
}

func (d bsonDocument) Bytes() []byte { return []byte(d.raw) }

func (d bsonDocument) String() string {
	s := d.raw.String()
	if s == "" {
		return "{}"
	}
	return s
}

func (bsonDecoder) Decode(data []byte) (Document, int, error) {
	raw, rem, ok := bsoncore.ReadDocument(data)
	if !ok {
		return nil, 0, fmt.Errorf("document: truncated or invalid bson at length %d", len(data))
	}
	consumed := len(data) - len(rem)
	return bsonDocument{raw: raw}, consumed, nil
}
