// Package document abstracts the embedded binary document format carried
// inside wire-protocol messages (selectors, updates, returned rows). The
// wire codec never imports a specific document library — it only depends on
// the Decoder interface here, so it can be driven by a real BSON decoder in
// production and a minimal fake in tests.
package document

import "fmt"

// Document is a single decoded embedded document. Implementations keep the
// original bytes so the document can be re-rendered or re-encoded
// byte-identically.
type Document interface {
	fmt.Stringer
	// Bytes returns the raw encoded form of the document, unchanged.
	Bytes() []byte
}

// Decoder decodes one document starting at the beginning of data and
// reports how many bytes it consumed. Decoders must never read past the
// length they themselves decode from data; the caller (wire.DecodeMessage)
// is responsible for not handing them bytes beyond the message boundary.
type Decoder interface {
	Decode(data []byte) (doc Document, consumed int, err error)
}
