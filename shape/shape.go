// Package shape reduces a decoded document down to the sorted set of its
// top-level field names, discarding values, so that structurally identical
// selectors and updates can be grouped together regardless of the literal
// data they carry.
package shape

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsoncore"

	"github.com/mongotap/mongotap/document"
)

// Normalize returns a stable string like "{_id,status}" built from doc's
// top-level field names. A nil doc or one that cannot be parsed as a BSON
// document yields "{}".
func Normalize(doc document.Document) string {
	if doc == nil {
		return "{}"
	}

	raw := bsoncore.Document(doc.Bytes())
	elements, err := raw.Elements()
	if err != nil {
		return "{}"
	}

	names := make([]string, 0, len(elements))
	for _, el := range elements {
		key, err := el.KeyErr()
		if err != nil {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)

	return "{" + strings.Join(names, ",") + "}"
}
