// Package ids generates the short identifiers used for operations and
// snapshots. Ids are 12 lowercase hex characters: fixed length, URL-safe
// and matched by \w+ in snapshot commit messages.
package ids

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Length is the number of characters in a generated id.
const Length = 12

// New returns a new random id.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:Length]
}
