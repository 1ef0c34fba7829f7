// Package ids provides the ULID primitive shared by connection IDs and audit rows.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps log correlation readable.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot surface an error. It falls back
// to ulid.Make, which panics only if the entropy source is broken.
func MustULID(now time.Time) string {
	if id, err := NewULID(now); err == nil {
		return id
	}
	return ulid.Make().String()
}
