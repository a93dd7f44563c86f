package reprivileger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// RecordStore is the persistence collaborator the engine reads and writes
// through. Implementations address records by class name and id; queries
// are flat field/value maps (nil meaning "null or absent", with
// {"destroyed_at": nil} selecting active records by convention).
//
// Get returns an error satisfying IsNotFound when the record does not exist.
// The engine never caches records across calls.
type RecordStore interface {
	Get(ctx context.Context, class, id string) (Record, error)
	Find(ctx context.Context, class string, query Query) ([]Record, error)
	Create(ctx context.Context, class string, data Record) (Record, error)
	Patch(ctx context.Context, class, id string, data Record) (Record, error)
}

// newRecordID generates a random record identifier for stores that need to
// mint ids client-side.
func newRecordID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("reprivileger: entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}
