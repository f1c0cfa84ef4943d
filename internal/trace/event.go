// Package trace defines the TraceEvent shape planning emits alongside every
// Decision (spec.md §8, invariant 6: "every Decision has a corresponding
// TraceEvent"), and the ULID-based IDs those events carry.
package trace

import (
	crand "crypto/rand"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event records one planning-time occurrence: a decision taken, a condition
// evaluated, or a routing choice made. IDs are ULIDs so trace rows for one
// run sort k-chronologically without a secondary sequence column.
type Event struct {
	ID        string
	RunID     string
	Kind      string
	TokenID   string
	NodeID    string
	Detail    map[string]interface{}
	Timestamp time.Time
}

var entropyPool = sync.Pool{
	New: func() interface{} {
		return ulid.Monotonic(rand.NewChaCha8(seed()), 0)
	},
}

func seed() [32]byte {
	var b [32]byte
	_, _ = crand.Read(b[:])
	return b
}

// NewID mints a ULID for a trace event or decision at time t. Callers pass
// t explicitly (rather than calling time.Now here) so the ID's timestamp
// part is the planning pass's own now; its random part is drawn fresh on
// every call, so the same t yields a different ID each time.
func NewID(t time.Time) string {
	entropy := entropyPool.Get().(*ulid.MonotonicEntropy)
	defer entropyPool.Put(entropy)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewEvent constructs a trace Event, stamping it with a fresh ULID.
func NewEvent(now time.Time, runID, kind, tokenID, nodeID string, detail map[string]interface{}) Event {
	return Event{
		ID:        NewID(now),
		RunID:     runID,
		Kind:      kind,
		TokenID:   tokenID,
		NodeID:    nodeID,
		Detail:    detail,
		Timestamp: now,
	}
}
