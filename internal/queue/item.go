package queue

import (
	"encoding/json"
	"time"
)

// Kind tags the variant of work a queue item carries. Only workout sessions
// exist today; the tag is stored so future kinds can share the same table.
type Kind string

// KindWorkoutSession is a pending workout-session create.
const KindWorkoutSession Kind = "workout_session"

// Item is one pending unit of sync work. The id is assigned client-side at
// creation and doubles as the record's server-side resource identity; it is
// distinct from the per-attempt transport idempotency key.
//
// Payload is kept opaque here — the engine owns the domain types and this
// package only guarantees durable FIFO storage.
type Item struct {
	ID         string
	Kind       Kind
	Payload    json.RawMessage
	EnqueuedAt time.Time
	Attempts   int

	// Seq is the store-assigned FIFO position. Zero on items not yet
	// persisted; populated by List. ReplaceAll keeps it stable so a drain
	// commit never reorders survivors behind items enqueued mid-pass.
	Seq int64
}
