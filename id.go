package cortex

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for every record id (memoryId, factId, eventId, conversationId, ...).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowMillis returns current time as epoch milliseconds, the unit every
// createdAt/updatedAt/timestamp field in the data model is stored in.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
