package domain

import "time"

// Record is anything the client state store can hold: an identity plus a
// version used to discard out-of-date updates.
type Record interface {
	RecordID() string
	RecordVersion() time.Time
}
