package domain

import (
	"encoding/json"
	"time"
)

type MutationKind string

const (
	MutationBedStatus        MutationKind = "bed_status"
	MutationDischargeTime    MutationKind = "discharge_time"
	MutationCleaningComplete MutationKind = "cleaning_complete"
)

// PendingMutation is a bed write captured while offline, waiting in the outbox
// for replay. IDs are ULIDs so lexical order is creation order.
type PendingMutation struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Kind           MutationKind    `json:"kind"`
	Target         string          `json:"target"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
}

type CleaningComplete struct {
	Notes string `json:"notes"`
}

// MutationResult is what a user-initiated bed write produced: either the
// server's updated record, or a queued entry awaiting replay.
type MutationResult struct {
	Bed    *Bed   `json:"bed,omitempty"`
	Queued bool   `json:"queued"`
	Entry  string `json:"entry,omitempty"`
}

// BatchResult reports one item of a batch of independent mutations.
type BatchResult struct {
	Index   int               `json:"index"`
	Request *EmergencyRequest `json:"request,omitempty"`
	Err     error             `json:"-"`
	Message string            `json:"error,omitempty"`
}

func (r BatchResult) OK() bool { return r.Err == nil }
