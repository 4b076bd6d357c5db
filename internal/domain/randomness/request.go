// Package randomness defines the verifiable-randomness request entity.
package randomness

import "time"

// Status is the lifecycle state of a randomness request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// Request correlates one outstanding oracle request with the round that
// issued it. A request is consumed exactly once: replayed fulfillments for
// the same id are rejected.
type Request struct {
	ID          string    `json:"id"`
	RoundID     int64     `json:"round_id"`
	Seed        string    `json:"seed"`
	Status      Status    `json:"status"`
	RawValue    uint64    `json:"raw_value,omitempty"`
	Proof       string    `json:"proof,omitempty"`
	Error       string    `json:"error,omitempty"`
	Consumed    bool      `json:"consumed"`
	CreatedAt   time.Time `json:"created_at"`
	FulfilledAt time.Time `json:"fulfilled_at,omitempty"`
}
