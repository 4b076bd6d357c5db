// Package round defines the pooled-wager lottery round entity.
package round

import "time"

// Round is one lottery instance. Participants deposit into a shared pool
// until the deadline; closing locks the pool and funds a randomness request;
// the stored draw then drives the resumable winner scan.
type Round struct {
	ID             int64            `json:"id"` // 0 is reserved: round does not exist
	Deadline       time.Time        `json:"deadline"`
	Participants   []string         `json:"participants"`  // insertion order is the committed scan order
	Contributions  map[string]int64 `json:"contributions"` // strictly positive for every listed identity
	TotalDeposited int64            `json:"total_deposited"`
	PoolBalance    int64            `json:"pool_balance"` // net of fee skim and funding spend
	Closed         bool             `json:"closed"`
	RequestID      string           `json:"request_id,omitempty"` // randomness request correlation
	Draw           *Draw            `json:"draw,omitempty"`
	Winner         string           `json:"winner,omitempty"`

	// Resumable selection progress. Meaningful only once the round is
	// closed and a draw has been stored.
	ScanCursor      int   `json:"scan_cursor"`
	ScanAccumulator int64 `json:"scan_accumulator"`

	PaidOut   bool      `json:"paid_out"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
	DrawnAt   time.Time `json:"drawn_at,omitempty"`
	PaidAt    time.Time `json:"paid_at,omitempty"`
}

// Draw is the single random value used to select a winner. RawValue is read
// as the numerator of RawValue / 2^64, a point in [0, 1).
type Draw struct {
	RawValue   uint64    `json:"raw_value"`
	Proof      string    `json:"proof,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// HasDraw reports whether the round has received its random draw.
func (r *Round) HasDraw() bool { return r.Draw != nil }

// HasWinner reports whether the winner scan has committed a result.
func (r *Round) HasWinner() bool { return r.Winner != "" }

// Clone returns a deep copy so stores never hand out shared references.
func (r Round) Clone() Round {
	out := r
	if r.Participants != nil {
		out.Participants = make([]string, len(r.Participants))
		copy(out.Participants, r.Participants)
	}
	if r.Contributions != nil {
		out.Contributions = make(map[string]int64, len(r.Contributions))
		for k, v := range r.Contributions {
			out.Contributions[k] = v
		}
	}
	if r.Draw != nil {
		draw := *r.Draw
		out.Draw = &draw
	}
	return out
}
