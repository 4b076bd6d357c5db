// Package settlement defines the value-transfer ledger entry entity.
package settlement

import "time"

// EntryType classifies a ledger entry.
type EntryType string

const (
	// TypeFeeSkim is the per-deposit fee transferred to the fee collector.
	TypeFeeSkim EntryType = "fee_skim"
	// TypeFundingSpend is pool value exchanged for the randomness fee asset.
	TypeFundingSpend EntryType = "funding_spend"
	// TypePayout is the pool balance transferred to the winner.
	TypePayout EntryType = "payout"
	// TypeSweep is unclaimed pool value recovered at round deletion.
	TypeSweep EntryType = "sweep"
)

// Entry records one executed value transfer tied to a round. Entries are
// persisted atomically with the round state change that caused them.
type Entry struct {
	ID        string    `json:"id"`
	RoundID   int64     `json:"round_id"`
	Type      EntryType `json:"type"`
	Amount    int64     `json:"amount"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}
