// Package storage declares the persistence interfaces for the lotto layer.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/domain/round"
	"github.com/R3E-Network/lotto_layer/internal/domain/settlement"
)

// ErrNotFound is returned (possibly wrapped) when a record does not exist.
var ErrNotFound = errors.New("record not found")

// RoundStore persists lottery rounds. Round ids are allocated by the store
// and strictly increase; id 0 is never assigned.
//
// UpdateRound and DeleteRound accept settlement entries that must be
// persisted atomically with the round mutation, so a failed write never
// leaves a transfer recorded without its state change or vice versa.
type RoundStore interface {
	CreateRound(ctx context.Context, r round.Round) (round.Round, error)
	GetRound(ctx context.Context, id int64) (round.Round, error)
	UpdateRound(ctx context.Context, r round.Round, entries ...settlement.Entry) (round.Round, error)
	DeleteRound(ctx context.Context, id int64, entries ...settlement.Entry) error
	ListRounds(ctx context.Context, limit int) ([]round.Round, error)
	// ListDueRounds returns open rounds whose deadline has passed.
	ListDueRounds(ctx context.Context, now time.Time) ([]round.Round, error)
}

// RandomnessStore persists randomness requests keyed by their opaque id.
type RandomnessStore interface {
	CreateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	GetRequest(ctx context.Context, id string) (randomness.Request, error)
	UpdateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	ListPendingRequests(ctx context.Context) ([]randomness.Request, error)
}

// SettlementStore reads the transfer ledger. Writes happen through
// RoundStore so they share the round's atomicity boundary.
type SettlementStore interface {
	ListEntries(ctx context.Context, roundID int64) ([]settlement.Entry, error)
	SumEntries(ctx context.Context, entryType settlement.EntryType) (int64, error)
}
