// Package settlement executes and records the value transfers triggered by
// round state transitions.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/lotto_layer/internal/domain/settlement"
	"github.com/R3E-Network/lotto_layer/internal/storage"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// Errors
var (
	ErrInvalidAmount = errors.New("transfer amount must be positive")
	ErrNoRecipient   = errors.New("transfer recipient required")
)

// Transferor moves value between identities. Implementations must be
// all-or-nothing: a returned error means no value moved.
type Transferor interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
}

// InternalTransferor settles transfers inside the pool's own accounting and
// never fails. The default when no chain client is configured.
type InternalTransferor struct{}

func (InternalTransferor) Transfer(context.Context, string, string, int64) error { return nil }

// Service executes transfers through the transferor and stamps ledger
// entries for the caller to persist atomically with its round update.
type Service struct {
	store      storage.SettlementStore
	transferor Transferor
	log        *logger.Logger
}

// New constructs a settlement service. A nil transferor settles internally.
func New(store storage.SettlementStore, transferor Transferor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if transferor == nil {
		transferor = InternalTransferor{}
	}
	return &Service{store: store, transferor: transferor, log: log}
}

// Execute performs the transfer described by the entry and returns it
// stamped with an id and timestamp. The caller persists the returned entry
// together with its round mutation; if the transfer fails nothing is
// returned and the enclosing operation must abort with no state change.
func (s *Service) Execute(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	if entry.Amount <= 0 {
		return domain.Entry{}, ErrInvalidAmount
	}
	if entry.To == "" {
		return domain.Entry{}, ErrNoRecipient
	}

	if err := s.transferor.Transfer(ctx, entry.From, entry.To, entry.Amount); err != nil {
		return domain.Entry{}, fmt.Errorf("execute %s transfer: %w", entry.Type, err)
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()

	s.log.WithField("round_id", entry.RoundID).
		WithField("type", string(entry.Type)).
		WithField("amount", entry.Amount).
		WithField("to", entry.To).
		Info("settlement transfer executed")
	return entry, nil
}

// ListByRound returns the ledger entries recorded for a round.
func (s *Service) ListByRound(ctx context.Context, roundID int64) ([]domain.Entry, error) {
	return s.store.ListEntries(ctx, roundID)
}

// TotalByType sums recorded entries of one type across all rounds.
func (s *Service) TotalByType(ctx context.Context, entryType domain.EntryType) (int64, error) {
	return s.store.SumEntries(ctx, entryType)
}
