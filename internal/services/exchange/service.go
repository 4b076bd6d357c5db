// Package exchange funds randomness fees by swapping pool value for the fee
// asset on an external venue.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// Errors
var (
	ErrEmptyPath     = errors.New("swap path required")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrSlippage      = errors.New("swap returned less than the quoted target")
)

// Venue is the external exchange boundary. Swap must complete atomically
// with the caller's operation or fail entirely.
type Venue interface {
	// Quote returns the pool-asset input required to receive targetOut of
	// the fee asset along the path.
	Quote(ctx context.Context, targetOut int64, path []string) (int64, error)
	// Swap spends input pool-asset along the path and returns the fee-asset
	// amount delivered to the recipient.
	Swap(ctx context.Context, input int64, path []string, recipient string, deadline time.Time) (int64, error)
}

// Service wraps a venue with the asset path and logging used by the lottery
// funding step.
type Service struct {
	venue       Venue
	path        []string
	recipient   string
	swapTimeout time.Duration
	log         *logger.Logger
}

// New constructs an exchange service. The path runs from the pool asset to
// the randomness fee asset; recipient receives the swapped fee asset.
func New(venue Venue, path []string, recipient string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("exchange")
	}
	return &Service{
		venue:       venue,
		path:        path,
		recipient:   recipient,
		swapTimeout: 30 * time.Second,
		log:         log,
	}
}

// Quote returns the pool-asset cost of acquiring targetFee of the fee asset.
func (s *Service) Quote(ctx context.Context, targetFee int64) (int64, error) {
	if targetFee <= 0 {
		return 0, ErrInvalidAmount
	}
	if len(s.path) == 0 {
		return 0, ErrEmptyPath
	}
	cost, err := s.venue.Quote(ctx, targetFee, s.path)
	if err != nil {
		return 0, fmt.Errorf("quote: %w", err)
	}
	return cost, nil
}

// Swap spends input pool value and returns the fee-asset amount received.
// The received amount must cover targetFee or the swap is rejected.
func (s *Service) Swap(ctx context.Context, input, targetFee int64) (int64, error) {
	if input <= 0 {
		return 0, ErrInvalidAmount
	}
	if len(s.path) == 0 {
		return 0, ErrEmptyPath
	}
	received, err := s.venue.Swap(ctx, input, s.path, s.recipient, time.Now().Add(s.swapTimeout))
	if err != nil {
		return 0, fmt.Errorf("swap: %w", err)
	}
	if received < targetFee {
		return 0, fmt.Errorf("%w: got %d, need %d", ErrSlippage, received, targetFee)
	}
	s.log.WithField("input", input).
		WithField("received", received).
		Debugf("funded randomness fee via %v", s.path)
	return received, nil
}
