// Package randomness implements the two-phase verifiable-randomness
// gateway: request issuance and asynchronous fulfillment, correlated by an
// opaque request id that is consumed exactly once.
package randomness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/storage"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// Errors
var (
	ErrRequestNotFound = errors.New("randomness request not found")
	ErrRequestConsumed = errors.New("randomness request already consumed")
	ErrNoHandler       = errors.New("fulfillment handler not configured")
)

// FulfillmentHandler receives the raw random value for the round that issued
// the request. Implemented by the lotto service.
type FulfillmentHandler interface {
	HandleFulfillment(ctx context.Context, roundID int64, rawValue uint64) error
}

// Service owns the request ledger and enforces at-most-once consumption of
// each request id.
type Service struct {
	store storage.RandomnessStore
	log   *logger.Logger

	mu      sync.RWMutex
	handler FulfillmentHandler
}

// New constructs the gateway service.
func New(store storage.RandomnessStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("randomness")
	}
	return &Service{store: store, log: log}
}

// SetHandler wires the fulfillment sink. Must be called before fulfillments
// arrive; set during application wiring.
func (s *Service) SetHandler(handler FulfillmentHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Request opens a pending randomness request for a round and returns it.
// The caller records the returned id against the round; fulfillment arrives
// later as a fully separate invocation.
func (s *Service) Request(ctx context.Context, roundID int64, seed string) (domain.Request, error) {
	if seed == "" {
		seed = deriveSeed(roundID)
	}
	req, err := s.store.CreateRequest(ctx, domain.Request{
		RoundID: roundID,
		Seed:    seed,
		Status:  domain.StatusPending,
	})
	if err != nil {
		return domain.Request{}, fmt.Errorf("create request: %w", err)
	}

	s.log.WithField("request_id", req.ID).
		WithField("round_id", roundID).
		Info("randomness requested")
	return req, nil
}

// Fulfill consumes a pending request exactly once and forwards the raw value
// to the handler. Unknown or already-consumed request ids are rejected
// without side effects.
func (s *Service) Fulfill(ctx context.Context, requestID string, rawValue uint64, proof string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return fmt.Errorf("load request: %w", err)
	}
	if req.Consumed || req.Status != domain.StatusPending {
		return fmt.Errorf("%w: %s", ErrRequestConsumed, requestID)
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		return ErrNoHandler
	}

	if err := handler.HandleFulfillment(ctx, req.RoundID, rawValue); err != nil {
		return fmt.Errorf("apply draw to round %d: %w", req.RoundID, err)
	}

	req.Status = domain.StatusFulfilled
	req.Consumed = true
	req.RawValue = rawValue
	req.Proof = proof
	req.FulfilledAt = time.Now().UTC()
	if _, err := s.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("mark request fulfilled: %w", err)
	}

	s.log.WithField("request_id", requestID).
		WithField("round_id", req.RoundID).
		Info("randomness fulfilled")
	return nil
}

// Fail marks a pending request failed. The owning round cannot proceed past
// closing once this happens; the failure is surfaced loudly because there is
// no second-request path for a round.
func (s *Service) Fail(ctx context.Context, requestID, reason string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return fmt.Errorf("load request: %w", err)
	}
	if req.Consumed || req.Status != domain.StatusPending {
		return fmt.Errorf("%w: %s", ErrRequestConsumed, requestID)
	}

	req.Status = domain.StatusFailed
	req.Consumed = true
	req.Error = reason
	if _, err := s.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("mark request failed: %w", err)
	}

	s.log.WithField("request_id", requestID).
		WithField("round_id", req.RoundID).
		WithField("reason", reason).
		Error("randomness request failed; round cannot settle")
	return nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return req, err
}

// ListPending returns requests still awaiting fulfillment.
func (s *Service) ListPending(ctx context.Context) ([]domain.Request, error) {
	return s.store.ListPendingRequests(ctx)
}

func deriveSeed(roundID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("lotto-round-%d-%d", roundID, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])
}
