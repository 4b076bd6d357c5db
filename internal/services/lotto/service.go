// Package lotto implements the pooled-wager lottery: the round registry, the
// round state machine, and the resumable weighted winner selection.
package lotto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainrand "github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/domain/round"
	"github.com/R3E-Network/lotto_layer/internal/domain/settlement"
	"github.com/R3E-Network/lotto_layer/internal/metrics"
	"github.com/R3E-Network/lotto_layer/internal/storage"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// Errors
var (
	ErrRoundNotFound      = errors.New("round not found")
	ErrInvalidDeadline    = errors.New("deadline must be in the future")
	ErrInvalidParticipant = errors.New("participant identity required")
	ErrDepositTooSmall    = errors.New("deposit below minimum")
	ErrRoundClosed        = errors.New("round is closed")
	ErrTooEarly           = errors.New("deadline has not passed")
	ErrAlreadyClosed      = errors.New("round already closed")
	ErrInsufficientPool   = errors.New("pool cannot cover the randomness fee")
	ErrRoundNotClosed     = errors.New("round is not closed")
	ErrDrawNotReady       = errors.New("random draw not received")
	ErrDrawAlreadySet     = errors.New("random draw already set")
	ErrWinnerAlreadySet   = errors.New("winner already selected")
	ErrNoForwardProgress  = errors.New("step limit does not advance the scan")
	ErrWinnerNotSet       = errors.New("winner not selected")
	ErrAlreadyPaidOut     = errors.New("pool already paid out")
	ErrCooldownActive     = errors.New("deletion cooldown has not elapsed")
)

// FeeRateScale is the denominator of the deposit fee rate: the rate is
// expressed in integer basis points, FeeRateBps / 10000 of each deposit.
const FeeRateScale = 10_000

// RandomnessGateway issues randomness requests. Fulfillment arrives later
// through HandleFulfillment; the gateway guarantees each request id is
// consumed at most once.
type RandomnessGateway interface {
	Request(ctx context.Context, roundID int64, seed string) (domainrand.Request, error)
}

// FundingExchange converts pool value into the randomness fee asset.
type FundingExchange interface {
	Quote(ctx context.Context, targetFee int64) (int64, error)
	Swap(ctx context.Context, input, targetFee int64) (int64, error)
}

// SettlementExecutor performs a value transfer and returns the stamped
// ledger entry. A returned error means no value moved.
type SettlementExecutor interface {
	Execute(ctx context.Context, entry settlement.Entry) (settlement.Entry, error)
}

// Params holds the lottery's operating parameters.
type Params struct {
	FeeRateBps     int64 // deposit skim, basis points of each deposit
	MinDeposit     int64 // deposits must strictly exceed this
	FeeCollector   string
	RandomnessFee  int64 // fee-asset amount required per randomness request
	DeleteCooldown time.Duration
}

// Service is the round registry and state machine. All round mutations are
// serialized through a single mutex: every external call runs to completion
// before the next begins, which is what makes the persisted scan cursor and
// accumulator safe without finer-grained coordination.
type Service struct {
	rounds  storage.RoundStore
	gateway RandomnessGateway
	funding FundingExchange
	settler SettlementExecutor
	params  Params
	stats   *metrics.Metrics
	now     func() time.Time
	log     *logger.Logger

	mu sync.Mutex
}

// New constructs the lottery service.
func New(rounds storage.RoundStore, gateway RandomnessGateway, funding FundingExchange, settler SettlementExecutor, params Params, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lotto")
	}
	return &Service{
		rounds:  rounds,
		gateway: gateway,
		funding: funding,
		settler: settler,
		params:  params,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// WithMetrics attaches Prometheus instrumentation.
func (s *Service) WithMetrics(m *metrics.Metrics) { s.stats = m }

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// CreateRound opens a new round accepting deposits until deadline. Round ids
// are allocated strictly increasing by the store; id 0 never exists.
func (s *Service) CreateRound(ctx context.Context, deadline time.Time) (round.Round, error) {
	if !deadline.After(s.now()) {
		return round.Round{}, ErrInvalidDeadline
	}

	created, err := s.rounds.CreateRound(ctx, round.Round{
		Deadline:      deadline.UTC(),
		Contributions: make(map[string]int64),
	})
	if err != nil {
		return round.Round{}, fmt.Errorf("create round: %w", err)
	}

	s.stats.RecordRoundCreated()
	s.log.WithField("round_id", created.ID).
		WithField("deadline", created.Deadline).
		Info("round created")
	return created, nil
}

// Deposit records a weighted entry for participant. The first deposit
// appends the participant to the committed scan order; repeats accumulate.
// The configured fee is skimmed to the fee collector atomically with the
// round update.
func (s *Service) Deposit(ctx context.Context, roundID int64, participant string, amount int64) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if participant == "" {
		return round.Round{}, ErrInvalidParticipant
	}
	if amount <= s.params.MinDeposit {
		return round.Round{}, fmt.Errorf("%w: %d <= %d", ErrDepositTooSmall, amount, s.params.MinDeposit)
	}

	r, err := s.getRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if r.Closed {
		return round.Round{}, ErrRoundClosed
	}

	fee := amount * s.params.FeeRateBps / FeeRateScale

	var entries []settlement.Entry
	if fee > 0 {
		entry, err := s.settler.Execute(ctx, settlement.Entry{
			RoundID: roundID,
			Type:    settlement.TypeFeeSkim,
			Amount:  fee,
			From:    participant,
			To:      s.params.FeeCollector,
		})
		if err != nil {
			return round.Round{}, fmt.Errorf("skim deposit fee: %w", err)
		}
		entries = append(entries, entry)
	}

	if _, seen := r.Contributions[participant]; !seen {
		r.Participants = append(r.Participants, participant)
	}
	r.Contributions[participant] += amount
	r.TotalDeposited += amount
	r.PoolBalance += amount - fee

	updated, err := s.rounds.UpdateRound(ctx, r, entries...)
	if err != nil {
		return round.Round{}, fmt.Errorf("record deposit: %w", err)
	}

	s.stats.RecordDeposit(amount)
	s.log.WithField("round_id", roundID).
		WithField("participant", participant).
		WithField("amount", amount).
		WithField("fee", fee).
		Info("deposit recorded")
	return updated, nil
}

// Close locks the round once its deadline has passed, spends pool value to
// acquire the randomness fee, and issues exactly one randomness request.
// Callable by anyone; a repeat call fails cleanly and never issues a second
// request.
func (s *Service) Close(ctx context.Context, roundID int64) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if r.Closed {
		return round.Round{}, ErrAlreadyClosed
	}
	if !s.now().After(r.Deadline) {
		return round.Round{}, ErrTooEarly
	}

	cost, err := s.funding.Quote(ctx, s.params.RandomnessFee)
	if err != nil {
		return round.Round{}, fmt.Errorf("quote randomness fee: %w", err)
	}
	if cost > r.PoolBalance {
		return round.Round{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientPool, cost, r.PoolBalance)
	}
	if _, err := s.funding.Swap(ctx, cost, s.params.RandomnessFee); err != nil {
		return round.Round{}, fmt.Errorf("fund randomness request: %w", err)
	}

	entry, err := s.settler.Execute(ctx, settlement.Entry{
		RoundID: roundID,
		Type:    settlement.TypeFundingSpend,
		Amount:  cost,
		From:    poolIdentity(roundID),
		To:      "randomness-oracle",
	})
	if err != nil {
		return round.Round{}, fmt.Errorf("record funding spend: %w", err)
	}

	req, err := s.gateway.Request(ctx, roundID, "")
	if err != nil {
		return round.Round{}, fmt.Errorf("request randomness: %w", err)
	}

	r.Closed = true
	r.ClosedAt = s.now()
	r.PoolBalance -= cost
	r.RequestID = req.ID

	updated, err := s.rounds.UpdateRound(ctx, r, entry)
	if err != nil {
		return round.Round{}, fmt.Errorf("close round: %w", err)
	}

	s.stats.RecordRoundClosed()
	s.log.WithField("round_id", roundID).
		WithField("request_id", req.ID).
		WithField("funding_cost", cost).
		Info("round closed")
	return updated, nil
}

// HandleFulfillment stores the random draw delivered for a round. The raw
// value is the numerator of rawValue / 2^64, a uniform point in [0, 1).
// Implements randomness.FulfillmentHandler; the gateway has already
// consumed the request id, and the draw itself is set at most once.
func (s *Service) HandleFulfillment(ctx context.Context, roundID int64, rawValue uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRound(ctx, roundID)
	if err != nil {
		return err
	}
	if !r.Closed {
		return ErrRoundNotClosed
	}
	if r.HasDraw() {
		return ErrDrawAlreadySet
	}

	now := s.now()
	r.Draw = &round.Draw{RawValue: rawValue, ReceivedAt: now}
	r.DrawnAt = now

	if _, err := s.rounds.UpdateRound(ctx, r); err != nil {
		return fmt.Errorf("store draw: %w", err)
	}

	s.stats.RecordDrawFulfilled()
	s.log.WithField("round_id", roundID).
		WithField("raw_value", rawValue).
		Info("random draw received")
	return nil
}

// AdvanceSelection resumes the winner scan with a bounded amount of work:
// participants from the persisted cursor up to stepLimit (exclusive) are
// folded into the accumulator and tested against the draw threshold. The
// winner committed over any sequence of calls is the one a single unbounded
// pass would select. Callable by anyone; stepLimit must exceed the cursor so
// each call performs real work.
func (s *Service) AdvanceSelection(ctx context.Context, roundID int64, stepLimit int) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if !r.Closed {
		return round.Round{}, ErrRoundNotClosed
	}
	if !r.HasDraw() {
		return round.Round{}, ErrDrawNotReady
	}
	if r.HasWinner() {
		return round.Round{}, ErrWinnerAlreadySet
	}
	if stepLimit <= r.ScanCursor {
		return round.Round{}, fmt.Errorf("%w: limit %d, cursor %d", ErrNoForwardProgress, stepLimit, r.ScanCursor)
	}

	step := r.AdvanceScan(stepLimit)
	r.ScanCursor = step.Cursor
	r.ScanAccumulator = step.Accumulator
	r.Winner = step.Winner

	updated, err := s.rounds.UpdateRound(ctx, r)
	if err != nil {
		return round.Round{}, fmt.Errorf("advance selection: %w", err)
	}

	if step.Winner != "" {
		s.stats.RecordWinnerSelected()
		s.log.WithField("round_id", roundID).
			WithField("winner", step.Winner).
			WithField("scanned", step.Cursor).
			Info("winner selected")
	}
	return updated, nil
}

// Withdraw transfers the entire pool balance to the winner. Callable by
// anyone; whoever pays the execution cost triggers the transfer.
func (s *Service) Withdraw(ctx context.Context, roundID int64) (round.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRound(ctx, roundID)
	if err != nil {
		return round.Round{}, err
	}
	if !r.HasWinner() {
		return round.Round{}, ErrWinnerNotSet
	}
	if r.PaidOut {
		return round.Round{}, ErrAlreadyPaidOut
	}

	amount := r.PoolBalance

	var entries []settlement.Entry
	if amount > 0 {
		entry, err := s.settler.Execute(ctx, settlement.Entry{
			RoundID: roundID,
			Type:    settlement.TypePayout,
			Amount:  amount,
			From:    poolIdentity(roundID),
			To:      r.Winner,
		})
		if err != nil {
			return round.Round{}, fmt.Errorf("pay out pool: %w", err)
		}
		entries = append(entries, entry)
	}

	r.PoolBalance = 0
	r.PaidOut = true
	r.PaidAt = s.now()

	updated, err := s.rounds.UpdateRound(ctx, r, entries...)
	if err != nil {
		return round.Round{}, fmt.Errorf("record payout: %w", err)
	}

	s.stats.RecordPayout(amount)
	s.log.WithField("round_id", roundID).
		WithField("winner", r.Winner).
		WithField("amount", amount).
		Info("funds withdrawn")
	return updated, nil
}

// DeleteRound removes a closed round once the cooldown since its deadline
// has elapsed. Any unclaimed pool balance is swept to the fee collector
// before deletion.
func (s *Service) DeleteRound(ctx context.Context, roundID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRound(ctx, roundID)
	if err != nil {
		return err
	}
	if !r.Closed {
		return ErrRoundNotClosed
	}
	if s.now().Before(r.Deadline.Add(s.params.DeleteCooldown)) {
		return ErrCooldownActive
	}

	var entries []settlement.Entry
	if r.PoolBalance > 0 {
		entry, err := s.settler.Execute(ctx, settlement.Entry{
			RoundID: roundID,
			Type:    settlement.TypeSweep,
			Amount:  r.PoolBalance,
			From:    poolIdentity(roundID),
			To:      s.params.FeeCollector,
		})
		if err != nil {
			return fmt.Errorf("sweep unclaimed funds: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := s.rounds.DeleteRound(ctx, roundID, entries...); err != nil {
		return fmt.Errorf("delete round: %w", err)
	}

	s.stats.RecordRoundDeleted()
	s.log.WithField("round_id", roundID).
		WithField("swept", r.PoolBalance).
		Info("round deleted")
	return nil
}

// GetRound returns a round by id.
func (s *Service) GetRound(ctx context.Context, roundID int64) (round.Round, error) {
	return s.getRound(ctx, roundID)
}

// ListRounds returns the most recent rounds.
func (s *Service) ListRounds(ctx context.Context, limit int) ([]round.Round, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.rounds.ListRounds(ctx, limit)
}

// CloseDue closes every open round whose deadline has passed, returning the
// ids it managed to close. Used by the scheduler; individual failures are
// logged and skipped so one stuck round cannot block the rest.
func (s *Service) CloseDue(ctx context.Context) []int64 {
	due, err := s.rounds.ListDueRounds(ctx, s.now())
	if err != nil {
		s.log.WithError(err).Warn("list due rounds failed")
		return nil
	}

	var closed []int64
	for _, r := range due {
		if _, err := s.Close(ctx, r.ID); err != nil {
			if !errors.Is(err, ErrAlreadyClosed) {
				s.log.WithError(err).WithField("round_id", r.ID).Warn("auto-close failed")
			}
			continue
		}
		closed = append(closed, r.ID)
	}
	return closed
}

func (s *Service) getRound(ctx context.Context, roundID int64) (round.Round, error) {
	if roundID == 0 {
		return round.Round{}, ErrRoundNotFound
	}
	r, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return round.Round{}, fmt.Errorf("%w: %d", ErrRoundNotFound, roundID)
		}
		return round.Round{}, fmt.Errorf("load round: %w", err)
	}
	return r, nil
}

func poolIdentity(roundID int64) string {
	return fmt.Sprintf("pool:%d", roundID)
}
