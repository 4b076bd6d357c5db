// Package app ties the lottery services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/lotto_layer/internal/config"
	"github.com/R3E-Network/lotto_layer/internal/metrics"
	"github.com/R3E-Network/lotto_layer/internal/services/exchange"
	"github.com/R3E-Network/lotto_layer/internal/services/lotto"
	"github.com/R3E-Network/lotto_layer/internal/services/randomness"
	"github.com/R3E-Network/lotto_layer/internal/services/settlement"
	"github.com/R3E-Network/lotto_layer/internal/storage"
	"github.com/R3E-Network/lotto_layer/internal/storage/memory"
	"github.com/R3E-Network/lotto_layer/internal/system"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Rounds      storage.RoundStore
	Randomness  storage.RandomnessStore
	Settlements storage.SettlementStore
}

// Options carries optional collaborators for New.
type Options struct {
	Venue      exchange.Venue        // nil selects a fixed 1:1 venue
	Transferor settlement.Transferor // nil settles internally
	Metrics    *metrics.Metrics
}

// Application holds the constructed services and their lifecycle manager.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Lotto      *lotto.Service
	Randomness *randomness.Service
	Settlement *settlement.Service
}

// New builds a fully initialised application from the configuration.
func New(cfg *config.Config, stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Randomness == nil {
		stores.Randomness = mem
	}
	if stores.Settlements == nil {
		stores.Settlements = mem
	}

	venue := opts.Venue
	if venue == nil {
		venue = &exchange.FixedRateVenue{RateNum: 1, RateDen: 1}
	}

	settlementService := settlement.New(stores.Settlements, opts.Transferor, log)
	fundingService := exchange.New(venue, cfg.Lottery.SwapPath, cfg.Lottery.FeeCollector, log)
	randomnessService := randomness.New(stores.Randomness, log)

	lottoService := lotto.New(stores.Rounds, randomnessService, fundingService, settlementService, lotto.Params{
		FeeRateBps:     cfg.Lottery.FeeRateBps,
		MinDeposit:     cfg.Lottery.MinDeposit,
		FeeCollector:   cfg.Lottery.FeeCollector,
		RandomnessFee:  cfg.Lottery.RandomnessFee,
		DeleteCooldown: cfg.Lottery.DeleteCooldown(),
	}, log)
	if opts.Metrics != nil {
		lottoService.WithMetrics(opts.Metrics)
	}
	randomnessService.SetHandler(lottoService)

	manager := system.NewManager()

	closer := lotto.NewScheduler(lottoService, log)
	closer.WithSchedule(cfg.Lottery.CloseSchedule)
	if err := manager.Register(closer); err != nil {
		return nil, fmt.Errorf("register scheduler: %w", err)
	}

	dispatcher := randomness.NewDispatcher(randomnessService, log)
	if endpoint := strings.TrimSpace(cfg.Oracle.ResolverURL); endpoint != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		resolver, err := randomness.NewHTTPResolver(httpClient, endpoint, cfg.Oracle.ResolverKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure randomness resolver: %w", err)
		}
		dispatcher.WithResolver(resolver)
		if interval := cfg.Oracle.PollInterval(); interval > 0 {
			dispatcher.WithInterval(interval)
		}
	} else {
		log.Warn("oracle resolver_url not set; randomness polling disabled, fulfillment is callback-only")
	}
	if err := manager.Register(dispatcher); err != nil {
		return nil, fmt.Errorf("register dispatcher: %w", err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Lotto:      lottoService,
		Randomness: randomnessService,
		Settlement: settlementService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
