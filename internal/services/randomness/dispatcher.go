package randomness

import (
	"context"
	"sync"
	"time"

	domain "github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/system"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// Resolver answers whether the oracle has produced a value for a request.
type Resolver interface {
	// Resolve returns done=false while the oracle is still working. When
	// done, success carries the raw value and proof, or an error message.
	Resolve(ctx context.Context, req domain.Request) (done bool, success bool, rawValue uint64, proof string, errMsg string, retryAfter time.Duration, err error)
}

// Dispatcher periodically inspects pending randomness requests and resolves
// them against the oracle. Resolution retries never issue a second request
// for a round; they only re-ask the oracle about the one outstanding id.
type Dispatcher struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration
	resolver Resolver

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

// NewDispatcher constructs a lifecycle-managed dispatcher.
func NewDispatcher(service *Service, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("randomness-dispatcher")
	}
	return &Dispatcher{
		service:     service,
		log:         log,
		interval:    10 * time.Second,
		nextAttempt: make(map[string]time.Time),
	}
}

// WithResolver overrides the default resolver.
func (d *Dispatcher) WithResolver(resolver Resolver) {
	d.mu.Lock()
	d.resolver = resolver
	d.mu.Unlock()
}

// WithInterval overrides the polling interval, primarily for tests.
func (d *Dispatcher) WithInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

func (d *Dispatcher) Name() string { return "randomness-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.resolver == nil {
		d.mu.Unlock()
		d.log.Warn("randomness resolver not configured; dispatcher disabled")
		return nil
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("randomness dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("randomness dispatcher stopped")
	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	if d.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reqs, err := d.service.ListPending(ctx)
	if err != nil {
		d.log.WithError(err).Warn("randomness dispatcher tick failed")
		return
	}

	d.mu.Lock()
	resolver := d.resolver
	d.mu.Unlock()
	if resolver == nil {
		return
	}

	now := time.Now()
	for _, req := range reqs {
		if !d.shouldAttempt(req.ID, now) {
			continue
		}

		done, success, rawValue, proof, errMsg, retryAfter, err := resolver.Resolve(ctx, req)
		if err != nil {
			d.log.WithError(err).
				WithField("request_id", req.ID).
				Warn("randomness resolver error")
			d.scheduleNext(req.ID, retryAfter)
			continue
		}

		if !done {
			d.scheduleNext(req.ID, retryAfter)
			continue
		}

		if success {
			if err := d.service.Fulfill(ctx, req.ID, rawValue, proof); err != nil {
				d.log.WithError(err).
					WithField("request_id", req.ID).
					Warn("fulfill randomness request failed")
				d.scheduleNext(req.ID, retryAfter)
				continue
			}
		} else {
			if err := d.service.Fail(ctx, req.ID, errMsg); err != nil {
				d.log.WithError(err).
					WithField("request_id", req.ID).
					Warn("mark randomness request failed")
				d.scheduleNext(req.ID, retryAfter)
				continue
			}
		}

		d.clearSchedule(req.ID)
	}
}

func (d *Dispatcher) shouldAttempt(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, ok := d.nextAttempt[id]
	return !ok || now.After(next)
}

func (d *Dispatcher) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = d.interval
	}
	d.mu.Lock()
	d.nextAttempt[id] = time.Now().Add(after)
	d.mu.Unlock()
}

func (d *Dispatcher) clearSchedule(id string) {
	d.mu.Lock()
	delete(d.nextAttempt, id)
	d.mu.Unlock()
}
