package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kakavi/central-backend/hook"
	"github.com/kakavi/central-backend/id"
)

// Pool manages a set of concurrent worker goroutines that poll the
// checker for eligible events and dispatch them through the Runner.
type Pool struct {
	checker      *Checker
	runner       *Runner
	hooks        *hook.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Claim rate limiter (optional).
	limiter *rate.Limiter

	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long workers sleep when no event is
// eligible.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithClaimRateLimit caps the pool's aggregate claim rate across all
// worker goroutines. Protects the store from claim stampedes when many
// workers poll an empty backlog.
func WithClaimRateLimit(limit rate.Limit, burst int) PoolOption {
	return func(p *Pool) { p.limiter = rate.NewLimiter(limit, burst) }
}

// NewPool creates a worker pool.
func NewPool(
	checker *Checker,
	runner *Runner,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		checker:      checker,
		runner:       runner,
		hooks:        hooks,
		concurrency:  1,
		pollInterval: 5 * time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.runCtx, p.runCancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.pollLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight events to
// finish. If the context has a deadline, in-flight handler contexts are
// cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling in-flight events")
		p.runCancel()
		p.wg.Wait()
	}

	p.runCancel()
	return nil
}

// pollLoop is run by each worker goroutine: claim, dispatch, wait for
// the continuation, repeat. An empty backlog sleeps for the poll
// interval.
func (p *Pool) pollLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(p.runCtx); err != nil {
				return
			}
		}

		e, err := p.checker.Claim(p.runCtx)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if e == nil {
			p.sleep()
			continue
		}

		p.hooks.EmitEventClaimed(p.runCtx, e)

		done := make(chan struct{})
		if !p.runner.Dispatch(p.runCtx, e, func() { close(done) }) {
			// A claimed event with no registered handlers is a
			// configuration gap. Leave the claim in place; the stale
			// claim threshold makes the event visible again later.
			p.logger.Warn("claimed event has no registered handlers",
				slog.String("event_id", e.ID.String()),
				slog.String("action", e.Action),
			)
			p.sleep()
			continue
		}

		<-done
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
