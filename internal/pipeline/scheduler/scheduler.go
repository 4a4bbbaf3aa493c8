// Package scheduler runs scan cycles on a fixed interval, one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/alert"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/health"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/scanner"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrStopping       = errors.New("scheduler is stopping")
	ErrInvalidPeriod  = errors.New("scheduler interval must be positive")
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Cycler runs one scan cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (scanner.CycleResult, error)
}

// Locker grants cross-replica exclusivity for one cycle.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type Option func(*Scheduler)

func WithHealth(h *health.ScanHealth) Option {
	return func(s *Scheduler) { s.health = h }
}

func WithAlerter(a alert.Alerter) Option {
	return func(s *Scheduler) { s.alerter = a }
}

// WithLocker makes each cycle acquire l first; a held lock skips the tick.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

type Scheduler struct {
	cycler  Cycler
	health  *health.ScanHealth
	alerter alert.Alerter
	locker  Locker
	logger  *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	cycleRunning atomic.Bool
	cycles       sync.WaitGroup
}

func New(cycler Cycler, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cycler:  cycler,
		alerter: &alert.NoopAlerter{},
		logger:  logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start runs a cycle immediately and then every interval until Stop is
// called or ctx is done. Cycles run under ctx, so Stop never interrupts
// one already in flight.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		s.logger.Info("scheduler already running; start ignored")
		return ErrAlreadyRunning
	case StateStopping:
		s.logger.Info("scheduler is stopping; start ignored")
		return ErrStopping
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	metrics.SchedulerRunning.Set(1)
	s.logger.Info("scheduler started", "interval", interval)

	go s.loop(ctx, loopCtx, interval, s.done)
	return nil
}

// Stop prevents further cycles. It is safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StateStopping
	s.cancel()
	s.logger.Info("scheduler stopping")
}

// Wait blocks until the loop has exited and the in-flight cycle, if any, returned.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(cycleCtx, loopCtx context.Context, interval time.Duration, done chan struct{}) {
	defer func() {
		s.cycles.Wait()
		s.mu.Lock()
		s.state = StateStopped
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
		metrics.SchedulerRunning.Set(0)
		s.logger.Info("scheduler stopped")
		close(done)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.dispatch(cycleCtx)
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			// Stop may race with a ready tick; it wins.
			if loopCtx.Err() != nil {
				return
			}
			s.dispatch(cycleCtx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	if !s.cycleRunning.CompareAndSwap(false, true) {
		metrics.SchedulerTicksSkipped.WithLabelValues("overlap").Inc()
		s.logger.Warn("previous scan cycle still running; tick skipped")
		return
	}
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.cycleRunning.Store(false)
		s.runOnce(ctx)
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan cycle panicked", "panic", r)
			s.recordOutcome(ctx, scanner.CycleResult{}, 0, fmt.Errorf("scan cycle panic: %v", r))
		}
	}()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			metrics.SchedulerTicksSkipped.WithLabelValues("lock_error").Inc()
			s.logger.Warn("scan lock unavailable; tick skipped", "error", err)
			return
		}
		if !ok {
			metrics.SchedulerTicksSkipped.WithLabelValues("lock_held").Inc()
			s.logger.Debug("scan lock held by another replica; tick skipped")
			return
		}
		defer release()
	}

	start := time.Now()
	res, err := s.cycler.RunCycle(ctx)
	s.recordOutcome(ctx, res, time.Since(start), err)
}

func (s *Scheduler) recordOutcome(ctx context.Context, res scanner.CycleResult, elapsed time.Duration, err error) {
	if s.health == nil || ctx.Err() != nil {
		return
	}
	if res.Disabled {
		s.health.MarkInactive()
		return
	}

	if err != nil {
		if s.health.RecordFailure(err) {
			snap := s.health.Snapshot()
			s.sendAlert(ctx, alert.Alert{
				Type:    alert.AlertTypeUnhealthy,
				Program: snap.Program,
				Network: snap.Network,
				Title:   "Scanner unhealthy",
				Message: err.Error(),
				Fields: map[string]string{
					"consecutive_failures": fmt.Sprintf("%d", snap.ConsecutiveFailures),
				},
			})
		}
		return
	}

	if s.health.RecordSuccess(elapsed, res.Recorded) {
		snap := s.health.Snapshot()
		s.sendAlert(ctx, alert.Alert{
			Type:    alert.AlertTypeRecovery,
			Program: snap.Program,
			Network: snap.Network,
			Title:   "Scanner recovered",
			Message: "Scan cycles are completing again.",
		})
	}
}

func (s *Scheduler) sendAlert(ctx context.Context, a alert.Alert) {
	if err := s.alerter.Send(ctx, a); err != nil {
		s.logger.Warn("alert delivery failed", "alert_type", a.Type, "error", err)
	}
}
