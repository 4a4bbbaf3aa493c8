// Package scanner turns the monitored program's recent transactions into
// ledger activities, one bounded cycle at a time.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/alert"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/cache"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/circuitbreaker"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/classifier"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/retry"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/points"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/tracing"
)

const (
	DefaultSignatureLimit = 20
	DefaultTxDelay        = 500 * time.Millisecond
)

// Per-transaction outcomes, used as the metrics "result" label.
const (
	resultRecorded  = "recorded"
	resultDuplicate = "duplicate"
	resultSkipped   = "skipped"
	resultSettled   = "settled"
	resultFailed    = "failed"
)

// ErrCycleAborted wraps the cause when a cycle stops before its batch is drained.
var ErrCycleAborted = errors.New("scan cycle aborted")

type Config struct {
	ProgramID      string
	Network        model.Network
	SignatureLimit int
	// TxDelay is waited between consecutive transaction fetches.
	TxDelay time.Duration
	Retry   retry.Policy
	// Enabled=false turns every cycle into a logged no-op.
	Enabled bool
}

// CycleResult summarizes one RunCycle call.
type CycleResult struct {
	Disabled       bool
	Fetched        int
	Selected       int
	Recorded       int
	Duplicates     int
	Skipped        int
	Settled        int
	Failed         int
	CursorGap      bool
	CursorAdvanced bool
	NewCursor      string
}

type Option func(*Scanner)

// WithBreaker guards RPC calls with b.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Scanner) { s.breaker = b }
}

// WithSettledCache lets the scanner skip fetches for signatures it already settled.
func WithSettledCache(set *cache.SignatureSet) Option {
	return func(s *Scanner) { s.settled = set }
}

func WithAlerter(a alert.Alerter) Option {
	return func(s *Scanner) { s.alerter = a }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = t }
}

type Scanner struct {
	cfg        Config
	adapter    chain.ChainAdapter
	classifier classifier.Classifier
	recorder   points.Recorder
	cursor     store.ScanCursorRepository
	breaker    *circuitbreaker.Breaker
	settled    *cache.SignatureSet
	alerter    alert.Alerter
	tracer     trace.Tracer
	logger     *slog.Logger
	sleepFn    func(ctx context.Context, d time.Duration) error

	disabledOnce sync.Once
}

func New(
	cfg Config,
	adapter chain.ChainAdapter,
	cls classifier.Classifier,
	recorder points.Recorder,
	cursor store.ScanCursorRepository,
	logger *slog.Logger,
	opts ...Option,
) *Scanner {
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = DefaultSignatureLimit
	}
	if cfg.TxDelay < 0 {
		cfg.TxDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		cfg:        cfg,
		adapter:    adapter,
		classifier: cls,
		recorder:   recorder,
		cursor:     cursor,
		alerter:    &alert.NoopAlerter{},
		tracer:     tracing.Tracer("scanner"),
		logger: logger.With(
			"component", "scanner",
			"network", cfg.Network,
			"program", cfg.ProgramID,
		),
		sleepFn: retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether cycles do any work.
func (s *Scanner) Enabled() bool {
	return s.cfg.Enabled
}

// RunCycle scans the newest signatures once. The cursor advances only
// when every selected transaction has been visited.
func (s *Scanner) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.cfg.Enabled {
		s.disabledOnce.Do(func() {
			s.logger.Warn("scanner disabled; scan cycles are no-ops")
		})
		return CycleResult{Disabled: true}, nil
	}

	ctx, span := s.tracer.Start(ctx, "scanner.RunCycle", trace.WithAttributes(
		attribute.String("network", s.cfg.Network.String()),
		attribute.String("program", s.cfg.ProgramID),
	))
	defer span.End()

	start := time.Now()
	res, err := s.runCycle(ctx)
	elapsed := time.Since(start)

	network := s.cfg.Network.String()
	metrics.ScannerCycleLatency.WithLabelValues(network).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("scan.fetched", res.Fetched),
		attribute.Int("scan.selected", res.Selected),
		attribute.Int("scan.recorded", res.Recorded),
		attribute.Bool("scan.cursor_advanced", res.CursorAdvanced),
	)

	if err != nil {
		metrics.ScannerCyclesTotal.WithLabelValues(network, "aborted").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			s.logger.Error("scan cycle aborted", "error", err, "elapsed", elapsed)
			s.sendAlert(ctx, alert.Alert{
				Type:    alert.AlertTypeScanAborted,
				Title:   "Scan cycle aborted",
				Message: err.Error(),
			})
		}
		return res, err
	}

	metrics.ScannerCyclesTotal.WithLabelValues(network, "completed").Inc()
	s.logger.Info("scan cycle completed",
		"fetched", res.Fetched,
		"selected", res.Selected,
		"recorded", res.Recorded,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"settled", res.Settled,
		"failed", res.Failed,
		"cursor_advanced", res.CursorAdvanced,
		"elapsed", elapsed,
	)
	return res, nil
}

func (s *Scanner) runCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	sigs, err := retry.Do(ctx, s.policy("getSignaturesForAddress"), "list_signatures", func(ctx context.Context) ([]chain.SignatureInfo, error) {
		return guarded(s.breaker, func() ([]chain.SignatureInfo, error) {
			return s.adapter.ListRecentSignatures(ctx, s.cfg.ProgramID, s.cfg.SignatureLimit)
		})
	})
	if err != nil {
		return res, fmt.Errorf("%w: list signatures: %w", ErrCycleAborted, err)
	}
	res.Fetched = len(sigs)
	metrics.ScannerSignaturesFetched.WithLabelValues(s.cfg.Network.String()).Add(float64(len(sigs)))
	if len(sigs) == 0 {
		return res, nil
	}

	last, err := s.cursor.GetLastSignature(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: load cursor: %w", ErrCycleAborted, err)
	}

	pending, gap := selectUnseen(sigs, last)
	res.Selected = len(pending)
	res.CursorGap = gap
	if len(pending) == 0 {
		return res, nil
	}
	if gap {
		s.reportGap(ctx, *last, len(sigs))
	}

	fetched := false
	for i := len(pending) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrCycleAborted, err)
		}
		sig := pending[i]

		if s.settled.Contains(sig.Hash) {
			metrics.ScannerSettledCacheHits.WithLabelValues(s.cfg.Network.String()).Inc()
			s.count(&res, resultSettled)
			continue
		}
		if fetched && s.cfg.TxDelay > 0 {
			if err := s.sleepFn(ctx, s.cfg.TxDelay); err != nil {
				return res, fmt.Errorf("%w: %w", ErrCycleAborted, err)
			}
		}
		fetched = true
		s.count(&res, s.processSignature(ctx, sig))
	}

	newest := sigs[0].Hash
	if err := s.cursor.Advance(ctx, newest); err != nil {
		return res, fmt.Errorf("%w: advance cursor: %w", ErrCycleAborted, err)
	}
	res.CursorAdvanced = true
	res.NewCursor = newest
	return res, nil
}

// selectUnseen returns the signatures newer than last, still newest-first.
// gap is true when a stored cursor is absent from the window; the whole
// window is returned in that case and ledger idempotence absorbs repeats.
func selectUnseen(sigs []chain.SignatureInfo, last *string) (pending []chain.SignatureInfo, gap bool) {
	if last == nil || *last == "" {
		return sigs, false
	}
	for i, sig := range sigs {
		if sig.Hash == *last {
			return sigs[:i], false
		}
	}
	return sigs, true
}

func (s *Scanner) processSignature(ctx context.Context, sig chain.SignatureInfo) string {
	log := s.logger.With("signature", sig.Hash)

	tx, err := retry.Do(ctx, s.policy("getTransaction"), "get_transaction", func(ctx context.Context) (*chain.Transaction, error) {
		return guarded(s.breaker, func() (*chain.Transaction, error) {
			return s.adapter.GetTransaction(ctx, sig.Hash)
		})
	})
	if err != nil {
		log.Warn("fetch transaction failed", "error", err)
		return resultFailed
	}

	cls, err := s.classifier.Classify(tx)
	if err != nil {
		switch {
		case errors.Is(err, classifier.ErrNoSigner):
			log.Warn("classified transaction has no signer; skipping")
		default:
			log.Debug("transaction not classified", "reason", err)
		}
		s.settled.Add(sig.Hash)
		return resultSkipped
	}

	_, err = s.recorder.RecordActivity(ctx, model.ActivityInput{
		WalletAddress: cls.Actor,
		ActivityType:  cls.Kind,
		Signature:     sig.Hash,
		Metadata:      cls.Metadata(),
	})
	switch {
	case err == nil:
		s.settled.Add(sig.Hash)
		return resultRecorded
	case errors.Is(err, store.ErrDuplicateActivity):
		s.settled.Add(sig.Hash)
		return resultDuplicate
	default:
		log.Error("record activity failed",
			"activity_type", cls.Kind,
			"wallet", cls.Actor,
			"error", err,
		)
		return resultFailed
	}
}

func (s *Scanner) count(res *CycleResult, result string) {
	switch result {
	case resultRecorded:
		res.Recorded++
	case resultDuplicate:
		res.Duplicates++
	case resultSkipped:
		res.Skipped++
	case resultSettled:
		res.Settled++
	case resultFailed:
		res.Failed++
	}
	metrics.ScannerTransactionsProcessed.WithLabelValues(s.cfg.Network.String(), result).Inc()
}

func (s *Scanner) reportGap(ctx context.Context, last string, window int) {
	metrics.ScannerCursorGaps.WithLabelValues(s.cfg.Network.String()).Inc()
	s.logger.Warn("cursor not found in fetched window; processing whole window, older transactions may be missed",
		"cursor", last,
		"window", window,
	)
	s.sendAlert(ctx, alert.Alert{
		Type:    alert.AlertTypeCursorGap,
		Title:   "Scan cursor fell out of the fetch window",
		Message: "Transactions between the stored cursor and the oldest fetched signature were not scanned.",
		Fields: map[string]string{
			"cursor": last,
			"window": fmt.Sprintf("%d", window),
		},
	})
}

func (s *Scanner) sendAlert(ctx context.Context, a alert.Alert) {
	a.Program = s.cfg.ProgramID
	a.Network = s.cfg.Network.String()
	if err := s.alerter.Send(ctx, a); err != nil {
		s.logger.Warn("alert delivery failed", "alert_type", a.Type, "error", err)
	}
}

// policy returns the configured retry policy reporting retries under method.
func (s *Scanner) policy(method string) retry.Policy {
	p := s.cfg.Retry
	p.OnRetry = func(attempt int, decision retry.Decision, delay time.Duration, err error) {
		metrics.RPCRetries.WithLabelValues(s.adapter.Chain(), method).Inc()
		s.logger.Warn("transient rpc failure; retrying",
			"method", method,
			"attempt", attempt,
			"reason", decision.Reason,
			"delay", delay,
			"error", err,
		)
	}
	return p
}

func guarded[T any](b *circuitbreaker.Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn()
	b.Record(err)
	return v, err
}
