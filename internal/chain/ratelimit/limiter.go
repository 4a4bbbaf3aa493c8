package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
)

// Limiter is a token bucket shared by every call to one RPC endpoint.
type Limiter struct {
	bucket *rate.Limiter
	label  string
	waits  atomic.Int64
}

func NewLimiter(rps float64, burst int, label string) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		label:  label,
	}
}

// Wait takes one token, blocking until it is available or ctx is done.
// A wait that cannot finish before ctx's deadline fails without sleeping.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.bucket.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter: burst %d cannot cover one call", l.bucket.Burst())
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		r.Cancel()
		return fmt.Errorf("rate limiter: %s wait outlasts deadline: %w", delay, context.DeadlineExceeded)
	}

	l.waits.Add(1)
	metrics.RPCRateLimitWaits.WithLabelValues(l.label).Inc()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Waits reports how many calls had to block for a token.
func (l *Limiter) Waits() int64 {
	return l.waits.Load()
}

// RecordRPCCall counts one finished call under its status bucket.
func RecordRPCCall(chain, method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(chain, method, ClassifyRPCError(err)).Inc()
}

// ClassifyRPCError buckets err for the status label.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "rate limit", "429", "too many requests"):
		return "rate_limited"
	case containsAny(lower, "timeout"):
		return "timeout"
	case containsAny(lower, "http status 5", "internal server error", "bad gateway", "service unavailable"):
		return "server_error"
	case containsAny(lower, "connection refused", "connection reset", "network is unreachable", "no such host", "broken pipe", "eof"):
		return "network_error"
	case containsAny(lower, "transaction not found"):
		return "not_found"
	default:
		return "client_error"
	}
}

func containsAny(s string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
