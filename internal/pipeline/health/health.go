// Package health tracks the scanner's liveness for the API and alerting.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
)

// Status represents the health state of the scanner.
type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusInactive  Status = "INACTIVE"

	// DefaultUnhealthyThreshold is the number of consecutive aborted cycles
	// before the scanner is considered unhealthy.
	DefaultUnhealthyThreshold = 3

	// DefaultDegradedLatency is the P95 cycle duration above which the
	// scanner is considered degraded.
	DefaultDegradedLatency = 2 * time.Minute

	latencyWindowSize = 10
)

func (s Status) gauge() float64 {
	switch s {
	case StatusHealthy, StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	case StatusInactive:
		return 3
	default:
		return 0
	}
}

// ScanHealth tracks outcomes of scan cycles for one program on one network.
type ScanHealth struct {
	mu                  sync.RWMutex
	network             string
	program             string
	status              Status
	consecutiveFailures int
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastError           string
	cycles              int64
	recorded            int64
	unhealthyThreshold  int
	degradedLatency     time.Duration
	recentLatencies     []time.Duration
	nowFn               func() time.Time
}

func NewScanHealth(network, program string) *ScanHealth {
	h := &ScanHealth{
		network:            network,
		program:            program,
		status:             StatusUnknown,
		unhealthyThreshold: DefaultUnhealthyThreshold,
		degradedLatency:    DefaultDegradedLatency,
		recentLatencies:    make([]time.Duration, 0, latencyWindowSize),
		nowFn:              time.Now,
	}
	h.publish()
	return h
}

// MarkInactive flags a scanner that was disabled at startup.
func (h *ScanHealth) MarkInactive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusInactive
	h.publish()
}

// RecordSuccess records a completed cycle. It returns true when the call
// recovers the scanner from the unhealthy state.
func (h *ScanHealth) RecordSuccess(elapsed time.Duration, recorded int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	wasUnhealthy := h.status == StatusUnhealthy

	h.cycles++
	h.recorded += int64(recorded)
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	h.lastError = ""
	h.pushLatency(elapsed)
	if h.isLatencyDegraded() {
		h.status = StatusDegraded
	} else {
		h.status = StatusHealthy
	}
	h.publish()
	return wasUnhealthy
}

// RecordFailure records an aborted cycle. It returns true when this call
// moves the scanner into the unhealthy state.
func (h *ScanHealth) RecordFailure(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	h.cycles++
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if err != nil {
		h.lastError = err.Error()
	}

	transitioned := false
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != StatusUnhealthy {
		h.status = StatusUnhealthy
		transitioned = true
	}
	h.publish()
	return transitioned
}

// Must be called with mu held.
func (h *ScanHealth) pushLatency(d time.Duration) {
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, d)
}

// Must be called with mu held.
func (h *ScanHealth) isLatencyDegraded() bool {
	n := len(h.recentLatencies)
	if n < 2 {
		return false
	}
	sorted := make([]time.Duration, n)
	copy(sorted, h.recentLatencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (95*n - 1) / 100
	return sorted[idx] > h.degradedLatency
}

// Must be called with mu held.
func (h *ScanHealth) publish() {
	metrics.ScanHealthStatus.WithLabelValues(h.network).Set(h.status.gauge())
	metrics.ScanConsecutiveFailures.WithLabelValues(h.network).Set(float64(h.consecutiveFailures))
}

// Snapshot returns the current health state.
func (h *ScanHealth) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Snapshot{
		Network:             h.network,
		Program:             h.program,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		Cycles:              h.cycles,
		ActivitiesRecorded:  h.recorded,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
		LastError:           h.lastError,
	}
}

// Snapshot is a point-in-time view of scanner health (JSON-safe).
type Snapshot struct {
	Network             string     `json:"network"`
	Program             string     `json:"program"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Cycles              int64      `json:"cycles"`
	ActivitiesRecorded  int64      `json:"activities_recorded"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
