package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opsignal/threatmem/internal/kv"
)

// ErrExhausted means an operation failed all of its retry attempts. The
// item is preserved in the dead-letter queue; the returned error wraps
// the final underlying failure.
var ErrExhausted = errors.New("retries exhausted")

const latencySampleSize = 512

// Operation is one unit of work executed through the monitor. Payload is
// the caller's original input, kept verbatim so a dead-lettered item can
// be replayed by hand.
type Operation struct {
	Name    string
	Payload string
	Do      func(ctx context.Context) error
}

// Config holds the monitor's tunables; zero values fall back to the
// defaults noted per field.
type Config struct {
	FailureThreshold   int           // consecutive failures before the breaker opens (5)
	SuccessThreshold   int           // HALF_OPEN successes before it closes (3)
	Cooldown           time.Duration // OPEN hold time before probing (60s)
	MaxRetries         int           // total attempts per operation (3)
	InitialDelay       time.Duration // first backoff delay (1s)
	MaxDelay           time.Duration // backoff cap (60s)
	DeadLetterCapacity int           // bounded DLQ size (1000)
}

// Monitor wraps tier operations with the breaker, bounded retries, the
// dead-letter queue, and latency/health accounting. One Monitor instance
// is shared process-wide and passed explicitly through constructors —
// there is no package-level singleton.
type Monitor struct {
	breaker *Breaker
	dlq     *DeadLetterQueue

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration

	mu          sync.Mutex
	requests    int64
	successes   int64
	errorCounts map[string]int64
	samples     []time.Duration
	sampleIdx   int
}

// NewMonitor builds a monitor from cfg.
func NewMonitor(cfg Config) *Monitor {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	initialDelay := cfg.InitialDelay
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	return &Monitor{
		breaker:      NewBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Cooldown),
		dlq:          NewDeadLetterQueue(cfg.DeadLetterCapacity),
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		errorCounts:  make(map[string]int64),
	}
}

// Breaker exposes the shared breaker (read-mostly; used by health
// reporting and tests).
func (m *Monitor) Breaker() *Breaker { return m.breaker }

// DeadLetters exposes the shared dead-letter queue.
func (m *Monitor) DeadLetters() *DeadLetterQueue { return m.dlq }

// Execute runs op with the monitor's configured retry policy.
func (m *Monitor) Execute(ctx context.Context, op Operation) error {
	return m.ExecuteWithRetry(ctx, op, m.maxRetries, m.initialDelay, m.maxDelay)
}

// ExecuteWithRetry runs op up to maxRetries attempts with exponential
// backoff (delay = min(initialDelay·2^attempt, maxDelay)). Only
// dependency failures (kv.ErrUnavailable) are retried; business errors
// such as not-found are returned to the caller on the first attempt and
// count as breaker successes, because the dependency answered. If the
// breaker is open before the first attempt the call fails fast with
// ErrOpen; an operation that exhausts its attempts is appended to the
// dead-letter queue and surfaces as ErrExhausted.
func (m *Monitor) ExecuteWithRetry(ctx context.Context, op Operation, maxRetries int, initialDelay, maxDelay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	if err := m.breaker.Allow(); err != nil {
		m.record(op.Name, 0, err)
		return fmt.Errorf("%s: %w", op.Name, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt-1, initialDelay, maxDelay); err != nil {
				return err
			}
			retriesTotal.Add(ctx, 1)
			if err := m.breaker.Allow(); err != nil {
				// Breaker opened mid-retry: stop hammering, but never
				// silently drop the item.
				m.deadLetter(ctx, op, attempt, err)
				return fmt.Errorf("%s: %w: %v", op.Name, ErrExhausted, err)
			}
		}

		start := time.Now()
		err := op.Do(ctx)
		elapsed := time.Since(start)
		m.record(op.Name, elapsed, err)

		if err == nil {
			m.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// Caller cancelled; not a dependency verdict either way.
			m.breaker.releaseTrial()
			return err
		}
		if !errors.Is(err, kv.ErrUnavailable) {
			m.breaker.RecordSuccess()
			return err
		}
		m.breaker.RecordFailure()
	}

	m.deadLetter(ctx, op, maxRetries, lastErr)
	return fmt.Errorf("%s: %w: %v", op.Name, ErrExhausted, lastErr)
}

func sleepBackoff(ctx context.Context, attempt int, initialDelay, maxDelay time.Duration) error {
	delay := initialDelay << uint(attempt)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// backoffDelay returns the delay preceding the given retry attempt
// (attempt 0 is the first retry). Exposed for tests of the schedule.
func backoffDelay(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	delay := initialDelay << uint(attempt)
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

func (m *Monitor) deadLetter(ctx context.Context, op Operation, attempts int, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	m.dlq.Append(DeadLetter{
		Op:       op.Name,
		Payload:  op.Payload,
		Reason:   reason,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	})
	deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op.Name)))
	log.Error().Str("op", op.Name).Int("attempts", attempts).Str("reason", reason).Msg("operation_dead_lettered")
}

// errType buckets an error for the per-error-type counters.
func errType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOpen):
		return "breaker_open"
	case errors.Is(err, kv.ErrUnavailable):
		return "dependency_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "business"
	}
}

// record updates counters and the bounded latency sample ring.
func (m *Monitor) record(opName string, elapsed time.Duration, err error) {
	ctx := context.Background()
	requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", opName)))
	if err != nil {
		failuresTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", opName),
			attribute.String("error_type", errType(err)),
		))
	}
	if elapsed > 0 {
		latencyMillis.Record(ctx, float64(elapsed)/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("op", opName)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if err == nil {
		m.successes++
	} else {
		m.errorCounts[errType(err)]++
	}
	if elapsed > 0 {
		if len(m.samples) < latencySampleSize {
			m.samples = append(m.samples, elapsed)
		} else {
			m.samples[m.sampleIdx] = elapsed
			m.sampleIdx = (m.sampleIdx + 1) % latencySampleSize
		}
	}
}

// Health verdict levels, worst to best.
const (
	VerdictHealthy   = "healthy"
	VerdictDegraded  = "degraded"
	VerdictUnhealthy = "unhealthy"
	VerdictCritical  = "critical"
)

// Health is the aggregated four-level verdict with the inputs that
// produced it.
type Health struct {
	Verdict             string  `json:"verdict"`
	SuccessRate         float64 `json:"success_rate"`
	BreakerState        State   `json:"breaker_state"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	DeadLetterSize      int     `json:"dead_letter_size"`
}

// HealthStatus derives the verdict from success rate, breaker state,
// consecutive failures, and dead-letter backlog using fixed thresholds.
func (m *Monitor) HealthStatus() Health {
	m.mu.Lock()
	requests, successes := m.requests, m.successes
	m.mu.Unlock()

	rate := 1.0
	if requests > 0 {
		rate = float64(successes) / float64(requests)
	}
	h := Health{
		SuccessRate:         rate,
		BreakerState:        m.breaker.State(),
		ConsecutiveFailures: m.breaker.ConsecutiveFailures(),
		DeadLetterSize:      m.dlq.Len(),
	}

	switch {
	case h.BreakerState == StateOpen || rate < 0.50:
		h.Verdict = VerdictCritical
	case rate < 0.75 || h.DeadLetterSize >= m.dlq.capacity:
		h.Verdict = VerdictUnhealthy
	case rate < 0.95 || h.BreakerState == StateHalfOpen || h.DeadLetterSize > 0:
		h.Verdict = VerdictDegraded
	default:
		h.Verdict = VerdictHealthy
	}
	return h
}

// Status is the pull-based metrics summary exposed over HTTP.
type Status struct {
	Requests            int64            `json:"requests"`
	Successes           int64            `json:"successes"`
	Failures            int64            `json:"failures"`
	SuccessRate         float64          `json:"success_rate"`
	LatencyP50Millis    float64          `json:"latency_p50_ms"`
	LatencyP95Millis    float64          `json:"latency_p95_ms"`
	LatencyP99Millis    float64          `json:"latency_p99_ms"`
	BreakerState        State            `json:"breaker_state"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	DeadLetterSize      int              `json:"dead_letter_size"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
}

// StatusSnapshot returns current counters and latency percentiles from
// the bounded sample window.
func (m *Monitor) StatusSnapshot() Status {
	m.mu.Lock()
	requests, successes := m.requests, m.successes
	errCounts := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errCounts[k] = v
	}
	samples := make([]time.Duration, len(m.samples))
	copy(samples, m.samples)
	m.mu.Unlock()

	rate := 1.0
	if requests > 0 {
		rate = float64(successes) / float64(requests)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return Status{
		Requests:            requests,
		Successes:           successes,
		Failures:            requests - successes,
		SuccessRate:         rate,
		LatencyP50Millis:    percentileMillis(samples, 0.50),
		LatencyP95Millis:    percentileMillis(samples, 0.95),
		LatencyP99Millis:    percentileMillis(samples, 0.99),
		BreakerState:        m.breaker.State(),
		ConsecutiveFailures: m.breaker.ConsecutiveFailures(),
		DeadLetterSize:      m.dlq.Len(),
		ErrorCounts:         errCounts,
	}
}

func percentileMillis(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return float64(sorted[idx]) / float64(time.Millisecond)
}
