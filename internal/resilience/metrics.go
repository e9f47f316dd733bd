package resilience

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/opsignal/threatmem/internal/resilience")

var (
	requestsTotal metric.Int64Counter
	failuresTotal metric.Int64Counter
	retriesTotal  metric.Int64Counter
	deadLettered  metric.Int64Counter
	latencyMillis metric.Float64Histogram
)

func init() {
	var err error
	requestsTotal, err = meter.Int64Counter("resilience.requests.total",
		metric.WithDescription("Operations executed through the monitor"))
	if err != nil {
		requestsTotal, _ = meter.Int64Counter("resilience.requests.total.fallback")
	}

	failuresTotal, err = meter.Int64Counter("resilience.failures.total",
		metric.WithDescription("Operations that returned an error, by error type"))
	if err != nil {
		failuresTotal, _ = meter.Int64Counter("resilience.failures.total.fallback")
	}

	retriesTotal, err = meter.Int64Counter("resilience.retries.total",
		metric.WithDescription("Retry attempts after a retryable failure"))
	if err != nil {
		retriesTotal, _ = meter.Int64Counter("resilience.retries.total.fallback")
	}

	deadLettered, err = meter.Int64Counter("resilience.dead_letter.appended",
		metric.WithDescription("Items routed to the dead-letter queue after exhausting retries"))
	if err != nil {
		deadLettered, _ = meter.Int64Counter("resilience.dead_letter.appended.fallback")
	}

	latencyMillis, err = meter.Float64Histogram("resilience.operation.duration",
		metric.WithDescription("Operation latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		latencyMillis, _ = meter.Float64Histogram("resilience.operation.duration.fallback")
	}
}
