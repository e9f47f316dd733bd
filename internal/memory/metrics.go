package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/opsignal/threatmem/internal/memory")

var (
	threatsAdded      metric.Int64Counter
	interactionsTotal metric.Int64Counter
	promotionsL2      metric.Int64Counter
	promotionsL3      metric.Int64Counter
	consolidations    metric.Int64Counter
	decayRuns         metric.Int64Counter
	decayedRecords    metric.Int64Counter
	workingGauge      metric.Int64Gauge
)

func init() {
	var err error
	threatsAdded, err = meter.Int64Counter("memory.working.threats_added",
		metric.WithDescription("Threats entering working memory"))
	if err != nil {
		threatsAdded, _ = meter.Int64Counter("memory.working.threats_added.fallback")
	}

	interactionsTotal, err = meter.Int64Counter("memory.working.interactions",
		metric.WithDescription("Analyst interactions recorded against working memory"))
	if err != nil {
		interactionsTotal, _ = meter.Int64Counter("memory.working.interactions.fallback")
	}

	promotionsL2, err = meter.Int64Counter("memory.promotions.short_term",
		metric.WithDescription("Promotions from working to short-term memory"))
	if err != nil {
		promotionsL2, _ = meter.Int64Counter("memory.promotions.short_term.fallback")
	}

	promotionsL3, err = meter.Int64Counter("memory.promotions.long_term",
		metric.WithDescription("Promotions from short-term to long-term memory"))
	if err != nil {
		promotionsL3, _ = meter.Int64Counter("memory.promotions.long_term.fallback")
	}

	consolidations, err = meter.Int64Counter("memory.long_term.consolidations",
		metric.WithDescription("Reinforcements of existing long-term records"))
	if err != nil {
		consolidations, _ = meter.Int64Counter("memory.long_term.consolidations.fallback")
	}

	decayRuns, err = meter.Int64Counter("memory.decay.runs",
		metric.WithDescription("Confidence decay worker passes"))
	if err != nil {
		decayRuns, _ = meter.Int64Counter("memory.decay.runs.fallback")
	}

	decayedRecords, err = meter.Int64Counter("memory.decay.records",
		metric.WithDescription("Long-term records whose confidence was recomputed"))
	if err != nil {
		decayedRecords, _ = meter.Int64Counter("memory.decay.records.fallback")
	}

	workingGauge, err = meter.Int64Gauge("memory.working.active",
		metric.WithDescription("Current number of active working-memory threats"))
	if err != nil {
		workingGauge, _ = meter.Int64Gauge("memory.working.active.fallback")
	}
}
