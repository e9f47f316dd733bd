package memory

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/opsignal/threatmem/internal/resilience"
)

// DecayWorker recomputes confidence for every long-term record on a
// schedule (cmd/serve wires it to cron, default hourly). Facts never
// decay; contextual records decay exponentially from their base
// confidence down to a floor. Because decay always starts from
// base_confidence with whole elapsed days, re-running within the same
// day is a strict no-op.
//
// The pass is batched over SSCAN pages and paced by a rate limiter so it
// never starves interactive traffic. Every store touch goes through the
// shared resilience monitor; when the breaker opens or a record exhausts
// its retries the pass aborts rather than hammering the rest of the set.
type DecayWorker struct {
	long      *LongTermTier
	monitor   *resilience.Monitor
	decayRate float64
	floor     float64
	batchSize int64
	limiter   *rate.Limiter
}

// NewDecayWorker builds a worker. decayRate is the per-day fraction lost
// (e.g. 0.02), floor the minimum confidence a non-fact can reach.
func NewDecayWorker(long *LongTermTier, monitor *resilience.Monitor, decayRate, floor float64, batchSize int64) *DecayWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DecayWorker{
		long:      long,
		monitor:   monitor,
		decayRate: decayRate,
		floor:     floor,
		batchSize: batchSize,
		// One batch per 100ms keeps a full pass gentle on the store.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Decay returns the recomputed confidence for a record. Facts are a
// strict no-op regardless of elapsed time.
func Decay(base float64, isFact bool, decayRate, floor float64, daysElapsed int) float64 {
	if isFact || daysElapsed <= 0 {
		return base
	}
	decayed := base * math.Pow(1-decayRate, float64(daysElapsed))
	return math.Max(floor, decayed)
}

// classifyCacheTier derives the advisory hot/warm/cold label from
// confidence and age. Bookkeeping on the L3 record only — never a move
// between memory tiers.
func classifyCacheTier(confidence float64, age time.Duration) string {
	days := age.Hours() / 24
	switch {
	case confidence >= 0.8 && days < 7:
		return CacheHot
	case confidence < 0.6 || days > 30:
		return CacheCold
	default:
		return CacheWarm
	}
}

// RunOnce performs a single full decay pass and returns the number of
// records examined. Respects ctx cancellation between records.
func (w *DecayWorker) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "memory.decay.run")
	defer span.End()

	decayRuns.Add(ctx, 1)
	now := time.Now().UTC()
	var processed, changed int
	var cursor uint64

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return processed, err
		}
		var ids []string
		var next uint64
		err := w.monitor.Execute(ctx, resilience.Operation{
			Name: "memory.decay.scan",
			Do: func(ctx context.Context) error {
				var err error
				ids, next, err = w.long.scanIDs(ctx, cursor, w.batchSize)
				return err
			},
		})
		if err != nil {
			return processed, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return processed, err
			}
			var didChange bool
			err := w.monitor.Execute(ctx, resilience.Operation{
				Name:    "memory.decay.record",
				Payload: id,
				Do: func(ctx context.Context) error {
					var err error
					didChange, err = w.decayRecord(ctx, id, now)
					return err
				},
			})
			if err != nil {
				if errors.Is(err, resilience.ErrOpen) || errors.Is(err, resilience.ErrExhausted) {
					// The store is down; the remaining records can wait
					// for the next scheduled pass.
					return processed, err
				}
				log.Error().Err(err).Str("memory_id", id).Msg("decay_record_failed")
				continue
			}
			processed++
			if didChange {
				changed++
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	decayedRecords.Add(ctx, int64(changed))
	span.SetAttributes(
		attribute.Int("decay.processed", processed),
		attribute.Int("decay.changed", changed),
	)
	if changed > 0 {
		log.Info().Int("processed", processed).Int("changed", changed).Msg("confidence_decay_completed")
	}
	return processed, nil
}

// decayRecord recomputes one record's confidence and cache tier.
// Reports whether anything was written.
func (w *DecayWorker) decayRecord(ctx context.Context, id string, now time.Time) (bool, error) {
	ltm, err := w.long.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Expired between scan and read; nothing to do.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	age := now.Sub(ltm.LastUpdated)
	daysElapsed := int(age.Hours() / 24)
	confidence := Decay(ltm.BaseConfidence, ltm.IsFact, w.decayRate, w.floor, daysElapsed)
	cacheTier := classifyCacheTier(confidence, age)

	if confidence == ltm.Confidence && cacheTier == ltm.CacheTier {
		return false, nil
	}
	if err := w.long.updateDecay(ctx, id, confidence, cacheTier); err != nil {
		return false, err
	}
	return true, nil
}
