package memory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsignal/threatmem/internal/kv"
)

// LongTermTier is L3: consolidated threat knowledge. Records carry a
// consolidation counter, an industry index membership, and an
// export-pending flag that hands them off to the external graph/vector
// pipeline. The TTL (90 days by default) is refreshed on every
// consolidation, so knowledge that keeps getting reinforced never ages
// out.
type LongTermTier struct {
	store kv.Store
	ttl   time.Duration
}

// NewLongTermTier returns the L3 tier.
func NewLongTermTier(store kv.Store, ttl time.Duration) *LongTermTier {
	return &LongTermTier{store: store, ttl: ttl}
}

// put writes the record and all its index memberships. Called by the
// promotion engine.
func (t *LongTermTier) put(ctx context.Context, ltm *LongTermMemory) error {
	if err := t.store.HSet(ctx, longTermKey(ltm.ID), ltm.fields()); err != nil {
		return err
	}
	if _, err := t.store.SAdd(ctx, longTermIDsKey, ltm.ID); err != nil {
		return err
	}
	if ltm.Industry != "" {
		if _, err := t.store.SAdd(ctx, industryKey(ltm.Industry), ltm.ID); err != nil {
			return err
		}
	}
	if ltm.ExportPending {
		if _, err := t.store.SAdd(ctx, exportPendingKey, ltm.ID); err != nil {
			return err
		}
	}
	return t.store.Expire(ctx, longTermKey(ltm.ID), t.ttl)
}

// Get returns the L3 record by its memory id.
func (t *LongTermTier) Get(ctx context.Context, id string) (*LongTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.long_term.get",
		trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	fields, err := t.store.HGetAll(ctx, longTermKey(id))
	if err != nil {
		return nil, recErr("get", tierLongTerm, id, "", err)
	}
	if len(fields) == 0 {
		return nil, recErr("get", tierLongTerm, id, "", ErrNotFound)
	}
	return longTermFromFields(fields), nil
}

// Consolidate reinforces an existing long-term record: bumps
// consolidation_count, updates last_updated, and refreshes the TTL.
// Invoked when an already-known threat is observed again.
func (t *LongTermTier) Consolidate(ctx context.Context, id string) (*LongTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.long_term.consolidate",
		trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	ltm, err := t.Get(ctx, id)
	if err != nil {
		return nil, rewrapOp(err, "consolidate")
	}

	count, err := t.store.HIncrBy(ctx, longTermKey(id), "consolidation_count", 1)
	if err != nil {
		return nil, recErr("consolidate", tierLongTerm, id, ltm.ThreatID, err)
	}
	if err := t.store.HSet(ctx, longTermKey(id), map[string]string{
		"last_updated": encodeTime(time.Now().UTC()),
	}); err != nil {
		return nil, recErr("consolidate", tierLongTerm, id, ltm.ThreatID, err)
	}
	if err := t.store.Expire(ctx, longTermKey(id), t.ttl); err != nil {
		return nil, recErr("consolidate", tierLongTerm, id, ltm.ThreatID, err)
	}

	consolidations.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("memory.consolidation_count", count))
	return t.Get(ctx, id)
}

// SetFact marks a record as a factual extraction. Facts are exempt from
// confidence decay — their truth value is time-invariant even when their
// relevance is not.
func (t *LongTermTier) SetFact(ctx context.Context, id string, isFact bool) error {
	ctx, span := tracer.Start(ctx, "memory.long_term.set_fact",
		trace.WithAttributes(attribute.String("memory.id", id), attribute.Bool("is_fact", isFact)))
	defer span.End()

	ltm, err := t.Get(ctx, id)
	if err != nil {
		return rewrapOp(err, "set_fact")
	}
	if err := t.store.HSet(ctx, longTermKey(id), map[string]string{"is_fact": encodeBool(isFact)}); err != nil {
		return recErr("set_fact", tierLongTerm, id, ltm.ThreatID, err)
	}
	return nil
}

// GetByIndustry returns up to limit records from the industry-partitioned
// index, pruning ids whose records have expired.
func (t *LongTermTier) GetByIndustry(ctx context.Context, industry string, limit int) ([]*LongTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.long_term.get_by_industry",
		trace.WithAttributes(attribute.String("industry", industry)))
	defer span.End()

	ids, err := t.store.SMembers(ctx, industryKey(industry))
	if err != nil {
		return nil, opErr("get_by_industry", tierLongTerm, "", err)
	}
	out := make([]*LongTermMemory, 0, len(ids))
	for _, id := range ids {
		ltm, err := t.Get(ctx, id)
		if err != nil {
			_, _ = t.store.SRem(ctx, industryKey(industry), id)
			continue
		}
		out = append(out, ltm)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListExportPending returns the ids queued for the external graph/vector
// export pipeline. The pipeline polls this, ingests on its own side, and
// acknowledges with MarkExported — this system never pushes downstream.
func (t *LongTermTier) ListExportPending(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "memory.long_term.list_export_pending")
	defer span.End()

	ids, err := t.store.SMembers(ctx, exportPendingKey)
	if err != nil {
		return nil, opErr("list_export_pending", tierLongTerm, "", err)
	}
	return ids, nil
}

// MarkExported acknowledges a completed downstream ingestion: clears the
// record's export_pending flag and removes it from the pending set.
func (t *LongTermTier) MarkExported(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "memory.long_term.mark_exported",
		trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	ltm, err := t.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Record may have expired while pending; still clear the set.
			_, _ = t.store.SRem(ctx, exportPendingKey, id)
		}
		return rewrapOp(err, "mark_exported")
	}
	if err := t.store.HSet(ctx, longTermKey(id), map[string]string{"export_pending": encodeBool(false)}); err != nil {
		return recErr("mark_exported", tierLongTerm, id, ltm.ThreatID, err)
	}
	_, err = t.store.SRem(ctx, exportPendingKey, id)
	if err != nil {
		return recErr("mark_exported", tierLongTerm, id, ltm.ThreatID, err)
	}
	return nil
}

// scanIDs pages through the all-ids set. Used by the decay worker so a
// full pass never holds the store busy in one unbounded call.
func (t *LongTermTier) scanIDs(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	ids, next, err := t.store.SScan(ctx, longTermIDsKey, cursor, count)
	if err != nil {
		return nil, 0, opErr("scan_ids", tierLongTerm, "", err)
	}
	return ids, next, nil
}

// updateDecay writes the decay worker's recomputed confidence and cache
// tier for one record.
func (t *LongTermTier) updateDecay(ctx context.Context, id string, confidence float64, cacheTier string) error {
	return t.store.HSet(ctx, longTermKey(id), map[string]string{
		"confidence": strconv.FormatFloat(confidence, 'f', -1, 64),
		"cache_tier": cacheTier,
	})
}

// Count returns the number of records in the all-ids index.
func (t *LongTermTier) Count(ctx context.Context) (int64, error) {
	n, err := t.store.SCard(ctx, longTermIDsKey)
	if err != nil {
		return 0, opErr("count", tierLongTerm, "", err)
	}
	return n, nil
}
