package memory

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsignal/threatmem/internal/kv"
)

// ShortTermTier is L2: validated-but-recent threat memories ranked by a
// composite score in a sorted-set index. Records enter only by promotion
// from L1 and leave by promotion to L3 or TTL expiry. The TTL is not
// refreshed by reads — only Reinforce extends a record's life.
type ShortTermTier struct {
	store kv.Store
	ttl   time.Duration
}

// NewShortTermTier returns the L2 tier. ttl defaults to 7 days via config.
func NewShortTermTier(store kv.Store, ttl time.Duration) *ShortTermTier {
	return &ShortTermTier{store: store, ttl: ttl}
}

// put writes the record, indexes it, and arms the TTL. Called by the
// promotion engine; ordering (hash before index) matters so the rank
// index never points at a missing record for readers that re-fetch.
func (t *ShortTermTier) put(ctx context.Context, stm *ShortTermMemory) error {
	if err := t.store.HSet(ctx, shortTermKey(stm.ID), stm.fields()); err != nil {
		return err
	}
	if err := t.store.ZAdd(ctx, shortTermRankKey, stm.ID, stm.Score); err != nil {
		return err
	}
	if _, err := t.store.SAdd(ctx, shortTermIDsKey, stm.ID); err != nil {
		return err
	}
	return t.store.Expire(ctx, shortTermKey(stm.ID), t.ttl)
}

// Get returns the L2 record by its memory id.
func (t *ShortTermTier) Get(ctx context.Context, id string) (*ShortTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.short_term.get",
		trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	fields, err := t.store.HGetAll(ctx, shortTermKey(id))
	if err != nil {
		return nil, recErr("get", tierShortTerm, id, "", err)
	}
	if len(fields) == 0 {
		// Prune index entries left behind by TTL expiry.
		_ = t.store.ZRem(ctx, shortTermRankKey, id)
		_, _ = t.store.SRem(ctx, shortTermIDsKey, id)
		return nil, recErr("get", tierShortTerm, id, "", ErrNotFound)
	}
	return shortTermFromFields(fields), nil
}

// GetTop returns the highest-score records, best first. Index entries
// whose records have expired are skipped and pruned.
func (t *ShortTermTier) GetTop(ctx context.Context, limit int) ([]*ShortTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.short_term.get_top",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	if limit <= 0 {
		limit = 10
	}
	// Over-fetch to survive pruning of expired entries.
	ranked, err := t.store.ZRevRangeWithScores(ctx, shortTermRankKey, 0, int64(limit*2)-1)
	if err != nil {
		return nil, opErr("get_top", tierShortTerm, "", err)
	}
	out := make([]*ShortTermMemory, 0, limit)
	for _, member := range ranked {
		stm, err := t.Get(ctx, member.Member)
		if err != nil {
			continue
		}
		out = append(out, stm)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Reinforce is the explicit TTL refresh: a short-term memory observed
// again gets another full window and its last_updated bumped.
func (t *ShortTermTier) Reinforce(ctx context.Context, id string) (*ShortTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.short_term.reinforce",
		trace.WithAttributes(attribute.String("memory.id", id)))
	defer span.End()

	stm, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	stm.LastUpdated = time.Now().UTC()
	if err := t.store.HSet(ctx, shortTermKey(id), map[string]string{
		"last_updated": encodeTime(stm.LastUpdated),
	}); err != nil {
		return nil, recErr("reinforce", tierShortTerm, id, stm.ThreatID, err)
	}
	if err := t.store.Expire(ctx, shortTermKey(id), t.ttl); err != nil {
		return nil, recErr("reinforce", tierShortTerm, id, stm.ThreatID, err)
	}
	return stm, nil
}

// remove deletes the record and its index memberships. Called by the
// promotion engine after the L3 copy is durable.
func (t *ShortTermTier) remove(ctx context.Context, id string) error {
	if err := t.store.Del(ctx, shortTermKey(id)); err != nil {
		return err
	}
	if err := t.store.ZRem(ctx, shortTermRankKey, id); err != nil {
		return err
	}
	_, err := t.store.SRem(ctx, shortTermIDsKey, id)
	return err
}

// Count returns the number of indexed L2 records.
func (t *ShortTermTier) Count(ctx context.Context) (int64, error) {
	n, err := t.store.ZCard(ctx, shortTermRankKey)
	if err != nil {
		return 0, opErr("count", tierShortTerm, "", err)
	}
	return n, nil
}
