package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsignal/threatmem/internal/kv"
	threatotel "github.com/opsignal/threatmem/internal/otel"
)

var tracer = threatotel.Tracer("github.com/opsignal/threatmem/internal/memory")

// WorkingTier is L1: threats under active investigation. Records are
// volatile — every interaction refreshes the TTL, and a threat that sees
// no activity for the configured window expires on its own.
type WorkingTier struct {
	store kv.Store
	ttl   time.Duration
}

// NewWorkingTier returns the L1 tier. ttl is the inactivity window after
// which an untouched record expires (default 1h via config).
func NewWorkingTier(store kv.Store, ttl time.Duration) *WorkingTier {
	return &WorkingTier{store: store, ttl: ttl}
}

// AddThreat registers a new threat under active investigation. Fails with
// ErrAlreadyExists while a record for threatID is live — the caller must
// promote or dismiss it first. The SAdd on the active set is the atomic
// uniqueness gate, so two racing collectors cannot both create the record.
func (t *WorkingTier) AddThreat(ctx context.Context, threatID, content string, severity Severity, metadata map[string]string) (*WorkingMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.working.add_threat",
		trace.WithAttributes(
			attribute.String("threat_id", threatID),
			attribute.String("severity", string(severity)),
		))
	defer span.End()

	if threatID == "" {
		return nil, opErr("add_threat", tierWorking, threatID, ErrValidation)
	}
	if _, err := ParseSeverity(string(severity)); err != nil {
		return nil, opErr("add_threat", tierWorking, threatID, err)
	}

	added, err := t.store.SAdd(ctx, workingActiveKey, threatID)
	if err != nil {
		return nil, opErr("add_threat", tierWorking, threatID, err)
	}
	if added == 0 {
		// Membership without a backing hash means the record expired but
		// its active-set entry lingered; reclaim it instead of refusing.
		exists, err := t.store.Exists(ctx, workingKey(threatID))
		if err != nil {
			return nil, opErr("add_threat", tierWorking, threatID, err)
		}
		if exists {
			return nil, opErr("add_threat", tierWorking, threatID, ErrAlreadyExists)
		}
	}

	now := time.Now().UTC()
	wm := &WorkingMemory{
		ID:           "wm_" + uuid.New().String()[:12],
		ThreatID:     threatID,
		Content:      content,
		Severity:     severity,
		StartedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}
	if err := t.store.HSet(ctx, workingKey(threatID), wm.fields()); err != nil {
		return nil, opErr("add_threat", tierWorking, threatID, err)
	}
	if err := t.store.Expire(ctx, workingKey(threatID), t.ttl); err != nil {
		return nil, opErr("add_threat", tierWorking, threatID, err)
	}

	threatsAdded.Add(ctx, 1)
	t.recordActiveGauge(ctx)
	span.SetAttributes(attribute.String("memory.id", wm.ID))
	return wm, nil
}

// RecordInteraction registers an analyst touching the threat: increments
// interaction_count, increments analyst_count only when this analyst is
// new to the record (tracked via a per-record analyst set), and refreshes
// the TTL. Returns ErrNotFound if the record expired or never existed.
func (t *WorkingTier) RecordInteraction(ctx context.Context, threatID, analystID, action string) (*WorkingMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.working.record_interaction",
		trace.WithAttributes(
			attribute.String("threat_id", threatID),
			attribute.String("action", action),
		))
	defer span.End()

	switch action {
	case ActionView, ActionEscalate, ActionDismiss:
	default:
		return nil, opErr("record_interaction", tierWorking, threatID, ErrValidation)
	}

	exists, err := t.store.Exists(ctx, workingKey(threatID))
	if err != nil {
		return nil, opErr("record_interaction", tierWorking, threatID, err)
	}
	if !exists {
		return nil, opErr("record_interaction", tierWorking, threatID, ErrNotFound)
	}

	if _, err := t.store.HIncrBy(ctx, workingKey(threatID), "interaction_count", 1); err != nil {
		return nil, opErr("record_interaction", tierWorking, threatID, err)
	}
	newAnalyst, err := t.store.SAdd(ctx, analystsKey(threatID), analystID)
	if err != nil {
		return nil, opErr("record_interaction", tierWorking, threatID, err)
	}
	if newAnalyst > 0 {
		if _, err := t.store.HIncrBy(ctx, workingKey(threatID), "analyst_count", 1); err != nil {
			return nil, opErr("record_interaction", tierWorking, threatID, err)
		}
	}
	if err := t.store.HSet(ctx, workingKey(threatID), map[string]string{
		"last_activity": encodeTime(time.Now().UTC()),
	}); err != nil {
		return nil, opErr("record_interaction", tierWorking, threatID, err)
	}

	// Analyst set expires alongside the record so a re-added threat
	// starts its analyst count fresh.
	if err := t.store.Expire(ctx, workingKey(threatID), t.ttl); err != nil {
		return nil, opErr("record_interaction", tierWorking, threatID, err)
	}
	if err := t.store.Expire(ctx, analystsKey(threatID), t.ttl); err != nil {
		return nil, opErr("record_interaction", tierWorking, threatID, err)
	}

	interactionsTotal.Add(ctx, 1)
	return t.GetThreat(ctx, threatID)
}

// GetThreat returns the live L1 record for threatID.
func (t *WorkingTier) GetThreat(ctx context.Context, threatID string) (*WorkingMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.working.get_threat",
		trace.WithAttributes(attribute.String("threat_id", threatID)))
	defer span.End()

	fields, err := t.store.HGetAll(ctx, workingKey(threatID))
	if err != nil {
		return nil, opErr("get_threat", tierWorking, threatID, err)
	}
	if len(fields) == 0 {
		return nil, opErr("get_threat", tierWorking, threatID, ErrNotFound)
	}
	return workingFromFields(fields), nil
}

// ListActive returns the threat_ids currently under investigation,
// pruning active-set entries whose records have since expired.
func (t *WorkingTier) ListActive(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "memory.working.list_active")
	defer span.End()

	members, err := t.store.SMembers(ctx, workingActiveKey)
	if err != nil {
		return nil, opErr("list_active", tierWorking, "", err)
	}
	live := make([]string, 0, len(members))
	for _, threatID := range members {
		exists, err := t.store.Exists(ctx, workingKey(threatID))
		if err != nil {
			return nil, opErr("list_active", tierWorking, threatID, err)
		}
		if !exists {
			_, _ = t.store.SRem(ctx, workingActiveKey, threatID)
			continue
		}
		live = append(live, threatID)
	}
	span.SetAttributes(attribute.Int("memory.active", len(live)))
	return live, nil
}

// GetHot returns active records with interaction_count >= minInteractions,
// most-touched first. This is the analyst's "what is everyone looking at"
// view.
func (t *WorkingTier) GetHot(ctx context.Context, minInteractions int) ([]*WorkingMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.working.get_hot",
		trace.WithAttributes(attribute.Int("min_interactions", minInteractions)))
	defer span.End()

	active, err := t.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var hot []*WorkingMemory
	for _, threatID := range active {
		wm, err := t.GetThreat(ctx, threatID)
		if err != nil {
			continue // expired between listing and read
		}
		if wm.InteractionCount >= minInteractions {
			hot = append(hot, wm)
		}
	}
	sort.Slice(hot, func(i, j int) bool { return hot[i].InteractionCount > hot[j].InteractionCount })
	return hot, nil
}

// GetStale returns active records whose last_activity is older than
// maxAge — candidates for dismissal or forced promotion review.
func (t *WorkingTier) GetStale(ctx context.Context, maxAge time.Duration) ([]*WorkingMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.working.get_stale")
	defer span.End()

	active, err := t.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	var stale []*WorkingMemory
	for _, threatID := range active {
		wm, err := t.GetThreat(ctx, threatID)
		if err != nil {
			continue
		}
		if wm.LastActivity.Before(cutoff) {
			stale = append(stale, wm)
		}
	}
	return stale, nil
}

// Remove deletes the L1 record, its analyst set, and its active-set
// membership. Used for dismissal; promotion performs the same cleanup as
// part of its move.
func (t *WorkingTier) Remove(ctx context.Context, threatID string) error {
	ctx, span := tracer.Start(ctx, "memory.working.remove",
		trace.WithAttributes(attribute.String("threat_id", threatID)))
	defer span.End()

	if err := t.store.Del(ctx, workingKey(threatID), analystsKey(threatID)); err != nil {
		return opErr("remove", tierWorking, threatID, err)
	}
	removed, err := t.store.SRem(ctx, workingActiveKey, threatID)
	if err != nil {
		return opErr("remove", tierWorking, threatID, err)
	}
	if removed == 0 {
		return opErr("remove", tierWorking, threatID, ErrNotFound)
	}
	t.recordActiveGauge(ctx)
	return nil
}

// Count returns the number of live L1 records.
func (t *WorkingTier) Count(ctx context.Context) (int64, error) {
	active, err := t.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(active)), nil
}

func (t *WorkingTier) recordActiveGauge(ctx context.Context) {
	n, err := t.store.SCard(ctx, workingActiveKey)
	if err != nil {
		return
	}
	workingGauge.Record(ctx, n)
}
