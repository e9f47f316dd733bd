package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsignal/threatmem/internal/kv"
)

// PromotionEngine moves records up the tier hierarchy. A promotion is a
// move, not a copy: the new tier's record and indexes are written first,
// then the source tier's record and memberships are deleted. A crash
// between the two steps leaves the record recoverable in its old tier —
// duplicated work on retry, never data loss.
//
// Promotion thresholds are deliberately NOT enforced here; callers apply
// their own policy (config.PromoteShortTermScore and friends) before
// invoking the engine, so thresholds stay tunable without code changes.
type PromotionEngine struct {
	store   kv.Store
	working *WorkingTier
	short   *ShortTermTier
	long    *LongTermTier
}

// NewPromotionEngine wires the engine to the three tiers.
func NewPromotionEngine(store kv.Store, working *WorkingTier, short *ShortTermTier, long *LongTermTier) *PromotionEngine {
	return &PromotionEngine{store: store, working: working, short: short, long: long}
}

// Score is the deterministic L2 ranking function:
//
//	0.5·confidence + 0.3·min(1, evidence/10) + 0.2·min(1, interactions/5)
func Score(confidence float64, evidenceCount, analystInteractions int) float64 {
	evidence := float64(evidenceCount) / 10
	if evidence > 1 {
		evidence = 1
	}
	interactions := float64(analystInteractions) / 5
	if interactions > 1 {
		interactions = 1
	}
	return 0.5*confidence + 0.3*evidence + 0.2*interactions
}

// PromoteToShortTerm moves a working-memory threat into L2. Fails with
// ErrPromotionInvariant when no live L1 record exists for threatID — a
// stale reference on the caller's side, never retried.
func (e *PromotionEngine) PromoteToShortTerm(ctx context.Context, threatID string, confidence float64, industry string, evidenceCount, analystInteractions int, memoryType MemoryType) (*ShortTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.promote.short_term",
		trace.WithAttributes(
			attribute.String("threat_id", threatID),
			attribute.Float64("confidence", confidence),
			attribute.String("memory_type", string(memoryType)),
		))
	defer span.End()

	if confidence < 0 || confidence > 1 {
		return nil, opErr("promote_short_term", tierShortTerm, threatID,
			fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, confidence))
	}
	if !memoryType.valid() {
		return nil, opErr("promote_short_term", tierShortTerm, threatID,
			fmt.Errorf("%w: memory type %q", ErrValidation, memoryType))
	}

	wm, err := e.working.GetThreat(ctx, threatID)
	if err != nil {
		return nil, opErr("promote_short_term", tierWorking, threatID, ErrPromotionInvariant)
	}

	now := time.Now().UTC()
	stm := &ShortTermMemory{
		ID:                  "stm_" + uuid.New().String()[:12],
		ThreatID:            threatID,
		Content:             wm.Content,
		Confidence:          confidence,
		Severity:            wm.Severity,
		Industry:            industry,
		FormedAt:            now,
		LastUpdated:         now,
		EvidenceCount:       evidenceCount,
		AnalystInteractions: analystInteractions,
		MemoryType:          memoryType,
		Score:               Score(confidence, evidenceCount, analystInteractions),
		Metadata:            wm.Metadata,
	}

	// Write the L2 record and its indexes first; only then tear down L1.
	if err := e.short.put(ctx, stm); err != nil {
		return nil, opErr("promote_short_term", tierShortTerm, threatID, err)
	}
	if err := e.store.Del(ctx, workingKey(threatID), analystsKey(threatID)); err != nil {
		return nil, opErr("promote_short_term", tierWorking, threatID, err)
	}
	if _, err := e.store.SRem(ctx, workingActiveKey, threatID); err != nil {
		return nil, opErr("promote_short_term", tierWorking, threatID, err)
	}

	promotionsL2.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("memory.id", stm.ID),
		attribute.Float64("memory.score", stm.Score),
	)
	return stm, nil
}

// PromoteToLongTerm moves an L2 record into L3, seeding it with
// consolidation_count=1 and queuing it for graph/vector export. Fails
// with ErrPromotionInvariant if the L2 record no longer exists.
func (e *PromotionEngine) PromoteToLongTerm(ctx context.Context, shortTermID string) (*LongTermMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.promote.long_term",
		trace.WithAttributes(attribute.String("short_term_id", shortTermID)))
	defer span.End()

	stm, err := e.short.Get(ctx, shortTermID)
	if err != nil {
		return nil, opErr("promote_long_term", tierShortTerm, "", ErrPromotionInvariant)
	}

	now := time.Now().UTC()
	ltm := &LongTermMemory{
		ID:                  "ltm_" + uuid.New().String()[:12],
		ThreatID:            stm.ThreatID,
		Content:             stm.Content,
		Confidence:          stm.Confidence,
		BaseConfidence:      stm.Confidence,
		Severity:            stm.Severity,
		Industry:            stm.Industry,
		FormedAt:            stm.FormedAt,
		LastUpdated:         now,
		EvidenceCount:       stm.EvidenceCount,
		AnalystInteractions: stm.AnalystInteractions,
		MemoryType:          stm.MemoryType,
		ConsolidationCount:  1,
		ExportPending:       true,
		CacheTier:           CacheHot,
		Metadata:            stm.Metadata,
	}

	if err := e.long.put(ctx, ltm); err != nil {
		return nil, opErr("promote_long_term", tierLongTerm, stm.ThreatID, err)
	}
	if err := e.short.remove(ctx, shortTermID); err != nil {
		return nil, opErr("promote_long_term", tierShortTerm, stm.ThreatID, err)
	}

	promotionsL3.Add(ctx, 1)
	span.SetAttributes(attribute.String("memory.id", ltm.ID))
	return ltm, nil
}

// GetTopShortTerm is the analyst triage view: the highest-score L2
// records via a reverse range on the rank index.
func (e *PromotionEngine) GetTopShortTerm(ctx context.Context, limit int) ([]*ShortTermMemory, error) {
	return e.short.GetTop(ctx, limit)
}
