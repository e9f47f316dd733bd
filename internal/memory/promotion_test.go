package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsignal/threatmem/internal/kv"
)

func newTiers() (*kv.Memory, *WorkingTier, *ShortTermTier, *LongTermTier, *PromotionEngine) {
	store := kv.NewMemory()
	working := NewWorkingTier(store, time.Hour)
	short := NewShortTermTier(store, 7*24*time.Hour)
	long := NewLongTermTier(store, 90*24*time.Hour)
	return store, working, short, long, NewPromotionEngine(store, working, short, long)
}

func TestScoreFormula(t *testing.T) {
	cases := []struct {
		name                string
		confidence          float64
		evidence            int
		analystInteractions int
		want                float64
	}{
		{"all zero", 0, 0, 0, 0},
		{"mid-range", 0.75, 5, 3, 0.645},
		{"evidence capped at ten", 1.0, 100, 0, 0.8},
		{"interactions capped at five", 1.0, 0, 50, 0.7},
		{"everything maxed", 1.0, 10, 5, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Score(tc.confidence, tc.evidence, tc.analystInteractions), 1e-9)
		})
	}
}

func TestPromoteToShortTermMovesRecord(t *testing.T) {
	ctx := context.Background()
	_, working, short, _, engine := newTiers()

	_, err := working.AddThreat(ctx, "T1", "Suspicious PowerShell", SeverityHigh, map[string]string{"source": "edr"})
	require.NoError(t, err)

	stm, err := engine.PromoteToShortTerm(ctx, "T1", 0.75, "finance", 5, 3, TypeValidated)
	require.NoError(t, err)
	assert.Equal(t, "T1", stm.ThreatID)
	assert.Equal(t, "Suspicious PowerShell", stm.Content)
	assert.Equal(t, SeverityHigh, stm.Severity)
	assert.Equal(t, "finance", stm.Industry)
	assert.InDelta(t, 0.645, stm.Score, 1e-9)
	assert.Equal(t, "edr", stm.Metadata["source"], "metadata travels with the record")

	// Tier exclusivity: the L1 record is gone.
	_, err = working.GetThreat(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)
	active, err := working.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := short.Get(ctx, stm.ID)
	require.NoError(t, err)
	assert.Equal(t, stm.ID, got.ID)
}

func TestPromoteToShortTermValidation(t *testing.T) {
	ctx := context.Background()
	_, working, _, _, engine := newTiers()

	_, err := working.AddThreat(ctx, "T1", "content", SeverityLow, nil)
	require.NoError(t, err)

	_, err = engine.PromoteToShortTerm(ctx, "T1", 1.5, "finance", 1, 1, TypeValidated)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = engine.PromoteToShortTerm(ctx, "T1", 0.5, "finance", 1, 1, MemoryType("GUESS"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPromoteToShortTermWithoutLiveRecord(t *testing.T) {
	ctx := context.Background()
	_, _, _, _, engine := newTiers()

	_, err := engine.PromoteToShortTerm(ctx, "never-added", 0.5, "finance", 1, 1, TypeValidated)
	assert.ErrorIs(t, err, ErrPromotionInvariant)
}

func TestPromoteToLongTermSeedsRecord(t *testing.T) {
	ctx := context.Background()
	_, working, short, long, engine := newTiers()

	_, err := working.AddThreat(ctx, "T1", "content", SeverityCritical, nil)
	require.NoError(t, err)
	stm, err := engine.PromoteToShortTerm(ctx, "T1", 0.9, "energy", 8, 5, TypeCampaign)
	require.NoError(t, err)

	ltm, err := engine.PromoteToLongTerm(ctx, stm.ID)
	require.NoError(t, err)
	assert.Equal(t, "T1", ltm.ThreatID)
	assert.Equal(t, 1, ltm.ConsolidationCount)
	assert.True(t, ltm.ExportPending)
	assert.False(t, ltm.IsFact)
	assert.Equal(t, CacheHot, ltm.CacheTier)
	assert.Equal(t, 0.9, ltm.Confidence)
	assert.Equal(t, 0.9, ltm.BaseConfidence)

	// Tier exclusivity: the L2 record and its rank entry are gone.
	_, err = short.Get(ctx, stm.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	top, err := engine.GetTopShortTerm(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	pending, err := long.ListExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ltm.ID}, pending)
}

func TestPromoteToLongTermWithoutLiveRecord(t *testing.T) {
	ctx := context.Background()
	_, _, _, _, engine := newTiers()

	_, err := engine.PromoteToLongTerm(ctx, "stm_missing")
	assert.ErrorIs(t, err, ErrPromotionInvariant)
}

func TestGetTopShortTermRanksByScore(t *testing.T) {
	ctx := context.Background()
	_, working, _, _, engine := newTiers()

	promote := func(threatID string, confidence float64, evidence, interactions int) *ShortTermMemory {
		_, err := working.AddThreat(ctx, threatID, "content", SeverityMedium, nil)
		require.NoError(t, err)
		stm, err := engine.PromoteToShortTerm(ctx, threatID, confidence, "finance", evidence, interactions, TypeValidated)
		require.NoError(t, err)
		return stm
	}

	low := promote("T1", 0.3, 1, 0)
	high := promote("T2", 0.95, 10, 5)
	mid := promote("T3", 0.6, 4, 2)

	top, err := engine.GetTopShortTerm(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, high.ID, top[0].ID)
	assert.Equal(t, mid.ID, top[1].ID)

	top, err = engine.GetTopShortTerm(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, low.ID, top[2].ID)
}

func TestGetTopSkipsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	store, working, short, _, engine := newTiers()

	_, err := working.AddThreat(ctx, "T1", "content", SeverityMedium, nil)
	require.NoError(t, err)
	_, err = engine.PromoteToShortTerm(ctx, "T1", 0.9, "finance", 5, 3, TypeValidated)
	require.NoError(t, err)

	// Expire the record; the rank index entry lingers until pruned.
	store.FastForward(8 * 24 * time.Hour)

	top, err := engine.GetTopShortTerm(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	n, err := short.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "pruning removes the orphaned rank entry")
}
