package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsignal/threatmem/internal/kv"
)

// promoteToLong walks a threat through the full pipeline and returns
// the resulting L3 record.
func promoteToLong(t *testing.T, ctx context.Context, working *WorkingTier, engine *PromotionEngine, threatID, industry string) *LongTermMemory {
	t.Helper()
	_, err := working.AddThreat(ctx, threatID, "content", SeverityHigh, nil)
	require.NoError(t, err)
	stm, err := engine.PromoteToShortTerm(ctx, threatID, 0.9, industry, 8, 4, TypeCampaign)
	require.NoError(t, err)
	ltm, err := engine.PromoteToLongTerm(ctx, stm.ID)
	require.NoError(t, err)
	return ltm
}

func TestConsolidateIncrementsAndRefreshes(t *testing.T) {
	ctx := context.Background()
	store, working, _, long, engine := newTiers()
	ltm := promoteToLong(t, ctx, working, engine, "T1", "finance")

	got, err := long.Consolidate(ctx, ltm.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsolidationCount)
	assert.True(t, got.LastUpdated.After(ltm.LastUpdated) || got.LastUpdated.Equal(ltm.LastUpdated))

	// Consolidation resets the 90-day clock.
	store.FastForward(89 * 24 * time.Hour)
	got, err = long.Consolidate(ctx, ltm.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ConsolidationCount)

	store.FastForward(89 * 24 * time.Hour)
	_, err = long.Get(ctx, ltm.ID)
	assert.NoError(t, err, "reinforced knowledge does not age out")
}

func TestConsolidateNotFound(t *testing.T) {
	ctx := context.Background()
	_, _, _, long, _ := newTiers()

	_, err := long.Consolidate(ctx, "ltm_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetFact(t *testing.T) {
	ctx := context.Background()
	_, working, _, long, engine := newTiers()
	ltm := promoteToLong(t, ctx, working, engine, "T1", "finance")

	require.NoError(t, long.SetFact(ctx, ltm.ID, true))
	got, err := long.Get(ctx, ltm.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFact)

	require.NoError(t, long.SetFact(ctx, ltm.ID, false))
	got, err = long.Get(ctx, ltm.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFact)

	assert.ErrorIs(t, long.SetFact(ctx, "ltm_missing", true), ErrNotFound)
}

// counterFailStore breaks the consolidation counter write only, so a
// record can be promoted normally first.
type counterFailStore struct {
	*kv.Memory
}

func (s *counterFailStore) HIncrBy(context.Context, string, string, int64) (int64, error) {
	return 0, kv.ErrUnavailable
}

func TestConsolidateErrorCarriesRecordContext(t *testing.T) {
	ctx := context.Background()
	store := &counterFailStore{Memory: kv.NewMemory()}
	working := NewWorkingTier(store, time.Hour)
	short := NewShortTermTier(store, 7*24*time.Hour)
	long := NewLongTermTier(store, 90*24*time.Hour)
	engine := NewPromotionEngine(store, working, short, long)
	ltm := promoteToLong(t, ctx, working, engine, "T1", "finance")

	_, err := long.Consolidate(ctx, ltm.ID)
	require.ErrorIs(t, err, ErrDependencyUnavailable)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "consolidate", terr.Op)
	assert.Equal(t, tierLongTerm, terr.Tier)
	assert.Equal(t, ltm.ID, terr.MemoryID)
	assert.Equal(t, "T1", terr.ThreatID)
}

func TestGetByIndustryPartitions(t *testing.T) {
	ctx := context.Background()
	_, working, _, long, engine := newTiers()

	fin1 := promoteToLong(t, ctx, working, engine, "T1", "finance")
	fin2 := promoteToLong(t, ctx, working, engine, "T2", "finance")
	promoteToLong(t, ctx, working, engine, "T3", "energy")

	finance, err := long.GetByIndustry(ctx, "finance", 0)
	require.NoError(t, err)
	require.Len(t, finance, 2)
	ids := []string{finance[0].ID, finance[1].ID}
	assert.ElementsMatch(t, []string{fin1.ID, fin2.ID}, ids)

	energy, err := long.GetByIndustry(ctx, "energy", 0)
	require.NoError(t, err)
	assert.Len(t, energy, 1)

	none, err := long.GetByIndustry(ctx, "healthcare", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetByIndustryPrunesExpired(t *testing.T) {
	ctx := context.Background()
	store, working, _, long, engine := newTiers()
	promoteToLong(t, ctx, working, engine, "T1", "finance")

	store.FastForward(91 * 24 * time.Hour)

	finance, err := long.GetByIndustry(ctx, "finance", 0)
	require.NoError(t, err)
	assert.Empty(t, finance)
}

func TestExportHandoffContract(t *testing.T) {
	ctx := context.Background()
	_, working, _, long, engine := newTiers()
	ltm := promoteToLong(t, ctx, working, engine, "T1", "finance")

	pending, err := long.ListExportPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ltm.ID}, pending)

	require.NoError(t, long.MarkExported(ctx, ltm.ID))

	pending, err = long.ListExportPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := long.Get(ctx, ltm.ID)
	require.NoError(t, err)
	assert.False(t, got.ExportPending)

	// Consolidation does not re-queue an already exported record.
	_, err = long.Consolidate(ctx, ltm.ID)
	require.NoError(t, err)
	pending, err = long.ListExportPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkExportedMissingRecordStillClearsSet(t *testing.T) {
	ctx := context.Background()
	store, working, _, long, engine := newTiers()
	ltm := promoteToLong(t, ctx, working, engine, "T1", "finance")

	store.FastForward(91 * 24 * time.Hour)

	err := long.MarkExported(ctx, ltm.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := long.ListExportPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "expired records do not stay queued forever")
}
