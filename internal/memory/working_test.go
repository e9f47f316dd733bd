package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsignal/threatmem/internal/kv"
)

func newWorkingTier() (*WorkingTier, *kv.Memory) {
	store := kv.NewMemory()
	return NewWorkingTier(store, time.Hour), store
}

func TestAddThreatCreatesActiveRecord(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	wm, err := tier.AddThreat(ctx, "T1", "Suspicious PowerShell", SeverityHigh, map[string]string{"source": "osint"})
	require.NoError(t, err)
	assert.NotEmpty(t, wm.ID)
	assert.Equal(t, "T1", wm.ThreatID)
	assert.Equal(t, SeverityHigh, wm.Severity)
	assert.Equal(t, 0, wm.InteractionCount)
	assert.Equal(t, 0, wm.AnalystCount)

	got, err := tier.GetThreat(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, wm.ID, got.ID)
	assert.Equal(t, "osint", got.Metadata["source"])

	active, err := tier.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, active)
}

func TestAddThreatRejectsDuplicateWhileActive(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "first", SeverityLow, nil)
	require.NoError(t, err)

	_, err = tier.AddThreat(ctx, "T1", "second", SeverityLow, nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAddThreatValidation(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	_, err := tier.AddThreat(ctx, "", "content", SeverityLow, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = tier.AddThreat(ctx, "T1", "content", Severity("URGENT"), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddThreatReclaimsExpiredMembership(t *testing.T) {
	ctx := context.Background()
	tier, store := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "first sighting", SeverityMedium, nil)
	require.NoError(t, err)

	// Let the record expire. Its active-set entry has no TTL and lingers.
	store.FastForward(2 * time.Hour)

	wm, err := tier.AddThreat(ctx, "T1", "second sighting", SeverityMedium, nil)
	require.NoError(t, err)
	assert.Equal(t, "second sighting", wm.Content)
}

func TestRecordInteractionCounts(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "content", SeverityHigh, nil)
	require.NoError(t, err)

	wm, err := tier.RecordInteraction(ctx, "T1", "alice", ActionView)
	require.NoError(t, err)
	assert.Equal(t, 1, wm.InteractionCount)
	assert.Equal(t, 1, wm.AnalystCount)

	// Same analyst again: interactions go up, analyst count does not.
	wm, err = tier.RecordInteraction(ctx, "T1", "alice", ActionEscalate)
	require.NoError(t, err)
	assert.Equal(t, 2, wm.InteractionCount)
	assert.Equal(t, 1, wm.AnalystCount)

	wm, err = tier.RecordInteraction(ctx, "T1", "bob", ActionView)
	require.NoError(t, err)
	assert.Equal(t, 3, wm.InteractionCount)
	assert.Equal(t, 2, wm.AnalystCount)
}

func TestRecordInteractionRejectsUnknownAction(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "content", SeverityHigh, nil)
	require.NoError(t, err)

	_, err = tier.RecordInteraction(ctx, "T1", "alice", "delete")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordInteractionNotFound(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	_, err := tier.RecordInteraction(ctx, "missing", "alice", ActionView)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordInteractionRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	tier, store := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "content", SeverityHigh, nil)
	require.NoError(t, err)

	store.FastForward(45 * time.Minute)
	_, err = tier.RecordInteraction(ctx, "T1", "alice", ActionView)
	require.NoError(t, err)

	// Past the original deadline but inside the refreshed one.
	store.FastForward(45 * time.Minute)
	_, err = tier.GetThreat(ctx, "T1")
	assert.NoError(t, err)
}

func TestExpiredThreatDisappears(t *testing.T) {
	ctx := context.Background()
	tier, store := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "content", SeverityHigh, nil)
	require.NoError(t, err)

	store.FastForward(2 * time.Hour)

	_, err = tier.GetThreat(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := tier.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "expired entries are pruned from the active set")
}

func TestGetHotOrdersByInteractions(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	for _, id := range []string{"T1", "T2", "T3"} {
		_, err := tier.AddThreat(ctx, id, "content", SeverityMedium, nil)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := tier.RecordInteraction(ctx, "T2", "alice", ActionView)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := tier.RecordInteraction(ctx, "T3", "bob", ActionView)
		require.NoError(t, err)
	}

	hot, err := tier.GetHot(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, "T2", hot[0].ThreatID)
	assert.Equal(t, "T3", hot[1].ThreatID)
}

func TestGetStale(t *testing.T) {
	ctx := context.Background()
	tier, store := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "content", SeverityLow, nil)
	require.NoError(t, err)

	stale, err := tier.GetStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// Backdate last_activity past the staleness cutoff.
	require.NoError(t, store.HSet(ctx, workingKey("T1"), map[string]string{
		"last_activity": encodeTime(time.Now().UTC().Add(-time.Hour)),
	}))

	stale, err = tier.GetStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "T1", stale[0].ThreatID)
}

func TestRemoveThreat(t *testing.T) {
	ctx := context.Background()
	tier, _ := newWorkingTier()

	_, err := tier.AddThreat(ctx, "T1", "content", SeverityLow, nil)
	require.NoError(t, err)
	require.NoError(t, tier.Remove(ctx, "T1"))

	_, err = tier.GetThreat(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = tier.Remove(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)
}
