package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReinforceExtendsLifetime(t *testing.T) {
	ctx := context.Background()
	store, working, short, _, engine := newTiers()

	_, err := working.AddThreat(ctx, "T1", "content", SeverityHigh, nil)
	require.NoError(t, err)
	stm, err := engine.PromoteToShortTerm(ctx, "T1", 0.8, "finance", 5, 3, TypeValidated)
	require.NoError(t, err)

	// Near the end of the 7-day window, a reinforcement grants a full new one.
	store.FastForward(6 * 24 * time.Hour)
	reinforced, err := short.Reinforce(ctx, stm.ID)
	require.NoError(t, err)
	assert.True(t, reinforced.LastUpdated.After(stm.LastUpdated))

	store.FastForward(6 * 24 * time.Hour)
	_, err = short.Get(ctx, stm.ID)
	assert.NoError(t, err, "reinforced record outlives the original deadline")
}

func TestReinforceNotFound(t *testing.T) {
	ctx := context.Background()
	_, _, short, _, _ := newTiers()

	_, err := short.Reinforce(ctx, "stm_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadsDoNotRefreshTTL(t *testing.T) {
	ctx := context.Background()
	store, working, short, _, engine := newTiers()

	_, err := working.AddThreat(ctx, "T1", "content", SeverityHigh, nil)
	require.NoError(t, err)
	stm, err := engine.PromoteToShortTerm(ctx, "T1", 0.8, "finance", 5, 3, TypeValidated)
	require.NoError(t, err)

	store.FastForward(6 * 24 * time.Hour)
	_, err = short.Get(ctx, stm.ID)
	require.NoError(t, err)

	// The read above must not have extended the deadline.
	store.FastForward(2 * 24 * time.Hour)
	_, err = short.Get(ctx, stm.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShortTermCount(t *testing.T) {
	ctx := context.Background()
	_, working, short, _, engine := newTiers()

	n, err := short.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, id := range []string{"T1", "T2"} {
		_, err := working.AddThreat(ctx, id, "content", SeverityLow, nil)
		require.NoError(t, err)
		_, err = engine.PromoteToShortTerm(ctx, id, 0.5, "retail", 1, 1, TypeValidated)
		require.NoError(t, err)
	}

	n, err = short.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
