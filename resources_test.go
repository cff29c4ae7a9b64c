package hamlet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

func assertUniform(t *testing.T, r model.Resources, want int64) {
	t.Helper()
	expected := decimal.NewFromInt(want)
	for name, c := range map[string]decimal.Decimal{"wood": r.Wood, "clay": r.Clay, "iron": r.Iron, "crop": r.Crop} {
		assert.True(t, expected.Equal(c), "%s: want %s got %s", name, expected, c)
	}
}

func TestGetBalance_AccruesElapsedTimesRate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	env.clock.Advance(3 * time.Second)
	balance, err := env.hamlet.GetBalance(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, balance.Resources, 530)
	assert.True(t, balance.LastTick.Equal(env.clock.Now()))

	stored, err := env.ds.GetVillageByID(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, stored.Balance.Resources, 530)
	assert.True(t, stored.Balance.LastTick.Equal(env.clock.Now()))
}

func TestGetBalance_IdempotentWithoutElapsedTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	env.clock.Advance(1500 * time.Millisecond)
	first, err := env.hamlet.GetBalance(ctx, v.VillageID)
	require.NoError(t, err)
	second, err := env.hamlet.GetBalance(ctx, v.VillageID)
	require.NoError(t, err)

	assert.True(t, first.Wood.Equal(decimal.NewFromInt(515)))
	assert.True(t, first.Wood.Equal(second.Wood))
	assert.True(t, first.LastTick.Equal(second.LastTick))
}

func TestGetBalance_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.hamlet.GetBalance(context.Background(), "vil_missing")
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestDeductResources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	env.clock.Advance(2 * time.Second)
	balance, err := env.hamlet.DeductResources(ctx, v.VillageID, model.NewResources(20, 0, 520, 100))
	require.NoError(t, err)
	assert.True(t, balance.Wood.Equal(decimal.NewFromInt(500)))
	assert.True(t, balance.Clay.Equal(decimal.NewFromInt(520)))
	assert.True(t, balance.Iron.IsZero())
	assert.True(t, balance.Crop.Equal(decimal.NewFromInt(420)))
}

func TestDeductResources_InsufficientLeavesBalanceUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)
	created := env.clock.Now()

	env.clock.Advance(time.Second)
	_, err := env.hamlet.DeductResources(ctx, v.VillageID, model.NewResources(0, 0, 0, 511))
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientResources))
	assert.Contains(t, err.Error(), "crop")

	stored, err := env.ds.GetVillageByID(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, stored.Balance.Resources, 500)
	assert.True(t, stored.Balance.LastTick.Equal(created))
}

func TestDeductResources_RejectsNegativeCost(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVillage(t)

	_, err := env.hamlet.DeductResources(context.Background(), v.VillageID, model.NewResources(-1, 0, 0, 0))
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestDeductResources_ConcurrentCallsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.hamlet.DeductResources(ctx, v.VillageID, model.UniformResources(decimal.NewFromInt(100)))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, apierror.Is(err, apierror.ErrInsufficientResources), err.Error())
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	balance, err := env.hamlet.GetBalance(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, balance.Resources, 0)
}
