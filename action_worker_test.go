package hamlet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletgame/hamlet/model"
)

type trainPayload struct {
	Unit  string `json:"unit"`
	Count int    `json:"count"`
}

func scheduleTrain(t *testing.T, env *testEnv, villageID string, duration time.Duration) *model.Action {
	t.Helper()
	a, err := env.hamlet.ScheduleAction(context.Background(), villageID, "TRAIN", trainPayload{Unit: "spearman", Count: 1}, duration, model.Resources{})
	require.NoError(t, err)
	return a
}

func TestActionWorker_EndToEndBuildUpgrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)
	worker := NewActionWorker(env.hamlet)

	env.clock.Advance(3 * time.Second)
	balance, err := env.hamlet.GetBalance(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, balance.Resources, 530)

	action, err := env.hamlet.StartBuildingUpgrade(ctx, v.VillageID, "barracks")
	require.NoError(t, err)

	stored, err := env.ds.GetVillageByID(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, stored.Balance.Resources, 480)

	env.clock.Advance(9 * time.Second)
	assert.Equal(t, 0, worker.ProcessDueActions(ctx))

	env.clock.Advance(time.Second)
	assert.Equal(t, 1, worker.ProcessDueActions(ctx))
	assert.Equal(t, 0, worker.ProcessDueActions(ctx))

	done, err := env.hamlet.GetAction(ctx, action.ActionID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatusCompleted, done.Status)
	assert.Empty(t, done.LastError)
	require.NotNil(t, done.FinishedAt)

	village, err := env.hamlet.GetVillage(ctx, v.VillageID)
	require.NoError(t, err)
	require.Len(t, village.Buildings, 1)
	assert.Equal(t, "barracks", village.Buildings[0].Type)
	assert.Equal(t, 1, village.Buildings[0].Level)

	assert.Equal(t, []string{EventActionCompleted}, env.notifier.Events())
}

func TestActionWorker_ProcessesBatchInEndTimeOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	var mu sync.Mutex
	var order []string
	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "TRAIN", func(_ context.Context, _ string, p trainPayload) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, p.Unit)
		return nil
	}))

	for _, tc := range []struct {
		unit     string
		duration time.Duration
	}{{"axeman", 3 * time.Second}, {"scout", time.Second}, {"knight", 2 * time.Second}} {
		_, err := env.hamlet.ScheduleAction(ctx, v.VillageID, "TRAIN", trainPayload{Unit: tc.unit, Count: 1}, tc.duration, model.Resources{})
		require.NoError(t, err)
	}

	env.clock.Advance(5 * time.Second)
	assert.Equal(t, 3, NewActionWorker(env.hamlet).ProcessDueActions(ctx))
	assert.Equal(t, []string{"scout", "knight", "axeman"}, order)
}

func TestActionWorker_BatchSizeLimitsIteration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)
	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "TRAIN", func(context.Context, string, trainPayload) error { return nil }))

	for i := 0; i < 5; i++ {
		scheduleTrain(t, env, v.VillageID, 0)
	}

	worker := NewActionWorker(env.hamlet).WithBatchSize(2)
	assert.Equal(t, 2, worker.ProcessDueActions(ctx))
	assert.Equal(t, 2, worker.ProcessDueActions(ctx))
	assert.Equal(t, 1, worker.ProcessDueActions(ctx))
	assert.Equal(t, 0, worker.ProcessDueActions(ctx))
}

func TestActionWorker_FailureModes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "EXPLODE", func(context.Context, string, trainPayload) error {
		return errors.New("barracks on fire")
	}))
	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "PANIC", func(context.Context, string, trainPayload) error {
		panic("handler bug")
	}))
	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "TRAIN", func(context.Context, string, trainPayload) error { return nil }))

	unknown, err := env.hamlet.ScheduleAction(ctx, v.VillageID, "SUMMON_DRAGON", map[string]string{}, 0, model.Resources{})
	require.NoError(t, err)
	failing, err := env.hamlet.ScheduleAction(ctx, v.VillageID, "EXPLODE", trainPayload{}, 0, model.Resources{})
	require.NoError(t, err)
	panicking, err := env.hamlet.ScheduleAction(ctx, v.VillageID, "PANIC", trainPayload{}, 0, model.Resources{})
	require.NoError(t, err)
	ok := scheduleTrain(t, env, v.VillageID, 0)

	assert.Equal(t, 4, NewActionWorker(env.hamlet).ProcessDueActions(ctx))

	cases := []struct {
		id       string
		status   model.ActionStatus
		errorHas string
	}{
		{unknown.ActionID, model.ActionStatusFailed, "UNKNOWN_ACTION_TYPE"},
		{failing.ActionID, model.ActionStatusFailed, "barracks on fire"},
		{panicking.ActionID, model.ActionStatusFailed, "handler bug"},
		{ok.ActionID, model.ActionStatusCompleted, ""},
	}
	for _, c := range cases {
		got, err := env.hamlet.GetAction(ctx, c.id)
		require.NoError(t, err)
		assert.Equal(t, c.status, got.Status, c.id)
		if c.errorHas == "" {
			assert.Empty(t, got.LastError)
		} else {
			assert.Contains(t, got.LastError, c.errorHas)
		}
	}

	assert.ElementsMatch(t,
		[]string{EventActionFailed, EventActionFailed, EventActionFailed, EventActionCompleted},
		env.notifier.Events())
}

func TestActionWorker_SkipsTickWhileBusy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "TRAIN", func(context.Context, string, trainPayload) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	}))
	scheduleTrain(t, env, v.VillageID, 0)

	worker := NewActionWorker(env.hamlet)
	done := make(chan int)
	go func() { done <- worker.ProcessDueActions(ctx) }()

	<-entered
	assert.Equal(t, 0, worker.ProcessDueActions(ctx))
	close(release)

	assert.Equal(t, 1, <-done)
	assert.Equal(t, int32(1), calls.Load())

	// The flag is cleared once the iteration returns.
	assert.False(t, worker.busy.Load())
}

func TestActionWorker_CompetingWorkersRunEachActionOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	var mu sync.Mutex
	runs := map[int]int{}
	require.NoError(t, RegisterEffect(env.hamlet.Effects(), "TRAIN", func(_ context.Context, _ string, p trainPayload) error {
		mu.Lock()
		defer mu.Unlock()
		runs[p.Count]++
		return nil
	}))

	const total = 20
	for i := 0; i < total; i++ {
		_, err := env.hamlet.ScheduleAction(ctx, v.VillageID, "TRAIN", trainPayload{Unit: "spearman", Count: i}, 0, model.Resources{})
		require.NoError(t, err)
	}

	workers := []*ActionWorker{
		NewActionWorker(env.hamlet).WithBatchSize(total),
		NewActionWorker(env.hamlet).WithBatchSize(total),
		NewActionWorker(env.hamlet).WithBatchSize(total),
	}
	var wg sync.WaitGroup
	var processed atomic.Int32
	for _, w := range workers {
		wg.Add(1)
		go func(w *ActionWorker) {
			defer wg.Done()
			processed.Add(int32(w.ProcessDueActions(ctx)))
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(total), processed.Load())
	assert.Len(t, runs, total)
	for count, n := range runs {
		assert.Equal(t, 1, n, "action %d ran %d times", count, n)
	}
}

func TestActionWorker_RestartPicksUpOverdueActions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	action, err := env.hamlet.StartBuildingUpgrade(ctx, v.VillageID, "wall")
	require.NoError(t, err)

	first := NewActionWorker(env.hamlet).WithPollInterval(5 * time.Millisecond)
	first.Start(ctx)
	assert.True(t, first.IsRunning())
	time.Sleep(30 * time.Millisecond)
	first.Stop()
	assert.False(t, first.IsRunning())

	pending, err := env.hamlet.GetAction(ctx, action.ActionID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatusPending, pending.Status)

	// Down past the end time, then a fresh worker comes up.
	env.clock.Advance(time.Minute)
	second := NewActionWorker(env.hamlet).WithPollInterval(5 * time.Millisecond)
	second.Start(ctx)
	defer second.Stop()

	assert.Eventually(t, func() bool {
		got, err := env.hamlet.GetAction(ctx, action.ActionID)
		return err == nil && got.Status == model.ActionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	buildings, err := env.ds.GetBuildings(ctx, v.VillageID)
	require.NoError(t, err)
	require.Len(t, buildings, 1)
	assert.Equal(t, 1, buildings[0].Level)
}

func TestActionWorker_StartIsIdempotentAndStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	worker := NewActionWorker(env.hamlet).WithPollInterval(5 * time.Millisecond)
	worker.Start(ctx)
	worker.Start(ctx)
	assert.True(t, worker.IsRunning())

	cancel()
	worker.Stop()
	assert.False(t, worker.IsRunning())
	worker.Stop()
}

func TestActionWorker_InsufficientEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	_, err := env.hamlet.DeductResources(ctx, v.VillageID, model.UniformResources(decimal.NewFromInt(480)))
	require.NoError(t, err)

	_, err = env.hamlet.StartBuildingUpgrade(ctx, v.VillageID, "barracks")
	require.Error(t, err)

	env.clock.Advance(time.Minute)
	assert.Equal(t, 0, NewActionWorker(env.hamlet).ProcessDueActions(ctx))
	assert.Empty(t, env.notifier.Events())
}
