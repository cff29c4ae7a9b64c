package hamlet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"

	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/database"
	"github.com/hamletgame/hamlet/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	ids    []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, action model.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.ids = append(n.ids, action.ActionID)
	return nil
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type testEnv struct {
	hamlet   *Hamlet
	ds       *database.Datasource
	clock    *fakeClock
	notifier *recordingNotifier
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "hamlet-test",
		DataSource:  config.DataSourceConfig{Driver: config.DriverSQLite, Dns: ":memory:"},
		Game: config.GameConfig{
			ProductionRate:          10,
			StartingResources:       500,
			BuildUpgradeCost:        50,
			BuildUpgradeDurationSec: 10,
		},
		Worker: config.WorkerConfig{
			PollIntervalMs:        1000,
			BatchSize:             10,
			StuckThresholdSec:     300,
			StuckCheckIntervalSec: 60,
			WebhookQueue:          "hamlet_webhooks",
		},
	}
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	config.MockConfig(testConfig())

	db, err := database.ConnectDB(config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.Migrate(db, config.DriverSQLite, migrate.Up)
	require.NoError(t, err)

	ds := database.NewDatasourceFromDB(db, config.DriverSQLite, nil)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}

	opts = append([]Option{WithClock(clock.Now), WithNotifier(notifier)}, opts...)
	h, err := NewHamlet(ds, opts...)
	require.NoError(t, err)

	return &testEnv{hamlet: h, ds: ds, clock: clock, notifier: notifier}
}

func (e *testEnv) newVillage(t *testing.T) *model.Village {
	t.Helper()
	v, err := e.hamlet.CreateVillage(context.Background(), gofakeit.City())
	require.NoError(t, err)
	return v
}

func TestNewHamlet_RequiresConfig(t *testing.T) {
	config.ConfigStore = atomic.Value{}
	_, err := NewHamlet(nil)
	require.Error(t, err)
}

func TestNewHamlet_RegistersBuiltinEffects(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, []string{ActionTypeBuildUpgrade}, env.hamlet.Effects().Types())
}
