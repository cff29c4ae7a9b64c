/*
Copyright 2024 Hamlet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hamlet

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/database"
	redis_db "github.com/hamletgame/hamlet/internal/redis-db"
)

// Hamlet represents the main struct of the game core. It owns the ledger, the scheduler
// and the effect registry used by the action worker.
type Hamlet struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	notifier   Notifier
	effects    *Dispatcher
	game       config.GameConfig
	now        func() time.Time
}

// Option customises a Hamlet instance at construction.
type Option func(*Hamlet)

// WithClock replaces the wall clock used for accrual and scheduling.
func WithClock(now func() time.Time) Option {
	return func(h *Hamlet) {
		h.now = now
	}
}

// WithNotifier replaces the outcome notifier.
func WithNotifier(n Notifier) Option {
	return func(h *Hamlet) {
		h.notifier = n
	}
}

// WithRedis sets the Redis client used for the stuck action monitor lock.
func WithRedis(client redis.UniversalClient) Option {
	return func(h *Hamlet) {
		h.redis = client
	}
}

// NewHamlet initializes a new instance of Hamlet with the provided datasource.
// It fetches the configuration, connects to Redis when one is configured and registers
// the built-in effects.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
// - opts ...Option: Optional overrides, mostly used by tests.
//
// Returns:
// - *Hamlet: A pointer to the newly created Hamlet instance.
// - error: An error if any of the initialization steps fail.
func NewHamlet(db database.IDataSource, opts ...Option) (*Hamlet, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	h := &Hamlet{
		datasource: db,
		notifier:   noopNotifier{},
		effects:    NewDispatcher(),
		game:       configuration.Game,
		now:        time.Now,
	}

	if configuration.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		h.redis = redisClient.Client()
		h.notifier = NewWebhookNotifier(configuration)
	}

	for _, opt := range opts {
		opt(h)
	}

	if err := h.registerBuiltinEffects(); err != nil {
		return nil, err
	}
	return h, nil
}

// Effects returns the registry the worker dispatches through. Callers may register
// additional action types on it before the worker starts.
func (h *Hamlet) Effects() *Dispatcher {
	return h.effects
}

// Now returns the current time as seen by this instance, truncated to the stored precision.
func (h *Hamlet) Now() time.Time {
	return h.now().UTC().Truncate(time.Millisecond)
}
