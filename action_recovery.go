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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/internal/notification"
	redlock "github.com/hamletgame/hamlet/internal/lock"
	"github.com/hamletgame/hamlet/model"
)

const stuckMonitorLockKey = "hamlet:stuck-action-monitor"

// StuckActionMonitor reports actions that have stayed in PROCESSING longer than a threshold,
// which happens when a worker dies between claiming an action and recording its outcome.
// By default it only reports them. With failStuck set it moves them to FAILED; it never
// puts an action back to PENDING, so an effect can not run twice.
type StuckActionMonitor struct {
	hamlet         *Hamlet
	batchSize      int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	failStuck      bool
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

// NewStuckActionMonitor creates a monitor using the worker section of the configuration.
func NewStuckActionMonitor(hamlet *Hamlet) *StuckActionMonitor {
	m := &StuckActionMonitor{
		hamlet:         hamlet,
		batchSize:      100,
		pollInterval:   1 * time.Minute,
		stuckThreshold: 5 * time.Minute,
		stopCh:         make(chan struct{}),
	}

	cfg, err := config.Fetch()
	if err == nil {
		if cfg.Worker.StuckCheckIntervalSec > 0 {
			m.pollInterval = cfg.Worker.StuckCheckInterval()
		}
		if cfg.Worker.StuckThresholdSec > 0 {
			m.stuckThreshold = cfg.Worker.StuckThreshold()
		}
		m.failStuck = cfg.Worker.FailStuckActions
	}
	return m
}

func (m *StuckActionMonitor) WithThreshold(threshold time.Duration) *StuckActionMonitor {
	m.stuckThreshold = threshold
	return m
}

func (m *StuckActionMonitor) WithPollInterval(interval time.Duration) *StuckActionMonitor {
	m.pollInterval = interval
	return m
}

// WithFailStuck controls whether stuck actions are moved to FAILED after being reported.
// A handler that outlives the threshold is failed too, so the threshold must exceed the
// slowest effect.
func (m *StuckActionMonitor) WithFailStuck(fail bool) *StuckActionMonitor {
	m.failStuck = fail
	return m
}

func (m *StuckActionMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()

	logrus.Infof("Stuck action monitor started (threshold=%v, fail_stuck=%t)", m.stuckThreshold, m.failStuck)
}

func (m *StuckActionMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logrus.Info("Stuck action monitor stopped")
}

func (m *StuckActionMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *StuckActionMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stuck action monitor context cancelled")
			return
		case <-m.stopCh:
			logrus.Info("Stuck action monitor stop signal received")
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				logrus.Errorf("stuck action sweep failed: %v", err)
			}
		}
	}
}

// leaseTTL is a little shorter than the poll interval, so the lease taken on one tick has
// expired by the next tick of the same instance.
func (m *StuckActionMonitor) leaseTTL() time.Duration {
	ttl := m.pollInterval - m.pollInterval/10
	if ttl <= 0 {
		return m.pollInterval
	}
	return ttl
}

// Sweep runs one check and returns how many stuck actions it found.
// With Redis configured only one instance sweeps per poll interval. A sweep that fails
// releases the lease so another instance can retry without waiting for it to expire.
func (m *StuckActionMonitor) Sweep(ctx context.Context) (int, error) {
	var locker *redlock.Locker
	if m.hamlet.redis != nil {
		locker = redlock.NewLocker(m.hamlet.redis, stuckMonitorLockKey, model.GenerateUUIDWithSuffix("loc"))
		acquired, err := locker.TryLock(ctx, m.leaseTTL())
		if err != nil {
			return 0, err
		}
		if !acquired {
			logrus.Debug("stuck action sweep is running on another instance")
			return 0, nil
		}
	}

	now := m.hamlet.Now()
	stuck, err := m.hamlet.datasource.GetStuckActions(ctx, now.Add(-m.stuckThreshold), m.batchSize)
	if err != nil {
		if locker != nil {
			if unlockErr := locker.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
				logrus.Warnf("failed to release stuck action lease: %v", unlockErr)
			}
		}
		return 0, err
	}

	for _, action := range stuck {
		m.handleStuck(ctx, action, now)
	}
	return len(stuck), nil
}

func (m *StuckActionMonitor) handleStuck(ctx context.Context, action model.Action, now time.Time) {
	claimedFor := time.Duration(0)
	if action.ClaimedAt != nil {
		claimedFor = now.Sub(*action.ClaimedAt)
	}
	notification.NotifyError(fmt.Errorf("action %s (%s) of village %s has been PROCESSING for %v",
		action.ActionID, action.Type, action.VillageID, claimedFor.Truncate(time.Second)))

	if err := m.hamlet.notifier.Notify(ctx, EventActionStuck, action); err != nil {
		logrus.Warnf("failed to notify stuck action %s: %v", action.ActionID, err)
	}

	if !m.failStuck {
		return
	}

	reason := fmt.Sprintf("stuck in PROCESSING for %v", claimedFor.Truncate(time.Second))
	err := m.hamlet.datasource.MarkActionTerminal(ctx, action.ActionID, model.ActionStatusFailed, reason, now)
	switch {
	case err == nil:
		action.Status = model.ActionStatusFailed
		action.LastError = reason
		action.FinishedAt = &now
		if err := m.hamlet.notifier.Notify(ctx, EventActionFailed, action); err != nil {
			logrus.Warnf("failed to notify %s for action %s: %v", EventActionFailed, action.ActionID, err)
		}
	case apierror.Is(err, apierror.ErrConflict):
		// The owning worker finished it in the meantime.
		logrus.Infof("stuck action %s finished before it could be failed", action.ActionID)
	default:
		logrus.Errorf("failed to mark stuck action %s as FAILED: %v", action.ActionID, err)
	}
}
