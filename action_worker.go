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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

// terminalWriteRetries bounds how often a failed terminal write is retried before the
// action is left for the stuck action monitor.
const terminalWriteRetries = 3

// ActionWorker polls the action store for due actions, claims them and runs their effects.
// All queue state lives in the database, so a restarted worker resumes by simply polling
// again. Many workers may run against the same store; the claim decides which one runs
// a given action.
type ActionWorker struct {
	hamlet       *Hamlet
	batchSize    int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex

	// busy is set for the duration of one iteration. A tick that finds it set is dropped.
	busy atomic.Bool
}

// NewActionWorker creates a worker with the default batch size and poll interval.
//
// Parameters:
// - hamlet *Hamlet: The Hamlet instance providing the datasource and effect registry.
//
// Returns:
// - *ActionWorker: The configured worker.
func NewActionWorker(hamlet *Hamlet) *ActionWorker {
	return &ActionWorker{
		hamlet:       hamlet,
		batchSize:    10,
		pollInterval: 1 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// WithBatchSize sets how many due actions one iteration fetches.
func (w *ActionWorker) WithBatchSize(size int) *ActionWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// WithPollInterval sets the interval between iterations.
func (w *ActionWorker) WithPollInterval(interval time.Duration) *ActionWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start begins polling in the background. Calling Start on a running worker does nothing.
func (w *ActionWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	logrus.Infof("Action worker started (batch=%d, interval=%v, effects=%v)", w.batchSize, w.pollInterval, w.hamlet.effects.Types())
}

// Stop signals the worker to stop and waits for the current iteration to finish.
func (w *ActionWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logrus.Info("Action worker stopped")
}

// IsRunning returns whether the worker is currently running.
func (w *ActionWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *ActionWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Action worker context cancelled")
			return
		case <-w.stopCh:
			logrus.Info("Action worker stop signal received")
			return
		case <-ticker.C:
			w.ProcessDueActions(ctx)
		}
	}
}

// ProcessDueActions runs one iteration: fetch due actions, claim each and dispatch the ones
// this worker won. It returns the number of actions this call finished, or 0 without doing
// anything when another iteration is still in progress.
func (w *ActionWorker) ProcessDueActions(ctx context.Context) int {
	if !w.busy.CompareAndSwap(false, true) {
		logrus.Debug("Action worker iteration still running, skipping tick")
		return 0
	}
	defer w.busy.Store(false)

	ctx, span := otel.Tracer("hamlet.actions.worker").Start(ctx, "Processing due actions")
	defer span.End()

	actions, err := w.hamlet.datasource.DueActions(ctx, w.hamlet.Now(), w.batchSize)
	if err != nil {
		span.RecordError(err)
		logrus.Errorf("failed to fetch due actions: %v", err)
		return 0
	}
	span.SetAttributes(attribute.Int("actions.due", len(actions)))

	if len(actions) == 0 {
		return 0
	}

	processed := 0
	for _, action := range actions {
		if ctx.Err() != nil {
			break
		}
		if w.processAction(ctx, action) {
			processed++
		}
	}
	return processed
}

// processAction claims and runs a single action. It returns false when another worker won the claim.
func (w *ActionWorker) processAction(ctx context.Context, action model.Action) bool {
	claimed, err := w.hamlet.datasource.TryClaimAction(ctx, action.ActionID, w.hamlet.Now())
	if err != nil {
		logrus.Errorf("failed to claim action %s: %v", action.ActionID, err)
		return false
	}
	if !claimed {
		logrus.Debugf("action %s already claimed by another worker", action.ActionID)
		return false
	}

	status := model.ActionStatusCompleted
	event := EventActionCompleted
	lastError := ""
	if err := w.hamlet.effects.Dispatch(ctx, action.Type, action.VillageID, action.Payload); err != nil {
		status = model.ActionStatusFailed
		event = EventActionFailed
		lastError = err.Error()
		logrus.Errorf("action %s (%s) failed: %v", action.ActionID, action.Type, err)
	}

	// The outcome is recorded even if ctx was cancelled while the effect ran.
	ctx = context.WithoutCancel(ctx)
	now := w.hamlet.Now()
	if err := w.markTerminal(ctx, action.ActionID, status, lastError, now); err != nil {
		logrus.Errorf("failed to mark action %s as %s: %v", action.ActionID, status, err)
		return true
	}

	action.Status = status
	action.LastError = lastError
	action.FinishedAt = &now
	if err := w.hamlet.notifier.Notify(ctx, event, action); err != nil {
		logrus.Warnf("failed to notify %s for action %s: %v", event, action.ActionID, err)
	}
	return true
}

// markTerminal records the outcome of an action. Store errors are retried with backoff;
// a CONFLICT, NOT_FOUND or INVALID_INPUT answer is final.
func (w *ActionWorker) markTerminal(ctx context.Context, actionID string, status model.ActionStatus, lastError string, now time.Time) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	policy := backoff.WithMaxRetries(b, terminalWriteRetries)

	return backoff.Retry(func() error {
		err := w.hamlet.datasource.MarkActionTerminal(ctx, actionID, status, lastError, now)
		if err == nil {
			return nil
		}
		if apierror.Is(err, apierror.ErrConflict) || apierror.Is(err, apierror.ErrNotFound) || apierror.Is(err, apierror.ErrInvalidInput) {
			return backoff.Permanent(err)
		}
		logrus.Warnf("retrying terminal write for action %s: %v", actionID, err)
		return err
	}, policy)
}
