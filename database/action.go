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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

const (
	actionColumns = `action_id, village_id, type, payload, start_time, end_time, status, claimed_at, finished_at, last_error, created_at`

	// Terminal actions never change again, so they can be served from the cache.
	terminalActionTTL = 10 * time.Minute
)

func actionCacheKey(id string) string {
	return fmt.Sprintf("action:%s", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (model.Action, error) {
	var (
		a                             model.Action
		payload                       string
		status                        string
		startTime, endTime, createdAt int64
		claimedAt, finishedAt         sql.NullInt64
	)
	err := row.Scan(
		&a.ActionID,
		&a.VillageID,
		&a.Type,
		&payload,
		&startTime,
		&endTime,
		&status,
		&claimedAt,
		&finishedAt,
		&a.LastError,
		&createdAt,
	)
	if err != nil {
		return model.Action{}, err
	}

	a.Payload = []byte(payload)
	a.Status = model.ActionStatus(status)
	a.StartTime = model.FromMillis(startTime)
	a.EndTime = model.FromMillis(endTime)
	a.CreatedAt = model.FromMillis(createdAt)
	if claimedAt.Valid {
		t := model.FromMillis(claimedAt.Int64)
		a.ClaimedAt = &t
	}
	if finishedAt.Valid {
		t := model.FromMillis(finishedAt.Int64)
		a.FinishedAt = &t
	}
	return a, nil
}

func scanActions(rows *sql.Rows) ([]model.Action, error) {
	actions := []model.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan action", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over actions", err)
	}
	return actions, nil
}

// InsertActionInTx enqueues action as part of the caller's transaction, so the action
// becomes visible exactly when the caller's other writes commit.
func (d Datasource) InsertActionInTx(ctx context.Context, tx *sql.Tx, action *model.Action) error {
	ctx, span := otel.Tracer("Action store").Start(ctx, "Inserting action")
	defer span.End()

	if action.Status == "" {
		action.Status = model.ActionStatusPending
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = action.StartTime
	}

	_, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO actions (action_id, village_id, type, payload, start_time, end_time, status, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8)
	`), action.ActionID, action.VillageID, action.Type, string(action.Payload),
		model.ToMillis(action.StartTime), model.ToMillis(action.EndTime), string(action.Status), model.ToMillis(action.CreatedAt))
	if err != nil {
		span.RecordError(err)
		return wrapWriteError(err, "Action")
	}
	return nil
}

// GetAction retrieves an action by ID. Terminal actions are cached when a cache is configured.
func (d Datasource) GetAction(ctx context.Context, id string) (*model.Action, error) {
	ctx, span := otel.Tracer("Action store").Start(ctx, "Fetching action")
	defer span.End()

	if d.Cache != nil {
		cached := model.Action{}
		if err := d.Cache.Get(ctx, actionCacheKey(id), &cached); err == nil && cached.ActionID != "" {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, d.rebind(`SELECT `+actionColumns+` FROM actions WHERE action_id = $1`), id)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Action not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve action", err)
	}

	if d.Cache != nil && action.Status.IsTerminal() {
		if err := d.Cache.Set(ctx, actionCacheKey(id), action, terminalActionTTL); err != nil {
			logrus.Warnf("failed to cache action %s: %v", id, err)
		}
	}
	return &action, nil
}

// GetActionsByVillage lists a village's actions, most recently scheduled first.
func (d Datasource) GetActionsByVillage(ctx context.Context, villageID string, limit, offset int) ([]model.Action, error) {
	rows, err := d.Conn.QueryContext(ctx, d.rebind(`
		SELECT `+actionColumns+`
		FROM actions
		WHERE village_id = $1
		ORDER BY start_time DESC, id DESC
		LIMIT $2 OFFSET $3
	`), villageID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve village actions", err)
	}
	defer func() { _ = rows.Close() }()

	return scanActions(rows)
}

// DueActions returns up to limit PENDING actions whose end time is at or before now,
// earliest end time first.
func (d Datasource) DueActions(ctx context.Context, now time.Time, limit int) ([]model.Action, error) {
	ctx, span := otel.Tracer("Action store").Start(ctx, "Fetching due actions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, d.rebind(`
		SELECT `+actionColumns+`
		FROM actions
		WHERE status = $1 AND end_time <= $2
		ORDER BY end_time ASC, id ASC
		LIMIT $3
	`), string(model.ActionStatusPending), model.ToMillis(now), limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due actions", err)
	}
	defer func() { _ = rows.Close() }()

	return scanActions(rows)
}

// TryClaimAction moves an action from PENDING to PROCESSING with a single conditional update.
// It returns false when the action was not PENDING, which is how a lost race shows up.
func (d Datasource) TryClaimAction(ctx context.Context, actionID string, now time.Time) (bool, error) {
	ctx, span := otel.Tracer("Action store").Start(ctx, "Claiming action")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, d.rebind(`
		UPDATE actions
		SET status = $1, claimed_at = $2
		WHERE action_id = $3 AND status = $4
	`), string(model.ActionStatusProcessing), model.ToMillis(now), actionID, string(model.ActionStatusPending))
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim action", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// MarkActionTerminal moves a PROCESSING action to COMPLETED or FAILED.
func (d Datasource) MarkActionTerminal(ctx context.Context, actionID string, status model.ActionStatus, lastError string, now time.Time) error {
	ctx, span := otel.Tracer("Action store").Start(ctx, "Finishing action")
	defer span.End()

	if !model.ActionStatusProcessing.CanTransitionTo(status) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("%s is not a terminal status", status), nil)
	}

	result, err := d.Conn.ExecContext(ctx, d.rebind(`
		UPDATE actions
		SET status = $1, finished_at = $2, last_error = $3
		WHERE action_id = $4 AND status = $5
	`), string(status), model.ToMillis(now), lastError, actionID, string(model.ActionStatusProcessing))
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update action status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	var current string
	err = d.Conn.QueryRowContext(ctx, d.rebind(`SELECT status FROM actions WHERE action_id = $1`), actionID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NewAPIError(apierror.ErrNotFound, "Action not found", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve action", err)
	}
	return apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("Action %s is %s, expected %s", actionID, current, model.ActionStatusProcessing), nil)
}

// GetStuckActions returns PROCESSING actions claimed at or before claimedBefore, oldest claim first.
func (d Datasource) GetStuckActions(ctx context.Context, claimedBefore time.Time, limit int) ([]model.Action, error) {
	rows, err := d.Conn.QueryContext(ctx, d.rebind(`
		SELECT `+actionColumns+`
		FROM actions
		WHERE status = $1 AND claimed_at <= $2
		ORDER BY claimed_at ASC, id ASC
		LIMIT $3
	`), string(model.ActionStatusProcessing), model.ToMillis(claimedBefore), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck actions", err)
	}
	defer func() { _ = rows.Close() }()

	return scanActions(rows)
}
