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
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

const (
	defaultActionPageSize = 20
	maxActionPageSize     = 100
)

// ScheduleAction charges cost to a village and enqueues an action that completes after duration.
// The accrual, the deduction and the insert commit together or not at all.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - villageID string: The village paying for the action.
// - actionType string: The type tag used to find the codec and handler.
// - payload any: The action payload, encoded with the codec registered for actionType.
// - duration time.Duration: How long after now the action becomes due.
// - cost model.Resources: The resources deducted up front.
//
// Returns:
// - *model.Action: The PENDING action as stored.
// - error: INSUFFICIENT_RESOURCES, NOT_FOUND, INVALID_INPUT or an internal store error.
func (h *Hamlet) ScheduleAction(ctx context.Context, villageID, actionType string, payload any, duration time.Duration, cost model.Resources) (*model.Action, error) {
	ctx, span := tracer.Start(ctx, "Scheduling action")
	defer span.End()
	span.SetAttributes(
		attribute.String("village.id", villageID),
		attribute.String("action.type", actionType),
	)

	if actionType == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Action type is required", nil)
	}
	if duration < 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Duration cannot be negative", nil)
	}
	if cost.HasNegative() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Cost components cannot be negative", nil)
	}

	raw, err := h.effects.Encode(actionType, payload)
	if err != nil {
		return nil, err
	}

	now := h.Now()
	action := &model.Action{
		ActionID:  model.GenerateUUIDWithSuffix("act"),
		VillageID: villageID,
		Type:      actionType,
		Payload:   raw,
		StartTime: now,
		EndTime:   now.Add(duration).Truncate(time.Millisecond),
		Status:    model.ActionStatusPending,
		CreatedAt: now,
	}

	err = h.datasource.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := h.deductInTx(ctx, tx, villageID, cost, now); err != nil {
			return err
		}
		return h.datasource.InsertActionInTx(ctx, tx, action)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("action.id", action.ActionID))
	return action, nil
}

// GetAction returns a single action by ID.
func (h *Hamlet) GetAction(ctx context.Context, actionID string) (*model.Action, error) {
	return h.datasource.GetAction(ctx, actionID)
}

// ListVillageActions returns a page of a village's actions, newest first.
func (h *Hamlet) ListVillageActions(ctx context.Context, villageID string, limit, offset int) ([]model.Action, error) {
	if _, err := h.datasource.GetVillageByID(ctx, villageID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultActionPageSize
	}
	if limit > maxActionPageSize {
		limit = maxActionPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return h.datasource.GetActionsByVillage(ctx, villageID, limit, offset)
}
