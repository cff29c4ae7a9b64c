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
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

var (
	tracer = otel.Tracer("Hamlet ledger")
)

// GetBalance brings a village's balance up to date and returns it.
// Accrual and its persistence happen in one transaction under the village row lock,
// so concurrent readers never double count production.
func (h *Hamlet) GetBalance(ctx context.Context, villageID string) (*model.Balance, error) {
	ctx, span := tracer.Start(ctx, "Getting balance")
	defer span.End()
	span.SetAttributes(attribute.String("village.id", villageID))

	var balance *model.Balance
	err := h.datasource.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = h.accrueInTx(ctx, tx, villageID, h.Now())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return balance, nil
}

// DeductResources accrues and then subtracts cost from a village's balance.
// When any component of cost exceeds the balance nothing is written.
func (h *Hamlet) DeductResources(ctx context.Context, villageID string, cost model.Resources) (*model.Balance, error) {
	ctx, span := tracer.Start(ctx, "Deducting resources")
	defer span.End()
	span.SetAttributes(attribute.String("village.id", villageID))

	if cost.HasNegative() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Cost components cannot be negative", nil)
	}

	var balance *model.Balance
	err := h.datasource.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = h.deductInTx(ctx, tx, villageID, cost, h.Now())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return balance, nil
}

// accrueInTx locks the balance row, applies production up to now and writes it back
// when anything changed.
func (h *Hamlet) accrueInTx(ctx context.Context, tx *sql.Tx, villageID string, now time.Time) (*model.Balance, error) {
	balance, err := h.datasource.GetBalanceForUpdateInTx(ctx, tx, villageID)
	if err != nil {
		return nil, err
	}

	if balance.Accrue(now) {
		if err := h.datasource.UpdateBalanceInTx(ctx, tx, balance); err != nil {
			return nil, err
		}
	}
	return balance, nil
}

// deductInTx is the accrue, compare and subtract step shared by DeductResources and ScheduleAction.
// The caller's transaction is expected to roll back on error, which also discards the accrual write.
func (h *Hamlet) deductInTx(ctx context.Context, tx *sql.Tx, villageID string, cost model.Resources, now time.Time) (*model.Balance, error) {
	balance, err := h.accrueInTx(ctx, tx, villageID, now)
	if err != nil {
		return nil, err
	}

	if short := balance.Shortfall(cost); len(short) > 0 {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientResources,
			fmt.Sprintf("Insufficient %s in village %s", strings.Join(short, ", "), villageID), nil)
	}

	balance.Resources = balance.Resources.Sub(cost)
	if err := h.datasource.UpdateBalanceInTx(ctx, tx, balance); err != nil {
		return nil, err
	}
	return balance, nil
}
