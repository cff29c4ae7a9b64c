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

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

// CreateVillage inserts a village row carrying its initial balance.
func (d Datasource) CreateVillage(ctx context.Context, village model.Village) (model.Village, error) {
	if village.Balance == nil {
		return model.Village{}, apierror.NewAPIError(apierror.ErrInvalidInput, "Village balance is required", nil)
	}
	b := village.Balance

	_, err := d.Conn.ExecContext(ctx, d.rebind(`
		INSERT INTO villages (village_id, name, wood, clay, iron, crop, rate, last_tick, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`), village.VillageID, village.Name, b.Wood, b.Clay, b.Iron, b.Crop, b.Rate,
		model.ToMillis(b.LastTick), model.ToMillis(village.CreatedAt))
	if err != nil {
		return model.Village{}, wrapWriteError(err, "Village")
	}

	return village, nil
}

// GetVillageByID returns the village with its balance exactly as stored. No accrual is applied.
func (d Datasource) GetVillageByID(ctx context.Context, id string) (*model.Village, error) {
	row := d.Conn.QueryRowContext(ctx, d.rebind(`
		SELECT village_id, name, wood, clay, iron, crop, rate, last_tick, created_at
		FROM villages
		WHERE village_id = $1
	`), id)

	village := model.Village{Balance: &model.Balance{}}
	var lastTick, createdAt int64
	err := row.Scan(
		&village.VillageID,
		&village.Name,
		&village.Balance.Wood,
		&village.Balance.Clay,
		&village.Balance.Iron,
		&village.Balance.Crop,
		&village.Balance.Rate,
		&lastTick,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Village not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve village", err)
	}

	village.Balance.VillageID = village.VillageID
	village.Balance.LastTick = model.FromMillis(lastTick)
	village.CreatedAt = model.FromMillis(createdAt)
	return &village, nil
}

// GetBalanceForUpdateInTx loads a balance and holds its row lock until tx ends.
// On sqlite the write lock is already taken by the immediate transaction.
func (d Datasource) GetBalanceForUpdateInTx(ctx context.Context, tx *sql.Tx, villageID string) (*model.Balance, error) {
	row := tx.QueryRowContext(ctx, d.rebind(`
		SELECT village_id, wood, clay, iron, crop, rate, last_tick
		FROM villages
		WHERE village_id = $1`+d.forUpdate()), villageID)

	balance := model.Balance{}
	var lastTick int64
	err := row.Scan(
		&balance.VillageID,
		&balance.Wood,
		&balance.Clay,
		&balance.Iron,
		&balance.Crop,
		&balance.Rate,
		&lastTick,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Village not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock village balance", err)
	}

	balance.LastTick = model.FromMillis(lastTick)
	return &balance, nil
}

// UpdateBalanceInTx writes all four components and last_tick in a single statement.
func (d Datasource) UpdateBalanceInTx(ctx context.Context, tx *sql.Tx, balance *model.Balance) error {
	result, err := tx.ExecContext(ctx, d.rebind(`
		UPDATE villages
		SET wood = $1, clay = $2, iron = $3, crop = $4, last_tick = $5
		WHERE village_id = $6
	`), balance.Wood, balance.Clay, balance.Iron, balance.Crop, model.ToMillis(balance.LastTick), balance.VillageID)
	if err != nil {
		return wrapWriteError(err, "Balance")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Village not found", nil)
	}
	return nil
}
