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
	"time"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

// UpgradeBuilding raises a building by one level, creating it at level 1 the first time.
// It returns the new level.
func (d Datasource) UpgradeBuilding(ctx context.Context, villageID, buildingType string, now time.Time) (int, error) {
	var level int
	err := d.Conn.QueryRowContext(ctx, d.rebind(`
		INSERT INTO buildings (village_id, type, level, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (village_id, type) DO UPDATE SET
			level = buildings.level + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING level
	`), villageID, buildingType, model.ToMillis(now)).Scan(&level)
	if err != nil {
		return 0, wrapWriteError(err, "Building")
	}
	return level, nil
}

func (d Datasource) GetBuildings(ctx context.Context, villageID string) ([]model.Building, error) {
	rows, err := d.Conn.QueryContext(ctx, d.rebind(`
		SELECT village_id, type, level, updated_at
		FROM buildings
		WHERE village_id = $1
		ORDER BY type ASC
	`), villageID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve buildings", err)
	}
	defer func() { _ = rows.Close() }()

	buildings := []model.Building{}
	for rows.Next() {
		var b model.Building
		var updatedAt int64
		if err := rows.Scan(&b.VillageID, &b.Type, &b.Level, &updatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan building", err)
		}
		b.UpdatedAt = model.FromMillis(updatedAt)
		buildings = append(buildings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over buildings", err)
	}
	return buildings, nil
}
