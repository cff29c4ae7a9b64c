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
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

// CreateVillage sets up a new village with the configured starting resources and production rate.
// Production starts counting from the moment of creation.
func (h *Hamlet) CreateVillage(ctx context.Context, name string) (*model.Village, error) {
	ctx, span := tracer.Start(ctx, "Creating village")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Village name is required", nil)
	}

	now := h.Now()
	id := model.GenerateUUIDWithSuffix("vil")
	village := model.Village{
		VillageID: id,
		Name:      name,
		Balance: &model.Balance{
			VillageID: id,
			Resources: model.UniformResources(decimal.NewFromFloat(h.game.StartingResources)),
			Rate:      decimal.NewFromFloat(h.game.ProductionRate),
			LastTick:  now,
		},
		Buildings: []model.Building{},
		CreatedAt: now,
	}

	created, err := h.datasource.CreateVillage(ctx, village)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &created, nil
}

// GetVillage returns a village with its balance brought up to date and its buildings.
func (h *Hamlet) GetVillage(ctx context.Context, villageID string) (*model.Village, error) {
	balance, err := h.GetBalance(ctx, villageID)
	if err != nil {
		return nil, err
	}

	village, err := h.datasource.GetVillageByID(ctx, villageID)
	if err != nil {
		return nil, err
	}
	village.Balance = balance

	village.Buildings, err = h.datasource.GetBuildings(ctx, villageID)
	if err != nil {
		return nil, err
	}
	return village, nil
}
