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
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

// ActionTypeBuildUpgrade raises a building of the village by one level when it completes.
const ActionTypeBuildUpgrade = "BUILD_UPGRADE"

var buildingTypePattern = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)

// BuildUpgradePayload is the stored payload of a BUILD_UPGRADE action.
type BuildUpgradePayload struct {
	BuildingType string `json:"building_type"`
}

func (p BuildUpgradePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.BuildingType, validation.Required, validation.Match(buildingTypePattern)),
	)
}

// StartBuildingUpgrade charges the configured upgrade cost and schedules a BUILD_UPGRADE action.
func (h *Hamlet) StartBuildingUpgrade(ctx context.Context, villageID, buildingType string) (*model.Action, error) {
	payload := BuildUpgradePayload{BuildingType: buildingType}
	if err := payload.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	cost := model.UniformResources(decimal.NewFromFloat(h.game.BuildUpgradeCost))
	duration := time.Duration(h.game.BuildUpgradeDurationSec) * time.Second
	return h.ScheduleAction(ctx, villageID, ActionTypeBuildUpgrade, payload, duration, cost)
}

func (h *Hamlet) registerBuiltinEffects() error {
	return RegisterEffect(h.effects, ActionTypeBuildUpgrade, h.applyBuildUpgrade)
}

func (h *Hamlet) applyBuildUpgrade(ctx context.Context, villageID string, payload BuildUpgradePayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	level, err := h.datasource.UpgradeBuilding(ctx, villageID, payload.BuildingType, h.Now())
	if err != nil {
		return err
	}
	logrus.Infof("village %s upgraded %s to level %d", villageID, payload.BuildingType, level)
	return nil
}
