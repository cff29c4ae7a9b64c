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

package model

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hamletgame/hamlet/model"
)

var (
	actionTypePattern   = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)
	buildingTypePattern = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)
)

// MaxDurationMs is the largest duration_ms that still fits in a time.Duration.
const MaxDurationMs = math.MaxInt64 / int64(time.Millisecond)

type CreateVillage struct {
	Name string `json:"name"`
}

type ScheduleAction struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	DurationMs int64           `json:"duration_ms"`
	Cost       model.Resources `json:"cost"`
}

type StartBuildingUpgrade struct {
	BuildingType string `json:"building_type"`
}

func (v *CreateVillage) ValidateCreateVillage() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Name, validation.Required, validation.Length(1, 64)),
	)
}

func (s *ScheduleAction) ValidateScheduleAction() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Type, validation.Required, validation.Match(actionTypePattern)),
		validation.Field(&s.DurationMs, validation.Min(int64(0)), validation.Max(MaxDurationMs)),
		validation.Field(&s.Cost, validation.By(func(value interface{}) error {
			cost, _ := value.(model.Resources)
			if cost.HasNegative() {
				return errors.New("cost components cannot be negative")
			}
			return nil
		})),
	)
}

// Duration converts DurationMs into a time.Duration.
func (s *ScheduleAction) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// RawPayload returns the payload, or an empty object when none was sent.
func (s *ScheduleAction) RawPayload() json.RawMessage {
	if len(s.Payload) == 0 || string(s.Payload) == "null" {
		return json.RawMessage(`{}`)
	}
	return s.Payload
}

func (b *StartBuildingUpgrade) ValidateStartBuildingUpgrade() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.BuildingType, validation.Required, validation.Match(buildingTypePattern)),
	)
}
