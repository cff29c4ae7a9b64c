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
	"time"

	"github.com/shopspring/decimal"
)

// Resources is the four-component quantity used both for balances and for costs.
type Resources struct {
	Wood decimal.Decimal `json:"wood"`
	Clay decimal.Decimal `json:"clay"`
	Iron decimal.Decimal `json:"iron"`
	Crop decimal.Decimal `json:"crop"`
}

// NewResources builds a Resources value from plain floats.
func NewResources(wood, clay, iron, crop float64) Resources {
	return Resources{
		Wood: decimal.NewFromFloat(wood),
		Clay: decimal.NewFromFloat(clay),
		Iron: decimal.NewFromFloat(iron),
		Crop: decimal.NewFromFloat(crop),
	}
}

// UniformResources returns a value with every component set to amount.
func UniformResources(amount decimal.Decimal) Resources {
	return Resources{Wood: amount, Clay: amount, Iron: amount, Crop: amount}
}

// AddEach adds amount to every component.
func (r Resources) AddEach(amount decimal.Decimal) Resources {
	return Resources{
		Wood: r.Wood.Add(amount),
		Clay: r.Clay.Add(amount),
		Iron: r.Iron.Add(amount),
		Crop: r.Crop.Add(amount),
	}
}

// Sub subtracts other component-wise.
func (r Resources) Sub(other Resources) Resources {
	return Resources{
		Wood: r.Wood.Sub(other.Wood),
		Clay: r.Clay.Sub(other.Clay),
		Iron: r.Iron.Sub(other.Iron),
		Crop: r.Crop.Sub(other.Crop),
	}
}

// HasNegative reports whether any component is below zero.
func (r Resources) HasNegative() bool {
	return r.Wood.IsNegative() || r.Clay.IsNegative() || r.Iron.IsNegative() || r.Crop.IsNegative()
}

// Shortfall returns the names of the components where cost exceeds r.
// An empty result means r covers cost.
func (r Resources) Shortfall(cost Resources) []string {
	var short []string
	if cost.Wood.GreaterThan(r.Wood) {
		short = append(short, "wood")
	}
	if cost.Clay.GreaterThan(r.Clay) {
		short = append(short, "clay")
	}
	if cost.Iron.GreaterThan(r.Iron) {
		short = append(short, "iron")
	}
	if cost.Crop.GreaterThan(r.Crop) {
		short = append(short, "crop")
	}
	return short
}

// Balance is the stored resource state of one village.
type Balance struct {
	VillageID string `json:"village_id"`
	Resources
	Rate     decimal.Decimal `json:"rate"`
	LastTick time.Time       `json:"last_tick"`
}

// Accrue applies production for the time elapsed since LastTick and advances LastTick to now.
// Components and LastTick always move together. It returns false and leaves the balance
// untouched when no positive time has elapsed.
func (b *Balance) Accrue(now time.Time) bool {
	elapsedMs := ToMillis(now) - ToMillis(b.LastTick)
	if elapsedMs <= 0 {
		return false
	}
	seconds := decimal.NewFromInt(elapsedMs).Div(decimal.NewFromInt(1000))
	b.Resources = b.Resources.AddEach(seconds.Mul(b.Rate))
	b.LastTick = FromMillis(ToMillis(now))
	return true
}

type Village struct {
	VillageID string     `json:"village_id"`
	Name      string     `json:"name"`
	Balance   *Balance   `json:"resources,omitempty"`
	Buildings []Building `json:"buildings,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Building struct {
	VillageID string    `json:"village_id"`
	Type      string    `json:"type"`
	Level     int       `json:"level"`
	UpdatedAt time.Time `json:"updated_at"`
}
