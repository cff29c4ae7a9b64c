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
package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hamletgame/hamlet/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// WithTx records the call and, unless an error was configured, runs fn with a nil transaction.
func (m *MockDataSource) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}

// Village methods

func (m *MockDataSource) CreateVillage(ctx context.Context, village model.Village) (model.Village, error) {
	args := m.Called(ctx, village)
	return args.Get(0).(model.Village), args.Error(1)
}

func (m *MockDataSource) GetVillageByID(ctx context.Context, id string) (*model.Village, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Village), args.Error(1)
}

func (m *MockDataSource) GetBalanceForUpdateInTx(ctx context.Context, tx *sql.Tx, villageID string) (*model.Balance, error) {
	args := m.Called(ctx, tx, villageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Balance), args.Error(1)
}

func (m *MockDataSource) UpdateBalanceInTx(ctx context.Context, tx *sql.Tx, balance *model.Balance) error {
	args := m.Called(ctx, tx, balance)
	return args.Error(0)
}

// Action methods

func (m *MockDataSource) InsertActionInTx(ctx context.Context, tx *sql.Tx, action *model.Action) error {
	args := m.Called(ctx, tx, action)
	return args.Error(0)
}

func (m *MockDataSource) GetAction(ctx context.Context, id string) (*model.Action, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Action), args.Error(1)
}

func (m *MockDataSource) GetActionsByVillage(ctx context.Context, villageID string, limit, offset int) ([]model.Action, error) {
	args := m.Called(ctx, villageID, limit, offset)
	actions, _ := args.Get(0).([]model.Action)
	return actions, args.Error(1)
}

func (m *MockDataSource) DueActions(ctx context.Context, now time.Time, limit int) ([]model.Action, error) {
	args := m.Called(ctx, now, limit)
	actions, _ := args.Get(0).([]model.Action)
	return actions, args.Error(1)
}

func (m *MockDataSource) TryClaimAction(ctx context.Context, actionID string, now time.Time) (bool, error) {
	args := m.Called(ctx, actionID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkActionTerminal(ctx context.Context, actionID string, status model.ActionStatus, lastError string, now time.Time) error {
	args := m.Called(ctx, actionID, status, lastError, now)
	return args.Error(0)
}

func (m *MockDataSource) GetStuckActions(ctx context.Context, claimedBefore time.Time, limit int) ([]model.Action, error) {
	args := m.Called(ctx, claimedBefore, limit)
	actions, _ := args.Get(0).([]model.Action)
	return actions, args.Error(1)
}

// Building methods

func (m *MockDataSource) UpgradeBuilding(ctx context.Context, villageID, buildingType string, now time.Time) (int, error) {
	args := m.Called(ctx, villageID, buildingType, now)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) GetBuildings(ctx context.Context, villageID string) ([]model.Building, error) {
	args := m.Called(ctx, villageID)
	buildings, _ := args.Get(0).([]model.Building)
	return buildings, args.Error(1)
}
