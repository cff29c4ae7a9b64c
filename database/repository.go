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
	"time"

	"github.com/hamletgame/hamlet/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	transactor // Interface for running work inside one database transaction
	village    // Interface for village and balance operations
	action     // Interface for the durable action queue
	building   // Interface for building levels
}

// transactor exposes the unit of work shared by the ledger and the scheduler.
type transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// village defines methods for handling villages and their balances.
type village interface {
	CreateVillage(ctx context.Context, village model.Village) (model.Village, error)                     // Creates a village together with its balance
	GetVillageByID(ctx context.Context, id string) (*model.Village, error)                               // Retrieves a village and its stored balance
	GetBalanceForUpdateInTx(ctx context.Context, tx *sql.Tx, villageID string) (*model.Balance, error) // Loads and row-locks a balance
	UpdateBalanceInTx(ctx context.Context, tx *sql.Tx, balance *model.Balance) error                   // Persists components and last tick together
}

// action defines methods for the persistent action queue.
type action interface {
	InsertActionInTx(ctx context.Context, tx *sql.Tx, action *model.Action) error                                            // Enqueues an action inside the caller's transaction
	GetAction(ctx context.Context, id string) (*model.Action, error)                                                         // Retrieves an action by ID
	GetActionsByVillage(ctx context.Context, villageID string, limit, offset int) ([]model.Action, error)                     // Lists a village's actions, newest first
	DueActions(ctx context.Context, now time.Time, limit int) ([]model.Action, error)                                        // Pending actions whose end time has passed
	TryClaimAction(ctx context.Context, actionID string, now time.Time) (bool, error)                                       // Moves PENDING to PROCESSING; false when another claimer won
	MarkActionTerminal(ctx context.Context, actionID string, status model.ActionStatus, lastError string, now time.Time) error // Moves PROCESSING to COMPLETED or FAILED
	GetStuckActions(ctx context.Context, claimedBefore time.Time, limit int) ([]model.Action, error)                          // PROCESSING actions claimed before the cutoff
}

// building defines methods for building levels.
type building interface {
	UpgradeBuilding(ctx context.Context, villageID, buildingType string, now time.Time) (int, error) // Raises a building one level, creating it at level 1
	GetBuildings(ctx context.Context, villageID string) ([]model.Building, error)                   // Lists a village's buildings
}
