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
	"time"
)

type ActionStatus string

// Action lifecycle. Status only moves forward: PENDING -> PROCESSING -> COMPLETED | FAILED.
const (
	ActionStatusPending    ActionStatus = "PENDING"
	ActionStatusProcessing ActionStatus = "PROCESSING"
	ActionStatusCompleted  ActionStatus = "COMPLETED"
	ActionStatusFailed     ActionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	switch s {
	case ActionStatusPending:
		return next == ActionStatusProcessing
	case ActionStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// Action is a paid-for, time-delayed effect waiting in the durable queue.
// Payload holds the JSON document produced by the codec registered for Type.
type Action struct {
	ActionID   string          `json:"action_id"`
	VillageID  string          `json:"village_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Status     ActionStatus    `json:"status"`
	ClaimedAt  *time.Time      `json:"claimed_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
