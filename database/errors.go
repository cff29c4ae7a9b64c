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
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/hamletgame/hamlet/internal/apierror"
)

type constraintViolation int

const (
	noViolation constraintViolation = iota
	uniqueViolation
	foreignKeyViolation
	checkViolation
)

// classify maps driver specific constraint errors from postgres and sqlite onto one set.
func classify(err error) constraintViolation {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return uniqueViolation
		case "foreign_key_violation":
			return foreignKeyViolation
		case "check_violation":
			return checkViolation
		}
		return noViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return uniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			return foreignKeyViolation
		case sqlite3.ErrConstraintCheck:
			return checkViolation
		}
	}
	return noViolation
}

// wrapWriteError turns a failed insert or update into an APIError.
func wrapWriteError(err error, entity string) error {
	switch classify(err) {
	case uniqueViolation:
		return apierror.NewAPIError(apierror.ErrConflict, entity+" already exists", err)
	case foreignKeyViolation:
		return apierror.NewAPIError(apierror.ErrNotFound, "Referenced village not found", err)
	case checkViolation:
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid "+entity+" data", err)
	default:
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to write "+entity, err)
	}
}
