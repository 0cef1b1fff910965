/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by a Repository is an *Error whose Kind
// is one of these, so callers match with errors.Is.
var (
	ErrEntityNotFound          = errors.New("entity not found")
	ErrEntityAttributeNotFound = errors.New("entity attribute not found")
	ErrCouldNotCreateEntity    = errors.New("could not create entity")
	ErrCouldNotUpdateEntity    = errors.New("could not update entity")
	ErrCouldNotDeleteEntity    = errors.New("could not delete entity")
	ErrCouldNotQueryEntity     = errors.New("could not query entity")
	ErrRepositoryConfiguration = errors.New("repository configuration error")
)

// ErrNoRowsAffected is returned by Session.Update and Session.Delete when the
// statement matched no row.
var ErrNoRowsAffected = errors.New("no rows affected")

var errNotUpdatable = errors.New("attribute is not updatable")

// Error describes a failed repository operation. Err holds the underlying
// cause, usually an engine error, and is never discarded.
type Error struct {
	Kind      error
	Op        string
	Entity    string
	ID        int64
	Attribute string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Entity != "" {
		b.WriteByte(' ')
		b.WriteString(e.Entity)
		if e.ID != 0 {
			fmt.Fprintf(&b, "(id=%d)", e.ID)
		}
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Attribute != "" {
		fmt.Fprintf(&b, " %q", e.Attribute)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsNotFound reports whether err is an ErrEntityNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsAttributeNotFound reports whether err is an ErrEntityAttributeNotFound.
func IsAttributeNotFound(err error) bool {
	return errors.Is(err, ErrEntityAttributeNotFound)
}
