// Copyright 2023 the fmcmdd Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package util contains helpers shared by the feature model parser,
// the variable synthesizer and the counting pipeline.
package util

import "strings"

// Errors aggregates the errors encountered while processing a feature
// model, so that a caller can report all of them in one pass rather
// than stopping at the first.
type Errors []error

// Error implements the error interface.
func (e Errors) Error() string {
	var b strings.Builder
	for i, err := range e {
		if err == nil {
			continue
		}
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// String implements the stringer interface.
func (e Errors) String() string {
	return e.Error()
}

// NewErrs returns an Errors holding only err, or nil if err is nil.
func NewErrs(err error) Errors {
	if err == nil {
		return nil
	}
	return Errors{err}
}

// AppendErr appends err to errs unless it is nil, and returns the result.
func AppendErr(errs Errors, err error) Errors {
	if err == nil {
		return errs
	}
	return append(errs, err)
}

// AppendErrs appends every non-nil error in newErrs to errs and returns
// the result.
func AppendErrs(errs Errors, newErrs Errors) Errors {
	for _, e := range newErrs {
		errs = AppendErr(errs, e)
	}
	return errs
}

// Err collapses errs to a single error value: nil when no non-nil error
// was collected, the aggregate otherwise.
func (e Errors) Err() error {
	for _, err := range e {
		if err != nil {
			return e
		}
	}
	return nil
}
