// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the data structures shared by the caption pipeline.
// This file defines the error taxonomy. Every stage of the pipeline reports
// its failure as a *StageError tagged with an ErrorKind, so that the caller
// receives a machine-readable kind, the stage that failed and a message.
package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the machine-readable category of a pipeline failure.
type ErrorKind string

const (
	KindInvalidRequest   ErrorKind = "InvalidRequest"
	KindFetchFailed      ErrorKind = "FetchFailed"
	KindEmptyBody        ErrorKind = "EmptyBody"
	KindInvalidContainer ErrorKind = "InvalidContainer"
	KindRepairFailed     ErrorKind = "RepairFailed"
	KindDecodeFailed     ErrorKind = "DecodeFailed"
	KindFontLoadFailed   ErrorKind = "FontLoadFailed"
	KindEncodeFailed     ErrorKind = "EncodeFailed"
	// KindCleanupFailed is only ever logged; it never reaches a caller.
	KindCleanupFailed ErrorKind = "CleanupFailed"
	// KindInternal covers failures outside any stage, such as a response
	// stream aborted by the client.
	KindInternal ErrorKind = "Internal"
)

// HTTPStatus maps the kind to the status code returned to the caller.
// Causes attributable to the request or its source map to 4xx, failures of
// the processing pipeline itself to 5xx.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindFetchFailed, KindEmptyBody:
		return http.StatusBadRequest
	case KindInvalidContainer, KindRepairFailed, KindDecodeFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// StageError is the terminal error of a job.
type StageError struct {
	Kind           ErrorKind // The error category.
	Stage          Stage     // The stage that failed.
	Message        string    // A human readable description.
	UpstreamStatus int       // The status code returned by the source origin, when known.
	Diagnostics    string    // Tool output (e.g. encoder stderr) that explains the failure.
	Err            error     // The underlying error, if any.
}

// NewStageError creates a StageError with a formatted message.
func NewStageError(kind ErrorKind, stage Stage, err error, format string, args ...interface{}) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithUpstreamStatus records the status code returned by the origin.
func (e *StageError) WithUpstreamStatus(status int) *StageError {
	e.UpstreamStatus = status
	return e
}

// WithDiagnostics attaches tool output to the error.
func (e *StageError) WithDiagnostics(diagnostics string) *StageError {
	e.Diagnostics = diagnostics
	return e
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
	if e.UpstreamStatus > 0 {
		msg = fmt.Sprintf("%s (upstream status %d)", msg, e.UpstreamStatus)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for the error's kind.
func (e *StageError) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// AsStageError extracts a *StageError from err.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// StageFailure converts any error raised inside a stage into a StageError of
// the given kind. Errors that already are StageErrors pass through unchanged.
// A context deadline is reported as a timeout of that stage.
func StageFailure(kind ErrorKind, stage Stage, err error, message string) *StageError {
	if se, ok := AsStageError(err); ok {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewStageError(kind, stage, err, "%s: timed out", message)
	}
	if errors.Is(err, context.Canceled) {
		return NewStageError(kind, stage, err, "%s: canceled", message)
	}
	return NewStageError(kind, stage, err, "%s", message)
}
