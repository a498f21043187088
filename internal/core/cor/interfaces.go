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

// Package cor (Chain of Responsibility) provides the building blocks the
// caption pipeline is assembled from. A pipeline is a Chain of Commands that
// share one Context; each stage reads its input from the Context, does its
// work and writes its output back for the next stage.
package cor

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/scratch"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys used to pipe data between the commands of
// a BaseChain.
const (
	// CtxIn is the default key for the primary input of a command. The
	// BaseChain fills it with the output of the previous command.
	CtxIn = "__IN__"
	// CtxOut is the default key a command places its primary output under.
	CtxOut = "__OUT__"
)

// Context is the shared state of one pipeline execution: data passed
// between commands, the errors they reported and the scratch files they
// created.
type Context interface {
	// SetContext sets the Go context carrying cancellation and trace data.
	SetContext(context context.Context)

	// GetContext returns the Go context.
	GetContext() context.Context

	// Add stores a value under key and returns the Context for chaining.
	Add(key string, value interface{}) Context

	// AddError records an error reported by the command named key.
	AddError(key string, err error)

	// GetErrors returns every recorded error keyed by command name.
	GetErrors() map[string]error

	// FirstError returns the first error recorded, or nil.
	FirstError() error

	// Get returns the value stored under key, or nil.
	Get(key string) interface{}

	// Remove deletes the value stored under key.
	Remove(key string)

	// HasErrors reports whether any command recorded an error.
	HasErrors() bool

	// SetScratch replaces the scratch manager, typically with the one owned
	// by the job being processed.
	SetScratch(manager *scratch.Manager)

	// Scratch returns the manager that owns every scratch file created
	// during the execution.
	Scratch() *scratch.Manager

	// GetTempFiles returns the paths of the scratch files still on disk.
	GetTempFiles() []string

	// Close releases the scratch manager. It should be deferred by whoever
	// starts the pipeline.
	Close()
}

// Executable is anything with execution logic driven by a Context.
type Executable interface {
	// Execute reads inputs from the Context and writes outputs back to it.
	Execute(context Context)
}

// Command is one stage of a pipeline.
type Command interface {
	Executable

	// GetName returns the name used in logs, spans and metrics.
	GetName() string

	// GetInputParam returns the key the command reads its input from.
	GetInputParam() string

	// GetOutputParam returns the key the command writes its output to.
	GetOutputParam() string

	// IsExecutable checks the preconditions of the command.
	IsExecutable(context Context) bool

	// GetLogger returns the command's logger.
	GetLogger() *slog.Logger

	// GetTracer returns the OpenTelemetry tracer of the command.
	GetTracer() trace.Tracer

	// GetMeter returns the OpenTelemetry meter of the command.
	GetMeter() metric.Meter

	// GetSuccessCounter returns the counter of successful executions.
	GetSuccessCounter() metric.Int64Counter

	// GetErrorCounter returns the counter of failed executions.
	GetErrorCounter() metric.Int64Counter
}

// Chain is a sequence of commands and is itself a Command, so chains nest.
type Chain interface {
	Command

	// ContinueOnFailure sets whether the chain keeps running after a command
	// records an error.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the chain.
	AddCommand(command Command) Chain
}
