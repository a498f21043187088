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
// caption pipeline is assembled from. This file defines `BaseContext`, the
// default implementation of the `Context` interface.
//
// The context is the property bag handed from command to command. Besides
// the data map it keeps:
//   - the errors reported by commands, in the order they were reported, so
//     the caller can name the first failing stage;
//   - a scratch manager owning every temporary file created along the way,
//     released by Close;
//   - the Go context carrying cancellation and the current trace span.
package cor

import (
	"context"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/scratch"
)

// BaseContext is the default implementation of the Context interface.
type BaseContext struct {
	data       map[string]interface{} // Arbitrary key-value data.
	errors     map[string]error       // Errors keyed by the command that produced them.
	errorOrder []string               // Command names in the order their errors arrived.
	scratch    *scratch.Manager       // Owner of the temporary files of this execution.
	context    context.Context        // Cancellation and request-scoped values.
}

// NewBaseContext creates an empty context whose scratch files live in the OS
// temporary directory. Pipelines processing a job replace the manager with
// the job's own through SetScratch.
func NewBaseContext() Context {
	return &BaseContext{
		data:    make(map[string]interface{}),
		errors:  make(map[string]error),
		scratch: scratch.NewManager(os.TempDir(), "cor-", slog.Default()),
	}
}

// SetContext sets the underlying Go context.
func (c *BaseContext) SetContext(context context.Context) {
	c.context = context
}

// GetContext returns the underlying Go context.
func (c *BaseContext) GetContext() context.Context {
	return c.context
}

// SetScratch replaces the scratch manager.
func (c *BaseContext) SetScratch(manager *scratch.Manager) {
	if manager != nil {
		c.scratch = manager
	}
}

// Scratch returns the scratch manager.
func (c *BaseContext) Scratch() *scratch.Manager {
	return c.scratch
}

// GetTempFiles returns the paths of live scratch files.
func (c *BaseContext) GetTempFiles() []string {
	return c.scratch.Paths()
}

// Close releases every scratch file and tracked handle. The scratch manager
// guarantees this happens only once even if Close is called again.
func (c *BaseContext) Close() {
	c.scratch.Release()
}

// Add stores a key-value pair.
func (c *BaseContext) Add(key string, value interface{}) Context {
	c.data[key] = value
	return c
}

// AddError records err for the command named key. A second error for the
// same command replaces the first but keeps its position.
func (c *BaseContext) AddError(key string, err error) {
	if _, exists := c.errors[key]; !exists {
		c.errorOrder = append(c.errorOrder, key)
	}
	c.errors[key] = err
}

// GetErrors returns all recorded errors.
func (c *BaseContext) GetErrors() map[string]error {
	return c.errors
}

// FirstError returns the error of the first command that failed.
func (c *BaseContext) FirstError() error {
	if len(c.errorOrder) == 0 {
		return nil
	}
	return c.errors[c.errorOrder[0]]
}

// Get returns the value stored under key.
func (c *BaseContext) Get(key string) interface{} {
	return c.data[key]
}

// Remove deletes key.
func (c *BaseContext) Remove(key string) {
	delete(c.data, key)
}

// HasErrors reports whether any error was recorded.
func (c *BaseContext) HasErrors() bool {
	return len(c.errors) > 0
}
