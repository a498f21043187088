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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines the
// last command of the pipeline, which streams the encoded file to the
// caller through the Deliver function stored under DeliverParam.
package commands

import (
	"bufio"
	"os"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// ResponseStream is a command that delivers the encoded media.
type ResponseStream struct {
	cor.BaseCommand
}

// NewResponseStream is the constructor for the ResponseStream command.
func NewResponseStream(name string) *ResponseStream {
	return &ResponseStream{BaseCommand: *cor.NewBaseCommand(name)}
}

// IsExecutable checks that a job and an encoded file are present.
func (c *ResponseStream) IsExecutable(context cor.Context) bool {
	if !hasJob(context, c.GetInputParam()) {
		return false
	}
	_, ok := context.Get(c.GetInputParam()).(*model.EncodedMedia)
	return ok
}

// Execute streams the encoded file. The file stays on disk until the job's
// scratch files are released, after the caller has read every byte.
func (c *ResponseStream) Execute(context cor.Context) {
	job := GetJob(context)
	job.Advance(model.StageStream)
	encoded := context.Get(c.GetInputParam()).(*model.EncodedMedia)

	deliver, ok := context.Get(DeliverParam).(Deliver)
	if !ok || deliver == nil {
		c.Fail(context, model.NewStageError(model.KindInternal, model.StageStream, nil, "no response writer"))
		return
	}

	f, err := os.Open(encoded.File.Path)
	if err != nil {
		c.Fail(context, model.NewStageError(model.KindInternal, model.StageStream, err, "encoded file cannot be opened"))
		return
	}
	context.Scratch().Track(f)

	if err := deliver(context.GetContext(), job, encoded, bufio.NewReaderSize(f, 64<<10)); err != nil {
		c.Fail(context, model.NewStageError(model.KindInternal, model.StageStream, err, "response stream aborted"))
		return
	}

	c.GetLogger().InfoContext(context.GetContext(), "response streamed",
		"job_id", job.Id, "bytes", encoded.Size, "content_type", encoded.ContentType)
	c.Succeed(context)
	context.Add(c.GetOutputParam(), encoded)
}
