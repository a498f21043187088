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
// Responsibility (COR) pattern's Command interface, one per stage of the
// caption pipeline. This file defines the context keys the stages share.
//
// Every command reads the *model.Job under JobParam, advances its stage and
// reports failure as a *model.StageError through BaseCommand.Fail, which
// stops the chain.
package commands

import (
	"context"
	"io"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// Context keys shared by the caption commands.
const (
	JobParam     = "__JOB__"     // The *model.Job being processed.
	SourceParam  = "__SOURCE__"  // The validated *model.SourceFile.
	DeliverParam = "__DELIVER__" // The Deliver function streaming the result.
)

// Deliver streams the encoded result of job to the caller. body yields
// exactly encoded.Size bytes.
type Deliver func(ctx context.Context, job *model.Job, encoded *model.EncodedMedia, body io.Reader) error

// GetJob returns the job stored in the context, or nil.
func GetJob(context cor.Context) *model.Job {
	job, _ := context.Get(JobParam).(*model.Job)
	return job
}

// hasJob reports whether the context carries a job and the command input.
func hasJob(context cor.Context, input string) bool {
	return context != nil && context.GetContext() != nil && GetJob(context) != nil && context.Get(input) != nil
}

// stageError converts err into a StageError of kind, attaching the tool
// diagnostics it carries. Errors that already are StageErrors are kept.
func stageError(kind model.ErrorKind, stage model.Stage, err error, message string) *model.StageError {
	if se, ok := model.AsStageError(err); ok {
		return se
	}
	se := model.StageFailure(kind, stage, err, message)
	if diag := media.Diagnostics(err); len(diag) > 0 {
		se.WithDiagnostics(diag)
	}
	return se
}

// closerFunc adapts a function to io.Closer.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
