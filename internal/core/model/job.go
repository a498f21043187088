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
// This file defines the Job, the unit of work created for every incoming
// request, together with its pipeline stages and terminal status.
//
// A Job is a small state machine:
//
//	pending -> fetch -> validate -> decode -> overlay -> encode -> stream -> done
//
// Any stage may move the job to the failed status instead; the first
// failure is kept and later ones are ignored.
package model

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/scratch"
)

// Stage identifies a step of the caption pipeline.
type Stage string

const (
	StagePending  Stage = "pending"
	StageRequest  Stage = "request"
	StageFetch    Stage = "fetch"
	StageValidate Stage = "validate"
	StageDecode   Stage = "decode"
	StageOverlay  Stage = "overlay"
	StageEncode   Stage = "encode"
	StageStream   Stage = "stream"
	StageDone     Stage = "done"
)

// Status is the lifecycle status of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Supported URL schemes for the source asset.
var supportedSchemes = map[string]bool{"http": true, "https": true, "gs": true}

// OverlayRequest carries the two request parameters of the caption operation.
type OverlayRequest struct {
	SourceURL string `json:"source_url" form:"url"`
	Text      string `json:"text" form:"text"`
}

// Validate checks the request before any work is done. A failure is always
// an InvalidRequest error.
func (r *OverlayRequest) Validate() error {
	if len(strings.TrimSpace(r.SourceURL)) == 0 {
		return NewStageError(KindInvalidRequest, StageRequest, nil, "source url is required")
	}
	if len(strings.TrimSpace(r.Text)) == 0 {
		return NewStageError(KindInvalidRequest, StageRequest, nil, "text is required and must not be blank")
	}
	u, err := url.Parse(strings.TrimSpace(r.SourceURL))
	if err != nil {
		return NewStageError(KindInvalidRequest, StageRequest, err, "source url is not a valid url")
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] || len(u.Host) == 0 {
		return NewStageError(KindInvalidRequest, StageRequest, nil, "source url must be an absolute http, https or gs url")
	}
	return nil
}

// Job is one request's worth of work. It owns every scratch file created
// on its behalf through Scratch.
type Job struct {
	Id         string           // A unique identifier for the job.
	SourceURL  string           // The URL of the source media.
	Text       string           // The text burned into every frame.
	Kind       MediaKind        // The media family of the source and the output.
	CreateDate time.Time        // When the job was created.
	Scratch    *scratch.Manager // The scratch files owned by the job.

	mu      sync.Mutex
	stage   Stage
	status  Status
	failure *StageError
}

// NewJob validates the request and creates a running job for it. The
// scratch manager allocates into dir, every file name prefixed with the
// given prefix and the job id.
func NewJob(req OverlayRequest, scratchDir string, scratchPrefix string, logger *slog.Logger) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	return &Job{
		Id:         id,
		SourceURL:  strings.TrimSpace(req.SourceURL),
		Text:       req.Text,
		Kind:       KindUnknown,
		CreateDate: time.Now(),
		Scratch:    scratch.NewManager(scratchDir, scratchPrefix+id+"-", logger),
		stage:      StagePending,
		status:     StatusRunning,
	}, nil
}

// Advance moves a running job to the given stage.
func (j *Job) Advance(stage Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning {
		j.stage = stage
	}
}

// Fail marks the job as failed. Only the first failure is kept.
func (j *Job) Fail(err *StageError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning {
		return
	}
	j.status = StatusFailed
	j.failure = err
	if err != nil && len(err.Stage) > 0 {
		j.stage = err.Stage
	}
}

// Succeed marks a running job as done.
func (j *Job) Succeed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning {
		j.status = StatusSucceeded
		j.stage = StageDone
	}
}

// Stage returns the current stage.
func (j *Job) Stage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Failure returns the terminal error of a failed job, or nil.
func (j *Job) Failure() *StageError {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure
}

// Release removes every scratch file of the job. Safe to call repeatedly.
func (j *Job) Release() {
	j.Scratch.Release()
}
