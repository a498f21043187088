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

// Package api contains the HTTP surface of the caption service. This file
// defines the caption endpoints:
//
//   - GET  /add_text_to_gif?url=&text=   (the original route)
//   - GET  /api/v1/captions?url=&text=
//   - POST /api/v1/captions              {"source_url": "...", "text": "..."}
//
// A successful job streams the encoded bytes with Content-Length and an
// X-Job-Id header. A failed job answers with a JSON error whose status is
// derived from the error kind.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// JobIDHeader carries the id of the job that produced a response.
const JobIDHeader = "X-Job-Id"

// CaptionService runs caption jobs. It is implemented by
// workflow.MediaCaptionWorkflow.
type CaptionService interface {
	Process(ctx context.Context, req model.OverlayRequest, deliver commands.Deliver) (*model.Job, error)
	Tools() map[string]bool
}

// ErrorBody is the JSON payload of a failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the failure of a job.
type ErrorDetail struct {
	Kind           model.ErrorKind `json:"kind"`
	Stage          model.Stage     `json:"stage"`
	Message        string          `json:"message"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
	Diagnostics    string          `json:"diagnostics,omitempty"`
	JobID          string          `json:"job_id,omitempty"`
}

// NewErrorBody converts a stage error into its JSON payload.
func NewErrorBody(se *model.StageError, job *model.Job) ErrorBody {
	detail := ErrorDetail{
		Kind:           se.Kind,
		Stage:          se.Stage,
		Message:        se.Message,
		UpstreamStatus: se.UpstreamStatus,
		Diagnostics:    se.Diagnostics,
	}
	if job != nil {
		detail.JobID = job.Id
	}
	return ErrorBody{Error: detail}
}

// captionHandler adapts a CaptionService to gin.
type captionHandler struct {
	service CaptionService
	stats   *Stats
	logger  *slog.Logger
}

// Captions registers the versioned caption routes on r.
func Captions(r *gin.RouterGroup, service CaptionService, stats *Stats, logger *slog.Logger) {
	h := &captionHandler{service: service, stats: stats, logger: logger}
	captions := r.Group("/captions")
	{
		captions.GET("", h.fromQuery)
		captions.POST("", h.fromJSON)
	}
}

// LegacyCaptions registers the original GIF route on r.
func LegacyCaptions(r gin.IRoutes, service CaptionService, stats *Stats, logger *slog.Logger) {
	h := &captionHandler{service: service, stats: stats, logger: logger}
	r.GET("/add_text_to_gif", h.fromQuery)
}

func (h *captionHandler) fromQuery(c *gin.Context) {
	var req model.OverlayRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.reject(c, err, "invalid query parameters")
		return
	}
	h.run(c, req)
}

func (h *captionHandler) fromJSON(c *gin.Context) {
	var req model.OverlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reject(c, err, "request body must be a JSON object with source_url and text")
		return
	}
	h.run(c, req)
}

func (h *captionHandler) run(c *gin.Context, req model.OverlayRequest) {
	streamed := false
	deliver := func(ctx context.Context, job *model.Job, encoded *model.EncodedMedia, body io.Reader) error {
		streamed = true
		c.DataFromReader(http.StatusOK, encoded.Size, encoded.ContentType, body, map[string]string{
			JobIDHeader: job.Id,
		})
		if last := c.Errors.Last(); last != nil {
			return last.Err
		}
		return ctx.Err()
	}

	job, err := h.service.Process(c.Request.Context(), req, deliver)
	if err == nil {
		h.stats.RecordSuccess(job.Kind)
		return
	}

	se, ok := model.AsStageError(err)
	if !ok {
		se = model.NewStageError(model.KindInternal, model.StageRequest, err, "caption job failed")
	}
	h.stats.RecordFailure(se.Kind)
	if streamed {
		// The status line is gone; the client sees a truncated body.
		h.logger.WarnContext(c.Request.Context(), "response aborted after headers", "error", se)
		c.Abort()
		return
	}
	h.fail(c, se, job)
}

// reject answers a request that could not be bound.
func (h *captionHandler) reject(c *gin.Context, err error, message string) {
	se := model.NewStageError(model.KindInvalidRequest, model.StageRequest, err, "%s", message)
	h.stats.RecordFailure(se.Kind)
	h.fail(c, se, nil)
}

func (h *captionHandler) fail(c *gin.Context, se *model.StageError, job *model.Job) {
	if job != nil {
		c.Header(JobIDHeader, job.Id)
	}
	c.AbortWithStatusJSON(se.HTTPStatus(), NewErrorBody(se, job))
}
