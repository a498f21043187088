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
// defines the statistics and health endpoints.
//
// Functions:
//   - Dashboard: Registers GET /stats, reporting job outcomes since start.
//   - Health: Registers GET /healthz, reporting whether ffmpeg and ffprobe
//     can be resolved.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// Stats counts job outcomes. It is safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	started   time.Time
	succeeded map[model.MediaKind]int64
	failed    map[model.ErrorKind]int64
}

// NewStats creates an empty set of counters.
func NewStats() *Stats {
	return &Stats{
		started:   time.Now(),
		succeeded: make(map[model.MediaKind]int64),
		failed:    make(map[model.ErrorKind]int64),
	}
}

// RecordSuccess counts a delivered job of the given media kind.
func (s *Stats) RecordSuccess(kind model.MediaKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded[kind]++
}

// RecordFailure counts a failed job.
func (s *Stats) RecordFailure(kind model.ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[kind]++
}

// Snapshot is the JSON view of Stats.
type Snapshot struct {
	Uptime    string                    `json:"uptime"`
	Succeeded map[model.MediaKind]int64 `json:"succeeded"`
	Failed    map[model.ErrorKind]int64 `json:"failed"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		Succeeded: make(map[model.MediaKind]int64, len(s.succeeded)),
		Failed:    make(map[model.ErrorKind]int64, len(s.failed)),
	}
	for k, v := range s.succeeded {
		out.Succeeded[k] = v
	}
	for k, v := range s.failed {
		out.Failed[k] = v
	}
	return out
}

// Dashboard configures the statistics routes under r, e.g. /api/v1/stats.
func Dashboard(r *gin.RouterGroup, stats *Stats) {
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, stats.Snapshot())
	})
}

// Health registers the liveness endpoint. The service is live even when a
// tool is missing; GIF jobs need neither.
func Health(r gin.IRoutes, service CaptionService) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tools": service.Tools()})
	})
}
