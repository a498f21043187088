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
// command that confirms the downloaded file is a supported container and
// repairs MP4 files whose index comes after their media data.
//
// Logic Flow:
//  1. Sniffs the media kind from the file's magic bytes, falling back to
//     the declared content type and the URL extension.
//  2. GIFs: reads the logical screen and counts the frames.
//  3. Videos: probes the streams.
//  4. Rejects frame sizes beyond the configured limits before anything is
//     decoded.
//  5. Videos: when the moov box follows the mdat box, remuxes the file with the index in front. The original download
//     is discarded once the repaired copy exists.
//  6. Stores the validated *model.SourceFile under SourceParam and as the
//     command output.
package commands

import (
	gocontext "context"
	"fmt"
	"os"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// ContainerValidator is a command that validates and repairs the source.
type ContainerValidator struct {
	cor.BaseCommand
	prober  media.Prober
	remuxer media.Remuxer
	limits  media.Limits
	config  *cloud.Config
}

// NewContainerValidator is the constructor for the ContainerValidator command.
func NewContainerValidator(name string, prober media.Prober, remuxer media.Remuxer, limits media.Limits, config *cloud.Config) *ContainerValidator {
	return &ContainerValidator{
		BaseCommand: *cor.NewBaseCommand(name),
		prober:      prober,
		remuxer:     remuxer,
		limits:      limits,
		config:      config,
	}
}

// IsExecutable checks that a job and a downloaded source are present.
func (c *ContainerValidator) IsExecutable(context cor.Context) bool {
	if !hasJob(context, c.GetInputParam()) {
		return false
	}
	_, ok := context.Get(c.GetInputParam()).(*model.SourceFile)
	return ok
}

// Execute validates the source, repairing it if required.
func (c *ContainerValidator) Execute(context cor.Context) {
	job := GetJob(context)
	job.Advance(model.StageValidate)
	src := context.Get(c.GetInputParam()).(*model.SourceFile)

	kind, err := media.DetectKind(src.Path(), src.ContentType, job.SourceURL)
	if err != nil {
		c.Fail(context, model.NewStageError(model.KindInvalidContainer, model.StageValidate, err,
			"source is not a supported gif or mp4 file"))
		return
	}
	job.Kind = kind
	src.Kind = kind

	switch kind {
	case model.KindImageSequence:
		meta, err := media.GIFConfig(src.Path())
		if err != nil {
			c.Fail(context, model.NewStageError(model.KindInvalidContainer, model.StageValidate, err, "gif header could not be read"))
			return
		}
		if err := c.checkGIF(meta); err != nil {
			c.Fail(context, model.NewStageError(model.KindInvalidContainer, model.StageValidate, err, "gif is too large to caption"))
			return
		}
		src.Metadata = meta
	case model.KindVideo:
		repaired, err := c.validateVideo(context, src)
		if err != nil {
			c.Fail(context, err)
			return
		}
		src = repaired
	}

	c.GetLogger().InfoContext(context.GetContext(), "source validated",
		"job_id", job.Id,
		"kind", string(kind),
		"width", src.Metadata.Width,
		"height", src.Metadata.Height,
		"repaired", src.Repaired)
	c.Succeed(context)
	context.Add(SourceParam, src)
	context.Add(c.GetOutputParam(), src)
}

func (c *ContainerValidator) validateVideo(context cor.Context, src *model.SourceFile) (*model.SourceFile, error) {
	probeCtx, cancel := gocontext.WithTimeout(context.GetContext(), c.config.ProbeTimeout())
	meta, err := c.prober.Probe(probeCtx, src.Path())
	cancel()
	if err != nil {
		return nil, stageError(model.KindInvalidContainer, model.StageValidate, err, "video container could not be probed")
	}
	if err := c.limits.Check(meta.Width, meta.Height); err != nil {
		return nil, model.NewStageError(model.KindInvalidContainer, model.StageValidate, err, "video is too large to caption")
	}

	needsRepair, err := media.NeedsFastStart(src.Path())
	if err != nil {
		// Files that are not plain ISO boxes are normalised by remuxing.
		c.GetLogger().WarnContext(context.GetContext(), "box scan failed, remuxing", "error", err)
		needsRepair = true
	}
	if !needsRepair {
		meta.FastStart = true
		src.Metadata = meta
		return src, nil
	}

	dst, err := context.Scratch().Acquire(model.KindVideo.Extension())
	if err != nil {
		return nil, stageError(model.KindInternal, model.StageValidate, err, "could not allocate scratch file")
	}
	repairCtx, cancel := gocontext.WithTimeout(context.GetContext(), c.config.RepairTimeout())
	defer cancel()
	if err := c.remuxer.Remux(repairCtx, src.Path(), dst.Path); err != nil {
		return nil, stageError(model.KindRepairFailed, model.StageValidate, err, "failed to move the container index to the front")
	}
	context.Scratch().Discard(src.File)

	size := src.Size
	if info, err := os.Stat(dst.Path); err == nil {
		size = info.Size()
	}
	meta.FastStart = true
	return &model.SourceFile{
		File:        dst,
		ContentType: src.ContentType,
		Size:        size,
		Kind:        src.Kind,
		Metadata:    meta,
		Repaired:    true,
	}, nil
}

func (c *ContainerValidator) checkGIF(meta *model.MediaMetadata) error {
	if limit := c.config.GIF.MaxFrames; limit > 0 && meta.FrameCount > limit {
		return fmt.Errorf("%w: %d exceeds %d", media.ErrTooManyFrames, meta.FrameCount, limit)
	}
	return c.limits.CheckSequence(meta.FrameCount, meta.Width, meta.Height)
}
