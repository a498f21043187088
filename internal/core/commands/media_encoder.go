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
// command that drains the captioned frames into a new container of the
// same media kind as the source.
//
// Logic Flow:
//  1. Acquires the output scratch file.
//  2. Runs the encoder of the job's media kind under the encode deadline.
//     GIFs loop forever with background disposal; videos keep their frame
//     rate and audio track.
//  3. Errors raised by the decoder while frames are pulled keep their
//     DecodeFailed kind; all other failures are EncodeFailed, carrying the
//     encoder's diagnostics when it ran as a subprocess.
//  4. Discards the source file, which nothing reads any more, and places a
//     *model.EncodedMedia in the output parameter.
package commands

import (
	gocontext "context"
	"os"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// MediaEncoder is a command that encodes the captioned frames.
type MediaEncoder struct {
	cor.BaseCommand
	registry media.Registry
	config   *cloud.Config
}

// NewMediaEncoder is the constructor for the MediaEncoder command.
func NewMediaEncoder(name string, registry media.Registry, config *cloud.Config) *MediaEncoder {
	return &MediaEncoder{
		BaseCommand: *cor.NewBaseCommand(name),
		registry:    registry,
		config:      config,
	}
}

// IsExecutable checks that a job, the validated source and the captioned
// frames are present.
func (c *MediaEncoder) IsExecutable(context cor.Context) bool {
	if !hasJob(context, c.GetInputParam()) {
		return false
	}
	_, isSource := context.Get(SourceParam).(*model.SourceFile)
	_, isFrames := context.Get(c.GetInputParam()).(media.FrameSource)
	return isSource && isFrames
}

// Execute encodes the frames into a scratch file.
func (c *MediaEncoder) Execute(context cor.Context) {
	job := GetJob(context)
	job.Advance(model.StageEncode)
	src := context.Get(SourceParam).(*model.SourceFile)
	frames := context.Get(c.GetInputParam()).(media.FrameSource)

	codec, ok := c.registry.Lookup(src.Kind)
	if !ok {
		c.Fail(context, model.NewStageError(model.KindEncodeFailed, model.StageEncode, media.ErrUnsupportedMedia,
			"no encoder for %q", string(src.Kind)))
		return
	}

	out, err := context.Scratch().Acquire(src.Kind.Extension())
	if err != nil {
		c.Fail(context, stageError(model.KindInternal, model.StageEncode, err, "could not allocate scratch file"))
		return
	}

	ctx, cancel := gocontext.WithTimeout(context.GetContext(), c.config.EncodeTimeout())
	defer cancel()
	result, err := codec.Encoder.Encode(ctx, media.EncodeRequest{
		Frames:      frames,
		Destination: out.Path,
		AudioSource: src.Path(),
	})
	if err != nil {
		c.Fail(context, stageError(model.KindEncodeFailed, model.StageEncode, err, "failed to encode "+string(src.Kind)))
		return
	}

	info, err := os.Stat(out.Path)
	if err != nil {
		c.Fail(context, stageError(model.KindEncodeFailed, model.StageEncode, err, "encoded file is missing"))
		return
	}
	_ = frames.Close()
	context.Scratch().Discard(src.File)

	encoded := &model.EncodedMedia{
		File:        out,
		ContentType: src.Kind.ContentType(),
		Size:        info.Size(),
		Frames:      result.Frames,
		Width:       result.Width,
		Height:      result.Height,
	}
	c.GetLogger().InfoContext(ctx, "media encoded",
		"job_id", job.Id,
		"frames", encoded.Frames,
		"width", encoded.Width,
		"height", encoded.Height,
		"bytes", encoded.Size)
	c.Succeed(context)
	context.Add(c.GetOutputParam(), encoded)
}
