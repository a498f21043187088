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
// command that opens the validated source as a stream of frames.
//
// Frames are produced lazily: nothing is decoded until the encoder pulls
// the first frame, so decode errors surface during the encode stage. They
// are still reported with the DecodeFailed kind and the decode stage.
package commands

import (
	gocontext "context"
	"errors"
	"io"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// FrameDecoder is a command that opens a media.FrameSource for the source.
type FrameDecoder struct {
	cor.BaseCommand
	registry media.Registry
	config   *cloud.Config
}

// NewFrameDecoder is the constructor for the FrameDecoder command.
func NewFrameDecoder(name string, registry media.Registry, config *cloud.Config) *FrameDecoder {
	return &FrameDecoder{
		BaseCommand: *cor.NewBaseCommand(name),
		registry:    registry,
		config:      config,
	}
}

// IsExecutable checks that a job and a validated source are present.
func (c *FrameDecoder) IsExecutable(context cor.Context) bool {
	if !hasJob(context, c.GetInputParam()) {
		return false
	}
	src, ok := context.Get(c.GetInputParam()).(*model.SourceFile)
	return ok && src.Metadata != nil
}

// Execute opens the decoder. The frame source and the deadline shared by
// decoding, overlay and encoding are released with the job's scratch files.
func (c *FrameDecoder) Execute(context cor.Context) {
	job := GetJob(context)
	job.Advance(model.StageDecode)
	src := context.Get(c.GetInputParam()).(*model.SourceFile)

	codec, ok := c.registry.Lookup(src.Kind)
	if !ok {
		c.Fail(context, model.NewStageError(model.KindDecodeFailed, model.StageDecode, media.ErrUnsupportedMedia,
			"no decoder for %q", string(src.Kind)))
		return
	}

	ctx, cancel := gocontext.WithTimeout(context.GetContext(), c.config.EncodeTimeout())
	context.Scratch().Track(closerFunc(cancel))

	frames, err := codec.Decoder.Open(ctx, src.Path(), src.Metadata)
	if err != nil {
		c.Fail(context, stageError(model.KindDecodeFailed, model.StageDecode, err, "failed to open decoder"))
		return
	}
	context.Scratch().Track(frames)

	c.Succeed(context)
	context.Add(c.GetOutputParam(), &decodingSource{FrameSource: frames})
}

// decodingSource reports decode errors as DecodeFailed StageErrors. Errors
// caused by the caller's context are returned unchanged.
type decodingSource struct {
	media.FrameSource
}

func (s *decodingSource) Next(ctx gocontext.Context) (*model.Frame, error) {
	frame, err := s.FrameSource.Next(ctx)
	if err == nil || errors.Is(err, io.EOF) || ctx.Err() != nil {
		return frame, err
	}
	return nil, stageError(model.KindDecodeFailed, model.StageDecode, err, "failed to decode frame")
}
