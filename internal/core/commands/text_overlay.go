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
// command that prepares the caption: it loads the font face, lays the text
// out once for the size of the source and wraps the frame source so every
// frame is rendered with that layout.
//
// The font is loaded before a single frame is decoded, so a missing or
// corrupt font fails the job with FontLoadFailed without wasting work.
package commands

import (
	"errors"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/overlay"
)

// TextOverlay is a command that captions the frames of the job.
type TextOverlay struct {
	cor.BaseCommand
	fonts *overlay.FontCache
	style overlay.Style
}

// NewTextOverlay is the constructor for the TextOverlay command.
func NewTextOverlay(name string, fonts *overlay.FontCache, style overlay.Style) *TextOverlay {
	return &TextOverlay{
		BaseCommand: *cor.NewBaseCommand(name),
		fonts:       fonts,
		style:       style,
	}
}

// IsExecutable checks that a job and a frame source are present.
func (c *TextOverlay) IsExecutable(context cor.Context) bool {
	if !hasJob(context, c.GetInputParam()) {
		return false
	}
	_, ok := context.Get(c.GetInputParam()).(media.FrameSource)
	return ok
}

// Execute computes the caption layout and wraps the frame source.
func (c *TextOverlay) Execute(context cor.Context) {
	job := GetJob(context)
	job.Advance(model.StageOverlay)
	frames := context.Get(c.GetInputParam()).(media.FrameSource)

	face, err := c.fonts.Face(c.style.FontPath, c.style.FontSize, c.style.DPI)
	if err != nil {
		c.Fail(context, model.NewStageError(model.KindFontLoadFailed, model.StageOverlay, err,
			"failed to load font %q", c.style.FontPath))
		return
	}
	context.Scratch().Track(face)

	if missing := overlay.MissingGlyphs(face, job.Text); len(missing) > 0 {
		c.GetLogger().WarnContext(context.GetContext(), "font has no glyphs for some caption characters",
			"job_id", job.Id,
			"font", c.fontName(),
			"missing", string(missing))
	}

	meta := frames.Metadata()
	layout, err := overlay.ComputeLayout(face, meta.Width, meta.Height, job.Text, c.style, job.Kind == model.KindVideo)
	if err != nil {
		kind := model.KindInternal
		if errors.Is(err, overlay.ErrBlankText) {
			kind = model.KindInvalidRequest
		}
		c.Fail(context, model.NewStageError(kind, model.StageOverlay, err, "caption cannot be laid out"))
		return
	}

	c.GetLogger().DebugContext(context.GetContext(), "caption laid out",
		"job_id", job.Id,
		"lines", len(layout.Lines),
		"canvas", layout.Canvas.String(),
		"policy", string(layout.Policy))
	c.Succeed(context)
	context.Add(c.GetOutputParam(), overlay.Caption(frames, overlay.NewRenderer(face, layout, c.style)))
}

func (c *TextOverlay) fontName() string {
	if c.style.FontPath == overlay.BuiltinFont {
		return "builtin Go Regular"
	}
	return c.style.FontPath
}
