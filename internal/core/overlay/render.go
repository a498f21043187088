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

package overlay

import (
	"context"
	"image"
	"image/draw"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
	"golang.org/x/image/font"
)

// Renderer draws a caption onto frames. Its output depends only on the
// frame, the layout and the style.
type Renderer struct {
	face   font.Face
	layout *Layout
	fill   image.Image
	band   image.Image
}

// NewRenderer creates a renderer for one job.
func NewRenderer(face font.Face, layout *Layout, style Style) *Renderer {
	return &Renderer{
		face:   face,
		layout: layout,
		fill:   image.NewUniform(style.Fill),
		band:   image.NewUniform(style.Band),
	}
}

// Layout returns the layout the renderer draws against.
func (r *Renderer) Layout() *Layout {
	return r.layout
}

// Render returns a new image of the layout's canvas size holding frame with
// the caption drawn in. frame is not modified.
func (r *Renderer) Render(frame *image.RGBA) *image.RGBA {
	out := image.NewRGBA(r.layout.Canvas)
	draw.Draw(out, out.Bounds(), r.band, image.Point{}, draw.Src)
	draw.Draw(out, r.layout.Picture.Intersect(frame.Bounds().Sub(frame.Bounds().Min)), frame, frame.Bounds().Min, draw.Src)

	d := &font.Drawer{Dst: out, Src: r.fill, Face: r.face}
	for _, line := range r.layout.Lines {
		d.Dot = line.Origin
		d.DrawString(line.Text)
	}
	return out
}

// captionedSource applies a Renderer to every frame of another source.
type captionedSource struct {
	src      media.FrameSource
	renderer *Renderer
	meta     *model.MediaMetadata
}

// Caption wraps src so every frame it returns carries the caption. The
// wrapped metadata reports the canvas size.
func Caption(src media.FrameSource, renderer *Renderer) media.FrameSource {
	meta := model.MediaMetadata{}
	if m := src.Metadata(); m != nil {
		meta = *m
	}
	meta.Width = renderer.layout.Canvas.Dx()
	meta.Height = renderer.layout.Canvas.Dy()
	return &captionedSource{src: src, renderer: renderer, meta: &meta}
}

func (c *captionedSource) Metadata() *model.MediaMetadata {
	return c.meta
}

func (c *captionedSource) Next(ctx context.Context) (*model.Frame, error) {
	frame, err := c.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	out := *frame
	out.Image = c.renderer.Render(frame.Image)
	return &out, nil
}

func (c *captionedSource) Close() error {
	return c.src.Close()
}
