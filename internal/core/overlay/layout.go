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
	"errors"
	"image"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Line is one line of caption text and the baseline origin it is drawn at.
type Line struct {
	Text   string
	Origin fixed.Point26_6
}

// Layout is the placement of a caption, shared by every frame of a job.
type Layout struct {
	Policy  Policy
	Picture image.Rectangle // Where the source picture sits on the canvas.
	Canvas  image.Rectangle // The size of every output frame.
	Band    image.Rectangle // The caption band; empty for FixedOffset.
	Lines   []Line
}

// ErrBlankText is returned for captions with no visible characters.
var ErrBlankText = errors.New("caption text is blank")

// NormalizeText collapses runs of whitespace, including line breaks, into
// single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ComputeLayout places text for frames of width x height. When even is set
// the canvas is grown to even dimensions, as most video encoders require.
func ComputeLayout(face font.Face, width int, height int, text string, style Style, even bool) (*Layout, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("frame size must be positive")
	}
	text = NormalizeText(text)
	if len(text) == 0 {
		return nil, ErrBlankText
	}

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := ascent + metrics.Descent.Ceil()
	step := metrics.Height.Ceil()
	if step < lineHeight {
		step = lineHeight
	}

	lines := []string{text}
	if style.Wrap {
		avail := width - 2*style.Padding
		if style.Policy == FixedOffset {
			avail = width - style.OffsetX
		}
		lines = wrapText(face, text, avail)
	}
	textHeight := lineHeight + (len(lines)-1)*step

	l := &Layout{Policy: style.Policy, Picture: image.Rect(0, 0, width, height)}
	switch style.Policy {
	case FixedOffset:
		l.Canvas = image.Rect(0, 0, width, height)
		for i, s := range lines {
			l.Lines = append(l.Lines, Line{
				Text:   s,
				Origin: fixed.P(style.OffsetX, style.OffsetY+ascent+i*step),
			})
		}
	default:
		bandHeight := textHeight + 2*style.Padding
		l.Canvas = image.Rect(0, 0, width, height+bandHeight)
		for i, s := range lines {
			advance := font.MeasureString(face, s).Ceil()
			l.Lines = append(l.Lines, Line{
				Text:   s,
				Origin: fixed.P((width-advance)/2, height+style.Padding+ascent+i*step),
			})
		}
	}

	if even {
		l.Canvas.Max.X += l.Canvas.Dx() % 2
		l.Canvas.Max.Y += l.Canvas.Dy() % 2
	}
	if style.Policy != FixedOffset {
		l.Band = image.Rect(0, height, l.Canvas.Max.X, l.Canvas.Max.Y)
	}
	return l, nil
}

// wrapText breaks text into lines no wider than width. A word wider than
// width gets a line of its own.
func wrapText(face font.Face, text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	limit := fixed.I(width)
	var lines []string
	current := words[0]
	for _, w := range words[1:] {
		candidate := current + " " + w
		if font.MeasureString(face, candidate) <= limit {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = w
	}
	return append(lines, current)
}
