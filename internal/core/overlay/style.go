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
	"fmt"
	"image/color"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/lucasb-eyer/go-colorful"
)

// Policy selects where the caption goes.
type Policy string

const (
	// CaptionBand extends the canvas below the picture with a solid band
	// and centres the text in it.
	CaptionBand Policy = cloud.PolicyCaptionBand
	// FixedOffset draws the text over the picture at a fixed offset.
	FixedOffset Policy = cloud.PolicyFixedOffset
)

// Style is the fixed appearance of a caption.
type Style struct {
	FontPath string
	FontSize float64
	DPI      float64
	Fill     color.RGBA
	Band     color.RGBA
	Padding  int
	Policy   Policy
	OffsetX  int
	OffsetY  int
	Wrap     bool
}

// NewStyle builds a Style from the overlay configuration.
func NewStyle(cfg cloud.Overlay) (Style, error) {
	fill, err := parseColor(cfg.FillColor)
	if err != nil {
		return Style{}, fmt.Errorf("fill color: %w", err)
	}
	band, err := parseColor(cfg.BandColor)
	if err != nil {
		return Style{}, fmt.Errorf("band color: %w", err)
	}
	policy := Policy(cfg.Policy)
	if policy != CaptionBand && policy != FixedOffset {
		return Style{}, fmt.Errorf("unknown overlay policy %q", cfg.Policy)
	}
	return Style{
		FontPath: cfg.FontPath,
		FontSize: cfg.FontSize,
		DPI:      cfg.DPI,
		Fill:     fill,
		Band:     band,
		Padding:  cfg.Padding,
		Policy:   policy,
		OffsetX:  cfg.OffsetX,
		OffsetY:  cfg.OffsetY,
		Wrap:     cfg.Wrap,
	}, nil
}

func parseColor(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}
