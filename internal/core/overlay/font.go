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

// Package overlay burns caption text into frames. A Layout is computed once
// per job from the frame size, the text and a Style; a Renderer then draws
// every frame against that layout.
package overlay

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// BuiltinFont names the Go Regular font compiled into the binary. It is
// used when no font path is configured.
const BuiltinFont = ""

// FontCache parses each font file once and shares the parsed font between
// jobs. Faces are not safe for concurrent use, so every job gets its own.
type FontCache struct {
	mu    sync.Mutex
	fonts map[string]*opentype.Font
}

// NewFontCache creates an empty cache.
func NewFontCache() *FontCache {
	return &FontCache{fonts: make(map[string]*opentype.Font)}
}

// Load returns the parsed font at path, reading it on first use. A failed
// load is not cached, so a font that appears later is picked up.
func (c *FontCache) Load(path string) (*opentype.Font, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.fonts[path]; ok {
		return f, nil
	}

	data := goregular.TTF
	if path != BuiltinFont {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read font %s: %w", path, err)
		}
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	c.fonts[path] = f
	return f, nil
}

// Face returns a new face of the font at path.
func (c *FontCache) Face(path string, size float64, dpi float64) (font.Face, error) {
	if size <= 0 || dpi <= 0 {
		return nil, errors.New("font size and dpi must be positive")
	}
	f, err := c.Load(path)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
}

// MissingGlyphs returns the distinct runes of text the face has no glyph
// for, in order of first use. Such runes render as the font's notdef box.
// Go Regular covers Latin, Greek and Cyrillic; other scripts need a font
// configured with overlay.font_path.
func MissingGlyphs(face font.Face, text string) []rune {
	var missing []rune
	seen := make(map[rune]bool)
	for _, r := range text {
		if seen[r] || unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		seen[r] = true
		if _, ok := face.GlyphAdvance(r); !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
