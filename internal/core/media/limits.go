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

package media

import (
	"errors"
	"fmt"
)

// ErrFrameTooLarge is returned for frames larger than the configured limits.
var ErrFrameTooLarge = errors.New("frame size exceeds the limit")

// Limits bounds the frame sizes a decoder accepts. Decoders hold whole RGBA
// frames, so the limits bound the memory of a job. Zero fields disable the
// matching check.
type Limits struct {
	MaxWidth       int
	MaxHeight      int
	MaxPixels      int64 // Pixels in one frame.
	MaxTotalPixels int64 // Pixels across every frame of an animation.
}

// Check rejects empty frames and frames beyond the limits.
func (l Limits) Check(width int, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("frame size %dx%d is empty", width, height)
	}
	if (l.MaxWidth > 0 && width > l.MaxWidth) || (l.MaxHeight > 0 && height > l.MaxHeight) {
		return fmt.Errorf("%w: %dx%d is larger than %dx%d", ErrFrameTooLarge, width, height, l.MaxWidth, l.MaxHeight)
	}
	if pixels := int64(width) * int64(height); l.MaxPixels > 0 && pixels > l.MaxPixels {
		return fmt.Errorf("%w: %d pixels is more than %d", ErrFrameTooLarge, pixels, l.MaxPixels)
	}
	return nil
}

// CheckSequence applies Check and bounds frames x width x height.
func (l Limits) CheckSequence(frames int, width int, height int) error {
	if err := l.Check(width, height); err != nil {
		return err
	}
	total := int64(frames) * int64(width) * int64(height)
	if l.MaxTotalPixels > 0 && total > l.MaxTotalPixels {
		return fmt.Errorf("%w: %d frames of %dx%d is more than %d pixels", ErrTooManyFrames, frames, width, height, l.MaxTotalPixels)
	}
	return nil
}
