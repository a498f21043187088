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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/abema/go-mp4"
)

// ErrNoMovieBox is returned for ISO media files without a moov box.
var ErrNoMovieBox = errors.New("container has no moov box")

// NeedsFastStart reports whether the movie box of an ISO media file comes
// after its media data. Such files cannot be read front to back and are
// remuxed before decoding. Only top level boxes are visited.
func NeedsFastStart(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var sawMoov, mdatFirst bool
	_, err = mp4.ReadBoxStructure(f, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeMoov():
			sawMoov = true
		case mp4.BoxTypeMdat():
			if !sawMoov {
				mdatFirst = true
			}
		}
		return nil, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read box structure: %w", err)
	}
	if !sawMoov {
		return false, ErrNoMovieBox
	}
	return mdatFirst, nil
}

// FFMpegRemuxer is a Remuxer backed by the ffmpeg executable.
type FFMpegRemuxer struct {
	tool Tool
}

// NewFFMpegRemuxer creates a remuxer running the executable at path.
func NewFFMpegRemuxer(path string, logger *slog.Logger) *FFMpegRemuxer {
	return &FFMpegRemuxer{tool: NewTool(path, logger)}
}

// Remux copies the video and audio streams of src into dst with the index
// moved to the front.
func (r *FFMpegRemuxer) Remux(ctx context.Context, src string, dst string) error {
	return r.tool.Run(ctx, nil, nil,
		"-v", "error",
		"-y",
		"-i", src,
		"-map", "0:v",
		"-map", "0:a?",
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		dst)
}
