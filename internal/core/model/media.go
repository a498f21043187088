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

package model

import (
	"image"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/scratch"
)

// MediaKind is the media family of a source and of the output derived from it.
type MediaKind string

const (
	KindUnknown       MediaKind = ""
	KindImageSequence MediaKind = "gif"
	KindVideo         MediaKind = "mp4"
)

// ContentType returns the MIME type of the output for this kind.
func (k MediaKind) ContentType() string {
	switch k {
	case KindImageSequence:
		return "image/gif"
	case KindVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension, including the dot, of this kind.
func (k MediaKind) Extension() string {
	switch k {
	case KindImageSequence:
		return ".gif"
	case KindVideo:
		return ".mp4"
	default:
		return ".bin"
	}
}

// MediaMetadata describes a decodable media file. It is produced once by the
// validator or decoder and not modified afterwards.
type MediaMetadata struct {
	Kind       MediaKind     `json:"kind"`
	Container  string        `json:"container"`   // The container format reported by the prober, e.g. "mov,mp4,m4a,3gp,3g2,mj2".
	Width      int           `json:"width"`       // Width of the visible picture in pixels.
	Height     int           `json:"height"`      // Height of the visible picture in pixels.
	FrameRate  float64       `json:"frame_rate"`  // Frames per second for video; zero when unknown.
	Duration   time.Duration `json:"duration"`    // Total presentation duration; zero when unknown.
	FrameCount int           `json:"frame_count"` // Number of frames when known up front.
	HasAudio   bool          `json:"has_audio"`   // Whether the source carries an audio stream.
	LoopCount  int           `json:"loop_count"`  // GIF loop count of the source (0 is infinite).
	FastStart  bool          `json:"fast_start"`  // Whether the container index precedes the media data.
}

// Frame is one decoded picture travelling through the pipeline.
type Frame struct {
	Image     *image.RGBA   // The full visible picture.
	Index     int           // Position in presentation order, starting at zero.
	Delay     time.Duration // Display duration (image sequences).
	Timestamp time.Duration // Presentation timestamp (video).
}

// SourceFile is a media file on local scratch storage together with what
// is known about it.
type SourceFile struct {
	File        *scratch.File  // The scratch file holding the bytes.
	ContentType string         // The Content-Type declared by the origin, possibly empty.
	Size        int64          // Number of bytes written.
	Kind        MediaKind      // The media family determined for the file.
	Metadata    *MediaMetadata // Set once the container has been validated.
	Repaired    bool           // Whether the file is a remuxed copy of the download.
}

// Path returns the local path of the file.
func (s *SourceFile) Path() string {
	return s.File.Path
}

// EncodedMedia is the result of the encode stage.
type EncodedMedia struct {
	File        *scratch.File
	ContentType string
	Size        int64
	Frames      int
	Width       int
	Height      int
}
