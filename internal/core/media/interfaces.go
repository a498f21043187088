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

// Package media holds the capabilities the caption pipeline needs from a
// media toolkit: probing and repairing containers, decoding them into a
// sequence of frames and encoding a frame sequence back into a container.
//
// Each capability is an interface so the pipeline does not care whether an
// implementation runs a subprocess (ffprobe, ffmpeg) or a Go library
// (image/gif).
package media

import (
	"context"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// Prober inspects a container and describes its streams.
type Prober interface {
	Probe(ctx context.Context, path string) (*model.MediaMetadata, error)
}

// Remuxer rewrites a container with its index in front of the media data,
// copying the streams without re-encoding them.
type Remuxer interface {
	Remux(ctx context.Context, src string, dst string) error
}

// FrameSource is a finite, single pass sequence of frames in presentation
// order. Next returns io.EOF once every frame has been returned.
type FrameSource interface {
	Metadata() *model.MediaMetadata
	Next(ctx context.Context) (*model.Frame, error)
	Close() error
}

// Decoder opens a validated media file as a FrameSource.
type Decoder interface {
	Open(ctx context.Context, path string, meta *model.MediaMetadata) (FrameSource, error)
}

// EncodeRequest describes one encode.
type EncodeRequest struct {
	Frames      FrameSource // The frames to encode, already captioned.
	Destination string      // The file receiving the container.
	AudioSource string      // A file whose audio track is carried over, if any.
}

// EncodeResult summarises a finished encode.
type EncodeResult struct {
	Frames int
	Width  int
	Height int
}

// Encoder writes a frame sequence into a new container.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error)
}

// Codec bundles the decoder and encoder of one media kind.
type Codec struct {
	Decoder Decoder
	Encoder Encoder
}

// Registry maps each supported media kind to its codec.
type Registry map[model.MediaKind]Codec

// Lookup returns the codec for kind.
func (r Registry) Lookup(kind model.MediaKind) (Codec, bool) {
	c, ok := r[kind]
	return c, ok && c.Decoder != nil && c.Encoder != nil
}
