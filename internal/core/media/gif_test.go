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

package media_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
	test "github.com/jaycherian/gcp-go-media-caption/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src media.FrameSource) []*model.Frame {
	t.Helper()
	var frames []*model.Frame
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestGIFConfig(t *testing.T) {
	dir := t.TempDir()
	path := test.WriteFile(t, dir, "a.gif", test.MakeGIF(t, 3, 200, 100, 10))

	meta, err := media.GIFConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.KindImageSequence, meta.Kind)
	assert.Equal(t, 200, meta.Width)
	assert.Equal(t, 100, meta.Height)
	assert.Equal(t, 3, meta.FrameCount)

	bad := test.WriteFile(t, dir, "bad.gif", []byte("not a gif at all"))
	_, err = media.GIFConfig(bad)
	assert.Error(t, err)
}

func TestGIFDecoderFramesAndDelays(t *testing.T) {
	dir := t.TempDir()
	path := test.WriteFile(t, dir, "a.gif", test.MakeGIF(t, 3, 20, 10, 0))

	dec := &media.GIFDecoder{DefaultDelay: 100 * time.Millisecond}
	src, err := dec.Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer src.Close()

	frames := drain(t, src)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, 100*time.Millisecond, f.Delay, "missing delays use the default")
		assert.Equal(t, time.Duration(i)*100*time.Millisecond, f.Timestamp)
		assert.Equal(t, image.Rect(0, 0, 20, 10), f.Image.Bounds())
	}
	want := test.FramePalette[1].(color.RGBA)
	assert.Equal(t, want, frames[1].Image.RGBAAt(5, 5))

	meta := src.Metadata()
	assert.Equal(t, 3, meta.FrameCount)
	assert.Equal(t, 300*time.Millisecond, meta.Duration)
}

func TestGIFDecoderCompositesPartialFrames(t *testing.T) {
	red := color.RGBA{R: 0xff, A: 0xff}
	blue := color.RGBA{B: 0xff, A: 0xff}
	pal := color.Palette{color.Transparent, red, blue}

	full := image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
	for i := range full.Pix {
		full.Pix[i] = 1
	}
	patch := image.NewPaletted(image.Rect(0, 0, 2, 2), pal)
	for i := range patch.Pix {
		patch.Pix[i] = 2
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{
		Image:    []*image.Paletted{full, patch},
		Delay:    []int{5, 5},
		Disposal: []byte{gif.DisposalNone, gif.DisposalNone},
	}))
	path := test.WriteFile(t, t.TempDir(), "partial.gif", buf.Bytes())

	src, err := (&media.GIFDecoder{DefaultDelay: time.Second}).Open(context.Background(), path, nil)
	require.NoError(t, err)
	frames := drain(t, src)
	require.Len(t, frames, 2)

	assert.Equal(t, blue, frames[1].Image.RGBAAt(0, 0))
	assert.Equal(t, red, frames[1].Image.RGBAAt(3, 3), "pixels outside the patch keep the previous frame")
	assert.Equal(t, 50*time.Millisecond, frames[1].Delay)
}

func TestGIFDecoderFrameLimit(t *testing.T) {
	path := test.WriteFile(t, t.TempDir(), "a.gif", test.MakeGIF(t, 5, 4, 4, 10))
	dec := &media.GIFDecoder{DefaultDelay: time.Second, MaxFrames: 3}
	_, err := dec.Open(context.Background(), path, nil)
	assert.ErrorIs(t, err, media.ErrTooManyFrames)

	// Metadata without a frame count defers the check to decoding.
	src, err := dec.Open(context.Background(), path, &model.MediaMetadata{Width: 4, Height: 4})
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, media.ErrTooManyFrames)
}

func TestGIFConfigReportsDeclaredScreen(t *testing.T) {
	data := test.MakeGIFScreen(t, 12000, 12000)
	require.Less(t, len(data), 1024)
	path := test.WriteFile(t, t.TempDir(), "huge.gif", data)

	meta, err := media.GIFConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12000, meta.Width)
	assert.Equal(t, 12000, meta.Height)
	assert.Equal(t, 1, meta.FrameCount)
}

func TestGIFDecoderRejectsOversizeScreenBeforeDecoding(t *testing.T) {
	path := test.WriteFile(t, t.TempDir(), "huge.gif", test.MakeGIFScreen(t, 12000, 12000))
	dec := &media.GIFDecoder{
		DefaultDelay: time.Second,
		Limits:       media.Limits{MaxWidth: 4096, MaxHeight: 4096, MaxPixels: 4096 * 4096},
	}
	_, err := dec.Open(context.Background(), path, nil)
	assert.ErrorIs(t, err, media.ErrFrameTooLarge)
}

func TestGIFDecoderRejectsTooManyPixelsAcrossFrames(t *testing.T) {
	path := test.WriteFile(t, t.TempDir(), "a.gif", test.MakeGIF(t, 4, 10, 10, 10))
	dec := &media.GIFDecoder{DefaultDelay: time.Second, Limits: media.Limits{MaxTotalPixels: 300}}
	_, err := dec.Open(context.Background(), path, nil)
	assert.ErrorIs(t, err, media.ErrTooManyFrames)
}

func TestLimits(t *testing.T) {
	limits := media.Limits{MaxWidth: 100, MaxHeight: 50, MaxPixels: 4000, MaxTotalPixels: 10000}

	assert.NoError(t, limits.Check(100, 40))
	assert.ErrorIs(t, limits.Check(101, 10), media.ErrFrameTooLarge)
	assert.ErrorIs(t, limits.Check(10, 51), media.ErrFrameTooLarge)
	assert.ErrorIs(t, limits.Check(100, 50), media.ErrFrameTooLarge, "5000 pixels is over the per frame limit")
	assert.Error(t, limits.Check(0, 10))

	assert.NoError(t, limits.CheckSequence(2, 100, 40))
	assert.ErrorIs(t, limits.CheckSequence(3, 100, 40), media.ErrTooManyFrames)
	assert.NoError(t, media.Limits{}.CheckSequence(1000, 10000, 10000), "zero limits are disabled")
}

func TestGIFEncoderFrameCap(t *testing.T) {
	dir := t.TempDir()
	path := test.WriteFile(t, dir, "a.gif", test.MakeGIF(t, 4, 8, 8, 5))
	src, err := (&media.GIFDecoder{DefaultDelay: time.Second}).Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer src.Close()

	enc := &media.GIFEncoder{DefaultDelay: time.Second, Workers: 2, MaxFrames: 3}
	_, err = enc.Encode(context.Background(), media.EncodeRequest{Frames: src, Destination: filepath.Join(dir, "out.gif")})
	assert.ErrorIs(t, err, media.ErrTooManyFrames)
}

func TestGIFEncoderLoopsForeverAndReplacesFrames(t *testing.T) {
	dir := t.TempDir()
	path := test.WriteFile(t, dir, "a.gif", test.MakeGIF(t, 3, 40, 20, 7))
	src, err := (&media.GIFDecoder{DefaultDelay: 100 * time.Millisecond}).Open(context.Background(), path, nil)
	require.NoError(t, err)

	out := filepath.Join(dir, "out.gif")
	enc := &media.GIFEncoder{DefaultDelay: 100 * time.Millisecond, Workers: 2}
	res, err := enc.Encode(context.Background(), media.EncodeRequest{Frames: src, Destination: out})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 40, res.Width)
	assert.Equal(t, 20, res.Height)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)

	assert.Len(t, g.Image, 3)
	assert.Equal(t, 0, g.LoopCount)
	assert.Equal(t, []int{7, 7, 7}, g.Delay)
	for _, d := range g.Disposal {
		assert.Equal(t, byte(gif.DisposalBackground), d)
	}
}
