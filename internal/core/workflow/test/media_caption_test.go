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

// Package workflow_test contains integration tests for the caption workflow.
// This file, `media_caption_test.go`, runs complete jobs against local origin
// servers: GIF jobs with the real codecs, video jobs with fakes (or with
// ffmpeg when it is installed), and failures injected at every stage.
package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/gif"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-media-caption/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	zassert "github.com/zeebo/assert"
)

// videoMeta is what the fake prober reports for MP4 sources.
var videoMeta = model.MediaMetadata{
	Kind:      model.KindVideo,
	Container: "mov,mp4,m4a,3gp,3g2,mj2",
	Width:     64,
	Height:    48,
	FrameRate: 10,
	Duration:  500 * time.Millisecond,
}

// faststartMP4 is an MP4 whose index precedes its media data.
func faststartMP4() []byte {
	moov := test.ISOBox("moov", test.ISOBox("mvhd", make([]byte, 100)))
	return test.ISOFile(moov, test.ISOBox("mdat", make([]byte, 64)))
}

// trailingIndexMP4 is an MP4 whose index follows its media data.
func trailingIndexMP4() []byte {
	moov := test.ISOBox("moov", test.ISOBox("mvhd", make([]byte, 100)))
	return test.ISOFile(test.ISOBox("mdat", make([]byte, 64)), moov)
}

func requireStageError(t *testing.T, err error, kind model.ErrorKind, stage model.Stage) *model.StageError {
	t.Helper()
	require.Error(t, err)
	se, ok := model.AsStageError(err)
	require.True(t, ok, "expected a stage error, got %v", err)
	assert.Equal(t, kind, se.Kind, se.Error())
	assert.Equal(t, stage, se.Stage, se.Error())
	return se
}

func TestCaptionGIF(t *testing.T) {
	traceCtx, span := tracer.Start(ctx, "caption-gif")
	defer span.End()

	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 3, 200, 100, 10)},
	})
	out := &sink{}

	job, err := newWorkflow(t, cfg).Process(traceCtx, model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: "HELLO"}, out.deliver)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, job.Status())
	assert.Equal(t, model.StageDone, job.Stage())
	assert.Equal(t, model.KindImageSequence, job.Kind)
	assert.Equal(t, 1, out.calls)
	assert.Equal(t, job.Id, out.jobID)
	assert.Equal(t, "image/gif", out.contentType)
	assert.Equal(t, int64(len(out.data)), out.size)

	g, err := gif.DecodeAll(bytes.NewReader(out.data))
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
	assert.Equal(t, 200, g.Config.Width)
	assert.Greater(t, g.Config.Height, 100)
	assert.Equal(t, 0, g.LoopCount)
	for i := range g.Image {
		assert.Equal(t, byte(gif.DisposalBackground), g.Disposal[i])
		assert.Equal(t, 10, g.Delay[i])
		assert.Equal(t, g.Config.Height, g.Image[i].Bounds().Dy())
	}

	assert.True(t, job.Scratch.Released())
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func luminance(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (299*r + 587*g + 114*b) / 1000 >> 8
}

func TestCaptionChangesPixels(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 1, 120, 60, 10)},
	})
	out := &sink{}

	_, err := newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: "HELLO"}, out.deliver)
	require.NoError(t, err)

	g, err := gif.DecodeAll(bytes.NewReader(out.data))
	require.NoError(t, err)
	frame := g.Image[0]

	// The picture keeps its colour above the band.
	r, gr, b, _ := frame.At(60, 30).RGBA()
	src := test.FramePalette[0].(color.RGBA)
	assert.InDelta(t, float64(src.R), float64(r>>8), 16)
	assert.InDelta(t, float64(src.G), float64(gr>>8), 16)
	assert.InDelta(t, float64(src.B), float64(b>>8), 16)

	// The band below the picture is dark with light glyphs.
	bounds := frame.Bounds()
	assert.Less(t, luminance(frame.At(0, bounds.Max.Y-1)), uint32(40))
	bright := 0
	for y := 60; y < bounds.Max.Y; y++ {
		for x := 0; x < bounds.Max.X; x++ {
			if luminance(frame.At(x, y)) > 200 {
				bright++
			}
		}
	}
	assert.Greater(t, bright, 0)
}

func TestCaptionIsRepeatable(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 4, 90, 40, 0)},
	})
	w := newWorkflow(t, cfg)
	req := model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: "same text every time"}

	var results []*gif.GIF
	for i := 0; i < 2; i++ {
		out := &sink{}
		_, err := w.Process(ctx, req, out.deliver)
		require.NoError(t, err)
		g, err := gif.DecodeAll(bytes.NewReader(out.data))
		require.NoError(t, err)
		results = append(results, g)
	}

	zassert.Equal(t, len(results[0].Image), len(results[1].Image))
	zassert.Equal(t, results[0].Config.Width, results[1].Config.Width)
	zassert.Equal(t, results[0].Config.Height, results[1].Config.Height)
	// Frames without a delay get the configured default of 100ms.
	zassert.DeepEqual(t, []int{10, 10, 10, 10}, results[0].Delay)
	zassert.DeepEqual(t, results[0].Delay, results[1].Delay)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestBlankTextIsRejectedBeforeFetch(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 1, 10, 10, 10)},
	})
	w := newWorkflow(t, cfg)

	for _, text := range []string{"", "   ", "\t\n"} {
		out := &sink{}
		job, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: text}, out.deliver)
		requireStageError(t, err, model.KindInvalidRequest, model.StageRequest)
		assert.Nil(t, job)
		assert.Zero(t, out.calls)
	}
	_, err := w.Process(ctx, model.OverlayRequest{SourceURL: "ftp://example.com/a.gif", Text: "x"}, (&sink{}).deliver)
	requireStageError(t, err, model.KindInvalidRequest, model.StageRequest)

	assert.Zero(t, origin.Hits())
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestMissingSourceIsFetchFailed(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, nil)
	out := &sink{}

	job, err := newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/missing.gif"), Text: "HELLO"}, out.deliver)

	se := requireStageError(t, err, model.KindFetchFailed, model.StageFetch)
	assert.Equal(t, http.StatusNotFound, se.UpstreamStatus)
	assert.Equal(t, http.StatusBadRequest, se.HTTPStatus())
	require.NotNil(t, job)
	assert.Equal(t, model.StatusFailed, job.Status())
	assert.Same(t, se, job.Failure())
	assert.Zero(t, out.calls)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestFetchLimits(t *testing.T) {
	cfg := test.NewTestConfig(t)
	cfg.Fetch.MaxBytes = 256
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/big.gif":   {ContentType: "image/gif", Body: make([]byte, 1024)},
		"/page.html": {ContentType: "text/html; charset=utf-8", Body: []byte("<html></html>")},
		"/empty.gif": {ContentType: "image/gif"},
	})
	w := newWorkflow(t, cfg)

	_, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/big.gif"), Text: "x"}, (&sink{}).deliver)
	requireStageError(t, err, model.KindFetchFailed, model.StageFetch)

	_, err = w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/page.html"), Text: "x"}, (&sink{}).deliver)
	se := requireStageError(t, err, model.KindFetchFailed, model.StageFetch)
	assert.Equal(t, http.StatusOK, se.UpstreamStatus)

	_, err = w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/empty.gif"), Text: "x"}, (&sink{}).deliver)
	se = requireStageError(t, err, model.KindEmptyBody, model.StageFetch)
	assert.Equal(t, http.StatusOK, se.UpstreamStatus)

	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestFetchTimeout(t *testing.T) {
	cfg := test.NewTestConfig(t)
	cfg.Fetch.TimeoutSeconds = 1
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	_, err := newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: slow.URL + "/slow.gif", Text: "x"}, (&sink{}).deliver)
	requireStageError(t, err, model.KindFetchFailed, model.StageFetch)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestGCSSourceRequiresStorage(t *testing.T) {
	cfg := test.NewTestConfig(t)
	_, err := newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: "gs://bucket/cat.gif", Text: "x"}, (&sink{}).deliver)
	requireStageError(t, err, model.KindFetchFailed, model.StageFetch)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestMissingFontFailsBeforeAnyFrame(t *testing.T) {
	cfg := test.NewTestConfig(t)
	cfg.Overlay.FontPath = filepath.Join(t.TempDir(), "missing.ttf")
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 3, 40, 20, 10)},
	})
	decoder := newSolidDecoder(3)
	encoder := &recordingEncoder{}
	w := newWorkflow(t, cfg, workflow.WithCodec(model.KindImageSequence, media.Codec{Decoder: decoder, Encoder: encoder}))
	out := &sink{}

	job, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: "HELLO"}, out.deliver)

	requireStageError(t, err, model.KindFontLoadFailed, model.StageOverlay)
	assert.Zero(t, decoder.pulled)
	assert.Empty(t, encoder.bounds)
	assert.Zero(t, out.calls)
	assert.Equal(t, model.StatusFailed, job.Status())
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestVideoCanvasIsEven(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/clip.mp4": {ContentType: "video/mp4", Body: faststartMP4()},
	})
	meta := videoMeta
	meta.Width, meta.Height = 63, 47
	prober := &staticProber{meta: meta}
	remuxer := &rewritingRemuxer{}
	decoder := newSolidDecoder(5)
	encoder := &recordingEncoder{}
	w := newWorkflow(t, cfg,
		workflow.WithProber(prober),
		workflow.WithRemuxer(remuxer),
		workflow.WithCodec(model.KindVideo, media.Codec{Decoder: decoder, Encoder: encoder}))
	out := &sink{}

	job, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/clip.mp4"), Text: "HELLO"}, out.deliver)
	require.NoError(t, err)

	assert.Equal(t, model.KindVideo, job.Kind)
	assert.Equal(t, "video/mp4", out.contentType)
	assert.Empty(t, remuxer.sources)
	require.Len(t, encoder.bounds, 5)
	for _, b := range encoder.bounds {
		assert.Zero(t, b.Dx()%2, "width %d", b.Dx())
		assert.Zero(t, b.Dy()%2, "height %d", b.Dy())
		assert.Greater(t, b.Dy(), 47)
	}
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestTrailingIndexIsRepairedBeforeDecode(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/clip.mp4": {ContentType: "video/mp4", Body: trailingIndexMP4()},
	})
	remuxer := &rewritingRemuxer{}
	decoder := newSolidDecoder(2)
	w := newWorkflow(t, cfg,
		workflow.WithProber(&staticProber{meta: videoMeta}),
		workflow.WithRemuxer(remuxer),
		workflow.WithCodec(model.KindVideo, media.Codec{Decoder: decoder, Encoder: &recordingEncoder{}}))

	_, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/clip.mp4"), Text: "HELLO"}, (&sink{}).deliver)
	require.NoError(t, err)

	require.Len(t, remuxer.sources, 1)
	require.Len(t, decoder.opened, 1)
	assert.NotEqual(t, remuxer.sources[0], decoder.opened[0])
	assert.NoFileExists(t, remuxer.sources[0])
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestHugeGIFCanvasIsRejectedBeforeDecode(t *testing.T) {
	cfg := test.NewTestConfig(t)
	body := test.MakeGIFScreen(t, 12000, 12000)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/huge.gif": {ContentType: "image/gif", Body: body},
	})
	decoder := newSolidDecoder(1)
	w := newWorkflow(t, cfg, workflow.WithCodec(model.KindImageSequence, media.Codec{Decoder: decoder, Encoder: &recordingEncoder{}}))
	out := &sink{}

	job, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/huge.gif"), Text: "HELLO"}, out.deliver)

	se := requireStageError(t, err, model.KindInvalidContainer, model.StageValidate)
	zassert.Equal(t, se.HTTPStatus(), http.StatusUnprocessableEntity)
	assert.ErrorIs(t, err, media.ErrFrameTooLarge)
	assert.Less(t, len(body), 1024)
	assert.Empty(t, decoder.opened)
	assert.Zero(t, out.calls)
	assert.Equal(t, model.StatusFailed, job.Status())
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestGIFPixelBudgetIsEnforcedBeforeDecode(t *testing.T) {
	cfg := test.NewTestConfig(t)
	cfg.Limits.MaxTotalPixels = 3 * 40 * 20
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/long.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 4, 40, 20, 10)},
	})
	decoder := newSolidDecoder(4)
	w := newWorkflow(t, cfg, workflow.WithCodec(model.KindImageSequence, media.Codec{Decoder: decoder, Encoder: &recordingEncoder{}}))

	_, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/long.gif"), Text: "HELLO"}, (&sink{}).deliver)

	requireStageError(t, err, model.KindInvalidContainer, model.StageValidate)
	assert.ErrorIs(t, err, media.ErrTooManyFrames)
	assert.Empty(t, decoder.opened)
}

func TestHugeVideoIsRejectedBeforeDecode(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/clip.mp4": {ContentType: "video/mp4", Body: faststartMP4()},
	})
	meta := videoMeta
	meta.Width, meta.Height = 10000, 10000
	decoder := newSolidDecoder(1)
	w := newWorkflow(t, cfg,
		workflow.WithProber(&staticProber{meta: meta}),
		workflow.WithRemuxer(&rewritingRemuxer{}),
		workflow.WithCodec(model.KindVideo, media.Codec{Decoder: decoder, Encoder: &recordingEncoder{}}))

	_, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/clip.mp4"), Text: "HELLO"}, (&sink{}).deliver)

	se := requireStageError(t, err, model.KindInvalidContainer, model.StageValidate)
	zassert.Equal(t, se.HTTPStatus(), http.StatusUnprocessableEntity)
	assert.ErrorIs(t, err, media.ErrFrameTooLarge)
	assert.Empty(t, decoder.opened)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestUnusableScratchDirIsInternal(t *testing.T) {
	cfg := test.NewTestConfig(t)
	blocker := test.WriteFile(t, t.TempDir(), "not-a-dir", []byte("x"))
	cfg.Storage.ScratchDir = filepath.Join(blocker, "scratch")
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 1, 40, 20, 10)},
	})
	out := &sink{}

	job, err := newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: "HELLO"}, out.deliver)

	se := requireStageError(t, err, model.KindInternal, model.StageFetch)
	zassert.Equal(t, se.HTTPStatus(), http.StatusInternalServerError)
	assert.Zero(t, out.calls)
	assert.True(t, job.Scratch.Released())
}

func TestLayoutFailureIsInternal(t *testing.T) {
	cfg := test.NewTestConfig(t)
	origin := test.NewOrigin(t, map[string]test.Asset{
		"/cat.gif": {ContentType: "image/gif", Body: test.MakeGIF(t, 1, 40, 20, 10)},
	})
	decoder := newSolidDecoder(1)
	decoder.noSize = true
	encoder := &recordingEncoder{}
	w := newWorkflow(t, cfg, workflow.WithCodec(model.KindImageSequence, media.Codec{Decoder: decoder, Encoder: encoder}))

	_, err := w.Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/cat.gif"), Text: "HELLO"}, (&sink{}).deliver)

	se := requireStageError(t, err, model.KindInternal, model.StageOverlay)
	zassert.Equal(t, se.HTTPStatus(), http.StatusInternalServerError)
	assert.Empty(t, encoder.bounds)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestNoScratchLeaksOnFailure(t *testing.T) {
	gifBody := test.MakeGIF(t, 3, 40, 20, 10)
	cases := []struct {
		name    string
		path    string
		asset   test.Asset
		options func() []workflow.Option
		deliver error
		font    string
		kind    model.ErrorKind
		stage   model.Stage
	}{
		{
			name:  "fetch",
			path:  "/elsewhere.gif",
			kind:  model.KindFetchFailed,
			stage: model.StageFetch,
		},
		{
			name:  "empty body",
			asset: test.Asset{ContentType: "image/gif"},
			kind:  model.KindEmptyBody,
			stage: model.StageFetch,
		},
		{
			name:  "not media",
			asset: test.Asset{ContentType: "application/octet-stream", Body: []byte("definitely not a gif or an mp4")},
			kind:  model.KindInvalidContainer,
			stage: model.StageValidate,
		},
		{
			name:  "stream inspection",
			asset: test.Asset{ContentType: "video/mp4", Body: faststartMP4()},
			options: func() []workflow.Option {
				return []workflow.Option{workflow.WithProber(&staticProber{err: media.ErrNoVideoStream})}
			},
			kind:  model.KindInvalidContainer,
			stage: model.StageValidate,
		},
		{
			name:  "repair",
			asset: test.Asset{ContentType: "video/mp4", Body: trailingIndexMP4()},
			options: func() []workflow.Option {
				return []workflow.Option{
					workflow.WithProber(&staticProber{meta: videoMeta}),
					workflow.WithRemuxer(&rewritingRemuxer{err: errors.New("remux exploded")}),
				}
			},
			kind:  model.KindRepairFailed,
			stage: model.StageValidate,
		},
		{
			name:  "decoder open",
			asset: test.Asset{ContentType: "video/mp4", Body: faststartMP4()},
			options: func() []workflow.Option {
				decoder := newSolidDecoder(3)
				decoder.openErr = errors.New("no decoder")
				return []workflow.Option{
					workflow.WithProber(&staticProber{meta: videoMeta}),
					workflow.WithCodec(model.KindVideo, media.Codec{Decoder: decoder, Encoder: &recordingEncoder{}}),
				}
			},
			kind:  model.KindDecodeFailed,
			stage: model.StageDecode,
		},
		{
			name:  "frame decode",
			asset: test.Asset{ContentType: "image/gif", Body: gifBody},
			options: func() []workflow.Option {
				decoder := newSolidDecoder(3)
				decoder.failAt = 1
				return []workflow.Option{
					workflow.WithCodec(model.KindImageSequence, media.Codec{Decoder: decoder, Encoder: &media.GIFEncoder{Workers: 2}}),
				}
			},
			kind:  model.KindDecodeFailed,
			stage: model.StageDecode,
		},
		{
			name:  "font",
			asset: test.Asset{ContentType: "image/gif", Body: gifBody},
			font:  "missing.ttf",
			kind:  model.KindFontLoadFailed,
			stage: model.StageOverlay,
		},
		{
			name:  "encode",
			asset: test.Asset{ContentType: "image/gif", Body: gifBody},
			options: func() []workflow.Option {
				return []workflow.Option{
					workflow.WithCodec(model.KindImageSequence, media.Codec{
						Decoder: newSolidDecoder(3),
						Encoder: &recordingEncoder{err: errors.New("encoder exploded")},
					}),
				}
			},
			kind:  model.KindEncodeFailed,
			stage: model.StageEncode,
		},
		{
			name:    "stream",
			asset:   test.Asset{ContentType: "image/gif", Body: gifBody},
			deliver: errors.New("client went away"),
			kind:    model.KindInternal,
			stage:   model.StageStream,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := test.NewTestConfig(t)
			if len(tc.font) > 0 {
				cfg.Overlay.FontPath = filepath.Join(t.TempDir(), tc.font)
			}
			origin := test.NewOrigin(t, map[string]test.Asset{"/source": tc.asset})
			path := tc.path
			if len(path) == 0 {
				path = "/source"
			}
			var options []workflow.Option
			if tc.options != nil {
				options = tc.options()
			}
			out := &sink{err: tc.deliver}

			job, err := newWorkflow(t, cfg, options...).Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor(path), Text: "HELLO"}, out.deliver)

			se := requireStageError(t, err, tc.kind, tc.stage)
			require.NotNil(t, job)
			assert.Equal(t, model.StatusFailed, job.Status())
			assert.Equal(t, tc.stage, job.Stage())
			assert.Same(t, se, job.Failure())
			assert.True(t, job.Scratch.Released())
			assert.Empty(t, job.Scratch.Paths())
			assert.Empty(t, test.ScratchEntries(t, cfg))
		})
	}
}

func TestCaptionMP4WithFFMpeg(t *testing.T) {
	ffprobe := test.RequireTool(t, "ffprobe")
	cfg := test.NewTestConfig(t)
	dir := t.TempDir()
	source := test.MakeMP4(t, dir, "source.mp4", test.MP4Options{
		Width: 96, Height: 64, FrameRate: 12, Seconds: 1, Audio: true,
	})
	body, err := os.ReadFile(source)
	require.NoError(t, err)
	origin := test.NewOrigin(t, map[string]test.Asset{"/clip.mp4": {ContentType: "video/mp4", Body: body}})
	out := &sink{}

	job, err := newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/clip.mp4"), Text: "HELLO"}, out.deliver)
	require.NoError(t, err)
	assert.Equal(t, model.KindVideo, job.Kind)
	assert.Equal(t, "video/mp4", out.contentType)

	result := test.WriteFile(t, dir, "result.mp4", out.data)
	needs, err := media.NeedsFastStart(result)
	require.NoError(t, err)
	assert.False(t, needs)

	meta, err := media.NewFFProbe(ffprobe, logger).Probe(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, 96, meta.Width)
	assert.Greater(t, meta.Height, 64)
	assert.Zero(t, meta.Height%2)
	assert.True(t, meta.HasAudio)
	assert.InDelta(t, time.Second.Seconds(), meta.Duration.Seconds(), 0.15)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestCaptionTrailingIndexMP4WithFFMpeg(t *testing.T) {
	ffprobe := test.RequireTool(t, "ffprobe")
	cfg := test.NewTestConfig(t)
	dir := t.TempDir()
	source := test.MakeMP4(t, dir, "source.mp4", test.MP4Options{
		Width: 80, Height: 48, FrameRate: 10, Seconds: 2, FastStart: false,
	})
	needs, err := media.NeedsFastStart(source)
	require.NoError(t, err)
	require.True(t, needs, "fixture should carry its index at the end")

	body, err := os.ReadFile(source)
	require.NoError(t, err)
	origin := test.NewOrigin(t, map[string]test.Asset{"/clip.mp4": {ContentType: "video/mp4", Body: body}})
	out := &sink{}

	_, err = newWorkflow(t, cfg).Process(ctx, model.OverlayRequest{SourceURL: origin.URLFor("/clip.mp4"), Text: "HELLO"}, out.deliver)
	require.NoError(t, err)

	result := test.WriteFile(t, dir, "result.mp4", out.data)
	meta, err := media.NewFFProbe(ffprobe, logger).Probe(context.Background(), result)
	require.NoError(t, err)
	// Within one frame of the source duration.
	assert.InDelta(t, 2.0, meta.Duration.Seconds(), 0.1)
	assert.Empty(t, test.ScratchEntries(t, cfg))
}

func TestNewWorkflowRejectsBadOverlay(t *testing.T) {
	cfg := *test.GetConfig()
	cfg.Overlay.BandColor = "not-a-colour"
	_, err := workflow.NewMediaCaptionWorkflow(&cfg, &cloud.ServiceClients{}, nil, logger)
	assert.Error(t, err)
}
