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
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// formatRate renders a frame rate for ffmpeg arguments.
func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

// VideoDecoder decodes video files to raw RGBA frames with ffmpeg, at a
// constant frame rate.
type VideoDecoder struct {
	tool             Tool
	defaultFrameRate float64
	limits           Limits
}

// NewVideoDecoder creates a decoder running the ffmpeg executable at path.
// defaultFrameRate applies when the probed rate is unknown.
func NewVideoDecoder(path string, defaultFrameRate float64, logger *slog.Logger) *VideoDecoder {
	return &VideoDecoder{tool: NewTool(path, logger), defaultFrameRate: defaultFrameRate}
}

// WithLimits bounds the probed frame size accepted by Open.
func (d *VideoDecoder) WithLimits(limits Limits) *VideoDecoder {
	d.limits = limits
	return d
}

// Open starts ffmpeg decoding path. meta must carry the display size.
func (d *VideoDecoder) Open(ctx context.Context, path string, meta *model.MediaMetadata) (FrameSource, error) {
	if meta == nil || meta.Width <= 0 || meta.Height <= 0 {
		return nil, errors.New("video metadata with a display size is required")
	}
	if err := d.limits.Check(meta.Width, meta.Height); err != nil {
		return nil, err
	}
	copied := *meta
	if copied.FrameRate <= 0 {
		copied.FrameRate = d.defaultFrameRate
	}

	cmd, stderr := d.tool.Command(ctx,
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-vf", "fps="+formatRate(copied.FrameRate),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, d.tool.wrap(ctx, err, stderr)
	}
	return &videoSource{
		tool:   d.tool,
		ctx:    ctx,
		cmd:    cmd,
		stderr: stderr,
		reader: bufio.NewReaderSize(stdout, 1<<20),
		meta:   &copied,
		size:   copied.Width * copied.Height * 4,
	}, nil
}

type videoSource struct {
	tool   Tool
	ctx    context.Context
	cmd    *exec.Cmd
	stderr *tailBuffer
	reader *bufio.Reader
	meta   *model.MediaMetadata
	size   int
	next   int
	done   bool
	waited bool
}

func (s *videoSource) Metadata() *model.MediaMetadata {
	return s.meta
}

// Next reads one raw frame. A short read at the end of the stream is an
// error rather than a silently dropped frame.
func (s *videoSource) Next(ctx context.Context) (*model.Frame, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, s.meta.Width, s.meta.Height))
	_, err := io.ReadFull(s.reader, img.Pix[:s.size])
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		if err := s.wait(); err != nil {
			return nil, err
		}
		if s.next == 0 {
			return nil, errors.New("video produced no frames")
		}
		return nil, io.EOF
	case err != nil:
		s.done = true
		if werr := s.wait(); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("truncated frame %d: %w", s.next, err)
	}

	i := s.next
	s.next++
	return &model.Frame{
		Image:     img,
		Index:     i,
		Timestamp: time.Duration(float64(i) / s.meta.FrameRate * float64(time.Second)),
	}, nil
}

func (s *videoSource) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.tool.wrap(s.ctx, s.cmd.Wait(), s.stderr)
}

// Close stops ffmpeg if it is still running.
func (s *videoSource) Close() error {
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.waited = true
	_ = s.cmd.Wait()
	return nil
}

// VideoEncoderOptions configures the ffmpeg video encoder.
type VideoEncoderOptions struct {
	Codec            string  // Video encoder, e.g. libx264.
	Preset           string  // Encoder preset; empty omits it.
	Bitrate          string  // Target bitrate; empty omits it.
	DefaultFrameRate float64 // Used when the frames carry no rate.
}

// VideoEncoder pipes raw RGBA frames into ffmpeg and writes an MP4 with its
// index at the front.
type VideoEncoder struct {
	tool    Tool
	options VideoEncoderOptions
}

// NewVideoEncoder creates an encoder running the ffmpeg executable at path.
func NewVideoEncoder(path string, options VideoEncoderOptions, logger *slog.Logger) *VideoEncoder {
	return &VideoEncoder{tool: NewTool(path, logger), options: options}
}

func (e *VideoEncoder) args(width, height int, rate float64, audio string, dst string) []string {
	args := []string{
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-framerate", formatRate(rate),
		"-i", "pipe:0",
	}
	if len(audio) > 0 {
		args = append(args, "-i", audio)
	}
	args = append(args, "-map", "0:v:0")
	if len(audio) > 0 {
		args = append(args, "-map", "1:a:0?", "-c:a", "aac", "-shortest")
	}
	args = append(args, "-c:v", e.options.Codec)
	if len(e.options.Preset) > 0 {
		args = append(args, "-preset", e.options.Preset)
	}
	if len(e.options.Bitrate) > 0 {
		args = append(args, "-b:v", e.options.Bitrate)
	}
	return append(args,
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		dst)
}

// Encode starts ffmpeg once the first frame fixes the output size, then
// streams every frame to its standard input.
func (e *VideoEncoder) Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error) {
	first, err := req.Frames.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, errors.New("no frames to encode")
	}
	if err != nil {
		return nil, err
	}

	bounds := first.Image.Bounds()
	rate := e.options.DefaultFrameRate
	if meta := req.Frames.Metadata(); meta != nil && meta.FrameRate > 0 {
		rate = meta.FrameRate
	}
	audio := ""
	if meta := req.Frames.Metadata(); meta != nil && meta.HasAudio {
		audio = req.AudioSource
	}

	cmd, stderr := e.tool.Command(ctx, e.args(bounds.Dx(), bounds.Dy(), rate, audio, req.Destination)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, e.tool.wrap(ctx, err, stderr)
	}

	count, writeErr := e.pump(ctx, stdin, first, req.Frames, bounds)
	_ = stdin.Close()
	waitErr := cmd.Wait()
	if writeErr != nil {
		// A broken pipe is explained by the encoder's own failure.
		if isPipeError(writeErr) && waitErr != nil {
			return nil, e.tool.wrap(ctx, waitErr, stderr)
		}
		return nil, writeErr
	}
	if err := e.tool.wrap(ctx, waitErr, stderr); err != nil {
		return nil, err
	}
	return &EncodeResult{Frames: count, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func (e *VideoEncoder) pump(ctx context.Context, w io.Writer, first *model.Frame, frames FrameSource, bounds image.Rectangle) (int, error) {
	bw := bufio.NewWriterSize(w, 1<<20)
	count := 0
	frame := first
	for {
		if frame.Image.Bounds() != bounds {
			return count, fmt.Errorf("frame %d is %v, expected %v", frame.Index, frame.Image.Bounds(), bounds)
		}
		if err := writeRGBA(bw, frame.Image); err != nil {
			return count, pipeError{err}
		}
		count++

		var err error
		frame, err = frames.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, err
		}
	}
	if err := bw.Flush(); err != nil {
		return count, pipeError{err}
	}
	return count, nil
}

// pipeError marks a failed write to the encoder's standard input.
type pipeError struct {
	err error
}

func (p pipeError) Error() string { return "writing to encoder: " + p.err.Error() }
func (p pipeError) Unwrap() error { return p.err }

func isPipeError(err error) bool {
	var pe pipeError
	return errors.As(err, &pe)
}

func writeRGBA(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen {
		start := img.PixOffset(b.Min.X, b.Min.Y)
		_, err := w.Write(img.Pix[start : start+rowLen*b.Dy()])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[start : start+rowLen]); err != nil {
			return err
		}
	}
	return nil
}
