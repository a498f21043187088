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
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
	"github.com/soniakeys/quant/median"
	"golang.org/x/sync/errgroup"
)

// gifDelayUnit is the resolution of GIF frame delays.
const gifDelayUnit = 10 * time.Millisecond

// ErrTooManyFrames is returned when a GIF exceeds the configured frame limit.
var ErrTooManyFrames = errors.New("too many frames")

// GIFConfig reads the logical screen of a GIF and counts its frames
// without decoding them.
func GIFConfig(path string) (*model.MediaMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := gif.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gif has an empty logical screen %dx%d", cfg.Width, cfg.Height)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &model.MediaMetadata{
		Kind:       model.KindImageSequence,
		Container:  "gif",
		Width:      cfg.Width,
		Height:     cfg.Height,
		FrameCount: countGIFFrames(bufio.NewReader(f)),
		FastStart:  true,
	}, nil
}

// countGIFFrames walks the block structure of a GIF and counts its image
// descriptors without decompressing them. A malformed stream ends the walk;
// the decoder reports it later.
func countGIFFrames(r *bufio.Reader) int {
	var screen [13]byte
	if _, err := io.ReadFull(r, screen[:]); err != nil {
		return 0
	}
	if screen[10]&0x80 != 0 {
		if _, err := r.Discard(3 << (screen[10]&0x07 + 1)); err != nil {
			return 0
		}
	}
	frames := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return frames
		}
		switch b {
		case 0x21: // extension
			if _, err := r.ReadByte(); err != nil {
				return frames
			}
			if err := skipSubBlocks(r); err != nil {
				return frames
			}
		case 0x2c: // image descriptor
			var desc [9]byte
			if _, err := io.ReadFull(r, desc[:]); err != nil {
				return frames
			}
			if desc[8]&0x80 != 0 {
				if _, err := r.Discard(3 << (desc[8]&0x07 + 1)); err != nil {
					return frames
				}
			}
			// LZW minimum code size.
			if _, err := r.ReadByte(); err != nil {
				return frames
			}
			if err := skipSubBlocks(r); err != nil {
				return frames
			}
			frames++
		default:
			return frames
		}
	}
}

func skipSubBlocks(r *bufio.Reader) error {
	for {
		n, err := r.ReadByte()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := r.Discard(int(n)); err != nil {
			return err
		}
	}
}

// GIFDecoder decodes animated GIFs with image/gif.
//
// Decoding holds every paletted frame (one byte per pixel, bounded by
// Limits.MaxTotalPixels) plus two RGBA canvases of the logical screen.
type GIFDecoder struct {
	DefaultDelay time.Duration // Used for frames with a non-positive delay.
	MaxFrames    int           // Zero means unlimited.
	Limits       Limits
}

// Open prepares path for decoding and rejects animations beyond the limits
// before any frame is decompressed. The frames are decoded on the first call
// to Next.
func (d *GIFDecoder) Open(_ context.Context, path string, meta *model.MediaMetadata) (FrameSource, error) {
	if meta == nil {
		var err error
		if meta, err = GIFConfig(path); err != nil {
			return nil, err
		}
	}
	if d.MaxFrames > 0 && meta.FrameCount > d.MaxFrames {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyFrames, meta.FrameCount, d.MaxFrames)
	}
	if err := d.Limits.CheckSequence(meta.FrameCount, meta.Width, meta.Height); err != nil {
		return nil, err
	}
	copied := *meta
	return &gifSource{decoder: d, path: path, meta: &copied}, nil
}

type gifSource struct {
	decoder *GIFDecoder
	path    string
	meta    *model.MediaMetadata

	g        *gif.GIF
	canvas   *image.RGBA
	previous *image.RGBA
	next     int
	elapsed  time.Duration
}

func (s *gifSource) Metadata() *model.MediaMetadata {
	return s.meta
}

func (s *gifSource) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	g, err := gif.DecodeAll(bufio.NewReader(f))
	if err != nil {
		return err
	}
	if len(g.Image) == 0 {
		return errors.New("gif has no frames")
	}
	if s.decoder.MaxFrames > 0 && len(g.Image) > s.decoder.MaxFrames {
		return fmt.Errorf("%w: %d exceeds %d", ErrTooManyFrames, len(g.Image), s.decoder.MaxFrames)
	}
	if err := s.decoder.Limits.CheckSequence(len(g.Image), s.meta.Width, s.meta.Height); err != nil {
		return err
	}

	var total time.Duration
	for i := range g.Image {
		total += s.delay(g, i)
	}
	s.meta.FrameCount = len(g.Image)
	s.meta.LoopCount = g.LoopCount
	s.meta.Duration = total

	s.g = g
	s.canvas = image.NewRGBA(image.Rect(0, 0, s.meta.Width, s.meta.Height))
	return nil
}

func (s *gifSource) delay(g *gif.GIF, i int) time.Duration {
	if i < len(g.Delay) && g.Delay[i] > 0 {
		return time.Duration(g.Delay[i]) * gifDelayUnit
	}
	return s.decoder.DefaultDelay
}

// Next composites the next GIF frame onto the running canvas, honouring the
// disposal method of the previous frame, and returns the visible picture
// flattened onto an opaque background.
func (s *gifSource) Next(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.g == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	if s.next >= len(s.g.Image) {
		return nil, io.EOF
	}

	i := s.next
	s.next++
	src := s.g.Image[i]
	disposal := byte(0)
	if i < len(s.g.Disposal) {
		disposal = s.g.Disposal[i]
	}

	if disposal == gif.DisposalPrevious {
		s.previous = cloneRGBA(s.canvas)
	}
	draw.Draw(s.canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)

	visible := image.NewRGBA(s.canvas.Bounds())
	draw.Draw(visible, visible.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(visible, visible.Bounds(), s.canvas, image.Point{}, draw.Over)

	switch disposal {
	case gif.DisposalBackground:
		draw.Draw(s.canvas, src.Bounds(), image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if s.previous != nil {
			s.canvas = s.previous
			s.previous = nil
		}
	}

	delay := s.delay(s.g, i)
	frame := &model.Frame{
		Image:     visible,
		Index:     i,
		Delay:     delay,
		Timestamp: s.elapsed,
	}
	s.elapsed += delay
	return frame, nil
}

func (s *gifSource) Close() error {
	s.g = nil
	s.canvas = nil
	s.previous = nil
	return nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// GIFEncoder writes infinitely looping GIFs. Every frame is quantized to its
// own palette by a bounded pool of workers.
//
// The whole animation is assembled before it is written, so an encode holds
// MaxFrames paletted frames (one byte per pixel of the captioned canvas) and
// at most Workers+1 RGBA frames (four bytes per pixel) waiting for a palette.
// With frames limited upstream by Limits.MaxTotalPixels, the paletted part
// stays within that many bytes plus the caption band.
type GIFEncoder struct {
	DefaultDelay time.Duration // Used for frames without a delay.
	Workers      int           // Maximum concurrent quantizations.
	MaxFrames    int           // Zero means unlimited.
}

type paletteSlot struct {
	img   *image.Paletted
	delay int
}

// Encode drains req.Frames and writes the animation to req.Destination.
// Each frame uses background disposal so it fully replaces its predecessor.
func (e *GIFEncoder) Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error) {
	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		slots  []*paletteSlot
		bounds image.Rectangle
	)
	for {
		frame, err := req.Frames.Next(gctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		if e.MaxFrames > 0 && len(slots) >= e.MaxFrames {
			_ = g.Wait()
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyFrames, e.MaxFrames)
		}
		if len(slots) == 0 {
			bounds = frame.Image.Bounds()
		} else if frame.Image.Bounds() != bounds {
			_ = g.Wait()
			return nil, fmt.Errorf("frame %d is %v, expected %v", frame.Index, frame.Image.Bounds(), bounds)
		}

		slot := &paletteSlot{delay: e.centiseconds(frame.Delay)}
		slots = append(slots, slot)
		img := frame.Image
		g.Go(func() error {
			slot.img = quantize(img)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, errors.New("no frames to encode")
	}

	out := &gif.GIF{
		Image:     make([]*image.Paletted, len(slots)),
		Delay:     make([]int, len(slots)),
		Disposal:  make([]byte, len(slots)),
		LoopCount: 0,
		Config: image.Config{
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		},
	}
	for i, slot := range slots {
		out.Image[i] = slot.img
		out.Delay[i] = slot.delay
		out.Disposal[i] = gif.DisposalBackground
	}

	f, err := os.OpenFile(req.Destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	if err := gif.EncodeAll(w, out); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write gif: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &EncodeResult{Frames: len(slots), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func (e *GIFEncoder) centiseconds(d time.Duration) int {
	if d <= 0 {
		d = e.DefaultDelay
	}
	cs := int((d + gifDelayUnit/2) / gifDelayUnit)
	if cs < 1 {
		cs = 1
	}
	return cs
}

// quantize reduces img to a median cut palette of at most 256 colours.
func quantize(img *image.RGBA) *image.Paletted {
	palette := median.Quantizer(256).Quantize(make(color.Palette, 0, 256), img)
	if len(palette) == 0 {
		palette = color.Palette{color.Black}
	}
	p := image.NewPaletted(img.Bounds(), palette)
	draw.FloydSteinberg.Draw(p, img.Bounds(), img, img.Bounds().Min)
	return p
}
