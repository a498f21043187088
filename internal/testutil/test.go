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

// Package test provides utility functions and fixtures to support the
// application's test suite. It loads the test configuration and produces
// media fixtures (animated GIFs, MP4 files, fonts) and origin servers in
// code, so the tests carry no binary assets.
package test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"golang.org/x/image/font/gofont/goregular"
)

// StateManager acts as a simple in-memory cache for the application configuration
// during test runs, so the configuration files are read only once.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr is a simple test helper function that checks if an error is not nil.
// If an error exists, it fails the test immediately.
func HandleErr(err error, t testing.TB) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ConfigDir returns the absolute path of the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS configures the environment variables the configuration loader
// (`cloud.LoadConfig`) depends on, directing it to `configs/.env.test.toml`.
func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir())
	if err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig is a singleton accessor for the test configuration. Callers
// that change values should use NewTestConfig instead.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	})
	return state.config
}

// NewTestConfig returns a private copy of the test configuration whose
// scratch directory is a fresh temporary directory and whose font is Go
// Regular.
func NewTestConfig(t testing.TB) *cloud.Config {
	t.Helper()
	config := *GetConfig()
	dir := t.TempDir()
	config.Storage.ScratchDir = filepath.Join(dir, "scratch")
	config.Overlay.FontPath = WriteFont(t, dir)
	return &config
}

// ScratchEntries lists the files left in the scratch directory.
func ScratchEntries(t testing.TB, config *cloud.Config) []string {
	t.Helper()
	entries, err := os.ReadDir(config.Storage.ScratchDir)
	if os.IsNotExist(err) {
		return nil
	}
	HandleErr(err, t)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// WriteFont writes the Go Regular TrueType font into dir and returns its path.
func WriteFont(t testing.TB, dir string) string {
	t.Helper()
	return WriteFile(t, dir, "goregular.ttf", goregular.TTF)
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t testing.TB, dir string, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	HandleErr(os.WriteFile(path, data, 0o600), t)
	return path
}

// FramePalette holds the colours used for the frames of generated GIFs.
var FramePalette = color.Palette{
	color.RGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff},
	color.RGBA{R: 0x20, G: 0xa0, B: 0x20, A: 0xff},
	color.RGBA{R: 0x20, G: 0x40, B: 0xd0, A: 0xff},
	color.RGBA{R: 0xe0, G: 0xc0, B: 0x20, A: 0xff},
}

// MakeGIF returns an animated GIF of the given size whose frames are solid
// colours taken in turn from FramePalette. delay is in hundredths of a
// second; zero produces frames without a delay.
func MakeGIF(t testing.TB, frames int, width int, height int, delay int) []byte {
	t.Helper()
	g := &gif.GIF{LoopCount: 0}
	for i := 0; i < frames; i++ {
		img := image.NewPaletted(image.Rect(0, 0, width, height), FramePalette)
		idx := uint8(i % len(FramePalette))
		for p := range img.Pix {
			img.Pix[p] = idx
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delay)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	var buf bytes.Buffer
	HandleErr(gif.EncodeAll(&buf, g), t)
	return buf.Bytes()
}

// MakeGIFScreen encodes a single 1x1 frame on a logical screen of
// screenWidth x screenHeight. The file stays tiny whatever the screen size.
func MakeGIFScreen(t testing.TB, screenWidth int, screenHeight int) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 1, 1), FramePalette)
	g := &gif.GIF{
		Image:    []*image.Paletted{img},
		Delay:    []int{10},
		Disposal: []byte{gif.DisposalNone},
		Config:   image.Config{Width: screenWidth, Height: screenHeight},
	}
	var buf bytes.Buffer
	HandleErr(gif.EncodeAll(&buf, g), t)
	return buf.Bytes()
}

// RequireTool returns the path of an executable, skipping the test when it
// is not installed.
func RequireTool(t testing.TB, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

// MP4Options describes a generated MP4 fixture.
type MP4Options struct {
	Width     int
	Height    int
	FrameRate int
	Seconds   float64
	FastStart bool // Whether the index is written before the media data.
	Audio     bool // Whether a sine tone audio track is included.
}

// MakeMP4 renders an ffmpeg test pattern into dir and returns its path.
// The test is skipped when ffmpeg is not installed.
func MakeMP4(t testing.TB, dir string, name string, opts MP4Options) string {
	t.Helper()
	ffmpeg := RequireTool(t, "ffmpeg")
	out := filepath.Join(dir, name)
	duration := strconv.FormatFloat(opts.Seconds, 'f', -1, 64)
	args := []string{
		"-v", "error", "-y",
		"-f", "lavfi",
		"-i", "testsrc=size=" + strconv.Itoa(opts.Width) + "x" + strconv.Itoa(opts.Height) + ":rate=" + strconv.Itoa(opts.FrameRate),
	}
	if opts.Audio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:sample_rate=44100")
	}
	args = append(args, "-t", duration, "-c:v", "mpeg4", "-pix_fmt", "yuv420p")
	if opts.Audio {
		args = append(args, "-c:a", "aac", "-shortest")
	}
	if opts.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-f", "mp4", out)

	cmd := exec.Command(ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to generate mp4 fixture: %v: %s", err, stderr.String())
	}
	return out
}

// ISOBox returns an ISO base media box of the given type wrapping payload.
func ISOBox(typ string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:], typ)
	return append(out, payload...)
}

// ISOFile returns an MP4 file made of an isom ftyp box followed by boxes.
// The boxes carry no playable media; the result is only good for sniffing
// and box order checks.
func ISOFile(boxes ...[]byte) []byte {
	out := ISOBox("ftyp", []byte("isom\x00\x00\x02\x00isomiso2mp41"))
	for _, b := range boxes {
		out = append(out, b...)
	}
	return out
}
