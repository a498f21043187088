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

// Package cloud defines the data structures for application configuration,
// loaded from TOML files, and the clients shared by the whole process.
//
// This file centralizes all configuration-related structs, making it easy
// to understand and manage the application's configurable parameters.
//
// Structs:
//   - Storage: Scratch directory and Cloud Storage settings.
//   - Fetch: Limits and policies for downloading source media.
//   - Tools: Paths and timeouts of the external media tools (ffmpeg, ffprobe).
//   - Overlay: Font, colours and layout policy of the caption.
//   - Limits: Largest frame sizes accepted for decoding.
//   - GIF / Video: Encoder defaults for each output kind.
//   - Config: The top-level struct that aggregates all other configuration structs.
//
// Functions:
//   - NewConfig: A constructor that returns a Config populated with defaults.
package cloud

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// Layout policies accepted by Overlay.Policy.
const (
	PolicyCaptionBand = "caption_band"
	PolicyFixedOffset = "fixed_offset"
)

// Storage represents the configuration for scratch and Cloud Storage access.
type Storage struct {
	ScratchDir             string `toml:"scratch_dir"`               // Directory for scratch files; empty means the OS temp dir.
	ScratchPrefix          string `toml:"scratch_prefix"`            // Prefix of every scratch file name.
	StaleScratchAgeMinutes int    `toml:"stale_scratch_age_minutes"` // Age after which leftover scratch files are swept at startup.
	EnableGCS              bool   `toml:"enable_gcs"`                // Whether gs:// sources are accepted.
}

// Fetch represents the configuration of the remote fetcher.
type Fetch struct {
	TimeoutSeconds    int    `toml:"timeout_seconds"`     // Bound on the whole download.
	MaxBytes          int64  `toml:"max_bytes"`           // Largest accepted body; zero disables the limit.
	StrictContentType bool   `toml:"strict_content_type"` // Reject clearly non-media Content-Type headers before reading.
	UserAgent         string `toml:"user_agent"`          // User-Agent sent to origins.
}

// Tools represents the configuration of the external media tools.
type Tools struct {
	FFMpeg               string `toml:"ffmpeg"`                 // Path or name of the ffmpeg executable.
	FFProbe              string `toml:"ffprobe"`                // Path or name of the ffprobe executable.
	ProbeTimeoutSeconds  int    `toml:"probe_timeout_seconds"`  // Bound on a container probe.
	RepairTimeoutSeconds int    `toml:"repair_timeout_seconds"` // Bound on a remux.
	EncodeTimeoutSeconds int    `toml:"encode_timeout_seconds"` // Bound on decode, overlay and encode together.
}

// Overlay represents the configuration of the text overlay engine.
type Overlay struct {
	FontPath  string  `toml:"font_path"`  // Path of the TrueType/OpenType font.
	FontSize  float64 `toml:"font_size"`  // Font size in points.
	DPI       float64 `toml:"dpi"`        // Resolution used to convert points to pixels.
	FillColor string  `toml:"fill_color"` // Text colour, as hex (#rrggbb).
	BandColor string  `toml:"band_color"` // Caption band colour, as hex (#rrggbb).
	Padding   int     `toml:"padding"`    // Padding around the text inside the band, in pixels.
	Policy    string  `toml:"policy"`     // caption_band or fixed_offset.
	OffsetX   int     `toml:"offset_x"`   // Left offset of the text for fixed_offset.
	OffsetY   int     `toml:"offset_y"`   // Top offset of the text for fixed_offset.
	Wrap      bool    `toml:"wrap"`       // Whether long text is wrapped across several lines.
}

// Limits bounds the size of the frames a job may decode. Every frame is
// held as RGBA while it is captioned, so these values bound the memory of a
// job. Zero values are rejected by Validate.
type Limits struct {
	MaxWidth       int   `toml:"max_width"`        // Widest accepted frame.
	MaxHeight      int   `toml:"max_height"`       // Tallest accepted frame.
	MaxPixels      int64 `toml:"max_pixels"`       // Largest accepted width x height.
	MaxTotalPixels int64 `toml:"max_total_pixels"` // Largest accepted frames x width x height of an animation.
}

// GIF represents the encoder defaults of animated image output.
type GIF struct {
	DefaultFrameDelayMs int `toml:"default_frame_delay_ms"` // Delay used when a source frame has none.
	MaxFrames           int `toml:"max_frames"`             // Largest accepted frame count; zero disables the limit.
}

// Video represents the encoder defaults of video output.
type Video struct {
	Codec            string  `toml:"codec"`              // ffmpeg video encoder, e.g. libx264.
	Preset           string  `toml:"preset"`             // Encoder preset; empty omits the flag.
	Bitrate          string  `toml:"bitrate"`            // Target bitrate, e.g. 1M; empty omits the flag.
	DefaultFrameRate float64 `toml:"default_frame_rate"` // Rate used when the source rate is unknown.
}

// Config represents the overall configuration for the application, loaded from TOML files.
// It acts as the root container for all other configuration structs.
type Config struct {
	// Application holds general application settings.
	Application struct {
		Name                   string `toml:"name"`                     // The name of the application.
		GoogleProjectId        string `toml:"google_project_id"`        // The Google Cloud project ID.
		GoogleLocation         string `toml:"location"`                 // The Google Cloud location.
		ListenAddress          string `toml:"listen_address"`           // The address the HTTP server binds to.
		ThreadPoolSize         int    `toml:"thread_pool_size"`         // The size of the worker pool for parallel processing tasks.
		ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"` // Grace period for in-flight requests at shutdown.
	} `toml:"application"`
	Telemetry struct {
		Enabled bool   `toml:"enabled"`  // Export traces and metrics to Google Cloud.
		LogFile  string `toml:"log_file"`  // Optional file receiving a copy of the JSON log.
		LogLevel string `toml:"log_level"` // debug, info, warn or error.
	} `toml:"telemetry"`
	Storage Storage `toml:"storage"` // Scratch and Cloud Storage configuration.
	Fetch   Fetch   `toml:"fetch"`   // Fetcher configuration.
	Tools   Tools   `toml:"tools"`   // External tool configuration.
	Overlay Overlay `toml:"overlay"` // Overlay configuration.
	Limits  Limits  `toml:"limits"`  // Frame size limits.
	GIF     GIF     `toml:"gif"`     // Animated image encoder configuration.
	Video   Video   `toml:"video"`   // Video encoder configuration.
}

// NewConfig is a constructor function that creates a Config holding the
// defaults. Values decoded from the TOML files replace them.
//
// Outputs:
//   - *Config: A pointer to a new Config struct with defaults applied.
func NewConfig() *Config {
	c := &Config{}
	c.Application.Name = "media-caption"
	c.Application.ListenAddress = ":8080"
	c.Application.ThreadPoolSize = 4
	c.Application.ShutdownTimeoutSeconds = 5
	c.Telemetry.LogLevel = "info"
	c.Storage = Storage{ScratchPrefix: "caption-", StaleScratchAgeMinutes: 60}
	c.Fetch = Fetch{TimeoutSeconds: 30, MaxBytes: 100 << 20, UserAgent: "media-caption/1.0"}
	c.Tools = Tools{
		FFMpeg:               "ffmpeg",
		FFProbe:              "ffprobe",
		ProbeTimeoutSeconds:  15,
		RepairTimeoutSeconds: 60,
		EncodeTimeoutSeconds: 300,
	}
	c.Overlay = Overlay{
		FontSize:  28,
		DPI:       72,
		FillColor: "#ffffff",
		BandColor: "#000000",
		Padding:   10,
		Policy:    PolicyCaptionBand,
		OffsetX:   10,
		OffsetY:   10,
	}
	c.Limits = Limits{MaxWidth: 4096, MaxHeight: 4096, MaxPixels: 3840 * 2160, MaxTotalPixels: 250_000_000}
	c.GIF = GIF{DefaultFrameDelayMs: 100}
	c.Video = Video{Codec: "libx264", Preset: "veryfast", Bitrate: "1M", DefaultFrameRate: 24}
	return c
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Application.ThreadPoolSize <= 0 {
		errs = append(errs, errors.New("application.thread_pool_size must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry.log_level: %w", err))
	}
	if len(strings.TrimSpace(c.Storage.ScratchPrefix)) == 0 {
		errs = append(errs, errors.New("storage.scratch_prefix is required"))
	} else if strings.ContainsAny(c.Storage.ScratchPrefix, `/\*?[`) {
		errs = append(errs, fmt.Errorf("storage.scratch_prefix %q must not contain path separators or glob characters", c.Storage.ScratchPrefix))
	}
	if c.Storage.StaleScratchAgeMinutes <= 0 {
		errs = append(errs, errors.New("storage.stale_scratch_age_minutes must be positive"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be positive"))
	}
	if c.Fetch.MaxBytes < 0 {
		errs = append(errs, errors.New("fetch.max_bytes must not be negative"))
	}
	if c.Tools.ProbeTimeoutSeconds <= 0 || c.Tools.RepairTimeoutSeconds <= 0 || c.Tools.EncodeTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("tools timeouts must be positive"))
	}
	if c.Overlay.FontSize <= 0 || c.Overlay.DPI <= 0 {
		errs = append(errs, errors.New("overlay.font_size and overlay.dpi must be positive"))
	}
	if c.Overlay.Padding < 0 {
		errs = append(errs, errors.New("overlay.padding must not be negative"))
	}
	if c.Overlay.Policy != PolicyCaptionBand && c.Overlay.Policy != PolicyFixedOffset {
		errs = append(errs, fmt.Errorf("overlay.policy %q is not one of %s, %s", c.Overlay.Policy, PolicyCaptionBand, PolicyFixedOffset))
	}
	if _, err := colorful.Hex(c.Overlay.FillColor); err != nil {
		errs = append(errs, fmt.Errorf("overlay.fill_color: %w", err))
	}
	if _, err := colorful.Hex(c.Overlay.BandColor); err != nil {
		errs = append(errs, fmt.Errorf("overlay.band_color: %w", err))
	}
	if c.Limits.MaxWidth <= 0 || c.Limits.MaxHeight <= 0 || c.Limits.MaxPixels <= 0 || c.Limits.MaxTotalPixels <= 0 {
		errs = append(errs, errors.New("limits.max_width, max_height, max_pixels and max_total_pixels must be positive"))
	}
	if c.GIF.DefaultFrameDelayMs <= 0 {
		errs = append(errs, errors.New("gif.default_frame_delay_ms must be positive"))
	}
	if c.Video.DefaultFrameRate <= 0 {
		errs = append(errs, errors.New("video.default_frame_rate must be positive"))
	}
	if len(c.Video.Codec) == 0 {
		errs = append(errs, errors.New("video.codec is required"))
	}
	return errors.Join(errs...)
}

// FetchTimeout returns the fetch stage timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ProbeTimeout returns the probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Tools.ProbeTimeoutSeconds) * time.Second
}

// RepairTimeout returns the remux timeout.
func (c *Config) RepairTimeout() time.Duration {
	return time.Duration(c.Tools.RepairTimeoutSeconds) * time.Second
}

// EncodeTimeout returns the bound on the decode, overlay and encode stages.
func (c *Config) EncodeTimeout() time.Duration {
	return time.Duration(c.Tools.EncodeTimeoutSeconds) * time.Second
}

// DefaultFrameDelay returns the GIF frame delay fallback.
func (c *Config) DefaultFrameDelay() time.Duration {
	return time.Duration(c.GIF.DefaultFrameDelayMs) * time.Millisecond
}

// StaleScratchAge returns the age after which scratch files are swept.
func (c *Config) StaleScratchAge() time.Duration {
	return time.Duration(c.Storage.StaleScratchAgeMinutes) * time.Minute
}

// LogLevel parses the configured log level. An empty value is info.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if len(c.Telemetry.LogLevel) == 0 {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(c.Telemetry.LogLevel))
	return level, err
}
