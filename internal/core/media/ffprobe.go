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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// maxPlausibleFrameRate rejects time base values reported as frame rates by
// some variable rate files.
const maxPlausibleFrameRate = 240

// ErrNoVideoStream is returned when a container has no video stream.
var ErrNoVideoStream = errors.New("container has no video stream")

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// FFProbe is a Prober backed by the ffprobe executable.
type FFProbe struct {
	tool Tool
}

// NewFFProbe creates a prober running the executable at path.
func NewFFProbe(path string, logger *slog.Logger) *FFProbe {
	return &FFProbe{tool: NewTool(path, logger)}
}

// Probe describes the container at path. It fails when the container cannot
// be parsed or carries no video stream.
func (p *FFProbe) Probe(ctx context.Context, path string) (*model.MediaMetadata, error) {
	var out bytes.Buffer
	err := p.tool.Run(ctx, nil, &out,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path)
	if err != nil {
		return nil, err
	}
	return parseProbeOutput(out.Bytes())
}

func parseProbeOutput(data []byte) (*model.MediaMetadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse probe output: %w", err)
	}

	meta := &model.MediaMetadata{Kind: model.KindVideo, Container: out.Format.FormatName}
	var video *probeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			meta.HasAudio = true
		}
	}
	if video == nil || video.Width <= 0 || video.Height <= 0 {
		return nil, ErrNoVideoStream
	}

	meta.Width, meta.Height = video.Width, video.Height
	if r := rotation(video); r == 90 || r == 270 {
		meta.Width, meta.Height = meta.Height, meta.Width
	}
	meta.FrameRate = parseRate(video.AvgFrameRate)
	if meta.FrameRate == 0 {
		meta.FrameRate = parseRate(video.RFrameRate)
	}
	meta.Duration = parseSeconds(out.Format.Duration)
	if meta.Duration == 0 {
		meta.Duration = parseSeconds(video.Duration)
	}
	if n, err := strconv.Atoi(video.NbFrames); err == nil {
		meta.FrameCount = n
	}
	return meta, nil
}

// rotation returns the display rotation in degrees, normalised to [0, 360).
func rotation(s *probeStream) int {
	deg := 0.0
	if v, ok := s.Tags["rotate"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			deg = f
		}
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			deg = sd.Rotation
		}
	}
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// parseRate parses an ffprobe rational such as "30000/1001". Unknown or
// implausible rates are zero.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil || d == 0 {
			return 0
		}
	}
	rate := n / d
	if rate <= 0 || rate > maxPlausibleFrameRate || math.IsNaN(rate) {
		return 0
	}
	return rate
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Second)))
}
