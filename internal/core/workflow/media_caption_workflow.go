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

// Package workflow defines the high-level business logic orchestrations,
// combining various commands into coherent pipelines. This file implements the
// caption workflow: it burns a text caption into every frame of a remote GIF
// or MP4 and streams the result back to the caller.
package workflow

import (
	goctx "context"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/overlay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MediaCaptionWorkflow orchestrates one caption job. It is structured as a
// Chain of Responsibility (cor.Chain) whose commands run the pipeline
//
//	fetch -> validate/repair -> decode -> overlay -> encode -> stream
//
// and stop at the first failure. Every scratch file a job creates is
// released when Process returns, whatever the outcome.
//
// A single workflow is shared by all requests; the per-job state lives in
// the job and the chain context.
type MediaCaptionWorkflow struct {
	cor.BaseCommand
	config   *cloud.Config
	clients  *cloud.ServiceClients
	fonts    *overlay.FontCache
	style    overlay.Style
	prober   media.Prober
	remuxer  media.Remuxer
	limits   media.Limits
	registry media.Registry
	tools    map[string]media.Tool
	chain    cor.Chain // The underlying chain of commands to be executed.
}

// Option customises a MediaCaptionWorkflow.
type Option func(*MediaCaptionWorkflow)

// WithProber replaces the ffprobe based prober.
func WithProber(prober media.Prober) Option {
	return func(m *MediaCaptionWorkflow) { m.prober = prober }
}

// WithRemuxer replaces the ffmpeg based remuxer.
func WithRemuxer(remuxer media.Remuxer) Option {
	return func(m *MediaCaptionWorkflow) { m.remuxer = remuxer }
}

// WithCodec replaces the decoder and encoder of one media kind.
func WithCodec(kind model.MediaKind, codec media.Codec) Option {
	return func(m *MediaCaptionWorkflow) { m.registry[kind] = codec }
}

// Execute runs the chain against a context prepared by Process.
func (m *MediaCaptionWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}

// initializeChain builds the sequence of commands that make up this workflow.
// The output of each command is the input of the next; the validated source
// is additionally kept under commands.SourceParam for the encoder.
func (m *MediaCaptionWorkflow) initializeChain() {
	out := cor.NewBaseChain(m.GetName())
	out.WithLogger(m.GetLogger())

	// Step 1: Download the source into a scratch file.
	fetcher := commands.NewSourceFetcher("source-fetcher", m.clients, m.config)

	// Step 2: Sniff the container and move an MP4 index to the front.
	validator := commands.NewContainerValidator("container-validator", m.prober, m.remuxer, m.limits, m.config)

	// Step 3: Open the frame source. Frames are decoded as they are pulled.
	decoder := commands.NewFrameDecoder("frame-decoder", m.registry, m.config)

	// Step 4: Load the font and lay the caption out once for the whole job.
	captioner := commands.NewTextOverlay("text-overlay", m.fonts, m.style)

	// Step 5: Render and encode every frame into the output container.
	encoder := commands.NewMediaEncoder("media-encoder", m.registry, m.config)

	// Step 6: Stream the encoded file to the caller.
	stream := commands.NewResponseStream("response-stream")

	for _, command := range []interface {
		cor.Command
		WithLogger(*slog.Logger)
	}{fetcher, validator, decoder, captioner, encoder, stream} {
		command.WithLogger(m.GetLogger())
		out.AddCommand(command)
	}
	m.chain = out
}

// NewMediaCaptionWorkflow is the constructor for the MediaCaptionWorkflow.
//
// Inputs:
//   - config: The application's overall configuration.
//   - serviceClients: The shared HTTP and Cloud Storage clients.
//   - fonts: The process wide font cache.
//   - logger: The logger every command derives its own from.
//   - options: Replacements for the default media tools.
//
// Returns:
//   - A pointer to a fully initialized MediaCaptionWorkflow, or an error when
//     the overlay configuration is invalid.
func NewMediaCaptionWorkflow(
	config *cloud.Config,
	serviceClients *cloud.ServiceClients,
	fonts *overlay.FontCache,
	logger *slog.Logger,
	options ...Option) (*MediaCaptionWorkflow, error) {

	style, err := overlay.NewStyle(config.Overlay)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if fonts == nil {
		fonts = overlay.NewFontCache()
	}
	if serviceClients == nil {
		serviceClients = &cloud.ServiceClients{}
	}
	limits := media.Limits{
		MaxWidth:       config.Limits.MaxWidth,
		MaxHeight:      config.Limits.MaxHeight,
		MaxPixels:      config.Limits.MaxPixels,
		MaxTotalPixels: config.Limits.MaxTotalPixels,
	}

	workflow := &MediaCaptionWorkflow{
		BaseCommand: *cor.NewBaseCommand("media-caption-workflow"),
		config:      config,
		clients:     serviceClients,
		fonts:       fonts,
		style:       style,
		prober:      media.NewFFProbe(config.Tools.FFProbe, logger),
		remuxer:     media.NewFFMpegRemuxer(config.Tools.FFMpeg, logger),
		limits:      limits,
		registry: media.Registry{
			model.KindImageSequence: {
				Decoder: &media.GIFDecoder{
					DefaultDelay: config.DefaultFrameDelay(),
					MaxFrames:    config.GIF.MaxFrames,
					Limits:       limits,
				},
				Encoder: &media.GIFEncoder{
					DefaultDelay: config.DefaultFrameDelay(),
					Workers:      config.Application.ThreadPoolSize,
					MaxFrames:    config.GIF.MaxFrames,
				},
			},
			model.KindVideo: {
				Decoder: media.NewVideoDecoder(config.Tools.FFMpeg, config.Video.DefaultFrameRate, logger).WithLimits(limits),
				Encoder: media.NewVideoEncoder(config.Tools.FFMpeg, media.VideoEncoderOptions{
					Codec:            config.Video.Codec,
					Preset:           config.Video.Preset,
					Bitrate:          config.Video.Bitrate,
					DefaultFrameRate: config.Video.DefaultFrameRate,
				}, logger),
			},
		},
		tools: map[string]media.Tool{
			"ffmpeg":  media.NewTool(config.Tools.FFMpeg, logger),
			"ffprobe": media.NewTool(config.Tools.FFProbe, logger),
		},
	}
	workflow.WithLogger(logger)
	for _, option := range options {
		option(workflow)
	}
	workflow.initializeChain()
	return workflow, nil
}

// Tools reports which external executables can be resolved.
func (m *MediaCaptionWorkflow) Tools() map[string]bool {
	out := make(map[string]bool, len(m.tools))
	for name, tool := range m.tools {
		out[name] = tool.Available()
	}
	return out
}

// Process runs one caption job. The request is validated before anything is
// fetched; an invalid request yields a nil job. deliver receives the encoded
// bytes while the scratch files still exist; they are removed before Process
// returns.
//
// The returned error is the job's terminal *model.StageError, or nil when the
// result was delivered.
func (m *MediaCaptionWorkflow) Process(ctx goctx.Context, req model.OverlayRequest, deliver commands.Deliver) (*model.Job, error) {
	job, err := model.NewJob(req, m.config.Storage.ScratchDir, m.config.Storage.ScratchPrefix, m.GetLogger())
	if err != nil {
		return nil, err
	}

	traceCtx, span := otel.Tracer(cor.MeterName).Start(ctx, "media-caption")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.Id), attribute.String("job.source", job.SourceURL))

	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(traceCtx)
	chainCtx.SetScratch(job.Scratch)
	defer chainCtx.Close()

	chainCtx.Add(commands.JobParam, job)
	chainCtx.Add(cor.CtxIn, job)
	chainCtx.Add(commands.DeliverParam, deliver)

	m.Execute(chainCtx)

	if first := chainCtx.FirstError(); first != nil {
		se, ok := model.AsStageError(first)
		if !ok {
			se = model.NewStageError(model.KindInternal, job.Stage(), first, "pipeline stopped")
		}
		job.Fail(se)
		span.SetStatus(codes.Error, se.Error())
		m.GetLogger().WarnContext(traceCtx, "caption job failed",
			"job_id", job.Id,
			"kind", string(se.Kind),
			"stage", string(se.Stage),
			"error", se)
		return job, se
	}

	job.Succeed()
	span.SetStatus(codes.Ok, "caption delivered")
	m.GetLogger().InfoContext(traceCtx, "caption job done", "job_id", job.Id, "kind", string(job.Kind))
	return job, nil
}
