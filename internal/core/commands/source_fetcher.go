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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines the
// command that downloads the source media of a job into a scratch file.
//
// Logic Flow:
//  1. Reads the *model.Job from the context and advances it to the fetch stage.
//  2. Acquires a scratch file from the job's scratch manager.
//  3. Streams the body of an HTTP GET (or a Cloud Storage object for gs://
//     URLs) into the scratch file, never holding it in memory.
//  4. Fails with FetchFailed on transport errors, non-2xx answers, timeouts
//     and oversized bodies, and with EmptyBody when nothing was received.
//  5. Places a *model.SourceFile in the output parameter.
package commands

import (
	gocontext "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/media"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// errTooLarge is returned when a body exceeds the configured limit.
var errTooLarge = errors.New("source exceeds the maximum size")

// SourceFetcher is a command that downloads the job's source media.
type SourceFetcher struct {
	cor.BaseCommand
	client        *http.Client
	storageClient *storage.Client
	config        *cloud.Config
}

// NewSourceFetcher is the constructor for the SourceFetcher command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - clients: The shared clients; the HTTP client is required, the storage
//     client only for gs:// sources.
//   - config: The application configuration.
//
// Outputs:
//   - *SourceFetcher: A pointer to the newly instantiated command.
func NewSourceFetcher(name string, clients *cloud.ServiceClients, config *cloud.Config) *SourceFetcher {
	client := clients.HTTPClient
	if client == nil {
		client = cloud.NewHTTPClient(config)
	}
	return &SourceFetcher{
		BaseCommand:   *cor.NewBaseCommand(name),
		client:        client,
		storageClient: clients.StorageClient,
		config:        config,
	}
}

// IsExecutable checks that a job is present.
func (c *SourceFetcher) IsExecutable(context cor.Context) bool {
	return hasJob(context, c.GetInputParam())
}

// Execute downloads the source of the job.
func (c *SourceFetcher) Execute(context cor.Context) {
	job := GetJob(context)
	job.Advance(model.StageFetch)

	ctx, cancel := gocontext.WithTimeout(context.GetContext(), c.config.FetchTimeout())
	defer cancel()

	file, err := context.Scratch().Acquire(".src")
	if err != nil {
		c.Fail(context, stageError(model.KindInternal, model.StageFetch, err, "could not allocate scratch file"))
		return
	}

	var src *model.SourceFile
	if cloud.IsGCSURL(job.SourceURL) {
		src, err = c.fetchGCS(ctx, job, file.Path)
	} else {
		src, err = c.fetchHTTP(ctx, job, file.Path)
	}
	if err != nil {
		c.Fail(context, stageError(model.KindFetchFailed, model.StageFetch, err, "failed to fetch source"))
		return
	}
	src.File = file

	c.GetLogger().InfoContext(ctx, "source fetched",
		"job_id", job.Id, "bytes", src.Size, "content_type", src.ContentType)
	c.Succeed(context)
	context.Add(c.GetOutputParam(), src)
}

func (c *SourceFetcher) fetchHTTP(ctx gocontext.Context, job *model.Job, path string) (*model.SourceFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, nil)
	if err != nil {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, err, "invalid source request")
	}
	if len(c.config.Fetch.UserAgent) > 0 {
		req.Header.Set("User-Agent", c.config.Fetch.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, model.StageFailure(model.KindFetchFailed, model.StageFetch, err, "source request failed")
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status < 200 || status > 299 {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, nil,
			"source answered %s", http.StatusText(status)).WithUpstreamStatus(status)
	}

	contentType := resp.Header.Get("Content-Type")
	if c.config.Fetch.StrictContentType && len(strings.TrimSpace(contentType)) > 0 && !media.IsMediaContentType(contentType) {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, nil,
			"source content type %q is not media", contentType).WithUpstreamStatus(status)
	}
	if limit := c.config.Fetch.MaxBytes; limit > 0 && resp.ContentLength > limit {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, errTooLarge,
			"source declares %d bytes, limit is %d", resp.ContentLength, limit).WithUpstreamStatus(status)
	}

	n, err := copyToFile(path, resp.Body, c.config.Fetch.MaxBytes)
	if err != nil {
		return nil, model.StageFailure(model.KindFetchFailed, model.StageFetch, err, "failed to read source body").WithUpstreamStatus(status)
	}
	if n == 0 {
		return nil, model.NewStageError(model.KindEmptyBody, model.StageFetch, nil, "source body is empty").WithUpstreamStatus(status)
	}
	return &model.SourceFile{ContentType: contentType, Size: n}, nil
}

// copyToFile streams r into the file at path, failing once more than limit
// bytes arrive. A limit of zero disables the limit.
func copyToFile(path string, r io.Reader, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if limit > 0 && n > limit {
		return n, fmt.Errorf("%w of %d bytes", errTooLarge, limit)
	}
	return n, nil
}
