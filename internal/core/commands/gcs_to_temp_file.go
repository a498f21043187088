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
// Responsibility (COR) pattern's Command interface. This file downloads a
// Google Cloud Storage (GCS) object into the scratch file of a job, for
// sources given as gs://bucket/object URLs.
package commands

import (
	gocontext "context"
	"errors"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// fetchGCS streams the object named by the job's gs:// URL into path.
func (c *SourceFetcher) fetchGCS(ctx gocontext.Context, job *model.Job, path string) (*model.SourceFile, error) {
	if c.storageClient == nil {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, nil, "gs:// sources are not enabled")
	}
	obj, err := cloud.ParseGCSURL(job.SourceURL)
	if err != nil {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, err, "invalid gs:// source")
	}
	return GCSToTempFile(ctx, c.storageClient, obj, path, c.config.Fetch.MaxBytes)
}

// GCSToTempFile streams a GCS object into the file at path, enforcing the
// same size limit and empty body rule as HTTP sources. A missing object is
// reported with a 404 upstream status.
func GCSToTempFile(ctx gocontext.Context, client *storage.Client, obj *cloud.GCSObject, path string, limit int64) (*model.SourceFile, error) {
	reader, err := client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, model.NewStageError(model.KindFetchFailed, model.StageFetch, err,
			"%s does not exist", obj.String()).WithUpstreamStatus(http.StatusNotFound)
	}
	if err != nil {
		return nil, model.StageFailure(model.KindFetchFailed, model.StageFetch, err, "failed to create GCS reader for "+obj.String())
	}
	defer reader.Close()

	obj.MIMEType = reader.Attrs.ContentType
	n, err := copyToFile(path, reader, limit)
	if err != nil {
		return nil, model.StageFailure(model.KindFetchFailed, model.StageFetch, err, "failed to copy "+obj.String())
	}
	if n == 0 {
		return nil, model.NewStageError(model.KindEmptyBody, model.StageFetch, nil, "%s is empty", obj.String())
	}
	return &model.SourceFile{ContentType: obj.MIMEType, Size: n}, nil
}
