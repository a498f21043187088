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

// Package cloud contains data structures and utilities for interacting with Google Cloud services.
// This file defines the representation of a Google Cloud Storage (GCS) object
// used when a caption source is given as a gs:// URL.
package cloud

import (
	"fmt"
	"net/url"
	"strings"
)

// GCSScheme is the URL scheme of Cloud Storage sources.
const GCSScheme = "gs"

// GCSObject is a simplified, internal representation of a Google Cloud Storage (GCS)
// object.
type GCSObject struct {
	Bucket   string // The name of the GCS bucket.
	Name     string // The name of the object.
	MIMEType string // The MIME type of the object (e.g., "video/mp4").
}

// String returns the gs:// URL of the object.
func (o *GCSObject) String() string {
	return fmt.Sprintf("%s://%s/%s", GCSScheme, o.Bucket, o.Name)
}

// IsGCSURL reports whether raw is a gs:// URL.
func IsGCSURL(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), GCSScheme+"://")
}

// ParseGCSURL splits a gs://bucket/object URL into its parts.
func ParseGCSURL(raw string) (*GCSObject, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid gcs url %q: %w", raw, err)
	}
	if !strings.EqualFold(u.Scheme, GCSScheme) {
		return nil, fmt.Errorf("invalid gcs url %q: scheme must be %s", raw, GCSScheme)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if len(u.Host) == 0 || len(name) == 0 {
		return nil, fmt.Errorf("invalid gcs url %q: bucket and object are required", raw)
	}
	return &GCSObject{Bucket: u.Host, Name: name}, nil
}
