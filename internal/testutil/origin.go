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

package test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// Asset is one response served by an Origin.
type Asset struct {
	Status      int    // Defaults to 200.
	ContentType string // Omitted when empty.
	Body        []byte
}

// Origin is an HTTP server standing in for a remote media host.
type Origin struct {
	*httptest.Server
	hits atomic.Int64
}

// NewOrigin serves assets keyed by request path; unknown paths are 404.
// The server is closed when the test ends.
func NewOrigin(t testing.TB, assets map[string]Asset) *Origin {
	t.Helper()
	o := &Origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		asset, ok := assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if len(asset.ContentType) > 0 {
			w.Header().Set("Content-Type", asset.ContentType)
		} else {
			// Stop net/http from sniffing one.
			w.Header()["Content-Type"] = nil
		}
		status := asset.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(asset.Body)
	}))
	t.Cleanup(o.Close)
	return o
}

// Hits returns the number of requests served.
func (o *Origin) Hits() int64 {
	return o.hits.Load()
}

// URLFor returns the absolute URL of path on the origin.
func (o *Origin) URLFor(path string) string {
	return o.URL + path
}
