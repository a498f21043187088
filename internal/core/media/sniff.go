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
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/model"
)

// sniffLength is the number of header bytes filetype needs.
const sniffLength = 262

// ErrUnsupportedMedia is returned when a file is neither an animated image
// nor a video the pipeline can handle.
var ErrUnsupportedMedia = errors.New("unsupported media type")

var mimeKinds = map[string]model.MediaKind{
	"image/gif":       model.KindImageSequence,
	"video/mp4":       model.KindVideo,
	"video/quicktime": model.KindVideo,
	"video/x-m4v":     model.KindVideo,
}

var extensionKinds = map[string]model.MediaKind{
	".gif": model.KindImageSequence,
	".mp4": model.KindVideo,
	".m4v": model.KindVideo,
	".mov": model.KindVideo,
}

// KindForMIME returns the media kind of a MIME type, ignoring parameters.
func KindForMIME(contentType string) model.MediaKind {
	if len(contentType) == 0 {
		return model.KindUnknown
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return model.KindUnknown
	}
	return mimeKinds[strings.ToLower(mediaType)]
}

// IsMediaContentType reports whether a Content-Type header could describe
// media. Generic binary types are accepted since many origins use them.
func IsMediaContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "image/"), strings.HasPrefix(mediaType, "video/"):
		return true
	case mediaType == "application/octet-stream", mediaType == "binary/octet-stream":
		return true
	}
	return false
}

// DetectKind decides the media kind of a downloaded file. The magic bytes
// win; the declared content type and then the URL extension are only
// consulted when the bytes are not recognised.
func DetectKind(filePath string, contentType string, sourceURL string) (model.MediaKind, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return model.KindUnknown, err
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return model.KindUnknown, err
	}
	head = head[:n]

	t, err := filetype.Match(head)
	if err == nil && t != filetype.Unknown {
		if kind, ok := mimeKinds[t.MIME.Value]; ok {
			return kind, nil
		}
		return model.KindUnknown, fmt.Errorf("%w: %s", ErrUnsupportedMedia, t.MIME.Value)
	}

	if kind := KindForMIME(contentType); kind != model.KindUnknown {
		return kind, nil
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if kind, ok := extensionKinds[strings.ToLower(path.Ext(u.Path))]; ok {
			return kind, nil
		}
	}
	return model.KindUnknown, ErrUnsupportedMedia
}
