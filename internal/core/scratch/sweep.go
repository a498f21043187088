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

package scratch

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsafeSweep is returned when the prefix or retention would let a sweep
// match files the service did not create.
var ErrUnsafeSweep = errors.New("scratch sweep needs a prefix and a positive retention")

// Sweep removes files in dir whose names start with prefix and whose
// modification time is older than retention. It clears leftovers of a
// process that died before its jobs could release their files.
func Sweep(dir string, prefix string, retention time.Duration, logger *slog.Logger) (int, error) {
	if len(strings.TrimSpace(prefix)) == 0 || strings.ContainsAny(prefix, `/\*?[`) || retention <= 0 {
		return 0, ErrUnsafeSweep
	}
	if len(dir) == 0 {
		dir = os.TempDir()
	}
	files, err := filepath.Glob(filepath.Join(dir, prefix+"*"))
	if err != nil {
		logger.Error("scratch sweep failed", "dir", dir, "error", err)
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	cleaned := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err != nil {
				logger.Warn("failed to remove stale scratch file", "path", f, "kind", "CleanupFailed", "error", err)
			} else {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		logger.Info("removed stale scratch files", "count", cleaned, "dir", dir)
	}
	return cleaned, nil
}
