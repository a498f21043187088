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

// Package scratch owns the temporary files created while a single job runs.
//
// Every intermediate artifact of a job (the downloaded source, a remuxed
// copy, the encoded output) is allocated through a Manager. The Manager is
// released exactly once when the job ends, whatever the exit path, and
// removes every file that is still on disk. Handles that read those files
// (decoders, open output files) are registered with Track so they are
// closed before the files are removed.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned by Acquire once the manager has been released.
var ErrReleased = errors.New("scratch manager already released")

// File is a scratch file registered with a Manager.
type File struct {
	Path string
	live atomic.Bool
}

// Live reports whether the file is still owned and present on disk.
func (f *File) Live() bool {
	return f.live.Load()
}

// Manager allocates and releases the scratch files of one job.
type Manager struct {
	dir     string
	prefix  string
	logger  *slog.Logger
	mu      sync.Mutex
	files   []*File
	closers []io.Closer
	once    sync.Once
	done    atomic.Bool
}

// NewManager creates a manager that places files in dir, each name starting
// with prefix. An empty dir means the OS temporary directory.
func NewManager(dir string, prefix string, logger *slog.Logger) *Manager {
	if len(dir) == 0 {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, prefix: prefix, logger: logger}
}

// Dir returns the directory the manager allocates into.
func (m *Manager) Dir() string {
	return m.dir
}

// Acquire creates a new, empty, uniquely named file ending in suffix and
// registers it for removal.
func (m *Manager) Acquire(suffix string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done.Load() {
		return nil, ErrReleased
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create scratch directory %s: %w", m.dir, err)
	}
	f, err := os.CreateTemp(m.dir, m.prefix+"*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("could not create scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("could not close scratch file: %w", err)
	}
	out := &File{Path: f.Name()}
	out.live.Store(true)
	m.files = append(m.files, out)
	return out, nil
}

// Track registers a handle that must be closed before the files are removed.
func (m *Manager) Track(c io.Closer) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done.Load() {
		_ = c.Close()
		return
	}
	m.closers = append(m.closers, c)
}

// Discard removes a file ahead of release. It is used once a file has been
// superseded and nothing reads it any more. A failed removal leaves the file
// registered so Release tries again.
func (m *Manager) Discard(f *File) {
	if f == nil || !f.Live() {
		return
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to discard scratch file", "path", f.Path, "kind", "CleanupFailed", "error", err)
		return
	}
	f.live.Store(false)
}

// Paths returns the paths of all files that are still live.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for _, f := range m.files {
		if f.Live() {
			out = append(out, f.Path)
		}
	}
	return out
}

// Released reports whether Release has run.
func (m *Manager) Released() bool {
	return m.done.Load()
}

// Release closes every tracked handle and removes every live file. It runs
// at most once; later calls are no-ops. Individual failures are logged and
// never stop the remaining removals.
func (m *Manager) Release() {
	m.once.Do(func() {
		m.mu.Lock()
		m.done.Store(true)
		closers := m.closers
		files := m.files
		m.closers = nil
		m.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				m.logger.Warn("failed to close scratch handle", "kind", "CleanupFailed", "error", err)
			}
		}

		removed := 0
		for _, f := range files {
			if !f.Live() {
				continue
			}
			if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("failed to remove scratch file", "path", f.Path, "kind", "CleanupFailed", "error", err)
				continue
			}
			f.live.Store(false)
			removed++
		}
		m.logger.Debug("released scratch files", "removed", removed, "registered", len(files))
	})
}
