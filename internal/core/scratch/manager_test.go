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

package scratch_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-caption/internal/core/scratch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	closed *[]string
	name   string
	err    error
}

func (r recordingCloser) Close() error {
	*r.closed = append(*r.closed, r.name)
	return r.err
}

func TestAcquireCreatesUniqueFiles(t *testing.T) {
	dir := t.TempDir()
	m := scratch.NewManager(dir, "job-1-", slog.Default())

	a, err := m.Acquire(".gif")
	require.NoError(t, err)
	b, err := m.Acquire(".gif")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.True(t, strings.HasPrefix(filepath.Base(a.Path), "job-1-"))
	assert.True(t, strings.HasSuffix(a.Path, ".gif"))
	assert.FileExists(t, a.Path)
	assert.ElementsMatch(t, []string{a.Path, b.Path}, m.Paths())
}

func TestReleaseRemovesEverythingOnce(t *testing.T) {
	dir := t.TempDir()
	m := scratch.NewManager(dir, "job-", slog.Default())
	var closed []string
	m.Track(recordingCloser{closed: &closed, name: "first"})
	m.Track(recordingCloser{closed: &closed, name: "second", err: errors.New("boom")})

	a, err := m.Acquire(".mp4")
	require.NoError(t, err)
	b, err := m.Acquire(".mp4")
	require.NoError(t, err)

	m.Release()
	m.Release()

	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
	assert.False(t, a.Live())
	assert.Empty(t, m.Paths())
	assert.True(t, m.Released())
	// Handles are closed in reverse registration order, exactly once.
	assert.Equal(t, []string{"second", "first"}, closed)
}

func TestReleaseToleratesFilesRemovedElsewhere(t *testing.T) {
	m := scratch.NewManager(t.TempDir(), "job-", slog.Default())
	a, err := m.Acquire(".gif")
	require.NoError(t, err)
	b, err := m.Acquire(".gif")
	require.NoError(t, err)

	require.NoError(t, os.Remove(a.Path))
	m.Release()

	assert.NoFileExists(t, b.Path)
}

func TestDiscardRemovesEarly(t *testing.T) {
	m := scratch.NewManager(t.TempDir(), "job-", slog.Default())
	original, err := m.Acquire(".mp4")
	require.NoError(t, err)
	repaired, err := m.Acquire(".mp4")
	require.NoError(t, err)

	m.Discard(original)

	assert.NoFileExists(t, original.Path)
	assert.Equal(t, []string{repaired.Path}, m.Paths())

	m.Release()
	assert.NoFileExists(t, repaired.Path)
}

func TestAcquireAfterRelease(t *testing.T) {
	m := scratch.NewManager(t.TempDir(), "job-", slog.Default())
	m.Release()

	_, err := m.Acquire(".gif")
	assert.ErrorIs(t, err, scratch.ErrReleased)

	var closed []string
	m.Track(recordingCloser{closed: &closed, name: "late"})
	assert.Equal(t, []string{"late"}, closed)
}

func TestSweepRemovesOnlyStaleMatches(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "caption-old.gif")
	fresh := filepath.Join(dir, "caption-new.gif")
	other := filepath.Join(dir, "unrelated.gif")
	for _, p := range []string{stale, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	n, err := scratch.Sweep(dir, "caption-", time.Hour, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestSweepRefusesUnsafeArguments(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "unrelated.gif")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(other, old, old))

	tests := []struct {
		name      string
		prefix    string
		retention time.Duration
	}{
		{"empty prefix", "", time.Hour},
		{"blank prefix", "  ", time.Hour},
		{"glob prefix", "*", time.Hour},
		{"nested prefix", "../caption-", time.Hour},
		{"zero retention", "unrelated", 0},
		{"negative retention", "unrelated", -time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := scratch.Sweep(dir, tt.prefix, tt.retention, slog.Default())
			assert.ErrorIs(t, err, scratch.ErrUnsafeSweep)
			assert.Zero(t, n)
			assert.FileExists(t, other)
		})
	}
}
