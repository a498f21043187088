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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stderrTailSize bounds the diagnostic output kept from a tool run.
const stderrTailSize = 8 << 10

// ToolError is returned when an external tool exits unsuccessfully. Stderr
// holds the tail of its diagnostic output.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if len(e.Stderr) == 0 {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, lastLine(e.Stderr))
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Diagnostics returns the tool output attached to err, if any.
func Diagnostics(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Stderr
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Tool runs one external executable.
type Tool struct {
	Path   string
	Logger *slog.Logger
}

// NewTool creates a Tool for the executable at path.
func NewTool(path string, logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return Tool{Path: path, Logger: logger.With("tool", path)}
}

// Available reports whether the executable can be found.
func (t Tool) Available() bool {
	_, err := exec.LookPath(t.Path)
	return err == nil
}

// Command prepares the tool for a streaming run. The returned buffer
// collects the tail of stderr.
func (t Tool) Command(ctx context.Context, args ...string) (*exec.Cmd, *tailBuffer) {
	cmd := exec.CommandContext(ctx, t.Path, args...)
	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	return cmd, stderr
}

// Run executes the tool to completion, feeding stdin and collecting stdout.
func (t Tool) Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	cmd, stderr := t.Command(ctx, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	start := time.Now()
	err := cmd.Run()
	t.Logger.DebugContext(ctx, "tool finished", "args", args, "elapsed", time.Since(start), "error", err)
	return t.wrap(ctx, err, stderr)
}

// wrap converts a run failure into a ToolError, preferring the context
// error when the run was cut short by cancellation.
func (t Tool) wrap(ctx context.Context, err error, stderr *tailBuffer) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &ToolError{Tool: t.Path, Err: err, Stderr: stderr.String()}
}
