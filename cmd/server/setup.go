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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-media-caption/internal/api"
	"github.com/jaycherian/gcp-go-media-caption/internal/cloud"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/overlay"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/scratch"
	"github.com/jaycherian/gcp-go-media-caption/internal/core/workflow"
)

// StateManager holds the shared components of the server.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	workflow *workflow.MediaCaptionWorkflow
	stats    *api.Stats
}

var state = &StateManager{}

// SetupOS points the configuration loader at the configs directory and the
// local runtime, unless the environment already names them.
func SetupOS() (err error) {
	if _, ok := os.LookupEnv(cloud.EnvConfigFilePrefix); !ok {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if _, ok := os.LookupEnv(cloud.EnvConfigRuntime); !ok {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig loads and validates the server configuration.
func GetConfig() (*cloud.Config, error) {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			return nil, fmt.Errorf("failed to setup environment: %w", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := config.Validate(); err != nil {
			return nil, err
		}
		state.config = config
	}
	return state.config, nil
}

// InitState sweeps scratch files left by an earlier process and builds the
// clients and the caption workflow.
func InitState(ctx context.Context, config *cloud.Config, logger *slog.Logger) error {
	removed, err := scratch.Sweep(config.Storage.ScratchDir, config.Storage.ScratchPrefix, config.StaleScratchAge(), logger)
	if err != nil {
		logger.Warn("failed to sweep scratch directory", "error", err)
	} else if removed > 0 {
		logger.Info("swept stale scratch files", "count", removed)
	}

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	w, err := workflow.NewMediaCaptionWorkflow(config, cloudClients, overlay.NewFontCache(), logger)
	if err != nil {
		cloudClients.Close()
		return err
	}
	for tool, ok := range w.Tools() {
		if !ok {
			logger.Warn("external tool not found; video captions will fail", "tool", tool)
		}
	}
	state.workflow = w
	state.stats = api.NewStats()
	return nil
}
