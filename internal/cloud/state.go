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

// Package cloud provides components for interacting with Google Cloud services.
// This file is responsible for initializing and holding the client objects
// shared by every request. It acts as a dependency injection container,
// creating a single `ServiceClients` struct that is passed to the workflow.
//
// Logic Flow:
//  1. `NewCloudServiceClients` is called at application startup.
//  2. It builds the HTTP client used to fetch source media, instrumented with
//     OpenTelemetry and bounded by the fetch timeout.
//  3. When gs:// sources are enabled it creates a Cloud Storage client.
//  4. All clients are bundled into a single `ServiceClients` struct.
package cloud

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServiceClients is a struct that acts as a central container for the
// clients that talk to systems outside the process.
type ServiceClients struct {
	HTTPClient    *http.Client    // Client used to download source media.
	StorageClient *storage.Client // Client for Google Cloud Storage, nil unless enabled.
}

// Close releases the client connections.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
}

// NewHTTPClient creates the traced HTTP client used by the fetcher.
func NewHTTPClient(config *Config) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   config.FetchTimeout(),
	}
}

// NewCloudServiceClients is a factory function that initializes the clients
// required by the configuration.
//
// Inputs:
//   - ctx: The root context.Context for the application.
//   - config: A pointer to the loaded application configuration (`Config`).
//
// Outputs:
//   - *ServiceClients: A pointer to the initialized ServiceClients struct.
//   - error: An error if any of the clients fail to initialize.
func NewCloudServiceClients(ctx context.Context, config *Config) (*ServiceClients, error) {
	clients := &ServiceClients{HTTPClient: NewHTTPClient(config)}
	if config.Storage.EnableGCS {
		sc, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		clients.StorageClient = sc
	}
	return clients, nil
}
