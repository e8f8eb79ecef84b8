/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/xenmachinery/internal/driver/server"
	"github.com/alexandremahdhaoui/xenmachinery/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/xenmachinery/internal/util/httputil"
	"github.com/alexandremahdhaoui/xenmachinery/internal/util/tlsutil"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/xenserver"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Initialize the machinery and serve the control API until SIGTERM or SIGINT",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	_, _ = fmt.Fprintf(a.out, "Starting %s version %s (%s) %s\n", Name, Version, CommitSHA, BuildTimestamp)

	// --------------------------------------------- Graceful Shutdown ---------------------------------------------- //

	gs := gracefulshutdown.NewWithExit(Name, a.exit)
	ctx := gs.Context()

	// --------------------------------------------- Config --------------------------------------------------------- //

	if err := a.load(ctx); err != nil {
		return err
	}

	// --------------------------------------------- Machinery ------------------------------------------------------ //

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)

	backend, registry, err := a.newBackend(xenserver.WithMetrics(xenserver.NewMetrics(reg)))
	if err != nil {
		return err
	}

	if err := backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing machinery: %w", err)
	}

	// Runs once every server drained its in-flight requests.
	gs.OnShutdown("xenserver session", backend.Close)

	var ready atomic.Bool
	ready.Store(true)
	context.AfterFunc(ctx, func() { ready.Store(false) })

	// --------------------------------------------- Servers -------------------------------------------------------- //

	apiServer, err := setupAPIServer(a.config, backend, registry)
	if err != nil {
		_ = backend.Close(ctx)
		return err
	}

	servers := map[string]*http.Server{
		"api":     apiServer,
		"probes":  setupProbesServer(a.config, &ready),
		"metrics": setupMetricsServer(a.config, reg),
	}

	httputil.Serve(servers, gs)

	// Every server drained: run the cleanup hooks, or wait for the shutdown
	// already running them.
	gs.Shutdown(0)

	slog.Info("✅ gracefully stopped", "binary", Name)

	return nil
}

// setupAPIServer creates the control API server, behind basic auth when
// credentials are configured and over TLS when enabled.
func setupAPIServer(config *Config, m machinery.Machinery, registry machinery.Registry) (*http.Server, error) {
	tlsConfig, err := tlsutil.BuildTLSConfig(config.serverTLSConfig())
	if err != nil {
		return nil, fmt.Errorf("building control api tls config: %w", err)
	}

	handler := server.New(m, registry).Handler()

	if config.basicAuthEnabled() {
		handler = httputil.BasicAuth(handler, httputil.BcryptValidator(
			config.Server.BasicAuth.Username,
			[]byte(config.Server.BasicAuth.PasswordHash),
		))
	}

	return &http.Server{ //nolint:exhaustruct
		Addr:              fmt.Sprintf(":%d", config.Server.Port),
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
