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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/xenmachinery/internal/util/logging"
	"github.com/alexandremahdhaoui/xenmachinery/internal/util/tlsutil"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/xenserver"
)

const (
	Name = "xenmachinery"
)

var (
	Version        = "dev" //nolint:gochecknoglobals // set by ldflags
	CommitSHA      = "n/a" //nolint:gochecknoglobals // set by ldflags
	BuildTimestamp = "n/a" //nolint:gochecknoglobals // set by ldflags
)

// ------------------------------------------------- Main ----------------------------------------------------------- //

func main() {
	a := &app{
		out:  os.Stdout,
		exit: os.Exit,
	}

	if err := newRootCommand(a).Execute(); err != nil {
		slog.Error("❌ command failed", "error", err.Error())
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	config     *Config

	// connector overrides the XenAPI connector. Tests set it.
	connector xenserver.Connector

	out  io.Writer
	exit func(int)
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           Name,
		Short:         "Control XenServer analysis machines of a malware sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetOut(a.out)
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		fmt.Sprintf("path to the config file (default from $%s)", ConfigPathEnvKey))

	rootCmd.AddCommand(
		newCheckCommand(a),
		newStartCommand(a),
		newStopCommand(a),
		newStatusCommand(a),
		newServeCommand(a),
		newVersionCommand(a),
	)

	return rootCmd
}

// load reads the configuration and sets up logging. Commands touching the pool
// call it first.
func (a *app) load(ctx context.Context) error {
	path, err := resolveConfigPath(a.configPath)
	if err != nil {
		return err
	}

	config, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	opts, err := config.loggingOptions()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.Setup(opts)
	logger.V(1).Info("configuration loaded", "path", path, "machines", len(config.Machines))

	warnNonUUIDLabels(ctx, config.Machines)

	a.config = config

	return nil
}

func (a *app) newBackend(opts ...xenserver.Option) (*xenserver.Backend, *machinery.StaticRegistry, error) {
	registry, err := machinery.NewStaticRegistry(a.config.Machines...)
	if err != nil {
		return nil, nil, fmt.Errorf("building machine registry: %w", err)
	}

	connector := a.connector
	if connector == nil {
		tlsConfig, err := tlsutil.BuildClientTLSConfig(a.config.XenServer.CAPath, a.config.XenServer.InsecureSkipVerify)
		if err != nil {
			return nil, nil, fmt.Errorf("building xenserver tls config: %w", err)
		}
		connector = xenserver.NewXAPIConnector(xenserver.WithTLSConfig(tlsConfig))
	}

	opts = append([]xenserver.Option{
		xenserver.WithConnector(connector),
		xenserver.WithLogger(slog.Default().With("machinery", "xenserver")),
	}, opts...)

	return xenserver.New(a.config.backendConfig(), registry, opts...), registry, nil
}

// withBackend runs fn against an initialized backend and releases the session
// afterwards.
func (a *app) withBackend(
	ctx context.Context,
	fn func(ctx context.Context, b *xenserver.Backend, registry machinery.Registry) error,
) (err error) {
	if err := a.load(ctx); err != nil {
		return err
	}

	b, registry, err := a.newBackend()
	if err != nil {
		return err
	}

	if err := b.Initialize(ctx); err != nil {
		return err
	}

	defer func() {
		if closeErr := b.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(ctx, b, registry)
}
