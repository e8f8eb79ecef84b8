// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides shared logging setup for the xenmachinery binary.
// Records are written by a zap core. The core is exposed as a logr.Logger
// through zapr and installed as the log/slog default, so code logging through
// slog and code expecting a logr.Logger end up in the same sink.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger behavior.
type Options struct {
	// Development enables development mode logging (console encoding,
	// human-readable timestamps).
	Development bool

	// Level sets the minimum log level. Defaults to slog.LevelInfo.
	Level slog.Level

	// Output is where records are written. Defaults to os.Stdout.
	Output io.Writer
}

// DefaultOptions returns the default logging options.
func DefaultOptions() Options {
	return Options{
		Development: false,
		Level:       slog.LevelInfo,
		Output:      os.Stdout,
	}
}

// ParseLevel parses "debug", "info", "warn" or "error". An empty string is
// the info level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parsing log level %q: %w", s, err)
	}
	return level, nil
}

// Setup builds the zap logger, installs it as the slog default and returns it
// as a logr.Logger. It must be called early in main() before anything logs.
func Setup(opts Options) logr.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var encoder zapcore.Encoder
	if opts.Development {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	// logr checks slog info and warn records against the sink as V(0), so the
	// core must accept info; finer filtering happens in leveledHandler.
	core := zapcore.NewCore(encoder, zapcore.AddSync(opts.Output), zapLevel(min(opts.Level, slog.LevelInfo)))

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}

	logger := zapr.NewLogger(zap.New(core, zapOpts...))

	// zapr implements logr.SlogSink: slog levels, Warn included, map onto zap
	// levels instead of being flattened to V-levels.
	slog.SetDefault(slog.New(leveledHandler{
		Handler: logr.ToSlogHandler(logger),
		level:   opts.Level,
	}))

	return logger
}

// SetupDefault sets up logging with default options.
func SetupDefault() logr.Logger {
	return Setup(DefaultOptions())
}

// SetupDevelopment sets up logging in development mode.
func SetupDevelopment() logr.Logger {
	return Setup(Options{
		Development: true,
		Level:       slog.LevelDebug,
		Output:      os.Stdout,
	})
}

// slog levels are spaced by 4 (info 0, warn 4, error 8) while zap levels are
// consecutive (info 0, warn 1, error 2). Below info, zapr passes slog levels
// through unchanged (slog debug is zap level -4), so they are kept as is.
func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.Level(level)
	}
}

type leveledHandler struct {
	slog.Handler
	level slog.Level
}

func (h leveledHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h leveledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveledHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h leveledHandler) WithGroup(name string) slog.Handler {
	return leveledHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
