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

package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultCleanupTimeout bounds the time given to all cleanup hooks.
const DefaultCleanupTimeout = 30 * time.Second

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// GracefulShutdown ties a signal-aware context to the goroutines serving it
// and to the resources that must be released once they are done.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	once      sync.Once
	readyOnce sync.Once
	wg        *sync.WaitGroup

	// ready is closed when Ready() is called, signaling that all Add() calls have been made.
	ready chan struct{}

	hooksMu sync.Mutex
	hooks   []hook

	cleanupTimeout time.Duration

	// exitFunc allows injecting exit behavior for testing
	exitFunc func(int)
}

// NewWithExit creates a new GracefulShutdown with a custom exit function.
// This is primarily useful for testing where os.Exit() would terminate the test process.
func NewWithExit(name string, exitFunc func(int)) *GracefulShutdown {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)

	gs := &GracefulShutdown{
		ctx:            ctx,
		cancel:         cancel,
		name:           name,
		wg:             &sync.WaitGroup{},
		ready:          make(chan struct{}),
		cleanupTimeout: DefaultCleanupTimeout,
		exitFunc:       exitFunc,
	}

	// Shutdown always runs once the context is done, even if Ready() was
	// never called.
	go func() {
		select {
		case <-gs.ready:
			<-ctx.Done()
		case <-ctx.Done():
			slog.Warn("GracefulShutdown: context cancelled before Ready() was called - proceeding with shutdown anyway")
		}
		gs.Shutdown(0)
	}()

	return gs
}

// New creates a new GracefulShutdown whose context is cancelled by SIGTERM or
// SIGINT. Shutdown exits the process.
func New(name string) *GracefulShutdown {
	return NewWithExit(name, os.Exit)
}

// OnShutdown registers fn to run during Shutdown, after every goroutine of the
// wait group returned. Hooks run in reverse registration order, so a resource
// registered first is released last.
func (s *GracefulShutdown) OnShutdown(name string, fn func(ctx context.Context) error) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// SetCleanupTimeout overrides DefaultCleanupTimeout.
func (s *GracefulShutdown) SetCleanupTimeout(d time.Duration) {
	s.cleanupTimeout = d
}

// Shutdown cancels the context, waits for the wait group, runs the cleanup
// hooks and exits with exitCode. Only the first call has any effect.
func (s *GracefulShutdown) Shutdown(exitCode int) {
	s.once.Do(func() {
		slog.Info("⌛ gracefully shutting down", "name", s.name)

		s.cancel()
		s.wg.Wait()

		if !s.cleanup() && exitCode == 0 {
			exitCode = 1
		}

		s.exitFunc(exitCode)
	})
}

// cleanup reports whether every hook succeeded.
func (s *GracefulShutdown) cleanup() bool {
	s.hooksMu.Lock()
	hooks := make([]hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.Unlock()

	// The main context is already cancelled at this point.
	ctx, cancel := context.WithTimeout(context.Background(), s.cleanupTimeout)
	defer cancel()

	ok := true
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			slog.Error("❌ cleanup failed", "name", s.name, "hook", hooks[i].name, "error", err.Error())
			ok = false
			continue
		}
		slog.Debug("cleanup done", "name", s.name, "hook", hooks[i].name)
	}

	return ok
}

// Context returns the context of the graceful shutdown.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// CancelFunc returns the cancel function of the graceful shutdown.
func (s *GracefulShutdown) CancelFunc() context.CancelFunc {
	return s.cancel
}

// WaitGroup returns the wait group of the graceful shutdown.
func (s *GracefulShutdown) WaitGroup() *sync.WaitGroup {
	return s.wg
}

// Ready signals that all WaitGroup.Add() calls have been made.
//
// It must be called after every goroutine called Add() on the WaitGroup.
// Ready is safe to call multiple times; only the first call has any effect.
func (s *GracefulShutdown) Ready() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}
