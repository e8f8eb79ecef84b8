//go:build unit

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

package gracefulshutdown_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/xenmachinery/internal/util/gracefulshutdown"
)

// TestNew verifies that New() creates a properly initialized GracefulShutdown struct.
func TestNew(t *testing.T) {
	gs := gracefulshutdown.NewWithExit("test-server", func(int) {})
	require.NotNil(t, gs)

	assert.NoError(t, gs.Context().Err(), "context should not be cancelled initially")
	assert.NotNil(t, gs.CancelFunc())
	assert.NotNil(t, gs.WaitGroup())
}

// TestGracefulShutdown_Shutdown verifies Shutdown() waits for the wait group and
// exits with the given code.
func TestGracefulShutdown_Shutdown(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		wgAddCount int
	}{
		{name: "shutdown with exit code 0", exitCode: 0},
		{name: "shutdown with exit code 1", exitCode: 1},
		{name: "shutdown waits for waitgroup", exitCode: 0, wgAddCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedExitCode int
			exitCalled := false
			gs := gracefulshutdown.NewWithExit("test", func(code int) {
				capturedExitCode = code
				exitCalled = true
			})

			var mu sync.Mutex
			done := 0
			for i := 0; i < tt.wgAddCount; i++ {
				gs.WaitGroup().Add(1)
				go func() {
					defer gs.WaitGroup().Done()
					time.Sleep(10 * time.Millisecond)
					mu.Lock()
					done++
					mu.Unlock()
				}()
			}

			gs.Shutdown(tt.exitCode)

			assert.True(t, exitCalled, "exit function should be called")
			assert.Equal(t, tt.exitCode, capturedExitCode)
			assert.Error(t, gs.Context().Err(), "context should be cancelled")

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tt.wgAddCount, done)
		})
	}
}

// TestGracefulShutdown_ShutdownIdempotency verifies Shutdown() is only executed once.
func TestGracefulShutdown_ShutdownIdempotency(t *testing.T) {
	var mu sync.Mutex
	exitCallCount := 0
	gs := gracefulshutdown.NewWithExit("test", func(int) {
		mu.Lock()
		defer mu.Unlock()
		exitCallCount++
	})

	hookCalls := 0
	gs.OnShutdown("counter", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		hookCalls++
		return nil
	})

	const concurrentCalls = 10
	var wg sync.WaitGroup
	for i := 0; i < concurrentCalls; i++ {
		wg.Add(1)
		go func(exitCode int) {
			defer wg.Done()
			gs.Shutdown(exitCode)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, exitCallCount, "exit should be called exactly once")
	assert.Equal(t, 1, hookCalls, "hooks should run exactly once")
}

func TestGracefulShutdown_OnShutdown(t *testing.T) {
	t.Run("hooks run in reverse order after the wait group", func(t *testing.T) {
		gs := gracefulshutdown.NewWithExit("test", func(int) {})

		var order []string
		released := false

		gs.WaitGroup().Add(1)
		go func() {
			defer gs.WaitGroup().Done()
			<-gs.Context().Done()
			time.Sleep(10 * time.Millisecond)
			order = append(order, "server")
		}()
		gs.Ready()

		gs.OnShutdown("session", func(ctx context.Context) error {
			assert.NoError(t, ctx.Err(), "hooks get a live context")
			order = append(order, "session")
			released = true
			return nil
		})
		gs.OnShutdown("flush", func(context.Context) error {
			order = append(order, "flush")
			return nil
		})

		gs.Shutdown(0)

		assert.True(t, released)
		assert.Equal(t, []string{"server", "flush", "session"}, order)
	})

	t.Run("failing hook turns a clean exit into a failure", func(t *testing.T) {
		var exitCode int
		gs := gracefulshutdown.NewWithExit("test", func(code int) { exitCode = code })

		secondRan := false
		gs.OnShutdown("second", func(context.Context) error {
			secondRan = true
			return nil
		})
		gs.OnShutdown("first", func(context.Context) error {
			return errors.New("logout failed")
		})

		gs.Shutdown(0)

		assert.Equal(t, 1, exitCode)
		assert.True(t, secondRan, "a failing hook should not prevent the others")
	})

	t.Run("hooks are bounded by the cleanup timeout", func(t *testing.T) {
		gs := gracefulshutdown.NewWithExit("test", func(int) {})
		gs.SetCleanupTimeout(10 * time.Millisecond)

		var hookErr error
		gs.OnShutdown("slow", func(ctx context.Context) error {
			<-ctx.Done()
			hookErr = ctx.Err()
			return hookErr
		})

		gs.Shutdown(0)

		assert.ErrorIs(t, hookErr, context.DeadlineExceeded)
	})
}
