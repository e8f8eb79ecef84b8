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

package httputil

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/xenmachinery/internal/util/gracefulshutdown"
)

type contextKey string

// ServerNameContextKey holds the name of the server a request was received by.
const ServerNameContextKey contextKey = "server_name"

// ShutdownTimeout bounds the time each server is given to drain.
const ShutdownTimeout = 1 * time.Minute

// ServerName returns the name of the server stored in ctx by Serve.
func ServerName(ctx context.Context) string {
	name, _ := ctx.Value(ServerNameContextKey).(string)
	return name
}

// Serve serves the given servers until the GracefulShutdown context is done,
// then shuts every server down and returns once they all drained.
//
// Each server holds its slot of the GracefulShutdown wait group until its
// in-flight requests completed, so cleanup hooks never run before the drain.
func Serve(servers map[string]*http.Server, gs *gracefulshutdown.GracefulShutdown) {
	drained := make(map[string]chan struct{}, len(servers))

	// 1. Run the servers.
	for name, server := range servers {
		ctx := context.WithValue(gs.Context(), ServerNameContextKey, name)

		server.BaseContext = func(_ net.Listener) context.Context {
			return ctx
		}

		done := make(chan struct{})
		drained[name] = done

		gs.WaitGroup().Add(1)

		go func() {
			slog.InfoContext(ctx, "starting server", "server", name, "addr", server.Addr)

			err := listenAndServe(server)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "❌ received error", "server", name, "error", err)

				// Done() must be called before requesting the shutdown, which awaits the wait group.
				gs.WaitGroup().Done()
				gs.Shutdown(1)

				return
			}

			if gs.Context().Err() == nil {
				// The server was closed from outside: initiate a graceful shutdown.
				gs.WaitGroup().Done()
				gs.Shutdown(0)

				return
			}

			// ListenAndServe returns as soon as Shutdown starts: wait for the drain.
			<-done
			gs.WaitGroup().Done()
		}()
	}

	// 2. Signal that all Add() calls have been made.
	gs.Ready()

	// 3. Await context is done.
	<-gs.Context().Done()

	// 4. Gracefully shutdown each server.
	var wg sync.WaitGroup
	for name, server := range servers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer close(drained[name])

			ctx := context.WithValue(context.Background(), ServerNameContextKey, name)
			ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "❌ received error while shutting down server", "server", name, "error", err)
				return
			}

			slog.InfoContext(ctx, "✅ gracefully shut down server", "server", name)
		}()
	}
	wg.Wait()
}

// listenAndServe serves TLS when the server carries a TLS configuration. Its
// certificates come from that configuration.
func listenAndServe(server *http.Server) error {
	if server.TLSConfig != nil {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}
