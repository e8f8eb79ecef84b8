//go:build unit

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

package httputil_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexandremahdhaoui/xenmachinery/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/xenmachinery/internal/util/httputil"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})
}

func TestBasicAuth(t *testing.T) {
	validator := func(username, password string, _ *http.Request) (bool, error) {
		return username == "testuser" && password == "testpass", nil
	}

	tests := []struct {
		name           string
		setupAuth      func(*http.Request)
		expectedStatus int
	}{
		{
			name:           "valid credentials",
			setupAuth:      func(req *http.Request) { req.SetBasicAuth("testuser", "testpass") },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong password",
			setupAuth:      func(req *http.Request) { req.SetBasicAuth("testuser", "wrongpass") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong username",
			setupAuth:      func(req *http.Request) { req.SetBasicAuth("other", "testpass") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "no auth header",
			setupAuth:      func(*http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed auth header",
			setupAuth:      func(req *http.Request) { req.Header.Set("Authorization", "Bearer token") },
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := httputil.BasicAuth(okHandler(&called), validator)

			req := httptest.NewRequest(http.MethodGet, "/machines", nil)
			tt.setupAuth(req)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.True(t, called)
				return
			}

			assert.False(t, called, "next handler must not be called")
			assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Basic realm=")
			assert.Contains(t, rr.Body.String(), "Unauthorized")
		})
	}
}

func TestBasicAuth_ValidatorError(t *testing.T) {
	called := false
	handler := httputil.BasicAuth(okHandler(&called), func(string, string, *http.Request) (bool, error) {
		return false, errors.New("backend down")
	})

	req := httptest.NewRequest(http.MethodGet, "/machines", nil)
	req.SetBasicAuth("testuser", "testpass")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, called)
}

func TestBcryptValidator(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	validator := httputil.BcryptValidator("cuckoo", hash)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	t.Run("match", func(t *testing.T) {
		ok, err := validator("cuckoo", "s3cret", req)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password", func(t *testing.T) {
		ok, err := validator("cuckoo", "nope", req)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong username", func(t *testing.T) {
		ok, err := validator("admin", "s3cret", req)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid hash", func(t *testing.T) {
		ok, err := httputil.BcryptValidator("cuckoo", []byte("not-a-hash"))("cuckoo", "s3cret", req)
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().String()
}

func TestServe(t *testing.T) {
	exitCode := make(chan int, 1)
	gs := gracefulshutdown.NewWithExit("test", func(code int) { exitCode <- code })

	addr := freeAddr(t)
	names := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		names <- httputil.ServerName(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		httputil.Serve(map[string]*http.Server{"api": {Addr: addr, Handler: mux}}, gs)
	}()

	url := fmt.Sprintf("http://%s/", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "api", <-names)

	gs.CancelFunc()()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the context was cancelled")
	}

	select {
	case code := <-exitCode:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestServe_DrainsBeforeCleanup(t *testing.T) {
	exitCode := make(chan int, 1)
	gs := gracefulshutdown.NewWithExit("test", func(code int) { exitCode <- code })

	addr := freeAddr(t)
	entered := make(chan struct{})

	var handlerDone atomic.Bool
	var hookSawDrained atomic.Bool

	gs.OnShutdown("session", func(context.Context) error {
		hookSawDrained.Store(handlerDone.Load())
		return nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		time.Sleep(500 * time.Millisecond)
		handlerDone.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})

	go httputil.Serve(map[string]*http.Server{"api": {Addr: addr, Handler: mux}}, gs)

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/slow", addr)) //nolint:noctx
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-entered
	gs.CancelFunc()()

	select {
	case code := <-exitCode:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	assert.True(t, hookSawDrained.Load(), "cleanup hooks ran before the in-flight request completed")
	assert.Equal(t, http.StatusNoContent, <-status)
}
