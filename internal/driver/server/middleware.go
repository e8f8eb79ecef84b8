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

package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type contextKey string

// ClientIPContextKey is the context key for storing the client IP address.
const ClientIPContextKey contextKey = "client_ip"

// RequestLogger stores the client IP in the request context and logs every
// request once it has been served.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		clientIP := extractClientIP(c.Request)

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ClientIPContextKey, clientIP))

		c.Next()

		slog.InfoContext(c.Request.Context(), "served request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"clientIP", clientIP,
			"duration", time.Since(start).String(),
		)
	}
}

func recoverWithLog(c *gin.Context, err any) {
	slog.ErrorContext(c.Request.Context(), "❌ recovered from panic",
		"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)

	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
}

// extractClientIP checks X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func extractClientIP(r *http.Request) string {
	// First entry is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

// GetClientIP retrieves the client IP from the context.
// Returns empty string if not found.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPContextKey).(string); ok {
		return ip
	}
	return ""
}
