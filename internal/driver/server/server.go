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

// Package server exposes a machinery.Machinery over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

// MachineStatus is the JSON representation of a machine and its power state.
type MachineStatus struct {
	Label      string               `json:"label"`
	Name       string               `json:"name,omitempty"`
	Snapshot   string               `json:"snapshot,omitempty"`
	PowerState machinery.PowerState `json:"powerState"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Server serves the control API.
type Server struct {
	machinery machinery.Machinery
	registry  machinery.Registry
}

// New returns a new server.
func New(m machinery.Machinery, registry machinery.Registry) *Server {
	return &Server{
		machinery: m,
		registry:  registry,
	}
}

// Handler returns the gin engine serving the control API.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.CustomRecovery(recoverWithLog), RequestLogger())

	s.RegisterRoutes(router)

	return router
}

// RegisterRoutes registers the control API routes on router.
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/machines", s.listMachines)
	router.GET("/machines/:label", s.getMachine)
	router.POST("/machines/:label/start", s.startMachine)
	router.POST("/machines/:label/stop", s.stopMachine)
}

func (s *Server) listMachines(c *gin.Context) {
	ctx := c.Request.Context()

	machines, err := s.registry.Machines(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]MachineStatus, 0, len(machines))
	for _, m := range machines {
		state, err := s.machinery.Status(ctx, m.Label)
		if err != nil {
			abortWithError(c, err)
			return
		}

		out = append(out, MachineStatus{
			Label:      m.Label,
			Name:       m.Name,
			Snapshot:   m.Snapshot,
			PowerState: state,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) getMachine(c *gin.Context) {
	ctx := c.Request.Context()

	m, err := s.registry.LookupByLabel(ctx, c.Param("label"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	state, err := s.machinery.Status(ctx, m.Label)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, MachineStatus{Label: m.Label, PowerState: state})
}

func (s *Server) startMachine(c *gin.Context) {
	s.lifecycle(c, s.machinery.Start)
}

func (s *Server) stopMachine(c *gin.Context) {
	s.lifecycle(c, s.machinery.Stop)
}

func (s *Server) lifecycle(c *gin.Context, op func(ctx context.Context, label string) error) {
	ctx := c.Request.Context()

	m, err := s.registry.LookupByLabel(ctx, c.Param("label"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := op(ctx, m.Label); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// statusCode maps a machinery error onto an HTTP status code.
func statusCode(err error) int {
	switch {
	case errors.Is(err, machinery.ErrMachineNotFound):
		return http.StatusNotFound
	case errors.Is(err, machinery.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, machinery.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, machinery.ErrMachinery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "❌ request failed",
			"path", c.Request.URL.Path, "status", code, "error", err.Error())
	}

	c.AbortWithStatusJSON(code, ErrorResponse{Message: err.Error()})
}
