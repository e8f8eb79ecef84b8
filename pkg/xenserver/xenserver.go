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

// Package xenserver implements machinery.Machinery for VMs hosted on a
// XenServer pool, through the XenAPI control plane.
package xenserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

var _ machinery.Machinery = &Backend{}

// Config holds the settings needed to reach the pool master.
type Config struct {
	URL      string
	Username string
	Password string

	// PowerOffOnInitialize hard-shuts-down every configured machine found
	// running once the inventory check succeeded.
	PowerOffOnInitialize bool
}

func (c Config) validate() error {
	switch {
	case c.URL == "":
		return machinery.NewError(machinery.ErrConfiguration, "", "", nil).
			WithMessage("XenServer URL is missing, please add it to the config file")
	case c.Username == "":
		return machinery.NewError(machinery.ErrConfiguration, "", "", nil).
			WithMessage("XenServer username is missing, please add it to the config file")
	case c.Password == "":
		return machinery.NewError(machinery.ErrConfiguration, "", "", nil).
			WithMessage("XenServer password is missing, please add it to the config file")
	}
	return nil
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithConnector sets the Connector used to open the session. Defaults to a
// XAPIConnector.
func WithConnector(c Connector) Option {
	return func(b *Backend) {
		b.connector = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.log = l
	}
}

// WithMetrics instruments the backend.
func WithMetrics(m *Metrics) Option {
	return func(b *Backend) {
		b.metrics = m
	}
}

// Backend controls XenServer VMs on behalf of the orchestrator.
//
// A Backend owns exactly one XenAPI session: it is opened by Initialize and
// released by Close. Hypervisor calls are not serialized; the orchestrator
// must not issue concurrent lifecycle calls for the same machine.
type Backend struct {
	cfg       Config
	registry  machinery.Registry
	connector Connector
	log       *slog.Logger
	metrics   *Metrics

	// initMu serializes Initialize so a single session is ever opened.
	initMu sync.Mutex

	mu      sync.Mutex
	session Session
}

// New returns a Backend resolving snapshots through registry. The backend is
// unusable until Initialize succeeds.
func New(cfg Config, registry machinery.Registry, opts ...Option) *Backend {
	b := &Backend{
		cfg:      cfg,
		registry: registry,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.connector == nil {
		b.connector = NewXAPIConnector()
	}
	if b.log == nil {
		b.log = slog.Default()
	}

	return b
}

// Initialize validates the configuration, logs into the pool and verifies that
// every configured machine and its snapshot exist. The first inconsistency
// aborts initialization and releases the session.
func (b *Backend) Initialize(ctx context.Context) (err error) {
	defer b.metrics.observe(opInitialize, time.Now(), &err)

	if err := b.cfg.validate(); err != nil {
		return err
	}

	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.Lock()
	initialized := b.session != nil
	b.mu.Unlock()
	if initialized {
		return machinery.NewError(machinery.ErrConfiguration, "", "", nil).WithMessage("already initialized")
	}

	session, err := b.connector.Login(ctx, b.cfg.URL, b.cfg.Username, b.cfg.Password)
	if err != nil {
		return machinery.NewError(machinery.ErrConnection, "", "", err).
			WithMessage("could not connect to XenServer %s", b.cfg.URL)
	}

	if err := b.checkInventory(ctx, session); err != nil {
		b.logout(ctx, session)
		return err
	}

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()

	if b.cfg.PowerOffOnInitialize {
		if err := b.powerOffRunning(ctx, session); err != nil {
			_ = b.Close(ctx)
			return err
		}
	}

	b.log.InfoContext(ctx, "xenserver machinery initialized", "url", b.cfg.URL)

	return nil
}

// Start reverts the machine to its configured snapshot, then powers it on.
func (b *Backend) Start(ctx context.Context, label string) (err error) {
	defer b.metrics.observe(opStart, time.Now(), &err)

	session, err := b.getSession()
	if err != nil {
		return err
	}

	running, err := b.isRunning(ctx, session, label)
	if err != nil {
		return machinery.NewError(machinery.ErrStart, label, "", err)
	}
	if running {
		return machinery.NewError(machinery.ErrAlreadyRunning, label, "", nil)
	}

	if err := b.revert(ctx, session, label); err != nil {
		return err
	}

	b.log.DebugContext(ctx, "starting vm", "machine", label)

	ref, err := session.GetVMByUUID(ctx, label)
	if err != nil {
		return machinery.NewError(machinery.ErrStart, label, "", err)
	}

	if err := session.StartVM(ctx, ref, false, true); err != nil {
		return machinery.NewError(machinery.ErrStart, label, "", err)
	}

	return nil
}

// Stop hard-shuts-down the machine if it is running. Stopping a machine that
// is not running logs a warning and succeeds.
func (b *Backend) Stop(ctx context.Context, label string) (err error) {
	defer b.metrics.observe(opStop, time.Now(), &err)

	session, err := b.getSession()
	if err != nil {
		return err
	}

	return b.stop(ctx, session, label)
}

// Status returns the current power state of the machine.
func (b *Backend) Status(ctx context.Context, label string) (state machinery.PowerState, err error) {
	defer b.metrics.observe(opStatus, time.Now(), &err)

	session, err := b.getSession()
	if err != nil {
		return machinery.PowerStateUnknown, err
	}

	state, err = b.powerState(ctx, session, label)
	if err != nil {
		return machinery.PowerStateUnknown, machinery.NewError(machinery.ErrStatus, label, "", err)
	}

	return state, nil
}

// Close logs out of the pool. It is safe to call Close more than once, and on
// a backend that was never initialized.
func (b *Backend) Close(ctx context.Context) (err error) {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.mu.Unlock()

	if session == nil {
		return nil
	}

	defer b.metrics.observe(opClose, time.Now(), &err)

	if err := session.Logout(ctx); err != nil {
		return machinery.NewError(machinery.ErrConnection, "", "", err).WithMessage("could not log out")
	}

	b.log.DebugContext(ctx, "xenserver session released", "url", b.cfg.URL)

	return nil
}

func (b *Backend) getSession() (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, machinery.NewError(machinery.ErrNotInitialized, "", "", nil)
	}
	return b.session, nil
}

func (b *Backend) logout(ctx context.Context, session Session) {
	if err := session.Logout(ctx); err != nil {
		b.log.WarnContext(ctx, "could not log out of xenserver", "error", err.Error())
	}
}

func (b *Backend) stop(ctx context.Context, session Session, label string) error {
	running, err := b.isRunning(ctx, session, label)
	if err != nil {
		return machinery.NewError(machinery.ErrStop, label, "", err)
	}

	if !running {
		b.log.WarnContext(ctx, "trying to stop an already stopped VM", "machine", label)
		return nil
	}

	ref, err := session.GetVMByUUID(ctx, label)
	if err != nil {
		return machinery.NewError(machinery.ErrStop, label, "", err)
	}

	if err := session.HardShutdownVM(ctx, ref); err != nil {
		return machinery.NewError(machinery.ErrStop, label, "", err).WithMessage("could not shut down VM")
	}

	return nil
}

// revert reverts the machine to the snapshot configured in the registry.
func (b *Backend) revert(ctx context.Context, session Session, label string) error {
	b.log.DebugContext(ctx, "reverting vm to snapshot", "machine", label)

	snapshot, err := b.resolveSnapshot(ctx, label)
	if err != nil {
		return machinery.NewError(machinery.ErrRevert, label, "", err)
	}

	ref, err := session.GetVMByUUID(ctx, snapshot)
	if err != nil {
		return machinery.NewError(machinery.ErrRevert, label, snapshot, err)
	}

	if err := session.RevertVM(ctx, ref); err != nil {
		return machinery.NewError(machinery.ErrRevert, label, snapshot, err)
	}

	return nil
}

// isRunning is true only in the Running state. Paused and Suspended machines
// are handled like halted ones: starting one reverts its snapshot first.
func (b *Backend) isRunning(ctx context.Context, session Session, label string) (bool, error) {
	state, err := b.powerState(ctx, session, label)
	if err != nil {
		return false, err
	}
	return state == machinery.PowerStateRunning, nil
}

func (b *Backend) powerState(ctx context.Context, session Session, label string) (machinery.PowerState, error) {
	ref, err := session.GetVMByUUID(ctx, label)
	if err != nil {
		return machinery.PowerStateUnknown, err
	}

	rec, err := session.GetVMRecord(ctx, ref)
	if err != nil {
		return machinery.PowerStateUnknown, err
	}

	return rec.PowerState, nil
}

// resolveSnapshot is a registry lookup, not a hypervisor call.
func (b *Backend) resolveSnapshot(ctx context.Context, label string) (string, error) {
	m, err := b.registry.LookupByLabel(ctx, label)
	if err != nil {
		return "", err
	}
	return m.Snapshot, nil
}
