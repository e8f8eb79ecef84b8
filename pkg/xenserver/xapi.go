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

package xenserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	xenapi "github.com/terra-farm/go-xen-api-client"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

const (
	xapiVersion    = "1.0"
	xapiOriginator = "xenmachinery"
)

var (
	errCreateXAPIClient = errors.New("failed to create XenAPI client")
	errLoginWithPasswd  = errors.New("failed to login with password")
)

var (
	_ Connector = &XAPIConnector{}
	_ Session   = &xapiSession{}
)

// XAPIOption configures an XAPIConnector.
type XAPIOption func(*XAPIConnector)

// WithTLSConfig sets the TLS configuration used to reach the pool master,
// typically to trust the self-signed certificate of a pool.
func WithTLSConfig(cfg *tls.Config) XAPIOption {
	return func(c *XAPIConnector) {
		c.tlsConfig = cfg
	}
}

// WithTransport sets the HTTP transport used for XML-RPC calls. It takes
// precedence over WithTLSConfig.
func WithTransport(transport *http.Transport) XAPIOption {
	return func(c *XAPIConnector) {
		c.transport = transport
	}
}

// XAPIConnector is a Connector talking XML-RPC to a XenServer pool master.
type XAPIConnector struct {
	tlsConfig *tls.Config
	transport *http.Transport
}

// NewXAPIConnector returns a Connector backed by the XenAPI client library.
// Calls go through a pooled transport and are never retried.
func NewXAPIConnector(opts ...XAPIOption) *XAPIConnector {
	c := &XAPIConnector{}
	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		transport := cleanhttp.DefaultPooledTransport()
		if c.tlsConfig != nil {
			transport.TLSClientConfig = c.tlsConfig.Clone()
		}
		c.transport = transport
	}

	return c
}

// Login implements Connector.
func (c *XAPIConnector) Login(ctx context.Context, url, username, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := xenapi.NewClient(url, c.transport)
	if err != nil {
		return nil, errors.Join(err, errCreateXAPIClient)
	}

	ref, err := client.Session.LoginWithPassword(username, password, xapiVersion, xapiOriginator)
	if err != nil {
		return nil, errors.Join(err, errLoginWithPasswd)
	}

	return &xapiSession{client: client, ref: ref}, nil
}

type xapiSession struct {
	client *xenapi.Client
	ref    xenapi.SessionRef
}

func (s *xapiSession) GetAllVMRecords(ctx context.Context) (map[VMRef]VMRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := s.client.VM.GetAllRecords(s.ref)
	if err != nil {
		return nil, err
	}

	out := make(map[VMRef]VMRecord, len(records))
	for ref, rec := range records {
		out[VMRef(ref)] = fromXAPIRecord(rec)
	}
	return out, nil
}

func (s *xapiSession) GetVMByUUID(ctx context.Context, uuid string) (VMRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref, err := s.client.VM.GetByUUID(s.ref, uuid)
	if err != nil {
		return "", err
	}
	return VMRef(ref), nil
}

func (s *xapiSession) GetVMRecord(ctx context.Context, ref VMRef) (VMRecord, error) {
	if err := ctx.Err(); err != nil {
		return VMRecord{}, err
	}

	rec, err := s.client.VM.GetRecord(s.ref, xenapi.VMRef(ref))
	if err != nil {
		return VMRecord{}, err
	}
	return fromXAPIRecord(rec), nil
}

func (s *xapiSession) StartVM(ctx context.Context, ref VMRef, paused, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.VM.Start(s.ref, xenapi.VMRef(ref), paused, force)
}

func (s *xapiSession) HardShutdownVM(ctx context.Context, ref VMRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.VM.HardShutdown(s.ref, xenapi.VMRef(ref))
}

func (s *xapiSession) RevertVM(ctx context.Context, snapshot VMRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.VM.Revert(s.ref, xenapi.VMRef(snapshot))
}

// Logout does not honor ctx cancellation: the session is released even while
// the process shuts down.
func (s *xapiSession) Logout(_ context.Context) error {
	return s.client.Session.Logout(s.ref)
}

func fromXAPIRecord(rec xenapi.VMRecord) VMRecord {
	snapshots := make([]VMRef, 0, len(rec.Snapshots))
	for _, ref := range rec.Snapshots {
		snapshots = append(snapshots, VMRef(ref))
	}

	return VMRecord{
		UUID:            rec.UUID,
		NameLabel:       rec.NameLabel,
		IsTemplate:      rec.IsATemplate,
		IsSnapshot:      rec.IsASnapshot,
		IsControlDomain: rec.IsControlDomain,
		Snapshots:       snapshots,
		PowerState:      machinery.ParsePowerState(string(rec.PowerState)),
	}
}
