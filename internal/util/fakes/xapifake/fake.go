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

// Package xapifake provides an in-memory XenServer pool implementing
// xenserver.Connector and xenserver.Session. Every call is recorded.
package xapifake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/xenserver"
)

// XenAPI method names, as recorded in Call.Method.
const (
	MethodLogin         = "session.login_with_password"
	MethodLogout        = "session.logout"
	MethodGetAllRecords = "VM.get_all_records"
	MethodGetByUUID     = "VM.get_by_uuid"
	MethodGetRecord     = "VM.get_record"
	MethodStart         = "VM.start"
	MethodHardShutdown  = "VM.hard_shutdown"
	MethodRevert        = "VM.revert"
)

const controlDomainNameFake = "Control domain on host: fake"

// ErrUUIDInvalid mimics the XenAPI UUID_INVALID failure.
var ErrUUIDInvalid = errors.New("UUID_INVALID")

// Call is a recorded XenAPI call. UUID is the UUID of the object the call
// targets, resolved from its opaque reference.
type Call struct {
	Method string
	UUID   string
	Paused bool
	Force  bool
}

var (
	_ xenserver.Connector = &Fake{}
	_ xenserver.Session   = &Fake{}
)

// Fake is an in-memory XenServer pool. The zero value is not usable; use New.
type Fake struct {
	mu      sync.Mutex
	records map[xenserver.VMRef]*xenserver.VMRecord
	byUUID  map[string]xenserver.VMRef
	calls   []Call

	// Username and Password, when set, are the only accepted credentials.
	Username string
	Password string

	// Errors returned by the corresponding method when set.
	LoginErr         error
	LogoutErr        error
	GetAllRecordsErr error
	GetRecordErr     error
	StartErr         error
	HardShutdownErr  error
	RevertErr        error
}

// New returns an empty pool holding only a control domain.
func New() *Fake {
	f := &Fake{
		records: make(map[xenserver.VMRef]*xenserver.VMRecord),
		byUUID:  make(map[string]xenserver.VMRef),
	}

	f.add(uuid.NewString(), xenserver.VMRecord{
		NameLabel:       controlDomainNameFake,
		IsControlDomain: true,
		PowerState:      machinery.PowerStateRunning,
	})

	return f
}

// AddVM adds a regular VM and one snapshot record per snapshot UUID.
func (f *Fake) AddVM(vmUUID string, state machinery.PowerState, snapshotUUIDs ...string) *Fake {
	snapshots := make([]xenserver.VMRef, 0, len(snapshotUUIDs))
	for _, s := range snapshotUUIDs {
		snapshots = append(snapshots, f.add(s, xenserver.VMRecord{
			NameLabel:  "snapshot of " + vmUUID,
			IsSnapshot: true,
			PowerState: machinery.PowerStateHalted,
		}))
	}

	f.add(vmUUID, xenserver.VMRecord{
		NameLabel:  vmUUID,
		Snapshots:  snapshots,
		PowerState: state,
	})

	return f
}

// AddTemplate adds a template record.
func (f *Fake) AddTemplate(templateUUID string) *Fake {
	f.add(templateUUID, xenserver.VMRecord{
		NameLabel:  "template " + templateUUID,
		IsTemplate: true,
		PowerState: machinery.PowerStateHalted,
	})
	return f
}

// AddControlDomain adds a control domain record with the given UUID.
func (f *Fake) AddControlDomain(domUUID string) *Fake {
	f.add(domUUID, xenserver.VMRecord{
		NameLabel:       controlDomainNameFake,
		IsControlDomain: true,
		PowerState:      machinery.PowerStateRunning,
	})
	return f
}

// SetPowerState overrides the power state of a VM.
func (f *Fake) SetPowerState(vmUUID string, state machinery.PowerState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ref, ok := f.byUUID[vmUUID]; ok {
		f.records[ref].PowerState = state
	}
}

// PowerState returns the power state of a VM, or PowerStateUnknown.
func (f *Fake) PowerState(vmUUID string) machinery.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref, ok := f.byUUID[vmUUID]
	if !ok {
		return machinery.PowerStateUnknown
	}
	return f.records[ref].PowerState
}

// Calls returns the recorded calls, optionally filtered by method.
func (f *Fake) Calls(methods ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(methods) == 0 {
		out := make([]Call, len(f.calls))
		copy(out, f.calls)
		return out
	}

	keep := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		keep[m] = struct{}{}
	}

	var out []Call
	for _, c := range f.calls {
		if _, ok := keep[c.Method]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Login implements xenserver.Connector.
func (f *Fake) Login(_ context.Context, _, username, password string) (xenserver.Session, error) {
	f.record(Call{Method: MethodLogin})

	if f.LoginErr != nil {
		return nil, f.LoginErr
	}
	if f.Username != "" && (username != f.Username || password != f.Password) {
		return nil, errors.New("SESSION_AUTHENTICATION_FAILED")
	}
	return f, nil
}

// Logout implements xenserver.Session.
func (f *Fake) Logout(_ context.Context) error {
	f.record(Call{Method: MethodLogout})
	return f.LogoutErr
}

// GetAllVMRecords implements xenserver.Session.
func (f *Fake) GetAllVMRecords(_ context.Context) (map[xenserver.VMRef]xenserver.VMRecord, error) {
	f.record(Call{Method: MethodGetAllRecords})

	if f.GetAllRecordsErr != nil {
		return nil, f.GetAllRecordsErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[xenserver.VMRef]xenserver.VMRecord, len(f.records))
	for ref, rec := range f.records {
		out[ref] = *rec
	}
	return out, nil
}

// GetVMByUUID implements xenserver.Session.
func (f *Fake) GetVMByUUID(_ context.Context, vmUUID string) (xenserver.VMRef, error) {
	f.record(Call{Method: MethodGetByUUID, UUID: vmUUID})

	f.mu.Lock()
	defer f.mu.Unlock()

	ref, ok := f.byUUID[vmUUID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUUIDInvalid, vmUUID)
	}
	return ref, nil
}

// GetVMRecord implements xenserver.Session.
func (f *Fake) GetVMRecord(_ context.Context, ref xenserver.VMRef) (xenserver.VMRecord, error) {
	rec, err := f.lookup(ref)
	f.record(Call{Method: MethodGetRecord, UUID: rec.UUID})

	if err != nil {
		return xenserver.VMRecord{}, err
	}
	if f.GetRecordErr != nil {
		return xenserver.VMRecord{}, f.GetRecordErr
	}
	return rec, nil
}

// StartVM implements xenserver.Session.
func (f *Fake) StartVM(_ context.Context, ref xenserver.VMRef, paused, force bool) error {
	rec, err := f.lookup(ref)
	f.record(Call{Method: MethodStart, UUID: rec.UUID, Paused: paused, Force: force})

	if err != nil {
		return err
	}
	if f.StartErr != nil {
		return f.StartErr
	}

	state := machinery.PowerStateRunning
	if paused {
		state = machinery.PowerStatePaused
	}
	f.SetPowerState(rec.UUID, state)

	return nil
}

// HardShutdownVM implements xenserver.Session.
func (f *Fake) HardShutdownVM(_ context.Context, ref xenserver.VMRef) error {
	rec, err := f.lookup(ref)
	f.record(Call{Method: MethodHardShutdown, UUID: rec.UUID})

	if err != nil {
		return err
	}
	if f.HardShutdownErr != nil {
		return f.HardShutdownErr
	}

	f.SetPowerState(rec.UUID, machinery.PowerStateHalted)

	return nil
}

// RevertVM implements xenserver.Session.
func (f *Fake) RevertVM(_ context.Context, snapshot xenserver.VMRef) error {
	rec, err := f.lookup(snapshot)
	f.record(Call{Method: MethodRevert, UUID: rec.UUID})

	if err != nil {
		return err
	}
	if !rec.IsSnapshot {
		return fmt.Errorf("VM_IS_NOT_A_SNAPSHOT: %s", rec.UUID)
	}
	return f.RevertErr
}

func (f *Fake) add(objUUID string, rec xenserver.VMRecord) xenserver.VMRef {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := xenserver.VMRef("OpaqueRef:" + uuid.NewString())
	rec.UUID = objUUID
	f.records[ref] = &rec
	f.byUUID[objUUID] = ref

	return ref
}

func (f *Fake) lookup(ref xenserver.VMRef) (xenserver.VMRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[ref]
	if !ok {
		return xenserver.VMRecord{}, fmt.Errorf("HANDLE_INVALID: %s", ref)
	}
	return *rec, nil
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
}
