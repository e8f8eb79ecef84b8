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

// Package machinery defines the contract a sandbox orchestrator expects from
// a virtualization backend: verify the configured machines, start a machine
// from its clean snapshot, and force it off again.
package machinery

import "context"

// PowerState is the power state of a machine as reported by the hypervisor.
type PowerState string

const (
	PowerStateHalted    PowerState = "Halted"
	PowerStatePaused    PowerState = "Paused"
	PowerStateRunning   PowerState = "Running"
	PowerStateSuspended PowerState = "Suspended"
	PowerStateUnknown   PowerState = "Unknown"
)

// ParsePowerState maps a hypervisor power state string to a PowerState.
func ParsePowerState(s string) PowerState {
	switch PowerState(s) {
	case PowerStateHalted, PowerStatePaused, PowerStateRunning, PowerStateSuspended:
		return PowerState(s)
	default:
		return PowerStateUnknown
	}
}

// Machine is a machine configured in the orchestrator.
type Machine struct {
	// Label identifies the VM on the hypervisor (a XenServer VM UUID).
	Label string `json:"label"`
	// Snapshot identifies the clean snapshot the VM is reverted to before
	// every start.
	Snapshot string `json:"snapshot"`
	// Name is a human-readable name, only used for logging.
	Name string `json:"name,omitempty"`
}

// Registry resolves configured machines. It is owned by the orchestrator.
type Registry interface {
	// Machines returns every configured machine.
	Machines(ctx context.Context) ([]Machine, error)
	// LookupByLabel returns the machine carrying label. It returns an error
	// wrapping ErrMachineNotFound when no machine matches.
	LookupByLabel(ctx context.Context, label string) (Machine, error)
}

// Machinery is the capability set a virtualization backend exposes to the
// orchestrator.
//
// All errors returned by an implementation are *Error values matching
// ErrMachinery.
type Machinery interface {
	// Initialize connects to the hypervisor and verifies that every configured
	// machine and snapshot exists.
	Initialize(ctx context.Context) error
	// Start reverts the machine to its snapshot and powers it on.
	Start(ctx context.Context, label string) error
	// Stop forcefully powers off the machine. Stopping a machine that is not
	// running succeeds.
	Stop(ctx context.Context, label string) error
	// Status returns the current power state of the machine.
	Status(ctx context.Context, label string) (PowerState, error)
	// Close releases the hypervisor session.
	Close(ctx context.Context) error
}
