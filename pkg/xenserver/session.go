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

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

// VMRef is an opaque XenAPI object reference to a VM or a snapshot.
type VMRef string

// VMRecord holds the subset of a XenAPI VM record the backend relies on.
type VMRecord struct {
	UUID            string
	NameLabel       string
	IsTemplate      bool
	IsSnapshot      bool
	IsControlDomain bool
	// Snapshots references the snapshots taken of this VM.
	Snapshots  []VMRef
	PowerState machinery.PowerState
}

// Connector establishes authenticated sessions with a XenServer pool.
type Connector interface {
	Login(ctx context.Context, url, username, password string) (Session, error)
}

// Session is an authenticated handle to the XenAPI control plane.
type Session interface {
	GetAllVMRecords(ctx context.Context) (map[VMRef]VMRecord, error)
	GetVMByUUID(ctx context.Context, uuid string) (VMRef, error)
	GetVMRecord(ctx context.Context, ref VMRef) (VMRecord, error)
	StartVM(ctx context.Context, ref VMRef, paused, force bool) error
	HardShutdownVM(ctx context.Context, ref VMRef) error
	// RevertVM reverts the VM a snapshot was taken of to that snapshot.
	RevertVM(ctx context.Context, snapshot VMRef) error
	Logout(ctx context.Context) error
}
