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

// inventory maps the UUID of every VM usable as an analysis target to the
// set of UUIDs of its snapshots.
type inventory map[string]map[string]struct{}

func (inv inventory) hasMachine(uuid string) bool {
	_, ok := inv[uuid]
	return ok
}

func (inv inventory) hasSnapshot(machine, snapshot string) bool {
	_, ok := inv[machine][snapshot]
	return ok
}

// buildInventory keeps only regular VMs: templates, snapshots and control
// domains are not analysis targets.
func buildInventory(records map[VMRef]VMRecord) inventory {
	inv := make(inventory, len(records))

	for _, rec := range records {
		if rec.IsTemplate || rec.IsSnapshot || rec.IsControlDomain {
			continue
		}

		snapshots := make(map[string]struct{}, len(rec.Snapshots))
		for _, ref := range rec.Snapshots {
			snap, ok := records[ref]
			if !ok {
				continue
			}
			snapshots[snap.UUID] = struct{}{}
		}

		inv[rec.UUID] = snapshots
	}

	return inv
}

// checkInventory verifies that every configured machine exists on the pool
// and that its configured snapshot belongs to it.
func (b *Backend) checkInventory(ctx context.Context, session Session) error {
	records, err := session.GetAllVMRecords(ctx)
	if err != nil {
		return machinery.NewError(machinery.ErrConnection, "", "", err).WithMessage("could not list VM records")
	}

	inv := buildInventory(records)

	machines, err := b.registry.Machines(ctx)
	if err != nil {
		return machinery.NewError(machinery.ErrConfiguration, "", "", err).WithMessage("could not list configured machines")
	}

	for _, m := range machines {
		if !inv.hasMachine(m.Label) {
			return machinery.NewError(machinery.ErrMissingMachine, m.Label, "", nil)
		}

		snapshot, err := b.resolveSnapshot(ctx, m.Label)
		if err != nil {
			return machinery.NewError(machinery.ErrMissingSnapshot, m.Label, "", err)
		}

		if !inv.hasSnapshot(m.Label, snapshot) {
			return machinery.NewError(machinery.ErrMissingSnapshot, m.Label, snapshot, nil)
		}

		b.log.DebugContext(ctx, "machine found", "machine", m.Label, "name", m.Name, "snapshot", snapshot)
	}

	return nil
}

func (b *Backend) powerOffRunning(ctx context.Context, session Session) error {
	machines, err := b.registry.Machines(ctx)
	if err != nil {
		return machinery.NewError(machinery.ErrConfiguration, "", "", err).WithMessage("could not list configured machines")
	}

	for _, m := range machines {
		running, err := b.isRunning(ctx, session, m.Label)
		if err != nil {
			return machinery.NewError(machinery.ErrStop, m.Label, "", err)
		}
		if !running {
			continue
		}

		b.log.InfoContext(ctx, "machine is running, stopping it", "machine", m.Label)

		if err := b.stop(ctx, session, m.Label); err != nil {
			return err
		}
	}

	return nil
}
