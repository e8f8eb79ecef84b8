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

package machinery

import (
	"context"
	"errors"
	"fmt"
)

var (
	errEmptyLabel     = errors.New("machine label must not be empty")
	errEmptySnapshot  = errors.New("machine snapshot must not be empty")
	errDuplicateLabel = errors.New("duplicate machine label")
)

var _ Registry = &StaticRegistry{}

// StaticRegistry is an in-memory Registry built from configuration. It keeps
// machines in the order they were given.
type StaticRegistry struct {
	machines []Machine
	byLabel  map[string]int
}

// NewStaticRegistry returns a registry holding machines.
func NewStaticRegistry(machines ...Machine) (*StaticRegistry, error) {
	r := &StaticRegistry{
		machines: make([]Machine, 0, len(machines)),
		byLabel:  make(map[string]int, len(machines)),
	}

	for i, m := range machines {
		if m.Label == "" {
			return nil, fmt.Errorf("machine at index %d: %w", i, errEmptyLabel)
		}
		if m.Snapshot == "" {
			return nil, fmt.Errorf("machine %q: %w", m.Label, errEmptySnapshot)
		}
		if _, ok := r.byLabel[m.Label]; ok {
			return nil, fmt.Errorf("machine %q: %w", m.Label, errDuplicateLabel)
		}

		r.byLabel[m.Label] = len(r.machines)
		r.machines = append(r.machines, m)
	}

	return r, nil
}

// Machines implements Registry.
func (r *StaticRegistry) Machines(_ context.Context) ([]Machine, error) {
	out := make([]Machine, len(r.machines))
	copy(out, r.machines)
	return out, nil
}

// LookupByLabel implements Registry.
func (r *StaticRegistry) LookupByLabel(_ context.Context, label string) (Machine, error) {
	i, ok := r.byLabel[label]
	if !ok {
		return Machine{}, fmt.Errorf("label %q: %w", label, ErrMachineNotFound)
	}
	return r.machines[i], nil
}
