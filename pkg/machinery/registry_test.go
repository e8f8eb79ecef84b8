//go:build unit

package machinery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves order", func(t *testing.T) {
		r, err := machinery.NewStaticRegistry(
			machinery.Machine{Label: "vm-2", Snapshot: "snap-2", Name: "cuckoo2"},
			machinery.Machine{Label: "vm-1", Snapshot: "snap-1", Name: "cuckoo1"},
		)
		require.NoError(t, err)

		machines, err := r.Machines(ctx)
		require.NoError(t, err)
		require.Len(t, machines, 2)
		assert.Equal(t, "vm-2", machines[0].Label)
		assert.Equal(t, "vm-1", machines[1].Label)

		machines[0].Label = "mutated"
		again, _ := r.Machines(ctx)
		assert.Equal(t, "vm-2", again[0].Label, "Machines must return a copy")
	})

	t.Run("lookup", func(t *testing.T) {
		r, err := machinery.NewStaticRegistry(machinery.Machine{Label: "vm-1", Snapshot: "snap-1"})
		require.NoError(t, err)

		m, err := r.LookupByLabel(ctx, "vm-1")
		require.NoError(t, err)
		assert.Equal(t, "snap-1", m.Snapshot)

		_, err = r.LookupByLabel(ctx, "vm-404")
		assert.ErrorIs(t, err, machinery.ErrMachineNotFound)
	})

	t.Run("empty", func(t *testing.T) {
		r, err := machinery.NewStaticRegistry()
		require.NoError(t, err)

		machines, err := r.Machines(ctx)
		require.NoError(t, err)
		assert.Empty(t, machines)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, tt := range []struct {
			name     string
			machines []machinery.Machine
		}{
			{name: "empty label", machines: []machinery.Machine{{Snapshot: "snap-1"}}},
			{name: "empty snapshot", machines: []machinery.Machine{{Label: "vm-1"}}},
			{name: "duplicate label", machines: []machinery.Machine{
				{Label: "vm-1", Snapshot: "snap-1"},
				{Label: "vm-1", Snapshot: "snap-2"},
			}},
		} {
			t.Run(tt.name, func(t *testing.T) {
				_, err := machinery.NewStaticRegistry(tt.machines...)
				assert.Error(t, err)
			})
		}
	})
}
