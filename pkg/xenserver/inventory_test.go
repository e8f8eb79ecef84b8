//go:build unit

package xenserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInventory(t *testing.T) {
	records := map[VMRef]VMRecord{
		"OpaqueRef:vm-1":   {UUID: "vm-1", Snapshots: []VMRef{"OpaqueRef:snap-1", "OpaqueRef:gone"}},
		"OpaqueRef:snap-1": {UUID: "snap-1", IsSnapshot: true},
		"OpaqueRef:vm-2":   {UUID: "vm-2"},
		"OpaqueRef:tpl":    {UUID: "tpl", IsTemplate: true, Snapshots: []VMRef{"OpaqueRef:snap-1"}},
		"OpaqueRef:dom0":   {UUID: "dom0", IsControlDomain: true},
	}

	inv := buildInventory(records)

	assert.Len(t, inv, 2)
	assert.True(t, inv.hasMachine("vm-1"))
	assert.True(t, inv.hasMachine("vm-2"))
	assert.False(t, inv.hasMachine("tpl"))
	assert.False(t, inv.hasMachine("dom0"))
	assert.False(t, inv.hasMachine("snap-1"))

	assert.True(t, inv.hasSnapshot("vm-1", "snap-1"))
	assert.False(t, inv.hasSnapshot("vm-2", "snap-1"))
	assert.False(t, inv.hasSnapshot("vm-404", "snap-1"))
	assert.Len(t, inv["vm-1"], 1, "dangling snapshot references are ignored")
}
