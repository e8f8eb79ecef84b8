//go:build unit

package machinery_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
)

func TestError(t *testing.T) {
	cause := errors.New("HANDLE_INVALID")

	t.Run("matches its kind and the machinery category", func(t *testing.T) {
		err := machinery.NewError(machinery.ErrRevert, "vm-1", "snap-1", cause)

		assert.ErrorIs(t, err, machinery.ErrMachinery)
		assert.ErrorIs(t, err, machinery.ErrRevert)
		assert.ErrorIs(t, err, cause)
		assert.NotErrorIs(t, err, machinery.ErrStart)
		assert.Equal(t, machinery.ErrRevert, machinery.KindOf(err))
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("starting analysis: %w", machinery.NewError(machinery.ErrStart, "vm-1", "", cause))

		assert.ErrorIs(t, err, machinery.ErrStart)
		assert.Equal(t, machinery.ErrStart, machinery.KindOf(err))
	})

	t.Run("kind of a foreign error", func(t *testing.T) {
		assert.Nil(t, machinery.KindOf(cause))
		assert.Nil(t, machinery.KindOf(nil))
	})

	t.Run("message", func(t *testing.T) {
		for _, tt := range []struct {
			name     string
			err      error
			expected string
		}{
			{
				name:     "kind only",
				err:      machinery.NewError(machinery.ErrNotInitialized, "", "", nil),
				expected: "machinery: machinery is not initialized",
			},
			{
				name:     "machine and snapshot",
				err:      machinery.NewError(machinery.ErrRevert, "vm-1", "snap-1", cause),
				expected: `machinery: could not revert machine to snapshot (machine "vm-1", snapshot "snap-1"): HANDLE_INVALID`,
			},
			{
				name:     "with message",
				err:      machinery.NewError(machinery.ErrConfiguration, "", "", nil).WithMessage("%s is missing", "URL"),
				expected: "machinery: configuration error: URL is missing",
			},
			{
				name:     "no kind",
				err:      &machinery.Error{Snapshot: "snap-1"},
				expected: `machinery: machinery error (snapshot "snap-1")`,
			},
		} {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expected, tt.err.Error())
			})
		}
	})
}

func TestParsePowerState(t *testing.T) {
	assert.Equal(t, machinery.PowerStateRunning, machinery.ParsePowerState("Running"))
	assert.Equal(t, machinery.PowerStateHalted, machinery.ParsePowerState("Halted"))
	assert.Equal(t, machinery.PowerStatePaused, machinery.ParsePowerState("Paused"))
	assert.Equal(t, machinery.PowerStateSuspended, machinery.ParsePowerState("Suspended"))
	assert.Equal(t, machinery.PowerStateUnknown, machinery.ParsePowerState("running"))
	assert.Equal(t, machinery.PowerStateUnknown, machinery.ParsePowerState(""))
}
