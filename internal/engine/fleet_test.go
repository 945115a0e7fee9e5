package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/campbellsync/internal/domain"
)

func fleetDevices() []domain.DeviceConfig {
	a := testDevice("dev-a")
	a.Name = "met-a"
	bad := testDevice("")
	bad.Name = "met-bad"
	bad.Schedule = "61 * * * *"
	b := testDevice("")
	b.Name = "met-b"
	return []domain.DeviceConfig{a, bad, b}
}

func TestNewFleet_DisablesInvalidDevices(t *testing.T) {
	env := newRunnerEnv()
	f := NewFleet(fleetDevices(), env.deps)

	require.Len(t, f.Runners(), 2)
	assert.Equal(t, "met-a", f.Runners()[0].Name())
	assert.Equal(t, "met-b", f.Runners()[1].Name())

	disabled := f.Disabled()
	require.Len(t, disabled, 1)
	assert.True(t, domain.IsScheduleInvalid(disabled[0]))
	assert.Contains(t, disabled[0].Error(), "met-bad")

	_, ok := f.Runner("met-bad")
	assert.False(t, ok)
	r, ok := f.Runner("met-b")
	require.True(t, ok)
	assert.Equal(t, "met-b", r.Name())
}

func TestFleet_RunOnceKeepsDeviceOrder(t *testing.T) {
	env := newRunnerEnv()
	f := NewFleet(fleetDevices(), env.deps)

	results := f.RunOnce(context.Background())

	require.Len(t, results, 2)
	assert.Equal(t, "met-a", results[0].Device)
	assert.Equal(t, domain.OutcomeDeviceNotFound, results[0].Outcome)
	assert.Equal(t, "met-b", results[1].Device)
	assert.Equal(t, domain.OutcomeSuccess, results[1].Outcome)
	assert.Equal(t, 1, env.fetcher.Calls(), "only the verify-only device fetched")
}

func TestFleet_Status(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-a")
	f := NewFleet(fleetDevices(), env.deps)

	before := f.Status()
	require.Len(t, before, 2)
	assert.Equal(t, domain.OutcomeNone, before[0].LastOutcome)
	assert.Nil(t, before[0].LastAt)
	assert.False(t, before[0].Resolved)

	f.RunOnce(context.Background())

	after := f.Status()
	assert.Equal(t, "met-a", after[0].Device)
	assert.Equal(t, "idle", after[0].Phase)
	assert.True(t, after[0].Resolved)
	assert.Equal(t, domain.OutcomeSuccess, after[0].LastOutcome)
	assert.NotNil(t, after[0].LastAt)
	assert.False(t, after[1].Resolved)
}

func TestFleet_RunReturnsOnShutdown(t *testing.T) {
	env := newRunnerEnv()
	f := NewFleet(fleetDevices(), env.deps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.Run(ctx))

	results := env.recorder.Results()
	assert.Len(t, results, 2, "each runner still completes its immediate cycle")
}

func TestFleet_RunWithoutDevices(t *testing.T) {
	env := newRunnerEnv()
	f := NewFleet(nil, env.deps)

	err := f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runnable devices")
}
