// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package streams

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client/mock"
)

func TestManagerLoadAllIsolatesBrokenStreams(t *testing.T) {
	config.Mock()
	good := registerFakeProvider(t)
	good.setLocations(locationBatch(1))

	intake := mock.NewIntake(t)
	defer intake.Close()

	inactive := false
	snapshot := &config.Snapshot{
		Servers: []*config.TakServerConfig{intakeServer(t, 1, intake, 10)},
		Streams: []*config.StreamConfig{
			fakeStreamConfig(1, good.kind, 1),
			fakeStreamConfig(2, good.kind, 9), // unknown server
			fakeStreamConfig(3, good.kind, 1),
		},
	}
	snapshot.Streams[2].Active = &inactive

	deps := testDeps(clock.NewMock())
	defer deps.Service.CloseAll(time.Second)

	manager := NewManager(deps)
	defer manager.StopAll(time.Second)

	err := manager.LoadAll(snapshot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attached server 9 does not exist")

	// The healthy stream runs, the broken one is skipped, the inactive one is
	// not loaded.
	assert.Equal(t, []int{1}, manager.StreamIDs())
	require.NotEmpty(t, intake.WaitForFrames(1, 5*time.Second))

	_, err = manager.Status(2)
	require.Error(t, err)
	_, err = manager.Status(3)
	require.Error(t, err)
}

func TestManagerStopAllStopsInParallel(t *testing.T) {
	config.Mock()

	intake := mock.NewIntake(t)
	defer intake.Close()

	snapshot := &config.Snapshot{
		Servers: []*config.TakServerConfig{intakeServer(t, 1, intake, 100)},
	}
	fakes := make([]*fakeProvider, 3)
	for i := range fakes {
		fakes[i] = registerFakeProvider(t)
		fakes[i].setLocations(locationBatch(1))
		fakes[i].setDelay(300 * time.Millisecond)
		snapshot.Streams = append(snapshot.Streams, fakeStreamConfig(i+1, fakes[i].kind, 1))
	}

	deps := testDeps(clock.NewMock())
	defer deps.Service.CloseAll(time.Second)

	manager := NewManager(deps)
	require.NoError(t, manager.LoadAll(snapshot))

	// Make sure every stream is inside a slow fetch, then stop them all: the
	// shutdown is bounded by one fetch, not by the sum over streams.
	for i := range fakes {
		require.NoError(t, manager.TriggerNow(i+1))
	}
	for _, fake := range fakes {
		waitForFetches(t, fake, 2)
	}

	started := time.Now()
	require.NoError(t, manager.StopAll(2*time.Second))
	elapsed := time.Since(started)

	assert.Less(t, elapsed, 700*time.Millisecond)
	for _, status := range manager.StatusAll() {
		assert.Equal(t, StateStopped, status.State)
	}
}

func TestManagerStartRevivesStoppedStream(t *testing.T) {
	config.Mock()
	provider := registerFakeProvider(t)
	provider.setLocations(locationBatch(1))

	intake := mock.NewIntake(t)
	defer intake.Close()

	snapshot := &config.Snapshot{
		Servers: []*config.TakServerConfig{intakeServer(t, 1, intake, 10)},
		Streams: []*config.StreamConfig{fakeStreamConfig(1, provider.kind, 1)},
	}

	deps := testDeps(clock.NewMock())
	defer deps.Service.CloseAll(time.Second)

	manager := NewManager(deps)
	defer manager.StopAll(time.Second)
	require.NoError(t, manager.LoadAll(snapshot))
	waitForFetches(t, provider, 1)

	require.NoError(t, manager.Stop(1, time.Second))
	status, err := manager.Status(1)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)

	// Start rebuilds the worker from its configuration and ticks immediately.
	require.NoError(t, manager.Start(1))
	waitForFetches(t, provider, 2)
	require.Eventually(t, func() bool {
		status, err := manager.Status(1)
		return err == nil && status.State == StateRunning
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManagerUnknownStreamOperations(t *testing.T) {
	config.Mock()
	deps := testDeps(clock.NewMock())
	manager := NewManager(deps)

	assertNotLoaded := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, config.IsConfigurationError(err))
	}

	assertNotLoaded(manager.TriggerNow(42))
	assertNotLoaded(manager.Start(42))
	assertNotLoaded(manager.Stop(42, time.Second))
	assertNotLoaded(manager.Reconfigure(fakeStreamConfig(42, "unused", 1)))
	_, err := manager.Status(42)
	assertNotLoaded(err)
}

func TestManagerReloadAppliesSnapshotDiff(t *testing.T) {
	config.Mock()
	first := registerFakeProvider(t)
	first.setLocations(locationBatch(1))
	second := registerFakeProvider(t)
	second.setLocations(locationBatch(1))
	third := registerFakeProvider(t)
	third.setLocations(locationBatch(1))

	intakeA := mock.NewIntake(t)
	defer intakeA.Close()
	intakeB := mock.NewIntake(t)
	defer intakeB.Close()

	v1 := &config.Snapshot{
		Servers: []*config.TakServerConfig{
			intakeServer(t, 1, intakeA, 10),
			intakeServer(t, 2, intakeB, 10),
		},
		Streams: []*config.StreamConfig{
			fakeStreamConfig(1, first.kind, 1),
			fakeStreamConfig(2, second.kind, 2),
		},
	}

	deps := testDeps(clock.NewMock())
	defer deps.Service.CloseAll(time.Second)

	manager := NewManager(deps)
	defer manager.StopAll(time.Second)
	require.NoError(t, manager.LoadAll(v1))
	waitForFetches(t, first, 1)
	waitForFetches(t, second, 1)
	connA := deps.Service.Get(1)
	require.NotNil(t, connA)

	// v2: stream 1 changes its cadence, stream 2 disappears along with server
	// 2, stream 3 is new.
	changed := fakeStreamConfig(1, first.kind, 1)
	changed.PollIntervalSeconds = 30
	v2 := &config.Snapshot{
		Servers: []*config.TakServerConfig{intakeServer(t, 1, intakeA, 10)},
		Streams: []*config.StreamConfig{
			changed,
			fakeStreamConfig(3, third.kind, 1),
		},
	}
	require.NoError(t, manager.Reload(v2))

	assert.Equal(t, []int{1, 3}, manager.StreamIDs())

	// Stream 1 was reconfigured in place: its new loop ticks immediately.
	waitForFetches(t, first, 2)
	status, err := manager.Status(1)
	require.NoError(t, err)
	assert.Equal(t, 30, status.PollIntervalSeconds)

	// Stream 3 started, stream 2 is gone and so is its connection.
	waitForFetches(t, third, 1)
	_, err = manager.Status(2)
	require.Error(t, err)
	assert.Nil(t, deps.Service.Get(2))
	assert.Equal(t, []int{1}, deps.Service.ServerIDs())

	// Server 1 was untouched, the connection survived the reload.
	assert.Same(t, connA, deps.Service.Get(1))
}

func TestManagerReloadRebindsChangedServerDefinition(t *testing.T) {
	config.Mock()
	provider := registerFakeProvider(t)
	provider.setLocations(locationBatch(1))

	intakeA := mock.NewIntake(t)
	defer intakeA.Close()
	intakeB := mock.NewIntake(t)
	defer intakeB.Close()

	v1 := &config.Snapshot{
		Servers: []*config.TakServerConfig{intakeServer(t, 1, intakeA, 10)},
		Streams: []*config.StreamConfig{fakeStreamConfig(1, provider.kind, 1)},
	}

	deps := testDeps(clock.NewMock())
	defer deps.Service.CloseAll(time.Second)

	manager := NewManager(deps)
	defer manager.StopAll(time.Second)
	require.NoError(t, manager.LoadAll(v1))
	require.NotEmpty(t, intakeA.WaitForFrames(1, 5*time.Second))
	connA := deps.Service.Get(1)

	// Same server id, new address. The stream configuration is unchanged but
	// its connection must be rebuilt against the new definition.
	v2 := &config.Snapshot{
		Servers: []*config.TakServerConfig{intakeServer(t, 1, intakeB, 10)},
		Streams: []*config.StreamConfig{fakeStreamConfig(1, provider.kind, 1)},
	}
	require.NoError(t, manager.Reload(v2))

	require.NotSame(t, connA, deps.Service.Get(1))
	frames := intakeB.WaitForFrames(1, 5*time.Second)
	require.NotEmpty(t, frames)
	assert.Contains(t, string(frames[0]), `uid="trk-001"`)
}
