// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tak

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client/mock"
)

func intakeServerConfig(t *testing.T, id int, intake *mock.Intake) *config.TakServerConfig {
	host, port := intake.HostPort()
	return &config.TakServerConfig{
		ID:            id,
		Name:          "server",
		Host:          host,
		Port:          port,
		Protocol:      config.ProtocolTCP,
		QueueCapacity: 10,
	}
}

func TestGetOrCreateReturnsSingleInstance(t *testing.T) {
	intake := mock.NewIntake(t)
	defer intake.Close()

	service := NewCoTService()
	defer service.CloseAll(time.Second)

	cfg := intakeServerConfig(t, 1, intake)
	first, err := service.GetOrCreate(cfg)
	require.NoError(t, err)
	second, err := service.GetOrCreate(cfg)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, service.Get(1))
	assert.Equal(t, []int{1}, service.ServerIDs())
}

func TestGetOrCreateDetectsConfigConflict(t *testing.T) {
	intake := mock.NewIntake(t)
	defer intake.Close()

	service := NewCoTService()
	defer service.CloseAll(time.Second)

	cfg := intakeServerConfig(t, 1, intake)
	_, err := service.GetOrCreate(cfg)
	require.NoError(t, err)

	conflicting := *cfg
	conflicting.Host = "other.example.org"
	_, err = service.GetOrCreate(&conflicting)
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
}

func TestGetMissingReturnsNil(t *testing.T) {
	service := NewCoTService()
	assert.Nil(t, service.Get(42))
}

func TestCloseRemovesConnection(t *testing.T) {
	intake := mock.NewIntake(t)
	defer intake.Close()

	service := NewCoTService()
	cfg := intakeServerConfig(t, 1, intake)
	_, err := service.GetOrCreate(cfg)
	require.NoError(t, err)

	require.NoError(t, service.Close(1, time.Second))
	assert.Nil(t, service.Get(1))
	assert.Error(t, service.Close(1, time.Second))
}

func TestCloseAllDrainsEveryConnection(t *testing.T) {
	first := mock.NewIntake(t)
	defer first.Close()
	second := mock.NewIntake(t)
	defer second.Close()

	service := NewCoTService()
	firstConn, err := service.GetOrCreate(intakeServerConfig(t, 1, first))
	require.NoError(t, err)
	secondConn, err := service.GetOrCreate(intakeServerConfig(t, 2, second))
	require.NoError(t, err)

	frame := []byte("<event uid=\"trk-001\"/>\x00")
	firstConn.Enqueue(frame)
	secondConn.Enqueue(frame)

	require.NoError(t, service.CloseAll(5*time.Second))
	assert.Empty(t, service.ServerIDs())
	assert.Len(t, first.WaitForFrames(1, 2*time.Second), 1)
	assert.Len(t, second.WaitForFrames(1, 2*time.Second), 1)
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	intake := mock.NewIntake(t)
	defer intake.Close()

	service := NewCoTService()
	defer service.CloseAll(time.Second)

	cfg := intakeServerConfig(t, 1, intake)
	wg := sync.WaitGroup{}
	conns := make([]interface{}, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := service.GetOrCreate(cfg)
			assert.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(conns); i++ {
		assert.Same(t, conns[0], conns[i])
	}
}
