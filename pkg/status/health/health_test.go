// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndPing(t *testing.T) {
	defer reset()

	token := Register("stream-alpha")
	require.Equal(t, ID("stream-alpha"), token)

	// Components start out unhealthy until they ping
	status := GetStatus()
	assert.Equal(t, []string{"stream-alpha"}, status.Unhealthy)
	assert.False(t, status.Ok())

	require.NoError(t, Ping(token))
	status = GetStatus()
	assert.Equal(t, []string{"stream-alpha"}, status.Healthy)
	assert.Empty(t, status.Unhealthy)
	assert.True(t, status.Ok())
}

func TestStalePingGoesUnhealthy(t *testing.T) {
	defer reset()

	token := RegisterWithCustomTimeout("tak-charlie", 10*time.Second)
	require.NoError(t, registerPing(token, time.Now().Add(-11*time.Second)))

	status := GetStatus()
	assert.Equal(t, []string{"tak-charlie"}, status.Unhealthy)
}

func TestDuplicateNamesGetSuffixed(t *testing.T) {
	defer reset()

	first := Register("stream-alpha")
	second := Register("stream-alpha")
	assert.Equal(t, ID("stream-alpha"), first)
	assert.Equal(t, ID("stream-alpha-2"), second)

	require.NoError(t, Ping(first))
	require.NoError(t, Ping(second))
	status := GetStatus()
	assert.Equal(t, []string{"stream-alpha", "stream-alpha"}, status.Healthy)
}

func TestDeregister(t *testing.T) {
	defer reset()

	token := Register("stream-alpha")
	require.NoError(t, Deregister(token))
	assert.Error(t, Ping(token))
	assert.Error(t, Deregister(token))

	status := GetStatus()
	assert.Empty(t, status.Healthy)
	assert.Empty(t, status.Unhealthy)
	assert.True(t, status.Ok())
}
