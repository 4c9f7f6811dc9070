// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/streams"
	"github.com/emfoursolutions/trakbridge/pkg/tak"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client/mock"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
)

type staticProvider struct {
	kind    string
	fetches *atomic.Int64
}

func (p *staticProvider) Metadata() providers.Metadata {
	return providers.Metadata{Kind: p.kind, DisplayName: "Static"}
}

func (p *staticProvider) Fetch(context.Context, *http.Client, providers.Config) ([]*tracker.Location, error) {
	p.fetches.Inc()
	return []*tracker.Location{{
		UID:       "trk-001",
		Name:      "Tracker 001",
		Lat:       42.0,
		Lon:       13.5,
		Timestamp: time.Date(2023, 4, 12, 10, 30, 0, 0, time.UTC),
	}}, nil
}

var staticProviderCounter = atomic.NewInt64(0)

// testServer starts the API on an ephemeral port with one running stream and
// one TAK server behind it.
func testServer(t *testing.T) (*Server, *staticProvider, string) {
	config.Mock()
	config.Bridge.Set("api.port", 0)

	provider := &staticProvider{
		kind:    fmt.Sprintf("static-%d", staticProviderCounter.Inc()),
		fetches: atomic.NewInt64(0),
	}
	providers.Register(provider.kind, func() providers.Provider { return provider })

	intake := mock.NewIntake(t)
	t.Cleanup(intake.Close)
	host, port := intake.HostPort()

	service := tak.NewCoTService()
	t.Cleanup(func() { service.CloseAll(time.Second) })

	clk := clock.NewMock()
	manager := streams.NewManager(streams.Deps{
		Clock:      clk,
		HTTPClient: providers.NewHTTPClient(),
		Governor:   streams.NewGovernor(clk),
		Service:    service,
	})
	t.Cleanup(func() { manager.StopAll(time.Second) })

	snapshot := &config.Snapshot{
		Servers: []*config.TakServerConfig{{
			ID:             1,
			Name:           "tak-1",
			Host:           host,
			Port:           port,
			Protocol:       config.ProtocolTCP,
			QueueCapacity:  10,
			OverflowPolicy: config.OverflowDropOldest,
		}},
		Streams: []*config.StreamConfig{{
			ID:                    1,
			Name:                  "stream-1",
			ProviderKind:          provider.kind,
			PollIntervalSeconds:   60,
			CotTypeDefault:        "a-f-G-U-C",
			CotStaleSeconds:       300,
			CotTypeMode:           config.CotTypeModeStream,
			CallsignErrorHandling: config.CallsignPassThrough,
			AttachedServerIDs:     []int{1},
		}},
	}
	require.NoError(t, manager.LoadAll(snapshot))

	server, err := NewServer(manager, service)
	require.NoError(t, err)
	server.Start()
	t.Cleanup(server.Stop)

	return server, provider, fmt.Sprintf("http://%v", server.Address())
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestVersionEndpoint(t *testing.T) {
	_, _, base := testServer(t)

	code, body := get(t, base+"/version")
	assert.Equal(t, http.StatusOK, code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.NotEmpty(t, payload["version"])
}

func TestStreamEndpoints(t *testing.T) {
	_, _, base := testServer(t)

	code, body := get(t, base+"/streams")
	require.Equal(t, http.StatusOK, code)
	var statuses []streams.Status
	require.NoError(t, json.Unmarshal(body, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, statuses[0].StreamID)

	code, body = get(t, base+"/streams/1")
	require.Equal(t, http.StatusOK, code)
	var status streams.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "stream-1", status.Name)
	assert.Equal(t, []int{1}, status.AttachedServers)

	code, _ = get(t, base+"/streams/99")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, base+"/streams/zorp")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTriggerEndpoint(t *testing.T) {
	_, provider, base := testServer(t)

	// The first tick runs on load.
	require.Eventually(t, func() bool {
		return provider.fetches.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Post(base+"/streams/1/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return provider.fetches.Load() == 2
	}, 5*time.Second, 5*time.Millisecond)

	resp, err = http.Post(base+"/streams/99/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerEndpoints(t *testing.T) {
	_, _, base := testServer(t)

	code, body := get(t, base+"/servers")
	require.Equal(t, http.StatusOK, code)
	var servers map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &servers))
	require.Contains(t, servers, "1")

	code, body = get(t, base+"/servers/1")
	require.Equal(t, http.StatusOK, code)
	var one map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Contains(t, one, "state")

	code, _ = get(t, base+"/servers/99")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusEndpoint(t *testing.T) {
	_, _, base := testServer(t)

	code, body := get(t, base+"/status")
	require.Equal(t, http.StatusOK, code)

	var payload struct {
		Version string           `json:"version"`
		Streams []streams.Status `json:"streams"`
		Health  struct {
			Healthy []string `json:"healthy"`
		} `json:"health"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.NotEmpty(t, payload.Version)
	require.Len(t, payload.Streams, 1)

	// Components register unhealthy and flip on their first ping, which
	// happens on the worker and writer goroutines shortly after load.
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil || json.Unmarshal(body, &payload) != nil {
			return false
		}
		return len(payload.Health.Healthy) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, base := testServer(t)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	_, body := get(t, base+"/health")
	assert.Contains(t, string(body), "healthy")
}

func TestExpvarEndpoint(t *testing.T) {
	_, _, base := testServer(t)

	code, body := get(t, base+"/debug/vars")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"trakbridge"`)
}
