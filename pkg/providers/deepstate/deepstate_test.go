// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package deepstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/providers"
)

const sampleSnapshot = `{
  "id": 17369,
  "createdAt": "2025-01-15T10:20:00Z",
  "map": {
    "type": "FeatureCollection",
    "features": [
      {
        "id": "unit-991",
        "geometry": {"type": "Point", "coordinates": [37.25, 48.5, 0]},
        "properties": {"name": "Мотострілецький полк /// Motor rifle regiment"}
      },
      {
        "geometry": {"type": "Polygon", "coordinates": [[[1,1],[2,2],[3,3],[1,1]]]},
        "properties": {"name": "Occupied area"}
      },
      {
        "geometry": {"type": "Point", "coordinates": [30.1, 50.2]},
        "properties": {"name": "Артилерія"}
      }
    ]
  }
}`

func TestParseSnapshot(t *testing.T) {
	locs, err := parseSnapshot([]byte(sampleSnapshot))
	require.NoError(t, err)
	require.Len(t, locs, 2, "polygons are skipped")

	regiment := locs[0]
	assert.Equal(t, "deepstate-unit-991", regiment.UID)
	assert.Equal(t, "Мотострілецький полк", regiment.Name, "first language segment wins")
	assert.Equal(t, 48.5, regiment.Lat)
	assert.Equal(t, 37.25, regiment.Lon)
	assert.False(t, regiment.Timestamp.IsZero())
	cotType, found := regiment.CotType()
	require.True(t, found)
	assert.Equal(t, "a-h-G", cotType)
	assert.NoError(t, regiment.Validate())

	artillery := locs[1]
	assert.Contains(t, artillery.UID, "deepstate-", "features without an id hash their label")
	assert.Equal(t, "Артилерія", artillery.Name)
}

func TestParseSnapshotStableUIDs(t *testing.T) {
	first, err := parseSnapshot([]byte(sampleSnapshot))
	require.NoError(t, err)
	second, err := parseSnapshot([]byte(sampleSnapshot))
	require.NoError(t, err)
	assert.Equal(t, first[1].UID, second[1].UID, "hashed uids must be stable across polls")
}

func TestParseSnapshotMalformed(t *testing.T) {
	_, err := parseSnapshot([]byte("<html>503</html>"))
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
}

func TestFetchDefaultURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleSnapshot))
	}))
	defer server.Close()

	p := &Provider{}
	locs, err := p.Fetch(context.Background(), server.Client(), providers.Config{"url": server.URL})
	require.NoError(t, err)
	assert.Len(t, locs, 2)
	for _, loc := range locs {
		assert.NoError(t, loc.Validate())
	}
}
