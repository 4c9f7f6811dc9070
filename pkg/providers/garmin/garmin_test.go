// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package garmin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/providers"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Folder>
      <name>Demo Share</name>
      <Placemark>
        <name>inReach Mini</name>
        <TimeStamp><when>2025-01-15T10:28:31Z</when></TimeStamp>
        <ExtendedData>
          <Data name="Id"><value>12345</value></Data>
          <Data name="Map Display Name"><value>Sierra One</value></Data>
          <Data name="IMEI"><value>300434060123450</value></Data>
          <Data name="Device Type"><value>inReach Mini</value></Data>
          <Data name="Velocity"><value>7.2 km/h</value></Data>
          <Data name="Course"><value>315.00 ° True</value></Data>
          <Data name="In Emergency"><value>False</value></Data>
        </ExtendedData>
        <Point><coordinates>37.250000,48.500000,155.0</coordinates></Point>
      </Placemark>
      <Placemark>
        <name>inReach Mini track</name>
        <LineString><coordinates>37.25,48.5 37.26,48.51</coordinates></LineString>
      </Placemark>
    </Folder>
  </Document>
</kml>`

func TestParseFeed(t *testing.T) {
	locs, err := parseFeed([]byte(sampleKML))
	require.NoError(t, err)
	require.Len(t, locs, 1, "line placemarks are skipped")

	loc := locs[0]
	assert.Equal(t, "300434060123450", loc.UID)
	assert.Equal(t, "Sierra One", loc.Name)
	assert.Equal(t, 48.5, loc.Lat)
	assert.Equal(t, 37.25, loc.Lon)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 28, 31, 0, time.UTC), loc.Timestamp)
	require.NotNil(t, loc.Speed)
	assert.InDelta(t, 2.0, *loc.Speed, 0.001, "7.2 km/h is 2 m/s")
	require.NotNil(t, loc.Course)
	assert.Equal(t, 315.0, *loc.Course)
	assert.Equal(t, "inReach Mini", loc.AdditionalData["device_type"])
	assert.Nil(t, loc.AdditionalData["in_emergency"])
	assert.NoError(t, loc.Validate())
}

func TestParseFeedMalformed(t *testing.T) {
	_, err := parseFeed([]byte("this is not xml <"))
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
}

func TestParseFeedEmptyDocument(t *testing.T) {
	locs, err := parseFeed([]byte(`<kml><Document></Document></kml>`))
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestFetch(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(sampleKML))
	}))
	defer server.Close()

	p := &Provider{}
	locs, err := p.Fetch(context.Background(), server.Client(), providers.Config{
		"url":      server.URL,
		"username": "share",
		"password": "s3cret",
	})
	require.NoError(t, err)
	assert.Len(t, locs, 1)
	assert.NotEmpty(t, gotAuth, "password-protected shares use basic auth")
}

func TestFetchAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := &Provider{}
	_, err := p.Fetch(context.Background(), server.Client(), providers.Config{"url": server.URL})
	require.Error(t, err)
	assert.True(t, providers.IsAuth(err))
}

func TestFetchMissingURL(t *testing.T) {
	p := &Provider{}
	_, err := p.Fetch(context.Background(), http.DefaultClient, providers.Config{})
	require.Error(t, err)
	assert.True(t, providers.IsFatal(err))
}
