// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package spot

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

const sampleFeed = `{
  "response": {
    "feedMessageResponse": {
      "count": 2,
      "messages": {
        "message": [
          {
            "id": 1001,
            "messengerId": "0-1234567",
            "messengerName": "Spot Alpha",
            "unixTime": 1736936911,
            "messageType": "TRACK",
            "latitude": 48.5,
            "longitude": 37.25,
            "batteryState": "GOOD"
          },
          {
            "id": 1002,
            "messengerId": "0-7654321",
            "messengerName": "Spot Bravo",
            "unixTime": 1736936921,
            "messageType": "OK",
            "latitude": -33.86,
            "longitude": 151.2,
            "batteryState": "LOW"
          }
        ]
      }
    }
  }
}`

const singleMessageFeed = `{
  "response": {
    "feedMessageResponse": {
      "count": 1,
      "messages": {
        "message": {
          "id": 1001,
          "messengerId": "0-1234567",
          "messengerName": "Spot Alpha",
          "unixTime": 1736936911,
          "messageType": "TRACK",
          "latitude": 48.5,
          "longitude": 37.25
        }
      }
    }
  }
}`

const emptyFeed = `{
  "response": {
    "errors": {
      "error": {
        "code": "E-0195",
        "text": "No displayable messages found",
        "description": "No displayable messages found"
      }
    }
  }
}`

func TestParseFeed(t *testing.T) {
	locs, err := parseFeed([]byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, locs, 2)

	alpha := locs[0]
	assert.Equal(t, "0-1234567", alpha.UID)
	assert.Equal(t, "Spot Alpha", alpha.Name)
	assert.Equal(t, 48.5, alpha.Lat)
	assert.Equal(t, 37.25, alpha.Lon)
	assert.Equal(t, time.Unix(1736936911, 0).UTC(), alpha.Timestamp)
	assert.Equal(t, "GOOD", alpha.AdditionalData["spot_battery_state"])
	assert.Equal(t, "TRACK", alpha.AdditionalData["message_type"])
	assert.NoError(t, alpha.Validate())

	assert.Equal(t, "Spot Bravo", locs[1].Name)
}

func TestParseFeedSingleMessageObject(t *testing.T) {
	locs, err := parseFeed([]byte(singleMessageFeed))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "0-1234567", locs[0].UID)
}

func TestParseFeedNoMessages(t *testing.T) {
	locs, err := parseFeed([]byte(emptyFeed))
	require.NoError(t, err, "E-0195 means an empty feed, not a failure")
	assert.Empty(t, locs)
}

func TestParseFeedAPIError(t *testing.T) {
	body := `{"response":{"errors":{"error":{"code":"E-0160","text":"Feed temporarily unavailable"}}}}`
	_, err := parseFeed([]byte(body))
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
	assert.Contains(t, err.Error(), "E-0160")
}

func TestParseFeedMalformed(t *testing.T) {
	_, err := parseFeed([]byte("{nope"))
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
}

func TestFetchBuildsFeedURL(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	p := &Provider{}
	locs, err := p.Fetch(context.Background(), server.Client(), providers.Config{
		"url":           server.URL + "/feed/demo/message.json",
		"feed_password": "p%w$d",
	})
	require.NoError(t, err)
	assert.Len(t, locs, 2)
	assert.Equal(t, "/feed/demo/message.json", gotPath)
	assert.Equal(t, "feedPassword=p%25w%24d", gotQuery, "password travels URL-encoded, never interpolated")
}

func TestFetchRequiresFeedID(t *testing.T) {
	p := &Provider{}
	_, err := p.Fetch(context.Background(), http.DefaultClient, providers.Config{})
	require.Error(t, err)
	assert.True(t, providers.IsFatal(err))
}
