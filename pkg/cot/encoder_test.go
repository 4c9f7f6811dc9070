// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package cot

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
)

func float(v float64) *float64 {
	return &v
}

func testClock(t *testing.T) *clock.Mock {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC))
	return mock
}

func testStreamConfig() *config.StreamConfig {
	return &config.StreamConfig{
		ID:              7,
		Name:            "field-team",
		CotTypeDefault:  "a-f-G-U-C",
		CotStaleSeconds: 300,
		CotTypeMode:     config.CotTypeModeStream,
	}
}

// frame strips the null terminator so string assertions stay readable.
func frame(t *testing.T, raw []byte) string {
	t.Helper()
	require.True(t, len(raw) > 0 && raw[len(raw)-1] == 0x00, "frame must be null-terminated")
	require.Equal(t, 1, bytes.Count(raw, []byte{0x00}), "exactly one null byte per frame")
	return string(raw[:len(raw)-1])
}

func TestEncodeTeamMember(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{
		UID: "u-1", Name: "ALPHA", Lat: 48.5, Lon: 37.25,
		Speed: float(4.2), Course: float(315),
	}
	loc.SetAdditional(tracker.KeyTeamMemberEnabled, true)
	loc.SetAdditional(tracker.KeyTeamRole, "Medic")
	loc.SetAdditional(tracker.KeyTeamColor, "Red")
	loc.SetAdditional(tracker.KeyBatteryState, 87)

	raw, err := enc.Encode(loc, testStreamConfig(), "ignored-for-team")
	require.NoError(t, err)

	expected := `<event version="2.0" uid="u-1" type="a-f-G-U-C" how="h-e"` +
		` time="2025-01-15T10:30:00.000Z" start="2025-01-15T10:30:00.000Z" stale="2025-01-15T10:35:00.000Z">` +
		`<point lat="48.5" lon="37.25" hae="9999999.0" ce="9999999.0" le="9999999.0"/>` +
		`<detail>` +
		`<contact callsign="ALPHA" endpoint="*:-1:stcp"/>` +
		`<uid Droid="ALPHA"/>` +
		`<__group name="Red" role="Medic"/>` +
		`<status battery="87"/>` +
		`<track speed="4.2" course="315.0"/>` +
		`</detail></event>`
	assert.Equal(t, expected, frame(t, raw))
}

func TestEncodeStandard(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{
		UID: "u-2", Name: "Bravo", Lat: 9.055, Lon: -0.25,
		Speed: float(4.2), Course: float(315),
	}
	loc.SetAdditional(tracker.KeyBatteryState, 55)

	raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-E-V-C")
	require.NoError(t, err)
	got := frame(t, raw)

	assert.Contains(t, got, `type="a-f-G-E-V-C"`)
	assert.Contains(t, got, `how="m-g"`)
	assert.Contains(t, got, `lat="9.055"`)
	assert.Contains(t, got, `lon="-0.25"`)
	assert.Contains(t, got, `<contact callsign="Bravo"/>`)
	assert.Contains(t, got, `<remarks>Speed: 4.2 m/s, Course: 315.0 deg</remarks>`)
	assert.Contains(t, got, `<precisionlocation altsrc="GPS"/>`)
	assert.Contains(t, got, `<status battery="55"/>`)
	// track is a team-member element, speed/course stay in remarks here
	assert.NotContains(t, got, "<track")
	assert.NotContains(t, got, "endpoint=")
}

func TestEncodeWithoutOptionalFields(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{UID: "u-3", Name: "Charlie", Lat: 0, Lon: 0}

	raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	got := frame(t, raw)

	assert.Contains(t, got, `lat="0.0"`)
	assert.Contains(t, got, `lon="0.0"`)
	assert.Contains(t, got, `<remarks/>`)
	assert.NotContains(t, got, "<status")
}

func TestEncodeEscapesValues(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{UID: `u<&4`, Name: `B"r&vo <6>`, Lat: 1, Lon: 2}

	raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	got := frame(t, raw)

	assert.Contains(t, got, `uid="u&lt;&amp;4"`)
	assert.Contains(t, got, `callsign="B&#34;r&amp;vo &lt;6&gt;"`)
	assert.NotContains(t, got, `"B"r`)
}

func TestEncodeDeterministic(t *testing.T) {
	loc := &tracker.Location{UID: "u-5", Name: "Delta", Lat: 48.2, Lon: 37.9}
	loc.CustomCotAttributes = map[string]interface{}{
		"detail": map[string]interface{}{
			"takv": map[string]interface{}{
				"_attributes": map[string]interface{}{"platform": "TrakBridge", "version": "1.0"},
			},
			"zulu":  "text",
			"alpha": nil,
		},
	}

	first, err := NewEncoder(testClock(t)).Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	second, err := NewEncoder(testClock(t)).Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	assert.Equal(t, first, second, "same input and clock must yield identical bytes")

	// custom children are sorted by name
	got := frame(t, first)
	assert.Contains(t, got, `<alpha/><takv platform="TrakBridge" version="1.0"/><zulu>text</zulu>`)
}

func TestEncodeDropsProtectedNames(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{UID: "u-6", Name: "Echo", Lat: 1, Lon: 1}
	loc.CustomCotAttributes = map[string]interface{}{
		"event": map[string]interface{}{
			"_attributes": map[string]interface{}{
				"uid":    "spoofed",
				"stale":  "never",
				"opex":   "e",
				"bad nm": "x",
			},
		},
		"detail": map[string]interface{}{
			"contact": map[string]interface{}{
				"_attributes": map[string]interface{}{"callsign": "spoofed"},
			},
			"__group":     map[string]interface{}{},
			"marti":       map[string]interface{}{"_text": "ok"},
			"with entity": "dropped",
		},
	}

	raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	got := frame(t, raw)

	assert.Contains(t, got, `uid="u-6"`, "real uid survives")
	assert.NotContains(t, got, "spoofed")
	assert.NotContains(t, got, `stale="never"`)
	assert.Contains(t, got, `opex="e"`, "unprotected custom event attribute passes")
	assert.NotContains(t, got, "bad nm")
	assert.Contains(t, got, `<marti>ok</marti>`)
	assert.NotContains(t, got, "with entity")
	// exactly the one real contact element, and no smuggled __group
	assert.Equal(t, 1, bytes.Count(raw, []byte("<contact")))
	assert.Equal(t, 0, bytes.Count(raw, []byte("<__group")))
}

func TestEncodeNeverEmitsMarkupFromValues(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{UID: "u-7", Name: "Foxtrot", Lat: 1, Lon: 1}
	loc.CustomCotAttributes = map[string]interface{}{
		"detail": map[string]interface{}{
			"note": "<!DOCTYPE foo><?pi?>&entity;",
		},
	}

	raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	got := frame(t, raw)

	assert.NotContains(t, got, "<!DOCTYPE")
	assert.NotContains(t, got, "<?pi")
	assert.NotContains(t, got, "&entity;")
	assert.Contains(t, got, "&lt;!DOCTYPE foo&gt;&lt;?pi?&gt;&amp;entity;")
}

func TestEncodeTeamFallbacks(t *testing.T) {
	enc := NewEncoder(testClock(t))
	loc := &tracker.Location{UID: "u-8", Name: "Golf", Lat: 1, Lon: 1}
	loc.SetAdditional(tracker.KeyTeamMemberEnabled, true)
	loc.SetAdditional(tracker.KeyTeamRole, "Ninja")
	loc.SetAdditional(tracker.KeyTeamColor, "Chartreuse")

	raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-U-C")
	require.NoError(t, err)
	assert.Contains(t, frame(t, raw), `<__group name="Cyan" role="Team Member"/>`)
}

func TestEncodeBatterySanity(t *testing.T) {
	enc := NewEncoder(testClock(t))
	for _, battery := range []interface{}{-1, 101, "charged", 55.5} {
		loc := &tracker.Location{UID: "u-9", Name: "Hotel", Lat: 1, Lon: 1}
		loc.SetAdditional(tracker.KeyBatteryState, battery)
		raw, err := enc.Encode(loc, testStreamConfig(), "a-f-G-U-C")
		require.NoError(t, err)
		assert.NotContains(t, frame(t, raw), "<status", "battery %v must be omitted", battery)
	}
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	enc := NewEncoder(testClock(t))

	_, err := enc.Encode(&tracker.Location{UID: "", Name: "x", Lat: 1, Lon: 1}, testStreamConfig(), "a-f-G-U-C")
	require.Error(t, err)
	assert.True(t, tracker.IsValidationError(err))

	_, err = enc.Encode(&tracker.Location{UID: "u", Name: "x", Lat: 95, Lon: 1}, testStreamConfig(), "a-f-G-U-C")
	require.Error(t, err)
	assert.True(t, tracker.IsValidationError(err))

	_, err = enc.Encode(&tracker.Location{UID: "u", Name: "x", Lat: 1, Lon: 1}, testStreamConfig(), `a-f" onload="x`)
	require.Error(t, err)
	assert.True(t, tracker.IsValidationError(err))
}

func TestResolveType(t *testing.T) {
	base := testStreamConfig()

	plain := &tracker.Location{UID: "u", Name: "n", Lat: 1, Lon: 1}
	assert.Equal(t, "a-f-G-U-C", ResolveType(plain, base))

	// stream mode ignores provider-supplied and mapping types
	provided := &tracker.Location{UID: "u", Name: "n", Lat: 1, Lon: 1}
	provided.SetAdditional(tracker.KeyCotType, "a-n-G")
	provided.SetAdditional(tracker.KeyCotTypeOverride, "a-h-G")
	assert.Equal(t, "a-f-G-U-C", ResolveType(provided, base))

	perPoint := testStreamConfig()
	perPoint.CotTypeMode = config.CotTypeModePerPoint
	assert.Equal(t, "a-h-G", ResolveType(provided, perPoint), "mapping override wins in per_point mode")

	noOverride := &tracker.Location{UID: "u", Name: "n", Lat: 1, Lon: 1}
	noOverride.SetAdditional(tracker.KeyCotType, "a-n-G")
	assert.Equal(t, "a-n-G", ResolveType(noOverride, perPoint), "provider type is next")

	bare := &tracker.Location{UID: "u", Name: "n", Lat: 1, Lon: 1}
	assert.Equal(t, "a-f-G-U-C", ResolveType(bare, perPoint), "stream default is last")

	team := &tracker.Location{UID: "u", Name: "n", Lat: 1, Lon: 1}
	team.SetAdditional(tracker.KeyTeamMemberEnabled, true)
	team.SetAdditional(tracker.KeyCotTypeOverride, "a-h-G")
	assert.Equal(t, TeamMemberType, ResolveType(team, perPoint), "team member overrides all")
}

func TestStaleHorizon(t *testing.T) {
	mock := testClock(t)
	enc := NewEncoder(mock)
	cfg := testStreamConfig()
	cfg.CotStaleSeconds = 1

	raw, err := enc.Encode(&tracker.Location{UID: "u", Name: "n", Lat: 1, Lon: 1}, cfg, "a-f-G-U-C")
	require.NoError(t, err)
	got := frame(t, raw)
	assert.Contains(t, got, `time="2025-01-15T10:30:00.000Z" start="2025-01-15T10:30:00.000Z" stale="2025-01-15T10:30:01.000Z"`)
}
