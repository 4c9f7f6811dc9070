// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tracker defines the Location model produced by providers, mutated
// by callsign mapping and consumed by the CoT encoder.
package tracker

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Reserved additional_data keys understood by the encoder.
const (
	KeyBatteryState      = "battery_state"
	KeyTeamMemberEnabled = "team_member_enabled"
	KeyTeamRole          = "team_role"
	KeyTeamColor         = "team_color"
	KeyCotType           = "cot_type"

	// KeyCotTypeOverride is attached by the callsign mapper and takes
	// precedence over the provider-supplied cot_type in per_point mode.
	KeyCotTypeOverride = "cot_type_override"
)

// Location is one tracker position report. Providers construct them, the
// callsign mapper is the only mutator, and they are discarded after encoding.
type Location struct {
	UID  string
	Name string
	Lat  float64
	Lon  float64

	// Timestamp is the provider-side fix time in UTC. The zero value means
	// unknown and encodes as the current time.
	Timestamp time.Time

	// Speed is in m/s, Course in degrees within [0, 360). Nil means absent.
	Speed  *float64
	Course *float64

	// AdditionalData carries free-form provider values plus the reserved keys.
	AdditionalData map[string]interface{}

	// CustomCotAttributes optionally extends the encoded XML, keyed by
	// "event" and "detail".
	CustomCotAttributes map[string]interface{}
}

// Validate checks the Location invariants. Callers skip and log invalid
// locations instead of aborting the batch they arrived in.
func (l *Location) Validate() error {
	if l.UID == "" {
		return NewValidationError("", "uid is empty")
	}
	if l.Name == "" {
		return NewValidationError(l.UID, "name is empty")
	}
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || l.Lat < -90 || l.Lat > 90 {
		return NewValidationError(l.UID, fmt.Sprintf("lat %v out of [-90, 90]", l.Lat))
	}
	if math.IsNaN(l.Lon) || math.IsInf(l.Lon, 0) || l.Lon < -180 || l.Lon > 180 {
		return NewValidationError(l.UID, fmt.Sprintf("lon %v out of [-180, 180]", l.Lon))
	}
	if l.Speed != nil && (math.IsNaN(*l.Speed) || math.IsInf(*l.Speed, 0) || *l.Speed < 0) {
		return NewValidationError(l.UID, fmt.Sprintf("speed %v must be >= 0", *l.Speed))
	}
	if l.Course != nil && (math.IsNaN(*l.Course) || *l.Course < 0 || *l.Course >= 360) {
		return NewValidationError(l.UID, fmt.Sprintf("course %v out of [0, 360)", *l.Course))
	}
	return nil
}

// SetAdditional stores one additional_data value, allocating the map lazily.
func (l *Location) SetAdditional(key string, value interface{}) {
	if l.AdditionalData == nil {
		l.AdditionalData = make(map[string]interface{})
	}
	l.AdditionalData[key] = value
}

// Identifier returns the value of the callsign identifier field: "uid",
// "name", or any additional_data key.
func (l *Location) Identifier(field string) string {
	switch field {
	case "uid":
		return l.UID
	case "name":
		return l.Name
	default:
		if v, found := l.AdditionalData[field]; found {
			return stringify(v)
		}
		return ""
	}
}

// CotType returns the provider-supplied CoT type, if any.
func (l *Location) CotType() (string, bool) {
	v, found := l.AdditionalData[KeyCotType]
	if !found {
		return "", false
	}
	s := stringify(v)
	return s, s != ""
}

// CotTypeOverride returns the mapper-attached CoT type override, empty when
// absent.
func (l *Location) CotTypeOverride() string {
	if v, found := l.AdditionalData[KeyCotTypeOverride]; found {
		return stringify(v)
	}
	return ""
}

// BatteryState returns the battery percentage, if present and integral.
// Providers hand over ints, JSON decoding hands over float64s, both count.
func (l *Location) BatteryState() (int, bool) {
	v, found := l.AdditionalData[KeyBatteryState]
	if !found {
		return 0, false
	}
	return intify(v)
}

// TeamMemberEnabled reports whether the location takes the team-member branch.
func (l *Location) TeamMemberEnabled() bool {
	v, found := l.AdditionalData[KeyTeamMemberEnabled]
	if !found {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	default:
		return false
	}
}

// TeamRole returns the team role string, empty when absent.
func (l *Location) TeamRole() string {
	if v, found := l.AdditionalData[KeyTeamRole]; found {
		return stringify(v)
	}
	return ""
}

// TeamColor returns the team color string, empty when absent.
func (l *Location) TeamColor() string {
	if v, found := l.AdditionalData[KeyTeamColor]; found {
		return stringify(v)
	}
	return ""
}

// NormalizeCourse maps any finite degree value into [0, 360).
func NormalizeCourse(degrees float64) float64 {
	c := math.Mod(degrees, 360)
	if c < 0 {
		c += 360
	}
	return c
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func intify(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
