// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package cot encodes tracker locations into Cursor-on-Target XML events,
// null-terminated for the CoT TCP framing convention.
package cot

import (
	"fmt"
	"strconv"

	"github.com/benbjohnson/clock"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Encoder turns Locations into CoT event frames. It is pure, does no I/O and
// is safe for parallel invocation. The clock is injected so tests can pin it.
type Encoder struct {
	clock clock.Clock
}

// NewEncoder returns an encoder reading time from the given clock.
func NewEncoder(clk clock.Clock) *Encoder {
	return &Encoder{clock: clk}
}

// ResolveType implements the CoT type resolution order. The team-member
// branch overrides everything; in stream mode the stream default always wins;
// in per_point mode a mapping override beats the provider-supplied type,
// which beats the stream default.
func ResolveType(loc *tracker.Location, cfg *config.StreamConfig) string {
	if loc.TeamMemberEnabled() {
		return TeamMemberType
	}
	if cfg.CotTypeMode == config.CotTypeModeStream {
		return cfg.CotTypeDefault
	}
	if override := loc.CotTypeOverride(); override != "" {
		return override
	}
	if provided, found := loc.CotType(); found {
		return provided
	}
	return cfg.CotTypeDefault
}

// Encode renders one location as a null-terminated UTF-8 XML event. Invalid
// locations and invalid CoT type strings return a tracker.ValidationError;
// callers skip the item and keep the batch going.
func (e *Encoder) Encode(loc *tracker.Location, cfg *config.StreamConfig, effectiveType string) ([]byte, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	team := loc.TeamMemberEnabled()
	eventType := effectiveType
	how := StandardHow
	if team {
		eventType = TeamMemberType
		how = TeamMemberHow
	}
	if !validCotType(eventType) {
		return nil, tracker.NewValidationError(loc.UID, fmt.Sprintf("invalid CoT type %q", eventType))
	}

	now := e.clock.Now().UTC()
	timeStr := formatTime(now)
	staleStr := formatTime(now.Add(cfg.CotStale()))

	var eventCustom, detailCustom *customNode
	if raw, found := loc.CustomCotAttributes["event"]; found {
		eventCustom = parseCustomNode(loc.UID, "event", raw, protectedEventAttrs, nil)
	}
	if raw, found := loc.CustomCotAttributes["detail"]; found {
		detailCustom = parseCustomNode(loc.UID, "detail", raw, nil, protectedDetailChildren)
	}

	b := &xmlBuilder{}
	eventAttrs := []xmlAttr{
		{"version", "2.0"},
		{"uid", loc.UID},
		{"type", eventType},
		{"how", how},
		{"time", timeStr},
		{"start", timeStr},
		{"stale", staleStr},
	}
	if eventCustom != nil {
		eventAttrs = append(eventAttrs, eventCustom.attrs...)
	}
	b.open("event", eventAttrs...)

	b.selfClose("point",
		xmlAttr{"lat", formatFloat(loc.Lat)},
		xmlAttr{"lon", formatFloat(loc.Lon)},
		xmlAttr{"hae", unknownField},
		xmlAttr{"ce", unknownField},
		xmlAttr{"le", unknownField},
	)

	b.open("detail")
	if team {
		e.writeTeamDetail(b, loc)
	} else {
		e.writeStandardDetail(b, loc)
	}
	if detailCustom != nil {
		detailCustom.renderInto(b)
	}
	b.close("detail")

	if eventCustom != nil {
		eventCustom.renderInto(b)
	}
	b.close("event")

	return b.bytesNullTerminated(), nil
}

// EncodeBatch renders a batch serially in input order, resolving the CoT type
// of each location. Invalid locations are skipped with a warning.
func (e *Encoder) EncodeBatch(locs []*tracker.Location, cfg *config.StreamConfig) [][]byte {
	frames := make([][]byte, 0, len(locs))
	for _, loc := range locs {
		frame, err := e.Encode(loc, cfg, ResolveType(loc, cfg))
		if err != nil {
			log.Warnf("Skipping location: %v", err)
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// writeStandardDetail emits the non-team detail children: contact, remarks,
// precisionlocation and optionally status.
func (e *Encoder) writeStandardDetail(b *xmlBuilder, loc *tracker.Location) {
	b.selfClose("contact", xmlAttr{"callsign", loc.Name})

	remarks := remarksText(loc)
	if remarks == "" {
		b.selfClose("remarks")
	} else {
		b.open("remarks")
		b.text(remarks)
		b.close("remarks")
	}

	b.selfClose("precisionlocation", xmlAttr{"altsrc", "GPS"})

	if battery, found := batteryAttr(loc); found {
		b.selfClose("status", xmlAttr{"battery", battery})
	}
}

// writeTeamDetail emits the ATAK team-member detail children: contact with
// endpoint, uid Droid, __group, then optional status and track.
func (e *Encoder) writeTeamDetail(b *xmlBuilder, loc *tracker.Location) {
	b.selfClose("contact",
		xmlAttr{"callsign", loc.Name},
		xmlAttr{"endpoint", "*:-1:stcp"},
	)
	b.selfClose("uid", xmlAttr{"Droid", loc.Name})
	b.selfClose("__group",
		xmlAttr{"name", NormalizeTeamColor(loc.TeamColor())},
		xmlAttr{"role", NormalizeTeamRole(loc.TeamRole())},
	)

	if battery, found := batteryAttr(loc); found {
		b.selfClose("status", xmlAttr{"battery", battery})
	}

	if loc.Speed != nil || loc.Course != nil {
		attrs := make([]xmlAttr, 0, 2)
		if loc.Speed != nil {
			attrs = append(attrs, xmlAttr{"speed", formatFloat(*loc.Speed)})
		}
		if loc.Course != nil {
			attrs = append(attrs, xmlAttr{"course", formatFloat(*loc.Course)})
		}
		b.selfClose("track", attrs...)
	}
}

// remarksText renders the human-readable speed/course summary of the
// standard branch.
func remarksText(loc *tracker.Location) string {
	switch {
	case loc.Speed != nil && loc.Course != nil:
		return fmt.Sprintf("Speed: %s m/s, Course: %s deg", formatFloat(*loc.Speed), formatFloat(*loc.Course))
	case loc.Speed != nil:
		return fmt.Sprintf("Speed: %s m/s", formatFloat(*loc.Speed))
	case loc.Course != nil:
		return fmt.Sprintf("Course: %s deg", formatFloat(*loc.Course))
	default:
		return ""
	}
}

// batteryAttr validates the reserved battery_state value. Out-of-range or
// non-integral values are omitted with a warning rather than failing the
// event.
func batteryAttr(loc *tracker.Location) (string, bool) {
	if _, present := loc.AdditionalData[tracker.KeyBatteryState]; !present {
		return "", false
	}
	battery, ok := loc.BatteryState()
	if !ok || battery < 0 || battery > 100 {
		log.Warnf("Ignoring battery_state %v for %q: must be an integer in [0, 100]",
			loc.AdditionalData[tracker.KeyBatteryState], loc.UID)
		return "", false
	}
	return strconv.Itoa(battery), true
}
