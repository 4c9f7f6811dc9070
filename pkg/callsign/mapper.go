// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package callsign renames raw tracker identifiers into operator-assigned
// callsigns and attaches per-tracker CoT overrides.
package callsign

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/metrics"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Mapper applies the callsign mappings of one stream. It is a pure
// transformer built once per worker configuration and safe for reuse across
// ticks.
type Mapper struct {
	streamID string
	enabled  bool
	field    string
	drop     bool
	index    map[string]*config.CallsignMapping
}

// NewMapper builds the lookup table for a stream configuration.
func NewMapper(cfg *config.StreamConfig) *Mapper {
	m := &Mapper{
		streamID: strconv.Itoa(cfg.ID),
		enabled:  cfg.EnableCallsignMapping,
		field:    cfg.CallsignIdentifierField,
		drop:     cfg.CallsignErrorHandling == config.CallsignDrop,
		index:    make(map[string]*config.CallsignMapping, len(cfg.CallsignMappings)),
	}
	for i := range cfg.CallsignMappings {
		mapping := &cfg.CallsignMappings[i]
		key := NormalizeKey(mapping.IdentifierValue)
		if key == "" {
			continue
		}
		if _, taken := m.index[key]; taken {
			log.Warnf("Stream %s: duplicate callsign mapping for %q, first one wins", m.streamID, mapping.IdentifierValue)
			continue
		}
		m.index[key] = mapping

		// When matching on the name field, the assigned callsign aliases back
		// to its own mapping so that reapplying the mapper is a no-op instead
		// of treating already-renamed trackers as unmapped.
		if m.field == "name" && mapping.AssignedCallsign != "" {
			alias := NormalizeKey(mapping.AssignedCallsign)
			if _, taken := m.index[alias]; !taken {
				m.index[alias] = mapping
			}
		}
	}
	return m
}

// NormalizeKey canonicalises an identifier for lookup: trim, lowercase, NFC.
func NormalizeKey(identifier string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(identifier)))
}

// Apply maps a batch in place and returns the surviving locations. Trackers
// whose mapping is disabled are dropped; unmapped trackers pass through
// unless the stream opted into drop handling.
func (m *Mapper) Apply(locs []*tracker.Location) []*tracker.Location {
	if !m.enabled {
		return locs
	}
	kept := locs[:0]
	for _, loc := range locs {
		mapping, found := m.index[NormalizeKey(loc.Identifier(m.field))]
		if !found {
			if m.drop {
				log.Debugf("Stream %s: dropping unmapped tracker %q", m.streamID, loc.UID)
				metrics.CallsignDrops.Add(1)
				metrics.TlmCallsignDrops.Inc(m.streamID, "unmapped")
				continue
			}
			kept = append(kept, loc)
			continue
		}
		if !mapping.IsEnabled() {
			log.Debugf("Stream %s: dropping tracker %q, mapping disabled", m.streamID, loc.UID)
			metrics.CallsignDrops.Add(1)
			metrics.TlmCallsignDrops.Inc(m.streamID, "disabled")
			continue
		}
		m.apply(loc, mapping)
		kept = append(kept, loc)
	}
	return kept
}

func (m *Mapper) apply(loc *tracker.Location, mapping *config.CallsignMapping) {
	if mapping.AssignedCallsign != "" {
		loc.Name = mapping.AssignedCallsign
	}
	if mapping.IsTeamMember() {
		loc.SetAdditional(tracker.KeyTeamMemberEnabled, true)
		if mapping.TeamRole != "" {
			loc.SetAdditional(tracker.KeyTeamRole, mapping.TeamRole)
		}
		if mapping.TeamColor != "" {
			loc.SetAdditional(tracker.KeyTeamColor, mapping.TeamColor)
		}
		return
	}
	if mapping.CotTypeOverride != "" {
		loc.SetAdditional(tracker.KeyCotTypeOverride, mapping.CotTypeOverride)
	}
}
