// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package cot

import (
	"strings"

	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Team-member event constants. ATAK renders a tracker as a live team member
// only with this exact type/how pair.
const (
	TeamMemberType = "a-f-G-U-C"
	TeamMemberHow  = "h-e"
	StandardHow    = "m-g"
)

// Fallbacks applied when a mapping names an unknown role or color.
const (
	DefaultTeamRole  = "Team Member"
	DefaultTeamColor = "Cyan"
)

// teamRoles are the 8 roles ATAK understands.
var teamRoles = []string{
	"Team Member",
	"Team Lead",
	"HQ",
	"Sniper",
	"Medic",
	"Forward Observer",
	"RTO",
	"K9",
}

// teamColors are the 14 colors ATAK understands.
var teamColors = []string{
	"White",
	"Yellow",
	"Orange",
	"Magenta",
	"Red",
	"Maroon",
	"Purple",
	"Dark Blue",
	"Blue",
	"Cyan",
	"Teal",
	"Green",
	"Dark Green",
	"Brown",
}

var (
	rolesByKey  = indexCanonical(teamRoles)
	colorsByKey = indexCanonical(teamColors)
)

func indexCanonical(values []string) map[string]string {
	byKey := make(map[string]string, len(values))
	for _, v := range values {
		byKey[strings.ToLower(v)] = v
	}
	return byKey
}

// NormalizeTeamRole maps a configured role onto its canonical ATAK spelling,
// falling back to "Team Member" for unknown values.
func NormalizeTeamRole(role string) string {
	if role == "" {
		return DefaultTeamRole
	}
	if canonical, found := rolesByKey[strings.ToLower(strings.TrimSpace(role))]; found {
		return canonical
	}
	log.Warnf("Unknown team role %q, falling back to %q", role, DefaultTeamRole)
	return DefaultTeamRole
}

// NormalizeTeamColor maps a configured color onto its canonical ATAK spelling,
// falling back to "Cyan" for unknown values.
func NormalizeTeamColor(color string) string {
	if color == "" {
		return DefaultTeamColor
	}
	if canonical, found := colorsByKey[strings.ToLower(strings.TrimSpace(color))]; found {
		return canonical
	}
	log.Warnf("Unknown team color %q, falling back to %q", color, DefaultTeamColor)
	return DefaultTeamColor
}
