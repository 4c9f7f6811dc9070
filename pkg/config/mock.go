// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import "strings"

// Mock swaps the global Bridge config for a fresh one with defaults applied,
// so tests can Set values without leaking into each other.
func Mock() Config {
	Bridge = NewConfig("trakbridge", "TRAKBRIDGE", strings.NewReplacer(".", "_"))
	initConfig(Bridge)
	return Bridge
}
