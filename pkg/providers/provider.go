// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package providers defines the contract between stream workers and the
// pluggable position sources, plus the provider error taxonomy the workers
// react to.
package providers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/emfoursolutions/trakbridge/pkg/tracker"
)

// Metadata describes one provider kind for status output and configcheck.
type Metadata struct {
	Kind        string
	DisplayName string
	// RequiredKeys are the provider_config keys that must be present.
	RequiredKeys []string
}

// Provider fetches the current set of tracker locations from one upstream
// source. Implementations are stateless; everything they need arrives in the
// call.
type Provider interface {
	Metadata() Metadata
	Fetch(ctx context.Context, client *http.Client, cfg Config) ([]*tracker.Location, error)
}

// Config is the free-form provider_config block of a stream, with typed
// accessors for the loose yaml/JSON values inside.
type Config map[string]interface{}

// GetString returns the string value of a key, or "".
func (c Config) GetString(key string) string {
	v, found := c[key]
	if !found || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// GetBool returns the bool value of a key, or the fallback.
func (c Config) GetBool(key string, fallback bool) bool {
	v, found := c[key]
	if !found {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// GetInt returns the int value of a key, or the fallback.
func (c Config) GetInt(key string, fallback int) int {
	v, found := c[key]
	if !found {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// CheckRequired verifies that every required key of the metadata is set.
func (c Config) CheckRequired(meta Metadata) error {
	for _, key := range meta.RequiredKeys {
		if c.GetString(key) == "" {
			return NewFatalError("provider %s: missing required config key %q", meta.Kind, key)
		}
	}
	return nil
}
