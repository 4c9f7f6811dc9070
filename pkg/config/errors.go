// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"errors"
	"fmt"
)

// ConfigurationError represents a malformed or conflicting stream/server
// configuration. It fails fast at load or reconfigure time and is never
// retried.
type ConfigurationError struct {
	message string
}

// NewConfigurationError returns a new configuration error.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{message: fmt.Sprintf(format, args...)}
}

// Error returns the message of the error.
func (e *ConfigurationError) Error() string {
	return e.message
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
