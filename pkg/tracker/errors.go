// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tracker

import (
	"errors"
	"fmt"
)

// ValidationError represents one malformed Location. It is recovered locally:
// the item is skipped and logged, never aborting its batch.
type ValidationError struct {
	UID    string
	Reason string
}

// NewValidationError returns a new validation error for the given tracker.
func NewValidationError(uid string, reason string) *ValidationError {
	return &ValidationError{UID: uid, Reason: reason}
}

// Error returns the message of the error.
func (e *ValidationError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("invalid location: %s", e.Reason)
	}
	return fmt.Sprintf("invalid location %q: %s", e.UID, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
