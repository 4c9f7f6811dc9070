// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package providers

import (
	"errors"
	"fmt"
)

// TransientError represents a failure worth retrying on the next tick:
// network trouble, upstream 5xx or a malformed body.
type TransientError struct {
	source error
}

// NewTransientError wraps an error as retryable.
func NewTransientError(source error) *TransientError {
	return &TransientError{source: source}
}

// Error returns the message of the error.
func (e *TransientError) Error() string {
	return e.source.Error()
}

// Unwrap returns the wrapped source error.
func (e *TransientError) Unwrap() error {
	return e.source
}

// AuthError represents rejected credentials (401/403). Workers treat it as
// terminal for the stream: retrying would only lock the account.
type AuthError struct {
	message string
}

// NewAuthError returns a new authentication error.
func NewAuthError(format string, args ...interface{}) *AuthError {
	return &AuthError{message: fmt.Sprintf(format, args...)}
}

// Error returns the message of the error.
func (e *AuthError) Error() string {
	return e.message
}

// FatalError represents a provider misconfiguration that no retry can fix.
type FatalError struct {
	message string
}

// NewFatalError returns a new fatal provider error.
func NewFatalError(format string, args ...interface{}) *FatalError {
	return &FatalError{message: fmt.Sprintf(format, args...)}
}

// Error returns the message of the error.
func (e *FatalError) Error() string {
	return e.message
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}
