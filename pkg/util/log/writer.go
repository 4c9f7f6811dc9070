// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

// ErrorLogWriter is a Writer that logs all written messages with the global
// logger at an error level. It adapts the stdlib log.Logger callers expect,
// such as http.Server.ErrorLog.
type ErrorLogWriter struct{}

func (s *ErrorLogWriter) Write(p []byte) (n int, err error) {
	Error(string(p))
	return len(p), nil
}
