// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build windows

package pidfile

import "os"

// isProcess checks whether a process with the given pid exists. On Windows
// FindProcess resolves a handle and fails for dead pids.
func isProcess(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
