// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build !windows

package pidfile

import "syscall"

// isProcess uses `kill -0` to check whether a process with the given pid is
// running.
func isProcess(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
