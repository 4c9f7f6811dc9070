// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pidfile writes the bridge pid to a file so that init systems and
// operators can find the running process.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePID writes the current PID to the given path, creating missing parent
// directories. A pidfile pointing at a live process is an error: two bridges
// polling the same providers would double every event downstream.
func WritePID(pidFilePath string) error {
	if content, err := os.ReadFile(pidFilePath); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
		if err == nil && isProcess(pid) {
			return fmt.Errorf("pidfile %s already exists for running process %d", pidFilePath, pid)
		}
	}

	if err := os.MkdirAll(filepath.Dir(pidFilePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
