// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	_ "github.com/emfoursolutions/trakbridge/pkg/providers/spot"
)

func useSnapshot(t *testing.T, content string) {
	t.Helper()
	config.Mock()
	path := filepath.Join(t.TempDir(), "streams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	config.Bridge.Set("snapshot_path", path)
}

func TestConfigCheckValidSnapshot(t *testing.T) {
	useSnapshot(t, `
tak_servers:
  - id: 1
    name: ops
    host: tak.example.org
    port: 8089
    protocol: tls
streams:
  - id: 7
    name: field-team
    provider_kind: spot
    attached_server_ids: [1]
`)

	var b bytes.Buffer
	require.NoError(t, printConfigCheck(&b))

	out := b.String()
	assert.Contains(t, out, "=== ops server ===")
	assert.Contains(t, out, "tls://tak.example.org:8089")
	assert.Contains(t, out, "=== field-team stream ===")
	assert.Contains(t, out, "Provider: spot")
	assert.Contains(t, out, "No errors found")
}

func TestConfigCheckReportsProblems(t *testing.T) {
	useSnapshot(t, `
tak_servers:
  - id: 1
    host: tak.example.org
    port: 8089
    protocol: tcp
streams:
  - id: 7
    name: field-team
    provider_kind: carrier-pigeon
    attached_server_ids: [1, 9]
`)

	var b bytes.Buffer
	err := printConfigCheck(&b)
	require.Error(t, err)

	out := b.String()
	assert.Contains(t, out, "=== Configuration errors ===")
	assert.Contains(t, out, "unknown provider kind")
	assert.Contains(t, out, "attached server 9 does not exist")
}

func TestConfigCheckMissingSnapshot(t *testing.T) {
	config.Mock()
	config.Bridge.Set("snapshot_path", filepath.Join(t.TempDir(), "gone.yaml"))

	var b bytes.Buffer
	err := printConfigCheck(&b)
	require.Error(t, err)
	assert.Contains(t, b.String(), "=== Snapshot errors ===")
}
