// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/emfoursolutions/trakbridge/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version info",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		commit := version.Commit
		if commit == "" {
			commit = "unknown"
		}
		fmt.Fprintln(
			color.Output,
			fmt.Sprintf("TrakBridge %s - Commit: %s - Go version: %s",
				color.CyanString(version.BridgeVersion),
				color.GreenString(commit),
				color.RedString(runtime.Version()),
			),
		)
	},
}

func init() {
	TrakBridgeCmd.AddCommand(versionCmd)
}
