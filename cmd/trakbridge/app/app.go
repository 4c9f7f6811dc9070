// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

var (
	// TrakBridgeCmd is the root command
	TrakBridgeCmd = &cobra.Command{
		Use:   "trakbridge [command]",
		Short: "TrakBridge at your service.",
		Long: `
TrakBridge polls GPS and OSINT position providers, converts every location
into a Cursor-on-Target event and feeds it to one or more TAK servers over
persistent connections.`,
		PersistentPreRunE: preRun,
	}

	// confFilePath holds the path to the folder containing the configuration
	// file, to allow overrides from the command line
	confFilePath string
	flagNoColor  bool
)

// preRun takes care of common setup, including for now:
//   - parsing of the configuration
//   - handling of the no-color flag
func preRun(_ *cobra.Command, _ []string) error {
	if flagNoColor {
		color.NoColor = true
	}

	// a path to the folder containing the config file was passed
	if len(confFilePath) != 0 {
		config.Bridge.AddConfigPath(confFilePath)
	}
	config.Bridge.AddConfigPath(".")

	if err := config.Load(); err != nil {
		log.Errorf("Unable to read the service configuration: %v", err)
	}
	return nil
}

func init() {
	TrakBridgeCmd.PersistentFlags().StringVarP(&confFilePath, "cfgpath", "c", "", "path to directory containing trakbridge.yaml")
	TrakBridgeCmd.PersistentFlags().BoolVarP(&flagNoColor, "no-color", "n", false, "disable color output")
}
