// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/providers"
)

var configCheckCmd = &cobra.Command{
	Use:     "configcheck",
	Aliases: []string{"checkconfig"},
	Short:   "Print the resolved configuration and validate the stream snapshot",
	Long:    ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printConfigCheck(color.Output)
	},
	SilenceUsage: true,
}

func init() {
	TrakBridgeCmd.AddCommand(configCheckCmd)
}

// printConfigCheck validates the service configuration and the snapshot and
// writes a human-readable report. It returns an error when the snapshot has
// problems so that the command exits non-zero.
func printConfigCheck(w io.Writer) error {
	if w != color.Output {
		color.NoColor = true
	}

	if used := config.Bridge.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "%s: %s\n", color.BlueString("Service config"), color.CyanString(used))
	} else {
		fmt.Fprintf(w, "%s: %s\n", color.BlueString("Service config"), color.YellowString("defaults and environment only"))
	}

	path := resolveSnapshotPath()
	fmt.Fprintf(w, "%s: %s\n", color.BlueString("Snapshot"), color.CyanString(path))

	snapshot, err := config.LoadSnapshot(path)
	if snapshot == nil {
		fmt.Fprintf(w, "\n=== Snapshot %s ===\n* %s\n", color.RedString("errors"), err)
		return err
	}

	var problems []string
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			problems = append(problems, e.Error())
		}
	} else if err != nil {
		problems = append(problems, err.Error())
	}

	for _, srv := range snapshot.Servers {
		fmt.Fprintf(w, "\n=== %s server ===\n", color.GreenString(srv.DisplayName()))
		fmt.Fprintf(w, "%s: %s\n", color.BlueString("Address"), color.CyanString(fmt.Sprintf("%s://%s", srv.Protocol, srv.Address())))
		fmt.Fprintf(w, "%s: %s\n", color.BlueString("Queue"), color.CyanString(fmt.Sprintf("%d events, %s on overflow", srv.QueueCapacity, srv.OverflowPolicy)))
		if srv.Protocol == config.ProtocolTLS {
			identity := "none"
			if len(srv.P12Certificate) > 0 {
				identity = "p12 client certificate"
			}
			fmt.Fprintf(w, "%s: %s\n", color.BlueString("Client identity"), color.CyanString(identity))
			if !srv.ShouldVerifyPeer() {
				fmt.Fprintf(w, "%s: %s\n", color.BlueString("Peer verification"), color.YellowString("disabled"))
			}
		}
	}

	for _, st := range snapshot.Streams {
		fmt.Fprintf(w, "\n=== %s stream ===\n", color.GreenString(st.Name))
		if _, err := providers.Build(st.ProviderKind); err != nil {
			fmt.Fprintf(w, "%s: %s\n", color.BlueString("Provider"), color.RedString(st.ProviderKind))
			problems = append(problems, fmt.Sprintf("stream %d (%s): %v", st.ID, st.Name, err))
		} else {
			fmt.Fprintf(w, "%s: %s\n", color.BlueString("Provider"), color.CyanString(st.ProviderKind))
		}
		fmt.Fprintf(w, "%s: %s\n", color.BlueString("Poll interval"), color.CyanString(st.PollInterval().String()))
		fmt.Fprintf(w, "%s: %s\n", color.BlueString("Attached servers"), color.CyanString(fmt.Sprintf("%v", st.AttachedServerIDs)))
		if !st.IsActive() {
			fmt.Fprintf(w, "%s: %s\n", color.BlueString("Active"), color.YellowString("no"))
		}
		if st.EnableCallsignMapping {
			fmt.Fprintf(w, "%s: %s\n", color.BlueString("Callsign mappings"),
				color.CyanString(fmt.Sprintf("%d (%s on unmapped)", len(st.CallsignMappings), st.CallsignErrorHandling)))
		}
	}

	if len(problems) > 0 {
		fmt.Fprintf(w, "\n=== Configuration %s ===\n", color.RedString("errors"))
		for _, p := range problems {
			fmt.Fprintf(w, "* %s\n", p)
		}
		return fmt.Errorf("found %d configuration problems", len(problems))
	}

	fmt.Fprintf(w, "\n%s\n", color.GreenString("No errors found"))
	return nil
}
