// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/emfoursolutions/trakbridge/pkg/api"
	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/pidfile"
	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/streams"
	"github.com/emfoursolutions/trakbridge/pkg/tak"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
	"github.com/emfoursolutions/trakbridge/pkg/version"
)

var (
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the bridge in the foreground",
		Long:  ``,
		RunE:  run,
	}

	pidfilePath string
)

func init() {
	TrakBridgeCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&pidfilePath, "pidfile", "p", "", "path to the pidfile")
}

func run(_ *cobra.Command, _ []string) error {
	logger, err := log.BuildLogger(config.Bridge.GetString("log_level"), config.Bridge.GetString("log_file"))
	if err != nil {
		return fmt.Errorf("unable to set up the logger: %v", err)
	}
	log.SetupLogger(logger, config.Bridge.GetString("log_level"))
	defer log.Flush()

	log.Infof("Starting TrakBridge %s - Commit: %s - PID: %d", version.BridgeVersion, version.Commit, os.Getpid())

	if pidfilePath != "" {
		if err := pidfile.WritePID(pidfilePath); err != nil {
			return log.Errorf("Could not write pidfile: %v", err)
		}
		log.Infof("pid '%d' written to pidfile '%s'", os.Getpid(), pidfilePath)
		defer os.Remove(pidfilePath)
	}

	snapshotPath := resolveSnapshotPath()
	snapshot, err := config.LoadSnapshot(snapshotPath)
	if err != nil {
		if snapshot == nil {
			return log.Errorf("Unable to load the stream snapshot: %v", err)
		}
		// Validation problems only affect the streams they name. Start the
		// healthy ones and report the rest.
		log.Errorf("Snapshot has invalid entries, starting the healthy streams: %v", err)
	}

	clk := clock.New()
	service := tak.NewCoTService()
	manager := streams.NewManager(streams.Deps{
		Clock:      clk,
		HTTPClient: providers.NewHTTPClient(),
		Governor:   streams.NewGovernor(clk),
		Service:    service,
	})

	if err := manager.LoadAll(snapshot); err != nil {
		// Broken streams are isolated at load time, the rest keep running.
		log.Errorf("Some streams could not be started: %v", err)
	}
	log.Infof("Serving %d streams against %d TAK servers", len(manager.StreamIDs()), len(service.ServerIDs()))

	var apiServer *api.Server
	if config.Bridge.GetBool("api.enabled") {
		apiServer, err = api.NewServer(manager, service)
		if err != nil {
			return log.Errorf("Unable to start the status API: %v", err)
		}
		apiServer.Start()
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Block here until we receive a stop signal. SIGHUP reloads the snapshot
	// in place and keeps serving.
	for signo := range signalCh {
		if signo == syscall.SIGHUP {
			log.Infof("SIGHUP received, reloading %s", snapshotPath)
			snapshot, err := config.LoadSnapshot(snapshotPath)
			if err != nil {
				log.Errorf("Keeping the previous configuration, reload failed: %v", err)
				continue
			}
			if err := manager.Reload(snapshot); err != nil {
				log.Errorf("Reload finished with errors: %v", err)
			}
			continue
		}

		log.Infof("Received signal '%s', shutting down...", signo)
		grace := config.Bridge.GetDuration("stop_grace_period") * time.Second
		if err := manager.StopAll(grace); err != nil {
			log.Warnf("Some streams did not stop cleanly: %v", err)
		}
		if err := service.CloseAll(grace); err != nil {
			log.Warnf("Some TAK connections did not close cleanly: %v", err)
		}
		if apiServer != nil {
			apiServer.Stop()
		}
		break
	}

	log.Info("See ya!")
	log.Flush()
	return nil
}

// resolveSnapshotPath resolves the snapshot file location. A relative path is
// taken relative to the service config file when one was found, so that
// `trakbridge run -c /etc/trakbridge` picks up both files from there.
func resolveSnapshotPath() string {
	path := config.Bridge.GetString("snapshot_path")
	if filepath.IsAbs(path) {
		return path
	}
	if used := config.Bridge.ConfigFileUsed(); used != "" {
		return filepath.Join(filepath.Dir(used), path)
	}
	return path
}
