// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Bridge is the global configuration object of the service.
var Bridge Config

func init() {
	Bridge = NewConfig("trakbridge", "TRAKBRIDGE", strings.NewReplacer(".", "_"))
	initConfig(Bridge)
}

// initConfig initializes the config defaults on a config object.
func initConfig(config Config) {
	// Service
	config.BindEnvAndSetDefault("log_level", "info")
	config.BindEnvAndSetDefault("log_file", "")
	config.BindEnvAndSetDefault("snapshot_path", "streams.yaml")
	config.BindEnvAndSetDefault("stop_grace_period", 30) // in seconds

	// Status API
	config.BindEnvAndSetDefault("api.enabled", true)
	config.BindEnvAndSetDefault("api.bind_host", "localhost")
	config.BindEnvAndSetDefault("api.port", 5890)
	config.BindEnvAndSetDefault("api.server_timeout", 15) // in seconds

	// Stream defaults, used when the snapshot leaves a field empty
	config.BindEnvAndSetDefault("defaults.poll_interval", 120) // in seconds
	config.BindEnvAndSetDefault("defaults.cot_type", "a-f-G-U-C")
	config.BindEnvAndSetDefault("defaults.cot_stale", 300) // in seconds
	config.BindEnvAndSetDefault("defaults.queue_capacity", 500)
	config.BindEnvAndSetDefault("defaults.overflow_policy", "drop_oldest")
	config.BindEnvAndSetDefault("defaults.flush_on_config_change", true)
	config.BindEnvAndSetDefault("defaults.callsign_identifier_field", "uid")

	// Shared provider HTTP session
	config.BindEnvAndSetDefault("http.connect_timeout", 10)  // in seconds
	config.BindEnvAndSetDefault("http.response_timeout", 30) // in seconds
	config.BindEnvAndSetDefault("http.max_conns_per_host", 10)
	config.BindEnvAndSetDefault("http.max_total_conns", 100)

	// Parallel encoding governor
	config.BindEnvAndSetDefault("performance.parallel_enabled", true)
	config.BindEnvAndSetDefault("performance.batch_size_threshold", 10)
	config.BindEnvAndSetDefault("performance.max_concurrent_tasks", 50)
	config.BindEnvAndSetDefault("performance.processing_timeout", 30) // in seconds
	config.BindEnvAndSetDefault("performance.circuit_breaker.enabled", true)
	config.BindEnvAndSetDefault("performance.circuit_breaker.failure_threshold", 3)
	config.BindEnvAndSetDefault("performance.circuit_breaker.recovery_timeout", 60) // in seconds
	config.BindEnvAndSetDefault("performance.statistics_reset_interval", 0)         // in seconds, 0 disables
}

// Load reads the service config file and initializes the config module. A
// missing file is not an error, defaults and environment variables apply.
func Load() error {
	if err := Bridge.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("No service config file found, using defaults: %v", err)
			return nil
		}
		return err
	}
	log.Infof("Service config loaded from %s", Bridge.ConfigFileUsed())
	return nil
}
