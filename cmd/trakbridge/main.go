// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"os"

	_ "expvar"         // Blank import used because this isn't directly used in this file
	_ "net/http/pprof" // Blank import used because this isn't directly used in this file

	_ "github.com/emfoursolutions/trakbridge/pkg/providers/deepstate"
	_ "github.com/emfoursolutions/trakbridge/pkg/providers/garmin"
	_ "github.com/emfoursolutions/trakbridge/pkg/providers/spot"
	_ "github.com/emfoursolutions/trakbridge/pkg/providers/traccar"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"

	"github.com/emfoursolutions/trakbridge/cmd/trakbridge/app"
)

func main() {
	if err := app.TrakBridgeCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
