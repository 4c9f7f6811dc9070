// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import (
	"fmt"

	"github.com/cihub/seelog"
)

const logFormatTemplate = "%Date(2006-01-02 15:04:05 MST) | TRAKBRIDGE | %LEVEL | (%ShortFilePath:%Line in %FuncShort) | %Msg%n"

// BuildLogger constructs a seelog logger writing to the console and, when
// logFile is non-empty, to a file. Call SetupLogger with the result.
func BuildLogger(level string, logFile string) (seelog.LoggerInterface, error) {
	if _, ok := seelog.LogLevelFromString(level); !ok {
		return nil, fmt.Errorf("unknown log level: %q", level)
	}

	config := `<seelog minlevel="` + level + `">`
	config += `<outputs formatid="common"><console/>`
	if logFile != "" {
		config += `<rollingfile type="size" filename="` + logFile + `" maxsize="10000000" maxrolls="1"/>`
	}
	config += `</outputs>`
	config += `<formats><format id="common" format="` + logFormatTemplate + `"/></formats>`
	config += `</seelog>`

	return seelog.LoggerFromConfigAsString(config)
}
