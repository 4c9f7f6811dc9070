// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log implements the leveled logging used by every component of the
// bridge. It wraps seelog behind package-level functions so that callers
// never carry a logger around.
package log

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *BridgeLogger

	// This buffer holds log lines sent to the logger before its
	// initialization. Even if initializing the logger is one of the first
	// things the bridge does, we still: load the conf, parse the snapshot,
	// build the provider catalog, ...
	//
	// This buffer should be very short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
	defaultStackDepth    = 3
)

// BridgeLogger wrapper structure for seelog
type BridgeLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupLogger configures the logger singleton with a seelog interface
func SetupLogger(l seelog.LoggerInterface, level string) {
	logger = &BridgeLogger{
		inner: l,
	}

	lvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger.level = lvl

	// We're not going to call BridgeLogger directly, but using the
	// exported functions, that will give us two frames in the stack
	// trace that should be skipped to get to the original caller.
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	// Flushing logs since the logger is now initialized
	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	defer bufferMutex.Unlock()
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

func (sw *BridgeLogger) replaceInnerLogger(l seelog.LoggerInterface) seelog.LoggerInterface {
	sw.l.Lock()
	defer sw.l.Unlock()

	old := sw.inner
	sw.inner = l

	return old
}

func (sw *BridgeLogger) changeLogLevel(level string) error {
	sw.l.Lock()
	defer sw.l.Unlock()

	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		return errors.New("bad log level")
	}
	sw.level = lvl
	return nil
}

func (sw *BridgeLogger) shouldLog(level seelog.LogLevel) bool {
	sw.l.RLock()
	shouldLog := level >= sw.level
	sw.l.RUnlock()

	return shouldLog
}

func (sw *BridgeLogger) trace(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Trace(s)
}

func (sw *BridgeLogger) debug(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Debug(s)
}

func (sw *BridgeLogger) info(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Info(s)
}

func (sw *BridgeLogger) warn(s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()
	return sw.inner.Warn(s)
}

func (sw *BridgeLogger) error(s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()
	return sw.inner.Error(s)
}

func (sw *BridgeLogger) critical(s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()
	return sw.inner.Critical(s)
}

func buildLogEntry(v ...interface{}) string {
	var fmtBuffer strings.Builder
	for i := 0; i < len(v)-1; i++ {
		fmtBuffer.WriteString("%v ")
	}
	fmtBuffer.WriteString("%v")
	return fmt.Sprintf(fmtBuffer.String(), v...)
}

func formatError(v ...interface{}) error {
	return errors.New(buildLogEntry(v...))
}

func formatErrorf(format string, params ...interface{}) error {
	return fmt.Errorf(format, params...)
}

func log(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string), v ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(logLevel) {
		logFunc(buildLogEntry(v...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(bufferFunc)
	}
}

func logWithError(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string) error, v ...interface{}) error {
	if logger != nil && logger.inner != nil && logger.shouldLog(logLevel) {
		return logFunc(buildLogEntry(v...))
	}
	if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(bufferFunc)
	}
	return formatError(v...)
}

func logFormat(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string), format string, params ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(logLevel) {
		logFunc(fmt.Sprintf(format, params...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(bufferFunc)
	}
}

func logFormatWithError(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string) error, format string, params ...interface{}) error {
	if logger != nil && logger.inner != nil && logger.shouldLog(logLevel) {
		return logFunc(fmt.Sprintf(format, params...))
	}
	if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(bufferFunc)
	}
	return formatErrorf(format, params...)
}

// Trace logs at the trace level
func Trace(v ...interface{}) {
	log(seelog.TraceLvl, func() { Trace(v...) }, func(s string) { logger.trace(s) }, v...)
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	logFormat(seelog.TraceLvl, func() { Tracef(format, params...) }, func(s string) { logger.trace(s) }, format, params...)
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	log(seelog.DebugLvl, func() { Debug(v...) }, func(s string) { logger.debug(s) }, v...)
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	logFormat(seelog.DebugLvl, func() { Debugf(format, params...) }, func(s string) { logger.debug(s) }, format, params...)
}

// Info logs at the info level
func Info(v ...interface{}) {
	log(seelog.InfoLvl, func() { Info(v...) }, func(s string) { logger.info(s) }, v...)
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	logFormat(seelog.InfoLvl, func() { Infof(format, params...) }, func(s string) { logger.info(s) }, format, params...)
}

// Warn logs at the warn level and returns an error containing the formated log message
func Warn(v ...interface{}) error {
	return logWithError(seelog.WarnLvl, func() { Warn(v...) }, func(s string) error { return logger.warn(s) }, v...) //nolint:errcheck
}

// Warnf logs with format at the warn level and returns an error containing the formated log message
func Warnf(format string, params ...interface{}) error {
	return logFormatWithError(seelog.WarnLvl, func() { Warnf(format, params...) }, func(s string) error { return logger.warn(s) }, format, params...) //nolint:errcheck
}

// Error logs at the error level and returns an error containing the formated log message
func Error(v ...interface{}) error {
	return logWithError(seelog.ErrorLvl, func() { Error(v...) }, func(s string) error { return logger.error(s) }, v...) //nolint:errcheck
}

// Errorf logs with format at the error level and returns an error containing the formated log message
func Errorf(format string, params ...interface{}) error {
	return logFormatWithError(seelog.ErrorLvl, func() { Errorf(format, params...) }, func(s string) error { return logger.error(s) }, format, params...) //nolint:errcheck
}

// Critical logs at the critical level and returns an error containing the formated log message
func Critical(v ...interface{}) error {
	return logWithError(seelog.CriticalLvl, func() { Critical(v...) }, func(s string) error { return logger.critical(s) }, v...) //nolint:errcheck
}

// Criticalf logs with format at the critical level and returns an error containing the formated log message
func Criticalf(format string, params ...interface{}) error {
	return logFormatWithError(seelog.CriticalLvl, func() { Criticalf(format, params...) }, func(s string) error { return logger.critical(s) }, format, params...) //nolint:errcheck
}

// Flush flushes the underlying inner log
func Flush() {
	if logger != nil && logger.inner != nil {
		logger.inner.Flush()
	}
}

// ReplaceLogger allows replacing the internal logger, returns old logger
func ReplaceLogger(l seelog.LoggerInterface) seelog.LoggerInterface {
	if logger != nil && logger.inner != nil {
		return logger.replaceInnerLogger(l)
	}
	return nil
}

// GetLogLevel returns the current log level
func GetLogLevel() (seelog.LogLevel, error) {
	if logger != nil && logger.inner != nil {
		logger.l.RLock()
		defer logger.l.RUnlock()
		return logger.level, nil
	}
	return seelog.InfoLvl, errors.New("cannot get loglevel: logger not initialized")
}

// ChangeLogLevel changes the current log level, valid levels are trace, debug,
// info, warn, error and critical
func ChangeLogLevel(l seelog.LoggerInterface, level string) error {
	if logger != nil && logger.inner != nil {
		if err := logger.changeLogLevel(level); err != nil {
			return err
		}
		l.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck
		logger.replaceInnerLogger(l)
		return nil
	}
	return errors.New("cannot change loglevel: logger not initialized")
}
