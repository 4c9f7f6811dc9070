// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config holds the two configuration layers of the bridge: the
// service configuration (viper-backed, file plus TRAKBRIDGE_ environment
// variables) and the snapshot configuration describing streams and TAK
// servers.
package config

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the interface exposed to the rest of the codebase. It wraps viper
// behind a lock so concurrent readers and the SIGHUP reload path do not race.
type Config interface {
	Set(key string, value interface{})
	SetDefault(key string, value interface{})
	SetConfigFile(path string)
	SetConfigName(name string)
	AddConfigPath(path string)
	ConfigFileUsed() string

	BindEnv(key string)
	BindEnvAndSetDefault(key string, value interface{})

	IsSet(key string) bool
	Get(key string) interface{}
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	GetInt64(key string) int64
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	GetStringMapString(key string) map[string]string

	UnmarshalKey(key string, rawVal interface{}) error
	ReadInConfig() error
	MergeConfig(in io.Reader) error
	AllSettings() map[string]interface{}
}

// safeConfig wraps viper with a lock, the way the agent-style config object
// does, so Set and the getters are safe from any goroutine.
type safeConfig struct {
	*viper.Viper
	sync.RWMutex
}

func (c *safeConfig) Set(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.Set(key, value)
}

func (c *safeConfig) SetDefault(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetDefault(key, value)
}

func (c *safeConfig) BindEnv(key string) {
	c.Lock()
	defer c.Unlock()
	_ = c.Viper.BindEnv(key)
}

// BindEnvAndSetDefault sets a default value and makes the key overridable
// through the TRAKBRIDGE_ environment.
func (c *safeConfig) BindEnvAndSetDefault(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetDefault(key, value)
	_ = c.Viper.BindEnv(key)
}

func (c *safeConfig) IsSet(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.IsSet(key)
}

func (c *safeConfig) Get(key string) interface{} {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.Get(key)
}

func (c *safeConfig) GetString(key string) string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetString(key)
}

func (c *safeConfig) GetBool(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetBool(key)
}

func (c *safeConfig) GetInt(key string) int {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetInt(key)
}

func (c *safeConfig) GetInt64(key string) int64 {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetInt64(key)
}

func (c *safeConfig) GetFloat64(key string) float64 {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetFloat64(key)
}

func (c *safeConfig) GetDuration(key string) time.Duration {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetDuration(key)
}

func (c *safeConfig) GetStringSlice(key string) []string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetStringSlice(key)
}

func (c *safeConfig) GetStringMapString(key string) map[string]string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetStringMapString(key)
}

func (c *safeConfig) UnmarshalKey(key string, rawVal interface{}) error {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.UnmarshalKey(key, rawVal)
}

func (c *safeConfig) ReadInConfig() error {
	c.Lock()
	defer c.Unlock()
	return c.Viper.ReadInConfig()
}

func (c *safeConfig) MergeConfig(in io.Reader) error {
	c.Lock()
	defer c.Unlock()
	return c.Viper.MergeConfig(in)
}

func (c *safeConfig) AllSettings() map[string]interface{} {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.AllSettings()
}

// NewConfig returns a new Config object with the given name, env prefix and
// env key replacer bound.
func NewConfig(name string, envPrefix string, envKeyReplacer *strings.Replacer) Config {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	return &safeConfig{Viper: v}
}
