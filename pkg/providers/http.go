// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package providers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/emfoursolutions/trakbridge/pkg/config"
)

// NewHTTPClient builds the connection-pooled session shared by every stream
// worker. One client for the whole process keeps per-host connection reuse
// effective across streams polling the same provider.
func NewHTTPClient() *http.Client {
	conf := config.Bridge
	connectTimeout := time.Duration(conf.GetInt("http.connect_timeout")) * time.Second
	responseTimeout := time.Duration(conf.GetInt("http.response_timeout")) * time.Second
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       conf.GetInt("http.max_conns_per_host"),
		MaxIdleConns:          conf.GetInt("http.max_total_conns"),
		MaxIdleConnsPerHost:   conf.GetInt("http.max_conns_per_host"),
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   responseTimeout,
	}
}

// ReadBody drains a response, translating HTTP status codes into the provider
// error taxonomy: 401/403 are auth errors, 5xx and 429 are transient, other
// non-2xx are fatal misconfiguration.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewAuthError("%s: credentials rejected (%s)", resp.Request.URL.Host, resp.Status)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewTransientError(fmt.Errorf("%s: upstream unavailable (%s)", resp.Request.URL.Host, resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, NewFatalError("%s: unexpected response %s", resp.Request.URL.Host, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("reading response from %s: %w", resp.Request.URL.Host, err))
	}
	return body, nil
}

// Get performs one GET with optional basic auth and returns the body through
// ReadBody. Network failures come back as TransientErrors.
func Get(ctx context.Context, client *http.Client, url, username, password string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewFatalError("invalid provider url %q: %v", url, err)
	}
	if username != "" || password != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransientError(err)
	}
	return ReadBody(resp)
}
