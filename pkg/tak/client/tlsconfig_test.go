// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package client

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client/mock"
)

func tlsServerConfig() *config.TakServerConfig {
	return &config.TakServerConfig{
		ID:       1,
		Name:     "tls-server",
		Host:     "tak.example.org",
		Port:     8089,
		Protocol: config.ProtocolTLS,
	}
}

func TestNewTLSConfigWithoutClientCert(t *testing.T) {
	tlsConfig, err := newTLSConfig(tlsServerConfig())
	require.NoError(t, err)

	assert.Equal(t, "tak.example.org", tlsConfig.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	assert.False(t, tlsConfig.InsecureSkipVerify)
	assert.Empty(t, tlsConfig.Certificates)
	// Without an embedded CA chain the system trust store applies.
	assert.Nil(t, tlsConfig.RootCAs)
}

func TestNewTLSConfigVerifyPeerDisabled(t *testing.T) {
	cfg := tlsServerConfig()
	verify := false
	cfg.VerifyPeer = &verify

	tlsConfig, err := newTLSConfig(cfg)
	require.NoError(t, err)
	assert.True(t, tlsConfig.InsecureSkipVerify)
}

func TestNewTLSConfigWithP12(t *testing.T) {
	bundle := mock.NewCertBundle(t)
	cfg := tlsServerConfig()
	cfg.P12Certificate = bundle.P12
	cfg.P12Password = bundle.P12Password

	tlsConfig, err := newTLSConfig(cfg)
	require.NoError(t, err)

	require.Len(t, tlsConfig.Certificates, 1)
	require.NotNil(t, tlsConfig.Certificates[0].Leaf)
	assert.Equal(t, "trakbridge-client", tlsConfig.Certificates[0].Leaf.Subject.CommonName)
	// Leaf plus the CA extracted from the bundle.
	assert.Len(t, tlsConfig.Certificates[0].Certificate, 2)
	assert.NotNil(t, tlsConfig.RootCAs)
}

func TestNewTLSConfigWithP12NoVerify(t *testing.T) {
	bundle := mock.NewCertBundle(t)
	cfg := tlsServerConfig()
	cfg.P12Certificate = bundle.P12
	cfg.P12Password = bundle.P12Password
	verify := false
	cfg.VerifyPeer = &verify

	tlsConfig, err := newTLSConfig(cfg)
	require.NoError(t, err)
	assert.True(t, tlsConfig.InsecureSkipVerify)
	assert.Nil(t, tlsConfig.RootCAs)
}

func TestNewTLSConfigBadPassword(t *testing.T) {
	bundle := mock.NewCertBundle(t)
	cfg := tlsServerConfig()
	cfg.P12Certificate = bundle.P12
	cfg.P12Password = "wrong"

	_, err := newTLSConfig(cfg)
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
}

func TestNewConnectionBadP12FailsFast(t *testing.T) {
	cfg := tlsServerConfig()
	cfg.P12Certificate = []byte("not a p12 bundle")
	cfg.P12Password = "irrelevant"

	_, err := NewConnection(cfg)
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
}
