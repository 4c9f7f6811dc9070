// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package client

import (
	"crypto/tls"
	"crypto/x509"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/emfoursolutions/trakbridge/pkg/config"
)

// newTLSConfig builds the client TLS configuration for a server.
//
// When the server carries a P12 bundle, the bundle is decoded into the client
// identity (leaf certificate and private key) plus the CA chain it embeds.
// The CA chain, when present, becomes the root pool used to verify the peer;
// otherwise verification falls back to the system trust store. The P12
// password is passed through verbatim, it may contain any bytes.
func newTLSConfig(cfg *config.TakServerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
	if !cfg.ShouldVerifyPeer() {
		tlsConfig.InsecureSkipVerify = true
	}

	if len(cfg.P12Certificate) == 0 {
		return tlsConfig, nil
	}

	key, leaf, caCerts, err := pkcs12.DecodeChain(cfg.P12Certificate, cfg.P12Password)
	if err != nil {
		return nil, config.NewConfigurationError("tak server %v: cannot decode p12 bundle: %v", cfg.DisplayName(), err)
	}

	certificate := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range caCerts {
		certificate.Certificate = append(certificate.Certificate, ca.Raw)
	}
	tlsConfig.Certificates = []tls.Certificate{certificate}

	if len(caCerts) > 0 && cfg.ShouldVerifyPeer() {
		pool := x509.NewCertPool()
		for _, ca := range caCerts {
			pool.AddCert(ca)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
