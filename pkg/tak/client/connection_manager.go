// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/metrics"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

const (
	// connectTimeout bounds a single dial and TLS handshake attempt.
	connectTimeout = 10 * time.Second
	// connectionResetInterval is the continuous connected time after which the
	// reconnect backoff starts over from its initial interval.
	connectionResetInterval = 60 * time.Second

	backoffInitialInterval     = 1 * time.Second
	backoffMultiplier          = 2
	backoffRandomizationFactor = 0.2
	backoffMaxInterval         = 60 * time.Second
)

var errTLSHandshakeTimeout = errors.New("TLS handshake timeout")

// ConnectionManager dials a TAK server and hands over a ready connection.
type ConnectionManager struct {
	cfg       *config.TakServerConfig
	tlsConfig *tls.Config

	mutex       sync.Mutex
	retryPolicy *backoff.ExponentialBackOff
	lastSuccess time.Time
}

// NewConnectionManager returns a manager for the given server. TLS material
// is decoded once here so that a broken P12 bundle fails fast.
func NewConnectionManager(cfg *config.TakServerConfig) (*ConnectionManager, error) {
	var tlsConfig *tls.Config
	if cfg.Protocol == config.ProtocolTLS {
		var err error
		tlsConfig, err = newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
	}
	return &ConnectionManager{
		cfg:         cfg,
		tlsConfig:   tlsConfig,
		retryPolicy: newRetryPolicy(),
	}, nil
}

func newRetryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = backoffInitialInterval
	policy.Multiplier = backoffMultiplier
	policy.RandomizationFactor = backoffRandomizationFactor
	policy.MaxInterval = backoffMaxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// address returns the server address.
func (cm *ConnectionManager) address() string {
	return cm.cfg.Address()
}

// NewConnection blocks until a connection to the server is established,
// retrying failed dials under the backoff policy. It only returns an error
// when the context is cancelled. The backoff progression carries over from
// the previous call unless the last connection held for long enough.
func (cm *ConnectionManager) NewConnection(ctx context.Context) (net.Conn, error) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.maybeResetBackoff()

	var conn net.Conn
	err := backoff.Retry(func() error {
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}

		c, err := cm.dial(ctx)
		if err != nil {
			log.Warnf("Could not connect to %v: %v", cm.address(), err)
			metrics.DestinationErrors.Add(1)
			metrics.TlmDestinationErrors.Inc(cm.cfg.DisplayName())
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(cm.retryPolicy, ctx))
	if err != nil {
		return nil, err
	}

	cm.lastSuccess = time.Now()
	log.Infof("Connected to %v", cm.address())
	return conn, nil
}

func (cm *ConnectionManager) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", cm.address())
	if err != nil {
		return nil, err
	}

	if cm.tlsConfig == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, cm.tlsConfig)
	if err := cm.handshakeWithTimeout(tlsConn, connectTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// handshakeWithTimeout performs the TLS handshake under a deadline so that an
// unresponsive peer cannot stall the writer forever.
func (cm *ConnectionManager) handshakeWithTimeout(conn *tls.Conn, timeout time.Duration) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- conn.Handshake()
	}()
	select {
	case err := <-errChan:
		return err
	case <-time.After(timeout):
		return errTLSHandshakeTimeout
	}
}

// maybeResetBackoff restarts the backoff progression when the previous
// connection held long enough. A flapping server keeps escalating instead.
func (cm *ConnectionManager) maybeResetBackoff() {
	if !cm.lastSuccess.IsZero() && time.Since(cm.lastSuccess) >= connectionResetInterval {
		cm.retryPolicy.Reset()
	}
}

// CloseConnection closes a connection and logs the failure if any.
func (cm *ConnectionManager) CloseConnection(conn net.Conn) {
	if err := conn.Close(); err != nil {
		log.Debugf("Could not close connection to %v: %v", cm.address(), err)
	}
}
