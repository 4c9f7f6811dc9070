// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package mock implements a TAK intake server to be used in tests. It accepts
// plain TCP or TLS connections and records the NUL-delimited CoT frames it
// receives.
package mock

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Intake is a fake TAK server listening on a random localhost port.
type Intake struct {
	t        *testing.T
	listener net.Listener

	mu     sync.Mutex
	frames [][]byte
	conns  []net.Conn
	opened int
	closed bool
}

// NewIntake starts a mock TAK server accepting plain TCP connections.
func NewIntake(t *testing.T) *Intake {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot start mock TAK intake: %v", err)
	}
	return newIntake(t, listener)
}

// NewTLSIntake starts a mock TAK server accepting TLS connections with the
// given server certificate.
func NewTLSIntake(t *testing.T, cert tls.Certificate) *Intake {
	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("cannot start mock TLS TAK intake: %v", err)
	}
	return newIntake(t, listener)
}

func newIntake(t *testing.T, listener net.Listener) *Intake {
	intake := &Intake{t: t, listener: listener}
	go intake.accept()
	return intake
}

func (i *Intake) accept() {
	for {
		conn, err := i.listener.Accept()
		if err != nil {
			return
		}
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			conn.Close()
			return
		}
		i.conns = append(i.conns, conn)
		i.opened++
		i.mu.Unlock()
		go i.read(conn)
	}
}

// read records the NUL-delimited frames received on one connection, without
// their trailing delimiter.
func (i *Intake) read(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		frame, err := reader.ReadBytes(0x00)
		if len(frame) > 0 && frame[len(frame)-1] == 0x00 {
			frame = frame[:len(frame)-1]
		}
		if len(frame) > 0 {
			i.mu.Lock()
			i.frames = append(i.frames, frame)
			i.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Addr returns the address the intake listens on.
func (i *Intake) Addr() net.Addr {
	return i.listener.Addr()
}

// HostPort returns the listening host and port.
func (i *Intake) HostPort() (string, int) {
	host, portString, err := net.SplitHostPort(i.listener.Addr().String())
	if err != nil {
		i.t.Fatalf("cannot split intake address: %v", err)
	}
	port, err := strconv.Atoi(portString)
	if err != nil {
		i.t.Fatalf("cannot parse intake port: %v", err)
	}
	return host, port
}

// Frames returns a copy of the frames received so far.
func (i *Intake) Frames() [][]byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	frames := make([][]byte, len(i.frames))
	copy(frames, i.frames)
	return frames
}

// WaitForFrames blocks until the intake has received at least n frames or the
// timeout expires, and returns the frames received so far.
func (i *Intake) WaitForFrames(n int, timeout time.Duration) [][]byte {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frames := i.Frames()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	return i.Frames()
}

// ConnectionCount returns how many connections have been accepted in total,
// including closed ones.
func (i *Intake) ConnectionCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.opened
}

// CloseActiveConnections drops every accepted connection, simulating a server
// side restart. The listener stays up so clients can reconnect.
func (i *Intake) CloseActiveConnections() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, conn := range i.conns {
		conn.Close()
	}
	i.conns = i.conns[:0]
}

// Close shuts the intake down.
func (i *Intake) Close() {
	i.mu.Lock()
	i.closed = true
	conns := i.conns
	i.conns = nil
	i.mu.Unlock()
	i.listener.Close()
	for _, conn := range conns {
		conn.Close()
	}
}
