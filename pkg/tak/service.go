// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tak maintains the registry of TAK server connections. Stream
// workers never build connections themselves, they resolve their attached
// server ids here so that every stream targeting the same server shares one
// queue and one socket.
package tak

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// CoTService is a thread-safe registry of one Connection per server id.
type CoTService struct {
	mutex       sync.Mutex
	connections map[int]*client.Connection
}

// NewCoTService returns an empty connection registry.
func NewCoTService() *CoTService {
	return &CoTService{
		connections: make(map[int]*client.Connection),
	}
}

// GetOrCreate returns the connection for the given server, creating and
// starting it on first use. Creation is single-flight per server id. Asking
// for an id that is already registered with a different configuration is a
// configuration error.
func (s *CoTService) GetOrCreate(cfg *config.TakServerConfig) (*client.Connection, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if conn, found := s.connections[cfg.ID]; found {
		if conn.Config().Digest() != cfg.Digest() {
			return nil, config.NewConfigurationError(
				"server %d is already registered as %v with a different configuration", cfg.ID, conn.Name())
		}
		return conn, nil
	}

	conn, err := client.NewConnection(cfg)
	if err != nil {
		return nil, err
	}
	conn.Start()
	s.connections[cfg.ID] = conn
	log.Infof("Registered TAK server %v (id %d)", conn.Name(), cfg.ID)
	return conn, nil
}

// Get returns the connection for a server id, or nil when none exists.
func (s *CoTService) Get(serverID int) *client.Connection {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connections[serverID]
}

// Close drains and closes one connection, removing it from the registry.
func (s *CoTService) Close(serverID int, grace time.Duration) error {
	s.mutex.Lock()
	conn, found := s.connections[serverID]
	delete(s.connections, serverID)
	s.mutex.Unlock()

	if !found {
		return config.NewConfigurationError("server %d is not registered", serverID)
	}
	conn.Stop(grace)
	log.Infof("Closed TAK server %v (id %d)", conn.Name(), serverID)
	return nil
}

// CloseAll drains and closes every connection in parallel, bounding the total
// shutdown time by the grace period instead of its sum over servers.
func (s *CoTService) CloseAll(grace time.Duration) error {
	s.mutex.Lock()
	connections := make([]*client.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		connections = append(connections, conn)
	}
	s.connections = make(map[int]*client.Connection)
	s.mutex.Unlock()

	var errs *multierror.Error
	var errsMutex sync.Mutex
	wg := sync.WaitGroup{}
	for _, conn := range connections {
		wg.Add(1)
		go func(conn *client.Connection) {
			defer wg.Done()
			conn.Stop(grace)
			if health := conn.Health(); health.ShutdownDrops > 0 {
				errsMutex.Lock()
				errs = multierror.Append(errs, log.Errorf("server %v closed with %d undelivered events", conn.Name(), health.ShutdownDrops))
				errsMutex.Unlock()
			}
		}(conn)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// Statuses returns the health snapshot of every registered connection,
// indexed by server id.
func (s *CoTService) Statuses() map[int]client.Health {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	statuses := make(map[int]client.Health, len(s.connections))
	for id, conn := range s.connections {
		statuses[id] = conn.Health()
	}
	return statuses
}

// ServerIDs returns the registered server ids in ascending order.
func (s *CoTService) ServerIDs() []int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ids := make([]int, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
