// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package streams

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Manager owns the stream workers, at most one per stream id. Broken streams
// are isolated: a stream that fails to load or reload never keeps the others
// from running.
type Manager struct {
	deps Deps

	mu      sync.Mutex
	workers map[int]*Worker
	servers map[int]*config.TakServerConfig
}

// NewManager returns an empty manager sharing deps across its workers.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:    deps,
		workers: make(map[int]*Worker),
		servers: make(map[int]*config.TakServerConfig),
	}
}

// LoadAll builds and starts a worker for every active stream of the snapshot.
// Streams that fail to load are reported in the returned multierror and
// skipped, the healthy ones run.
func (m *Manager) LoadAll(snapshot *config.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.servers = snapshot.ServersByID()
	var errs *multierror.Error
	for _, cfg := range snapshot.Streams {
		if !cfg.IsActive() {
			log.Infof("Stream %d (%s) is inactive, not starting it", cfg.ID, cfg.Name)
			continue
		}
		if _, exists := m.workers[cfg.ID]; exists {
			errs = multierror.Append(errs, config.NewConfigurationError("stream %d is already loaded", cfg.ID))
			continue
		}
		worker, err := NewWorker(cfg, m.servers, m.deps)
		if err != nil {
			errs = multierror.Append(errs, err)
			log.Errorf("Could not load stream %d (%s): %v", cfg.ID, cfg.Name, err)
			continue
		}
		m.workers[cfg.ID] = worker
		worker.Start()
	}
	return errs.ErrorOrNil()
}

// Start starts a loaded stream. A stopped worker cannot be restarted in
// place, it is rebuilt from its configuration.
func (m *Manager) Start(streamID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	worker, found := m.workers[streamID]
	if !found {
		return config.NewConfigurationError("stream %d is not loaded", streamID)
	}
	if worker.State() != StateStopped {
		worker.Start()
		return nil
	}
	fresh, err := NewWorker(worker.Config(), m.servers, m.deps)
	if err != nil {
		return err
	}
	m.workers[streamID] = fresh
	fresh.Start()
	return nil
}

// Stop stops one stream. The worker stays in the registry, reporting itself
// stopped, so that Start can revive it.
func (m *Manager) Stop(streamID int, grace time.Duration) error {
	m.mu.Lock()
	worker, found := m.workers[streamID]
	m.mu.Unlock()

	if !found {
		return config.NewConfigurationError("stream %d is not loaded", streamID)
	}
	return worker.Stop(grace)
}

// StopAll stops every worker in parallel, bounding the total shutdown time by
// the grace period instead of its sum over streams.
func (m *Manager) StopAll(grace time.Duration) error {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, worker := range m.workers {
		workers = append(workers, worker)
	}
	m.mu.Unlock()

	var errs *multierror.Error
	var errsMutex sync.Mutex
	wg := sync.WaitGroup{}
	for _, worker := range workers {
		wg.Add(1)
		go func(worker *Worker) {
			defer wg.Done()
			if err := worker.Stop(grace); err != nil {
				errsMutex.Lock()
				errs = multierror.Append(errs, err)
				errsMutex.Unlock()
			}
		}(worker)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// TriggerNow schedules an immediate tick on one stream.
func (m *Manager) TriggerNow(streamID int) error {
	m.mu.Lock()
	worker, found := m.workers[streamID]
	m.mu.Unlock()

	if !found {
		return config.NewConfigurationError("stream %d is not loaded", streamID)
	}
	worker.TriggerNow()
	return nil
}

// Reconfigure applies a new configuration to one loaded stream.
func (m *Manager) Reconfigure(cfg *config.StreamConfig) error {
	m.mu.Lock()
	worker, found := m.workers[cfg.ID]
	servers := m.servers
	m.mu.Unlock()

	if !found {
		return config.NewConfigurationError("stream %d is not loaded", cfg.ID)
	}
	return worker.Reconfigure(cfg, servers)
}

// Status returns the snapshot of one stream.
func (m *Manager) Status(streamID int) (Status, error) {
	m.mu.Lock()
	worker, found := m.workers[streamID]
	m.mu.Unlock()

	if !found {
		return Status{}, config.NewConfigurationError("stream %d is not loaded", streamID)
	}
	return worker.Status(), nil
}

// StatusAll returns the snapshot of every loaded stream, ordered by id.
func (m *Manager) StatusAll() []Status {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, worker := range m.workers {
		workers = append(workers, worker)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(workers))
	for _, worker := range workers {
		statuses = append(statuses, worker.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].StreamID < statuses[j].StreamID })
	return statuses
}

// StreamIDs returns the loaded stream ids in ascending order.
func (m *Manager) StreamIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Reload diffs the running state against a new snapshot: removed or
// deactivated streams stop, new streams start, changed streams reconfigure.
// Server definitions that changed are torn down first so the surviving
// streams rebind to connections built from the new definition; connections
// that no stream attaches to anymore are drained and closed.
func (m *Manager) Reload(snapshot *config.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grace := stopGrace()
	newServers := snapshot.ServersByID()
	var errs *multierror.Error

	// Close connections whose server definition changed or disappeared. The
	// next GetOrCreate rebuilds them from the new definition; enqueues racing
	// the teardown are dropped and counted, never blocked.
	changedServers := make(map[int]bool)
	for _, serverID := range m.deps.Service.ServerIDs() {
		conn := m.deps.Service.Get(serverID)
		if conn == nil {
			continue
		}
		if newCfg, found := newServers[serverID]; found && newCfg.Digest() == conn.Config().Digest() {
			continue
		}
		changedServers[serverID] = true
		if err := m.deps.Service.Close(serverID, grace); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	desired := make(map[int]*config.StreamConfig, len(snapshot.Streams))
	for _, cfg := range snapshot.Streams {
		if cfg.IsActive() {
			desired[cfg.ID] = cfg
		}
	}

	// Stopped workers are rebuilt below when still desired, a reload applies
	// the snapshot regardless of earlier operator stops.
	for id, worker := range m.workers {
		if _, keep := desired[id]; keep && worker.State() != StateStopped {
			continue
		}
		if err := worker.Stop(grace); err != nil {
			errs = multierror.Append(errs, err)
		}
		delete(m.workers, id)
	}

	m.servers = newServers

	ids := make([]int, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		cfg := desired[id]
		worker, exists := m.workers[id]
		if !exists {
			fresh, err := NewWorker(cfg, m.servers, m.deps)
			if err != nil {
				errs = multierror.Append(errs, err)
				log.Errorf("Could not load stream %d (%s): %v", cfg.ID, cfg.Name, err)
				continue
			}
			m.workers[id] = fresh
			fresh.Start()
			continue
		}
		switch {
		case cfg.Digest() != worker.Config().Digest() || worker.State() == StateFailed:
			if err := worker.Reconfigure(cfg, m.servers); err != nil {
				errs = multierror.Append(errs, err)
			}
		case touchesChangedServer(cfg.AttachedServerIDs, changedServers):
			if err := worker.Rebind(m.servers); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	// Garbage-collect orphaned connections.
	attached := make(map[int]bool)
	for _, worker := range m.workers {
		for _, serverID := range worker.Config().AttachedServerIDs {
			attached[serverID] = true
		}
	}
	for _, serverID := range m.deps.Service.ServerIDs() {
		if attached[serverID] {
			continue
		}
		if err := m.deps.Service.Close(serverID, grace); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	log.Infof("Reloaded snapshot: %d streams running, %d servers connected",
		len(m.workers), len(m.deps.Service.ServerIDs()))
	return nil
}

func touchesChangedServer(serverIDs []int, changed map[int]bool) bool {
	for _, id := range serverIDs {
		if changed[id] {
			return true
		}
	}
	return false
}
