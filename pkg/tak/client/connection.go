// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package client ships encoded CoT events to TAK servers over TCP or TLS.
// Each server gets one Connection holding a bounded FIFO queue and a single
// writer goroutine, so the wire order of delivered events always matches the
// order in which they were accepted.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/metrics"
	"github.com/emfoursolutions/trakbridge/pkg/status/health"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// frameDelimiter terminates every CoT event on the wire.
const frameDelimiter = 0x00

const (
	// blockTimeout is how long an enqueue under the block policy waits for
	// room before rejecting the item.
	blockTimeout = 100 * time.Millisecond
	// healthPingInterval paces the liveness pings of an idle writer.
	healthPingInterval = 15 * time.Second
)

var errPeerClosed = errors.New("connection closed by peer")

// State is the lifecycle state of a connection's I/O driver.
type State int32

// Connection states, in lifecycle order.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EnqueueResult reports how an enqueue was resolved under the overflow policy.
type EnqueueResult int

// Enqueue outcomes. DroppedOldest means the item was accepted after evicting
// the queue head; DroppedNewest and BlockedTimeout mean the item was rejected.
const (
	Accepted EnqueueResult = iota
	DroppedOldest
	DroppedNewest
	BlockedTimeout
)

func (r EnqueueResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DroppedOldest:
		return "dropped_oldest"
	case DroppedNewest:
		return "dropped_newest"
	case BlockedTimeout:
		return "blocked_timeout"
	default:
		return "unknown"
	}
}

// Health is a point-in-time snapshot of a connection.
type Health struct {
	State           string `json:"state"`
	LastError       string `json:"last_error,omitempty"`
	QueueDepth      int    `json:"queue_depth"`
	BytesWritten    int64  `json:"bytes_written_total"`
	DroppedOldest   int64  `json:"dropped_oldest"`
	DroppedNewest   int64  `json:"dropped_newest"`
	BlockedTimeouts int64  `json:"blocked_timeouts"`
	ShutdownDrops   int64  `json:"shutdown_drops"`
	QueueFlushes    int64  `json:"queue_flushes"`
}

// Connection delivers encoded CoT events to one TAK server.
type Connection struct {
	cfg         *config.TakServerConfig
	name        string
	connManager *ConnectionManager

	// queueMu serializes enqueuers against evictions and flushes. The writer
	// goroutine pops without taking it, channel operations are safe on their
	// own and holding the lock on the hot path would let a slow enqueuer
	// stall delivery.
	queue   chan []byte
	queueMu sync.Mutex

	state     *atomic.Int32
	lastError *atomic.Error

	bytesWritten    *atomic.Int64
	droppedOldest   *atomic.Int64
	droppedNewest   *atomic.Int64
	blockedTimeouts *atomic.Int64
	shutdownDrops   *atomic.Int64
	queueFlushes    *atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	stopping    chan struct{}
	done        chan struct{}
	healthToken health.ID
}

// NewConnection returns a connection for the given server. The queue capacity
// and overflow policy come from the server configuration. A TLS server with a
// broken P12 bundle fails here rather than in the writer loop.
func NewConnection(cfg *config.TakServerConfig) (*Connection, error) {
	connManager, err := NewConnectionManager(cfg)
	if err != nil {
		return nil, err
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = config.Bridge.GetInt("defaults.queue_capacity")
	}
	return &Connection{
		cfg:             cfg,
		name:            cfg.DisplayName(),
		connManager:     connManager,
		queue:           make(chan []byte, capacity),
		state:           atomic.NewInt32(int32(StateDisconnected)),
		lastError:       atomic.NewError(nil),
		bytesWritten:    atomic.NewInt64(0),
		droppedOldest:   atomic.NewInt64(0),
		droppedNewest:   atomic.NewInt64(0),
		blockedTimeouts: atomic.NewInt64(0),
		shutdownDrops:   atomic.NewInt64(0),
		queueFlushes:    atomic.NewInt64(0),
		stopping:        make(chan struct{}),
		done:            make(chan struct{}),
	}, nil
}

// Start spawns the writer goroutine. Calling it again, or after Stop, is a
// no-op.
func (c *Connection) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.healthToken = health.Register("tak-connection-" + c.name)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Stop drains the queue for up to grace, then force-closes the connection.
func (c *Connection) Stop(grace time.Duration) {
	c.lifecycleMu.Lock()
	if c.stopped {
		c.lifecycleMu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.lifecycleMu.Unlock()

	if !started {
		c.setState(StateClosed)
		return
	}

	c.setState(StateDraining)
	close(c.stopping)
	select {
	case <-c.done:
	case <-time.After(grace):
	}
	c.cancel()
	<-c.done
	c.setState(StateClosed)

	if err := health.Deregister(c.healthToken); err != nil {
		log.Debugf("Could not deregister health check for %v: %v", c.name, err)
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Name returns the display name of the target server.
func (c *Connection) Name() string {
	return c.name
}

// ServerID returns the id of the target server.
func (c *Connection) ServerID() int {
	return c.cfg.ID
}

// Config returns the server configuration the connection was built from.
func (c *Connection) Config() *config.TakServerConfig {
	return c.cfg
}

// Health returns a snapshot of the connection state and counters.
func (c *Connection) Health() Health {
	h := Health{
		State:           c.State().String(),
		QueueDepth:      len(c.queue),
		BytesWritten:    c.bytesWritten.Load(),
		DroppedOldest:   c.droppedOldest.Load(),
		DroppedNewest:   c.droppedNewest.Load(),
		BlockedTimeouts: c.blockedTimeouts.Load(),
		ShutdownDrops:   c.shutdownDrops.Load(),
		QueueFlushes:    c.queueFlushes.Load(),
	}
	if err := c.lastError.Load(); err != nil {
		h.LastError = err.Error()
	}
	return h
}

// Enqueue submits one encoded event under the server's overflow policy. It
// never blocks for longer than the block policy timeout. Events enqueued on
// a draining or closed connection are rejected.
func (c *Connection) Enqueue(frame []byte) EnqueueResult {
	if s := c.State(); s == StateDraining || s == StateClosed {
		c.droppedNewest.Inc()
		metrics.EventsDropped.Add(1)
		metrics.TlmEventsDropped.Inc(c.name, "closed")
		return DroppedNewest
	}

	var result EnqueueResult
	switch c.cfg.OverflowPolicy {
	case config.OverflowDropNewest:
		result = c.enqueueDropNewest(frame)
	case config.OverflowBlock:
		result = c.enqueueBlock(frame)
	default:
		result = c.enqueueDropOldest(frame)
	}

	if result == Accepted || result == DroppedOldest {
		metrics.EventsEnqueued.Add(1)
		metrics.TlmEventsEnqueued.Inc(c.name)
	}
	c.updateQueueGauge()
	return result
}

func (c *Connection) enqueueDropOldest(frame []byte) EnqueueResult {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	evicted := false
	for {
		select {
		case c.queue <- frame:
			if evicted {
				return DroppedOldest
			}
			return Accepted
		default:
		}
		select {
		case <-c.queue:
			// Evict the head to make room. Only one eviction can happen per
			// enqueue since the writer never adds items back.
			evicted = true
			c.droppedOldest.Inc()
			metrics.EventsDropped.Add(1)
			metrics.TlmEventsDropped.Inc(c.name, "drop_oldest")
		default:
			// The writer drained the queue between the two selects.
		}
	}
}

func (c *Connection) enqueueDropNewest(frame []byte) EnqueueResult {
	select {
	case c.queue <- frame:
		return Accepted
	default:
		c.droppedNewest.Inc()
		metrics.EventsDropped.Add(1)
		metrics.TlmEventsDropped.Inc(c.name, "drop_newest")
		return DroppedNewest
	}
}

func (c *Connection) enqueueBlock(frame []byte) EnqueueResult {
	select {
	case c.queue <- frame:
		return Accepted
	default:
	}
	timer := time.NewTimer(blockTimeout)
	defer timer.Stop()
	select {
	case c.queue <- frame:
		return Accepted
	case <-timer.C:
		c.blockedTimeouts.Inc()
		metrics.EventsDropped.Add(1)
		metrics.TlmEventsDropped.Inc(c.name, "blocked_timeout")
		return BlockedTimeout
	}
}

// FlushOnConfigChange drops every pending event and returns how many were
// dropped. The write in flight, if any, completes.
func (c *Connection) FlushOnConfigChange() int {
	c.queueMu.Lock()
	flushed := 0
	for {
		select {
		case <-c.queue:
			flushed++
		default:
			c.queueMu.Unlock()
			c.queueFlushes.Inc()
			metrics.QueueFlushes.Add(1)
			metrics.TlmQueueFlushes.Inc(c.name)
			if flushed > 0 {
				metrics.EventsDropped.Add(int64(flushed))
				metrics.TlmEventsDropped.Add(float64(flushed), c.name, "flush")
				log.Infof("Flushed %d pending events for %v after configuration change", flushed, c.name)
			}
			c.updateQueueGauge()
			return flushed
		}
	}
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// setRunState is the writer loop's state setter. Draining and Closed belong
// to Stop and are never overridden here, a dial finishing mid-stop must not
// report the connection as live again.
func (c *Connection) setRunState(s State) {
	for {
		cur := c.state.Load()
		if cur == int32(StateDraining) || cur == int32(StateClosed) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (c *Connection) updateQueueGauge() {
	metrics.TlmQueueDepth.Set(float64(len(c.queue)), c.name)
}

// run is the writer loop. It keeps exactly one connection to the server,
// pops frames in FIFO order and writes them out, reconnecting with backoff
// after any failure.
func (c *Connection) run(ctx context.Context) {
	defer close(c.done)

	var conn net.Conn
	var peerClosed chan struct{}
	firstConnect := true

	defer func() {
		if conn != nil {
			c.connManager.CloseConnection(conn)
		}
		if dropped := c.discardQueue(); dropped > 0 {
			log.Debugf("Dropped %d pending events for %v at shutdown", dropped, c.name)
		}
	}()

	healthTicker := time.NewTicker(healthPingInterval)
	defer healthTicker.Stop()

	for {
		if conn == nil {
			c.setRunState(StateConnecting)
			newConn, err := c.connManager.NewConnection(ctx)
			if err != nil {
				// Only happens when the context is cancelled by Stop.
				c.drain(ctx, nil)
				return
			}
			conn = newConn
			peerClosed = make(chan struct{})
			go watchPeer(conn, peerClosed)
			c.setRunState(StateConnected)
			c.lastError.Store(nil)
			if !firstConnect {
				metrics.Reconnects.Add(1)
				metrics.TlmReconnects.Inc(c.name)
			}
			firstConnect = false
			c.ping()
		}

		select {
		case frame := <-c.queue:
			c.updateQueueGauge()
			if err := c.write(conn, frame); err != nil {
				c.connManager.CloseConnection(conn)
				conn, peerClosed = nil, nil
				c.setRunState(StateDisconnected)
			}
		case <-peerClosed:
			log.Infof("Connection to %v closed by peer", c.connManager.address())
			c.lastError.Store(errPeerClosed)
			c.connManager.CloseConnection(conn)
			conn, peerClosed = nil, nil
			c.setRunState(StateDisconnected)
		case <-healthTicker.C:
			c.ping()
		case <-c.stopping:
			c.drain(ctx, conn)
			conn = nil
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain delivers whatever is left in the queue until it is empty or the
// context is cancelled. A write failure follows the usual discipline: the
// in-flight item is discarded and the connection is re-established.
func (c *Connection) drain(ctx context.Context, conn net.Conn) {
	defer func() {
		if conn != nil {
			c.connManager.CloseConnection(conn)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case frame := <-c.queue:
			c.updateQueueGauge()
			if conn == nil {
				newConn, err := c.connManager.NewConnection(ctx)
				if err != nil {
					c.countShutdownDrop(1)
					return
				}
				conn = newConn
			}
			if err := c.write(conn, frame); err != nil {
				c.connManager.CloseConnection(conn)
				conn = nil
			}
		default:
			return
		}
	}
}

func (c *Connection) write(conn net.Conn, frame []byte) error {
	n, err := conn.Write(terminate(frame))
	if err != nil {
		c.lastError.Store(err)
		log.Warnf("Could not write to %v: %v", c.connManager.address(), err)
		metrics.DestinationErrors.Add(1)
		metrics.TlmDestinationErrors.Inc(c.name)
		metrics.EventsDropped.Add(1)
		metrics.TlmEventsDropped.Inc(c.name, "write_error")
		return err
	}
	c.bytesWritten.Add(int64(n))
	metrics.EventsSent.Add(1)
	metrics.TlmEventsSent.Inc(c.name)
	metrics.BytesSent.Add(int64(n))
	metrics.TlmBytesSent.Add(float64(n), c.name)
	return nil
}

// discardQueue empties the queue without writing, counting the loss.
func (c *Connection) discardQueue() int {
	dropped := 0
	for {
		select {
		case <-c.queue:
			dropped++
		default:
			if dropped > 0 {
				c.countShutdownDrop(dropped)
			}
			return dropped
		}
	}
}

func (c *Connection) countShutdownDrop(n int) {
	c.shutdownDrops.Add(int64(n))
	metrics.EventsDropped.Add(int64(n))
	metrics.TlmEventsDropped.Add(float64(n), c.name, "shutdown")
}

func (c *Connection) ping() {
	if err := health.Ping(c.healthToken); err != nil {
		log.Debugf("Could not ping health check for %v: %v", c.name, err)
	}
}

// terminate guarantees exactly one trailing frame delimiter. The frame is
// copied when a delimiter has to be added so that callers can safely share
// one encoded event across connections.
func terminate(frame []byte) []byte {
	if len(frame) > 0 && frame[len(frame)-1] == frameDelimiter {
		return frame
	}
	out := make([]byte, len(frame)+1)
	copy(out, frame)
	out[len(frame)] = frameDelimiter
	return out
}

// watchPeer blocks reading from the connection so that a server-side close is
// noticed even while the queue is idle. Data received from the server, such
// as the situational awareness feed TAK servers broadcast, is discarded.
func watchPeer(conn net.Conn, closed chan struct{}) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			close(closed)
			return
		}
	}
}
