// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package streams runs the polling pipelines of the bridge. A Worker drives
// one stream on its cadence, fetching locations from the provider exactly
// once per tick and fanning the encoded events out to every attached TAK
// connection; the Manager supervises the workers and the Governor decides how
// batches are encoded.
package streams

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/emfoursolutions/trakbridge/pkg/callsign"
	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/cot"
	"github.com/emfoursolutions/trakbridge/pkg/metrics"
	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/status/health"
	"github.com/emfoursolutions/trakbridge/pkg/tak"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Worker lifecycle states.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateDegraded = "degraded"
	StateFailed   = "failed"
	StateStopped  = "stopped"
)

const (
	// failureThreshold is how many consecutive fetch failures mark a stream
	// degraded.
	failureThreshold = 5
	// degradedIntervalCap bounds how far a degraded stream widens its cadence.
	degradedIntervalCap = 10

	// maxFetchTimeout and minFetchTimeout bound the per-tick fetch budget of
	// min(interval - 1s, 60s).
	maxFetchTimeout = 60 * time.Second
	minFetchTimeout = 1 * time.Second
)

// restartBackoff paces the supervised restarts of a crashed tick loop. Once
// it is exhausted the stream is marked failed.
var restartBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// errStreamFailed is returned by the tick loop when the stream hit a terminal
// provider error and must not be restarted.
var errStreamFailed = errors.New("stream failed")

// crashError wraps a recovered tick loop panic so the supervisor can tell
// crashes apart from terminal failures.
type crashError struct {
	value interface{}
}

func (e *crashError) Error() string {
	return fmt.Sprintf("stream worker panic: %v", e.value)
}

// Deps are the process-wide collaborators shared by every stream worker.
type Deps struct {
	Clock      clock.Clock
	HTTPClient *http.Client
	Governor   *Governor
	Service    *tak.CoTService
}

// Status is a point-in-time snapshot of one stream worker.
type Status struct {
	StreamID                 int           `json:"stream_id"`
	Name                     string        `json:"name"`
	Provider                 string        `json:"provider"`
	State                    string        `json:"state"`
	AttachedServers          []int         `json:"attached_servers"`
	PollIntervalSeconds      int           `json:"poll_interval_seconds"`
	EffectiveIntervalSeconds int           `json:"effective_interval_seconds"`
	ConsecutiveFailures      int           `json:"consecutive_failures"`
	TicksCompleted           int64         `json:"ticks_completed"`
	LocationsFetched         int64         `json:"locations_fetched"`
	EventsEncoded            int64         `json:"events_encoded"`
	LastBatchSize            int           `json:"last_batch_size"`
	EnqueueDrops             map[int]int64 `json:"enqueue_drops,omitempty"`
	LastError                string        `json:"last_error,omitempty"`
	LastErrorKind            string        `json:"last_error_kind,omitempty"`
	LastErrorTime            *time.Time    `json:"last_error_time,omitempty"`
	LastTickTime             *time.Time    `json:"last_tick_time,omitempty"`
	LastTickMillis           int64         `json:"last_tick_millis"`
}

// pipeline is the fetch → map → encode → fan-out chain built from one stream
// configuration. Reconfigure swaps the whole pipeline at once so a running
// tick never observes a half-updated stream.
type pipeline struct {
	provider    providers.Provider
	providerCfg providers.Config
	mapper      *callsign.Mapper
	connections []*client.Connection
	drops       map[int]*atomic.Int64
}

// Worker drives one stream: a supervised tick loop polling the provider on
// the configured cadence and distributing the encoded events to every
// attached TAK connection from a single in-memory batch.
type Worker struct {
	id         string
	clock      clock.Clock
	httpClient *http.Client
	governor   *Governor
	service    *tak.CoTService
	encoder    *cot.Encoder

	mu         sync.Mutex
	cfg        *config.StreamConfig
	pipe       *pipeline
	started    bool
	stopped    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// trigger requests an immediate tick; it survives reconfigures.
	trigger chan struct{}

	state               *atomic.String
	consecutiveFailures *atomic.Int32
	ticks               *atomic.Int64
	locationsFetched    *atomic.Int64
	eventsEncoded       *atomic.Int64
	lastBatchSize       *atomic.Int32
	lastTickNano        *atomic.Int64
	lastTickDuration    *atomic.Int64
	lastError           *atomic.Error
	lastErrorKind       *atomic.String
	lastErrorNano       *atomic.Int64
}

// NewWorker builds a worker for the given stream, resolving its provider and
// its attached TAK connections. A stream referencing an unknown server or an
// unregistered provider kind fails here without affecting other streams.
func NewWorker(cfg *config.StreamConfig, servers map[int]*config.TakServerConfig, deps Deps) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateAttachments(servers); err != nil {
		return nil, err
	}
	w := &Worker{
		id:                  strconv.Itoa(cfg.ID),
		clock:               deps.Clock,
		httpClient:          deps.HTTPClient,
		governor:            deps.Governor,
		service:             deps.Service,
		encoder:             cot.NewEncoder(deps.Clock),
		cfg:                 cfg,
		trigger:             make(chan struct{}, 1),
		state:               atomic.NewString(StateStarting),
		consecutiveFailures: atomic.NewInt32(0),
		ticks:               atomic.NewInt64(0),
		locationsFetched:    atomic.NewInt64(0),
		eventsEncoded:       atomic.NewInt64(0),
		lastBatchSize:       atomic.NewInt32(0),
		lastTickNano:        atomic.NewInt64(0),
		lastTickDuration:    atomic.NewInt64(0),
		lastError:           atomic.NewError(nil),
		lastErrorKind:       atomic.NewString(""),
		lastErrorNano:       atomic.NewInt64(0),
	}
	pipe, err := w.buildPipeline(cfg, servers)
	if err != nil {
		return nil, err
	}
	w.pipe = pipe
	return w, nil
}

// buildPipeline resolves the provider and the shared connections of one
// configuration.
func (w *Worker) buildPipeline(cfg *config.StreamConfig, servers map[int]*config.TakServerConfig) (*pipeline, error) {
	provider, err := providers.Build(cfg.ProviderKind)
	if err != nil {
		return nil, config.NewConfigurationError("stream %d (%s): %v", cfg.ID, cfg.Name, err)
	}
	connections := make([]*client.Connection, 0, len(cfg.AttachedServerIDs))
	drops := make(map[int]*atomic.Int64, len(cfg.AttachedServerIDs))
	for _, serverID := range cfg.AttachedServerIDs {
		serverCfg, found := servers[serverID]
		if !found {
			return nil, config.NewConfigurationError("stream %d (%s): attached server %d does not exist", cfg.ID, cfg.Name, serverID)
		}
		conn, err := w.service.GetOrCreate(serverCfg)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
		drops[serverID] = atomic.NewInt64(0)
	}
	return &pipeline{
		provider:    provider,
		providerCfg: providers.Config(cfg.ProviderConfig),
		mapper:      callsign.NewMapper(cfg),
		connections: connections,
		drops:       drops,
	}, nil
}

// Start spawns the supervised tick loop. Calling it again, or after Stop, is
// a no-op. The first tick runs immediately.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.startLoopLocked()
	metrics.TlmStreamsRunning.Inc()
	log.Infof("Started stream %s (%s, provider %s, servers %v)",
		w.id, w.cfg.Name, w.cfg.ProviderKind, w.cfg.AttachedServerIDs)
}

// startLoopLocked spawns one supervised loop generation for the current
// configuration. Callers hold w.mu.
func (w *Worker) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.loopCancel = cancel
	w.loopDone = done
	go w.supervise(ctx, done, w.cfg, w.pipe)
}

// stopLoopLocked cancels the current loop generation and waits for it to
// exit. Callers hold w.mu.
func (w *Worker) stopLoopLocked(grace time.Duration) error {
	if w.loopCancel == nil {
		return nil
	}
	w.loopCancel()
	select {
	case <-w.loopDone:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("stream %s did not stop within %v", w.id, grace)
	}
}

// Stop cancels the tick loop, preempting the inter-tick sleep and any
// in-flight fetch, and waits up to grace for it to exit.
func (w *Worker) Stop(grace time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	if !w.started {
		w.state.Store(StateStopped)
		return nil
	}
	err := w.stopLoopLocked(grace)
	w.state.Store(StateStopped)
	metrics.TlmStreamsRunning.Dec()
	if err != nil {
		log.Warnf("%v", err)
		return err
	}
	log.Infof("Stopped stream %s (%s)", w.id, w.cfg.Name)
	return nil
}

// TriggerNow schedules an immediate tick, coalescing with one already
// pending.
func (w *Worker) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Reconfigure atomically replaces the stream configuration: the old tick loop
// is cancelled, the affected connection queues are flushed when the server
// attachments changed, and a new loop starts from the new configuration.
// Reconfiguring a healthy worker to an identical configuration is a no-op;
// on a failed worker it restarts the loop, which is the documented way to
// clear an auth failure.
func (w *Worker) Reconfigure(newCfg *config.StreamConfig, servers map[int]*config.TakServerConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return config.NewConfigurationError("stream %s is stopped", w.id)
	}
	if newCfg.Digest() == w.cfg.Digest() && w.state.Load() != StateFailed {
		log.Debugf("Stream %s: configuration unchanged, skipping reconfigure", w.id)
		return nil
	}
	flush := !equalServerIDs(w.cfg.AttachedServerIDs, newCfg.AttachedServerIDs) && newCfg.ShouldFlushOnConfigChange()
	return w.swapPipelineLocked(newCfg, servers, flush)
}

// Rebind rebuilds the pipeline from the current configuration, re-resolving
// the attached connections. The manager uses it when a TAK server definition
// changed underneath an otherwise untouched stream.
func (w *Worker) Rebind(servers map[int]*config.TakServerConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return config.NewConfigurationError("stream %s is stopped", w.id)
	}
	return w.swapPipelineLocked(w.cfg, servers, false)
}

// swapPipelineLocked performs the loop swap shared by Reconfigure and Rebind:
// build the new pipeline first so a broken configuration leaves the old loop
// running, then cancel, flush, swap and restart. Callers hold w.mu.
func (w *Worker) swapPipelineLocked(newCfg *config.StreamConfig, servers map[int]*config.TakServerConfig, flush bool) error {
	if err := newCfg.Validate(); err != nil {
		return err
	}
	if err := newCfg.ValidateAttachments(servers); err != nil {
		return err
	}
	pipe, err := w.buildPipeline(newCfg, servers)
	if err != nil {
		return err
	}

	if w.started {
		if err := w.stopLoopLocked(stopGrace()); err != nil {
			log.Warnf("Stream %s: %v", w.id, err)
		}
	}
	if flush {
		// Pending events were encoded under the old configuration; give the
		// old and the new attachments a clean start. The write already in
		// flight completes.
		for _, conn := range flushTargets(w.pipe, pipe) {
			conn.FlushOnConfigChange()
		}
	}

	w.cfg = newCfg
	w.id = strconv.Itoa(newCfg.ID)
	w.pipe = pipe
	w.consecutiveFailures.Store(0)
	w.state.Store(StateStarting)
	w.lastError.Store(nil)
	w.lastErrorKind.Store("")
	if w.started {
		w.startLoopLocked()
	}
	log.Infof("Reconfigured stream %s (%s)", w.id, newCfg.Name)
	return nil
}

// Config returns the configuration the worker currently runs.
func (w *Worker) Config() *config.StreamConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// State returns the current lifecycle state.
func (w *Worker) State() string {
	return w.state.Load()
}

// Status returns a snapshot of the worker state and counters.
func (w *Worker) Status() Status {
	w.mu.Lock()
	cfg := w.cfg
	pipe := w.pipe
	w.mu.Unlock()

	failures := int(w.consecutiveFailures.Load())
	status := Status{
		StreamID:                 cfg.ID,
		Name:                     cfg.Name,
		Provider:                 cfg.ProviderKind,
		State:                    w.state.Load(),
		AttachedServers:          append([]int(nil), cfg.AttachedServerIDs...),
		PollIntervalSeconds:      cfg.PollIntervalSeconds,
		EffectiveIntervalSeconds: int(effectiveInterval(cfg.PollInterval(), failures) / time.Second),
		ConsecutiveFailures:      failures,
		TicksCompleted:           w.ticks.Load(),
		LocationsFetched:         w.locationsFetched.Load(),
		EventsEncoded:            w.eventsEncoded.Load(),
		LastBatchSize:            int(w.lastBatchSize.Load()),
		LastTickMillis:           time.Duration(w.lastTickDuration.Load()).Milliseconds(),
	}
	if len(pipe.drops) > 0 {
		status.EnqueueDrops = make(map[int]int64, len(pipe.drops))
		for serverID, counter := range pipe.drops {
			status.EnqueueDrops[serverID] = counter.Load()
		}
	}
	if err := w.lastError.Load(); err != nil {
		status.LastError = err.Error()
		status.LastErrorKind = w.lastErrorKind.Load()
		at := time.Unix(0, w.lastErrorNano.Load()).UTC()
		status.LastErrorTime = &at
	}
	if nano := w.lastTickNano.Load(); nano > 0 {
		at := time.Unix(0, nano).UTC()
		status.LastTickTime = &at
	}
	return status
}

// supervise runs the tick loop, restarting it with backoff when it crashes.
// A clean exit (stop, reconfigure) ends supervision; a terminal stream
// failure marks the worker failed without restarting.
func (w *Worker) supervise(ctx context.Context, done chan struct{}, cfg *config.StreamConfig, pipe *pipeline) {
	defer close(done)
	err := retry.Do(
		func() error {
			return w.runLoopRecovered(ctx, cfg, pipe)
		},
		retry.Context(ctx),
		retry.Attempts(uint(len(restartBackoff)+1)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			if int(n) >= len(restartBackoff) {
				return restartBackoff[len(restartBackoff)-1]
			}
			return restartBackoff[n]
		}),
		retry.RetryIf(func(err error) bool {
			var crash *crashError
			return errors.As(err, &crash)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Errorf("Stream %s crashed (restart %d/%d): %v", w.id, n+1, len(restartBackoff), err)
		}),
	)
	if err == nil || errors.Is(err, errStreamFailed) || errors.Is(err, context.Canceled) {
		return
	}
	// Restart budget exhausted.
	w.recordError("crash", err)
	w.state.Store(StateFailed)
	log.Errorf("Stream %s gave up after %d restarts: %v", w.id, len(restartBackoff), err)
}

// runLoopRecovered wraps one tick loop generation with panic recovery so the
// supervisor can restart crashed streams.
func (w *Worker) runLoopRecovered(ctx context.Context, cfg *config.StreamConfig, pipe *pipeline) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Stream %s: tick loop panic: %v\n%s", w.id, r, debug.Stack())
			err = &crashError{value: r}
		}
	}()
	return w.runLoop(ctx, cfg, pipe)
}

// runLoop is one generation of the tick loop: tick, then sleep until the next
// cadence point, a trigger or cancellation.
func (w *Worker) runLoop(ctx context.Context, cfg *config.StreamConfig, pipe *pipeline) error {
	token := health.RegisterWithCustomTimeout("stream-"+cfg.Name, 2*cfg.PollInterval())
	defer func() {
		if err := health.Deregister(token); err != nil {
			log.Debugf("Could not deregister health check for stream %s: %v", w.id, err)
		}
	}()

	for {
		if err := health.Ping(token); err != nil {
			log.Debugf("Could not ping health check for stream %s: %v", w.id, err)
		}
		if err := w.tick(ctx, cfg, pipe); err != nil {
			return err
		}

		interval := effectiveInterval(cfg.PollInterval(), int(w.consecutiveFailures.Load()))
		timer := w.clock.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-w.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tick runs one poll cycle: fetch once, map callsigns, encode and fan the
// batch out to every attached connection in batch order.
func (w *Worker) tick(ctx context.Context, cfg *config.StreamConfig, pipe *pipeline) error {
	started := w.clock.Now()

	fetchCtx, cancel := w.clock.WithTimeout(ctx, fetchTimeout(cfg.PollInterval()))
	locations, err := pipe.provider.Fetch(fetchCtx, w.httpClient, pipe.providerCfg)
	cancel()
	metrics.TlmFetchLatency.Observe(w.clock.Since(started).Seconds(), w.id)
	if err != nil {
		return w.recordFetchError(ctx, err)
	}
	w.recordFetchSuccess(cfg, len(locations))

	kept := pipe.mapper.Apply(locations)
	frames := w.encodeBatch(ctx, cfg, kept)
	w.fanOut(pipe, frames)

	w.eventsEncoded.Add(int64(len(frames)))
	w.lastBatchSize.Store(int32(len(frames)))
	w.lastTickNano.Store(started.UnixNano())
	w.lastTickDuration.Store(int64(w.clock.Since(started)))
	w.ticks.Inc()
	return nil
}

// encodeBatch encodes the batch under the governor, preserving input order.
// Invalid locations are skipped; a parallel run that blew its budget was
// already re-run serially by the governor, writing the same slots.
func (w *Worker) encodeBatch(ctx context.Context, cfg *config.StreamConfig, locations []*tracker.Location) [][]byte {
	if len(locations) == 0 {
		return nil
	}
	slots := make([][]byte, len(locations))
	mode := w.governor.Run(ctx, len(locations), func(i int) {
		frame, err := w.encoder.Encode(locations[i], cfg, cot.ResolveType(locations[i], cfg))
		if err != nil {
			log.Warnf("Stream %s: %v", w.id, err)
			slots[i] = nil
			return
		}
		slots[i] = frame
	})

	frames := make([][]byte, 0, len(slots))
	for _, frame := range slots {
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	if rejected := len(locations) - len(frames); rejected > 0 {
		metrics.LocationsRejected.Add(int64(rejected))
		metrics.TlmLocationsRejected.Add(float64(rejected), w.id)
	}
	metrics.EventsEncoded.Add(int64(len(frames)))
	metrics.TlmEventsEncoded.Add(float64(len(frames)), w.id)
	if mode == RunFallbackSerial {
		metrics.EncodeFallbacks.Add(int64(len(frames)))
		metrics.TlmEncodeFallbacks.Add(float64(len(frames)), w.id)
	}
	return frames
}

// fanOut enqueues the batch to every attached connection, in batch order on
// each of them. Overflow drops are counted per server; they never slow the
// polling cadence down.
func (w *Worker) fanOut(pipe *pipeline, frames [][]byte) {
	for _, conn := range pipe.connections {
		rejected := 0
		for _, frame := range frames {
			switch conn.Enqueue(frame) {
			case client.Accepted, client.DroppedOldest:
			default:
				rejected++
			}
		}
		if rejected > 0 {
			pipe.drops[conn.ServerID()].Add(int64(rejected))
			log.Debugf("Stream %s: %d of %d events rejected by %v", w.id, rejected, len(frames), conn.Name())
		}
	}
}

// recordFetchSuccess resets the failure accounting and promotes the stream
// back to running.
func (w *Worker) recordFetchSuccess(cfg *config.StreamConfig, count int) {
	if w.consecutiveFailures.Swap(0) >= failureThreshold {
		log.Infof("Stream %s recovered, back to the configured %v cadence", w.id, cfg.PollInterval())
	}
	w.state.Store(StateRunning)
	w.locationsFetched.Add(int64(count))
	metrics.LocationsFetched.Add(int64(count))
	metrics.TlmLocationsFetched.Add(float64(count), w.id, cfg.ProviderKind)
}

// recordFetchError sorts one fetch failure into the provider error taxonomy:
// auth and fatal errors are terminal for the stream, everything else is
// transient and only degrades the cadence after repeated failures.
func (w *Worker) recordFetchError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		// Stop or reconfigure preempted the fetch.
		return nil
	}
	switch {
	case providers.IsAuth(err):
		w.recordError("auth", err)
		w.state.Store(StateFailed)
		metrics.FetchErrors.Add(1)
		metrics.TlmFetchErrors.Inc(w.id, "auth")
		log.Errorf("Stream %s: provider credentials rejected, stopping the stream until it is reconfigured: %v", w.id, err)
		return errStreamFailed
	case providers.IsFatal(err):
		w.recordError("fatal", err)
		w.state.Store(StateFailed)
		metrics.FetchErrors.Add(1)
		metrics.TlmFetchErrors.Inc(w.id, "fatal")
		log.Errorf("Stream %s: provider misconfigured, stopping the stream until it is reconfigured: %v", w.id, err)
		return errStreamFailed
	default:
		w.recordError("transient", err)
		failures := int(w.consecutiveFailures.Inc())
		metrics.FetchErrors.Add(1)
		metrics.TlmFetchErrors.Inc(w.id, "transient")
		if failures == failureThreshold {
			w.state.Store(StateDegraded)
			log.Warnf("Stream %s degraded after %d consecutive failures, widening the poll interval (last error: %v)", w.id, failures, err)
		} else {
			log.Warnf("Stream %s: fetch failed (%d consecutive): %v", w.id, failures, err)
		}
		return nil
	}
}

func (w *Worker) recordError(kind string, err error) {
	w.lastError.Store(err)
	w.lastErrorKind.Store(kind)
	w.lastErrorNano.Store(w.clock.Now().UnixNano())
}

// effectiveInterval widens the poll cadence while the stream is degraded: the
// interval doubles for every consecutive failure past the threshold, capped
// at ten times the configured cadence.
func effectiveInterval(base time.Duration, consecutiveFailures int) time.Duration {
	if consecutiveFailures < failureThreshold {
		return base
	}
	widened := 2 * base
	for i := failureThreshold; i < consecutiveFailures && widened < degradedIntervalCap*base; i++ {
		widened *= 2
	}
	if widened > degradedIntervalCap*base {
		widened = degradedIntervalCap * base
	}
	return widened
}

// fetchTimeout bounds one provider fetch to min(interval - 1s, 60s), floored
// at one second so sub-2s cadences still get a usable budget.
func fetchTimeout(interval time.Duration) time.Duration {
	timeout := interval - time.Second
	if timeout > maxFetchTimeout {
		timeout = maxFetchTimeout
	}
	if timeout < minFetchTimeout {
		timeout = minFetchTimeout
	}
	return timeout
}

// stopGrace is the loop handover deadline used by reconfigure.
func stopGrace() time.Duration {
	return time.Duration(config.Bridge.GetInt("stop_grace_period")) * time.Second
}

// flushTargets returns the union of the old and new attached connections,
// deduplicated by server id.
func flushTargets(oldPipe, newPipe *pipeline) []*client.Connection {
	seen := make(map[int]bool, len(oldPipe.connections)+len(newPipe.connections))
	targets := make([]*client.Connection, 0, len(oldPipe.connections)+len(newPipe.connections))
	for _, conn := range append(append([]*client.Connection(nil), oldPipe.connections...), newPipe.connections...) {
		if seen[conn.ServerID()] {
			continue
		}
		seen[conn.ServerID()] = true
		targets = append(targets, conn)
	}
	return targets
}

// equalServerIDs compares two attachment sets regardless of order.
func equalServerIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	bs := append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
