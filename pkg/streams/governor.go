// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package streams

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// RunMode reports how the governor executed a batch.
type RunMode string

// Batch execution modes. RunFallbackSerial marks batches that were eligible
// for parallel execution but ran serially, either because the breaker was
// open or because the parallel attempt timed out.
const (
	RunSerial         RunMode = "serial"
	RunParallel       RunMode = "parallel"
	RunFallbackSerial RunMode = "fallback_serial"
)

// GovernorStats is a snapshot of the governor counters.
type GovernorStats struct {
	SerialBatches   int64            `json:"serial_batches"`
	ParallelBatches int64            `json:"parallel_batches"`
	TotalFallbacks  int64            `json:"total_fallbacks"`
	FallbackReasons map[string]int64 `json:"fallback_reasons"`
	BreakerState    string           `json:"breaker_state"`
}

// Governor decides whether a batch of independent tasks runs serially or in
// parallel, keeping parallelism from hurting more than helping. Parallel
// admission runs under a wall-clock budget; a batch that blows the budget is
// re-run serially and counts against the circuit breaker.
type Governor struct {
	clock clock.Clock

	parallelEnabled    bool
	batchSizeThreshold int
	maxConcurrentTasks int64
	processingTimeout  time.Duration

	breaker *circuitBreaker

	serialBatches      *atomic.Int64
	parallelBatches    *atomic.Int64
	fallbackTimeout    *atomic.Int64
	fallbackBreaker    *atomic.Int64
	statsResetInterval time.Duration
	lastStatsReset     *atomic.Int64
}

// NewGovernor builds a governor from the performance section of the bridge
// configuration.
func NewGovernor(clk clock.Clock) *Governor {
	conf := config.Bridge
	recovery := time.Duration(conf.GetInt("performance.circuit_breaker.recovery_timeout")) * time.Second
	return &Governor{
		clock:              clk,
		parallelEnabled:    conf.GetBool("performance.parallel_enabled"),
		batchSizeThreshold: conf.GetInt("performance.batch_size_threshold"),
		maxConcurrentTasks: int64(conf.GetInt("performance.max_concurrent_tasks")),
		processingTimeout:  time.Duration(conf.GetInt("performance.processing_timeout")) * time.Second,
		breaker: newCircuitBreaker(clk,
			conf.GetBool("performance.circuit_breaker.enabled"),
			conf.GetInt("performance.circuit_breaker.failure_threshold"),
			recovery),
		serialBatches:      atomic.NewInt64(0),
		parallelBatches:    atomic.NewInt64(0),
		fallbackTimeout:    atomic.NewInt64(0),
		fallbackBreaker:    atomic.NewInt64(0),
		statsResetInterval: time.Duration(conf.GetInt("performance.statistics_reset_interval")) * time.Second,
		lastStatsReset:     atomic.NewInt64(clk.Now().UnixNano()),
	}
}

// Run executes taskCount independent tasks. Tasks must be idempotent slot
// writers: a batch whose parallel run times out is re-run serially in full.
func (g *Governor) Run(ctx context.Context, taskCount int, task func(int)) RunMode {
	g.maybeResetStats()

	if !g.parallelEnabled || taskCount < g.batchSizeThreshold {
		g.runSerial(ctx, taskCount, task)
		g.serialBatches.Inc()
		return RunSerial
	}

	if !g.breaker.allowParallel() {
		g.fallbackBreaker.Inc()
		g.runSerial(ctx, taskCount, task)
		g.serialBatches.Inc()
		return RunFallbackSerial
	}

	if g.runParallel(ctx, taskCount, task) {
		g.breaker.recordSuccess()
		g.parallelBatches.Inc()
		return RunParallel
	}

	g.breaker.recordFailure()
	g.fallbackTimeout.Inc()
	log.Warnf("Parallel batch of %d tasks exceeded the %v budget, falling back to serial", taskCount, g.processingTimeout)
	g.runSerial(ctx, taskCount, task)
	g.serialBatches.Inc()
	return RunFallbackSerial
}

// Stats returns a snapshot of the governor counters.
func (g *Governor) Stats() GovernorStats {
	return GovernorStats{
		SerialBatches:   g.serialBatches.Load(),
		ParallelBatches: g.parallelBatches.Load(),
		TotalFallbacks:  g.fallbackTimeout.Load() + g.fallbackBreaker.Load(),
		FallbackReasons: map[string]int64{
			"timeout":      g.fallbackTimeout.Load(),
			"breaker_open": g.fallbackBreaker.Load(),
		},
		BreakerState: g.breaker.state(),
	}
}

func (g *Governor) runSerial(ctx context.Context, taskCount int, task func(int)) {
	for i := 0; i < taskCount; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		task(i)
	}
}

// runParallel admits tasks under the concurrency cap until all are started or
// the budget expires. Started tasks always run to completion so that callers
// may re-run the batch serially without racing leftover workers. Returns
// false when admission timed out.
func (g *Governor) runParallel(ctx context.Context, taskCount int, task func(int)) bool {
	budget, cancel := g.clock.WithTimeout(ctx, g.processingTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(g.maxConcurrentTasks)
	wg := sync.WaitGroup{}
	admitted := true
	for i := 0; i < taskCount; i++ {
		if err := sem.Acquire(budget, 1); err != nil {
			admitted = false
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			task(i)
		}(i)
	}
	wg.Wait()
	return admitted && budget.Err() == nil
}

func (g *Governor) maybeResetStats() {
	if g.statsResetInterval <= 0 {
		return
	}
	last := g.lastStatsReset.Load()
	now := g.clock.Now()
	if now.Sub(time.Unix(0, last)) < g.statsResetInterval {
		return
	}
	if g.lastStatsReset.CompareAndSwap(last, now.UnixNano()) {
		g.serialBatches.Store(0)
		g.parallelBatches.Store(0)
		g.fallbackTimeout.Store(0)
		g.fallbackBreaker.Store(0)
	}
}

// circuitBreaker tracks consecutive parallel batch failures. Once the
// failure threshold is hit it forces serial execution for the recovery
// window, then lets a single probe batch try parallel again.
type circuitBreaker struct {
	clock            clock.Clock
	enabled          bool
	failureThreshold int
	recoveryTimeout  time.Duration

	mutex               sync.Mutex
	consecutiveFailures int
	open                bool
	probing             bool
	openedAt            time.Time
}

func newCircuitBreaker(clk clock.Clock, enabled bool, failureThreshold int, recoveryTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		clock:            clk,
		enabled:          enabled,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// allowParallel reports whether the next batch may run parallel. After the
// recovery window it admits exactly one probe batch while staying open for
// everyone else until the probe succeeds.
func (b *circuitBreaker) allowParallel() bool {
	if !b.enabled {
		return true
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.open {
		return true
	}
	if b.clock.Since(b.openedAt) >= b.recoveryTimeout && !b.probing {
		b.probing = true
		return true
	}
	return false
}

func (b *circuitBreaker) recordSuccess() {
	if !b.enabled {
		return
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.open {
		log.Infof("Parallel encoding circuit breaker closed after a successful probe")
	}
	b.consecutiveFailures = 0
	b.open = false
	b.probing = false
}

func (b *circuitBreaker) recordFailure() {
	if !b.enabled {
		return
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.consecutiveFailures++
	if b.probing {
		// Failed probe: stay open for another recovery window.
		b.openedAt = b.clock.Now()
		b.probing = false
		return
	}
	if !b.open && b.consecutiveFailures >= b.failureThreshold {
		b.open = true
		b.openedAt = b.clock.Now()
		log.Warnf("Parallel encoding circuit breaker opened after %d consecutive failures", b.consecutiveFailures)
	}
}

func (b *circuitBreaker) state() string {
	if !b.enabled {
		return "disabled"
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	switch {
	case !b.open:
		return "closed"
	case b.clock.Since(b.openedAt) >= b.recoveryTimeout:
		return "half_open"
	default:
		return "open"
	}
}
