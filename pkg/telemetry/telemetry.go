// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry implements the internal telemetry of the bridge: counters,
// gauges and histograms registered on a dedicated prometheus registry and
// exposed by the status API.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

// Counter tracks how many times something is happening.
type Counter interface {
	Inc(tagsValue ...string)
	Add(value float64, tagsValue ...string)
}

// Gauge tracks the value of one health metric of the bridge.
type Gauge interface {
	Set(value float64, tagsValue ...string)
	Inc(tagsValue ...string)
	Dec(tagsValue ...string)
}

// Histogram tracks the distribution of one metric of the bridge.
type Histogram interface {
	Observe(value float64, tagsValue ...string)
}

type promCounter struct {
	pc *prometheus.CounterVec
}

func (c *promCounter) Inc(tagsValue ...string) {
	c.pc.WithLabelValues(tagsValue...).Inc()
}

func (c *promCounter) Add(value float64, tagsValue ...string) {
	c.pc.WithLabelValues(tagsValue...).Add(value)
}

type promGauge struct {
	pg *prometheus.GaugeVec
}

func (g *promGauge) Set(value float64, tagsValue ...string) {
	g.pg.WithLabelValues(tagsValue...).Set(value)
}

func (g *promGauge) Inc(tagsValue ...string) {
	g.pg.WithLabelValues(tagsValue...).Inc()
}

func (g *promGauge) Dec(tagsValue ...string) {
	g.pg.WithLabelValues(tagsValue...).Dec()
}

type promHistogram struct {
	ph *prometheus.HistogramVec
}

func (h *promHistogram) Observe(value float64, tagsValue ...string) {
	h.ph.WithLabelValues(tagsValue...).Observe(value)
}

// NewCounter creates a Counter with default options for telemetry purpose.
func NewCounter(subsystem, name string, tags []string, help string) Counter {
	c := &promCounter{
		pc: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trakbridge",
				Subsystem: subsystem,
				Name:      name,
				Help:      help,
			},
			tags,
		),
	}
	registry.MustRegister(c.pc)
	return c
}

// NewGauge creates a Gauge with default options for telemetry purpose.
func NewGauge(subsystem, name string, tags []string, help string) Gauge {
	g := &promGauge{
		pg: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "trakbridge",
				Subsystem: subsystem,
				Name:      name,
				Help:      help,
			},
			tags,
		),
	}
	registry.MustRegister(g.pg)
	return g
}

// NewHistogram creates a Histogram with default options for telemetry purpose.
func NewHistogram(subsystem, name string, tags []string, help string, buckets []float64) Histogram {
	h := &promHistogram{
		ph: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "trakbridge",
				Subsystem: subsystem,
				Name:      name,
				Help:      help,
				Buckets:   buckets,
			},
			tags,
		),
	}
	registry.MustRegister(h.ph)
	return h
}

// Handler serves the metrics of the internal registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
