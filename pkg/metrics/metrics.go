// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics holds the expvar and telemetry counters shared by the
// streaming pipeline, from provider fetch down to TAK delivery.
package metrics

import (
	"expvar"

	"github.com/emfoursolutions/trakbridge/pkg/telemetry"
)

var (
	// BridgeExpvars contains the metrics of the bridge pipeline.
	BridgeExpvars *expvar.Map

	// LocationsFetched is the total number of locations fetched from providers.
	LocationsFetched = expvar.Int{}
	// TlmLocationsFetched is the total number of locations fetched from providers.
	TlmLocationsFetched = telemetry.NewCounter("providers", "locations_fetched",
		[]string{"stream", "provider"}, "Total number of locations fetched from providers")
	// LocationsRejected is the total number of locations dropped by validation.
	LocationsRejected = expvar.Int{}
	// TlmLocationsRejected is the total number of locations dropped by validation.
	TlmLocationsRejected = telemetry.NewCounter("providers", "locations_rejected",
		[]string{"stream"}, "Total number of locations dropped by validation")
	// FetchErrors is the total number of provider fetch failures.
	FetchErrors = expvar.Int{}
	// TlmFetchErrors is the total number of provider fetch failures.
	TlmFetchErrors = telemetry.NewCounter("providers", "fetch_errors",
		[]string{"stream", "kind"}, "Total number of provider fetch failures")
	// CallsignDrops is the total number of locations dropped by callsign mapping.
	CallsignDrops = expvar.Int{}
	// TlmCallsignDrops is the total number of locations dropped by callsign mapping.
	TlmCallsignDrops = telemetry.NewCounter("callsign", "drops",
		[]string{"stream", "reason"}, "Total number of locations dropped by callsign mapping")

	// EventsEncoded is the total number of locations encoded to CoT events.
	EventsEncoded = expvar.Int{}
	// TlmEventsEncoded is the total number of locations encoded to CoT events.
	TlmEventsEncoded = telemetry.NewCounter("cot", "events_encoded",
		[]string{"stream"}, "Total number of locations encoded to CoT events")
	// EncodeFallbacks is the total number of events encoded by the per-event fallback path.
	EncodeFallbacks = expvar.Int{}
	// TlmEncodeFallbacks is the total number of events encoded by the per-event fallback path.
	TlmEncodeFallbacks = telemetry.NewCounter("cot", "encode_fallbacks",
		[]string{"stream"}, "Total number of events encoded by the per-event fallback path")

	// EventsEnqueued is the total number of events accepted by destination queues.
	EventsEnqueued = expvar.Int{}
	// TlmEventsEnqueued is the total number of events accepted by destination queues.
	TlmEventsEnqueued = telemetry.NewCounter("tak", "events_enqueued",
		[]string{"destination"}, "Total number of events accepted by destination queues")
	// EventsSent is the total number of events written to TAK servers.
	EventsSent = expvar.Int{}
	// TlmEventsSent is the total number of events written to TAK servers.
	TlmEventsSent = telemetry.NewCounter("tak", "events_sent",
		[]string{"destination"}, "Total number of events written to TAK servers")
	// EventsDropped is the total number of events dropped before delivery.
	EventsDropped = expvar.Int{}
	// TlmEventsDropped is the total number of events dropped before delivery.
	TlmEventsDropped = telemetry.NewCounter("tak", "events_dropped",
		[]string{"destination", "reason"}, "Total number of events dropped before delivery")
	// BytesSent is the total number of bytes written to TAK servers.
	BytesSent = expvar.Int{}
	// TlmBytesSent is the total number of bytes written to TAK servers.
	TlmBytesSent = telemetry.NewCounter("tak", "bytes_sent",
		[]string{"destination"}, "Total number of bytes written to TAK servers")
	// DestinationErrors is the total number of connection errors per destination.
	DestinationErrors = expvar.Int{}
	// TlmDestinationErrors is the total number of connection errors per destination.
	TlmDestinationErrors = telemetry.NewCounter("tak", "destination_errors",
		[]string{"destination"}, "Total number of connection errors per destination")
	// Reconnects is the total number of reconnections to TAK servers.
	Reconnects = expvar.Int{}
	// TlmReconnects is the total number of reconnections to TAK servers.
	TlmReconnects = telemetry.NewCounter("tak", "reconnects",
		[]string{"destination"}, "Total number of reconnections to TAK servers")
	// QueueFlushes is the total number of queue flushes caused by reconfiguration.
	QueueFlushes = expvar.Int{}
	// TlmQueueFlushes is the total number of queue flushes caused by reconfiguration.
	TlmQueueFlushes = telemetry.NewCounter("tak", "queue_flushes",
		[]string{"destination"}, "Total number of queue flushes caused by reconfiguration")

	// TlmQueueDepth reports the current depth of each destination queue.
	TlmQueueDepth = telemetry.NewGauge("tak", "queue_depth",
		[]string{"destination"}, "Current depth of each destination queue")
	// TlmStreamsRunning reports the number of stream workers currently running.
	TlmStreamsRunning = telemetry.NewGauge("streams", "running",
		nil, "Number of stream workers currently running")
	// TlmFetchLatency reports the distribution of provider fetch latencies.
	TlmFetchLatency = telemetry.NewHistogram("providers", "fetch_latency",
		[]string{"stream"}, "Distribution of provider fetch latencies in seconds",
		[]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60})
)

func init() {
	BridgeExpvars = expvar.NewMap("trakbridge")
	BridgeExpvars.Set("LocationsFetched", &LocationsFetched)
	BridgeExpvars.Set("LocationsRejected", &LocationsRejected)
	BridgeExpvars.Set("FetchErrors", &FetchErrors)
	BridgeExpvars.Set("CallsignDrops", &CallsignDrops)
	BridgeExpvars.Set("EventsEncoded", &EventsEncoded)
	BridgeExpvars.Set("EncodeFallbacks", &EncodeFallbacks)
	BridgeExpvars.Set("EventsEnqueued", &EventsEnqueued)
	BridgeExpvars.Set("EventsSent", &EventsSent)
	BridgeExpvars.Set("EventsDropped", &EventsDropped)
	BridgeExpvars.Set("BytesSent", &BytesSent)
	BridgeExpvars.Set("DestinationErrors", &DestinationErrors)
	BridgeExpvars.Set("Reconnects", &Reconnects)
	BridgeExpvars.Set("QueueFlushes", &QueueFlushes)
}
