/*
Package metrics provides Prometheus metrics for the Ballhead range cache.

# Overview

Collector owns a private Prometheus registry and implements the recorder
hooks used by the range cache, the cache warmer and the Sheets origin. The
registry is served by the operator API under /metrics.

	┌─────────────┐      ┌──────────────┐      ┌──────────────┐
	│ cache       │      │ warmer       │      │ sheets       │
	│ hits/misses │      │ warm passes  │      │ breaker state│
	│ origin calls│      │              │      │              │
	└──────┬──────┘      └──────┬───────┘      └──────┬───────┘
	       └────────────────────┼─────────────────────┘
	                     ┌──────▼──────┐
	                     │  Collector  │──► /metrics
	                     └─────────────┘

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Namespace: "ballhead",
	})
	if err != nil {
		return err
	}

	svc := cache.NewService(origin, cache.WithRecorder(collector))
	mux.Handle("/metrics", collector.Handler())

A disabled collector is safe to use; every recording method is a no-op.

# Prometheus Metrics

Counters:
  - ballhead_cache_requests_total{type}: Range lookups by hit or miss
  - ballhead_origin_calls_total{status}: Batched origin reads by outcome
  - ballhead_warm_passes_total{set,status}: Warm-set refreshes by outcome
  - ballhead_errors_total{operation,type}: Errors by operation and error code

Histograms:
  - ballhead_origin_call_duration_seconds: Origin batch read latency
  - ballhead_origin_call_ranges: Ranges per origin batch read
  - ballhead_warm_pass_duration_seconds{set}: Warm-set refresh latency

Gauges:
  - ballhead_cache_entries: Entries currently held, expired ones included until swept
  - ballhead_circuit_breaker_state{breaker}: 0 closed, 1 open, 2 half-open

# Error Classification

Errors carrying a pkg/errors code are labelled with the lower-cased code
(origin_fetch, origin_auth, quota_exceeded). Other errors are classified by
message as timeout, canceled, connection, throttling or other.
*/
package metrics
