// Package warmer keeps hot spreadsheet ranges in the range cache by
// re-reading them on a fixed cadence shorter than their TTL.
package warmer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ballhead/ballhead/internal/cache"
	"github.com/ballhead/ballhead/pkg/errors"
)

// Cache is the part of the range cache the warmer drives
type Cache interface {
	GetCachedValues(ctx context.Context, spreadsheetID string, ranges []string, ttl time.Duration) (map[string][][]string, error)
	Stats() cache.Stats
}

// Recorder receives one observation per warm-set refresh
type Recorder interface {
	RecordWarmPass(set string, duration time.Duration, err error)
}

// MultiRecorder fans each observation out to several recorders
type MultiRecorder []Recorder

// RecordWarmPass implements Recorder
func (m MultiRecorder) RecordWarmPass(set string, duration time.Duration, err error) {
	for _, r := range m {
		if r != nil {
			r.RecordWarmPass(set, duration, err)
		}
	}
}

// WarmSet is a group of ranges from one spreadsheet refreshed together
type WarmSet struct {
	Name          string
	SpreadsheetID string
	Ranges        []string
	TTL           time.Duration
}

// Config represents cache warmer configuration
type Config struct {
	Sets []WarmSet

	// Interval between passes; defaults to half the smallest warm-set TTL
	Interval time.Duration

	// PassTimeout bounds each warm-set read
	PassTimeout time.Duration

	Clock    clockwork.Clock
	Recorder Recorder
	Logger   *slog.Logger
}

const (
	defaultInterval    = 150 * time.Second
	defaultPassTimeout = 30 * time.Second
)

// Warmer periodically re-reads the configured warm sets through the cache.
// Fresh entries come back as hits, so only stale ranges reach the origin.
type Warmer struct {
	cache    Cache
	sets     []WarmSet
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	recorder Recorder
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	passes atomic.Int64
}

// New creates a warmer. It returns an INVALID_CONFIG error when a warm set
// is malformed or the interval is not shorter than every warm-set TTL.
func New(c Cache, config Config) (*Warmer, error) {
	sets := append([]WarmSet(nil), config.Sets...)
	var minTTL time.Duration
	for i, set := range sets {
		name := set.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			sets[i].Name = name
		}
		switch {
		case set.SpreadsheetID == "":
			return nil, invalid("warm set %s has no spreadsheet ID", name)
		case len(set.Ranges) == 0:
			return nil, invalid("warm set %s has no ranges", name)
		case set.TTL <= 0:
			return nil, invalid("warm set %s needs a positive TTL", name)
		}
		if minTTL == 0 || set.TTL < minTTL {
			minTTL = set.TTL
		}
	}

	interval := config.Interval
	if interval <= 0 {
		interval = defaultInterval
		if minTTL > 0 {
			interval = minTTL / 2
		}
	}
	if minTTL > 0 && interval >= minTTL {
		return nil, invalid("warm interval %v must be shorter than the smallest warm-set TTL %v", interval, minTTL)
	}

	timeout := config.PassTimeout
	if timeout <= 0 {
		timeout = defaultPassTimeout
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Warmer{
		cache:    c,
		sets:     sets,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		recorder: config.Recorder,
		logger:   logger.With("component", "cache-warmer"),
	}, nil
}

// Start warms every set once, then keeps re-warming them every interval
// until Stop is called or ctx ends. Failures are logged and never returned.
func (w *Warmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.runningLocked() {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "cache warmer already running").
			WithComponent("warmer")
	}

	w.logger.Info("Starting cache warmer",
		"sets", len(w.sets),
		"interval", w.interval)

	w.warm(ctx)

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	ticker := w.clock.NewTicker(w.interval)
	go w.loop(ctx, ticker, w.stop, w.done)

	return nil
}

// Stop cancels the schedule and waits for an in-progress pass to finish.
// Stopping a stopped warmer is a no-op.
func (w *Warmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.runningLocked() {
		return
	}
	close(w.stop)
	<-w.done
	w.stop, w.done = nil, nil

	w.logger.Info("Cache warmer stopped")
}

// Running reports whether the schedule is active
func (w *Warmer) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runningLocked()
}

// runningLocked clears the schedule once its loop has exited on its own,
// which happens when the Start context ends. Callers hold w.mu.
func (w *Warmer) runningLocked() bool {
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		w.stop, w.done = nil, nil
		return false
	default:
		return true
	}
}

// Interval returns the effective warm interval
func (w *Warmer) Interval() time.Duration {
	return w.interval
}

func (w *Warmer) loop(ctx context.Context, ticker clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			w.warm(ctx)

			stats := w.cache.Stats()
			w.logger.Info("Cache stats",
				"hit_rate", stats.HitRate,
				"hits", stats.Hits,
				"misses", stats.Misses,
				"api_calls", stats.APICalls,
				"avg_api_time", stats.AvgAPITime,
				"cache_size", stats.CacheSize)
		}
	}
}

// warm refreshes every set with its own read so one bad set does not
// hold back the others.
func (w *Warmer) warm(ctx context.Context) {
	failed := 0
	for _, set := range w.sets {
		if err := w.warmSet(ctx, set); err != nil {
			failed++
		}
	}

	w.logger.Debug("Warm pass completed",
		"pass", w.passes.Add(1),
		"sets", len(w.sets),
		"failed", failed)
}

func (w *Warmer) warmSet(ctx context.Context, set WarmSet) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := w.clock.Now()
	_, err := w.cache.GetCachedValues(ctx, set.SpreadsheetID, set.Ranges, set.TTL)
	elapsed := w.clock.Since(start)

	if w.recorder != nil {
		w.recorder.RecordWarmPass(set.Name, elapsed, err)
	}
	if err != nil {
		w.logger.Error("Failed to warm cache",
			"set", set.Name,
			"spreadsheet_id", set.SpreadsheetID,
			"ranges", len(set.Ranges),
			"error", err)
		return err
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).WithComponent("warmer")
}
