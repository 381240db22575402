package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ballhead/ballhead/pkg/errors"
)

// Origin reads ranges of one spreadsheet in a single batched call. Results
// are in request order.
type Origin interface {
	BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error)
}

// Recorder receives cache telemetry. internal/metrics.Collector implements it.
type Recorder interface {
	RecordCacheHit(n int)
	RecordCacheMiss(n int)
	RecordOriginCall(ranges int, duration time.Duration, err error)
	UpdateCacheSize(entries int)
}

// Config represents range cache configuration
type Config struct {
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	StatsResetInterval time.Duration `yaml:"stats_reset_interval"`

	Clock    clockwork.Clock `yaml:"-"`
	Recorder Recorder        `yaml:"-"`
	Logger   *slog.Logger    `yaml:"-"`
}

// Stats is a point-in-time snapshot of cache telemetry
type Stats struct {
	HitRate    string        `json:"hit_rate"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	APICalls   int64         `json:"api_calls"`
	AvgAPITime time.Duration `json:"avg_api_time"`
	CacheSize  int           `json:"cache_size"`
	Uptime     time.Duration `json:"uptime"`
	LastReset  time.Time     `json:"last_reset"`
}

type entryKey struct {
	spreadsheetID string
	rng           string
}

type entry struct {
	values    [][]string
	expiresAt time.Time
}

type counters struct {
	hits         int64
	misses       int64
	apiCalls     int64
	totalAPITime time.Duration
	lastReset    time.Time
}

// Service is a read-through cache of spreadsheet ranges. Each
// GetCachedValues call makes at most one batched origin read.
type Service struct {
	origin   Origin
	config   Config
	clock    clockwork.Clock
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[entryKey]*entry
	stats   counters

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// NewService creates a range cache reading through to origin
func NewService(origin Origin, config Config) *Service {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	if config.StatsResetInterval <= 0 {
		config.StatsResetInterval = 24 * time.Hour
	}

	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	recorder := config.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		origin:   origin,
		config:   config,
		clock:    clock,
		recorder: recorder,
		logger:   logger.With("component", "range-cache"),
		entries:  make(map[entryKey]*entry),
		stats:    counters{lastReset: clock.Now()},
	}
}

// GetCachedValues returns the rows of every requested range, serving
// unexpired entries from the cache and fetching the rest in one batch.
// Fetched entries expire ttl after the fetch completes; a later call with a
// different ttl overwrites the expiry when it refetches. Duplicate ranges
// are looked up once. If the origin read fails the whole call fails and
// nothing from the batch is cached.
func (s *Service) GetCachedValues(ctx context.Context, spreadsheetID string, ranges []string, ttl time.Duration) (map[string][][]string, error) {
	if spreadsheetID == "" {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "spreadsheet ID is required").
			WithComponent("cache").WithOperation("get_cached_values")
	}

	result := make(map[string][][]string, len(ranges))
	var missing []string

	s.mu.Lock()
	now := s.clock.Now()
	hits := 0
	for _, rng := range ranges {
		if _, seen := result[rng]; seen {
			continue
		}

		key := entryKey{spreadsheetID: spreadsheetID, rng: rng}
		if e, ok := s.entries[key]; ok {
			if e.expiresAt.After(now) {
				result[rng] = copyRows(e.values)
				hits++
				continue
			}
			delete(s.entries, key)
		}

		// Reserve the slot so a repeated range is not queued twice.
		result[rng] = nil
		missing = append(missing, rng)
	}
	s.stats.hits += int64(hits)
	s.stats.misses += int64(len(missing))
	s.mu.Unlock()

	s.recorder.RecordCacheHit(hits)
	s.recorder.RecordCacheMiss(len(missing))

	if len(missing) == 0 {
		s.logger.Debug("All ranges served from cache",
			"spreadsheet_id", spreadsheetID,
			"ranges", len(result))
		return result, nil
	}

	start := s.clock.Now()
	fetched, err := s.origin.BatchGet(ctx, spreadsheetID, missing)
	elapsed := s.clock.Since(start)

	s.recorder.RecordOriginCall(len(missing), elapsed, err)

	s.mu.Lock()
	s.stats.apiCalls++
	s.stats.totalAPITime += elapsed

	if err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to fetch ranges",
			"spreadsheet_id", spreadsheetID,
			"ranges", len(missing),
			"duration", elapsed,
			"error", err)
		return nil, errors.Wrap(err, errors.ErrCodeOriginFetch, "failed to fetch ranges").
			WithComponent("cache").
			WithOperation("get_cached_values").
			WithContext("spreadsheet_id", spreadsheetID).
			WithDetail("ranges", missing)
	}

	expiresAt := s.clock.Now().Add(ttl)
	totalRows := 0
	for i, rng := range missing {
		var rows [][]string
		if i < len(fetched) && fetched[i] != nil {
			rows = fetched[i]
		} else {
			rows = [][]string{}
		}
		s.entries[entryKey{spreadsheetID: spreadsheetID, rng: rng}] = &entry{
			values:    rows,
			expiresAt: expiresAt,
		}
		result[rng] = copyRows(rows)
		totalRows += len(rows)
	}
	size := len(s.entries)
	s.mu.Unlock()

	s.recorder.UpdateCacheSize(size)

	s.logger.Info("Fetched ranges from origin",
		"spreadsheet_id", spreadsheetID,
		"ranges", len(missing),
		"rows", totalRows,
		"cache_hits", hits,
		"duration", elapsed)

	return result, nil
}

// Clear drops every cached entry. Statistics are left alone.
func (s *Service) Clear() int {
	s.mu.Lock()
	dropped := len(s.entries)
	s.entries = make(map[entryKey]*entry)
	s.mu.Unlock()

	s.recorder.UpdateCacheSize(0)
	s.logger.Info("Cache cleared", "entries", dropped)
	return dropped
}

// CleanupExpired removes every entry whose expiry is not in the future and
// returns how many were removed.
func (s *Service) CleanupExpired() int {
	s.mu.Lock()
	now := s.clock.Now()
	removed := 0
	for key, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	s.recorder.UpdateCacheSize(size)
	if removed > 0 {
		s.logger.Debug("Expired entries removed", "removed", removed, "remaining", size)
	}
	return removed
}

// Stats returns a snapshot of the cache statistics
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ResetStats zeroes the counters and restarts the uptime clock. Cached
// entries are left alone.
func (s *Service) ResetStats() {
	s.mu.Lock()
	before := s.snapshot()
	s.stats = counters{lastReset: s.clock.Now()}
	s.mu.Unlock()

	s.logger.Info("Cache stats reset",
		"hit_rate", before.HitRate,
		"hits", before.Hits,
		"misses", before.Misses,
		"api_calls", before.APICalls,
		"avg_api_time", before.AvgAPITime,
		"cache_size", before.CacheSize,
		"uptime", before.Uptime)
}

// Start launches the expiry sweep and the periodic stats reset. It returns
// an ALREADY_STARTED error if the loops are running. The loops also end
// with ctx, after which the service can be started again.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.runningLocked() {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "cache maintenance already running").
			WithComponent("cache")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	var wg sync.WaitGroup
	wg.Add(2)
	go s.every(ctx, &wg, stop, s.config.CleanupInterval, func() {
		s.CleanupExpired()
	})
	go s.every(ctx, &wg, stop, s.config.StatsResetInterval, s.ResetStats)
	go func() {
		wg.Wait()
		close(done)
	}()

	s.logger.Info("Cache maintenance started",
		"cleanup_interval", s.config.CleanupInterval,
		"stats_reset_interval", s.config.StatsResetInterval)
	return nil
}

// Stop ends the maintenance loops and waits for them to exit. Calling it
// on a stopped service is a no-op.
func (s *Service) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.runningLocked() {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil

	s.logger.Info("Cache maintenance stopped")
}

// Running reports whether the maintenance loops are active
func (s *Service) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.runningLocked()
}

// runningLocked forgets loops that already exited because their context
// ended. Callers hold s.lifecycle.
func (s *Service) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		s.stop, s.done = nil, nil
		return false
	default:
		return true
	}
}

func (s *Service) every(ctx context.Context, wg *sync.WaitGroup, stop <-chan struct{}, interval time.Duration, fn func()) {
	defer wg.Done()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			fn()
		}
	}
}

// snapshot must be called with s.mu held.
func (s *Service) snapshot() Stats {
	stats := Stats{
		HitRate:   "0%",
		Hits:      s.stats.hits,
		Misses:    s.stats.misses,
		APICalls:  s.stats.apiCalls,
		CacheSize: len(s.entries),
		Uptime:    s.clock.Since(s.stats.lastReset),
		LastReset: s.stats.lastReset,
	}

	if total := s.stats.hits + s.stats.misses; total > 0 {
		stats.HitRate = fmt.Sprintf("%.2f%%", float64(s.stats.hits)/float64(total)*100)
	}
	if s.stats.apiCalls > 0 {
		stats.AvgAPITime = s.stats.totalAPITime / time.Duration(s.stats.apiCalls)
	}

	return stats
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(row))
		copy(out[i], row)
	}
	return out
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit(int)                         {}
func (nopRecorder) RecordCacheMiss(int)                        {}
func (nopRecorder) RecordOriginCall(int, time.Duration, error) {}
func (nopRecorder) UpdateCacheSize(int)                        {}
