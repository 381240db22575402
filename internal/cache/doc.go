/*
Package cache provides the read-through range cache that sits between
Ballhead's command handlers and Google Sheets.

Command handlers need sheet data inside Discord's interaction window, and
the same hot ranges (squad rosters, leader tables) are read by many commands.
Service serves those reads from memory and batches everything it does not
have into one origin call.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│     Command handlers / cache warmer         │
	└─────────────────────────────────────────────┘
	                      │ GetCachedValues(sheet, ranges, ttl)
	┌─────────────────────────────────────────────┐
	│               Service                       │  ← This Package
	│   (sheet, range) → rows, expiresAt          │
	│   hits / misses / apiCalls / apiTime        │
	└─────────────────────────────────────────────┘
	                      │ one BatchGet per call, misses only
	┌─────────────────────────────────────────────┐
	│      Origin (internal/sheets.Provider)      │
	│   lazy auth, circuit breaker, retry         │
	└─────────────────────────────────────────────┘

# Entries and Expiry

An entry is keyed by spreadsheet ID and the exact range string; overlapping
ranges are separate entries. Each entry expires a fixed TTL after it was
fetched, taken from the call that fetched it. Reads do not extend it.

Expired entries are removed lazily when a read finds them and by
CleanupExpired, which Start runs on CleanupInterval (10 minutes by default).
Until swept they still count toward CacheSize.

# Statistics

Hits and misses count per range lookup. APICalls counts batched origin
calls, not ranges, and AvgAPITime is the mean wall time of those calls.
Counters reset every StatsResetInterval (24 hours by default) or on
ResetStats. Clear and ResetStats are independent: one drops entries, the
other zeroes counters.

# Usage

	svc := cache.NewService(provider, cache.Config{Recorder: collector})
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	values, err := svc.GetCachedValues(ctx, sheetID,
		[]string{"Squad Leaders!A:F", "Squad Members!A:E"}, 5*time.Minute)
	if err != nil {
		return err // ORIGIN_FETCH
	}
	leaders := values["Squad Leaders!A:F"]

# Thread Safety

Service is safe for concurrent use. The entry map and counters share one
mutex that is never held across the origin call, so two concurrent misses
for the same range may both reach the origin.
*/
package cache
