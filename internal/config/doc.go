/*
Package config provides configuration management for the Ballhead range cache service.

Configuration is assembled from three sources, later sources overriding earlier ones:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (BALLHEAD_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Configuration Structure

	global:
	  log_level: INFO        # DEBUG, INFO, WARN, ERROR
	  log_format: text       # text or json

	sheets:
	  credentials_file: /etc/ballhead/service-account.json
	  request_timeout: 10s
	  retry:
	    max_attempts: 3
	    base_delay: 200ms
	    max_delay: 2s
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    timeout: 30s

	cache:
	  default_ttl: 5m
	  cleanup_interval: 10m
	  stats_reset_interval: 24h

	warmer:
	  enabled: true
	  pass_timeout: 30s
	  sets:
	    - name: squads
	      spreadsheet_id: 1AbC...
	      ranges: ["Squad Leaders!A:F", "Squad Members!A:E"]
	      ttl: 5m

	api:
	  enabled: true
	  address: localhost:8080

	metrics:
	  enabled: true
	  namespace: ballhead

	commands:
	  cache_stats_roles: ["934010101010101010"]

# Environment Variables

	BALLHEAD_LOG_LEVEL, BALLHEAD_LOG_FORMAT
	BALLHEAD_CREDENTIALS_JSON, BALLHEAD_CREDENTIALS_FILE (falls back to GOOGLE_APPLICATION_CREDENTIALS)
	BALLHEAD_SHEETS_TIMEOUT, BALLHEAD_CACHE_CLEANUP_INTERVAL
	BALLHEAD_WARMER_ENABLED, BALLHEAD_WARMER_INTERVAL
	BALLHEAD_API_ENABLED, BALLHEAD_API_ADDRESS, BALLHEAD_METRICS_ENABLED
	BALLHEAD_CACHE_STATS_ROLES (comma separated)

# Validation

Validate rejects unknown log levels and formats, non-positive maintenance
intervals, a negative warm interval and, while the warmer is enabled with
an explicit interval, any warm set whose TTL is not strictly longer than it.
A zero warm interval is derived by the warmer from the smallest set TTL.
Every validation failure is an INVALID_CONFIG error from pkg/errors.

# Usage

	cfg, err := config.Load("/etc/ballhead/config.yaml")
	if err != nil {
		return err
	}
*/
package config
