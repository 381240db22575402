// Command ballhead-cache runs the Sheets range cache with its warmer,
// maintenance loops and operator HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ballhead/ballhead/internal/cache"
	"github.com/ballhead/ballhead/internal/circuit"
	"github.com/ballhead/ballhead/internal/commands"
	"github.com/ballhead/ballhead/internal/config"
	"github.com/ballhead/ballhead/internal/metrics"
	"github.com/ballhead/ballhead/internal/sheets"
	"github.com/ballhead/ballhead/internal/warmer"
	"github.com/ballhead/ballhead/pkg/api"
	"github.com/ballhead/ballhead/pkg/health"
	"github.com/ballhead/ballhead/pkg/retry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ballhead-cache: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Global, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	})
	if err != nil {
		return err
	}

	provider := sheets.NewProvider(sheets.ServiceAccountConnector(cfg.Sheets), providerConfig(cfg, collector, logger))

	svc := cache.NewService(provider, cache.Config{
		CleanupInterval:    cfg.Cache.CleanupInterval,
		StatsResetInterval: cfg.Cache.StatsResetInterval,
		Recorder:           collector,
		Logger:             logger,
	})

	command := commands.NewCacheStatsCommand(svc, cfg.Commands.CacheStatsRoles, logger)
	logger.Debug("Operator command configured; no chat transport is attached",
		"command", command.Name(),
		"allowed_roles", len(cfg.Commands.CacheStatsRoles))

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	warmHealth := health.NewTracker(health.Config{
		OnStateChange: func(set string, from, to health.State, err error) {
			logger.Warn("Warm set health changed",
				"set", set,
				"from", from.String(),
				"to", to.String(),
				"error", err)
		},
	})

	if cfg.Warmer.Enabled {
		sets := warmSets(cfg)
		for _, set := range sets {
			warmHealth.Register(set.Name)
		}
		w, err := warmer.New(svc, warmer.Config{
			Sets:        sets,
			Interval:    cfg.Warmer.Interval,
			PassTimeout: cfg.Warmer.PassTimeout,
			Recorder:    warmer.MultiRecorder{collector, warmHealth},
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		deps := api.Dependencies{
			Cache:      svc,
			Readiness:  provider,
			Components: warmHealth,
			Logger:     logger,
		}
		if cfg.Metrics.Enabled {
			deps.Metrics = collector.Handler()
		}
		server := api.NewServer(api.ServerConfig{
			Address:      cfg.API.Address,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, deps)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down ballhead-cache")
		return nil
	})

	return g.Wait()
}

func newLogger(cfg config.GlobalConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
}

func providerConfig(cfg *config.Configuration, collector *metrics.Collector, logger *slog.Logger) sheets.ProviderConfig {
	retryConfig := retry.DefaultConfig()
	if cfg.Sheets.Retry.MaxAttempts > 0 {
		retryConfig.MaxAttempts = cfg.Sheets.Retry.MaxAttempts
	}
	if cfg.Sheets.Retry.BaseDelay > 0 {
		retryConfig.InitialDelay = cfg.Sheets.Retry.BaseDelay
	}
	if cfg.Sheets.Retry.MaxDelay > 0 {
		retryConfig.MaxDelay = cfg.Sheets.Retry.MaxDelay
	}

	pc := sheets.ProviderConfig{
		Retry:    &retryConfig,
		Observer: collector,
		Logger:   logger,
	}
	if cfg.Sheets.CircuitBreaker.Enabled {
		pc.Breaker = &circuit.Config{
			MaxRequests:      1,
			Timeout:          cfg.Sheets.CircuitBreaker.Timeout,
			FailureThreshold: uint32(cfg.Sheets.CircuitBreaker.FailureThreshold),
		}
	}
	return pc
}

func warmSets(cfg *config.Configuration) []warmer.WarmSet {
	sets := make([]warmer.WarmSet, 0, len(cfg.Warmer.Sets))
	for i, set := range cfg.Warmer.Sets {
		name := set.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		sets = append(sets, warmer.WarmSet{
			Name:          name,
			SpreadsheetID: set.SpreadsheetID,
			Ranges:        set.Ranges,
			TTL:           cfg.WarmSetTTL(set),
		})
	}
	return sets
}
