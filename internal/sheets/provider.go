package sheets

import (
	"context"
	stderr "errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ballhead/ballhead/internal/circuit"
	"github.com/ballhead/ballhead/pkg/errors"
	"github.com/ballhead/ballhead/pkg/retry"
)

// Reader fetches ranges of one spreadsheet in a single batched request
type Reader interface {
	BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error)
}

// Connector constructs an authenticated Reader
type Connector func(ctx context.Context) (Reader, error)

// StateObserver is notified when a spreadsheet's breaker changes state
type StateObserver interface {
	SetBreakerState(name string, state int)
}

// ProviderConfig configures the Provider
type ProviderConfig struct {
	// ConnectTimeout bounds one client construction, shared by every waiter
	ConnectTimeout time.Duration

	// Retry applies to each batch read; zero value uses retry.DefaultConfig
	Retry *retry.Config

	// Breaker settings; nil disables the per-spreadsheet circuit breaker
	Breaker *circuit.Config

	Observer StateObserver
	Logger   *slog.Logger
}

// Provider is the origin used by the range cache. It constructs its Reader
// lazily on first use and memoizes it; concurrent first callers share one
// construction. A failed construction is not memoized.
type Provider struct {
	connect Connector
	config  ProviderConfig
	logger  *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	reader Reader

	breakers *circuit.Manager
	retryer  *retry.Retryer
}

const connectKey = "sheets-client"

// NewProvider creates a Provider around the given connector
func NewProvider(connect Connector, config ProviderConfig) *Provider {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sheets-provider")

	retryConfig := retry.DefaultConfig()
	if config.Retry != nil {
		retryConfig = *config.Retry
	}
	p := &Provider{
		connect: connect,
		config:  config,
		logger:  logger,
	}
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("Retrying sheets batch read",
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}
	p.retryer = retry.New(retryConfig)

	if config.Breaker != nil {
		breakerConfig := *config.Breaker
		breakerConfig.IsSuccessful = isBreakerSuccess
		breakerConfig.OnStateChange = p.onStateChange
		p.breakers = circuit.NewManager(breakerConfig)
	}

	return p
}

// BatchGet implements the cache origin: one logical batch read, retried on
// transient failures and short-circuited while the spreadsheet's breaker is open.
func (p *Provider) BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error) {
	reader, err := p.Reader(ctx)
	if err != nil {
		return nil, err
	}

	var rows [][][]string
	err = p.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return p.execute(ctx, spreadsheetID, func(ctx context.Context) error {
			result, err := reader.BatchGet(ctx, spreadsheetID, ranges)
			if err != nil {
				return err
			}
			rows = result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Reader returns the memoized Reader, constructing it if needed. A caller
// whose context ends stops waiting; the shared construction keeps running
// for the other waiters.
func (p *Provider) Reader(ctx context.Context) (Reader, error) {
	if reader := p.current(); reader != nil {
		return reader, nil
	}

	ch := p.group.DoChan(connectKey, func() (interface{}, error) {
		if reader := p.current(); reader != nil {
			return reader, nil
		}

		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ConnectTimeout)
		defer cancel()

		start := time.Now()
		reader, err := p.connect(connectCtx)
		if err != nil {
			p.logger.Error("Failed to construct sheets client", "error", err, "duration", time.Since(start))
			return nil, err
		}

		p.mu.Lock()
		p.reader = reader
		p.mu.Unlock()

		p.logger.Info("Sheets client ready", "duration", time.Since(start))
		return reader, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrCodeOriginAuth, "gave up waiting for sheets client").
			WithComponent("sheets").WithOperation("connect")
	case res := <-ch:
		if res.Err != nil {
			if errors.HasCode(res.Err, errors.ErrCodeOriginAuth) {
				return nil, res.Err
			}
			return nil, errors.Wrap(res.Err, errors.ErrCodeOriginAuth, "failed to construct sheets client").
				WithComponent("sheets").WithOperation("connect")
		}
		return res.Val.(Reader), nil
	}
}

// Ready reports whether the client has been constructed
func (p *Provider) Ready() bool {
	return p.current() != nil
}

// HealthCheck fails while any spreadsheet's breaker is open
func (p *Provider) HealthCheck() error {
	if p.breakers == nil {
		return nil
	}
	return p.breakers.HealthCheck()
}

// BreakerStats returns per-spreadsheet breaker statistics
func (p *Provider) BreakerStats() map[string]circuit.CircuitBreakerStats {
	if p.breakers == nil {
		return map[string]circuit.CircuitBreakerStats{}
	}
	return p.breakers.GetStats()
}

func (p *Provider) current() Reader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reader
}

func (p *Provider) execute(ctx context.Context, spreadsheetID string, fn func(context.Context) error) error {
	if p.breakers == nil {
		return fn(ctx)
	}

	err := p.breakers.GetBreaker(spreadsheetID).ExecuteWithContext(ctx, fn)
	if stderr.Is(err, circuit.ErrOpenState) || stderr.Is(err, circuit.ErrTooManyRequests) {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "spreadsheet temporarily unavailable").
			WithComponent("sheets").WithContext("spreadsheet_id", spreadsheetID)
	}
	return err
}

func (p *Provider) onStateChange(name string, from, to circuit.State) {
	p.logger.Warn("Sheets circuit breaker state changed",
		"spreadsheet_id", name,
		"from", from.String(),
		"to", to.String())
	if p.config.Observer != nil {
		p.config.Observer.SetBreakerState(name, int(to))
	}
}

// isBreakerSuccess keeps caller mistakes from tripping the breaker; only
// origin-side failures count.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	for _, code := range []errors.ErrorCode{
		errors.ErrCodeInvalidRange,
		errors.ErrCodePermissionDenied,
		errors.ErrCodeOperationCanceled,
	} {
		if errors.HasCode(err, code) {
			return true
		}
	}
	return stderr.Is(err, context.Canceled)
}
