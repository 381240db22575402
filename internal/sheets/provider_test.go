package sheets

import (
	"context"
	stderr "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ballhead/ballhead/internal/circuit"
	"github.com/ballhead/ballhead/pkg/errors"
	"github.com/ballhead/ballhead/pkg/retry"
)

type fakeReader struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, spreadsheetID string, ranges []string) ([][][]string, error)
}

func (f *fakeReader) BatchGet(_ context.Context, spreadsheetID string, ranges []string) ([][][]string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, spreadsheetID, ranges)
}

func (f *fakeReader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu     sync.Mutex
	states map[string]int
}

func (o *recordingObserver) SetBreakerState(name string, state int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.states == nil {
		o.states = make(map[string]int)
	}
	o.states[name] = state
}

func (o *recordingObserver) State(name string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.states[name]
	return state, ok
}

func echoReader() *fakeReader {
	return &fakeReader{fn: func(_ int, _ string, ranges []string) ([][][]string, error) {
		out := make([][][]string, len(ranges))
		for i, r := range ranges {
			out[i] = [][]string{{r}}
		}
		return out, nil
	}}
}

func fastRetry(attempts int) *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.Jitter = false
	return &cfg
}

func TestProvider_ConcurrentConstructionSharesOneHandshake(t *testing.T) {
	t.Parallel()

	var handshakes atomic.Int32
	release := make(chan struct{})
	reader := echoReader()

	p := NewProvider(func(ctx context.Context) (Reader, error) {
		handshakes.Add(1)
		<-release
		return reader, nil
	}, ProviderConfig{})

	const callers = 25
	var wg sync.WaitGroup
	results := make([]Reader, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Reader(context.Background())
		}(i)
	}

	// Let the callers pile up behind the in-flight construction.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), handshakes.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, reader, results[i])
	}
	assert.True(t, p.Ready())
}

func TestProvider_FailedConstructionIsNotMemoized(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	reader := echoReader()
	p := NewProvider(func(ctx context.Context) (Reader, error) {
		if attempts.Add(1) == 1 {
			return nil, stderr.New("token endpoint unreachable")
		}
		return reader, nil
	}, ProviderConfig{})

	_, err := p.Reader(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginAuth))
	assert.False(t, p.Ready())

	got, err := p.Reader(context.Background())
	require.NoError(t, err)
	assert.Same(t, reader, got)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestProvider_CanceledWaiterDoesNotCancelConstruction(t *testing.T) {
	t.Parallel()

	var handshakes atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	reader := echoReader()

	p := NewProvider(func(ctx context.Context) (Reader, error) {
		handshakes.Add(1)
		close(started)
		select {
		case <-release:
			return reader, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, ProviderConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	impatient := make(chan error, 1)
	go func() {
		_, err := p.Reader(ctx)
		impatient <- err
	}()

	<-started
	patient := make(chan Reader, 1)
	go func() {
		r, err := p.Reader(context.Background())
		assert.NoError(t, err)
		patient <- r
	}()

	cancel()
	err := <-impatient
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginAuth))
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Same(t, reader, <-patient)
	assert.Equal(t, int32(1), handshakes.Load())
}

func TestProvider_BatchGetRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{fn: func(call int, _ string, ranges []string) ([][][]string, error) {
		if call == 1 {
			return nil, errors.NewError(errors.ErrCodeQuotaExceeded, "quota")
		}
		return [][][]string{{{"ok"}}}, nil
	}}
	p := NewProvider(func(context.Context) (Reader, error) { return reader, nil },
		ProviderConfig{Retry: fastRetry(3)})

	rows, err := p.BatchGet(context.Background(), "sheet", []string{"A1"})
	require.NoError(t, err)
	assert.Equal(t, [][][]string{{{"ok"}}}, rows)
	assert.Equal(t, 2, reader.Calls())
}

func TestProvider_BatchGetDoesNotRetryInvalidRange(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{fn: func(int, string, []string) ([][][]string, error) {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "unable to parse range")
	}}
	p := NewProvider(func(context.Context) (Reader, error) { return reader, nil },
		ProviderConfig{Retry: fastRetry(3)})

	_, err := p.BatchGet(context.Background(), "sheet", []string{"Nope!!A"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidRange))
	assert.Equal(t, 1, reader.Calls())
}

func TestProvider_BreakerOpensPerSpreadsheet(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{fn: func(_ int, spreadsheetID string, ranges []string) ([][][]string, error) {
		if spreadsheetID == "broken" {
			return nil, errors.NewError(errors.ErrCodeOriginFetch, "backend error").WithRetryable(true)
		}
		return [][][]string{{{"fine"}}}, nil
	}}
	observer := &recordingObserver{}
	p := NewProvider(func(context.Context) (Reader, error) { return reader, nil }, ProviderConfig{
		Retry:    fastRetry(1),
		Breaker:  &circuit.Config{FailureThreshold: 2, Timeout: time.Hour},
		Observer: observer,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := p.BatchGet(ctx, "broken", []string{"A1"})
		require.True(t, errors.HasCode(err, errors.ErrCodeOriginFetch), "attempt %d: %v", i, err)
	}

	_, err := p.BatchGet(ctx, "broken", []string{"A1"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeServiceUnavailable))
	assert.Equal(t, 2, reader.Calls(), "open breaker must not reach the origin")

	_, err = p.BatchGet(ctx, "healthy", []string{"A1"})
	assert.NoError(t, err)

	assert.Error(t, p.HealthCheck())
	assert.Equal(t, circuit.StateOpen, p.BreakerStats()["broken"].State)
	state, ok := observer.State("broken")
	assert.True(t, ok)
	assert.Equal(t, int(circuit.StateOpen), state)
}

func TestProvider_CallerErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{fn: func(int, string, []string) ([][][]string, error) {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "unable to parse range")
	}}
	p := NewProvider(func(context.Context) (Reader, error) { return reader, nil }, ProviderConfig{
		Retry:   fastRetry(1),
		Breaker: &circuit.Config{FailureThreshold: 1},
	})

	for i := 0; i < 3; i++ {
		_, err := p.BatchGet(context.Background(), "sheet", []string{"bad"})
		require.True(t, errors.HasCode(err, errors.ErrCodeInvalidRange))
	}
	assert.NoError(t, p.HealthCheck())
	assert.Equal(t, 3, reader.Calls())
}

func TestProvider_HealthCheckWithoutBreaker(t *testing.T) {
	t.Parallel()

	p := NewProvider(func(context.Context) (Reader, error) { return echoReader(), nil }, ProviderConfig{})
	assert.NoError(t, p.HealthCheck())
	assert.Empty(t, p.BreakerStats())
	assert.False(t, p.Ready())
}
