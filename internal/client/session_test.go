package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region fakes
// fakeClock advances instantly on every After call.
type fakeClock struct {
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	t0 := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	return &fakeClock{start: t0, now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// fakeBackend fails the first failHealth probes; failHealth < 0 never
// becomes healthy.
type fakeBackend struct {
	mu          sync.Mutex
	failHealth  int
	healthCalls int
	predict     func(ctx context.Context) (classifier.Prediction, error)
}

func (b *fakeBackend) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthCalls++
	if b.failHealth < 0 || b.healthCalls <= b.failHealth {
		return errors.New("connection refused")
	}
	return nil
}

func (b *fakeBackend) Predict(ctx context.Context, _ feature.Record) (classifier.Prediction, error) {
	if b.predict != nil {
		return b.predict(ctx)
	}
	return classifier.Prediction{Label: classifier.LabelLow, Probability: 0.259}, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthCalls
}

type transition struct{ from, to Readiness }

func newTestSession(t *testing.T, b Backend, cfg Config, opts ...Option) (*Session, *fakeClock, *[]transition) {
	t.Helper()
	clock := newFakeClock()
	var seen []transition
	opts = append([]Option{
		WithClock(clock),
		WithObserver(func(from, to Readiness) { seen = append(seen, transition{from, to}) }),
	}, opts...)
	s, err := NewSession(b, cfg, opts...)
	require.NoError(t, err)
	return s, clock, &seen
}

func record() feature.Record {
	return feature.Record{
		DistanceKM:      100,
		Weather:         "Clear",
		DayOfWeek:       "Monday",
		TimeOfDay:       "Morning",
		TrainType:       "Express",
		RouteCongestion: "Low",
	}
}

// #endregion fakes

// #region wake-tests
func TestConnect_ReadyImmediately(t *testing.T) {
	b := &fakeBackend{}
	s, clock, seen := newTestSession(t, b, DefaultConfig())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, 1, b.calls())
	assert.Zero(t, clock.elapsed())
	assert.Equal(t, []transition{{Unknown, Ready}}, *seen)
}

func TestConnect_WakesAfterThirdPoll(t *testing.T) {
	// initial probe plus two polls fail; the third poll succeeds
	b := &fakeBackend{failHealth: 3}
	s, clock, seen := newTestSession(t, b, DefaultConfig())

	pred, err := s.Predict(context.Background(), record())
	require.NoError(t, err)
	assert.Equal(t, classifier.LabelLow, pred.Label)

	assert.Equal(t, Ready, s.State())
	assert.Equal(t, []transition{{Unknown, Waking}, {Waking, Ready}}, *seen)
	assert.Equal(t, 4, b.calls())
	assert.Equal(t, 15*time.Second, clock.elapsed())
}

func TestConnect_BudgetExhausted(t *testing.T) {
	b := &fakeBackend{failHealth: -1}
	cfg := DefaultConfig()
	s, clock, seen := newTestSession(t, b, cfg)

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrBackendUnreachable)
	assert.Equal(t, Unreachable, s.State())
	assert.Equal(t, []transition{{Unknown, Waking}, {Waking, Unreachable}}, *seen)
	assert.LessOrEqual(t, clock.elapsed(), cfg.WakeBudget)
	// one initial probe, then one per interval that leaves budget to probe
	assert.Equal(t, 8, b.calls())

	// terminal until Reset
	_, err = s.Predict(context.Background(), record())
	require.ErrorIs(t, err, ErrBackendUnreachable)
	assert.Equal(t, 8, b.calls())

	require.NoError(t, s.Reset())
	assert.Equal(t, Unknown, s.State())
}

// slowHealthCheck fails every check after spending delay on the clock.
type slowHealthCheck struct {
	clock *fakeClock
	delay time.Duration
	calls int
}

func (p *slowHealthCheck) Health(context.Context) error {
	p.calls++
	p.clock.advance(p.delay)
	return errors.New("i/o timeout")
}

func TestConnect_BudgetIncludesInitialHealthCheck(t *testing.T) {
	clock := newFakeClock()
	p := &slowHealthCheck{clock: clock, delay: 3 * time.Second}
	cfg := DefaultConfig()
	s, err := NewSession(&fakeBackend{}, cfg, WithClock(clock), WithProber(p))
	require.NoError(t, err)

	require.ErrorIs(t, s.Connect(context.Background()), ErrBackendUnreachable)
	assert.Equal(t, Unreachable, s.State())
	// checks end at 3s, 11s, 19s, 27s and 35s; the last sleep stops at 40s
	assert.Equal(t, cfg.WakeBudget, clock.elapsed())
	assert.Equal(t, 5, p.calls)
}

func TestConnect_LastSleepTrimmedToBudget(t *testing.T) {
	b := &fakeBackend{failHealth: -1}
	cfg := DefaultConfig()
	cfg.WakeBudget = 12 * time.Second
	s, clock, _ := newTestSession(t, b, cfg)

	require.ErrorIs(t, s.Connect(context.Background()), ErrBackendUnreachable)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 2 * time.Second}, clock.sleeps)
	assert.Equal(t, 12*time.Second, clock.elapsed())
	assert.Equal(t, 3, b.calls())
}

func TestConnect_CancelDuringWakeRevertsToUnknown(t *testing.T) {
	b := &fakeBackend{failHealth: -1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, _ := newTestSession(t, b, DefaultConfig(), WithObserver(func(from, to Readiness) {
		if to == Waking {
			cancel()
		}
	}))

	err := s.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Unknown, s.State())
}

func TestConnect_CancelledBeforeProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _, _ := newTestSession(t, &fakeBackend{}, DefaultConfig())

	require.ErrorIs(t, s.Connect(ctx), context.Canceled)
	assert.Equal(t, Unknown, s.State())
}

func TestWithProber_OverridesBackendHealth(t *testing.T) {
	b := &fakeBackend{failHealth: -1}
	p := &fakeBackend{}
	s, _, _ := newTestSession(t, b, DefaultConfig(), WithProber(p))

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 0, b.calls())
	assert.Equal(t, 1, p.calls())
}

// #endregion wake-tests

// #region warmup-tests
func TestWarmup(t *testing.T) {
	t.Run("ready backend", func(t *testing.T) {
		s, _, _ := newTestSession(t, &fakeBackend{}, DefaultConfig())
		state, err := s.Warmup(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Ready, state)
	})

	t.Run("cold backend skips the loop", func(t *testing.T) {
		b := &fakeBackend{failHealth: 1}
		s, clock, _ := newTestSession(t, b, DefaultConfig())

		state, err := s.Warmup(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Waking, state)
		assert.Equal(t, 1, b.calls())
		assert.Zero(t, clock.elapsed())

		// Connect resumes polling without a second Unknown probe
		require.NoError(t, s.Connect(context.Background()))
		assert.Equal(t, 2, b.calls())
		assert.Equal(t, 5*time.Second, clock.elapsed())
	})

	t.Run("no-op once ready", func(t *testing.T) {
		b := &fakeBackend{}
		s, _, _ := newTestSession(t, b, DefaultConfig())
		require.NoError(t, s.Connect(context.Background()))
		state, err := s.Warmup(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Ready, state)
		assert.Equal(t, 1, b.calls())
	})
}

// #endregion warmup-tests

// #region predict-tests
func TestPredict_TimeoutKeepsReady(t *testing.T) {
	slow := true
	b := &fakeBackend{}
	b.predict = func(ctx context.Context) (classifier.Prediction, error) {
		if slow {
			<-ctx.Done()
			return classifier.Prediction{}, ctx.Err()
		}
		return classifier.Prediction{Label: classifier.LabelHigh, Probability: 0.7}, nil
	}
	cfg := DefaultConfig()
	cfg.PredictTimeout = 20 * time.Millisecond
	s, _, _ := newTestSession(t, b, cfg)

	_, err := s.Predict(context.Background(), record())
	require.ErrorIs(t, err, ErrPredictionTimeout)
	assert.Equal(t, Ready, s.State())

	slow = false
	pred, err := s.Predict(context.Background(), record())
	require.NoError(t, err)
	assert.Equal(t, classifier.LabelHigh, pred.Label)
	assert.Equal(t, 1, b.calls(), "retry after timeout must not re-probe")
}

func TestPredict_FailureTransitions(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Readiness
	}{
		{"transport error", errors.New("dial tcp: connection refused"), Unknown},
		{"gateway unavailable", &ServerError{StatusCode: http.StatusServiceUnavailable}, Unknown},
		{"bad gateway", &ServerError{StatusCode: http.StatusBadGateway}, Unknown},
		{"internal error", &ServerError{StatusCode: http.StatusInternalServerError, Code: api.CodeInference}, Ready},
		{"validation", &api.ValidationError{Issues: []api.FieldIssue{{Field: "distance_km", Reason: "must be greater than 0"}}}, Ready},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			b.predict = func(context.Context) (classifier.Prediction, error) {
				return classifier.Prediction{}, tt.err
			}
			s, _, _ := newTestSession(t, b, DefaultConfig())

			_, err := s.Predict(context.Background(), record())
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.want, s.State())
		})
	}
}

func TestPredict_RejectsOverlappingCall(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	b := &fakeBackend{}
	b.predict = func(context.Context) (classifier.Prediction, error) {
		close(entered)
		<-release
		return classifier.Prediction{Label: classifier.LabelLow, Probability: 0.2}, nil
	}
	s, _, _ := newTestSession(t, b, DefaultConfig())

	done := make(chan error, 1)
	go func() {
		_, err := s.Predict(context.Background(), record())
		done <- err
	}()
	<-entered

	_, err := s.Predict(context.Background(), record())
	require.ErrorIs(t, err, ErrRequestInFlight)
	require.ErrorIs(t, s.Reset(), ErrRequestInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Ready, s.State())
}

func TestNewSession_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WakeBudget = 0
	_, err := NewSession(&fakeBackend{}, cfg)
	require.Error(t, err)

	_, err = NewSession(nil, DefaultConfig())
	require.Error(t, err)
}

func TestReadinessString(t *testing.T) {
	assert.Equal(t, "waking", Waking.String())
	assert.Equal(t, "unreachable", Unreachable.String())
	assert.Equal(t, "invalid", Readiness(9).String())
}

// #endregion predict-tests
