package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
)

// #region config
// Config bounds every call a Session makes. WakeBudget covers the whole wake
// loop; PredictTimeout covers one predict call and is independent of it.
type Config struct {
	HealthTimeout  time.Duration
	PollInterval   time.Duration
	WakeBudget     time.Duration
	PredictTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HealthTimeout:  3 * time.Second,
		PollInterval:   5 * time.Second,
		WakeBudget:     40 * time.Second,
		PredictTimeout: 60 * time.Second,
	}
}

func (c Config) validate() error {
	if c.HealthTimeout <= 0 || c.PollInterval <= 0 || c.WakeBudget <= 0 || c.PredictTimeout <= 0 {
		return fmt.Errorf("client config: all timeouts must be positive: %+v", c)
	}
	return nil
}

// #endregion config

// #region options
// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used by the wake loop.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithProber probes readiness through p instead of the backend's own Health.
func WithProber(p Prober) Option {
	return func(s *Session) { s.prober = p }
}

// WithObserver registers fn to be called after every state transition.
func WithObserver(fn func(from, to Readiness)) Option {
	return func(s *Session) { s.observer = fn }
}

// #endregion options

// #region session
// Session drives one caller's view of the backend through Unknown, Waking,
// Ready and Unreachable. At most one call runs at a time; an overlapping
// call fails with ErrRequestInFlight instead of queueing.
type Session struct {
	backend  Backend
	prober   Prober
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	observer func(from, to Readiness)

	busy  atomic.Bool
	mu    sync.Mutex
	state Readiness
}

// NewSession creates a session in the Unknown state.
func NewSession(backend Backend, cfg Config, opts ...Option) (*Session, error) {
	if backend == nil {
		return nil, errors.New("client: nil backend")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Session{
		backend: backend,
		prober:  backend,
		cfg:     cfg,
		clock:   realClock{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// State returns the current readiness.
func (s *Session) State() Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(to Readiness) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}
	s.logger.Debug("backend readiness changed", "from", from, "to", to)
	if s.observer != nil {
		s.observer(from, to)
	}
}

func (s *Session) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrRequestInFlight
	}
	return nil
}

func (s *Session) release() { s.busy.Store(false) }

// Reset returns an Unreachable (or any idle) session to Unknown.
func (s *Session) Reset() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	s.setState(Unknown)
	return nil
}

// #endregion session

// #region warmup
// Warmup performs the Unknown step only: one health probe, no wake loop.
// A failed probe leaves the session Waking so the next Connect goes straight
// to polling. Sessions not in Unknown are left untouched.
func (s *Session) Warmup(ctx context.Context) (Readiness, error) {
	if err := s.acquire(); err != nil {
		return s.State(), err
	}
	defer s.release()

	if s.State() != Unknown {
		return s.State(), nil
	}
	if err := s.probe(ctx, s.cfg.HealthTimeout); err != nil {
		if ctx.Err() != nil {
			return s.State(), ctx.Err()
		}
		s.setState(Waking)
		return Waking, nil
	}
	s.setState(Ready)
	return Ready, nil
}

// #endregion warmup

// #region connect
// Connect brings the session to Ready. The wake budget covers the initial
// probe and the polling that follows. Connect returns ErrBackendUnreachable
// once the budget is spent, and keeps returning it until Reset.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	deadline := s.clock.Now().Add(s.cfg.WakeBudget)
	switch s.State() {
	case Ready:
		return nil
	case Unreachable:
		return ErrBackendUnreachable
	case Unknown:
		err := s.probe(ctx, min(s.cfg.HealthTimeout, s.cfg.WakeBudget))
		if err == nil {
			s.setState(Ready)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("backend not ready, waiting for it to wake", "error", err)
		s.setState(Waking)
	}
	return s.wake(ctx, deadline)
}

// wake polls health every PollInterval until it succeeds or the deadline
// passes on the session clock. No probe outlives the deadline.
func (s *Session) wake(ctx context.Context, deadline time.Time) error {
	attempts := 0
	for {
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			break
		}
		if err := s.sleep(ctx, min(s.cfg.PollInterval, remaining)); err != nil {
			s.setState(Unknown)
			return err
		}
		remaining = deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			break
		}

		attempts++
		err := s.probe(ctx, min(s.cfg.HealthTimeout, remaining))
		if err == nil {
			s.logger.Info("backend ready", "polls", attempts)
			s.setState(Ready)
			return nil
		}
		if ctx.Err() != nil {
			s.setState(Unknown)
			return ctx.Err()
		}
		s.logger.Debug("health poll failed", "poll", attempts, "error", err)
	}

	s.logger.Warn("wake budget exhausted", "budget", s.cfg.WakeBudget, "polls", attempts)
	s.setState(Unreachable)
	return ErrBackendUnreachable
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) probe(ctx context.Context, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.prober.Health(probeCtx)
}

// #endregion connect

// #region predict
// Predict connects if needed and issues one predict call bounded by
// PredictTimeout.
//
// A timeout returns ErrPredictionTimeout and keeps the session Ready. A
// transport failure or gateway status returns the session to Unknown so the
// next call probes again. Validation and other server errors are returned
// as is.
func (s *Session) Predict(ctx context.Context, rec feature.Record) (classifier.Prediction, error) {
	if err := s.acquire(); err != nil {
		return classifier.Prediction{}, err
	}
	defer s.release()

	if err := s.connect(ctx); err != nil {
		return classifier.Prediction{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PredictTimeout)
	defer cancel()

	pred, err := s.backend.Predict(callCtx, rec)
	if err == nil {
		return pred, nil
	}

	if ctx.Err() != nil {
		return classifier.Prediction{}, ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("prediction timed out", "timeout", s.cfg.PredictTimeout)
		return classifier.Prediction{}, ErrPredictionTimeout
	}

	var se *ServerError
	if errors.As(err, &se) {
		if se.Unavailable() {
			s.setState(Unknown)
		}
		return classifier.Prediction{}, err
	}
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		return classifier.Prediction{}, err
	}

	s.logger.Warn("predict call failed, backend state reset", "error", err)
	s.setState(Unknown)
	return classifier.Prediction{}, err
}

// #endregion predict
