// Package lifecycle supervises connectivity to the backing store. It owns
// the process-wide store state: the dial loop and the driver's
// notifications are its only writers, and readers always see a complete
// snapshot.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/collabmate/collabmate/db/models"
)

var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the driver-side view of a connected store.
type Store interface {
	Notifications() <-chan models.StoreState
	Close() error
}

// Dialer opens a store. It must give up when ctx is done.
type Dialer[S Store] func(ctx context.Context) (S, error)

type Config struct {
	Logger           *slog.Logger
	MaxAttempts      int
	RetryInterval    time.Duration
	AttemptTimeout   time.Duration
	RecoveryInterval time.Duration // 0 disables probing after MaxAttempts
}

// Status is an immutable snapshot of store connectivity.
type Status struct {
	State     models.StoreState `json:"state"`
	Since     time.Time         `json:"since"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"lastError,omitempty"`
}

type Manager[S Store] struct {
	logger *slog.Logger
	cfg    Config
	dial   Dialer[S]

	status atomic.Pointer[Status]

	mu        sync.RWMutex
	store     S
	connected bool

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func New[S Store](cfg Config, dial Dialer[S]) *Manager[S] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	m := &Manager[S]{
		logger: cfg.Logger,
		cfg:    cfg,
		dial:   dial,
		done:   make(chan struct{}),
	}
	m.status.Store(&Status{State: models.StoreConnecting, Since: time.Now()})
	return m
}

// Start launches the dial loop in the background and returns immediately.
func (m *Manager[S]) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go func() {
			defer close(m.done)
			defer Recover(m.logger, "store-lifecycle")
			m.run(ctx)
		}()
	})
}

func (m *Manager[S]) State() models.StoreState {
	return m.status.Load().State
}

func (m *Manager[S]) Status() Status {
	return *m.status.Load()
}

// Store returns the connected store, or ErrStoreUnavailable while the
// store is not in the connected state.
func (m *Manager[S]) Store() (S, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected || m.State() != models.StoreConnected {
		var zero S
		return zero, ErrStoreUnavailable
	}
	return m.store, nil
}

// Close stops the dial loop and closes the store if one is held.
func (m *Manager[S]) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}

		m.mu.Lock()
		store, held := m.store, m.connected
		var zero S
		m.store, m.connected = zero, false
		m.mu.Unlock()

		if held {
			if err = store.Close(); err != nil {
				m.logger.Error("Error closing store", "error", err)
			}
		}
		m.setState(models.StoreDisconnected, nil)
		m.logger.Info("Store lifecycle stopped")
	})
	return err
}

func (m *Manager[S]) run(ctx context.Context) {
	for {
		store, ok := m.connect(ctx)
		if !ok {
			return
		}

		m.mu.Lock()
		m.store, m.connected = store, true
		m.mu.Unlock()
		m.setState(models.StoreConnected, nil)

		m.follow(ctx, store)
		if ctx.Err() != nil {
			// Close owns the held store from here.
			return
		}

		m.logger.Warn("Store driver stopped reporting, reconnecting")
		m.mu.Lock()
		var zero S
		m.store, m.connected = zero, false
		m.mu.Unlock()
		m.setState(models.StoreDisconnected, nil)
		if err := store.Close(); err != nil {
			m.logger.Debug("Error closing dropped store", "error", err)
		}
	}
}

// connect runs the bounded retry loop, then degrades to slow probing. It
// returns false only when ctx is done.
func (m *Manager[S]) connect(ctx context.Context) (S, bool) {
	var zero S

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		store, err := m.attempt(ctx)
		if err == nil {
			m.logger.Info("Store connected", "attempt", attempt)
			return store, true
		}
		if ctx.Err() != nil {
			return zero, false
		}
		m.logger.Warn("Store connection attempt failed",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxAttempts,
			"retry_in", m.cfg.RetryInterval,
			"error", err,
		)
		m.setState(models.StoreDisconnected, err)

		if attempt < m.cfg.MaxAttempts && !sleep(ctx, m.cfg.RetryInterval) {
			return zero, false
		}
	}

	m.logger.Error("Store connection attempts exhausted, continuing in degraded mode",
		"max_attempts", m.cfg.MaxAttempts,
		"recovery_interval", m.cfg.RecoveryInterval,
	)

	if m.cfg.RecoveryInterval <= 0 {
		<-ctx.Done()
		return zero, false
	}

	for sleep(ctx, m.cfg.RecoveryInterval) {
		store, err := m.attempt(ctx)
		if err == nil {
			m.logger.Info("Store connected after degraded period")
			return store, true
		}
		if ctx.Err() != nil {
			break
		}
		m.logger.Warn("Store recovery attempt failed", "error", err)
		m.setState(models.StoreDisconnected, err)
	}
	return zero, false
}

func (m *Manager[S]) attempt(ctx context.Context) (S, error) {
	m.bumpAttempts()

	attemptCtx := ctx
	if m.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()
	}
	return m.dial(attemptCtx)
}

// follow applies driver notifications until the channel closes or ctx is
// done.
func (m *Manager[S]) follow(ctx context.Context, store S) {
	notifications := store.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-notifications:
			if !ok {
				return
			}
			m.setState(state, nil)
		}
	}
}

func (m *Manager[S]) bumpAttempts() {
	prev := m.status.Load()
	next := *prev
	next.Attempts++
	m.status.Store(&next)
}

// setState publishes a new snapshot. Only the run goroutine and Close call
// it, and Close waits for run to exit first.
func (m *Manager[S]) setState(state models.StoreState, cause error) {
	prev := m.status.Load()
	next := *prev
	next.LastError = ""
	if cause != nil {
		next.LastError = cause.Error()
	}
	if prev.State != state {
		next.State = state
		next.Since = time.Now()
		m.logger.Info("Store state changed", "from", prev.State.String(), "to", state.String())
	}
	m.status.Store(&next)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
