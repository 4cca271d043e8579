package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabmate/collabmate/db/models"
)

type fakeStore struct {
	notes  chan models.StoreState
	closed atomic.Bool
	once   sync.Once
}

func newFakeStore() *fakeStore {
	return &fakeStore{notes: make(chan models.StoreState, 8)}
}

func (f *fakeStore) Notifications() <-chan models.StoreState { return f.notes }

func (f *fakeStore) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeStore) stopReporting() {
	f.once.Do(func() { close(f.notes) })
}

// scriptedDialer fails until succeedAfter calls have been made, then hands
// out fresh stores.
type scriptedDialer struct {
	mu           sync.Mutex
	calls        int
	succeedAfter int
	stores       []*fakeStore
}

func (d *scriptedDialer) dial(ctx context.Context) (*fakeStore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.succeedAfter {
		return nil, errors.New("connection refused")
	}
	s := newFakeStore()
	d.stores = append(d.stores, s)
	return s, nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) latest() *fakeStore {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stores) == 0 {
		return nil
	}
	return d.stores[len(d.stores)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig(maxAttempts int, recovery time.Duration) Config {
	return Config{
		Logger:           testLogger(),
		MaxAttempts:      maxAttempts,
		RetryInterval:    5 * time.Millisecond,
		AttemptTimeout:   50 * time.Millisecond,
		RecoveryInterval: recovery,
	}
}

func TestManager_InitialStateIsConnecting(t *testing.T) {
	d := &scriptedDialer{}
	m := New(fastConfig(3, 0), d.dial)
	assert.Equal(t, models.StoreConnecting, m.State())

	_, err := m.Store()
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestManager_ConnectsAfterRetries(t *testing.T) {
	d := &scriptedDialer{succeedAfter: 2}
	m := New(fastConfig(5, 0), d.dial)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		return m.State() == models.StoreConnected
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3, d.callCount())
	assert.Equal(t, 3, m.Status().Attempts)

	s, err := m.Store()
	require.NoError(t, err)
	assert.Same(t, d.latest(), s)
}

func TestManager_ExhaustedAttemptsStayDisconnected(t *testing.T) {
	d := &scriptedDialer{succeedAfter: 1 << 30}
	m := New(fastConfig(4, 0), d.dial)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		return d.callCount() == 4
	}, time.Second, time.Millisecond)

	// No probing when recovery is disabled.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, d.callCount())
	assert.Equal(t, models.StoreDisconnected, m.State())
	assert.Equal(t, "connection refused", m.Status().LastError)
}

func TestManager_RecoversAfterDegradedPeriod(t *testing.T) {
	d := &scriptedDialer{succeedAfter: 5}
	m := New(fastConfig(2, 10*time.Millisecond), d.dial)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		return m.State() == models.StoreConnected
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 6, d.callCount())
}

func TestManager_AttemptTimeoutBoundsDial(t *testing.T) {
	var calls atomic.Int32
	dial := func(ctx context.Context) (*fakeStore, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg := fastConfig(3, 0)
	cfg.AttemptTimeout = 10 * time.Millisecond
	m := New(cfg, dial)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		return calls.Load() == 3
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return m.State() == models.StoreDisconnected
	}, time.Second, time.Millisecond)
}

func TestManager_FollowsDriverNotifications(t *testing.T) {
	d := &scriptedDialer{}
	m := New(fastConfig(3, 0), d.dial)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		return m.State() == models.StoreConnected
	}, time.Second, time.Millisecond)

	store := d.latest()
	store.notes <- models.StoreError
	require.Eventually(t, func() bool {
		return m.State() == models.StoreError
	}, time.Second, time.Millisecond)

	_, err := m.Store()
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	store.notes <- models.StoreConnected
	require.Eventually(t, func() bool {
		return m.State() == models.StoreConnected
	}, time.Second, time.Millisecond)
}

func TestManager_RedialsWhenDriverStops(t *testing.T) {
	d := &scriptedDialer{}
	m := New(fastConfig(3, 0), d.dial)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		return m.State() == models.StoreConnected
	}, time.Second, time.Millisecond)

	first := d.latest()
	first.stopReporting()

	require.Eventually(t, func() bool {
		return d.callCount() == 2 && m.State() == models.StoreConnected
	}, time.Second, time.Millisecond)
	assert.True(t, first.closed.Load())
	assert.NotSame(t, first, d.latest())
}

func TestManager_Close(t *testing.T) {
	d := &scriptedDialer{}
	m := New(fastConfig(3, 0), d.dial)
	m.Start(context.Background())

	require.Eventually(t, func() bool {
		return m.State() == models.StoreConnected
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	assert.True(t, d.latest().closed.Load())
	assert.Equal(t, models.StoreDisconnected, m.State())

	_, err := m.Store()
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// Second close is a no-op.
	require.NoError(t, m.Close())
}

func TestManager_CloseWhileRetrying(t *testing.T) {
	d := &scriptedDialer{succeedAfter: 1 << 30}
	cfg := fastConfig(1000, 0)
	cfg.RetryInterval = time.Hour
	m := New(cfg, d.dial)
	m.Start(context.Background())

	require.Eventually(t, func() bool {
		return d.callCount() == 1
	}, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() blocked on retry wait")
	}
}

func TestManager_CloseWithoutStart(t *testing.T) {
	m := New(fastConfig(1, 0), (&scriptedDialer{}).dial)
	assert.NoError(t, m.Close())
}

func TestGo_RecoversPanic(t *testing.T) {
	ran := make(chan struct{})
	Go(testLogger(), "boom", func() {
		defer close(ran)
		panic("kaboom")
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestRecover_NoPanic(t *testing.T) {
	func() {
		defer Recover(testLogger(), "quiet")
	}()
}
