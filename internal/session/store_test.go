// ABOUTME: Tests for the session store: creation, touch, eviction, and shutdown.
// ABOUTME: Uses a fake transport and an injectable clock for deterministic timing.

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	id       string
	closes   atomic.Int32
	closeErr error
}

func (f *fakeTransport) HandleMessage(context.Context, []byte) ([]byte, error) { return nil, nil }
func (f *fakeTransport) Initialized() bool                                     { return true }
func (f *fakeTransport) OpenStream() (*Stream, error)                          { return nil, nil }
func (f *fakeTransport) Notify(string, any) error                              { return nil }
func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	return f.closeErr
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	s, err := New(Config{
		Timeout: time.Minute,
		NewTransport: func(id string) Transport {
			return &fakeTransport{id: id}
		},
		Clock: clock.Now,
	})
	require.NoError(t, err)
	return s
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	s, err := New(Config{NewTransport: func(string) Transport { return &fakeTransport{} }})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, s.Timeout())
	assert.Equal(t, time.Minute, s.SweepInterval())

	s, err = New(Config{Timeout: 10 * time.Second, NewTransport: func(string) Transport { return &fakeTransport{} }})
	require.NoError(t, err)
	assert.Equal(t, time.Second, s.SweepInterval())
}

func TestCreate_BindsTransport(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestStore(t, clock)

	sess, err := s.Create()
	require.NoError(t, err)

	_, err = uuid.Parse(sess.ID)
	assert.NoError(t, err)
	assert.Equal(t, sess.ID, sess.Transport.(*fakeTransport).id)
	assert.Equal(t, clock.Now(), sess.LastActivity())

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestCreate_ConcurrentUniqueness(t *testing.T) {
	s := newTestStore(t, &fakeClock{now: time.Now()})

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := s.Create()
			if err == nil {
				ids <- sess.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, s.Len())
}

func TestCreate_RegeneratesOnCollision(t *testing.T) {
	s := newTestStore(t, &fakeClock{now: time.Now()})
	first, err := s.Create()
	require.NoError(t, err)

	fixed := uuid.MustParse(first.ID)
	fresh := uuid.New()
	calls := 0
	s.newID = func() (uuid.UUID, error) {
		calls++
		if calls == 1 {
			return fixed, nil
		}
		return fresh, nil
	}

	second, err := s.Create()
	require.NoError(t, err)
	assert.Equal(t, fresh.String(), second.ID)

	s.newID = func() (uuid.UUID, error) { return fixed, nil }
	_, err = s.Create()
	assert.ErrorIs(t, err, ErrIDExhausted)
}

func TestGet_DoesNotRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestStore(t, clock)
	sess, _ := s.Create()

	clock.Advance(30 * time.Second)
	_, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1000, 0), sess.LastActivity())
}

func TestTouch_Monotonic(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestStore(t, clock)
	sess, _ := s.Create()

	clock.Advance(10 * time.Second)
	s.Touch(sess.ID)
	assert.Equal(t, time.Unix(1010, 0), sess.LastActivity())

	// A clock that steps backwards must not rewind activity.
	clock.Advance(-5 * time.Second)
	s.Touch(sess.ID)
	assert.Equal(t, time.Unix(1010, 0), sess.LastActivity())

	assert.NotPanics(t, func() { s.Touch("does-not-exist") })
}

func TestEvictExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestStore(t, clock)

	stale, _ := s.Create()
	clock.Advance(45 * time.Second)
	fresh, _ := s.Create()
	clock.Advance(30 * time.Second)

	removed := s.EvictExpired(clock.Now(), time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := s.Get(stale.ID)
	assert.False(t, ok)
	_, ok = s.Get(fresh.ID)
	assert.True(t, ok)

	assert.Equal(t, int32(1), stale.Transport.(*fakeTransport).closes.Load())
	assert.Equal(t, int32(0), fresh.Transport.(*fakeTransport).closes.Load())

	// A second pass must not close the evicted transport again.
	s.EvictExpired(clock.Now(), time.Minute)
	assert.Equal(t, int32(1), stale.Transport.(*fakeTransport).closes.Load())
}

func TestEvictExpired_BoundaryIsExclusive(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestStore(t, clock)
	sess, _ := s.Create()

	clock.Advance(time.Minute)
	assert.Equal(t, 0, s.EvictExpired(clock.Now(), time.Minute))
	_, ok := s.Get(sess.ID)
	assert.True(t, ok)
}

func TestEvictExpired_CloseErrorSwallowed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, err := New(Config{
		Timeout: time.Minute,
		NewTransport: func(id string) Transport {
			return &fakeTransport{id: id, closeErr: errors.New("connection gone")}
		},
		Clock: clock.Now,
	})
	require.NoError(t, err)

	a, _ := s.Create()
	b, _ := s.Create()
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 2, s.EvictExpired(clock.Now(), time.Minute))
	assert.Equal(t, int32(1), a.Transport.(*fakeTransport).closes.Load())
	assert.Equal(t, int32(1), b.Transport.(*fakeTransport).closes.Load())
	assert.Equal(t, 0, s.Len())
}

func TestRemove(t *testing.T) {
	s := newTestStore(t, &fakeClock{now: time.Now()})
	sess, _ := s.Create()

	assert.True(t, s.Remove(sess.ID))
	assert.False(t, s.Remove(sess.ID))
	assert.Equal(t, int32(1), sess.Transport.(*fakeTransport).closes.Load())
}

func TestSweep_EvictsAndStops(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestStore(t, clock)
	s.sweepInterval = 5 * time.Millisecond

	sess, _ := s.Create()
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Sweep(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := s.Get(sess.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
	assert.Equal(t, int32(1), sess.Transport.(*fakeTransport).closes.Load())
}

func TestCloseAll(t *testing.T) {
	s := newTestStore(t, &fakeClock{now: time.Now()})
	var sessions []*Session
	for i := 0; i < 3; i++ {
		sess, err := s.Create()
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}

	s.CloseAll()
	assert.Equal(t, 0, s.Len())
	for _, sess := range sessions {
		assert.Equal(t, int32(1), sess.Transport.(*fakeTransport).closes.Load())
	}
}
