package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcquirer struct {
	calls    atomic.Int32
	err      error
	delay    time.Duration
	now      func() time.Time
	lifetime time.Duration
}

func (f *fakeAcquirer) RequestCredential(_ context.Context, _, scope string) (Credential, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Credential{}, f.err
	}
	return Credential{
		Value:     "token-" + string(rune('a'+n-1)),
		ExpiresAt: f.now().Add(f.lifetime),
		Scope:     scope,
	}, nil
}

type fixture struct {
	store    *Store
	acquirer *fakeAcquirer
	clock    time.Time
}

func newFixture(t *testing.T, policy FallbackPolicy) *fixture {
	t.Helper()

	f := &fixture{clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.acquirer = &fakeAcquirer{now: f.now, lifetime: DefaultLifetime}
	f.store = NewStore(f.acquirer, StoreConfig{
		AuthorizationKey: "key",
		Scope:            DefaultScope,
		RefreshBuffer:    DefaultRefreshBuffer,
		Policy:           policy,
	})
	f.store.now = f.now
	return f
}

func (f *fixture) now() time.Time { return f.clock }

// seed installs a cached credential expiring at expiresAt.
func (f *fixture) seed(expiresAt time.Time) {
	f.store.current = &Credential{Value: "seeded", ExpiresAt: expiresAt, Scope: DefaultScope}
}

func TestStore_Get_AcquiresWhenEmpty(t *testing.T) {
	f := newFixture(t, PolicyDegrade)

	cred, err := f.store.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "token-a", cred.Value)
	assert.Equal(t, f.clock.Add(DefaultLifetime), cred.ExpiresAt)
	assert.EqualValues(t, 1, f.acquirer.calls.Load())

	again, err := f.store.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, cred, again)
	assert.EqualValues(t, 1, f.acquirer.calls.Load(), "valid credential is served from cache")
}

func TestStore_Get_RefreshDueBoundary(t *testing.T) {
	tests := []struct {
		name        string
		offset      time.Duration
		wantRefresh bool
	}{
		{"one second inside buffer", DefaultRefreshBuffer - time.Second, true},
		{"exactly at buffer", DefaultRefreshBuffer, true},
		{"one second outside buffer", DefaultRefreshBuffer + time.Second, false},
		{"already expired", -time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, PolicyDegrade)
			f.seed(f.clock.Add(tt.offset))

			cred, err := f.store.Get(context.Background(), false)
			require.NoError(t, err)

			if tt.wantRefresh {
				assert.EqualValues(t, 1, f.acquirer.calls.Load())
				assert.Equal(t, "token-a", cred.Value)
			} else {
				assert.Zero(t, f.acquirer.calls.Load())
				assert.Equal(t, "seeded", cred.Value)
			}
		})
	}
}

func TestStore_Get_Force(t *testing.T) {
	f := newFixture(t, PolicyDegrade)
	f.seed(f.clock.Add(time.Hour))

	cred, err := f.store.Get(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "token-a", cred.Value)
	assert.EqualValues(t, 1, f.acquirer.calls.Load())
}

func TestStore_Invalidate_ForcesRefresh(t *testing.T) {
	f := newFixture(t, PolicyDegrade)
	f.seed(f.clock.Add(time.Hour))

	f.store.Invalidate()
	assert.False(t, f.store.Info().HasCredential)

	cred, err := f.store.Get(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "token-a", cred.Value)
	assert.EqualValues(t, 1, f.acquirer.calls.Load())
}

func TestStore_Get_FallbackPolicies(t *testing.T) {
	acquireErr := &AcquisitionError{StatusCode: 500, Body: "boom"}

	t.Run("degrade serves stale credential", func(t *testing.T) {
		f := newFixture(t, PolicyDegrade)
		f.acquirer.err = acquireErr
		f.seed(f.clock.Add(time.Minute))

		cred, err := f.store.Get(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "seeded", cred.Value)
		assert.EqualValues(t, 1, f.acquirer.calls.Load())
	})

	t.Run("degrade serves expired credential", func(t *testing.T) {
		f := newFixture(t, PolicyDegrade)
		f.acquirer.err = acquireErr
		f.seed(f.clock.Add(-time.Minute))

		cred, err := f.store.Get(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "seeded", cred.Value)
	})

	t.Run("degrade does not apply to forced refresh", func(t *testing.T) {
		f := newFixture(t, PolicyDegrade)
		f.acquirer.err = acquireErr
		f.seed(f.clock.Add(time.Minute))

		_, err := f.store.Get(context.Background(), true)
		assert.ErrorIs(t, err, ErrCredentialAcquisition)
	})

	t.Run("degrade without cache propagates", func(t *testing.T) {
		f := newFixture(t, PolicyDegrade)
		f.acquirer.err = acquireErr

		_, err := f.store.Get(context.Background(), false)
		assert.ErrorIs(t, err, ErrCredentialAcquisition)
	})

	t.Run("fail-fast propagates", func(t *testing.T) {
		f := newFixture(t, PolicyFailFast)
		f.acquirer.err = acquireErr
		f.seed(f.clock.Add(time.Minute))

		_, err := f.store.Get(context.Background(), false)
		require.Error(t, err)

		var acqErr *AcquisitionError
		require.True(t, errors.As(err, &acqErr))
		assert.Equal(t, 500, acqErr.StatusCode)
	})
}

func TestStore_Get_NoAuthorizationKey(t *testing.T) {
	store := NewStore(&fakeAcquirer{now: time.Now}, StoreConfig{})

	_, err := store.Get(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoAuthorizationKey)
}

func TestStore_Get_ConcurrentSingleAcquisition(t *testing.T) {
	f := newFixture(t, PolicyDegrade)
	f.acquirer.delay = 20 * time.Millisecond

	const workers = 16
	var wg sync.WaitGroup
	values := make([]string, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := f.store.Get(context.Background(), false)
			assert.NoError(t, err)
			values[i] = cred.Value
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.acquirer.calls.Load(), "lock serializes refreshes")
	for _, v := range values {
		assert.Equal(t, "token-a", v)
	}
}

func TestStore_Info(t *testing.T) {
	f := newFixture(t, PolicyDegrade)

	info := f.store.Info()
	assert.False(t, info.HasCredential)
	assert.True(t, info.IsRefreshDue)
	assert.Zero(t, info.SecondsUntilExpiry)

	f.seed(f.clock.Add(10 * time.Minute))
	info = f.store.Info()
	assert.True(t, info.HasCredential)
	assert.False(t, info.IsRefreshDue)
	assert.InDelta(t, 600, info.SecondsUntilExpiry, 0.001)

	f.clock = f.clock.Add(6 * time.Minute)
	info = f.store.Info()
	assert.True(t, info.IsRefreshDue)
	assert.Zero(t, f.acquirer.calls.Load(), "Info never refreshes")
}

func TestParseFallbackPolicy(t *testing.T) {
	p, err := ParseFallbackPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyDegrade, p)

	p, err = ParseFallbackPolicy(" Fail-Fast ")
	require.NoError(t, err)
	assert.Equal(t, PolicyFailFast, p)

	_, err = ParseFallbackPolicy("retry")
	assert.Error(t, err)
}
