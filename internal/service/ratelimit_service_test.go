package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/rentella/property-auth-api/pkg/errors"
)

type memoryCounterStore struct {
	counts   map[string]int64
	failNext int
	failErr  error
}

func newMemoryCounterStore() *memoryCounterStore {
	return &memoryCounterStore{counts: map[string]int64{}}
}

func (m *memoryCounterStore) IncrementWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if m.failNext > 0 {
		m.failNext--
		return 0, 0, m.failErr
	}
	m.counts[key]++
	return m.counts[key], window / 2, nil
}

func newLimiter(store counterStore) *RateLimitService {
	return NewRateLimitService(store, nil, RateLimitConfig{
		Window:        time.Minute,
		LoginLimit:    5,
		RegisterLimit: 3,
		GenericLimit:  60,
	})
}

func TestRateLimitAllowsUpToThreshold(t *testing.T) {
	svc := newLimiter(newMemoryCounterStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassLogin)
		require.NoError(t, err, "attempt %d", i+1)
	}

	retryAfter, err := svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassLogin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRateLimited.Code, appErrors.FromError(err).Code)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimitClassesAreIndependent(t *testing.T) {
	svc := newLimiter(newMemoryCounterStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassRegister)
		require.NoError(t, err)
	}
	_, err := svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassRegister)
	require.Error(t, err)

	// The same client is still fine on other classes.
	_, err = svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassLogin)
	assert.NoError(t, err)
	_, err = svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassGeneric)
	assert.NoError(t, err)
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	svc := newLimiter(newMemoryCounterStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassLogin)
		require.NoError(t, err)
	}
	_, err := svc.CheckAndIncrement(ctx, "ip:10.0.0.1", ClassLogin)
	require.Error(t, err)

	_, err = svc.CheckAndIncrement(ctx, "ip:10.0.0.2", ClassLogin)
	assert.NoError(t, err)
	_, err = svc.CheckAndIncrement(ctx, "user:mrossi", ClassLogin)
	assert.NoError(t, err)
}

func TestRateLimitRetriesOnce(t *testing.T) {
	store := newMemoryCounterStore()
	store.failNext = 1
	store.failErr = errors.New("connection reset")
	svc := newLimiter(store)

	_, err := svc.CheckAndIncrement(context.Background(), "ip:10.0.0.1", ClassGeneric)
	assert.NoError(t, err)
}

func TestRateLimitFailsClosedOnOutage(t *testing.T) {
	store := newMemoryCounterStore()
	store.failNext = 2
	store.failErr = errors.New("connection refused")
	svc := newLimiter(store)

	_, err := svc.CheckAndIncrement(context.Background(), "ip:10.0.0.1", ClassGeneric)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBackendUnavailable.Code, appErrors.FromError(err).Code)
}
