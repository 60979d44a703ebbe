package ordercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

func sampleOrder(id string) models.Order {
	return models.Order{
		ID: id, Amount: 999, Currency: "INR", Receipt: "receipt_order_x", Status: "created",
		Notes: models.OrderNotes{PlanID: "basic", BillingPeriod: "monthly", UserID: "7"},
	}
}

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, time.Hour), mr
}

func TestRedisRoundTrip(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "order_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, sampleOrder("order_1")))
	assert.True(t, mr.Exists(keyPrefix+"order_1"))

	got, ok, err := c.Get(ctx, "order_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleOrder("order_1"), got)

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "order_1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after ttl")
}

func TestRedisCorruptEntry(t *testing.T) {
	c, mr := setupRedis(t)
	require.NoError(t, mr.Set(keyPrefix+"order_bad", "{not json"))

	_, _, err := c.Get(context.Background(), "order_bad")
	assert.Error(t, err)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "://nope", time.Minute)
	assert.Error(t, err)
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, sampleOrder("a")))
	require.NoError(t, m.Set(ctx, sampleOrder("b")))
	require.NoError(t, m.Set(ctx, sampleOrder("c")))

	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
	got, ok, _ := m.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "c", got.ID)
}

type countingUpstream struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (u *countingUpstream) FetchOrder(ctx context.Context, id string) (models.Order, error) {
	u.calls.Add(1)
	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	if u.err != nil {
		return models.Order{}, u.err
	}
	return sampleOrder(id), nil
}

type recorder struct {
	mu      sync.Mutex
	results []string
}

func (r *recorder) ObserveOrderCacheLookup(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func TestFetcherCachesAfterMiss(t *testing.T) {
	up := &countingUpstream{}
	rec := &recorder{}
	f := NewFetcher(NewMemory(10, time.Hour), up, nil, rec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		o, err := f.FetchOrder(ctx, "order_1")
		require.NoError(t, err)
		assert.Equal(t, "order_1", o.ID)
	}

	assert.Equal(t, int32(1), up.calls.Load())
	assert.Equal(t, []string{"miss", "hit", "hit"}, rec.results)
}

func TestFetcherCoalescesConcurrentMisses(t *testing.T) {
	up := &countingUpstream{delay: 50 * time.Millisecond}
	f := NewFetcher(NewMemory(10, time.Hour), up, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.FetchOrder(context.Background(), "order_hot")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, up.calls.Load(), int32(2))
}

// gatedUpstream blocks until released or until the context it was given ends.
type gatedUpstream struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (u *gatedUpstream) FetchOrder(ctx context.Context, id string) (models.Order, error) {
	if u.calls.Add(1) == 1 {
		close(u.started)
	}
	select {
	case <-u.release:
		return sampleOrder(id), nil
	case <-ctx.Done():
		return models.Order{}, ctx.Err()
	}
}

func TestFetcherSharedFetchSurvivesCallerCancel(t *testing.T) {
	up := &gatedUpstream{started: make(chan struct{}), release: make(chan struct{})}
	f := NewFetcher(NewMemory(10, time.Hour), up, nil, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.FetchOrder(firstCtx, "order_1")
		firstErr <- err
	}()
	<-up.started

	type result struct {
		order models.Order
		err   error
	}
	second := make(chan result, 1)
	go func() {
		o, err := f.FetchOrder(context.Background(), "order_1")
		second <- result{o, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(up.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "order_1", got.order.ID)
	assert.Equal(t, int32(1), up.calls.Load())

	_, err := f.FetchOrder(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestFetcherDoesNotCacheErrors(t *testing.T) {
	up := &countingUpstream{err: errors.New("gateway down")}
	f := NewFetcher(NewMemory(10, time.Hour), up, nil, nil)

	_, err := f.FetchOrder(context.Background(), "order_1")
	assert.Error(t, err)
	_, err = f.FetchOrder(context.Background(), "order_1")
	assert.Error(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestFetcherFallsBackWhenRedisIsDown(t *testing.T) {
	c, mr := setupRedis(t)
	mr.Close()

	logger, hook := test.NewNullLogger()
	up := &countingUpstream{}
	f := NewFetcher(c, up, logger, nil)

	o, err := f.FetchOrder(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", o.ID)
	assert.Equal(t, int32(1), up.calls.Load())

	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.AllEntries()[0].Level)
}

func TestRememberSeedsCache(t *testing.T) {
	up := &countingUpstream{}
	f := NewFetcher(NewMemory(10, time.Hour), up, nil, nil)
	f.Remember(context.Background(), sampleOrder("order_new"))

	_, err := f.FetchOrder(context.Background(), "order_new")
	require.NoError(t, err)
	assert.Equal(t, int32(0), up.calls.Load())
}
