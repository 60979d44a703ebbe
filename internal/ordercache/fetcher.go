package ordercache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

// OrderFetcher is the gateway call being cached.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (models.Order, error)
}

// flightTimeout bounds a shared upstream fetch once it is detached from the
// caller that started it.
const flightTimeout = 30 * time.Second

// LookupRecorder observes cache hits and misses. It may be nil.
type LookupRecorder interface {
	ObserveOrderCacheLookup(result string)
}

// Fetcher serves orders from the cache and falls back to the gateway,
// collapsing concurrent misses for the same id into one call.
type Fetcher struct {
	cache    Cache
	upstream OrderFetcher
	group    singleflight.Group
	log      logrus.FieldLogger
	recorder LookupRecorder
}

// NewFetcher builds a caching OrderFetcher.
func NewFetcher(cache Cache, upstream OrderFetcher, log logrus.FieldLogger, recorder LookupRecorder) *Fetcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{cache: cache, upstream: upstream, log: log, recorder: recorder}
}

// FetchOrder implements OrderFetcher.
func (f *Fetcher) FetchOrder(ctx context.Context, orderID string) (models.Order, error) {
	order, ok, err := f.cache.Get(ctx, orderID)
	if err != nil {
		f.observe("error")
		f.log.WithError(err).WithField("order_id", orderID).Warn("order cache read failed; falling back to gateway")
	} else if ok {
		f.observe("hit")
		return order, nil
	} else {
		f.observe("miss")
	}

	// The shared fetch outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := f.group.DoChan(orderID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		fetched, err := f.upstream.FetchOrder(fctx, orderID)
		if err != nil {
			return models.Order{}, err
		}
		if err := f.cache.Set(fctx, fetched); err != nil {
			f.log.WithError(err).WithField("order_id", orderID).Warn("order cache write failed")
		}
		return fetched, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Order{}, res.Err
		}
		return res.Val.(models.Order), nil
	case <-ctx.Done():
		return models.Order{}, ctx.Err()
	}
}

// Remember seeds the cache with an order that was just created.
func (f *Fetcher) Remember(ctx context.Context, order models.Order) {
	if err := f.cache.Set(ctx, order); err != nil {
		f.log.WithError(err).WithField("order_id", order.ID).Warn("order cache seed failed")
	}
}

func (f *Fetcher) observe(result string) {
	if f.recorder != nil {
		f.recorder.ObserveOrderCacheLookup(result)
	}
}
