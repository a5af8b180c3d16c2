package service

import (
	"context"
	"time"

	"ecoswap/internal/lock"
	"ecoswap/internal/metrics"
	"ecoswap/pkg"
)

const defaultLockTimeout = 5 * time.Second

// ChangeNotifier is told after every committed state change so that read
// views can be invalidated.
type ChangeNotifier interface {
	AccountChanged(accountID string)
	MarketplaceChanged()
}

type nopNotifier struct{}

func (nopNotifier) AccountChanged(string) {}
func (nopNotifier) MarketplaceChanged()   {}

type options struct {
	log         pkg.Logger
	metrics     *metrics.Metrics
	notifier    ChangeNotifier
	locker      *lock.Keyed
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*options)

func WithLogger(l pkg.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithNotifier(n ChangeNotifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLocker shares one lock table between services. Services that touch
// the same accounts must share a locker.
func WithLocker(k *lock.Keyed) Option {
	return func(o *options) { o.locker = k }
}

func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{
		log:         pkg.NewNopLogger(),
		notifier:    nopNotifier{},
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = lock.NewKeyed()
	}
	return o
}

func (o *options) acquire(ctx context.Context, keys ...string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, o.lockTimeout)
	defer cancel()
	return o.locker.Lock(lctx, keys...)
}
