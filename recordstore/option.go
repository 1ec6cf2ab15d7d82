package recordstore

import (
	"knowstore/pagecache"
	"knowstore/storagelog"
)

type config struct {
	log         *storagelog.Logger
	stripeCount int
	cacheBytes  int
	readOnly    bool
}

// Option configures Open.
type Option func(*config)

// WithLogger injects a structured logger; the default is silent. The same
// logger is handed down to the underlying Gate and Cache.
func WithLogger(l *storagelog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithStripeCount overrides the number of stripes in the per-record lock
// table. Larger stores under heavy concurrent write load benefit from more
// stripes to cut down on false contention between unrelated records.
func WithStripeCount(n int) Option {
	return func(c *config) { c.stripeCount = n }
}

// WithCacheBytes sizes the Page Cache Open creates underneath the store.
func WithCacheBytes(n int) Option {
	return func(c *config) { c.cacheBytes = n }
}

// ReadOnly opens the underlying Gate read-only; every mutating Store method
// then fails with ErrReadOnly.
func ReadOnly() Option {
	return func(c *config) { c.readOnly = true }
}

func defaultConfig() *config {
	return &config{
		log:         storagelog.Nop(),
		stripeCount: defaultStripeCount,
		cacheBytes:  pagecache.DefaultCache,
	}
}
