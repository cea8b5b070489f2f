package kv

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the metadata store
type Option func(*DB)

// Logger sets a logger for the store. Badger internal logs are routed to it.
func Logger(l *zap.Logger) Option {
	return func(d *DB) {
		if l != nil {
			d.l = l
		}
	}
}

// Retries sets the maximum number of retries on conflicting transactions
func Retries(n uint64) Option {
	return func(d *DB) {
		d.retries = n
	}
}

// RetryDelay sets the delay between retries on conflicting transactions
func RetryDelay(delay time.Duration) Option {
	return func(d *DB) {
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// badgerLogger adapts a zap logger to the badger.Logger interface
type badgerLogger struct {
	*zap.SugaredLogger
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.SugaredLogger.Warnf(format, args...)
}
