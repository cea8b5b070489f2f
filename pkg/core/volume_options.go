package core

import (
	"time"

	"go.uber.org/zap"
)

const defaultHashCacheSize = 256

type (
	// Option for a volume
	Option func(*Volume)
)

// Logger sets a logger for this volume
func Logger(l *zap.Logger) Option {
	return func(v *Volume) {
		if l != nil {
			v.l = l
		}
	}
}

// Clock sets the time source for revisions and change records
func Clock(clock func() time.Time) Option {
	return func(v *Volume) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// HashCacheSize sets the number of listing hashes kept in cache
func HashCacheSize(size int) Option {
	return func(v *Volume) {
		if size > 0 {
			v.hashCacheSize = size
		}
	}
}
