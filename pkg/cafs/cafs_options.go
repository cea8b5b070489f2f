package cafs

import "go.uber.org/zap"

// Option to configure content addressable store components
type Option func(*defaultFs)

// Prefix sets a prefix on keys
func Prefix(prefix string) Option {
	return func(f *defaultFs) {
		f.prefix = prefix
	}
}

// Compress blobs at rest with zstd
func Compress(enabled bool) Option {
	return func(f *defaultFs) {
		f.compress = enabled
	}
}

// CompressionThreshold sets the minimum blob size for compression to be attempted
func CompressionThreshold(size int) Option {
	return func(f *defaultFs) {
		if size >= 0 {
			f.threshold = size
		}
	}
}

// Logger sets a logger for this store
func Logger(l *zap.Logger) Option {
	return func(f *defaultFs) {
		if l != nil {
			f.l = l
		}
	}
}
