package pyramid

import (
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/pyramid/core/store"
)

// Option configures a Loader.
type Option func(*Loader)

// WithFetchers sets the number of fetcher goroutines. Values < 1 mean 1.
// The default is GOMAXPROCS.
func WithFetchers(n int) Option {
	return func(l *Loader) {
		l.fetchers = n
	}
}

// WithFetchTimeout bounds every block load. A load that runs out of time
// yields an empty block tagged OriginFailed. Zero, the default, disables the
// deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.fetchTimeout = d
	}
}

// WithMaxPrefetch bounds the number of jobs PrepareNextFrame keeps from
// earlier frames.
func WithMaxPrefetch(n int) Option {
	return func(l *Loader) {
		l.maxPrefetch = &n
	}
}

// WithRetryFailed makes volatile images retry cells whose load failed, at
// most once per frame.
func WithRetryFailed(enabled bool) Option {
	return func(l *Loader) {
		l.retryFailed = enabled
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMetrics registers the loader's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *Loader) {
		l.registerer = reg
	}
}

// WithDiskCache keeps fetched objects in dir, pruned to maxBytes (0 means
// unlimited). Local file stores are never cached.
func WithDiskCache(dir string, maxBytes int64) Option {
	return func(l *Loader) {
		l.diskCacheDir = dir
		l.diskCacheMaxBytes = maxBytes
	}
}

// WithS3 sets the client configuration for s3:// locations. Bucket and
// prefix come from the location.
func WithS3(cfg store.S3Config) Option {
	return func(l *Loader) {
		l.storeOpts.S3 = cfg
	}
}

// WithHTTPClient sets the client for http(s) and S3 requests.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(l *Loader) {
		l.storeOpts.HTTPClient = client
	}
}

// WithHTTPHeader adds a header to every http(s) request.
func WithHTTPHeader(key, value string) Option {
	return func(l *Loader) {
		if l.storeOpts.HTTPHeaders == nil {
			l.storeOpts.HTTPHeaders = nethttp.Header{}
		}
		l.storeOpts.HTTPHeaders.Add(key, value)
	}
}

// WithMaxBlockBytes limits the decompressed size of one chunk.
// Set limit to 0 to disable the limit.
func WithMaxBlockBytes(limit uint64) Option {
	return func(l *Loader) {
		l.maxBlockBytes = &limit
	}
}

// WithStore reads from s instead of opening the location.
func WithStore(s store.Store) Option {
	return func(l *Loader) {
		l.store = s
	}
}
