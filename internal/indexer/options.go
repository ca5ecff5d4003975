package indexer

import (
	"time"

	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
)

const (
	defaultAttemptTimeout       = 30 * time.Second
	defaultMaxRetryDelay        = 10 * time.Second
	defaultTimestampConcurrency = 8
	defaultMetadataConcurrency  = 8
)

// Options tunes the default pipelines beyond what FetchConfig covers.
type Options struct {
	// AttemptTimeout bounds every individual RPC attempt.
	AttemptTimeout time.Duration
	// MaxRetryDelay caps the exponential backoff between RPC attempts.
	MaxRetryDelay        time.Duration
	TimestampConcurrency int
	MetadataConcurrency  int
}

func (o Options) withDefaults() Options {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = defaultAttemptTimeout
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = defaultMaxRetryDelay
	}
	if o.TimestampConcurrency <= 0 {
		o.TimestampConcurrency = defaultTimestampConcurrency
	}
	if o.MetadataConcurrency <= 0 {
		o.MetadataConcurrency = defaultMetadataConcurrency
	}
	return o
}

// rpcPolicy retries transient RPC failures with exponential backoff starting
// at the configured retry delay.
func rpcPolicy(cfg model.FetchConfig, opts Options, logger *zap.Logger) retry.Policy {
	return retry.Exponential(cfg.RetryAttempts, cfg.RetryDelay, opts.MaxRetryDelay).
		WithShouldRetry(retry.IsTransient).
		WithAttemptTimeout(opts.AttemptTimeout).
		WithLogger(logger)
}
