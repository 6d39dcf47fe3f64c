package transport

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/ruarxive/apibackuper/pkg/config"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_retries_total",
		Help: "Total number of retry attempts",
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apibackuper_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

// ErrContextCancelled is returned when the context ends during a retry
// delay.
var ErrContextCancelled = errors.New("context cancelled")

// Policy is a bounded fixed-delay retry policy. An attempt failing with
// a retriable error is repeated after Delay until MaxAttempts total
// attempts have been made. MaxAttempts zero means unbounded.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retriable   func(error) bool
}

// PolicyFromConfig builds the retry policy from the project error
// handling settings. Retriable errors are timeouts plus the configured
// HTTP statuses (429 joins the set when rate limiting is enabled).
func PolicyFromConfig(cfg *config.Config) Policy {
	statuses := cfg.RetriableStatuses()
	return Policy{
		MaxAttempts: cfg.ErrorHandling.RetryCount,
		Delay:       cfg.ErrorHandling.RetryDelay,
		Retriable: func(err error) bool {
			var terr *Error
			if errors.As(err, &terr) {
				return terr.Retriable(statuses)
			}
			return false
		},
	}
}

// Do runs op under the policy. Non-retriable errors abort immediately;
// retriable ones are repeated until success, attempt exhaustion, or
// context cancellation.
func (p Policy) Do(ctx context.Context, op func() error) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if p.Retriable != nil && !p.Retriable(err) {
			return backoff.Permanent(err)
		}

		retriesTotal.Inc()
		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", p.Delay).
			Msg("Retrying request after delay")
		return err
	}, b)

	if err != nil {
		if ctx.Err() != nil && p.Retriable != nil && p.Retriable(err) {
			return ErrContextCancelled
		}
		if p.Retriable != nil && p.Retriable(err) {
			retryExhaustedTotal.Inc()
			log.Warn().
				Err(err).
				Int("max_attempts", p.MaxAttempts).
				Msg("Retry attempts exhausted")
		}
	}
	return err
}
