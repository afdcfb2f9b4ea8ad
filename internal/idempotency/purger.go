package idempotency

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPurgeInterval is how often RunPurger sweeps.
const DefaultPurgeInterval = time.Hour

// RunPurger calls PurgeExpired every interval until ctx is cancelled and
// then returns ctx.Err(). Sweep errors are logged and do not stop the loop.
func (s *Store) RunPurger(ctx context.Context, ttl, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	logger := log.With().Str("component", "idempotency_purger").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx, ttl)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("deleted", n).Dur("ttl", ttl).Msg("purged expired idempotency records")
			}
		}
	}
}
