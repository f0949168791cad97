package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunReaper sweeps ended sessions every interval until ctx is done. A zero
// retention disables reaping.
func (s *Store) RunReaper(ctx context.Context, interval, retention time.Duration, logger zerolog.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	log := logger.With().Str("module", "reaper").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep(s.opts.Now(), retention)
			if len(removed) > 0 {
				log.Info().Int("removed", len(removed)).Strs("session_ids", removed).Msg("reaped ended sessions")
			}
		}
	}
}
