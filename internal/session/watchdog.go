package session

import (
	"context"
	"log/slog"
	"time"
)

// watch stops s once it has been recording for MaxDuration. It exits quietly
// when s is stopped by someone else first.
func (r *Recorder) watch(s *Session) {
	defer r.watchdogs.Done()

	ticker := time.NewTicker(r.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.State() != StateActive {
				return
			}
			if s.Elapsed() < r.config.MaxDuration {
				continue
			}

			s.logger.Info("Maximum recording duration reached",
				slog.Duration("max_duration", r.config.MaxDuration))
			r.metrics.RecordWatchdogStop()

			if _, err := r.stopSession(context.Background(), s); err != nil {
				s.logger.Warn("Watchdog stop failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}
