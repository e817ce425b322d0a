package captains

import (
	"context"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

const finalizeTimeout = 5 * time.Second

// Track accrues online hours for a captain while ctx lives, normally the
// captain's realtime session. Each tick adds the time since the last
// successful write and pushes fresh stats; the remainder is written once ctx ends.
func (s *Service) Track(ctx context.Context, captainID string) {
	interval := s.AccrualInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.now()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
			s.accrue(fctx, captainID, &last)
			cancel()
			return
		case <-ticker.C:
			s.accrue(ctx, captainID, &last)
		}
	}
}

func (s *Service) accrue(ctx context.Context, captainID string, last *time.Time) {
	now := s.now()
	hours := now.Sub(*last).Hours()
	if hours <= 0 {
		return
	}
	c, err := s.Store.AddHoursOnline(ctx, captainID, now, hours)
	if err != nil {
		s.logger().Warn("online hours update failed", "captain_id", captainID, "error", err)
		return
	}
	*last = now
	s.Notifier.ToCaptain(captainID, models.EventStatsUpdated, models.StatsFor(c, now))
}
