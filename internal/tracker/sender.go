// Package tracker runs the periodic location-send loop: one cancellable
// background task per tracked participant, appending a sample every
// interval and keeping the trail within its retention count.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/service"
)

// LocationSource yields the device's current coordinates. The real
// source is platform glue outside this core; tests use a fake.
type LocationSource interface {
	Current(ctx context.Context) (latitude, longitude float64, err error)
}

// Sender appends one position sample per interval for a single
// participant, pruning the trail to the retention count as it goes.
//
// A Sender has a single owner: start it with Run and stop it by
// cancelling the context. There is no ambient timer tied to any
// component lifecycle.
type Sender struct {
	// Stream receives the samples.
	Stream *service.PositionStream

	// Source yields coordinates for each tick.
	Source LocationSource

	// JourneyID and UserID scope the trail being written.
	JourneyID string
	UserID    string

	// Interval between samples.
	Interval time.Duration

	// Retention is the trail length to prune to. Zero disables pruning.
	Retention int

	// PruneEvery makes pruning run once per this many appends rather
	// than on every tick. Zero defaults to 10.
	PruneEvery int
}

// Run sends samples until ctx is cancelled. Individual send failures are
// logged and skipped; the loop only ends with the context.
func (s *Sender) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("sender interval must be positive, got %s", s.Interval)
	}
	pruneEvery := s.PruneEvery
	if pruneEvery <= 0 {
		pruneEvery = 10
	}

	slog.Info("Position sender started",
		"journey_id", s.JourneyID, "user_id", s.UserID,
		"interval", s.Interval, "retention", s.Retention)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	appends := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Position sender stopped", "journey_id", s.JourneyID, "user_id", s.UserID)
			return ctx.Err()
		case <-ticker.C:
			if s.sendOnce(ctx) {
				appends++
			}
			if s.Retention > 0 && appends > 0 && appends%pruneEvery == 0 {
				if _, err := s.Stream.Prune(ctx, s.JourneyID, s.UserID, s.Retention); err != nil {
					slog.Warn("Trail prune failed, will retry next cycle",
						"journey_id", s.JourneyID, "user_id", s.UserID, "error", err)
				}
			}
		}
	}
}

// sendOnce reads the source and appends one sample. Returns whether the
// append happened.
func (s *Sender) sendOnce(ctx context.Context) bool {
	latitude, longitude, err := s.Source.Current(ctx)
	if err != nil {
		slog.Warn("Location source failed, skipping tick",
			"journey_id", s.JourneyID, "user_id", s.UserID, "error", err)
		return false
	}

	if _, err := s.Stream.Append(ctx, s.JourneyID, s.UserID, latitude, longitude); err != nil {
		slog.Warn("Position send failed, skipping tick",
			"journey_id", s.JourneyID, "user_id", s.UserID, "error", err)
		return false
	}
	return true
}
