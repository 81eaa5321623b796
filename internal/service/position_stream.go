package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/geo"
	"github.com/liapostsk/aeghis-sync/internal/metrics"
	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// PositionStream manages the append-only per-participant location log in
// the live store. Samples never reach the backend; retention is by
// explicit pruning, not TTL.
type PositionStream struct {
	live storage.LiveStore
}

// NewPositionStream creates a PositionStream over the given live store.
func NewPositionStream(live storage.LiveStore) *PositionStream {
	return &PositionStream{live: live}
}

// Append writes one immutable sample with a store-assigned timestamp and
// returns it.
func (s *PositionStream) Append(ctx context.Context, journeyID, userID string, latitude, longitude float64) (*models.Position, error) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("coordinates out of range: %f, %f", latitude, longitude)
	}

	position, err := s.live.AppendPosition(ctx, journeyID, userID, latitude, longitude)
	if err != nil {
		slog.Error("Append failed", "journey_id", journeyID, "user_id", userID, "error", err)
		return nil, err
	}

	metrics.PositionsAppended.Inc()
	return position, nil
}

// Latest returns the single most-recent sample, or nil when the
// participant has none.
func (s *PositionStream) Latest(ctx context.Context, journeyID, userID string) (*models.Position, error) {
	positions, err := s.live.ListPositions(ctx, journeyID, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return positions[0], nil
}

// History returns the most-recent limit samples, timestamp descending.
// A limit <= 0 returns the full trail.
func (s *PositionStream) History(ctx context.Context, journeyID, userID string, limit int) ([]*models.Position, error) {
	return s.live.ListPositions(ctx, journeyID, userID, limit)
}

// SubscribeLatest pushes the participant's most-recent limit samples on
// every new append.
func (s *PositionStream) SubscribeLatest(ctx context.Context, journeyID, userID string, limit int) (*storage.PositionSubscription, error) {
	sub, err := s.live.WatchPositions(ctx, journeyID, userID, limit)
	if err != nil {
		slog.Error("SubscribeLatest failed", "journey_id", journeyID, "user_id", userID, "error", err)
		return nil, err
	}

	metrics.ActiveWatchers.WithLabelValues("positions").Inc()
	return countingCancel(sub, "positions"), nil
}

// SubscribeAll fans out one position subscription per participant and
// merges their updates into a single userID -> samples map. A failure to
// open or run one participant's subscription is reported on the error
// channel and never cancels the siblings.
func (s *PositionStream) SubscribeAll(ctx context.Context, journeyID string, userIDs []string, limit int) (*PositionFanout, error) {
	fanout := newPositionFanout()

	for _, userID := range userIDs {
		sub, err := s.live.WatchPositions(ctx, journeyID, userID, limit)
		if err != nil {
			slog.Warn("Fan-out child failed to open", "journey_id", journeyID, "user_id", userID, "error", err)
			fanout.out.Fail(fmt.Errorf("participant %s: %w", userID, err))
			continue
		}
		fanout.add(userID, sub)
	}

	return fanout, nil
}

// Prune deletes all but the keep most-recent samples, oldest first, and
// returns how many were removed. A no-op when the trail already fits.
func (s *PositionStream) Prune(ctx context.Context, journeyID, userID string, keep int) (int, error) {
	deleted, err := s.live.PrunePositions(ctx, journeyID, userID, keep)
	if err != nil {
		slog.Error("Prune failed", "journey_id", journeyID, "user_id", userID, "error", err)
		return 0, err
	}

	if deleted > 0 {
		metrics.PositionsPruned.Add(float64(deleted))
		slog.Debug("Trail pruned", "journey_id", journeyID, "user_id", userID, "deleted", deleted, "keep", keep)
	}
	return deleted, nil
}

// DeleteAll discards the participant's entire trail. Used on hard leave.
func (s *PositionStream) DeleteAll(ctx context.Context, journeyID, userID string) error {
	if err := s.live.DeletePositions(ctx, journeyID, userID); err != nil {
		slog.Error("DeleteAll failed", "journey_id", journeyID, "user_id", userID, "error", err)
		return err
	}
	slog.Info("Trail deleted", "journey_id", journeyID, "user_id", userID)
	return nil
}

// IsRecent reports whether the participant's latest sample exists and is
// younger than the threshold. Best-effort: store errors degrade to
// false.
func (s *PositionStream) IsRecent(ctx context.Context, journeyID, userID string, threshold time.Duration) bool {
	latest, err := s.Latest(ctx, journeyID, userID)
	if err != nil {
		slog.Warn("IsRecent degraded to false", "journey_id", journeyID, "user_id", userID, "error", err)
		return false
	}
	return latest != nil && latest.Age(time.Now()) <= threshold
}

// Distance returns the great-circle distance in meters between two
// samples.
func (s *PositionStream) Distance(a, b *models.Position) float64 {
	return geo.Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
