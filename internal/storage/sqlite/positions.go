package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// AppendPosition writes one immutable sample with a store-assigned UUID
// and timestamp.
func (s *Store) AppendPosition(ctx context.Context, journeyID, userID string, latitude, longitude float64) (*models.Position, error) {
	position := &models.Position{
		ID:        uuid.New().String(),
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: time.Now().UnixNano(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, journey_id, user_id, latitude, longitude, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		position.ID, journeyID, userID,
		position.Latitude, position.Longitude, position.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append position for %s/%s: %w", journeyID, userID, err)
	}

	s.hub.broadcast(positionsTopic(journeyID, userID))
	return position, nil
}

// ListPositions returns the most recent samples, timestamp descending.
// Equal timestamps fall back to insertion order so rapid appends stay
// strictly ordered.
func (s *Store) ListPositions(ctx context.Context, journeyID, userID string, limit int) ([]*models.Position, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, timestamp
		FROM positions WHERE journey_id = ? AND user_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`,
		journeyID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for %s/%s: %w", journeyID, userID, err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		position := &models.Position{}
		if err := rows.Scan(&position.ID, &position.Latitude,
			&position.Longitude, &position.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return positions, nil
}

// CountPositions returns the number of stored samples for a participant.
func (s *Store) CountPositions(ctx context.Context, journeyID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM positions WHERE journey_id = ? AND user_id = ?",
		journeyID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count positions for %s/%s: %w", journeyID, userID, err)
	}
	return count, nil
}

// PrunePositions deletes all but the keep most-recent samples, oldest
// first.
func (s *Store) PrunePositions(ctx context.Context, journeyID, userID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM positions WHERE id IN (
			SELECT id FROM positions
			WHERE journey_id = ? AND user_id = ?
			ORDER BY timestamp DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)`,
		journeyID, userID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune positions for %s/%s: %w", journeyID, userID, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned positions: %w", err)
	}
	if deleted > 0 {
		s.hub.broadcast(positionsTopic(journeyID, userID))
	}
	return int(deleted), nil
}

// DeletePositions removes every sample for the participant.
func (s *Store) DeletePositions(ctx context.Context, journeyID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM positions WHERE journey_id = ? AND user_id = ?",
		journeyID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete positions for %s/%s: %w", journeyID, userID, err)
	}

	s.hub.broadcast(positionsTopic(journeyID, userID))
	return nil
}

// WatchPositions pushes the participant's most recent limit samples on
// every append, starting with the current state.
func (s *Store) WatchPositions(ctx context.Context, journeyID, userID string, limit int) (*storage.PositionSubscription, error) {
	return watch(s.hub, positionsTopic(journeyID, userID), func(ctx context.Context) ([]*models.Position, error) {
		return s.ListPositions(ctx, journeyID, userID, limit)
	})
}
