package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// UpsertJourney writes the journey mirror document with merge semantics.
// Identity fields (group, type) stick to their first written value; an
// already-stamped end time is never cleared by a later upsert carrying
// none.
func (s *Store) UpsertJourney(ctx context.Context, journey *models.Journey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journeys (id, group_id, state, journey_type, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			ended_at = COALESCE(excluded.ended_at, journeys.ended_at)`,
		journey.ID, journey.GroupID, journey.State, journey.Type,
		journey.StartedAt, journey.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert journey %s: %w", journey.ID, err)
	}

	s.hub.broadcast(journeysTopic(journey.GroupID))
	return nil
}

// GetJourney retrieves the journey mirror by ID.
func (s *Store) GetJourney(ctx context.Context, journeyID string) (*models.Journey, error) {
	journey := &models.Journey{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, state, journey_type, started_at, ended_at
		FROM journeys WHERE id = ?`,
		journeyID,
	).Scan(&journey.ID, &journey.GroupID, &journey.State, &journey.Type,
		&journey.StartedAt, &journey.EndedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journey %s: %w", journeyID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journey %s: %w", journeyID, err)
	}
	return journey, nil
}

// SetJourneyState writes the journey state plus its state-dependent time
// stamp: IN_PROGRESS stamps the start, COMPLETED stamps the end.
func (s *Store) SetJourneyState(ctx context.Context, journeyID string, state models.JourneyState, at time.Time) error {
	var res sql.Result
	var err error
	switch state {
	case models.JourneyInProgress:
		res, err = s.db.ExecContext(ctx,
			"UPDATE journeys SET state = ?, started_at = ? WHERE id = ?",
			state, at.Unix(), journeyID)
	case models.JourneyCompleted:
		res, err = s.db.ExecContext(ctx,
			"UPDATE journeys SET state = ?, ended_at = ? WHERE id = ?",
			state, at.Unix(), journeyID)
	default:
		res, err = s.db.ExecContext(ctx,
			"UPDATE journeys SET state = ? WHERE id = ?",
			state, journeyID)
	}
	if err != nil {
		return fmt.Errorf("failed to set journey %s state: %w", journeyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("journey %s: %w", journeyID, storage.ErrNotFound)
	}

	groupID, err := s.journeyGroup(ctx, journeyID)
	if err != nil {
		return err
	}
	s.hub.broadcast(journeysTopic(groupID))
	return nil
}

// ListJourneys returns every journey mirror under the group, newest
// first.
func (s *Store) ListJourneys(ctx context.Context, groupID string) ([]*models.Journey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, state, journey_type, started_at, ended_at
		FROM journeys WHERE group_id = ?
		ORDER BY started_at DESC, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var journeys []*models.Journey
	for rows.Next() {
		journey := &models.Journey{}
		if err := rows.Scan(&journey.ID, &journey.GroupID, &journey.State,
			&journey.Type, &journey.StartedAt, &journey.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}
		journeys = append(journeys, journey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journeys: %w", err)
	}
	return journeys, nil
}

// WatchJourneys pushes a full snapshot of the group's journey list on
// every change, starting with the current state.
func (s *Store) WatchJourneys(ctx context.Context, groupID string) (*storage.JourneySubscription, error) {
	return watch(s.hub, journeysTopic(groupID), func(ctx context.Context) ([]*models.Journey, error) {
		return s.ListJourneys(ctx, groupID)
	})
}

// journeyGroup resolves the owning group of a journey for change
// broadcasting.
func (s *Store) journeyGroup(ctx context.Context, journeyID string) (string, error) {
	var groupID string
	err := s.db.QueryRowContext(ctx,
		"SELECT group_id FROM journeys WHERE id = ?", journeyID,
	).Scan(&groupID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("journey %s: %w", journeyID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve journey %s group: %w", journeyID, err)
	}
	return groupID, nil
}
