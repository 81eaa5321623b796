package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// txRetries bounds how often a participation transaction is replayed on
// a locking conflict before giving up with ErrConflict.
const txRetries = 3

// GetParticipation retrieves the participation document, or nil when the
// user never joined the journey.
func (s *Store) GetParticipation(ctx context.Context, journeyID, userID string) (*models.Participation, error) {
	p, err := scanParticipation(s.db.QueryRowContext(ctx, `
		SELECT journey_id, user_id, state, destination, backend_participation_id, joined_at, updated_at
		FROM participations WHERE journey_id = ? AND user_id = ?`,
		journeyID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil // never joined
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participation %s/%s: %w", journeyID, userID, err)
	}
	return p, nil
}

// PutParticipation writes the participation document, creating or
// replacing it.
func (s *Store) PutParticipation(ctx context.Context, p *models.Participation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO participations
			(journey_id, user_id, state, destination, backend_participation_id, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.JourneyID, p.UserID, p.State, p.Destination,
		p.BackendParticipationID, p.JoinedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put participation %s/%s: %w", p.JourneyID, p.UserID, err)
	}

	s.hub.broadcast(participantsTopic(p.JourneyID))
	return nil
}

// DeleteParticipation removes the participation document. Absent
// documents delete cleanly.
func (s *Store) DeleteParticipation(ctx context.Context, journeyID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM participations WHERE journey_id = ? AND user_id = ?",
		journeyID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete participation %s/%s: %w", journeyID, userID, err)
	}

	s.hub.broadcast(participantsTopic(journeyID))
	return nil
}

// ListParticipations returns every participation under the journey,
// ordered by join time then user ID for a stable listing.
func (s *Store) ListParticipations(ctx context.Context, journeyID string) ([]*models.Participation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT journey_id, user_id, state, destination, backend_participation_id, joined_at, updated_at
		FROM participations WHERE journey_id = ?
		ORDER BY joined_at, user_id`,
		journeyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations for journey %s: %w", journeyID, err)
	}
	defer rows.Close()

	var participations []*models.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		participations = append(participations, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participations: %w", err)
	}
	return participations, nil
}

// UpdateParticipationTx runs fn against the current participation
// document inside a transaction, retrying on locking conflicts. This is
// what makes concurrent joins from the same user collapse into one
// document instead of racing.
func (s *Store) UpdateParticipationTx(ctx context.Context, journeyID, userID string, fn func(existing *models.Participation) (*models.Participation, error)) (*models.Participation, error) {
	var result *models.Participation
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		result, err = s.participationTxOnce(ctx, journeyID, userID, fn)
		if err == nil || !isBusy(err) {
			break
		}
	}
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("participation %s/%s update: %w", journeyID, userID, storage.ErrConflict)
		}
		return nil, err
	}
	if result != nil {
		s.hub.broadcast(participantsTopic(journeyID))
	}
	return result, nil
}

func (s *Store) participationTxOnce(ctx context.Context, journeyID, userID string, fn func(existing *models.Participation) (*models.Participation, error)) (*models.Participation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanParticipation(tx.QueryRowContext(ctx, `
		SELECT journey_id, user_id, state, destination, backend_participation_id, joined_at, updated_at
		FROM participations WHERE journey_id = ? AND user_id = ?`,
		journeyID, userID,
	))
	if err == sql.ErrNoRows {
		existing = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read participation %s/%s: %w", journeyID, userID, err)
	}

	updated, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// fn declined to write; leave the store untouched.
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO participations
			(journey_id, user_id, state, destination, backend_participation_id, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		updated.JourneyID, updated.UserID, updated.State, updated.Destination,
		updated.BackendParticipationID, updated.JoinedAt, updated.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to write participation %s/%s: %w", journeyID, userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit participation %s/%s: %w", journeyID, userID, err)
	}
	return updated, nil
}

// WatchParticipants pushes a full snapshot of the journey's participant
// list on every change, starting with the current state.
func (s *Store) WatchParticipants(ctx context.Context, journeyID string) (*storage.ParticipationSubscription, error) {
	return watch(s.hub, participantsTopic(journeyID), func(ctx context.Context) ([]*models.Participation, error) {
		return s.ListParticipations(ctx, journeyID)
	})
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanParticipation(row scanner) (*models.Participation, error) {
	p := &models.Participation{}
	err := row.Scan(&p.JourneyID, &p.UserID, &p.State, &p.Destination,
		&p.BackendParticipationID, &p.JoinedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
