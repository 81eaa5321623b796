package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/metrics"
	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// ParticipationSync manages per-user participation documents under a
// journey. The document is keyed by user ID, so there is never more than
// one per (journey, user) pair; concurrent joins are collapsed by the
// store transaction rather than by caller discipline.
type ParticipationSync struct {
	live storage.LiveStore
}

// NewParticipationSync creates a ParticipationSync over the given live
// store.
func NewParticipationSync(live storage.LiveStore) *ParticipationSync {
	return &ParticipationSync{live: live}
}

// JoinOptions carries the optional fields of a join. Zero values mean
// "leave unset" on create and "leave unchanged" on re-join.
type JoinOptions struct {
	// InitialState overrides the default PENDING state of a fresh join.
	// On a re-join it replaces the current state when set.
	InitialState models.ParticipationState

	// Destination is the participant's own destination for PERSONALIZED
	// journeys.
	Destination *string

	// BackendParticipationID links the document to the authoritative row
	// when that row already exists at join time.
	BackendParticipationID *string
}

// Join creates or updates the participation document for
// (journeyID, userID) inside a transaction. A fresh join writes the full
// document; a repeated join merges only the mutable fields and leaves
// JoinedAt untouched, so duplicate taps and retried network calls are
// harmless.
func (s *ParticipationSync) Join(ctx context.Context, journeyID, userID string, opts JoinOptions) (*models.Participation, error) {
	if opts.InitialState != "" && !opts.InitialState.Valid() {
		return nil, fmt.Errorf("invalid participation state %q", opts.InitialState)
	}

	p, err := s.live.UpdateParticipationTx(ctx, journeyID, userID, func(existing *models.Participation) (*models.Participation, error) {
		now := time.Now().Unix()
		if existing == nil {
			state := opts.InitialState
			if state == "" {
				state = models.ParticipationPending
			}
			return &models.Participation{
				JourneyID:              journeyID,
				UserID:                 userID,
				State:                  state,
				Destination:            opts.Destination,
				BackendParticipationID: opts.BackendParticipationID,
				JoinedAt:               now,
				UpdatedAt:              now,
			}, nil
		}

		// Merge only the mutable fields; JoinedAt survives re-joins.
		if opts.InitialState != "" {
			existing.State = opts.InitialState
		}
		if opts.Destination != nil {
			existing.Destination = opts.Destination
		}
		if opts.BackendParticipationID != nil {
			existing.BackendParticipationID = opts.BackendParticipationID
		}
		existing.UpdatedAt = now
		return existing, nil
	})
	if err != nil {
		slog.Error("Join failed", "journey_id", journeyID, "user_id", userID, "error", err)
		return nil, err
	}

	slog.Info("Participant joined", "journey_id", journeyID, "user_id", userID, "state", p.State)
	return p, nil
}

// Leave ends the user's participation. The default soft leave sets the
// state to CANCELLED and preserves the document for history display;
// hardDelete removes the document entirely.
func (s *ParticipationSync) Leave(ctx context.Context, journeyID, userID string, hardDelete bool) error {
	if hardDelete {
		if err := s.live.DeleteParticipation(ctx, journeyID, userID); err != nil {
			slog.Error("Hard leave failed", "journey_id", journeyID, "user_id", userID, "error", err)
			return err
		}
		slog.Info("Participant removed", "journey_id", journeyID, "user_id", userID)
		return nil
	}

	if err := s.SetState(ctx, journeyID, userID, models.ParticipationCancelled); err != nil {
		return err
	}
	slog.Info("Participant left", "journey_id", journeyID, "user_id", userID)
	return nil
}

// SetState directly writes the participation state. Administrative and
// reconciliation use; callers are responsible for not racing a
// concurrent Join.
func (s *ParticipationSync) SetState(ctx context.Context, journeyID, userID string, state models.ParticipationState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid participation state %q", state)
	}
	return s.mutate(ctx, journeyID, userID, func(p *models.Participation) {
		p.State = state
	})
}

// SetDestination directly writes (or clears, with nil) the participant's
// destination.
func (s *ParticipationSync) SetDestination(ctx context.Context, journeyID, userID string, destination *string) error {
	return s.mutate(ctx, journeyID, userID, func(p *models.Participation) {
		p.Destination = destination
	})
}

// mutate loads, edits and rewrites an existing participation document.
// Last writer wins; there is no merge with concurrent mutations.
func (s *ParticipationSync) mutate(ctx context.Context, journeyID, userID string, edit func(*models.Participation)) error {
	p, err := s.live.GetParticipation(ctx, journeyID, userID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("participation %s/%s: %w", journeyID, userID, storage.ErrNotFound)
	}

	edit(p)
	p.UpdatedAt = time.Now().Unix()

	if err := s.live.PutParticipation(ctx, p); err != nil {
		slog.Error("Participation update failed", "journey_id", journeyID, "user_id", userID, "error", err)
		return err
	}
	return nil
}

// List returns every participation document under the journey.
func (s *ParticipationSync) List(ctx context.Context, journeyID string) ([]*models.Participation, error) {
	return s.live.ListParticipations(ctx, journeyID)
}

// Get returns the participation document, or nil when the user never
// joined.
func (s *ParticipationSync) Get(ctx context.Context, journeyID, userID string) (*models.Participation, error) {
	return s.live.GetParticipation(ctx, journeyID, userID)
}

// IsActive reports whether a participation exists whose state is neither
// CANCELLED nor REJECTED. Best-effort: store errors degrade to false
// rather than propagating.
func (s *ParticipationSync) IsActive(ctx context.Context, journeyID, userID string) bool {
	p, err := s.live.GetParticipation(ctx, journeyID, userID)
	if err != nil {
		slog.Warn("IsActive degraded to false", "journey_id", journeyID, "user_id", userID, "error", err)
		return false
	}
	return p != nil && p.Active()
}

// CountByState aggregates the journey's participants per state. All five
// states are present as keys even at zero, so callers can render a
// complete breakdown without existence checks. Best-effort: store errors
// degrade to an all-zero map.
func (s *ParticipationSync) CountByState(ctx context.Context, journeyID string) map[models.ParticipationState]int {
	counts := make(map[models.ParticipationState]int, len(models.ParticipationStates))
	for _, state := range models.ParticipationStates {
		counts[state] = 0
	}

	participations, err := s.live.ListParticipations(ctx, journeyID)
	if err != nil {
		slog.Warn("CountByState degraded to zeros", "journey_id", journeyID, "error", err)
		return counts
	}
	for _, p := range participations {
		counts[p.State]++
	}
	return counts
}

// Subscribe pushes a full snapshot of the journey's participant list on
// any change.
func (s *ParticipationSync) Subscribe(ctx context.Context, journeyID string) (*storage.ParticipationSubscription, error) {
	sub, err := s.live.WatchParticipants(ctx, journeyID)
	if err != nil {
		slog.Error("Subscribe failed", "journey_id", journeyID, "error", err)
		return nil, err
	}

	metrics.ActiveWatchers.WithLabelValues("participants").Inc()
	return countingCancel(sub, "participants"), nil
}
