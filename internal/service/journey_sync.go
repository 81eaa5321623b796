// Package service implements the four responsibilities of the
// synchronization core: mirroring journeys into the live store, managing
// participation documents, handling the per-participant position stream,
// and reconciling divergence between the live store and the
// authoritative backend.
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

// JourneySync mirrors journey lifecycle documents into the live store.
//
// It writes the live side only: the authoritative backend row is created
// by REST calls outside this core, and callers that need both sides to
// agree go through the Reconciler.
type JourneySync struct {
	live storage.LiveStore
}

// NewJourneySync creates a JourneySync over the given live store.
func NewJourneySync(live storage.LiveStore) *JourneySync {
	return &JourneySync{live: live}
}

// CreateMirror idempotently upserts the live journey document. Calling
// it for an existing journey merges the lifecycle fields and never
// fails on account of the document already existing.
func (s *JourneySync) CreateMirror(ctx context.Context, journey *models.Journey) error {
	if journey.ID == "" || journey.GroupID == "" {
		return fmt.Errorf("journey mirror requires backend-assigned id and group id")
	}
	if !journey.State.Valid() {
		return fmt.Errorf("invalid journey state %q", journey.State)
	}
	if journey.StartedAt == 0 {
		journey.StartedAt = time.Now().Unix()
	}

	if err := s.live.UpsertJourney(ctx, journey); err != nil {
		slog.Error("CreateMirror failed", "journey_id", journey.ID, "group_id", journey.GroupID, "error", err)
		return err
	}

	slog.Info("Journey mirror upserted", "journey_id", journey.ID, "group_id", journey.GroupID, "state", journey.State)
	return nil
}

// UpdateState writes the new lifecycle state to the live document.
// Entering IN_PROGRESS stamps the start time, entering COMPLETED stamps
// the end time. The backend is not touched here.
func (s *JourneySync) UpdateState(ctx context.Context, journeyID string, state models.JourneyState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid journey state %q", state)
	}

	if err := s.live.SetJourneyState(ctx, journeyID, state, time.Now()); err != nil {
		slog.Error("UpdateState failed", "journey_id", journeyID, "state", state, "error", err)
		return err
	}

	slog.Info("Journey state updated", "journey_id", journeyID, "state", state)
	return nil
}

// Get returns the live journey mirror.
func (s *JourneySync) Get(ctx context.Context, journeyID string) (*models.Journey, error) {
	return s.live.GetJourney(ctx, journeyID)
}

// ListChildJourneys returns a point-in-time snapshot of every journey
// mirror under the group.
func (s *JourneySync) ListChildJourneys(ctx context.Context, groupID string) ([]*models.Journey, error) {
	return s.live.ListJourneys(ctx, groupID)
}

// Subscribe pushes a full snapshot of the group's journey list whenever
// any child journey changes. Errors arrive on the subscription's error
// channel and do not end the subscription; Cancel stops all further
// deliveries and releases the store-side listener.
func (s *JourneySync) Subscribe(ctx context.Context, groupID string) (*storage.JourneySubscription, error) {
	sub, err := s.live.WatchJourneys(ctx, groupID)
	if err != nil {
		slog.Error("Subscribe failed", "group_id", groupID, "error", err)
		return nil, err
	}

	metrics.ActiveWatchers.WithLabelValues("journeys").Inc()
	return countingCancel(sub, "journeys"), nil
}
