// Package storage defines the two store abstractions the synchronization
// core is built on: the live document store that pushes changes to the UI,
// and the authoritative relational backend that owns the system-of-record
// rows. Keeping both behind interfaces lets the reconciliation policy live
// in one place and lets tests swap either side for a fake.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/models"
)

var (
	// ErrNotFound is returned when a requested entity does not exist in
	// the store being queried.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a transactional update exhausted its
	// retries without committing.
	ErrConflict = errors.New("transaction conflict")
)

// LiveStore is the real-time document store used for push-based UI
// updates and raw position storage.
//
// Layout mirrors the document hierarchy of the live backend:
//
//	chats/{groupID}/journeys/{journeyID}
//	chats/{groupID}/journeys/{journeyID}/participants/{userID}
//	chats/{groupID}/journeys/{journeyID}/participants/{userID}/positions/{positionID}
//
// Participation documents are keyed by user ID, which makes the
// at-most-one-per-(journey,user) invariant structural rather than checked.
//
// All methods are safe for concurrent use. Write failures propagate to
// the caller; watch failures are delivered on the subscription's error
// channel and never implicitly cancel the subscription.
type LiveStore interface {
	// UpsertJourney writes the journey mirror document with merge
	// semantics: creating it if absent, otherwise updating the lifecycle
	// fields while leaving backend-owned identity fields (GroupID, Type)
	// and an already-stamped EndedAt untouched. Never fails because the
	// document already exists.
	UpsertJourney(ctx context.Context, journey *models.Journey) error

	// GetJourney returns the journey mirror, or ErrNotFound.
	GetJourney(ctx context.Context, journeyID string) (*models.Journey, error)

	// SetJourneyState writes the journey state. Entering IN_PROGRESS
	// stamps StartedAt with the given time; entering COMPLETED stamps
	// EndedAt. Other states leave both stamps alone.
	SetJourneyState(ctx context.Context, journeyID string, state models.JourneyState, at time.Time) error

	// ListJourneys returns a point-in-time snapshot of every journey
	// mirror under the group, newest first.
	ListJourneys(ctx context.Context, groupID string) ([]*models.Journey, error)

	// WatchJourneys pushes a full snapshot of the group's journey list
	// whenever any child journey changes.
	WatchJourneys(ctx context.Context, groupID string) (*JourneySubscription, error)

	// GetParticipation returns the participation document, or nil when
	// the user never joined the journey.
	GetParticipation(ctx context.Context, journeyID, userID string) (*models.Participation, error)

	// PutParticipation writes the participation document as-is,
	// creating or replacing it. Intended for administrative and
	// reconciliation writes; concurrent joins must go through
	// UpdateParticipationTx instead.
	PutParticipation(ctx context.Context, p *models.Participation) error

	// DeleteParticipation removes the participation document. Removing
	// an absent document is not an error.
	DeleteParticipation(ctx context.Context, journeyID, userID string) error

	// ListParticipations returns every participation document under the
	// journey, ordered by join time.
	ListParticipations(ctx context.Context, journeyID string) ([]*models.Participation, error)

	// UpdateParticipationTx runs fn inside a transaction holding the
	// participation document for (journeyID, userID). fn receives the
	// current document (nil if absent) and returns the document to
	// write, or nil to leave the store untouched. The transaction is
	// retried a bounded number of times on conflict before failing with
	// ErrConflict.
	UpdateParticipationTx(ctx context.Context, journeyID, userID string, fn func(existing *models.Participation) (*models.Participation, error)) (*models.Participation, error)

	// WatchParticipants pushes a full snapshot of the journey's
	// participant list whenever any participation document changes.
	WatchParticipants(ctx context.Context, journeyID string) (*ParticipationSubscription, error)

	// AppendPosition writes one immutable sample with a store-assigned
	// identifier and timestamp, and returns the written sample.
	AppendPosition(ctx context.Context, journeyID, userID string, latitude, longitude float64) (*models.Position, error)

	// ListPositions returns the most recent samples for the participant,
	// timestamp descending. A limit <= 0 means no limit.
	ListPositions(ctx context.Context, journeyID, userID string, limit int) ([]*models.Position, error)

	// CountPositions returns the number of stored samples for the
	// participant.
	CountPositions(ctx context.Context, journeyID, userID string) (int, error)

	// PrunePositions deletes all but the keep most-recent samples,
	// oldest first, and returns how many were deleted. A no-op when the
	// sample count is already within keep.
	PrunePositions(ctx context.Context, journeyID, userID string, keep int) (int, error)

	// DeletePositions removes every sample for the participant.
	DeletePositions(ctx context.Context, journeyID, userID string) error

	// WatchPositions pushes the participant's most recent limit samples,
	// timestamp descending, on every new append.
	WatchPositions(ctx context.Context, journeyID, userID string, limit int) (*PositionSubscription, error)

	// Close cancels all active subscriptions and releases store
	// resources.
	Close() error
}

// BackendJourney is the authoritative journey row as the backend reports
// it. Field names follow the backend wire format.
type BackendJourney struct {
	ID             string              `json:"id"`
	GroupID        string              `json:"groupId"`
	State          models.JourneyState `json:"state"`
	JourneyType    models.JourneyType  `json:"journeyType"`
	IniDate        string              `json:"iniDate"`
	EndDate        *string             `json:"endDate,omitempty"`
	ParticipantIDs []string            `json:"participantIds"`
}

// BackendParticipation is the authoritative participation row.
type BackendParticipation struct {
	ID             string                    `json:"id,omitempty"`
	JourneyID      string                    `json:"journeyId"`
	UserID         string                    `json:"userId"`
	SharedLocation bool                      `json:"sharedLocation"`
	SourceID       *string                   `json:"sourceId,omitempty"`
	DestinationID  *string                   `json:"destinationId,omitempty"`
	State          models.ParticipationState `json:"state"`
	ArrivalTime    *string                   `json:"arrivalTime,omitempty"`
}

// AuthoritativeStore is the relational backend holding the system-of-
// record rows for journeys and participations. Raw GPS samples never
// reach it.
type AuthoritativeStore interface {
	// GetJourney fetches the authoritative journey row.
	GetJourney(ctx context.Context, journeyID string) (*BackendJourney, error)

	// SetJourneyState sets the journey's lifecycle state. Idempotent:
	// setting the current state again succeeds without effect.
	SetJourneyState(ctx context.Context, journeyID string, state models.JourneyState) error

	// CreateParticipation creates a participation row and returns it
	// with the backend-assigned ID populated.
	CreateParticipation(ctx context.Context, p *BackendParticipation) (*BackendParticipation, error)

	// UpdateParticipation updates an existing participation row.
	UpdateParticipation(ctx context.Context, p *BackendParticipation) error
}
