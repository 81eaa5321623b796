package models

// JourneyState is the lifecycle state of a journey.
//
// Transitions move forward only: PENDING -> IN_PROGRESS -> COMPLETED.
// COMPLETED is terminal by convention.
type JourneyState string

const (
	JourneyPending    JourneyState = "PENDING"
	JourneyInProgress JourneyState = "IN_PROGRESS"
	JourneyCompleted  JourneyState = "COMPLETED"
)

// Valid reports whether s is one of the three known journey states.
func (s JourneyState) Valid() bool {
	switch s {
	case JourneyPending, JourneyInProgress, JourneyCompleted:
		return true
	}
	return false
}

// JourneyType describes how destinations relate across participants.
// Fixed at creation, never mutated.
type JourneyType string

const (
	// JourneyIndividual tracks a single traveller.
	JourneyIndividual JourneyType = "INDIVIDUAL"

	// JourneyCommonDestination tracks a group heading to one shared place.
	JourneyCommonDestination JourneyType = "COMMON_DESTINATION"

	// JourneyPersonalized tracks a group where each participant carries
	// their own destination on the participation record.
	JourneyPersonalized JourneyType = "PERSONALIZED"
)

// Journey represents a tracked group trip.
//
// In the live store this is a projection of the backend row: ID, GroupID
// and Type always originate from the backend. State may be written on the
// live side first and reconciled afterwards.
type Journey struct {
	// ID is the backend-assigned journey identifier.
	ID string `json:"id"`

	// GroupID is the chat group this journey belongs to.
	GroupID string `json:"groupId"`

	// State is the current lifecycle state.
	State JourneyState `json:"state"`

	// Type is the destination mode, fixed at creation.
	Type JourneyType `json:"journeyType"`

	// StartedAt is the Unix timestamp (seconds) when the journey entered
	// IN_PROGRESS, or the creation time for a journey still PENDING.
	StartedAt int64 `json:"startedAt"`

	// EndedAt is the Unix timestamp (seconds) when the journey entered
	// COMPLETED. Nil while the journey is still open.
	EndedAt *int64 `json:"endedAt,omitempty"`
}
