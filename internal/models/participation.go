package models

// ParticipationState is the lifecycle state of one user's membership in a
// journey.
type ParticipationState string

const (
	ParticipationPending   ParticipationState = "PENDING"
	ParticipationAccepted  ParticipationState = "ACCEPTED"
	ParticipationRejected  ParticipationState = "REJECTED"
	ParticipationCancelled ParticipationState = "CANCELLED"
	ParticipationCompleted ParticipationState = "COMPLETED"
)

// ParticipationStates lists every participation state in display order.
// Aggregations iterate this so zero-member states still appear.
var ParticipationStates = []ParticipationState{
	ParticipationPending,
	ParticipationAccepted,
	ParticipationRejected,
	ParticipationCancelled,
	ParticipationCompleted,
}

// Valid reports whether s is one of the five known participation states.
func (s ParticipationState) Valid() bool {
	for _, known := range ParticipationStates {
		if s == known {
			return true
		}
	}
	return false
}

// Participation represents one user's membership record within a journey.
//
// At most one participation exists per (JourneyID, UserID) pair; the live
// store keys the document by user ID rather than a generated ID to make
// that structural.
type Participation struct {
	// JourneyID is the journey this membership belongs to.
	JourneyID string `json:"journeyId"`

	// UserID identifies the participant and keys the document.
	UserID string `json:"userId"`

	// State is the current membership state.
	State ParticipationState `json:"state"`

	// Destination is the participant's own destination, used by
	// PERSONALIZED journeys. Nil when unset or shared.
	Destination *string `json:"destination,omitempty"`

	// BackendParticipationID links this record to the authoritative
	// relational row. Nil while the backend row does not exist yet (the
	// live record can be created first during a join race).
	BackendParticipationID *string `json:"backendParticipationId,omitempty"`

	// JoinedAt is the Unix timestamp (seconds) of the first join.
	// Never reset by later joins or state changes.
	JoinedAt int64 `json:"joinedAt"`

	// UpdatedAt is the Unix timestamp (seconds) of the last mutation.
	UpdatedAt int64 `json:"updatedAt"`
}

// Active reports whether the membership still counts toward the journey:
// true unless the participation was cancelled or rejected.
func (p *Participation) Active() bool {
	return p.State != ParticipationCancelled && p.State != ParticipationRejected
}
