// Package models defines the core domain models for the journey
// synchronization core.
//
// # Models
//
//   - Journey: a tracked group trip with a lifecycle state and a type
//     describing whether participants share a destination
//   - Participation: one user's membership record within a journey
//   - Position: a single immutable GPS sample for one participant
//
// # Ownership
//
// The relational backend is the system of record for journeys and
// participations; the live store holds a projection of them plus the raw
// position stream (the backend never stores GPS samples). Identity fields
// on the journey mirror (ID, GroupID, Type) are owned by the backend and
// are never invented on the live side.
//
// # Design principles
//
//  1. **Flat records**: relationships use ID strings, never pointers,
//     so documents round-trip cleanly through either store
//  2. **Epoch timestamps**: seconds for lifecycle fields (JoinedAt,
//     StartedAt), nanoseconds for position samples where ordering matters
//  3. **Optional fields as pointers**: absent is distinct from zero for
//     EndedAt, Destination and BackendParticipationID
package models
