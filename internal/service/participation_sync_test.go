package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liapostsk/aeghis-sync/internal/models"
)

func TestJoin_IdempotentKeepsJoinedAt(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	first, err := sync.Join(ctx, "j1", "u1", JoinOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationPending, first.State)
	assert.NotZero(t, first.JoinedAt)

	// The duplicate tap: same user joins again with more information.
	time.Sleep(1100 * time.Millisecond) // cross a whole-second boundary
	second, err := sync.Join(ctx, "j1", "u1", JoinOptions{
		InitialState:           models.ParticipationAccepted,
		BackendParticipationID: strptr("bp-1"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.JoinedAt, second.JoinedAt, "JoinedAt must survive a re-join")
	assert.Equal(t, models.ParticipationAccepted, second.State)
	require.NotNil(t, second.BackendParticipationID)
	assert.Equal(t, "bp-1", *second.BackendParticipationID)

	all, err := sync.List(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, all, 1, "exactly one document per (journey, user)")
}

func TestJoin_UniquenessAcrossUsers(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	for _, userID := range []string{"u1", "u2", "u1", "u3", "u2"} {
		_, err := sync.Join(ctx, "j1", userID, JoinOptions{})
		require.NoError(t, err)
	}

	all, err := sync.List(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	seen := make(map[string]bool)
	for _, p := range all {
		assert.False(t, seen[p.UserID], "duplicate document for user %s", p.UserID)
		seen[p.UserID] = true
	}
}

func TestJoin_RejectsUnknownState(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))

	_, err := sync.Join(context.Background(), "j1", "u1", JoinOptions{InitialState: "LOITERING"})
	assert.Error(t, err)
}

func TestLeave_SoftPreservesHistory(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	_, err := sync.Join(ctx, "j1", "u1", JoinOptions{InitialState: models.ParticipationAccepted})
	require.NoError(t, err)

	require.NoError(t, sync.Leave(ctx, "j1", "u1", false))

	p, err := sync.Get(ctx, "j1", "u1")
	require.NoError(t, err)
	require.NotNil(t, p, "soft leave keeps the document")
	assert.Equal(t, models.ParticipationCancelled, p.State)
	assert.False(t, sync.IsActive(ctx, "j1", "u1"))
}

func TestLeave_HardRemovesDocument(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	_, err := sync.Join(ctx, "j1", "u1", JoinOptions{})
	require.NoError(t, err)

	require.NoError(t, sync.Leave(ctx, "j1", "u1", true))

	p, err := sync.Get(ctx, "j1", "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSetDestination_AndClear(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	_, err := sync.Join(ctx, "j1", "u1", JoinOptions{Destination: strptr("plaça catalunya")})
	require.NoError(t, err)

	require.NoError(t, sync.SetDestination(ctx, "j1", "u1", strptr("sagrada família")))
	p, _ := sync.Get(ctx, "j1", "u1")
	require.NotNil(t, p.Destination)
	assert.Equal(t, "sagrada família", *p.Destination)

	require.NoError(t, sync.SetDestination(ctx, "j1", "u1", nil))
	p, _ = sync.Get(ctx, "j1", "u1")
	assert.Nil(t, p.Destination)
}

func TestSetState_MissingParticipant(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))

	err := sync.SetState(context.Background(), "j1", "ghost", models.ParticipationAccepted)
	assert.Error(t, err)
}

func TestIsActive(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	assert.False(t, sync.IsActive(ctx, "j1", "u1"), "never joined")

	_, err := sync.Join(ctx, "j1", "u1", JoinOptions{})
	require.NoError(t, err)
	assert.True(t, sync.IsActive(ctx, "j1", "u1"), "pending counts as active")

	require.NoError(t, sync.SetState(ctx, "j1", "u1", models.ParticipationRejected))
	assert.False(t, sync.IsActive(ctx, "j1", "u1"))

	require.NoError(t, sync.SetState(ctx, "j1", "u1", models.ParticipationCompleted))
	assert.True(t, sync.IsActive(ctx, "j1", "u1"), "completed still counts")
}

func TestCountByState_AllStatesPresent(t *testing.T) {
	sync := NewParticipationSync(setupLive(t))
	ctx := context.Background()

	// Empty journey: all five states at zero.
	counts := sync.CountByState(ctx, "j1")
	assert.Len(t, counts, 5)
	for state, count := range counts {
		assert.Zero(t, count, "state %s", state)
	}

	_, err := sync.Join(ctx, "j1", "u1", JoinOptions{InitialState: models.ParticipationAccepted})
	require.NoError(t, err)
	_, err = sync.Join(ctx, "j1", "u2", JoinOptions{InitialState: models.ParticipationAccepted})
	require.NoError(t, err)
	_, err = sync.Join(ctx, "j1", "u3", JoinOptions{})
	require.NoError(t, err)

	counts = sync.CountByState(ctx, "j1")
	assert.Len(t, counts, 5)
	assert.Equal(t, 2, counts[models.ParticipationAccepted])
	assert.Equal(t, 1, counts[models.ParticipationPending])
	assert.Equal(t, 0, counts[models.ParticipationRejected])

	total := 0
	for _, count := range counts {
		total += count
	}
	assert.Equal(t, 3, total, "counts sum to the participant count")
}

func TestSubscribe_PushesParticipantList(t *testing.T) {
	live := setupLive(t)
	sync := NewParticipationSync(live)
	ctx := context.Background()

	sub, err := sync.Subscribe(ctx, "j1")
	require.NoError(t, err)
	defer sub.Cancel()

	initial := recvWithin(t, sub.Updates(), 2*time.Second)
	assert.Empty(t, initial)

	_, err = sync.Join(ctx, "j1", "u1", JoinOptions{})
	require.NoError(t, err)

	snapshot := recvWithin(t, sub.Updates(), 2*time.Second)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "u1", snapshot[0].UserID)
}
