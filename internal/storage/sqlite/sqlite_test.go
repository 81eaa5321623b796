package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// setupStore creates a store backed by a temp database.
func setupStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testJourney(id, groupID string, state models.JourneyState) *models.Journey {
	return &models.Journey{
		ID:        id,
		GroupID:   groupID,
		State:     state,
		Type:      models.JourneyCommonDestination,
		StartedAt: time.Now().Unix(),
	}
}

func TestUpsertJourney_Idempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.UpsertJourney(ctx, testJourney("j1", "g1", models.JourneyPending)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertJourney(ctx, testJourney("j1", "g1", models.JourneyInProgress)); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	journey, err := store.GetJourney(ctx, "j1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if journey.State != models.JourneyInProgress {
		t.Errorf("expected state IN_PROGRESS, got %s", journey.State)
	}

	journeys, err := store.ListJourneys(ctx, "g1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(journeys) != 1 {
		t.Errorf("expected 1 journey after repeated upsert, got %d", len(journeys))
	}
}

func TestUpsertJourney_KeepsEndedAt(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	ended := time.Now().Unix()
	journey := testJourney("j1", "g1", models.JourneyCompleted)
	journey.EndedAt = &ended
	if err := store.UpsertJourney(ctx, journey); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// A later upsert without an end stamp must not clear the stored one.
	if err := store.UpsertJourney(ctx, testJourney("j1", "g1", models.JourneyCompleted)); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := store.GetJourney(ctx, "j1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.EndedAt == nil || *got.EndedAt != ended {
		t.Errorf("expected EndedAt %d to survive upsert, got %v", ended, got.EndedAt)
	}
}

func TestSetJourneyState_Stamps(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.UpsertJourney(ctx, testJourney("j1", "g1", models.JourneyPending)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	startAt := time.Unix(1700000000, 0)
	if err := store.SetJourneyState(ctx, "j1", models.JourneyInProgress, startAt); err != nil {
		t.Fatalf("set state failed: %v", err)
	}
	journey, _ := store.GetJourney(ctx, "j1")
	if journey.StartedAt != startAt.Unix() {
		t.Errorf("expected StartedAt %d, got %d", startAt.Unix(), journey.StartedAt)
	}
	if journey.EndedAt != nil {
		t.Errorf("expected no EndedAt yet, got %v", *journey.EndedAt)
	}

	endAt := time.Unix(1700003600, 0)
	if err := store.SetJourneyState(ctx, "j1", models.JourneyCompleted, endAt); err != nil {
		t.Fatalf("set state failed: %v", err)
	}
	journey, _ = store.GetJourney(ctx, "j1")
	if journey.EndedAt == nil || *journey.EndedAt != endAt.Unix() {
		t.Errorf("expected EndedAt %d, got %v", endAt.Unix(), journey.EndedAt)
	}
}

func TestSetJourneyState_NotFound(t *testing.T) {
	store := setupStore(t)

	err := store.SetJourneyState(context.Background(), "missing", models.JourneyCompleted, time.Now())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetParticipation_AbsentIsNil(t *testing.T) {
	store := setupStore(t)

	p, err := store.GetParticipation(context.Background(), "j1", "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for never-joined user, got %+v", p)
	}
}

func TestUpdateParticipationTx_CreatesAndMerges(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.UpdateParticipationTx(ctx, "j1", "u1", func(existing *models.Participation) (*models.Participation, error) {
		if existing != nil {
			t.Fatal("expected no existing document on first call")
		}
		return &models.Participation{
			JourneyID: "j1", UserID: "u1",
			State:    models.ParticipationPending,
			JoinedAt: 100, UpdatedAt: 100,
		}, nil
	})
	if err != nil {
		t.Fatalf("create tx failed: %v", err)
	}
	if created.State != models.ParticipationPending {
		t.Errorf("expected PENDING, got %s", created.State)
	}

	updated, err := store.UpdateParticipationTx(ctx, "j1", "u1", func(existing *models.Participation) (*models.Participation, error) {
		if existing == nil {
			t.Fatal("expected existing document on second call")
		}
		existing.State = models.ParticipationAccepted
		existing.UpdatedAt = 200
		return existing, nil
	})
	if err != nil {
		t.Fatalf("merge tx failed: %v", err)
	}
	if updated.JoinedAt != 100 {
		t.Errorf("JoinedAt changed across tx: got %d", updated.JoinedAt)
	}

	all, err := store.ListParticipations(ctx, "j1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly 1 document, got %d", len(all))
	}
}

func TestUpdateParticipationTx_NilSkipsWrite(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	result, err := store.UpdateParticipationTx(ctx, "j1", "u1", func(existing *models.Participation) (*models.Participation, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}

	p, _ := store.GetParticipation(ctx, "j1", "u1")
	if p != nil {
		t.Errorf("expected no document written, got %+v", p)
	}
}

func TestUpdateParticipationTx_ConcurrentJoins(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateParticipationTx(ctx, "j1", "u1", func(existing *models.Participation) (*models.Participation, error) {
				if existing != nil {
					existing.UpdatedAt = time.Now().Unix()
					return existing, nil
				}
				return &models.Participation{
					JourneyID: "j1", UserID: "u1",
					State:    models.ParticipationPending,
					JoinedAt: time.Now().Unix(), UpdatedAt: time.Now().Unix(),
				}, nil
			})
			if err != nil {
				t.Errorf("concurrent tx failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := store.ListParticipations(ctx, "j1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly 1 document after concurrent joins, got %d", len(all))
	}
}

func TestPositions_OrderAndLimit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.AppendPosition(ctx, "j1", "u1", float64(i), float64(i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	positions, err := store.ListPositions(ctx, "j1", "u1", 3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(positions) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(positions))
	}
	// Newest first: latitudes 4, 3, 2.
	for i, want := range []float64{4, 3, 2} {
		if positions[i].Latitude != want {
			t.Errorf("position %d: expected latitude %f, got %f", i, want, positions[i].Latitude)
		}
	}
	for i := 1; i < len(positions); i++ {
		if positions[i].Timestamp > positions[i-1].Timestamp {
			t.Errorf("positions not ordered by timestamp descending")
		}
	}
}

func TestPrunePositions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := store.AppendPosition(ctx, "j1", "u1", float64(i), 0); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	deleted, err := store.PrunePositions(ctx, "j1", "u1", 4)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if deleted != 6 {
		t.Errorf("expected 6 deleted, got %d", deleted)
	}

	positions, _ := store.ListPositions(ctx, "j1", "u1", 0)
	if len(positions) != 4 {
		t.Fatalf("expected 4 survivors, got %d", len(positions))
	}
	// The survivors are the newest: latitudes 9..6.
	for i, want := range []float64{9, 8, 7, 6} {
		if positions[i].Latitude != want {
			t.Errorf("survivor %d: expected latitude %f, got %f", i, want, positions[i].Latitude)
		}
	}

	// Prune within retention is a no-op.
	deleted, err = store.PrunePositions(ctx, "j1", "u1", 10)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected no-op prune, deleted %d", deleted)
	}
}

func TestDeletePositions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	store.AppendPosition(ctx, "j1", "u1", 1, 1)
	store.AppendPosition(ctx, "j1", "u2", 2, 2)

	if err := store.DeletePositions(ctx, "j1", "u1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	count, _ := store.CountPositions(ctx, "j1", "u1")
	if count != 0 {
		t.Errorf("expected 0 samples for u1, got %d", count)
	}
	count, _ = store.CountPositions(ctx, "j1", "u2")
	if count != 1 {
		t.Errorf("expected u2 trail untouched, got %d", count)
	}
}

// waitForSnapshot reads the next snapshot with a timeout.
func waitForSnapshot[T any](t *testing.T, updates <-chan T) T {
	t.Helper()
	select {
	case snapshot, ok := <-updates:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		panic("unreachable")
	}
}

func TestWatchJourneys_DeliversSnapshots(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.UpsertJourney(ctx, testJourney("j1", "g1", models.JourneyPending)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	sub, err := store.WatchJourneys(ctx, "g1")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer sub.Cancel()

	// Initial snapshot reflects current state.
	initial := waitForSnapshot(t, sub.Updates())
	if len(initial) != 1 || initial[0].State != models.JourneyPending {
		t.Fatalf("unexpected initial snapshot: %+v", initial)
	}

	if err := store.SetJourneyState(ctx, "j1", models.JourneyInProgress, time.Now()); err != nil {
		t.Fatalf("set state failed: %v", err)
	}

	next := waitForSnapshot(t, sub.Updates())
	if len(next) != 1 || next[0].State != models.JourneyInProgress {
		t.Fatalf("unexpected snapshot after change: %+v", next)
	}
}

func TestWatch_CancelStopsDeliveries(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sub, err := store.WatchPositions(ctx, "j1", "u1", 10)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	waitForSnapshot(t, sub.Updates()) // initial

	sub.Cancel()

	// Writes after cancel must not deliver; the channel is closed.
	store.AppendPosition(ctx, "j1", "u1", 1, 1)
	if _, ok := <-sub.Updates(); ok {
		t.Error("expected closed updates channel after cancel")
	}

	// A second cancel is harmless.
	sub.Cancel()
}

func TestWatchParticipants_SeesJoinAndLeave(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sub, err := store.WatchParticipants(ctx, "j1")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer sub.Cancel()
	waitForSnapshot(t, sub.Updates()) // initial, empty

	err = store.PutParticipation(ctx, &models.Participation{
		JourneyID: "j1", UserID: "u1",
		State:    models.ParticipationAccepted,
		JoinedAt: 1, UpdatedAt: 1,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	snapshot := waitForSnapshot(t, sub.Updates())
	if len(snapshot) != 1 || snapshot[0].UserID != "u1" {
		t.Fatalf("unexpected snapshot after join: %+v", snapshot)
	}

	if err := store.DeleteParticipation(ctx, "j1", "u1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	snapshot = waitForSnapshot(t, sub.Updates())
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot after leave, got %+v", snapshot)
	}
}

func TestWatch_WriteDuringInitialSnapshot(t *testing.T) {
	h := newHub()

	// The first fetch models the initial snapshot query with a write
	// committing (and broadcasting) before the query returns its
	// pre-write result. The refetch sees the post-write state.
	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			h.broadcast("t")
			return 1, nil
		}
		return 2, nil
	}

	sub, err := watch(h, "t", fetch)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	defer sub.Cancel()

	snapshot := waitForSnapshot(t, sub.Updates())
	if snapshot != 2 {
		t.Fatalf("expected the post-write snapshot 2, got %d", snapshot)
	}

	// The stale pre-write snapshot must never surface afterwards.
	select {
	case extra := <-sub.Updates():
		t.Fatalf("stale snapshot %d delivered after the fresh one", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatch_InitialFetchErrorUnregisters(t *testing.T) {
	h := newHub()

	fetch := func(ctx context.Context) (int, error) {
		return 0, errors.New("snapshot query failed")
	}
	if _, err := watch(h, "t", fetch); err == nil {
		t.Fatal("expected watch to fail")
	}

	h.mu.Lock()
	remaining := len(h.entries)
	h.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected no hub entries after failed watch, got %d", remaining)
	}
}
