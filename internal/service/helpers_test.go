package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage/sqlite"
)

// setupLive creates a temp-file live store for a test.
func setupLive(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "live.db"))
	if err != nil {
		t.Fatalf("failed to create live store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func strptr(s string) *string { return &s }

// recvWithin reads from a channel with a deadline, failing the test on
// timeout or closure.
func recvWithin[T any](t *testing.T, ch <-chan T, within time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(within):
		t.Fatal("timed out waiting on channel")
		panic("unreachable")
	}
}

func pendingJourney(id, groupID string) *models.Journey {
	return &models.Journey{
		ID:        id,
		GroupID:   groupID,
		State:     models.JourneyPending,
		Type:      models.JourneyCommonDestination,
		StartedAt: time.Now().Unix(),
	}
}
