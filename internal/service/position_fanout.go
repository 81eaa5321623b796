package service

import (
	"fmt"
	"sync"

	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// PositionFanout supervises one position subscription per participant
// and merges their updates into a single userID -> samples map. It
// exposes one aggregate cancel plus per-participant cancellation, so a
// caller can stop following one traveller without tearing down the rest.
type PositionFanout struct {
	out *storage.Subscription[map[string][]*models.Position]

	mu       sync.Mutex
	children map[string]*storage.PositionSubscription
	snapshot map[string][]*models.Position
}

func newPositionFanout() *PositionFanout {
	f := &PositionFanout{
		children: make(map[string]*storage.PositionSubscription),
		snapshot: make(map[string][]*models.Position),
	}
	f.out = storage.NewSubscription[map[string][]*models.Position](f.cancelChildren)
	return f
}

// Updates returns the merged snapshot channel. Every update from any
// participant delivers the full map.
func (f *PositionFanout) Updates() <-chan map[string][]*models.Position {
	return f.out.Updates()
}

// Errs returns the channel carrying per-participant subscription errors.
// An error for one participant leaves all others running.
func (f *PositionFanout) Errs() <-chan error {
	return f.out.Errs()
}

// Cancel stops every child subscription and closes both channels.
func (f *PositionFanout) Cancel() {
	f.out.Cancel()
}

// CancelUser stops following one participant. Their entry leaves the
// merged map; siblings are unaffected. Unknown users are a no-op.
func (f *PositionFanout) CancelUser(userID string) {
	f.mu.Lock()
	child, ok := f.children[userID]
	if ok {
		delete(f.children, userID)
		delete(f.snapshot, userID)
	}
	merged := f.copySnapshot()
	f.mu.Unlock()

	if !ok {
		return
	}
	child.Cancel()
	f.out.Publish(merged)
}

// Users returns the participants currently being followed.
func (f *PositionFanout) Users() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]string, 0, len(f.children))
	for userID := range f.children {
		users = append(users, userID)
	}
	return users
}

// add registers a child subscription and starts forwarding its updates.
func (f *PositionFanout) add(userID string, sub *storage.PositionSubscription) {
	f.mu.Lock()
	f.children[userID] = sub
	f.mu.Unlock()

	go f.forward(userID, sub)
}

// forward pumps one child subscription into the merged snapshot until
// the child is cancelled.
func (f *PositionFanout) forward(userID string, sub *storage.PositionSubscription) {
	for {
		select {
		case positions, ok := <-sub.Updates():
			if !ok {
				return
			}
			f.mu.Lock()
			if f.children[userID] != sub {
				// Cancelled between delivery and here; drop the update.
				f.mu.Unlock()
				return
			}
			f.snapshot[userID] = positions
			merged := f.copySnapshot()
			f.mu.Unlock()

			f.out.Publish(merged)
		case err, ok := <-sub.Errs():
			if !ok {
				return
			}
			f.out.Fail(fmt.Errorf("participant %s: %w", userID, err))
		}
	}
}

// cancelChildren stops every child. Runs inside the aggregate Cancel.
func (f *PositionFanout) cancelChildren() {
	f.mu.Lock()
	children := make([]*storage.PositionSubscription, 0, len(f.children))
	for _, child := range f.children {
		children = append(children, child)
	}
	f.children = make(map[string]*storage.PositionSubscription)
	f.snapshot = make(map[string][]*models.Position)
	f.mu.Unlock()

	for _, child := range children {
		child.Cancel()
	}
}

// copySnapshot returns a shallow copy of the merged map so published
// snapshots are never mutated after delivery. Caller holds f.mu.
func (f *PositionFanout) copySnapshot() map[string][]*models.Position {
	merged := make(map[string][]*models.Position, len(f.snapshot))
	for userID, positions := range f.snapshot {
		merged[userID] = positions
	}
	return merged
}
