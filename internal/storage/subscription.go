package storage

import (
	"sync"

	"github.com/liapostsk/aeghis-sync/internal/models"
)

// Subscription delivers full snapshots of type T pushed by a live store
// watch. Updates and errors travel on separate channels so a transient
// store error never masquerades as data and never implicitly ends the
// subscription.
//
// The updates channel has capacity one and holds only the most recent
// snapshot: if the consumer falls behind, stale snapshots are replaced,
// not queued. Consumers always observe the latest state.
//
// Cancel is synchronous: once it returns, no further deliveries happen
// and both channels are closed.
type Subscription[T any] struct {
	updates chan T
	errs    chan error

	mu     sync.Mutex
	closed bool
	stop   func()
	hooks  []func()
}

// Concrete snapshot subscriptions handed out by LiveStore watches.
type (
	JourneySubscription       = Subscription[[]*models.Journey]
	ParticipationSubscription = Subscription[[]*models.Participation]
	PositionSubscription      = Subscription[[]*models.Position]
)

// NewSubscription creates a subscription whose Cancel additionally runs
// stop (typically the store's listener deregistration). For use by
// LiveStore implementations.
func NewSubscription[T any](stop func()) *Subscription[T] {
	return &Subscription[T]{
		updates: make(chan T, 1),
		errs:    make(chan error, 1),
		stop:    stop,
	}
}

// Updates returns the snapshot channel. Closed on Cancel.
func (s *Subscription[T]) Updates() <-chan T { return s.updates }

// Errs returns the error channel. Errors are informational; the
// subscription stays live after an error. Closed on Cancel.
func (s *Subscription[T]) Errs() <-chan error { return s.errs }

// Cancel stops the subscription, releases the store-side listener and
// closes both channels. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	for _, hook := range s.hooks {
		hook()
	}
	close(s.updates)
	close(s.errs)
}

// OnCancel registers fn to run when the subscription is cancelled. If
// the subscription is already cancelled, fn runs immediately.
func (s *Subscription[T]) OnCancel(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Publish delivers a snapshot, replacing any undelivered one. No-op
// after Cancel. For use by LiveStore implementations.
func (s *Subscription[T]) Publish(snapshot T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snapshot
}

// Fail delivers a watch error without ending the subscription. If an
// earlier error is still unread it is replaced. No-op after Cancel. For
// use by LiveStore implementations.
func (s *Subscription[T]) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.errs:
	default:
	}
	s.errs <- err
}
