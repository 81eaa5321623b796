package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/liapostsk/aeghis-sync/internal/metrics"
	"github.com/liapostsk/aeghis-sync/internal/models"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// Policy names the tie-break direction applied when the live store and
// the backend disagree about a journey's state.
type Policy string

const (
	// PolicyLiveWins pushes the live state into the backend and reports
	// the live state to listeners. This matches the historically
	// observed behavior, where the live layer effectively overrides the
	// nominally authoritative backend.
	PolicyLiveWins Policy = "live-wins"

	// PolicyBackendWins writes the backend state into the live mirror
	// and reports the backend state to listeners.
	PolicyBackendWins Policy = "backend-wins"
)

// Valid reports whether p names a known tie-break policy.
func (p Policy) Valid() bool {
	return p == PolicyLiveWins || p == PolicyBackendWins
}

// DefaultFetchTimeout bounds the backend fetch inside a reconciliation
// pass so the degraded fallback fires promptly instead of hanging the
// notification pipeline.
const DefaultFetchTimeout = 5 * time.Second

// Resolution is what listeners receive after every reconciliation pass:
// the resolved state plus both raw payloads, and how the pass went.
// Divergence is a normal condition here, never an error.
type Resolution struct {
	// JourneyID identifies the reconciled journey.
	JourneyID string

	// State is the resolved lifecycle state after applying the policy.
	State models.JourneyState

	// Live is the journey mirror as the live store reported it.
	Live *models.Journey

	// Backend is the authoritative row, nil when the fetch failed.
	Backend *storage.BackendJourney

	// Diverged is true when the two stores disagreed before this pass.
	Diverged bool

	// Degraded is true when the backend could not be consulted or
	// updated and the live state was reported as a fallback.
	Degraded bool
}

// Reconciler subscribes to live-store change events for a group's
// journeys and, on each event, fetches the authoritative state, resolves
// any mismatch under its policy, and republishes the resolved state to
// the losing store and to local listeners.
//
// Listeners are notified exactly once per pass, on the success path —
// including degraded passes. Fetch errors surface on the separate error
// callback and never escape the notification boundary.
type Reconciler struct {
	live    storage.LiveStore
	backend storage.AuthoritativeStore
	policy  Policy
	timeout time.Duration

	onResolved func(Resolution)
	onError    func(error)

	mu       sync.Mutex
	lastSeen map[string]models.JourneyState
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPolicy sets the tie-break policy. Default is PolicyLiveWins.
func WithPolicy(policy Policy) ReconcilerOption {
	return func(r *Reconciler) { r.policy = policy }
}

// WithFetchTimeout bounds the backend calls inside a pass. Default is
// DefaultFetchTimeout.
func WithFetchTimeout(timeout time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.timeout = timeout }
}

// WithListener sets the callback receiving one Resolution per pass.
func WithListener(fn func(Resolution)) ReconcilerOption {
	return func(r *Reconciler) { r.onResolved = fn }
}

// WithErrorListener sets the callback receiving backend errors from
// degraded passes.
func WithErrorListener(fn func(error)) ReconcilerOption {
	return func(r *Reconciler) { r.onError = fn }
}

// NewReconciler creates a Reconciler over the store pair.
func NewReconciler(live storage.LiveStore, backend storage.AuthoritativeStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		live:     live,
		backend:  backend,
		policy:   PolicyLiveWins,
		timeout:  DefaultFetchTimeout,
		lastSeen: make(map[string]models.JourneyState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run subscribes to the group's journey changes and reconciles every
// state change until ctx is cancelled. Blocking; run it in its own
// goroutine.
func (r *Reconciler) Run(ctx context.Context, groupID string) error {
	sub, err := r.live.WatchJourneys(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to watch group %s: %w", groupID, err)
	}
	defer sub.Cancel()

	slog.Info("Reconciler started", "group_id", groupID, "policy", r.policy)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Errs():
			if !ok {
				return nil
			}
			slog.Warn("Journey watch error", "group_id", groupID, "error", err)
			r.reportError(err)
		case journeys, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			for _, journey := range journeys {
				if !r.stateChanged(journey) {
					continue
				}
				r.ReconcileJourney(ctx, journey)
			}
		}
	}
}

// stateChanged tracks the last live state seen per journey so a full
// snapshot delivery only triggers passes for journeys that actually
// moved.
func (r *Reconciler) stateChanged(journey *models.Journey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, seen := r.lastSeen[journey.ID]
	if seen && last == journey.State {
		return false
	}
	r.lastSeen[journey.ID] = journey.State
	return true
}

// ReconcileJourney runs one reconciliation pass for the given live
// journey mirror. Exported so one-shot callers (and the daemon's warmup)
// can reconcile without a subscription.
//
// The pass never returns an error: every outcome resolves to exactly one
// listener notification, with backend failures routed to the error
// callback.
func (r *Reconciler) ReconcileJourney(ctx context.Context, journey *models.Journey) Resolution {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	backendJourney, err := r.backend.GetJourney(fetchCtx, journey.ID)
	metrics.BackendRequestDuration.WithLabelValues("get_journey").Observe(time.Since(start).Seconds())

	if err != nil {
		// Degraded fallback: report the live state, surface the error
		// separately.
		slog.Warn("Backend fetch failed, reporting live state",
			"journey_id", journey.ID, "live_state", journey.State, "error", err)
		r.reportError(fmt.Errorf("failed to fetch journey %s: %w", journey.ID, err))
		metrics.ReconcilePasses.WithLabelValues(metrics.OutcomeDegraded).Inc()
		return r.notify(Resolution{
			JourneyID: journey.ID,
			State:     journey.State,
			Live:      journey,
			Degraded:  true,
		})
	}

	if backendJourney.State == journey.State {
		metrics.ReconcilePasses.WithLabelValues(metrics.OutcomeMatch).Inc()
		return r.notify(Resolution{
			JourneyID: journey.ID,
			State:     backendJourney.State,
			Live:      journey,
			Backend:   backendJourney,
		})
	}

	slog.Info("Journey state diverged",
		"journey_id", journey.ID,
		"live_state", journey.State,
		"backend_state", backendJourney.State,
		"policy", r.policy)

	resolved, degraded := r.resolve(ctx, journey, backendJourney)
	if degraded {
		metrics.ReconcilePasses.WithLabelValues(metrics.OutcomeDegraded).Inc()
	} else {
		metrics.ReconcilePasses.WithLabelValues(metrics.OutcomeDiverged).Inc()
	}
	return r.notify(Resolution{
		JourneyID: journey.ID,
		State:     resolved,
		Live:      journey,
		Backend:   backendJourney,
		Diverged:  true,
		Degraded:  degraded,
	})
}

// resolve pushes the winning state into the losing store per the policy
// and returns the state listeners should see. A failed push degrades to
// reporting the live state.
func (r *Reconciler) resolve(ctx context.Context, journey *models.Journey, backendJourney *storage.BackendJourney) (models.JourneyState, bool) {
	pushCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	switch r.policy {
	case PolicyBackendWins:
		if err := r.live.SetJourneyState(pushCtx, journey.ID, backendJourney.State, time.Now()); err != nil {
			r.reportError(fmt.Errorf("failed to push backend state to live store for journey %s: %w", journey.ID, err))
			return journey.State, true
		}
		// Mark the pushed state as seen so the resulting live change
		// notification does not trigger a second pass.
		r.mu.Lock()
		r.lastSeen[journey.ID] = backendJourney.State
		r.mu.Unlock()
		return backendJourney.State, false

	default: // PolicyLiveWins
		start := time.Now()
		err := r.backend.SetJourneyState(pushCtx, journey.ID, journey.State)
		metrics.BackendRequestDuration.WithLabelValues("set_journey_state").Observe(time.Since(start).Seconds())
		if err != nil {
			r.reportError(fmt.Errorf("failed to push live state to backend for journey %s: %w", journey.ID, err))
			return journey.State, true
		}
		return journey.State, false
	}
}

// SyncParticipants pushes a journey's live participation documents to
// the backend. Documents without a backend link are created there and
// the returned id is stored on the live document; linked documents get
// their current state pushed. Returns the number of documents synced;
// per-participant failures go to the error callback and never block the
// rest.
func (r *Reconciler) SyncParticipants(ctx context.Context, journeyID string) (int, error) {
	participations, err := r.live.ListParticipations(ctx, journeyID)
	if err != nil {
		return 0, fmt.Errorf("failed to list participants for journey %s: %w", journeyID, err)
	}

	synced := 0
	for _, p := range participations {
		if err := r.syncParticipant(ctx, p); err != nil {
			r.reportError(err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (r *Reconciler) syncParticipant(ctx context.Context, p *models.Participation) error {
	pushCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := &storage.BackendParticipation{
		JourneyID:      p.JourneyID,
		UserID:         p.UserID,
		SharedLocation: p.Active(),
		DestinationID:  p.Destination,
		State:          p.State,
	}

	if p.BackendParticipationID != nil {
		row.ID = *p.BackendParticipationID
		start := time.Now()
		err := r.backend.UpdateParticipation(pushCtx, row)
		metrics.BackendRequestDuration.WithLabelValues("update_participation").Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("failed to push participation %s/%s: %w", p.JourneyID, p.UserID, err)
		}
		return nil
	}

	start := time.Now()
	created, err := r.backend.CreateParticipation(pushCtx, row)
	metrics.BackendRequestDuration.WithLabelValues("create_participation").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to create participation %s/%s: %w", p.JourneyID, p.UserID, err)
	}

	_, err = r.live.UpdateParticipationTx(ctx, p.JourneyID, p.UserID, func(current *models.Participation) (*models.Participation, error) {
		// Left or linked concurrently: nothing to write.
		if current == nil || current.BackendParticipationID != nil {
			return nil, nil
		}
		linked := *current
		linked.BackendParticipationID = &created.ID
		linked.UpdatedAt = time.Now().Unix()
		return &linked, nil
	})
	if err != nil {
		return fmt.Errorf("failed to store backend link for %s/%s: %w", p.JourneyID, p.UserID, err)
	}

	slog.Info("Participation linked",
		"journey_id", p.JourneyID, "user_id", p.UserID, "backend_id", created.ID)
	return nil
}

// notify delivers the resolution to the listener, exactly once per pass.
func (r *Reconciler) notify(resolution Resolution) Resolution {
	if r.onResolved != nil {
		r.onResolved(resolution)
	}
	return resolution
}

func (r *Reconciler) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}
