// Package sqlite provides an embedded SQLite-backed implementation of the
// storage.LiveStore interface, with an in-process change hub standing in
// for the push channel of a hosted document store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// snapshotTimeout bounds the query a watcher runs to rebuild its
// snapshot after a change notification.
const snapshotTimeout = 5 * time.Second

// Ensure Store implements storage.LiveStore
var _ storage.LiveStore = (*Store)(nil)

// Store implements storage.LiveStore using SQLite.
type Store struct {
	db  *sql.DB
	hub *hub
}

// New creates a new Store with the given database path. It creates the
// parent directories and runs migrations automatically.
func New(dbPath string) (*Store, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers, which keeps the pure-Go
	// driver free of SQLITE_BUSY churn under concurrent transactions.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, hub: newHub()}, nil
}

// Close cancels every active subscription and closes the database.
func (s *Store) Close() error {
	s.hub.cancelAll()
	return s.db.Close()
}

// isBusy reports whether err is a transient SQLite locking failure worth
// retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Change topics for the in-process hub.
func journeysTopic(groupID string) string   { return "journeys/" + groupID }
func participantsTopic(jID string) string   { return "participants/" + jID }
func positionsTopic(jID, uID string) string { return "positions/" + jID + "/" + uID }

// hub fans change notifications out to registered watchers. Each watcher
// rebuilds and publishes its own snapshot; the hub only tracks who wants
// to hear about which topic, and stamps every broadcast with a sequence
// number so watchers can discard snapshots that a later broadcast has
// already superseded.
type hub struct {
	mu      sync.Mutex
	nextID  int
	seq     uint64
	entries map[string]map[int]*hubEntry
}

type hubEntry struct {
	notify func(seq uint64)
	cancel func()
}

func newHub() *hub {
	return &hub{entries: make(map[string]map[int]*hubEntry)}
}

// register adds a watcher for topic and returns a deregistration func
// plus the sequence number current at registration time. notify is
// invoked with the broadcast's sequence number on every broadcast for
// the topic; cancel is invoked by cancelAll on store shutdown.
func (h *hub) register(topic string, notify func(seq uint64), cancel func()) (func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.entries[topic] == nil {
		h.entries[topic] = make(map[int]*hubEntry)
	}
	h.entries[topic][id] = &hubEntry{notify: notify, cancel: cancel}
	unregister := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.entries[topic], id)
		if len(h.entries[topic]) == 0 {
			delete(h.entries, topic)
		}
	}
	return unregister, h.seq
}

// broadcast notifies every watcher of the given topics. Notify funcs run
// outside the hub lock: they take the subscription's own lock, and the
// reverse order (Cancel holds the subscription lock, then deregisters)
// would otherwise deadlock.
func (h *hub) broadcast(topics ...string) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	var notifies []func(uint64)
	for _, topic := range topics {
		for _, entry := range h.entries[topic] {
			notifies = append(notifies, entry.notify)
		}
	}
	h.mu.Unlock()

	for _, notify := range notifies {
		notify(seq)
	}
}

// cancelAll cancels every registered subscription. Used by Close.
func (h *hub) cancelAll() {
	h.mu.Lock()
	var cancels []func()
	for _, topic := range h.entries {
		for _, entry := range topic {
			if entry.cancel != nil {
				cancels = append(cancels, entry.cancel)
			}
		}
	}
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// watch wires a typed subscription to the hub: on every broadcast for
// topic the snapshot is rebuilt via fetch and published; fetch errors go
// to the error channel without ending the subscription. The initial
// snapshot is delivered before watch returns.
//
// The hub entry is registered before the initial fetch runs, so a write
// that lands during the fetch still reaches the subscriber. Publishes
// carry the broadcast's sequence number and a snapshot never replaces
// one from a later broadcast, whichever fetch finishes first.
func watch[T any](h *hub, topic string, fetch func(ctx context.Context) (T, error)) (*storage.Subscription[T], error) {
	// The unregister func only exists once the hub entry does, so the
	// subscription's stop hook reads it through a small mutex-guarded
	// indirection.
	var (
		stopMu sync.Mutex
		stopFn func()
	)
	sub := storage.NewSubscription[T](func() {
		stopMu.Lock()
		fn := stopFn
		stopMu.Unlock()
		if fn != nil {
			fn()
		}
	})

	var (
		pubMu   sync.Mutex
		lastSeq uint64
	)
	publishAt := func(seq uint64, snapshot T) {
		pubMu.Lock()
		defer pubMu.Unlock()
		if seq < lastSeq {
			return
		}
		lastSeq = seq
		sub.Publish(snapshot)
	}

	notify := func(seq uint64) {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		snapshot, err := fetch(ctx)
		if err != nil {
			sub.Fail(err)
			return
		}
		publishAt(seq, snapshot)
	}

	unregister, registeredSeq := h.register(topic, notify, sub.Cancel)
	stopMu.Lock()
	stopFn = unregister
	stopMu.Unlock()

	ctx, cancelCtx := context.WithTimeout(context.Background(), snapshotTimeout)
	initial, err := fetch(ctx)
	cancelCtx()
	if err != nil {
		unregister()
		return nil, err
	}

	publishAt(registeredSeq, initial)
	return sub, nil
}
