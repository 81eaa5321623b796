package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the live-store schema.
// These run on startup to ensure tables exist.
//
// The relational layout flattens the live document hierarchy: the path
// chats/{group}/journeys/{journey}/participants/{user}/positions/{id}
// becomes rows keyed by (group_id, journey_id), (journey_id, user_id) and
// (journey_id, user_id, id). The composite primary key on participations
// is what makes the one-document-per-user invariant structural.
//
// No foreign keys between the tables: like a document store, a
// participation or position may be written before its parent journey
// mirror exists (the live record can win the race against the backend
// row).
const schema = `
CREATE TABLE IF NOT EXISTS journeys (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    state TEXT NOT NULL,
    journey_type TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER
);

CREATE TABLE IF NOT EXISTS participations (
    journey_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    state TEXT NOT NULL,
    destination TEXT,
    backend_participation_id TEXT,
    joined_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (journey_id, user_id)
);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    journey_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journeys_group_id ON journeys(group_id);
CREATE INDEX IF NOT EXISTS idx_participations_journey_id ON participations(journey_id);
CREATE INDEX IF NOT EXISTS idx_positions_stream ON positions(journey_id, user_id, timestamp DESC);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
