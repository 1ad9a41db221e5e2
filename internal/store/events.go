package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded in the journal.
const (
	EventLogin      = "login"
	EventLoginFail  = "login_fail"
	EventLogout     = "logout"
	EventLogoutFail = "logout_fail"
	EventEnroll     = "enroll"
	EventEnrollFail = "enroll_fail"
	EventExport     = "export"
)

// Event is one journal entry: an action taken at the kiosk and its
// outcome. The authoritative attendance record lives behind the
// recognition service; this journal is the kiosk's own audit trail.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	Identity   string    `json:"identity"`
	Matched    bool      `json:"matched"`
	Detail     string    `json:"detail"`
}

// EventRepository provides access to the journal.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Append records an event. A zero ID or timestamp is filled in.
func (r *EventRepository) Append(e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO events (id, occurred_at, kind, identity, matched, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.OccurredAt, e.Kind, e.Identity, boolToInt(e.Matched), e.Detail,
	)
	return err
}

// Recent returns the latest n events, newest first.
func (r *EventRepository) Recent(n int) ([]Event, error) {
	if n <= 0 {
		n = 50
	}

	rows, err := r.db.Query(
		`SELECT id, occurred_at, kind, identity, matched, detail
		 FROM events
		 ORDER BY occurred_at DESC, id
		 LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var matched int
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Kind, &e.Identity, &matched, &e.Detail); err != nil {
			return nil, err
		}
		e.Matched = matched != 0
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// CountByKind returns how many events of the given kind were recorded.
func (r *EventRepository) CountByKind(kind string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, kind).Scan(&count)
	return count, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
