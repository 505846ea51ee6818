package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// UserSnapshot is the user as they were at scan time. Records embed it instead
// of referencing the live user row, so history survives later edits and
// deletes.
type UserSnapshot struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	StudentID string  `json:"studentId"`
	QRCode    string  `json:"qrCode"`
	RoomID    *string `json:"roomId,omitempty"`
	AdminID   string  `json:"adminId"`
}

// Record is one attendance event. Append-only: never updated after insert.
type Record struct {
	ID        string       `json:"id"`
	User      UserSnapshot `json:"user"`
	Timestamp time.Time    `json:"timestamp"`
	Day       string       `json:"day"`
	RoomID    *string      `json:"room_id,omitempty"`
	AdminID   string       `json:"admin_id"`
}

// Repository persists attendance events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertUnique writes a record keyed by (admin_id, user_id, day). The keyed
// insert is the linearization point for same-day dedup: on conflict nothing is
// written and inserted is false.
func (r *Repository) InsertUnique(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	snap, err := json.Marshal(rec.User)
	if err != nil {
		return Record{}, false, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_events (id, admin_id, user_id, user_snap, occurred_at, day, room_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (admin_id, user_id, day) DO NOTHING
		RETURNING id
	`, rec.ID, rec.AdminID, rec.User.ID, snap, rec.Timestamp, rec.Day, rec.RoomID)
	if err := row.Scan(&rec.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// ListDay returns the records for one calendar day in insertion order.
func (r *Repository) ListDay(ctx context.Context, adminID, day string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, user_snap, occurred_at, day, room_id
		FROM attendance_events
		WHERE admin_id = $1 AND day = $2
		ORDER BY occurred_at
	`, adminID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// ListAll returns every record for the administrator ordered by time.
func (r *Repository) ListAll(ctx context.Context, adminID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, user_snap, occurred_at, day, room_id
		FROM attendance_events
		WHERE admin_id = $1
		ORDER BY occurred_at
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Record, error) {
	var res []Record
	for rows.Next() {
		var rec Record
		var snap []byte
		var day time.Time
		if err := rows.Scan(&rec.ID, &rec.AdminID, &snap, &rec.Timestamp, &day, &rec.RoomID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snap, &rec.User); err != nil {
			return nil, err
		}
		rec.Day = day.Format(dayFormat)
		res = append(res, rec)
	}
	return res, rows.Err()
}
