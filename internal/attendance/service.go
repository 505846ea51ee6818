package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const dayFormat = "2006-01-02"

var (
	// ErrAlreadyLogged is an expected, low-severity outcome: the user already
	// has a record for today. Callers should not surface it as a hard error.
	ErrAlreadyLogged = errors.New("user already logged today")

	// ErrRoomMismatch reports a scan in a room the user does not belong to.
	ErrRoomMismatch = errors.New("user does not belong to this room")
)

// Service is the attendance ledger: it decides whether a resolved user gets a
// record "today" and owns the per-day read projections.
type Service struct {
	repo *Repository
	loc  *time.Location
	now  func() time.Time
}

// NewService creates a ledger using loc for calendar-day boundaries
// (administrator-local, not UTC).
func NewService(repo *Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc, now: time.Now}
}

// Day returns the calendar day of t in the ledger's timezone.
func (s *Service) Day(t time.Time) string {
	return t.In(s.loc).Format(dayFormat)
}

// TryLog admits at most one record per user per calendar day. The room check
// runs first and writes nothing on mismatch; the dedup is a single keyed
// insert, so two near-simultaneous scans cannot both succeed.
func (s *Service) TryLog(ctx context.Context, adminID string, user UserSnapshot, roomContext *string) (Record, error) {
	if roomContext != nil && (user.RoomID == nil || *user.RoomID != *roomContext) {
		return Record{}, ErrRoomMismatch
	}

	now := s.now().In(s.loc)
	roomID := roomContext
	if roomID == nil {
		roomID = user.RoomID
	}

	rec, inserted, err := s.repo.InsertUnique(ctx, Record{
		AdminID:   adminID,
		User:      user,
		Timestamp: now,
		Day:       now.Format(dayFormat),
		RoomID:    roomID,
	})
	if err != nil {
		return Record{}, err
	}
	if !inserted {
		return Record{}, ErrAlreadyLogged
	}
	return rec, nil
}

// ListDay returns the records for one yyyy-mm-dd day in insertion order.
func (s *Service) ListDay(ctx context.Context, adminID, day string) ([]Record, error) {
	if _, err := time.Parse(dayFormat, day); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", day, err)
	}
	return s.repo.ListDay(ctx, adminID, day)
}

// Log rebuilds the derived per-day view from the ledger: records grouped by
// calendar date, each bucket in insertion order.
func (s *Service) Log(ctx context.Context, adminID string) (map[string][]Record, error) {
	records, err := s.repo.ListAll(ctx, adminID)
	if err != nil {
		return nil, err
	}
	log := make(map[string][]Record)
	for _, rec := range records {
		log[rec.Day] = append(log[rec.Day], rec)
	}
	return log, nil
}
