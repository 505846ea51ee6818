package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(NewRepository(db), time.UTC), mock
}

func strptr(s string) *string { return &s }

func snapshot() UserSnapshot {
	return UserSnapshot{
		ID:        "user-1",
		FirstName: "Ann",
		LastName:  "Lee",
		StudentID: "1001",
		QRCode:    "data:image/png;base64,xxx",
		RoomID:    strptr("room-1"),
		AdminID:   "admin-1",
	}
}

func TestTryLog_Success(t *testing.T) {
	svc, mock := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC) }

	mock.ExpectQuery("INSERT INTO attendance_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))

	rec, err := svc.TryLog(context.Background(), "admin-1", snapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "2026-08-31", rec.Day)
	assert.Equal(t, "user-1", rec.User.ID)
	assert.Equal(t, "room-1", *rec.RoomID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryLog_SameDayConflict(t *testing.T) {
	svc, mock := newTestService(t)

	// Conflict on the (admin_id, user_id, day) key inserts nothing.
	mock.ExpectQuery("INSERT INTO attendance_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.TryLog(context.Background(), "admin-1", snapshot(), nil)
	assert.ErrorIs(t, err, ErrAlreadyLogged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryLog_DifferentDays(t *testing.T) {
	svc, mock := newTestService(t)

	days := []time.Time{
		time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC),
		time.Date(2026, 8, 31, 0, 1, 0, 0, time.UTC),
	}
	for i, now := range days {
		svc.now = func() time.Time { return now }
		mock.ExpectQuery("INSERT INTO attendance_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-" + now.Format("02")))

		rec, err := svc.TryLog(context.Background(), "admin-1", snapshot(), nil)
		require.NoError(t, err, "day %d", i)
		assert.Equal(t, now.Format("2006-01-02"), rec.Day)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryLog_RoomMismatch(t *testing.T) {
	svc, mock := newTestService(t)

	// No DB expectations: a mismatch must write nothing.
	_, err := svc.TryLog(context.Background(), "admin-1", snapshot(), strptr("room-other"))
	assert.ErrorIs(t, err, ErrRoomMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryLog_RoomMismatch_NoUserRoom(t *testing.T) {
	svc, _ := newTestService(t)

	snap := snapshot()
	snap.RoomID = nil
	_, err := svc.TryLog(context.Background(), "admin-1", snap, strptr("room-1"))
	assert.ErrorIs(t, err, ErrRoomMismatch)
}

func TestTryLog_RoomContextMatch(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("INSERT INTO attendance_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))

	rec, err := svc.TryLog(context.Background(), "admin-1", snapshot(), strptr("room-1"))
	require.NoError(t, err)
	assert.Equal(t, "room-1", *rec.RoomID)
}

func TestTryLog_DayUsesLedgerTimezone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// 01:00 UTC on Sep 1 is still Aug 31 in UTC-5.
	loc := time.FixedZone("UTC-5", -5*3600)
	svc := NewService(NewRepository(db), loc)
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 1, 0, 0, 0, time.UTC) }

	mock.ExpectQuery("INSERT INTO attendance_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))

	rec, err := svc.TryLog(context.Background(), "admin-1", snapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-31", rec.Day)
}

func TestListDay_InvalidDate(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ListDay(context.Background(), "admin-1", "31-08-2026")
	assert.Error(t, err)
}

func TestLog_GroupsByDay(t *testing.T) {
	svc, mock := newTestService(t)

	snapJSON := `{"id":"user-1","firstName":"Ann","lastName":"Lee","studentId":"1001","qrCode":"qr","adminId":"admin-1"}`
	rows := sqlmock.NewRows([]string{"id", "admin_id", "user_snap", "occurred_at", "day", "room_id"}).
		AddRow("rec-1", "admin-1", []byte(snapJSON), time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), nil).
		AddRow("rec-2", "admin-1", []byte(snapJSON), time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC), time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), nil).
		AddRow("rec-3", "admin-1", []byte(snapJSON), time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC), time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), nil)
	mock.ExpectQuery("SELECT (.+) FROM attendance_events").WillReturnRows(rows)

	log, err := svc.Log(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Len(t, log, 2)
	assert.Len(t, log["2026-08-30"], 1)
	assert.Len(t, log["2026-08-31"], 2)
	assert.Equal(t, "rec-2", log["2026-08-31"][0].ID, "insertion order preserved")
	assert.Equal(t, "Ann", log["2026-08-31"][0].User.FirstName, "snapshot survives without a live user row")
}
