package roster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/identity"
	"qrattend/internal/qrimg"
)

func newTestService(t *testing.T, batchSize int) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewService(NewRepository(db), identity.NewCodec("test-secret"), qrimg.New(128), batchSize)
	return svc, mock
}

func userRows(users ...User) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "admin_id", "first_name", "last_name", "student_id", "room_id", "qr_code", "created_at"})
	for _, u := range users {
		rows.AddRow(u.ID, u.AdminID, u.FirstName, u.LastName, u.StudentID, u.RoomID, u.QRCode, time.Now())
	}
	return rows
}

func TestCreateUser_DerivesQRCode(t *testing.T) {
	svc, mock := newTestService(t, 0)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	user, err := svc.CreateUser(context.Background(), "admin-1", UserInput{
		FirstName: "Ann", LastName: "Lee", StudentID: "1001",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(user.QRCode, "data:image/png;base64,"))
	assert.Equal(t, "admin-1", user.AdminID)
	assert.NotEmpty(t, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_RenderFailureAbortsWrite(t *testing.T) {
	svc, mock := newTestService(t, 0)

	// A payload past QR capacity fails to render; no insert may happen.
	_, err := svc.CreateUser(context.Background(), "admin-1", UserInput{
		FirstName: "Ann", LastName: "Lee", StudentID: strings.Repeat("9", 4000),
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUser_NotFound(t *testing.T) {
	svc, mock := newTestService(t, 0)

	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.UpdateUser(context.Background(), "admin-1", "missing", UserInput{
		FirstName: "Ann", LastName: "Lee", StudentID: "1001",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByIdentity_Absent(t *testing.T) {
	svc, mock := newTestService(t, 0)

	mock.ExpectQuery("SELECT (.+) FROM users").WillReturnRows(userRows())

	user, err := svc.FindByIdentity(context.Background(), "admin-1", "No", "One", "9999")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestFindByIdentity_Found(t *testing.T) {
	svc, mock := newTestService(t, 0)

	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(userRows(User{ID: "user-1", AdminID: "admin-1", FirstName: "Ann", LastName: "Lee", StudentID: "1001", QRCode: "qr"}))

	user, err := svc.FindByIdentity(context.Background(), "admin-1", "Ann", "Lee", "1001")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
}

func TestDeleteRoom_LeavesUsersAssigned(t *testing.T) {
	svc, mock := newTestService(t, 0)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("DELETE FROM rooms").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// No UPDATE users expectation: deleting a room must not touch its users.
	err := svc.DeleteRoom(context.Background(), "admin-1", "room-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshAllQRCodes_Batches(t *testing.T) {
	svc, mock := newTestService(t, 2)

	users := []User{
		{ID: "u1", AdminID: "admin-1", FirstName: "A", LastName: "A", StudentID: "1"},
		{ID: "u2", AdminID: "admin-1", FirstName: "B", LastName: "B", StudentID: "2"},
		{ID: "u3", AdminID: "admin-1", FirstName: "C", LastName: "C", StudentID: "3"},
	}
	mock.ExpectQuery("SELECT (.+) FROM users").WillReturnRows(userRows(users...))

	// batch 1: u1, u2
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET qr_code").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET qr_code").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// batch 2: u3
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET qr_code").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	report, err := svc.RefreshAllQRCodes(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Refreshed)
	assert.Empty(t, report.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshAllQRCodes_FailedBatchKeepsEarlierCommits(t *testing.T) {
	svc, mock := newTestService(t, 2)

	users := []User{
		{ID: "u1", AdminID: "admin-1", FirstName: "A", LastName: "A", StudentID: "1"},
		{ID: "u2", AdminID: "admin-1", FirstName: "B", LastName: "B", StudentID: "2"},
		{ID: "u3", AdminID: "admin-1", FirstName: "C", LastName: "C", StudentID: "3"},
	}
	mock.ExpectQuery("SELECT (.+) FROM users").WillReturnRows(userRows(users...))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET qr_code").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET qr_code").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET qr_code").WillReturnError(errors.New("write failed"))
	mock.ExpectRollback()

	report, err := svc.RefreshAllQRCodes(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Refreshed, "first batch stays committed")
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "write failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}
