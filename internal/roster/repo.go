package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports a user or room that does not exist under the given
// administrator.
var ErrNotFound = errors.New("not found")

// User is an enrolled student owned by one administrator.
type User struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	StudentID string    `json:"student_id"`
	RoomID    *string   `json:"room_id,omitempty"`
	QRCode    string    `json:"qr_code"`
	AdminID   string    `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Room groups users; lifecycle is independent of its users.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Teacher   *string   `json:"teacher,omitempty"`
	AdminID   string    `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists roster data in Postgres. Every query is scoped by
// admin_id so records are never visible across administrators.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, admin_id, first_name, last_name, student_id, room_id, qr_code, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.AdminID, &u.FirstName, &u.LastName, &u.StudentID, &u.RoomID, &u.QRCode, &u.CreatedAt)
	return u, err
}

// InsertUser writes a new user.
func (r *Repository) InsertUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, admin_id, first_name, last_name, student_id, room_id, qr_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, u.ID, u.AdminID, u.FirstName, u.LastName, u.StudentID, u.RoomID, u.QRCode)
	if err := row.Scan(&u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// UpdateUser rewrites identity fields and the QR artifact in one statement so
// a stale qr_code is never observable after a successful update.
func (r *Repository) UpdateUser(ctx context.Context, adminID, id string, u User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = $3, last_name = $4, student_id = $5, room_id = $6, qr_code = $7
		WHERE id = $1 AND admin_id = $2
	`, id, adminID, u.FirstName, u.LastName, u.StudentID, u.RoomID, u.QRCode)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateQRCode rewrites only the stored QR artifact.
func (r *Repository) UpdateQRCode(ctx context.Context, tx *sql.Tx, adminID, id, qrCode string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET qr_code = $3 WHERE id = $1 AND admin_id = $2
	`, id, adminID, qrCode)
	return err
}

// DeleteUser removes a user. Attendance records keep their embedded snapshot.
func (r *Repository) DeleteUser(ctx context.Context, adminID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1 AND admin_id = $2`, id, adminID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser returns one user, or ErrNotFound.
func (r *Repository) GetUser(ctx context.Context, adminID, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1 AND admin_id = $2
	`, id, adminID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// ListUsers returns every user owned by the administrator.
func (r *Repository) ListUsers(ctx context.Context, adminID string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE admin_id = $1 ORDER BY last_name, first_name
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindByIdentity resolves the scan lookup: the (firstName, lastName,
// studentId) tuple under one administrator. Returns nil when absent.
func (r *Repository) FindByIdentity(ctx context.Context, adminID, firstName, lastName, studentID string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE admin_id = $1 AND student_id = $2 AND first_name = $3 AND last_name = $4
		LIMIT 1
	`, adminID, studentID, firstName, lastName)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertRoom writes a new room.
func (r *Repository) InsertRoom(ctx context.Context, room Room) (Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO rooms (id, admin_id, name, teacher)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, room.ID, room.AdminID, room.Name, room.Teacher)
	if err := row.Scan(&room.CreatedAt); err != nil {
		return Room{}, err
	}
	return room, nil
}

// UpdateRoom rewrites name and teacher.
func (r *Repository) UpdateRoom(ctx context.Context, adminID, id, name string, teacher *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET name = $3, teacher = $4 WHERE id = $1 AND admin_id = $2
	`, id, adminID, name, teacher)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRoom removes a room. Users keep their room_id; see Service.DeleteRoom.
func (r *Repository) DeleteRoom(ctx context.Context, adminID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1 AND admin_id = $2`, id, adminID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRoom returns one room, or ErrNotFound.
func (r *Repository) GetRoom(ctx context.Context, adminID, id string) (Room, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, admin_id, name, teacher, created_at FROM rooms WHERE id = $1 AND admin_id = $2
	`, id, adminID)
	var room Room
	err := row.Scan(&room.ID, &room.AdminID, &room.Name, &room.Teacher, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	return room, err
}

// ListRooms returns every room owned by the administrator.
func (r *Repository) ListRooms(ctx context.Context, adminID string) ([]Room, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, name, teacher, created_at FROM rooms WHERE admin_id = $1 ORDER BY name
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.AdminID, &room.Name, &room.Teacher, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// CountUsersInRoom reports how many users reference a room.
func (r *Repository) CountUsersInRoom(ctx context.Context, adminID, roomID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE admin_id = $1 AND room_id = $2
	`, adminID, roomID).Scan(&n)
	return n, err
}

// BeginTx starts a transaction for batched QR updates.
func (r *Repository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}
