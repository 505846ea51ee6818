package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAdminExists reports a registration with an email already in use.
	ErrAdminExists = errors.New("admin already exists")

	// ErrInvalidCredentials reports a failed login.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Service manages administrator accounts. Each admin owns a disjoint set of
// users, rooms and attendance records, keyed by the ID issued here.
type Service struct {
	db *sql.DB
}

// NewService creates the account service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Register creates an admin account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admins WHERE email = $1)`, email).Scan(&exists); err != nil {
		return "", err
	}
	if exists {
		return "", ErrAdminExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO admins (id, email, password) VALUES ($1, $2, $3)`, id, email, string(hashed)); err != nil {
		return "", err
	}
	return id, nil
}

// Login verifies credentials and returns the stable admin ID.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	var id, hashed string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password FROM admins WHERE email = $1`, email).Scan(&id, &hashed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return id, nil
}
