package roster

import (
	"context"
	"fmt"

	"qrattend/internal/identity"
	"qrattend/internal/logger"
	"qrattend/internal/metrics"
	"qrattend/internal/qrimg"
)

// UserInput carries the editable user fields.
type UserInput struct {
	FirstName string  `json:"first_name" binding:"required"`
	LastName  string  `json:"last_name" binding:"required"`
	StudentID string  `json:"student_id" binding:"required"`
	RoomID    *string `json:"room_id"`
}

// RefreshReport summarizes a bulk QR refresh. Batches commit independently, so
// a failing batch leaves earlier ones intact.
type RefreshReport struct {
	Total     int      `json:"total"`
	Refreshed int      `json:"refreshed"`
	Errors    []string `json:"errors,omitempty"`
}

// Service owns roster writes: it stamps ownership, derives the QR artifact on
// every user create and update, and never persists a user without one.
type Service struct {
	repo      *Repository
	codec     *identity.Codec
	render    *qrimg.Renderer
	batchSize int
}

// NewService creates a roster service.
func NewService(repo *Repository, codec *identity.Codec, render *qrimg.Renderer, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Service{repo: repo, codec: codec, render: render, batchSize: batchSize}
}

func (s *Service) deriveQR(in UserInput) (string, error) {
	p := identity.Payload{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		StudentID: in.StudentID,
	}
	if in.RoomID != nil {
		p.RoomID = *in.RoomID
	}
	payload, err := s.codec.Encode(p)
	if err != nil {
		return "", fmt.Errorf("encode identity: %w", err)
	}
	uri, err := s.render.DataURI(payload)
	if err != nil {
		return "", err
	}
	return uri, nil
}

// CreateUser derives the QR artifact and inserts the user. A codec or render
// failure aborts the write.
func (s *Service) CreateUser(ctx context.Context, adminID string, in UserInput) (User, error) {
	qr, err := s.deriveQR(in)
	if err != nil {
		return User{}, err
	}
	return s.repo.InsertUser(ctx, User{
		AdminID:   adminID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		StudentID: in.StudentID,
		RoomID:    in.RoomID,
		QRCode:    qr,
	})
}

// UpdateUser regenerates the QR artifact along with the identity fields.
func (s *Service) UpdateUser(ctx context.Context, adminID, id string, in UserInput) error {
	qr, err := s.deriveQR(in)
	if err != nil {
		return err
	}
	return s.repo.UpdateUser(ctx, adminID, id, User{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		StudentID: in.StudentID,
		RoomID:    in.RoomID,
		QRCode:    qr,
	})
}

// DeleteUser removes a user; attendance history keeps its snapshot of them.
func (s *Service) DeleteUser(ctx context.Context, adminID, id string) error {
	return s.repo.DeleteUser(ctx, adminID, id)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, adminID, id string) (User, error) {
	return s.repo.GetUser(ctx, adminID, id)
}

// ListUsers returns all users owned by the administrator.
func (s *Service) ListUsers(ctx context.Context, adminID string) ([]User, error) {
	return s.repo.ListUsers(ctx, adminID)
}

// FindByIdentity resolves a decoded payload to a stored user, nil when absent.
func (s *Service) FindByIdentity(ctx context.Context, adminID, firstName, lastName, studentID string) (*User, error) {
	return s.repo.FindByIdentity(ctx, adminID, firstName, lastName, studentID)
}

// CreateRoom inserts a room.
func (s *Service) CreateRoom(ctx context.Context, adminID, name string, teacher *string) (Room, error) {
	return s.repo.InsertRoom(ctx, Room{AdminID: adminID, Name: name, Teacher: teacher})
}

// UpdateRoom rewrites a room.
func (s *Service) UpdateRoom(ctx context.Context, adminID, id, name string, teacher *string) error {
	return s.repo.UpdateRoom(ctx, adminID, id, name, teacher)
}

// DeleteRoom removes a room without touching its users; their room_id keeps
// pointing at the deleted room. The count is logged so the operator can see
// how many references now dangle.
func (s *Service) DeleteRoom(ctx context.Context, adminID, id string) error {
	dangling, err := s.repo.CountUsersInRoom(ctx, adminID, id)
	if err != nil {
		logger.Log.Warnw("could not count users in room", "room_id", id, "err", err)
	}
	if err := s.repo.DeleteRoom(ctx, adminID, id); err != nil {
		return err
	}
	if dangling > 0 {
		logger.Log.Warnw("room deleted with assigned users", "room_id", id, "users", dangling)
	}
	return nil
}

// GetRoom returns one room.
func (s *Service) GetRoom(ctx context.Context, adminID, id string) (Room, error) {
	return s.repo.GetRoom(ctx, adminID, id)
}

// ListRooms returns all rooms owned by the administrator.
func (s *Service) ListRooms(ctx context.Context, adminID string) ([]Room, error) {
	return s.repo.ListRooms(ctx, adminID)
}

// RefreshAllQRCodes regenerates the stored QR artifact for every user owned by
// the administrator, in batches committed independently. Errors are collected
// per batch and reported after all batches were attempted.
func (s *Service) RefreshAllQRCodes(ctx context.Context, adminID string) (RefreshReport, error) {
	users, err := s.repo.ListUsers(ctx, adminID)
	if err != nil {
		return RefreshReport{}, err
	}
	report := RefreshReport{Total: len(users)}

	for start := 0; start < len(users); start += s.batchSize {
		end := start + s.batchSize
		if end > len(users) {
			end = len(users)
		}
		if err := s.refreshBatch(ctx, adminID, users[start:end]); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("batch %d-%d: %v", start, end-1, err))
			metrics.QRRefreshBatches.WithLabelValues("error").Inc()
			continue
		}
		report.Refreshed += end - start
		metrics.QRRefreshBatches.WithLabelValues("ok").Inc()
	}
	return report, nil
}

func (s *Service) refreshBatch(ctx context.Context, adminID string, users []User) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		qr, err := s.deriveQR(UserInput{
			FirstName: u.FirstName,
			LastName:  u.LastName,
			StudentID: u.StudentID,
			RoomID:    u.RoomID,
		})
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := s.repo.UpdateQRCode(ctx, tx, adminID, u.ID, qr); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
