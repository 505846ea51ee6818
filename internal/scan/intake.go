package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/identity"
	"qrattend/internal/logger"
	"qrattend/internal/metrics"
	"qrattend/internal/roster"
)

// Outcome classifies one scan attempt.
type Outcome string

const (
	Success        Outcome = "success"
	AlreadyLogged  Outcome = "already_logged"
	NotFound       Outcome = "not_found"
	RoomMismatch   Outcome = "room_mismatch"
	InvalidPayload Outcome = "invalid_payload"
)

// ErrCoolingDown is returned while the post-attempt cooldown window is open.
var ErrCoolingDown = errors.New("scan cooldown in effect")

// Result is the outcome of one decode-and-resolve cycle.
type Result struct {
	Outcome Outcome            `json:"outcome"`
	User    *roster.User       `json:"user,omitempty"`
	Record  *attendance.Record `json:"record,omitempty"`
	Message string             `json:"message"`
}

// Decoder parses raw QR text into an identity payload.
type Decoder interface {
	Decode(payload string) (identity.Payload, error)
}

// Resolver looks up the scanned identity among the administrator's users.
type Resolver interface {
	FindByIdentity(ctx context.Context, adminID, firstName, lastName, studentID string) (*roster.User, error)
}

// Ledger admits attendance records.
type Ledger interface {
	TryLog(ctx context.Context, adminID string, user attendance.UserSnapshot, roomContext *string) (attendance.Record, error)
}

// Intake bridges raw decoded QR text into a single logical scan attempt.
// It is source-agnostic: camera frames, uploaded images and test harnesses all
// arrive here as text. At most one attempt per administrator is in flight, and
// after any attempt a cooldown window must pass before the next one, so a code
// held in front of a continuously sampling camera cannot flood the ledger.
type Intake struct {
	decoder  Decoder
	resolver Resolver
	ledger   Ledger
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	last     map[string]time.Time
	inflight map[string]bool
}

// NewIntake creates an intake with the given cooldown window.
func NewIntake(decoder Decoder, resolver Resolver, ledger Ledger, cooldown time.Duration) *Intake {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &Intake{
		decoder:  decoder,
		resolver: resolver,
		ledger:   ledger,
		cooldown: cooldown,
		now:      time.Now,
		last:     make(map[string]time.Time),
		inflight: make(map[string]bool),
	}
}

// Scan runs one attempt: decode, resolve, try to log. Soft failures come back
// as outcomes; only backend faults are returned as errors.
func (i *Intake) Scan(ctx context.Context, adminID, rawText string, roomID *string) (Result, error) {
	if err := i.acquire(adminID); err != nil {
		return Result{}, err
	}
	defer i.release(adminID)

	res, err := i.attempt(ctx, adminID, rawText, roomID)
	if err != nil {
		return Result{}, err
	}
	metrics.ScanOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

func (i *Intake) acquire(adminID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inflight[adminID] {
		return ErrCoolingDown
	}
	if last, ok := i.last[adminID]; ok && i.now().Sub(last) < i.cooldown {
		return ErrCoolingDown
	}
	i.inflight[adminID] = true
	return nil
}

// release anchors the cooldown at attempt completion, success or not.
func (i *Intake) release(adminID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.inflight[adminID] = false
	i.last[adminID] = i.now()
}

func (i *Intake) attempt(ctx context.Context, adminID, rawText string, roomID *string) (Result, error) {
	payload, err := i.decoder.Decode(rawText)
	if err != nil {
		if errors.Is(err, identity.ErrDecode) {
			logger.Log.Debugw("scan payload rejected", "err", err)
			return Result{Outcome: InvalidPayload, Message: "Invalid or corrupt QR code data."}, nil
		}
		return Result{}, err
	}

	user, err := i.resolver.FindByIdentity(ctx, adminID, payload.FirstName, payload.LastName, payload.StudentID)
	if err != nil {
		return Result{}, err
	}
	if user == nil {
		return Result{Outcome: NotFound, Message: "User not found."}, nil
	}

	rec, err := i.ledger.TryLog(ctx, adminID, attendance.UserSnapshot{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		StudentID: user.StudentID,
		QRCode:    user.QRCode,
		RoomID:    user.RoomID,
		AdminID:   adminID,
	}, roomID)
	switch {
	case errors.Is(err, attendance.ErrRoomMismatch):
		return Result{Outcome: RoomMismatch, User: user, Message: "User does not belong to this room."}, nil
	case errors.Is(err, attendance.ErrAlreadyLogged):
		return Result{
			Outcome: AlreadyLogged,
			User:    user,
			Message: fmt.Sprintf("%s %s has already been logged for today.", user.FirstName, user.LastName),
		}, nil
	case err != nil:
		return Result{}, err
	}

	return Result{
		Outcome: Success,
		User:    user,
		Record:  &rec,
		Message: fmt.Sprintf("Welcome, %s %s!", user.FirstName, user.LastName),
	}, nil
}
