// Package store provides persistence for users and crisis reports.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
)

var (
	ErrNotFound        = sql.ErrNoRows
	ErrDuplicatedEntry = errors.New("duplicated entry")
)

// CrisisFilter narrows ListCrises results. Empty fields match everything.
type CrisisFilter struct {
	Severity string
	Status   string
}

// Store is the persistence boundary for the service. The Postgres
// implementation backs production; the memory implementation backs tests.
type Store interface {
	// Health returns a map of health status information.
	Health() map[string]string

	// Close terminates the underlying connection, if any.
	Close() error

	// User operations
	CreateUser(ctx context.Context, user models.NewUser) (models.User, error)
	GetUserByID(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	PromoteUserToAdmin(ctx context.Context, userID string) (models.User, error)
	PromoteUserToAdminByEmail(ctx context.Context, email string) (models.User, error)

	// OTP operations. MarkUserVerified is conditional: it flips the user
	// to verified and clears the code only while the stored code still
	// equals the submitted one, so a single-use code cannot be consumed
	// twice by racing requests. It reports whether the update applied.
	SetUserOTP(ctx context.Context, userID, code string, expiresAt time.Time) error
	IncrementOTPAttempts(ctx context.Context, userID string) (int, error)
	ClearUserOTP(ctx context.Context, userID string) error
	MarkUserVerified(ctx context.Context, userID, code string) (bool, error)

	// Password reset operations. ConsumeResetToken is the single-use
	// point: it swaps the password and clears both reset fields only
	// while the stored token matches and has not expired.
	SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, userID, token string, newPassword []byte) (bool, error)
	UpdateUserPassword(ctx context.Context, userID string, newPassword []byte) error

	// Crisis operations
	CreateCrisis(ctx context.Context, crisis models.NewCrisis) (models.Crisis, error)
	GetCrisisByID(ctx context.Context, crisisID string) (models.Crisis, error)
	ListCrises(ctx context.Context, filter CrisisFilter) ([]models.Crisis, error)
	ListCrisesByReporter(ctx context.Context, userID string) ([]models.Crisis, error)
	UpdateCrisisStatus(ctx context.Context, crisisID, status string) (models.Crisis, error)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicatedEntry checks if the error is a duplicate entry error.
func IsDuplicatedEntry(err error) bool {
	return errors.Is(err, ErrDuplicatedEntry)
}
