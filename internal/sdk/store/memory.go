package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
)

// Memory is an in-process Store used by tests and local development. It
// mirrors the conditional-update semantics of the Postgres store under a
// single mutex.
type Memory struct {
	mu     sync.Mutex
	users  map[string]*models.User // by id
	crises map[string]*models.Crisis
}

func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]*models.User),
		crises: make(map[string]*models.Crisis),
	}
}

func (m *Memory) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (m *Memory) Close() error { return nil }

// ---------------------------------------------
// User operations
// ---------------------------------------------

func (m *Memory) CreateUser(_ context.Context, newUser models.NewUser) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == newUser.Email {
			return models.User{}, ErrDuplicatedEntry
		}
	}

	role := newUser.Role
	if role == "" {
		role = models.RoleUser
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		Name:      newUser.Name,
		Email:     newUser.Email,
		Password:  append([]byte(nil), newUser.Password...),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[user.ID] = user

	return *user, nil
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return *user, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user := m.findByEmail(email); user != nil {
		return *user, nil
	}
	return models.User{}, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (m *Memory) PromoteUserToAdmin(_ context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	user.Role = models.RoleAdmin
	user.UpdatedAt = time.Now().UTC()
	return *user, nil
}

func (m *Memory) PromoteUserToAdminByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user := m.findByEmail(email)
	if user == nil {
		return models.User{}, ErrNotFound
	}
	user.Role = models.RoleAdmin
	user.UpdatedAt = time.Now().UTC()
	return *user, nil
}

// ---------------------------------------------
// OTP operations
// ---------------------------------------------

func (m *Memory) SetUserOTP(_ context.Context, userID, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.OTPCode = &code
	user.OTPExpiresAt = &expiresAt
	user.OTPAttempts = 0
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) IncrementOTPAttempts(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	user.OTPAttempts++
	user.UpdatedAt = time.Now().UTC()
	return user.OTPAttempts, nil
}

func (m *Memory) ClearUserOTP(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.OTPCode = nil
	user.OTPExpiresAt = nil
	user.OTPAttempts = 0
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkUserVerified(_ context.Context, userID, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	if user.IsVerified || user.OTPCode == nil || *user.OTPCode != code {
		return false, nil
	}
	user.IsVerified = true
	user.OTPCode = nil
	user.OTPExpiresAt = nil
	user.OTPAttempts = 0
	user.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ---------------------------------------------
// Password reset operations
// ---------------------------------------------

func (m *Memory) SetResetToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.ResetToken = &token
	user.ResetExpires = &expiresAt
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ConsumeResetToken(_ context.Context, userID, token string, newPassword []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	if user.ResetToken == nil || *user.ResetToken != token {
		return false, nil
	}
	if user.ResetExpires == nil || !user.ResetExpires.After(time.Now()) {
		return false, nil
	}
	user.Password = append([]byte(nil), newPassword...)
	user.ResetToken = nil
	user.ResetExpires = nil
	user.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) UpdateUserPassword(_ context.Context, userID string, newPassword []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Password = append([]byte(nil), newPassword...)
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// ---------------------------------------------
// Crisis operations
// ---------------------------------------------

func (m *Memory) CreateCrisis(_ context.Context, newCrisis models.NewCrisis) (models.Crisis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[newCrisis.ReportedBy]; !ok {
		return models.Crisis{}, ErrNotFound
	}

	now := time.Now().UTC()
	crisis := &models.Crisis{
		ID:          uuid.NewString(),
		Title:       newCrisis.Title,
		Description: newCrisis.Description,
		Location:    newCrisis.Location,
		Severity:    newCrisis.Severity,
		Status:      models.StatusReported,
		Media:       append([]models.Media(nil), newCrisis.Media...),
		ReportedBy:  newCrisis.ReportedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.crises[crisis.ID] = crisis

	return *crisis, nil
}

func (m *Memory) GetCrisisByID(_ context.Context, crisisID string) (models.Crisis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	crisis, ok := m.crises[crisisID]
	if !ok {
		return models.Crisis{}, ErrNotFound
	}
	return *crisis, nil
}

func (m *Memory) ListCrises(_ context.Context, filter CrisisFilter) ([]models.Crisis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var crises []models.Crisis
	for _, c := range m.crises {
		if filter.Severity != "" && c.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		crises = append(crises, *c)
	}
	sortCrisesNewestFirst(crises)
	return crises, nil
}

func (m *Memory) ListCrisesByReporter(_ context.Context, userID string) ([]models.Crisis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var crises []models.Crisis
	for _, c := range m.crises {
		if c.ReportedBy == userID {
			crises = append(crises, *c)
		}
	}
	sortCrisesNewestFirst(crises)
	return crises, nil
}

func (m *Memory) UpdateCrisisStatus(_ context.Context, crisisID, status string) (models.Crisis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	crisis, ok := m.crises[crisisID]
	if !ok {
		return models.Crisis{}, ErrNotFound
	}
	crisis.Status = status
	crisis.UpdatedAt = time.Now().UTC()
	return *crisis, nil
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

// findByEmail requires m.mu held. Emails compare byte-exact, matching the
// unique index in the Postgres store.
func (m *Memory) findByEmail(email string) *models.User {
	for _, u := range m.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func sortCrisesNewestFirst(crises []models.Crisis) {
	sort.Slice(crises, func(i, j int) bool {
		return crises[i].CreatedAt.After(crises[j].CreatedAt)
	})
}
