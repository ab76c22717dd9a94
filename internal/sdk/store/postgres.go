package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
)

// Postgres SQLSTATE codes.
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type postgres struct {
	db *sql.DB
}

var (
	database = os.Getenv("CRISIS_DB_DATABASE")
	password = os.Getenv("CRISIS_DB_PASSWORD")
	username = os.Getenv("CRISIS_DB_USERNAME")
	port     = os.Getenv("CRISIS_DB_PORT")
	host     = os.Getenv("CRISIS_DB_HOST")
	schema   = os.Getenv("CRISIS_DB_SCHEMA")

	pgInstance *postgres
)

// NewPostgres opens (or reuses) the Postgres-backed store.
func NewPostgres() Store {
	if pgInstance != nil {
		return pgInstance
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s", username, password, host, port, database, schema)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatal(err)
	}
	pgInstance = &postgres{db: db}
	return pgInstance
}

// Health checks the health of the database connection by pinging the
// database and reporting pool statistics.
func (s *postgres) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Printf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

func (s *postgres) Close() error {
	log.Printf("Disconnected from database: %s", database)
	return s.db.Close()
}

// ---------------------------------------------
// User operations
// ---------------------------------------------

const userColumns = `
	id::text,
	name,
	email,
	password,
	role,
	is_verified,
	otp_code,
	otp_expires_at,
	otp_attempts,
	reset_token,
	reset_expires_at,
	created_at,
	updated_at
`

// CreateUser inserts a new user into the database.
func (s *postgres) CreateUser(ctx context.Context, newUser models.NewUser) (models.User, error) {
	role := newUser.Role
	if role == "" {
		role = models.RoleUser
	}

	query := `
		INSERT INTO users (name, email, password, role, is_verified)
		VALUES ($1, $2, $3, $4, false)
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		newUser.Name,
		newUser.Email,
		newUser.Password,
		role,
	))
	if err != nil {
		if isPgError(err, uniqueViolation) {
			return models.User{}, ErrDuplicatedEntry
		}
		return models.User{}, fmt.Errorf("creating user: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (s *postgres) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("selecting user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (s *postgres) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("selecting user by email: %w", err)
	}

	return user, nil
}

// ListUsers retrieves all users, newest first.
func (s *postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	return users, nil
}

// PromoteUserToAdmin sets the admin role for a specific user.
func (s *postgres) PromoteUserToAdmin(ctx context.Context, userID string) (models.User, error) {
	query := `
		UPDATE users
		SET role = 'admin',
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("promoting user to admin: %w", err)
	}

	return user, nil
}

// PromoteUserToAdminByEmail sets the admin role for the user with the
// given email. Used by the startup admin seed.
func (s *postgres) PromoteUserToAdminByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		UPDATE users
		SET role = 'admin',
		    updated_at = CURRENT_TIMESTAMP
		WHERE email = $1
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("promoting user to admin by email: %w", err)
	}

	return user, nil
}

// ---------------------------------------------
// OTP operations
// ---------------------------------------------

// SetUserOTP attaches a fresh verification code to the user and resets
// the attempt counter.
func (s *postgres) SetUserOTP(ctx context.Context, userID, code string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET otp_code = $1,
		    otp_expires_at = $2,
		    otp_attempts = 0,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	return s.execExpectingRow(ctx, query, code, expiresAt, userID)
}

// IncrementOTPAttempts bumps the failed-attempt counter and returns the
// new value.
func (s *postgres) IncrementOTPAttempts(ctx context.Context, userID string) (int, error) {
	const query = `
		UPDATE users
		SET otp_attempts = otp_attempts + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING otp_attempts
	`

	var attempts int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("incrementing otp attempts: %w", err)
	}

	return attempts, nil
}

// ClearUserOTP drops any pending verification code.
func (s *postgres) ClearUserOTP(ctx context.Context, userID string) error {
	const query = `
		UPDATE users
		SET otp_code = NULL,
		    otp_expires_at = NULL,
		    otp_attempts = 0,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	return s.execExpectingRow(ctx, query, userID)
}

// MarkUserVerified flips the user to verified and clears the code in one
// conditional update. The WHERE clause on otp_code makes the code
// single-use under concurrent verify attempts.
func (s *postgres) MarkUserVerified(ctx context.Context, userID, code string) (bool, error) {
	const query = `
		UPDATE users
		SET is_verified = true,
		    otp_code = NULL,
		    otp_expires_at = NULL,
		    otp_attempts = 0,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		  AND otp_code = $2
		  AND is_verified = false
	`

	result, err := s.db.ExecContext(ctx, query, userID, code)
	if err != nil {
		return false, fmt.Errorf("marking user verified: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// ---------------------------------------------
// Password reset operations
// ---------------------------------------------

// SetResetToken stores the active reset token and its expiry on the user.
func (s *postgres) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET reset_token = $1,
		    reset_expires_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	return s.execExpectingRow(ctx, query, token, expiresAt, userID)
}

// ConsumeResetToken replaces the password and clears the reset fields in
// one conditional update. A token that was already consumed, replaced, or
// expired no longer matches, so the update applies at most once.
func (s *postgres) ConsumeResetToken(ctx context.Context, userID, token string, newPassword []byte) (bool, error) {
	const query = `
		UPDATE users
		SET password = $1,
		    reset_token = NULL,
		    reset_expires_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		  AND reset_token = $3
		  AND reset_expires_at > CURRENT_TIMESTAMP
	`

	result, err := s.db.ExecContext(ctx, query, newPassword, userID, token)
	if err != nil {
		return false, fmt.Errorf("consuming reset token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// UpdateUserPassword updates a user's password.
func (s *postgres) UpdateUserPassword(ctx context.Context, userID string, newPassword []byte) error {
	const query = `
		UPDATE users
		SET password = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	return s.execExpectingRow(ctx, query, newPassword, userID)
}

// ---------------------------------------------
// Crisis operations
// ---------------------------------------------

const crisisColumns = `
	id::text,
	title,
	description,
	location_address,
	location_lat,
	location_lng,
	severity,
	status,
	media,
	reported_by::text,
	created_at,
	updated_at
`

// CreateCrisis inserts a new crisis report.
func (s *postgres) CreateCrisis(ctx context.Context, newCrisis models.NewCrisis) (models.Crisis, error) {
	media, err := json.Marshal(newCrisis.Media)
	if err != nil {
		return models.Crisis{}, fmt.Errorf("encoding media: %w", err)
	}

	query := `
		INSERT INTO crises (title, description, location_address, location_lat, location_lng, severity, status, media, reported_by)
		VALUES ($1, $2, $3, $4, $5, $6, 'reported', $7, $8)
		RETURNING ` + crisisColumns

	crisis, err := scanCrisis(s.db.QueryRowContext(ctx, query,
		newCrisis.Title,
		newCrisis.Description,
		newCrisis.Location.Address,
		newCrisis.Location.Lat,
		newCrisis.Location.Lng,
		newCrisis.Severity,
		media,
		newCrisis.ReportedBy,
	))
	if err != nil {
		if isPgError(err, foreignKeyViolation) {
			return models.Crisis{}, ErrNotFound
		}
		return models.Crisis{}, fmt.Errorf("creating crisis: %w", err)
	}

	return crisis, nil
}

// GetCrisisByID retrieves a crisis report by its ID.
func (s *postgres) GetCrisisByID(ctx context.Context, crisisID string) (models.Crisis, error) {
	query := `SELECT ` + crisisColumns + ` FROM crises WHERE id = $1`

	crisis, err := scanCrisis(s.db.QueryRowContext(ctx, query, crisisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Crisis{}, ErrNotFound
		}
		return models.Crisis{}, fmt.Errorf("selecting crisis: %w", err)
	}

	return crisis, nil
}

// ListCrises retrieves crisis reports matching the filter, newest first.
func (s *postgres) ListCrises(ctx context.Context, filter CrisisFilter) ([]models.Crisis, error) {
	query := `
		SELECT ` + crisisColumns + `
		FROM crises
		WHERE ($1 = '' OR severity = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`

	return s.queryCrises(ctx, query, filter.Severity, filter.Status)
}

// ListCrisesByReporter retrieves the reports filed by one user, newest first.
func (s *postgres) ListCrisesByReporter(ctx context.Context, userID string) ([]models.Crisis, error) {
	query := `
		SELECT ` + crisisColumns + `
		FROM crises
		WHERE reported_by = $1
		ORDER BY created_at DESC
	`

	return s.queryCrises(ctx, query, userID)
}

// UpdateCrisisStatus sets the lifecycle status of a crisis and advances
// updated_at.
func (s *postgres) UpdateCrisisStatus(ctx context.Context, crisisID, status string) (models.Crisis, error) {
	query := `
		UPDATE crises
		SET status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING ` + crisisColumns

	crisis, err := scanCrisis(s.db.QueryRowContext(ctx, query, status, crisisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Crisis{}, ErrNotFound
		}
		return models.Crisis{}, fmt.Errorf("updating crisis status: %w", err)
	}

	return crisis, nil
}

func (s *postgres) queryCrises(ctx context.Context, query string, args ...any) ([]models.Crisis, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing crises: %w", err)
	}
	defer rows.Close()

	var crises []models.Crisis
	for rows.Next() {
		crisis, err := scanCrisis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning crisis: %w", err)
		}
		crises = append(crises, crisis)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating crises: %w", err)
	}

	return crises, nil
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

func (s *postgres) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(scanner rowScanner) (models.User, error) {
	var user models.User
	var otpCode, resetToken sql.NullString
	var otpExpires, resetExpires sql.NullTime
	if err := scanner.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Password,
		&user.Role,
		&user.IsVerified,
		&otpCode,
		&otpExpires,
		&user.OTPAttempts,
		&resetToken,
		&resetExpires,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return models.User{}, err
	}

	user.OTPCode = stringPtr(otpCode)
	user.OTPExpiresAt = timePtr(otpExpires)
	user.ResetToken = stringPtr(resetToken)
	user.ResetExpires = timePtr(resetExpires)

	return user, nil
}

func scanCrisis(scanner rowScanner) (models.Crisis, error) {
	var crisis models.Crisis
	var media []byte
	if err := scanner.Scan(
		&crisis.ID,
		&crisis.Title,
		&crisis.Description,
		&crisis.Location.Address,
		&crisis.Location.Lat,
		&crisis.Location.Lng,
		&crisis.Severity,
		&crisis.Status,
		&media,
		&crisis.ReportedBy,
		&crisis.CreatedAt,
		&crisis.UpdatedAt,
	); err != nil {
		return models.Crisis{}, err
	}

	if len(media) > 0 {
		if err := json.Unmarshal(media, &crisis.Media); err != nil {
			return models.Crisis{}, fmt.Errorf("decoding media: %w", err)
		}
	}

	return crisis, nil
}

// isPgError checks if the error is a PostgreSQL error with the given code.
func isPgError(err error, code string) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == code
	}
	return false
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}
