package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
	"github.com/crisisconnect/crisis-api/internal/services/token"
)

const (
	minPasswordLength = 6
	bcryptCost        = bcrypt.DefaultCost

	otpTTL         = 10 * time.Minute
	maxOTPAttempts = 5
)

// Forgot-password and resend-otp answer with the same body whether or not
// the email exists, so the endpoints cannot be used for account
// enumeration.
const (
	forgotPasswordMessage = "If a user with this email exists, a password reset link will be sent."
	resendOTPMessage      = "If an unverified account with this email exists, a new code has been sent."
)

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ResendOTPRequest struct {
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// SessionResponse is returned whenever a session token is minted.
type SessionResponse struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

// HandleSignup creates an unverified user and emails a verification code.
func (a *App) HandleSignup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	errCode, validationErrors := validateSignupInput(req)
	if errCode != "" {
		writeError(c, http.StatusBadRequest, errCode, validationErrors)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		a.toSentry(c, "signup", "bcrypt", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_hash_error", nil)
		return
	}

	role := models.RoleUser
	if a.seedAdminEmail != "" && req.Email == a.seedAdminEmail {
		role = models.RoleAdmin
	}

	user, err := a.db.CreateUser(c.Request.Context(), models.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Password: hashedPassword,
		Role:     role,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicatedEntry) {
			writeError(c, http.StatusConflict, "user_already_exists", nil)
			return
		}
		a.toSentry(c, "signup", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_create_user_error", nil)
		return
	}

	if err := a.issueOTP(c, user); err != nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "OTP sent to email",
		"email":   user.Email,
	})
}

// HandleVerifyOTP checks a submitted code, marks the user verified, and
// mints the first session token.
func (a *App) HandleVerifyOTP(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)

	user, err := a.db.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusBadRequest, "user_not_found", nil)
			return
		}
		a.toSentry(c, "verify", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_verify_error", nil)
		return
	}

	if user.IsVerified {
		writeError(c, http.StatusBadRequest, "already_verified", nil)
		return
	}

	if user.OTPCode == nil || user.OTPExpiresAt == nil {
		writeError(c, http.StatusBadRequest, "no_pending_otp", nil)
		return
	}

	// Expiry wins over mismatch: an expired code is expired no matter
	// what the caller submitted.
	if time.Now().After(*user.OTPExpiresAt) {
		writeError(c, http.StatusBadRequest, "expired_otp", nil)
		return
	}

	if *user.OTPCode != req.OTP {
		attempts, err := a.db.IncrementOTPAttempts(c.Request.Context(), user.ID)
		if err != nil {
			a.toSentry(c, "verify", "db", sentry.LevelError, err)
			writeError(c, http.StatusInternalServerError, "internal_verify_error", nil)
			return
		}
		if attempts >= maxOTPAttempts {
			if err := a.db.ClearUserOTP(c.Request.Context(), user.ID); err != nil {
				a.toSentry(c, "verify", "db", sentry.LevelWarning, err)
			}
			writeError(c, http.StatusBadRequest, "too_many_attempts", nil)
			return
		}
		writeError(c, http.StatusBadRequest, "invalid_otp", nil)
		return
	}

	verified, err := a.db.MarkUserVerified(c.Request.Context(), user.ID, req.OTP)
	if err != nil {
		a.toSentry(c, "verify", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_verify_error", nil)
		return
	}
	if !verified {
		// A concurrent request consumed the code first.
		writeError(c, http.StatusBadRequest, "no_pending_otp", nil)
		return
	}

	a.respondWithSession(c, "verify", user)
}

// HandleResendOTP reissues the verification code for an unverified user.
func (a *App) HandleResendOTP(c *gin.Context) {
	var req ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)

	user, err := a.db.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(c, http.StatusOK, resendOTPMessage)
			return
		}
		a.toSentry(c, "resend_otp", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_resend_otp_error", nil)
		return
	}

	if user.IsVerified {
		writeMessage(c, http.StatusOK, resendOTPMessage)
		return
	}

	if err := a.issueOTP(c, user); err != nil {
		return
	}

	writeMessage(c, http.StatusOK, resendOTPMessage)
}

// HandleLogin checks credentials for a verified user and mints a session
// token.
func (a *App) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)

	user, err := a.db.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusBadRequest, "invalid_credentials", nil)
			return
		}
		a.toSentry(c, "login", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_login_error", nil)
		return
	}

	if !user.IsVerified {
		writeError(c, http.StatusBadRequest, "email_not_verified", nil)
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(req.Password)); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_credentials", nil)
		return
	}

	a.respondWithSession(c, "login", user)
}

// HandleForgotPassword mints a reset token, stores it on the user, and
// emails the reset link.
func (a *App) HandleForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)

	user, err := a.db.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeMessage(c, http.StatusOK, forgotPasswordMessage)
			return
		}
		a.toSentry(c, "forgot_password", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_create_reset_token_error", nil)
		return
	}

	resetToken, err := a.tokens.MintResetToken(user.ID)
	if err != nil {
		a.toSentry(c, "forgot_password", "token", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_create_reset_token_error", nil)
		return
	}

	if err := a.db.SetResetToken(c.Request.Context(), user.ID, resetToken, time.Now().Add(token.ResetTTL)); err != nil {
		a.toSentry(c, "forgot_password", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_create_reset_token_error", nil)
		return
	}

	if err := a.mailer.SendPasswordResetEmail(user.Email, user.Name, resetToken); err != nil {
		a.toSentry(c, "forgot_password", "email", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_send_reset_email_error", nil)
		return
	}

	writeMessage(c, http.StatusOK, forgotPasswordMessage)
}

// HandleResetPassword completes a password reset with a token. The token
// must verify and still match the stored copy, so it is single-use.
func (a *App) HandleResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	if len(req.Password) < minPasswordLength {
		writeError(c, http.StatusBadRequest, "weak_password", map[string]string{
			"password": fmt.Sprintf("must be at least %d characters", minPasswordLength),
		})
		return
	}

	userID, err := a.tokens.ParseResetToken(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_or_expired_reset_token", nil)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		a.toSentry(c, "reset_password", "bcrypt", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_hash_error", nil)
		return
	}

	consumed, err := a.db.ConsumeResetToken(c.Request.Context(), userID, req.Token, hashedPassword)
	if err != nil {
		a.toSentry(c, "reset_password", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_reset_password_error", nil)
		return
	}
	if !consumed {
		writeError(c, http.StatusBadRequest, "invalid_or_expired_reset_token", nil)
		return
	}

	// The password is already changed; a failed confirmation email must
	// not fail the request.
	if user, err := a.db.GetUserByID(c.Request.Context(), userID); err == nil {
		if err := a.mailer.SendPasswordChangedEmail(user.Email, user.Name); err != nil {
			a.toSentry(c, "reset_password", "email", sentry.LevelWarning, err)
		}
	}

	writeMessage(c, http.StatusOK, "Password has been reset successfully. You can now login with your new password.")
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

// issueOTP attaches a fresh code to the user and emails it. It writes the
// error response itself and returns a non-nil error when the caller
// should stop.
func (a *App) issueOTP(c *gin.Context, user models.User) error {
	code, err := generateOTP()
	if err != nil {
		a.toSentry(c, "issue_otp", "rand", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_generate_otp_error", nil)
		return err
	}

	if err := a.db.SetUserOTP(c.Request.Context(), user.ID, code, time.Now().Add(otpTTL)); err != nil {
		a.toSentry(c, "issue_otp", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_generate_otp_error", nil)
		return err
	}

	if err := a.mailer.SendOTPEmail(user.Email, user.Name, code); err != nil {
		a.toSentry(c, "issue_otp", "email", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_send_otp_error", nil)
		return err
	}

	return nil
}

func (a *App) respondWithSession(c *gin.Context, handler string, user models.User) {
	sessionToken, err := a.tokens.MintSessionToken(user.ID, user.Email, user.Role)
	if err != nil {
		a.toSentry(c, handler, "token", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_generate_token_error", nil)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		Token: sessionToken,
		User:  user.Public(),
	})
}

// generateOTP draws a uniform 6-digit code from crypto/rand.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func validateSignupInput(req SignupRequest) (string, map[string]string) {
	validationErrors := make(map[string]string)

	if req.Name == "" {
		validationErrors["name"] = "name_required"
	}
	if req.Email == "" {
		validationErrors["email"] = "email_required"
	}
	if req.Password == "" {
		validationErrors["password"] = "password_required"
	}

	if len(validationErrors) > 0 {
		return "missing_required_fields", validationErrors
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		validationErrors["email"] = "invalid_email_format"
		return "invalid_email", validationErrors
	}

	if len(req.Password) < minPasswordLength {
		validationErrors["password"] = "password_too_short"
		return "weak_password", validationErrors
	}

	return "", nil
}
