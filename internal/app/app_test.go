package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
	"github.com/crisisconnect/crisis-api/internal/services/token"
)

// fakeMailer records outbound email instead of dialing SMTP.
type fakeMailer struct {
	mu          sync.Mutex
	otps        map[string]string // email -> last code
	resetTokens map[string]string // email -> last reset token
	confirmed   []string
	failNext    bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{
		otps:        make(map[string]string),
		resetTokens: make(map[string]string),
	}
}

func (f *fakeMailer) SendOTPEmail(to, _, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errDeliveryFailed
	}
	f.otps[to] = code
	return nil
}

func (f *fakeMailer) SendPasswordResetEmail(to, _, resetToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errDeliveryFailed
	}
	f.resetTokens[to] = resetToken
	return nil
}

func (f *fakeMailer) SendPasswordChangedEmail(to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, to)
	return nil
}

func (f *fakeMailer) lastOTP(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.otps[email]
}

func (f *fakeMailer) lastResetToken(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetTokens[email]
}

var errDeliveryFailed = &deliveryError{}

type deliveryError struct{}

func (*deliveryError) Error() string { return "smtp unavailable" }

type testEnv struct {
	app    *App
	router *gin.Engine
	store  *store.Memory
	mailer *fakeMailer
	tokens *token.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	mail := newFakeMailer()
	tokens := token.NewWithSecret([]byte("test-secret"), "crisis-api-test")

	a := NewApp(mem, sentry.NewSentryService(), tokens, mail, t.TempDir(), "")

	return &testEnv{
		app:    a,
		router: a.RegisterRoutes(),
		store:  mem,
		mailer: mail,
		tokens: tokens,
	}
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// signupAndVerify walks a user through signup and OTP verification and
// returns the minted session token with the public user fields.
func (e *testEnv) signupAndVerify(t *testing.T, name, email, password string) (string, models.PublicUser) {
	t.Helper()

	rec := e.doJSON(t, http.MethodPost, "/api/v1/auth/signup", SignupRequest{
		Name: name, Email: email, Password: password,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	code := e.mailer.lastOTP(email)
	require.Len(t, code, 6)

	rec = e.doJSON(t, http.MethodPost, "/api/v1/auth/verify", VerifyRequest{
		Email: email, OTP: code,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	session := decodeBody[SessionResponse](t, rec)
	require.NotEmpty(t, session.Token)
	return session.Token, session.User
}

// makeAdmin promotes an existing user directly through the store, the
// same effect as the seed-admin configuration.
func (e *testEnv) makeAdmin(t *testing.T, userID string) {
	t.Helper()

	_, err := e.store.PromoteUserToAdmin(context.Background(), userID)
	require.NoError(t, err)
}
