package app

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
)

type createCrisisResponse struct {
	Message string        `json:"message"`
	Crisis  models.Crisis `json:"crisis"`
}

func sampleCrisis() CreateCrisisRequest {
	return CreateCrisisRequest{
		Title:       "Flooded underpass",
		Description: "Water level rising under the 5th street bridge",
		Location:    models.Location{Address: "5th Street Bridge", Lat: 40.71, Lng: -74.0},
		Severity:    models.SeverityHigh,
	}
}

// adminSession promotes a fresh account and logs in again so the token
// carries the admin role.
func (e *testEnv) adminSession(t *testing.T, email string) string {
	t.Helper()

	_, user := e.signupAndVerify(t, "Ops", email, "secret1")
	e.makeAdmin(t, user.ID)

	rec := e.doJSON(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{
		Email: email, Password: "secret1",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[SessionResponse](t, rec).Token
}

func TestCreateCrisis_JSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	token, user := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")

	t.Run("requires authentication", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", sampleCrisis(), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("creates report", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", sampleCrisis(), token)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decodeBody[createCrisisResponse](t, rec)
		assert.NotEmpty(t, resp.Crisis.ID)
		assert.Equal(t, models.StatusReported, resp.Crisis.Status)
		assert.Equal(t, user.ID, resp.Crisis.ReportedBy)
		assert.Equal(t, models.SeverityHigh, resp.Crisis.Severity)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		req := sampleCrisis()
		req.Title = "  "
		req.Severity = "catastrophic"

		rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", req, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "validation_failed")
		assert.Contains(t, rec.Body.String(), "title_required")
		assert.Contains(t, rec.Body.String(), "invalid_severity")
	})
}

func TestCreateCrisis_MultipartWithMedia(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	token, user := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")

	crisisData, err := json.Marshal(sampleCrisis())
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("crisisData", string(crisisData)))

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="media"; filename="scene.png"`},
		"Content-Type":        {"image/png"},
	})
	require.NoError(t, err)
	_, err = io.WriteString(part, "\x89PNG fake image bytes")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/crisis", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[createCrisisResponse](t, rec)
	assert.Equal(t, user.ID, resp.Crisis.ReportedBy)
	require.Len(t, resp.Crisis.Media, 1)

	media := resp.Crisis.Media[0]
	assert.Equal(t, models.MediaImage, media.Type)
	assert.Equal(t, "/uploads/"+media.Filename, media.URL)

	// The attachment must actually be on disk.
	saved, err := os.ReadFile(filepath.Join(env.app.uploadDir, media.Filename))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake image bytes", string(saved))
}

func TestMyCrises_ScopedToReporter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	amyToken, _ := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	bobToken, _ := env.signupAndVerify(t, "Bob", "bob@x.com", "secret1")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", sampleCrisis(), amyToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/api/v1/crisis/my", nil, amyToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Crisis](t, rec), 1)

	rec = env.doJSON(t, http.MethodGet, "/api/v1/crisis/my", nil, bobToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]models.Crisis](t, rec))
}

func TestUpdateCrisisStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	userToken, _ := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	adminToken := env.adminSession(t, "ops@x.com")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", sampleCrisis(), userToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	crisis := decodeBody[createCrisisResponse](t, rec).Crisis

	statusPath := "/api/v1/crisis/" + crisis.ID + "/status"

	t.Run("requires authentication", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPatch, statusPath, UpdateStatusRequest{Status: models.StatusResolved}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("role header cannot escalate", func(t *testing.T) {
		// The role comes from the verified token only; a spoofed header
		// changes nothing.
		body, err := json.Marshal(UpdateStatusRequest{Status: models.StatusResolved})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPatch, statusPath, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+userToken)
		req.Header.Set("X-User-Role", "admin")

		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "admin_required")
	})

	t.Run("invalid status rejected before role check", func(t *testing.T) {
		for _, bearer := range []string{userToken, adminToken} {
			rec := env.doJSON(t, http.MethodPatch, statusPath, UpdateStatusRequest{Status: "archived"}, bearer)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_status")
		}
	})

	t.Run("unknown crisis", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPatch, "/api/v1/crisis/no-such-id/status", UpdateStatusRequest{Status: models.StatusResolved}, adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "crisis_not_found")
	})

	t.Run("admin transitions freely", func(t *testing.T) {
		// No ordering between states, including moving backwards.
		for _, status := range []string{models.StatusInProgress, models.StatusResolved, models.StatusReported} {
			rec := env.doJSON(t, http.MethodPatch, statusPath, UpdateStatusRequest{Status: status}, adminToken)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			updated := decodeBody[models.Crisis](t, rec)
			assert.Equal(t, status, updated.Status)
			assert.False(t, updated.UpdatedAt.Before(crisis.UpdatedAt))
		}
	})
}

func TestListCrises_AdminOnlyWithFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	userToken, _ := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	adminToken := env.adminSession(t, "ops@x.com")

	low := sampleCrisis()
	low.Severity = models.SeverityLow
	for _, req := range []CreateCrisisRequest{sampleCrisis(), low} {
		rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", req, userToken)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	t.Run("forbidden for regular users", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodGet, "/api/v1/crisis/all", nil, userToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("lists everything", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodGet, "/api/v1/crisis/all", nil, adminToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[[]models.Crisis](t, rec), 2)
	})

	t.Run("filters by severity", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodGet, "/api/v1/crisis/all?severity=low", nil, adminToken)
		require.Equal(t, http.StatusOK, rec.Code)

		crises := decodeBody[[]models.Crisis](t, rec)
		require.Len(t, crises, 1)
		assert.Equal(t, models.SeverityLow, crises[0].Severity)
	})

	t.Run("rejects unknown filter values", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodGet, "/api/v1/crisis/all?severity=apocalyptic", nil, adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_severity")

		rec = env.doJSON(t, http.MethodGet, "/api/v1/crisis/all?status=archived", nil, adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_status")
	})
}

// TestReporterLifecycle walks the whole reporter journey: signup, OTP
// verification, filing a report, operations working it, and the reporter
// observing the outcome.
func TestReporterLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	amyToken, _ := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	adminToken := env.adminSession(t, "ops@x.com")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/crisis", sampleCrisis(), amyToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	crisis := decodeBody[createCrisisResponse](t, rec).Crisis
	require.Equal(t, models.StatusReported, crisis.Status)

	for _, status := range []string{models.StatusInProgress, models.StatusResolved} {
		rec = env.doJSON(t, http.MethodPatch, "/api/v1/crisis/"+crisis.ID+"/status", UpdateStatusRequest{Status: status}, adminToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = env.doJSON(t, http.MethodGet, "/api/v1/crisis/my", nil, amyToken)
	require.Equal(t, http.StatusOK, rec.Code)

	mine := decodeBody[[]models.Crisis](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, models.StatusResolved, mine[0].Status)
}
