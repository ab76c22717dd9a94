package app

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
	"github.com/crisisconnect/crisis-api/internal/services/token"
)

func TestListUsers_AdminGated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	userToken, _ := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	adminToken := env.adminSession(t, "ops@x.com")

	rec := env.doJSON(t, http.MethodGet, "/api/v1/admin/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/api/v1/admin/users", nil, userToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.doJSON(t, http.MethodGet, "/api/v1/admin/users", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.User](t, rec), 2)
}

func TestGrantAdminRole(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, amy := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	adminToken := env.adminSession(t, "ops@x.com")

	t.Run("unknown user", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/api/v1/admin/users/no-such-id/roles/grant", nil, adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "user_not_found")
	})

	t.Run("promotes and takes effect at next login", func(t *testing.T) {
		rec := env.doJSON(t, http.MethodPost, "/api/v1/admin/users/"+amy.ID+"/roles/grant", nil, adminToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, models.RoleAdmin, decodeBody[models.PublicUser](t, rec).Role)

		rec = env.doJSON(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{
			Email: "amy@x.com", Password: "secret1",
		}, "")
		require.Equal(t, http.StatusOK, rec.Code)

		session := decodeBody[SessionResponse](t, rec)
		rec = env.doJSON(t, http.MethodGet, "/api/v1/crisis/all", nil, session.Token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSeedAdminEmail_GrantsRoleAtSignup(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	mail := newFakeMailer()
	tokens := token.NewWithSecret([]byte("test-secret"), "crisis-api-test")
	a := NewApp(mem, sentry.NewSentryService(), tokens, mail, t.TempDir(), "root@x.com")

	env := &testEnv{app: a, router: a.RegisterRoutes(), store: mem, mailer: mail, tokens: tokens}

	_, seeded := env.signupAndVerify(t, "Root", "root@x.com", "secret1")
	assert.Equal(t, models.RoleAdmin, seeded.Role)

	_, regular := env.signupAndVerify(t, "Amy", "amy@x.com", "secret1")
	assert.Equal(t, models.RoleUser, regular.Role)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/api/v1/health/liveness", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"up"`)

	rec = env.doJSON(t, http.MethodGet, "/api/v1/health/readiness", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
