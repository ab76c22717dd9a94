package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
)

// HandleListUsers returns every user record, newest first. Admin only.
func (a *App) HandleListUsers(c *gin.Context) {
	users, err := a.db.ListUsers(c.Request.Context())
	if err != nil {
		a.toSentry(c, "list_users", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_list_users_error", nil)
		return
	}

	c.JSON(http.StatusOK, users)
}

// HandleGrantAdminRole promotes an existing user to admin. Together with
// the seed-admin configuration this is the only way a user acquires the
// admin role.
func (a *App) HandleGrantAdminRole(c *gin.Context) {
	userID := c.Param("user_id")

	user, err := a.db.PromoteUserToAdmin(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "user_not_found", nil)
			return
		}
		a.toSentry(c, "grant_admin", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_grant_admin_error", nil)
		return
	}

	c.JSON(http.StatusOK, user.Public())
}
