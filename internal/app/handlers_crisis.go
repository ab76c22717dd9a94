package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crisisconnect/crisis-api/internal/sdk/middleware"
	"github.com/crisisconnect/crisis-api/internal/sdk/models"
	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
)

type CreateCrisisRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    models.Location `json:"location"`
	Severity    string          `json:"severity"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// HandleCreateCrisis files a new incident report. The body is either a
// JSON document or a multipart form with a crisisData JSON part plus up
// to five media attachments (the shape the dashboard submits).
func (a *App) HandleCreateCrisis(c *gin.Context) {
	claims, err := middleware.GetClaims(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req CreateCrisisRequest
	var media []models.Media

	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
			return
		}
	} else {
		raw := c.PostForm("crisisData")
		if raw == "" || json.Unmarshal([]byte(raw), &req) != nil {
			writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
			return
		}

		media, err = a.saveMediaFiles(c)
		if err != nil {
			// saveMediaFiles already wrote the response.
			return
		}
	}

	if validationErrors := validateCrisisInput(req); len(validationErrors) > 0 {
		writeError(c, http.StatusBadRequest, "validation_failed", validationErrors)
		return
	}

	crisis, err := a.db.CreateCrisis(c.Request.Context(), models.NewCrisis{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Location:    req.Location,
		Severity:    req.Severity,
		Media:       media,
		ReportedBy:  claims.UserID,
	})
	if err != nil {
		a.toSentry(c, "create_crisis", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_create_crisis_error", nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Crisis reported successfully",
		"crisis":  crisis,
	})
}

// HandleListCrises returns all reports, optionally filtered by severity
// and status. Admin only.
func (a *App) HandleListCrises(c *gin.Context) {
	filter := store.CrisisFilter{
		Severity: c.Query("severity"),
		Status:   c.Query("status"),
	}

	if filter.Severity != "" && !models.ValidSeverity(filter.Severity) {
		writeError(c, http.StatusBadRequest, "invalid_severity", nil)
		return
	}
	if filter.Status != "" && !models.ValidStatus(filter.Status) {
		writeError(c, http.StatusBadRequest, "invalid_status", nil)
		return
	}

	crises, err := a.db.ListCrises(c.Request.Context(), filter)
	if err != nil {
		a.toSentry(c, "list_crises", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_list_crises_error", nil)
		return
	}

	c.JSON(http.StatusOK, crises)
}

// HandleMyCrises returns the caller's own reports.
func (a *App) HandleMyCrises(c *gin.Context) {
	claims, err := middleware.GetClaims(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	crises, err := a.db.ListCrisesByReporter(c.Request.Context(), claims.UserID)
	if err != nil {
		a.toSentry(c, "my_crises", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_list_crises_error", nil)
		return
	}

	c.JSON(http.StatusOK, crises)
}

// HandleUpdateCrisisStatus moves a crisis between lifecycle states. Only
// admins may transition status; no ordering is imposed between the three
// states. The checks run in a fixed order: authentication, status
// validity, role, then existence.
func (a *App) HandleUpdateCrisisStatus(c *gin.Context) {
	claims, err := middleware.GetClaims(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	if !models.ValidStatus(req.Status) {
		writeError(c, http.StatusBadRequest, "invalid_status", map[string]string{
			"status": "must be one of reported, inProgress, resolved",
		})
		return
	}

	if claims.Role != models.RoleAdmin {
		writeError(c, http.StatusForbidden, "admin_required", nil)
		return
	}

	crisis, err := a.db.UpdateCrisisStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "crisis_not_found", nil)
			return
		}
		a.toSentry(c, "update_status", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_update_status_error", nil)
		return
	}

	c.JSON(http.StatusOK, crisis)
}

func validateCrisisInput(req CreateCrisisRequest) map[string]string {
	validationErrors := make(map[string]string)

	if strings.TrimSpace(req.Title) == "" {
		validationErrors["title"] = "title_required"
	}
	if strings.TrimSpace(req.Description) == "" {
		validationErrors["description"] = "description_required"
	}
	if req.Severity == "" {
		validationErrors["severity"] = "severity_required"
	} else if !models.ValidSeverity(req.Severity) {
		validationErrors["severity"] = "invalid_severity"
	}
	if strings.TrimSpace(req.Location.Address) == "" {
		validationErrors["location"] = "location_required"
	}

	if len(validationErrors) == 0 {
		return nil
	}

	return validationErrors
}
