package app

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crisisconnect/crisis-api/internal/sdk/models"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
)

const (
	maxMediaFiles    = 5
	maxMediaFileSize = 10 << 20 // 10 MB
)

// allowedMediaTypes maps accepted content types to the stored media kind.
var allowedMediaTypes = map[string]string{
	"image/jpeg":      models.MediaImage,
	"image/jpg":       models.MediaImage,
	"image/png":       models.MediaImage,
	"video/mp4":       models.MediaVideo,
	"video/quicktime": models.MediaVideo,
}

// HandleUploadMedia stores attachments on disk and returns their
// descriptors so the client can reference them from a report.
func (a *App) HandleUploadMedia(c *gin.Context) {
	media, err := a.saveMediaFiles(c)
	if err != nil {
		return
	}
	if media == nil {
		media = []models.Media{}
	}

	c.JSON(http.StatusOK, media)
}

// saveMediaFiles validates and persists the "media" parts of a multipart
// request. On failure it writes the error response and returns a non-nil
// error.
func (a *App) saveMediaFiles(c *gin.Context) ([]models.Media, error) {
	form, err := c.MultipartForm()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return nil, err
	}

	files := form.File["media"]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > maxMediaFiles {
		writeError(c, http.StatusBadRequest, "too_many_files", map[string]string{
			"media": fmt.Sprintf("at most %d files", maxMediaFiles),
		})
		return nil, fmt.Errorf("too many files: %d", len(files))
	}

	var media []models.Media
	for _, file := range files {
		m, err := a.saveMediaFile(c, file)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}

	return media, nil
}

func (a *App) saveMediaFile(c *gin.Context, file *multipart.FileHeader) (models.Media, error) {
	if file.Size > maxMediaFileSize {
		writeError(c, http.StatusBadRequest, "file_too_large", map[string]string{
			"media": fmt.Sprintf("%s exceeds the %d MB limit", file.Filename, maxMediaFileSize>>20),
		})
		return models.Media{}, fmt.Errorf("file too large: %s", file.Filename)
	}

	contentType := file.Header.Get("Content-Type")
	kind, ok := allowedMediaTypes[strings.ToLower(contentType)]
	if !ok {
		writeError(c, http.StatusBadRequest, "unsupported_media_type", map[string]string{
			"media": "only jpeg, jpg, png images and mp4, mov videos are allowed",
		})
		return models.Media{}, fmt.Errorf("unsupported media type: %s", contentType)
	}

	filename := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	dst := filepath.Join(a.uploadDir, filename)

	if err := c.SaveUploadedFile(file, dst); err != nil {
		a.toSentry(c, "upload", "fs", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_upload_error", nil)
		return models.Media{}, err
	}

	return models.Media{
		Type:        kind,
		URL:         "/uploads/" + filename,
		Filename:    filename,
		ContentType: contentType,
	}, nil
}
