// Package app provides HTTP handlers for the crisis-reporting service.
package app

import (
	"github.com/gin-gonic/gin"

	"github.com/crisisconnect/crisis-api/internal/sdk/middleware"
)

// ----------------------------------------------------------------------------
// Route Registration
// ----------------------------------------------------------------------------

func (a *App) RegisterRoutes() *gin.Engine {
	router := gin.New()

	// Global middleware chain
	router.Use(gin.Recovery())      // Panic recovery
	router.Use(middleware.Logger()) // Custom slog logger
	router.Use(middleware.CORS())   // CORS support

	// Uploaded media is served directly; the CDN in front is not our concern.
	router.Static("/uploads", a.uploadDir)

	// API v1 route group
	v1 := router.Group("/api/v1")
	{
		// Health check routes (public)
		health := v1.Group("/health")
		{
			health.GET("/readiness", a.HandleReadiness)
			health.GET("/liveness", a.HandleLiveness)
		}

		// Auth routes (public)
		auth := v1.Group("/auth")
		{
			auth.POST("/signup", a.HandleSignup)
			auth.POST("/verify", a.HandleVerifyOTP)
			auth.POST("/resend-otp", a.HandleResendOTP)
			auth.POST("/login", a.HandleLogin)
			auth.POST("/forgot-password", a.HandleForgotPassword)
			auth.POST("/reset-password", a.HandleResetPassword)
		}

		// Crisis routes (protected). The status transition carries its own
		// admin check so its error ordering matches the operation contract.
		crisis := v1.Group("/crisis")
		crisis.Use(middleware.Authenticate(a.tokens))
		{
			crisis.POST("", a.HandleCreateCrisis)
			crisis.GET("/my", a.HandleMyCrises)
			crisis.PATCH("/:id/status", a.HandleUpdateCrisisStatus)
			crisis.GET("/all", middleware.AuthorizeAdmin(), a.HandleListCrises)
		}

		// Upload route (protected)
		upload := v1.Group("/upload")
		upload.Use(middleware.Authenticate(a.tokens))
		{
			upload.POST("", a.HandleUploadMedia)
		}

		// Admin routes (protected - requires admin role)
		admin := v1.Group("/admin")
		admin.Use(middleware.Authenticate(a.tokens))
		admin.Use(middleware.AuthorizeAdmin())
		{
			admin.GET("/users", a.HandleListUsers)
			admin.POST("/users/:user_id/roles/grant", a.HandleGrantAdminRole)
		}
	}

	return router
}
