package api

import (
	"net/http"

	"webinarfeedback/internal/server/auth"
	"webinarfeedback/internal/server/config"
	"webinarfeedback/internal/server/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, authManager *auth.Manager, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(RequestLogger())

	// One throttle shared by every public endpoint
	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	e.GET("/health", handler.HandleHealth)

	// Public feedback flow
	e.GET("/api/get-feedback-token", handler.HandleIssueToken, limiter.Middleware())
	e.POST("/api/submit-feedback", handler.HandleSubmitFeedback, limiter.Middleware())
	e.GET(service.DownloadPath, handler.HandleDownload, limiter.Middleware())

	// Admin
	e.POST("/api/admin/login", handler.HandleAdminLogin, limiter.Middleware())
	admin := e.Group("/api/admin", RequireAdmin(authManager))
	admin.GET("/submissions", handler.HandleListSubmissions)
	admin.GET("/submissions/export", handler.HandleExportSubmissions)
	admin.GET("/stats", handler.HandleStats)

	return e
}
