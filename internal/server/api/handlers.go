package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webinarfeedback/internal/server/auth"
	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the feedback API.
type Handler struct {
	svc  *service.FeedbackService
	auth *auth.Manager
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc *service.FeedbackService, authManager *auth.Manager) *Handler {
	return &Handler{svc: svc, auth: authManager}
}

type submitRequest struct {
	Token    string            `json:"token"`
	FormData *service.FormData `json:"formData"`
}

type loginRequest struct {
	Password string `json:"password"`
}

// HandleIssueToken handles GET /api/get-feedback-token.
func (h *Handler) HandleIssueToken(c echo.Context) error {
	issued, err := h.svc.IssueToken(c.Request().Context(), clientIP(c))
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to generate token",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token":     issued.Token,
		"expiresAt": issued.ExpiresAt,
	})
}

// HandleSubmitFeedback handles POST /api/submit-feedback.
// Accepts {token, formData}; on success returns a download token when
// gated downloads are enabled.
func (h *Handler) HandleSubmitFeedback(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request body"})
	}
	if strings.TrimSpace(req.Token) == "" || req.FormData == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Missing token or form data"})
	}

	adm, err := h.svc.AdmitSubmission(c.Request().Context(), req.Token, clientIP(c), *req.FormData)
	if err != nil {
		return mapServiceError(c, err)
	}

	resp := echo.Map{
		"success": true,
		"message": "Feedback submitted successfully",
	}
	if h.svc.DownloadsEnabled() {
		token := h.svc.MintDownloadToken(adm.SubmissionID)
		resp["downloadToken"] = token
		resp["downloadUrl"] = h.svc.DownloadURL(token)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDownload handles GET /api/download-presentation?token=.
// Errors are plain text; success streams the deliverable as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.String(http.StatusBadRequest, "Missing download token")
	}

	dl, err := h.svc.AuthorizeDownload(c.Request().Context(), token, clientIP(c))
	if err != nil {
		return mapDownloadError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, dl.ContentType)
	return c.Attachment(dl.FilePath, dl.Filename)
}

// HandleAdminLogin handles POST /api/admin/login.
func (h *Handler) HandleAdminLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request body"})
	}

	sess, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			slog.Warn("admin login failed", "ip", clientIP(c))
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid password"})
		}
		slog.Error("admin login error", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Login failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
	})
}

// HandleListSubmissions handles GET /api/admin/submissions.
// Optional query params: q (search) and limit.
func (h *Handler) HandleListSubmissions(c echo.Context) error {
	subs, err := h.svc.ListSubmissions(c.Request().Context(), submissionFilter(c))
	if err != nil {
		slog.Error("failed to fetch submissions", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to fetch submissions"})
	}

	return c.JSON(http.StatusOK, echo.Map{"submissions": subs})
}

// HandleExportSubmissions handles GET /api/admin/submissions/export.
func (h *Handler) HandleExportSubmissions(c echo.Context) error {
	var buf bytes.Buffer
	n, err := h.svc.ExportCSV(c.Request().Context(), &buf, submissionFilter(c))
	if err != nil {
		slog.Error("failed to export submissions", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to export submissions"})
	}

	filename := service.ExportFilename(time.Now().UTC())
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	slog.Info("submissions exported", "rows", n)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// HandleStats handles GET /api/admin/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, stats)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.svc.HealthCheck(c.Request().Context()); err != nil {
		slog.Error("health check failed", "error", err)
		status = "degraded"
		dbStatus = "unreachable"
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

func submissionFilter(c echo.Context) database.SubmissionFilter {
	filter := database.SubmissionFilter{Search: c.QueryParam("q")}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		filter.Limit = n
	}
	return filter
}

// mapServiceError translates service-layer errors into JSON responses.
func mapServiceError(c echo.Context, err error) error {
	var rl *service.RateLimitError
	var verr *service.ValidationError

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Cause, "field": verr.Field})
	case errors.Is(err, service.ErrInvalidToken):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Invalid token"})
	case errors.Is(err, service.ErrTokenAlreadyUsed):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Token already used"})
	case errors.Is(err, service.ErrTokenExpired):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Token expired"})
	case errors.As(err, &rl):
		secs := rl.RemainingSeconds()
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":            fmt.Sprintf("Please wait %d seconds before submitting again.", secs),
			"remainingSeconds": secs,
		})
	default:
		slog.Error("submission failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to submit feedback"})
	}
}

// mapDownloadError translates download-gate errors into plain-text responses.
func mapDownloadError(c echo.Context, err error) error {
	var rl *service.RateLimitError

	switch {
	case errors.Is(err, service.ErrMalformedToken):
		return c.String(http.StatusForbidden, "Invalid token format")
	case errors.Is(err, service.ErrInvalidSignature):
		return c.String(http.StatusForbidden, "Invalid token signature")
	case errors.Is(err, service.ErrDownloadExpired):
		return c.String(http.StatusForbidden, "Download link expired")
	case errors.As(err, &rl) && rl.Scope == service.ScopeIP:
		return c.String(http.StatusTooManyRequests, "Rate limit exceeded (IP). Please try again later.")
	case errors.As(err, &rl):
		return c.String(http.StatusTooManyRequests, "Download limit exceeded for this session.")
	case errors.Is(err, service.ErrDownloadsDisabled):
		return c.String(http.StatusNotFound, "Not found")
	case errors.Is(err, service.ErrFileNotFound):
		return c.String(http.StatusNotFound, "File not found on server")
	default:
		slog.Error("download failed", "error", err)
		return c.String(http.StatusInternalServerError, "Internal Server Error")
	}
}
