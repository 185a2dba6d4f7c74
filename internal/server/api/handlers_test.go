package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"webinarfeedback/internal/server/auth"
	"webinarfeedback/internal/server/config"
	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/service"
	"webinarfeedback/internal/server/storage"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminPassword = "letmein"

type testServer struct {
	e           *echo.Echo
	deliverable string
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()

	deliverable := filepath.Join(dir, "deliverable.pptx")
	require.NoError(t, os.WriteFile(deliverable, []byte("slides"), 0644))

	store, err := database.NewSQLiteStore(filepath.Join(dir, "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		BaseURL:            "https://feedback.example.com",
		DownloadsEnabled:   true,
		DownloadSecret:     []byte("0123456789abcdef0123456789abcdef"),
		IssueTokenTTL:      5 * time.Minute,
		SubmissionCooldown: 60 * time.Second,
		DownloadTokenTTL:   time.Hour,
		DownloadIPWindow:   time.Hour,
		DownloadIPLimit:    10,
		DownloadTokenLimit: 5,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		CORSAllowOrigins:   []string{"*"},
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	authManager, err := auth.NewManager(auth.Config{PasswordHash: string(hash), TTL: time.Hour})
	require.NoError(t, err)

	files := storage.NewFileSystemStore(deliverable, "Webinar_Slides.pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
	svc := service.NewFeedbackService(store, files, cfg)

	return &testServer{
		e:           SetupRouter(NewHandler(svc, authManager), authManager, cfg),
		deliverable: deliverable,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(raw))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func fromIP(ip string) map[string]string {
	return map[string]string{"X-Forwarded-For": ip}
}

func validForm() map[string]any {
	return map[string]any{
		"full_name":            "Budi Santoso",
		"company_name":         "Acme Corp",
		"email":                "budi@example.com",
		"satisfaction_overall": "Satisfied",
		"recommend_colleagues": "Yes",
		"privacy_consent":      true,
	}
}

func (s *testServer) issueToken(t *testing.T, ip string) string {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/get-feedback-token", nil, fromIP(ip))
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (s *testServer) submit(t *testing.T, ip string) map[string]any {
	t.Helper()
	token := s.issueToken(t, ip)
	rec := s.do(t, http.MethodPost, "/api/submit-feedback",
		map[string]any{"token": token, "formData": validForm()}, fromIP(ip))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": adminPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestSubmitFeedback(t *testing.T) {
	t.Run("accepted with download link", func(t *testing.T) {
		s := newTestServer(t)
		body := s.submit(t, "10.0.0.1")

		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Feedback submitted successfully", body["message"])
		assert.NotEmpty(t, body["downloadToken"])
		assert.True(t, strings.HasPrefix(body["downloadUrl"].(string),
			"https://feedback.example.com/api/download-presentation?token="))
	})

	t.Run("no download link when downloads disabled", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) { c.DownloadsEnabled = false })
		body := s.submit(t, "10.0.0.1")

		assert.NotContains(t, body, "downloadToken")
		assert.NotContains(t, body, "downloadUrl")
	})

	t.Run("missing token or form data", func(t *testing.T) {
		s := newTestServer(t)
		for _, payload := range []map[string]any{
			{"formData": validForm()},
			{"token": "abc"},
			{},
		} {
			rec := s.do(t, http.MethodPost, "/api/submit-feedback", payload, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Missing token or form data", decode(t, rec)["error"])
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodPost, "/api/submit-feedback",
			map[string]any{"token": "does-not-exist", "formData": validForm()}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Invalid token", decode(t, rec)["error"])
	})

	t.Run("token reuse", func(t *testing.T) {
		s := newTestServer(t)
		token := s.issueToken(t, "10.0.0.1")
		payload := map[string]any{"token": token, "formData": validForm()}

		rec := s.do(t, http.MethodPost, "/api/submit-feedback", payload, fromIP("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/submit-feedback", payload, fromIP("10.0.0.2"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Token already used", decode(t, rec)["error"])
	})

	t.Run("cooldown", func(t *testing.T) {
		s := newTestServer(t)
		s.submit(t, "10.0.0.1")

		token := s.issueToken(t, "10.0.0.1")
		rec := s.do(t, http.MethodPost, "/api/submit-feedback",
			map[string]any{"token": token, "formData": validForm()}, fromIP("10.0.0.1"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		body := decode(t, rec)
		secs := int(body["remainingSeconds"].(float64))
		assert.True(t, secs > 0 && secs <= 60, "remainingSeconds = %d", secs)
		assert.Contains(t, body["error"], "before submitting again.")
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		// The rejected token stays unused and the other IP is unaffected.
		s.submit(t, "10.0.0.2")
	})

	t.Run("validation failure", func(t *testing.T) {
		s := newTestServer(t)
		token := s.issueToken(t, "10.0.0.1")
		form := validForm()
		form["email"] = "not-an-email"

		rec := s.do(t, http.MethodPost, "/api/submit-feedback",
			map[string]any{"token": token, "formData": form}, fromIP("10.0.0.1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "email", decode(t, rec)["field"])

		// Nothing was consumed; the same token still works.
		rec = s.do(t, http.MethodPost, "/api/submit-feedback",
			map[string]any{"token": token, "formData": validForm()}, fromIP("10.0.0.1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestDownload(t *testing.T) {
	t.Run("serves the deliverable", func(t *testing.T) {
		s := newTestServer(t)
		link := s.submit(t, "10.0.0.1")["downloadUrl"].(string)
		u, err := url.Parse(link)
		require.NoError(t, err)

		rec := s.do(t, http.MethodGet, u.RequestURI(), nil, fromIP("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "slides", rec.Body.String())
		assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "Webinar_Slides.pptx")
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation",
			rec.Header().Get(echo.HeaderContentType))
	})

	t.Run("token quota", func(t *testing.T) {
		s := newTestServer(t)
		token := s.submit(t, "10.0.0.1")["downloadToken"].(string)
		target := service.DownloadPath + "?token=" + url.QueryEscape(token)

		for i := 0; i < 5; i++ {
			rec := s.do(t, http.MethodGet, target, nil, fromIP("10.0.1."+string(rune('1'+i))))
			require.Equal(t, http.StatusOK, rec.Code, "download %d", i+1)
		}
		rec := s.do(t, http.MethodGet, target, nil, fromIP("10.0.2.1"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "Download limit exceeded for this session.", rec.Body.String())
	})

	t.Run("ip quota", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) { c.DownloadIPLimit = 2 })
		token := s.submit(t, "10.0.0.1")["downloadToken"].(string)
		target := service.DownloadPath + "?token=" + url.QueryEscape(token)

		for i := 0; i < 2; i++ {
			rec := s.do(t, http.MethodGet, target, nil, fromIP("10.0.0.9"))
			require.Equal(t, http.StatusOK, rec.Code)
		}
		rec := s.do(t, http.MethodGet, target, nil, fromIP("10.0.0.9"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "Rate limit exceeded (IP). Please try again later.", rec.Body.String())
	})

	t.Run("rejections", func(t *testing.T) {
		s := newTestServer(t)
		token := s.submit(t, "10.0.0.1")["downloadToken"].(string)
		tampered := []byte(token)
		if tampered[5] == 'A' {
			tampered[5] = 'B'
		} else {
			tampered[5] = 'A'
		}

		tests := []struct {
			name   string
			target string
			status int
			body   string
		}{
			{"missing", service.DownloadPath, http.StatusBadRequest, "Missing download token"},
			{"malformed", service.DownloadPath + "?token=garbage", http.StatusForbidden, "Invalid token format"},
			{"tampered", service.DownloadPath + "?token=" + url.QueryEscape(string(tampered)), http.StatusForbidden, ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := s.do(t, http.MethodGet, tt.target, nil, nil)
				assert.Equal(t, tt.status, rec.Code)
				if tt.body != "" {
					assert.Equal(t, tt.body, rec.Body.String())
				}
			})
		}
	})

	t.Run("file missing", func(t *testing.T) {
		s := newTestServer(t)
		token := s.submit(t, "10.0.0.1")["downloadToken"].(string)
		require.NoError(t, os.Remove(s.deliverable))

		rec := s.do(t, http.MethodGet, service.DownloadPath+"?token="+url.QueryEscape(token), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "File not found on server", rec.Body.String())
	})
}

func TestAdmin(t *testing.T) {
	t.Run("login", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid password", decode(t, rec)["error"])

		rec = s.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": adminPassword}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["token"])
		assert.NotEmpty(t, body["expiresAt"])
	})

	t.Run("requires a session", func(t *testing.T) {
		s := newTestServer(t)
		for _, path := range []string{"/api/admin/submissions", "/api/admin/submissions/export", "/api/admin/stats"} {
			for _, header := range []map[string]string{
				nil,
				{"Authorization": "Bearer nope"},
				{"Authorization": "Basic YWRtaW46YWRtaW4="},
			} {
				rec := s.do(t, http.MethodGet, path, nil, header)
				assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
				assert.Equal(t, "Unauthorized", decode(t, rec)["error"])
			}
		}
	})

	t.Run("list and search", func(t *testing.T) {
		s := newTestServer(t)
		s.submit(t, "10.0.0.1")
		bearer := map[string]string{"Authorization": "Bearer " + s.login(t)}

		rec := s.do(t, http.MethodGet, "/api/admin/submissions", nil, bearer)
		require.Equal(t, http.StatusOK, rec.Code)
		subs := decode(t, rec)["submissions"].([]any)
		require.Len(t, subs, 1)
		assert.Equal(t, "Budi Santoso", subs[0].(map[string]any)["full_name"])

		rec = s.do(t, http.MethodGet, "/api/admin/submissions?q=nobody", nil, bearer)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode(t, rec)["submissions"])
	})

	t.Run("export", func(t *testing.T) {
		s := newTestServer(t)
		s.submit(t, "10.0.0.1")
		bearer := map[string]string{"Authorization": "Bearer " + s.login(t)}

		rec := s.do(t, http.MethodGet, "/api/admin/submissions/export", nil, bearer)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
		assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "feedback_submissions_")

		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		assert.Len(t, lines, 2)
		assert.Contains(t, lines[1], "budi@example.com")
	})

	t.Run("stats", func(t *testing.T) {
		s := newTestServer(t)
		s.submit(t, "10.0.0.1")
		bearer := map[string]string{"Authorization": "Bearer " + s.login(t)}

		rec := s.do(t, http.MethodGet, "/api/admin/stats", nil, bearer)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decode(t, rec)["total_submissions"])
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
}
