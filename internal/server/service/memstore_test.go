package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"webinarfeedback/internal/server/config"
	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/storage"
)

// memStore is an in-memory database.Store. WithinTx serializes callers and
// restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	tokens  map[string]database.IssuedToken
	subs    []database.Submission
	subLogs []database.SubmissionLogEntry
	dlLogs  []database.DownloadLogEntry
	nextID  int64

	failCreateToken      error
	failCreateSubmission error
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]database.IssuedToken)}
}

func (m *memStore) CreateIssuedToken(ctx context.Context, token *database.IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateToken != nil {
		return m.failCreateToken
	}
	m.tokens[token.Token] = *token
	return nil
}

func (m *memStore) GetIssuedToken(ctx context.Context, token string) (*database.IssuedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) MarkTokenUsed(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	m.tokens[token] = t
	return true, nil
}

func (m *memStore) LatestSubmissionSince(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, e := range m.subLogs {
		if e.IPAddress != ip || !e.SubmittedAt.After(since) {
			continue
		}
		if latest == nil || e.SubmittedAt.After(*latest) {
			at := e.SubmittedAt
			latest = &at
		}
	}
	return latest, nil
}

func (m *memStore) CreateSubmission(ctx context.Context, sub *database.Submission) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateSubmission != nil {
		return 0, m.failCreateSubmission
	}
	m.nextID++
	sub.ID = m.nextID
	m.subs = append(m.subs, *sub)
	return sub.ID, nil
}

func (m *memStore) AppendSubmissionLog(ctx context.Context, ip string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subLogs = append(m.subLogs, database.SubmissionLogEntry{IPAddress: ip, SubmittedAt: at})
	return nil
}

func (m *memStore) CountDownloadsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.dlLogs {
		if e.IPAddress == ip && !e.DownloadedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountDownloadsBySignature(ctx context.Context, signature string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.dlLogs {
		if e.TokenSignature == signature {
			n++
		}
	}
	return n, nil
}

func (m *memStore) AppendDownloadLog(ctx context.Context, entry *database.DownloadLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlLogs = append(m.dlLogs, *entry)
	return nil
}

func (m *memStore) ListSubmissions(ctx context.Context, filter database.SubmissionFilter) ([]*database.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []*database.Submission
	for i := range m.subs {
		s := m.subs[i]
		hay := strings.ToLower(s.FullName + "\n" + s.CompanyName + "\n" + s.Email + "\n" + s.Comments)
		if search == "" || strings.Contains(hay, search) {
			out = append(out, &s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) GetStats(ctx context.Context, now time.Time) (*database.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &database.Stats{TotalSubmissions: int64(len(m.subs)), TotalDownloads: int64(len(m.dlLogs))}
	for _, s := range m.subs {
		if !s.CreatedAt.Before(now.Add(-24 * time.Hour)) {
			stats.RecentSubmissions++
		}
	}
	for _, t := range m.tokens {
		if !t.Used && !t.ExpiresAt.Before(now) {
			stats.ActiveTokens++
		}
	}
	return stats, nil
}

func (m *memStore) PruneExpired(ctx context.Context, params database.PruneParams) (*database.PruneResult, error) {
	return &database.PruneResult{}, nil
}

func (m *memStore) WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx database.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	tokens := make(map[string]database.IssuedToken, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = v
	}
	subs := append([]database.Submission(nil), m.subs...)
	subLogs := append([]database.SubmissionLogEntry(nil), m.subLogs...)
	dlLogs := append([]database.DownloadLogEntry(nil), m.dlLogs...)
	nextID := m.nextID
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.tokens, m.subs, m.subLogs, m.dlLogs, m.nextID = tokens, subs, subLogs, dlLogs, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) HealthCheck(ctx context.Context) error { return nil }

// testClock is a manually advanced clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:            "https://feedback.example.com",
		DownloadsEnabled:   true,
		DownloadSecret:     []byte("0123456789abcdef0123456789abcdef"),
		IssueTokenTTL:      5 * time.Minute,
		SubmissionCooldown: 60 * time.Second,
		DownloadTokenTTL:   time.Hour,
		DownloadIPWindow:   time.Hour,
		DownloadIPLimit:    10,
		DownloadTokenLimit: 5,
	}
}

type testEnv struct {
	svc   *FeedbackService
	store *memStore
	clock *testClock
	file  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "deliverable.pptx")
	if err := os.WriteFile(file, []byte("slides"), 0644); err != nil {
		t.Fatalf("failed to write deliverable: %v", err)
	}

	store := newMemStore()
	files := storage.NewFileSystemStore(file, "Slides.pptx", "application/octet-stream")
	clock := &testClock{t: time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)}

	svc := NewFeedbackService(store, files, testConfig())
	svc.now = clock.Now

	return &testEnv{svc: svc, store: store, clock: clock, file: file}
}

func validForm() FormData {
	yes := true
	return FormData{
		FullName:            "  Siti Rahma ",
		CompanyName:         "Acme Corp",
		Sector:              "Finance",
		Email:               " Siti.Rahma@Example.COM ",
		SatisfactionOverall: "Very Satisfied",
		MaterialUsefulness:  "Satisfied",
		RecommendColleagues: "Yes",
		Comments:            " Great session ",
		PrivacyConsent:      &yes,
	}
}
