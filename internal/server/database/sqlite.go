package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore is an embedded Store for local runs and tests. SQLite has no
// advisory locks, so WithinTx serializes through a process-wide mutex.
type SQLiteStore struct {
	db   *gorm.DB
	mu   *sync.Mutex
	inTx bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database file at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&IssuedToken{}, &Submission{}, &SubmissionLogEntry{}, &DownloadLogEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	// One writer at a time; other callers queue for the connection
	// instead of failing with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	slog.Info("connected to database", "driver", "sqlite", "path", path)
	return &SQLiteStore{db: db, mu: &sync.Mutex{}}, nil
}

func (s *SQLiteStore) CreateIssuedToken(ctx context.Context, token *IssuedToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssuedToken(ctx context.Context, token string) (*IssuedToken, error) {
	var t IssuedToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) MarkTokenUsed(ctx context.Context, token string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&IssuedToken{}).
		Where("token = ? AND used = ?", token, false).
		Update("used", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark token used: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *SQLiteStore) LatestSubmissionSince(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
	var entries []SubmissionLogEntry
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND submitted_at > ?", ip, since).
		Order("submitted_at DESC").
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query submission log: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	at := entries[0].SubmittedAt
	return &at, nil
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *Submission) (int64, error) {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return 0, fmt.Errorf("failed to create submission: %w", err)
	}
	return sub.ID, nil
}

func (s *SQLiteStore) AppendSubmissionLog(ctx context.Context, ip string, at time.Time) error {
	entry := &SubmissionLogEntry{IPAddress: ip, SubmittedAt: at}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append submission log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountDownloadsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&DownloadLogEntry{}).
		Where("ip_address = ? AND downloaded_at >= ?", ip, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count downloads by ip: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) CountDownloadsBySignature(ctx context.Context, signature string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&DownloadLogEntry{}).
		Where("token_signature = ?", signature).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count downloads by signature: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) AppendDownloadLog(ctx context.Context, entry *DownloadLogEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append download log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := likePattern(strings.ToLower(search))
		q = q.Where(
			`LOWER(full_name) LIKE ? ESCAPE '\' OR LOWER(company_name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\' OR LOWER(comments) LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern, pattern,
		)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var subs []*Submission
	if err := q.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	return subs, nil
}

func (s *SQLiteStore) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	db := s.db.WithContext(ctx)

	if err := db.Model(&Submission{}).Count(&stats.TotalSubmissions).Error; err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if err := db.Model(&Submission{}).Where("created_at >= ?", now.Add(-24*time.Hour)).Count(&stats.RecentSubmissions).Error; err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if err := db.Model(&DownloadLogEntry{}).Count(&stats.TotalDownloads).Error; err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if err := db.Model(&IssuedToken{}).Where("used = ? AND expires_at >= ?", false, now).Count(&stats.ActiveTokens).Error; err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) PruneExpired(ctx context.Context, params PruneParams) (*PruneResult, error) {
	res := &PruneResult{}
	db := s.db.WithContext(ctx)

	r := db.Where("expires_at < ?", params.TokensExpiredBefore).Delete(&IssuedToken{})
	if r.Error != nil {
		return nil, fmt.Errorf("failed to prune tokens: %w", r.Error)
	}
	res.Tokens = r.RowsAffected

	r = db.Where("submitted_at < ?", params.LogsBefore).Delete(&SubmissionLogEntry{})
	if r.Error != nil {
		return nil, fmt.Errorf("failed to prune submission logs: %w", r.Error)
	}
	res.SubmissionLogs = r.RowsAffected

	r = db.Where("downloaded_at < ?", params.LogsBefore).Delete(&DownloadLogEntry{})
	if r.Error != nil {
		return nil, fmt.Errorf("failed to prune download logs: %w", r.Error)
	}
	res.DownloadLogs = r.RowsAffected

	return res, nil
}

// WithinTx ignores lockKeys and takes the store mutex instead.
func (s *SQLiteStore) WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &SQLiteStore{db: tx, mu: s.mu, inTx: true})
	})
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
