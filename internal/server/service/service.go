package service

import (
	"time"

	"webinarfeedback/internal/server/config"
	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/signing"
	"webinarfeedback/internal/server/storage"
)

// FeedbackService contains the anti-abuse pipeline and the admin queries.
// It holds no request state; every limit is derived from the store.
type FeedbackService struct {
	repo   database.Store
	files  storage.Store
	signer *signing.Signer
	cfg    *config.Config
	now    func() time.Time
}

// NewFeedbackService creates a new feedback service.
func NewFeedbackService(repo database.Store, files storage.Store, cfg *config.Config) *FeedbackService {
	return &FeedbackService{
		repo:   repo,
		files:  files,
		signer: signing.NewSigner(cfg.DownloadSecret, cfg.DownloadTokenTTL),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DownloadsEnabled reports whether successful submissions receive a download token.
func (s *FeedbackService) DownloadsEnabled() bool {
	return s.cfg.DownloadsEnabled
}
