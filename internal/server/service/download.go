package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/storage"
)

// DownloadPath is the public route of the download gate.
const DownloadPath = "/api/download-presentation"

// Download describes the file released by the gate.
type Download struct {
	SubmissionID string
	FilePath     string
	Filename     string
	ContentType  string
}

// MintDownloadToken signs a download token for submissionID. Nothing is
// stored; the token alone proves authorization.
func (s *FeedbackService) MintDownloadToken(submissionID int64) string {
	return s.signer.Mint(strconv.FormatInt(submissionID, 10), s.now())
}

// DownloadURL is the absolute link that redeems token.
func (s *FeedbackService) DownloadURL(token string) string {
	return s.cfg.BaseURL + DownloadPath + "?token=" + url.QueryEscape(token)
}

// AuthorizeDownload verifies token and charges one download against the
// per-IP hourly quota and the per-token lifetime quota.
func (s *FeedbackService) AuthorizeDownload(ctx context.Context, token, ip string) (*Download, error) {
	if !s.cfg.DownloadsEnabled {
		return nil, ErrDownloadsDisabled
	}

	now := s.now()
	claims, err := s.signer.Verify(token, now)
	if err != nil {
		return nil, err
	}

	lockKeys := []string{"download-ip:" + ip, "download-sig:" + claims.Signature}
	err = s.repo.WithinTx(ctx, lockKeys, func(ctx context.Context, tx database.Store) error {
		ipCount, err := tx.CountDownloadsByIPSince(ctx, ip, now.Add(-s.cfg.DownloadIPWindow))
		if err != nil {
			return err
		}
		if ipCount >= s.cfg.DownloadIPLimit {
			return &RateLimitError{Scope: ScopeIP}
		}

		tokenCount, err := tx.CountDownloadsBySignature(ctx, claims.Signature)
		if err != nil {
			return err
		}
		if tokenCount >= s.cfg.DownloadTokenLimit {
			return &RateLimitError{Scope: ScopeToken}
		}

		return tx.AppendDownloadLog(ctx, &database.DownloadLogEntry{
			IPAddress:      ip,
			TokenSignature: claims.Signature,
			DownloadedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	path, err := s.files.GetPath()
	if err != nil {
		if errors.Is(err, storage.ErrFileMissing) {
			slog.Error("deliverable missing", "error", err)
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to locate deliverable: %w", err)
	}

	slog.Info("download authorized", "submission_id", claims.SubmissionID, "ip", ip)
	return &Download{
		SubmissionID: claims.SubmissionID,
		FilePath:     path,
		Filename:     s.files.Filename(),
		ContentType:  s.files.ContentType(),
	}, nil
}
