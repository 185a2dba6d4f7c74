package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"webinarfeedback/internal/server/database"

	"github.com/google/uuid"
)

// IssuedToken is returned to the form before it is filled in.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Admission is the result of an accepted submission.
type Admission struct {
	SubmissionID int64
}

// IssueToken creates a single-use submission token bound to ip.
func (s *FeedbackService) IssueToken(ctx context.Context, ip string) (*IssuedToken, error) {
	now := s.now()
	token := &database.IssuedToken{
		Token:     uuid.NewString(),
		IPAddress: ip,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.IssueTokenTTL),
		Used:      false,
	}

	if err := s.repo.CreateIssuedToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &IssuedToken{Token: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

// AdmitSubmission validates and consumes token, enforces the per-IP
// cooldown and stores the form. The whole sequence runs in one transaction
// serialized on the token and the IP, so a token is consumed at most once
// and a failure at any step leaves no partial writes.
func (s *FeedbackService) AdmitSubmission(ctx context.Context, token, ip string, form FormData) (*Admission, error) {
	now := s.now()
	var admission *Admission

	lockKeys := []string{"submit-token:" + token, "submit-ip:" + ip}
	err := s.repo.WithinTx(ctx, lockKeys, func(ctx context.Context, tx database.Store) error {
		issued, err := tx.GetIssuedToken(ctx, token)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		if issued.Used {
			return ErrTokenAlreadyUsed
		}
		if now.After(issued.ExpiresAt) {
			return ErrTokenExpired
		}

		cooldown := s.cfg.SubmissionCooldown
		last, err := tx.LatestSubmissionSince(ctx, ip, now.Add(-cooldown))
		if err != nil {
			return err
		}
		if last != nil {
			remaining := cooldown - now.Sub(*last)
			if remaining > cooldown {
				remaining = cooldown
			}
			if remaining > 0 {
				return &RateLimitError{Scope: ScopeCooldown, RetryAfter: remaining}
			}
		}

		consumed, err := tx.MarkTokenUsed(ctx, token)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrTokenAlreadyUsed
		}

		sub, err := form.Normalize(now)
		if err != nil {
			return err
		}

		id, err := tx.CreateSubmission(ctx, sub)
		if err != nil {
			return err
		}

		if err := tx.AppendSubmissionLog(ctx, ip, now); err != nil {
			return err
		}

		admission = &Admission{SubmissionID: id}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("submission accepted", "id", admission.SubmissionID, "ip", ip)
	return admission, nil
}
