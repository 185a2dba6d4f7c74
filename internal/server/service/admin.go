package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"webinarfeedback/internal/server/database"
)

const maxListLimit = 5000

var exportHeader = []string{
	"Date",
	"Full Name",
	"Company",
	"Sector",
	"Position",
	"Email",
	"Phone",
	"Overall Satisfaction",
	"Material Usefulness",
	"Recommend to Colleagues",
	"Comments",
	"One-on-One Session",
}

// ListSubmissions returns stored feedback newest first.
func (s *FeedbackService) ListSubmissions(ctx context.Context, filter database.SubmissionFilter) ([]*database.Submission, error) {
	if filter.Limit < 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	subs, err := s.repo.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	if subs == nil {
		subs = []*database.Submission{}
	}
	return subs, nil
}

// ExportCSV writes every submission matching filter as CSV.
func (s *FeedbackService) ExportCSV(ctx context.Context, w io.Writer, filter database.SubmissionFilter) (int, error) {
	filter.Limit = 0
	subs, err := s.repo.ListSubmissions(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to list submissions: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, sub := range subs {
		if err := cw.Write(exportRow(sub)); err != nil {
			return 0, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush csv: %w", err)
	}
	return len(subs), nil
}

// ExportFilename is the attachment name for an export taken at now.
func ExportFilename(now time.Time) string {
	return "feedback_submissions_" + now.Format("2006-01-02") + ".csv"
}

// GetStats returns aggregate dashboard numbers.
func (s *FeedbackService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx, s.now())
}

// HealthCheck reports store connectivity.
func (s *FeedbackService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func exportRow(sub *database.Submission) []string {
	return []string{
		sub.CreatedAt.UTC().Format(time.RFC3339),
		csvSafe(sub.FullName),
		csvSafe(sub.CompanyName),
		csvSafe(deref(sub.Sector)),
		csvSafe(deref(sub.Position)),
		csvSafe(sub.Email),
		csvSafe(deref(sub.PhoneNumber)),
		sub.SatisfactionOverall,
		sub.MaterialUsefulness,
		sub.RecommendColleagues,
		csvSafe(sub.Comments),
		boolCell(sub.OneOnOneSession),
	}
}

// csvSafe neutralizes cells that spreadsheet apps would run as formulas.
func csvSafe(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolCell(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
