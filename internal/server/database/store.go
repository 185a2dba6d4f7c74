package database

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Store is the persistence contract for tokens, submissions and the two
// rate-limit logs. Repository (PostgreSQL) and SQLiteStore implement it.
type Store interface {
	CreateIssuedToken(ctx context.Context, token *IssuedToken) error
	GetIssuedToken(ctx context.Context, token string) (*IssuedToken, error)
	// MarkTokenUsed flips used from false to true and reports whether a row
	// changed. A second caller for the same token always gets false.
	MarkTokenUsed(ctx context.Context, token string) (bool, error)

	// LatestSubmissionSince returns the newest submission time for ip
	// strictly after since, or nil if there is none. A submission exactly
	// one cooldown old no longer blocks.
	LatestSubmissionSince(ctx context.Context, ip string, since time.Time) (*time.Time, error)
	CreateSubmission(ctx context.Context, sub *Submission) (int64, error)
	AppendSubmissionLog(ctx context.Context, ip string, at time.Time) error

	CountDownloadsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	CountDownloadsBySignature(ctx context.Context, signature string) (int, error)
	AppendDownloadLog(ctx context.Context, entry *DownloadLogEntry) error

	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error)
	GetStats(ctx context.Context, now time.Time) (*Stats, error)
	PruneExpired(ctx context.Context, params PruneParams) (*PruneResult, error)

	// WithinTx runs fn atomically against a transaction-scoped Store.
	// Callers sharing any lock key are serialized for the duration of fn.
	// Any error from fn rolls back every write made through the scoped Store.
	WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx Store) error) error

	HealthCheck(ctx context.Context) error
}

// normalizeLockKeys dedupes and sorts lock keys so that every caller takes
// them in the same order.
func normalizeLockKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
