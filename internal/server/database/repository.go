package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL Store.
type Repository struct {
	db *DB
	q  querier
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, q: db.Pool}
}

const submissionColumns = `
	id, full_name, company_name, sector, position, email, phone_number,
	satisfaction_overall, material_usefulness, recommend_colleagues,
	comments, one_on_one_session, privacy_consent, marketing_consent, created_at`

// CreateIssuedToken inserts a new issuance token.
func (r *Repository) CreateIssuedToken(ctx context.Context, token *IssuedToken) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO rate_limit_tokens (token, ip_address, issued_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5)
	`,
		token.Token,
		token.IPAddress,
		token.IssuedAt,
		token.ExpiresAt,
		token.Used,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetIssuedToken retrieves an issuance token by value.
func (r *Repository) GetIssuedToken(ctx context.Context, token string) (*IssuedToken, error) {
	t := &IssuedToken{}
	err := r.q.QueryRow(ctx, `
		SELECT token, ip_address, issued_at, expires_at, used
		FROM rate_limit_tokens WHERE token = $1
	`, token).Scan(
		&t.Token,
		&t.IPAddress,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.Used,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

// MarkTokenUsed is a conditional update; only the first caller changes a row.
func (r *Repository) MarkTokenUsed(ctx context.Context, token string) (bool, error) {
	tag, err := r.q.Exec(ctx,
		"UPDATE rate_limit_tokens SET used = TRUE WHERE token = $1 AND used = FALSE", token)
	if err != nil {
		return false, fmt.Errorf("failed to mark token used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LatestSubmissionSince returns the newest submission log time for ip
// strictly after since, or nil if there is none.
func (r *Repository) LatestSubmissionSince(ctx context.Context, ip string, since time.Time) (*time.Time, error) {
	var at time.Time
	err := r.q.QueryRow(ctx, `
		SELECT submitted_at FROM submission_logs
		WHERE ip_address = $1 AND submitted_at > $2
		ORDER BY submitted_at DESC
		LIMIT 1
	`, ip, since).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query submission log: %w", err)
	}
	return &at, nil
}

// CreateSubmission inserts a feedback record and returns its generated ID.
func (r *Repository) CreateSubmission(ctx context.Context, sub *Submission) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO feedback_submissions (
			full_name, company_name, sector, position, email, phone_number,
			satisfaction_overall, material_usefulness, recommend_colleagues,
			comments, one_on_one_session, privacy_consent, marketing_consent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		sub.FullName,
		sub.CompanyName,
		sub.Sector,
		sub.Position,
		sub.Email,
		sub.PhoneNumber,
		sub.SatisfactionOverall,
		sub.MaterialUsefulness,
		sub.RecommendColleagues,
		sub.Comments,
		sub.OneOnOneSession,
		sub.PrivacyConsent,
		sub.MarketingConsent,
		sub.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create submission: %w", err)
	}
	sub.ID = id
	return id, nil
}

// AppendSubmissionLog records an accepted submission from ip at at.
func (r *Repository) AppendSubmissionLog(ctx context.Context, ip string, at time.Time) error {
	_, err := r.q.Exec(ctx,
		"INSERT INTO submission_logs (ip_address, submitted_at) VALUES ($1, $2)", ip, at)
	if err != nil {
		return fmt.Errorf("failed to append submission log: %w", err)
	}
	return nil
}

// CountDownloadsByIPSince counts downloads from ip at or after since.
func (r *Repository) CountDownloadsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM download_logs WHERE ip_address = $1 AND downloaded_at >= $2",
		ip, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count downloads by ip: %w", err)
	}
	return n, nil
}

// CountDownloadsBySignature counts every download made with one token.
func (r *Repository) CountDownloadsBySignature(ctx context.Context, signature string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM download_logs WHERE token_signature = $1", signature,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count downloads by signature: %w", err)
	}
	return n, nil
}

// AppendDownloadLog records a served download.
func (r *Repository) AppendDownloadLog(ctx context.Context, entry *DownloadLogEntry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO download_logs (ip_address, token_signature, downloaded_at)
		VALUES ($1, $2, $3)
	`, entry.IPAddress, entry.TokenSignature, entry.DownloadedAt)
	if err != nil {
		return fmt.Errorf("failed to append download log: %w", err)
	}
	return nil
}

// ListSubmissions returns submissions newest first.
func (r *Repository) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error) {
	search := strings.TrimSpace(filter.Search)
	rows, err := r.q.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM feedback_submissions
		WHERE $1 = ''
		   OR full_name ILIKE $2
		   OR company_name ILIKE $2
		   OR email ILIKE $2
		   OR comments ILIKE $2
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3, 0)
	`, search, likePattern(search), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetStats returns aggregate dashboard numbers. Recent means the last 24h.
func (r *Repository) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	err := r.q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM feedback_submissions),
			(SELECT COUNT(*) FROM feedback_submissions WHERE created_at >= $1),
			(SELECT COUNT(*) FROM download_logs),
			(SELECT COUNT(*) FROM rate_limit_tokens WHERE used = FALSE AND expires_at >= $2)
	`, now.Add(-24*time.Hour), now).Scan(
		&stats.TotalSubmissions,
		&stats.RecentSubmissions,
		&stats.TotalDownloads,
		&stats.ActiveTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// PruneExpired deletes expired tokens and log rows past retention.
func (r *Repository) PruneExpired(ctx context.Context, params PruneParams) (*PruneResult, error) {
	res := &PruneResult{}

	tag, err := r.q.Exec(ctx, "DELETE FROM rate_limit_tokens WHERE expires_at < $1", params.TokensExpiredBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to prune tokens: %w", err)
	}
	res.Tokens = tag.RowsAffected()

	tag, err = r.q.Exec(ctx, "DELETE FROM submission_logs WHERE submitted_at < $1", params.LogsBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to prune submission logs: %w", err)
	}
	res.SubmissionLogs = tag.RowsAffected()

	tag, err = r.q.Exec(ctx, "DELETE FROM download_logs WHERE downloaded_at < $1", params.LogsBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to prune download logs: %w", err)
	}
	res.DownloadLogs = tag.RowsAffected()

	return res, nil
}

// WithinTx runs fn in one transaction after taking a transaction-scoped
// advisory lock per key. Nested calls reuse the outer transaction.
func (r *Repository) WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context, tx Store) error) error {
	if _, nested := r.q.(pgx.Tx); nested {
		return fn(ctx, r)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range normalizeLockKeys(lockKeys) {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
	}

	if err := fn(ctx, &Repository{db: r.db, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*Submission, error) {
	sub := &Submission{}
	err := row.Scan(
		&sub.ID,
		&sub.FullName,
		&sub.CompanyName,
		&sub.Sector,
		&sub.Position,
		&sub.Email,
		&sub.PhoneNumber,
		&sub.SatisfactionOverall,
		&sub.MaterialUsefulness,
		&sub.RecommendColleagues,
		&sub.Comments,
		&sub.OneOnOneSession,
		&sub.PrivacyConsent,
		&sub.MarketingConsent,
		&sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// likePattern wraps s for a substring LIKE match, escaping wildcards.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
