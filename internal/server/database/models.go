package database

import "time"

// IssuedToken is a single-use credential handed to the form before submission.
type IssuedToken struct {
	Token     string    `gorm:"column:token;primaryKey;size:64"`
	IPAddress string    `gorm:"column:ip_address;size:64;not null"`
	IssuedAt  time.Time `gorm:"column:issued_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	Used      bool      `gorm:"column:used;not null;default:false"`
}

func (IssuedToken) TableName() string { return "rate_limit_tokens" }

// Submission is one stored feedback form. Optional columns are nil when
// the attendee left them out.
type Submission struct {
	ID                  int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FullName            string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
	CompanyName         string    `gorm:"column:company_name;size:255;not null" json:"company_name"`
	Sector              *string   `gorm:"column:sector;size:255" json:"sector"`
	Position            *string   `gorm:"column:position;size:255" json:"position"`
	Email               string    `gorm:"column:email;size:320;not null" json:"email"`
	PhoneNumber         *string   `gorm:"column:phone_number;size:64" json:"phone_number"`
	SatisfactionOverall string    `gorm:"column:satisfaction_overall;size:32" json:"satisfaction_overall"`
	MaterialUsefulness  string    `gorm:"column:material_usefulness;size:32" json:"material_usefulness"`
	RecommendColleagues string    `gorm:"column:recommend_colleagues;size:8" json:"recommend_colleagues"`
	Comments            string    `gorm:"column:comments;type:text" json:"comments"`
	OneOnOneSession     *bool     `gorm:"column:one_on_one_session" json:"one_on_one_session"`
	PrivacyConsent      *bool     `gorm:"column:privacy_consent" json:"privacy_consent"`
	MarketingConsent    *bool     `gorm:"column:marketing_consent" json:"marketing_consent"`
	CreatedAt           time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (Submission) TableName() string { return "feedback_submissions" }

type SubmissionLogEntry struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	IPAddress   string    `gorm:"column:ip_address;size:64;not null;index:idx_submission_logs_ip_time,priority:1"`
	SubmittedAt time.Time `gorm:"column:submitted_at;not null;index:idx_submission_logs_ip_time,priority:2"`
}

func (SubmissionLogEntry) TableName() string { return "submission_logs" }

type DownloadLogEntry struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	IPAddress      string    `gorm:"column:ip_address;size:64;not null;index:idx_download_logs_ip_time,priority:1"`
	TokenSignature string    `gorm:"column:token_signature;size:64;not null;index"`
	DownloadedAt   time.Time `gorm:"column:downloaded_at;not null;index:idx_download_logs_ip_time,priority:2"`
}

func (DownloadLogEntry) TableName() string { return "download_logs" }

// SubmissionFilter narrows ListSubmissions. Search is a case-insensitive
// substring match over name, company, email and comments.
type SubmissionFilter struct {
	Search string
	Limit  int
}

// Stats holds aggregate dashboard numbers.
type Stats struct {
	TotalSubmissions  int64 `json:"total_submissions"`
	RecentSubmissions int64 `json:"recent_submissions"`
	TotalDownloads    int64 `json:"total_downloads"`
	ActiveTokens      int64 `json:"active_tokens"`
}

// PruneParams sets the cutoffs for retention cleanup.
type PruneParams struct {
	TokensExpiredBefore time.Time
	LogsBefore          time.Time
}

type PruneResult struct {
	Tokens         int64
	SubmissionLogs int64
	DownloadLogs   int64
}
