package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:publisher_credentials,alias:pc"`

	ID           string         `bun:"id,pk"`
	PlatformID   string         `bun:"platform_id,notnull"`
	AccountID    string         `bun:"account_id,notnull"`
	TokenType    string         `bun:"token_type,notnull"`
	AccessToken  string         `bun:"access_token,notnull"`
	RefreshToken string         `bun:"refresh_token"`
	Scopes       []string       `bun:"scopes,type:jsonb,notnull"`
	ExpiresAt    *time.Time     `bun:"expires_at,nullzero"`
	Extra        map[string]any `bun:"extra,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type taskJournalRecord struct {
	bun.BaseModel `bun:"table:publisher_task_journal,alias:ptj"`

	ID            string         `bun:"id,pk"`
	PlatformID    string         `bun:"platform_id,notnull"`
	AccountID     string         `bun:"account_id,notnull"`
	ContentKind   string         `bun:"content_kind,notnull"`
	Title         string         `bun:"title"`
	Caption       string         `bun:"caption"`
	VideoURL      string         `bun:"video_url"`
	ImageURLs     []string       `bun:"image_urls,type:jsonb,notnull"`
	Visibility    string         `bun:"visibility"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	RemoteID      string         `bun:"remote_id"`
	Permalink     string         `bun:"permalink"`
	FailureReason string         `bun:"failure_reason"`
	FailureDetail string         `bun:"failure_detail"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
