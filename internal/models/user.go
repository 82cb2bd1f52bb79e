package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a ReviewInsight account with unified auth
type User struct {
	ID          string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Company     string `json:"company"`

	// Native auth fields
	PasswordHash     *string `gorm:"type:text" json:"-"`
	EmailVerified    bool    `gorm:"default:false" json:"email_verified"`
	EmailVerifyToken *string `gorm:"type:text" json:"-"`

	// OAuth provider IDs (nullable - users can have native accounts)
	GoogleID *string `gorm:"uniqueIndex" json:"-"`
	GitHubID *string `gorm:"column:github_id;uniqueIndex" json:"-"`

	// TOTP two-factor
	TwoFactorSecret  *string `gorm:"type:text" json:"-"`
	TwoFactorEnabled bool    `gorm:"default:false" json:"two_factor_enabled"`
	BackupCodes      *string `gorm:"type:text" json:"-"` // JSON array of hashed one-time codes

	AvatarURL string `json:"avatar_url"`
	IsAdmin   bool   `gorm:"default:false" json:"is_admin"`

	// Billing
	StripeCustomerID *string `gorm:"uniqueIndex" json:"-"`
	PlanID           string  `gorm:"default:free" json:"plan_id"`

	// Monthly usage, reset when the period rolls over
	AnalysesUsed     int       `gorm:"default:0" json:"analyses_used"`
	ComparisonsUsed  int       `gorm:"default:0" json:"comparisons_used"`
	UsagePeriodStart time.Time `json:"usage_period_start"`

	LastActiveAt *time.Time `json:"last_active_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// OAuthProvider represents linked OAuth accounts
type OAuthProvider struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`

	Provider       string `gorm:"not null" json:"provider"` // "google", "github"
	ProviderUserID string `gorm:"not null" json:"provider_user_id"`
	Email          string `gorm:"not null" json:"email"`
	Name           string `json:"name"`
	AvatarURL      string `json:"avatar_url"`

	AccessToken  *string    `gorm:"type:text" json:"-"`
	RefreshToken *string    `gorm:"type:text" json:"-"`
	TokenExpiry  *time.Time `json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (OAuthProvider) TableName() string {
	return "oauth_providers"
}

// PasswordReset represents password reset tokens
type PasswordReset struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`

	Token     string    `gorm:"uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Used      bool      `gorm:"default:false" json:"used"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = generateUUID()
	}
	if u.UsagePeriodStart.IsZero() {
		u.UsagePeriodStart = time.Now().UTC()
	}
	return nil
}

func (p *OAuthProvider) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	return nil
}

func (p *PasswordReset) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	return nil
}
