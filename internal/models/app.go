package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Platform identifies which storefront an app was scraped from
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// App represents an app-store listing tracked by ReviewInsight
type App struct {
	ID string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`

	// Store identity - StoreID is the numeric iTunes ID or the Android package name
	Platform Platform `gorm:"not null;index" json:"platform"`
	StoreID  string   `gorm:"not null" json:"store_id"`
	StoreURL string   `gorm:"type:text" json:"store_url"`
	Country  string   `gorm:"size:2;default:us" json:"country"`

	// Listing metadata
	Name      string  `gorm:"not null" json:"name"`
	Developer string  `json:"developer"`
	Category  string  `gorm:"index" json:"category"`
	IconURL   string  `gorm:"type:text" json:"icon_url"`
	Rating    float64 `gorm:"default:0" json:"rating"`
	RatingCount int   `gorm:"default:0" json:"rating_count"`

	// Scrape bookkeeping
	ReviewCount   int        `gorm:"default:0" json:"review_count"`
	LastScrapedAt *time.Time `json:"last_scraped_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Review is a single user review fetched from a storefront
type Review struct {
	ID    string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	AppID string `gorm:"not null;index" json:"app_id"`
	App   App    `gorm:"foreignKey:AppID" json:"-"`

	// StoreReviewID is the storefront's own review identifier, unique per app.
	// Deduplication across paginated fetches keys on this.
	StoreReviewID string `gorm:"not null" json:"store_review_id"`

	Author     string    `json:"author"`
	Rating     int       `gorm:"not null;index" json:"rating"`
	Title      string    `gorm:"type:text" json:"title"`
	Body       string    `gorm:"type:text" json:"body"`
	AppVersion string    `json:"app_version"`
	Country    string    `gorm:"size:2" json:"country"`
	ReviewedAt time.Time `gorm:"index" json:"reviewed_at"`

	CreatedAt time.Time `json:"created_at"`
}

func (App) TableName() string {
	return "apps"
}

func (Review) TableName() string {
	return "reviews"
}

// BeforeCreate hooks for GORM

func (a *App) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = generateUUID()
	}
	return nil
}

func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	return nil
}

// Helper function for UUID generation
func generateUUID() string {
	return uuid.New().String()
}
