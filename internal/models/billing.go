package models

import (
	"time"

	"gorm.io/gorm"
)

// Built-in plan IDs
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

// Plan is a subscription tier with a Stripe price and a monthly analysis quota
type Plan struct {
	ID            string `gorm:"primaryKey" json:"id"` // "free", "pro", "team"
	Name          string `gorm:"not null" json:"name"`
	StripePriceID string `gorm:"uniqueIndex" json:"-"`
	PriceCents    int    `gorm:"default:0" json:"price_cents"`
	Interval      string `gorm:"default:month" json:"interval"`

	// Quotas. MonthlyAnalyses < 0 means unlimited.
	MonthlyAnalyses int  `gorm:"default:3" json:"monthly_analyses"`
	MaxComparisons  int  `gorm:"default:0" json:"max_comparisons"`
	ExportEnabled   bool `gorm:"default:false" json:"export_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionStatus mirrors the Stripe subscription status values we care about
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription links a user to a Stripe subscription
type Subscription struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`
	PlanID string `gorm:"not null" json:"plan_id"`
	Plan   Plan   `gorm:"foreignKey:PlanID" json:"plan,omitempty"`

	StripeSubscriptionID string             `gorm:"uniqueIndex" json:"-"`
	Status               SubscriptionStatus `gorm:"type:varchar(20);default:active" json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `gorm:"default:false" json:"cancel_at_period_end"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ExportFormat enumerates supported report export formats
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ExportRecord tracks a report export uploaded to S3
type ExportRecord struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	TaskID string `gorm:"not null;index" json:"task_id"`

	Format    ExportFormat `gorm:"type:varchar(10);not null" json:"format"`
	ObjectKey string       `gorm:"not null" json:"-"`
	URL       string       `gorm:"type:text" json:"url"`
	SizeBytes int64        `json:"size_bytes"`

	CreatedAt time.Time `json:"created_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateUUID()
	}
	return nil
}

func (e *ExportRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = generateUUID()
	}
	return nil
}

// DefaultPlans returns the built-in tiers, upserted at migration time
func DefaultPlans() []Plan {
	return []Plan{
		{ID: PlanFree, Name: "Free", PriceCents: 0, MonthlyAnalyses: 3, MaxComparisons: 0, ExportEnabled: false},
		{ID: PlanPro, Name: "Pro", PriceCents: 2900, MonthlyAnalyses: 50, MaxComparisons: 20, ExportEnabled: true},
		{ID: PlanTeam, Name: "Team", PriceCents: 9900, MonthlyAnalyses: -1, MaxComparisons: -1, ExportEnabled: true},
	}
}
