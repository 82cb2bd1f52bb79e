package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the lifecycle state of a background task.
// Clients poll on it until the task reaches completed or failed.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the task will not change state again
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IssueItem is a single finding extracted by the analyzer
type IssueItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"` // high, medium, low
	Mentions    int      `json:"mentions"`
	Examples    []string `json:"examples,omitempty"`
}

// SentimentBreakdown summarizes review sentiment as percentages
type SentimentBreakdown struct {
	Positive float64 `json:"positive"`
	Neutral  float64 `json:"neutral"`
	Negative float64 `json:"negative"`
}

// AnalysisReport is the structured result returned by the LLM
type AnalysisReport struct {
	Summary          string             `json:"summary"`
	CriticalIssues   []IssueItem        `json:"critical_issues"`
	ExperienceIssues []IssueItem        `json:"experience_issues"`
	FeatureRequests  []IssueItem        `json:"feature_requests"`
	Sentiment        SentimentBreakdown `json:"sentiment"`
	ReviewsAnalyzed  int                `json:"reviews_analyzed"`
	Model            string             `json:"model,omitempty"`
}

// AnalysisTask tracks a scrape-and-analyze job. The row doubles as the
// progress flag the browser polls.
type AnalysisTask struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`
	AppID  string `gorm:"not null;index" json:"app_id"`
	App    App    `gorm:"foreignKey:AppID" json:"app,omitempty"`

	Status       TaskStatus `gorm:"type:varchar(20);default:pending;index" json:"status"`
	Progress     int        `gorm:"default:0" json:"progress"` // 0-100
	Step         string     `json:"step"`                      // human-readable current step
	ErrorMessage *string    `gorm:"type:text" json:"error_message,omitempty"`

	Result *AnalysisReport `gorm:"type:jsonb;serializer:json" json:"result,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ComparisonResult is the LLM output for a two-app comparison
type ComparisonResult struct {
	Summary    string   `json:"summary"`
	AppAWins   []string `json:"app_a_wins"`
	AppBWins   []string `json:"app_b_wins"`
	SharedPain []string `json:"shared_pain"`
}

// ComparisonTask tracks a background comparison of two apps
type ComparisonTask struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`
	AppAID string `gorm:"not null;index" json:"app_a_id"`
	AppBID string `gorm:"not null;index" json:"app_b_id"`

	Status       TaskStatus        `gorm:"type:varchar(20);default:pending;index" json:"status"`
	Progress     int               `gorm:"default:0" json:"progress"`
	Step         string            `json:"step"`
	ErrorMessage *string           `gorm:"type:text" json:"error_message,omitempty"`
	Result       *ComparisonResult `gorm:"type:jsonb;serializer:json" json:"result,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (AnalysisTask) TableName() string {
	return "analysis_tasks"
}

func (ComparisonTask) TableName() string {
	return "comparison_tasks"
}

func (t *AnalysisTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = generateUUID()
	}
	return nil
}

func (t *ComparisonTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = generateUUID()
	}
	return nil
}
