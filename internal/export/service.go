package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/storage"
)

var (
	ErrNoResult          = errors.New("task has no completed report")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Service renders completed analysis reports to downloadable files and
// uploads them to S3
type Service struct {
	uploader storage.ExportUploader
}

// NewService creates an export service backed by the given uploader
func NewService(uploader storage.ExportUploader) *Service {
	return &Service{uploader: uploader}
}

// exportedReport is the JSON export envelope
type exportedReport struct {
	AppName    string                 `json:"app_name"`
	Platform   models.Platform        `json:"platform"`
	StoreURL   string                 `json:"store_url"`
	ExportedAt time.Time              `json:"exported_at"`
	Report     *models.AnalysisReport `json:"report"`
}

// Export renders the report in the requested format, uploads it and records
// the export
func (s *Service) Export(ctx context.Context, user *models.User, task *models.AnalysisTask, format models.ExportFormat) (*models.ExportRecord, error) {
	if task.Status != models.TaskStatusCompleted || task.Result == nil {
		return nil, ErrNoResult
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case models.ExportJSON:
		data, err = s.renderJSON(task)
	case models.ExportCSV:
		data, err = s.renderCSV(task)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	result, err := s.uploader.UploadExport(ctx, data, user.ID, task.ID, string(format))
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	record := models.ExportRecord{
		UserID:    user.ID,
		TaskID:    task.ID,
		Format:    format,
		ObjectKey: result.Key,
		URL:       result.URL,
		SizeBytes: result.Size,
	}
	if err := database.DB.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to record export: %w", err)
	}

	logger.Log.Info("Exported report",
		zap.String("user_id", user.ID),
		zap.String("task_id", task.ID),
		zap.String("format", string(format)),
		zap.Int64("size_bytes", result.Size))

	return &record, nil
}

// ListExports returns a user's export history, newest first
func (s *Service) ListExports(userID string, limit int) ([]models.ExportRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var records []models.ExportRecord
	err := database.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	return records, nil
}

func (s *Service) renderJSON(task *models.AnalysisTask) ([]byte, error) {
	doc := exportedReport{
		AppName:    task.App.Name,
		Platform:   task.App.Platform,
		StoreURL:   task.App.StoreURL,
		ExportedAt: time.Now().UTC(),
		Report:     task.Result,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render JSON export: %w", err)
	}
	return data, nil
}

func (s *Service) renderCSV(task *models.AnalysisTask) ([]byte, error) {
	report := task.Result

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "title", "description", "severity", "mentions", "examples"},
		{"summary", task.App.Name, report.Summary, "", strconv.Itoa(report.ReviewsAnalyzed), ""},
		{"sentiment", "positive", strconv.FormatFloat(report.Sentiment.Positive, 'f', 1, 64), "", "", ""},
		{"sentiment", "neutral", strconv.FormatFloat(report.Sentiment.Neutral, 'f', 1, 64), "", "", ""},
		{"sentiment", "negative", strconv.FormatFloat(report.Sentiment.Negative, 'f', 1, 64), "", "", ""},
	}
	rows = append(rows, issueRows("critical_issue", report.CriticalIssues)...)
	rows = append(rows, issueRows("experience_issue", report.ExperienceIssues)...)
	rows = append(rows, issueRows("feature_request", report.FeatureRequests)...)

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to render CSV export: %w", err)
	}
	return buf.Bytes(), nil
}

func issueRows(section string, issues []models.IssueItem) [][]string {
	rows := make([][]string, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, []string{
			section,
			issue.Title,
			issue.Description,
			issue.Severity,
			strconv.Itoa(issue.Mentions),
			strings.Join(issue.Examples, " | "),
		})
	}
	return rows
}
