package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/storage"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	m.Run()
}

// fakeUploader captures uploads instead of hitting S3
type fakeUploader struct {
	lastData   []byte
	lastFormat string
	lastTaskID string
}

func (f *fakeUploader) UploadExport(ctx context.Context, data []byte, userID, taskID, format string) (*storage.UploadResult, error) {
	f.lastData = data
	f.lastFormat = format
	f.lastTaskID = taskID
	return &storage.UploadResult{
		Key:  "exports/test/" + taskID + "." + format,
		URL:  "https://exports.example.com/" + taskID + "." + format,
		Size: int64(len(data)),
	}, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// Manual DDL because AutoMigrate emits PostgreSQL-specific defaults
	require.NoError(t, db.Exec(`CREATE TABLE export_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		format TEXT NOT NULL,
		object_key TEXT NOT NULL,
		url TEXT,
		size_bytes INTEGER,
		created_at DATETIME
	)`).Error)

	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })

	return db
}

func completedTask() *models.AnalysisTask {
	return &models.AnalysisTask{
		ID:     "task-1",
		UserID: "user-1",
		App: models.App{
			Name:     "TestApp",
			Platform: "ios",
			StoreURL: "https://apps.apple.com/us/app/testapp/id12345",
		},
		Status: models.TaskStatusCompleted,
		Result: &models.AnalysisReport{
			Summary: "Users like the app but crashes hurt",
			CriticalIssues: []models.IssueItem{
				{Title: "Crash on launch", Description: "App dies on cold start", Severity: "high", Mentions: 12, Examples: []string{"crashes every time", "won't open"}},
			},
			FeatureRequests: []models.IssueItem{
				{Title: "Dark mode", Severity: "low", Mentions: 4},
			},
			Sentiment:       models.SentimentBreakdown{Positive: 40, Neutral: 25, Negative: 35},
			ReviewsAnalyzed: 100,
		},
	}
}

func TestExportJSON(t *testing.T) {
	db := setupTestDB(t)
	uploader := &fakeUploader{}
	svc := NewService(uploader)

	user := &models.User{ID: "user-1"}
	record, err := svc.Export(context.Background(), user, completedTask(), models.ExportJSON)
	require.NoError(t, err)

	assert.Equal(t, models.ExportJSON, record.Format)
	assert.Equal(t, "task-1", record.TaskID)
	assert.NotEmpty(t, record.URL)
	assert.Equal(t, int64(len(uploader.lastData)), record.SizeBytes)

	var doc struct {
		AppName  string                 `json:"app_name"`
		Platform string                 `json:"platform"`
		Report   *models.AnalysisReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(uploader.lastData, &doc))
	assert.Equal(t, "TestApp", doc.AppName)
	assert.Equal(t, "ios", doc.Platform)
	require.NotNil(t, doc.Report)
	assert.Equal(t, 100, doc.Report.ReviewsAnalyzed)
	assert.Len(t, doc.Report.CriticalIssues, 1)

	var count int64
	require.NoError(t, db.Model(&models.ExportRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestExportCSV(t *testing.T) {
	setupTestDB(t)
	uploader := &fakeUploader{}
	svc := NewService(uploader)

	user := &models.User{ID: "user-1"}
	_, err := svc.Export(context.Background(), user, completedTask(), models.ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, "csv", uploader.lastFormat)

	rows, err := csv.NewReader(strings.NewReader(string(uploader.lastData))).ReadAll()
	require.NoError(t, err)

	// header + summary + 3 sentiment rows + 1 critical issue + 1 feature request
	require.Len(t, rows, 7)
	assert.Equal(t, []string{"section", "title", "description", "severity", "mentions", "examples"}, rows[0])

	var sections []string
	for _, row := range rows[1:] {
		sections = append(sections, row[0])
	}
	assert.Contains(t, sections, "critical_issue")
	assert.Contains(t, sections, "feature_request")

	for _, row := range rows[1:] {
		if row[0] == "critical_issue" {
			assert.Equal(t, "Crash on launch", row[1])
			assert.Equal(t, "12", row[4])
			assert.Equal(t, "crashes every time | won't open", row[5])
		}
	}
}

func TestExportRequiresCompletedTask(t *testing.T) {
	setupTestDB(t)
	svc := NewService(&fakeUploader{})

	task := completedTask()
	task.Status = models.TaskStatusProcessing
	task.Result = nil

	_, err := svc.Export(context.Background(), &models.User{ID: "user-1"}, task, models.ExportJSON)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	setupTestDB(t)
	svc := NewService(&fakeUploader{})

	_, err := svc.Export(context.Background(), &models.User{ID: "user-1"}, completedTask(), models.ExportFormat("pdf"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestListExports(t *testing.T) {
	setupTestDB(t)
	uploader := &fakeUploader{}
	svc := NewService(uploader)
	user := &models.User{ID: "user-1"}

	_, err := svc.Export(context.Background(), user, completedTask(), models.ExportJSON)
	require.NoError(t, err)
	_, err = svc.Export(context.Background(), user, completedTask(), models.ExportCSV)
	require.NoError(t, err)

	records, err := svc.ListExports("user-1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = svc.ListExports("someone-else", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
