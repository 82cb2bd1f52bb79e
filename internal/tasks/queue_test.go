package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/analyzer"
	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/scraper"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	// Create tables manually with SQLite-compatible syntax
	// (GORM AutoMigrate tries to use PostgreSQL-specific features like gen_random_uuid)
	statements := []string{
		`CREATE TABLE apps (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			store_id TEXT NOT NULL,
			store_url TEXT,
			country TEXT DEFAULT 'us',
			name TEXT NOT NULL DEFAULT '',
			developer TEXT,
			category TEXT,
			icon_url TEXT,
			rating REAL DEFAULT 0,
			rating_count INTEGER DEFAULT 0,
			review_count INTEGER DEFAULT 0,
			last_scraped_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE TABLE reviews (
			id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL,
			store_review_id TEXT NOT NULL,
			author TEXT,
			rating INTEGER NOT NULL,
			title TEXT,
			body TEXT,
			app_version TEXT,
			country TEXT,
			reviewed_at DATETIME,
			created_at DATETIME
		)`,
		`CREATE TABLE analysis_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			app_id TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			progress INTEGER DEFAULT 0,
			step TEXT,
			error_message TEXT,
			result TEXT,
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE TABLE comparison_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			app_a_id TEXT NOT NULL,
			app_b_id TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			progress INTEGER DEFAULT 0,
			step TEXT,
			error_message TEXT,
			result TEXT,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}

	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })

	return db
}

type stubCompleter struct {
	content string
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

const stubReport = `{"summary": "Stable app with a dark mode request.", "feature_requests": [{"title": "Dark mode", "severity": "low", "mentions": 2}], "sentiment": {"positive": 80, "neutral": 10, "negative": 10}}`

const stubComparison = `{"summary": "A is steadier.", "app_a_wins": ["stability"], "app_b_wins": [], "shared_pain": []}`

// fakeAppleStorefront serves the iTunes lookup endpoint and a one-page RSS
// review feed.
func fakeAppleStorefront(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/lookup":
			fmt.Fprint(w, `{"resultCount":1,"results":[{"trackName":"TestApp","artistName":"TestDev","primaryGenreName":"Productivity","artworkUrl100":"https://example.com/icon.png","averageUserRating":4.5,"userRatingCount":1234,"trackViewUrl":"https://apps.apple.com/us/app/id123"}]}`)
		case strings.Contains(r.URL.Path, "page=1"):
			fmt.Fprint(w, `{"feed":{"entry":[
				{"id":{"label":"r1"},"author":{"name":{"label":"alice"}},"im:rating":{"label":"1"},"title":{"label":"Broken"},"content":{"label":"Crashes on launch"},"im:version":{"label":"2.0"},"updated":{"label":"2026-01-02T10:00:00-07:00"}},
				{"id":{"label":"r2"},"author":{"name":{"label":"bob"}},"im:rating":{"label":"5"},"title":{"label":"Great"},"content":{"label":"Love it"},"im:version":{"label":"2.0"},"updated":{"label":"2026-01-03T10:00:00-07:00"}}
			]}}`)
		default:
			fmt.Fprint(w, `{"feed":{"entry":[]}}`)
		}
	}))
}

func newTestQueue(t *testing.T, srv *httptest.Server, llmContent string) *TaskQueue {
	scrape := scraper.NewService(nil,
		scraper.WithBaseURLs(srv.URL, srv.URL, srv.URL),
		scraper.WithHTTPClient(srv.Client()))

	analyze, err := analyzer.NewService(
		analyzer.WithClient(&stubCompleter{content: llmContent}),
		analyzer.WithModel("stub"))
	require.NoError(t, err)

	return NewTaskQueue(scrape, analyze)
}

func TestAnalysisPipeline(t *testing.T) {
	db := setupTestDB(t)
	srv := fakeAppleStorefront(t)
	defer srv.Close()

	app := models.App{Platform: models.PlatformIOS, StoreID: "123", Country: "us", Name: "placeholder"}
	require.NoError(t, db.Create(&app).Error)

	task := models.AnalysisTask{UserID: "user-1", AppID: app.ID, Status: models.TaskStatusPending}
	require.NoError(t, db.Create(&task).Error)

	queue := newTestQueue(t, srv, stubReport)
	queue.Start()
	defer queue.Stop()

	indexed := make(chan string, 1)
	queue.SetScrapeCompleteCallback(func(appID string) { indexed <- appID })

	require.NoError(t, queue.SubmitAnalysis(task.ID))
	require.NoError(t, queue.WaitForTask(task.ID, 10*time.Second))

	select {
	case appID := <-indexed:
		assert.Equal(t, app.ID, appID)
	case <-time.After(5 * time.Second):
		t.Fatal("scrape complete callback never fired")
	}

	var got models.AnalysisTask
	require.NoError(t, db.First(&got, "id = ?", task.ID).Error)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Stable app with a dark mode request.", got.Result.Summary)
	assert.Equal(t, 2, got.Result.ReviewsAnalyzed)
	assert.Equal(t, "stub", got.Result.Model)

	// Metadata refreshed from the storefront
	var gotApp models.App
	require.NoError(t, db.First(&gotApp, "id = ?", app.ID).Error)
	assert.Equal(t, "TestApp", gotApp.Name)
	assert.Equal(t, "TestDev", gotApp.Developer)
	assert.Equal(t, 2, gotApp.ReviewCount)
	assert.NotNil(t, gotApp.LastScrapedAt)

	// Reviews persisted with storefront IDs
	var count int64
	db.Model(&models.Review{}).Where("app_id = ?", app.ID).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestAnalysisDedupesAcrossRuns(t *testing.T) {
	db := setupTestDB(t)
	srv := fakeAppleStorefront(t)
	defer srv.Close()

	app := models.App{Platform: models.PlatformIOS, StoreID: "123", Country: "us", Name: "placeholder"}
	require.NoError(t, db.Create(&app).Error)

	queue := newTestQueue(t, srv, stubReport)
	queue.Start()
	defer queue.Stop()

	for i := 0; i < 2; i++ {
		if i > 0 {
			// Age the scrape timestamp past the cooldown so the second
			// run goes back to the storefront
			stale := time.Now().Add(-time.Hour)
			require.NoError(t, db.Model(&models.App{}).Where("id = ?", app.ID).Update("last_scraped_at", &stale).Error)
		}
		task := models.AnalysisTask{UserID: "user-1", AppID: app.ID, Status: models.TaskStatusPending}
		require.NoError(t, db.Create(&task).Error)
		require.NoError(t, queue.SubmitAnalysis(task.ID))
		require.NoError(t, queue.WaitForTask(task.ID, 10*time.Second))
	}

	// Second scrape sees the same two storefront reviews and stores nothing new
	var count int64
	db.Model(&models.Review{}).Where("app_id = ?", app.ID).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestAnalysisFailsWithoutReviews(t *testing.T) {
	db := setupTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/lookup" {
			fmt.Fprint(w, `{"resultCount":1,"results":[{"trackName":"EmptyApp"}]}`)
			return
		}
		fmt.Fprint(w, `{"feed":{"entry":[]}}`)
	}))
	defer srv.Close()

	app := models.App{Platform: models.PlatformIOS, StoreID: "999", Country: "us", Name: "placeholder"}
	require.NoError(t, db.Create(&app).Error)
	task := models.AnalysisTask{UserID: "user-1", AppID: app.ID, Status: models.TaskStatusPending}
	require.NoError(t, db.Create(&task).Error)

	queue := newTestQueue(t, srv, stubReport)
	queue.Start()
	defer queue.Stop()

	require.NoError(t, queue.SubmitAnalysis(task.ID))
	require.NoError(t, queue.WaitForTask(task.ID, 10*time.Second))

	var got models.AnalysisTask
	require.NoError(t, db.First(&got, "id = ?", task.ID).Error)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no reviews")
}

func TestComparisonPipeline(t *testing.T) {
	db := setupTestDB(t)

	appA := models.App{Platform: models.PlatformIOS, StoreID: "1", Name: "Alpha"}
	appB := models.App{Platform: models.PlatformAndroid, StoreID: "com.beta", Name: "Beta"}
	require.NoError(t, db.Create(&appA).Error)
	require.NoError(t, db.Create(&appB).Error)

	for i, appID := range []string{appA.ID, appA.ID, appB.ID, appB.ID} {
		review := models.Review{
			AppID:         appID,
			StoreReviewID: fmt.Sprintf("r%d", i),
			Rating:        3,
			Body:          "fine",
			ReviewedAt:    time.Now(),
		}
		require.NoError(t, db.Create(&review).Error)
	}

	task := models.ComparisonTask{UserID: "user-1", AppAID: appA.ID, AppBID: appB.ID, Status: models.TaskStatusPending}
	require.NoError(t, db.Create(&task).Error)

	queue := newTestQueue(t, httptest.NewServer(http.NotFoundHandler()), stubComparison)
	queue.Start()
	defer queue.Stop()

	require.NoError(t, queue.SubmitComparison(task.ID))
	require.NoError(t, queue.WaitForTask(task.ID, 10*time.Second))

	var got models.ComparisonTask
	require.NoError(t, db.First(&got, "id = ?", task.ID).Error)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"stability"}, got.Result.AppAWins)
}

func TestCooldownSkipsStorefront(t *testing.T) {
	db := setupTestDB(t)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"feed":{"entry":[]}}`)
	}))
	defer srv.Close()

	// Scraped a minute ago, well inside the 15 minute cooldown. No Redis
	// in this queue, so only the DB timestamp can suppress the scrape.
	recent := time.Now().Add(-time.Minute)
	app := models.App{Platform: models.PlatformIOS, StoreID: "123", Country: "us", Name: "CachedApp", LastScrapedAt: &recent}
	require.NoError(t, db.Create(&app).Error)

	for i := 0; i < 3; i++ {
		review := models.Review{
			AppID:         app.ID,
			StoreReviewID: fmt.Sprintf("r%d", i),
			Rating:        4,
			Body:          "works fine",
			ReviewedAt:    time.Now(),
		}
		require.NoError(t, db.Create(&review).Error)
	}

	task := models.AnalysisTask{UserID: "user-1", AppID: app.ID, Status: models.TaskStatusPending}
	require.NoError(t, db.Create(&task).Error)

	queue := newTestQueue(t, srv, stubReport)
	queue.Start()
	defer queue.Stop()

	require.NoError(t, queue.SubmitAnalysis(task.ID))
	require.NoError(t, queue.WaitForTask(task.ID, 10*time.Second))

	var got models.AnalysisTask
	require.NoError(t, db.First(&got, "id = ?", task.ID).Error)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.ReviewsAnalyzed)

	assert.EqualValues(t, 0, atomic.LoadInt32(&hits), "storefront should not be hit inside the cooldown window")
}

type panickingCompleter struct{}

func (panickingCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	panic("chat client blew up")
}

func TestWorkerSurvivesPanic(t *testing.T) {
	db := setupTestDB(t)

	recent := time.Now().Add(-time.Minute)
	app := models.App{Platform: models.PlatformIOS, StoreID: "123", Country: "us", Name: "PanicApp", LastScrapedAt: &recent}
	require.NoError(t, db.Create(&app).Error)
	review := models.Review{AppID: app.ID, StoreReviewID: "r1", Rating: 3, Body: "ok", ReviewedAt: time.Now()}
	require.NoError(t, db.Create(&review).Error)

	analyze, err := analyzer.NewService(
		analyzer.WithClient(panickingCompleter{}),
		analyzer.WithModel("stub"))
	require.NoError(t, err)

	queue := NewTaskQueue(scraper.NewService(nil), analyze)
	queue.Start()
	defer queue.Stop()

	for i := 0; i < 2; i++ {
		task := models.AnalysisTask{UserID: "user-1", AppID: app.ID, Status: models.TaskStatusPending}
		require.NoError(t, db.Create(&task).Error)
		require.NoError(t, queue.SubmitAnalysis(task.ID))
		require.NoError(t, queue.WaitForTask(task.ID, 10*time.Second))

		var got models.AnalysisTask
		require.NoError(t, db.First(&got, "id = ?", task.ID).Error)
		assert.Equal(t, models.TaskStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Contains(t, *got.ErrorMessage, "internal error")
	}
}

func TestQueueOverflow(t *testing.T) {
	queue := newTestQueue(t, httptest.NewServer(http.NotFoundHandler()), stubReport)
	queue.jobs = make(chan job, 2)

	// Workers never started, so the buffer is all the capacity there is
	assert.NoError(t, queue.SubmitAnalysis("t1"))
	assert.NoError(t, queue.SubmitAnalysis("t2"))
	assert.ErrorIs(t, queue.SubmitAnalysis("t3"), ErrQueueFull)
}
