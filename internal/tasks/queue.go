package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/analyzer"
	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/metrics"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/scraper"
)

// ErrQueueFull is returned when the worker queue cannot accept another task
var ErrQueueFull = errors.New("task queue is full")

const (
	jobTypeAnalysis   = "analysis"
	jobTypeComparison = "comparison"

	// analysisBatchLimit caps how many stored reviews are loaded for the LLM
	analysisBatchLimit = 500

	taskTimeout = 5 * time.Minute
)

type job struct {
	Type   string
	TaskID string
}

// TaskQueue runs scrape-and-analyze jobs on a bounded worker pool. The
// browser never waits on a worker: handlers create a task row, submit its ID
// here and return, and clients poll the row until it reaches a terminal
// status.
type TaskQueue struct {
	jobs    chan job
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	scraper  *scraper.Service
	analyzer *analyzer.Service

	// Callbacks for search indexing and report-ready notification
	callbackMux        sync.RWMutex
	onScrapeComplete   func(appID string)
	onAnalysisComplete func(taskID string)

	// For testing: signals task completion
	taskCompleted chan string
}

// NewTaskQueue creates a task queue backed by the given scraper and analyzer
func NewTaskQueue(scrape *scraper.Service, analyze *analyzer.Service) *TaskQueue {
	ctx, cancel := context.WithCancel(context.Background())

	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4 // scrape jobs are network-bound, more workers just trip storefront limits
	}

	return &TaskQueue{
		jobs:          make(chan job, 100),
		workers:       workers,
		ctx:           ctx,
		cancel:        cancel,
		scraper:       scrape,
		analyzer:      analyze,
		taskCompleted: make(chan string, 100),
	}
}

// SetScrapeCompleteCallback sets a callback invoked after a scrape adds or
// refreshes an app's reviews
func (q *TaskQueue) SetScrapeCompleteCallback(callback func(appID string)) {
	q.callbackMux.Lock()
	defer q.callbackMux.Unlock()
	q.onScrapeComplete = callback
}

// SetAnalysisCompleteCallback sets a callback invoked after an analysis task
// reaches completed, used for report-ready notifications
func (q *TaskQueue) SetAnalysisCompleteCallback(callback func(taskID string)) {
	q.callbackMux.Lock()
	defer q.callbackMux.Unlock()
	q.onAnalysisComplete = callback
}

// Start launches the worker pool
func (q *TaskQueue) Start() {
	logger.Log.Info("Starting task queue", zap.Int("workers", q.workers))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop cancels running work and waits for workers to exit
func (q *TaskQueue) Stop() {
	q.cancel()
	close(q.jobs)
	q.wg.Wait()
}

// SubmitAnalysis enqueues an existing AnalysisTask row for processing
func (q *TaskQueue) SubmitAnalysis(taskID string) error {
	return q.submit(job{Type: jobTypeAnalysis, TaskID: taskID})
}

// SubmitComparison enqueues an existing ComparisonTask row for processing
func (q *TaskQueue) SubmitComparison(taskID string) error {
	return q.submit(job{Type: jobTypeComparison, TaskID: taskID})
}

func (q *TaskQueue) submit(j job) error {
	select {
	case q.jobs <- j:
		metrics.Get().TasksQueued.WithLabelValues(j.Type).Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *TaskQueue) worker(workerID int) {
	defer q.wg.Done()
	logger.Log.Info("Task worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case j, ok := <-q.jobs:
			if !ok {
				logger.Log.Info("Task worker shutting down", zap.Int("worker_id", workerID))
				return
			}
			metrics.Get().TasksQueued.WithLabelValues(j.Type).Dec()

			q.runJob(workerID, j)
			q.signalCompletion(j.TaskID)

		case <-q.ctx.Done():
			logger.Log.Info("Task worker shutting down", zap.Int("worker_id", workerID))
			return
		}
	}
}

// runJob dispatches one job with a panic boundary so a bad task cannot take
// a worker down with it.
func (q *TaskQueue) runJob(workerID int, j job) {
	ctx, cancel := context.WithTimeout(q.ctx, taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Task panicked",
				zap.Int("worker_id", workerID),
				zap.String("task_id", j.TaskID),
				zap.Any("panic", r))
			q.failPanicked(j, r)
		}
	}()

	switch j.Type {
	case jobTypeAnalysis:
		q.processAnalysis(ctx, workerID, j.TaskID)
	case jobTypeComparison:
		q.processComparison(ctx, workerID, j.TaskID)
	}
}

// failPanicked marks the task row failed after a recovered panic
func (q *TaskQueue) failPanicked(j job, r interface{}) {
	metrics.Get().TaskFailures.WithLabelValues(j.Type, "panic").Inc()

	msg := fmt.Sprintf("internal error: %v", r)
	done := time.Now()
	updates := map[string]interface{}{
		"status":        models.TaskStatusFailed,
		"error_message": &msg,
		"completed_at":  &done,
	}
	switch j.Type {
	case jobTypeAnalysis:
		database.DB.Model(&models.AnalysisTask{}).Where("id = ?", j.TaskID).Updates(updates)
	case jobTypeComparison:
		database.DB.Model(&models.ComparisonTask{}).Where("id = ?", j.TaskID).Updates(updates)
	}
}

// processAnalysis runs the full pipeline for one analysis task: refresh the
// app's reviews from its storefront, then hand a sample to the LLM.
func (q *TaskQueue) processAnalysis(ctx context.Context, workerID int, taskID string) {
	var task models.AnalysisTask
	if err := database.DB.Preload("App").First(&task, "id = ?", taskID).Error; err != nil {
		logger.Log.Error("Task row missing, dropping job",
			zap.Int("worker_id", workerID),
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if task.Status.Terminal() {
		return
	}

	logger.Log.Info("Worker picked up analysis task",
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID),
		zap.String("app_id", task.AppID))

	now := time.Now()
	database.DB.Model(&task).Updates(map[string]interface{}{
		"status":     models.TaskStatusProcessing,
		"started_at": &now,
	})

	app := task.App
	ref := &scraper.AppRef{Platform: app.Platform, StoreID: app.StoreID, Country: app.Country}

	// Cooldown check. A recently scraped app skips the storefront round
	// trip and analyzes from stored reviews. The DB timestamp is the
	// backstop when Redis is down or empty.
	throttled := false
	if app.LastScrapedAt != nil && time.Since(*app.LastScrapedAt) < q.scraper.Cooldown() {
		throttled = true
	} else if err := q.scraper.CheckThrottle(ctx, app.ID, app.Platform); err != nil {
		if !errors.Is(err, scraper.ErrThrottled) {
			q.failAnalysis(&task, "cooldown", err)
			return
		}
		throttled = true
	}
	if throttled {
		logger.Log.Info("Scrape suppressed by cooldown, reusing stored reviews",
			zap.String("app_id", app.ID))
	}

	if !throttled {
		q.setProgress(&task, 10, "Fetching app details")
		if err := q.refreshMetadata(ctx, &app, ref); err != nil {
			q.failAnalysis(&task, "metadata", err)
			return
		}

		q.setProgress(&task, 30, "Collecting reviews")
		if err := q.scrapeReviews(ctx, &app, ref); err != nil {
			q.failAnalysis(&task, "scrape", err)
			return
		}

		q.callbackMux.RLock()
		callback := q.onScrapeComplete
		q.callbackMux.RUnlock()
		if callback != nil {
			go callback(app.ID)
		}
	}

	q.setProgress(&task, 70, "Analyzing reviews")
	reviews, err := loadRecentReviews(app.ID, analysisBatchLimit)
	if err != nil {
		q.failAnalysis(&task, "analyze", err)
		return
	}
	if len(reviews) == 0 {
		q.failAnalysis(&task, "analyze", fmt.Errorf("no reviews found for this app"))
		return
	}

	report, err := q.analyzer.Analyze(ctx, app.Name, reviews)
	if err != nil {
		metrics.Get().AnalysesTotal.WithLabelValues("error").Inc()
		q.failAnalysis(&task, "analyze", err)
		return
	}
	metrics.Get().AnalysesTotal.WithLabelValues("ok").Inc()

	// Typed update so the json serializer on Result applies
	done := time.Now()
	err = database.DB.Model(&task).
		Select("status", "progress", "step", "result", "completed_at").
		Updates(models.AnalysisTask{
			Status:      models.TaskStatusCompleted,
			Progress:    100,
			Step:        "Done",
			Result:      report,
			CompletedAt: &done,
		}).Error
	if err != nil {
		q.failAnalysis(&task, "persist", err)
		return
	}

	q.callbackMux.RLock()
	completeCallback := q.onAnalysisComplete
	q.callbackMux.RUnlock()
	if completeCallback != nil {
		go completeCallback(task.ID)
	}

	logger.Log.Info("Analysis task completed",
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID),
		zap.Int("reviews_analyzed", report.ReviewsAnalyzed),
		zap.Duration("elapsed", done.Sub(now)))
}

// processComparison analyzes the reviews of two already-scraped apps side by side
func (q *TaskQueue) processComparison(ctx context.Context, workerID int, taskID string) {
	var task models.ComparisonTask
	if err := database.DB.First(&task, "id = ?", taskID).Error; err != nil {
		logger.Log.Error("Comparison task row missing, dropping job",
			zap.Int("worker_id", workerID),
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if task.Status.Terminal() {
		return
	}

	database.DB.Model(&task).Updates(map[string]interface{}{
		"status": models.TaskStatusProcessing,
		"step":   "Loading reviews",
	})

	var appA, appB models.App
	if err := database.DB.First(&appA, "id = ?", task.AppAID).Error; err != nil {
		q.failComparison(&task, err)
		return
	}
	if err := database.DB.First(&appB, "id = ?", task.AppBID).Error; err != nil {
		q.failComparison(&task, err)
		return
	}

	reviewsA, err := loadRecentReviews(appA.ID, analysisBatchLimit)
	if err != nil {
		q.failComparison(&task, err)
		return
	}
	reviewsB, err := loadRecentReviews(appB.ID, analysisBatchLimit)
	if err != nil {
		q.failComparison(&task, err)
		return
	}

	database.DB.Model(&task).Updates(map[string]interface{}{
		"progress": 50,
		"step":     "Comparing reviews",
	})

	result, err := q.analyzer.Compare(ctx, appA.Name, reviewsA, appB.Name, reviewsB)
	if err != nil {
		metrics.Get().AnalysesTotal.WithLabelValues("error").Inc()
		q.failComparison(&task, err)
		return
	}
	metrics.Get().AnalysesTotal.WithLabelValues("ok").Inc()

	done := time.Now()
	database.DB.Model(&task).
		Select("status", "progress", "step", "result", "completed_at").
		Updates(models.ComparisonTask{
			Status:      models.TaskStatusCompleted,
			Progress:    100,
			Step:        "Done",
			Result:      result,
			CompletedAt: &done,
		})

	logger.Log.Info("Comparison task completed",
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID))
}

// refreshMetadata pulls storefront metadata and updates the app row. A
// fetch failure here fails the task: without a listing there is nothing
// worth scraping.
func (q *TaskQueue) refreshMetadata(ctx context.Context, app *models.App, ref *scraper.AppRef) error {
	meta, err := q.scraper.FetchMetadata(ctx, ref)
	if err != nil {
		return fmt.Errorf("fetching app details: %w", err)
	}

	app.Name = meta.Name
	app.Developer = meta.Developer
	app.Category = meta.Category
	app.IconURL = meta.IconURL
	app.Rating = meta.Rating
	app.RatingCount = meta.RatingCount
	if meta.StoreURL != "" {
		app.StoreURL = meta.StoreURL
	}

	return database.DB.Model(app).Updates(map[string]interface{}{
		"name":         app.Name,
		"developer":    app.Developer,
		"category":     app.Category,
		"icon_url":     app.IconURL,
		"rating":       app.Rating,
		"rating_count": app.RatingCount,
		"store_url":    app.StoreURL,
	}).Error
}

// scrapeReviews fetches new reviews and persists them, skipping any store
// review ID already in the database for this app.
func (q *TaskQueue) scrapeReviews(ctx context.Context, app *models.App, ref *scraper.AppRef) error {
	seen, err := loadSeenReviewIDs(app.ID)
	if err != nil {
		return err
	}

	scraped, err := q.scraper.FetchReviews(ctx, ref, seen)
	if err != nil {
		return fmt.Errorf("collecting reviews: %w", err)
	}

	if len(scraped) > 0 {
		rows := make([]models.Review, len(scraped))
		for i, r := range scraped {
			rows[i] = models.Review{
				AppID:         app.ID,
				StoreReviewID: r.StoreReviewID,
				Author:        r.Author,
				Rating:        r.Rating,
				Title:         r.Title,
				Body:          r.Body,
				AppVersion:    r.AppVersion,
				Country:       r.Country,
				ReviewedAt:    r.ReviewedAt,
			}
		}
		if err := database.DB.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("persisting reviews: %w", err)
		}
	}

	now := time.Now()
	var total int64
	database.DB.Model(&models.Review{}).Where("app_id = ?", app.ID).Count(&total)
	return database.DB.Model(app).Updates(map[string]interface{}{
		"review_count":    total,
		"last_scraped_at": &now,
	}).Error
}

func (q *TaskQueue) setProgress(task *models.AnalysisTask, progress int, step string) {
	database.DB.Model(task).Updates(map[string]interface{}{
		"progress": progress,
		"step":     step,
	})
}

func (q *TaskQueue) failAnalysis(task *models.AnalysisTask, step string, err error) {
	metrics.Get().TaskFailures.WithLabelValues(jobTypeAnalysis, step).Inc()
	logger.Log.Error("Analysis task failed",
		zap.String("task_id", task.ID),
		zap.String("step", step),
		zap.Error(err))

	msg := err.Error()
	done := time.Now()
	database.DB.Model(task).Updates(map[string]interface{}{
		"status":        models.TaskStatusFailed,
		"error_message": &msg,
		"completed_at":  &done,
	})
}

func (q *TaskQueue) failComparison(task *models.ComparisonTask, err error) {
	metrics.Get().TaskFailures.WithLabelValues(jobTypeComparison, "compare").Inc()
	logger.Log.Error("Comparison task failed",
		zap.String("task_id", task.ID),
		zap.Error(err))

	msg := err.Error()
	done := time.Now()
	database.DB.Model(task).Updates(map[string]interface{}{
		"status":        models.TaskStatusFailed,
		"error_message": &msg,
		"completed_at":  &done,
	})
}

// WaitForTask waits for a specific task to finish processing (for testing)
func (q *TaskQueue) WaitForTask(taskID string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case doneID := <-q.taskCompleted:
			if doneID == taskID {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for task %s", taskID)
		case <-q.ctx.Done():
			return fmt.Errorf("queue stopped")
		}
	}
}

func (q *TaskQueue) signalCompletion(taskID string) {
	select {
	case q.taskCompleted <- taskID:
	default:
	}
}

func loadSeenReviewIDs(appID string) (map[string]bool, error) {
	var ids []string
	if err := database.DB.Model(&models.Review{}).
		Where("app_id = ?", appID).
		Pluck("store_review_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("loading known review ids: %w", err)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

func loadRecentReviews(appID string, limit int) ([]models.Review, error) {
	var reviews []models.Review
	err := database.DB.
		Where("app_id = ?", appID).
		Order("reviewed_at DESC").
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	return reviews, nil
}
