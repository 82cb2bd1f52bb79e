package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/billing"
	"github.com/reviewinsight/backend/internal/database"
	apierrors "github.com/reviewinsight/backend/internal/errors"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/middleware"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/scraper"
	"github.com/reviewinsight/backend/internal/tasks"
	"github.com/reviewinsight/backend/internal/util"
)

// reportCacheTTL bounds how long a rendered report stays in Redis
const reportCacheTTL = 10 * time.Minute

// StartAnalysisRequest is the request body for starting an analysis
type StartAnalysisRequest struct {
	URL string `json:"url" binding:"required"`
}

// StartComparisonRequest is the request body for comparing two analyzed apps
type StartComparisonRequest struct {
	AppAID string `json:"app_a_id" binding:"required"`
	AppBID string `json:"app_b_id" binding:"required"`
}

// StartAnalysis accepts an app store URL and queues a scrape-and-analyze job.
// The response carries the task ID the browser polls on.
// POST /api/v1/analyze
func (h *Handlers) StartAnalysis(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	var req StartAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	ref, err := scraper.ParseStoreURL(req.URL)
	if err != nil {
		util.RespondValidationError(c, "url", "unsupported app store URL, expected an App Store or Google Play listing")
		return
	}

	if err := h.billing.CanRunAnalysis(user); err != nil {
		if errors.Is(err, billing.ErrQuotaExceeded) {
			util.RespondWithAPIError(c, apierrors.QuotaExceeded(err.Error()))
			return
		}
		logger.Log.Error("Quota check failed", zap.Error(err))
		util.RespondInternalError(c, "failed to check plan quota")
		return
	}

	app, err := findOrCreateApp(ref, req.URL)
	if err != nil {
		logger.Log.Error("Failed to resolve app", zap.Error(err))
		util.RespondInternalError(c, "failed to resolve app")
		return
	}

	// Reuse an in-flight task for the same app instead of double-scraping
	var existing models.AnalysisTask
	err = database.DB.
		Where("user_id = ? AND app_id = ? AND status IN ?", user.ID, app.ID,
			[]models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing}).
		First(&existing).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"task_id": existing.ID,
			"status":  existing.Status,
			"app_id":  app.ID,
		})
		return
	}

	task := models.AnalysisTask{
		UserID: user.ID,
		AppID:  app.ID,
		Status: models.TaskStatusPending,
	}
	if err := database.DB.Create(&task).Error; err != nil {
		logger.Log.Error("Failed to create analysis task", zap.Error(err))
		util.RespondInternalError(c, "failed to create task")
		return
	}

	if err := h.queue.SubmitAnalysis(task.ID); err != nil {
		database.DB.Delete(&task)
		if errors.Is(err, tasks.ErrQueueFull) {
			util.RespondWithAPIError(c, apierrors.ServiceUnavailable("analysis queue"))
			return
		}
		logger.Log.Error("Failed to queue analysis", zap.Error(err))
		util.RespondInternalError(c, "failed to queue analysis")
		return
	}

	if err := h.billing.RecordAnalysis(user.ID); err != nil {
		logger.Log.Warn("Failed to record analysis usage",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	logger.Log.Info("Analysis queued",
		zap.String("task_id", task.ID),
		zap.String("app_id", app.ID),
		zap.String("platform", string(ref.Platform)),
		zap.String("user_id", user.ID))

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  models.TaskStatusPending,
		"app_id":  app.ID,
	})
}

// GetAnalysisTask returns the current state of an analysis task. The browser
// polls this until status is completed or failed.
// GET /api/v1/tasks/:id
func (h *Handlers) GetAnalysisTask(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var task models.AnalysisTask
	err := database.DB.Preload("App").
		First(&task, "id = ? AND user_id = ?", c.Param("id"), userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondNotFound(c, "task")
		return
	}
	if err != nil {
		util.RespondInternalError(c, "failed to load task")
		return
	}

	c.JSON(http.StatusOK, task)
}

// ListReports returns the user's analysis tasks, newest first
// GET /api/v1/reports
func (h *Handlers) ListReports(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	limit, offset := util.ParsePagination(c, 20, 100)

	query := database.DB.Preload("App").
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if c.Query("status") != "" {
		query = query.Where("status = ?", c.Query("status"))
	}

	var total int64
	if err := query.Model(&models.AnalysisTask{}).Count(&total).Error; err != nil {
		util.RespondInternalError(c, "failed to count reports")
		return
	}

	var reports []models.AnalysisTask
	if err := query.Limit(limit).Offset(offset).Find(&reports).Error; err != nil {
		util.RespondInternalError(c, "failed to list reports")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetReport returns a completed analysis report. Completed reports never
// change, so they are served from Redis when possible.
// GET /api/v1/reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	// Key carries the user ID so one user's cache can never answer for
	// another's
	cacheKey := "report:" + userID + ":" + c.Param("id")
	if h.cache != nil {
		if raw, err := h.cache.Get(c.Request.Context(), cacheKey); err == nil && raw != "" {
			middleware.RecordCacheHit("report")
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(raw))
			return
		}
		middleware.RecordCacheMiss("report")
	}

	var task models.AnalysisTask
	err := database.DB.Preload("App").
		First(&task, "id = ? AND user_id = ?", c.Param("id"), userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondNotFound(c, "report")
		return
	}
	if err != nil {
		util.RespondInternalError(c, "failed to load report")
		return
	}

	if task.Status != models.TaskStatusCompleted || task.Result == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "report is not ready",
			"status": task.Status,
		})
		return
	}

	if h.cache != nil {
		if body, err := json.Marshal(task); err == nil {
			if err := h.cache.SetEx(c.Request.Context(), cacheKey, string(body), reportCacheTTL); err != nil {
				logger.Log.Warn("Failed to cache report", zap.Error(err))
			}
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
	}

	c.JSON(http.StatusOK, task)
}

// StartComparison queues a comparison of two already-analyzed apps
// POST /api/v1/compare
func (h *Handlers) StartComparison(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	var req StartComparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}
	if req.AppAID == req.AppBID {
		util.RespondValidationError(c, "app_b_id", "cannot compare an app with itself")
		return
	}

	if err := h.billing.CanRunComparison(user); err != nil {
		if errors.Is(err, billing.ErrQuotaExceeded) {
			util.RespondWithAPIError(c, apierrors.QuotaExceeded(err.Error()))
			return
		}
		util.RespondInternalError(c, "failed to check plan quota")
		return
	}

	// Both apps need stored reviews, comparisons work off prior analyses
	for _, appID := range []string{req.AppAID, req.AppBID} {
		var count int64
		if err := database.DB.Model(&models.Review{}).
			Where("app_id = ?", appID).Count(&count).Error; err != nil {
			util.RespondInternalError(c, "failed to check app reviews")
			return
		}
		if count == 0 {
			util.RespondValidationError(c, "app_id", "app "+appID+" has no collected reviews, analyze it first")
			return
		}
	}

	task := models.ComparisonTask{
		UserID: user.ID,
		AppAID: req.AppAID,
		AppBID: req.AppBID,
		Status: models.TaskStatusPending,
	}
	if err := database.DB.Create(&task).Error; err != nil {
		util.RespondInternalError(c, "failed to create comparison")
		return
	}

	if err := h.queue.SubmitComparison(task.ID); err != nil {
		database.DB.Delete(&task)
		if errors.Is(err, tasks.ErrQueueFull) {
			util.RespondWithAPIError(c, apierrors.ServiceUnavailable("analysis queue"))
			return
		}
		util.RespondInternalError(c, "failed to queue comparison")
		return
	}

	if err := h.billing.RecordComparison(user.ID); err != nil {
		logger.Log.Warn("Failed to record comparison usage",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  models.TaskStatusPending,
	})
}

// GetComparison returns the state of a comparison task
// GET /api/v1/compare/:id
func (h *Handlers) GetComparison(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var task models.ComparisonTask
	err := database.DB.First(&task, "id = ? AND user_id = ?", c.Param("id"), userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondNotFound(c, "comparison")
		return
	}
	if err != nil {
		util.RespondInternalError(c, "failed to load comparison")
		return
	}

	c.JSON(http.StatusOK, task)
}

// findOrCreateApp resolves the app row for a storefront listing, creating it
// on first sight. The unique (platform, store_id) index is the dedup boundary.
func findOrCreateApp(ref *scraper.AppRef, storeURL string) (*models.App, error) {
	var app models.App
	err := database.DB.
		Where("platform = ? AND store_id = ?", ref.Platform, ref.StoreID).
		First(&app).Error
	if err == nil {
		return &app, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	app = models.App{
		Platform: ref.Platform,
		StoreID:  ref.StoreID,
		StoreURL: storeURL,
		Country:  ref.Country,
		// Name is filled in by the metadata fetch when the task runs
		Name: ref.StoreID,
	}
	if err := database.DB.Create(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}
