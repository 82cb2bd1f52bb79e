package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/tasks"
	"github.com/reviewinsight/backend/internal/util"
)

// AdminStats returns row counts for the operational dashboard
func (h *Handlers) AdminStats(c *gin.Context) {
	var userCount, appCount, reviewCount, taskCount, failedCount int64
	database.DB.Model(&models.User{}).Count(&userCount)
	database.DB.Model(&models.App{}).Count(&appCount)
	database.DB.Model(&models.Review{}).Count(&reviewCount)
	database.DB.Model(&models.AnalysisTask{}).Count(&taskCount)
	database.DB.Model(&models.AnalysisTask{}).
		Where("status = ?", models.TaskStatusFailed).Count(&failedCount)

	c.JSON(http.StatusOK, gin.H{
		"users":        userCount,
		"apps":         appCount,
		"reviews":      reviewCount,
		"analyses":     taskCount,
		"failed_tasks": failedCount,
	})
}

// AdminListTasks lists analysis tasks across all users, filterable by status
func (h *Handlers) AdminListTasks(c *gin.Context) {
	limit, offset := util.ParsePagination(c, 50, 200)

	query := database.DB.Model(&models.AnalysisTask{}).Preload("App")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var taskRows []models.AnalysisTask
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&taskRows).Error; err != nil {
		util.RespondInternalError(c, "failed to list tasks")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":  taskRows,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// AdminRetryTask resets a failed task to pending and resubmits it
func (h *Handlers) AdminRetryTask(c *gin.Context) {
	taskID := c.Param("id")

	var task models.AnalysisTask
	if err := database.DB.First(&task, "id = ?", taskID).Error; err != nil {
		util.RespondNotFound(c, "task")
		return
	}

	if task.Status != models.TaskStatusFailed {
		util.RespondBadRequest(c, "only failed tasks can be retried")
		return
	}

	updates := map[string]interface{}{
		"status":        models.TaskStatusPending,
		"progress":      0,
		"step":          "",
		"error_message": nil,
		"started_at":    nil,
		"completed_at":  nil,
	}
	if err := database.DB.Model(&task).Updates(updates).Error; err != nil {
		util.RespondInternalError(c, "failed to reset task")
		return
	}

	if err := h.queue.SubmitAnalysis(task.ID); err != nil {
		if err == tasks.ErrQueueFull {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue is full, try again shortly"})
			return
		}
		util.RespondInternalError(c, "failed to submit task")
		return
	}

	logger.Log.Info("Task resubmitted by admin",
		zap.String("task_id", task.ID),
		zap.String("app_id", task.AppID))

	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "status": models.TaskStatusPending})
}

// AdminDeleteApp removes an app, its reviews and tasks, and its search document.
// Used to purge listings taken down from the stores.
func (h *Handlers) AdminDeleteApp(c *gin.Context) {
	appID := c.Param("id")

	var app models.App
	if err := database.DB.First(&app, "id = ?", appID).Error; err != nil {
		util.RespondNotFound(c, "app")
		return
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("app_id = ?", appID).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		if err := tx.Where("app_id = ?", appID).Delete(&models.AnalysisTask{}).Error; err != nil {
			return err
		}
		if err := tx.Where("app_a_id = ? OR app_b_id = ?", appID, appID).
			Delete(&models.ComparisonTask{}).Error; err != nil {
			return err
		}
		return tx.Delete(&app).Error
	})
	if err != nil {
		util.RespondInternalError(c, "failed to delete app")
		return
	}

	if h.search != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.search.DeleteApp(ctx, appID); err != nil {
			logger.Log.Warn("Failed to remove app from search index",
				zap.String("app_id", appID),
				zap.Error(err))
		}
	}

	logger.Log.Info("App deleted by admin",
		zap.String("app_id", appID),
		zap.String("name", app.Name))

	c.JSON(http.StatusOK, gin.H{"deleted": appID})
}
