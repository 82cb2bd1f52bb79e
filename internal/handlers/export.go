package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/billing"
	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/export"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/util"
)

// ExportReport renders a completed report as JSON or CSV, uploads it and
// returns the download URL. Paid plans only.
// POST /api/v1/reports/:id/export?format=json|csv
func (h *Handlers) ExportReport(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	if h.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export storage is not configured"})
		return
	}

	format := models.ExportFormat(c.DefaultQuery("format", string(models.ExportJSON)))
	if format != models.ExportJSON && format != models.ExportCSV {
		util.RespondValidationError(c, "format", "format must be json or csv")
		return
	}

	if err := h.billing.CanExport(user); err != nil {
		if errors.Is(err, billing.ErrExportNotAllowed) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "exports require a paid plan"})
			return
		}
		util.RespondInternalError(c, "failed to check plan")
		return
	}

	var task models.AnalysisTask
	err := database.DB.Preload("App").
		First(&task, "id = ? AND user_id = ?", c.Param("id"), user.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondNotFound(c, "report")
		return
	}
	if err != nil {
		util.RespondInternalError(c, "failed to load report")
		return
	}

	record, err := h.exporter.Export(c.Request.Context(), user, &task, format)
	if err != nil {
		if errors.Is(err, export.ErrNoResult) {
			c.JSON(http.StatusConflict, gin.H{"error": "report is not ready"})
			return
		}
		logger.Log.Error("Export failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
		util.RespondInternalError(c, "export failed")
		return
	}

	c.JSON(http.StatusCreated, record)
}

// ListExports returns the user's export history
// GET /api/v1/exports
func (h *Handlers) ListExports(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if h.exporter == nil {
		c.JSON(http.StatusOK, gin.H{"exports": []models.ExportRecord{}})
		return
	}

	limit, _ := util.ParsePagination(c, 20, 100)
	records, err := h.exporter.ListExports(userID, limit)
	if err != nil {
		util.RespondInternalError(c, "failed to list exports")
		return
	}

	c.JSON(http.StatusOK, gin.H{"exports": records})
}
