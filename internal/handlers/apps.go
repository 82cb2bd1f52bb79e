package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/util"
)

// BrowseApps lists tracked apps with optional text search and filters
// GET /api/v1/apps?q=&platform=&category=
func (h *Handlers) BrowseApps(c *gin.Context) {
	limit, offset := util.ParsePagination(c, 20, 100)
	query := strings.TrimSpace(c.Query("q"))
	platform := c.Query("platform")
	category := c.Query("category")

	// Full-text search goes through Elasticsearch when available
	if query != "" && h.search != nil {
		result, err := h.search.SearchApps(c.Request.Context(), query, platform, category, limit, offset)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{
				"apps":   result.Apps,
				"total":  result.Total,
				"limit":  limit,
				"offset": offset,
			})
			return
		}
		// Fall through to the database on search errors
		logger.Log.Warn("Search backend unavailable, falling back to database",
			zap.Error(err))
	}

	dbQuery := database.DB.Model(&models.App{})
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		dbQuery = dbQuery.Where("LOWER(name) LIKE ? OR LOWER(developer) LIKE ?", pattern, pattern)
	}
	if platform != "" {
		dbQuery = dbQuery.Where("platform = ?", platform)
	}
	if category != "" {
		dbQuery = dbQuery.Where("category = ?", category)
	}

	var total int64
	if err := dbQuery.Count(&total).Error; err != nil {
		util.RespondInternalError(c, "failed to count apps")
		return
	}

	var apps []models.App
	err := dbQuery.Order("review_count DESC, name ASC").
		Limit(limit).Offset(offset).
		Find(&apps).Error
	if err != nil {
		util.RespondInternalError(c, "failed to list apps")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"apps":   apps,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetApp returns a tracked app's listing metadata
// GET /api/v1/apps/:id
func (h *Handlers) GetApp(c *gin.Context) {
	var app models.App
	err := database.DB.First(&app, "id = ?", c.Param("id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondNotFound(c, "app")
		return
	}
	if err != nil {
		util.RespondInternalError(c, "failed to load app")
		return
	}

	c.JSON(http.StatusOK, app)
}

// GetAppReviews returns an app's collected reviews, newest first
// GET /api/v1/apps/:id/reviews?rating=
func (h *Handlers) GetAppReviews(c *gin.Context) {
	appID := c.Param("id")
	limit, offset := util.ParsePagination(c, 50, 200)

	var app models.App
	if err := database.DB.Select("id").First(&app, "id = ?", appID).Error; err != nil {
		util.RespondNotFound(c, "app")
		return
	}

	query := database.DB.Model(&models.Review{}).Where("app_id = ?", appID)
	if rating := util.ParseInt(c.Query("rating"), 0); rating >= 1 && rating <= 5 {
		query = query.Where("rating = ?", rating)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		util.RespondInternalError(c, "failed to count reviews")
		return
	}

	var reviews []models.Review
	err := query.Order("reviewed_at DESC").
		Limit(limit).Offset(offset).
		Find(&reviews).Error
	if err != nil {
		util.RespondInternalError(c, "failed to list reviews")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}
