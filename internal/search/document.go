package search

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
)

// AppToSearchDoc converts an App model to a search document
func AppToSearchDoc(app models.App) map[string]interface{} {
	return map[string]interface{}{
		"id":              app.ID,
		"name":            app.Name,
		"developer":       app.Developer,
		"platform":        app.Platform,
		"category":        app.Category,
		"rating":          app.Rating,
		"review_count":    app.ReviewCount,
		"last_scraped_at": app.LastScrapedAt,
	}
}

// ReviewToSearchDoc converts a Review model to a search document
func ReviewToSearchDoc(review models.Review) map[string]interface{} {
	return map[string]interface{}{
		"id":          review.ID,
		"app_id":      review.AppID,
		"rating":      review.Rating,
		"title":       review.Title,
		"body":        review.Body,
		"country":     review.Country,
		"reviewed_at": review.ReviewedAt,
	}
}

// IndexAppFromDB loads an app and its reviews from the database and indexes
// them. Used as the scrape-complete callback so freshly collected reviews
// become searchable. Indexing failures are logged, never propagated: a
// degraded index must not fail an analysis.
func (c *Client) IndexAppFromDB(ctx context.Context, db *gorm.DB, appID string) {
	var app models.App
	if err := db.First(&app, "id = ?", appID).Error; err != nil {
		logger.Log.Warn("Failed to load app for indexing",
			zap.String("app_id", appID),
			zap.Error(err))
		return
	}

	if err := c.IndexApp(ctx, app.ID, AppToSearchDoc(app)); err != nil {
		logger.Log.Warn("Failed to index app",
			zap.String("app_id", appID),
			zap.Error(err))
		return
	}

	var reviews []models.Review
	if err := db.Where("app_id = ?", appID).
		Order("reviewed_at DESC").
		Limit(500).
		Find(&reviews).Error; err != nil {
		logger.Log.Warn("Failed to load reviews for indexing",
			zap.String("app_id", appID),
			zap.Error(err))
		return
	}

	indexed := 0
	for _, review := range reviews {
		if err := c.IndexReview(ctx, review.ID, ReviewToSearchDoc(review)); err != nil {
			logger.Log.Warn("Failed to index review",
				zap.String("review_id", review.ID),
				zap.Error(err))
			continue
		}
		indexed++
	}

	logger.Log.Debug("Indexed app for search",
		zap.String("app_id", appID),
		zap.Int("reviews_indexed", indexed))
}
