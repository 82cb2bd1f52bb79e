package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reviewinsight/backend/internal/auth"
	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/util"
)

// GetCurrentUser returns the authenticated user's profile
// GET /api/v1/users/me
func (h *Handlers) GetCurrentUser(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile updates the authenticated user's profile fields
// PATCH /api/v1/users/me
func (h *Handlers) UpdateProfile(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	var req struct {
		DisplayName *string `json:"display_name"`
		Company     *string `json:"company"`
		AvatarURL   *string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		if *req.DisplayName == "" {
			util.RespondValidationError(c, "display_name", "display name cannot be empty")
			return
		}
		updates["display_name"] = *req.DisplayName
	}
	if req.Company != nil {
		updates["company"] = *req.Company
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}

	if len(updates) == 0 {
		c.JSON(http.StatusOK, user)
		return
	}

	if err := database.DB.Model(user).Updates(updates).Error; err != nil {
		util.RespondInternalError(c, "failed to update profile")
		return
	}

	var fresh models.User
	if err := database.DB.First(&fresh, "id = ?", user.ID).Error; err != nil {
		util.RespondInternalError(c, "failed to reload profile")
		return
	}
	c.JSON(http.StatusOK, fresh)
}

// VerifyEmail confirms an email address with the token from the
// verification email
// POST /api/v1/auth/verify-email
func (h *Handlers) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.authService.VerifyEmail(req.Token); err != nil {
		if err == auth.ErrUserNotFound {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification token"})
			return
		}
		util.RespondInternalError(c, "failed to verify email")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}
