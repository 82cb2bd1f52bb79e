package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/auth"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/util"
)

// Register creates a new account with email and password
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Register(req)
	if err != nil {
		switch err {
		case auth.ErrUserExists:
			c.JSON(http.StatusConflict, gin.H{"error": "an account with this email already exists"})
		default:
			logger.Log.Error("Registration failed",
				zap.String("email", req.Email),
				zap.Error(err))
			util.RespondInternalError(c, "failed to create account")
		}
		return
	}

	// Verification email is best effort, the account works without it
	if h.email != nil && resp.User.EmailVerifyToken != nil {
		go func(email, token string) {
			// Detached context: the request context is canceled the
			// moment the handler returns
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.email.SendVerificationEmail(ctx, email, token); err != nil {
				logger.Log.Warn("Failed to send verification email",
					zap.String("email", email),
					zap.Error(err))
			}
		}(resp.User.Email, *resp.User.EmailVerifyToken)
	}

	c.JSON(http.StatusCreated, resp)
}

// Login authenticates with email and password. Accounts with two-factor
// enabled get a challenge response instead of a token and must call
// POST /auth/2fa/login to finish.
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, user, err := h.authService.Login(req)
	if err != nil {
		switch err {
		case auth.ErrTwoFactorRequired:
			c.JSON(http.StatusOK, gin.H{
				"requires_2fa": true,
				"user_id":      user.ID,
				"message":      "two-factor code required",
			})
		case auth.ErrUserNotFound, auth.ErrInvalidCredentials:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		default:
			logger.Log.Error("Login failed", zap.Error(err))
			util.RespondInternalError(c, "login failed")
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GoogleLogin redirects to Google's OAuth consent page
func (h *Handlers) GoogleLogin(c *gin.Context) {
	state := uuid.New().String()
	url := h.authService.GetGoogleOAuthURL(state)
	if url == "" {
		util.RespondWithAPIError(c, oauthUnavailable("google"))
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// GoogleCallback completes the Google OAuth flow
func (h *Handlers) GoogleCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		util.RespondBadRequest(c, "missing authorization code")
		return
	}

	resp, err := h.authService.HandleGoogleCallback(code)
	if err != nil {
		logger.Log.Error("Google OAuth callback failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google authentication failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GitHubLogin redirects to GitHub's OAuth consent page
func (h *Handlers) GitHubLogin(c *gin.Context) {
	state := uuid.New().String()
	url := h.authService.GetGitHubOAuthURL(state)
	if url == "" {
		util.RespondWithAPIError(c, oauthUnavailable("github"))
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// GitHubCallback completes the GitHub OAuth flow
func (h *Handlers) GitHubCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		util.RespondBadRequest(c, "missing authorization code")
		return
	}

	resp, err := h.authService.HandleGitHubCallback(code)
	if err != nil {
		logger.Log.Error("GitHub OAuth callback failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "github authentication failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RequestPasswordReset issues a reset token and emails it to the user.
// Always responds 200 so the endpoint can't be used to probe for accounts.
func (h *Handlers) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	reset, err := h.authService.RequestPasswordReset(req.Email)
	if err != nil {
		logger.Log.Error("Password reset request failed", zap.Error(err))
		util.RespondInternalError(c, "failed to process request")
		return
	}

	if reset != nil && h.email != nil {
		if err := h.email.SendPasswordResetEmail(c.Request.Context(), req.Email, reset.Token); err != nil {
			logger.Log.Error("Failed to send password reset email",
				zap.String("email", req.Email),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "if an account exists for that email, a reset link has been sent",
	})
}

// ConfirmPasswordReset sets a new password using a reset token
func (h *Handlers) ConfirmPasswordReset(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.authService.ResetPassword(req.Token, req.NewPassword); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired reset token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// AuthMiddleware validates the bearer token and loads the user into the
// request context
func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no token provided"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			c.Abort()
			return
		}

		user, err := h.authService.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("user_id", user.ID)
		c.Set("user", user)
		c.Next()
	}
}
