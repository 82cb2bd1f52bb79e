package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
)

// OAuthUserInfo represents user info from OAuth providers
type OAuthUserInfo struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	AvatarURL    string     `json:"avatar_url"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type githubUserInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// HandleGoogleCallback processes Google OAuth callback
func (s *Service) HandleGoogleCallback(code string) (*AuthResponse, error) {
	if s.googleConfig == nil {
		return nil, errors.New("google oauth not configured")
	}
	userInfo, err := s.getGoogleUserInfo(code)
	if err != nil {
		return nil, fmt.Errorf("failed to get Google user info: %w", err)
	}

	return s.findOrCreateUserFromOAuth("google", userInfo)
}

// HandleGitHubCallback processes GitHub OAuth callback
func (s *Service) HandleGitHubCallback(code string) (*AuthResponse, error) {
	if s.githubConfig == nil {
		return nil, errors.New("github oauth not configured")
	}
	userInfo, err := s.getGitHubUserInfo(code)
	if err != nil {
		return nil, fmt.Errorf("failed to get GitHub user info: %w", err)
	}

	return s.findOrCreateUserFromOAuth("github", userInfo)
}

// findOrCreateUserFromOAuth implements email-based account unification
func (s *Service) findOrCreateUserFromOAuth(provider string, userInfo *OAuthUserInfo) (*AuthResponse, error) {
	// Check if this OAuth account is already linked
	var existingOAuth models.OAuthProvider
	err := database.DB.Where("provider = ? AND provider_user_id = ?", provider, userInfo.ID).
		Preload("User").First(&existingOAuth).Error

	if err == nil {
		s.updateOAuthTokens(&existingOAuth, userInfo)
		return s.generateAuthResponse(&existingOAuth.User)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error checking OAuth: %w", err)
	}

	// Check if user exists by email (account unification)
	existingUser, err := s.FindUserByEmail(userInfo.Email)
	if err == nil {
		return s.linkOAuthToExistingUser(existingUser, provider, userInfo)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("database error finding user: %w", err)
	}

	return s.createUserWithOAuth(provider, userInfo)
}

// updateOAuthTokens updates stored OAuth tokens when user re-authenticates
func (s *Service) updateOAuthTokens(oauthProvider *models.OAuthProvider, userInfo *OAuthUserInfo) {
	if userInfo.AccessToken != "" {
		oauthProvider.AccessToken = &userInfo.AccessToken
	}
	if userInfo.RefreshToken != "" {
		oauthProvider.RefreshToken = &userInfo.RefreshToken
	}
	if userInfo.TokenExpiry != nil {
		oauthProvider.TokenExpiry = userInfo.TokenExpiry
	}
	if userInfo.AvatarURL != "" && userInfo.AvatarURL != oauthProvider.AvatarURL {
		oauthProvider.AvatarURL = userInfo.AvatarURL
	}

	// Fire and forget - a failed token update must not fail the login
	if err := database.DB.Save(oauthProvider).Error; err != nil {
		logger.Log.Warn("Failed to update OAuth tokens", zap.Error(err))
	}
}

// linkOAuthToExistingUser links OAuth provider to existing user account
func (s *Service) linkOAuthToExistingUser(user *models.User, provider string, userInfo *OAuthUserInfo) (*AuthResponse, error) {
	var accessToken, refreshToken *string
	if userInfo.AccessToken != "" {
		accessToken = &userInfo.AccessToken
	}
	if userInfo.RefreshToken != "" {
		refreshToken = &userInfo.RefreshToken
	}

	oauthProvider := models.OAuthProvider{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: userInfo.ID,
		Email:          userInfo.Email,
		Name:           userInfo.Name,
		AvatarURL:      userInfo.AvatarURL,
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		TokenExpiry:    userInfo.TokenExpiry,
	}

	if err := database.DB.Create(&oauthProvider).Error; err != nil {
		return nil, fmt.Errorf("failed to link OAuth provider: %w", err)
	}

	if user.AvatarURL == "" && userInfo.AvatarURL != "" {
		user.AvatarURL = userInfo.AvatarURL
		database.DB.Save(user)
	}

	return s.generateAuthResponse(user)
}

// createUserWithOAuth creates new user account from OAuth info
func (s *Service) createUserWithOAuth(provider string, userInfo *OAuthUserInfo) (*AuthResponse, error) {
	displayName := userInfo.Name
	if displayName == "" {
		displayName = userInfo.Email
	}

	user := models.User{
		ID:            uuid.New().String(),
		Email:         userInfo.Email,
		DisplayName:   displayName,
		AvatarURL:     userInfo.AvatarURL,
		EmailVerified: true, // OAuth emails are pre-verified
		PlanID:        models.PlanFree,
	}

	if provider == "google" {
		user.GoogleID = &userInfo.ID
	} else if provider == "github" {
		user.GitHubID = &userInfo.ID
	}

	var accessToken, refreshToken *string
	if userInfo.AccessToken != "" {
		accessToken = &userInfo.AccessToken
	}
	if userInfo.RefreshToken != "" {
		refreshToken = &userInfo.RefreshToken
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		oauthProvider := models.OAuthProvider{
			ID:             uuid.New().String(),
			UserID:         user.ID,
			Provider:       provider,
			ProviderUserID: userInfo.ID,
			Email:          userInfo.Email,
			Name:           userInfo.Name,
			AvatarURL:      userInfo.AvatarURL,
			AccessToken:    accessToken,
			RefreshToken:   refreshToken,
			TokenExpiry:    userInfo.TokenExpiry,
		}

		return tx.Create(&oauthProvider).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user with OAuth: %w", err)
	}

	return s.generateAuthResponse(&user)
}

// getGoogleUserInfo fetches user info from Google OAuth
func (s *Service) getGoogleUserInfo(code string) (*OAuthUserInfo, error) {
	token, err := s.googleConfig.Exchange(context.Background(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	client := s.googleConfig.Client(context.Background(), token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v3/userinfo")
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var googleUser googleUserInfo
	if err := json.Unmarshal(body, &googleUser); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}

	var tokenExpiry *time.Time
	if !token.Expiry.IsZero() {
		tokenExpiry = &token.Expiry
	}

	return &OAuthUserInfo{
		ID:           googleUser.Sub,
		Email:        googleUser.Email,
		Name:         googleUser.Name,
		AvatarURL:    googleUser.Picture,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  tokenExpiry,
	}, nil
}

// getGitHubUserInfo fetches user info from GitHub OAuth. GitHub may hide the
// email on the profile endpoint, so a second call to /user/emails picks the
// primary verified address.
func (s *Service) getGitHubUserInfo(code string) (*OAuthUserInfo, error) {
	token, err := s.githubConfig.Exchange(context.Background(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	client := s.githubConfig.Client(context.Background(), token)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ghUser githubUserInfo
	if err := json.Unmarshal(body, &ghUser); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}

	email := ghUser.Email
	if email == "" {
		email, err = s.getGitHubPrimaryEmail(client)
		if err != nil {
			return nil, err
		}
	}

	name := ghUser.Name
	if name == "" {
		name = ghUser.Login
	}

	var tokenExpiry *time.Time
	if !token.Expiry.IsZero() {
		tokenExpiry = &token.Expiry
	}

	return &OAuthUserInfo{
		ID:           strconv.FormatInt(ghUser.ID, 10),
		Email:        email,
		Name:         name,
		AvatarURL:    ghUser.AvatarURL,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  tokenExpiry,
	}, nil
}

func (s *Service) getGitHubPrimaryEmail(client *http.Client) (string, error) {
	resp, err := client.Get("https://api.github.com/user/emails")
	if err != nil {
		return "", fmt.Errorf("failed to get user emails: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read emails response: %w", err)
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", fmt.Errorf("failed to parse emails: %w", err)
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", errors.New("no verified primary email on GitHub account")
}
