package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
)

// AuthServiceTestSuite contains auth service tests
type AuthServiceTestSuite struct {
	suite.Suite
	db          *gorm.DB
	authService *Service
}

// SetupSuite initializes test database and auth service
func (suite *AuthServiceTestSuite) SetupSuite() {
	_ = logger.Initialize("error", "")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(suite.T(), err)

	// Create test tables manually with SQLite-compatible syntax
	// (GORM AutoMigrate tries to use PostgreSQL-specific defaults)
	statements := []string{
		`CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			company TEXT,
			password_hash TEXT,
			email_verified INTEGER DEFAULT 0,
			email_verify_token TEXT,
			google_id TEXT,
			github_id TEXT,
			two_factor_secret TEXT,
			two_factor_enabled INTEGER DEFAULT 0,
			backup_codes TEXT,
			avatar_url TEXT,
			is_admin INTEGER DEFAULT 0,
			stripe_customer_id TEXT,
			plan_id TEXT DEFAULT 'free',
			analyses_used INTEGER DEFAULT 0,
			comparisons_used INTEGER DEFAULT 0,
			usage_period_start DATETIME,
			last_active_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE TABLE oauth_providers (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			email TEXT NOT NULL,
			name TEXT,
			avatar_url TEXT,
			access_token TEXT,
			refresh_token TEXT,
			token_expiry DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE TABLE password_resets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			used INTEGER DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
	}
	for _, stmt := range statements {
		require.NoError(suite.T(), db.Exec(stmt).Error)
	}

	database.DB = db
	suite.db = db
	suite.authService = NewService([]byte("test_jwt_secret_key"), nil)
}

// SetupTest cleans database before each test
func (suite *AuthServiceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM oauth_providers")
	suite.db.Exec("DELETE FROM password_resets")
	suite.db.Exec("DELETE FROM users")
}

func (suite *AuthServiceTestSuite) TestRegister() {
	t := suite.T()

	req := RegisterRequest{
		Email:       "founder@example.com",
		Password:    "password123",
		DisplayName: "Test Founder",
		Company:     "Example Inc",
	}

	authResp, err := suite.authService.Register(req)
	require.NoError(t, err)
	require.NotNil(t, authResp)

	assert.NotEmpty(t, authResp.Token)
	assert.Equal(t, "founder@example.com", authResp.User.Email)
	assert.Equal(t, models.PlanFree, authResp.User.PlanID)
	require.NotNil(t, authResp.User.PasswordHash)
	assert.NotEqual(t, "password123", *authResp.User.PasswordHash)

	// Duplicate email is rejected, case-insensitively
	req.Email = "FOUNDER@example.com"
	_, err = suite.authService.Register(req)
	assert.ErrorIs(t, err, ErrUserExists)
}

func (suite *AuthServiceTestSuite) TestLogin() {
	t := suite.T()

	_, err := suite.authService.Register(RegisterRequest{
		Email:       "user@example.com",
		Password:    "password123",
		DisplayName: "User",
	})
	require.NoError(t, err)

	authResp, user, err := suite.authService.Login(LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, authResp.Token)
	assert.Equal(t, "user@example.com", user.Email)

	_, _, err = suite.authService.Login(LoginRequest{
		Email:    "user@example.com",
		Password: "wrong-password",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = suite.authService.Login(LoginRequest{
		Email:    "nobody@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func (suite *AuthServiceTestSuite) TestLoginRequiresTwoFactorWhenEnabled() {
	t := suite.T()

	authResp, err := suite.authService.Register(RegisterRequest{
		Email:       "secure@example.com",
		Password:    "password123",
		DisplayName: "Secure User",
	})
	require.NoError(t, err)

	secret := "JBSWY3DPEHPK3PXP"
	suite.db.Model(&models.User{}).Where("id = ?", authResp.User.ID).Updates(map[string]interface{}{
		"two_factor_enabled": true,
		"two_factor_secret":  secret,
	})

	resp, user, err := suite.authService.Login(LoginRequest{
		Email:    "secure@example.com",
		Password: "password123",
	})
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
	assert.Nil(t, resp, "no token before the second factor")
	require.NotNil(t, user)
	assert.Equal(t, authResp.User.ID, user.ID)
}

func (suite *AuthServiceTestSuite) TestValidateToken() {
	t := suite.T()

	authResp, err := suite.authService.Register(RegisterRequest{
		Email:       "token@example.com",
		Password:    "password123",
		DisplayName: "Token User",
	})
	require.NoError(t, err)

	user, err := suite.authService.ValidateToken(authResp.Token)
	require.NoError(t, err)
	assert.Equal(t, authResp.User.ID, user.ID)

	_, err = suite.authService.ValidateToken("not-a-jwt")
	assert.Error(t, err)

	// Token signed with a different secret is rejected
	other := NewService([]byte("some-other-secret"), nil)
	otherResp, err := other.GenerateTokenForUser(&authResp.User)
	require.NoError(t, err)
	_, err = suite.authService.ValidateToken(otherResp.Token)
	assert.Error(t, err)
}

func (suite *AuthServiceTestSuite) TestPasswordResetFlow() {
	t := suite.T()

	_, err := suite.authService.Register(RegisterRequest{
		Email:       "reset@example.com",
		Password:    "original-password",
		DisplayName: "Reset User",
	})
	require.NoError(t, err)

	token, err := suite.authService.RequestPasswordReset("reset@example.com")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Token)

	// Unknown email produces no token and no error, to avoid account probing
	missing, err := suite.authService.RequestPasswordReset("ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, suite.authService.ResetPassword(token.Token, "new-password"))

	_, _, err = suite.authService.Login(LoginRequest{Email: "reset@example.com", Password: "original-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = suite.authService.Login(LoginRequest{Email: "reset@example.com", Password: "new-password"})
	assert.NoError(t, err)

	// Token is single use
	err = suite.authService.ResetPassword(token.Token, "another-password")
	assert.Error(t, err)
}

func (suite *AuthServiceTestSuite) TestOAuthAccountUnification() {
	t := suite.T()

	// Existing native account gets the OAuth identity linked by email
	_, err := suite.authService.Register(RegisterRequest{
		Email:       "linked@example.com",
		Password:    "password123",
		DisplayName: "Linked User",
	})
	require.NoError(t, err)

	info := &OAuthUserInfo{
		ID:        "google-uid-1",
		Email:     "linked@example.com",
		Name:      "Linked User",
		AvatarURL: "https://example.com/a.png",
	}
	authResp, err := suite.authService.findOrCreateUserFromOAuth("google", info)
	require.NoError(t, err)

	var count int64
	suite.db.Model(&models.User{}).Count(&count)
	assert.EqualValues(t, 1, count, "no second account for the same email")

	var link models.OAuthProvider
	require.NoError(t, suite.db.First(&link, "provider_user_id = ?", "google-uid-1").Error)
	assert.Equal(t, authResp.User.ID, link.UserID)

	// Second callback with the same identity reuses the link
	_, err = suite.authService.findOrCreateUserFromOAuth("google", info)
	require.NoError(t, err)
	suite.db.Model(&models.OAuthProvider{}).Count(&count)
	assert.EqualValues(t, 1, count)

	// Fresh OAuth identity creates a new pre-verified account
	fresh := &OAuthUserInfo{ID: "gh-77", Email: "new@example.com", Name: "newdev"}
	resp, err := suite.authService.findOrCreateUserFromOAuth("github", fresh)
	require.NoError(t, err)
	assert.True(t, resp.User.EmailVerified)
	require.NotNil(t, resp.User.GitHubID)
	assert.Equal(t, "gh-77", *resp.User.GitHubID)
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}
