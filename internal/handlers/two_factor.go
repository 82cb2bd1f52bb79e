package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/util"
)

const (
	// Number of backup codes to generate
	backupCodeCount = 10
	// Backup code length (characters)
	backupCodeLength = 8
	// OTP issuer name shown in authenticator apps
	otpIssuer = "ReviewInsight"
)

// Enable2FARequest is the request body for initiating 2FA setup
type Enable2FARequest struct {
	Password string `json:"password" binding:"required"`
}

// Enable2FAResponse contains the TOTP setup data
type Enable2FAResponse struct {
	Secret      string   `json:"secret"`       // Base32-encoded secret for manual entry
	QRCodeURL   string   `json:"qr_code_url"`  // otpauth:// URL for QR code
	BackupCodes []string `json:"backup_codes"` // One-time backup codes
}

// Verify2FARequest is the request body for verifying 2FA setup
type Verify2FARequest struct {
	Code string `json:"code" binding:"required"`
}

// Disable2FARequest is the request body for disabling 2FA
type Disable2FARequest struct {
	Password string `json:"password"`
	Code     string `json:"code"` // TOTP code or backup code
}

// Verify2FALoginRequest is the request body for 2FA during login
type Verify2FALoginRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// RegenerateBackupCodesRequest is the request for generating new backup codes
type RegenerateBackupCodesRequest struct {
	Code string `json:"code" binding:"required"` // Current TOTP code
}

// Get2FAStatus returns the current 2FA status for the authenticated user
// GET /api/v1/auth/2fa/status
func (h *Handlers) Get2FAStatus(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	// Count remaining backup codes
	var backupCodesRemaining int
	if user.BackupCodes != nil && *user.BackupCodes != "" {
		var codes []string
		if err := json.Unmarshal([]byte(*user.BackupCodes), &codes); err == nil {
			backupCodesRemaining = len(codes)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":                user.TwoFactorEnabled,
		"backup_codes_remaining": backupCodesRemaining,
	})
}

// Enable2FA initiates 2FA setup for the authenticated user
// POST /api/v1/auth/2fa/enable
// Returns the TOTP secret, QR code URL, and backup codes
func (h *Handlers) Enable2FA(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req Enable2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required"})
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if user.TwoFactorEnabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "2FA is already enabled"})
		return
	}

	// Verify password (only for native auth users, OAuth-only accounts
	// have no password to check)
	if user.PasswordHash != nil {
		if !h.authService.VerifyPassword(&user, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
			return
		}
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      otpIssuer,
		AccountName: user.Email,
		SecretSize:  32,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate 2FA secret"})
		return
	}

	backupCodes := generateBackupCodes(backupCodeCount)
	hashedCodes := hashBackupCodes(backupCodes)
	hashedCodesJSON, _ := json.Marshal(hashedCodes)
	hashedCodesStr := string(hashedCodesJSON)

	// Store the secret temporarily (not enabled yet - user must verify first)
	secret := key.Secret()
	if err := database.DB.Model(&user).Updates(map[string]interface{}{
		"two_factor_secret": secret,
		"backup_codes":      hashedCodesStr,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save 2FA setup"})
		return
	}

	c.JSON(http.StatusOK, Enable2FAResponse{
		Secret:      secret,
		QRCodeURL:   key.URL(),
		BackupCodes: backupCodes,
	})
}

// Verify2FA completes 2FA setup by verifying a TOTP code
// POST /api/v1/auth/2fa/verify
func (h *Handlers) Verify2FA(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req Verify2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if user.TwoFactorSecret == nil || *user.TwoFactorSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "2FA setup not initiated. Call /2fa/enable first"})
		return
	}

	if !totp.Validate(req.Code, *user.TwoFactorSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid verification code"})
		return
	}

	if err := database.DB.Model(&user).Update("two_factor_enabled", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enable 2FA"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Two-factor authentication enabled successfully",
		"enabled": true,
	})
}

// Disable2FA disables 2FA for the authenticated user
// POST /api/v1/auth/2fa/disable
func (h *Handlers) Disable2FA(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req Disable2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if !user.TwoFactorEnabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "2FA is not enabled"})
		return
	}

	// Accept a TOTP code, a backup code, or the account password
	verified := false

	if req.Code != "" && user.TwoFactorSecret != nil {
		if totp.Validate(req.Code, *user.TwoFactorSecret) {
			verified = true
		} else if verifyAndConsumeBackupCode(&user, req.Code) {
			verified = true
		}
	}

	if !verified && req.Password != "" && user.PasswordHash != nil {
		if h.authService.VerifyPassword(&user, req.Password) {
			verified = true
		}
	}

	if !verified {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password or verification code"})
		return
	}

	if err := database.DB.Model(&user).Updates(map[string]interface{}{
		"two_factor_enabled": false,
		"two_factor_secret":  nil,
		"backup_codes":       nil,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disable 2FA"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Two-factor authentication disabled successfully",
		"enabled": false,
	})
}

// Verify2FALogin verifies the 2FA code during login
// POST /api/v1/auth/2fa/login
// Called after successful password verification when 2FA is enabled
func (h *Handlers) Verify2FALogin(c *gin.Context) {
	var req Verify2FALoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID and code are required"})
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", req.UserID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "2FA is not enabled for this account"})
		return
	}

	if !totp.Validate(req.Code, *user.TwoFactorSecret) {
		// Try as backup code
		if !verifyAndConsumeBackupCode(&user, req.Code) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid verification code"})
			return
		}
	}

	authResp, err := h.authService.GenerateTokenForUser(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, authResp)
}

// RegenerateBackupCodes generates new backup codes (invalidates old ones)
// POST /api/v1/auth/2fa/backup-codes
func (h *Handlers) RegenerateBackupCodes(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req RegenerateBackupCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Current 2FA code is required"})
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "2FA is not enabled"})
		return
	}

	if !totp.Validate(req.Code, *user.TwoFactorSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid verification code"})
		return
	}

	backupCodes := generateBackupCodes(backupCodeCount)
	hashedCodes := hashBackupCodes(backupCodes)
	hashedCodesJSON, _ := json.Marshal(hashedCodes)
	hashedCodesStr := string(hashedCodesJSON)

	if err := database.DB.Model(&user).Update("backup_codes", hashedCodesStr).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save backup codes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backup_codes": backupCodes,
		"message":      "New backup codes generated. Save them securely - old codes are now invalid.",
	})
}

// Helper functions

// generateBackupCodes generates a set of random backup codes
func generateBackupCodes(count int) []string {
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		codes[i] = generateRandomCode(backupCodeLength)
	}
	return codes
}

// generateRandomCode generates a random alphanumeric code
func generateRandomCode(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	// Use base32 for easy typing (no confusing chars like 0/O, 1/I)
	encoded := base32.StdEncoding.EncodeToString(bytes)
	code := strings.ToUpper(encoded[:length])
	if length == 8 {
		return code[:4] + "-" + code[4:]
	}
	return code
}

// hashBackupCodes hashes backup codes for secure storage
func hashBackupCodes(codes []string) []string {
	hashed := make([]string, len(codes))
	for i, code := range codes {
		hashed[i] = hashBackupCode(code)
	}
	return hashed
}

// hashBackupCode hashes a single backup code
func hashBackupCode(code string) string {
	cleanCode := strings.ReplaceAll(strings.ToUpper(code), "-", "")
	hash := sha256.Sum256([]byte(cleanCode))
	return hex.EncodeToString(hash[:])
}

// verifyAndConsumeBackupCode checks if a backup code is valid and removes it if so
func verifyAndConsumeBackupCode(user *models.User, code string) bool {
	if user.BackupCodes == nil || *user.BackupCodes == "" {
		return false
	}

	var hashedCodes []string
	if err := json.Unmarshal([]byte(*user.BackupCodes), &hashedCodes); err != nil {
		return false
	}

	providedHash := hashBackupCode(code)

	for i, storedHash := range hashedCodes {
		if storedHash == providedHash {
			// Remove the used code
			hashedCodes = append(hashedCodes[:i], hashedCodes[i+1:]...)

			updatedJSON, _ := json.Marshal(hashedCodes)
			updatedStr := string(updatedJSON)
			database.DB.Model(user).Update("backup_codes", updatedStr)

			return true
		}
	}

	return false
}

// GenerateTOTPCode generates a current TOTP code for a secret (for testing)
func GenerateTOTPCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}
