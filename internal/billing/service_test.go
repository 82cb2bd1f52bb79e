package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/reviewinsight/backend/internal/database"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	m.Run()
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// Manual DDL because AutoMigrate emits PostgreSQL-specific defaults
	// like gen_random_uuid() that SQLite rejects
	ddl := []string{
		`CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
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
		`CREATE TABLE plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stripe_price_id TEXT,
			price_cents INTEGER DEFAULT 0,
			interval TEXT DEFAULT 'month',
			monthly_analyses INTEGER DEFAULT 3,
			max_comparisons INTEGER DEFAULT 0,
			export_enabled BOOLEAN DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			stripe_subscription_id TEXT UNIQUE,
			status TEXT DEFAULT 'active',
			current_period_start DATETIME,
			current_period_end DATETIME,
			cancel_at_period_end BOOLEAN DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
	}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}

	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })

	return db
}

func seedUser(t *testing.T, db *gorm.DB, planID string, used int) *models.User {
	user := &models.User{
		Email:            fmt.Sprintf("%s-%d@example.com", planID, time.Now().UnixNano()),
		PlanID:           planID,
		AnalysesUsed:     used,
		ComparisonsUsed:  used,
		UsagePeriodStart: time.Now().UTC(),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestEnsurePlans(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()

	require.NoError(t, svc.EnsurePlans())

	var count int64
	require.NoError(t, db.Model(&models.Plan{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	// Second run is a no-op, not a duplicate insert
	require.NoError(t, svc.EnsurePlans())
	require.NoError(t, db.Model(&models.Plan{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	free, err := svc.GetPlan(models.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 3, free.MonthlyAnalyses)
	assert.False(t, free.ExportEnabled)
}

func TestAnalysisQuota(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()
	require.NoError(t, svc.EnsurePlans())

	user := seedUser(t, db, models.PlanFree, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.CanRunAnalysis(user))
		require.NoError(t, svc.RecordAnalysis(user.ID))
		user.AnalysesUsed++
	}

	err := svc.CanRunAnalysis(user)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestQuotaPeriodRollover(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()
	require.NoError(t, svc.EnsurePlans())

	user := seedUser(t, db, models.PlanFree, 3)
	assert.ErrorIs(t, svc.CanRunAnalysis(user), ErrQuotaExceeded)

	// Age the usage period past a month and the counters reset
	stale := time.Now().UTC().AddDate(0, -1, -1)
	require.NoError(t, db.Model(user).Update("usage_period_start", stale).Error)
	user.UsagePeriodStart = stale

	require.NoError(t, svc.CanRunAnalysis(user))
	assert.Equal(t, 0, user.AnalysesUsed)

	var fresh models.User
	require.NoError(t, db.First(&fresh, "id = ?", user.ID).Error)
	assert.Equal(t, 0, fresh.AnalysesUsed)
	assert.Equal(t, 0, fresh.ComparisonsUsed)
	assert.True(t, fresh.UsagePeriodStart.After(stale))
}

func TestUnlimitedPlan(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()
	require.NoError(t, svc.EnsurePlans())

	user := seedUser(t, db, models.PlanTeam, 10000)
	assert.NoError(t, svc.CanRunAnalysis(user))
	assert.NoError(t, svc.CanRunComparison(user))
}

func TestComparisonQuota(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()
	require.NoError(t, svc.EnsurePlans())

	// Free plan has no comparison allowance at all
	freeUser := seedUser(t, db, models.PlanFree, 0)
	assert.ErrorIs(t, svc.CanRunComparison(freeUser), ErrQuotaExceeded)

	proUser := seedUser(t, db, models.PlanPro, 0)
	assert.NoError(t, svc.CanRunComparison(proUser))
}

func TestExportGating(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()
	require.NoError(t, svc.EnsurePlans())

	freeUser := seedUser(t, db, models.PlanFree, 0)
	assert.ErrorIs(t, svc.CanExport(freeUser), ErrExportNotAllowed)

	proUser := seedUser(t, db, models.PlanPro, 0)
	assert.NoError(t, svc.CanExport(proUser))
}

func TestStripeSurfaceDisabledWithoutKey(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService()
	require.NoError(t, svc.EnsurePlans())

	user := seedUser(t, db, models.PlanFree, 0)

	_, err := svc.CreateCheckoutSession(user, models.PlanPro)
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = svc.HandleWebhook([]byte("{}"), "sig")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
