package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/reviewinsight/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB holds the database connection
var DB *gorm.DB

// Initialize creates and configures the database connection
func Initialize() error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		// Fallback to individual components
		host := getEnvOrDefault("DB_HOST", "localhost")
		port := getEnvOrDefault("DB_PORT", "5432")
		user := getEnvOrDefault("DB_USER", "postgres")
		password := getEnvOrDefault("DB_PASSWORD", "")
		dbname := getEnvOrDefault("DB_NAME", "reviewinsight")
		sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	}

	gormLogger := logger.Default
	if os.Getenv("ENVIRONMENT") == "development" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	log.Println("✅ Database connected successfully")

	return nil
}

// Migrate runs auto-migration for all models and seeds the built-in plans
func Migrate() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	err := DB.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error
	if err != nil {
		log.Printf("Warning: Could not create uuid-ossp extension: %v", err)
	}

	err = DB.AutoMigrate(
		&models.User{},
		&models.OAuthProvider{},
		&models.PasswordReset{},
		&models.App{},
		&models.Review{},
		&models.AnalysisTask{},
		&models.ComparisonTask{},
		&models.Plan{},
		&models.Subscription{},
		&models.ExportRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if err := seedPlans(); err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}

	log.Println("✅ Database migrations completed")
	return nil
}

// createIndexes creates performance indexes
func createIndexes() error {
	// User indexes
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_users_email_lower ON users (LOWER(email))")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_users_stripe_customer ON users (stripe_customer_id) WHERE stripe_customer_id IS NOT NULL")

	// One app row per storefront listing
	DB.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_apps_platform_store ON apps (platform, store_id) WHERE deleted_at IS NULL")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_apps_category ON apps (category)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_apps_last_scraped ON apps (last_scraped_at)")

	// One review row per storefront review - dedup boundary for repeat scrapes
	DB.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_app_store_review ON reviews (app_id, store_review_id)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_reviews_app_reviewed ON reviews (app_id, reviewed_at DESC)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_reviews_app_rating ON reviews (app_id, rating)")

	// Task polling queries
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_analysis_tasks_user_created ON analysis_tasks (user_id, created_at DESC)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_analysis_tasks_app_status ON analysis_tasks (app_id, status)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_comparison_tasks_user_created ON comparison_tasks (user_id, created_at DESC)")

	// OAuth provider indexes
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_oauth_providers_unique ON oauth_providers (provider, provider_user_id)")
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_oauth_providers_email ON oauth_providers (email)")

	// Subscription lookups from Stripe webhooks
	DB.Exec("CREATE INDEX IF NOT EXISTS idx_subscriptions_user_status ON subscriptions (user_id, status)")

	DB.Exec("CREATE INDEX IF NOT EXISTS idx_export_records_user ON export_records (user_id, created_at DESC)")

	return nil
}

// seedPlans upserts the built-in plan tiers without clobbering Stripe price IDs
// that operators set by hand
func seedPlans() error {
	for _, plan := range models.DefaultPlans() {
		var existing models.Plan
		err := DB.Where("id = ?", plan.ID).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := DB.Create(&plan).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Health checks database connectivity
func Health() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// getEnvOrDefault returns environment variable or default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
