package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
	"github.com/reviewinsight/backend/internal/search"
)

// Seeder handles database seeding operations
type Seeder struct {
	db     *gorm.DB
	search *search.Client
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	_ = gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{db: db}
}

// SetSearchClient sets the Elasticsearch client so seeded apps show up in search
func (s *Seeder) SetSearchClient(sc *search.Client) {
	s.search = sc
}

// SeedDev seeds the development database with realistic data
func (s *Seeder) SeedDev() error {
	log := func(msg string) {
		logger.Log.Info(msg)
	}

	log("Creating users...")
	users, err := s.seedUsers(50)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	log("Creating apps...")
	apps, err := s.seedApps(30)
	if err != nil {
		return fmt.Errorf("failed to seed apps: %w", err)
	}

	log("Creating reviews...")
	if err := s.seedReviews(apps, 100); err != nil {
		return fmt.Errorf("failed to seed reviews: %w", err)
	}

	log("Creating completed analyses...")
	if err := s.seedAnalysisTasks(users, apps, 40); err != nil {
		return fmt.Errorf("failed to seed analysis tasks: %w", err)
	}

	if s.search != nil {
		log("Indexing apps in Elasticsearch...")
		if err := s.syncToSearch(apps); err != nil {
			logger.Log.Warn("Failed to index seeded apps", zap.Error(err))
		}
	} else {
		log("Search client not configured - skipping index sync")
	}

	return nil
}

// SeedTest seeds the test database with minimal, predictable data
func (s *Seeder) SeedTest() error {
	log := func(msg string) {
		logger.Log.Info(msg)
	}

	log("Creating test users...")
	testUserSpecs := []struct {
		email       string
		displayName string
		planID      string
	}{
		{"alice@example.com", "Alice Smith", models.PlanFree},
		{"bob@example.com", "Bob Johnson", models.PlanPro},
		{"charlie@example.com", "Charlie Brown", models.PlanTeam},
	}

	var users []models.User
	for _, spec := range testUserSpecs {
		var user models.User
		err := s.db.Where("email = ?", spec.email).First(&user).Error
		if err == nil {
			users = append(users, user)
			continue
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		hashedPasswordStr := string(hashedPassword)

		user = models.User{
			Email:         spec.email,
			DisplayName:   spec.displayName,
			PasswordHash:  &hashedPasswordStr,
			EmailVerified: true,
			PlanID:        spec.planID,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create test user %s: %w", spec.email, err)
		}
		users = append(users, user)
	}

	log("Creating test apps...")
	apps, err := s.seedApps(4)
	if err != nil {
		return fmt.Errorf("failed to seed apps: %w", err)
	}

	log("Creating test reviews...")
	if err := s.seedReviews(apps, 20); err != nil {
		return fmt.Errorf("failed to seed reviews: %w", err)
	}

	if err := s.seedAnalysisTasks(users, apps, 3); err != nil {
		return fmt.Errorf("failed to seed analysis tasks: %w", err)
	}

	return nil
}

// Clean removes all seed data (use with caution!)
func (s *Seeder) Clean() error {
	// Delete in reverse order of dependencies
	if err := s.db.Exec("DELETE FROM export_records").Error; err != nil {
		return fmt.Errorf("failed to clean export_records: %w", err)
	}
	if err := s.db.Exec("DELETE FROM comparison_tasks").Error; err != nil {
		return fmt.Errorf("failed to clean comparison_tasks: %w", err)
	}
	if err := s.db.Exec("DELETE FROM analysis_tasks").Error; err != nil {
		return fmt.Errorf("failed to clean analysis_tasks: %w", err)
	}
	if err := s.db.Exec("DELETE FROM reviews").Error; err != nil {
		return fmt.Errorf("failed to clean reviews: %w", err)
	}
	if err := s.db.Exec("DELETE FROM apps").Error; err != nil {
		return fmt.Errorf("failed to clean apps: %w", err)
	}
	if err := s.db.Exec("DELETE FROM subscriptions").Error; err != nil {
		return fmt.Errorf("failed to clean subscriptions: %w", err)
	}
	if err := s.db.Exec("DELETE FROM password_resets").Error; err != nil {
		return fmt.Errorf("failed to clean password_resets: %w", err)
	}
	if err := s.db.Exec("DELETE FROM oauth_providers").Error; err != nil {
		return fmt.Errorf("failed to clean oauth_providers: %w", err)
	}
	if err := s.db.Exec("DELETE FROM users").Error; err != nil {
		return fmt.Errorf("failed to clean users: %w", err)
	}

	return nil
}

// seedUsers creates users with realistic data
func (s *Seeder) seedUsers(count int) ([]models.User, error) {
	var users []models.User

	// Check if we already have seed users (users with @example.com email)
	var seedUserCount int64
	s.db.Model(&models.User{}).Where("email LIKE '%@example.com'").Count(&seedUserCount)
	if seedUserCount >= int64(count) {
		if err := s.db.Find(&users).Error; err != nil {
			return nil, err
		}
		logger.Log.Info("Found existing users, skipping creation",
			zap.Int("total_users", len(users)),
			zap.Int64("seed_users", seedUserCount))
		return users, nil
	}

	plans := []string{models.PlanFree, models.PlanFree, models.PlanFree, models.PlanPro, models.PlanTeam}

	for i := 0; i < count; i++ {
		email := fmt.Sprintf("%s%d@example.com", gofakeit.Username(), i)

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hashedPasswordStr := string(hashedPassword)

		periodStart := time.Now().UTC().AddDate(0, 0, -rand.Intn(28))
		user := models.User{
			Email:            email,
			DisplayName:      gofakeit.Name(),
			Company:          gofakeit.Company(),
			PasswordHash:     &hashedPasswordStr,
			EmailVerified:    rand.Float32() < 0.8,
			PlanID:           plans[rand.Intn(len(plans))],
			AnalysesUsed:     rand.Intn(3),
			UsagePeriodStart: periodStart,
		}

		if err := s.db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, user)
	}

	logger.Log.Info("Seeded users", zap.Int("count", len(users)))
	return users, nil
}

// seedApps creates app listings across both storefronts
func (s *Seeder) seedApps(count int) ([]models.App, error) {
	var apps []models.App

	categories := []string{"Productivity", "Finance", "Health & Fitness", "Social", "Games", "Education", "Travel", "Photo & Video"}

	for i := 0; i < count; i++ {
		platform := models.PlatformIOS
		storeID := fmt.Sprintf("%d", 100000000+rand.Intn(900000000))
		storeURL := fmt.Sprintf("https://apps.apple.com/us/app/seeded/id%s", storeID)
		if i%2 == 1 {
			platform = models.PlatformAndroid
			storeID = fmt.Sprintf("com.%s.%s", gofakeit.Word(), gofakeit.Word())
			storeURL = fmt.Sprintf("https://play.google.com/store/apps/details?id=%s", storeID)
		}

		scrapedAt := time.Now().UTC().Add(-time.Duration(rand.Intn(72)) * time.Hour)
		app := models.App{
			Platform:      platform,
			StoreID:       storeID,
			StoreURL:      storeURL,
			Country:       "us",
			Name:          gofakeit.AppName(),
			Developer:     gofakeit.Company(),
			Category:      categories[rand.Intn(len(categories))],
			IconURL:       fmt.Sprintf("https://picsum.photos/seed/%s/128", storeID),
			Rating:        2.5 + rand.Float64()*2.5,
			RatingCount:   rand.Intn(50000),
			LastScrapedAt: &scrapedAt,
		}

		if err := s.db.Create(&app).Error; err != nil {
			return nil, fmt.Errorf("failed to create app: %w", err)
		}
		apps = append(apps, app)
	}

	logger.Log.Info("Seeded apps", zap.Int("count", len(apps)))
	return apps, nil
}

// seedReviews creates reviews for each app, skewed toward the extremes the
// way real store reviews are
func (s *Seeder) seedReviews(apps []models.App, perApp int) error {
	total := 0
	for _, app := range apps {
		count := perApp/2 + rand.Intn(perApp)
		for i := 0; i < count; i++ {
			rating := weightedRating()
			review := models.Review{
				AppID:         app.ID,
				StoreReviewID: fmt.Sprintf("seed-%s-%d", app.ID[:8], i),
				Author:        gofakeit.Username(),
				Rating:        rating,
				Title:         gofakeit.Sentence(4),
				Body:          reviewBody(rating),
				AppVersion:    fmt.Sprintf("%d.%d.%d", 1+rand.Intn(5), rand.Intn(10), rand.Intn(10)),
				Country:       "us",
				ReviewedAt:    time.Now().UTC().Add(-time.Duration(rand.Intn(90*24)) * time.Hour),
			}
			if err := s.db.Create(&review).Error; err != nil {
				return fmt.Errorf("failed to create review: %w", err)
			}
			total++
		}
		if err := s.db.Model(&models.App{}).Where("id = ?", app.ID).
			Update("review_count", count).Error; err != nil {
			return fmt.Errorf("failed to update review count: %w", err)
		}
	}

	logger.Log.Info("Seeded reviews", zap.Int("count", total))
	return nil
}

// seedAnalysisTasks creates completed analyses with plausible reports so the
// dashboard has something to show straight after seeding
func (s *Seeder) seedAnalysisTasks(users []models.User, apps []models.App, count int) error {
	for i := 0; i < count; i++ {
		user := users[rand.Intn(len(users))]
		app := apps[rand.Intn(len(apps))]

		started := time.Now().UTC().Add(-time.Duration(rand.Intn(14*24)) * time.Hour)
		completed := started.Add(time.Duration(30+rand.Intn(90)) * time.Second)

		task := models.AnalysisTask{
			UserID:      user.ID,
			AppID:       app.ID,
			Status:      models.TaskStatusCompleted,
			Progress:    100,
			Step:        "done",
			Result:      fakeReport(app.Name),
			StartedAt:   &started,
			CompletedAt: &completed,
		}
		if err := s.db.Create(&task).Error; err != nil {
			return fmt.Errorf("failed to create analysis task: %w", err)
		}
	}

	logger.Log.Info("Seeded analysis tasks", zap.Int("count", count))
	return nil
}

func (s *Seeder) syncToSearch(apps []models.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, app := range apps {
		if err := s.search.IndexApp(ctx, app.ID, search.AppToSearchDoc(app)); err != nil {
			return err
		}
	}
	return nil
}

// weightedRating skews toward 1 and 5 stars, matching real store distributions
func weightedRating() int {
	r := rand.Float32()
	switch {
	case r < 0.35:
		return 5
	case r < 0.55:
		return 4
	case r < 0.65:
		return 3
	case r < 0.75:
		return 2
	default:
		return 1
	}
}

func reviewBody(rating int) string {
	if rating >= 4 {
		return gofakeit.Paragraph(1, 2, 12, " ")
	}
	complaints := []string{
		"Crashes every time I open it since the last update.",
		"Constantly logs me out and I have to reset my password.",
		"The subscription price doubled with no warning.",
		"Sync stopped working between my phone and tablet.",
		"Support never answered my ticket.",
	}
	return complaints[rand.Intn(len(complaints))] + " " + gofakeit.Sentence(8)
}

func fakeReport(appName string) *models.AnalysisReport {
	return &models.AnalysisReport{
		Summary: fmt.Sprintf("Users like %s overall but recent releases introduced stability problems.", appName),
		CriticalIssues: []models.IssueItem{
			{Title: "Crash on launch", Description: "App crashes on open after updating", Severity: "high", Mentions: 10 + rand.Intn(40)},
		},
		ExperienceIssues: []models.IssueItem{
			{Title: "Confusing onboarding", Description: "New users struggle to find sign-in", Severity: "medium", Mentions: 5 + rand.Intn(20)},
		},
		FeatureRequests: []models.IssueItem{
			{Title: "Dark mode", Description: "Frequently requested appearance option", Severity: "low", Mentions: 3 + rand.Intn(15)},
		},
		Sentiment: models.SentimentBreakdown{
			Positive: 55, Neutral: 20, Negative: 25,
		},
		ReviewsAnalyzed: 150 + rand.Intn(200),
	}
}
