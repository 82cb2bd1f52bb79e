package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/reviewinsight/backend/internal/cache"
	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/metrics"
	"github.com/reviewinsight/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrUnsupportedURL is returned for URLs that are not App Store or Play Store listings
	ErrUnsupportedURL = errors.New("unsupported store URL")

	// ErrThrottled is returned when the app was scraped within the cooldown window
	ErrThrottled = errors.New("app was scraped recently")
)

var (
	appStoreURLRe = regexp.MustCompile(`^https?://apps\.apple\.com/([a-z]{2})/app/(?:[^/]+/)?id(\d+)`)
	playStoreURLRe = regexp.MustCompile(`^https?://play\.google\.com/store/apps/details`)
)

// AppRef identifies a storefront listing parsed from a submitted URL
type AppRef struct {
	Platform models.Platform
	StoreID  string
	Country  string
}

// ScrapedReview is a review fetched from a storefront, before persistence
type ScrapedReview struct {
	StoreReviewID string
	Author        string
	Rating        int
	Title         string
	Body          string
	AppVersion    string
	Country       string
	ReviewedAt    time.Time
}

// AppMetadata is the storefront listing metadata
type AppMetadata struct {
	Name        string
	Developer   string
	Category    string
	IconURL     string
	Rating      float64
	RatingCount int
	StoreURL    string
}

// Service fetches app metadata and reviews from the iOS App Store and Google Play
type Service struct {
	httpClient *http.Client
	redis      *cache.RedisClient

	// Outbound request pacing, per storefront
	appleLimiter *rate.Limiter
	playLimiter  *rate.Limiter

	// Page caps keep a single scrape bounded
	maxPages     int
	maxPlayBatch int
	countries    []string
	cooldown     time.Duration

	// Base URLs are overridable in tests
	itunesBaseURL string
	rssBaseURL    string
	playBaseURL   string
}

// Option configures a Service
type Option func(*Service)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithBaseURLs overrides storefront endpoints, used by tests
func WithBaseURLs(itunes, rss, play string) Option {
	return func(s *Service) {
		s.itunesBaseURL = itunes
		s.rssBaseURL = rss
		s.playBaseURL = play
	}
}

// WithCountries sets the extra country codes looped over for Apple review feeds
func WithCountries(countries []string) Option {
	return func(s *Service) { s.countries = countries }
}

// WithCooldown sets the repeat-scrape suppression window
func WithCooldown(d time.Duration) Option {
	return func(s *Service) { s.cooldown = d }
}

// NewService creates a scraper service
func NewService(redis *cache.RedisClient, opts ...Option) *Service {
	s := &Service{
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		redis:         redis,
		appleLimiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		playLimiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		maxPages:      10,
		maxPlayBatch:  3,
		countries:     nil,
		cooldown:      15 * time.Minute,
		itunesBaseURL: "https://itunes.apple.com",
		rssBaseURL:    "https://itunes.apple.com",
		playBaseURL:   "https://play.google.com",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ParseStoreURL extracts the platform, store ID and country from a submitted URL
func ParseStoreURL(raw string) (*AppRef, error) {
	raw = strings.TrimSpace(raw)

	if m := appStoreURLRe.FindStringSubmatch(raw); m != nil {
		return &AppRef{
			Platform: models.PlatformIOS,
			StoreID:  m[2],
			Country:  m[1],
		}, nil
	}

	if playStoreURLRe.MatchString(raw) {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, ErrUnsupportedURL
		}
		pkg := parsed.Query().Get("id")
		if pkg == "" {
			return nil, ErrUnsupportedURL
		}
		country := parsed.Query().Get("gl")
		if country == "" {
			country = "us"
		}
		return &AppRef{
			Platform: models.PlatformAndroid,
			StoreID:  pkg,
			Country:  strings.ToLower(country),
		}, nil
	}

	return nil, ErrUnsupportedURL
}

// FetchMetadata fetches listing metadata, retried with exponential backoff.
// This is the first outbound call of every analysis - a transient storefront
// hiccup here should not fail the whole task.
func (s *Service) FetchMetadata(ctx context.Context, ref *AppRef) (*AppMetadata, error) {
	var meta *AppMetadata

	err := withRetry(ctx, 3, time.Second, "fetch app metadata", func() error {
		var err error
		switch ref.Platform {
		case models.PlatformIOS:
			meta, err = s.fetchAppleMetadata(ctx, ref)
		case models.PlatformAndroid:
			meta, err = s.fetchPlayMetadata(ctx, ref)
		default:
			return fmt.Errorf("unknown platform %q", ref.Platform)
		}
		return err
	})
	if err != nil {
		metrics.Get().StorefrontErrorsTotal.WithLabelValues(string(ref.Platform), "metadata").Inc()
		return nil, err
	}

	return meta, nil
}

// FetchReviews fetches reviews from the storefront, deduplicated against
// seen, which maps store review IDs already persisted for this app.
// Pagination stops at the page cap or when a page yields nothing new.
func (s *Service) FetchReviews(ctx context.Context, ref *AppRef, seen map[string]bool) ([]ScrapedReview, error) {
	start := time.Now()
	m := metrics.Get()

	if seen == nil {
		seen = make(map[string]bool)
	}

	var (
		reviews []ScrapedReview
		err     error
	)

	switch ref.Platform {
	case models.PlatformIOS:
		reviews, err = s.fetchAppleReviews(ctx, ref, seen)
	case models.PlatformAndroid:
		reviews, err = s.fetchPlayReviews(ctx, ref, seen)
	default:
		return nil, fmt.Errorf("unknown platform %q", ref.Platform)
	}

	if err != nil {
		m.ScrapesTotal.WithLabelValues(string(ref.Platform), "error").Inc()
		m.StorefrontErrorsTotal.WithLabelValues(string(ref.Platform), "reviews").Inc()
		return nil, err
	}

	m.ScrapesTotal.WithLabelValues(string(ref.Platform), "ok").Inc()
	m.ScrapeDuration.WithLabelValues(string(ref.Platform)).Observe(time.Since(start).Seconds())
	m.ReviewsScrapedTotal.WithLabelValues(string(ref.Platform)).Add(float64(len(reviews)))

	logger.Log.Info("Scrape completed",
		zap.String("platform", string(ref.Platform)),
		zap.String("store_id", ref.StoreID),
		zap.Int("new_reviews", len(reviews)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return reviews, nil
}

// CheckThrottle returns ErrThrottled when the app was scraped within the
// cooldown window. On success it marks the app as recently scraped.
// Redis being down degrades to "not throttled" - the caller still has the
// DB last_scraped_at timestamp as a backstop.
func (s *Service) CheckThrottle(ctx context.Context, appID string, platform models.Platform) error {
	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("scrape:recent:%s", appID)

	n, err := s.redis.Exists(ctx, key)
	if err != nil {
		logger.Log.Warn("Scrape throttle check failed, allowing scrape", zap.Error(err))
		return nil
	}
	if n > 0 {
		metrics.Get().ScrapeThrottledTotal.WithLabelValues(string(platform)).Inc()
		return ErrThrottled
	}

	if err := s.redis.SetEx(ctx, key, time.Now().Unix(), s.cooldown); err != nil {
		logger.Log.Warn("Failed to set scrape throttle key", zap.Error(err))
	}

	return nil
}

// Cooldown returns the repeat-scrape suppression window
func (s *Service) Cooldown() time.Duration {
	return s.cooldown
}

// dedupe appends r to out unless its store review ID was already seen
func dedupe(out []ScrapedReview, r ScrapedReview, seen map[string]bool) []ScrapedReview {
	if r.StoreReviewID == "" || seen[r.StoreReviewID] {
		return out
	}
	seen[r.StoreReviewID] = true
	return append(out, r)
}
