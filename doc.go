// Package backend provides the ReviewInsight API server.

// This package contains the main application entry point. The actual API
// documentation is organized into subpackages:

// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/models: Data models and database schemas
// - internal/auth: Authentication, OAuth and TOTP services
// - internal/scraper: App Store and Google Play review scraping
// - internal/analyzer: LLM-backed review analysis
// - internal/tasks: Background scrape-and-analyze job queue
// - internal/billing: Plans, quotas and Stripe integration
// - internal/export: Report export rendering (JSON/CSV)
// - internal/search: Elasticsearch app browse
// - internal/storage: File storage (S3) operations
// - internal/database: Database connection and migrations
// - internal/email: SES transactional email
// - internal/middleware: HTTP middleware (rate limiting, etc.)
// - internal/seed: Development and test data seeding

// See the individual package documentation for detailed API reference.
package backend
