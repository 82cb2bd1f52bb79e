package handlers

import (
	"context"
	"time"

	"github.com/reviewinsight/backend/internal/auth"
	"github.com/reviewinsight/backend/internal/billing"
	"github.com/reviewinsight/backend/internal/export"
	"github.com/reviewinsight/backend/internal/search"
	"github.com/reviewinsight/backend/internal/tasks"
)

// ReportCache is the slice of the Redis client the report cache uses
type ReportCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EmailSender is the slice of the email service the handlers use
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, toEmail, verifyToken string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, resetToken string) error
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	authService *auth.Service
	queue       *tasks.TaskQueue
	billing     *billing.Service
	exporter    *export.Service
	search      *search.Client
	email       EmailSender
	cache       ReportCache
}

// NewHandlers creates a new handlers instance
func NewHandlers(authService *auth.Service, queue *tasks.TaskQueue, billingService *billing.Service) *Handlers {
	return &Handlers{
		authService: authService,
		queue:       queue,
		billing:     billingService,
	}
}

// SetSearchClient sets the Elasticsearch search client
func (h *Handlers) SetSearchClient(searchClient *search.Client) {
	h.search = searchClient
}

// SetExportService sets the report export service
func (h *Handlers) SetExportService(exporter *export.Service) {
	h.exporter = exporter
}

// SetCacheClient sets the Redis client backing the report cache
func (h *Handlers) SetCacheClient(redisClient ReportCache) {
	h.cache = redisClient
}

// SetEmailService sets the email sender, SES in production
func (h *Handlers) SetEmailService(emailService EmailSender) {
	h.email = emailService
}
