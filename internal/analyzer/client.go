package analyzer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/metrics"
	"github.com/reviewinsight/backend/internal/models"
)

const (
	defaultModel       = "gpt-4o-mini"
	maxReviewsPerBatch = 100
	maxBodyRunes       = 600
)

// chatCompleter is the slice of the OpenAI client the analyzer uses.
// Tests substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Service talks to the LLM and turns raw reviews into structured reports.
type Service struct {
	client chatCompleter
	model  string
}

// Option configures a Service
type Option func(*Service)

// WithClient replaces the OpenAI client, used by tests
func WithClient(c chatCompleter) Option {
	return func(s *Service) { s.client = c }
}

// WithModel overrides the completion model
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// NewService builds an analyzer from OPENAI_API_KEY, OPENAI_BASE_URL and
// OPENAI_MODEL. A missing API key is an error: analysis is the product.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{model: defaultModel}
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		s.model = m
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
		cfg := openai.DefaultConfig(apiKey)
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			cfg.BaseURL = base
		}
		s.client = openai.NewClientWithConfig(cfg)
	}

	return s, nil
}

// Model returns the completion model in use
func (s *Service) Model() string {
	return s.model
}

// Analyze sends a sample of reviews to the model and parses the structured
// report out of the response. The returned report always has ReviewsAnalyzed
// and Model filled in.
func (s *Service) Analyze(ctx context.Context, appName string, reviews []models.Review) (*models.AnalysisReport, error) {
	if len(reviews) == 0 {
		return nil, fmt.Errorf("no reviews to analyze")
	}

	sample := SampleReviews(reviews, maxReviewsPerBatch)

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: formatReviews(appName, sample)},
		},
		Temperature: 0.2,
	})
	metrics.Get().AnalysisDuration.WithLabelValues(s.model).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	recordUsage(s.model, resp.Usage)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	report, err := ParseReport(resp.Choices[0].Message.Content)
	if err != nil {
		logger.Log.Warn("Model returned unparseable report",
			zap.String("model", s.model),
			zap.Error(err))
		return nil, err
	}

	report.ReviewsAnalyzed = len(sample)
	report.Model = s.model
	return report, nil
}

// Compare runs the two-app comparison prompt
func (s *Service) Compare(ctx context.Context, nameA string, reviewsA []models.Review, nameB string, reviewsB []models.Review) (*models.ComparisonResult, error) {
	if len(reviewsA) == 0 || len(reviewsB) == 0 {
		return nil, fmt.Errorf("both apps need reviews to compare")
	}

	half := maxReviewsPerBatch / 2
	var b strings.Builder
	b.WriteString("=== APP A: " + nameA + " ===\n")
	writeReviewLines(&b, SampleReviews(reviewsA, half))
	b.WriteString("\n=== APP B: " + nameB + " ===\n")
	writeReviewLines(&b, SampleReviews(reviewsB, half))

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: comparisonSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		Temperature: 0.2,
	})
	metrics.Get().AnalysisDuration.WithLabelValues(s.model).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	recordUsage(s.model, resp.Usage)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return ParseComparison(resp.Choices[0].Message.Content)
}

// SampleReviews picks up to limit reviews, most recent first, then reorders
// them so low ratings lead. Recency keeps the report current, the rating
// order keeps problem reports from being drowned out by five-star noise.
func SampleReviews(reviews []models.Review, limit int) []models.Review {
	sample := make([]models.Review, len(reviews))
	copy(sample, reviews)

	sort.SliceStable(sample, func(i, j int) bool {
		return sample[i].ReviewedAt.After(sample[j].ReviewedAt)
	})
	if len(sample) > limit {
		sample = sample[:limit]
	}
	sort.SliceStable(sample, func(i, j int) bool {
		return sample[i].Rating < sample[j].Rating
	})
	return sample
}

func formatReviews(appName string, reviews []models.Review) string {
	var b strings.Builder
	fmt.Fprintf(&b, "App: %s\nReviews (%d):\n\n", appName, len(reviews))
	writeReviewLines(&b, reviews)
	return b.String()
}

func writeReviewLines(b *strings.Builder, reviews []models.Review) {
	for i, r := range reviews {
		body := r.Body
		if runes := []rune(body); len(runes) > maxBodyRunes {
			body = string(runes[:maxBodyRunes]) + "…"
		}
		fmt.Fprintf(b, "%d. [%d/5] %s\n%s\n\n", i+1, r.Rating, r.Title, body)
	}
}

func recordUsage(model string, usage openai.Usage) {
	m := metrics.Get()
	m.LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	m.LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}
