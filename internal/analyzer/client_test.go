package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewinsight/backend/internal/models"
)

type fakeCompleter struct {
	lastRequest openai.ChatCompletionRequest
	content     string
	err         error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
		Usage: openai.Usage{PromptTokens: 100, CompletionTokens: 50},
	}, nil
}

func makeReviews(n int) []models.Review {
	reviews := make([]models.Review, n)
	for i := range reviews {
		reviews[i] = models.Review{
			Rating:     1 + i%5,
			Title:      "review",
			Body:       "body",
			ReviewedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		}
	}
	return reviews
}

func TestAnalyzeFillsReportMetadata(t *testing.T) {
	fake := &fakeCompleter{content: goodReport}
	svc, err := NewService(WithClient(fake), WithModel("test-model"))
	require.NoError(t, err)

	report, err := svc.Analyze(context.Background(), "TestApp", makeReviews(10))
	require.NoError(t, err)

	assert.Equal(t, 10, report.ReviewsAnalyzed)
	assert.Equal(t, "test-model", report.Model)
	assert.Equal(t, "test-model", fake.lastRequest.Model)
	require.Len(t, fake.lastRequest.Messages, 2)
	assert.Contains(t, fake.lastRequest.Messages[1].Content, "TestApp")
}

func TestAnalyzeRequiresReviews(t *testing.T) {
	svc, err := NewService(WithClient(&fakeCompleter{}))
	require.NoError(t, err)

	_, err = svc.Analyze(context.Background(), "TestApp", nil)
	assert.Error(t, err)
}

func TestAnalyzeSamplesLargeBatches(t *testing.T) {
	fake := &fakeCompleter{content: goodReport}
	svc, err := NewService(WithClient(fake))
	require.NoError(t, err)

	report, err := svc.Analyze(context.Background(), "TestApp", makeReviews(500))
	require.NoError(t, err)
	assert.Equal(t, maxReviewsPerBatch, report.ReviewsAnalyzed)
}

func TestSampleReviewsPrefersRecentAndOrdersByRating(t *testing.T) {
	reviews := makeReviews(200)
	sample := SampleReviews(reviews, 100)

	require.Len(t, sample, 100)
	for i := 1; i < len(sample); i++ {
		assert.GreaterOrEqual(t, sample[i].Rating, sample[i-1].Rating)
	}
	cutoff := reviews[100].ReviewedAt
	for _, r := range sample {
		assert.False(t, r.ReviewedAt.Before(cutoff), "sample should only hold the most recent half")
	}
}

func TestCompareLabelsBothApps(t *testing.T) {
	fake := &fakeCompleter{content: `{"summary": "A is steadier.", "app_a_wins": ["stability"], "app_b_wins": [], "shared_pain": []}`}
	svc, err := NewService(WithClient(fake))
	require.NoError(t, err)

	result, err := svc.Compare(context.Background(), "Alpha", makeReviews(5), "Beta", makeReviews(5))
	require.NoError(t, err)
	assert.Equal(t, "A is steadier.", result.Summary)
	assert.Contains(t, fake.lastRequest.Messages[1].Content, "APP A: Alpha")
	assert.Contains(t, fake.lastRequest.Messages[1].Content, "APP B: Beta")
}
