package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/reviewinsight/backend/internal/models"
)

// ParseReport extracts an AnalysisReport from raw model output. Models wrap
// JSON in markdown fences or chat preamble often enough that a strict
// json.Unmarshal of the whole string loses tasks unnecessarily, so parsing
// falls back to locating the outermost JSON object before giving up.
func ParseReport(raw string) (*models.AnalysisReport, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var report models.AnalysisReport
	if err := json.Unmarshal([]byte(cleaned), &report); err == nil && report.Summary != "" {
		normalizeSentiment(&report.Sentiment)
		return &report, nil
	}

	// Strict decode failed or produced nothing useful. Pull fields out
	// individually so one malformed list does not sink the whole report.
	parsed := gjson.Parse(cleaned)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("model output is not a JSON object")
	}

	report = models.AnalysisReport{
		Summary:          parsed.Get("summary").String(),
		CriticalIssues:   parseIssues(parsed.Get("critical_issues")),
		ExperienceIssues: parseIssues(parsed.Get("experience_issues")),
		FeatureRequests:  parseIssues(parsed.Get("feature_requests")),
		Sentiment: models.SentimentBreakdown{
			Positive: parsed.Get("sentiment.positive").Float(),
			Neutral:  parsed.Get("sentiment.neutral").Float(),
			Negative: parsed.Get("sentiment.negative").Float(),
		},
	}
	if report.Summary == "" {
		return nil, fmt.Errorf("model output missing summary")
	}
	normalizeSentiment(&report.Sentiment)
	return &report, nil
}

// ParseComparison extracts a ComparisonResult from raw model output
func ParseComparison(raw string) (*models.ComparisonResult, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var result models.ComparisonResult
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil && result.Summary != "" {
		return &result, nil
	}

	parsed := gjson.Parse(cleaned)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("model output is not a JSON object")
	}
	result = models.ComparisonResult{
		Summary:    parsed.Get("summary").String(),
		AppAWins:   parseStrings(parsed.Get("app_a_wins")),
		AppBWins:   parseStrings(parsed.Get("app_b_wins")),
		SharedPain: parseStrings(parsed.Get("shared_pain")),
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("model output missing summary")
	}
	return &result, nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost {...} region, or "" when there is none.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func parseIssues(arr gjson.Result) []models.IssueItem {
	var items []models.IssueItem
	arr.ForEach(func(_, v gjson.Result) bool {
		item := models.IssueItem{
			Title:       v.Get("title").String(),
			Description: v.Get("description").String(),
			Severity:    v.Get("severity").String(),
			Mentions:    int(v.Get("mentions").Int()),
		}
		v.Get("examples").ForEach(func(_, ex gjson.Result) bool {
			item.Examples = append(item.Examples, ex.String())
			return true
		})
		if item.Title != "" {
			items = append(items, item)
		}
		return true
	})
	return items
}

func parseStrings(arr gjson.Result) []string {
	var out []string
	arr.ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// normalizeSentiment rescales percentages that do not sum to 100 and zeroes
// negative values. Models occasionally return fractions or sums of 99/101.
func normalizeSentiment(s *models.SentimentBreakdown) {
	if s.Positive < 0 {
		s.Positive = 0
	}
	if s.Neutral < 0 {
		s.Neutral = 0
	}
	if s.Negative < 0 {
		s.Negative = 0
	}
	total := s.Positive + s.Neutral + s.Negative
	if total == 0 {
		return
	}
	s.Positive = s.Positive / total * 100
	s.Neutral = s.Neutral / total * 100
	s.Negative = s.Negative / total * 100
}
