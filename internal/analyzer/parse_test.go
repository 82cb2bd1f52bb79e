package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodReport = `{
	"summary": "Users like the core feature set but the last release broke login for many.",
	"critical_issues": [
		{"title": "Login loop after update", "description": "App returns to the login screen after entering credentials.", "severity": "high", "mentions": 14, "examples": ["Can't log in since the update"]}
	],
	"experience_issues": [
		{"title": "Slow startup", "description": "Cold start takes several seconds.", "severity": "medium", "mentions": 6}
	],
	"feature_requests": [
		{"title": "Dark mode", "description": "Users want a dark theme.", "severity": "low", "mentions": 9}
	],
	"sentiment": {"positive": 40, "neutral": 25, "negative": 35}
}`

func TestParseReportPlainJSON(t *testing.T) {
	report, err := ParseReport(goodReport)
	require.NoError(t, err)

	assert.Contains(t, report.Summary, "broke login")
	require.Len(t, report.CriticalIssues, 1)
	assert.Equal(t, "Login loop after update", report.CriticalIssues[0].Title)
	assert.Equal(t, 14, report.CriticalIssues[0].Mentions)
	assert.Equal(t, []string{"Can't log in since the update"}, report.CriticalIssues[0].Examples)
	assert.Equal(t, float64(35), report.Sentiment.Negative)
}

func TestParseReportMarkdownFenced(t *testing.T) {
	report, err := ParseReport("```json\n" + goodReport + "\n```")
	require.NoError(t, err)
	assert.Len(t, report.FeatureRequests, 1)
}

func TestParseReportSurroundingProse(t *testing.T) {
	raw := "Here is the analysis you asked for:\n\n" + goodReport + "\n\nLet me know if you need more detail."
	report, err := ParseReport(raw)
	require.NoError(t, err)
	assert.Len(t, report.ExperienceIssues, 1)
}

func TestParseReportTolerantFallback(t *testing.T) {
	// Trailing comma makes encoding/json reject this, gjson does not
	raw := `{
		"summary": "Mostly positive with one recurring crash.",
		"critical_issues": [{"title": "Crash on export", "severity": "high", "mentions": 3},],
		"sentiment": {"positive": 70, "neutral": 20, "negative": 10}
	}`
	report, err := ParseReport(raw)
	require.NoError(t, err)
	assert.Equal(t, "Mostly positive with one recurring crash.", report.Summary)
	require.Len(t, report.CriticalIssues, 1)
	assert.Equal(t, "Crash on export", report.CriticalIssues[0].Title)
}

func TestParseReportNormalizesSentiment(t *testing.T) {
	raw := `{"summary": "ok", "sentiment": {"positive": 2, "neutral": 1, "negative": 1}}`
	report, err := ParseReport(raw)
	require.NoError(t, err)
	assert.InDelta(t, 50, report.Sentiment.Positive, 0.01)
	assert.InDelta(t, 25, report.Sentiment.Neutral, 0.01)
	assert.InDelta(t, 25, report.Sentiment.Negative, 0.01)
}

func TestParseReportRejectsGarbage(t *testing.T) {
	_, err := ParseReport("Sorry, I cannot analyze these reviews.")
	assert.Error(t, err)

	_, err = ParseReport(`{"critical_issues": []}`)
	assert.Error(t, err, "report without a summary is useless")
}

func TestParseComparison(t *testing.T) {
	raw := "```\n" + `{
		"summary": "APP A is more stable, APP B moves faster on features.",
		"app_a_wins": ["stability", "battery use"],
		"app_b_wins": ["feature velocity"],
		"shared_pain": ["sync conflicts"]
	}` + "\n```"
	result, err := ParseComparison(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"stability", "battery use"}, result.AppAWins)
	assert.Equal(t, []string{"sync conflicts"}, result.SharedPain)
}
