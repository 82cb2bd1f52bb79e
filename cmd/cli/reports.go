package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var waitForResult bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <store-url>",
	Short: "Start an analysis for an app store URL",
	Long: `Start an analysis for an App Store or Google Play listing URL.
The backend scrapes recent reviews and produces a structured report.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startAnalysis(args[0])
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List and fetch analysis reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your analysis tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listReports()
	},
}

var reportsGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Fetch a finished report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getReport(args[0])
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&waitForResult, "wait", false, "Poll until the report is ready")
	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsGetCmd)
}

func startAnalysis(storeURL string) error {
	payload := map[string]interface{}{"url": storeURL}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	body, err := apiRequest("POST", "/api/v1/analyze", bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}

	var result struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if output == "json" && !waitForResult {
		fmt.Println(string(body))
		return nil
	}

	fmt.Printf("✓ Analysis started: %s\n", result.TaskID)

	if !waitForResult {
		fmt.Printf("  Poll with: reviewinsight reports get %s\n", result.TaskID)
		return nil
	}

	return pollTask(result.TaskID)
}

func pollTask(taskID string) error {
	for {
		time.Sleep(3 * time.Second)

		body, err := apiRequest("GET", "/api/v1/tasks/"+taskID, nil)
		if err != nil {
			return err
		}

		var task struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Step     string `json:"step"`
		}
		if err := json.Unmarshal(body, &task); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		switch task.Status {
		case "completed":
			fmt.Println("✓ Analysis complete")
			return getReport(taskID)
		case "failed":
			return fmt.Errorf("analysis failed at step %q", task.Step)
		default:
			fmt.Printf("  %s (%d%%)\n", task.Step, task.Progress)
		}
	}
}

func listReports() error {
	body, err := apiRequest("GET", "/api/v1/reports", nil)
	if err != nil {
		return err
	}

	if output == "json" {
		fmt.Println(string(body))
		return nil
	}

	var result struct {
		Reports []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			App    struct {
				Name     string `json:"name"`
				Platform string `json:"platform"`
			} `json:"app"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"reports"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Total == 0 {
		fmt.Println("No analyses yet. Start one with: reviewinsight analyze <store-url>")
		return nil
	}

	for _, r := range result.Reports {
		fmt.Printf("%s  %-10s  %s (%s)  %s\n",
			r.ID, r.Status, r.App.Name, r.App.Platform, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%d total\n", result.Total)
	return nil
}

func getReport(taskID string) error {
	body, err := apiRequest("GET", "/api/v1/reports/"+taskID, nil)
	if err != nil {
		return err
	}

	if output == "json" {
		fmt.Println(string(body))
		return nil
	}

	var task struct {
		App struct {
			Name string `json:"name"`
		} `json:"app"`
		Result struct {
			Summary string `json:"summary"`
			CriticalIssues []struct {
				Title    string `json:"title"`
				Severity string `json:"severity"`
				Mentions int    `json:"mentions"`
			} `json:"critical_issues"`
			Sentiment struct {
				Positive float64 `json:"positive"`
				Neutral  float64 `json:"neutral"`
				Negative float64 `json:"negative"`
			} `json:"sentiment"`
			ReviewsAnalyzed int `json:"reviews_analyzed"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Report for %s (%d reviews analyzed)\n\n", task.App.Name, task.Result.ReviewsAnalyzed)
	fmt.Printf("%s\n\n", task.Result.Summary)
	fmt.Printf("Sentiment: %.0f%% positive / %.0f%% neutral / %.0f%% negative\n",
		task.Result.Sentiment.Positive, task.Result.Sentiment.Neutral, task.Result.Sentiment.Negative)
	if len(task.Result.CriticalIssues) > 0 {
		fmt.Println("\nCritical issues:")
		for _, issue := range task.Result.CriticalIssues {
			fmt.Printf("  [%s] %s (%d mentions)\n", issue.Severity, issue.Title, issue.Mentions)
		}
	}
	return nil
}

// apiRequest performs an authenticated request and returns the body,
// turning non-2xx statuses into errors
func apiRequest(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp map[string]interface{}
		json.Unmarshal(respBody, &errResp)
		if msg, ok := errResp["message"].(string); ok {
			return nil, fmt.Errorf("API error: %s", msg)
		}
		if msg, ok := errResp["error"].(string); ok {
			return nil, fmt.Errorf("API error: %s", msg)
		}
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	return respBody, nil
}
