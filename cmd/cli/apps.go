package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	appsQuery    string
	appsPlatform string
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Browse analyzed apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return browseApps()
	},
}

func init() {
	appsCmd.Flags().StringVarP(&appsQuery, "query", "q", "", "Search apps by name or developer")
	appsCmd.Flags().StringVar(&appsPlatform, "platform", "", "Filter by platform: ios or android")
}

func browseApps() error {
	params := url.Values{}
	if appsQuery != "" {
		params.Set("q", appsQuery)
	}
	if appsPlatform != "" {
		params.Set("platform", appsPlatform)
	}

	path := "/api/v1/apps"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := apiRequest("GET", path, nil)
	if err != nil {
		return err
	}

	if output == "json" {
		fmt.Println(string(body))
		return nil
	}

	var result struct {
		Apps []struct {
			ID          string  `json:"id"`
			Name        string  `json:"name"`
			Developer   string  `json:"developer"`
			Platform    string  `json:"platform"`
			Rating      float64 `json:"rating"`
			ReviewCount int     `json:"review_count"`
		} `json:"apps"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Total == 0 {
		fmt.Println("No apps found")
		return nil
	}

	for _, a := range result.Apps {
		fmt.Printf("%s  %-8s  %.1f★  %5d reviews  %s - %s\n",
			a.ID, a.Platform, a.Rating, a.ReviewCount, a.Name, a.Developer)
	}
	fmt.Printf("\n%d total\n", result.Total)
	return nil
}
