package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reviewinsight/backend/internal/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// fetchAppleMetadata queries the iTunes lookup API for listing metadata
func (s *Service) fetchAppleMetadata(ctx context.Context, ref *AppRef) (*AppMetadata, error) {
	if err := s.appleLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	lookupURL := fmt.Sprintf("%s/lookup?id=%s&country=%s", s.itunesBaseURL, ref.StoreID, ref.Country)

	body, err := s.getJSON(ctx, lookupURL)
	if err != nil {
		return nil, fmt.Errorf("itunes lookup: %w", err)
	}

	result := gjson.GetBytes(body, "results.0")
	if !result.Exists() {
		return nil, fmt.Errorf("itunes lookup: app %s not found in country %s", ref.StoreID, ref.Country)
	}

	return &AppMetadata{
		Name:        result.Get("trackName").String(),
		Developer:   result.Get("artistName").String(),
		Category:    result.Get("primaryGenreName").String(),
		IconURL:     result.Get("artworkUrl100").String(),
		Rating:      result.Get("averageUserRating").Float(),
		RatingCount: int(result.Get("userRatingCount").Int()),
		StoreURL:    result.Get("trackViewUrl").String(),
	}, nil
}

// fetchAppleReviews walks the paginated RSS customer-reviews feed, optionally
// looping over extra country codes, stopping at the page cap or when a page
// yields nothing new.
//
// The feed wraps every value in a {"label": ...} object, and entry fields use
// namespaced keys like "im:rating" - gjson with escaped colons keeps the
// extraction tolerant of both quirks.
func (s *Service) fetchAppleReviews(ctx context.Context, ref *AppRef, seen map[string]bool) ([]ScrapedReview, error) {
	countries := append([]string{ref.Country}, s.countries...)

	var out []ScrapedReview

	for _, country := range countries {
		for page := 1; page <= s.maxPages; page++ {
			if err := s.appleLimiter.Wait(ctx); err != nil {
				return out, err
			}

			feedURL := fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/id=%s/sortby=mostrecent/json",
				s.rssBaseURL, country, page, ref.StoreID)

			body, err := s.getJSON(ctx, feedURL)
			if err != nil {
				// Later pages 404 once the feed is exhausted; first-page
				// failures are real errors
				if page == 1 && country == ref.Country {
					return nil, fmt.Errorf("apple reviews feed: %w", err)
				}
				logger.Log.Debug("Apple feed page unavailable, stopping pagination",
					zap.String("country", country),
					zap.Int("page", page),
					zap.Error(err),
				)
				break
			}

			entries := gjson.GetBytes(body, "feed.entry")
			if !entries.IsArray() || len(entries.Array()) == 0 {
				break
			}

			added := 0
			for _, entry := range entries.Array() {
				// The first entry of page 1 is the app itself, not a review;
				// it has no rating and is skipped by the rating check below
				rating := int(entry.Get("im:rating.label").Int())
				if rating < 1 || rating > 5 {
					continue
				}

				r := ScrapedReview{
					StoreReviewID: entry.Get("id.label").String(),
					Author:        entry.Get("author.name.label").String(),
					Rating:        rating,
					Title:         entry.Get("title.label").String(),
					Body:          entry.Get("content.label").String(),
					AppVersion:    entry.Get("im:version.label").String(),
					Country:       country,
				}
				if t, err := time.Parse(time.RFC3339, entry.Get("updated.label").String()); err == nil {
					r.ReviewedAt = t
				}

				before := len(out)
				out = dedupe(out, r, seen)
				if len(out) > before {
					added++
				}
			}

			// A page of nothing but duplicates means we've caught up to a
			// previous scrape
			if added == 0 {
				break
			}
		}
	}

	return out, nil
}

// getJSON issues a GET and returns the body for 2xx responses
func (s *Service) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ReviewInsight/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
