package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/reviewinsight/backend/internal/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Google Play has no official API. Metadata comes from the public details
// page, reviews from the internal batchexecute endpoint the web store UI
// itself calls. Both are best-effort parses of undocumented formats.

const playReviewsRPCID = "UsvDTd"

var (
	playTitleRe  = regexp.MustCompile(`<h1[^>]*itemprop="name"[^>]*>(?:<span[^>]*>)?([^<]+)`)
	playDevRe    = regexp.MustCompile(`<div[^>]*class="Vbfug auoIOc"[^>]*><a[^>]*><span>([^<]+)`)
	playRatingRe = regexp.MustCompile(`aria-label="Rated ([0-9.]+) stars`)
	playIconRe   = regexp.MustCompile(`<img[^>]*src="(https://play-lh\.googleusercontent\.com/[^"=]+)`)
	playGenreRe  = regexp.MustCompile(`"applicationCategory":"([^"]+)"`)
)

// fetchPlayMetadata scrapes the public details page for listing metadata
func (s *Service) fetchPlayMetadata(ctx context.Context, ref *AppRef) (*AppMetadata, error) {
	if err := s.playLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	detailsURL := fmt.Sprintf("%s/store/apps/details?id=%s&hl=en&gl=%s", s.playBaseURL, ref.StoreID, ref.Country)

	body, err := s.getJSON(ctx, detailsURL)
	if err != nil {
		return nil, fmt.Errorf("play details page: %w", err)
	}

	html := string(body)
	meta := &AppMetadata{
		// Package name as fallback when the markup shifts under us
		Name:     ref.StoreID,
		StoreURL: detailsURL,
	}

	if m := playTitleRe.FindStringSubmatch(html); m != nil {
		meta.Name = strings.TrimSpace(m[1])
	}
	if m := playDevRe.FindStringSubmatch(html); m != nil {
		meta.Developer = strings.TrimSpace(m[1])
	}
	if m := playRatingRe.FindStringSubmatch(html); m != nil {
		fmt.Sscanf(m[1], "%f", &meta.Rating)
	}
	if m := playIconRe.FindStringSubmatch(html); m != nil {
		meta.IconURL = m[1]
	}
	if m := playGenreRe.FindStringSubmatch(html); m != nil {
		meta.Category = m[1]
	}

	return meta, nil
}

// fetchPlayReviews pages through the batchexecute reviews RPC using its
// continuation token, stopping at the batch cap or when a batch yields
// nothing new
func (s *Service) fetchPlayReviews(ctx context.Context, ref *AppRef, seen map[string]bool) ([]ScrapedReview, error) {
	var out []ScrapedReview
	token := ""

	for batch := 0; batch < s.maxPlayBatch; batch++ {
		if err := s.playLimiter.Wait(ctx); err != nil {
			return out, err
		}

		reviews, next, err := s.playReviewsBatch(ctx, ref, token)
		if err != nil {
			if batch == 0 {
				return nil, err
			}
			logger.Log.Debug("Play reviews batch failed, stopping pagination",
				zap.Int("batch", batch),
				zap.Error(err),
			)
			break
		}

		added := 0
		for _, r := range reviews {
			before := len(out)
			out = dedupe(out, r, seen)
			if len(out) > before {
				added++
			}
		}

		if added == 0 || next == "" {
			break
		}
		token = next
	}

	return out, nil
}

// playReviewsBatch does one batchexecute round trip
func (s *Service) playReviewsBatch(ctx context.Context, ref *AppRef, token string) ([]ScrapedReview, string, error) {
	// Inner request: [null,null,[2,<sort=2 newest>,[<count>,null,<token>]],["<pkg>",7]]
	tokenJSON := "null"
	if token != "" {
		tokenJSON = fmt.Sprintf("%q", token)
	}
	inner := fmt.Sprintf(`[null,null,[2,2,[100,null,%s]],[%q,7]]`, tokenJSON, ref.StoreID)
	freq := fmt.Sprintf(`[[[%q,%q,null,"generic"]]]`, playReviewsRPCID, inner)

	form := url.Values{"f.req": {freq}}
	endpoint := fmt.Sprintf("%s/_/PlayStoreUi/data/batchexecute?hl=en&gl=%s", s.playBaseURL, ref.Country)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("User-Agent", "ReviewInsight/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("batchexecute status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, "", err
	}

	return parsePlayReviewsResponse(raw, ref.Country)
}

// parsePlayReviewsResponse unwraps the double-encoded batchexecute envelope.
// The body starts with an anti-JSON prefix, the outer array carries the
// payload as a JSON string at [0][2], and reviews are positional arrays.
func parsePlayReviewsResponse(raw []byte, country string) ([]ScrapedReview, string, error) {
	body := strings.TrimPrefix(string(raw), ")]}'")
	body = strings.TrimSpace(body)

	payload := gjson.Get(body, "0.2")
	if !payload.Exists() || payload.String() == "" || payload.String() == "null" {
		return nil, "", fmt.Errorf("batchexecute payload missing")
	}

	inner := gjson.Parse(payload.String())

	var out []ScrapedReview
	for _, r := range inner.Get("0").Array() {
		review := ScrapedReview{
			StoreReviewID: r.Get("0").String(),
			Author:        r.Get("1.0").String(),
			Rating:        int(r.Get("2").Int()),
			Body:          r.Get("4").String(),
			AppVersion:    r.Get("10").String(),
			Country:       country,
		}
		if secs := r.Get("5.0").Int(); secs > 0 {
			review.ReviewedAt = time.Unix(secs, 0).UTC()
		}
		if review.Rating < 1 || review.Rating > 5 {
			continue
		}
		out = append(out, review)
	}

	next := inner.Get("1.1").String()
	return out, next, nil
}
