package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/elastic/go-elasticsearch/v9"
	"go.uber.org/zap"

	"github.com/reviewinsight/backend/internal/logger"
)

// Index names
const (
	IndexApps    = "apps"
	IndexReviews = "reviews"
)

// Client wraps the Elasticsearch client with ReviewInsight-specific functionality
type Client struct {
	es *elasticsearch.Client
}

// NewClient creates a new Elasticsearch client
func NewClient() (*Client, error) {
	// Get Elasticsearch URL from environment, default to localhost
	esURL := os.Getenv("ELASTICSEARCH_URL")
	if esURL == "" {
		esURL = "http://localhost:9200"
	}

	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	client := &Client{es: es}

	// Verify connection
	if _, err = es.Info(); err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}

	return client, nil
}

// InitializeIndices creates the search indices with proper mappings
func (c *Client) InitializeIndices(ctx context.Context) error {
	if err := c.createAppsIndex(ctx); err != nil {
		return fmt.Errorf("failed to create apps index: %w", err)
	}
	if err := c.createReviewsIndex(ctx); err != nil {
		return fmt.Errorf("failed to create reviews index: %w", err)
	}
	return nil
}

// createAppsIndex creates the apps search index with mapping
func (c *Client) createAppsIndex(ctx context.Context) error {
	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type": "keyword",
				},
				"name": map[string]interface{}{
					"type":     "text",
					"analyzer": "standard",
					"fields": map[string]interface{}{
						"keyword": map[string]interface{}{
							"type": "keyword",
						},
						"suggest": map[string]interface{}{
							"type":     "completion",
							"analyzer": "simple",
						},
					},
				},
				"developer": map[string]interface{}{
					"type":     "text",
					"analyzer": "standard",
				},
				"platform": map[string]interface{}{
					"type": "keyword",
				},
				"category": map[string]interface{}{
					"type": "keyword",
				},
				"rating": map[string]interface{}{
					"type": "float",
				},
				"review_count": map[string]interface{}{
					"type": "integer",
				},
				"last_scraped_at": map[string]interface{}{
					"type": "date",
				},
			},
		},
	}

	return c.createIndex(ctx, IndexApps, mapping)
}

// createReviewsIndex creates the reviews search index with mapping
func (c *Client) createReviewsIndex(ctx context.Context) error {
	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type": "keyword",
				},
				"app_id": map[string]interface{}{
					"type": "keyword",
				},
				"rating": map[string]interface{}{
					"type": "integer",
				},
				"title": map[string]interface{}{
					"type":     "text",
					"analyzer": "standard",
				},
				"body": map[string]interface{}{
					"type":     "text",
					"analyzer": "standard",
				},
				"country": map[string]interface{}{
					"type": "keyword",
				},
				"reviewed_at": map[string]interface{}{
					"type": "date",
				},
			},
		},
	}

	return c.createIndex(ctx, IndexReviews, mapping)
}

// createIndex creates an Elasticsearch index with the given mapping
func (c *Client) createIndex(ctx context.Context, indexName string, mapping map[string]interface{}) error {
	res, err := c.es.Indices.Exists([]string{indexName})
	if err != nil {
		return fmt.Errorf("failed to check if index exists: %w", err)
	}
	res.Body.Close()

	// If index exists (status 200), skip creation
	if res.StatusCode == 200 {
		return nil
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(indexName,
		c.es.Indices.Create.WithBody(bytes.NewReader(mappingJSON)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var errResp map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("error response [%s]", res.Status())
		}
		return fmt.Errorf("error creating index: [%s] %v", res.Status(), errResp["error"])
	}

	return nil
}

// IndexApp indexes an app document for search
func (c *Client) IndexApp(ctx context.Context, appID string, doc map[string]interface{}) error {
	return c.indexDocument(ctx, IndexApps, appID, doc)
}

// IndexReview indexes a review document for search
func (c *Client) IndexReview(ctx context.Context, reviewID string, doc map[string]interface{}) error {
	return c.indexDocument(ctx, IndexReviews, reviewID, doc)
}

func (c *Client) indexDocument(ctx context.Context, index, docID string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := c.es.Index(index, bytes.NewReader(body),
		c.es.Index.WithDocumentID(docID),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var errResp map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("error response [%s]", res.Status())
		}
		return fmt.Errorf("error indexing into %s: [%s] %v", index, res.Status(), errResp["error"])
	}

	return nil
}

// DeleteApp deletes an app document from the search index
func (c *Client) DeleteApp(ctx context.Context, appID string) error {
	res, err := c.es.Delete(IndexApps, appID,
		c.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	defer res.Body.Close()

	// 404 is OK - document doesn't exist
	if res.IsError() && res.StatusCode != 404 {
		var errResp map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("error response [%s]", res.Status())
		}
		return fmt.Errorf("error deleting app: [%s] %v", res.Status(), errResp["error"])
	}

	return nil
}

// SearchAppsResult represents an app search result
type SearchAppsResult struct {
	Apps  []AppSearchHit `json:"apps"`
	Total int            `json:"total"`
}

// AppSearchHit represents a single app search hit
type AppSearchHit struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Developer   string  `json:"developer"`
	Platform    string  `json:"platform"`
	Category    string  `json:"category"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Score       float64 `json:"score"`
}

// buildReviewMatchQuery matches the query against review text and buckets
// the hits by app, so review content can pull an app into the results
func buildReviewMatchQuery(query string) map[string]interface{} {
	return map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "body"},
			},
		},
		"aggs": map[string]interface{}{
			"apps": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "app_id",
					"size":  reviewMatchAppLimit,
				},
			},
		},
	}
}

// buildAppsQuery builds the apps-index query. Apps whose reviews matched the
// text get a terms should-clause so they rank even when name and developer
// miss.
func buildAppsQuery(query, platform, category string, reviewApps []string, limit, offset int) map[string]interface{} {
	must := []map[string]interface{}{}
	if platform != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"platform": platform},
		})
	}
	if category != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"category": category},
		})
	}

	should := []map[string]interface{}{
		{
			"match": map[string]interface{}{
				"name": map[string]interface{}{
					"query":         query,
					"boost":         2.0,
					"fuzziness":     "AUTO",
					"prefix_length": 1,
				},
			},
		},
		{
			"match": map[string]interface{}{
				"developer": map[string]interface{}{
					"query":     query,
					"boost":     1.0,
					"fuzziness": "AUTO",
				},
			},
		},
	}
	if len(reviewApps) > 0 {
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{
				"id":    reviewApps,
				"boost": 1.5,
			},
		})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":                 must,
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"sort": []map[string]interface{}{
			{"_score": map[string]interface{}{"order": "desc"}},
			{"review_count": map[string]interface{}{"order": "desc"}},
		},
		"from": offset,
		"size": limit,
	}
}

// reviewMatchAppLimit caps how many apps the review-text phase can surface
const reviewMatchAppLimit = 20

// matchReviewApps runs the review-text phase and returns the IDs of apps
// whose reviews matched
func (c *Client) matchReviewApps(ctx context.Context, query string) ([]string, error) {
	queryJSON, err := json.Marshal(buildReviewMatchQuery(query))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review match query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(IndexReviews),
		c.es.Search.WithBody(bytes.NewReader(queryJSON)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search reviews: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error searching reviews: [%s]", res.Status())
	}

	var aggResp struct {
		Aggregations struct {
			Apps struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"apps"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&aggResp); err != nil {
		return nil, fmt.Errorf("failed to decode review match response: %w", err)
	}

	ids := make([]string, 0, len(aggResp.Aggregations.Apps.Buckets))
	for _, bucket := range aggResp.Aggregations.Apps.Buckets {
		ids = append(ids, bucket.Key)
	}
	return ids, nil
}

// SearchApps searches tracked apps by name, developer and review text,
// optionally filtered by platform and category. Review text is matched in a
// first pass against the reviews index and folded into the app query as a
// boost.
func (c *Client) SearchApps(ctx context.Context, query, platform, category string, limit, offset int) (*SearchAppsResult, error) {
	reviewApps, err := c.matchReviewApps(ctx, query)
	if err != nil {
		logger.Log.Warn("Review text match failed, searching app fields only", zap.Error(err))
		reviewApps = nil
	}

	queryJSON, err := json.Marshal(buildAppsQuery(query, platform, category, reviewApps, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(IndexApps),
		c.es.Search.WithBody(bytes.NewReader(queryJSON)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var errResp map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&errResp); err != nil {
			return nil, fmt.Errorf("error response [%s]", res.Status())
		}
		return nil, fmt.Errorf("error searching apps: [%s] %v", res.Status(), errResp["error"])
	}

	var searchResp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string                 `json:"_id"`
				Score  float64                `json:"_score"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	apps := make([]AppSearchHit, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		app := AppSearchHit{
			ID:    hit.ID,
			Score: hit.Score,
		}
		if name, ok := hit.Source["name"].(string); ok {
			app.Name = name
		}
		if developer, ok := hit.Source["developer"].(string); ok {
			app.Developer = developer
		}
		if platform, ok := hit.Source["platform"].(string); ok {
			app.Platform = platform
		}
		if category, ok := hit.Source["category"].(string); ok {
			app.Category = category
		}
		if rating, ok := hit.Source["rating"].(float64); ok {
			app.Rating = rating
		}
		if rc, ok := hit.Source["review_count"].(float64); ok {
			app.ReviewCount = int(rc)
		}
		apps = append(apps, app)
	}

	return &SearchAppsResult{
		Apps:  apps,
		Total: searchResp.Hits.Total.Value,
	}, nil
}
