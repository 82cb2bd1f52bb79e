package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewinsight/backend/internal/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	m.Run()
}

func shouldClauses(t *testing.T, query map[string]interface{}) []interface{} {
	boolQuery, ok := query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	require.True(t, ok)
	clauses, ok := boolQuery["should"].([]map[string]interface{})
	require.True(t, ok)
	out := make([]interface{}, len(clauses))
	for i, c := range clauses {
		out[i] = c
	}
	return out
}

func TestBuildAppsQueryWithoutReviewMatches(t *testing.T) {
	query := buildAppsQuery("slack", "", "", nil, 20, 0)

	clauses := shouldClauses(t, query)
	require.Len(t, clauses, 2)
	for _, clause := range clauses {
		_, isTerms := clause.(map[string]interface{})["terms"]
		assert.False(t, isTerms)
	}
}

func TestBuildAppsQueryBoostsReviewMatchedApps(t *testing.T) {
	query := buildAppsQuery("crashes on launch", "ios", "", []string{"app-1", "app-2"}, 20, 0)

	clauses := shouldClauses(t, query)
	require.Len(t, clauses, 3)

	terms, ok := clauses[2].(map[string]interface{})["terms"].(map[string]interface{})
	require.True(t, ok, "third should clause boosts review-matched apps")
	assert.Equal(t, []string{"app-1", "app-2"}, terms["id"])

	boolQuery := query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	must := boolQuery["must"].([]map[string]interface{})
	require.Len(t, must, 1)
	assert.Equal(t, "ios", must[0]["term"].(map[string]interface{})["platform"])
}

func TestBuildReviewMatchQuery(t *testing.T) {
	query := buildReviewMatchQuery("dark mode")

	assert.Equal(t, 0, query["size"], "review phase only needs the aggregation")

	match := query["query"].(map[string]interface{})["multi_match"].(map[string]interface{})
	assert.Equal(t, "dark mode", match["query"])
	assert.Equal(t, []string{"title^2", "body"}, match["fields"])

	terms := query["aggs"].(map[string]interface{})["apps"].(map[string]interface{})["terms"].(map[string]interface{})
	assert.Equal(t, "app_id", terms["field"])
}

// fakeElasticsearch serves the two search round trips SearchApps makes:
// reviews first, then apps. It records the apps query body.
func fakeElasticsearch(t *testing.T, appsBody *[]byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasPrefix(r.URL.Path, "/"+IndexReviews+"/_search"):
			fmt.Fprint(w, `{"aggregations":{"apps":{"buckets":[{"key":"app-42","doc_count":7}]}}}`)
		case strings.HasPrefix(r.URL.Path, "/"+IndexApps+"/_search"):
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			*appsBody = body
			fmt.Fprint(w, `{"hits":{"total":{"value":1},"hits":[
				{"_id":"app-42","_score":3.1,"_source":{"name":"CrashyApp","developer":"Acme","platform":"ios","category":"Productivity","rating":2.5,"review_count":120}}
			]}}`)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
}

func TestSearchAppsFoldsReviewMatchesIntoAppQuery(t *testing.T) {
	var appsBody []byte
	srv := fakeElasticsearch(t, &appsBody)
	defer srv.Close()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	client := &Client{es: es}

	result, err := client.SearchApps(context.Background(), "crashes", "", "", 20, 0)
	require.NoError(t, err)

	require.Len(t, result.Apps, 1)
	assert.Equal(t, "app-42", result.Apps[0].ID)
	assert.Equal(t, "CrashyApp", result.Apps[0].Name)
	assert.Equal(t, 1, result.Total)

	// The app the review text surfaced must appear in the apps query
	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(appsBody, &sent))
	should := sent["query"].(map[string]interface{})["bool"].(map[string]interface{})["should"].([]interface{})
	require.Len(t, should, 3)
	terms := should[2].(map[string]interface{})["terms"].(map[string]interface{})
	assert.Equal(t, []interface{}{"app-42"}, terms["id"])
}
