package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewinsight/backend/internal/models"
)

// playEnvelope wraps an inner payload the way batchexecute does: anti-JSON
// prefix, outer array, payload double-encoded as a string at [0][2].
func playEnvelope(t *testing.T, inner string) string {
	encoded, err := json.Marshal(inner)
	require.NoError(t, err)
	return fmt.Sprintf(")]}'\n\n[[\"wrb.fr\",\"UsvDTd\",%s,null,null]]", encoded)
}

func playReview(id, author string, rating int, body string, unixSecs int64) string {
	return fmt.Sprintf(`[%q,[%q,null],%d,null,%q,[%d,0],null,null,null,null,"3.1.4"]`,
		id, author, rating, body, unixSecs)
}

func TestParsePlayReviewsResponse(t *testing.T) {
	inner := fmt.Sprintf(`[[%s,%s],[null,"TOKEN123"]]`,
		playReview("gp1", "carol", 2, "Ads everywhere now", 1767340800),
		playReview("gp2", "dave", 5, "Works great", 1767427200))

	reviews, next, err := parsePlayReviewsResponse([]byte(playEnvelope(t, inner)), "us")
	require.NoError(t, err)

	require.Len(t, reviews, 2)
	assert.Equal(t, "gp1", reviews[0].StoreReviewID)
	assert.Equal(t, "carol", reviews[0].Author)
	assert.Equal(t, 2, reviews[0].Rating)
	assert.Equal(t, "Ads everywhere now", reviews[0].Body)
	assert.Equal(t, "3.1.4", reviews[0].AppVersion)
	assert.Equal(t, time.Unix(1767340800, 0).UTC(), reviews[0].ReviewedAt)
	assert.Equal(t, "us", reviews[0].Country)
	assert.Equal(t, "TOKEN123", next)
}

func TestParsePlayReviewsResponseMissingPayload(t *testing.T) {
	_, _, err := parsePlayReviewsResponse([]byte(")]}'\n\n[[\"wrb.fr\",\"UsvDTd\",null,null]]"), "us")
	assert.Error(t, err)

	_, _, err = parsePlayReviewsResponse([]byte("<html>captcha</html>"), "us")
	assert.Error(t, err)
}

func TestFetchPlayReviewsPaginates(t *testing.T) {
	var batches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		freq := r.PostFormValue("f.req")
		assert.Contains(t, freq, "UsvDTd")
		assert.Contains(t, freq, "com.example.app")

		batches++
		var inner string
		if batches == 1 {
			assert.NotContains(t, freq, "TOKEN123", "first batch carries no continuation token")
			inner = fmt.Sprintf(`[[%s],[null,"TOKEN123"]]`,
				playReview("gp1", "carol", 2, "meh", 1767340800))
		} else {
			assert.Contains(t, freq, "TOKEN123")
			inner = fmt.Sprintf(`[[%s],[null,null]]`,
				playReview("gp2", "dave", 4, "better now", 1767427200))
		}
		fmt.Fprint(w, playEnvelope(t, inner))
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformAndroid, StoreID: "com.example.app", Country: "us"}

	reviews, err := svc.FetchReviews(context.Background(), ref, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, batches)
	require.Len(t, reviews, 2)
	assert.Equal(t, "gp1", reviews[0].StoreReviewID)
	assert.Equal(t, "gp2", reviews[1].StoreReviewID)
}

func TestFetchPlayReviewsFirstBatchFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformAndroid, StoreID: "com.example.app", Country: "us"}

	_, err := svc.FetchReviews(context.Background(), ref, nil)
	assert.Error(t, err)
}

func TestFetchPlayMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/store/apps/details", r.URL.Path)
		assert.Equal(t, "com.example.app", r.URL.Query().Get("id"))
		fmt.Fprint(w, `<html><head><script>{"applicationCategory":"PRODUCTIVITY"}</script></head><body>`+
			`<h1 itemprop="name"><span>Example App</span></h1>`+
			`<div class="Vbfug auoIOc"><a href="/dev"><span>Example Inc.</span></a></div>`+
			`<div aria-label="Rated 4.3 stars out of five stars"></div>`+
			`<img src="https://play-lh.googleusercontent.com/abc123" alt="icon">`+
			`</body></html>`)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformAndroid, StoreID: "com.example.app", Country: "us"}

	meta, err := svc.FetchMetadata(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Example App", meta.Name)
	assert.Equal(t, "Example Inc.", meta.Developer)
	assert.Equal(t, "PRODUCTIVITY", meta.Category)
	assert.InDelta(t, 4.3, meta.Rating, 0.001)
	assert.Equal(t, "https://play-lh.googleusercontent.com/abc123", meta.IconURL)
}

func TestFetchPlayMetadataFallsBackToPackageName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>layout changed again</body></html>`)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformAndroid, StoreID: "com.example.app", Country: "us"}

	meta, err := svc.FetchMetadata(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", meta.Name)
}
