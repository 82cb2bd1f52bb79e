package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewinsight/backend/internal/logger"
	"github.com/reviewinsight/backend/internal/models"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

func TestParseStoreURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		platform models.Platform
		storeID  string
		country  string
	}{
		{"apple with slug", "https://apps.apple.com/us/app/instagram/id389801252", models.PlatformIOS, "389801252", "us"},
		{"apple without slug", "https://apps.apple.com/gb/app/id389801252", models.PlatformIOS, "389801252", "gb"},
		{"apple with query", "https://apps.apple.com/us/app/slack/id618783545?mt=8", models.PlatformIOS, "618783545", "us"},
		{"play basic", "https://play.google.com/store/apps/details?id=com.instagram.android", models.PlatformAndroid, "com.instagram.android", "us"},
		{"play with country", "https://play.google.com/store/apps/details?id=com.spotify.music&gl=DE", models.PlatformAndroid, "com.spotify.music", "de"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseStoreURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, ref.Platform)
			assert.Equal(t, tt.storeID, ref.StoreID)
			assert.Equal(t, tt.country, ref.Country)
		})
	}
}

func TestParseStoreURLRejectsUnknown(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/app/id123",
		"https://play.google.com/store/apps/details", // no package
		"not a url at all",
		"https://apps.apple.com/us/developer/meta/id389801255", // developer page
	} {
		_, err := ParseStoreURL(raw)
		assert.ErrorIs(t, err, ErrUnsupportedURL, raw)
	}
}

func appleEntry(id string, rating int) string {
	return fmt.Sprintf(`{"id":{"label":%q},"author":{"name":{"label":"user"}},"im:rating":{"label":"%d"},"title":{"label":"t"},"content":{"label":"b"},"im:version":{"label":"1.0"},"updated":{"label":"2026-02-01T08:00:00-07:00"}}`, id, rating)
}

func TestFetchAppleReviews(t *testing.T) {
	var pagesServed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesServed = append(pagesServed, r.URL.Path)
		switch {
		case strings.Contains(r.URL.Path, "page=1"):
			// First entry mimics the feed's app-metadata entry, no rating
			fmt.Fprintf(w, `{"feed":{"entry":[{"id":{"label":"app-entry"},"title":{"label":"The App"}},%s,%s]}}`,
				appleEntry("r1", 5), appleEntry("r2", 1))
		case strings.Contains(r.URL.Path, "page=2"):
			// Repeats r2, adds one new
			fmt.Fprintf(w, `{"feed":{"entry":[%s,%s]}}`, appleEntry("r2", 1), appleEntry("r3", 3))
		case strings.Contains(r.URL.Path, "page=3"):
			// Nothing new, pagination must stop here
			fmt.Fprintf(w, `{"feed":{"entry":[%s]}}`, appleEntry("r3", 3))
		default:
			fmt.Fprint(w, `{"feed":{"entry":[]}}`)
		}
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformIOS, StoreID: "123", Country: "us"}

	reviews, err := svc.FetchReviews(context.Background(), ref, nil)
	require.NoError(t, err)

	require.Len(t, reviews, 3)
	ids := []string{reviews[0].StoreReviewID, reviews[1].StoreReviewID, reviews[2].StoreReviewID}
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
	assert.Equal(t, 5, reviews[0].Rating)
	assert.Equal(t, "us", reviews[0].Country)
	assert.False(t, reviews[0].ReviewedAt.IsZero())

	assert.Len(t, pagesServed, 3, "should stop after the first page with nothing new")
}

func TestFetchAppleReviewsSkipsAlreadySeen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "page=1") {
			fmt.Fprintf(w, `{"feed":{"entry":[%s,%s]}}`, appleEntry("known", 4), appleEntry("fresh", 2))
			return
		}
		fmt.Fprint(w, `{"feed":{"entry":[]}}`)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformIOS, StoreID: "123", Country: "us"}

	seen := map[string]bool{"known": true}
	reviews, err := svc.FetchReviews(context.Background(), ref, seen)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "fresh", reviews[0].StoreReviewID)
}

func TestFetchAppleReviewsFirstPageFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unhappy", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformIOS, StoreID: "123", Country: "us"}

	_, err := svc.FetchReviews(context.Background(), ref, nil)
	assert.Error(t, err)
}

func TestFetchAppleMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		assert.Equal(t, "389801252", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"resultCount":1,"results":[{"trackName":"Instagram","artistName":"Meta","primaryGenreName":"Photo & Video","artworkUrl100":"https://example.com/i.png","averageUserRating":4.7,"userRatingCount":26000000,"trackViewUrl":"https://apps.apple.com/us/app/id389801252"}]}`)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformIOS, StoreID: "389801252", Country: "us"}

	meta, err := svc.FetchMetadata(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Instagram", meta.Name)
	assert.Equal(t, "Meta", meta.Developer)
	assert.Equal(t, "Photo & Video", meta.Category)
	assert.InDelta(t, 4.7, meta.Rating, 0.001)
	assert.Equal(t, 26000000, meta.RatingCount)
}

func TestFetchMetadataRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"resultCount":1,"results":[{"trackName":"Finally"}]}`)
	}))
	defer srv.Close()

	svc := NewService(nil, WithBaseURLs(srv.URL, srv.URL, srv.URL), WithHTTPClient(srv.Client()))
	ref := &AppRef{Platform: models.PlatformIOS, StoreID: "1", Country: "us"}

	meta, err := svc.FetchMetadata(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Finally", meta.Name)
	assert.Equal(t, 3, attempts)
}
