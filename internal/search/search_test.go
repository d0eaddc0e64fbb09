package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
)

func TestBuildQuery(t *testing.T) {
	q := BuildQuery([]string{"budget", " harbor bridge ", "Budget"}, []database.KeyPerson{{Name: "Ana Ruiz"}})
	assert.Equal(t, `budget OR "harbor bridge" OR "Ana Ruiz"`, q)
}

func TestBuildQueryCapsTerms(t *testing.T) {
	q := BuildQuery([]string{"a", "b", "c", "d"}, []database.KeyPerson{{Name: "Ana Ruiz"}, {Name: "Bo Li"}})
	assert.Equal(t, `a OR b OR c OR d OR "Ana Ruiz"`, q)
}

func TestBuildQueryEmpty(t *testing.T) {
	assert.Equal(t, "", BuildQuery(nil, []database.KeyPerson{{Name: " "}}))
	assert.Equal(t, "", BuildQuery([]string{"", "  "}, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *NewsAPIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("TEST_NEWSAPI_KEY", "secret")
	c := NewNewsAPIClient(config.Search{APIKeyEnv: "TEST_NEWSAPI_KEY", BaseURL: srv.URL})
	c.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestNewsAPISearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/everything", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "budget", r.URL.Query().Get("q"))
		assert.Equal(t, "2026-03-03", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-03-10", r.URL.Query().Get("to"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"articles": []map[string]any{
				{"url": "https://a.example/1", "title": " Budget passes ", "publishedAt": "2026-03-09T08:00:00Z", "source": map[string]string{"name": "Metro Times"}},
				{"url": "https://a.example/known", "title": "Already linked"},
				{"url": "https://removed.com", "title": "[Removed]"},
				{"url": "https://a.example/2", "title": "Budget reaction", "publishedAt": "bad"},
			},
		})
	})

	results, err := c.SearchNews(context.Background(), "budget", Options{DaysBack: 7, ExcludeURLs: []string{"https://a.example/known"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Budget passes", results[0].Title)
	assert.Equal(t, "Metro Times", results[0].Source)
	require.NotNil(t, results[0].PublishedAt)
	assert.Equal(t, 9, results[0].PublishedAt.Day())

	assert.Equal(t, "NewsAPI", results[1].Source)
	assert.Nil(t, results[1].PublishedAt)
}

func TestNewsAPIErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":"error","code":"rateLimited","message":"slow down"}`))
	})

	_, err := c.SearchNews(context.Background(), "budget", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewsAPIUnconfigured(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := NewNewsAPIClient(config.Search{APIKeyEnv: "FOLLOWUP_TEST_MISSING_KEY", BaseURL: srv.URL})
	results, err := c.SearchNews(context.Background(), "budget", Options{})
	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, called)
}
