package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/editorial"
	"github.com/TobiSchelling/followup/internal/followup"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// stubAnalyzer treats every article as an ongoing story and every thread as
// needing follow-up.
type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeThread(context.Context, *database.StoryThread, []database.Article) (analyzer.ThreadJudgment, error) {
	return analyzer.ThreadJudgment{NeedsFollowUp: true, ShouldContinueMonitoring: true}, nil
}

func (stubAnalyzer) AnalyzeArticle(context.Context, *database.Article) (analyzer.ArticleJudgment, error) {
	return analyzer.ArticleJudgment{IsOngoingStory: true}, nil
}

func (stubAnalyzer) FindMatchingThread(context.Context, *database.Article, []database.StoryThread) (*database.StoryThread, error) {
	return nil, nil
}

func (stubAnalyzer) DraftThread(_ context.Context, a *database.Article) (analyzer.ThreadDraft, error) {
	return analyzer.DefaultThreadDraft(a), nil
}

func (stubAnalyzer) SuggestFollowUps(context.Context, *database.StoryThread, []database.Article) ([]analyzer.Suggestion, error) {
	return []analyzer.Suggestion{{Angle: "explainer", Headline: "What happens next", Priority: "high"}}, nil
}

type testEnv struct {
	db  *database.DB
	srv *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := followup.New(db, stubAnalyzer{}, nil, editorial.LogQueue{}, config.Default(),
		followup.WithClock(func() time.Time { return now }))
	require.NoError(t, svc.SyncRegions([]config.Region{{Slug: "metro", Name: "Metro"}}))

	srv := New(svc)
	srv.now = func() time.Time { return now }
	return &testEnv{db: db, srv: srv}
}

// addArticle stores an article tagged with the metro region.
func (e *testEnv) addArticle(t *testing.T, url string, views int64) int64 {
	t.Helper()
	region, err := e.db.GetRegionBySlug("metro")
	require.NoError(t, err)
	id, err := e.db.InsertArticle(database.NewArticle{URL: url, Title: "Story " + url, Views: views})
	require.NoError(t, err)
	require.NoError(t, e.db.AddArticleRegion(id, region.ID))
	return id
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","timestamp":"2026-03-10T12:00:00Z"}`, rec.Body.String())
}

func TestProcessArticleAndQueue(t *testing.T) {
	env := newTestEnv(t)
	id := env.addArticle(t, "https://metro.example/bridge", 900)

	rec := env.do(http.MethodPost, "/articles/"+itoa(id)+"/process")
	require.Equal(t, http.StatusOK, rec.Code)
	var processed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &processed))
	assert.Equal(t, true, processed["threaded"])
	assert.Equal(t, "Story https://metro.example/bridge", processed["thread_title"])

	rec = env.do(http.MethodGet, "/regions/metro/queue")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []followup.QueueEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "What happens next", entries[0].Suggestion.Headline)
	assert.InDelta(t, 13.5, entries[0].Priority, 1e-9) // 9 points x 1.5 developing

	rec = env.do(http.MethodGet, "/regions/metro/queue?format=html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "What happens next")

	rec = env.do(http.MethodGet, "/regions/metro/queue?format=md")
	assert.Contains(t, rec.Body.String(), "# Follow-up queue: metro")
}

func TestProcessArticleWithoutRegion(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.db.InsertArticle(database.NewArticle{URL: "https://elsewhere.example/x", Title: "X"})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/articles/"+itoa(id)+"/process")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"article_id":`+itoa(id)+`,"threaded":false}`, rec.Body.String())
}

func TestRegionRuns(t *testing.T) {
	env := newTestEnv(t)
	env.addArticle(t, "https://metro.example/hot", 5000)

	rec := env.do(http.MethodPost, "/regions/metro/engagement")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"articles_analyzed":1,"threads_created":1,"threads_joined":0,"errors":0}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/regions/metro/sweep")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"checked":1,"resolved":0,"dormant":0,"monitoring":0,"errors":0}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/regions/metro/triggers")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr followup.TriggerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Zero(t, tr.Processed) // first checks are days away

	rec = env.do(http.MethodGet, "/metrics")
	var m followup.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 3, m.Runs)

	rec = env.do(http.MethodGet, "/stats")
	var stats database.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.PendingTriggers)
	assert.Equal(t, 1, stats.Threads[database.StatusDeveloping])
}

func TestErrors(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/regions/atlantis/queue").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/regions/metro/queue?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/regions/metro/queue?format=pdf").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/regions/metro/triggers").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/articles/abc/process").Code)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
