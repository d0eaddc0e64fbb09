package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/followup/internal/database"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	prompts  []string
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func ptr(s string) *string { return &s }

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(response string) (*LLMAnalyzer, *mockProvider) {
	p := &mockProvider{response: response}
	a := NewLLMAnalyzer(p, 512)
	a.now = func() time.Time { return now }
	return a, p
}

func jsonString(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func testThread() *database.StoryThread {
	last := now.Add(-10 * 24 * time.Hour)
	return &database.StoryThread{
		ID:                 7,
		Title:              "Harbor bridge closure",
		Status:             database.StatusDeveloping,
		MonitoringKeywords: []string{"harbor bridge", "ferry"},
		KeyPeople:          []database.KeyPerson{{Name: "Ana Ruiz", Role: "mayor"}},
		LastArticleAt:      &last,
	}
}

func TestAnalyzeThread(t *testing.T) {
	a, p := newTestAnalyzer(jsonString(t, map[string]any{
		"needs_followup":             true,
		"is_resolved":                false,
		"resolution_type":            "",
		"reason":                     "Council votes next week",
		"should_continue_monitoring": true,
		"recommended_status":         "Monitoring",
	}))

	j, err := a.AnalyzeThread(context.Background(), testThread(), []database.Article{{Title: "Bridge shut for repairs"}})
	require.NoError(t, err)
	assert.True(t, j.NeedsFollowUp)
	assert.False(t, j.IsResolved)
	assert.Nil(t, j.ResolutionType)
	assert.Equal(t, "Council votes next week", *j.Reason)
	require.NotNil(t, j.RecommendedStatus)
	assert.Equal(t, database.StatusMonitoring, *j.RecommendedStatus)

	assert.Contains(t, p.prompts[0], "Days since the last article: 10")
	assert.Contains(t, p.prompts[0], "Ana Ruiz (mayor)")
	assert.Contains(t, p.prompts[0], "Bridge shut for repairs")
}

func TestAnalyzeThreadUnparseableUsesDefaults(t *testing.T) {
	a, _ := newTestAnalyzer("I think this story is fine.")

	j, err := a.AnalyzeThread(context.Background(), testThread(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreadJudgment(), j)
}

func TestAnalyzeThreadIgnoresUnknownStatus(t *testing.T) {
	a, _ := newTestAnalyzer(`{"needs_followup": "yes", "recommended_status": "archived"}`)

	j, err := a.AnalyzeThread(context.Background(), testThread(), nil)
	require.NoError(t, err)
	assert.True(t, j.NeedsFollowUp)
	assert.True(t, j.ShouldContinueMonitoring)
	assert.Nil(t, j.RecommendedStatus)
}

func TestAnalyzeThreadTransportError(t *testing.T) {
	a, p := newTestAnalyzer("")
	p.err = errors.New("connection refused")

	j, err := a.AnalyzeThread(context.Background(), testThread(), nil)
	assert.Error(t, err)
	assert.Equal(t, DefaultThreadJudgment(), j)
}

func TestAnalyzeArticle(t *testing.T) {
	a, _ := newTestAnalyzer("```json\n{\"is_ongoing_story\": true}\n```")
	j, err := a.AnalyzeArticle(context.Background(), &database.Article{Title: "Trial opens", Content: ptr("Day one of the trial")})
	require.NoError(t, err)
	assert.True(t, j.IsOngoingStory)

	a, _ = newTestAnalyzer("nope")
	j, err = a.AnalyzeArticle(context.Background(), &database.Article{Title: "Recipe"})
	require.NoError(t, err)
	assert.False(t, j.IsOngoingStory)
}

func TestNoProvider(t *testing.T) {
	a := NewLLMAnalyzer(nil, 512)
	_, err := a.AnalyzeArticle(context.Background(), &database.Article{Title: "x"})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func matchingThreads() []database.StoryThread {
	return []database.StoryThread{
		{ID: 1, Title: "School budget", MonitoringKeywords: []string{"school budget"}},
		{ID: 2, Title: "Harbor bridge closure", MonitoringKeywords: []string{"harbor bridge", "ferry"},
			KeyPeople: []database.KeyPerson{{Name: "Ana Ruiz"}}},
		{ID: 3, Title: "Stadium plan", MonitoringKeywords: []string{"stadium"}},
	}
}

func TestFindMatchingThreadModelPick(t *testing.T) {
	a, p := newTestAnalyzer(`{"thread_id": 2}`)
	article := &database.Article{ID: 9, Title: "Ferry service expanded", Content: ptr("Extra ferry runs while the harbor bridge stays shut.")}

	match, err := a.FindMatchingThread(context.Background(), article, matchingThreads())
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(2), match.ID)
	assert.Contains(t, p.prompts[0], "id 2: Harbor bridge closure")
	assert.NotContains(t, p.prompts[0], "School budget")
}

func TestFindMatchingThreadNoCandidatesSkipsModel(t *testing.T) {
	a, p := newTestAnalyzer(`{"thread_id": 1}`)
	article := &database.Article{Title: "New bakery opens"}

	match, err := a.FindMatchingThread(context.Background(), article, matchingThreads())
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.Empty(t, p.prompts)
}

func TestFindMatchingThreadModelSaysNone(t *testing.T) {
	for _, resp := range []string{`{"thread_id": null}`, `{"thread_id": 0}`} {
		a, _ := newTestAnalyzer(resp)
		article := &database.Article{Title: "Ferry and harbor bridge", Content: ptr("Ana Ruiz spoke")}
		match, err := a.FindMatchingThread(context.Background(), article, matchingThreads())
		require.NoError(t, err)
		assert.Nil(t, match, resp)
	}
}

func TestFindMatchingThreadFallbackOnUnusableOutput(t *testing.T) {
	a, _ := newTestAnalyzer("garbage")

	strong := &database.Article{Title: "Ferry and harbor bridge", Content: ptr("Ana Ruiz spoke")}
	match, err := a.FindMatchingThread(context.Background(), strong, matchingThreads())
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(2), match.ID)

	weak := &database.Article{Title: "Stadium concert"}
	match, err = a.FindMatchingThread(context.Background(), weak, matchingThreads())
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFindMatchingThreadUnknownID(t *testing.T) {
	a, _ := newTestAnalyzer(`{"thread_id": 99}`)
	weak := &database.Article{Title: "Stadium concert"}
	match, err := a.FindMatchingThread(context.Background(), weak, matchingThreads())
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestDraftThread(t *testing.T) {
	a, _ := newTestAnalyzer(jsonString(t, map[string]any{
		"title":               "Harbor bridge closure",
		"summary":             "The bridge is shut.",
		"monitoring_keywords": []string{"harbor bridge", "Harbor Bridge", " ferry ", ""},
		"key_people":          []map[string]string{{"name": "Ana Ruiz", "role": "mayor"}, {"name": ""}},
		"resolution_keywords": []string{"reopened"},
		"upcoming_events": []map[string]string{
			{"name": "Council vote", "date": "2026-03-17"},
			{"name": "Past hearing", "date": "2026-03-01"},
			{"name": "Vague", "date": "next spring"},
		},
	}))

	d, err := a.DraftThread(context.Background(), &database.Article{Title: "Bridge shut"})
	require.NoError(t, err)
	assert.Equal(t, "Harbor bridge closure", d.Title)
	assert.Equal(t, []string{"harbor bridge", "ferry"}, d.MonitoringKeywords)
	assert.Equal(t, []database.KeyPerson{{Name: "Ana Ruiz", Role: "mayor"}}, d.KeyPeople)
	assert.Equal(t, []string{"reopened"}, d.ResolutionKeywords)
	assert.Equal(t, []Event{{Name: "Council vote", Date: "2026-03-17"}}, d.UpcomingEvents)
}

func TestDraftThreadDefaults(t *testing.T) {
	a, _ := newTestAnalyzer("")
	d, err := a.DraftThread(context.Background(), &database.Article{Title: "Bridge shut"})
	require.NoError(t, err)
	assert.Equal(t, ThreadDraft{Title: "Bridge shut"}, d)
}

func TestSuggestFollowUps(t *testing.T) {
	a, _ := newTestAnalyzer(`{"suggestions": [
		{"angle": "explainer", "headline": "What the closure means", "rationale": "Commuters ask", "priority": "HIGH"},
		{"angle": "profile", "headline": "", "rationale": "dropped", "priority": "low"},
		{"angle": "reaction", "headline": "Businesses react", "rationale": "", "priority": "urgent"}
	]}`)

	s, err := a.SuggestFollowUps(context.Background(), testThread(), nil)
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, "high", s[0].Priority)
	assert.Equal(t, "medium", s[1].Priority)
}

// blockingAnalyzer ignores its context to prove the guard does not wait.
type blockingAnalyzer struct {
	Analyzer
	release chan struct{}
}

func (b *blockingAnalyzer) AnalyzeThread(context.Context, *database.StoryThread, []database.Article) (ThreadJudgment, error) {
	<-b.release
	return ThreadJudgment{NeedsFollowUp: true}, nil
}

func (b *blockingAnalyzer) AnalyzeArticle(context.Context, *database.Article) (ArticleJudgment, error) {
	panic("boom")
}

func TestGuardedTimeoutUsesDefaults(t *testing.T) {
	b := &blockingAnalyzer{release: make(chan struct{})}
	defer close(b.release)
	g := NewGuarded(b, 20*time.Millisecond)

	start := time.Now()
	j, err := g.AnalyzeThread(context.Background(), testThread(), nil)
	assert.NoError(t, err)
	assert.Equal(t, DefaultThreadJudgment(), j)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGuardedRecoversPanics(t *testing.T) {
	g := NewGuarded(&blockingAnalyzer{}, time.Second)
	j, err := g.AnalyzeArticle(context.Background(), &database.Article{ID: 1})
	assert.NoError(t, err)
	assert.False(t, j.IsOngoingStory)
}

func TestGuardedNilAnalyzer(t *testing.T) {
	g := NewGuarded(nil, time.Second)
	d, err := g.DraftThread(context.Background(), &database.Article{Title: "Bridge shut"})
	assert.NoError(t, err)
	assert.Equal(t, "Bridge shut", d.Title)

	m, err := g.FindMatchingThread(context.Background(), &database.Article{}, matchingThreads())
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestGuardedPassesResults(t *testing.T) {
	a, _ := newTestAnalyzer(`{"needs_followup": true, "should_continue_monitoring": false}`)
	g := NewGuarded(a, time.Second)
	j, err := g.AnalyzeThread(context.Background(), testThread(), nil)
	require.NoError(t, err)
	assert.True(t, j.NeedsFollowUp)
	assert.False(t, j.ShouldContinueMonitoring)
}

func TestLongContentIsCutOnCharacterBoundary(t *testing.T) {
	content := "a" + strings.Repeat("ü", maxContentChars)
	a := &database.Article{Title: "Brücke", Content: &content}

	text := articleText(a)
	assert.True(t, utf8.ValidString(text))
	assert.True(t, strings.HasSuffix(text, "..."))
	assert.Len(t, text, maxContentChars-1+len("..."))

	coverage := formatCoverage([]database.Article{*a})
	assert.True(t, utf8.ValidString(coverage))
	assert.True(t, strings.HasPrefix(coverage, "- Brücke: aü"))

	assert.Equal(t, "ab", truncate("ab", 2))
	assert.Equal(t, "a...", truncate("aü", 2))
}
