package analyzer

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/llm"
)

const (
	maxContentChars  = 4000
	maxCandidates    = 5
	maxKeywords      = 8
	maxSuggestions   = 5
	minFallbackMatch = 2
)

// Response shapes, used to derive strict JSON schemas for providers that
// support structured output.
type threadResponse struct {
	NeedsFollowUp            bool   `json:"needs_followup"`
	IsResolved               bool   `json:"is_resolved"`
	ResolutionType           string `json:"resolution_type"`
	Reason                   string `json:"reason"`
	ShouldContinueMonitoring bool   `json:"should_continue_monitoring"`
	RecommendedStatus        string `json:"recommended_status"`
}

type articleResponse struct {
	IsOngoingStory bool `json:"is_ongoing_story"`
}

type matchResponse struct {
	ThreadID int64 `json:"thread_id"`
}

type draftResponse struct {
	Title              string               `json:"title"`
	Summary            string               `json:"summary"`
	MonitoringKeywords []string             `json:"monitoring_keywords"`
	KeyPeople          []database.KeyPerson `json:"key_people"`
	ResolutionKeywords []string             `json:"resolution_keywords"`
	UpcomingEvents     []Event              `json:"upcoming_events"`
}

type suggestResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

var (
	threadSchema  = llm.SchemaFor[threadResponse]("ThreadJudgment", "Follow-up judgment for a story thread")
	articleSchema = llm.SchemaFor[articleResponse]("ArticleJudgment", "Whether an article is part of an ongoing story")
	matchSchema   = llm.SchemaFor[matchResponse]("ThreadMatch", "Story thread an article continues")
	draftSchema   = llm.SchemaFor[draftResponse]("ThreadDraft", "Tracking file for a new story thread")
	suggestSchema = llm.SchemaFor[suggestResponse]("FollowUpSuggestions", "Follow-up coverage suggestions")
)

// LLMAnalyzer implements Analyzer with an LLM provider.
type LLMAnalyzer struct {
	provider  llm.Provider
	maxTokens int
	now       func() time.Time
}

// NewLLMAnalyzer creates an analyzer backed by provider.
func NewLLMAnalyzer(provider llm.Provider, maxTokens int) *LLMAnalyzer {
	return &LLMAnalyzer{provider: provider, maxTokens: maxTokens, now: time.Now}
}

func (a *LLMAnalyzer) generate(ctx context.Context, prompt string, schema llm.Schema) (map[string]any, error) {
	if a.provider == nil {
		return nil, ErrNoProvider
	}
	text, err := llm.GenerateJSON(ctx, a.provider, prompt, schema, a.maxTokens)
	if err != nil {
		return nil, err
	}
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		logrus.Warnf("Unparseable %s response, using defaults", schema.Name)
	}
	return parsed, nil
}

// AnalyzeThread judges whether a thread needs follow-up and whether it has
// concluded.
func (a *LLMAnalyzer) AnalyzeThread(ctx context.Context, thread *database.StoryThread, articles []database.Article) (ThreadJudgment, error) {
	days := "never updated"
	if thread.LastArticleAt != nil {
		days = fmt.Sprintf("%.0f", a.now().Sub(*thread.LastArticleAt).Hours()/24)
	}
	prompt := fmt.Sprintf(threadPrompt,
		thread.Title, thread.Status, deref(thread.Summary, "None"), days,
		joinOr(thread.MonitoringKeywords, "None"), formatPeople(thread.KeyPeople),
		formatCoverage(articles))

	parsed, err := a.generate(ctx, prompt, threadSchema)
	if err != nil {
		return DefaultThreadJudgment(), err
	}
	j := DefaultThreadJudgment()
	if parsed == nil {
		return j, nil
	}

	j.NeedsFollowUp = getBool(parsed, "needs_followup", false)
	j.IsResolved = getBool(parsed, "is_resolved", false)
	j.ShouldContinueMonitoring = getBool(parsed, "should_continue_monitoring", true)
	if rt := strings.TrimSpace(getString(parsed, "resolution_type", "")); rt != "" && j.IsResolved {
		j.ResolutionType = &rt
	}
	if reason := strings.TrimSpace(getString(parsed, "reason", "")); reason != "" {
		j.Reason = &reason
	}
	status := database.ThreadStatus(strings.ToLower(strings.TrimSpace(getString(parsed, "recommended_status", ""))))
	if status.Valid() {
		j.RecommendedStatus = &status
	}
	return j, nil
}

// AnalyzeArticle reports whether the article belongs to an ongoing story.
func (a *LLMAnalyzer) AnalyzeArticle(ctx context.Context, article *database.Article) (ArticleJudgment, error) {
	prompt := fmt.Sprintf(articlePrompt, article.Title, deref(article.Source, "Unknown"), articleText(article))
	parsed, err := a.generate(ctx, prompt, articleSchema)
	if err != nil || parsed == nil {
		return ArticleJudgment{}, err
	}
	return ArticleJudgment{IsOngoingStory: getBool(parsed, "is_ongoing_story", false)}, nil
}

type candidate struct {
	thread  *database.StoryThread
	overlap int
}

// FindMatchingThread preselects candidates sharing keywords or people with
// the article and lets the model pick one. When the model answer is unusable
// the strongest overlap wins if it is convincing enough.
func (a *LLMAnalyzer) FindMatchingThread(ctx context.Context, article *database.Article, threads []database.StoryThread) (*database.StoryThread, error) {
	candidates := rankCandidates(article, threads)
	if len(candidates) == 0 {
		return nil, nil
	}

	var lines []string
	for _, c := range candidates {
		lines = append(lines, fmt.Sprintf("- id %d: %s (keywords: %s)",
			c.thread.ID, c.thread.Title, joinOr(c.thread.MonitoringKeywords, "none")))
	}
	prompt := fmt.Sprintf(matchPrompt, article.Title, articleText(article), strings.Join(lines, "\n"))

	parsed, err := a.generate(ctx, prompt, matchSchema)
	if err != nil {
		return nil, err
	}

	fallback := func() *database.StoryThread {
		if candidates[0].overlap >= minFallbackMatch {
			return candidates[0].thread
		}
		return nil
	}
	if parsed == nil {
		return fallback(), nil
	}
	raw, present := parsed["thread_id"]
	if !present {
		return fallback(), nil
	}
	if raw == nil {
		return nil, nil
	}
	id, ok := toInt64(raw)
	if !ok {
		return fallback(), nil
	}
	if id == 0 {
		return nil, nil
	}
	for _, c := range candidates {
		if c.thread.ID == id {
			return c.thread, nil
		}
	}
	logrus.WithField("article_id", article.ID).Warnf("Model picked unknown thread %d", id)
	return fallback(), nil
}

func rankCandidates(article *database.Article, threads []database.StoryThread) []candidate {
	text := strings.ToLower(article.Title + "\n" + deref(article.Content, ""))

	var out []candidate
	for i := range threads {
		t := &threads[i]
		n := 0
		for _, kw := range t.MonitoringKeywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
				n++
			}
		}
		for _, p := range t.KeyPeople {
			if name := strings.ToLower(strings.TrimSpace(p.Name)); name != "" && strings.Contains(text, name) {
				n++
			}
		}
		if n > 0 {
			out = append(out, candidate{thread: t, overlap: n})
		}
	}
	slices.SortStableFunc(out, func(a, b candidate) int { return cmp.Compare(b.overlap, a.overlap) })
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// DraftThread produces title, keywords, people and upcoming events for a new
// thread seeded by article.
func (a *LLMAnalyzer) DraftThread(ctx context.Context, article *database.Article) (ThreadDraft, error) {
	today := a.now().UTC()
	prompt := fmt.Sprintf(draftPrompt, article.Title, deref(article.Source, "Unknown"),
		articleText(article), database.FormatDay(today))

	parsed, err := a.generate(ctx, prompt, draftSchema)
	if err != nil {
		return DefaultThreadDraft(article), err
	}
	d := DefaultThreadDraft(article)
	if parsed == nil {
		return d, nil
	}

	if title := strings.TrimSpace(getString(parsed, "title", "")); title != "" {
		d.Title = title
	}
	d.Summary = strings.TrimSpace(getString(parsed, "summary", ""))
	d.MonitoringKeywords = getStrings(parsed, "monitoring_keywords", maxKeywords)
	d.ResolutionKeywords = getStrings(parsed, "resolution_keywords", maxKeywords)

	if arr, ok := parsed["key_people"].([]any); ok {
		for _, v := range arr {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if name := strings.TrimSpace(getString(m, "name", "")); name != "" {
				d.KeyPeople = append(d.KeyPeople, database.KeyPerson{Name: name, Role: getString(m, "role", "")})
			}
		}
	}

	if arr, ok := parsed["upcoming_events"].([]any); ok {
		for _, v := range arr {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			date := strings.TrimSpace(getString(m, "date", ""))
			day, err := time.Parse("2006-01-02", date)
			if err != nil || day.Before(today.Truncate(24*time.Hour)) {
				continue
			}
			d.UpcomingEvents = append(d.UpcomingEvents, Event{Name: strings.TrimSpace(getString(m, "name", "")), Date: date})
		}
	}
	return d, nil
}

// SuggestFollowUps proposes follow-up pieces for a thread.
func (a *LLMAnalyzer) SuggestFollowUps(ctx context.Context, thread *database.StoryThread, articles []database.Article) ([]Suggestion, error) {
	prompt := fmt.Sprintf(suggestPrompt, thread.Title, thread.Status,
		deref(thread.Summary, "None"), formatCoverage(articles))

	parsed, err := a.generate(ctx, prompt, suggestSchema)
	if err != nil || parsed == nil {
		return nil, err
	}

	arr, _ := parsed["suggestions"].([]any)
	var out []Suggestion
	for _, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		s := Suggestion{
			Angle:     strings.TrimSpace(getString(m, "angle", "follow-up")),
			Headline:  strings.TrimSpace(getString(m, "headline", "")),
			Rationale: strings.TrimSpace(getString(m, "rationale", "")),
			Priority:  normalizePriority(getString(m, "priority", "")),
		}
		if s.Headline == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}

func normalizePriority(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case "high", "medium", "low":
		return p
	}
	return "medium"
}

func articleText(a *database.Article) string {
	content := deref(a.Content, "")
	if content == "" {
		content = a.Title
	}
	return truncate(content, maxContentChars)
}

// truncate cuts s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func formatCoverage(articles []database.Article) string {
	if len(articles) == 0 {
		return "None"
	}
	recent := slices.Clone(articles)
	slices.Reverse(recent)
	if len(recent) > 5 {
		recent = recent[:5]
	}
	var lines []string
	for _, a := range recent {
		snippet := truncate(deref(a.Content, ""), 500)
		line := "- " + a.Title
		if snippet != "" {
			line += ": " + strings.ReplaceAll(snippet, "\n", " ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatPeople(people []database.KeyPerson) string {
	if len(people) == 0 {
		return "None"
	}
	var parts []string
	for _, p := range people {
		if p.Role != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", p.Name, p.Role))
		} else {
			parts = append(parts, p.Name)
		}
	}
	return strings.Join(parts, ", ")
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func getBool(m map[string]any, key string, fallback bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
	}
	return fallback
}

func getStrings(m map[string]any, key string, limit int) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		var i int64
		_, err := fmt.Sscan(strings.TrimSpace(n), &i)
		return i, err == nil
	}
	return 0, false
}
