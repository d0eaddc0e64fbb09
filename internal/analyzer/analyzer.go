// Package analyzer is the boundary to the AI content analyzer. It turns
// best-effort model output into typed judgments with documented defaults.
package analyzer

import (
	"context"
	"errors"

	"github.com/TobiSchelling/followup/internal/database"
)

// ErrNoProvider is returned when no LLM provider is available.
var ErrNoProvider = errors.New("no LLM provider available")

// Analyzer judges threads and articles.
type Analyzer interface {
	AnalyzeThread(ctx context.Context, thread *database.StoryThread, articles []database.Article) (ThreadJudgment, error)
	AnalyzeArticle(ctx context.Context, article *database.Article) (ArticleJudgment, error)
	// FindMatchingThread returns the candidate the article continues, or nil.
	FindMatchingThread(ctx context.Context, article *database.Article, candidates []database.StoryThread) (*database.StoryThread, error)
	DraftThread(ctx context.Context, article *database.Article) (ThreadDraft, error)
	SuggestFollowUps(ctx context.Context, thread *database.StoryThread, articles []database.Article) ([]Suggestion, error)
}

// ThreadJudgment is the analyzer's view of whether a thread needs coverage.
type ThreadJudgment struct {
	NeedsFollowUp            bool
	IsResolved               bool
	ResolutionType           *string
	Reason                   *string
	ShouldContinueMonitoring bool
	RecommendedStatus        *database.ThreadStatus
}

// DefaultThreadJudgment is the neutral judgment used when the analyzer gives
// no usable signal: no follow-up, not resolved, keep monitoring.
func DefaultThreadJudgment() ThreadJudgment {
	return ThreadJudgment{ShouldContinueMonitoring: true}
}

// ArticleJudgment reports whether an article belongs to an ongoing story.
type ArticleJudgment struct {
	IsOngoingStory bool
}

// Event is an upcoming dated event mentioned by an article.
type Event struct {
	Name string `json:"name"`
	Date string `json:"date"` // YYYY-MM-DD
}

// ThreadDraft is the content of a thread created from an article.
type ThreadDraft struct {
	Title              string
	Summary            string
	MonitoringKeywords []string
	KeyPeople          []database.KeyPerson
	ResolutionKeywords []string
	UpcomingEvents     []Event
}

// DefaultThreadDraft titles the thread after the article and leaves it
// without keywords.
func DefaultThreadDraft(article *database.Article) ThreadDraft {
	return ThreadDraft{Title: article.Title}
}

// Suggestion is a proposed follow-up piece for a thread.
type Suggestion struct {
	Angle     string `json:"angle"`
	Headline  string `json:"headline"`
	Rationale string `json:"rationale"`
	Priority  string `json:"priority"` // high, medium or low
}
