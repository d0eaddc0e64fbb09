// Package trigger decides whether a follow-up trigger fires and when an
// unfired trigger is checked again.
package trigger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/search"
)

const maxResultsInData = 5

// ThreadJudge is the part of the analyzer the evaluator needs.
type ThreadJudge interface {
	AnalyzeThread(ctx context.Context, thread *database.StoryThread, articles []database.Article) (analyzer.ThreadJudgment, error)
}

// ThreadStore reads the coverage already linked to a thread and the region
// it belongs to.
type ThreadStore interface {
	GetThreadArticles(threadID int64) ([]database.Article, error)
	GetThreadArticleURLs(threadID int64) ([]string, error)
	GetThreadRegionSlug(threadID int64) (string, error)
}

// Result is the outcome of evaluating one trigger.
type Result struct {
	Fire   bool
	Reason string
	Data   map[string]any
}

// Evaluator applies the per-type firing policy.
type Evaluator struct {
	judge    ThreadJudge
	searcher search.Searcher
	store    ThreadStore
	policy   config.Policy
	now      func() time.Time
}

// NewEvaluator creates an evaluator. A nil clock means time.Now.
func NewEvaluator(judge ThreadJudge, searcher search.Searcher, store ThreadStore, policy config.Policy, now func() time.Time) *Evaluator {
	if searcher == nil {
		searcher = search.Disabled{}
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{judge: judge, searcher: searcher, store: store, policy: policy, now: now}
}

// Evaluate decides whether trig fires for thread. It never fails: analyzer
// and search problems count as "nothing found".
func (e *Evaluator) Evaluate(ctx context.Context, trig *database.FollowUpTrigger, thread *database.StoryThread) Result {
	log := logrus.WithFields(logrus.Fields{"trigger_id": trig.ID, "thread_id": thread.ID, "type": trig.Type})

	cond, err := Decode(trig.Type, trig.Conditions)
	if err != nil {
		log.Warnf("Bad trigger conditions, using defaults: %v", err)
	}

	now := e.now().UTC()
	switch c := cond.(type) {
	case TimeBasedCondition:
		return e.timeBased(ctx, c, thread, now, log)
	case EngagementCondition:
		return e.engagement(c, thread)
	case DateEventCondition:
		return e.dateEvent(c, now)
	case ResolutionCondition:
		days := c.DaysBack
		if days <= 0 {
			days = e.policy.ResolutionDaysBack
		}
		r := e.searchForUpdates(ctx, thread, c.CheckKeywords, nil, days, log)
		if r.Fire {
			r.Reason = fmt.Sprintf("Found %d potential resolution updates", r.Data["result_count"])
		} else if r.Reason == "" {
			r.Reason = "No resolution news found"
		}
		return r
	case ScheduledCondition:
		days := c.DaysBack
		if days <= 0 {
			days = e.policy.ScheduledDaysBack
		}
		r := e.searchForUpdates(ctx, thread, thread.MonitoringKeywords, thread.KeyPeople, days, log)
		if r.Fire {
			r.Reason = fmt.Sprintf("Found %d new updates", r.Data["result_count"])
		} else if r.Reason == "" {
			r.Reason = "No new updates found"
		}
		return r
	}
	return Result{Reason: fmt.Sprintf("Unknown trigger type: %s", trig.Type)}
}

func (e *Evaluator) timeBased(ctx context.Context, c TimeBasedCondition, thread *database.StoryThread, now time.Time, log *logrus.Entry) Result {
	after := c.DaysAfterLast
	if after <= 0 {
		after = e.policy.DaysAfterLast
	}

	var daysSince any
	if thread.LastArticleAt != nil {
		days := int(math.Floor(now.Sub(*thread.LastArticleAt).Hours() / 24))
		daysSince = days
		if !thread.LastArticleAt.Before(now.AddDate(0, 0, -after)) {
			return Result{Reason: fmt.Sprintf("Last update %d days ago, waiting for %d", days, after)}
		}
	}

	judgment := analyzer.DefaultThreadJudgment()
	if e.judge != nil {
		articles, err := e.store.GetThreadArticles(thread.ID)
		if err != nil {
			log.Warnf("Loading thread articles: %v", err)
		}
		j, err := e.judge.AnalyzeThread(ctx, thread, articles)
		if err != nil {
			log.Warnf("Thread analysis failed: %v", err)
		} else {
			judgment = j
		}
	}

	data := map[string]any{"days_since_update": daysSince, "analyzer_reason": judgment.Reason}
	if !judgment.NeedsFollowUp {
		return Result{Reason: "Analyzer found no follow-up needed", Data: data}
	}
	return Result{
		Fire:   true,
		Reason: fmt.Sprintf("No update in %d days, follow-up needed", after),
		Data:   data,
	}
}

func (e *Evaluator) engagement(c EngagementCondition, thread *database.StoryThread) Result {
	minViews, minComments := c.MinViews, c.MinComments
	if minViews <= 0 {
		minViews = e.policy.MinViews
	}
	if minComments <= 0 {
		minComments = e.policy.MinComments
	}
	if thread.TotalViews < minViews && thread.TotalComments < minComments {
		return Result{Reason: "Engagement below thresholds"}
	}
	return Result{
		Fire:   true,
		Reason: fmt.Sprintf("High engagement: %d views, %d comments", thread.TotalViews, thread.TotalComments),
		Data:   map[string]any{"views": thread.TotalViews, "comments": thread.TotalComments},
	}
}

func (e *Evaluator) dateEvent(c DateEventCondition, now time.Time) Result {
	if strings.TrimSpace(c.Date) == "" {
		return Result{Reason: "No event date set"}
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(c.Date))
	if err != nil {
		return Result{Reason: "Invalid event date"}
	}
	before := e.policy.DaysBefore
	if c.DaysBefore != nil && *c.DaysBefore >= 0 {
		before = *c.DaysBefore
	}
	if now.Before(date.AddDate(0, 0, -before)) {
		return Result{Reason: "Event not yet within window"}
	}

	name := c.EventName
	if name == "" {
		name = "Event"
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Result{
		Fire:   true,
		Reason: fmt.Sprintf("Upcoming event: %s on %s", name, date.Format("2006-01-02")),
		Data: map[string]any{
			"event_name": name,
			"date":       date.Format("2006-01-02"),
			"days_until": int(date.Sub(today).Hours() / 24),
		},
	}
}

// searchForUpdates fires when the search finds articles not yet linked to
// the thread. An empty keyword list never fires.
func (e *Evaluator) searchForUpdates(ctx context.Context, thread *database.StoryThread, keywords []string, people []database.KeyPerson, daysBack int, log *logrus.Entry) Result {
	query := search.BuildQuery(keywords, nil)
	if query == "" {
		return Result{Reason: "No keywords to check"}
	}
	query = search.BuildQuery(keywords, people)

	exclude, err := e.store.GetThreadArticleURLs(thread.ID)
	if err != nil {
		log.Warnf("Loading linked article URLs: %v", err)
	}

	region, err := e.store.GetThreadRegionSlug(thread.ID)
	if err != nil {
		log.Warnf("Resolving thread region: %v", err)
	}

	results, err := e.searcher.SearchNews(ctx, query, search.Options{
		Region:      region,
		DaysBack:    daysBack,
		ExcludeURLs: exclude,
	})
	if err != nil {
		log.Warnf("News search failed: %v", err)
		results = nil
	}
	if len(results) == 0 {
		return Result{}
	}

	top := results
	if len(top) > maxResultsInData {
		top = top[:maxResultsInData]
	}
	return Result{
		Fire: true,
		Data: map[string]any{"query": query, "results": top, "result_count": len(results)},
	}
}
