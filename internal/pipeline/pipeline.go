// Package pipeline runs every follow-up job for a region in one pass, the way
// an operator would run them by hand.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/collect"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/fetch"
	"github.com/TobiSchelling/followup/internal/followup"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Region string
	Steps  []StepResult
}

// Ingester collects new articles for a region.
type Ingester interface {
	Ingest(ctx context.Context, region config.Region, regionID int64) *collect.Result
}

// Fetcher fills in missing article bodies.
type Fetcher interface {
	FetchMissingContent(ctx context.Context, regionID *int64) *fetch.Result
}

// Engine runs the follow-up jobs.
type Engine interface {
	ProcessHighEngagementArticles(ctx context.Context, regionID int64) *followup.EngagementResult
	ProcessTriggers(ctx context.Context, regionID int64) *followup.TriggerResult
	UpdateThreadStatuses(ctx context.Context, regionID int64) *followup.StatusResult
}

// Store answers the questions a dry run asks.
type Store interface {
	GetArticlesNeedingFetch(regionID *int64) ([]database.Article, error)
	GetUnthreadedArticles(regionID int64) ([]database.Article, error)
	GetDueTriggers(regionID int64, now time.Time) ([]database.FollowUpTrigger, error)
	GetActiveThreads(regionID int64) ([]database.StoryThread, error)
}

// Pipeline orchestrates the 5-step region run.
type Pipeline struct {
	ingester Ingester
	fetcher  Fetcher
	engine   Engine
	store    Store
	now      func() time.Time
}

// New creates a new pipeline.
func New(ingester Ingester, fetcher Fetcher, engine Engine, store Store) *Pipeline {
	return &Pipeline{ingester: ingester, fetcher: fetcher, engine: engine, store: store, now: time.Now}
}

// Run executes ingest, fetch, engagement, triggers and statuses in order.
// Triggers run after threading so that new articles count toward engagement
// and staleness.
func (p *Pipeline) Run(ctx context.Context, region config.Region, regionID int64) *Result {
	r := &Result{Region: region.Slug}
	log := logrus.WithField("region", region.Slug)

	steps := []struct {
		name string
		run  func() string
	}{
		{"Ingest", func() string {
			res := p.ingester.Ingest(ctx, region, regionID)
			return fmt.Sprintf("Found %d new articles (%d total, %d duplicates, %d threaded)", res.New, res.Found, res.Duplicates, res.Threaded)
		}},
		{"Fetch", func() string {
			res := p.fetcher.FetchMissingContent(ctx, &regionID)
			return fmt.Sprintf("Fetched %d articles, %d failed", res.Fetched, res.Failed)
		}},
		{"Engagement", func() string {
			res := p.engine.ProcessHighEngagementArticles(ctx, regionID)
			return fmt.Sprintf("Analyzed %d articles: %d threads created, %d joined", res.ArticlesAnalyzed, res.ThreadsCreated, res.ThreadsJoined)
		}},
		{"Triggers", func() string {
			res := p.engine.ProcessTriggers(ctx, regionID)
			return fmt.Sprintf("Processed %d triggers: %d fired, %d expired, %d errors", res.Processed, res.Triggered, res.Expired, len(res.Errors))
		}},
		{"Statuses", func() string {
			res := p.engine.UpdateThreadStatuses(ctx, regionID)
			return fmt.Sprintf("Checked %d threads: %d resolved, %d dormant, %d monitoring", res.Checked, res.Resolved, res.Dormant, res.Monitoring)
		}},
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			r.Steps = append(r.Steps, StepResult{Name: step.name, Err: err})
			return r
		}
		log.Infof("Step %d/%d: %s", i+1, len(steps), step.name)
		r.Steps = append(r.Steps, StepResult{Name: step.name, Summary: step.run()})
	}
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(region config.Region, regionID int64) *Result {
	r := &Result{Region: region.Slug}
	count := func(name string, n int, err error, format string) {
		if err != nil {
			r.Steps = append(r.Steps, StepResult{Name: name, Err: err})
			return
		}
		r.Steps = append(r.Steps, StepResult{Name: name, Summary: fmt.Sprintf("[dry-run] "+format, n)})
	}

	r.Steps = append(r.Steps, StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("[dry-run] Would read %d feeds", len(region.Feeds)),
	})

	needing, err := p.store.GetArticlesNeedingFetch(&regionID)
	count("Fetch", len(needing), err, "%d articles need content fetching")

	unthreaded, err := p.store.GetUnthreadedArticles(regionID)
	count("Engagement", len(unthreaded), err, "%d unthreaded articles to score")

	due, err := p.store.GetDueTriggers(regionID, p.now().UTC())
	count("Triggers", len(due), err, "%d triggers due")

	active, err := p.store.GetActiveThreads(regionID)
	count("Statuses", len(active), err, "%d active threads to sweep")

	return r
}
