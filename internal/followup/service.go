// Package followup orchestrates the follow-up engine for a region: it
// processes due triggers, sweeps thread lifecycles, threads new and
// high-engagement articles, and builds the editorial follow-up queue.
package followup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/editorial"
	"github.com/TobiSchelling/followup/internal/engagement"
	"github.com/TobiSchelling/followup/internal/search"
	"github.com/TobiSchelling/followup/internal/thread"
	"github.com/TobiSchelling/followup/internal/trigger"
)

// Service is the follow-up orchestrator. All collaborators are injected.
type Service struct {
	db         *database.DB
	analyzer   analyzer.Analyzer
	scorer     *engagement.Scorer
	evaluator  *trigger.Evaluator
	threads    *thread.Manager
	dispatcher *editorial.Dispatcher
	policy     config.Policy
	locks      *thread.Locks
	now        func() time.Time

	mu      sync.RWMutex
	metrics Metrics
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocks shares a thread lock table with other writers.
func WithLocks(l *thread.Locks) Option {
	return func(s *Service) { s.locks = l }
}

// New creates the orchestrator. The analyzer is wrapped so that each call is
// bounded by the policy's analyzer timeout and failures become neutral
// judgments. A nil searcher disables news search; a nil queue logs requests.
func New(db *database.DB, a analyzer.Analyzer, searcher search.Searcher, queue editorial.Queue, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		db:     db,
		scorer: engagement.NewScorer(cfg.Engagement),
		policy: cfg.Policy,
		now:    time.Now,
		locks:  thread.NewLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if g, ok := a.(*analyzer.Guarded); ok {
		s.analyzer = g
	} else {
		s.analyzer = analyzer.NewGuarded(a, cfg.Policy.AnalyzerTimeout)
	}
	if queue == nil {
		queue = editorial.LogQueue{}
	}

	s.evaluator = trigger.NewEvaluator(s.analyzer, searcher, db, s.policy, s.now)
	s.threads = thread.NewManager(db, s.analyzer, s.policy, s.locks, s.now)
	s.dispatcher = editorial.NewDispatcher(db, queue, s.now)
	return s
}

// SyncRegions makes sure every configured region exists in the store.
func (s *Service) SyncRegions(regions []config.Region) error {
	for _, r := range regions {
		name := r.Name
		if name == "" {
			name = r.Slug
		}
		if _, err := s.db.UpsertRegion(r.Slug, name); err != nil {
			return fmt.Errorf("syncing region %s: %w", r.Slug, err)
		}
	}
	return nil
}

// Region resolves a region slug. Returns nil if it is unknown.
func (s *Service) Region(slug string) (*database.Region, error) {
	return s.db.GetRegionBySlug(slug)
}

// ProcessNewArticle threads a freshly ingested article within its primary
// region. Articles without a region are ignored.
func (s *Service) ProcessNewArticle(ctx context.Context, articleID int64) (*database.StoryThread, error) {
	article, err := s.db.GetArticleByID(articleID)
	if err != nil {
		return nil, fmt.Errorf("loading article %d: %w", articleID, err)
	}
	if article == nil {
		logrus.WithField("article_id", articleID).Warn("Article not found, skipping")
		return nil, nil
	}
	regionID, ok := article.PrimaryRegion()
	if !ok {
		logrus.WithField("article_id", articleID).Debug("Article has no region, skipping")
		return nil, nil
	}

	t, _, err := s.threads.Associate(ctx, article, regionID, database.AdditionDevelopment)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RegionReport collects the results of one full region run.
type RegionReport struct {
	RegionID   int64
	Triggers   *TriggerResult
	Statuses   *StatusResult
	Engagement *EngagementResult
}

// RunRegion processes triggers, sweeps statuses and runs the high-engagement
// sweep for a region, in that order.
func (s *Service) RunRegion(ctx context.Context, regionID int64) RegionReport {
	return RegionReport{
		RegionID:   regionID,
		Triggers:   s.ProcessTriggers(ctx, regionID),
		Statuses:   s.UpdateThreadStatuses(ctx, regionID),
		Engagement: s.ProcessHighEngagementArticles(ctx, regionID),
	}
}

func (s *Service) concurrency() int {
	if s.policy.Concurrency > 0 {
		return s.policy.Concurrency
	}
	return 1
}

// Stats returns aggregate counts from the store.
func (s *Service) Stats() (*database.Stats, error) {
	return s.db.GetStats()
}
