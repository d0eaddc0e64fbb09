package followup

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/engagement"
	"github.com/TobiSchelling/followup/internal/thread"
)

var statusWeights = map[database.ThreadStatus]float64{
	database.StatusDeveloping: 1.5,
	database.StatusMonitoring: 1.0,
}

var suggestionWeights = map[string]float64{
	"high":   1.0,
	"medium": 0.8,
	"low":    0.6,
}

// ThreadPriority is an active thread the analyzer wants followed up.
type ThreadPriority struct {
	Thread          database.StoryThread
	Priority        float64
	EngagementScore float64
	Judgment        analyzer.ThreadJudgment
}

// QueueEntry is one line of the editorial follow-up queue.
type QueueEntry struct {
	ThreadID        int64                `json:"thread_id"`
	ThreadTitle     string               `json:"thread_title"`
	Priority        float64              `json:"priority"`
	EngagementScore float64              `json:"engagement_score"`
	DaysSinceUpdate float64              `json:"days_since_update"`
	Suggestion      *analyzer.Suggestion `json:"suggestion"`
}

// EngagementResult holds the results of a high-engagement sweep.
type EngagementResult struct {
	ArticlesAnalyzed int `json:"articles_analyzed"`
	ThreadsCreated   int `json:"threads_created"`
	ThreadsJoined    int `json:"threads_joined"`
	Errors           int `json:"errors"`
}

// StatusResult holds the results of a lifecycle sweep.
type StatusResult struct {
	Checked    int `json:"checked"`
	Resolved   int `json:"resolved"`
	Dormant    int `json:"dormant"`
	Monitoring int `json:"monitoring"`
	Errors     int `json:"errors"`
}

// IdentifyThreadsNeedingFollowUp asks the analyzer about every active thread
// of the region and returns those needing follow-up, highest priority first.
// Priority is the engagement score weighted by status; ties keep thread order.
func (s *Service) IdentifyThreadsNeedingFollowUp(ctx context.Context, regionID int64) ([]ThreadPriority, error) {
	threads, err := s.db.GetActiveThreads(regionID)
	if err != nil {
		return nil, fmt.Errorf("loading active threads: %w", err)
	}
	now := s.now().UTC()

	judgments := make([]analyzer.ThreadJudgment, len(threads))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i := range threads {
		g.Go(func() error {
			t := &threads[i]
			articles, err := s.db.GetThreadArticles(t.ID)
			if err != nil {
				logrus.WithField("thread_id", t.ID).Warnf("Loading thread articles: %v", err)
			}
			j, err := s.analyzer.AnalyzeThread(ctx, t, articles)
			if err != nil {
				j = analyzer.DefaultThreadJudgment()
			}
			judgments[i] = j
			return nil
		})
	}
	_ = g.Wait()

	var out []ThreadPriority
	for i, t := range threads {
		if !judgments[i].NeedsFollowUp {
			continue
		}
		score := s.scorer.Score(&t, now)
		out = append(out, ThreadPriority{
			Thread:          t,
			Priority:        score * statusWeights[t.Status],
			EngagementScore: score,
			Judgment:        judgments[i],
		})
	}
	slices.SortStableFunc(out, func(a, b ThreadPriority) int { return cmp.Compare(b.Priority, a.Priority) })
	return out, nil
}

// GenerateFollowUpQueue builds the editorial queue for the region: every
// suggestion for every thread needing follow-up, weighted by the
// suggestion's priority, highest first, at most limit entries. A thread
// without suggestions still gets one entry.
func (s *Service) GenerateFollowUpQueue(ctx context.Context, regionID int64, limit int) ([]QueueEntry, error) {
	if limit <= 0 {
		limit = s.policy.QueueLimit
	}
	prioritized, err := s.IdentifyThreadsNeedingFollowUp(ctx, regionID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	suggestions := make([][]analyzer.Suggestion, len(prioritized))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i := range prioritized {
		g.Go(func() error {
			t := &prioritized[i].Thread
			articles, err := s.db.GetThreadArticles(t.ID)
			if err != nil {
				logrus.WithField("thread_id", t.ID).Warnf("Loading thread articles: %v", err)
			}
			suggestions[i], _ = s.analyzer.SuggestFollowUps(ctx, t, articles)
			return nil
		})
	}
	_ = g.Wait()

	var entries []QueueEntry
	for i, p := range prioritized {
		since := p.Thread.CreatedAt
		if p.Thread.LastArticleAt != nil {
			since = *p.Thread.LastArticleAt
		}
		base := QueueEntry{
			ThreadID:        p.Thread.ID,
			ThreadTitle:     p.Thread.Title,
			Priority:        p.Priority,
			EngagementScore: p.EngagementScore,
			DaysSinceUpdate: engagement.DaysSince(since, now),
		}
		if len(suggestions[i]) == 0 {
			entries = append(entries, base)
			continue
		}
		for _, sg := range suggestions[i] {
			e := base
			e.Suggestion = &sg
			w, ok := suggestionWeights[sg.Priority]
			if !ok {
				w = suggestionWeights["medium"]
			}
			e.Priority = p.Priority * w
			entries = append(entries, e)
		}
	}

	slices.SortStableFunc(entries, func(a, b QueueEntry) int { return cmp.Compare(b.Priority, a.Priority) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ProcessHighEngagementArticles threads the region's best performing
// unthreaded articles, at most the policy's limit per run.
func (s *Service) ProcessHighEngagementArticles(ctx context.Context, regionID int64) *EngagementResult {
	start := s.now()
	r := &EngagementResult{}
	now := s.now().UTC()

	for sa := range s.scorer.HighEngagementUnthreaded(ctx, s.db, regionID, s.policy.HighEngagementMinScore, now) {
		if r.ArticlesAnalyzed >= s.policy.HighEngagementLimit {
			break
		}
		r.ArticlesAnalyzed++

		_, outcome, err := s.threads.Associate(ctx, &sa.Article, regionID, database.AdditionUpdate)
		if err != nil {
			logrus.WithField("article_id", sa.Article.ID).Errorf("Associating article: %v", err)
			r.Errors++
			continue
		}
		switch outcome {
		case thread.OutcomeCreated:
			r.ThreadsCreated++
		case thread.OutcomeJoined:
			r.ThreadsJoined++
		}
	}

	logrus.WithField("region_id", regionID).Infof("High-engagement sweep: %d analyzed, %d created, %d joined",
		r.ArticlesAnalyzed, r.ThreadsCreated, r.ThreadsJoined)
	s.recordCounts(start, 0, 0, r.Errors)
	return r
}

// UpdateThreadStatuses sweeps every developing and monitoring thread of the
// region through the lifecycle rules.
func (s *Service) UpdateThreadStatuses(ctx context.Context, regionID int64) *StatusResult {
	start := s.now()
	r := &StatusResult{}
	threads, err := s.db.GetActiveThreads(regionID)
	if err != nil {
		logrus.WithField("region_id", regionID).Errorf("Loading active threads: %v", err)
		r.Errors++
		s.recordCounts(start, 0, 0, r.Errors)
		return r
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for _, t := range threads {
		g.Go(func() error {
			d, err := s.threads.Sweep(ctx, t.ID)
			mu.Lock()
			defer mu.Unlock()
			r.Checked++
			if err != nil {
				logrus.WithField("thread_id", t.ID).Errorf("Sweeping thread: %v", err)
				r.Errors++
				return nil
			}
			if !d.Changed {
				return nil
			}
			switch d.NewStatus {
			case database.StatusResolved:
				r.Resolved++
			case database.StatusDormant:
				r.Dormant++
			case database.StatusMonitoring:
				r.Monitoring++
			}
			return nil
		})
	}
	_ = g.Wait()

	logrus.WithField("region_id", regionID).Infof("Status sweep: %d checked, %d resolved, %d dormant, %d monitoring",
		r.Checked, r.Resolved, r.Dormant, r.Monitoring)
	s.recordCounts(start, 0, 0, r.Errors)
	return r
}
