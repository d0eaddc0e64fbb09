package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/analyzer"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/trigger"
)

// Store is the persistence the manager needs.
type Store interface {
	GetThread(threadID int64) (*database.StoryThread, error)
	GetActiveThreads(regionID int64) ([]database.StoryThread, error)
	GetThreadArticles(threadID int64) ([]database.Article, error)
	IsArticleThreaded(articleID int64) (bool, error)
	LinkArticle(threadID, articleID int64, addition database.AdditionType, at time.Time) (bool, error)
	CreateThreadFromArticle(t database.NewThread, articleID int64, at time.Time, triggers []database.NewTrigger) (int64, error)
	UpdateThreadStatus(threadID int64, status database.ThreadStatus, resolutionType, resolutionReason *string, at time.Time) error
}

// Outcome says what association did with an article.
type Outcome string

const (
	OutcomeAlreadyThreaded Outcome = "already_threaded"
	OutcomeJoined          Outcome = "joined"
	OutcomeCreated         Outcome = "created"
	OutcomeNotThreaded     Outcome = "not_threaded"
)

// Manager sweeps thread statuses and threads new articles.
type Manager struct {
	store    Store
	analyzer analyzer.Analyzer
	policy   config.Policy
	locks    *Locks
	articles *Locks
	now      func() time.Time
}

// NewManager creates a manager. The analyzer should already be guarded;
// errors it still returns are treated as neutral judgments. Pass the same
// Locks to every component that mutates threads.
func NewManager(store Store, a analyzer.Analyzer, policy config.Policy, locks *Locks, now func() time.Time) *Manager {
	if locks == nil {
		locks = NewLocks()
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, analyzer: a, policy: policy, locks: locks, articles: NewLocks(), now: now}
}

// Locks returns the thread lock table shared by the manager.
func (m *Manager) Locks() *Locks {
	return m.locks
}

// Sweep analyzes one thread and persists the lifecycle decision.
func (m *Manager) Sweep(ctx context.Context, threadID int64) (Decision, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading thread %d: %w", threadID, err)
	}
	if t == nil {
		return Decision{}, fmt.Errorf("thread %d: %w", threadID, database.ErrNotFound)
	}
	if !t.Status.Active() {
		return Decision{OldStatus: t.Status, NewStatus: t.Status, Rule: RuleFinal}, nil
	}

	log := logrus.WithField("thread_id", t.ID)
	articles, err := m.store.GetThreadArticles(t.ID)
	if err != nil {
		log.Warnf("Loading thread articles: %v", err)
	}
	judgment, err := m.analyzer.AnalyzeThread(ctx, t, articles)
	if err != nil {
		log.Warnf("Thread analysis failed, using defaults: %v", err)
		judgment = analyzer.DefaultThreadJudgment()
	}

	now := m.now().UTC()
	d := Decide(t, judgment, now, m.policy)
	if !d.Changed {
		return d, nil
	}

	var resType, resReason *string
	if d.NewStatus == database.StatusResolved {
		resType, resReason = d.ResolutionType, d.ResolutionReason
	}
	if err := m.store.UpdateThreadStatus(t.ID, d.NewStatus, resType, resReason, now); err != nil {
		return d, fmt.Errorf("updating thread %d status: %w", t.ID, err)
	}
	log.WithField("rule", d.Rule).Infof("Thread %q: %s -> %s", t.Title, d.OldStatus, d.NewStatus)
	return d, nil
}

// Associate threads an article within a region: it joins the matching active
// thread, or starts a new developing thread when the article is part of an
// ongoing story. Articles already on an active thread are left alone.
func (m *Manager) Associate(ctx context.Context, article *database.Article, regionID int64, addition database.AdditionType) (*database.StoryThread, Outcome, error) {
	unlockArticle := m.articles.Lock(article.ID)
	defer unlockArticle()

	threaded, err := m.store.IsArticleThreaded(article.ID)
	if err != nil {
		return nil, "", fmt.Errorf("checking article %d: %w", article.ID, err)
	}
	if threaded {
		return nil, OutcomeAlreadyThreaded, nil
	}

	log := logrus.WithFields(logrus.Fields{"article_id": article.ID, "region_id": regionID})

	candidates, err := m.store.GetActiveThreads(regionID)
	if err != nil {
		return nil, "", fmt.Errorf("loading active threads: %w", err)
	}
	if len(candidates) > 0 {
		match, err := m.analyzer.FindMatchingThread(ctx, article, candidates)
		if err != nil {
			log.Warnf("Thread matching failed: %v", err)
		}
		if match != nil {
			t, err := m.join(match.ID, article.ID, addition)
			if err != nil {
				return nil, "", err
			}
			if t != nil {
				log.Infof("Article %q joined thread %q", article.Title, t.Title)
				return t, OutcomeJoined, nil
			}
		}
	}

	judgment, err := m.analyzer.AnalyzeArticle(ctx, article)
	if err != nil {
		log.Warnf("Article analysis failed: %v", err)
	}
	if !judgment.IsOngoingStory {
		log.Debugf("Article %q is not an ongoing story", article.Title)
		return nil, OutcomeNotThreaded, nil
	}

	draft, err := m.analyzer.DraftThread(ctx, article)
	if err != nil {
		log.Warnf("Thread drafting failed, using defaults: %v", err)
		draft = analyzer.DefaultThreadDraft(article)
	}

	now := m.now().UTC()
	nt := database.NewThread{
		RegionID:           regionID,
		Title:              draft.Title,
		MonitoringKeywords: draft.MonitoringKeywords,
		KeyPeople:          draft.KeyPeople,
	}
	if draft.Summary != "" {
		nt.Summary = &draft.Summary
	}
	id, err := m.store.CreateThreadFromArticle(nt, article.ID, now, DefaultTriggers(draft, now, m.policy))
	if err != nil {
		return nil, "", fmt.Errorf("creating thread: %w", err)
	}
	t, err := m.store.GetThread(id)
	if err != nil {
		return nil, "", err
	}
	log.Infof("Created thread %q from article %d", draft.Title, article.ID)
	return t, OutcomeCreated, nil
}

// join links the article to the thread under the thread lock. It returns nil
// when the thread went inactive since it was matched.
func (m *Manager) join(threadID, articleID int64, addition database.AdditionType) (*database.StoryThread, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	t, err := m.store.GetThread(threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %d: %w", threadID, err)
	}
	if t == nil || !t.Status.Active() {
		return nil, nil
	}
	if _, err := m.store.LinkArticle(threadID, articleID, addition, m.now().UTC()); err != nil {
		return nil, fmt.Errorf("linking article %d to thread %d: %w", articleID, threadID, err)
	}
	return m.store.GetThread(threadID)
}

// DefaultTriggers returns the triggers a new thread starts with: a staleness
// check and an engagement check always, a keyword search when the thread has
// keywords, a resolution search when resolution keywords were found, and one
// date trigger per upcoming event.
func DefaultTriggers(draft analyzer.ThreadDraft, now time.Time, policy config.Policy) []database.NewTrigger {
	expires := now.AddDate(0, 0, policy.TriggerTTLDays)
	add := func(out []database.NewTrigger, c trigger.Condition) []database.NewTrigger {
		return append(out, database.NewTrigger{
			Type:        c.Type(),
			Conditions:  trigger.MustEncode(c),
			NextCheckAt: trigger.NextCheckAt(now, c.Type(), 0),
			ExpiresAt:   &expires,
		})
	}

	var out []database.NewTrigger
	out = add(out, trigger.TimeBasedCondition{DaysAfterLast: policy.DaysAfterLast})
	out = add(out, trigger.EngagementCondition{MinViews: policy.MinViews, MinComments: policy.MinComments})
	if len(draft.MonitoringKeywords) > 0 {
		out = add(out, trigger.ScheduledCondition{DaysBack: policy.ScheduledDaysBack})
	}
	if len(draft.ResolutionKeywords) > 0 {
		out = add(out, trigger.ResolutionCondition{CheckKeywords: draft.ResolutionKeywords, DaysBack: policy.ResolutionDaysBack})
	}

	for _, ev := range draft.UpcomingEvents {
		date, err := time.Parse("2006-01-02", ev.Date)
		if err != nil {
			continue
		}
		daysBefore := policy.DaysBefore
		c := trigger.DateEventCondition{Date: ev.Date, DaysBefore: &daysBefore, EventName: ev.Name}
		next := date.AddDate(0, 0, -daysBefore)
		if next.Before(now) {
			next = now
		}
		eventExpires := date.AddDate(0, 0, 1)
		out = append(out, database.NewTrigger{
			Type:        c.Type(),
			Conditions:  trigger.MustEncode(c),
			NextCheckAt: next,
			ExpiresAt:   &eventExpires,
		})
	}
	return out
}
