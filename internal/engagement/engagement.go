// Package engagement turns view, comment and share counts into follow-up
// priority scores that decay as a story goes stale.
package engagement

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
)

// ArticleSource lists the articles of a region not linked to an active thread.
type ArticleSource interface {
	GetUnthreadedArticles(regionID int64) ([]database.Article, error)
}

// ScoredArticle is an article with its engagement score.
type ScoredArticle struct {
	Article database.Article
	Score   float64
}

// Scorer computes engagement scores.
type Scorer struct {
	weights config.Engagement
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights config.Engagement) *Scorer {
	return &Scorer{weights: weights}
}

// Score returns the follow-up priority of a thread: engagement points scaled
// by recency. Staleness counts from the last linked article, or from thread
// creation when nothing was linked yet.
func (s *Scorer) Score(t *database.StoryThread, now time.Time) float64 {
	since := t.CreatedAt
	if t.LastArticleAt != nil {
		since = *t.LastArticleAt
	}
	points := float64(t.TotalViews)/s.weights.ViewsPerPoint +
		float64(t.TotalComments)/s.weights.CommentsPerPoint
	return points * s.decay(DaysSince(since, now))
}

// ArticleScore scores a single article, including shares. Age counts from
// publication, or from ingestion when the publication date is unknown.
func (s *Scorer) ArticleScore(a *database.Article, now time.Time) float64 {
	since := a.CreatedAt
	if a.PublishedAt != nil {
		since = *a.PublishedAt
	}
	points := float64(a.Views)/s.weights.ViewsPerPoint +
		float64(a.Comments)/s.weights.CommentsPerPoint +
		float64(a.Shares)/s.weights.SharesPerPoint
	return points * s.decay(DaysSince(since, now))
}

func (s *Scorer) decay(days float64) float64 {
	return 1 / (1 + days/s.weights.HalfLifeDays)
}

// HighEngagementUnthreaded yields the region's unthreaded articles scoring at
// least minScore, highest first. Each iteration re-reads the store, so the
// sequence can be ranged over again to see fresh data. Store errors end the
// sequence early and are logged.
func (s *Scorer) HighEngagementUnthreaded(ctx context.Context, store ArticleSource, regionID int64, minScore float64, now time.Time) iter.Seq[ScoredArticle] {
	return func(yield func(ScoredArticle) bool) {
		articles, err := store.GetUnthreadedArticles(regionID)
		if err != nil {
			logrus.WithField("region_id", regionID).Errorf("Loading unthreaded articles: %v", err)
			return
		}

		var scored []ScoredArticle
		for _, a := range articles {
			if score := s.ArticleScore(&a, now); score >= minScore {
				scored = append(scored, ScoredArticle{Article: a, Score: score})
			}
		}
		// Store order is by article id, so ties stay in id order.
		slices.SortStableFunc(scored, func(a, b ScoredArticle) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			}
			return 0
		})

		for _, sa := range scored {
			if ctx.Err() != nil {
				return
			}
			if !yield(sa) {
				return
			}
		}
	}
}

// DaysSince returns the fractional number of days from since to now, never
// negative.
func DaysSince(since, now time.Time) float64 {
	d := now.Sub(since).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
