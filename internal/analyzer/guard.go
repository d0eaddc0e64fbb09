package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/database"
)

// Guarded bounds every call of the wrapped analyzer with a timeout and turns
// failures into neutral defaults. Its methods never return an error.
type Guarded struct {
	inner   Analyzer
	timeout time.Duration
}

// NewGuarded wraps a. A nil analyzer behaves as if every call failed.
func NewGuarded(a Analyzer, timeout time.Duration) *Guarded {
	return &Guarded{inner: a, timeout: timeout}
}

type outcome[T any] struct {
	value T
	err   error
}

// guard runs fn in its own goroutine so that a call ignoring its context
// still cannot hold up the caller past the timeout.
func guard[T any](ctx context.Context, g *Guarded, op string, fields logrus.Fields, fallback T, fn func(context.Context) (T, error)) T {
	log := logrus.WithFields(fields)
	if g.inner == nil {
		log.Warnf("Analyzer %s skipped: %v", op, ErrNoProvider)
		return fallback
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			log.Warnf("Analyzer %s failed, using defaults: %v", op, o.err)
			return fallback
		}
		return o.value
	case <-ctx.Done():
		log.Warnf("Analyzer %s timed out, using defaults: %v", op, ctx.Err())
		return fallback
	}
}

// AnalyzeThread falls back to DefaultThreadJudgment.
func (g *Guarded) AnalyzeThread(ctx context.Context, thread *database.StoryThread, articles []database.Article) (ThreadJudgment, error) {
	return guard(ctx, g, "thread analysis", logrus.Fields{"thread_id": thread.ID}, DefaultThreadJudgment(),
		func(ctx context.Context) (ThreadJudgment, error) {
			return g.inner.AnalyzeThread(ctx, thread, articles)
		}), nil
}

// AnalyzeArticle falls back to a judgment that the article is not an ongoing story.
func (g *Guarded) AnalyzeArticle(ctx context.Context, article *database.Article) (ArticleJudgment, error) {
	return guard(ctx, g, "article analysis", logrus.Fields{"article_id": article.ID}, ArticleJudgment{},
		func(ctx context.Context) (ArticleJudgment, error) {
			return g.inner.AnalyzeArticle(ctx, article)
		}), nil
}

// FindMatchingThread falls back to no match.
func (g *Guarded) FindMatchingThread(ctx context.Context, article *database.Article, candidates []database.StoryThread) (*database.StoryThread, error) {
	return guard(ctx, g, "thread matching", logrus.Fields{"article_id": article.ID}, (*database.StoryThread)(nil),
		func(ctx context.Context) (*database.StoryThread, error) {
			return g.inner.FindMatchingThread(ctx, article, candidates)
		}), nil
}

// DraftThread falls back to DefaultThreadDraft.
func (g *Guarded) DraftThread(ctx context.Context, article *database.Article) (ThreadDraft, error) {
	return guard(ctx, g, "thread drafting", logrus.Fields{"article_id": article.ID}, DefaultThreadDraft(article),
		func(ctx context.Context) (ThreadDraft, error) {
			return g.inner.DraftThread(ctx, article)
		}), nil
}

// SuggestFollowUps falls back to no suggestions.
func (g *Guarded) SuggestFollowUps(ctx context.Context, thread *database.StoryThread, articles []database.Article) ([]Suggestion, error) {
	return guard(ctx, g, "follow-up suggestions", logrus.Fields{"thread_id": thread.ID}, []Suggestion(nil),
		func(ctx context.Context) ([]Suggestion, error) {
			return g.inner.SuggestFollowUps(ctx, thread, articles)
		}), nil
}
