// Package collect ingests region feeds: it stores new articles, tags them
// with their region and hands them to the follow-up engine for threading.
package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
)

// Store is the subset of the database the ingester writes to.
type Store interface {
	InsertArticle(a database.NewArticle) (int64, error)
	AddArticleRegion(articleID, regionID int64) error
	UpdateArticleContent(articleID int64, content *string) error
}

// ArticleProcessor threads a freshly stored article.
type ArticleProcessor interface {
	ProcessNewArticle(ctx context.Context, articleID int64) (*database.StoryThread, error)
}

// ContentFetcher downloads the body of an article whose feed entry has none.
type ContentFetcher interface {
	FetchContent(ctx context.Context, articleURL string) (string, error)
}

// Result holds the results of an ingest run.
type Result struct {
	Found      int            `json:"found"`
	New        int            `json:"new"`
	Duplicates int            `json:"duplicates"`
	Threaded   int            `json:"threaded"`
	Errors     int            `json:"errors"`
	Sources    map[string]int `json:"sources"`
}

// Ingester collects articles for regions.
type Ingester struct {
	store     Store
	processor ArticleProcessor
	fetcher   ContentFetcher
	parser    *FeedParser
	daysBack  int
	now       func() time.Time
}

// NewIngester creates an ingester. fetcher may be nil, in which case entries
// are stored with whatever content the feed carried.
func NewIngester(store Store, processor ArticleProcessor, fetcher ContentFetcher, daysBack int) *Ingester {
	if daysBack <= 0 {
		daysBack = 2
	}
	return &Ingester{
		store:     store,
		processor: processor,
		fetcher:   fetcher,
		parser:    NewFeedParser(),
		daysBack:  daysBack,
		now:       time.Now,
	}
}

// Ingest parses every feed of the region and stores what is new. A failing
// feed is logged and counted, the remaining feeds are still read.
func (in *Ingester) Ingest(ctx context.Context, region config.Region, regionID int64) *Result {
	r := &Result{Sources: make(map[string]int)}
	log := logrus.WithField("region", region.Slug)
	cutoff := in.now().AddDate(0, 0, -in.daysBack)

	for _, feed := range region.Feeds {
		if ctx.Err() != nil {
			break
		}
		entries, err := in.parser.ParseFeed(ctx, feed, cutoff)
		if err != nil {
			log.Warnf("Failed to parse feed %s: %v", feed.URL, err)
			r.Errors++
			continue
		}
		r.Found += len(entries)
		log.Debugf("Parsed %d entries from %s", len(entries), feed.URL)

		for _, e := range entries {
			in.ingestEntry(ctx, e, regionID, r, log)
		}
	}

	log.Infof("Ingest complete: %d found, %d new, %d duplicates, %d threaded",
		r.Found, r.New, r.Duplicates, r.Threaded)
	return r
}

func (in *Ingester) ingestEntry(ctx context.Context, e Entry, regionID int64, r *Result, log *logrus.Entry) {
	id, err := in.Store(ctx, e, regionID)
	if err != nil {
		log.Errorf("Storing %s: %v", e.URL, err)
		r.Errors++
		return
	}
	if id == 0 {
		r.Duplicates++
		return
	}
	r.New++
	r.Sources[e.Source]++

	t, err := in.processor.ProcessNewArticle(ctx, id)
	if err != nil {
		log.WithField("article_id", id).Errorf("Threading article: %v", err)
		r.Errors++
		return
	}
	if t != nil {
		r.Threaded++
	}
}

// Store inserts one entry and tags it with the region. Entries without
// content get their body fetched once the URL is known to be new. Returns 0
// when the URL is already known.
func (in *Ingester) Store(ctx context.Context, e Entry, regionID int64) (int64, error) {
	a := database.NewArticle{URL: e.URL, Title: e.Title, PublishedAt: e.PublishedAt}
	if e.Source != "" {
		a.Source = &e.Source
	}
	if e.Content != "" {
		a.Content = &e.Content
	}

	id, err := in.store.InsertArticle(a)
	if err != nil || id == 0 {
		return 0, err
	}
	if err := in.store.AddArticleRegion(id, regionID); err != nil {
		return 0, fmt.Errorf("tagging article %d with region: %w", id, err)
	}

	if e.Content == "" && in.fetcher != nil {
		content, err := in.fetcher.FetchContent(ctx, e.URL)
		if err != nil {
			logrus.WithField("url", e.URL).Debugf("Content fetch failed: %v", err)
		}
		if content != "" {
			if err := in.store.UpdateArticleContent(id, &content); err != nil {
				logrus.WithField("article_id", id).Warnf("Storing fetched content: %v", err)
			}
		}
	}
	return id, nil
}
