// Package fetch fills in article bodies that the feeds did not carry, using
// readability extraction on the article page.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/database"
)

// minContentLength is the shortest extraction accepted as an article body.
const minContentLength = 100

// Store is the subset of the database the fetcher needs.
type Store interface {
	GetArticlesNeedingFetch(regionID *int64) ([]database.Article, error)
	UpdateArticleContent(articleID int64, content *string) error
	MarkArticleFetchAttempted(articleID int64) error
}

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Skipped int
	Failed  int
}

// StatusError is returned when the article page answers with an HTTP error.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// ContentFetcher fetches full article text via HTTP + readability extraction.
type ContentFetcher struct {
	store  Store
	client *resty.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(store Store, timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		store: store,
		client: resty.New().
			SetTimeout(timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
			SetHeader("User-Agent", "followup/1.0 (newsroom follow-up engine)"),
	}
}

// FetchContent downloads an article page and extracts its main text. An empty
// string with a nil error means the page had nothing worth keeping.
func (f *ContentFetcher) FetchContent(ctx context.Context, articleURL string) (string, error) {
	resp, err := f.client.R().SetContext(ctx).Get(articleURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() >= 400 {
		return "", &StatusError{Code: resp.StatusCode()}
	}

	parsedURL, err := url.Parse(articleURL)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(bytes.NewReader(resp.Body()), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minContentLength {
		return "", nil
	}
	return text, nil
}

// FetchMissingContent fetches content for articles that have none, optionally
// restricted to one region. After an HTTP error from a host the remaining
// articles of that host are skipped for this run.
func (f *ContentFetcher) FetchMissingContent(ctx context.Context, regionID *int64) *Result {
	result := &Result{}
	articles, err := f.store.GetArticlesNeedingFetch(regionID)
	if err != nil {
		logrus.Errorf("Loading articles needing fetch: %v", err)
		return result
	}
	if len(articles) == 0 {
		logrus.Debug("No articles need content fetching")
		return result
	}

	failedHosts := make(map[string]struct{})
	for _, article := range articles {
		if ctx.Err() != nil {
			break
		}
		log := logrus.WithField("article_id", article.ID)
		host := hostOf(article.URL)
		if _, failed := failedHosts[host]; failed {
			result.Skipped++
			continue
		}

		content, err := f.FetchContent(ctx, article.URL)
		if err != nil {
			if mErr := f.store.MarkArticleFetchAttempted(article.ID); mErr != nil {
				log.Warnf("Marking fetch attempt: %v", mErr)
			}
			result.Failed++
			if _, ok := err.(*StatusError); ok && host != "" {
				failedHosts[host] = struct{}{}
				log.Warnf("%v for %s, skipping remaining from %s", err, article.URL, host)
			}
			continue
		}

		if content == "" {
			if err := f.store.MarkArticleFetchAttempted(article.ID); err != nil {
				log.Warnf("Marking fetch attempt: %v", err)
			}
			result.Failed++
			log.Debugf("No extractable content from %s", article.URL)
			continue
		}
		if err := f.store.UpdateArticleContent(article.ID, &content); err != nil {
			log.Errorf("Storing content: %v", err)
			result.Failed++
			continue
		}
		result.Fetched++
	}

	logrus.Infof("Content fetch complete: %d fetched, %d failed, %d skipped", result.Fetched, result.Failed, result.Skipped)
	return result
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
