package search

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/config"
)

const (
	defaultBaseURL = "https://newsapi.org"
	pageSize       = 50
)

// NewsAPIClient searches NewsAPI's everything endpoint.
type NewsAPIClient struct {
	apiKey   string
	language string
	client   *resty.Client
	now      func() time.Time
}

// NewNewsAPIClient creates a client reading its key from the configured
// environment variable.
func NewNewsAPIClient(cfg config.Search) *NewsAPIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &NewsAPIClient{
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		language: language,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(20*time.Second).
			SetHeader("User-Agent", "followup/1.0"),
		now: time.Now,
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

type everythingResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// SearchNews returns articles matching query published within the last
// opts.DaysBack days, skipping opts.ExcludeURLs. Without an API key it finds
// nothing.
func (c *NewsAPIClient) SearchNews(ctx context.Context, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	if !c.IsConfigured() {
		logrus.Debug("NewsAPI not configured, skipping search")
		return nil, nil
	}

	now := c.now().UTC()
	params := map[string]string{
		"q":        query,
		"to":       now.Format("2006-01-02"),
		"language": c.language,
		"pageSize": fmt.Sprintf("%d", pageSize),
		"sortBy":   "publishedAt",
	}
	if opts.DaysBack > 0 {
		params["from"] = now.AddDate(0, 0, -opts.DaysBack).Format("2006-01-02")
	}

	var body everythingResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", c.apiKey).
		SetQueryParams(params).
		SetResult(&body).
		SetError(&body).
		Get("/v2/everything")
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("newsapi returned status %d: %s", resp.StatusCode(), body.Message)
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", body.Status, body.Message)
	}

	exclude := make(map[string]bool, len(opts.ExcludeURLs))
	for _, u := range opts.ExcludeURLs {
		exclude[u] = true
	}

	var results []Result
	for _, a := range body.Articles {
		if a.URL == "" || a.Title == "" || exclude[a.URL] {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		r := Result{URL: a.URL, Title: strings.TrimSpace(a.Title), Source: "NewsAPI"}
		if a.Source.Name != "" {
			r.Source = a.Source.Name
		}
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			t = t.UTC()
			r.PublishedAt = &t
		}
		results = append(results, r)
	}

	logrus.WithFields(logrus.Fields{"query": query, "region": opts.Region}).
		Debugf("NewsAPI returned %d articles", len(results))
	return results, nil
}
