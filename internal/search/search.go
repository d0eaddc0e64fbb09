// Package search looks for recent news coverage of a story thread.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/TobiSchelling/followup/internal/database"
)

// maxQueryTerms bounds how many keywords and names go into one query.
const maxQueryTerms = 5

// Options narrow a news search.
type Options struct {
	Region      string
	DaysBack    int
	ExcludeURLs []string
}

// Result is one article found by a search.
type Result struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Searcher finds recent news matching a query.
type Searcher interface {
	SearchNews(ctx context.Context, query string, opts Options) ([]Result, error)
}

// BuildQuery OR-joins up to five terms: the monitoring keywords first,
// then the quoted names of the key people. Empty input gives "".
func BuildQuery(keywords []string, people []database.KeyPerson) string {
	var terms []string
	seen := make(map[string]bool)
	add := func(term, key string) {
		if key == "" || seen[key] || len(terms) == maxQueryTerms {
			return
		}
		seen[key] = true
		terms = append(terms, term)
	}

	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if strings.Contains(kw, " ") {
			add(`"`+kw+`"`, strings.ToLower(kw))
		} else {
			add(kw, strings.ToLower(kw))
		}
	}
	for _, p := range people {
		name := strings.TrimSpace(p.Name)
		add(`"`+name+`"`, strings.ToLower(name))
	}
	return strings.Join(terms, " OR ")
}

// Disabled is a Searcher that never finds anything.
type Disabled struct{}

func (Disabled) SearchNews(context.Context, string, Options) ([]Result, error) {
	return nil, nil
}
