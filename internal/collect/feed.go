package collect

import (
	"context"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/followup/internal/config"
)

const maxPerFeed = 20

// Entry is one article parsed from a feed.
type Entry struct {
	URL         string
	Title       string
	PublishedAt *time.Time
	Content     string
	Source      string
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	parser *gofeed.Parser
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser() *FeedParser {
	return &FeedParser{parser: gofeed.NewParser()}
}

// ParseFeed fetches a feed and returns its entries published at or after
// cutoff, at most maxPerFeed. Entries without a date are kept.
func (fp *FeedParser) ParseFeed(ctx context.Context, feed config.Feed, cutoff time.Time) ([]Entry, error) {
	parsed, err := fp.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, err
	}
	name := feed.Name
	if name == "" {
		name = sourceName(feed.URL)
	}
	return entriesFrom(parsed, name, cutoff), nil
}

// ParseString parses an already downloaded feed document.
func (fp *FeedParser) ParseString(doc, source string, cutoff time.Time) ([]Entry, error) {
	parsed, err := fp.parser.ParseString(doc)
	if err != nil {
		return nil, err
	}
	return entriesFrom(parsed, source, cutoff), nil
}

func entriesFrom(feed *gofeed.Feed, source string, cutoff time.Time) []Entry {
	var entries []Entry
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}
		e, ok := entryFrom(item, source)
		if !ok {
			continue
		}
		if e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func entryFrom(item *gofeed.Item, source string) (Entry, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return Entry{}, false
	}

	e := Entry{URL: link, Title: title, Source: source}
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		e.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		e.PublishedAt = &t
	}
	if item.Content != "" {
		e.Content = stripHTML(item.Content)
	} else {
		e.Content = stripHTML(item.Description)
	}
	return e, true
}

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}

// sourceName derives a display name from a feed URL, e.g. "Metrotimes" for
// https://feeds.metrotimes.com/rss.
func sourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	name := host
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
