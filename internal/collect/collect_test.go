package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Metro Times</title>
<item><title>Council delays bridge vote</title><link>https://metro.example/bridge</link>
<pubDate>Mon, 09 Mar 2026 08:00:00 +0000</pubDate>
<description>&lt;p&gt;The council &amp;amp; the mayor disagree.&lt;/p&gt;</description></item>
<item><title>Ferry schedule changes</title><link>https://metro.example/ferry</link>
<pubDate>Tue, 10 Mar 2026 07:00:00 +0000</pubDate></item>
<item><title>Old news</title><link>https://metro.example/old</link>
<pubDate>Sun, 01 Feb 2026 08:00:00 +0000</pubDate></item>
<item><title></title><link>https://metro.example/untitled</link></item>
</channel></rss>`

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	urls    map[string]int64
	regions map[int64][]int64
	content map[int64]string
	stored  []database.NewArticle
}

func newFakeStore() *fakeStore {
	return &fakeStore{urls: map[string]int64{}, regions: map[int64][]int64{}, content: map[int64]string{}}
}

func (s *fakeStore) UpdateArticleContent(id int64, content *string) error {
	s.content[id] = *content
	return nil
}

func (s *fakeStore) InsertArticle(a database.NewArticle) (int64, error) {
	if _, ok := s.urls[a.URL]; ok {
		return 0, nil
	}
	id := int64(len(s.urls) + 1)
	s.urls[a.URL] = id
	s.stored = append(s.stored, a)
	return id, nil
}

func (s *fakeStore) AddArticleRegion(articleID, regionID int64) error {
	s.regions[articleID] = append(s.regions[articleID], regionID)
	return nil
}

type fakeProcessor struct {
	processed []int64
	fail      int64
}

func (p *fakeProcessor) ProcessNewArticle(_ context.Context, id int64) (*database.StoryThread, error) {
	p.processed = append(p.processed, id)
	if id == p.fail {
		return nil, errors.New("analyzer offline")
	}
	if id == 1 {
		return &database.StoryThread{ID: 99}, nil
	}
	return nil, nil
}

type fakeFetcher struct{ calls []string }

func (f *fakeFetcher) FetchContent(_ context.Context, u string) (string, error) {
	f.calls = append(f.calls, u)
	return "Full text of " + u, nil
}

func newIngester(store Store, p ArticleProcessor, f ContentFetcher) *Ingester {
	in := NewIngester(store, p, f, 7)
	in.now = func() time.Time { return now }
	return in
}

func TestParseString(t *testing.T) {
	entries, err := NewFeedParser().ParseString(rss, "Metro", now.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Council delays bridge vote", entries[0].Title)
	assert.Equal(t, "The council & the mayor disagree.", entries[0].Content)
	assert.True(t, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC).Equal(*entries[0].PublishedAt))
	assert.Equal(t, "Metro", entries[0].Source)
	assert.Empty(t, entries[1].Content)
}

func TestIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer srv.Close()

	store := newFakeStore()
	proc := &fakeProcessor{}
	fetcher := &fakeFetcher{}
	in := newIngester(store, proc, fetcher)
	region := config.Region{Slug: "metro", Feeds: []config.Feed{
		{URL: srv.URL + "/rss", Name: "Metro Times"},
		{URL: srv.URL + "/broken"},
		{URL: srv.URL + "/rss-again", Name: "Mirror"},
	}}

	r := in.Ingest(context.Background(), region, 3)
	assert.Equal(t, 4, r.Found)
	assert.Equal(t, 2, r.New)
	assert.Equal(t, 2, r.Duplicates)
	assert.Equal(t, 1, r.Threaded)
	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, map[string]int{"Metro Times": 2}, r.Sources)

	assert.Equal(t, []int64{1, 2}, proc.processed)
	assert.Equal(t, map[int64][]int64{1: {3}, 2: {3}}, store.regions)
	// Only the entry without a description needed fetching.
	assert.Equal(t, []string{"https://metro.example/ferry"}, fetcher.calls)
	assert.Equal(t, map[int64]string{2: "Full text of https://metro.example/ferry"}, store.content)
	assert.Nil(t, store.stored[1].Content)
}

func TestIngestCountsThreadingErrors(t *testing.T) {
	store := newFakeStore()
	proc := &fakeProcessor{fail: 1}
	in := newIngester(store, proc, nil)
	r := &Result{Sources: map[string]int{}}

	entries, err := in.parser.ParseString(rss, "Metro", now.AddDate(0, 0, -7))
	require.NoError(t, err)
	for _, e := range entries {
		in.ingestEntry(context.Background(), e, 3, r, logrus.WithField("region", "metro"))
	}
	assert.Equal(t, 2, r.New)
	assert.Equal(t, 1, r.Errors)
	assert.Zero(t, r.Threaded)
	assert.Empty(t, store.content)
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "Metrotimes", sourceName("https://feeds.metrotimes.com/rss"))
	assert.Equal(t, "Example", sourceName("https://www.example.org/feed.xml"))
	assert.Equal(t, "not a url", sourceName("not a url"))
}
