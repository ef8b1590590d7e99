package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedatacloud/roadmapd/pkg/config"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>AceDataCloud Blog</title>
  <link>https://blog.example.com</link>
  <item>
    <title>New model catalog</title>
    <link>https://blog.example.com/catalog</link>
    <description>The catalog lists all hosted models.</description>
    <pubDate>Wed, 04 Jun 2025 08:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Untimed post</title>
    <link>https://blog.example.com/untimed</link>
  </item>
  <item>
    <title></title>
    <link>https://blog.example.com/untitled</link>
    <pubDate>Wed, 04 Jun 2025 09:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

func TestFeedParser_Parse(t *testing.T) {
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, testRSS)
	}))
	defer ts.Close()

	p := NewFeedParser(5*time.Second, "Roadmapd/1.0")
	entries, err := p.Parse(context.Background(), config.FeedSource{Name: "blog", URL: ts.URL})
	require.NoError(t, err)

	assert.Equal(t, "Roadmapd/1.0", gotUA)
	require.Len(t, entries, 1, "entries without timestamp or title dropped")
	e := entries[0]
	assert.Equal(t, "New model catalog", e.Title)
	assert.Equal(t, "https://blog.example.com/catalog", e.URL)
	assert.Equal(t, "The catalog lists all hosted models.", e.Summary)
	assert.Equal(t, time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC), e.Published)
}

func TestFeedParser_Parse_errors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		p := NewFeedParser(5*time.Second, "Roadmapd/1.0")
		_, err := p.Parse(context.Background(), config.FeedSource{Name: "blog", URL: ts.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 503")
	})

	t.Run("not a feed", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "<html><body>not a feed</body></html>")
		}))
		defer ts.Close()

		p := NewFeedParser(5*time.Second, "Roadmapd/1.0")
		_, err := p.Parse(context.Background(), config.FeedSource{Name: "blog", URL: ts.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse feed")
	})
}
