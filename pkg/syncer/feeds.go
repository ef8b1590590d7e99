package syncer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/acedatacloud/roadmapd/pkg/config"
)

// FeedParser fetches and parses auxiliary RSS/Atom sources, e.g. a blog
// whose posts should surface alongside synced code changes.
type FeedParser struct {
	client    *http.Client
	userAgent string
}

// NewFeedParser creates a parser with the given timeout.
func NewFeedParser(timeout time.Duration, userAgent string) *FeedParser {
	return &FeedParser{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// FeedEntry is one post from an auxiliary source.
type FeedEntry struct {
	Title     string
	URL       string
	Summary   string
	Published time.Time
}

// Parse fetches the source and returns its entries. Entries without a title,
// link or timestamp are dropped since they cannot become update items.
func (p *FeedParser) Parse(ctx context.Context, src config.FeedSource) ([]FeedEntry, error) {
	body, err := p.fetch(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", src.Name, err)
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.Name, err)
	}

	entries := make([]FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Title == "" || item.Link == "" {
			continue
		}
		var published time.Time
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		default:
			continue
		}
		entries = append(entries, FeedEntry{
			Title:     item.Title,
			URL:       item.Link,
			Summary:   item.Description,
			Published: published.UTC(),
		})
	}
	return entries, nil
}

func (p *FeedParser) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
