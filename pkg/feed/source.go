package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/acedatacloud/roadmapd/pkg/domain"
)

// LocalDayDir is the conventional path day documents live under when the
// index source URL cannot be used as a resolution base.
const LocalDayDir = "/config/daily-updates/"

// maxDocSize bounds index and day document bodies.
const maxDocSize = 2 << 20

// DaySource retrieves one day's raw update entries.
type DaySource interface {
	FetchDay(ctx context.Context, day string) ([]json.RawMessage, error)
}

// Client fetches the daily-updates index and day documents over HTTP.
// Both fetches always revalidate: day files may gain entries after first
// publication, so responses are requested with caching disabled.
type Client struct {
	http      *http.Client
	indexURL  string
	userAgent string
}

// NewClient creates a feed source client for the given index URL.
func NewClient(indexURL string, timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		indexURL:  indexURL,
		userAgent: userAgent,
	}
}

// IndexURL returns the configured index document URL.
func (c *Client) IndexURL() string { return c.indexURL }

// FetchIndex retrieves and decodes the index manifest. Malformed or
// duplicate day entries are dropped; the order of surviving days is
// preserved as given by the producer.
func (c *Client) FetchIndex(ctx context.Context) (*domain.FeedIndex, error) {
	body, err := c.get(ctx, c.indexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}

	// preset defaults so absent fields keep them while explicit zeros stick
	idx := domain.FeedIndex{
		InitialOpenDays: domain.DefaultInitialOpenDays,
		PageSizeDays:    domain.DefaultPageSizeDays,
	}
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	seen := make(map[string]bool, len(idx.Days))
	days := make([]string, 0, len(idx.Days))
	for _, d := range idx.Days {
		if !domain.IsDay(d) || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	idx.Days = days
	idx.Clamp()
	return &idx, nil
}

// FetchDay retrieves one day document and returns its raw entries. Entries
// stay undecoded so a single malformed record cannot fail the whole day.
func (c *Client) FetchDay(ctx context.Context, day string) ([]json.RawMessage, error) {
	body, err := c.get(ctx, c.DayURL(day))
	if err != nil {
		return nil, fmt.Errorf("fetch day %s: %w", day, err)
	}

	var doc struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode day %s: %w", day, err)
	}
	return doc.Items, nil
}

// DayURL resolves "{day}.json" against the index URL, i.e. the day file is
// a sibling of the index document. An unparseable or non-absolute index URL
// falls back to the conventional local path.
func (c *Client) DayURL(day string) string {
	base, err := url.Parse(c.indexURL)
	if err != nil || !base.IsAbs() {
		return LocalDayDir + day + ".json"
	}
	ref, err := base.Parse(day + ".json")
	if err != nil {
		return LocalDayDir + day + ".json"
	}
	return ref.String()
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: unexpected status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return body, nil
}
