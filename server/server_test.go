package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acedatacloud/roadmapd/pkg/domain"
	"github.com/acedatacloud/roadmapd/pkg/feed"
)

type testConfig struct{}

func (testConfig) GetServerConfig() (string, time.Duration) { return "127.0.0.1:0", 5 * time.Second }

// stubSource serves canned day documents, optionally failing some days.
type stubSource struct {
	mu    sync.Mutex
	items map[string][]json.RawMessage
	fail  map[string]int // remaining failures per day
	calls map[string]int
}

func newStubSource() *stubSource {
	return &stubSource{
		items: map[string][]json.RawMessage{},
		fail:  map[string]int{},
		calls: map[string]int{},
	}
}

func (s *stubSource) FetchDay(_ context.Context, day string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[day]++
	if s.fail[day] > 0 {
		s.fail[day]--
		return nil, fmt.Errorf("upstream unavailable")
	}
	return s.items[day], nil
}

func testIndex(days ...string) domain.FeedIndex {
	return domain.FeedIndex{
		Title:           "Daily Updates",
		Subtitle:        "What shipped recently",
		InitialOpenDays: 2,
		PageSizeDays:    2,
		Days:            days,
	}
}

func newTestServer(t *testing.T, fd Feed, updates UpdatesStore) *httptest.Server {
	t.Helper()
	s := New(testConfig{}, fd, updates, "test", false)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func postForm(t *testing.T, ts *httptest.Server, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := ts.Client().PostForm(ts.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Page(t *testing.T) {
	src := newStubSource()
	src.items["2025-06-03"] = []json.RawMessage{
		[]byte(`{"title":"Public change","url":"https://github.com/AceDataCloud/Site/pull/7","tags":["github","pr"]}`),
		[]byte(`{"title":"Internal change","summary":"details <script>alert(1)</script> here"}`),
	}
	fd := feed.New(testIndex("2025-06-03", "2025-06-02", "2025-06-01"), false, src)
	fd.Initialize(context.Background())
	ts := newTestServer(t, fd, nil)

	code, body := get(t, ts, "/")
	require.Equal(t, http.StatusOK, code)

	assert.Contains(t, body, "<h1>Daily Updates</h1>")
	assert.Contains(t, body, "What shipped recently")
	assert.Contains(t, body, "2 / 3 days listed")
	assert.Contains(t, body, `id="day-2025-06-03"`)
	assert.Contains(t, body, `id="day-2025-06-02"`)
	assert.NotContains(t, body, `id="day-2025-06-01"`, "beyond the cursor")

	assert.Contains(t, body, `href="https://github.com/AceDataCloud/Site/pull/7"`)
	assert.Contains(t, body, "badge-private", "item without url shown as private")
	assert.NotContains(t, body, "<script>alert(1)</script>", "summary sanitized")
	assert.Contains(t, body, "Load 1 more days")
}

func TestServer_Page_deepLink(t *testing.T) {
	src := newStubSource()
	fd := feed.New(testIndex("2025-06-03", "2025-06-02", "2025-06-01"), false, src)
	fd.Initialize(context.Background())
	ts := newTestServer(t, fd, nil)

	code, body := get(t, ts, "/?day=2025-06-01")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `id="day-2025-06-01"`, "cursor advanced through the linked day")
	assert.Contains(t, body, "3 / 3 days listed")
	assert.Contains(t, body, "All days loaded")
}

func TestServer_Page_emptyStates(t *testing.T) {
	t.Run("no updates yet", func(t *testing.T) {
		fd := feed.New(domain.FeedIndex{Title: "Daily Updates"}, false, newStubSource())
		ts := newTestServer(t, fd, nil)
		code, body := get(t, ts, "/")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "No updates yet.")
	})

	t.Run("index fetch failed", func(t *testing.T) {
		fd := feed.New(domain.FeedIndex{Title: "Daily Updates"}, true, newStubSource())
		ts := newTestServer(t, fd, nil)
		code, body := get(t, ts, "/")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "Updates are unavailable right now.")
	})
}

func TestServer_ExpandCollapse(t *testing.T) {
	src := newStubSource()
	src.items["2025-06-01"] = []json.RawMessage{[]byte(`{"title":"One","url":"https://x.test/1"}`)}
	fd := feed.New(testIndex("2025-06-02", "2025-06-01"), false, src)
	ts := newTestServer(t, fd, nil)

	code, body := get(t, ts, "/updates/day/2025-06-01")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "One")
	assert.Contains(t, body, `aria-expanded="true"`)

	code, body = get(t, ts, "/updates/day/2025-06-01/collapse")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "One", "collapsed body not rendered")
	assert.Contains(t, body, `aria-expanded="false"`)

	_, _ = get(t, ts, "/updates/day/2025-06-01")
	assert.Equal(t, 1, src.calls["2025-06-01"], "re-expand serves the cache")

	t.Run("unknown day", func(t *testing.T) {
		code, _ := get(t, ts, "/updates/day/2031-01-01")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("empty day", func(t *testing.T) {
		code, body := get(t, ts, "/updates/day/2025-06-02")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "No updates for this day.")
	})
}

func TestServer_Retry(t *testing.T) {
	src := newStubSource()
	src.items["2025-06-01"] = []json.RawMessage{[]byte(`{"title":"Recovered","url":"https://x.test/1"}`)}
	src.fail["2025-06-01"] = 1
	fd := feed.New(testIndex("2025-06-01"), false, src)
	ts := newTestServer(t, fd, nil)

	code, body := get(t, ts, "/updates/day/2025-06-01")
	require.Equal(t, http.StatusOK, code, "failed load still renders the bucket")
	assert.Contains(t, body, "Failed to load updates for 2025-06-01.")
	assert.Contains(t, body, "/updates/day/2025-06-01/retry")

	code, body = postForm(t, ts, "/updates/day/2025-06-01/retry", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Recovered")
	assert.NotContains(t, body, "Failed to load")
}

func TestServer_LoadMore(t *testing.T) {
	src := newStubSource()
	fd := feed.New(testIndex("2025-06-05", "2025-06-04", "2025-06-03", "2025-06-02", "2025-06-01"), false, src)
	fd.Initialize(context.Background())
	ts := newTestServer(t, fd, nil)

	code, body := postForm(t, ts, "/updates/more", url.Values{"cursor": {"2"}})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `id="day-2025-06-03"`)
	assert.Contains(t, body, `id="day-2025-06-02"`)
	assert.NotContains(t, body, `id="day-2025-06-01"`)
	assert.Contains(t, body, `hx-swap-oob="true"`)
	assert.Contains(t, body, "4 / 5 days listed")
	assert.Contains(t, body, "Load 1 more days")
	assert.Equal(t, 0, src.calls["2025-06-03"], "appended buckets stay collapsed")

	t.Run("replayed cursor is a no-op", func(t *testing.T) {
		code, body := postForm(t, ts, "/updates/more", url.Values{"cursor": {"2"}})
		require.Equal(t, http.StatusOK, code)
		assert.NotContains(t, body, "day-bucket\" id=", "no buckets appended")
		assert.Contains(t, body, "4 / 5 days listed", "controls still refreshed")
	})

	t.Run("final page", func(t *testing.T) {
		code, body := postForm(t, ts, "/updates/more", url.Values{"cursor": {"4"}})
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, `id="day-2025-06-01"`)
		assert.Contains(t, body, "All days loaded")
	})

	t.Run("invalid cursor", func(t *testing.T) {
		code, _ := postForm(t, ts, "/updates/more", url.Values{"cursor": {"abc"}})
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestServer_APIStatus(t *testing.T) {
	fd := feed.New(testIndex("2025-06-02", "2025-06-01"), false, newStubSource())
	fd.Initialize(context.Background())
	ts := newTestServer(t, fd, nil)

	code, body := get(t, ts, "/api/v1/status")
	require.Equal(t, http.StatusOK, code)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, "test", status["version"])
	feedStatus := status["feed"].(map[string]any)
	assert.InDelta(t, 2, feedStatus["listed"], 0.001)
	assert.InDelta(t, 2, feedStatus["total"], 0.001)
}

func TestServer_APIIndex(t *testing.T) {
	fd := feed.New(testIndex("2025-06-01"), false, newStubSource())
	ts := newTestServer(t, fd, nil)

	code, body := get(t, ts, "/api/v1/updates/index")
	require.Equal(t, http.StatusOK, code)

	var idx domain.FeedIndex
	require.NoError(t, json.Unmarshal([]byte(body), &idx))
	assert.Equal(t, "Daily Updates", idx.Title)
	assert.Equal(t, []string{"2025-06-01"}, idx.Days)
}

func TestServer_APIDay(t *testing.T) {
	src := newStubSource()
	src.items["2025-06-01"] = []json.RawMessage{[]byte(`{"title":"One","url":"https://x.test/1"}`)}
	src.fail["2025-06-02"] = 999
	fd := feed.New(testIndex("2025-06-02", "2025-06-01"), false, src)
	ts := newTestServer(t, fd, nil)

	t.Run("loads on demand", func(t *testing.T) {
		code, body := get(t, ts, "/api/v1/updates/2025-06-01")
		require.Equal(t, http.StatusOK, code)

		var resp dayResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, "loaded", resp.State)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "One", resp.Items[0].Title)
	})

	t.Run("failed load is 502", func(t *testing.T) {
		code, body := get(t, ts, "/api/v1/updates/2025-06-02")
		require.Equal(t, http.StatusBadGateway, code)

		var resp dayResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, "failed", resp.State)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("malformed day", func(t *testing.T) {
		code, _ := get(t, ts, "/api/v1/updates/June-1st")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown day", func(t *testing.T) {
		code, _ := get(t, ts, "/api/v1/updates/2031-01-01")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

type stubUpdates struct {
	index *domain.FeedIndex
	days  map[string]*domain.DayDocument
}

func (s *stubUpdates) ExportIndex(_ context.Context, title, _ string) (*domain.FeedIndex, error) {
	idx := *s.index
	if title != "" {
		idx.Title = title
	}
	return &idx, nil
}

func (s *stubUpdates) ExportDay(_ context.Context, day string) (*domain.DayDocument, error) {
	if doc, ok := s.days[day]; ok {
		return doc, nil
	}
	return &domain.DayDocument{Date: day, Items: []domain.UpdateItem{}}, nil
}

func TestServer_SourceEndpoints(t *testing.T) {
	fd := feed.New(testIndex("2025-06-01"), false, newStubSource())
	updates := &stubUpdates{
		index: &domain.FeedIndex{Title: "Daily Updates", InitialOpenDays: 3, PageSizeDays: 20, Days: []string{"2025-06-01"}},
		days: map[string]*domain.DayDocument{
			"2025-06-01": {Date: "2025-06-01", Items: []domain.UpdateItem{
				{ID: "pr-1", Title: "Synced change", URL: "https://x.test/1", Public: true},
			}},
		},
	}
	ts := newTestServer(t, fd, updates)

	t.Run("index", func(t *testing.T) {
		code, body := get(t, ts, "/config/daily-updates/index.json")
		require.Equal(t, http.StatusOK, code)
		var idx domain.FeedIndex
		require.NoError(t, json.Unmarshal([]byte(body), &idx))
		assert.Equal(t, []string{"2025-06-01"}, idx.Days)
		assert.Equal(t, 20, idx.PageSizeDays)
	})

	t.Run("day", func(t *testing.T) {
		code, body := get(t, ts, "/config/daily-updates/2025-06-01.json")
		require.Equal(t, http.StatusOK, code)
		var doc domain.DayDocument
		require.NoError(t, json.Unmarshal([]byte(body), &doc))
		require.Len(t, doc.Items, 1)
		assert.Equal(t, "Synced change", doc.Items[0].Title)
	})

	t.Run("bad day file", func(t *testing.T) {
		code, _ := get(t, ts, "/config/daily-updates/notaday.json")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("disabled without store", func(t *testing.T) {
		ts2 := newTestServer(t, fd, nil)
		code, _ := get(t, ts2, "/config/daily-updates/index.json")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestServer_Snapshots(t *testing.T) {
	fd := feed.New(testIndex("2025-06-01"), false, newStubSource())
	s := New(testConfig{}, fd, nil, "test", false)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/revenue.json", []byte(`{"currency":"USD","today":10.5}`), 0o600))
	s.SetSnapshotDir(dir)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	code, body := get(t, ts, "/config/revenue.json")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"currency":"USD"`)

	code, _ = get(t, ts, "/config/recent_orders.json")
	assert.Equal(t, http.StatusNotFound, code, "missing file")

	t.Run("disabled without dir", func(t *testing.T) {
		ts2 := newTestServer(t, fd, nil)
		code, _ := get(t, ts2, "/config/revenue.json")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestServer_Ping(t *testing.T) {
	fd := feed.New(testIndex(), false, newStubSource())
	ts := newTestServer(t, fd, nil)
	code, body := get(t, ts, "/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", strings.TrimSpace(body))
}
