package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acedatacloud/roadmapd/pkg/domain"
)

// rawItem is the loose wire form of a single update entry. Fields are
// validated and derived during normalization; Public distinguishes absent
// from explicit false.
type rawItem struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Public  *bool    `json:"public"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// synthTitleLen is how much of the title goes into a synthesized item key.
const synthTitleLen = 16

// Normalize converts raw day-document entries into well-formed UpdateItems.
// Entries that are not JSON objects, or that end up without an id or title,
// are dropped silently. Surviving items keep their source order. The result
// is deterministic for a given input, which keeps the per-bucket cache
// correct across retries.
func Normalize(day string, raws []json.RawMessage) []domain.UpdateItem {
	items := make([]domain.UpdateItem, 0, len(raws))
	for i, raw := range raws {
		var r rawItem
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}

		title := strings.TrimSpace(r.Title)
		id := strings.TrimSpace(r.ID)
		u := strings.TrimSpace(r.URL)
		if id == "" {
			id = u
		}
		if id == "" && title != "" {
			id = synthKey(day, i, title)
		}
		if id == "" || title == "" {
			continue
		}

		tags := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			tags = append(tags, t)
			if len(tags) == domain.MaxItemTags {
				break
			}
		}
		if len(tags) == 0 {
			tags = nil
		}

		items = append(items, domain.UpdateItem{
			ID:      id,
			Title:   title,
			URL:     u,
			Public:  u != "" && (r.Public == nil || *r.Public),
			Summary: strings.TrimSpace(r.Summary),
			Tags:    tags,
		})
	}
	return items
}

// synthKey builds a stable key for items the producer shipped without an id
// or url. Day and position keep it unique, the title prefix keeps it stable
// when neighbors are inserted ahead of it in a later publication.
func synthKey(day string, idx int, title string) string {
	t := strings.ToLower(title)
	if r := []rune(t); len(r) > synthTitleLen {
		t = string(r[:synthTitleLen])
	}
	return fmt.Sprintf("%s#%d:%s", day, idx, t)
}
