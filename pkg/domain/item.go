package domain

// MaxItemTags caps the number of tags kept on a normalized item.
const MaxItemTags = 8

// UpdateItem is one reported unit of work inside a day bucket, already
// normalized: ID and Title are never empty, Tags holds at most MaxItemTags
// entries, and Public is true only when a URL is present and the producer
// did not mark the item private.
type UpdateItem struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	URL     string   `json:"url,omitempty"`
	Public  bool     `json:"public"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// DayDocument is the wire form of a per-day updates file.
type DayDocument struct {
	Date  string       `json:"date,omitempty"`
	Items []UpdateItem `json:"items"`
}
