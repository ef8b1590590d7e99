package domain

import "regexp"

// Defaults and bounds for the daily-updates index manifest.
const (
	DefaultInitialOpenDays = 3
	DefaultPageSizeDays    = 20
	MinPageSizeDays        = 1
	MaxPageSizeDays        = 60
)

var dayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IsDay reports whether s is a calendar date key in YYYY-MM-DD form.
func IsDay(s string) bool {
	return dayRe.MatchString(s)
}

// FeedIndex is the top-level daily-updates manifest. Days are kept in the
// order the producer supplied them, typically newest first. The index is
// fetched once per feed lifetime and is immutable afterwards.
type FeedIndex struct {
	Title           string   `json:"title,omitempty"`
	Subtitle        string   `json:"subtitle,omitempty"`
	InitialOpenDays int      `json:"initial_open_days"`
	PageSizeDays    int      `json:"page_size_days"`
	Days            []string `json:"days"`
}

// Clamp bounds pagination parameters to their allowed ranges. Defaults for
// absent fields are applied by the decoder, which presets them before
// unmarshaling; an explicit zero InitialOpenDays stays zero.
func (x *FeedIndex) Clamp() {
	if x.InitialOpenDays < 0 {
		x.InitialOpenDays = 0
	}
	if x.InitialOpenDays > len(x.Days) {
		x.InitialOpenDays = len(x.Days)
	}
	if x.PageSizeDays == 0 {
		x.PageSizeDays = DefaultPageSizeDays
	}
	if x.PageSizeDays < MinPageSizeDays {
		x.PageSizeDays = MinPageSizeDays
	}
	if x.PageSizeDays > MaxPageSizeDays {
		x.PageSizeDays = MaxPageSizeDays
	}
}
