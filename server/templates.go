package server

import (
	"embed"
	"html/template"

	"github.com/microcosm-cc/bluemonday"

	"github.com/acedatacloud/roadmapd/pkg/feed"
)

//go:embed templates/*.html
var templatesFS embed.FS

// summaries may carry markup from upstream sources; strip everything unsafe
var sanitizer = bluemonday.UGCPolicy()

func mustTemplates() *template.Template {
	funcs := template.FuncMap{
		"safeSummary": func(s string) template.HTML {
			return template.HTML(sanitizer.Sanitize(s)) //nolint:gosec // sanitized above
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templatesFS, "templates/*.html"))
}

// pageData feeds the full page template.
type pageData struct {
	Title       string
	Subtitle    string
	IndexFailed bool
	Empty       bool
	Buckets     []feed.BucketView
	Controls    controlsData
}

// controlsData feeds the status line and load-more button. OOB marks the
// fragment for out-of-band swap on load-more responses.
type controlsData struct {
	Status   feed.Status
	NextPage int
	OOB      bool
}

// moreData feeds the load-more response: appended buckets plus refreshed
// controls.
type moreData struct {
	Buckets  []feed.BucketView
	Controls controlsData
}

func (s *Server) controls(oob bool) controlsData {
	st := s.feed.Status()
	next := s.feed.Index().PageSizeDays
	if next > st.Remaining {
		next = st.Remaining
	}
	return controlsData{Status: st, NextPage: next, OOB: oob}
}
