package server

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/acedatacloud/roadmapd/pkg/domain"
)

// pageHandler renders the daily-updates page. A ?day= query deep-links into
// a specific bucket: the cursor advances far enough to list it and the
// bucket renders expanded.
func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if day := r.URL.Query().Get("day"); day != "" && domain.IsDay(day) {
		if s.feed.RevealThrough(day) {
			s.feed.Expand(ctx, day) //nolint:errcheck // failure is shown on the bucket
		}
	}

	idx := s.feed.Index()
	st := s.feed.Status()
	title := idx.Title
	if title == "" {
		title = "Daily Updates"
	}
	data := pageData{
		Title:       title,
		Subtitle:    idx.Subtitle,
		IndexFailed: s.feed.IndexFailed(),
		Empty:       st.Total == 0,
		Buckets:     s.feed.Visible(),
		Controls:    s.controls(false),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "page.html", data); err != nil {
		log.Printf("[ERROR] render page: %v", err)
	}
}

// expandHandler opens one day bucket, loading it on first expansion. A
// failed load still renders the bucket, in its failed state with a retry
// control.
func (s *Server) expandHandler(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	if _, ok := s.feed.View(day); !ok {
		RenderError(w, r, fmt.Errorf("unknown day %s", day), http.StatusNotFound)
		return
	}
	v, _ := s.feed.Expand(r.Context(), day) //nolint:errcheck // failure is part of the view
	s.renderBucket(w, v)
}

// collapseHandler closes one day bucket keeping its loaded items cached.
func (s *Server) collapseHandler(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	if _, ok := s.feed.View(day); !ok {
		RenderError(w, r, fmt.Errorf("unknown day %s", day), http.StatusNotFound)
		return
	}
	s.feed.Collapse(day)
	v, _ := s.feed.View(day)
	s.renderBucket(w, v)
}

// retryHandler re-arms a failed bucket and fetches it again.
func (s *Server) retryHandler(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	if _, ok := s.feed.View(day); !ok {
		RenderError(w, r, fmt.Errorf("unknown day %s", day), http.StatusNotFound)
		return
	}
	v, _ := s.feed.Retry(r.Context(), day) //nolint:errcheck // failure is part of the view
	s.renderBucket(w, v)
}

// loadMoreHandler appends the next page of collapsed buckets. The cursor
// value echoes the client's view of the list; a replayed cursor from a
// rapid double-click appends nothing and just refreshes the controls.
func (s *Server) loadMoreHandler(w http.ResponseWriter, r *http.Request) {
	cursor, err := strconv.Atoi(r.FormValue("cursor"))
	if err != nil {
		RenderError(w, r, fmt.Errorf("invalid cursor"), http.StatusBadRequest)
		return
	}

	views, _ := s.feed.LoadMore(cursor)
	data := moreData{Buckets: views, Controls: s.controls(true)}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "more", data); err != nil {
		log.Printf("[ERROR] render load-more: %v", err)
	}
}

func (s *Server) renderBucket(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "day-bucket", v); err != nil {
		log.Printf("[ERROR] render bucket: %v", err)
	}
}
