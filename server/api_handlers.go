package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/acedatacloud/roadmapd/pkg/domain"
	"github.com/acedatacloud/roadmapd/pkg/feed"
)

// apiIndexHandler returns the feed manifest.
func (s *Server) apiIndexHandler(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, http.StatusOK, s.feed.Index())
}

// dayResponse is the JSON rendition of one bucket.
type dayResponse struct {
	Day   string              `json:"day"`
	State string              `json:"state"`
	Items []domain.UpdateItem `json:"items"`
	Error string              `json:"error,omitempty"`
}

// apiDayHandler returns one day's items, loading the bucket on demand. The
// load outcome maps to the state field; a failed fetch is a 502 with the
// bucket error, not a silent empty list.
func (s *Server) apiDayHandler(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	if !domain.IsDay(day) {
		RenderError(w, r, fmt.Errorf("invalid day %q", day), http.StatusBadRequest)
		return
	}
	if _, ok := s.feed.View(day); !ok {
		RenderError(w, r, fmt.Errorf("unknown day %s", day), http.StatusNotFound)
		return
	}

	v, _ := s.feed.Expand(r.Context(), day) //nolint:errcheck // failure reflected in view state
	resp := dayResponse{Day: v.Day, State: v.State.String(), Items: v.Items, Error: v.Err}
	if resp.Items == nil {
		resp.Items = []domain.UpdateItem{}
	}

	code := http.StatusOK
	if v.State == feed.Failed {
		code = http.StatusBadGateway
	}
	RenderJSON(w, r, code, resp)
}

// sourceIndexHandler publishes the synced updates as a source index
// document, letting the service act as its own upstream.
func (s *Server) sourceIndexHandler(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		RenderError(w, r, fmt.Errorf("no local updates store"), http.StatusNotFound)
		return
	}
	idx, err := s.updates.ExportIndex(r.Context(), s.feed.Index().Title, s.feed.Index().Subtitle)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, idx)
}

// sourceDayHandler publishes one day document from the synced updates.
func (s *Server) sourceDayHandler(w http.ResponseWriter, r *http.Request) {
	if s.updates == nil {
		RenderError(w, r, fmt.Errorf("no local updates store"), http.StatusNotFound)
		return
	}
	file := r.PathValue("file")
	day := strings.TrimSuffix(file, ".json")
	if !strings.HasSuffix(file, ".json") || !domain.IsDay(day) {
		RenderError(w, r, fmt.Errorf("invalid day file %q", file), http.StatusNotFound)
		return
	}
	doc, err := s.updates.ExportDay(r.Context(), day)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, doc)
}

// snapshotFileHandler serves a generated snapshot document from the
// snapshot directory.
func (s *Server) snapshotFileHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.snapshotDir == "" {
			RenderError(w, r, fmt.Errorf("snapshots not configured"), http.StatusNotFound)
			return
		}
		path := filepath.Join(s.snapshotDir, name)
		if _, err := os.Stat(path); err != nil {
			RenderError(w, r, fmt.Errorf("snapshot %s not found", name), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, path)
	}
}
