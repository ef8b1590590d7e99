package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/acedatacloud/roadmapd/pkg/domain"
	"github.com/acedatacloud/roadmapd/pkg/feed"
)

// Server represents HTTP server instance
type Server struct {
	config      ConfigProvider
	feed        Feed
	updates     UpdatesStore
	snapshotDir string
	version     string
	debug       bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
	templates  *template.Template
}

// Feed is the daily-updates feed the server renders: the day-bucket index,
// lazy per-day loading and the pagination cursor.
type Feed interface {
	Index() domain.FeedIndex
	IndexFailed() bool
	Expand(ctx context.Context, day string) (feed.BucketView, error)
	Collapse(day string)
	Retry(ctx context.Context, day string) (feed.BucketView, error)
	LoadMore(fromCursor int) ([]feed.BucketView, bool)
	RevealThrough(day string) bool
	Status() feed.Status
	View(day string) (feed.BucketView, bool)
	Visible() []feed.BucketView
}

// UpdatesStore exports the synced updates as source documents, so the
// service can publish its own index and day files. Optional; nil disables
// the /config/daily-updates endpoints.
type UpdatesStore interface {
	ExportIndex(ctx context.Context, title, subtitle string) (*domain.FeedIndex, error)
	ExportDay(ctx context.Context, day string) (*domain.DayDocument, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// New initializes a new server instance
func New(cfg ConfigProvider, fd Feed, updates UpdatesStore, version string, debug bool) *Server {
	s := &Server{
		config:  cfg,
		feed:    fd,
		updates: updates,
		version: version,
		debug:   debug,
		router:  routegroup.New(http.NewServeMux()),
	}
	s.templates = mustTemplates()

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// SetSnapshotDir enables serving revenue and recent-orders snapshot files
// from the given directory.
func (s *Server) SetSnapshotDir(dir string) { s.snapshotDir = dir }

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	log.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("roadmapd", "acedatacloud", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	// page and HTMX fragments
	s.router.HandleFunc("GET /{$}", s.pageHandler)
	s.router.HandleFunc("GET /updates/day/{day}", s.expandHandler)
	s.router.HandleFunc("GET /updates/day/{day}/collapse", s.collapseHandler)
	s.router.HandleFunc("POST /updates/day/{day}/retry", s.retryHandler)
	s.router.HandleFunc("POST /updates/more", s.loadMoreHandler)

	// API routes
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /updates/index", s.apiIndexHandler)
		r.HandleFunc("GET /updates/{day}", s.apiDayHandler)
	})

	// source documents published from the local store
	s.router.Mount("/config").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /daily-updates/index.json", s.sourceIndexHandler)
		r.HandleFunc("GET /daily-updates/{file}", s.sourceDayHandler)
		r.HandleFunc("GET /revenue.json", s.snapshotFileHandler("revenue.json"))
		r.HandleFunc("GET /recent_orders.json", s.snapshotFileHandler("recent_orders.json"))
	})
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := s.feed.Status()
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
		"feed": map[string]interface{}{
			"listed":    st.Listed,
			"total":     st.Total,
			"remaining": st.Remaining,
		},
	}
	RenderJSON(w, r, http.StatusOK, status)
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON
func RenderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	RenderJSON(w, r, code, map[string]string{"error": errMsg})
}
