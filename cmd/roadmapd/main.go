package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/acedatacloud/roadmapd/pkg/config"
	"github.com/acedatacloud/roadmapd/pkg/domain"
	"github.com/acedatacloud/roadmapd/pkg/feed"
	"github.com/acedatacloud/roadmapd/pkg/store"
	"github.com/acedatacloud/roadmapd/pkg/syncer"
	"github.com/acedatacloud/roadmapd/server"
)

// Opts with all CLI options
type Opts struct {
	Config      string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file"`
	SnapshotDir string `long:"snapshots" env:"SNAPSHOT_DIR" description:"directory with revenue and recent-orders snapshots"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLog(opts.Debug, opts.NoColor, cfg.Sync.Token, cfg.LLM.APIKey)

	log.Printf("[INFO] starting roadmapd version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts); err != nil {
		log.Printf("[ERROR] roadmapd failed: %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, opts Opts) error {
	st, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	fd, err := buildFeed(ctx, cfg, st)
	if err != nil {
		return err
	}
	fd.Initialize(ctx)
	status := fd.Status()
	log.Printf("[INFO] feed ready, %d of %d days listed", status.Listed, status.Total)

	if cfg.Sync.Enabled {
		s := buildSyncer(cfg, st)
		s.Start(ctx)
		defer s.Stop()
	}

	srv := server.New(cfg, fd, st, revision, opts.Debug)
	if opts.SnapshotDir != "" {
		srv.SetSnapshotDir(opts.SnapshotDir)
	}
	return srv.Run(ctx)
}

// buildFeed fetches the index from the configured upstream, or falls back
// to the local store when no index url is set. An unreachable upstream
// still yields a working feed in its unavailable state.
func buildFeed(ctx context.Context, cfg *config.Config, st *store.Store) (*feed.Feed, error) {
	indexURL, timeout, userAgent := cfg.GetSourceConfig()

	if indexURL == "" {
		idx, err := st.ExportIndex(ctx, "", "")
		if err != nil {
			return nil, fmt.Errorf("export local index: %w", err)
		}
		log.Printf("[INFO] serving %d days from the local store", len(idx.Days))
		return feed.New(*idx, false, &storeSource{st: st}), nil
	}

	client := feed.NewClient(indexURL, timeout, userAgent)
	idx, err := client.FetchIndex(ctx)
	if err != nil {
		log.Printf("[WARN] index fetch failed: %v", err)
		return feed.New(domain.FeedIndex{}, true, client), nil
	}
	return feed.New(*idx, false, client), nil
}

func buildSyncer(cfg *config.Config, st *store.Store) *syncer.Syncer {
	syncCfg := cfg.GetSyncConfig()
	gh := syncer.NewGithubClient(syncCfg.APIURL, syncCfg.Token, cfg.Source.Timeout)

	var summarizer syncer.PRSummarizer
	if cfg.LLM.Enabled {
		summarizer = syncer.NewSummarizer(cfg.GetLLMConfig())
	}

	var feeds syncer.FeedSourceParser
	if len(syncCfg.Feeds) > 0 {
		feeds = syncer.NewFeedParser(cfg.Source.Timeout, cfg.Source.UserAgent)
	}

	return syncer.New(st, gh, summarizer, feeds, syncCfg)
}

// storeSource serves day documents straight from the local store, letting
// the service run without an upstream.
type storeSource struct {
	st *store.Store
}

func (s *storeSource) FetchDay(ctx context.Context, day string) ([]json.RawMessage, error) {
	doc, err := s.st.ExportDay(ctx, day)
	if err != nil {
		return nil, err
	}
	raws := make([]json.RawMessage, 0, len(doc.Items))
	for _, it := range doc.Items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("marshal item %s: %w", it.ID, err)
		}
		raws = append(raws, b)
	}
	return raws, nil
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = append(logOpts, lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.StackTraceOnError)
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}

	secrets := make([]string, 0, len(secs))
	for _, s := range secs {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
