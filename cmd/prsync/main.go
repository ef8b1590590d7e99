package main

import (
	"context"
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
	"github.com/acedatacloud/roadmapd/pkg/store"
	"github.com/acedatacloud/roadmapd/pkg/syncer"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file"`
	DryRun bool   `long:"dry-run" description:"report what would be added without writing"`

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

	if cfg.Sync.Org == "" {
		log.Print("[ERROR] sync.org is not configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts); err != nil {
		log.Printf("[ERROR] sync failed: %v", err)
		os.Exit(1)
	}
}

// run performs a single sync pass, the scheduled equivalent of the daemon's
// periodic runs.
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

	s := syncer.New(st, gh, summarizer, feeds, syncCfg)
	s.SetDryRun(opts.DryRun)

	stats, err := s.Run(ctx)
	if err != nil {
		return err
	}

	if opts.DryRun {
		log.Printf("[INFO] would add %d items (prs=%d, commits=%d, posts=%d)",
			stats.Added(), stats.PRs, stats.Commits, stats.Posts)
		return nil
	}
	log.Printf("[INFO] added %d items (prs=%d, commits=%d, posts=%d)",
		stats.Added(), stats.PRs, stats.Commits, stats.Posts)
	return nil
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
