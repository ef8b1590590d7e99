package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/acedatacloud/roadmapd/pkg/snapshot"
)

// Opts with all CLI options
type Opts struct {
	Output      string   `short:"o" long:"output" env:"SNAPSHOT_DIR" default:"config" description:"output directory for snapshot files"`
	Limit       int      `long:"limit" default:"20" description:"number of recent orders to include"`
	Currency    string   `long:"currency" default:"USD" description:"display currency code"`
	UserID      string   `long:"user-id" description:"optional filter: user id"`
	PayWays     []string `long:"pay-way" description:"optional filter: pay way (repeatable), e.g. --pay-way Stripe"`
	OrdersTable string   `long:"orders-table" default:"app_order" description:"orders table name"`

	Pgsql struct {
		Host     string `long:"host" env:"PGSQL_HOST" default:"localhost" description:"postgres host"`
		Port     int    `long:"port" env:"PGSQL_PORT" default:"5432" description:"postgres port"`
		User     string `long:"user" env:"PGSQL_USER" default:"postgres" description:"postgres user"`
		Password string `long:"password" env:"PGSQL_PASSWORD" description:"postgres password"`
		Database string `long:"database" env:"PGSQL_DATABASE" default:"acedatacloud_platform" description:"postgres database"`
	} `group:"pgsql" namespace:"pgsql" env-namespace:"PGSQL"`

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

	setupLog(opts.Debug, opts.NoColor, opts.Pgsql.Password)

	if err := run(context.Background(), opts); err != nil {
		log.Printf("[ERROR] snapshot failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Opts) error {
	conn, err := snapshot.Connect(ctx, pgDSN(opts))
	if err != nil {
		return err
	}
	defer conn.Close()

	gen := snapshot.New(conn, snapshot.Config{
		OrdersTable: opts.OrdersTable,
		Currency:    opts.Currency,
		UserID:      opts.UserID,
		PayWays:     opts.PayWays,
		Limit:       opts.Limit,
	})

	revenue, err := gen.Revenue(ctx)
	if err != nil {
		return fmt.Errorf("build revenue snapshot: %w", err)
	}
	revenuePath := filepath.Join(opts.Output, "revenue.json")
	if err := snapshot.WriteJSON(revenuePath, revenue); err != nil {
		return err
	}
	log.Printf("[INFO] wrote %s", revenuePath)

	orders, err := gen.RecentOrders(ctx)
	if err != nil {
		return fmt.Errorf("build recent orders: %w", err)
	}
	ordersPath := filepath.Join(opts.Output, "recent_orders.json")
	if err := snapshot.WriteJSON(ordersPath, orders); err != nil {
		return err
	}
	log.Printf("[INFO] wrote %s (%d orders)", ordersPath, orders.Total)
	return nil
}

func pgDSN(opts Opts) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", opts.Pgsql.Host, opts.Pgsql.Port),
		Path:   "/" + opts.Pgsql.Database,
	}
	if opts.Pgsql.Password != "" {
		u.User = url.UserPassword(opts.Pgsql.User, opts.Pgsql.Password)
	} else {
		u.User = url.User(opts.Pgsql.User)
	}
	q := url.Values{"sslmode": {"disable"}}
	u.RawQuery = q.Encode()
	return u.String()
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
