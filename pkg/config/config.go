package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Source struct {
		IndexURL  string        `yaml:"index_url" json:"index_url" jsonschema:"description=Upstream daily-updates index URL; empty serves the locally synced store"`
		Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=15s,description=Fetch timeout per document"`
		UserAgent string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Roadmapd/1.0,description=User agent for source fetches"`
	} `yaml:"source" json:"source" jsonschema:"description=Daily-updates source configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:roadmapd.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Sync SyncConfig `yaml:"sync" json:"sync" jsonschema:"description=GitHub PR/commit sync configuration"`

	LLM LLMConfig `yaml:"llm" json:"llm" jsonschema:"description=LLM configuration for release-note summarization"`
}

// FeedSource is an auxiliary RSS/Atom source merged into the daily updates.
type FeedSource struct {
	Name string   `yaml:"name" json:"name" jsonschema:"required,description=Source name"`
	URL  string   `yaml:"url" json:"url" jsonschema:"required,description=Feed URL"`
	Tags []string `yaml:"tags" json:"tags" jsonschema:"description=Tags attached to items from this source"`
}

// SyncConfig holds settings for the merged-PR/commit sync job
type SyncConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Run the periodic sync job"`
	Org            string        `yaml:"org" json:"org" jsonschema:"description=GitHub organization to sync"`
	APIURL         string        `yaml:"api_url" json:"api_url" jsonschema:"default=https://api.github.com,description=GitHub API base URL"`
	Token          string        `yaml:"token" json:"token" jsonschema:"description=GitHub token (can use environment variable)"`
	Interval       time.Duration `yaml:"interval" json:"interval" jsonschema:"default=1h,description=Interval between sync runs"`
	BootstrapDays  int           `yaml:"bootstrap_days" json:"bootstrap_days" jsonschema:"default=14,description=History window for the first run"`
	MaxItems       int           `yaml:"max_items" json:"max_items" jsonschema:"default=200,description=Maximum search results per run"`
	MaxNewPRs      int           `yaml:"max_new_prs" json:"max_new_prs" jsonschema:"default=30,description=Maximum new PR items added per run"`
	MaxNewCommits  int           `yaml:"max_new_commits" json:"max_new_commits" jsonschema:"default=30,description=Maximum new commit items added per run"`
	AuthorFilter   string        `yaml:"author_filter" json:"author_filter" jsonschema:"default=org,enum=org,enum=none,description=Restrict items to org members and outside collaborators"`
	IncludeCommits bool          `yaml:"include_commits" json:"include_commits" jsonschema:"default=true,description=Also sync non-merge commits"`
	ExcludeRepos   []string      `yaml:"exclude_repos" json:"exclude_repos" jsonschema:"description=Repositories to skip (defaults to Roadmap)"`
	Feeds          []FeedSource  `yaml:"feeds" json:"feeds" jsonschema:"description=Auxiliary RSS/Atom sources merged into the updates"`
}

// LLMConfig holds LLM configuration for PR summarization
type LLMConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Summarize merged PRs with the LLM"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"default=https://api.acedata.cloud/v1,description=OpenAI-compatible API endpoint"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model       string        `yaml:"model" json:"model" jsonschema:"default=gpt-4o-mini,description=Model name"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.2,description=Temperature for response generation"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=260,description=Maximum tokens in response"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=60s,description=Request timeout"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	// defaults a zero value cannot express
	cfg.Sync.IncludeCommits = true
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for source
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 15 * time.Second
	}
	if cfg.Source.UserAgent == "" {
		cfg.Source.UserAgent = "Roadmapd/1.0"
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:roadmapd.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for sync
	if cfg.Sync.APIURL == "" {
		cfg.Sync.APIURL = "https://api.github.com"
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = time.Hour
	}
	if cfg.Sync.BootstrapDays == 0 {
		cfg.Sync.BootstrapDays = 14
	}
	if cfg.Sync.MaxItems == 0 {
		cfg.Sync.MaxItems = 200
	}
	if cfg.Sync.MaxNewPRs == 0 {
		cfg.Sync.MaxNewPRs = 30
	}
	if cfg.Sync.MaxNewCommits == 0 {
		cfg.Sync.MaxNewCommits = 30
	}
	if cfg.Sync.AuthorFilter == "" {
		cfg.Sync.AuthorFilter = "org"
	}
	if cfg.Sync.ExcludeRepos == nil {
		cfg.Sync.ExcludeRepos = []string{"Roadmap"}
	}

	// set defaults for LLM
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "https://api.acedata.cloud/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 260
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	// validate source config
	if cfg.Source.Timeout < time.Second {
		return fmt.Errorf("source timeout must be at least 1 second")
	}

	// validate sync config
	if cfg.Sync.AuthorFilter != "org" && cfg.Sync.AuthorFilter != "none" {
		return fmt.Errorf("sync.author_filter must be org or none")
	}
	if cfg.Sync.Enabled {
		if cfg.Sync.Org == "" {
			return fmt.Errorf("sync.org is required when sync is enabled")
		}
		if cfg.Sync.Interval < time.Minute {
			return fmt.Errorf("sync.interval must be at least 1 minute")
		}
	}

	// validate LLM config
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.Enabled && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm is enabled")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetSourceConfig returns the daily-updates source configuration
func (c *Config) GetSourceConfig() (indexURL string, timeout time.Duration, userAgent string) {
	return c.Source.IndexURL, c.Source.Timeout, c.Source.UserAgent
}

// GetSyncConfig returns sync configuration
func (c *Config) GetSyncConfig() SyncConfig {
	return c.Sync
}

// GetLLMConfig returns LLM configuration
func (c *Config) GetLLMConfig() LLMConfig {
	return c.LLM
}
