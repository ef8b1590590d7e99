package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/acedatacloud/roadmapd/pkg/config"
	"github.com/acedatacloud/roadmapd/pkg/store"
)

// state keys for sync cursors
const (
	statePRSync     = "last_pr_sync"
	stateCommitSync = "last_commit_sync"
	stateLastRun    = "last_run_at"
	stateFeedPrefix = "last_feed_sync:"
)

const feedWorkers = 4

// Store persists synced update items and cursor state.
type Store interface {
	AddUpdate(ctx context.Context, u *store.Update) (bool, error)
	HasURL(ctx context.Context, url string) (bool, error)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Github searches and fetches org activity.
type Github interface {
	SearchMergedPRs(ctx context.Context, org, sinceDate string, maxItems int) ([]SearchResult, error)
	SearchCommits(ctx context.Context, org, sinceDate string, maxItems int) ([]CommitResult, error)
	AllowedLogins(ctx context.Context, org string) (map[string]bool, error)
	GetPR(ctx context.Context, org, repo string, number int) (*PullRequest, error)
	GetPRFilesDigest(ctx context.Context, org, repo string, number int) (*FilesDigest, error)
}

// PRSummarizer produces release-note copy for a merged PR. Nil disables
// summarization and items keep their raw titles.
type PRSummarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error)
}

// FeedSourceParser fetches auxiliary RSS/Atom sources.
type FeedSourceParser interface {
	Parse(ctx context.Context, src config.FeedSource) ([]FeedEntry, error)
}

// Syncer pulls merged PRs, recent commits and auxiliary feed posts into the
// update store, one item per unit of work, deduplicated by url.
type Syncer struct {
	store      Store
	github     Github
	summarizer PRSummarizer
	feeds      FeedSourceParser
	cfg        config.SyncConfig
	dryRun     bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Stats summarizes one sync pass.
type Stats struct {
	PRs     int
	Commits int
	Posts   int
}

// Added returns the total number of items added.
func (s Stats) Added() int { return s.PRs + s.Commits + s.Posts }

// New creates a syncer. Summarizer and feeds may be nil to disable those
// stages.
func New(st Store, gh Github, summarizer PRSummarizer, feeds FeedSourceParser, cfg config.SyncConfig) *Syncer {
	return &Syncer{store: st, github: gh, summarizer: summarizer, feeds: feeds, cfg: cfg}
}

// SetDryRun makes Run report what it would add without writing.
func (s *Syncer) SetDryRun(dry bool) { s.dryRun = dry }

// Start begins periodic sync runs at the configured interval. The first run
// happens immediately.
func (s *Syncer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
	lgr.Printf("[INFO] syncer started, org %s, interval %v", s.cfg.Org, s.cfg.Interval)
}

// Stop gracefully stops the periodic runs.
func (s *Syncer) Stop() {
	lgr.Printf("[INFO] stopping syncer...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] syncer stopped")
}

func (s *Syncer) runOnce(ctx context.Context) {
	stats, err := s.Run(ctx)
	if err != nil {
		lgr.Printf("[WARN] sync run failed: %v", err)
		return
	}
	lgr.Printf("[INFO] sync run added %d items (prs=%d, commits=%d, posts=%d)",
		stats.Added(), stats.PRs, stats.Commits, stats.Posts)
}

// Run performs one sync pass and returns what was added.
func (s *Syncer) Run(ctx context.Context) (Stats, error) {
	runAt := time.Now().UTC()
	var stats Stats

	lastPR, err := s.cursor(ctx, statePRSync)
	if err != nil {
		return stats, err
	}
	lastCommit, err := s.cursor(ctx, stateCommitSync)
	if err != nil {
		return stats, err
	}

	var allowed map[string]bool
	if s.cfg.AuthorFilter == "org" {
		allowed, err = s.github.AllowedLogins(ctx, s.cfg.Org)
		if err != nil {
			return stats, fmt.Errorf("resolve allowed authors: %w", err)
		}
		lgr.Printf("[DEBUG] sync: allowed authors %d", len(allowed))
	}

	maxSeenPR, err := s.syncPRs(ctx, lastPR, allowed, &stats)
	if err != nil {
		return stats, err
	}

	maxSeenCommit := lastCommit
	if s.cfg.IncludeCommits {
		maxSeenCommit, err = s.syncCommits(ctx, lastCommit, allowed, &stats)
		if err != nil {
			return stats, err
		}
	}

	if s.feeds != nil && len(s.cfg.Feeds) > 0 {
		if err := s.syncFeeds(ctx, &stats); err != nil {
			return stats, err
		}
	}

	if s.dryRun {
		lgr.Printf("[INFO] sync: dry run, would add %d items, cursors unchanged", stats.Added())
		return stats, nil
	}

	// advance cursors only past items actually seen
	if err := s.store.SetState(ctx, statePRSync, maxSeenPR.Format(time.RFC3339)); err != nil {
		return stats, err
	}
	if err := s.store.SetState(ctx, stateCommitSync, maxSeenCommit.Format(time.RFC3339)); err != nil {
		return stats, err
	}
	if err := s.store.SetState(ctx, stateLastRun, runAt.Format(time.RFC3339)); err != nil {
		return stats, err
	}
	return stats, nil
}

// cursor loads a sync cursor, falling back to bootstrap_days ago.
func (s *Syncer) cursor(ctx context.Context, key string) (time.Time, error) {
	fallback := time.Now().UTC().AddDate(0, 0, -s.cfg.BootstrapDays)
	raw, err := s.store.GetState(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("load cursor %s: %w", key, err)
	}
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		lgr.Printf("[WARN] sync: invalid cursor %s=%q, bootstrapping", key, raw)
		return fallback, nil
	}
	return t.UTC(), nil
}

// sinceDate converts a cursor to the date granularity the search API takes,
// minus one day of safety margin.
func sinceDate(cursor time.Time) string {
	return cursor.AddDate(0, 0, -1).Format("2006-01-02")
}

func (s *Syncer) excluded(repo string) bool {
	for _, r := range s.cfg.ExcludeRepos {
		if strings.EqualFold(r, repo) {
			return true
		}
	}
	return false
}

func (s *Syncer) authorAllowed(login string, allowed map[string]bool) bool {
	if s.cfg.AuthorFilter != "org" {
		return true
	}
	login = strings.ToLower(strings.TrimSpace(login))
	return login != "" && allowed[login]
}

func (s *Syncer) syncPRs(ctx context.Context, lastPR time.Time, allowed map[string]bool, stats *Stats) (time.Time, error) {
	results, err := s.github.SearchMergedPRs(ctx, s.cfg.Org, sinceDate(lastPR), s.cfg.MaxItems)
	if err != nil {
		return lastPR, err
	}
	lgr.Printf("[DEBUG] sync: pr search results %d", len(results))

	maxSeen := lastPR
	for _, res := range results {
		if stats.PRs >= s.cfg.MaxNewPRs {
			break
		}

		owner, repo, number, ok := ParsePullURL(res.HTMLURL)
		if !ok || !strings.EqualFold(owner, s.cfg.Org) {
			continue
		}
		if s.excluded(repo) {
			lgr.Printf("[DEBUG] skip: pr %s#%d, repo excluded", repo, number)
			continue
		}

		exists, err := s.store.HasURL(ctx, res.HTMLURL)
		if err != nil {
			return maxSeen, err
		}
		if exists {
			continue
		}

		pr, err := s.github.GetPR(ctx, s.cfg.Org, repo, number)
		if err != nil {
			lgr.Printf("[WARN] sync: failed to fetch pr %s#%d: %v", repo, number, err)
			continue
		}
		if pr.MergedAt == nil || !pr.MergedAt.After(lastPR) {
			continue
		}
		if pr.User == nil || !s.authorAllowed(pr.User.Login, allowed) {
			lgr.Printf("[DEBUG] skip: pr %s#%d, author not allowed", repo, number)
			continue
		}
		title := strings.TrimSpace(pr.Title)
		if title == "" {
			continue
		}

		mergedAt := pr.MergedAt.UTC()
		item := &store.Update{
			Day:     mergedAt.Format("2006-01-02"),
			ItemID:  fmt.Sprintf("pr-%s-%d", strings.ToLower(repo), number),
			Title:   fmt.Sprintf("%s#%d: %s", repo, number, title),
			URL:     res.HTMLURL,
			Public:  true,
			Source:  "github",
			Tags:    []string{"github", "pr", repo},
			EventAt: mergedAt,
		}
		s.summarize(ctx, item, pr, repo, number)

		if s.dryRun {
			stats.PRs++
			if mergedAt.After(maxSeen) {
				maxSeen = mergedAt
			}
			continue
		}
		added, err := s.store.AddUpdate(ctx, item)
		if err != nil {
			return maxSeen, fmt.Errorf("add pr %s#%d: %w", repo, number, err)
		}
		if added {
			stats.PRs++
			lgr.Printf("[INFO] add: pr %s#%d merged_at=%s", repo, number, mergedAt.Format(time.RFC3339))
		}
		if mergedAt.After(maxSeen) {
			maxSeen = mergedAt
		}
	}
	return maxSeen, nil
}

// summarize replaces the raw PR title with release-note copy when a
// summarizer is configured. Failures keep the raw title.
func (s *Syncer) summarize(ctx context.Context, item *store.Update, pr *PullRequest, repo string, number int) {
	if s.summarizer == nil {
		return
	}
	digest, err := s.github.GetPRFilesDigest(ctx, s.cfg.Org, repo, number)
	if err != nil {
		lgr.Printf("[WARN] sync: files digest failed for %s#%d: %v", repo, number, err)
		digest = &FilesDigest{}
	}
	result, err := s.summarizer.Summarize(ctx, SummarizeRequest{
		Org:          s.cfg.Org,
		Repo:         repo,
		Number:       number,
		Title:        pr.Title,
		Body:         pr.Body,
		Files:        digest.Files,
		PatchExcerpt: digest.PatchExcerpt,
	})
	if err != nil {
		lgr.Printf("[WARN] sync: summarization failed for %s#%d: %v", repo, number, err)
		return
	}
	if result.Title != "" {
		item.Title = result.Title
	}
	item.Summary = result.Summary
	for _, t := range result.Tags {
		dup := false
		for _, have := range item.Tags {
			if have == t {
				dup = true
				break
			}
		}
		if !dup {
			item.Tags = append(item.Tags, t)
		}
	}
}

func (s *Syncer) syncCommits(ctx context.Context, lastCommit time.Time, allowed map[string]bool, stats *Stats) (time.Time, error) {
	results, err := s.github.SearchCommits(ctx, s.cfg.Org, sinceDate(lastCommit), s.cfg.MaxItems)
	if err != nil {
		return lastCommit, err
	}
	lgr.Printf("[DEBUG] sync: commit search results %d", len(results))

	maxSeen := lastCommit
	for _, c := range results {
		if stats.Commits >= s.cfg.MaxNewCommits {
			break
		}
		if c.HTMLURL == "" || c.SHA == "" {
			continue
		}

		owner, repo, ok := strings.Cut(c.Repository.FullName, "/")
		if !ok || !strings.EqualFold(owner, s.cfg.Org) {
			continue
		}
		if s.excluded(repo) {
			continue
		}

		committedAt := c.Commit.Committer.Date.UTC()
		if committedAt.IsZero() || !committedAt.After(lastCommit) {
			continue
		}
		if IsMergeCommit(c) {
			lgr.Printf("[DEBUG] skip: commit %s@%s, merge commit", repo, shortSHA(c.SHA))
			continue
		}

		login := ""
		if c.Author != nil {
			login = c.Author.Login
		}
		if login == "" && c.Committer != nil {
			login = c.Committer.Login
		}
		if !s.authorAllowed(login, allowed) {
			lgr.Printf("[DEBUG] skip: commit %s@%s, author not allowed", repo, shortSHA(c.SHA))
			continue
		}

		subject := firstLine(c.Commit.Message)
		if subject == "" {
			continue
		}

		exists, err := s.store.HasURL(ctx, c.HTMLURL)
		if err != nil {
			return maxSeen, err
		}
		if exists {
			continue
		}

		item := &store.Update{
			Day:     committedAt.Format("2006-01-02"),
			ItemID:  fmt.Sprintf("commit-%s-%s", strings.ToLower(repo), shortSHA(c.SHA)),
			Title:   fmt.Sprintf("%s@%s: %s", repo, shortSHA(c.SHA), subject),
			URL:     c.HTMLURL,
			Public:  true,
			Source:  "github",
			Tags:    []string{"github", "commit", repo},
			EventAt: committedAt,
		}

		if s.dryRun {
			stats.Commits++
			if committedAt.After(maxSeen) {
				maxSeen = committedAt
			}
			continue
		}
		added, err := s.store.AddUpdate(ctx, item)
		if err != nil {
			return maxSeen, fmt.Errorf("add commit %s@%s: %w", repo, shortSHA(c.SHA), err)
		}
		if added {
			stats.Commits++
			lgr.Printf("[INFO] add: commit %s@%s committed_at=%s", repo, shortSHA(c.SHA), committedAt.Format(time.RFC3339))
		}
		if committedAt.After(maxSeen) {
			maxSeen = committedAt
		}
	}
	return maxSeen, nil
}

// syncFeeds pulls auxiliary sources concurrently. Each source keeps its own
// cursor so a slow blog does not replay old posts.
func (s *Syncer) syncFeeds(ctx context.Context, stats *Stats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedWorkers)

	for _, src := range s.cfg.Feeds {
		g.Go(func() error {
			added, err := s.syncFeed(gctx, src)
			if err != nil {
				lgr.Printf("[WARN] sync: feed %s failed: %v", src.Name, err)
				return nil // one broken source must not stop the others
			}
			mu.Lock()
			stats.Posts += added
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (s *Syncer) syncFeed(ctx context.Context, src config.FeedSource) (int, error) {
	cursorKey := stateFeedPrefix + src.Name
	cursor, err := s.cursor(ctx, cursorKey)
	if err != nil {
		return 0, err
	}

	entries, err := s.feeds.Parse(ctx, src)
	if err != nil {
		return 0, err
	}

	added := 0
	maxSeen := cursor
	for _, e := range entries {
		if !e.Published.After(cursor) {
			continue
		}
		item := &store.Update{
			Day:     e.Published.Format("2006-01-02"),
			ItemID:  fmt.Sprintf("feed-%s-%s", src.Name, e.Published.Format("20060102150405")),
			Title:   e.Title,
			URL:     e.URL,
			Public:  true,
			Summary: e.Summary,
			Source:  "feed",
			Tags:    append([]string{"feed", src.Name}, src.Tags...),
			EventAt: e.Published,
		}
		if s.dryRun {
			added++
		} else {
			ok, err := s.store.AddUpdate(ctx, item)
			if err != nil {
				return added, fmt.Errorf("add feed entry %s: %w", e.URL, err)
			}
			if ok {
				added++
			}
		}
		if e.Published.After(maxSeen) {
			maxSeen = e.Published
		}
	}

	if !s.dryRun && maxSeen.After(cursor) {
		if err := s.store.SetState(ctx, cursorKey, maxSeen.Format(time.RFC3339)); err != nil {
			return added, err
		}
	}
	return added, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
