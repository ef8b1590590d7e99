package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"github.com/acedatacloud/roadmapd/pkg/domain"
)

// Update is a synced daily-update item as stored.
type Update struct {
	ID      int64     `db:"id"`
	Day     string    `db:"day"`
	ItemID  string    `db:"item_id"`
	Title   string    `db:"title"`
	URL     string    `db:"url"`
	Public  bool      `db:"public"`
	Summary string    `db:"summary"`
	Tags    tagsSQL   `db:"tags"`
	Source  string    `db:"source"`
	EventAt time.Time `db:"event_at"`
}

// tagsSQL is a JSON array of tag strings for SQL operations
type tagsSQL []string

// Value implements driver.Valuer for database storage
func (t tagsSQL) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for database retrieval
func (t *tagsSQL) Scan(value interface{}) error {
	if value == nil {
		*t = tagsSQL{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported tags type %T", value)
	}
	return json.Unmarshal(data, t)
}

// HasURL reports whether an update with this url was already synced.
func (s *Store) HasURL(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, nil
	}
	var count int
	err := s.conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM updates WHERE url = ?", url)
	if err != nil {
		return false, fmt.Errorf("check url: %w", err)
	}
	return count > 0, nil
}

// AddUpdate inserts one update item. Items with a url are deduplicated by
// it: a second insert of the same url is a no-op. Returns whether a row
// was added. Writes retry on transient SQLite lock errors.
func (s *Store) AddUpdate(ctx context.Context, u *Update) (bool, error) {
	if u.Day == "" || !domain.IsDay(u.Day) {
		return false, fmt.Errorf("invalid day %q", u.Day)
	}
	if u.Title == "" {
		return false, fmt.Errorf("update title is required")
	}

	added := false
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err := retrier.Do(ctx, func() error {
		if u.URL != "" {
			exists, err := s.HasURL(ctx, u.URL)
			if err != nil {
				if isLockError(err) {
					return err // retry
				}
				return &criticalError{err: err}
			}
			if exists {
				added = false
				return nil
			}
		}

		query := `
			INSERT INTO updates (day, item_id, title, url, public, summary, tags, source, event_at)
			VALUES (:day, :item_id, :title, :url, :public, :summary, :tags, :source, :event_at)
		`
		if _, err := s.conn.NamedExecContext(ctx, query, u); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("insert update: %w", err)}
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add update: %w", err)
	}
	return added, nil
}

// ListDays returns all days with at least one update, newest first.
func (s *Store) ListDays(ctx context.Context) ([]string, error) {
	var days []string
	err := s.conn.SelectContext(ctx, &days, "SELECT DISTINCT day FROM updates ORDER BY day DESC")
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	return days, nil
}

// GetDayUpdates returns one day's items, newest event first.
func (s *Store) GetDayUpdates(ctx context.Context, day string) ([]Update, error) {
	var updates []Update
	err := s.conn.SelectContext(ctx, &updates,
		"SELECT id, day, item_id, title, url, public, summary, tags, source, event_at FROM updates WHERE day = ? ORDER BY event_at DESC, id DESC", day)
	if err != nil {
		return nil, fmt.Errorf("get day updates: %w", err)
	}
	return updates, nil
}

// CountUpdates returns the total number of synced items.
func (s *Store) CountUpdates(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM updates"); err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return count, nil
}

// ExportIndex builds the daily-updates index document from stored days.
// Days are listed newest first; pagination parameters carry the standard
// defaults the page consumer expects.
func (s *Store) ExportIndex(ctx context.Context, title, subtitle string) (*domain.FeedIndex, error) {
	days, err := s.ListDays(ctx)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = "Daily Updates"
	}
	idx := &domain.FeedIndex{
		Title:           title,
		Subtitle:        subtitle,
		InitialOpenDays: domain.DefaultInitialOpenDays,
		PageSizeDays:    domain.DefaultPageSizeDays,
		Days:            days,
	}
	idx.Clamp()
	return idx, nil
}

// ExportDay builds one day document from stored items.
func (s *Store) ExportDay(ctx context.Context, day string) (*domain.DayDocument, error) {
	updates, err := s.GetDayUpdates(ctx, day)
	if err != nil {
		return nil, err
	}
	doc := &domain.DayDocument{Date: day, Items: make([]domain.UpdateItem, 0, len(updates))}
	for _, u := range updates {
		doc.Items = append(doc.Items, domain.UpdateItem{
			ID:      u.ItemID,
			Title:   u.Title,
			URL:     u.URL,
			Public:  u.Public && u.URL != "",
			Summary: u.Summary,
			Tags:    u.Tags,
		})
	}
	return doc, nil
}

// GetState returns a sync-state value, empty when unset.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.GetContext(ctx, &value, "SELECT value FROM sync_state WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a sync-state value. Writes retry on lock errors.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err := retrier.Do(ctx, func() error {
		query := `
			INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, datetime('now'))
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`
		if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("set state: %w", err)}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}
