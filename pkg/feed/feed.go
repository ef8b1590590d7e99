package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/acedatacloud/roadmapd/pkg/domain"
)

// LoadState is the lifecycle state of a day bucket.
type LoadState int

// Bucket states. Transitions move forward only, except Failed -> Loading
// on retry. Loaded is terminal for the feed's lifetime.
const (
	Unloaded LoadState = iota
	Loading
	Loaded
	Failed
)

// String returns the lowercase state name.
func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// BucketView is an immutable snapshot of one day bucket.
type BucketView struct {
	Day      string
	State    LoadState
	Expanded bool
	Items    []domain.UpdateItem
	Err      string
}

// Status describes pagination progress for the status line and the
// load-more control.
type Status struct {
	Listed    int // buckets appended to the visible list (the cursor)
	Total     int
	Remaining int
}

// bucket holds the mutable per-day state. The generation counter guards
// against a stale fetch completion being recorded after a retry reset the
// bucket: only the completion matching the generation that issued the
// request may transition the state.
type bucket struct {
	day      string
	state    LoadState
	gen      uint64
	expanded bool
	items    []domain.UpdateItem
	loadErr  string
	done     chan struct{} // non-nil while a load is in flight
}

func (b *bucket) view() BucketView {
	v := BucketView{Day: b.day, State: b.state, Expanded: b.expanded, Err: b.loadErr}
	if len(b.items) > 0 {
		v.Items = make([]domain.UpdateItem, len(b.items))
		copy(v.Items, b.items)
	}
	return v
}

// Feed owns the day-bucket index, the lazy per-day fetch cache and the
// pagination cursor. One instance serves one feed lifetime; nothing is
// persisted and a new instance re-fetches everything.
//
// The browser original runs on a single-threaded event loop; here a mutex
// over cursor and bucket states provides the equivalent atomicity. Bucket
// fetches run outside the lock, so several buckets may load concurrently
// and complete in any order, each touching only its own bucket.
type Feed struct {
	mu          sync.Mutex
	source      DaySource
	index       domain.FeedIndex
	indexFailed bool
	buckets     map[string]*bucket
	visible     int // pagination cursor over index.Days
}

// New creates a feed over a validated index. Placeholder buckets are
// created eagerly, one per index entry; their items populate lazily.
// indexFailed marks that the upstream index fetch failed, which selects
// the empty-state message variant.
func New(index domain.FeedIndex, indexFailed bool, source DaySource) *Feed {
	index.Clamp()
	f := &Feed{
		source:      source,
		index:       index,
		indexFailed: indexFailed,
		buckets:     make(map[string]*bucket, len(index.Days)),
	}
	for _, day := range index.Days {
		f.buckets[day] = &bucket{day: day}
	}
	return f
}

// Index returns the immutable manifest the feed was built from.
func (f *Feed) Index() domain.FeedIndex { return f.index }

// IndexFailed reports whether the upstream index fetch failed; with an
// empty day list this selects the "feed unavailable" placeholder over the
// plain "no updates yet" one.
func (f *Feed) IndexFailed() bool { return f.indexFailed }

// Initialize reveals the first InitialOpenDays buckets in expanded state
// and fetches them. Fetches run concurrently and completions may arrive in
// any order; the returned views are in index order, each reflecting its
// bucket's final state. An empty index returns nil.
func (f *Feed) Initialize(ctx context.Context) []BucketView {
	f.mu.Lock()
	n := f.index.InitialOpenDays
	if n > len(f.index.Days) {
		n = len(f.index.Days)
	}
	f.visible = n
	days := f.index.Days[:n]
	for _, day := range days {
		f.buckets[day].expanded = true
	}
	f.mu.Unlock()

	if len(days) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, day := range days {
		wg.Add(1)
		go func(day string) {
			defer wg.Done()
			f.Expand(ctx, day) //nolint:errcheck // failure is recorded on the bucket
		}(day)
	}
	wg.Wait()

	views := make([]BucketView, 0, len(days))
	f.mu.Lock()
	for _, day := range days {
		views = append(views, f.buckets[day].view())
	}
	f.mu.Unlock()
	return views
}

// Expand marks the bucket open and loads it on first expansion. A Loaded
// bucket is served from cache without a second fetch; an expansion racing
// an in-flight load waits for that load instead of issuing its own. The
// returned error is the fetch error when this call performed the fetch;
// the view's State reflects the outcome either way.
func (f *Feed) Expand(ctx context.Context, day string) (BucketView, error) {
	f.mu.Lock()
	b, ok := f.buckets[day]
	if !ok {
		f.mu.Unlock()
		return BucketView{}, fmt.Errorf("unknown day %s", day)
	}
	b.expanded = true

	switch b.state {
	case Loaded, Failed:
		v := b.view()
		f.mu.Unlock()
		return v, nil
	case Loading:
		done := b.done
		f.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return BucketView{Day: day, State: Loading, Expanded: true}, ctx.Err()
		}
		f.mu.Lock()
		v := b.view()
		f.mu.Unlock()
		return v, nil
	}

	// Unloaded -> Loading
	b.state = Loading
	gen := b.gen
	done := make(chan struct{})
	b.done = done
	f.mu.Unlock()

	raws, err := f.source.FetchDay(ctx, day)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer close(done)
	if b.gen != gen {
		// a retry superseded this request; drop the stale result
		return b.view(), nil
	}
	b.done = nil
	if err != nil {
		b.state = Failed
		b.loadErr = err.Error()
		return b.view(), err
	}
	b.state = Loaded
	b.items = Normalize(day, raws)
	b.loadErr = ""
	return b.view(), nil
}

// Collapse closes the bucket. Load state is untouched, so a later expand
// of a Loaded bucket serves the cache.
func (f *Feed) Collapse(day string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[day]; ok {
		b.expanded = false
	}
}

// Retry re-arms a Failed bucket and expands it again. The generation
// counter is bumped so a completion from the superseded request cannot
// overwrite the new attempt. Retrying a bucket in any other state is just
// an expand.
func (f *Feed) Retry(ctx context.Context, day string) (BucketView, error) {
	f.mu.Lock()
	if b, ok := f.buckets[day]; ok && b.state == Failed {
		b.state = Unloaded
		b.loadErr = ""
		b.gen++
	}
	f.mu.Unlock()
	return f.Expand(ctx, day)
}

// LoadMore appends the next page of buckets to the visible list in
// collapsed state; they fetch only when expanded. fromCursor is the
// caller's view of the cursor: a call racing another append (rapid
// double-click replaying the same cursor) is a no-op rather than a second
// page. The final partial page appends whatever remains.
func (f *Feed) LoadMore(fromCursor int) ([]BucketView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fromCursor != f.visible || f.visible >= len(f.index.Days) {
		return nil, false
	}

	n := f.index.PageSizeDays
	if rest := len(f.index.Days) - f.visible; n > rest {
		n = rest
	}
	views := make([]BucketView, 0, n)
	for _, day := range f.index.Days[f.visible : f.visible+n] {
		views = append(views, f.buckets[day].view())
	}
	f.visible += n
	return views, true
}

// RevealThrough advances the cursor far enough to list the given day,
// used for deep links into a specific bucket. Reports whether the day
// exists in the index.
func (f *Feed) RevealThrough(day string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.index.Days {
		if d == day {
			if f.visible < i+1 {
				f.visible = i + 1
			}
			return true
		}
	}
	return false
}

// Status returns pagination progress.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		Listed:    f.visible,
		Total:     len(f.index.Days),
		Remaining: len(f.index.Days) - f.visible,
	}
}

// Cursor returns the current pagination cursor.
func (f *Feed) Cursor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// View returns a snapshot of one bucket.
func (f *Feed) View(day string) (BucketView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[day]
	if !ok {
		return BucketView{}, false
	}
	return b.view(), true
}

// Visible returns snapshots of all listed buckets in index order.
func (f *Feed) Visible() []BucketView {
	f.mu.Lock()
	defer f.mu.Unlock()
	views := make([]BucketView, 0, f.visible)
	for _, day := range f.index.Days[:f.visible] {
		views = append(views, f.buckets[day].view())
	}
	return views
}
