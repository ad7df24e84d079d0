package danmaku

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// WindowOptions tune how a Window pages comments in from its source.
type WindowOptions struct {
	PageSize    int
	Lookahead   time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Clock       clockwork.Clock
}

func (o WindowOptions) withDefaults() WindowOptions {
	if o.PageSize <= 0 {
		o.PageSize = 200
	}
	if o.Lookahead <= 0 {
		o.Lookahead = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Window serves the comments that became due since the last read, keyed off
// the playback position. Pages load in the background ahead of playback;
// Read never blocks on the source.
//
// The loaded comments cover the range (coverFrom, coverTo]. Read only
// advances its cursor through covered positions, so a range that has not
// loaded yet is served on a later read instead of being skipped.
type Window struct {
	videoID string
	source  CommentSource
	opts    WindowOptions

	mu         sync.Mutex
	comments   []Comment
	coverFrom  int64
	coverTo    int64
	next       Cursor
	done       bool
	failed     bool
	generation int
	cursor     int64
	demand     int64
	started    bool
	wake       chan struct{}
	stopped    chan struct{}
}

// NewWindow creates a window over videoID's comments. Call Start to begin
// loading.
func NewWindow(source CommentSource, videoID string, opts WindowOptions) *Window {
	return &Window{
		videoID: videoID,
		source:  source,
		opts:    opts.withDefaults(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Start launches the background loader. It stops when ctx is cancelled or
// the source fails permanently. Calling Start again has no effect.
func (w *Window) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.load(ctx)
}

// Stopped is closed once the loader started by Start has returned.
func (w *Window) Stopped() <-chan struct{} {
	return w.stopped
}

// StartFrom resets the read cursor to pos. Comments due after pos are served
// again by later reads, including ones already returned before.
func (w *Window) StartFrom(pos time.Duration) {
	p := pos.Milliseconds()

	w.mu.Lock()
	w.cursor = p
	w.demand = p
	if p < w.coverFrom || (!w.done && p > w.coverTo+w.opts.Lookahead.Milliseconds()) {
		w.resetCoverage(p)
	}
	w.mu.Unlock()

	w.notify()
}

// Read returns the comments with cursor < DueAtMs <= pos in ascending order
// and advances the cursor. Positions before the cursor return nothing; after
// a permanent source failure every read returns nothing.
func (w *Window) Read(pos time.Duration) []Comment {
	p := pos.Milliseconds()

	w.mu.Lock()
	if w.failed {
		w.mu.Unlock()
		return nil
	}
	wake := false
	if p > w.demand {
		w.demand = p
		wake = !w.done
	}
	limit := p
	if !w.done && w.coverTo < limit {
		limit = w.coverTo
	}
	var out []Comment
	if limit > w.cursor {
		from := sort.Search(len(w.comments), func(i int) bool { return w.comments[i].DueAtMs > w.cursor })
		to := sort.Search(len(w.comments), func(i int) bool { return w.comments[i].DueAtMs > limit })
		if to > from {
			out = append([]Comment(nil), w.comments[from:to]...)
		}
		w.cursor = limit
	}
	w.mu.Unlock()

	if wake {
		w.notify()
	}
	return out
}

// Cursor returns the last read position.
func (w *Window) Cursor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.cursor) * time.Millisecond
}

// Failed reports whether the source failed permanently.
func (w *Window) Failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Loaded reports the covered range and whether it extends to the end of the
// stream.
func (w *Window) Loaded() (from, to time.Duration, complete bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.coverFrom) * time.Millisecond, time.Duration(w.coverTo) * time.Millisecond, w.done
}

func (w *Window) resetCoverage(p int64) {
	w.comments = nil
	w.coverFrom = p
	w.coverTo = p
	w.next = Cursor{AfterMs: p}
	w.done = false
	w.generation++
}

func (w *Window) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Window) load(ctx context.Context) {
	defer close(w.stopped)
	for {
		more, wait := w.step(ctx)
		if !more {
			return
		}
		if !wait {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
	}
}

// step fetches at most one page. It reports whether the loader should keep
// running and whether it should wait for more demand first.
func (w *Window) step(ctx context.Context) (more, wait bool) {
	w.mu.Lock()
	if w.failed {
		w.mu.Unlock()
		return false, false
	}
	if w.done || w.coverTo >= w.demand+w.opts.Lookahead.Milliseconds() {
		w.mu.Unlock()
		return true, true
	}
	gen, next := w.generation, w.next
	w.mu.Unlock()

	page, err := w.fetch(ctx, next)
	if ctx.Err() != nil {
		return false, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return true, false
	}
	if err != nil {
		slog.Error("window: comment source failed, disabling danmaku", "video_id", w.videoID, "error", err)
		w.failed = true
		w.comments = nil
		return false, false
	}
	w.merge(page)
	return true, false
}

func (w *Window) fetch(ctx context.Context, after Cursor) (Page, error) {
	var lastErr error
	delay := w.opts.RetryDelay
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		page, err := w.source.FetchPage(ctx, w.videoID, after, w.opts.PageSize)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if errors.Is(err, ErrSourceGone) || ctx.Err() != nil {
			return Page{}, err
		}
		slog.Warn("window: page fetch failed", "video_id", w.videoID, "attempt", attempt, "error", err)
		if attempt == w.opts.MaxAttempts {
			break
		}
		select {
		case <-w.opts.Clock.After(delay):
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
		delay *= 2
	}
	return Page{}, lastErr
}

func (w *Window) merge(page Page) {
	for _, c := range page.Comments {
		if !w.next.Before(c) {
			continue
		}
		w.comments = append(w.comments, c)
		w.next = CursorAt(c)
	}
	if page.Done || len(page.Comments) == 0 {
		w.done = true
		return
	}
	if page.Next.AfterMs > w.next.AfterMs || (page.Next.AfterMs == w.next.AfterMs && page.Next.AfterID > w.next.AfterID) {
		w.next = page.Next
	}
	// More comments may share the last due time, so only positions before
	// it are fully covered.
	if through := w.next.AfterMs - 1; through > w.coverTo {
		w.coverTo = through
	}
}
