package danmaku

import (
	"math"
	"math/rand"
	"time"

	"github.com/sendrec/danmaku/internal/eventloop"
)

// CanvasOptions tune lane scheduling.
type CanvasOptions struct {
	Metrics Metrics
	// MaxPerLane bounds live elements per usable lane.
	MaxPerLane int
	// MaxDelay is how long a comment may wait for a free lane. Zero drops
	// comments that cannot be placed immediately.
	MaxDelay time.Duration
	// MaxPending bounds the waiting queue; the oldest entry is dropped first.
	MaxPending int
	Rand       *rand.Rand
}

func (o CanvasOptions) withDefaults() CanvasOptions {
	if o.Metrics == nil {
		o.Metrics = ProportionalMetrics{}
	}
	if o.MaxPerLane <= 0 {
		o.MaxPerLane = 4
	}
	if o.MaxPending <= 0 {
		o.MaxPending = 64
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// CanvasStats counts what happened to comments handed to the canvas.
// CanvasStats counts what happened to comments handed to a canvas.
type CanvasStats struct {
	Spawned int
	Dropped int
	Expired int
}

type pendingComment struct {
	comment  Comment
	queuedAt time.Time
}

// laneBand is the lane geometry for the current settings and canvas size.
type laneBand struct {
	top        float64
	lineHeight float64
	count      int
	usable     int
}

func (b laneBand) y(lane int) float64 {
	return b.top + float64(lane)*b.lineHeight
}

// Canvas assigns due comments to lanes, bounds the number of live elements
// and fans play/pause/settings/resize out to every live element.
type Canvas struct {
	sched    eventloop.Scheduler
	opts     CanvasOptions
	settings Settings
	width    float64
	height   float64
	playing  bool

	live     []*Element
	byID     map[string]*Element
	pending  []pendingComment
	hovered  *Element
	draining bool
	stats    CanvasStats

	// Reacted forwards reactions from any live element.
	Reacted Signal[Reaction]
}

// NewCanvas creates an empty, paused canvas.
func NewCanvas(sched eventloop.Scheduler, s Settings, width, height float64, opts CanvasOptions) *Canvas {
	return &Canvas{
		sched:    sched,
		opts:     opts.withDefaults(),
		settings: s,
		width:    width,
		height:   height,
		byID:     make(map[string]*Element),
	}
}

// Add spawns an element for each comment, in order. Comments that already
// have a live element are skipped; comments with no free lane wait up to
// MaxDelay or are dropped.
func (c *Canvas) Add(comments []Comment) {
	if !c.settings.Enabled {
		return
	}
	for _, cm := range comments {
		if _, live := c.byID[cm.ID]; live {
			continue
		}
		if c.place(cm) {
			continue
		}
		c.enqueue(cm)
	}
}

// Play resumes every live element.
func (c *Canvas) Play() {
	c.playing = true
	for _, e := range c.snapshot() {
		e.Play()
	}
}

// Pause freezes every live element.
func (c *Canvas) Pause() {
	c.playing = false
	for _, e := range c.snapshot() {
		e.Pause()
	}
}

// UpdateSettings re-renders live elements with s. Elements keep their lanes;
// new lane geometry only applies to elements spawned afterwards. Disabling
// danmaku clears the canvas.
func (c *Canvas) UpdateSettings(s Settings) {
	c.settings = s
	if !s.Enabled {
		c.Remove()
		return
	}
	for _, e := range c.snapshot() {
		e.Apply(s)
	}
}

// Resize updates the canvas geometry and the remaining transit of every
// live element.
func (c *Canvas) Resize(width, height float64) {
	c.width = width
	c.height = height
	for _, e := range c.snapshot() {
		e.UpdateCanvasSize(width)
	}
}

// Remove tears down every live element and forgets queued comments. It is
// safe to call in any state, any number of times.
func (c *Canvas) Remove() {
	live := c.live
	c.live = nil
	c.byID = make(map[string]*Element)
	c.pending = nil
	c.hovered = nil
	for _, e := range live {
		e.Remove()
	}
}

// Hover moves the pointer to (x, y): the element under it freezes and shows
// its controls, and a previously hovered element is released.
func (c *Canvas) Hover(x, y float64) *Element {
	target := c.ElementAt(x, y)
	if target == c.hovered {
		return target
	}
	if c.hovered != nil {
		c.hovered.LeaveToResume()
	}
	c.hovered = target
	if target != nil {
		target.HoverToPause()
	}
	return target
}

// Leave releases the hovered element, if any.
func (c *Canvas) Leave() {
	if c.hovered == nil {
		return
	}
	c.hovered.LeaveToResume()
	c.hovered = nil
}

// Hovered returns the element under the pointer.
func (c *Canvas) Hovered() *Element {
	return c.hovered
}

// ElementAt returns the most recently spawned element covering (x, y).
func (c *Canvas) ElementAt(x, y float64) *Element {
	for i := len(c.live) - 1; i >= 0; i-- {
		if c.live[i].Contains(x, y) {
			return c.live[i]
		}
	}
	return nil
}

// Elements returns the live elements in spawn order.
func (c *Canvas) Elements() []*Element {
	return c.snapshot()
}

// Len returns the number of live elements.
func (c *Canvas) Len() int {
	return len(c.live)
}

// Pending returns the number of comments waiting for a lane.
func (c *Canvas) Pending() int {
	return len(c.pending)
}

// LaneCount returns how many lanes new elements may use.
func (c *Canvas) LaneCount() int {
	return c.band().usable
}

// Stats returns spawn, drop and expiry counters since the canvas was created.
func (c *Canvas) Stats() CanvasStats {
	return c.stats
}

// Size returns the canvas dimensions in px.
func (c *Canvas) Size() (width, height float64) {
	return c.width, c.height
}

func (c *Canvas) snapshot() []*Element {
	return append([]*Element(nil), c.live...)
}

func (c *Canvas) band() laneBand {
	lh := c.opts.Metrics.LineHeight(c.settings.FontPx())
	top := c.height * c.settings.TopMarginPct / 100
	bottom := c.height * (1 - c.settings.BottomMarginPct/100)
	b := laneBand{top: top, lineHeight: lh}
	if lh <= 0 || bottom <= top {
		return b
	}
	b.count = int(math.Floor((bottom - top) / lh))
	if b.count > 0 && c.settings.Density > 0 {
		b.usable = int(math.Ceil(float64(b.count) * float64(c.settings.Density) / 100))
	}
	return b
}

func (c *Canvas) place(cm Comment) bool {
	b := c.band()
	if b.usable == 0 || len(c.live) >= b.usable*c.opts.MaxPerLane {
		return false
	}
	lane, ok := c.pickLane(b)
	if !ok {
		return false
	}
	c.spawn(cm, b.y(lane))
	return true
}

func (c *Canvas) pickLane(b laneBand) (int, bool) {
	if c.settings.StackingMethod == Random {
		return c.opts.Rand.Intn(b.usable), true
	}
	blocked := c.laneTable(b)
	for lane, busy := range blocked {
		if !busy {
			return lane, true
		}
	}
	return 0, false
}

// laneTable marks every usable lane that a live element has not yet cleared.
// Elements keep the lane they spawned in, so an element spawned under older
// geometry blocks every current lane it vertically overlaps.
func (c *Canvas) laneTable(b laneBand) []bool {
	const epsilon = 1e-9
	blocked := make([]bool, b.usable)
	for _, e := range c.live {
		if e.Occupied() || e.State() == Exited {
			continue
		}
		top, bottom := e.PosY(), e.PosY()+e.LineHeight()
		for lane := range blocked {
			y := b.y(lane)
			if y < bottom-epsilon && top < y+b.lineHeight-epsilon {
				blocked[lane] = true
			}
		}
	}
	return blocked
}

func (c *Canvas) spawn(cm Comment, laneY float64) {
	e := newElement(cm, c.settings, c.sched, c.opts.Metrics)
	e.OccupyEnded.Connect(c.handleOccupyEnded)
	e.DisplayEnded.Connect(c.handleDisplayEnded)
	e.Reacted.Connect(c.Reacted.emit)

	c.live = append(c.live, e)
	c.byID[cm.ID] = e
	c.stats.Spawned++

	e.SetReadyToPlay(laneY, c.width)
	if c.playing {
		e.Play()
	}
}

func (c *Canvas) enqueue(cm Comment) {
	if c.opts.MaxDelay <= 0 {
		c.stats.Dropped++
		return
	}
	for _, p := range c.pending {
		if p.comment.ID == cm.ID {
			return
		}
	}
	if len(c.pending) >= c.opts.MaxPending {
		c.pending = c.pending[1:]
		c.stats.Dropped++
	}
	c.pending = append(c.pending, pendingComment{comment: cm, queuedAt: c.sched.Now()})
}

func (c *Canvas) drainPending() {
	if c.draining || len(c.pending) == 0 {
		return
	}
	c.draining = true
	defer func() { c.draining = false }()

	now := c.sched.Now()
	for len(c.pending) > 0 {
		head := c.pending[0]
		if now.Sub(head.queuedAt) > c.opts.MaxDelay {
			c.pending = c.pending[1:]
			c.stats.Expired++
			continue
		}
		if _, live := c.byID[head.comment.ID]; live {
			c.pending = c.pending[1:]
			continue
		}
		if !c.place(head.comment) {
			return
		}
		c.pending = c.pending[1:]
	}
}

func (c *Canvas) handleOccupyEnded(*Element) {
	c.drainPending()
}

func (c *Canvas) handleDisplayEnded(e *Element) {
	for i, other := range c.live {
		if other == e {
			c.live = append(c.live[:i], c.live[i+1:]...)
			break
		}
	}
	if c.byID[e.comment.ID] == e {
		delete(c.byID, e.comment.ID)
	}
	if c.hovered == e {
		c.hovered = nil
	}
	c.drainPending()
}
