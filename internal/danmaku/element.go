package danmaku

import (
	"time"

	"github.com/sendrec/danmaku/internal/eventloop"
)

// ElementState is the lifecycle state of one on-screen danmaku.
type ElementState uint8

const (
	// Spawned elements exist but are hidden until SetReadyToPlay.
	Spawned ElementState = iota
	// Transiting elements move left at the configured speed.
	Transiting
	// Frozen elements hold still because the player is not playing.
	Frozen
	// Hovering elements are frozen under the pointer with controls shown.
	Hovering
	// Exited elements have left the canvas or were removed.
	Exited
)

func (s ElementState) String() string {
	switch s {
	case Spawned:
		return "Spawned"
	case Transiting:
		return "Transiting"
	case Frozen:
		return "Frozen"
	case Hovering:
		return "Hovering"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Element is one visual comment making a single pass across the canvas.
//
// Motion is kept as a (startedAt, offset, rate) triple: while transiting the
// current offset is offset - rate*(now-startedAt); freezing snapshots that
// value back into offset, so repeated pause/resume cycles never drift.
//
// OffsetX is the trailing edge's distance from the canvas right edge. It is
// the element width at spawn, 0 when the element has fully entered (occupy
// end) and -canvasWidth when it has fully left (display end).
type Element struct {
	comment  Comment
	sched    eventloop.Scheduler
	metrics  Metrics
	settings Settings

	state       ElementState
	posY        float64
	width       float64
	lineHeight  float64
	canvasWidth float64

	offset    float64
	startedAt time.Time
	rate      float64

	playByPlayer bool
	hovering     bool
	occupied     bool

	occupyTimer  eventloop.Timer
	displayTimer eventloop.Timer

	// OccupyEnded fires once, when the element no longer blocks its lane.
	OccupyEnded Signal[*Element]
	// DisplayEnded fires once, when the element has crossed the canvas.
	DisplayEnded Signal[*Element]
	// Reacted fires when the viewer uses the like/dislike controls.
	Reacted Signal[Reaction]
}

func newElement(c Comment, s Settings, sched eventloop.Scheduler, metrics Metrics) *Element {
	e := &Element{comment: c, sched: sched, metrics: metrics, settings: s}
	e.measure()
	return e
}

func (e *Element) measure() {
	fontPx := e.settings.FontPx()
	e.width = e.metrics.TextWidth(e.comment.Content, fontPx, e.settings.FontFamily)
	e.lineHeight = e.metrics.LineHeight(fontPx)
}

// Comment returns the comment the element displays.
func (e *Element) Comment() Comment { return e.comment }

// State returns the element's position in its lifecycle.
func (e *Element) State() ElementState { return e.state }

// PosY returns the top of the element's lane in canvas px.
func (e *Element) PosY() float64 { return e.posY }

// Width returns the measured text width in px.
func (e *Element) Width() float64 { return e.width }

// LineHeight returns the measured line height in px.
func (e *Element) LineHeight() float64 { return e.lineHeight }

// CanvasWidth returns the canvas width the transit is computed against.
func (e *Element) CanvasWidth() float64 { return e.canvasWidth }

// Settings returns the settings last applied to the element.
func (e *Element) Settings() Settings { return e.settings }

// Occupied reports whether the element still blocks its lane's spawn point.
func (e *Element) Occupied() bool { return e.occupied }

// IsPlaying reports whether the element is moving.
func (e *Element) IsPlaying() bool { return e.state == Transiting }

// Visible reports whether the element is on the canvas.
func (e *Element) Visible() bool { return e.state != Spawned && e.state != Exited }

// ControlsVisible reports whether the like and dislike controls are shown.
func (e *Element) ControlsVisible() bool { return e.state == Hovering }

// OffsetX returns the trailing edge's current distance from the right edge.
func (e *Element) OffsetX() float64 {
	if e.state != Transiting {
		return e.offset
	}
	elapsed := e.sched.Now().Sub(e.startedAt).Seconds()
	return e.offset - e.rate*elapsed
}

// X returns the element's current left edge in canvas coordinates.
func (e *Element) X() float64 {
	return e.canvasWidth + e.OffsetX() - e.width
}

// Contains reports whether the canvas point (x, y) is over the element.
func (e *Element) Contains(x, y float64) bool {
	if !e.Visible() {
		return false
	}
	left := e.X()
	return x >= left && x < left+e.width && y >= e.posY && y < e.posY+e.lineHeight
}

// SetReadyToPlay places the element just past the right edge of the canvas
// in lane laneY and makes it visible. The placement is instantaneous; motion
// starts from there once the element plays.
func (e *Element) SetReadyToPlay(laneY, canvasWidth float64) {
	if e.state != Spawned {
		return
	}
	e.posY = laneY
	e.canvasWidth = canvasWidth
	e.offset = e.width
	e.rate = 0
	e.state = Frozen
	e.resume()
}

// Play marks the player as playing and resumes motion unless the element is
// hovered.
func (e *Element) Play() {
	if e.state == Exited {
		return
	}
	e.playByPlayer = true
	e.resume()
}

// Pause freezes the element at its current offset and cancels its timers.
func (e *Element) Pause() {
	if e.state == Exited {
		return
	}
	e.playByPlayer = false
	e.freeze()
}

// HoverToPause freezes the element under the pointer and reveals its
// controls, whatever the player state.
func (e *Element) HoverToPause() {
	if e.state == Exited || e.state == Spawned {
		return
	}
	e.hovering = true
	e.freeze()
	e.state = Hovering
}

// LeaveToResume hides the controls. Motion resumes only if the player is
// also playing.
func (e *Element) LeaveToResume() {
	if !e.hovering {
		return
	}
	e.hovering = false
	if e.state == Hovering {
		e.state = Frozen
	}
	e.resume()
}

// Apply re-renders the element with new visual settings, keeping its lane
// and horizontal offset.
func (e *Element) Apply(s Settings) {
	if e.state == Exited {
		return
	}
	moving := e.state == Transiting
	e.freeze()
	e.settings = s
	e.measure()
	if moving {
		e.resume()
	}
}

// UpdateCanvasSize recomputes the remaining transit for a new canvas width
// without moving the element.
func (e *Element) UpdateCanvasSize(canvasWidth float64) {
	if e.state == Exited {
		return
	}
	moving := e.state == Transiting
	e.freeze()
	e.canvasWidth = canvasWidth
	if moving {
		e.resume()
	}
}

// React emits a reaction. It only works while the controls are visible.
func (e *Element) React(kind ReactionKind) bool {
	if !e.ControlsVisible() || !kind.Valid() {
		return false
	}
	e.Reacted.emit(Reaction{Comment: e.comment, Kind: kind})
	return true
}

// Remove cancels the element's timers and takes it off screen. No signal
// fires after Remove.
func (e *Element) Remove() {
	e.stopTimers()
	e.offset = e.OffsetX()
	e.rate = 0
	e.state = Exited
}

func (e *Element) freeze() {
	if e.state != Transiting {
		return
	}
	e.offset = e.OffsetX()
	e.rate = 0
	e.stopTimers()
	e.state = Frozen
}

func (e *Element) resume() {
	if e.state != Frozen || !e.playByPlayer || e.hovering {
		return
	}
	speed := e.settings.Speed
	if speed <= 0 {
		return
	}
	e.state = Transiting
	e.rate = speed
	e.startedAt = e.sched.Now()

	if !e.occupied {
		if e.offset <= 0 {
			e.markOccupied()
			if e.state != Transiting {
				return
			}
		} else {
			e.occupyTimer = e.sched.AfterFunc(e.transit(e.offset), e.handleOccupyTimer)
		}
	}
	e.displayTimer = e.sched.AfterFunc(e.transit(e.offset+e.canvasWidth), e.handleDisplayTimer)
}

func (e *Element) transit(distance float64) time.Duration {
	if distance <= 0 {
		return 0
	}
	return time.Duration(distance / e.rate * float64(time.Second))
}

func (e *Element) handleOccupyTimer() {
	e.occupyTimer = nil
	if e.state != Transiting {
		return
	}
	e.markOccupied()
}

func (e *Element) markOccupied() {
	if e.occupied {
		return
	}
	e.occupied = true
	e.OccupyEnded.emit(e)
}

func (e *Element) handleDisplayTimer() {
	e.displayTimer = nil
	if e.state != Transiting {
		return
	}
	e.Remove()
	e.DisplayEnded.emit(e)
}

func (e *Element) stopTimers() {
	if e.occupyTimer != nil {
		e.occupyTimer.Stop()
		e.occupyTimer = nil
	}
	if e.displayTimer != nil {
		e.displayTimer.Stop()
		e.displayTimer = nil
	}
}
