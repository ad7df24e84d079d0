// Package tui renders a danmaku player on a terminal with tcell and maps
// keyboard and mouse input onto player operations.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/sendrec/danmaku/internal/danmaku"
)

// Grid geometry: one terminal cell stands for CellWidth x RowHeight canvas
// px, which keeps px/s speeds readable on a character grid.
const (
	CellWidth = 12.0
	RowHeight = 30.0
)

// Metrics is the text measurement the canvas must use for a View.
var Metrics = danmaku.CellMetrics{CellWidth: CellWidth, RowHeight: RowHeight}

const (
	speedStep = 20.0
	minSpeed  = 20.0
	maxSpeed  = 2000.0
)

var opacitySteps = []int{100, 75, 50, 25}

const controlsText = " [l]ike [k]dislike "

// Options configure a View.
type Options struct {
	// Post publishes a comment at the given position. It is called on the
	// loop goroutine and must not block.
	Post func(content string, at time.Duration)
	// SampleText is what the p key posts.
	SampleText string
	Title      string
}

// View draws the canvas on every row but the last, which holds the status
// bar. All methods must run on the player's scheduler goroutine.
type View struct {
	screen tcell.Screen
	player *danmaku.Player
	opts   Options

	progress danmaku.Progress
	notice   string
}

// New connects a view to the player and sizes the canvas to the screen.
func New(screen tcell.Screen, player *danmaku.Player, opts Options) *View {
	if opts.SampleText == "" {
		opts.SampleText = "8888888"
	}
	v := &View{screen: screen, player: player, opts: opts}
	player.TimeUpdate.Connect(func(p danmaku.Progress) {
		v.progress = p
		v.Draw()
	})
	player.StateChanged.Connect(func(danmaku.PlaybackState) { v.Draw() })
	player.Reacted.Connect(func(r danmaku.Reaction) {
		v.Notice(fmt.Sprintf("%sd %q", r.Kind, r.Comment.Content))
	})
	v.fit()
	return v
}

// CanvasSize converts a terminal size to canvas px.
func CanvasSize(cols, rows int) (width, height float64) {
	return float64(cols) * CellWidth, float64(max(rows-1, 0)) * RowHeight
}

// Notice shows msg in the status bar until the next notice.
func (v *View) Notice(msg string) {
	v.notice = msg
	v.Draw()
}

// HandleEvent applies one terminal event. It returns false when the viewer
// asked to quit.
func (v *View) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if !v.handleKey(ev) {
			return false
		}
	case *tcell.EventMouse:
		v.handleMouse(ev)
	case *tcell.EventResize:
		v.fit()
		v.screen.Sync()
	}
	v.Draw()
	return true
}

func (v *View) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		v.player.SkipBackward()
		return true
	case tcell.KeyRight:
		v.player.SkipForward()
		return true
	case tcell.KeyRune:
	default:
		return true
	}

	switch ev.Rune() {
	case 'q':
		return false
	case ' ':
		v.player.Toggle()
	case '+', '=':
		v.update(func(s *danmaku.Settings) { s.Speed = math.Min(s.Speed+speedStep, maxSpeed) })
	case '-', '_':
		v.update(func(s *danmaku.Settings) { s.Speed = math.Max(s.Speed-speedStep, minSpeed) })
	case 'd':
		v.update(func(s *danmaku.Settings) { s.Enabled = !s.Enabled })
	case 's':
		v.update(func(s *danmaku.Settings) {
			if s.StackingMethod == danmaku.Random {
				s.StackingMethod = danmaku.NonOverlapping
			} else {
				s.StackingMethod = danmaku.Random
			}
		})
	case 'o':
		v.update(func(s *danmaku.Settings) { s.Opacity = nextOpacity(s.Opacity) })
	case 'm':
		v.update(func(s *danmaku.Settings) { s.Muted = !s.Muted })
	case 'p':
		if v.opts.Post != nil {
			v.opts.Post(v.opts.SampleText, v.progress.Position)
		}
	case 'l':
		v.react(danmaku.Like)
	case 'k':
		v.react(danmaku.Dislike)
	}
	return true
}

func (v *View) update(fn func(*danmaku.Settings)) {
	if err := v.player.UpdateSettings(fn); err != nil {
		v.notice = err.Error()
	}
}

func (v *View) react(kind danmaku.ReactionKind) {
	e := v.player.Canvas().Hovered()
	if e == nil {
		v.notice = "hover a danmaku first"
		return
	}
	e.React(kind)
}

func (v *View) handleMouse(ev *tcell.EventMouse) {
	canvas := v.player.Canvas()
	x, y := ev.Position()
	e := v.elementAt(x, y)
	if e == nil {
		canvas.Leave()
		return
	}
	canvas.Hover(e.X()+e.Width()/2, e.PosY()+e.LineHeight()/2)
}

// elementAt hit-tests against the cells elements were drawn on, which can
// differ from raw canvas geometry by rounding.
func (v *View) elementAt(col, row int) *danmaku.Element {
	elements := v.player.Canvas().Elements()
	for i := len(elements) - 1; i >= 0; i-- {
		e := elements[i]
		if !e.Visible() || rowOf(e) != row {
			continue
		}
		left := colOf(e)
		if col >= left && col < left+cellsOf(e) {
			return e
		}
	}
	return nil
}

func (v *View) fit() {
	w, h := v.screen.Size()
	v.player.Resize(CanvasSize(w, h))
}

// Draw repaints the whole screen.
func (v *View) Draw() {
	v.screen.Clear()
	w, h := v.screen.Size()
	if h == 0 {
		return
	}
	canvasRows := h - 1

	settings := v.player.Settings()
	base := elementStyle(settings.Opacity)
	for _, e := range v.player.Canvas().Elements() {
		row := rowOf(e)
		if !e.Visible() || row < 0 || row >= canvasRows {
			continue
		}
		col := colOf(e)
		if !e.ControlsVisible() {
			drawText(v.screen, col, row, w, e.Comment().Content, base)
			continue
		}
		drawText(v.screen, col, row, w, e.Comment().Content, base.Reverse(true))
		// Controls go after the text, or before it near the right edge.
		controlsAt := col + cellsOf(e)
		if controlsAt+runewidth.StringWidth(controlsText) > w {
			controlsAt = col - runewidth.StringWidth(controlsText)
		}
		drawText(v.screen, controlsAt, row, w, controlsText, tcell.StyleDefault.Bold(true))
	}

	drawText(v.screen, 0, h-1, w, v.status(settings), tcell.StyleDefault.Reverse(true))
	v.screen.Show()
}

func (v *View) status(s danmaku.Settings) string {
	danmakuState := "on"
	if !s.Enabled {
		danmakuState = "off"
	}
	parts := []string{
		v.player.State().String(),
		v.progress.Text,
		fmt.Sprintf("speed %.0f", s.Speed),
		"danmaku " + danmakuState,
		string(s.StackingMethod),
		fmt.Sprintf("opacity %d%%", s.Opacity),
	}
	if s.Muted {
		parts = append(parts, "muted")
	}
	if v.opts.Title != "" {
		parts = append([]string{v.opts.Title}, parts...)
	}
	if v.notice != "" {
		parts = append(parts, v.notice)
	}
	return " " + strings.Join(parts, " | ")
}

func nextOpacity(current int) int {
	for i, o := range opacitySteps {
		if current >= o {
			return opacitySteps[(i+1)%len(opacitySteps)]
		}
	}
	return opacitySteps[0]
}

func elementStyle(opacity int) tcell.Style {
	level := int32(60 + 195*opacity/100)
	return tcell.StyleDefault.Foreground(tcell.NewRGBColor(level, level, level))
}

func rowOf(e *danmaku.Element) int {
	return int(math.Floor(e.PosY() / RowHeight))
}

func colOf(e *danmaku.Element) int {
	return int(math.Floor(e.X() / CellWidth))
}

func cellsOf(e *danmaku.Element) int {
	return int(math.Ceil(e.Width() / CellWidth))
}

// drawText writes s from column x, clipping to [0, width).
func drawText(screen tcell.Screen, x, y, width int, s string, style tcell.Style) {
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			continue
		}
		if x >= 0 && x+rw <= width {
			screen.SetContent(x, y, r, nil, style)
		}
		x += rw
		if x >= width {
			return
		}
	}
}
