package danmaku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendrec/danmaku/internal/eventloop"
)

// PlaybackState is the player's view of the media engine.
type PlaybackState uint8

const (
	Idle PlaybackState = iota
	Buffering
	Playing
	Paused
	Ended
)

func (s PlaybackState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Buffering:
		return "Buffering"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// MediaEngine is the host's video element. It owns the playback position
// and buffering, and reports transitions back through the Player's Handle
// methods.
type MediaEngine interface {
	Position() time.Duration
	Duration() time.Duration
	Play()
	Pause()
	Seek(pos time.Duration)
	SetRate(rate float64)
	// SetVolume takes a linear volume in [0, 1].
	SetVolume(v float64)
	SetMuted(muted bool)
}

// Progress is the elapsed-time readout emitted on every frame.
type Progress struct {
	Position time.Duration
	Duration time.Duration
	Text     string
}

// PlayerConfig wires a Player to its collaborators.
type PlayerConfig struct {
	Scheduler eventloop.Scheduler
	Media     MediaEngine
	Source    CommentSource
	VideoID   string
	Settings  Settings
	Width     float64
	Height    float64

	Window WindowOptions
	Canvas CanvasOptions

	FrameInterval  time.Duration
	SkipStep       time.Duration
	PersistDelay   time.Duration
	PersistTimeout time.Duration

	// Persister and Reactor are optional.
	Persister SettingsPersister
	Reactor   Reactor
}

func (c PlayerConfig) withDefaults() PlayerConfig {
	if c.FrameInterval <= 0 {
		c.FrameInterval = 16 * time.Millisecond
	}
	if c.SkipStep <= 0 {
		c.SkipStep = 5 * time.Second
	}
	if c.PersistDelay <= 0 {
		c.PersistDelay = 500 * time.Millisecond
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	return c
}

// Player keeps the comment window and canvas in lockstep with the media
// engine. All methods, including the Handle callbacks, must be called from
// the scheduler's goroutine.
type Player struct {
	cfg      PlayerConfig
	ctx      context.Context
	sched    eventloop.Scheduler
	media    MediaEngine
	window   *Window
	canvas   *Canvas
	settings Settings

	state   PlaybackState
	seeking bool
	frames  frameLoop

	stopLoading context.CancelFunc

	persistTimer eventloop.Timer
	persistDirty bool

	StateChanged   Signal[PlaybackState]
	Ended          Signal[struct{}]
	CanPlayThrough Signal[struct{}]
	// Comments carries every batch read from the window, for comment lists.
	Comments   Signal[[]Comment]
	TimeUpdate Signal[Progress]
	Reacted    Signal[Reaction]
}

// NewPlayer builds the window and canvas for cfg and starts loading
// comments. Loading stops when ctx is cancelled or the player is closed.
func NewPlayer(ctx context.Context, cfg PlayerConfig) (*Player, error) {
	if cfg.Scheduler == nil || cfg.Media == nil || cfg.Source == nil {
		return nil, errors.New("player needs a scheduler, a media engine and a comment source")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}
	cfg = cfg.withDefaults()

	p := &Player{
		cfg:      cfg,
		ctx:      context.WithoutCancel(ctx),
		sched:    cfg.Scheduler,
		media:    cfg.Media,
		window:   NewWindow(cfg.Source, cfg.VideoID, cfg.Window),
		canvas:   NewCanvas(cfg.Scheduler, cfg.Settings, cfg.Width, cfg.Height, cfg.Canvas),
		settings: cfg.Settings,
	}
	p.frames = frameLoop{sched: cfg.Scheduler, interval: cfg.FrameInterval, tick: p.tick}
	p.canvas.Reacted.Connect(p.handleReaction)
	p.applyMedia()
	loadCtx, cancel := context.WithCancel(ctx)
	p.stopLoading = cancel
	p.window.Start(loadCtx)
	return p, nil
}

// State returns the current playback state.
func (p *Player) State() PlaybackState { return p.state }

// Seeking reports whether a seek is waiting for the media engine.
func (p *Player) Seeking() bool { return p.seeking }

// Settings returns the settings currently applied.
func (p *Player) Settings() Settings { return p.settings }

// Window returns the comment window feeding the canvas.
func (p *Player) Window() *Window { return p.window }

// Canvas returns the canvas the player draws into.
func (p *Player) Canvas() *Canvas { return p.canvas }

// Looping reports whether the frame loop is scheduled.
func (p *Player) Looping() bool { return p.frames.running }

// HandlePlaying is called when the media engine starts or resumes playback.
func (p *Player) HandlePlaying() {
	if p.state == Playing {
		return
	}
	p.window.StartFrom(p.media.Position())
	p.frames.start()
	p.canvas.Play()
	p.setState(Playing)
}

// HandlePaused is called when the media engine pauses.
func (p *Player) HandlePaused() {
	p.halt()
	p.setState(Paused)
}

// HandleWaiting is called when the media engine stalls for data. The overlay
// freezes as if paused; the engine resumes on its own.
func (p *Player) HandleWaiting() {
	p.halt()
	p.setState(Buffering)
}

// HandleEnded is called when playback reaches the end.
func (p *Player) HandleEnded() {
	p.halt()
	if p.setState(Ended) {
		p.Ended.emit(struct{}{})
	}
}

// HandleSeeked is called when the media engine finishes a seek.
func (p *Player) HandleSeeked() {
	p.seeking = false
}

// HandleCanPlayThrough is called once enough media is buffered.
func (p *Player) HandleCanPlayThrough() {
	p.CanPlayThrough.emit(struct{}{})
}

// Play asks the media engine to play. The overlay follows once the engine
// reports HandlePlaying.
func (p *Player) Play() {
	p.media.Play()
}

// Pause asks the media engine to pause.
func (p *Player) Pause() {
	p.media.Pause()
}

// Toggle plays when not playing and pauses otherwise.
func (p *Player) Toggle() {
	if p.state == Playing || p.state == Buffering {
		p.Pause()
		return
	}
	p.Play()
}

// Seek moves playback to pos, clamped to the media duration. The frame loop
// keeps its current running state.
func (p *Player) Seek(pos time.Duration) {
	pos = p.clamp(pos)
	p.seeking = true
	p.media.Seek(pos)
	p.window.StartFrom(pos)
	p.emitProgress(pos)
	if p.state == Ended {
		p.setState(Paused)
	}
}

// SkipForward seeks SkipStep ahead.
func (p *Player) SkipForward() {
	p.Seek(p.media.Position() + p.cfg.SkipStep)
}

// SkipBackward seeks SkipStep back.
func (p *Player) SkipBackward() {
	p.Seek(p.media.Position() - p.cfg.SkipStep)
}

// ApplySettings validates s and applies it to the media engine and every
// live element at once. Persistence follows asynchronously.
func (p *Player) ApplySettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.settings = s
	p.applyMedia()
	p.canvas.UpdateSettings(s)
	p.schedulePersist()
	return nil
}

// UpdateSettings applies a modified copy of the current settings.
func (p *Player) UpdateSettings(fn func(*Settings)) error {
	s := p.settings
	fn(&s)
	return p.ApplySettings(s)
}

// AddDanmaku feeds comments straight into the canvas, bypassing the window.
func (p *Player) AddDanmaku(comments ...Comment) {
	p.canvas.Add(comments)
}

// Resize updates the overlay geometry.
func (p *Player) Resize(width, height float64) {
	p.canvas.Resize(width, height)
}

// Close stops the frame loop and the comment loader, clears the canvas and
// saves settings that are still waiting for the persist delay.
func (p *Player) Close() {
	p.stopLoading()
	p.frames.stop()
	p.canvas.Remove()
	if p.persistTimer != nil {
		p.persistTimer.Stop()
		p.persistTimer = nil
	}
	if p.persistDirty {
		p.persistDirty = false
		p.persist(p.settings)
	}
}

func (p *Player) halt() {
	p.frames.stop()
	p.canvas.Pause()
}

func (p *Player) setState(s PlaybackState) bool {
	if p.state == s {
		return false
	}
	p.state = s
	p.StateChanged.emit(s)
	return true
}

func (p *Player) clamp(pos time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if d := p.media.Duration(); d > 0 && pos > d {
		return d
	}
	return pos
}

func (p *Player) applyMedia() {
	p.media.SetRate(p.settings.PlaybackRate)
	p.media.SetVolume(float64(p.settings.Volume) / 100)
	p.media.SetMuted(p.settings.Muted)
}

func (p *Player) tick() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("player: frame tick failed", "video_id", p.cfg.VideoID, "panic", r)
		}
	}()

	pos := p.media.Position()
	if due := p.window.Read(pos); len(due) > 0 {
		p.Comments.emit(due)
		p.canvas.Add(due)
	}
	p.emitProgress(pos)
}

func (p *Player) emitProgress(pos time.Duration) {
	d := p.media.Duration()
	p.TimeUpdate.emit(Progress{Position: pos, Duration: d, Text: FormatElapsed(pos, d)})
}

func (p *Player) schedulePersist() {
	if p.cfg.Persister == nil {
		return
	}
	p.persistDirty = true
	if p.persistTimer != nil {
		p.persistTimer.Stop()
	}
	p.persistTimer = p.sched.AfterFunc(p.cfg.PersistDelay, func() {
		p.persistTimer = nil
		p.persistDirty = false
		go p.persist(p.settings)
	})
}

func (p *Player) persist(s Settings) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.PersistTimeout)
	defer cancel()
	if err := p.cfg.Persister.SaveSettings(ctx, s); err != nil {
		slog.Warn("player: failed to persist settings", "error", err)
	}
}

func (p *Player) handleReaction(r Reaction) {
	p.Reacted.emit(r)
	if p.cfg.Reactor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.PersistTimeout)
		defer cancel()
		if err := p.cfg.Reactor.React(ctx, r.Comment.ID, r.Kind); err != nil {
			slog.Warn("player: failed to record reaction", "comment_id", r.Comment.ID, "error", err)
		}
	}()
}

// frameLoop is a fixed-interval tick with idempotent start and stop. Each
// start takes a new generation so a callback from a stopped run never ticks.
type frameLoop struct {
	sched    eventloop.Scheduler
	interval time.Duration
	tick     func()

	running    bool
	generation int
	timer      eventloop.Timer
}

func (l *frameLoop) start() {
	if l.running {
		return
	}
	l.running = true
	l.generation++
	l.schedule(l.generation)
}

func (l *frameLoop) stop() {
	if !l.running {
		return
	}
	l.running = false
	l.generation++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *frameLoop) schedule(gen int) {
	l.timer = l.sched.AfterFunc(l.interval, func() {
		if !l.running || gen != l.generation {
			return
		}
		l.timer = nil
		l.tick()
		if l.running && gen == l.generation {
			l.schedule(gen)
		}
	})
}

// FormatElapsed renders "mm:ss / mm:ss", switching to h:mm:ss once the
// duration reaches an hour.
func FormatElapsed(pos, duration time.Duration) string {
	hours := duration >= time.Hour
	return formatClock(pos, hours) + " / " + formatClock(duration, hours)
}

func formatClock(d time.Duration, hours bool) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, total/60%60, total%60
	if hours {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", total/60, s)
}
