// Package media provides a simulated media engine for hosts without a real
// video element, such as the terminal player.
package media

import (
	"time"

	"github.com/sendrec/danmaku/internal/eventloop"
)

// Listener receives playback transitions, the way a page listens to video
// element events.
type Listener interface {
	HandlePlaying()
	HandlePaused()
	HandleWaiting()
	HandleSeeked()
	HandleEnded()
	HandleCanPlayThrough()
}

// Sim plays an imaginary video of a fixed duration on a scheduler. It must
// only be used from the scheduler's goroutine.
type Sim struct {
	sched    eventloop.Scheduler
	duration time.Duration
	listener Listener

	base      time.Duration
	startedAt time.Time
	rate      float64
	playing   bool
	buffering bool
	volume    float64
	muted     bool

	endTimer   eventloop.Timer
	stallTimer eventloop.Timer
}

// NewSim creates a paused engine at position 0.
func NewSim(sched eventloop.Scheduler, duration time.Duration) *Sim {
	return &Sim{sched: sched, duration: duration, rate: 1, volume: 1}
}

// Attach sets the listener and reports that the media can play through.
func (s *Sim) Attach(l Listener) {
	s.listener = l
	l.HandleCanPlayThrough()
}

func (s *Sim) Duration() time.Duration { return s.duration }
func (s *Sim) Playing() bool           { return s.playing }
func (s *Sim) Buffering() bool         { return s.buffering }
func (s *Sim) Rate() float64           { return s.rate }
func (s *Sim) Volume() float64         { return s.volume }
func (s *Sim) Muted() bool             { return s.muted }

// Position returns the current playback position.
func (s *Sim) Position() time.Duration {
	pos := s.base
	if s.advancing() {
		pos += time.Duration(float64(s.sched.Now().Sub(s.startedAt)) * s.rate)
	}
	if pos > s.duration {
		return s.duration
	}
	return pos
}

// Play starts playback, restarting from 0 if the media has ended.
func (s *Sim) Play() {
	if s.playing {
		return
	}
	if s.base >= s.duration {
		s.base = 0
	}
	s.playing = true
	s.startedAt = s.sched.Now()
	if s.buffering {
		s.emit(Listener.HandleWaiting)
		return
	}
	s.scheduleEnd()
	s.emit(Listener.HandlePlaying)
}

func (s *Sim) Pause() {
	if !s.playing {
		return
	}
	s.rebase()
	s.playing = false
	s.stopEnd()
	s.emit(Listener.HandlePaused)
}

// Seek jumps to pos, clamped to the media.
func (s *Sim) Seek(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	if pos > s.duration {
		pos = s.duration
	}
	s.base = pos
	s.startedAt = s.sched.Now()
	if s.advancing() {
		s.scheduleEnd()
	}
	s.emit(Listener.HandleSeeked)
}

// SetRate changes the playback rate without moving the position.
func (s *Sim) SetRate(rate float64) {
	if rate <= 0 || rate == s.rate {
		return
	}
	s.rebase()
	s.rate = rate
	if s.advancing() {
		s.scheduleEnd()
	}
}

func (s *Sim) SetVolume(v float64) {
	s.volume = min(max(v, 0), 1)
}

func (s *Sim) SetMuted(muted bool) {
	s.muted = muted
}

// Stall simulates the engine running out of data for d. Playback freezes,
// the listener sees HandleWaiting, and playback resumes on its own.
func (s *Sim) Stall(d time.Duration) {
	if s.buffering {
		return
	}
	s.rebase()
	s.buffering = true
	s.stopEnd()
	if s.playing {
		s.emit(Listener.HandleWaiting)
	}
	s.stallTimer = s.sched.AfterFunc(d, s.refill)
}

func (s *Sim) refill() {
	s.stallTimer = nil
	s.buffering = false
	s.startedAt = s.sched.Now()
	if !s.playing {
		return
	}
	s.scheduleEnd()
	s.emit(Listener.HandlePlaying)
}

// Close cancels the engine's timers.
func (s *Sim) Close() {
	s.stopEnd()
	if s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}
}

func (s *Sim) advancing() bool {
	return s.playing && !s.buffering
}

func (s *Sim) rebase() {
	s.base = s.Position()
	s.startedAt = s.sched.Now()
}

func (s *Sim) scheduleEnd() {
	s.stopEnd()
	remaining := time.Duration(float64(s.duration-s.base) / s.rate)
	s.endTimer = s.sched.AfterFunc(remaining, s.end)
}

func (s *Sim) stopEnd() {
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

func (s *Sim) end() {
	s.endTimer = nil
	s.base = s.duration
	s.playing = false
	s.emit(Listener.HandleEnded)
}

func (s *Sim) emit(event func(Listener)) {
	if s.listener != nil {
		event(s.listener)
	}
}
