package radar

import (
	"fmt"
	"time"
)

// PlaybackPhase is the state of the frame animation.
type PlaybackPhase int

const (
	PhaseIdle PlaybackPhase = iota
	PhasePlaying
	PhasePausedBeforeRestart
)

func (p PlaybackPhase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhasePausedBeforeRestart:
		return "paused-before-restart"
	default:
		return "idle"
	}
}

// MarshalText lets the phase appear by name in JSON.
func (p PlaybackPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PlaybackPhase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "playing":
		*p = PhasePlaying
	case "paused-before-restart":
		*p = PhasePausedBeforeRestart
	default:
		return fmt.Errorf("unknown playback phase %q", b)
	}
	return nil
}

// Default playback delays.
const (
	DefaultFrameDelay   = 250 * time.Millisecond
	DefaultRestartDelay = 1 * time.Second
)

// PlaybackConfig holds the two delays of the animation loop.
type PlaybackConfig struct {
	FrameDelay   time.Duration
	RestartDelay time.Duration
}

// WithDefaults fills unset delays.
func (c PlaybackConfig) WithDefaults() PlaybackConfig {
	if c.FrameDelay <= 0 {
		c.FrameDelay = DefaultFrameDelay
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	return c
}

// PlaybackState is the animation position.
type PlaybackState struct {
	Phase PlaybackPhase `json:"phase"`
	Index int           `json:"index"`
}

// PlaybackEffect tells the caller what to do after a transition: show the
// frame at Show and, when Arm is set, arm the single frame timer for Delay.
type PlaybackEffect struct {
	Show  int
	Arm   bool
	Delay time.Duration
}

// Tick handles a frame timer fire for a window of length frames.
func (c PlaybackConfig) Tick(s PlaybackState, length int) (PlaybackState, PlaybackEffect) {
	if length <= 1 {
		return c.Resync(s, length, max(length-1, 0))
	}
	next := (s.Index + 1) % length
	return c.at(next, length)
}

// Resync re-derives the state after the window changed underneath the
// animation. index is the window's visible index.
func (c PlaybackConfig) Resync(_ PlaybackState, length, index int) (PlaybackState, PlaybackEffect) {
	if length <= 0 {
		return PlaybackState{Phase: PhaseIdle}, PlaybackEffect{Show: -1}
	}
	index = min(max(index, 0), length-1)
	if length == 1 {
		return PlaybackState{Phase: PhaseIdle, Index: index}, PlaybackEffect{Show: index}
	}
	return c.at(index, length)
}

func (c PlaybackConfig) at(index, length int) (PlaybackState, PlaybackEffect) {
	c = c.WithDefaults()
	if index == length-1 {
		return PlaybackState{Phase: PhasePausedBeforeRestart, Index: index},
			PlaybackEffect{Show: index, Arm: true, Delay: c.RestartDelay}
	}
	return PlaybackState{Phase: PhasePlaying, Index: index},
		PlaybackEffect{Show: index, Arm: true, Delay: c.FrameDelay}
}
