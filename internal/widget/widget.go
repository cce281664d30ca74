package widget

import (
	"context"
	"log/slog"
	"time"

	"github.com/i474232898/weather-radar-loop/internal/layers"
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

// Options configures one widget. Changing any of them requires a rebuild.
type Options struct {
	Name        string
	FrameCount  int
	Playback    radar.PlaybackConfig
	Refresh     radar.RefreshPolicy
	Opacity     float64
	PollTimeout time.Duration
}

// State is a point-in-time copy of a widget for readers off the loop.
type State struct {
	Name      string              `json:"name"`
	Provider  string              `json:"provider"`
	Capacity  int                 `json:"capacity"`
	Frames    []radar.Frame       `json:"frames"`
	Visible   int                 `json:"visibleIndex"`
	Playback  radar.PlaybackState `json:"playback"`
	Refresh   radar.RefreshState  `json:"refresh"`
	LastPoll  time.Time           `json:"lastPoll,omitempty"`
	NextPoll  time.Time           `json:"nextPoll,omitempty"`
	LastError string              `json:"lastError,omitempty"`
}

// VisibleFrame returns the frame on screen.
func (s State) VisibleFrame() (radar.Frame, bool) {
	if s.Visible < 0 || s.Visible >= len(s.Frames) {
		return radar.Frame{}, false
	}
	return s.Frames[s.Visible], true
}

// Option customises how a widget is driven. Tests use these to run the
// widget without real time or goroutines.
type Option func(*Widget)

func WithClock(c Clock) Option { return func(w *Widget) { w.clock = c } }

func WithExecutor(e Executor) Option { return func(w *Widget) { w.exec = e } }

// WithSpawner replaces the goroutine used for network fetches.
func WithSpawner(spawn func(func())) Option { return func(w *Widget) { w.spawn = spawn } }

type armed struct {
	timer Timer
	token uint64
}

// Widget animates the frames of one provider. It combines a frame window,
// the playback and refresh state machines and the layer adapter, and runs
// all of them on one executor.
type Widget struct {
	opts     Options
	provider radar.Provider
	adapter  *layers.Adapter
	clock    Clock
	exec     Executor
	loop     *Loop
	spawn    func(func())
	logger   *slog.Logger

	window   *radar.FrameWindow
	playback radar.PlaybackState
	refresh  radar.RefreshState
	policy   radar.RefreshPolicy
	player   radar.PlaybackConfig

	tokens     uint64
	frameTimer armed
	pollTimer  armed
	pollToken  uint64
	cancelPoll context.CancelFunc

	lastPoll  time.Time
	nextPoll  time.Time
	lastError string
	stopped   bool
}

// New builds a stopped widget drawing onto m.
func New(opts Options, provider radar.Provider, m layers.Map, logger *slog.Logger, options ...Option) *Widget {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	policy := opts.Refresh
	if policy.PublicationInterval <= 0 {
		policy.PublicationInterval = provider.PublicationInterval()
	}

	w := &Widget{
		opts:     opts,
		provider: provider,
		adapter:  layers.NewAdapter(m, provider, opts.Opacity),
		clock:    RealClock,
		spawn:    func(fn func()) { go fn() },
		logger:   logger.With("component", "widget", "widget", opts.Name, "provider", provider.Name()),
		window:   radar.NewFrameWindow(opts.FrameCount),
		policy:   policy.WithDefaults(),
		player:   opts.Playback.WithDefaults(),
	}
	for _, o := range options {
		o(w)
	}
	if w.exec == nil {
		w.loop = NewLoop()
		w.exec = w.loop
	}
	return w
}

// Name returns the widget's name.
func (w *Widget) Name() string { return w.opts.Name }

// Provider returns the upstream the widget draws.
func (w *Widget) Provider() radar.Provider { return w.provider }

// Seed fills the window from previously persisted frames so playback can
// start before the first poll. The first successful poll still replaces the
// window.
func (w *Widget) Seed(frames []radar.Frame) {
	if len(frames) == 0 {
		return
	}
	w.call(func() {
		w.window.ReplaceAll(frames)
		w.adapter.Replace(w.window.Frames())
		w.resync()
		w.logger.Info("window seeded", "frames", w.window.Len())
	})
}

// Start arms the first poll immediately.
func (w *Widget) Start() {
	w.exec.Post(func() {
		if w.stopped {
			return
		}
		w.logger.Info("widget started", "capacity", w.window.Capacity())
		w.armPoll(0)
	})
}

// Reset makes the next successful poll replace the window and polls now
// unless a poll is already running.
func (w *Widget) Reset() {
	w.call(func() {
		w.refresh = w.policy.Reset(w.refresh)
		if !w.refresh.InFlight {
			w.armPoll(0)
		}
	})
}

// State returns a copy of the widget state. ok is false once stopped.
func (w *Widget) State() (s State, ok bool) {
	ok = w.call(func() {
		s = State{
			Name:      w.opts.Name,
			Provider:  w.provider.Name(),
			Capacity:  w.window.Capacity(),
			Frames:    w.window.Frames(),
			Visible:   w.window.Visible(),
			Playback:  w.playback,
			Refresh:   w.refresh,
			LastPoll:  w.lastPoll,
			NextPoll:  w.nextPoll,
			LastError: w.lastError,
		}
	})
	return s, ok
}

// Stop cancels both timers and any running poll and removes every layer.
// No callback runs after Stop returns.
func (w *Widget) Stop() {
	w.call(func() {
		if w.stopped {
			return
		}
		w.stopped = true
		w.stopTimer(&w.frameTimer)
		w.stopTimer(&w.pollTimer)
		w.pollToken++
		if w.cancelPoll != nil {
			w.cancelPoll()
			w.cancelPoll = nil
		}
		w.adapter.Teardown()
		w.logger.Info("widget stopped")
	})
	if w.loop != nil {
		w.loop.Stop()
	}
}

// call runs fn on the executor and waits for it. It reports false when the
// executor stopped before fn ran.
func (w *Widget) call(fn func()) bool {
	done := make(chan struct{})
	if !w.exec.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	var exited <-chan struct{}
	if l, ok := w.exec.(interface{ Done() <-chan struct{} }); ok {
		exited = l.Done()
	}
	select {
	case <-done:
		return true
	case <-exited:
		// Tasks still queued when the loop ended are dropped.
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (w *Widget) arm(slot *armed, d time.Duration, fire func()) {
	w.stopTimer(slot)
	w.tokens++
	token := w.tokens
	slot.token = token
	slot.timer = w.clock.AfterFunc(d, func() {
		w.exec.Post(func() {
			// A superseded or stopped timer may still fire; ignore it.
			if w.stopped || slot.token != token {
				return
			}
			slot.timer = nil
			fire()
		})
	})
}

func (w *Widget) stopTimer(slot *armed) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.token = 0
}

func (w *Widget) armPoll(d time.Duration) {
	w.nextPoll = w.clock.Now().Add(d)
	w.arm(&w.pollTimer, d, w.poll)
}

func (w *Widget) poll() {
	state, ok := w.policy.Begin(w.refresh)
	if !ok {
		return
	}
	w.refresh = state
	w.pollToken++
	token := w.pollToken

	ctx, cancel := context.WithTimeout(context.Background(), w.opts.PollTimeout)
	w.cancelPoll = cancel
	provider := w.provider

	w.spawn(func() {
		snap, err := radar.Poll(ctx, provider)
		w.exec.Post(func() { w.pollDone(token, snap, err) })
	})
}

func (w *Widget) pollDone(token uint64, snap radar.Snapshot, err error) {
	if w.stopped || token != w.pollToken {
		return
	}
	if w.cancelPoll != nil {
		w.cancelPoll()
		w.cancelPoll = nil
	}
	w.lastPoll = w.clock.Now()

	if err != nil {
		state, delay := w.policy.Failed(w.refresh)
		w.refresh = state
		w.lastError = err.Error()
		w.logger.Warn("poll failed; keeping current frames", "error", err, "retries", state.Retries, "retryIn", delay)
		w.armPoll(delay)
		return
	}

	state, mode, delay := w.policy.Succeeded(w.refresh, snap, w.clock.Now())
	w.refresh = state
	w.lastError = ""

	switch mode {
	case radar.ModeReplace:
		w.window.ReplaceAll(snap.Frames)
		w.adapter.Replace(w.window.Frames())
		w.resync()
		w.logger.Info("window replaced", "frames", w.window.Len(), "newest", snap.NewestTimestamp)
	default:
		added, evicted := w.window.MergeAppend(snap.Frames)
		if len(added) > 0 {
			w.adapter.Apply(added, evicted)
			w.resync()
			w.logger.Info("window merged", "added", len(added), "evicted", len(evicted), "newest", snap.NewestTimestamp)
		} else {
			w.logger.Debug("no new frames")
		}
	}
	w.armPoll(delay)
}

// resync re-validates the playback position against the window and
// re-arms the frame timer.
func (w *Widget) resync() {
	state, eff := w.player.Resync(w.playback, w.window.Len(), w.window.Visible())
	w.applyPlayback(state, eff)
}

func (w *Widget) tick() {
	state, eff := w.player.Tick(w.playback, w.window.Len())
	w.applyPlayback(state, eff)
}

func (w *Widget) applyPlayback(state radar.PlaybackState, eff radar.PlaybackEffect) {
	w.playback = state
	if eff.Show >= 0 {
		w.window.SetVisible(eff.Show)
		w.adapter.Show(w.window.Frames(), eff.Show)
	}
	if eff.Arm {
		w.arm(&w.frameTimer, eff.Delay, w.tick)
	} else {
		w.stopTimer(&w.frameTimer)
	}
}
