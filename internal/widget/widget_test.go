package widget

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/i474232898/weather-radar-loop/internal/layers"
	"github.com/i474232898/weather-radar-loop/internal/logging"
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	target := c.now.Add(d)
	for {
		p := c.pending()
		if len(p) == 0 || p[0].at.After(target) {
			break
		}
		t := p[0]
		c.now = t.at
		t.fired = true
		t.fn()
	}
	c.now = target
}

// inline runs tasks on the caller's goroutine.
type inline struct{}

func (inline) Post(fn func()) bool {
	fn()
	return true
}

type result struct {
	snap radar.Snapshot
	err  error
}

// scripted returns queued results in order, then repeats the last.
type scripted struct {
	results []result
	calls   int
}

func (p *scripted) Name() string { return "scripted" }

func (p *scripted) FetchSnapshot(context.Context) (radar.Snapshot, error) {
	i := min(p.calls, len(p.results)-1)
	p.calls++
	return p.results[i].snap, p.results[i].err
}

func (p *scripted) BuildTileSources(f radar.Frame) []radar.TileSource {
	return []radar.TileSource{{FrameID: f.ID, Scheme: "xyz", URLTemplate: "https://t/" + f.ID + "/{z}/{x}/{y}"}}
}

func (p *scripted) PublicationInterval() time.Duration { return 10 * time.Minute }

// framesUntil returns n frames 10 minutes apart ending at newest.
func framesUntil(newest time.Time, n int) []radar.Frame {
	out := make([]radar.Frame, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, radar.NewFrame(newest.Add(-time.Duration(i)*10*time.Minute), "test"))
	}
	return out
}

func ok(frames []radar.Frame) result { return result{snap: radar.NewSnapshot(frames)} }

type harness struct {
	clock    *fakeClock
	provider *scripted
	registry *layers.Registry
	widget   *Widget
	spawned  []func()
}

func newHarness(t *testing.T, capacity int, deferred bool, results ...result) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: base},
		provider: &scripted{results: results},
		registry: layers.NewRegistry(nil, layers.Viewport{Zoom: 3}, logging.NullLogger()),
	}
	spawn := func(fn func()) { fn() }
	if deferred {
		spawn = func(fn func()) { h.spawned = append(h.spawned, fn) }
	}
	h.widget = New(Options{Name: "test", FrameCount: capacity}, h.provider, h.registry, logging.NullLogger(),
		WithClock(h.clock), WithExecutor(inline{}), WithSpawner(spawn))
	return h
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	s, ok := h.widget.State()
	if !ok {
		t.Fatalf("widget state unavailable")
	}
	return s
}

func visibleLayers(r *layers.Registry) []layers.LayerInfo {
	var out []layers.LayerInfo
	for _, l := range r.Layers() {
		if l.Opacity > 0 {
			out = append(out, l)
		}
	}
	return out
}

func TestFirstPollReplacesAndSchedulesNext(t *testing.T) {
	newest := base.Add(-2 * time.Minute)
	h := newHarness(t, 3, false, ok(framesUntil(newest, 5)))

	h.widget.Start()
	h.clock.Advance(0)

	s := h.state(t)
	if len(s.Frames) != 3 || s.Visible != 2 || !s.Refresh.Initialized {
		t.Fatalf("unexpected state after first poll: %+v", s)
	}
	if s.Playback.Phase != radar.PhasePausedBeforeRestart {
		t.Fatalf("expected pause on the newest frame, got %v", s.Playback.Phase)
	}
	if want := base.Add(8*time.Minute + 30*time.Second); !s.NextPoll.Equal(want) {
		t.Fatalf("expected next poll at %v, got %v", want, s.NextPoll)
	}
	if n := len(h.registry.Layers()); n != 3 {
		t.Fatalf("expected 3 layers, got %d", n)
	}
	vis := visibleLayers(h.registry)
	if len(vis) != 1 || vis[0].FrameID != s.Frames[2].ID {
		t.Fatalf("expected newest frame visible, got %+v", vis)
	}
}

func TestPlaybackAdvancesWithTimers(t *testing.T) {
	h := newHarness(t, 3, false, ok(framesUntil(base, 3)))
	h.widget.Start()
	h.clock.Advance(0)

	h.clock.Advance(radar.DefaultRestartDelay)
	if s := h.state(t); s.Visible != 0 || s.Playback.Phase != radar.PhasePlaying {
		t.Fatalf("expected restart at frame 0, got %+v", s.Playback)
	}
	h.clock.Advance(radar.DefaultFrameDelay)
	if s := h.state(t); s.Visible != 1 {
		t.Fatalf("expected frame 1, got %d", s.Visible)
	}
	h.clock.Advance(radar.DefaultFrameDelay)
	s := h.state(t)
	if s.Visible != 2 || s.Playback.Phase != radar.PhasePausedBeforeRestart {
		t.Fatalf("expected pause on frame 2, got %+v", s.Playback)
	}
	vis := visibleLayers(h.registry)
	if len(vis) != 1 || vis[0].FrameID != s.Frames[2].ID {
		t.Fatalf("expected only frame 2 visible, got %+v", vis)
	}
}

func TestFailuresBackOffThenRecover(t *testing.T) {
	boom := errors.New("upstream down")
	h := newHarness(t, 3, false,
		result{err: boom},
		result{err: boom},
		result{err: boom},
		ok(framesUntil(base, 3)),
	)
	h.widget.Start()
	h.clock.Advance(0)

	s := h.state(t)
	if s.Refresh.Retries != 1 || s.LastError == "" || len(s.Frames) != 0 {
		t.Fatalf("unexpected state after first failure: %+v", s)
	}
	if !s.NextPoll.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("expected retry in 5s, got %v", s.NextPoll.Sub(base))
	}

	h.clock.Advance(5 * time.Second)
	s = h.state(t)
	if s.Refresh.Retries != 2 || !s.NextPoll.Equal(base.Add(15*time.Second)) {
		t.Fatalf("expected second retry 10s later, got retries=%d next=%v", s.Refresh.Retries, s.NextPoll.Sub(base))
	}

	h.clock.Advance(10 * time.Second)
	h.clock.Advance(20 * time.Second)
	s = h.state(t)
	if h.provider.calls != 4 || len(s.Frames) != 3 || s.Refresh.Retries != 0 || s.LastError != "" {
		t.Fatalf("expected recovery on the fourth poll, got calls=%d state=%+v", h.provider.calls, s)
	}
}

func TestFailureKeepsFramesOnScreen(t *testing.T) {
	h := newHarness(t, 3, false, ok(framesUntil(base, 3)), result{err: errors.New("boom")})
	h.widget.Start()
	h.clock.Advance(0)

	h.clock.Advance(10*time.Minute + 31*time.Second)
	s := h.state(t)
	if len(s.Frames) != 3 || s.Refresh.Retries != 1 || len(h.registry.Layers()) != 3 {
		t.Fatalf("expected frames kept after failure, got %+v", s)
	}
}

func TestMergeSlidesWindowAndLayers(t *testing.T) {
	first := framesUntil(base, 3)
	second := framesUntil(base.Add(10*time.Minute), 4)
	h := newHarness(t, 3, false, ok(first), ok(second))
	h.widget.Start()
	h.clock.Advance(0)

	h.clock.Advance(10*time.Minute + 30*time.Second)
	s := h.state(t)
	if h.provider.calls != 2 {
		t.Fatalf("expected a second poll, got %d", h.provider.calls)
	}
	if len(s.Frames) != 3 || s.Frames[0].ID != first[1].ID || s.Frames[2].ID != second[3].ID {
		t.Fatalf("expected window to slide by one, got %v", s.Frames)
	}
	if s.Visible != 2 {
		t.Fatalf("expected newest visible after merge, got %d", s.Visible)
	}
	for _, l := range h.registry.Layers() {
		if l.FrameID == first[0].ID {
			t.Fatalf("expected evicted frame's layer removed")
		}
	}
	if n := len(h.registry.Layers()); n != 3 {
		t.Fatalf("expected 3 layers, got %d", n)
	}
}

func TestUnchangedSnapshotKeepsPlayback(t *testing.T) {
	frames := framesUntil(base, 3)
	h := newHarness(t, 3, false, ok(frames))
	h.widget.Start()
	h.clock.Advance(0)
	h.clock.Advance(radar.DefaultRestartDelay) // now on frame 0

	handles := h.registry.Layers()
	h.clock.Advance(10*time.Minute + 30*time.Second)

	if h.provider.calls != 2 {
		t.Fatalf("expected a second poll, got %d", h.provider.calls)
	}
	after := h.registry.Layers()
	for i := range handles {
		if handles[i].Handle != after[i].Handle {
			t.Fatalf("expected layers untouched by an empty merge")
		}
	}
}

func TestSinglePollInFlight(t *testing.T) {
	h := newHarness(t, 3, true, ok(framesUntil(base, 3)))
	h.widget.Start()
	h.clock.Advance(0)

	if len(h.spawned) != 1 || !h.state(t).Refresh.InFlight {
		t.Fatalf("expected one poll in flight, got %d", len(h.spawned))
	}

	// Reset during a poll must not start another one.
	h.widget.Reset()
	h.clock.Advance(time.Minute)
	if len(h.spawned) != 1 {
		t.Fatalf("expected no second poll, got %d", len(h.spawned))
	}

	h.spawned[0]()
	s := h.state(t)
	if s.Refresh.InFlight || len(s.Frames) != 3 {
		t.Fatalf("expected poll to complete, got %+v", s)
	}
}

func TestResetReplacesOnNextPoll(t *testing.T) {
	h := newHarness(t, 3, false, ok(framesUntil(base, 3)), ok(framesUntil(base.Add(-time.Hour), 2)))
	h.widget.Start()
	h.clock.Advance(0)

	h.widget.Reset()
	h.clock.Advance(0)

	s := h.state(t)
	if h.provider.calls != 2 || len(s.Frames) != 2 {
		t.Fatalf("expected reset to replace with the older snapshot, got calls=%d frames=%d", h.provider.calls, len(s.Frames))
	}
	if n := len(h.registry.Layers()); n != 2 {
		t.Fatalf("expected 2 layers after replace, got %d", n)
	}
}

func TestStopTearsDown(t *testing.T) {
	h := newHarness(t, 3, true, ok(framesUntil(base, 3)))
	h.widget.Seed(framesUntil(base.Add(-time.Hour), 3))
	if n := len(h.registry.Layers()); n != 3 {
		t.Fatalf("expected seeded layers, got %d", n)
	}

	h.widget.Start()
	h.clock.Advance(0)
	h.widget.Stop()

	if n := len(h.registry.Layers()); n != 0 {
		t.Fatalf("expected no layers after stop, got %d", n)
	}
	if p := h.clock.pending(); len(p) != 0 {
		t.Fatalf("expected no armed timers after stop, got %d", len(p))
	}

	// A fetch finishing after teardown changes nothing.
	h.spawned[0]()
	if n := len(h.registry.Layers()); n != 0 {
		t.Fatalf("expected late poll result ignored, got %d layers", n)
	}
}

func TestSeedIsReplacedByFirstPoll(t *testing.T) {
	h := newHarness(t, 3, false, ok(framesUntil(base, 2)))
	h.widget.Seed(framesUntil(base.Add(-time.Hour), 3))

	s := h.state(t)
	if len(s.Frames) != 3 || s.Refresh.Initialized {
		t.Fatalf("unexpected seeded state %+v", s)
	}

	h.widget.Start()
	h.clock.Advance(0)
	s = h.state(t)
	if len(s.Frames) != 2 || !s.Frames[1].Timestamp.Equal(base) {
		t.Fatalf("expected first poll to replace the seeded frames, got %v", s.Frames)
	}
}

func TestLoopStateAfterStop(t *testing.T) {
	p := &scripted{results: []result{{err: errors.New("offline")}}}
	w := New(Options{Name: "loop", FrameCount: 2}, p, layers.NewRegistry(nil, layers.Viewport{}, nil), logging.NullLogger(),
		WithClock(&fakeClock{now: base}))

	if _, ok := w.State(); !ok {
		t.Fatalf("expected state while running")
	}
	w.Stop()
	if _, ok := w.State(); ok {
		t.Fatalf("expected no state once stopped")
	}
	w.Stop()
}
