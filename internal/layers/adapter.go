package layers

import (
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

// SourceBuilder turns a frame into the tile sources that draw it.
type SourceBuilder interface {
	BuildTileSources(frame radar.Frame) []radar.TileSource
}

// Adapter owns the overlay layers of one widget: zero or more layers per
// frame, created when the frame enters the window and removed when it
// leaves.
type Adapter struct {
	m       Map
	builder SourceBuilder
	opacity float64
	handles map[string][]LayerHandle
	order   []string
}

func NewAdapter(m Map, builder SourceBuilder, opacity float64) *Adapter {
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	return &Adapter{
		m:       m,
		builder: builder,
		opacity: opacity,
		handles: make(map[string][]LayerHandle),
	}
}

// Replace drops every layer and builds new ones for frames.
func (a *Adapter) Replace(frames []radar.Frame) {
	a.Teardown()
	for _, f := range frames {
		a.add(f)
	}
}

// Apply adds layers for added frames and removes those of evicted frames.
func (a *Adapter) Apply(added, evicted []radar.Frame) {
	for _, f := range evicted {
		a.remove(f.ID)
	}
	for _, f := range added {
		a.add(f)
	}
}

// Show makes the layers of frames[visible] opaque at the configured opacity
// and every other layer fully transparent.
func (a *Adapter) Show(frames []radar.Frame, visible int) {
	for i, f := range frames {
		v := 0.0
		if i == visible {
			v = a.opacity
		}
		for _, h := range a.handles[f.ID] {
			a.m.SetOpacity(h, v)
		}
	}
}

// Handles returns the layers of a frame.
func (a *Adapter) Handles(frameID string) []LayerHandle {
	return a.handles[frameID]
}

// Len returns the number of frames with layers.
func (a *Adapter) Len() int { return len(a.handles) }

// Teardown removes every layer.
func (a *Adapter) Teardown() {
	for _, id := range a.order {
		for _, h := range a.handles[id] {
			a.m.RemoveOverlayLayer(h)
		}
	}
	a.handles = make(map[string][]LayerHandle)
	a.order = nil
}

func (a *Adapter) add(f radar.Frame) {
	if _, ok := a.handles[f.ID]; ok {
		return
	}
	sources := a.builder.BuildTileSources(f)
	hs := make([]LayerHandle, 0, len(sources))
	for _, src := range sources {
		h := a.m.AddOverlayLayer("radar-"+f.ID+"-"+src.Scheme, src)
		a.m.SetOpacity(h, 0)
		hs = append(hs, h)
	}
	a.handles[f.ID] = hs
	a.order = append(a.order, f.ID)
}

func (a *Adapter) remove(id string) {
	hs, ok := a.handles[id]
	if !ok {
		return
	}
	for _, h := range hs {
		a.m.RemoveOverlayLayer(h)
	}
	delete(a.handles, id)
	for i, o := range a.order {
		if o == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}
