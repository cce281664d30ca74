package layers

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/i474232898/weather-radar-loop/internal/radar"
)

// LayerHandle identifies a live overlay layer.
type LayerHandle string

// Map is the rendering collaborator the adapter draws through.
type Map interface {
	AddOverlayLayer(id string, src radar.TileSource) LayerHandle
	SetOpacity(h LayerHandle, v float64)
	RemoveOverlayLayer(h LayerHandle)
}

// Viewport is the part of the map on screen: the tiles within Radius of the
// tile holding the centre.
type Viewport struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Zoom   int     `json:"zoom"`
	Radius int     `json:"radius"`
}

// Tiles lists the viewer tiles in view, row by row.
func (v Viewport) Tiles() []radar.TileAddress {
	center := radar.TileForLonLat(v.Lon, v.Lat, v.Zoom)
	limit := 1<<v.Zoom - 1
	var tiles []radar.TileAddress
	for row := max(center.Row-v.Radius, 0); row <= min(center.Row+v.Radius, limit); row++ {
		for col := max(center.Col-v.Radius, 0); col <= min(center.Col+v.Radius, limit); col++ {
			tiles = append(tiles, radar.TileAddress{Zoom: v.Zoom, Col: col, Row: row})
		}
	}
	return tiles
}

// LayerInfo is a read-only view of a layer.
type LayerInfo struct {
	Handle     LayerHandle `json:"handle"`
	ID         string      `json:"id"`
	FrameID    string      `json:"frameId"`
	Scheme     string      `json:"scheme"`
	Opacity    float64     `json:"opacity"`
	Tiles      int         `json:"tiles"`
	ReadyTiles int         `json:"readyTiles"`
	seq        uint64
}

type layer struct {
	info   LayerInfo
	source radar.TileSource
	cancel context.CancelFunc
}

// Registry is an in-process Map. It keeps layer state for API clients and
// drives the tile factory for every tile in the viewport.
type Registry struct {
	mu       sync.RWMutex
	layers   map[LayerHandle]*layer
	viewport Viewport
	factory  *TileFactory
	seq      uint64
	logger   *slog.Logger
}

func NewRegistry(factory *TileFactory, viewport Viewport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		layers:   make(map[LayerHandle]*layer),
		viewport: viewport,
		factory:  factory,
		logger:   logger,
	}
}

func (r *Registry) AddOverlayLayer(id string, src radar.TileSource) LayerHandle {
	h := LayerHandle(uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.seq++
	l := &layer{
		info: LayerInfo{
			Handle:  h,
			ID:      id,
			FrameID: src.FrameID,
			Scheme:  src.Scheme,
			seq:     r.seq,
		},
		source: src,
		cancel: cancel,
	}
	r.layers[h] = l
	vp := r.viewport
	r.mu.Unlock()

	r.render(ctx, h, src, vp)
	return h
}

func (r *Registry) SetOpacity(h LayerHandle, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.layers[h]; ok {
		l.info.Opacity = min(max(v, 0), 1)
	}
}

func (r *Registry) RemoveOverlayLayer(h LayerHandle) {
	r.mu.Lock()
	l, ok := r.layers[h]
	delete(r.layers, h)
	r.mu.Unlock()
	if ok {
		l.cancel()
	}
}

// Layers returns every live layer in insertion order.
func (r *Registry) Layers() []LayerInfo {
	r.mu.RLock()
	out := make([]LayerInfo, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Source returns the tile source behind a handle.
func (r *Registry) Source(h LayerHandle) (radar.TileSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[h]
	if !ok {
		return radar.TileSource{}, false
	}
	return l.source, true
}

// Viewport returns the current viewport.
func (r *Registry) Viewport() Viewport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewport
}

// SetViewport moves the map and re-renders every layer for the new tiles.
func (r *Registry) SetViewport(vp Viewport) {
	type pending struct {
		h   LayerHandle
		src radar.TileSource
		ctx context.Context
	}

	r.mu.Lock()
	r.viewport = vp
	var work []pending
	for h, l := range r.layers {
		l.cancel()
		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		l.info.Tiles = 0
		l.info.ReadyTiles = 0
		work = append(work, pending{h: h, src: l.source, ctx: ctx})
	}
	r.mu.Unlock()

	for _, p := range work {
		r.render(p.ctx, p.h, p.src, vp)
	}
}

func (r *Registry) render(ctx context.Context, h LayerHandle, src radar.TileSource, vp Viewport) {
	if r.factory == nil {
		return
	}
	tiles := vp.Tiles()

	r.mu.Lock()
	if l, ok := r.layers[h]; ok {
		l.info.Tiles = len(tiles)
	}
	r.mu.Unlock()

	for _, t := range tiles {
		t := t
		r.factory.CreateTile(ctx, src, t, func(ct CompositeTile) {
			if ct.Failed > 0 {
				r.logger.Debug("tile partially loaded", "component", "layers", "layer", h, "z", t.Zoom, "x", t.Col, "y", t.Row, "failed", ct.Failed)
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			// A cancelled context means the viewport moved or the layer left.
			if ctx.Err() != nil {
				return
			}
			if l, ok := r.layers[h]; ok {
				l.info.ReadyTiles++
			}
		})
	}
}
