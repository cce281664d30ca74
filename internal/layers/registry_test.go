package layers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-radar-loop/internal/logging"
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

type recordingLoader struct {
	mu   sync.Mutex
	urls []string
	fail string
}

func (l *recordingLoader) Load(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	if l.fail != "" && strings.Contains(url, l.fail) {
		return errors.New("boom")
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestViewportTiles(t *testing.T) {
	vp := Viewport{Lat: 0.1, Lon: 0.1, Zoom: 2, Radius: 1}
	tiles := vp.Tiles()
	if len(tiles) != 9 {
		t.Fatalf("expected 9 tiles, got %d", len(tiles))
	}

	// Clipped at the grid edge.
	corner := Viewport{Lat: 85, Lon: -180, Zoom: 3, Radius: 1}.Tiles()
	if len(corner) != 4 {
		t.Fatalf("expected 4 tiles at the corner, got %d", len(corner))
	}
	if single := (Viewport{Zoom: 0}).Tiles(); len(single) != 1 {
		t.Fatalf("expected a single tile at zoom 0, got %d", len(single))
	}
}

func TestTileFactoryReportsFailures(t *testing.T) {
	loader := &recordingLoader{fail: "/b/"}
	f := NewTileFactory(loader)
	src := radar.TileSource{Composite: composite{
		{URL: "https://x/a/1", OffsetX: 0},
		{URL: "https://x/b/2", OffsetX: 128},
	}}

	done := make(chan CompositeTile, 1)
	tile := f.CreateTile(context.Background(), src, radar.TileAddress{Zoom: 1}, func(ct CompositeTile) { done <- ct })
	if len(tile.Images) != 2 {
		t.Fatalf("expected layout of 2 images, got %+v", tile.Images)
	}

	select {
	case ct := <-done:
		if ct.Failed != 1 {
			t.Fatalf("expected one failed image, got %d", ct.Failed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("done was not called")
	}
}

func TestTileFactoryEmptyTileCompletesImmediately(t *testing.T) {
	called := false
	NewTileFactory(&recordingLoader{}).CreateTile(context.Background(), radar.TileSource{}, radar.TileAddress{}, func(CompositeTile) { called = true })
	if !called {
		t.Fatalf("expected done to run synchronously for an empty tile")
	}
}

type composite []radar.TileImage

func (c composite) Compose(radar.TileAddress) []radar.TileImage { return c }

func TestRegistryTracksLayers(t *testing.T) {
	loader := &recordingLoader{}
	vp := Viewport{Lat: 0.1, Lon: 0.1, Zoom: 2, Radius: 0}
	r := NewRegistry(NewTileFactory(loader), vp, logging.NullLogger())

	src := radar.TileSource{FrameID: "f1", Scheme: "xyz", URLTemplate: "https://t/{z}/{x}/{y}.png"}
	h1 := r.AddOverlayLayer("radar-f1-xyz", src)
	h2 := r.AddOverlayLayer("radar-f2-xyz", radar.TileSource{FrameID: "f2", Scheme: "xyz"})
	r.SetOpacity(h1, 3)

	waitFor(t, func() bool { return r.Layers()[0].ReadyTiles == 1 })

	got := r.Layers()
	if len(got) != 2 || got[0].Handle != h1 || got[1].Handle != h2 {
		t.Fatalf("expected layers in insertion order, got %+v", got)
	}
	if got[0].Opacity != 1 || got[0].Tiles != 1 || got[0].FrameID != "f1" {
		t.Fatalf("unexpected layer info %+v", got[0])
	}
	if s, ok := r.Source(h1); !ok || s.URLTemplate != src.URLTemplate {
		t.Fatalf("expected source for %s", h1)
	}

	loader.mu.Lock()
	first := loader.urls[0]
	loader.mu.Unlock()
	if first != "https://t/2/2/1.png" {
		t.Fatalf("unexpected tile url %s", first)
	}

	r.RemoveOverlayLayer(h2)
	if _, ok := r.Source(h2); ok || len(r.Layers()) != 1 {
		t.Fatalf("expected layer removed")
	}
}

func TestRegistrySetViewportRerenders(t *testing.T) {
	loader := &recordingLoader{}
	r := NewRegistry(NewTileFactory(loader), Viewport{Zoom: 1}, logging.NullLogger())
	r.AddOverlayLayer("radar-f1-xyz", radar.TileSource{FrameID: "f1", Scheme: "xyz", URLTemplate: "https://t/{z}/{x}/{y}.png"})

	home := Viewport{Lat: 0.1, Lon: 0.1, Zoom: 3, Radius: 1}
	NewRecenterControl(r, home).OnActivate()

	if r.Viewport() != home {
		t.Fatalf("expected viewport %+v, got %+v", home, r.Viewport())
	}
	waitFor(t, func() bool {
		l := r.Layers()[0]
		return l.Tiles == 9 && l.ReadyTiles == 9
	})
}

func TestRecenterControlRender(t *testing.T) {
	el := NewRecenterControl(nil, Viewport{}).Render()
	if el.Kind != "button" || el.Title == "" {
		t.Fatalf("unexpected element %+v", el)
	}
}
