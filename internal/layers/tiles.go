package layers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/i474232898/weather-radar-loop/internal/radar"
)

// TileLoader fetches one upstream image. The image is not decoded or kept.
type TileLoader interface {
	Load(ctx context.Context, url string) error
}

// HTTPLoader loads images with a plain GET and discards the body.
type HTTPLoader struct {
	Client *http.Client
}

func (l HTTPLoader) Load(ctx context.Context, url string) error {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tile %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// CompositeTile is a viewer tile assembled from upstream images, each placed
// at its pixel offset.
type CompositeTile struct {
	Address radar.TileAddress `json:"address"`
	Images  []radar.TileImage `json:"images"`
	Failed  int               `json:"failed"`
}

// TileFactory builds composite tiles for the map, one per viewer tile.
type TileFactory struct {
	loader TileLoader
}

func NewTileFactory(loader TileLoader) *TileFactory {
	return &TileFactory{loader: loader}
}

// CreateTile lays out the images of src that cover t and starts loading
// them. done runs once, after every image has loaded or failed; failures
// only leave a blank patch in the tile.
func (f *TileFactory) CreateTile(ctx context.Context, src radar.TileSource, t radar.TileAddress, done func(CompositeTile)) CompositeTile {
	tile := CompositeTile{Address: t, Images: src.Images(t)}
	if len(tile.Images) == 0 || f.loader == nil {
		if done != nil {
			done(tile)
		}
		return tile
	}

	go func() {
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			failed int
		)
		for _, img := range tile.Images {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				if err := f.loader.Load(ctx, u); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}(img.URL)
		}
		wg.Wait()

		if done != nil {
			result := tile
			result.Failed = failed
			done(result)
		}
	}()
	return tile
}
