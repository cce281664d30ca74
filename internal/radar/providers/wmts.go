package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-radar-loop/internal/radar"
)

const (
	SchemeComposite = "wmts"

	// wmtsTimeLayout is minute precision without seconds; the upstream
	// rejects anything else.
	wmtsTimeLayout = "2006-01-02T15:04Z"

	defaultWMTSInterval = 5 * time.Minute
	defaultWMTSFrames   = 12
	maxProbeSteps       = 3

	// pixelSize is the OGC standardized rendering pixel size in metres.
	pixelSize = 0.00028
)

// WMTSOptions configures a provider whose tile matrix does not line up with
// the viewer's grid.
type WMTSOptions struct {
	BaseURL         string
	Layer           string
	TileMatrixSet   string
	CapabilitiesURL string
	Interval        time.Duration
	FrameCount      int
	Matrix          radar.TileMatrix
}

// WMTSProvider discovers frames by quantizing the clock to the publication
// interval and probing for the newest instant that is actually served.
type WMTSProvider struct {
	name    string
	opts    WMTSOptions
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time

	mu     sync.RWMutex
	matrix radar.TileMatrix
}

func NewWMTSProvider(httpCfg HTTPClientConfig, opts WMTSOptions) *WMTSProvider {
	if opts.Interval <= 0 {
		opts.Interval = defaultWMTSInterval
	}
	if opts.FrameCount <= 0 {
		opts.FrameCount = defaultWMTSFrames
	}
	return &WMTSProvider{
		name:    "wmts",
		opts:    opts,
		httpCfg: httpCfg,
		circuit: newBreaker("wmts"),
		now:     time.Now,
		matrix:  opts.Matrix,
	}
}

func (p *WMTSProvider) Name() string {
	return p.name
}

func (p *WMTSProvider) PublicationInterval() time.Duration {
	return p.opts.Interval
}

// Matrix returns the tile matrix currently in use.
func (p *WMTSProvider) Matrix() radar.TileMatrix {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matrix
}

// Quantize truncates t to the provider's publication interval.
func (p *WMTSProvider) Quantize(t time.Time) time.Time {
	return t.UTC().Truncate(p.opts.Interval)
}

func (p *WMTSProvider) FetchSnapshot(ctx context.Context) (radar.Snapshot, error) {
	if err := p.ensureMatrix(ctx); err != nil {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: err}
	}

	newest, err := p.probeNewest(ctx)
	if err != nil {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: err}
	}

	frames := make([]radar.Frame, 0, p.opts.FrameCount)
	start := newest.Add(-time.Duration(p.opts.FrameCount-1) * p.opts.Interval)
	for ts := start; !ts.After(newest); ts = ts.Add(p.opts.Interval) {
		frames = append(frames, radar.NewFrame(ts, ts.Format(wmtsTimeLayout)))
	}
	return radar.NewSnapshot(frames), nil
}

// probeNewest walks back from the current quantized instant until a tile
// request for that instant succeeds.
func (p *WMTSProvider) probeNewest(ctx context.Context) (time.Time, error) {
	matrix := p.Matrix()
	zooms := matrix.Zooms()
	if len(zooms) == 0 {
		return time.Time{}, fmt.Errorf("tile matrix has no zoom levels")
	}
	entry := matrix[zooms[0]]
	ident := matrixIdentifier(zooms[0], entry)

	candidate := p.Quantize(p.now())
	var lastErr error
	for step := 0; step < maxProbeSteps; step++ {
		u := p.tileURL(ident, 0, 0, candidate.Format(wmtsTimeLayout))
		_, err := fetch(ctx, p.httpCfg, p.circuit, u)
		if err == nil {
			return candidate, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		candidate = candidate.Add(-p.opts.Interval)
	}
	return time.Time{}, fmt.Errorf("no published instant found: %w", lastErr)
}

func (p *WMTSProvider) ensureMatrix(ctx context.Context) error {
	if len(p.Matrix()) > 0 {
		return nil
	}
	if p.opts.CapabilitiesURL == "" {
		return fmt.Errorf("no tile matrix configured and no capabilities url")
	}

	resp, err := fetch(ctx, p.httpCfg, p.circuit, p.opts.CapabilitiesURL)
	if err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}
	matrix, err := ParseCapabilities(resp.Body, p.opts.TileMatrixSet)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.matrix = matrix
	p.mu.Unlock()
	return nil
}

// BuildTileSources returns one composite layer for frame.
func (p *WMTSProvider) BuildTileSources(frame radar.Frame) []radar.TileSource {
	return []radar.TileSource{{
		FrameID:   frame.ID,
		Scheme:    SchemeComposite,
		Composite: &wmtsComposite{provider: p, time: frame.SourceRef},
	}}
}

func (p *WMTSProvider) tileURL(matrix string, row, col int, ts string) string {
	q := url.Values{}
	q.Set("SERVICE", "WMTS")
	q.Set("REQUEST", "GetTile")
	q.Set("VERSION", "1.0.0")
	q.Set("LAYER", p.opts.Layer)
	q.Set("STYLE", "default")
	q.Set("FORMAT", "image/png")
	q.Set("TILEMATRIXSET", p.opts.TileMatrixSet)
	q.Set("TILEMATRIX", matrix)
	q.Set("TILEROW", strconv.Itoa(row))
	q.Set("TILECOL", strconv.Itoa(col))
	q.Set("TIME", ts)

	sep := "?"
	if strings.Contains(p.opts.BaseURL, "?") {
		sep = "&"
	}
	return p.opts.BaseURL + sep + q.Encode()
}

func matrixIdentifier(zoom int, e radar.TileMatrixEntry) string {
	if e.Identifier != "" {
		return e.Identifier
	}
	return strconv.Itoa(zoom)
}

type wmtsComposite struct {
	provider *WMTSProvider
	time     string
}

// Compose places every overlapping provider tile inside viewer tile t.
func (c *wmtsComposite) Compose(t radar.TileAddress) []radar.TileImage {
	matrix := c.provider.Matrix()
	entry, ok := matrix[t.Zoom]
	if !ok {
		return nil
	}
	size := radar.ProviderTileSize(t.Zoom, entry)
	ident := matrixIdentifier(t.Zoom, entry)

	tiles := radar.OverlappingTiles(t, entry)
	images := make([]radar.TileImage, 0, len(tiles))
	for _, pt := range tiles {
		images = append(images, radar.TileImage{
			URL:     c.provider.tileURL(ident, pt.Row, pt.Col, c.time),
			OffsetX: pt.OffsetX,
			OffsetY: pt.OffsetY,
			Size:    size,
		})
	}
	return images
}

type capabilities struct {
	Contents struct {
		TileMatrixSets []struct {
			Identifier   string `xml:"Identifier"`
			TileMatrices []struct {
				Identifier       string  `xml:"Identifier"`
				ScaleDenominator float64 `xml:"ScaleDenominator"`
				TopLeftCorner    string  `xml:"TopLeftCorner"`
				TileWidth        int     `xml:"TileWidth"`
				MatrixWidth      int     `xml:"MatrixWidth"`
				MatrixHeight     int     `xml:"MatrixHeight"`
			} `xml:"TileMatrix"`
		} `xml:"TileMatrixSet"`
	} `xml:"Contents"`
}

// ParseCapabilities extracts the named tile matrix set from a WMTS
// GetCapabilities document and keys each matrix by the viewer zoom whose
// tile span is closest to it.
func ParseCapabilities(doc []byte, set string) (radar.TileMatrix, error) {
	var caps capabilities
	if err := xml.Unmarshal(doc, &caps); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}

	for _, tms := range caps.Contents.TileMatrixSets {
		if set != "" && tms.Identifier != set {
			continue
		}
		matrix := make(radar.TileMatrix, len(tms.TileMatrices))
		for _, tm := range tms.TileMatrices {
			width := tm.TileWidth
			if width <= 0 {
				width = radar.TileSize
			}
			span := tm.ScaleDenominator * pixelSize * float64(width)
			if span <= 0 {
				continue
			}
			x, y, err := parseCorner(tm.TopLeftCorner)
			if err != nil {
				return nil, fmt.Errorf("matrix %s: %w", tm.Identifier, err)
			}

			zoom := int(math.Round(math.Log2(2 * radar.HalfWorldCircumference / span)))
			if zoom < 0 {
				continue
			}
			entry := radar.TileMatrixEntry{
				Identifier: tm.Identifier,
				OriginX:    x,
				OriginY:    y,
				Cols:       tm.MatrixWidth,
				Rows:       tm.MatrixHeight,
			}
			if math.Abs(span-radar.Span(zoom))/radar.Span(zoom) > 0.001 {
				entry.TileSpan = span
			}
			matrix[zoom] = entry
		}
		if len(matrix) == 0 {
			return nil, fmt.Errorf("tile matrix set %q has no usable matrices", tms.Identifier)
		}
		return matrix, nil
	}
	return nil, fmt.Errorf("tile matrix set %q not found", set)
}

func parseCorner(s string) (float64, float64, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid TopLeftCorner %q", s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
