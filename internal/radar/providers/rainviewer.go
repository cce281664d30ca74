package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-radar-loop/internal/common"
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

const (
	DefaultManifestURL      = "https://api.rainviewer.com/public/weather-maps.json"
	rainViewerInterval      = 10 * time.Minute
	SchemeAligned           = "xyz"
	defaultRainViewerScheme = 2
)

// RainViewerOptions selects the colour scheme and rendering flags baked into
// the tile URL.
type RainViewerOptions struct {
	ManifestURL string
	ColorScheme int
	Smooth      bool
	Snow        bool
}

// RainViewerProvider serves frames published on the standard power-of-two
// grid, discovered through a JSON manifest.
type RainViewerProvider struct {
	name    string
	opts    RainViewerOptions
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewRainViewerProvider(httpCfg HTTPClientConfig, opts RainViewerOptions) *RainViewerProvider {
	if opts.ManifestURL == "" {
		opts.ManifestURL = DefaultManifestURL
	}
	return &RainViewerProvider{
		name:    "rainviewer",
		opts:    opts,
		httpCfg: httpCfg,
		circuit: newBreaker("rainviewer"),
	}
}

func (p *RainViewerProvider) Name() string {
	return p.name
}

func (p *RainViewerProvider) PublicationInterval() time.Duration {
	return rainViewerInterval
}

type manifestFrame struct {
	Time int64  `json:"time"`
	Path string `json:"path"`
}

type manifest struct {
	Host   string          `json:"host"`
	Frames []manifestFrame `json:"frames"`
	Radar  struct {
		Past []manifestFrame `json:"past"`
	} `json:"radar"`
}

func (p *RainViewerProvider) FetchSnapshot(ctx context.Context) (radar.Snapshot, error) {
	resp, err := fetch(ctx, p.httpCfg, p.circuit, p.opts.ManifestURL)
	if err != nil {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: err}
	}
	if resp.ContentType != "" && !common.HasAny(strings.ToLower(resp.ContentType), "json", "javascript", "text/plain") {
		return radar.Snapshot{}, &radar.FetchError{
			Provider: p.name,
			Err:      fmt.Errorf("unexpected manifest content type %q", resp.ContentType),
		}
	}

	var payload manifest
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: fmt.Errorf("malformed manifest: %w", err)}
	}
	if payload.Host == "" {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: fmt.Errorf("malformed manifest: missing host")}
	}

	entries := payload.Frames
	if len(entries) == 0 {
		entries = payload.Radar.Past
	}
	if len(entries) == 0 {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: radar.ErrNoDataAvailable}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time < entries[j].Time })

	host := strings.TrimRight(payload.Host, "/")
	frames := make([]radar.Frame, 0, len(entries))
	for _, e := range entries {
		if e.Time <= 0 || e.Path == "" {
			continue
		}
		if n := len(frames); n > 0 && frames[n-1].Timestamp.Unix() == e.Time {
			continue
		}
		frames = append(frames, radar.NewFrame(time.Unix(e.Time, 0), host+e.Path))
	}
	if len(frames) == 0 {
		return radar.Snapshot{}, &radar.FetchError{Provider: p.name, Err: radar.ErrNoDataAvailable}
	}
	return radar.NewSnapshot(frames), nil
}

// BuildTileSources returns the single slippy-map layer for frame.
// SourceRef already carries the host.
func (p *RainViewerProvider) BuildTileSources(frame radar.Frame) []radar.TileSource {
	return []radar.TileSource{{
		FrameID:     frame.ID,
		Scheme:      SchemeAligned,
		URLTemplate: p.tileTemplate(frame.SourceRef),
	}}
}

func (p *RainViewerProvider) tileTemplate(base string) string {
	scheme := p.opts.ColorScheme
	if scheme < 0 {
		scheme = defaultRainViewerScheme
	}
	return fmt.Sprintf("%s/%d/{z}/{x}/{y}/%d/%d_%d.png", base, radar.TileSize, scheme, boolDigit(p.opts.Smooth), boolDigit(p.opts.Snow))
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewHTTPClient builds the shared outbound client.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
