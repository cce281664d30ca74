package main

import (
	"fmt"
	"log/slog"

	"github.com/i474232898/weather-radar-loop/internal/config"
	"github.com/i474232898/weather-radar-loop/internal/geo"
	"github.com/i474232898/weather-radar-loop/internal/layers"
	"github.com/i474232898/weather-radar-loop/internal/radar"
	"github.com/i474232898/weather-radar-loop/internal/radar/providers"
	"github.com/i474232898/weather-radar-loop/internal/widget"
)

// newProvider builds the upstream client for one widget.
func newProvider(w config.WidgetConfig, httpCfg providers.HTTPClientConfig) (radar.Provider, error) {
	switch w.Provider {
	case config.ProviderRainViewer:
		return providers.NewRainViewerProvider(httpCfg, providers.RainViewerOptions{
			ManifestURL: w.RainViewer.ManifestURL,
			ColorScheme: w.RainViewer.ColorScheme,
			Smooth:      w.RainViewer.Smooth,
			Snow:        w.RainViewer.Snow,
		}), nil
	case config.ProviderWMTS:
		return providers.NewWMTSProvider(httpCfg, providers.WMTSOptions{
			BaseURL:         w.WMTS.BaseURL,
			Layer:           w.WMTS.Layer,
			TileMatrixSet:   w.WMTS.TileMatrixSet,
			CapabilitiesURL: w.WMTS.CapabilitiesURL,
			Interval:        w.WMTS.Interval,
			FrameCount:      w.FrameCount,
			Matrix:          w.WMTS.TileMatrix(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", w.Provider)
	}
}

func widgetOptions(w config.WidgetConfig, cfg *config.Config) widget.Options {
	return widget.Options{
		Name:       w.Name,
		FrameCount: w.FrameCount,
		Playback: radar.PlaybackConfig{
			FrameDelay:   w.FrameDelay,
			RestartDelay: w.RestartDelay,
		},
		Refresh: radar.RefreshPolicy{
			SafetyMargin: w.SafetyMargin,
			MinimumDelay: w.MinimumDelay,
		},
		Opacity:     w.Opacity,
		PollTimeout: cfg.HTTP.Timeout * 3,
	}
}

// buildDefinitions turns the configured widgets into mountable definitions,
// geocoding any centre given only by city.
func buildDefinitions(cfg *config.Config, httpCfg providers.HTTPClientConfig, logger *slog.Logger) ([]widget.Definition, error) {
	var coder geo.Geocoder
	if cfg.Geocoder.APIKey != "" {
		coder = geo.GoogleGeocoder{APIKey: cfg.Geocoder.APIKey}
	}

	defs := make([]widget.Definition, 0, len(cfg.Widgets))
	for _, w := range cfg.Widgets {
		w := w
		lat, lon, err := geo.Resolve(w.Center, coder)
		if err != nil {
			return nil, fmt.Errorf("widget %s: %w", w.Name, err)
		}
		logger.Debug("widget centre resolved", "widget", w.Name, "lat", lat, "lon", lon)

		defs = append(defs, widget.Definition{
			Options: widgetOptions(w, cfg),
			Home: layers.Viewport{
				Lat:    lat,
				Lon:    lon,
				Zoom:   w.Zoom,
				Radius: w.Radius,
			},
			NewProvider: func() (radar.Provider, error) {
				return newProvider(w, httpCfg)
			},
		})
	}
	return defs, nil
}

func httpConfig(cfg *config.Config) providers.HTTPClientConfig {
	httpCfg := providers.DefaultHTTPConfig(providers.NewHTTPClient(cfg.HTTP.Timeout))
	httpCfg.Backoff.MaxRetries = cfg.HTTP.MaxRetries
	return httpCfg
}
