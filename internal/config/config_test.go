package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "radarloop.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Widgets) != 1 {
		t.Fatalf("expected the default widget, got %d", len(cfg.Widgets))
	}
	w := cfg.Widgets[0]
	if w.Provider != ProviderRainViewer || w.FrameCount != 7 || w.FrameDelay != 250*time.Millisecond || w.Opacity != 0.75 {
		t.Fatalf("unexpected default widget %+v", w)
	}
}

func TestLoadWidgetsFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
store:
  path: /tmp/radar.db
  max_age: 2h
widgets:
  - name: nordic
    provider: wmts
    frame_delay: 400ms
    center:
      city: Oslo
      country: Norway
    zoom: 5
    wmts:
      base_url: https://wmts.example.test/wmts
      layer: radar_precip
      tile_matrix_set: EPSG3857
      matrix:
        - zoom: 5
          identifier: "EPSG3857:5"
          origin_x: -2000000
          origin_y: 9000000
          cols: 10
          rows: 8
          tile_span: 931840
  - name: global
    provider: rainviewer
    frame_count: 10
    center:
      lat: 40.7
      lon: -74
    rainviewer:
      color_scheme: 6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Store.Path != "/tmp/radar.db" || cfg.Store.MaxAge != 2*time.Hour {
		t.Fatalf("unexpected sections %+v %+v", cfg.Server, cfg.Store)
	}
	if len(cfg.Widgets) != 2 {
		t.Fatalf("expected 2 widgets, got %d", len(cfg.Widgets))
	}

	nordic, ok := cfg.Widget("nordic")
	if !ok {
		t.Fatalf("expected nordic widget")
	}
	if nordic.FrameCount != 12 || nordic.FrameDelay != 400*time.Millisecond || nordic.WMTS.Interval != 5*time.Minute {
		t.Fatalf("unexpected wmts defaults %+v", nordic)
	}
	if nordic.Center.Lat != nil || nordic.Center.City != "Oslo" {
		t.Fatalf("expected city centre without inherited coordinates, got %+v", nordic.Center)
	}
	m := nordic.WMTS.TileMatrix()
	if e, ok := m[5]; !ok || e.Identifier != "EPSG3857:5" || e.Cols != 10 || e.TileSpan != 931840 {
		t.Fatalf("unexpected matrix %+v", m)
	}

	global, _ := cfg.Widget("global")
	if global.FrameCount != 10 || global.RainViewer.ColorScheme != 6 || global.Center.Lat == nil || *global.Center.Lat != 40.7 {
		t.Fatalf("unexpected rainviewer widget %+v", global)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RADARLOOP_SERVER_PORT", "7070")
	t.Setenv("RADARLOOP_HTTP_TIMEOUT", "3s")
	t.Setenv("GEOCODER_API_KEY", "secret")

	cfg, err := Load(writeConfig(t, "server:\n  port: \"9000\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.HTTP.Timeout != 3*time.Second || cfg.Geocoder.APIKey != "secret" {
		t.Fatalf("expected env overrides, got %+v %+v %+v", cfg.Server, cfg.HTTP, cfg.Geocoder)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown provider": "widgets:\n  - name: a\n    provider: radarx\n",
		"duplicate names":  "widgets:\n  - name: a\n    provider: rainviewer\n  - name: a\n    provider: rainviewer\n",
		"bad opacity":      "widgets:\n  - name: a\n    provider: rainviewer\n    opacity: 2\n",
		"wmts no layer":    "widgets:\n  - name: a\n    provider: wmts\n    wmts:\n      base_url: https://x.test\n      capabilities_url: https://x.test/caps\n",
		"wmts no matrix":   "widgets:\n  - name: a\n    provider: wmts\n    wmts:\n      base_url: https://x.test\n      layer: l\n      tile_matrix_set: s\n",
		"bad port":         "server:\n  port: http\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected invalid config error, got %v", err)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit config file")
	}
}
