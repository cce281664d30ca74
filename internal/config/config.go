package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-radar-loop/internal/geo"
	"github.com/i474232898/weather-radar-loop/internal/logging"
	"github.com/i474232898/weather-radar-loop/internal/radar"
)

// Provider kinds.
const (
	ProviderRainViewer = "rainviewer"
	ProviderWMTS       = "wmts"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   logging.Config  `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Widgets   []WidgetConfig  `mapstructure:"widgets" validate:"required,min=1,unique=Name,dive"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HTTPConfig covers outbound requests to radar providers.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=5"`
}

type StoreConfig struct {
	Path       string        `mapstructure:"path"`        // bolt file; empty keeps frames in memory
	MaxHistory int           `mapstructure:"max_history" validate:"gte=0"`
	MaxAge     time.Duration `mapstructure:"max_age"`
}

type SchedulerConfig struct {
	PersistInterval time.Duration `mapstructure:"persist_interval"`
}

type GeocoderConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// WidgetConfig describes one radar loop. Changing it rebuilds the widget.
type WidgetConfig struct {
	Name         string        `mapstructure:"name" validate:"required,excludesall=/?#"`
	Provider     string        `mapstructure:"provider" validate:"required,oneof=rainviewer wmts"`
	FrameCount   int           `mapstructure:"frame_count" validate:"gte=0,lte=48"`
	FrameDelay   time.Duration `mapstructure:"frame_delay"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	Opacity      float64       `mapstructure:"opacity" validate:"gte=0,lte=1"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	MinimumDelay time.Duration `mapstructure:"minimum_delay"`

	Center geo.Center `mapstructure:"center"`
	Zoom   int        `mapstructure:"zoom" validate:"gte=0,lte=22"`
	Radius int        `mapstructure:"radius" validate:"gte=0,lte=4"`

	RainViewer RainViewerConfig `mapstructure:"rainviewer"`
	WMTS       WMTSConfig       `mapstructure:"wmts"`
}

type RainViewerConfig struct {
	ManifestURL string `mapstructure:"manifest_url" validate:"omitempty,url"`
	ColorScheme int    `mapstructure:"color_scheme" validate:"gte=0,lte=8"`
	Smooth      bool   `mapstructure:"smooth"`
	Snow        bool   `mapstructure:"snow"`
}

type WMTSConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	Layer           string        `mapstructure:"layer"`
	TileMatrixSet   string        `mapstructure:"tile_matrix_set"`
	CapabilitiesURL string        `mapstructure:"capabilities_url" validate:"omitempty,url"`
	Interval        time.Duration `mapstructure:"interval"`
	Matrix          []MatrixEntry `mapstructure:"matrix" validate:"dive"`
}

// MatrixEntry is a TileMatrixEntry keyed by the viewer zoom it serves.
type MatrixEntry struct {
	Zoom                  int `mapstructure:"zoom" validate:"gte=0,lte=22"`
	radar.TileMatrixEntry `mapstructure:",squash"`
}

// TileMatrix converts the configured entries into a lookup by zoom.
func (w WMTSConfig) TileMatrix() radar.TileMatrix {
	if len(w.Matrix) == 0 {
		return nil
	}
	m := make(radar.TileMatrix, len(w.Matrix))
	for _, e := range w.Matrix {
		m[e.Zoom] = e.TileMatrixEntry
	}
	return m
}

// Widget returns the widget with the given name.
func (c *Config) Widget(name string) (WidgetConfig, bool) {
	for _, w := range c.Widgets {
		if w.Name == name {
			return w, true
		}
	}
	return WidgetConfig{}, false
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	lat, lon := 51.5074, -0.1278
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 1,
		},
		Logging: logging.Config{Level: "INFO"},
		Store: StoreConfig{
			MaxHistory: 48,
			MaxAge:     3 * time.Hour,
		},
		Scheduler: SchedulerConfig{PersistInterval: time.Minute},
		Widgets: []WidgetConfig{{
			Name:     "rainviewer",
			Provider: ProviderRainViewer,
			Center:   geo.Center{Lat: &lat, Lon: &lon},
			Zoom:     6,
			Radius:   1,
			RainViewer: RainViewerConfig{
				ColorScheme: 2,
				Smooth:      true,
				Snow:        true,
			},
		}},
	}
}

var validate = validator.New()

// Load reads .env, then radarloop.yaml (or file when set), then RADARLOOP_*
// environment overrides.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("radarloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "radarloop"))
		}
	}

	v.SetEnvPrefix("RADARLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "RADARLOOP_SERVER_PORT", "PORT")
	_ = v.BindEnv("geocoder.api_key", "RADARLOOP_GEOCODER_API_KEY", "GEOCODER_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Configured widgets replace the default one instead of merging into it.
	if v.IsSet("widgets") {
		cfg.Widgets = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg.applyWidgetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("http.timeout", cfg.HTTP.Timeout)
	v.SetDefault("http.max_retries", cfg.HTTP.MaxRetries)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.max_history", cfg.Store.MaxHistory)
	v.SetDefault("store.max_age", cfg.Store.MaxAge)
	v.SetDefault("scheduler.persist_interval", cfg.Scheduler.PersistInterval)
	v.SetDefault("geocoder.api_key", cfg.Geocoder.APIKey)
}

// applyWidgetDefaults fills per-provider defaults that a config file list
// cannot carry.
func (c *Config) applyWidgetDefaults() {
	for i := range c.Widgets {
		w := &c.Widgets[i]
		if w.FrameCount == 0 {
			switch w.Provider {
			case ProviderWMTS:
				w.FrameCount = 12
			default:
				w.FrameCount = 7
			}
		}
		if w.FrameDelay == 0 {
			w.FrameDelay = radar.DefaultFrameDelay
		}
		if w.RestartDelay == 0 {
			w.RestartDelay = radar.DefaultRestartDelay
		}
		if w.Opacity == 0 {
			w.Opacity = 0.75
		}
		if w.Zoom == 0 {
			w.Zoom = 6
		}
		if w.Provider == ProviderWMTS && w.WMTS.Interval == 0 {
			w.WMTS.Interval = 5 * time.Minute
		}
	}
}

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range c.Widgets {
		if w.Provider != ProviderWMTS {
			continue
		}
		if w.WMTS.BaseURL == "" || w.WMTS.Layer == "" || w.WMTS.TileMatrixSet == "" {
			return fmt.Errorf("invalid config: widget %s: wmts needs base_url, layer and tile_matrix_set", w.Name)
		}
		if len(w.WMTS.Matrix) == 0 && w.WMTS.CapabilitiesURL == "" {
			return fmt.Errorf("invalid config: widget %s: wmts needs a matrix or capabilities_url", w.Name)
		}
		if w.WMTS.Interval%time.Minute != 0 {
			return fmt.Errorf("invalid config: widget %s: wmts interval must be whole minutes", w.Name)
		}
	}
	return nil
}
