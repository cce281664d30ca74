package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-radar-loop/internal/api/http"
	"github.com/i474232898/weather-radar-loop/internal/config"
	"github.com/i474232898/weather-radar-loop/internal/layers"
	"github.com/i474232898/weather-radar-loop/internal/logging"
	"github.com/i474232898/weather-radar-loop/internal/scheduler"
	"github.com/i474232898/weather-radar-loop/internal/store"
	"github.com/i474232898/weather-radar-loop/internal/widget"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "radarloop",
		Short: "Animated weather radar tile loops",
		Long: `radarloop polls radar imagery providers, keeps a sliding window of
frames per widget and serves the animation state over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./radarloop.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the widgets and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	addFramesCmd(rootCmd)
	addTilesCmd(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	l, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, l, nil
}

func openCatalog(cfg *config.Config) (widget.Catalog, func(), error) {
	retention := store.Retention{MaxHistory: cfg.Store.MaxHistory, MaxAge: cfg.Store.MaxAge}
	if cfg.Store.Path == "" {
		return store.NewMemoryStore(retention), func() {}, nil
	}
	bolt, err := store.OpenBoltStore(cfg.Store.Path, retention)
	if err != nil {
		return nil, nil, err
	}
	return bolt, func() { _ = bolt.Close() }, nil
}

func serve() error {
	cfg, slogger, err := loadConfig()
	if err != nil {
		return err
	}

	httpCfg := httpConfig(cfg)

	// Persisted frames let playback resume before the first poll.
	catalog, closeCatalog, err := openCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to open frame store: %w", err)
	}
	defer closeCatalog()

	defs, err := buildDefinitions(cfg, httpCfg, slogger)
	if err != nil {
		return err
	}

	factory := layers.NewTileFactory(layers.HTTPLoader{Client: httpCfg.Client})
	manager := widget.NewManager(catalog, factory, slogger)
	defer manager.Close()

	for _, def := range defs {
		if err := manager.Mount(def); err != nil {
			return fmt.Errorf("failed to mount widget: %w", err)
		}
	}

	sched := scheduler.New(manager, cfg.Scheduler.PersistInterval, slogger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "radarloop",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "radarloop",
			"widgets": manager.Names(),
		})
	})

	httpapi.RegisterRoutes(app, manager)

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	slogger.Info("server started", "port", cfg.Server.Port, "widgets", len(defs))

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
