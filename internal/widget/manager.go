package widget

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/i474232898/weather-radar-loop/internal/layers"
	"github.com/i474232898/weather-radar-loop/internal/radar"
	"github.com/i474232898/weather-radar-loop/internal/store"
)

// Catalog persists the frames of each widget between runs.
type Catalog interface {
	SaveFrames(widget string, frames []radar.Frame) error
	LoadFrames(widget string) ([]radar.Frame, error)
}

// Definition is everything needed to (re)build a widget.
type Definition struct {
	Options     Options
	Home        layers.Viewport
	NewProvider func() (radar.Provider, error)
}

type mounted struct {
	def      Definition
	widget   *Widget
	registry *layers.Registry
	control  layers.Control
}

// Manager owns the named widgets and rebuilds them as a unit on
// reconfiguration.
type Manager struct {
	mu      sync.RWMutex
	widgets map[string]*mounted
	catalog Catalog
	factory *layers.TileFactory
	options []Option
	logger  *slog.Logger
}

// NewManager creates a Manager. catalog may be nil.
func NewManager(catalog Catalog, factory *layers.TileFactory, logger *slog.Logger, options ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		widgets: make(map[string]*mounted),
		catalog: catalog,
		factory: factory,
		options: options,
		logger:  logger.With("component", "manager"),
	}
}

// Mount builds, seeds and starts a widget.
func (m *Manager) Mount(def Definition) error {
	name := def.Options.Name
	if name == "" {
		return fmt.Errorf("widget name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.widgets[name]; exists {
		return fmt.Errorf("widget %q already mounted", name)
	}

	mw, err := m.build(def)
	if err != nil {
		return err
	}
	m.widgets[name] = mw
	return nil
}

func (m *Manager) build(def Definition) (*mounted, error) {
	name := def.Options.Name
	provider, err := def.NewProvider()
	if err != nil {
		return nil, fmt.Errorf("widget %s: %w", name, err)
	}

	registry := layers.NewRegistry(m.factory, def.Home, m.logger)
	w := New(def.Options, provider, registry, m.logger, m.options...)

	if m.catalog != nil {
		frames, err := m.catalog.LoadFrames(name)
		switch {
		case err == nil:
			w.Seed(frames)
		case !errors.Is(err, store.ErrNotFound):
			m.logger.Warn("failed to load persisted frames", "widget", name, "error", err)
		}
	}

	w.Start()
	m.logger.Info("widget mounted", "widget", name, "provider", provider.Name())
	return &mounted{
		def:      def,
		widget:   w,
		registry: registry,
		control:  layers.NewRecenterControl(registry, def.Home),
	}, nil
}

// Reconfigure tears a widget down completely and mounts it again with opts.
func (m *Manager) Reconfigure(name string, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mw, ok := m.widgets[name]
	if !ok {
		return fmt.Errorf("%w: %s", radar.ErrUnknownWidget, name)
	}
	m.unmount(mw)
	delete(m.widgets, name)

	def := mw.def
	opts.Name = name
	def.Options = opts
	rebuilt, err := m.build(def)
	if err != nil {
		return err
	}
	m.widgets[name] = rebuilt
	return nil
}

// Reset makes the named widget's next successful poll rebuild its window.
func (m *Manager) Reset(name string) error {
	mw, err := m.lookup(name)
	if err != nil {
		return err
	}
	mw.widget.Reset()
	return nil
}

// Get returns the named widget.
func (m *Manager) Get(name string) (*Widget, error) {
	mw, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return mw.widget, nil
}

// Registry returns the layer registry of the named widget.
func (m *Manager) Registry(name string) (*layers.Registry, error) {
	mw, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return mw.registry, nil
}

// Control returns the recenter control of the named widget.
func (m *Manager) Control(name string) (layers.Control, error) {
	mw, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return mw.control, nil
}

// Names lists mounted widgets alphabetically.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.widgets))
	for n := range m.widgets {
		names = append(names, n)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// PersistAll saves every widget's window to the catalog.
func (m *Manager) PersistAll() error {
	if m.catalog == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, mw := range m.widgets {
		if err := m.persist(name, mw.widget); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close persists and stops every widget.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, mw := range m.widgets {
		m.unmount(mw)
		delete(m.widgets, name)
	}
}

func (m *Manager) unmount(mw *mounted) {
	if err := m.persist(mw.def.Options.Name, mw.widget); err != nil {
		m.logger.Warn("failed to persist frames", "widget", mw.def.Options.Name, "error", err)
	}
	mw.widget.Stop()
}

func (m *Manager) persist(name string, w *Widget) error {
	if m.catalog == nil {
		return nil
	}
	state, ok := w.State()
	if !ok || len(state.Frames) == 0 {
		return nil
	}
	if err := m.catalog.SaveFrames(name, state.Frames); err != nil {
		return fmt.Errorf("persist %s: %w", name, err)
	}
	return nil
}

func (m *Manager) lookup(name string) (*mounted, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mw, ok := m.widgets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", radar.ErrUnknownWidget, name)
	}
	return mw, nil
}
