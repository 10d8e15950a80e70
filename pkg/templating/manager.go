package templating

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Source supplies named template sources to a Manager, typically from a
// database or the filesystem. Refresh replaces the manager's template set
// with whatever the source currently holds.
type Source interface {
	LoadAll(ctx context.Context) (map[string]string, error)
}

// Manager is the central controller for a set of named templates: it
// compiles sources on registration, shares one formatter registry across
// all renders, and can reload its whole set from a pluggable Source.
// All methods are concurrent-safe.
type Manager struct {
	logger    *slog.Logger
	config    *Config
	reg       *FormatterRegistry
	source    Source
	templates map[string]*Template
	mu        sync.RWMutex
}

// NewManager creates and initializes a Manager. source may be nil for a
// purely in-memory template set; when present, an initial Refresh loads
// its templates. A nil config uses DefaultConfig.
func NewManager(logger *slog.Logger, config *Config, source Source) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Manager{
		logger:    logger,
		config:    config,
		reg:       NewFormatterRegistry(),
		source:    source,
		templates: make(map[string]*Template),
	}
	if source != nil {
		if err := m.Refresh(context.Background()); err != nil {
			return nil, err
		}
	}
	logger.Info("Template manager initialized", "templates", len(m.templates))
	return m, nil
}

// Formatters returns the manager's shared registry. Register custom
// formatters on it before the first render; mutating it while renders are
// in flight requires external synchronization.
func (m *Manager) Formatters() *FormatterRegistry {
	return m.reg
}

// SetConfig applies a new configuration. Limits apply to future Put and
// RenderString calls; templates already registered are kept.
func (m *Manager) SetConfig(config *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Put compiles source text and registers it under the given name,
// replacing any previous template with that name.
func (m *Manager) Put(name, src string) error {
	if name == "" {
		return fmt.Errorf("template name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLimits(name, src); err != nil {
		return err
	}
	t, err := Compile(src)
	if err != nil {
		return fmt.Errorf("failed to compile template %q: %w", name, err)
	}
	m.templates[name] = t
	return nil
}

// Remove drops a named template. Removing an unknown name is a no-op.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, name)
}

// Get returns the compiled template registered under name.
func (m *Manager) Get(name string) (*Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[name]
	return t, ok
}

// Names returns the sorted names of all registered templates.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render renders a registered template against data.
func (m *Manager) Render(name string, data any) (string, error) {
	m.mu.RLock()
	t, ok := m.templates[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	return t.Render(data, m.reg)
}

// Execute renders a registered template, writing the output to w. Nothing
// is written when rendering fails.
func (m *Manager) Execute(w io.Writer, name string, data any) error {
	s, err := m.Render(name, data)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}

// RenderString compiles and renders a raw template string without
// registering it. This is ideal for previewing a template before saving.
func (m *Manager) RenderString(w io.Writer, src string, data any) error {
	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()
	if config.MaxTemplateSize > 0 && len(src) > config.MaxTemplateSize {
		return fmt.Errorf("template source exceeds the %d byte limit", config.MaxTemplateSize)
	}
	t, err := Compile(src)
	if err != nil {
		return err
	}
	return t.Execute(w, data, m.reg)
}

// Refresh replaces the template set with the source's current contents.
// When any template fails to compile, the previous set is kept untouched
// and the error is returned.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	sources, err := m.source.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	compiled := make(map[string]*Template, len(sources))
	for name, src := range sources {
		t, err := Compile(src)
		if err != nil {
			m.logger.Error("failed to compile template during refresh", "template", name, "error", err)
			return fmt.Errorf("failed to compile template %q: %w", name, err)
		}
		compiled[name] = t
	}

	m.mu.Lock()
	m.templates = compiled
	m.mu.Unlock()
	m.logger.Info("Loaded templates", "count", len(compiled))
	return nil
}

func (m *Manager) checkLimits(name, src string) error {
	if m.config.MaxTemplateSize > 0 && len(src) > m.config.MaxTemplateSize {
		return fmt.Errorf("template %q exceeds the %d byte size limit", name, m.config.MaxTemplateSize)
	}
	if m.config.MaxTemplates > 0 {
		if _, exists := m.templates[name]; !exists && len(m.templates) >= m.config.MaxTemplates {
			return fmt.Errorf("template limit of %d reached", m.config.MaxTemplates)
		}
	}
	return nil
}
