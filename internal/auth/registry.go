package auth

import (
	"context"
	"log"
	"sync"

	"github.com/reviewboard/reviewboard-sub003/internal/config"
	"github.com/reviewboard/reviewboard-sub003/internal/directory"
	"github.com/reviewboard/reviewboard-sub003/internal/metrics"
	"github.com/reviewboard/reviewboard-sub003/internal/models"
	"github.com/reviewboard/reviewboard-sub003/internal/store"
)

// ConfigSource supplies the current backend configuration together with
// a generation marker. The registry caches its built backend list
// against the marker and lazily rebuilds when it changes.
type ConfigSource interface {
	Current() (*config.Config, uint64)
}

// ReloadableConfig is the standard ConfigSource: a config value that
// application startup or config-reload code replaces atomically.
type ReloadableConfig struct {
	mu  sync.RWMutex
	cfg *config.Config
	gen uint64
}

func NewReloadableConfig(cfg *config.Config) *ReloadableConfig {
	return &ReloadableConfig{cfg: cfg, gen: 1}
}

func (r *ReloadableConfig) Current() (*config.Config, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg, r.gen
}

// Replace swaps in a new configuration and bumps the generation, so the
// next registry read rebuilds the backend list.
func (r *ReloadableConfig) Replace(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.gen++
}

// Deps carries the external collaborators backends are built with.
// Nil fields get production defaults (real dialer, system DNS resolver,
// noop metrics).
type Deps struct {
	Store    *store.Store
	Dialer   directory.Dialer
	Resolver directory.SRVResolver
	Metrics  metrics.Recorder
}

// Factory builds one backend instance from the current configuration.
type Factory func(cfg *config.Config, deps Deps) (Backend, error)

// Registry holds the enabled backends in configuration order.
//
// Profile mutations (password/name/email changes) always go through the
// first enabled backend, regardless of which backend authenticated the
// session; the primary backend is the single source of truth for
// mutable profile fields.
type Registry struct {
	source ConfigSource
	deps   Deps

	mu        sync.RWMutex
	factories map[string]Factory
	cached    []Backend
	cachedGen uint64
	valid     bool
}

func NewRegistry(source ConfigSource, deps Deps) *Registry {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopMetrics()
	}

	r := &Registry{
		source:    source,
		deps:      deps,
		factories: make(map[string]Factory),
	}

	// Built-in backends. Additional backends register at startup via
	// Register.
	r.factories[config.BackendStandard] = func(cfg *config.Config, deps Deps) (Backend, error) {
		return NewStandardBackend(deps.Store), nil
	}
	r.factories[config.BackendLDAP] = func(cfg *config.Config, deps Deps) (Backend, error) {
		return NewLDAPBackend(cfg, deps), nil
	}
	r.factories[config.BackendAD] = func(cfg *config.Config, deps Deps) (Backend, error) {
		return NewADBackend(cfg, deps), nil
	}
	r.factories[config.BackendNIS] = func(cfg *config.Config, deps Deps) (Backend, error) {
		return NewNISBackend(cfg, deps.Store, nil, deps.Metrics), nil
	}
	r.factories[config.BackendX509] = func(cfg *config.Config, deps Deps) (Backend, error) {
		return NewX509Backend(cfg, deps.Store, deps.Metrics), nil
	}
	r.factories[config.BackendDigest] = func(cfg *config.Config, deps Deps) (Backend, error) {
		return NewDigestBackend(cfg, deps.Store, deps.Metrics), nil
	}

	return r
}

// Register adds a backend factory under a new id.
func (r *Registry) Register(id string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return ErrAlreadyRegistered
	}
	r.factories[id] = factory
	r.valid = false
	return nil
}

// Unregister removes a backend factory.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; !exists {
		return ErrNotRegistered
	}
	delete(r.factories, id)
	r.valid = false
	return nil
}

// EnabledBackends returns the enabled backends in configuration order.
// The list is cached against the configuration generation; a read after
// a configuration change rebuilds it.
func (r *Registry) EnabledBackends() []Backend {
	cfg, gen := r.source.Current()

	r.mu.RLock()
	if r.valid && r.cachedGen == gen {
		backends := r.cached
		r.mu.RUnlock()
		return backends
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.valid && r.cachedGen == gen {
		return r.cached
	}

	r.cached = r.build(cfg)
	r.cachedGen = gen
	r.valid = true
	return r.cached
}

// build constructs the backend list for cfg. The standard backend is
// always present and, unless configured to another position, first.
func (r *Registry) build(cfg *config.Config) []Backend {
	order := cfg.EnabledBackends
	hasStandard := false
	for _, id := range order {
		if id == config.BackendStandard {
			hasStandard = true
			break
		}
	}
	if !hasStandard {
		order = append([]string{config.BackendStandard}, order...)
	}

	deps := r.deps
	if deps.Dialer == nil {
		deps.Dialer = &directory.NetDialer{Timeout: cfg.DirectoryTimeout}
	}

	backends := make([]Backend, 0, len(order))
	for _, id := range order {
		factory, ok := r.factories[id]
		if !ok {
			log.Printf("[Registry] skipping unknown backend %q", id)
			continue
		}
		backend, err := factory(cfg, deps)
		if err != nil {
			log.Printf("[Registry] skipping backend %q: %v", id, err)
			continue
		}
		backends = append(backends, backend)
	}
	return backends
}

// Get returns the enabled backend with the given id, or nil.
func (r *Registry) Get(id string) Backend {
	for _, backend := range r.EnabledBackends() {
		if backend.ID() == id {
			return backend
		}
	}
	return nil
}

// Primary returns the first enabled backend. Profile mutations are
// always routed here.
func (r *Registry) Primary() Backend {
	backends := r.EnabledBackends()
	if len(backends) == 0 {
		return nil
	}
	return backends[0]
}

// Authenticate tries each enabled backend in order; the first backend
// that returns a user wins.
func (r *Registry) Authenticate(ctx context.Context, username, password string) *models.User {
	for _, backend := range r.EnabledBackends() {
		if user := backend.Authenticate(ctx, username, password); user != nil {
			return user
		}
	}
	return nil
}
