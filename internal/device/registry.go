package device

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device catalogue access with caching and thread
// safety. It wraps a Repository and adds an in-memory cache so the
// pollers and message templating never hit the database on the hot
// path.
//
// The cache is populated on startup via RefreshCache() and kept in
// sync by cache-invalidating write operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = &d
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID, preferring the cache.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		c := *cached
		return &c, nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d
	r.cacheMu.Unlock()

	c := *d
	return &c, nil
}

// ListByKind returns the enabled devices of one polling family.
// Reads through to the repository so newly enabled devices are picked
// up on the next tick without an explicit refresh.
func (r *Registry) ListByKind(ctx context.Context, kind Kind) ([]Device, error) {
	return r.repo.ListByKind(ctx, kind)
}

// List returns all devices.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	return r.repo.List(ctx)
}

// CreateDevice inserts a new device and caches it.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	c := *d
	r.cache[d.ID] = &c
	r.cacheMu.Unlock()

	r.logger.Info("device created", "device_id", d.ID, "kind", d.Kind)
	return nil
}

// UpdateDevice modifies an existing device and refreshes its cache
// entry.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	c := *d
	r.cache[d.ID] = &c
	r.cacheMu.Unlock()

	return nil
}

// DeleteDevice removes a device and evicts it from the cache.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// Resolve maps a device ID to its human-readable name and location for
// alert message templating. Unknown IDs resolve to the ID itself so a
// message can always be rendered.
func (r *Registry) Resolve(ctx context.Context, id string) (name, location string) {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return id, ""
	}
	return d.DisplayName(), d.Location
}
