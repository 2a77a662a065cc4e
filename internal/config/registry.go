package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/veritas/pkg/provider/detector"
	"github.com/MrWong99/veritas/pkg/provider/fusion"
	"github.com/MrWong99/veritas/pkg/provider/report"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	detector map[string]func(ProviderEntry) (detector.Detector, error)
	fusion   map[string]func(ProviderEntry) (fusion.Scorer, error)
	report   map[string]func(ProviderEntry) (report.Renderer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		detector: make(map[string]func(ProviderEntry) (detector.Detector, error)),
		fusion:   make(map[string]func(ProviderEntry) (fusion.Scorer, error)),
		report:   make(map[string]func(ProviderEntry) (report.Renderer, error)),
	}
}

// RegisterDetector registers a face detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDetector(name string, factory func(ProviderEntry) (detector.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector[name] = factory
}

// RegisterFusion registers a fusion scorer factory under name.
func (r *Registry) RegisterFusion(name string, factory func(ProviderEntry) (fusion.Scorer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fusion[name] = factory
}

// RegisterReport registers a report renderer factory under name.
func (r *Registry) RegisterReport(name string, factory func(ProviderEntry) (report.Renderer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report[name] = factory
}

// CreateDetector instantiates a detector using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDetector(entry ProviderEntry) (detector.Detector, error) {
	r.mu.RLock()
	factory, ok := r.detector[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: detector/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateFusion instantiates a fusion scorer using the factory registered under entry.Name.
func (r *Registry) CreateFusion(entry ProviderEntry) (fusion.Scorer, error) {
	r.mu.RLock()
	factory, ok := r.fusion[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: fusion/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateReport instantiates a report renderer using the factory registered under entry.Name.
func (r *Registry) CreateReport(entry ProviderEntry) (report.Renderer, error) {
	r.mu.RLock()
	factory, ok := r.report[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: report/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
