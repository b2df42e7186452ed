package permissions

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Gate suppresses views and features whose owning module is not enabled for
// a tenant. Gating runs after the level merge and only ever narrows the
// result.
type Gate interface {
	ViewEnabled(tenantID, viewID string) bool
	FeatureEnabled(tenantID, featureID string) bool
}

// AllowAllGate disables module gating; every view and feature passes.
type AllowAllGate struct{}

// ViewEnabled always reports true.
func (AllowAllGate) ViewEnabled(string, string) bool { return true }

// FeatureEnabled always reports true.
func (AllowAllGate) FeatureEnabled(string, string) bool { return true }

// ModuleCatalog is the parsed module section of the catalog file.
type ModuleCatalog struct {
	Modules []ModuleSpec          `yaml:"modules"`
	Tenants map[string]TenantSpec `yaml:"tenants"`
}

// ModuleSpec declares a module and the views/features it owns.
type ModuleSpec struct {
	ID             string   `yaml:"id"`
	Views          []string `yaml:"views"`
	Features       []string `yaml:"features"`
	DefaultEnabled bool     `yaml:"default_enabled"`
}

// TenantSpec lists per-tenant module overrides.
type TenantSpec struct {
	EnabledModules  []string `yaml:"enabled_modules"`
	DisabledModules []string `yaml:"disabled_modules"`
}

// FileGate implements Gate from a YAML catalog, optionally hot-reloaded on
// file change. Views and features not owned by any module are never gated.
type FileGate struct {
	path string

	mu            sync.RWMutex
	viewModule    map[string]string // view ID -> module ID
	featureModule map[string]string // feature ID -> module ID
	defaults      map[string]bool   // module ID -> enabled by default
	overrides     map[string]map[string]bool
}

// NewFileGate loads the catalog from path.
func NewFileGate(path string) (*FileGate, error) {
	g := &FileGate{path: path}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload re-reads the catalog file. On parse failure the previous catalog
// stays in effect.
func (g *FileGate) Reload() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("read module catalog: %w", err)
	}

	var catalog ModuleCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parse module catalog: %w", err)
	}

	viewModule := make(map[string]string)
	featureModule := make(map[string]string)
	defaults := make(map[string]bool)
	for _, mod := range catalog.Modules {
		defaults[mod.ID] = mod.DefaultEnabled
		for _, viewID := range mod.Views {
			viewModule[viewID] = mod.ID
		}
		for _, featureID := range mod.Features {
			featureModule[featureID] = mod.ID
		}
	}

	overrides := make(map[string]map[string]bool)
	for tenantID, spec := range catalog.Tenants {
		tenantOverrides := make(map[string]bool)
		for _, moduleID := range spec.EnabledModules {
			tenantOverrides[moduleID] = true
		}
		for _, moduleID := range spec.DisabledModules {
			tenantOverrides[moduleID] = false
		}
		overrides[tenantID] = tenantOverrides
	}

	g.mu.Lock()
	g.viewModule = viewModule
	g.featureModule = featureModule
	g.defaults = defaults
	g.overrides = overrides
	g.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever the file changes, until the context is
// cancelled. Reload failures keep the last good catalog.
func (g *FileGate) Watch(ctx context.Context, onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(g.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch module catalog: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := g.Reload(); err != nil && onError != nil {
					onError(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}

// ViewEnabled reports whether the view's owning module is enabled for the
// tenant.
func (g *FileGate) ViewEnabled(tenantID, viewID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	moduleID, owned := g.viewModule[viewID]
	if !owned {
		return true
	}
	return g.moduleEnabledLocked(tenantID, moduleID)
}

// FeatureEnabled reports whether the feature's owning module is enabled for
// the tenant.
func (g *FileGate) FeatureEnabled(tenantID, featureID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	moduleID, owned := g.featureModule[featureID]
	if !owned {
		return true
	}
	return g.moduleEnabledLocked(tenantID, moduleID)
}

func (g *FileGate) moduleEnabledLocked(tenantID, moduleID string) bool {
	if tenantOverrides, ok := g.overrides[tenantID]; ok {
		if enabled, ok := tenantOverrides[moduleID]; ok {
			return enabled
		}
	}
	return g.defaults[moduleID]
}

// StaticGate is a fixed Gate used by tests and embedded deployments.
type StaticGate struct {
	// DisabledViews and DisabledFeatures map tenant ID to suppressed IDs.
	DisabledViews    map[string]map[string]struct{}
	DisabledFeatures map[string]map[string]struct{}
}

// ViewEnabled reports whether the view is not explicitly disabled.
func (g *StaticGate) ViewEnabled(tenantID, viewID string) bool {
	_, disabled := g.DisabledViews[tenantID][viewID]
	return !disabled
}

// FeatureEnabled reports whether the feature is not explicitly disabled.
func (g *StaticGate) FeatureEnabled(tenantID, featureID string) bool {
	_, disabled := g.DisabledFeatures[tenantID][featureID]
	return !disabled
}
