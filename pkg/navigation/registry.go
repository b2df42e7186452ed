package navigation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tollgate-io/tollgate/pkg/permissions"
)

// Item is one menu entry. An item is visible when its view resolved to
// visible, or when any of its children did (so section headers survive while
// they still contain something).
type Item struct {
	ViewID   string `yaml:"view" json:"view"`
	Title    string `yaml:"title" json:"title"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	Icon     string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Children []Item `yaml:"children,omitempty" json:"children,omitempty"`
}

// Registry holds the full menu tree before permission filtering.
type Registry struct {
	items []Item
}

// NewRegistry creates a registry from an in-memory tree.
func NewRegistry(items []Item) *Registry {
	return &Registry{items: items}
}

// LoadRegistry reads the menu section of the catalog file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read navigation catalog: %w", err)
	}

	var catalog struct {
		Menu []Item `yaml:"menu"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse navigation catalog: %w", err)
	}
	return &Registry{items: catalog.Menu}, nil
}

// Filter returns the subtree visible under the resolved set.
func (r *Registry) Filter(set *permissions.ResolvedSet) []Item {
	return filterItems(r.items, set)
}

func filterItems(items []Item, set *permissions.ResolvedSet) []Item {
	var visible []Item
	for _, item := range items {
		children := filterItems(item.Children, set)
		if !set.CanView(item.ViewID) && len(children) == 0 {
			continue
		}
		kept := item
		kept.Children = children
		visible = append(visible, kept)
	}
	return visible
}
