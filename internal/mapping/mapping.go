// Package mapping resolves pool workers to the hotkeys that registered them.
package mapping

import (
	"context"
	"fmt"
)

// Source loads the full worker -> hotkey mapping from somewhere.
type Source interface {
	LoadMapping(ctx context.Context) (map[string]string, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (map[string]string, error)

func (f SourceFunc) LoadMapping(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

// ActiveBindings is the registry store's active-mapping projection.
type ActiveBindings interface {
	ActiveMapping() (map[string]string, error)
}

// NewSource selects the mapping backend named by variant. Only "database" is
// implemented; the other recognized variants fail here, at construction, not
// at first use.
func NewSource(variant string, store ActiveBindings) (Source, error) {
	switch variant {
	case "database":
		return SourceFunc(func(context.Context) (map[string]string, error) {
			return store.ActiveMapping()
		}), nil
	case "rest", "json_file", "evm", "github":
		return nil, fmt.Errorf("mapping source %q is not implemented", variant)
	default:
		return nil, fmt.Errorf("invalid mapping source %q", variant)
	}
}
