package sandbox

import (
	"context"
	"errors"
	"fmt"
	"plugin"
	"sync"

	"github.com/heyglassy/flyspace/pkg/flyspace"
)

// ErrEntryPointNotFound is returned when a script has no runnable export of
// the requested name.
var ErrEntryPointNotFound = errors.New("entry point not found")

// Loader resolves an exported entry point of a compiled script.
type Loader interface {
	Load(ctx context.Context, artifact, export string) (flyspace.EntryPoint, error)
}

// PluginLoader loads entry points from Go plugins built with
// -buildmode=plugin.
type PluginLoader struct{}

// Load opens the plugin at artifact and looks up export.
func (PluginLoader) Load(ctx context.Context, artifact, export string) (flyspace.EntryPoint, error) {
	p, err := plugin.Open(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", artifact, err)
	}
	sym, err := p.Lookup(export)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryPointNotFound, export, artifact)
	}
	return asEntryPoint(sym, export)
}

func asEntryPoint(sym any, export string) (flyspace.EntryPoint, error) {
	switch fn := sym.(type) {
	case func(context.Context, flyspace.Env) error:
		return fn, nil
	case flyspace.EntryPoint:
		return fn, nil
	case *flyspace.EntryPoint:
		if fn != nil && *fn != nil {
			return *fn, nil
		}
	case *func(context.Context, flyspace.Env) error:
		if fn != nil && *fn != nil {
			return *fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has type %T, want flyspace.EntryPoint", ErrEntryPointNotFound, export, sym)
}

// StaticLoader serves entry points compiled into the binary, keyed by file
// and export name.
type StaticLoader struct {
	mu      sync.RWMutex
	entries map[string]map[string]flyspace.EntryPoint
}

// NewStaticLoader returns an empty StaticLoader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{entries: make(map[string]map[string]flyspace.EntryPoint)}
}

// Register makes fn available as file's export.
func (l *StaticLoader) Register(file, export string, fn flyspace.EntryPoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[file] == nil {
		l.entries[file] = make(map[string]flyspace.EntryPoint)
	}
	l.entries[file][export] = fn
}

func (l *StaticLoader) Load(ctx context.Context, artifact, export string) (flyspace.EntryPoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn, ok := l.entries[artifact][export]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryPointNotFound, export, artifact)
	}
	return fn, nil
}
